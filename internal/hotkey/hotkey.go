// Package hotkey provides a global hotkey listener using gohook.
// One key combo toggles the jiggler on and off, another triggers a single
// jiggle.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType identifies which binding fired.
type EventType int

const (
	// EventToggle signals that the jiggler should be switched on or off.
	EventToggle EventType = iota
	// EventJiggleOnce signals that one jiggle should be sent right away.
	EventJiggleOnce
)

func (t EventType) String() string {
	if t == EventJiggleOnce {
		return "jiggle-once"
	}
	return "toggle"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener manages the global hotkeys and emits events.
type Listener struct {
	bindings map[EventType][]string
	ch       chan Event
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener. Each combo is a list of lowercase key
// names (e.g., ["ctrl", "shift", "j"]); an empty combo is not bound.
func NewListener(toggle, jiggleOnce []string) *Listener {
	bindings := make(map[EventType][]string)
	if len(toggle) > 0 {
		bindings[EventToggle] = toggle
	}
	if len(jiggleOnce) > 0 {
		bindings[EventJiggleOnce] = jiggleOnce
	}
	return &Listener{
		bindings: bindings,
		ch:       make(chan Event, 16),
		done:     make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// emit queues an event without blocking; presses beyond the buffer are
// dropped.
func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default:
	}
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for t, keys := range l.bindings {
		t := t
		hook.Register(hook.KeyDown, keys, func(hook.Event) {
			l.emit(t)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
