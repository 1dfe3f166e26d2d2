package ble

import (
	"context"
	"log/slog"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/catalog"
)

// item is one unit of work for the dispatcher: a stack event or an internal
// task such as a scheduled retry.
type item struct {
	ev   Event
	task func()
}

// Dispatcher is the single entry point for stack callbacks. The callbacks
// only enqueue; Run drains the queue on one goroutine and applies each event
// to the owning mouse under the host lock.
type Dispatcher struct {
	host  *Host
	queue chan item
}

func newDispatcher(h *Host, size int) *Dispatcher {
	return &Dispatcher{host: h, queue: make(chan item, size)}
}

// OnGAPEvent receives connectivity and advertising events from the stack.
// Safe to call from any goroutine.
func (d *Dispatcher) OnGAPEvent(ev Event) { d.queue <- item{ev: ev} }

// OnGATTSEvent receives GATT server events from the stack. Safe to call from
// any goroutine.
func (d *Dispatcher) OnGATTSEvent(ev Event) { d.queue <- item{ev: ev} }

// enqueueTask schedules f to run on the dispatcher goroutine with the host
// lock held.
func (d *Dispatcher) enqueueTask(f func()) { d.queue <- item{task: f} }

// Pending returns the number of queued items.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run processes queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it := <-d.queue:
			d.process(it)
		}
	}
}

// Drain processes every queued item without blocking and returns how many
// were handled.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		select {
		case it := <-d.queue:
			d.process(it)
			n++
		default:
			return n
		}
	}
}

func (d *Dispatcher) process(it item) {
	if it.task != nil {
		d.host.mu.Lock()
		it.task()
		d.host.mu.Unlock()
		return
	}
	_ = d.Dispatch(it.ev)
}

// Dispatch applies one event synchronously. It returns ErrStaleEvent when the
// event matched no live mouse or did not fit its state; such events are
// logged and dropped without side effects.
func (d *Dispatcher) Dispatch(ev Event) error {
	h := d.host
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Kind.isAdvertising() {
		return h.adv.onAdvEvent(ev)
	}

	var m *Mouse
	var ok bool
	switch {
	case ev.Kind == EventRegistered:
		m, ok = h.reg.ByApp(ev.App)
	case ev.Iface != 0:
		m, ok = h.reg.ByInterface(ev.Iface)
	case ev.Kind == EventConnected || ev.Kind == EventDisconnected:
		// Some stacks report links without an interface; the link belongs
		// to whoever was advertising.
		m = h.adv.Owner()
		ok = m != nil
	}
	if !ok || m.cancelled {
		if ev.Kind == EventRegistered && h.reapOrphan(ev) {
			return ErrStaleEvent
		}
		slog.Warn("[BLE] no mouse for event, dropping", "event", ev)
		return ErrStaleEvent
	}

	switch ev.Kind {
	case EventRegistered:
		return h.onRegistered(m, ev)
	case EventServiceCreated, EventServiceStarted, EventCharAdded, EventDescriptorAdded:
		return h.prov.onCompletion(m, ev)
	case EventConnected:
		if m.state != StateDone {
			slog.Warn("[BLE] connection before provisioning finished", "mouse", m.cfg.ID, "state", m.state)
		}
		h.adv.OnConnected(m, ev.Conn)
		return nil
	case EventDisconnected:
		if m.conn != Connected {
			return ErrStaleEvent
		}
		h.adv.OnDisconnected(m, ev.Reason)
		return nil
	case EventWriteReceived:
		onWrite(m, ev)
		return nil
	default:
		slog.Warn("[BLE] unknown event kind", "event", ev)
		return ErrStaleEvent
	}
}

// onWrite records central writes to the control point, protocol mode and
// report CCCD.
func onWrite(m *Mouse, ev Event) {
	if len(ev.Value) == 0 {
		return
	}
	switch ev.Handle {
	case m.controlPointChar:
		m.suspended = ev.Value[0] == catalog.ControlSuspend
		slog.Info("[BLE] host control point", "mouse", m.cfg.ID, "suspended", m.suspended)
	case m.protocolModeChar:
		m.protocolMode = ev.Value[0]
		slog.Info("[BLE] protocol mode set", "mouse", m.cfg.ID, "mode", m.protocolMode)
	case m.reportCCCD:
		m.notify = ev.Value[0]&0x01 != 0
		slog.Debug("[BLE] report notifications", "mouse", m.cfg.ID, "enabled", m.notify)
	default:
		slog.Debug("[BLE] write to unhandled attribute", "mouse", m.cfg.ID, "handle", ev.Handle)
	}
}
