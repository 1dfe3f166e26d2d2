// Package jiggle keeps hosts awake by nudging the pointer back and forth on
// a fixed interval.
package jiggle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/inject"
)

// Distance limits, in report units.
const (
	MinDistance = 1
	MaxDistance = 10
)

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration // time between jiggles
	Distance int           // pixels moved on each axis
	Enabled  bool          // start jiggling right away
	Poll     time.Duration // how often Run checks the clock
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Interval: 60 * time.Second,
		Distance: 1,
		Enabled:  true,
		Poll:     time.Second,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.Interval <= 0 {
		return fmt.Errorf("jiggle: interval must be positive, got %s", o.Interval)
	}
	if o.Distance < MinDistance || o.Distance > MaxDistance {
		return fmt.Errorf("jiggle: distance must be %d-%d, got %d", MinDistance, MaxDistance, o.Distance)
	}
	return nil
}

// Scheduler moves every ready target by (+d,+d) and (-d,-d) alternately, so
// the pointer ends up where it started. Targets that are not ready (no host
// connected) are skipped.
type Scheduler struct {
	mu      sync.Mutex
	opts    Options
	targets []inject.Injector
	enabled bool
	back    bool // next jiggle moves towards negative coordinates
	last    time.Time
	count   uint64
}

// New creates a Scheduler for targets.
func New(opts Options, targets ...inject.Injector) (*Scheduler, error) {
	if opts.Poll <= 0 {
		opts.Poll = DefaultOptions().Poll
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.New("jiggle: no targets")
	}
	return &Scheduler{opts: opts, targets: targets, enabled: opts.Enabled}, nil
}

// Start enables periodic jiggling. The first jiggle follows one interval
// after the call.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return
	}
	s.enabled = true
	s.last = time.Time{}
	slog.Info("[JIGGLE] started", "interval", s.opts.Interval, "distance", s.opts.Distance)
}

// Stop disables periodic jiggling. JiggleOnce still works.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.enabled = false
	slog.Info("[JIGGLE] stopped")
}

// Toggle flips between started and stopped and returns the new state.
func (s *Scheduler) Toggle() bool {
	if s.Enabled() {
		s.Stop()
		return false
	}
	s.Start()
	return true
}

// Enabled reports whether periodic jiggling is on.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Count returns the number of jiggles that reached at least one target.
func (s *Scheduler) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// JiggleOnce moves every ready target once, whether or not periodic
// jiggling is enabled.
func (s *Scheduler) JiggleOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.jiggleLocked()
	return err
}

// Tick jiggles if jiggling is enabled and an interval has passed since the
// last jiggle. The first tick after Start only arms the timer. It reports
// whether anything moved.
func (s *Scheduler) Tick(now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return false, nil
	}
	if s.last.IsZero() {
		s.last = now
		return false, nil
	}
	if now.Sub(s.last) < s.opts.Interval {
		return false, nil
	}
	s.last = now
	return s.jiggleLocked()
}

func (s *Scheduler) jiggleLocked() (bool, error) {
	d := s.opts.Distance
	if s.back {
		d = -d
	}
	moved := false
	var errs []error
	for i, t := range s.targets {
		if !t.Ready() {
			continue
		}
		if err := t.Move(d, d); err != nil {
			errs = append(errs, fmt.Errorf("jiggle: target %d: %w", i, err))
			continue
		}
		moved = true
	}
	if moved {
		s.back = !s.back
		s.count++
		slog.Debug("[JIGGLE] moved", "dx", d, "dy", d, "next", s.opts.Interval)
	}
	return moved, errors.Join(errs...)
}

// Run calls Tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Poll)
	defer ticker.Stop()
	s.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := s.Tick(now); err != nil {
				slog.Warn("[JIGGLE] jiggle failed", "error", err)
			}
		}
	}
}
