package jiggle

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockTarget records moves.
type mockTarget struct {
	ready bool
	moves [][2]int
	err   error
}

func (m *mockTarget) Move(dx, dy int) error {
	if m.err != nil {
		return m.err
	}
	m.moves = append(m.moves, [2]int{dx, dy})
	return nil
}

func (m *mockTarget) Click(uint8) error { return nil }
func (m *mockTarget) Ready() bool       { return m.ready }

func testOptions() Options {
	opts := DefaultOptions()
	opts.Interval = time.Minute
	return opts
}

func TestNewValidates(t *testing.T) {
	target := &mockTarget{}
	tests := []struct {
		name    string
		mutate  func(*Options)
		targets int
		wantErr bool
	}{
		{"defaults", func(*Options) {}, 1, false},
		{"zero interval", func(o *Options) { o.Interval = 0 }, 1, true},
		{"distance too small", func(o *Options) { o.Distance = 0 }, 1, true},
		{"distance too large", func(o *Options) { o.Distance = 11 }, 1, true},
		{"max distance", func(o *Options) { o.Distance = 10 }, 1, false},
		{"no targets", func(*Options) {}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			var err error
			if tt.targets == 0 {
				_, err = New(opts)
			} else {
				_, err = New(opts, target)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTickAlternatesDirection(t *testing.T) {
	target := &mockTarget{ready: true}
	opts := testOptions()
	opts.Distance = 3
	s, err := New(opts, target)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Unix(1000, 0)
	if moved, _ := s.Tick(start); moved {
		t.Fatal("first tick should only arm the timer")
	}
	if moved, _ := s.Tick(start.Add(30 * time.Second)); moved {
		t.Fatal("moved before the interval passed")
	}
	for i := 1; i <= 4; i++ {
		if moved, err := s.Tick(start.Add(time.Duration(i) * time.Minute)); !moved || err != nil {
			t.Fatalf("tick %d: moved = %v, err = %v", i, moved, err)
		}
	}

	want := [][2]int{{3, 3}, {-3, -3}, {3, 3}, {-3, -3}}
	if len(target.moves) != len(want) {
		t.Fatalf("moves = %v, want %v", target.moves, want)
	}
	for i := range want {
		if target.moves[i] != want[i] {
			t.Errorf("move %d = %v, want %v", i, target.moves[i], want[i])
		}
	}
	if s.Count() != 4 {
		t.Errorf("Count() = %d, want 4", s.Count())
	}
}

func TestTickSkipsTargetsNotReady(t *testing.T) {
	target := &mockTarget{ready: false}
	s, _ := New(testOptions(), target)

	start := time.Unix(1000, 0)
	s.Tick(start)
	if moved, _ := s.Tick(start.Add(time.Minute)); moved {
		t.Error("moved a target that is not ready")
	}

	// Direction does not advance while nothing moves.
	target.ready = true
	s.Tick(start.Add(2 * time.Minute))
	if len(target.moves) != 1 || target.moves[0] != [2]int{1, 1} {
		t.Errorf("moves = %v, want [[1 1]]", target.moves)
	}
}

func TestStopAndToggle(t *testing.T) {
	target := &mockTarget{ready: true}
	s, _ := New(testOptions(), target)

	s.Stop()
	start := time.Unix(1000, 0)
	s.Tick(start)
	s.Tick(start.Add(time.Hour))
	if len(target.moves) != 0 {
		t.Errorf("stopped scheduler moved: %v", target.moves)
	}

	if !s.Toggle() {
		t.Fatal("Toggle() from stopped should start")
	}
	s.Tick(start.Add(2 * time.Hour))
	s.Tick(start.Add(2*time.Hour + time.Minute))
	if len(target.moves) != 1 {
		t.Errorf("moves after toggle = %v, want one", target.moves)
	}
	if s.Toggle() || s.Enabled() {
		t.Error("second Toggle() should stop")
	}
}

func TestJiggleOnceWhileStopped(t *testing.T) {
	a := &mockTarget{ready: true}
	b := &mockTarget{ready: true}
	opts := testOptions()
	opts.Enabled = false
	s, _ := New(opts, a, b)

	if err := s.JiggleOnce(); err != nil {
		t.Fatalf("JiggleOnce() error = %v", err)
	}
	if len(a.moves) != 1 || len(b.moves) != 1 {
		t.Errorf("moves = %v / %v, want one each", a.moves, b.moves)
	}
}

func TestJiggleErrorsAreJoined(t *testing.T) {
	bad := &mockTarget{ready: true, err: errors.New("link lost")}
	good := &mockTarget{ready: true}
	s, _ := New(testOptions(), bad, good)

	err := s.JiggleOnce()
	if err == nil {
		t.Fatal("JiggleOnce() should report the failing target")
	}
	if !errors.Is(err, bad.err) {
		t.Errorf("error = %v, want it to wrap %v", err, bad.err)
	}
	if len(good.moves) != 1 {
		t.Error("a failing target should not block the others")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	opts := testOptions()
	opts.Poll = time.Millisecond
	s, _ := New(opts, &mockTarget{ready: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
}
