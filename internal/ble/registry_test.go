package ble

import (
	"errors"
	"testing"
)

func TestRegistryDuplicates(t *testing.T) {
	r := NewRegistry()
	a := &Mouse{cfg: MouseConfig{ID: 1}, appID: 10}
	b := &Mouse{cfg: MouseConfig{ID: 2}, appID: 11}
	if err := r.Add(a); err != nil {
		t.Fatalf("Add(a) error = %v", err)
	}
	if err := r.Add(b); err != nil {
		t.Fatalf("Add(b) error = %v", err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"same id", func() error { return r.Add(&Mouse{cfg: MouseConfig{ID: 1}, appID: 12}) }},
		{"same app", func() error { return r.Add(&Mouse{cfg: MouseConfig{ID: 3}, appID: 10}) }},
		{"rebind onto taken app", func() error { return r.Rebind(b, 10) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrDuplicateRegistration) {
				t.Errorf("error = %v, want ErrDuplicateRegistration", err)
			}
		})
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d after rejected adds, want 2", r.Len())
	}
}

func TestRegistryInterfaceBinding(t *testing.T) {
	r := NewRegistry()
	a := &Mouse{cfg: MouseConfig{ID: 1}, appID: 0}
	b := &Mouse{cfg: MouseConfig{ID: 2}, appID: 1}
	_ = r.Add(a)
	_ = r.Add(b)

	if err := r.BindInterface(a, 4); err != nil {
		t.Fatalf("BindInterface(a, 4) error = %v", err)
	}
	if err := r.BindInterface(b, 4); !errors.Is(err, ErrDuplicateRegistration) {
		t.Errorf("second mouse on interface 4: error = %v, want ErrDuplicateRegistration", err)
	}
	if err := r.BindInterface(a, 5); !errors.Is(err, ErrDuplicateRegistration) {
		t.Errorf("rebinding mouse to a new interface: error = %v, want ErrDuplicateRegistration", err)
	}
	if err := r.BindInterface(a, 4); err != nil {
		t.Errorf("repeating the same binding: error = %v", err)
	}

	if m, ok := r.ByInterface(4); !ok || m != a {
		t.Error("ByInterface(4) should return mouse 1")
	}
	if m, ok := r.ByApp(1); !ok || m != b {
		t.Error("ByApp(1) should return mouse 2")
	}

	if err := r.Rebind(a, 7); err != nil {
		t.Fatalf("Rebind() error = %v", err)
	}
	if _, ok := r.ByInterface(4); ok {
		t.Error("Rebind should drop the interface key")
	}
	if _, ok := r.ByApp(0); ok {
		t.Error("Rebind should drop the old app key")
	}
	if m, ok := r.ByApp(7); !ok || m != a || a.appID != 7 {
		t.Error("Rebind should index the new app id")
	}

	r.Remove(a)
	if _, ok := r.ByID(1); ok {
		t.Error("Remove should drop the id key")
	}
	if _, ok := r.ByApp(7); ok {
		t.Error("Remove should drop the app key")
	}
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	for i, id := range []uint8{5, 1, 3} {
		_ = r.Add(&Mouse{cfg: MouseConfig{ID: id}, appID: AppID(i)})
	}
	all := r.All()
	want := []uint8{1, 3, 5}
	if len(all) != len(want) {
		t.Fatalf("All() returned %d mice, want %d", len(all), len(want))
	}
	for i, m := range all {
		if m.cfg.ID != want[i] {
			t.Errorf("All()[%d].ID = %d, want %d", i, m.cfg.ID, want[i])
		}
	}
}
