package ble

import (
	"fmt"
	"sort"
)

// Registry indexes live mice by owner id, by application id (until the
// registration completes) and by interface handle (afterwards). It is not
// safe for concurrent use on its own; the Host serializes access.
type Registry struct {
	byID    map[uint8]*Mouse
	byApp   map[AppID]*Mouse
	byIface map[InterfaceHandle]*Mouse
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[uint8]*Mouse),
		byApp:   make(map[AppID]*Mouse),
		byIface: make(map[InterfaceHandle]*Mouse),
	}
}

// Add inserts m under its id and application id.
func (r *Registry) Add(m *Mouse) error {
	if _, ok := r.byID[m.cfg.ID]; ok {
		return fmt.Errorf("%w: mouse id %d", ErrDuplicateRegistration, m.cfg.ID)
	}
	if err := r.bindApp(m, m.appID); err != nil {
		return err
	}
	r.byID[m.cfg.ID] = m
	return nil
}

// Remove drops every key held by m.
func (r *Registry) Remove(m *Mouse) {
	r.Unbind(m)
	if r.byID[m.cfg.ID] == m {
		delete(r.byID, m.cfg.ID)
	}
}

// Rebind moves m to a fresh application id and forgets its interface
// handle, ready for another registration.
func (r *Registry) Rebind(m *Mouse, app AppID) error {
	if other, ok := r.byApp[app]; ok && other != m {
		return fmt.Errorf("%w: application id %d", ErrDuplicateRegistration, app)
	}
	r.Unbind(m)
	m.appID = app
	r.byApp[app] = m
	return nil
}

func (r *Registry) bindApp(m *Mouse, app AppID) error {
	if other, ok := r.byApp[app]; ok && other != m {
		return fmt.Errorf("%w: application id %d", ErrDuplicateRegistration, app)
	}
	r.byApp[app] = m
	return nil
}

// BindInterface records the interface handle delivered by the registration
// completion. A handle is assigned to a mouse at most once.
func (r *Registry) BindInterface(m *Mouse, iface InterfaceHandle) error {
	if other, ok := r.byIface[iface]; ok && other != m {
		return fmt.Errorf("%w: interface %d held by mouse %d", ErrDuplicateRegistration, iface, other.cfg.ID)
	}
	if m.hasIface && m.iface != iface {
		return fmt.Errorf("%w: mouse %d already bound to interface %d", ErrDuplicateRegistration, m.cfg.ID, m.iface)
	}
	m.iface, m.hasIface = iface, true
	r.byIface[iface] = m
	return nil
}

// Unbind drops m's application and interface keys but keeps its id.
func (r *Registry) Unbind(m *Mouse) {
	if r.byApp[m.appID] == m {
		delete(r.byApp, m.appID)
	}
	if m.hasIface && r.byIface[m.iface] == m {
		delete(r.byIface, m.iface)
	}
}

// ByID returns the mouse with the given owner id.
func (r *Registry) ByID(id uint8) (*Mouse, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// ByApp returns the mouse waiting for the registration of app.
func (r *Registry) ByApp(app AppID) (*Mouse, bool) {
	m, ok := r.byApp[app]
	return m, ok
}

// ByInterface returns the mouse registered as iface.
func (r *Registry) ByInterface(iface InterfaceHandle) (*Mouse, bool) {
	m, ok := r.byIface[iface]
	return m, ok
}

// All returns the live mice ordered by id.
func (r *Registry) All() []*Mouse {
	mice := make([]*Mouse, 0, len(r.byID))
	for _, m := range r.byID {
		mice = append(mice, m)
	}
	sort.Slice(mice, func(i, j int) bool { return mice[i].cfg.ID < mice[j].cfg.ID })
	return mice
}

// Len returns the number of live mice.
func (r *Registry) Len() int { return len(r.byID) }
