package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// RetryOptions bounds automatic re-provisioning after a failed step.
type RetryOptions struct {
	MaxAttempts int           // retries after the first failure; 0 disables
	BaseDelay   time.Duration // delay before the first retry, doubled each time
	MaxDelay    time.Duration // cap on the delay
}

// HostOptions configures a Host.
type HostOptions struct {
	Policy         Policy
	RotateInterval time.Duration // PolicyRotate only; 0 rotates on demand
	Advertising    AdvertisingParams
	// ReportDescriptors adds the report CCCD and Report Reference
	// descriptors explicitly. Stacks that create the CCCD on their own set
	// this to false.
	ReportDescriptors bool
	Retry             RetryOptions
	QueueSize         int           // dispatcher queue depth
	ClickDelay        time.Duration // pause between press and release
}

// DefaultHostOptions returns sensible defaults.
func DefaultHostOptions() HostOptions {
	return HostOptions{
		Policy:            PolicySingle,
		RotateInterval:    30 * time.Second,
		Advertising:       DefaultAdvertisingParams(),
		ReportDescriptors: true,
		Retry: RetryOptions{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		QueueSize:  256,
		ClickDelay: 10 * time.Millisecond,
	}
}

// Host runs any number of mice on one stack. Only one mouse registers and
// provisions at a time; the rest wait their turn.
type Host struct {
	mu    sync.Mutex
	stack Stack
	opts  HostOptions

	reg  *Registry
	adv  *Lifecycle
	prov *provisioner
	disp *Dispatcher

	nextApp      AppID
	provisioning *Mouse
	pending      []*Mouse
	orphans      map[AppID]struct{} // released while their registration was in flight
}

// NewHost wires a host to stack and installs its event handlers. Events are
// only processed while Run is active, or when Dispatch is called directly.
func NewHost(stack Stack, opts HostOptions) *Host {
	def := DefaultHostOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Advertising.IntervalMin <= 0 || opts.Advertising.IntervalMax < opts.Advertising.IntervalMin {
		opts.Advertising = def.Advertising
	}
	if opts.Retry.BaseDelay <= 0 {
		opts.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if opts.Retry.MaxDelay < opts.Retry.BaseDelay {
		opts.Retry.MaxDelay = opts.Retry.BaseDelay
	}
	if opts.ClickDelay < 0 {
		opts.ClickDelay = 0
	}

	h := &Host{
		stack:   stack,
		opts:    opts,
		reg:     NewRegistry(),
		adv:     newLifecycle(stack, opts.Policy, opts.Advertising),
		orphans: make(map[AppID]struct{}),
	}
	h.prov = &provisioner{
		stack:  stack,
		steps:  buildSteps(opts.ReportDescriptors),
		done:   h.onProvisioned,
		failed: h.onProvisionFailed,
	}
	h.disp = newDispatcher(h, opts.QueueSize)
	stack.SetEventHandlers(h.disp.OnGAPEvent, h.disp.OnGATTSEvent)
	return h
}

// Dispatcher returns the host's event dispatcher.
func (h *Host) Dispatcher() *Dispatcher { return h.disp }

// AddMouse registers a mouse description with the host. The mouse stays
// idle until Start.
func (h *Host) AddMouse(cfg MouseConfig) (*Mouse, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("ble: mouse %d: name is required", cfg.ID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	m := newMouse(h, cfg)
	m.appID = h.nextApp
	if err := h.reg.Add(m); err != nil {
		return nil, err
	}
	h.nextApp++
	return m, nil
}

// Mouse returns the mouse with the given id.
func (h *Host) Mouse(id uint8) (*Mouse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.reg.ByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMouse, id)
	}
	return m, nil
}

// Mice returns every live mouse ordered by id.
func (h *Host) Mice() []*Mouse {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.All()
}

// Start registers mouse id with the stack and begins provisioning. It
// returns once the registration command is submitted (or queued behind
// another mouse); the mouse advertises on its own when provisioning is done.
//
// Start on a running mouse does nothing. A stopped mouse, or one whose
// provisioning failed for good, is released and provisioned again from
// StateIdle with a fresh application id.
func (h *Host) Start(id uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.reg.ByID(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMouse, id)
	}
	return h.startMouseLocked(m)
}

// StartAll starts every mouse that is not running.
func (h *Host) StartAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, m := range h.reg.All() {
		if m.started && !m.failed {
			continue
		}
		if err := h.startMouseLocked(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Host) startMouseLocked(m *Mouse) error {
	if m.started && !m.failed {
		return nil
	}
	m.cancelled = false
	if h.fresh(m) {
		return h.startLocked(m)
	}
	if m.failed {
		slog.Info("[BLE] restarting failed mouse", "mouse", m.cfg.ID, "error", m.lastErr)
	}
	m.attempts = 0
	if err := h.releaseLocked(m); err != nil {
		slog.Warn("[BLE] release before restart", "mouse", m.cfg.ID, "error", err)
	}
	if err := h.reg.Rebind(m, h.allocApp()); err != nil {
		m.lastErr = err
		return err
	}
	return h.startLocked(m)
}

// fresh reports whether m was never handed to the stack and still holds
// its original application id.
func (h *Host) fresh(m *Mouse) bool {
	if m.started || m.failed || m.hasIface || m.registering || m.state != StateIdle {
		return false
	}
	owner, ok := h.reg.ByApp(m.appID)
	return ok && owner == m
}

func (h *Host) startLocked(m *Mouse) error {
	m.started = true
	if h.provisioning != nil && h.provisioning != m {
		for _, p := range h.pending {
			if p == m {
				return nil
			}
		}
		slog.Debug("[BLE] provisioning busy, queued", "mouse", m.cfg.ID, "busy", h.provisioning.cfg.ID)
		h.pending = append(h.pending, m)
		return nil
	}
	h.provisioning = m
	slog.Info("[BLE] registering application", "mouse", m.cfg.ID, "app", m.appID, "attempt", m.attempts+1)
	if err := h.stack.RegisterApplication(m.appID); err != nil {
		perr := &ProvisioningError{State: StateIdle, Status: StatusRejected, Err: err}
		h.prov.fail(m, perr)
		return perr
	}
	m.registering = true
	return nil
}

// onRegistered binds the interface handle and starts the construction
// sequence.
func (h *Host) onRegistered(m *Mouse, ev Event) error {
	m.registering = false
	if m.hasIface || m.state != StateIdle || m.failed {
		slog.Warn("[BLE] dropping repeated registration", "mouse", m.cfg.ID, "event", ev)
		return ErrStaleEvent
	}
	if ev.Status != StatusSuccess {
		h.prov.fail(m, &ProvisioningError{State: StateIdle, Status: ev.Status})
		return nil
	}
	if err := h.reg.BindInterface(m, ev.Iface); err != nil {
		h.prov.fail(m, &ProvisioningError{State: StateIdle, Status: StatusInternal, Err: err})
		return err
	}
	slog.Debug("[BLE] application registered", "mouse", m.cfg.ID, "app", ev.App, "iface", ev.Iface)
	h.applyPasskey(m)
	return h.prov.begin(m)
}

func (h *Host) applyPasskey(m *Mouse) {
	if m.cfg.PinCode == "" {
		return
	}
	ps, ok := h.stack.(PasskeySetter)
	if !ok {
		slog.Warn("[BLE] stack has no static passkey support, pairing without PIN", "mouse", m.cfg.ID)
		return
	}
	pin, err := strconv.ParseUint(m.cfg.PinCode, 10, 32)
	if err != nil || pin > 999999 {
		slog.Warn("[BLE] invalid PIN code, pairing without PIN", "mouse", m.cfg.ID)
		return
	}
	if err := ps.SetStaticPasskey(m.iface, uint32(pin)); err != nil {
		slog.Warn("[BLE] static passkey not set, pairing without PIN", "mouse", m.cfg.ID, "error", err)
		return
	}
	slog.Info("[BLE] static passkey set", "mouse", m.cfg.ID, "pin", m.cfg.PinCode)
}

func (h *Host) onProvisioned(m *Mouse) {
	m.attempts = 0
	m.lastErr = nil
	h.advanceGate(m)
	h.adv.RequestAdvertise(m)
}

func (h *Host) onProvisionFailed(m *Mouse, _ *ProvisioningError) {
	h.advanceGate(m)
	h.scheduleRetry(m)
}

// advanceGate lets the next queued mouse register once m is out of the way.
func (h *Host) advanceGate(m *Mouse) {
	h.dropPending(m)
	if h.provisioning != m {
		return
	}
	h.provisioning = nil
	for len(h.pending) > 0 && h.provisioning == nil {
		next := h.pending[0]
		h.pending = h.pending[1:]
		if next.cancelled {
			continue
		}
		_ = h.startLocked(next)
	}
}

func (h *Host) dropPending(m *Mouse) {
	for i, p := range h.pending {
		if p == m {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			return
		}
	}
}

// scheduleRetry tears m down and provisions it again after a backoff, up to
// Retry.MaxAttempts times. After that the failure is terminal until Start
// is called for the mouse.
func (h *Host) scheduleRetry(m *Mouse) {
	if m.cancelled {
		return
	}
	if m.attempts >= h.opts.Retry.MaxAttempts {
		slog.Error("[BLE] giving up on mouse", "mouse", m.cfg.ID, "attempts", m.attempts, "error", m.lastErr)
		return
	}
	delay := backoffDelay(m.attempts, h.opts.Retry.BaseDelay, h.opts.Retry.MaxDelay)
	m.attempts++
	slog.Info("[BLE] provisioning retry backoff", "mouse", m.cfg.ID, "attempt", m.attempts, "delay", delay)
	m.retryTimer = time.AfterFunc(delay, func() {
		h.disp.enqueueTask(func() { h.retryLocked(m) })
	})
}

func (h *Host) retryLocked(m *Mouse) {
	m.retryTimer = nil
	if m.cancelled || !m.failed {
		return
	}
	if err := h.releaseLocked(m); err != nil {
		slog.Warn("[BLE] unregister before retry", "mouse", m.cfg.ID, "error", err)
	}
	if err := h.reg.Rebind(m, h.allocApp()); err != nil {
		m.lastErr = err
		slog.Error("[BLE] rebind for retry", "mouse", m.cfg.ID, "error", err)
		return
	}
	_ = h.startLocked(m)
}

// releaseLocked gives back everything the stack holds for m and resets it
// to StateIdle. A registration still in flight is remembered so its
// interface can be unregistered when the completion arrives.
func (h *Host) releaseLocked(m *Mouse) error {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	h.adv.Drop(m)
	h.advanceGate(m)

	var err error
	switch {
	case m.hasIface:
		if uerr := h.stack.UnregisterApplication(m.iface); uerr != nil {
			err = fmt.Errorf("ble: unregister mouse %d: %w", m.cfg.ID, uerr)
		}
	case m.registering:
		h.orphans[m.appID] = struct{}{}
		slog.Debug("[BLE] registration still in flight, releasing on completion", "mouse", m.cfg.ID, "app", m.appID)
	}
	h.reg.Unbind(m)
	m.resetLocked()
	return err
}

// reapOrphan unregisters the interface of a registration that completed
// after its mouse had been released. It reports whether ev was one.
func (h *Host) reapOrphan(ev Event) bool {
	if _, ok := h.orphans[ev.App]; !ok {
		return false
	}
	delete(h.orphans, ev.App)
	if ev.Status != StatusSuccess {
		return true
	}
	if err := h.stack.UnregisterApplication(ev.Iface); err != nil {
		slog.Warn("[BLE] unregister orphaned application", "app", ev.App, "iface", ev.Iface, "error", err)
		return true
	}
	slog.Debug("[BLE] orphaned application unregistered", "app", ev.App, "iface", ev.Iface)
	return true
}

// allocApp returns an application id no live mouse holds.
func (h *Host) allocApp() AppID {
	for {
		app := h.nextApp
		h.nextApp++
		if _, taken := h.reg.ByApp(app); !taken {
			return app
		}
	}
}

// backoffDelay returns the retry delay for attempt n: base doubled n times,
// capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt >= 31 {
		return max
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// Stop tears mouse id down: advertising stops, the application is
// unregistered and the mouse returns to StateIdle. Events still in flight
// for it are dropped. The mouse stays known to the host; Start provisions
// it again.
func (h *Host) Stop(id uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.reg.ByID(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMouse, id)
	}
	return h.teardownLocked(m)
}

// Remove stops mouse id and forgets it, freeing the id for AddMouse.
func (h *Host) Remove(id uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.reg.ByID(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMouse, id)
	}
	err := h.teardownLocked(m)
	h.reg.Remove(m)
	return err
}

func (h *Host) teardownLocked(m *Mouse) error {
	m.cancelled = true
	m.started = false
	err := h.releaseLocked(m)
	slog.Info("[BLE] mouse stopped", "mouse", m.cfg.ID)
	return err
}

// Close stops every mouse.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, m := range h.reg.All() {
		if err := h.teardownLocked(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rotate hands the radio to the next waiting mouse under PolicyRotate.
func (h *Host) Rotate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adv.Rotate()
}

// Run processes stack events until ctx is cancelled. Under PolicyRotate
// with a RotateInterval it also rotates the advertiser periodically.
func (h *Host) Run(ctx context.Context) error {
	if h.opts.Policy == PolicyRotate && h.opts.RotateInterval > 0 {
		go func() {
			ticker := time.NewTicker(h.opts.RotateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					h.disp.enqueueTask(h.adv.Rotate)
				}
			}
		}()
	}
	return h.disp.Run(ctx)
}
