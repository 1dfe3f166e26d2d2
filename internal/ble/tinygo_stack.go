//go:build linux || windows

package ble

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/catalog"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/protocol"
)

// reasonRemoteTerminated is reported for every disconnect because
// tinygo-org/bluetooth does not expose the HCI reason.
const reasonRemoteTerminated = 0x13

// TinyGoStack adapts tinygo-org/bluetooth's peripheral API to Stack.
//
// tinygo/bluetooth adds whole services in one synchronous call, so service
// and characteristic commands are collected per interface and committed
// when the interface first configures advertising. Handles are assigned
// locally. Completion events are delivered from a single goroutine, never
// from inside a command.
type TinyGoStack struct {
	adapter *bluetooth.Adapter

	mu         sync.Mutex
	gap, gatts func(Event)
	events     chan Event
	nextIface  InterfaceHandle
	nextHandle AttrHandle
	nextConn   ConnHandle
	apps       map[InterfaceHandle]*tinyApp
	advIface   InterfaceHandle
	advOpts    bluetooth.AdvertisementOptions
	conns      map[string]ConnHandle
	connIface  map[ConnHandle]InterfaceHandle
	passkeys   map[InterfaceHandle]uint32
	agent      bool
	started    bool
}

type tinyApp struct {
	services  []*tinyService
	byHandle  map[AttrHandle]*bluetooth.Characteristic
	committed bool
}

type tinyService struct {
	handle AttrHandle
	uuid   uint16
	chars  []bluetooth.CharacteristicConfig
}

var _ PlatformStack = (*TinyGoStack)(nil)

// NewPlatformStack returns a TinyGoStack on the named adapter.
func NewPlatformStack(adapter string) (PlatformStack, error) {
	return NewTinyGoStack(adapter), nil
}

// NewTinyGoStack wraps the named adapter, or the default one when adapter
// is empty.
func NewTinyGoStack(adapter string) *TinyGoStack {
	return newTinyGoStack(tinyAdapter(adapter))
}

func newTinyGoStack(adapter *bluetooth.Adapter) *TinyGoStack {
	return &TinyGoStack{
		adapter:   adapter,
		events:    make(chan Event, 64),
		apps:      make(map[InterfaceHandle]*tinyApp),
		conns:     make(map[string]ConnHandle),
		connIface: make(map[ConnHandle]InterfaceHandle),
		passkeys:  make(map[InterfaceHandle]uint32),
	}
}

// Enable powers the adapter, installs the connection handler and starts
// event delivery.
func (s *TinyGoStack) Enable() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		s.ReportLink(device.Address.String(), connected)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.started = true
		go s.deliver()
	}
	return nil
}

func (s *TinyGoStack) deliver() {
	for ev := range s.events {
		s.mu.Lock()
		gap, gatts := s.gap, s.gatts
		s.mu.Unlock()

		handler := gatts
		switch ev.Kind {
		case EventConnected, EventDisconnected, EventAdvDataConfigured, EventAdvStarted, EventAdvStopped:
			handler = gap
		}
		if handler != nil {
			handler(ev)
		}
	}
}

func (s *TinyGoStack) emit(ev Event) { s.events <- ev }

func (s *TinyGoStack) SetEventHandlers(gap, gatts func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gap, s.gatts = gap, gatts
}

func (s *TinyGoStack) handle() AttrHandle {
	s.nextHandle++
	return s.nextHandle
}

func (s *TinyGoStack) RegisterApplication(app AppID) error {
	s.mu.Lock()
	s.nextIface++
	iface := s.nextIface
	s.apps[iface] = &tinyApp{byHandle: make(map[AttrHandle]*bluetooth.Characteristic)}
	s.mu.Unlock()

	s.emit(Event{Kind: EventRegistered, App: app, Iface: iface})
	return nil
}

// UnregisterApplication forgets iface. Services already committed stay in
// the adapter's GATT database; tinygo/bluetooth cannot remove them.
func (s *TinyGoStack) UnregisterApplication(iface InterfaceHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[iface]
	if !ok {
		return fmt.Errorf("ble: unknown interface %d", iface)
	}
	if app.committed {
		slog.Debug("[BLE] services of interface stay registered with the adapter", "iface", iface)
	}
	delete(s.apps, iface)
	delete(s.passkeys, iface)
	if s.advIface == iface {
		s.advIface = 0
	}
	return nil
}

func (s *TinyGoStack) app(iface InterfaceHandle) (*tinyApp, error) {
	app, ok := s.apps[iface]
	if !ok {
		return nil, fmt.Errorf("ble: unknown interface %d", iface)
	}
	return app, nil
}

func (s *TinyGoStack) CreateService(iface InterfaceHandle, svc catalog.ServiceDef) error {
	s.mu.Lock()
	app, err := s.app(iface)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if app.committed {
		s.mu.Unlock()
		return fmt.Errorf("ble: interface %d already committed", iface)
	}
	ts := &tinyService{handle: s.handle(), uuid: svc.UUID}
	app.services = append(app.services, ts)
	s.mu.Unlock()

	s.emit(Event{Kind: EventServiceCreated, Iface: iface, Handle: ts.handle, UUID: svc.UUID})
	return nil
}

func (s *TinyGoStack) StartService(iface InterfaceHandle, service AttrHandle) error {
	s.mu.Lock()
	app, err := s.app(iface)
	if err == nil && app.service(service) == nil {
		err = fmt.Errorf("ble: unknown service handle %d", service)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(Event{Kind: EventServiceStarted, Iface: iface, Handle: service})
	return nil
}

func (a *tinyApp) service(h AttrHandle) *tinyService {
	for _, ts := range a.services {
		if ts.handle == h {
			return ts
		}
	}
	return nil
}

func (s *TinyGoStack) AddCharacteristic(iface InterfaceHandle, service AttrHandle, char catalog.CharacteristicDef) error {
	s.mu.Lock()
	app, err := s.app(iface)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ts := app.service(service)
	if ts == nil || app.committed {
		s.mu.Unlock()
		return fmt.Errorf("ble: cannot add characteristic 0x%04X to service %d", char.UUID, service)
	}
	h := s.handle()
	ch := new(bluetooth.Characteristic)
	app.byHandle[h] = ch
	ts.chars = append(ts.chars, bluetooth.CharacteristicConfig{
		Handle: ch,
		UUID:   bluetooth.New16BitUUID(char.UUID),
		Value:  append([]byte(nil), char.Value...),
		Flags:  tinyFlags(char.Props),
		WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
			s.emit(Event{Kind: EventWriteReceived, Iface: iface, Handle: h, Value: append([]byte(nil), value...)})
		},
	})
	s.mu.Unlock()

	s.emit(Event{Kind: EventCharAdded, Iface: iface, Handle: h, UUID: char.UUID})
	return nil
}

// AddDescriptor is acknowledged without effect: tinygo/bluetooth creates
// the client configuration descriptor of notifying characteristics itself
// and has no API for other descriptors.
func (s *TinyGoStack) AddDescriptor(iface InterfaceHandle, service AttrHandle, desc catalog.DescriptorDef) error {
	s.mu.Lock()
	_, err := s.app(iface)
	h := s.handle()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(Event{Kind: EventDescriptorAdded, Iface: iface, Handle: h, UUID: desc.UUID})
	return nil
}

func tinyFlags(p catalog.Property) bluetooth.CharacteristicPermissions {
	var f bluetooth.CharacteristicPermissions
	if p&catalog.PropBroadcast != 0 {
		f |= bluetooth.CharacteristicBroadcastPermission
	}
	if p&catalog.PropRead != 0 {
		f |= bluetooth.CharacteristicReadPermission
	}
	if p&catalog.PropWriteNoResp != 0 {
		f |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if p&catalog.PropWrite != 0 {
		f |= bluetooth.CharacteristicWritePermission
	}
	if p&catalog.PropNotify != 0 {
		f |= bluetooth.CharacteristicNotifyPermission
	}
	if p&catalog.PropIndicate != 0 {
		f |= bluetooth.CharacteristicIndicatePermission
	}
	return f
}

// commit adds every collected service of app to the adapter.
func (s *TinyGoStack) commit(app *tinyApp) error {
	if app.committed {
		return nil
	}
	for _, ts := range app.services {
		svc := &bluetooth.Service{
			UUID:            bluetooth.New16BitUUID(ts.uuid),
			Characteristics: ts.chars,
		}
		if err := s.adapter.AddService(svc); err != nil {
			return fmt.Errorf("ble: add service 0x%04X: %w", ts.uuid, err)
		}
	}
	app.committed = true
	return nil
}

// ConfigureAdvertisingData commits the interface's services and stores the
// advertisement. The adapter builds the flags and appearance itself; only
// the name and service list are forwarded.
func (s *TinyGoStack) ConfigureAdvertisingData(iface InterfaceHandle, data protocol.AdvertisingData) error {
	raw, err := data.Marshal()
	if err != nil {
		return fmt.Errorf("ble: advertising data: %w", err)
	}
	fitted, err := protocol.ParseAdvertisingData(raw)
	if err != nil {
		return fmt.Errorf("ble: advertising data: %w", err)
	}

	s.mu.Lock()
	app, err := s.app(iface)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	status := StatusSuccess
	if cerr := s.commit(app); cerr != nil {
		slog.Error("[BLE] commit services", "iface", iface, "error", cerr)
		status = StatusFailure
	}
	uuids := make([]bluetooth.UUID, 0, len(fitted.ServiceUUIDs))
	for _, u := range fitted.ServiceUUIDs {
		uuids = append(uuids, bluetooth.New16BitUUID(u))
	}
	s.advIface = iface
	s.advOpts = bluetooth.AdvertisementOptions{
		LocalName:    fitted.LocalName,
		ServiceUUIDs: uuids,
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventAdvDataConfigured, Iface: iface, Status: status})
	return nil
}

func (s *TinyGoStack) StartAdvertising(iface InterfaceHandle, params AdvertisingParams) error {
	s.mu.Lock()
	opts := s.advOpts
	opts.Interval = bluetooth.NewDuration(params.IntervalMin)
	s.advIface = iface
	s.mu.Unlock()

	status := StatusSuccess
	adv := s.adapter.DefaultAdvertisement()
	if err := adv.Configure(opts); err != nil {
		slog.Error("[BLE] configure advertisement", "error", err)
		status = StatusFailure
	} else if err := adv.Start(); err != nil {
		slog.Error("[BLE] start advertisement", "error", err)
		status = StatusFailure
	}
	s.emit(Event{Kind: EventAdvStarted, Iface: iface, Status: status})
	return nil
}

func (s *TinyGoStack) StopAdvertising() error {
	status := StatusSuccess
	if err := s.adapter.DefaultAdvertisement().Stop(); err != nil {
		slog.Warn("[BLE] stop advertisement", "error", err)
		status = StatusFailure
	}
	s.emit(Event{Kind: EventAdvStopped, Status: status})
	return nil
}

func (s *TinyGoStack) characteristic(iface InterfaceHandle, attr AttrHandle) (*bluetooth.Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, err := s.app(iface)
	if err != nil {
		return nil, err
	}
	ch, ok := app.byHandle[attr]
	if !ok || !app.committed {
		return nil, fmt.Errorf("ble: attribute %d not available on interface %d", attr, iface)
	}
	return ch, nil
}

// SendNotify writes value; tinygo/bluetooth notifies every subscribed
// central on write, so conn only has to be known.
func (s *TinyGoStack) SendNotify(iface InterfaceHandle, conn ConnHandle, attr AttrHandle, value []byte) error {
	s.mu.Lock()
	_, ok := s.connIface[conn]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: unknown connection %d", conn)
	}
	ch, err := s.characteristic(iface, attr)
	if err != nil {
		return err
	}
	if _, err := ch.Write(value); err != nil {
		return fmt.Errorf("ble: write attribute %d: %w", attr, err)
	}
	return nil
}

// SetAttributeValue writes value. Subscribed centrals are notified as well,
// tinygo/bluetooth has no silent update.
func (s *TinyGoStack) SetAttributeValue(iface InterfaceHandle, attr AttrHandle, value []byte) error {
	ch, err := s.characteristic(iface, attr)
	if err != nil {
		return err
	}
	if _, err := ch.Write(value); err != nil {
		return fmt.Errorf("ble: write attribute %d: %w", attr, err)
	}
	return nil
}

// SetStaticPasskey stores passkey for iface. tinygo/bluetooth has no
// pairing API of its own; the passkey is handed out through Passkey to the
// pairing agent, so one must be attached first.
func (s *TinyGoStack) SetStaticPasskey(iface InterfaceHandle, passkey uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.agent {
		return fmt.Errorf("ble: static passkey needs a pairing agent")
	}
	if _, err := s.app(iface); err != nil {
		return err
	}
	s.passkeys[iface] = passkey
	return nil
}

// SetPairingAgent records whether a pairing agent consults Passkey.
func (s *TinyGoStack) SetPairingAgent(attached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = attached
}

// Passkey returns the passkey of the interface linked to address, falling
// back to the advertising interface while the link is still unknown.
func (s *TinyGoStack) Passkey(address string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iface := s.advIface
	if conn, ok := s.conns[strings.ToUpper(address)]; ok {
		iface = s.connIface[conn]
	}
	key, ok := s.passkeys[iface]
	return key, ok
}

// ReportLink turns a link change into a Connected or Disconnected event.
// It is fed by the adapter's connect handler and by an external watcher,
// so a repeat of the current state is dropped.
func (s *TinyGoStack) ReportLink(address string, connected bool) {
	addr := strings.ToUpper(address)

	s.mu.Lock()
	var ev Event
	if connected {
		if _, ok := s.conns[addr]; ok {
			s.mu.Unlock()
			return
		}
		s.nextConn++
		conn := s.nextConn
		s.conns[addr] = conn
		s.connIface[conn] = s.advIface
		ev = Event{Kind: EventConnected, Iface: s.advIface, Conn: conn}
	} else {
		conn, ok := s.conns[addr]
		if !ok {
			s.mu.Unlock()
			slog.Debug("[BLE] disconnect from unknown central", "address", addr)
			return
		}
		ev = Event{Kind: EventDisconnected, Iface: s.connIface[conn], Conn: conn, Reason: reasonRemoteTerminated}
		delete(s.conns, addr)
		delete(s.connIface, conn)
	}
	s.mu.Unlock()

	slog.Debug("[BLE] link event", "address", addr, "connected", connected)
	s.emit(ev)
}
