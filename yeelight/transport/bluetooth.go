package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"yeelightble/yeelight"
)

// BluetoothTransport is the Transport implementation on the host's BLE
// adapter. One instance owns the adapter; connections are tracked so that
// adapter-level disconnect events can be routed to the right Conn.
type BluetoothTransport struct {
	adapter *bluetooth.Adapter

	mu    sync.Mutex
	conns map[string]*bluetoothConn // key: normalized MAC
}

// NewBluetoothTransport enables the default adapter and installs the
// disconnect watcher.
func NewBluetoothTransport() (*BluetoothTransport, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	t := &BluetoothTransport{
		adapter: adapter,
		conns:   make(map[string]*bluetoothConn),
	}
	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		t.mu.Lock()
		conn := t.conns[NormalizeMAC(device.Address.String())]
		t.mu.Unlock()
		if conn != nil {
			conn.lost(fmt.Errorf("link to %s dropped", device.Address.String()))
		}
	})
	return t, nil
}

// NormalizeMAC upper-cases a MAC address so map lookups are stable.
func NormalizeMAC(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Connect implements Transport. It dials the lamp and resolves the vendor
// service's control and notify characteristics.
func (t *BluetoothTransport) Connect(ctx context.Context, address string) (Conn, error) {
	mac, err := bluetooth.ParseMAC(NormalizeMAC(address))
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	device, err := t.adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, params)
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}

	control, notify, err := discoverCharacteristics(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, &ConnectError{Address: address, Err: err}
	}

	conn := &bluetoothConn{
		transport: t,
		address:   NormalizeMAC(address),
		device:    device,
		control:   control,
		notify:    notify,
	}
	t.mu.Lock()
	t.conns[conn.address] = conn
	t.mu.Unlock()

	slog.Debug("BLE link established", "address", conn.address)
	return conn, nil
}

func discoverCharacteristics(device bluetooth.Device) (control, notify bluetooth.DeviceCharacteristic, err error) {
	serviceUUID, err := bluetooth.ParseUUID(yeelight.ServiceUUID)
	if err != nil {
		return control, notify, err
	}
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return control, notify, fmt.Errorf("discover service: %w", err)
	}
	if len(services) == 0 {
		return control, notify, fmt.Errorf("lamp service %s not found", yeelight.ServiceUUID)
	}

	controlUUID, _ := bluetooth.ParseUUID(yeelight.ControlCharUUID)
	notifyUUID, _ := bluetooth.ParseUUID(yeelight.NotifyCharUUID)
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{controlUUID, notifyUUID})
	if err != nil {
		return control, notify, fmt.Errorf("discover characteristics: %w", err)
	}

	var haveControl, haveNotify bool
	for _, c := range chars {
		switch c.UUID().String() {
		case yeelight.ControlCharUUID:
			control, haveControl = c, true
		case yeelight.NotifyCharUUID:
			notify, haveNotify = c, true
		}
	}
	if !haveControl || !haveNotify {
		return control, notify, fmt.Errorf("lamp characteristics not found (control=%v notify=%v)", haveControl, haveNotify)
	}
	return control, notify, nil
}

type bluetoothConn struct {
	transport *BluetoothTransport
	address   string
	device    bluetooth.Device
	control   bluetooth.DeviceCharacteristic
	notify    bluetooth.DeviceCharacteristic

	mu           sync.Mutex
	closed       bool
	onDisconnect func(err error)
}

func (c *bluetoothConn) Write(data []byte) error {
	if _, err := c.control.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("write to %s: %w", c.address, err)
	}
	return nil
}

func (c *bluetoothConn) Subscribe(fn func(data []byte)) error {
	if err := c.notify.EnableNotifications(fn); err != nil {
		return fmt.Errorf("subscribe on %s: %w", c.address, err)
	}
	return nil
}

func (c *bluetoothConn) OnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// lost is called from the adapter's connect handler on an unexpected drop.
func (c *bluetoothConn) lost(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onDisconnect
	c.mu.Unlock()

	c.transport.forget(c.address)
	slog.Warn("BLE link lost", "address", c.address, "err", err)
	if fn != nil {
		fn(err)
	}
}

func (c *bluetoothConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.transport.forget(c.address)
	if err := c.device.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", c.address, err)
	}
	return nil
}

func (t *BluetoothTransport) forget(address string) {
	t.mu.Lock()
	delete(t.conns, address)
	t.mu.Unlock()
}
