package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"yeelightble/yeelight"
	"yeelightble/yeelight/transport"
)

// LampHandler exposes one lamp as typed operations. It owns the device
// connection and its Session; the Multiplexer owns LampHandler instances.
type LampHandler struct {
	address   string
	transport transport.Transport
	timeout   time.Duration

	session *Session
}

// NewLampHandler prepares a handler for the given MAC address. No connection
// is made until Connect.
func NewLampHandler(t transport.Transport, address string, timeout time.Duration) *LampHandler {
	return &LampHandler{
		address:   transport.NormalizeMAC(address),
		transport: t,
		timeout:   timeout,
	}
}

// Address returns the lamp's normalized MAC address.
func (h *LampHandler) Address() string { return h.address }

// Connect establishes the BLE link and performs the pairing handshake the
// lamp requires before it accepts commands.
func (h *LampHandler) Connect(ctx context.Context) error {
	conn, err := h.transport.Connect(ctx, h.address)
	if err != nil {
		return err
	}
	session, err := NewSession(conn, h.timeout)
	if err != nil {
		_ = conn.Close()
		return err
	}
	h.session = session

	res, err := session.Execute(ctx, yeelight.Pair{})
	if err != nil {
		_ = session.Close()
		h.session = nil
		return fmt.Errorf("pairing: %w", err)
	}
	if pair, ok := res.Notification.(yeelight.PairNotification); ok {
		switch pair.Status {
		case yeelight.PairPaired, yeelight.PairWaiting:
			// Waiting means the lamp wants a button press; commands still
			// go through once the user confirms.
		default:
			_ = session.Close()
			h.session = nil
			return fmt.Errorf("lamp refused pairing (status %02X)", byte(pair.Status))
		}
	}
	slog.Info("lamp connected", "address", h.address)
	return nil
}

// OnLost registers the connection-loss callback on the underlying session.
func (h *LampHandler) OnLost(fn func(err error)) {
	if h.session != nil {
		h.session.OnLost(fn)
	}
}

// PushCh returns the channel carrying unsolicited notifications, or nil if
// not connected.
func (h *LampHandler) PushCh() <-chan yeelight.Notification {
	if h.session == nil {
		return nil
	}
	return h.session.PushCh
}

// Close disconnects from the lamp.
func (h *LampHandler) Close() error {
	if h.session == nil {
		return nil
	}
	err := h.session.Close()
	h.session = nil
	return err
}

func (h *LampHandler) execute(ctx context.Context, cmd yeelight.Command) (Result, error) {
	if h.session == nil {
		return Result{}, ErrConnectionLost
	}
	return h.session.Execute(ctx, cmd)
}

// GetState requests a fresh state notification from the lamp.
func (h *LampHandler) GetState(ctx context.Context) (State, error) {
	res, err := h.execute(ctx, yeelight.GetState{})
	if err != nil {
		return State{}, err
	}
	st, ok := res.Notification.(yeelight.StateNotification)
	if !ok {
		return State{}, fmt.Errorf("unexpected reply %v to GetState", res.Notification.Op())
	}
	return st.State, nil
}

// CachedState returns the last state heard on this connection without
// talking to the lamp.
func (h *LampHandler) CachedState() (State, bool) {
	if h.session == nil {
		return State{}, false
	}
	return h.session.State()
}

func (h *LampHandler) SetPower(ctx context.Context, on bool) error {
	_, err := h.execute(ctx, yeelight.SetPower{On: on})
	return err
}

func (h *LampHandler) SetBrightness(ctx context.Context, level uint8) error {
	_, err := h.execute(ctx, yeelight.SetBrightness{Level: level})
	return err
}

func (h *LampHandler) SetColor(ctx context.Context, r, g, b, brightness uint8) error {
	_, err := h.execute(ctx, yeelight.SetColor{Red: r, Green: g, Blue: b, Brightness: brightness})
	return err
}

func (h *LampHandler) SetTemperature(ctx context.Context, kelvin uint16, brightness uint8) error {
	_, err := h.execute(ctx, yeelight.SetTemperature{Kelvin: kelvin, Brightness: brightness})
	return err
}

// GetName fetches the lamp's name, assembled from its chunked reply.
func (h *LampHandler) GetName(ctx context.Context) (string, error) {
	res, err := h.execute(ctx, yeelight.GetName{})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (h *LampHandler) SetName(ctx context.Context, name string) error {
	_, err := h.execute(ctx, yeelight.SetName{Name: name})
	return err
}

// GetInfo fetches firmware version and serial number. The two requests are
// sent back to back and correlated independently by opcode, so the answers
// may arrive in either order.
func (h *LampHandler) GetInfo(ctx context.Context) (DeviceInfo, error) {
	if h.session == nil {
		return DeviceInfo{}, ErrConnectionLost
	}
	h.session.sendMu.Lock()
	defer h.session.sendMu.Unlock()

	verReq, err := h.session.Send(yeelight.GetVersion{})
	if err != nil {
		return DeviceInfo{}, err
	}
	serReq, err := h.session.Send(yeelight.GetSerial{})
	if err != nil {
		return DeviceInfo{}, err
	}

	verRes, err := h.session.Wait(ctx, verReq)
	if err != nil {
		return DeviceInfo{}, err
	}
	serRes, err := h.session.Wait(ctx, serReq)
	if err != nil {
		return DeviceInfo{}, err
	}

	ver, ok := verRes.Notification.(yeelight.VersionNotification)
	if !ok {
		return DeviceInfo{}, fmt.Errorf("unexpected reply %v to GetVersion", verRes.Notification.Op())
	}
	return DeviceInfo{Version: ver.Version, Serial: serRes.Text}, nil
}

func (h *LampHandler) GetTime(ctx context.Context) (time.Time, error) {
	res, err := h.execute(ctx, yeelight.GetTime{})
	if err != nil {
		return time.Time{}, err
	}
	tn, ok := res.Notification.(yeelight.TimeNotification)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected reply %v to GetTime", res.Notification.Op())
	}
	return tn.Time, nil
}

func (h *LampHandler) SetTime(ctx context.Context, t time.Time) error {
	_, err := h.execute(ctx, yeelight.SetTime{Time: t})
	return err
}

func (h *LampHandler) GetScene(ctx context.Context, slot uint8) (Scene, error) {
	res, err := h.execute(ctx, yeelight.GetScene{Slot: slot})
	if err != nil {
		return Scene{}, err
	}
	sn, ok := res.Notification.(yeelight.SceneNotification)
	if !ok {
		return Scene{}, fmt.Errorf("unexpected reply %v to GetScene", res.Notification.Op())
	}
	return Scene{Slot: sn.Slot, Name: res.Text}, nil
}

func (h *LampHandler) SetScene(ctx context.Context, slot uint8, name string) error {
	_, err := h.execute(ctx, yeelight.SetScene{Slot: slot, Name: name})
	return err
}

func (h *LampHandler) GetAlarm(ctx context.Context, slot uint8) (Alarm, error) {
	res, err := h.execute(ctx, yeelight.GetAlarm{Slot: slot})
	if err != nil {
		return Alarm{}, err
	}
	an, ok := res.Notification.(yeelight.AlarmNotification)
	if !ok {
		return Alarm{}, fmt.Errorf("unexpected reply %v to GetAlarm", res.Notification.Op())
	}
	return an.Alarm, nil
}

func (h *LampHandler) GetNightMode(ctx context.Context) (NightMode, error) {
	res, err := h.execute(ctx, yeelight.GetNightMode{})
	if err != nil {
		return NightMode{}, err
	}
	nn, ok := res.Notification.(yeelight.NightModeNotification)
	if !ok {
		return NightMode{}, fmt.Errorf("unexpected reply %v to GetNightMode", res.Notification.Op())
	}
	return nn.NightMode, nil
}

// GetSleep returns the sleep timer in minutes; zero means disabled.
func (h *LampHandler) GetSleep(ctx context.Context) (uint16, error) {
	res, err := h.execute(ctx, yeelight.GetSleep{})
	if err != nil {
		return 0, err
	}
	sn, ok := res.Notification.(yeelight.SleepNotification)
	if !ok {
		return 0, fmt.Errorf("unexpected reply %v to GetSleep", res.Notification.Op())
	}
	return sn.Minutes, nil
}

func (h *LampHandler) GetFlow(ctx context.Context, slot uint8) (Flow, error) {
	res, err := h.execute(ctx, yeelight.GetFlow{Slot: slot})
	if err != nil {
		return Flow{}, err
	}
	fn, ok := res.Notification.(yeelight.FlowNotification)
	if !ok {
		return Flow{}, fmt.Errorf("unexpected reply %v to GetFlow", res.Notification.Op())
	}
	return fn.Flow, nil
}
