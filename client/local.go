package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"yeelightble/protocol"
	"yeelightble/yeelight"
	"yeelightble/yeelight/handler"
	"yeelightble/yeelight/transport"
)

var errScanUnavailable = errors.New("scanning not available on this transport")

// Scanner discovers nearby lamps; the BLE transport implements it.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration, found func(transport.ScanResult)) error
}

// LocalController implements Controller directly over the BLE connection
// pool, with no daemon in between. The one-shot CLI commands and the
// console use it when no server address is configured.
type LocalController struct {
	mux     *handler.Multiplexer
	scanner Scanner

	onStateChanged func(mac string, state protocol.LampState)
	callbackMutex  sync.Mutex

	relayOnce sync.Once
	done      chan struct{}
}

// NewLocalController wraps the connection pool. scanner may be nil when the
// platform cannot scan.
func NewLocalController(mux *handler.Multiplexer, scanner Scanner) *LocalController {
	return &LocalController{
		mux:     mux,
		scanner: scanner,
		done:    make(chan struct{}),
	}
}

// OnStateChanged registers the push callback and starts relaying the
// pool's unsolicited notifications.
func (c *LocalController) OnStateChanged(fn func(mac string, state protocol.LampState)) {
	c.callbackMutex.Lock()
	c.onStateChanged = fn
	c.callbackMutex.Unlock()

	c.relayOnce.Do(func() {
		go c.relayPushes()
	})
}

func (c *LocalController) relayPushes() {
	for {
		select {
		case <-c.done:
			return
		case push := <-c.mux.PushCh:
			st, ok := push.Notification.(yeelight.StateNotification)
			if !ok {
				continue
			}
			c.callbackMutex.Lock()
			fn := c.onStateChanged
			c.callbackMutex.Unlock()
			if fn != nil {
				fn(push.Address, protocol.StateToProtocol(st.State))
			}
		}
	}
}

// Close shuts down the pool and every lamp connection.
func (c *LocalController) Close() error {
	close(c.done)
	return c.mux.Close()
}

// withLamp runs fn against the pooled handler for mac.
func (c *LocalController) withLamp(ctx context.Context, mac string, fn func(h *handler.LampHandler) error) error {
	h, err := c.mux.Acquire(ctx, mac)
	if err != nil {
		return err
	}
	defer c.mux.Release(mac)
	return fn(h)
}

func (c *LocalController) GetState(ctx context.Context, mac string) (protocol.LampState, error) {
	var state protocol.LampState
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		st, err := h.GetState(ctx)
		if err != nil {
			return err
		}
		state = protocol.StateToProtocol(st)
		return nil
	})
	return state, err
}

func (c *LocalController) SetPower(ctx context.Context, mac string, on bool) error {
	return c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		return h.SetPower(ctx, on)
	})
}

func (c *LocalController) SetBrightness(ctx context.Context, mac string, level uint8) error {
	return c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		return h.SetBrightness(ctx, level)
	})
}

func (c *LocalController) SetColor(ctx context.Context, mac string, r, g, b, brightness uint8) error {
	return c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		return h.SetColor(ctx, r, g, b, brightness)
	})
}

func (c *LocalController) SetTemperature(ctx context.Context, mac string, kelvin uint16, brightness uint8) error {
	return c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		return h.SetTemperature(ctx, kelvin, brightness)
	})
}

func (c *LocalController) GetName(ctx context.Context, mac string) (string, error) {
	var name string
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		var err error
		name, err = h.GetName(ctx)
		return err
	})
	return name, err
}

func (c *LocalController) SetName(ctx context.Context, mac string, name string) error {
	return c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		return h.SetName(ctx, name)
	})
}

func (c *LocalController) GetInfo(ctx context.Context, mac string) (protocol.InfoData, error) {
	var info protocol.InfoData
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		di, err := h.GetInfo(ctx)
		if err != nil {
			return err
		}
		info = protocol.InfoToProtocol(di)
		return nil
	})
	return info, err
}

func (c *LocalController) GetTime(ctx context.Context, mac string) (time.Time, error) {
	var t time.Time
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		var err error
		t, err = h.GetTime(ctx)
		return err
	})
	return t, err
}

func (c *LocalController) SetTime(ctx context.Context, mac string, t time.Time) error {
	return c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		return h.SetTime(ctx, t)
	})
}

func (c *LocalController) GetScene(ctx context.Context, mac string, slot uint8) (protocol.SceneData, error) {
	var scene protocol.SceneData
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		s, err := h.GetScene(ctx, slot)
		if err != nil {
			return err
		}
		scene = protocol.SceneData{Slot: s.Slot, Name: s.Name}
		return nil
	})
	return scene, err
}

func (c *LocalController) SetScene(ctx context.Context, mac string, slot uint8, name string) error {
	return c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		return h.SetScene(ctx, slot, name)
	})
}

func (c *LocalController) GetAlarm(ctx context.Context, mac string, slot uint8) (protocol.AlarmData, error) {
	var alarm protocol.AlarmData
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		a, err := h.GetAlarm(ctx, slot)
		if err != nil {
			return err
		}
		alarm = protocol.AlarmToProtocol(a)
		return nil
	})
	return alarm, err
}

func (c *LocalController) GetNightMode(ctx context.Context, mac string) (protocol.NightModeData, error) {
	var nm protocol.NightModeData
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		n, err := h.GetNightMode(ctx)
		if err != nil {
			return err
		}
		nm = protocol.NightModeToProtocol(n)
		return nil
	})
	return nm, err
}

func (c *LocalController) GetSleep(ctx context.Context, mac string) (protocol.SleepData, error) {
	var sleep protocol.SleepData
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		minutes, err := h.GetSleep(ctx)
		if err != nil {
			return err
		}
		sleep = protocol.SleepData{Minutes: minutes}
		return nil
	})
	return sleep, err
}

func (c *LocalController) GetFlow(ctx context.Context, mac string, slot uint8) (protocol.FlowData, error) {
	var flow protocol.FlowData
	err := c.withLamp(ctx, mac, func(h *handler.LampHandler) error {
		f, err := h.GetFlow(ctx, slot)
		if err != nil {
			return err
		}
		flow = protocol.FlowToProtocol(f)
		return nil
	})
	return flow, err
}

func (c *LocalController) Scan(ctx context.Context, duration time.Duration) ([]protocol.ScanDevice, error) {
	if c.scanner == nil {
		return nil, errScanUnavailable
	}
	devices := make([]protocol.ScanDevice, 0)
	err := c.scanner.Scan(ctx, duration, func(r transport.ScanResult) {
		devices = append(devices, protocol.ScanResultToProtocol(r))
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}
