package client

import (
	"context"
	"time"

	"yeelightble/protocol"
)

// Controller is the operation surface shared by the direct BLE path and the
// WebSocket client. The console and the one-shot CLI commands run against
// it without knowing which transport is underneath.
type Controller interface {
	GetState(ctx context.Context, mac string) (protocol.LampState, error)
	SetPower(ctx context.Context, mac string, on bool) error
	SetBrightness(ctx context.Context, mac string, level uint8) error
	SetColor(ctx context.Context, mac string, r, g, b, brightness uint8) error
	SetTemperature(ctx context.Context, mac string, kelvin uint16, brightness uint8) error
	GetName(ctx context.Context, mac string) (string, error)
	SetName(ctx context.Context, mac string, name string) error
	GetInfo(ctx context.Context, mac string) (protocol.InfoData, error)
	GetTime(ctx context.Context, mac string) (time.Time, error)
	SetTime(ctx context.Context, mac string, t time.Time) error
	GetScene(ctx context.Context, mac string, slot uint8) (protocol.SceneData, error)
	SetScene(ctx context.Context, mac string, slot uint8, name string) error
	GetAlarm(ctx context.Context, mac string, slot uint8) (protocol.AlarmData, error)
	GetNightMode(ctx context.Context, mac string) (protocol.NightModeData, error)
	GetSleep(ctx context.Context, mac string) (protocol.SleepData, error)
	GetFlow(ctx context.Context, mac string, slot uint8) (protocol.FlowData, error)
	Scan(ctx context.Context, duration time.Duration) ([]protocol.ScanDevice, error)

	// OnStateChanged registers a callback for unsolicited lamp state
	// changes. Only the WebSocket path delivers these continuously; the
	// direct path fires them while a connection happens to be open.
	OnStateChanged(fn func(mac string, state protocol.LampState))

	Close() error
}
