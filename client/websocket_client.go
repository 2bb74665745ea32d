package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"yeelightble/protocol"
)

// DefaultRequestTimeout bounds each request/response round trip with the
// daemon. It is longer than the daemon's own BLE deadline so the daemon's
// more specific error wins.
const DefaultRequestTimeout = 10 * time.Second

// RemoteError is a command failure reported by the daemon.
type RemoteError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WebSocketClient implements Controller by forwarding every operation to a
// running daemon. Responses are correlated to requests by requestId.
type WebSocketClient struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn
	url    string

	requestTimeout time.Duration

	writeMutex sync.Mutex

	requestID      int
	requestIDMutex sync.Mutex

	responseCh      map[string]chan *protocol.Message
	responseChMutex sync.Mutex

	onStateChanged func(mac string, state protocol.LampState)
	callbackMutex  sync.Mutex
}

// NewWebSocketClient creates a client for the daemon at serverURL
// (ws://host:port/ws). No connection is made until Connect.
func NewWebSocketClient(ctx context.Context, serverURL string) (*WebSocketClient, error) {
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("invalid server URL: %v", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &WebSocketClient{
		ctx:            clientCtx,
		cancel:         cancel,
		url:            serverURL,
		requestTimeout: DefaultRequestTimeout,
		responseCh:     make(map[string]chan *protocol.Message),
	}, nil
}

// Connect dials the daemon and starts the read loop.
func (c *WebSocketClient) Connect() error {
	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("error connecting to WebSocket server: %v", err)
	}
	c.conn = conn

	go c.listenForMessages()

	return nil
}

// Close closes the WebSocket connection
func (c *WebSocketClient) Close() error {
	c.cancel()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// OnStateChanged registers the callback invoked for each state_changed
// broadcast from the daemon.
func (c *WebSocketClient) OnStateChanged(fn func(mac string, state protocol.LampState)) {
	c.callbackMutex.Lock()
	c.onStateChanged = fn
	c.callbackMutex.Unlock()
}

// listenForMessages reads from the connection until it closes, routing
// responses to their waiting requests and notifications to the callbacks.
func (c *WebSocketClient) listenForMessages() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				slog.Debug("WebSocket read loop ending", "err", err)
				return
			}

			msg, err := protocol.ParseMessage(message)
			if err != nil {
				slog.Warn("discarding unparsable server message", "err", err)
				continue
			}

			if msg.RequestID != "" {
				c.responseChMutex.Lock()
				if ch, ok := c.responseCh[msg.RequestID]; ok {
					ch <- msg
					delete(c.responseCh, msg.RequestID)
				}
				c.responseChMutex.Unlock()
			} else {
				c.handleNotification(msg)
			}
		}
	}
}

func (c *WebSocketClient) handleNotification(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MessageTypeStateChanged:
		var payload protocol.StateChangedPayload
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			slog.Warn("bad state_changed payload", "err", err)
			return
		}
		c.callbackMutex.Lock()
		fn := c.onStateChanged
		c.callbackMutex.Unlock()
		if fn != nil {
			fn(payload.Mac, payload.State)
		}
	case protocol.MessageTypeErrorNotification:
		var payload protocol.ErrorNotificationPayload
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			return
		}
		slog.Warn("server error notification", "code", payload.Code, "message", payload.Message)
	}
}

// sendRequest sends a request to the daemon and waits at most wait for its
// command_result. Most requests use DefaultRequestTimeout; a scan waits for
// the daemon's whole scan window on top of it.
func (c *WebSocketClient) sendRequest(ctx context.Context, msgType protocol.MessageType, payload interface{}, wait time.Duration) (*protocol.CommandResultPayload, error) {
	c.requestIDMutex.Lock()
	c.requestID++
	requestID := fmt.Sprintf("req-%d", c.requestID)
	c.requestIDMutex.Unlock()

	responseCh := make(chan *protocol.Message, 1)
	c.responseChMutex.Lock()
	c.responseCh[requestID] = responseCh
	c.responseChMutex.Unlock()

	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return nil, fmt.Errorf("error creating message: %v", err)
	}

	c.writeMutex.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMutex.Unlock()
	if err != nil {
		c.responseChMutex.Lock()
		delete(c.responseCh, requestID)
		c.responseChMutex.Unlock()
		return nil, fmt.Errorf("error sending message: %v", err)
	}

	select {
	case response := <-responseCh:
		var result protocol.CommandResultPayload
		if err := protocol.ParsePayload(response, &result); err != nil {
			return nil, fmt.Errorf("error parsing command result: %v", err)
		}
		if !result.Success {
			if result.Error != nil {
				return nil, &RemoteError{Code: result.Error.Code, Message: result.Error.Message}
			}
			return nil, fmt.Errorf("command failed without error detail")
		}
		return &result, nil
	case <-time.After(wait):
		return nil, fmt.Errorf("timeout waiting for response to %s", msgType)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, fmt.Errorf("client closed")
	}
}

// requestInto runs a request and unmarshals the result data into out when
// out is non-nil.
func (c *WebSocketClient) requestInto(ctx context.Context, msgType protocol.MessageType, payload, out interface{}) error {
	return c.requestIntoWait(ctx, msgType, payload, out, c.requestTimeout)
}

func (c *WebSocketClient) requestIntoWait(ctx context.Context, msgType protocol.MessageType, payload, out interface{}, wait time.Duration) error {
	result, err := c.sendRequest(ctx, msgType, payload, wait)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("error parsing %s result: %v", msgType, err)
	}
	return nil
}

func (c *WebSocketClient) GetState(ctx context.Context, mac string) (protocol.LampState, error) {
	var data protocol.StateData
	if err := c.requestInto(ctx, protocol.MessageTypeGetState, protocol.TargetPayload{Mac: mac}, &data); err != nil {
		return protocol.LampState{}, err
	}
	return data.State, nil
}

func (c *WebSocketClient) SetPower(ctx context.Context, mac string, on bool) error {
	return c.requestInto(ctx, protocol.MessageTypeSetPower, protocol.SetPowerPayload{Mac: mac, On: on}, nil)
}

func (c *WebSocketClient) SetBrightness(ctx context.Context, mac string, level uint8) error {
	return c.requestInto(ctx, protocol.MessageTypeSetBrightness, protocol.SetBrightnessPayload{Mac: mac, Level: level}, nil)
}

func (c *WebSocketClient) SetColor(ctx context.Context, mac string, r, g, b, brightness uint8) error {
	return c.requestInto(ctx, protocol.MessageTypeSetColor, protocol.SetColorPayload{
		Mac: mac, Red: r, Green: g, Blue: b, Brightness: brightness,
	}, nil)
}

func (c *WebSocketClient) SetTemperature(ctx context.Context, mac string, kelvin uint16, brightness uint8) error {
	return c.requestInto(ctx, protocol.MessageTypeSetTemperature, protocol.SetTemperaturePayload{
		Mac: mac, Kelvin: kelvin, Brightness: brightness,
	}, nil)
}

func (c *WebSocketClient) GetName(ctx context.Context, mac string) (string, error) {
	var data protocol.NameData
	if err := c.requestInto(ctx, protocol.MessageTypeGetName, protocol.TargetPayload{Mac: mac}, &data); err != nil {
		return "", err
	}
	return data.Name, nil
}

func (c *WebSocketClient) SetName(ctx context.Context, mac string, name string) error {
	return c.requestInto(ctx, protocol.MessageTypeSetName, protocol.SetNamePayload{Mac: mac, Name: name}, nil)
}

func (c *WebSocketClient) GetInfo(ctx context.Context, mac string) (protocol.InfoData, error) {
	var data protocol.InfoData
	if err := c.requestInto(ctx, protocol.MessageTypeGetInfo, protocol.TargetPayload{Mac: mac}, &data); err != nil {
		return protocol.InfoData{}, err
	}
	return data, nil
}

func (c *WebSocketClient) GetTime(ctx context.Context, mac string) (time.Time, error) {
	var data protocol.TimeData
	if err := c.requestInto(ctx, protocol.MessageTypeGetTime, protocol.TargetPayload{Mac: mac}, &data); err != nil {
		return time.Time{}, err
	}
	return data.Time, nil
}

func (c *WebSocketClient) SetTime(ctx context.Context, mac string, t time.Time) error {
	return c.requestInto(ctx, protocol.MessageTypeSetTime, protocol.SetTimePayload{Mac: mac, Time: t}, nil)
}

func (c *WebSocketClient) GetScene(ctx context.Context, mac string, slot uint8) (protocol.SceneData, error) {
	var data protocol.SceneData
	if err := c.requestInto(ctx, protocol.MessageTypeGetScene, protocol.SlotPayload{Mac: mac, Slot: slot}, &data); err != nil {
		return protocol.SceneData{}, err
	}
	return data, nil
}

func (c *WebSocketClient) SetScene(ctx context.Context, mac string, slot uint8, name string) error {
	return c.requestInto(ctx, protocol.MessageTypeSetScene, protocol.SetScenePayload{Mac: mac, Slot: slot, Name: name}, nil)
}

func (c *WebSocketClient) GetAlarm(ctx context.Context, mac string, slot uint8) (protocol.AlarmData, error) {
	var data protocol.AlarmData
	if err := c.requestInto(ctx, protocol.MessageTypeGetAlarm, protocol.SlotPayload{Mac: mac, Slot: slot}, &data); err != nil {
		return protocol.AlarmData{}, err
	}
	return data, nil
}

func (c *WebSocketClient) GetNightMode(ctx context.Context, mac string) (protocol.NightModeData, error) {
	var data protocol.NightModeData
	if err := c.requestInto(ctx, protocol.MessageTypeGetNightMode, protocol.TargetPayload{Mac: mac}, &data); err != nil {
		return protocol.NightModeData{}, err
	}
	return data, nil
}

func (c *WebSocketClient) GetSleep(ctx context.Context, mac string) (protocol.SleepData, error) {
	var data protocol.SleepData
	if err := c.requestInto(ctx, protocol.MessageTypeGetSleep, protocol.TargetPayload{Mac: mac}, &data); err != nil {
		return protocol.SleepData{}, err
	}
	return data, nil
}

func (c *WebSocketClient) GetFlow(ctx context.Context, mac string, slot uint8) (protocol.FlowData, error) {
	var data protocol.FlowData
	if err := c.requestInto(ctx, protocol.MessageTypeGetFlow, protocol.SlotPayload{Mac: mac, Slot: slot}, &data); err != nil {
		return protocol.FlowData{}, err
	}
	return data, nil
}

func (c *WebSocketClient) Scan(ctx context.Context, duration time.Duration) ([]protocol.ScanDevice, error) {
	var data protocol.ScanData
	payload := protocol.ScanPayload{Seconds: int(duration / time.Second)}
	if err := c.requestIntoWait(ctx, protocol.MessageTypeScan, payload, &data, duration+c.requestTimeout); err != nil {
		return nil, err
	}
	return data.Devices, nil
}
