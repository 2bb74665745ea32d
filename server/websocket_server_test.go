package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"yeelightble/protocol"
	"yeelightble/yeelight"
	"yeelightble/yeelight/handler"
	"yeelightble/yeelight/transport"
)

const testMAC = "F8:24:41:C5:0F:9A"

// lampConn is an in-memory BLE connection that answers the pairing
// handshake and any scripted command opcodes.
type lampConn struct {
	mu      sync.Mutex
	notify  func(data []byte)
	onDrop  func(err error)
	replies map[yeelight.Opcode][]byte
	closed  bool
}

func newLampConn() *lampConn {
	c := &lampConn{replies: make(map[yeelight.Opcode][]byte)}
	c.replies[yeelight.OpPair] = notifBytes(yeelight.OpNotifyPair, []byte{byte(yeelight.PairPaired)})
	return c
}

func notifBytes(op yeelight.Opcode, payload []byte) []byte {
	p := &yeelight.Packet{STX: yeelight.NotificationSTX, Op: op, Payload: make([]byte, yeelight.PayloadSize)}
	copy(p.Payload, payload)
	return p.Encode()
}

func (c *lampConn) Write(data []byte) error {
	p, err := yeelight.DecodePacket(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	reply, ok := c.replies[p.Op]
	fn := c.notify
	c.mu.Unlock()
	if ok {
		go fn(reply)
	}
	return nil
}

func (c *lampConn) Subscribe(fn func(data []byte)) error {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
	return nil
}

func (c *lampConn) OnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDrop = fn
	c.mu.Unlock()
}

func (c *lampConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *lampConn) push(data []byte) {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	fn(data)
}

type lampTransport struct {
	mu    sync.Mutex
	conns map[string]*lampConn
}

func newLampTransport() *lampTransport {
	return &lampTransport{conns: make(map[string]*lampConn)}
}

func (t *lampTransport) Connect(ctx context.Context, address string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := newLampConn()
	t.conns[address] = c
	return c, nil
}

func (t *lampTransport) connOf(address string) *lampConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[address]
}

// memTransport is an in-memory WebSocketTransport. Responses to a client
// land on sent; broadcasts land on broadcastCh.
type memTransport struct {
	mu             sync.Mutex
	messageHandler func(connID string, message []byte) error
	sent           chan []byte
	broadcastCh    chan []byte
}

func newMemTransport() *memTransport {
	return &memTransport{
		sent:        make(chan []byte, 16),
		broadcastCh: make(chan []byte, 16),
	}
}

func (t *memTransport) Start(options StartOptions) error { return nil }
func (t *memTransport) Stop() error                      { return nil }

func (t *memTransport) SetMessageHandler(handler func(connID string, message []byte) error) {
	t.mu.Lock()
	t.messageHandler = handler
	t.mu.Unlock()
}

func (t *memTransport) SetConnectHandler(handler func(connID string) error) {}
func (t *memTransport) SetDisconnectHandler(handler func(connID string))    {}

func (t *memTransport) SendMessage(connID string, message []byte) error {
	t.sent <- message
	return nil
}

func (t *memTransport) BroadcastMessage(message []byte) error {
	t.broadcastCh <- message
	return nil
}

func (t *memTransport) receive(connID string, message []byte) error {
	t.mu.Lock()
	fn := t.messageHandler
	t.mu.Unlock()
	return fn(connID, message)
}

func newTestServer(t *testing.T) (*WebSocketServer, *memTransport, *lampTransport) {
	t.Helper()
	lt := newLampTransport()
	mux := handler.NewMultiplexer(lt, time.Second, time.Minute)
	t.Cleanup(func() { _ = mux.Close() })

	ws := NewWebSocketServer(context.Background(), "127.0.0.1:0", mux, nil)
	t.Cleanup(func() { ws.cancel() })
	mt := newMemTransport()
	ws.SetTransport(mt)
	return ws, mt, lt
}

func sendRequest(t *testing.T, mt *memTransport, msgType protocol.MessageType, payload interface{}, requestID string) {
	t.Helper()
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := mt.receive("conn-1", data); err != nil {
		t.Fatalf("receive: %v", err)
	}
}

func awaitResult(t *testing.T, mt *memTransport, requestID string) protocol.CommandResultPayload {
	t.Helper()
	select {
	case data := <-mt.sent:
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("ParseMessage: %v", err)
		}
		if msg.Type != protocol.MessageTypeCommandResult {
			t.Fatalf("message type = %v", msg.Type)
		}
		if msg.RequestID != requestID {
			t.Fatalf("requestId = %q, want %q", msg.RequestID, requestID)
		}
		var result protocol.CommandResultPayload
		if err := protocol.ParsePayload(msg, &result); err != nil {
			t.Fatalf("ParsePayload: %v", err)
		}
		return result
	case <-time.After(3 * time.Second):
		t.Fatal("no response from server")
		return protocol.CommandResultPayload{}
	}
}

func TestServerGetState(t *testing.T) {
	_, mt, lt := newTestServer(t)

	// Connect the lamp with a set command, then script its get_state answer:
	// an 80% warm white state.
	sendRequest(t, mt, protocol.MessageTypeSetPower, protocol.SetPowerPayload{Mac: testMAC, On: true}, "warmup")
	res := awaitResult(t, mt, "warmup")
	if !res.Success {
		t.Fatalf("warmup failed: %+v", res.Error)
	}
	conn := lt.connOf(testMAC)
	conn.mu.Lock()
	conn.replies[yeelight.OpGetState] = notifBytes(
		yeelight.OpNotifyState, []byte{0x01, 0x02, 0, 0, 0, 80, 0x0A, 0xF0})
	conn.mu.Unlock()

	sendRequest(t, mt, protocol.MessageTypeGetState, protocol.TargetPayload{Mac: testMAC}, "req-1")
	res = awaitResult(t, mt, "req-1")
	if !res.Success {
		t.Fatalf("get_state failed: %+v", res.Error)
	}
	var data protocol.StateData
	if err := json.Unmarshal(res.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if !data.State.Power || data.State.Brightness != 80 || data.State.Temperature != 2800 {
		t.Errorf("state = %+v", data.State)
	}
}

func TestServerSetPower(t *testing.T) {
	_, mt, _ := newTestServer(t)

	sendRequest(t, mt, protocol.MessageTypeSetPower, protocol.SetPowerPayload{Mac: testMAC, On: true}, "req-1")
	res := awaitResult(t, mt, "req-1")
	if !res.Success {
		t.Fatalf("set_power failed: %+v", res.Error)
	}
	if res.Data != nil {
		t.Errorf("unexpected data: %s", res.Data)
	}
}

func TestServerValidationError(t *testing.T) {
	_, mt, _ := newTestServer(t)

	sendRequest(t, mt, protocol.MessageTypeSetBrightness, protocol.SetBrightnessPayload{Mac: testMAC, Level: 150}, "req-1")
	res := awaitResult(t, mt, "req-1")
	if res.Success {
		t.Fatal("out-of-range brightness accepted")
	}
	if res.Error == nil || res.Error.Code != protocol.ErrorCodeValidationError {
		t.Errorf("error = %+v", res.Error)
	}
}

func TestServerMissingMac(t *testing.T) {
	_, mt, _ := newTestServer(t)

	sendRequest(t, mt, protocol.MessageTypeGetState, protocol.TargetPayload{}, "req-1")
	res := awaitResult(t, mt, "req-1")
	if res.Success {
		t.Fatal("request without mac accepted")
	}
	if res.Error == nil || res.Error.Code != protocol.ErrorCodeInvalidParameters {
		t.Errorf("error = %+v", res.Error)
	}
}

func TestServerUnknownMessageType(t *testing.T) {
	_, mt, _ := newTestServer(t)

	data, err := protocol.CreateMessage("reboot_lamp", struct{}{}, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := mt.receive("conn-1", data); err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-mt.sent:
		msg, err := protocol.ParseMessage(out)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Type != protocol.MessageTypeErrorNotification {
			t.Errorf("message type = %v", msg.Type)
		}
		var payload protocol.ErrorNotificationPayload
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Code != protocol.ErrorCodeInvalidRequestFormat {
			t.Errorf("code = %v", payload.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("no error notification")
	}
}

func TestServerInvalidJSON(t *testing.T) {
	_, mt, _ := newTestServer(t)

	if err := mt.receive("conn-1", []byte("{broken")); err != nil {
		t.Fatal(err)
	}

	select {
	case out := <-mt.sent:
		msg, err := protocol.ParseMessage(out)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Type != protocol.MessageTypeErrorNotification {
			t.Errorf("message type = %v", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no error notification")
	}
}

func TestServerBroadcastsStateChanges(t *testing.T) {
	_, mt, lt := newTestServer(t)

	// Connect the lamp through a command, then have it push a state change.
	sendRequest(t, mt, protocol.MessageTypeSetPower, protocol.SetPowerPayload{Mac: testMAC, On: true}, "req-1")
	res := awaitResult(t, mt, "req-1")
	if !res.Success {
		t.Fatalf("set_power failed: %+v", res.Error)
	}

	lt.connOf(testMAC).push(notifBytes(yeelight.OpNotifyState, []byte{0x01, 0x01, 0xFF, 0, 0, 100, 0x0F, 0xA0}))

	select {
	case data := <-mt.broadcastCh:
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Type != protocol.MessageTypeStateChanged {
			t.Fatalf("message type = %v", msg.Type)
		}
		var payload protocol.StateChangedPayload
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Mac != testMAC || payload.State.Brightness != 100 {
			t.Errorf("payload = %+v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no state_changed broadcast")
	}
}

func TestServerScan(t *testing.T) {
	lt := newLampTransport()
	mux := handler.NewMultiplexer(lt, time.Second, time.Minute)
	defer mux.Close()

	scanner := scannerFunc(func(ctx context.Context, timeout time.Duration, found func(transport.ScanResult)) error {
		found(transport.ScanResult{Address: testMAC, Name: "Bedside Lamp", RSSI: -60})
		return nil
	})
	ws := NewWebSocketServer(context.Background(), "127.0.0.1:0", mux, scanner)
	defer ws.cancel()
	mt := newMemTransport()
	ws.SetTransport(mt)

	sendRequest(t, mt, protocol.MessageTypeScan, protocol.ScanPayload{Seconds: 1}, "req-1")
	res := awaitResult(t, mt, "req-1")
	if !res.Success {
		t.Fatalf("scan failed: %+v", res.Error)
	}
	var data protocol.ScanData
	if err := json.Unmarshal(res.Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Devices) != 1 || data.Devices[0].Mac != testMAC || data.Devices[0].RSSI != -60 {
		t.Errorf("devices = %+v", data.Devices)
	}
}

type scannerFunc func(ctx context.Context, timeout time.Duration, found func(transport.ScanResult)) error

func (f scannerFunc) Scan(ctx context.Context, timeout time.Duration, found func(transport.ScanResult)) error {
	return f(ctx, timeout, found)
}
