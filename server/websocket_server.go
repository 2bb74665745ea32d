package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"yeelightble/protocol"
	"yeelightble/yeelight"
	"yeelightble/yeelight/handler"
	"yeelightble/yeelight/transport"
)

// StartOptions carries the WebSocketServer startup options.
type StartOptions struct {
	// TLS certificate and key paths; plain HTTP when empty.
	CertFile string
	KeyFile  string
	// Ready is closed once the listener is bound.
	Ready chan struct{}
}

// Scanner discovers nearby lamps. The BLE transport implements it; tests
// substitute a fake.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration, found func(transport.ScanResult)) error
}

// DefaultScanDuration is used when a scan request names no duration.
const DefaultScanDuration = 5 * time.Second

// WebSocketServer is the network daemon. It maps protocol messages to lamp
// operations through the connection pool and broadcasts unsolicited state
// changes to every client.
type WebSocketServer struct {
	ctx       context.Context
	cancel    context.CancelFunc
	transport WebSocketTransport
	mux       *handler.Multiplexer
	scanner   Scanner
}

// NewWebSocketServer creates a daemon listening on addr. scanner may be nil
// when the platform cannot scan; scan requests then fail cleanly.
func NewWebSocketServer(ctx context.Context, addr string, mux *handler.Multiplexer, scanner Scanner) *WebSocketServer {
	serverCtx, cancel := context.WithCancel(ctx)

	ws := &WebSocketServer{
		ctx:     serverCtx,
		cancel:  cancel,
		mux:     mux,
		scanner: scanner,
	}
	ws.SetTransport(NewDefaultWebSocketTransport(serverCtx, addr))

	go ws.listenForPushes()

	return ws
}

// SetTransport swaps the network layer. Called before Start; tests use it
// to plug in an in-memory transport.
func (ws *WebSocketServer) SetTransport(t WebSocketTransport) {
	ws.transport = t
	t.SetConnectHandler(ws.handleClientConnect)
	t.SetMessageHandler(ws.handleClientMessage)
	t.SetDisconnectHandler(ws.handleClientDisconnect)
}

// Start starts the WebSocket server
func (ws *WebSocketServer) Start(options StartOptions) error {
	return ws.transport.Start(options)
}

// Stop stops the WebSocket server
func (ws *WebSocketServer) Stop() error {
	ws.cancel()
	return ws.transport.Stop()
}

// handleClientConnect is called when a new client connects
func (ws *WebSocketServer) handleClientConnect(connID string) error {
	slog.Debug("WebSocket client connected", "connID", connID)
	return nil
}

// handleClientDisconnect is called when a client disconnects
func (ws *WebSocketServer) handleClientDisconnect(connID string) {
	slog.Debug("WebSocket client disconnected", "connID", connID)
}

// handleClientMessage is called when a message is received from a client.
// Lamp commands can block on BLE traffic for seconds, so each one runs on
// its own goroutine and the read loop stays responsive.
func (ws *WebSocketServer) handleClientMessage(connID string, message []byte) error {
	msg, err := protocol.ParseMessage(message)
	if err != nil {
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Error parsing message: %v", err),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, "")
	}

	handlerFn, known := ws.handlerFor(msg.Type)
	if !known {
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Type),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, msg.RequestID)
	}

	go func() {
		if err := handlerFn(connID, msg); err != nil {
			slog.Error("Error handling message", "type", msg.Type, "err", err)
		}
	}()
	return nil
}

func (ws *WebSocketServer) handlerFor(msgType protocol.MessageType) (func(string, *protocol.Message) error, bool) {
	switch msgType {
	case protocol.MessageTypeGetState:
		return ws.handleGetStateFromClient, true
	case protocol.MessageTypeSetPower:
		return ws.handleSetPowerFromClient, true
	case protocol.MessageTypeSetBrightness:
		return ws.handleSetBrightnessFromClient, true
	case protocol.MessageTypeSetColor:
		return ws.handleSetColorFromClient, true
	case protocol.MessageTypeSetTemperature:
		return ws.handleSetTemperatureFromClient, true
	case protocol.MessageTypeGetName:
		return ws.handleGetNameFromClient, true
	case protocol.MessageTypeSetName:
		return ws.handleSetNameFromClient, true
	case protocol.MessageTypeGetInfo:
		return ws.handleGetInfoFromClient, true
	case protocol.MessageTypeGetTime:
		return ws.handleGetTimeFromClient, true
	case protocol.MessageTypeSetTime:
		return ws.handleSetTimeFromClient, true
	case protocol.MessageTypeGetScene:
		return ws.handleGetSceneFromClient, true
	case protocol.MessageTypeSetScene:
		return ws.handleSetSceneFromClient, true
	case protocol.MessageTypeGetAlarm:
		return ws.handleGetAlarmFromClient, true
	case protocol.MessageTypeGetNightMode:
		return ws.handleGetNightModeFromClient, true
	case protocol.MessageTypeGetSleep:
		return ws.handleGetSleepFromClient, true
	case protocol.MessageTypeGetFlow:
		return ws.handleGetFlowFromClient, true
	case protocol.MessageTypeScan:
		return ws.handleScanFromClient, true
	default:
		return nil, false
	}
}

// sendMessageToClient sends a message to a client
func (ws *WebSocketServer) sendMessageToClient(connID string, msgType protocol.MessageType, payload interface{}, requestID string) error {
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}
	return ws.transport.SendMessage(connID, data)
}

// broadcastMessageToClients sends a message to all connected clients
func (ws *WebSocketServer) broadcastMessageToClients(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.CreateMessage(msgType, payload, "")
	if err != nil {
		slog.Error("Error creating broadcast message", "err", err)
		return err
	}
	return ws.transport.BroadcastMessage(data)
}

// listenForPushes relays unsolicited lamp notifications to the clients.
// Only state changes are broadcast; the rest of the push traffic is noise
// for a remote UI.
func (ws *WebSocketServer) listenForPushes() {
	for {
		select {
		case <-ws.ctx.Done():
			return
		case push := <-ws.mux.PushCh:
			st, ok := push.Notification.(yeelight.StateNotification)
			if !ok {
				continue
			}
			slog.Debug("broadcasting state change", "address", push.Address)
			payload := protocol.StateChangedPayload{
				Mac:   push.Address,
				State: protocol.StateToProtocol(st.State),
			}
			_ = ws.broadcastMessageToClients(protocol.MessageTypeStateChanged, payload)
		}
	}
}
