package server

import (
	"encoding/json"
	"fmt"
	"time"

	"yeelightble/protocol"
	"yeelightble/yeelight/handler"
	"yeelightble/yeelight/transport"
)

// sendSuccessResponse sends a successful command_result, marshaling data
// into its Data field when non-nil.
func (ws *WebSocketServer) sendSuccessResponse(connID, requestID string, data interface{}) error {
	payload := protocol.CommandResultPayload{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("error marshaling result data: %v", err)
		}
		payload.Data = raw
	}
	return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, payload, requestID)
}

// sendErrorResponse sends a failed command_result with the given code.
func (ws *WebSocketServer) sendErrorResponse(connID, requestID string, code protocol.ErrorCode, format string, args ...interface{}) error {
	payload := protocol.CommandResultPayload{
		Success: false,
		Error: &protocol.Error{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
	return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, payload, requestID)
}

// sendHandlerError maps an engine error to its protocol code and sends a
// failed command_result.
func (ws *WebSocketServer) sendHandlerError(connID, requestID string, err error) error {
	protoErr := protocol.ErrorFromHandler(err)
	payload := protocol.CommandResultPayload{
		Success: false,
		Error:   &protoErr,
	}
	return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, payload, requestID)
}

// withLamp acquires the lamp from the pool, runs fn against it, and sends
// the command_result. fn returns the result data, or nil for commands with
// no answer beyond success.
func (ws *WebSocketServer) withLamp(connID, requestID, mac string, fn func(h *handler.LampHandler) (interface{}, error)) error {
	if mac == "" {
		return ws.sendErrorResponse(connID, requestID, protocol.ErrorCodeInvalidParameters, "No mac specified")
	}
	h, err := ws.mux.Acquire(ws.ctx, mac)
	if err != nil {
		return ws.sendHandlerError(connID, requestID, err)
	}
	defer ws.mux.Release(mac)

	data, err := fn(h)
	if err != nil {
		return ws.sendHandlerError(connID, requestID, err)
	}
	return ws.sendSuccessResponse(connID, requestID, data)
}

// handleGetStateFromClient handles a get_state message from a client
func (ws *WebSocketServer) handleGetStateFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.TargetPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_state payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		st, err := h.GetState(ws.ctx)
		if err != nil {
			return nil, err
		}
		return protocol.StateData{State: protocol.StateToProtocol(st)}, nil
	})
}

// handleSetPowerFromClient handles a set_power message from a client
func (ws *WebSocketServer) handleSetPowerFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SetPowerPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing set_power payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		return nil, h.SetPower(ws.ctx, payload.On)
	})
}

// handleSetBrightnessFromClient handles a set_brightness message from a client
func (ws *WebSocketServer) handleSetBrightnessFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SetBrightnessPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing set_brightness payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		return nil, h.SetBrightness(ws.ctx, payload.Level)
	})
}

// handleSetColorFromClient handles a set_color message from a client
func (ws *WebSocketServer) handleSetColorFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SetColorPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing set_color payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		return nil, h.SetColor(ws.ctx, payload.Red, payload.Green, payload.Blue, payload.Brightness)
	})
}

// handleSetTemperatureFromClient handles a set_temperature message from a client
func (ws *WebSocketServer) handleSetTemperatureFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SetTemperaturePayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing set_temperature payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		return nil, h.SetTemperature(ws.ctx, payload.Kelvin, payload.Brightness)
	})
}

// handleGetNameFromClient handles a get_name message from a client
func (ws *WebSocketServer) handleGetNameFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.TargetPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_name payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		name, err := h.GetName(ws.ctx)
		if err != nil {
			return nil, err
		}
		return protocol.NameData{Name: name}, nil
	})
}

// handleSetNameFromClient handles a set_name message from a client
func (ws *WebSocketServer) handleSetNameFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SetNamePayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing set_name payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		return nil, h.SetName(ws.ctx, payload.Name)
	})
}

// handleGetInfoFromClient handles a get_info message from a client
func (ws *WebSocketServer) handleGetInfoFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.TargetPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_info payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		info, err := h.GetInfo(ws.ctx)
		if err != nil {
			return nil, err
		}
		return protocol.InfoToProtocol(info), nil
	})
}

// handleGetTimeFromClient handles a get_time message from a client
func (ws *WebSocketServer) handleGetTimeFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.TargetPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_time payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		t, err := h.GetTime(ws.ctx)
		if err != nil {
			return nil, err
		}
		return protocol.TimeData{Time: t}, nil
	})
}

// handleSetTimeFromClient handles a set_time message from a client. A zero
// time in the payload means "sync to the server clock".
func (ws *WebSocketServer) handleSetTimeFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SetTimePayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing set_time payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		t := payload.Time
		if t.IsZero() {
			t = time.Now()
		}
		return nil, h.SetTime(ws.ctx, t)
	})
}

// handleGetSceneFromClient handles a get_scene message from a client
func (ws *WebSocketServer) handleGetSceneFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SlotPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_scene payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		scene, err := h.GetScene(ws.ctx, payload.Slot)
		if err != nil {
			return nil, err
		}
		return protocol.SceneData{Slot: scene.Slot, Name: scene.Name}, nil
	})
}

// handleSetSceneFromClient handles a set_scene message from a client
func (ws *WebSocketServer) handleSetSceneFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SetScenePayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing set_scene payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		return nil, h.SetScene(ws.ctx, payload.Slot, payload.Name)
	})
}

// handleGetAlarmFromClient handles a get_alarm message from a client
func (ws *WebSocketServer) handleGetAlarmFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SlotPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_alarm payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		alarm, err := h.GetAlarm(ws.ctx, payload.Slot)
		if err != nil {
			return nil, err
		}
		return protocol.AlarmToProtocol(alarm), nil
	})
}

// handleGetNightModeFromClient handles a get_night_mode message from a client
func (ws *WebSocketServer) handleGetNightModeFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.TargetPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_night_mode payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		nm, err := h.GetNightMode(ws.ctx)
		if err != nil {
			return nil, err
		}
		return protocol.NightModeToProtocol(nm), nil
	})
}

// handleGetSleepFromClient handles a get_sleep message from a client
func (ws *WebSocketServer) handleGetSleepFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.TargetPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_sleep payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		minutes, err := h.GetSleep(ws.ctx)
		if err != nil {
			return nil, err
		}
		return protocol.SleepData{Minutes: minutes}, nil
	})
}

// handleGetFlowFromClient handles a get_flow message from a client
func (ws *WebSocketServer) handleGetFlowFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.SlotPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing get_flow payload: %v", err)
	}
	return ws.withLamp(connID, msg.RequestID, payload.Mac, func(h *handler.LampHandler) (interface{}, error) {
		flow, err := h.GetFlow(ws.ctx, payload.Slot)
		if err != nil {
			return nil, err
		}
		return protocol.FlowToProtocol(flow), nil
	})
}

// handleScanFromClient handles a scan message from a client
func (ws *WebSocketServer) handleScanFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.ScanPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInvalidRequestFormat, "Error parsing scan payload: %v", err)
	}
	if ws.scanner == nil {
		return ws.sendErrorResponse(connID, msg.RequestID, protocol.ErrorCodeInternalServerError, "Scanning not available")
	}

	duration := DefaultScanDuration
	if payload.Seconds > 0 {
		duration = time.Duration(payload.Seconds) * time.Second
	}

	devices := make([]protocol.ScanDevice, 0)
	err := ws.scanner.Scan(ws.ctx, duration, func(r transport.ScanResult) {
		devices = append(devices, protocol.ScanResultToProtocol(r))
	})
	if err != nil {
		return ws.sendHandlerError(connID, msg.RequestID, err)
	}
	return ws.sendSuccessResponse(connID, msg.RequestID, protocol.ScanData{Devices: devices})
}
