package protocol

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of message being sent between client and server
type MessageType string

const (
	// Server -> Client message types
	MessageTypeCommandResult     MessageType = "command_result"
	MessageTypeStateChanged      MessageType = "state_changed"
	MessageTypeErrorNotification MessageType = "error_notification"

	// Client -> Server message types
	MessageTypeGetState       MessageType = "get_state"
	MessageTypeSetPower       MessageType = "set_power"
	MessageTypeSetBrightness  MessageType = "set_brightness"
	MessageTypeSetColor       MessageType = "set_color"
	MessageTypeSetTemperature MessageType = "set_temperature"
	MessageTypeGetName        MessageType = "get_name"
	MessageTypeSetName        MessageType = "set_name"
	MessageTypeGetInfo        MessageType = "get_info"
	MessageTypeGetTime        MessageType = "get_time"
	MessageTypeSetTime        MessageType = "set_time"
	MessageTypeGetScene       MessageType = "get_scene"
	MessageTypeSetScene       MessageType = "set_scene"
	MessageTypeGetAlarm       MessageType = "get_alarm"
	MessageTypeGetNightMode   MessageType = "get_night_mode"
	MessageTypeGetSleep       MessageType = "get_sleep"
	MessageTypeGetFlow        MessageType = "get_flow"
	MessageTypeScan           MessageType = "scan"
)

// ErrorCode defines error codes for error messages
type ErrorCode string

// Client Request Related
const (
	ErrorCodeInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrorCodeInvalidParameters    ErrorCode = "INVALID_PARAMETERS"
	ErrorCodeValidationError      ErrorCode = "VALIDATION_ERROR"
)

// Lamp/Communication Related
const (
	ErrorCodeTimeout             ErrorCode = "TIMEOUT"
	ErrorCodeTransportError      ErrorCode = "TRANSPORT_ERROR"
	ErrorCodeConnectionLost      ErrorCode = "CONNECTION_LOST"
	ErrorCodeInternalServerError ErrorCode = "INTERNAL_SERVER_ERROR"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Error represents an error in the WebSocket protocol
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// LampState is the lamp state as carried over the protocol. Color is a
// "#RRGGBB" string; Mode is the lamp mode name ("color", "temperature",
// "flow", "night").
type LampState struct {
	Power       bool   `json:"power"`
	Mode        string `json:"mode"`
	Color       string `json:"color"`
	Brightness  uint8  `json:"brightness"`
	Temperature uint16 `json:"temperature"`
}

// CommandResultPayload is the payload for the command_result message
type CommandResultPayload struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// StateChangedPayload is the payload for the state_changed message. The
// server broadcasts one whenever a lamp pushes a state notification.
type StateChangedPayload struct {
	Mac   string    `json:"mac"`
	State LampState `json:"state"`
}

// ErrorNotificationPayload is the payload for the error_notification message
type ErrorNotificationPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// TargetPayload addresses one lamp and carries nothing else. It serves the
// get_state, get_name, get_info, get_time, get_night_mode and get_sleep
// messages.
type TargetPayload struct {
	Mac string `json:"mac"`
}

// SetPowerPayload is the payload for the set_power message
type SetPowerPayload struct {
	Mac string `json:"mac"`
	On  bool   `json:"on"`
}

// SetBrightnessPayload is the payload for the set_brightness message
type SetBrightnessPayload struct {
	Mac   string `json:"mac"`
	Level uint8  `json:"level"`
}

// SetColorPayload is the payload for the set_color message
type SetColorPayload struct {
	Mac        string `json:"mac"`
	Red        uint8  `json:"red"`
	Green      uint8  `json:"green"`
	Blue       uint8  `json:"blue"`
	Brightness uint8  `json:"brightness"`
}

// SetTemperaturePayload is the payload for the set_temperature message
type SetTemperaturePayload struct {
	Mac        string `json:"mac"`
	Kelvin     uint16 `json:"kelvin"`
	Brightness uint8  `json:"brightness"`
}

// SetNamePayload is the payload for the set_name message
type SetNamePayload struct {
	Mac  string `json:"mac"`
	Name string `json:"name"`
}

// SetTimePayload is the payload for the set_time message. A zero Time means
// "use the server's current time".
type SetTimePayload struct {
	Mac  string    `json:"mac"`
	Time time.Time `json:"time,omitempty"`
}

// SlotPayload addresses one slot of a lamp. It serves the get_scene,
// get_alarm and get_flow messages.
type SlotPayload struct {
	Mac  string `json:"mac"`
	Slot uint8  `json:"slot"`
}

// SetScenePayload is the payload for the set_scene message
type SetScenePayload struct {
	Mac  string `json:"mac"`
	Slot uint8  `json:"slot"`
	Name string `json:"name"`
}

// ScanPayload is the payload for the scan message
type ScanPayload struct {
	Seconds int `json:"seconds,omitempty"` // scan duration; server default if 0
}

// Result data carried in CommandResultPayload.Data, keyed by request type.

// StateData is the command_result data for get_state
type StateData struct {
	State LampState `json:"state"`
}

// NameData is the command_result data for get_name
type NameData struct {
	Name string `json:"name"`
}

// InfoData is the command_result data for get_info
type InfoData struct {
	HWVersion string `json:"hwVersion"`
	SWVersion string `json:"swVersion"`
	Beta      bool   `json:"beta,omitempty"`
	Serial    string `json:"serial"`
}

// TimeData is the command_result data for get_time
type TimeData struct {
	Time time.Time `json:"time"`
}

// SceneData is the command_result data for get_scene
type SceneData struct {
	Slot uint8  `json:"slot"`
	Name string `json:"name"`
}

// AlarmData is the command_result data for get_alarm
type AlarmData struct {
	Slot    uint8 `json:"slot"`
	Enabled bool  `json:"enabled"`
	Hour    uint8 `json:"hour"`
	Minute  uint8 `json:"minute"`
	Repeat  uint8 `json:"repeat"` // weekday bitmask, bit 0 = Monday
}

// NightModeData is the command_result data for get_night_mode
type NightModeData struct {
	Enabled    bool   `json:"enabled"`
	Brightness uint8  `json:"brightness"`
	Start      uint16 `json:"start"` // minutes since midnight
	End        uint16 `json:"end"`
}

// SleepData is the command_result data for get_sleep
type SleepData struct {
	Minutes uint16 `json:"minutes"` // 0 means the sleep timer is off
}

// FlowData is the command_result data for get_flow
type FlowData struct {
	Slot    uint8 `json:"slot"`
	Running bool  `json:"running"`
	Frames  uint8 `json:"frames"`
}

// ScanDevice is one lamp found during a scan
type ScanDevice struct {
	Mac  string `json:"mac"`
	Name string `json:"name,omitempty"`
	RSSI int16  `json:"rssi"`
}

// ScanData is the command_result data for scan
type ScanData struct {
	Devices []ScanDevice `json:"devices"`
}

// CreateMessage creates a new Message with the given type and payload
func CreateMessage(msgType MessageType, payload interface{}, requestID string) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg := Message{
		Type:      msgType,
		Payload:   payloadBytes,
		RequestID: requestID,
	}

	return json.Marshal(msg)
}

// ParseMessage parses a JSON message into a Message struct
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParsePayload parses the payload of a message into the given struct
func ParsePayload(msg *Message, payload interface{}) error {
	return json.Unmarshal(msg.Payload, payload)
}
