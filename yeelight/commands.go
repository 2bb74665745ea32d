package yeelight

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Field ranges accepted by the lamp. Out-of-range values fail validation;
// they are never clamped.
const (
	MinBrightness = 0
	MaxBrightness = 100
	MinKelvin     = 1700
	MaxKelvin     = 6500

	// A scene name set by command shares one packet with the slot byte.
	MaxSceneNameLen = PayloadSize - 1
)

// ValidationError reports a command field outside its documented range.
// The command is never sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validateBrightness(field string, v uint8) error {
	if v > MaxBrightness {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%d not in [%d, %d]", v, MinBrightness, MaxBrightness)}
	}
	return nil
}

// Command is a request the lamp understands. EncodePacket validates fields
// and produces exactly one wire packet. Response reports the notification
// opcode expected in reply, if any.
type Command interface {
	Op() Opcode
	EncodePacket() (*Packet, error)
	Response() (Opcode, bool)
}

type GetState struct{}

func (GetState) Op() Opcode                       { return OpGetState }
func (GetState) Response() (Opcode, bool)         { return OpNotifyState, true }
func (c GetState) EncodePacket() (*Packet, error) { return NewCommandPacket(c.Op(), nil), nil }

type SetPower struct {
	On bool
}

func (SetPower) Op() Opcode { return OpSetPower }

// Set commands have no dedicated reply; the lamp pushes a state notification.
func (SetPower) Response() (Opcode, bool) { return 0, false }

func (c SetPower) EncodePacket() (*Packet, error) {
	b := byte(0x02)
	if c.On {
		b = 0x01
	}
	return NewCommandPacket(c.Op(), []byte{b}), nil
}

type SetBrightness struct {
	Level uint8 // 0..100
}

func (SetBrightness) Op() Opcode               { return OpSetBrightness }
func (SetBrightness) Response() (Opcode, bool) { return 0, false }

func (c SetBrightness) EncodePacket() (*Packet, error) {
	if err := validateBrightness("brightness", c.Level); err != nil {
		return nil, err
	}
	return NewCommandPacket(c.Op(), []byte{c.Level}), nil
}

type SetColor struct {
	Red, Green, Blue uint8
	Brightness       uint8 // 0..100
}

func (SetColor) Op() Opcode               { return OpSetColor }
func (SetColor) Response() (Opcode, bool) { return 0, false }

func (c SetColor) EncodePacket() (*Packet, error) {
	if err := validateBrightness("brightness", c.Brightness); err != nil {
		return nil, err
	}
	return NewCommandPacket(c.Op(), []byte{c.Red, c.Green, c.Blue, c.Brightness}), nil
}

type SetTemperature struct {
	Kelvin     uint16 // 1700..6500
	Brightness uint8  // 0..100
}

func (SetTemperature) Op() Opcode               { return OpSetTemperature }
func (SetTemperature) Response() (Opcode, bool) { return 0, false }

func (c SetTemperature) EncodePacket() (*Packet, error) {
	if c.Kelvin < MinKelvin || c.Kelvin > MaxKelvin {
		return nil, &ValidationError{Field: "temperature", Reason: fmt.Sprintf("%dK not in [%d, %d]", c.Kelvin, MinKelvin, MaxKelvin)}
	}
	if err := validateBrightness("brightness", c.Brightness); err != nil {
		return nil, err
	}
	payload := make([]byte, 3)
	binary.BigEndian.PutUint16(payload, c.Kelvin)
	payload[2] = c.Brightness
	return NewCommandPacket(c.Op(), payload), nil
}

type GetName struct{}

func (GetName) Op() Opcode                       { return OpGetName }
func (GetName) Response() (Opcode, bool)         { return OpNotifyName, true }
func (c GetName) EncodePacket() (*Packet, error) { return NewCommandPacket(c.Op(), nil), nil }

type SetName struct {
	Name string
}

func (SetName) Op() Opcode               { return OpSetName }
func (SetName) Response() (Opcode, bool) { return 0, false }

func (c SetName) EncodePacket() (*Packet, error) {
	if len(c.Name) == 0 || len(c.Name) > PayloadSize {
		return nil, &ValidationError{Field: "name", Reason: fmt.Sprintf("length %d not in [1, %d]", len(c.Name), PayloadSize)}
	}
	return NewCommandPacket(c.Op(), []byte(c.Name)), nil
}

type GetVersion struct{}

func (GetVersion) Op() Opcode                       { return OpGetVersion }
func (GetVersion) Response() (Opcode, bool)         { return OpNotifyVersion, true }
func (c GetVersion) EncodePacket() (*Packet, error) { return NewCommandPacket(c.Op(), nil), nil }

type GetSerial struct{}

func (GetSerial) Op() Opcode                       { return OpGetSerial }
func (GetSerial) Response() (Opcode, bool)         { return OpNotifySerial, true }
func (c GetSerial) EncodePacket() (*Packet, error) { return NewCommandPacket(c.Op(), nil), nil }

type GetTime struct{}

func (GetTime) Op() Opcode                       { return OpGetTime }
func (GetTime) Response() (Opcode, bool)         { return OpNotifyTime, true }
func (c GetTime) EncodePacket() (*Packet, error) { return NewCommandPacket(c.Op(), nil), nil }

type SetTime struct {
	Time time.Time
}

func (SetTime) Op() Opcode               { return OpSetTime }
func (SetTime) Response() (Opcode, bool) { return 0, false }

func (c SetTime) EncodePacket() (*Packet, error) {
	v, err := EncodeTime(c.Time)
	if err != nil {
		return nil, &ValidationError{Field: "time", Reason: err.Error()}
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, v)
	return NewCommandPacket(c.Op(), payload), nil
}

type GetScene struct {
	Slot uint8
}

func (GetScene) Op() Opcode               { return OpGetScene }
func (GetScene) Response() (Opcode, bool) { return OpNotifyScene, true }

func (c GetScene) EncodePacket() (*Packet, error) {
	return NewCommandPacket(c.Op(), []byte{c.Slot}), nil
}

type SetScene struct {
	Slot uint8
	Name string
}

func (SetScene) Op() Opcode               { return OpSetScene }
func (SetScene) Response() (Opcode, bool) { return 0, false }

func (c SetScene) EncodePacket() (*Packet, error) {
	if len(c.Name) == 0 || len(c.Name) > MaxSceneNameLen {
		return nil, &ValidationError{Field: "scene name", Reason: fmt.Sprintf("length %d not in [1, %d]", len(c.Name), MaxSceneNameLen)}
	}
	payload := append([]byte{c.Slot}, []byte(c.Name)...)
	return NewCommandPacket(c.Op(), payload), nil
}

type GetAlarm struct {
	Slot uint8
}

func (GetAlarm) Op() Opcode               { return OpGetAlarm }
func (GetAlarm) Response() (Opcode, bool) { return OpNotifyAlarm, true }

func (c GetAlarm) EncodePacket() (*Packet, error) {
	return NewCommandPacket(c.Op(), []byte{c.Slot}), nil
}

type GetNightMode struct{}

func (GetNightMode) Op() Opcode                       { return OpGetNightMode }
func (GetNightMode) Response() (Opcode, bool)         { return OpNotifyNightMode, true }
func (c GetNightMode) EncodePacket() (*Packet, error) { return NewCommandPacket(c.Op(), nil), nil }

type GetSleep struct{}

func (GetSleep) Op() Opcode                       { return OpGetSleep }
func (GetSleep) Response() (Opcode, bool)         { return OpNotifySleep, true }
func (c GetSleep) EncodePacket() (*Packet, error) { return NewCommandPacket(c.Op(), nil), nil }

type GetFlow struct {
	Slot uint8
}

func (GetFlow) Op() Opcode               { return OpGetFlow }
func (GetFlow) Response() (Opcode, bool) { return OpNotifyFlow, true }

func (c GetFlow) EncodePacket() (*Packet, error) {
	return NewCommandPacket(c.Op(), []byte{c.Slot}), nil
}

// Pair must be sent once after connecting; the lamp ignores everything else
// until it has acknowledged pairing.
type Pair struct{}

func (Pair) Op() Opcode                       { return OpPair }
func (Pair) Response() (Opcode, bool)         { return OpNotifyPair, true }
func (c Pair) EncodePacket() (*Packet, error) { return NewCommandPacket(c.Op(), nil), nil }

// Marshal encodes a command into its wire bytes.
func Marshal(c Command) ([]byte, error) {
	p, err := c.EncodePacket()
	if err != nil {
		return nil, err
	}
	return p.Encode(), nil
}
