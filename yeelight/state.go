package yeelight

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Mode is the lamp's current operating mode as reported in state
// notifications.
type Mode byte

const (
	ModeColor       Mode = 0x01
	ModeTemperature Mode = 0x02
	ModeFlow        Mode = 0x03
	ModeNight       Mode = 0x04
)

func (m Mode) String() string {
	switch m {
	case ModeColor:
		return "color"
	case ModeTemperature:
		return "temperature"
	case ModeFlow:
		return "flow"
	case ModeNight:
		return "night"
	default:
		return fmt.Sprintf("mode(%02X)", byte(m))
	}
}

// RGB is a color triple as carried on the wire.
type RGB struct {
	R, G, B uint8
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// State is the decoded contents of a state notification.
type State struct {
	Power       bool
	Mode        Mode
	Color       RGB
	Brightness  uint8
	Temperature uint16
}

func (s State) String() string {
	power := "off"
	if s.Power {
		power = "on"
	}
	return fmt.Sprintf("power: %s, mode: %v, color: %v, brightness: %d, temperature: %dK",
		power, s.Mode, s.Color, s.Brightness, s.Temperature)
}

// PairStatus is the lamp's answer to a pairing request.
type PairStatus byte

const (
	PairPaired      PairStatus = 0x01
	PairNotPaired   PairStatus = 0x02
	PairWaiting     PairStatus = 0x03 // lamp waits for a button press
	PairUnsupported PairStatus = 0x04
)

// Version is firmware and hardware version info.
type Version struct {
	HWMajor, HWMinor uint8
	SWMajor, SWMinor uint8
	Beta             bool
}

func (v Version) String() string {
	s := fmt.Sprintf("hw %d.%d, sw %d.%d", v.HWMajor, v.HWMinor, v.SWMajor, v.SWMinor)
	if v.Beta {
		s += " (beta)"
	}
	return s
}

// Alarm is one alarm slot.
type Alarm struct {
	Slot    uint8
	Enabled bool
	Hour    uint8
	Minute  uint8
	Repeat  uint8 // weekday bitmask, bit 0 = Monday
}

// NightMode holds the configured night mode window.
type NightMode struct {
	Enabled    bool
	Brightness uint8
	Start      uint16 // minutes since midnight
	End        uint16
}

// Flow is one color-flow slot.
type Flow struct {
	Slot    uint8
	Running bool
	Frames  uint8
}

// Chunk is one fragment of a string that spans several notifications.
type Chunk struct {
	Index uint8
	Total uint8
	Data  []byte
}

// Notification is a decoded lamp-to-central packet.
type Notification interface {
	Op() Opcode
}

type StateNotification struct{ State State }

func (StateNotification) Op() Opcode { return OpNotifyState }

type NameNotification struct{ Chunk Chunk }

func (NameNotification) Op() Opcode { return OpNotifyName }

type VersionNotification struct{ Version Version }

func (VersionNotification) Op() Opcode { return OpNotifyVersion }

type SerialNotification struct{ Chunk Chunk }

func (SerialNotification) Op() Opcode { return OpNotifySerial }

type TimeNotification struct{ Time time.Time }

func (TimeNotification) Op() Opcode { return OpNotifyTime }

type SceneNotification struct {
	Slot  uint8
	Chunk Chunk
}

func (SceneNotification) Op() Opcode { return OpNotifyScene }

type PairNotification struct{ Status PairStatus }

func (PairNotification) Op() Opcode { return OpNotifyPair }

type AlarmNotification struct{ Alarm Alarm }

func (AlarmNotification) Op() Opcode { return OpNotifyAlarm }

type NightModeNotification struct{ NightMode NightMode }

func (NightModeNotification) Op() Opcode { return OpNotifyNightMode }

type SleepNotification struct{ Minutes uint16 }

func (SleepNotification) Op() Opcode { return OpNotifySleep }

type FlowNotification struct{ Flow Flow }

func (FlowNotification) Op() Opcode { return OpNotifyFlow }

func decodeChunk(payload []byte) (Chunk, error) {
	index, total := payload[0], payload[1]
	if total == 0 || index >= total {
		return Chunk{}, fmt.Errorf("chunk index %d/%d out of range", index, total)
	}
	return Chunk{Index: index, Total: total, Data: trimPadding(payload[2:])}, nil
}

// trimPadding strips trailing NUL padding from a string payload.
func trimPadding(data []byte) []byte {
	return bytes.TrimRight(data, "\x00")
}

// ParseNotification decodes the typed fields of a notification packet.
// Framing and checksum have already been validated by DecodePacket; field
// errors still surface as MalformedError so the caller can log and continue.
func ParseNotification(p *Packet) (Notification, error) {
	if p.STX != NotificationSTX {
		return nil, &MalformedError{Data: p.Encode(), Reason: fmt.Sprintf("STX %02X is not a notification", p.STX)}
	}
	malformed := func(reason string) error {
		return &MalformedError{Data: p.Encode(), Reason: reason}
	}
	pl := p.Payload
	switch p.Op {
	case OpNotifyState:
		if pl[0] != 0x01 && pl[0] != 0x02 {
			return nil, malformed(fmt.Sprintf("power byte %02X", pl[0]))
		}
		return StateNotification{State: State{
			Power:       pl[0] == 0x01,
			Mode:        Mode(pl[1]),
			Color:       RGB{R: pl[2], G: pl[3], B: pl[4]},
			Brightness:  pl[5],
			Temperature: binary.BigEndian.Uint16(pl[6:8]),
		}}, nil
	case OpNotifyName:
		chunk, err := decodeChunk(pl)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return NameNotification{Chunk: chunk}, nil
	case OpNotifyVersion:
		return VersionNotification{Version: Version{
			HWMajor: pl[0], HWMinor: pl[1],
			SWMajor: pl[2], SWMinor: pl[3],
			Beta: pl[4] != 0,
		}}, nil
	case OpNotifySerial:
		chunk, err := decodeChunk(pl)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return SerialNotification{Chunk: chunk}, nil
	case OpNotifyTime:
		return TimeNotification{Time: DecodeTime(binary.BigEndian.Uint32(pl[0:4]))}, nil
	case OpNotifyScene:
		chunk, err := decodeChunk(pl[1:])
		if err != nil {
			return nil, malformed(err.Error())
		}
		return SceneNotification{Slot: pl[0], Chunk: chunk}, nil
	case OpNotifyPair:
		return PairNotification{Status: PairStatus(pl[0])}, nil
	case OpNotifyAlarm:
		return AlarmNotification{Alarm: Alarm{
			Slot:    pl[0],
			Enabled: pl[1] != 0,
			Hour:    pl[2],
			Minute:  pl[3],
			Repeat:  pl[4],
		}}, nil
	case OpNotifyNightMode:
		return NightModeNotification{NightMode: NightMode{
			Enabled:    pl[0] != 0,
			Brightness: pl[1],
			Start:      binary.BigEndian.Uint16(pl[2:4]),
			End:        binary.BigEndian.Uint16(pl[4:6]),
		}}, nil
	case OpNotifySleep:
		return SleepNotification{Minutes: binary.BigEndian.Uint16(pl[0:2])}, nil
	case OpNotifyFlow:
		return FlowNotification{Flow: Flow{
			Slot:    pl[0],
			Running: pl[1] != 0,
			Frames:  pl[2],
		}}, nil
	default:
		return nil, malformed(fmt.Sprintf("unknown notification opcode %02X", byte(p.Op)))
	}
}

// Decode parses raw notify-characteristic bytes in one step.
func Decode(data []byte) (Notification, error) {
	p, err := DecodePacket(data)
	if err != nil {
		return nil, err
	}
	return ParseNotification(p)
}

// StringAssembler accumulates the chunks of a multi-packet string (name,
// serial number, scene name) until all fragments have arrived.
type StringAssembler struct {
	total  int
	chunks map[uint8][]byte
}

// Add records one chunk. It returns the assembled string and true once every
// fragment has been seen; chunks may arrive in any order.
func (a *StringAssembler) Add(c Chunk) (string, bool, error) {
	if a.chunks == nil {
		a.total = int(c.Total)
		a.chunks = make(map[uint8][]byte, a.total)
	} else if int(c.Total) != a.total {
		return "", false, fmt.Errorf("chunk count changed from %d to %d", a.total, c.Total)
	}
	a.chunks[c.Index] = c.Data
	if len(a.chunks) < a.total {
		return "", false, nil
	}
	var buf bytes.Buffer
	for i := 0; i < a.total; i++ {
		part, ok := a.chunks[uint8(i)]
		if !ok {
			return "", false, nil
		}
		buf.Write(part)
	}
	return buf.String(), true, nil
}
