package yeelight

import (
	"fmt"
	"time"
)

// Yeelight Candela / Bedside Lamp BLE protocol.
//
// The lamp exposes one GATT service with a writable control characteristic
// and a notify characteristic. Both directions carry fixed 18-byte packets:
//
//	[0]     STX (0x43 command, 0x54 notification)
//	[1]     opcode
//	[2:17]  payload, zero padded
//	[17]    XOR checksum over bytes 0..16

const (
	// ServiceUUID is the lamp's vendor GATT service.
	ServiceUUID = "8e2f0cbd-1a66-4b53-ace6-b494e25f87bd"
	// ControlCharUUID is the writable command characteristic.
	ControlCharUUID = "aa7d3f34-2d4f-41e0-807f-52fbf8cf7443"
	// NotifyCharUUID is the notification characteristic.
	NotifyCharUUID = "8f65073d-9f57-4aaa-afea-397d19d5bbeb"
)

const (
	PacketSize  = 18
	PayloadSize = PacketSize - 3 // STX + opcode + checksum

	CommandSTX      = 0x43
	NotificationSTX = 0x54
)

type Opcode byte

const (
	OpSetPower        Opcode = 0x40
	OpSetColor        Opcode = 0x41
	OpSetBrightness   Opcode = 0x42
	OpSetTemperature  Opcode = 0x43
	OpGetState        Opcode = 0x44
	OpNotifyState     Opcode = 0x45
	OpSetName         Opcode = 0x51
	OpGetName         Opcode = 0x52
	OpNotifyName      Opcode = 0x53
	OpGetVersion      Opcode = 0x5C
	OpNotifyVersion   Opcode = 0x5D
	OpGetSerial       Opcode = 0x5E
	OpNotifySerial    Opcode = 0x5F
	OpSetTime         Opcode = 0x61
	OpGetTime         Opcode = 0x62
	OpNotifyTime      Opcode = 0x63
	OpSetScene        Opcode = 0x64
	OpGetScene        Opcode = 0x65
	OpNotifyScene     Opcode = 0x66
	OpPair            Opcode = 0x67
	OpNotifyPair      Opcode = 0x68
	OpGetAlarm        Opcode = 0x6A
	OpNotifyAlarm     Opcode = 0x6B
	OpGetNightMode    Opcode = 0x6C
	OpNotifyNightMode Opcode = 0x6D
	OpGetSleep        Opcode = 0x6E
	OpNotifySleep     Opcode = 0x6F
	OpGetFlow         Opcode = 0x70
	OpNotifyFlow      Opcode = 0x71
)

var opcodeNames = map[Opcode]string{
	OpSetPower:        "SetPower",
	OpSetColor:        "SetColor",
	OpSetBrightness:   "SetBrightness",
	OpSetTemperature:  "SetTemperature",
	OpGetState:        "GetState",
	OpNotifyState:     "NotifyState",
	OpSetName:         "SetName",
	OpGetName:         "GetName",
	OpNotifyName:      "NotifyName",
	OpGetVersion:      "GetVersion",
	OpNotifyVersion:   "NotifyVersion",
	OpGetSerial:       "GetSerial",
	OpNotifySerial:    "NotifySerial",
	OpSetTime:         "SetTime",
	OpGetTime:         "GetTime",
	OpNotifyTime:      "NotifyTime",
	OpSetScene:        "SetScene",
	OpGetScene:        "GetScene",
	OpNotifyScene:     "NotifyScene",
	OpPair:            "Pair",
	OpNotifyPair:      "NotifyPair",
	OpGetAlarm:        "GetAlarm",
	OpNotifyAlarm:     "NotifyAlarm",
	OpGetNightMode:    "GetNightMode",
	OpNotifyNightMode: "NotifyNightMode",
	OpGetSleep:        "GetSleep",
	OpNotifySleep:     "NotifySleep",
	OpGetFlow:         "GetFlow",
	OpNotifyFlow:      "NotifyFlow",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%02X)", byte(o))
}

// Packet is the fixed-size wire unit in either direction.
type Packet struct {
	STX     byte
	Op      Opcode
	Payload []byte // always PayloadSize bytes
}

// MalformedError describes a received buffer that could not be decoded.
// It carries the raw bytes so callers can log and continue; a corrupted
// notification never fails the connection.
type MalformedError struct {
	Data   []byte
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed packet (% X): %s", e.Data, e.Reason)
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// NewCommandPacket builds a command packet for the given opcode. The payload
// may be shorter than PayloadSize; the remainder is zero padding.
func NewCommandPacket(op Opcode, payload []byte) *Packet {
	p := &Packet{
		STX:     CommandSTX,
		Op:      op,
		Payload: make([]byte, PayloadSize),
	}
	copy(p.Payload, payload)
	return p
}

// Encode serializes the packet, computing the trailing checksum.
func (p *Packet) Encode() []byte {
	buf := make([]byte, PacketSize)
	buf[0] = p.STX
	buf[1] = byte(p.Op)
	copy(buf[2:PacketSize-1], p.Payload)
	buf[PacketSize-1] = checksum(buf[:PacketSize-1])
	return buf
}

// DecodePacket validates framing and checksum before any field decoding.
// A checksum mismatch always yields MalformedError, never a partial decode.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) != PacketSize {
		return nil, &MalformedError{Data: data, Reason: fmt.Sprintf("length %d, want %d", len(data), PacketSize)}
	}
	if data[0] != CommandSTX && data[0] != NotificationSTX {
		return nil, &MalformedError{Data: data, Reason: fmt.Sprintf("bad STX %02X", data[0])}
	}
	if got, want := data[PacketSize-1], checksum(data[:PacketSize-1]); got != want {
		return nil, &MalformedError{Data: data, Reason: fmt.Sprintf("checksum %02X, want %02X", got, want)}
	}
	p := &Packet{
		STX:     data[0],
		Op:      Opcode(data[1]),
		Payload: make([]byte, PayloadSize),
	}
	copy(p.Payload, data[2:PacketSize-1])
	return p, nil
}

func (p *Packet) String() string {
	return fmt.Sprintf("%v(% X)", p.Op, p.Payload)
}

// The lamp counts time in seconds from its own epoch.
var deviceEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// EncodeTime converts t to the lamp's 32-bit timestamp.
func EncodeTime(t time.Time) (uint32, error) {
	secs := t.Unix() - deviceEpoch.Unix()
	if secs < 0 {
		return 0, fmt.Errorf("time %v before device epoch %v", t, deviceEpoch)
	}
	return uint32(secs), nil
}

// DecodeTime converts the lamp's 32-bit timestamp into a UTC time.
func DecodeTime(v uint32) time.Time {
	return deviceEpoch.Add(time.Duration(v) * time.Second)
}
