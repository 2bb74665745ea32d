package yeelight

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		stx     byte
		op      Opcode
		payload []byte
	}{
		{name: "command no payload", stx: CommandSTX, op: OpGetState},
		{name: "command with payload", stx: CommandSTX, op: OpSetBrightness, payload: []byte{50}},
		{name: "notification", stx: NotificationSTX, op: OpNotifyState, payload: []byte{0x01, 0x02, 0xFF, 0x00, 0x00, 60, 0x0F, 0xA0}},
		{name: "full payload", stx: CommandSTX, op: OpSetName, payload: []byte("123456789012345")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Packet{STX: tt.stx, Op: tt.op, Payload: make([]byte, PayloadSize)}
			copy(p.Payload, tt.payload)

			data := p.Encode()
			if len(data) != PacketSize {
				t.Fatalf("Encode length = %d, want %d", len(data), PacketSize)
			}

			got, err := DecodePacket(data)
			if err != nil {
				t.Fatalf("DecodePacket: %v", err)
			}
			if diff := cmp.Diff(p, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodePacketMalformed(t *testing.T) {
	valid := NewCommandPacket(OpGetState, nil).Encode()

	truncated := valid[:PacketSize-1]

	badSTX := append([]byte(nil), valid...)
	badSTX[0] = 0x00
	badSTX[PacketSize-1] = checksum(badSTX[:PacketSize-1])

	badChecksum := append([]byte(nil), valid...)
	badChecksum[PacketSize-1] ^= 0xFF

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated", data: truncated},
		{name: "oversized", data: append(append([]byte(nil), valid...), 0x00)},
		{name: "bad STX", data: badSTX},
		{name: "bad checksum", data: badChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePacket(tt.data)
			var malformed *MalformedError
			if !errors.As(err, &malformed) {
				t.Fatalf("DecodePacket = %v, want MalformedError", err)
			}
		})
	}
}

func TestChecksumSingleBitFlip(t *testing.T) {
	// Every single-bit corruption of a valid packet must fail the checksum.
	valid := NewCommandPacket(OpSetColor, []byte{0x12, 0x34, 0x56, 80}).Encode()
	for i := 0; i < PacketSize-1; i++ {
		for bit := 0; bit < 8; bit++ {
			data := append([]byte(nil), valid...)
			data[i] ^= 1 << bit
			if _, err := DecodePacket(data); err == nil {
				t.Fatalf("flip byte %d bit %d: decoded without error", i, bit)
			}
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if got := OpGetState.String(); got != "GetState" {
		t.Errorf("OpGetState.String() = %q", got)
	}
	if got := Opcode(0xEE).String(); got != "Opcode(EE)" {
		t.Errorf("unknown opcode String() = %q", got)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
	}{
		{name: "epoch", time: time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{name: "arbitrary", time: time.Date(2024, time.June, 15, 12, 30, 45, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := EncodeTime(tt.time)
			if err != nil {
				t.Fatalf("EncodeTime: %v", err)
			}
			if got := DecodeTime(v); !got.Equal(tt.time) {
				t.Errorf("DecodeTime(EncodeTime(%v)) = %v", tt.time, got)
			}
		})
	}
}

func TestEncodeTimeBeforeEpoch(t *testing.T) {
	if _, err := EncodeTime(time.Date(1999, time.December, 31, 23, 59, 59, 0, time.UTC)); err == nil {
		t.Error("EncodeTime before device epoch: want error")
	}
}
