package handler

import (
	"context"
	"testing"
	"time"

	"yeelightble/yeelight"
	"yeelightble/yeelight/transport"
)

// scriptedConn extends the self-pairing connection with canned replies per
// command opcode.
type scriptedConn struct {
	pairingConn
	replies map[yeelight.Opcode][][]byte
}

func newScriptedConn() *scriptedConn {
	c := &scriptedConn{replies: make(map[yeelight.Opcode][][]byte)}
	c.status = yeelight.PairPaired
	c.writes = make(chan []byte, 16)
	return c
}

func (c *scriptedConn) reply(op yeelight.Opcode, packets ...[]byte) {
	c.replies[op] = packets
}

func (c *scriptedConn) Write(data []byte) error {
	if err := c.pairingConn.Write(data); err != nil {
		return err
	}
	p, err := yeelight.DecodePacket(data)
	if err != nil {
		return nil
	}
	if packets, ok := c.replies[p.Op]; ok {
		go func() {
			for _, pkt := range packets {
				c.deliver(pkt)
			}
		}()
	}
	return nil
}

type scriptedTransport struct{ conn *scriptedConn }

func (t *scriptedTransport) Connect(ctx context.Context, address string) (transport.Conn, error) {
	return t.conn, nil
}

func newTestHandler(t *testing.T) (*LampHandler, *scriptedConn) {
	t.Helper()
	conn := newScriptedConn()
	h := NewLampHandler(&scriptedTransport{conn: conn}, testMAC, time.Second)
	if err := h.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return h, conn
}

func TestLampHandlerGetState(t *testing.T) {
	h, conn := newTestHandler(t)
	defer h.Close()

	conn.reply(yeelight.OpGetState, stateBytes(85))

	st, err := h.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Brightness != 85 {
		t.Errorf("Brightness = %d, want 85", st.Brightness)
	}

	cached, ok := h.CachedState()
	if !ok || cached.Brightness != 85 {
		t.Errorf("CachedState() = %v, %v", cached, ok)
	}
}

func TestLampHandlerGetName(t *testing.T) {
	h, conn := newTestHandler(t)
	defer h.Close()

	conn.reply(yeelight.OpGetName,
		notifBytes(yeelight.OpNotifyName, append([]byte{0, 2}, "night"...)),
		notifBytes(yeelight.OpNotifyName, append([]byte{1, 2}, "stand"...)))

	name, err := h.GetName(context.Background())
	if err != nil {
		t.Fatalf("GetName: %v", err)
	}
	if name != "nightstand" {
		t.Errorf("name = %q", name)
	}
}

func TestLampHandlerGetInfo(t *testing.T) {
	h, conn := newTestHandler(t)
	defer h.Close()

	conn.reply(yeelight.OpGetVersion, notifBytes(yeelight.OpNotifyVersion, []byte{1, 2, 2, 0, 0}))
	conn.reply(yeelight.OpGetSerial, notifBytes(yeelight.OpNotifySerial, append([]byte{0, 1}, "ABC001"...)))

	info, err := h.GetInfo(context.Background())
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Version.HWMajor != 1 || info.Version.SWMajor != 2 {
		t.Errorf("version = %v", info.Version)
	}
	if info.Serial != "ABC001" {
		t.Errorf("serial = %q", info.Serial)
	}
}

func TestLampHandlerGetScene(t *testing.T) {
	h, conn := newTestHandler(t)
	defer h.Close()

	conn.reply(yeelight.OpGetScene,
		notifBytes(yeelight.OpNotifyScene, append([]byte{3, 0, 1}, "reading"...)))

	scene, err := h.GetScene(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetScene: %v", err)
	}
	if scene.Slot != 3 || scene.Name != "reading" {
		t.Errorf("scene = %+v", scene)
	}
}

func TestLampHandlerNotConnected(t *testing.T) {
	h := NewLampHandler(&scriptedTransport{conn: newScriptedConn()}, testMAC, time.Second)
	if _, err := h.GetState(context.Background()); err == nil {
		t.Fatal("GetState before Connect: want error")
	}
}
