package handler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"yeelightble/yeelight"
)

// fakeConn is an in-memory transport.Conn. Written packets land on the
// writes channel; tests inject lamp traffic with deliver and drop.
type fakeConn struct {
	mu       sync.Mutex
	writes   chan []byte
	notify   func(data []byte)
	onDrop   func(err error)
	writeErr error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{writes: make(chan []byte, 16)}
}

func (c *fakeConn) Write(data []byte) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.writes <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Subscribe(fn func(data []byte)) error {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) OnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDrop = fn
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) deliver(data []byte) {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	fn(data)
}

func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	fn := c.onDrop
	c.mu.Unlock()
	fn(err)
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func notifBytes(op yeelight.Opcode, payload []byte) []byte {
	p := &yeelight.Packet{STX: yeelight.NotificationSTX, Op: op, Payload: make([]byte, yeelight.PayloadSize)}
	copy(p.Payload, payload)
	return p.Encode()
}

func stateBytes(brightness uint8) []byte {
	return notifBytes(yeelight.OpNotifyState, []byte{0x01, 0x02, 0, 0, 0, brightness, 0x0F, 0xA0})
}

func newTestSession(t *testing.T, timeout time.Duration) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s, err := NewSession(conn, timeout)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s, conn
}

func TestSessionExecute(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	go func() {
		<-conn.writes
		conn.deliver(stateBytes(60))
	}()

	res, err := s.Execute(context.Background(), yeelight.GetState{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	st, ok := res.Notification.(yeelight.StateNotification)
	if !ok {
		t.Fatalf("Notification = %T", res.Notification)
	}
	want := yeelight.State{Power: true, Mode: yeelight.ModeTemperature, Brightness: 60, Temperature: 4000}
	if diff := cmp.Diff(want, st.State); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}

	// The reply refreshed the cache.
	cached, ok := s.State()
	if !ok || cached.Brightness != 60 {
		t.Errorf("State() = %v, %v", cached, ok)
	}
}

func TestSessionSetCommandNoReply(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	res, err := s.Execute(context.Background(), yeelight.SetPower{On: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Notification != nil {
		t.Errorf("Notification = %v, want nil", res.Notification)
	}

	data := <-conn.writes
	p, err := yeelight.DecodePacket(data)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if p.Op != yeelight.OpSetPower || p.Payload[0] != 0x01 {
		t.Errorf("wrote %v payload % X", p.Op, p.Payload)
	}
}

func TestSessionTimeoutThenIdle(t *testing.T) {
	s, conn := newTestSession(t, 30*time.Millisecond)
	defer s.Close()

	_, err := s.Execute(context.Background(), yeelight.GetState{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute = %v, want ErrTimeout", err)
	}
	<-conn.writes

	// The deadline cleared the correlation slot; the session takes new
	// requests again.
	go func() {
		<-conn.writes
		conn.deliver(stateBytes(10))
	}()
	if _, err := s.Execute(context.Background(), yeelight.GetState{}); err != nil {
		t.Fatalf("Execute after timeout: %v", err)
	}
}

func TestSessionLateReplyAfterTimeout(t *testing.T) {
	s, conn := newTestSession(t, 20*time.Millisecond)
	defer s.Close()

	_, err := s.Execute(context.Background(), yeelight.GetState{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute = %v, want ErrTimeout", err)
	}
	<-conn.writes

	// The answer limping in after the deadline is treated as unsolicited:
	// it refreshes the cache and shows up as a push.
	conn.deliver(stateBytes(42))
	select {
	case notif := <-s.PushCh:
		if notif.Op() != yeelight.OpNotifyState {
			t.Errorf("push op = %v", notif.Op())
		}
	case <-time.After(time.Second):
		t.Fatal("late reply not pushed")
	}
	if st, ok := s.State(); !ok || st.Brightness != 42 {
		t.Errorf("State() = %v, %v", st, ok)
	}
}

func TestSessionChunkedReply(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	go func() {
		<-conn.writes
		// Fragments arrive out of order.
		conn.deliver(notifBytes(yeelight.OpNotifyName, append([]byte{1, 2}, "side"...)))
		conn.deliver(notifBytes(yeelight.OpNotifyName, append([]byte{0, 2}, "bed"...)))
	}()

	res, err := s.Execute(context.Background(), yeelight.GetName{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Text != "bedside" {
		t.Errorf("Text = %q, want %q", res.Text, "bedside")
	}
}

func TestSessionUnsolicitedPush(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	conn.deliver(stateBytes(77))

	select {
	case notif := <-s.PushCh:
		st, ok := notif.(yeelight.StateNotification)
		if !ok || st.State.Brightness != 77 {
			t.Errorf("push = %#v", notif)
		}
	case <-time.After(time.Second):
		t.Fatal("no push delivered")
	}
	if st, ok := s.State(); !ok || st.Brightness != 77 {
		t.Errorf("State() = %v, %v", st, ok)
	}
}

func TestSessionMalformedDiscarded(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	conn.deliver(stateBytes(50))
	<-s.PushCh

	corrupted := stateBytes(90)
	corrupted[len(corrupted)-1] ^= 0xFF
	conn.deliver(corrupted)
	conn.deliver(stateBytes(50)[:5])

	// Neither damaged buffer reached the cache or the push channel.
	if st, ok := s.State(); !ok || st.Brightness != 50 {
		t.Errorf("State() = %v, %v", st, ok)
	}
	select {
	case notif := <-s.PushCh:
		t.Errorf("unexpected push %v", notif)
	default:
	}
}

func TestSessionDistinctOpcodesOutstanding(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	verReq, err := s.Send(yeelight.GetVersion{})
	if err != nil {
		t.Fatalf("Send GetVersion: %v", err)
	}
	serReq, err := s.Send(yeelight.GetSerial{})
	if err != nil {
		t.Fatalf("Send GetSerial: %v", err)
	}
	<-conn.writes
	<-conn.writes

	// Answers arrive in the opposite order of the requests.
	conn.deliver(notifBytes(yeelight.OpNotifySerial, append([]byte{0, 1}, "F8Y123"...)))
	conn.deliver(notifBytes(yeelight.OpNotifyVersion, []byte{1, 0, 2, 1, 0}))

	ctx := context.Background()
	verRes, err := s.Wait(ctx, verReq)
	if err != nil {
		t.Fatalf("Wait version: %v", err)
	}
	if _, ok := verRes.Notification.(yeelight.VersionNotification); !ok {
		t.Errorf("version reply = %T", verRes.Notification)
	}
	serRes, err := s.Wait(ctx, serReq)
	if err != nil {
		t.Fatalf("Wait serial: %v", err)
	}
	if serRes.Text != "F8Y123" {
		t.Errorf("serial = %q", serRes.Text)
	}
}

func TestSessionBusyOnDuplicateOpcode(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	if _, err := s.Send(yeelight.GetState{}); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	<-conn.writes

	if _, err := s.Send(yeelight.GetState{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Send = %v, want ErrBusy", err)
	}
}

func TestSessionValidationErrorNotSent(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	_, err := s.Execute(context.Background(), yeelight.SetBrightness{Level: 150})
	var verr *yeelight.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Execute = %v, want ValidationError", err)
	}
	select {
	case data := <-conn.writes:
		t.Errorf("invalid command written: % X", data)
	default:
	}
}

func TestSessionWriteFailure(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	conn.setWriteErr(io.ErrClosedPipe)
	_, err := s.Send(yeelight.GetState{})
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Send = %v, want TransportError", err)
	}

	// The failed send left no correlation slot behind.
	conn.setWriteErr(nil)
	if _, err := s.Send(yeelight.GetState{}); err != nil {
		t.Fatalf("Send after write failure: %v", err)
	}
}

func TestSessionConnectionLost(t *testing.T) {
	s, conn := newTestSession(t, 0)

	var lostOnce sync.WaitGroup
	lostOnce.Add(1)
	s.OnLost(func(err error) { lostOnce.Done() })

	pr, err := s.Send(yeelight.GetState{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-conn.writes

	conn.drop(errors.New("link supervision timeout"))

	if _, err := s.Wait(context.Background(), pr); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Wait = %v, want ErrConnectionLost", err)
	}
	if _, err := s.Send(yeelight.GetState{}); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Send after loss = %v, want ErrConnectionLost", err)
	}
	if _, ok := <-s.PushCh; ok {
		t.Error("push channel still open after loss")
	}
	lostOnce.Wait()
}

func TestSessionWaitContextCancel(t *testing.T) {
	s, conn := newTestSession(t, 0)
	defer s.Close()

	pr, err := s.Send(yeelight.GetState{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-conn.writes

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Wait(ctx, pr); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}
