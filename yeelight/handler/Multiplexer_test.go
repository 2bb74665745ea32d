package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"yeelightble/yeelight"
	"yeelightble/yeelight/transport"
)

// pairingConn answers the pairing handshake by itself so handlers come up
// without a scripted test goroutine.
type pairingConn struct {
	fakeConn
	status yeelight.PairStatus
}

func newPairingConn(status yeelight.PairStatus) *pairingConn {
	c := &pairingConn{status: status}
	c.writes = make(chan []byte, 16)
	return c
}

func (c *pairingConn) Write(data []byte) error {
	if err := c.fakeConn.Write(data); err != nil {
		return err
	}
	if p, err := yeelight.DecodePacket(data); err == nil && p.Op == yeelight.OpPair {
		go c.deliver(notifBytes(yeelight.OpNotifyPair, []byte{byte(c.status)}))
	}
	return nil
}

type fakeTransport struct {
	mu         sync.Mutex
	conns      map[string]*pairingConn
	connects   int
	connectErr error
	pairStatus yeelight.PairStatus
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(map[string]*pairingConn), pairStatus: yeelight.PairPaired}
}

func (t *fakeTransport) Connect(ctx context.Context, address string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return nil, &transport.ConnectError{Address: address, Err: t.connectErr}
	}
	t.connects++
	c := newPairingConn(t.pairStatus)
	t.conns[address] = c
	return c, nil
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *fakeTransport) connOf(address string) *pairingConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[address]
}

const testMAC = "F8:24:41:C5:0F:9A"

func TestMultiplexerReusesConnection(t *testing.T) {
	ft := newFakeTransport()
	m := NewMultiplexer(ft, time.Second, time.Minute)
	defer m.Close()

	ctx := context.Background()
	h1, err := m.Acquire(ctx, testMAC)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// A differently formatted MAC still lands on the same connection.
	h2, err := m.Acquire(ctx, "f8:24:41:c5:0f:9a")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if h1 != h2 {
		t.Error("expected the same handler for both acquires")
	}
	if got := ft.connectCount(); got != 1 {
		t.Errorf("connect count = %d, want 1", got)
	}
	m.Release(testMAC)
	m.Release(testMAC)
}

func TestMultiplexerReconnectsAfterLoss(t *testing.T) {
	ft := newFakeTransport()
	m := NewMultiplexer(ft, time.Second, time.Minute)
	defer m.Close()

	ctx := context.Background()
	h1, err := m.Acquire(ctx, testMAC)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ft.connOf(testMAC).drop(errors.New("link supervision timeout"))
	m.Release(testMAC)

	// A dead engine is never reused: the next Acquire dials fresh.
	h2, err := m.Acquire(ctx, testMAC)
	if err != nil {
		t.Fatalf("Acquire after loss: %v", err)
	}
	if h1 == h2 {
		t.Error("dead handler was reused")
	}
	if got := ft.connectCount(); got != 2 {
		t.Errorf("connect count = %d, want 2", got)
	}
	m.Release(testMAC)
}

func TestMultiplexerIdleDisconnect(t *testing.T) {
	ft := newFakeTransport()
	m := NewMultiplexer(ft, time.Second, 20*time.Millisecond)
	defer m.Close()

	ctx := context.Background()
	if _, err := m.Acquire(ctx, testMAC); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	conn := ft.connOf(testMAC)
	m.Release(testMAC)

	deadline := time.After(time.Second)
	for {
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if closed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("idle disconnect never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The pool reconnects on the next Acquire.
	if _, err := m.Acquire(ctx, testMAC); err != nil {
		t.Fatalf("Acquire after idle close: %v", err)
	}
	if got := ft.connectCount(); got != 2 {
		t.Errorf("connect count = %d, want 2", got)
	}
	m.Release(testMAC)
}

func TestMultiplexerIdleCanceledByAcquire(t *testing.T) {
	ft := newFakeTransport()
	m := NewMultiplexer(ft, time.Second, 50*time.Millisecond)
	defer m.Close()

	ctx := context.Background()
	if _, err := m.Acquire(ctx, testMAC); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.Release(testMAC)

	// Re-acquiring inside the grace period keeps the connection up.
	if _, err := m.Acquire(ctx, testMAC); err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	conn := ft.connOf(testMAC)
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if closed {
		t.Error("connection closed despite live reference")
	}
	if got := ft.connectCount(); got != 1 {
		t.Errorf("connect count = %d, want 1", got)
	}
	m.Release(testMAC)
}

func TestMultiplexerConnectFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("device unreachable")
	m := NewMultiplexer(ft, time.Second, time.Minute)
	defer m.Close()

	_, err := m.Acquire(context.Background(), testMAC)
	var cerr *transport.ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("Acquire = %v, want ConnectError", err)
	}

	// The failed entry is gone; a later attempt dials again.
	ft.mu.Lock()
	ft.connectErr = nil
	ft.mu.Unlock()
	if _, err := m.Acquire(context.Background(), testMAC); err != nil {
		t.Fatalf("Acquire after failure: %v", err)
	}
	m.Release(testMAC)
}

func TestMultiplexerPairingRefused(t *testing.T) {
	ft := newFakeTransport()
	ft.pairStatus = yeelight.PairNotPaired
	m := NewMultiplexer(ft, time.Second, time.Minute)
	defer m.Close()

	if _, err := m.Acquire(context.Background(), testMAC); err == nil {
		t.Fatal("Acquire succeeded despite refused pairing")
	}
}

func TestMultiplexerRelaysPushes(t *testing.T) {
	ft := newFakeTransport()
	m := NewMultiplexer(ft, time.Second, time.Minute)
	defer m.Close()

	if _, err := m.Acquire(context.Background(), testMAC); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(testMAC)

	ft.connOf(testMAC).deliver(stateBytes(33))

	select {
	case push := <-m.PushCh:
		if push.Address != testMAC {
			t.Errorf("push address = %q, want %q", push.Address, testMAC)
		}
		st, ok := push.Notification.(yeelight.StateNotification)
		if !ok || st.State.Brightness != 33 {
			t.Errorf("push notification = %#v", push.Notification)
		}
	case <-time.After(time.Second):
		t.Fatal("no push relayed")
	}
}

func TestMultiplexerClose(t *testing.T) {
	ft := newFakeTransport()
	m := NewMultiplexer(ft, time.Second, time.Minute)

	if _, err := m.Acquire(context.Background(), testMAC); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Acquire(context.Background(), testMAC); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Acquire after Close = %v, want ErrConnectionLost", err)
	}
}
