package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"yeelightble/yeelight"
	"yeelightble/yeelight/transport"
)

// DefaultIdleGrace is how long a released lamp stays connected before the
// idle disconnect fires.
const DefaultIdleGrace = 30 * time.Second

// Push is an unsolicited notification tagged with its source lamp, relayed
// to whoever consumes the multiplexer's push channel (the daemon broadcasts
// these to its clients).
type Push struct {
	Address      string
	Notification yeelight.Notification
}

type muxEntry struct {
	mu      sync.Mutex // serializes connect for this address
	handler *LampHandler
	refs    int
	idle    *time.Timer
}

// Multiplexer holds a pool of LampHandlers keyed by MAC address. It
// guarantees at most one live connection per address, connects lazily on
// Acquire, disconnects after an idle grace period, and evicts dead engines
// so the next Acquire reconnects fresh.
type Multiplexer struct {
	transport transport.Transport
	timeout   time.Duration
	idleGrace time.Duration

	mu      sync.Mutex
	entries map[string]*muxEntry
	closed  bool

	// PushCh aggregates unsolicited notifications from every connected lamp.
	PushCh chan Push
}

// NewMultiplexer creates an empty pool. timeout bounds each command cycle;
// idleGrace <= 0 selects the default.
func NewMultiplexer(t transport.Transport, timeout, idleGrace time.Duration) *Multiplexer {
	if idleGrace <= 0 {
		idleGrace = DefaultIdleGrace
	}
	return &Multiplexer{
		transport: t,
		timeout:   timeout,
		idleGrace: idleGrace,
		entries:   make(map[string]*muxEntry),
		PushCh:    make(chan Push, 32),
	}
}

// Acquire returns the connected handler for address, connecting first if
// needed. Each Acquire must be paired with a Release.
func (m *Multiplexer) Acquire(ctx context.Context, address string) (*LampHandler, error) {
	address = transport.NormalizeMAC(address)

	var entry *muxEntry
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrConnectionLost
		}
		e, ok := m.entries[address]
		if !ok {
			e = &muxEntry{}
			m.entries[address] = e
		}
		m.mu.Unlock()

		e.mu.Lock()
		// The entry may have been evicted while we waited for its lock;
		// reusing it would leak a connection outside the pool.
		m.mu.Lock()
		current := m.entries[address] == e
		m.mu.Unlock()
		if current {
			entry = e
			break
		}
		e.mu.Unlock()
	}
	defer entry.mu.Unlock()

	if entry.idle != nil {
		entry.idle.Stop()
		entry.idle = nil
	}

	if entry.handler == nil {
		h := NewLampHandler(m.transport, address, m.timeout)
		if err := h.Connect(ctx); err != nil {
			m.evict(address, entry)
			return nil, err
		}
		h.OnLost(func(err error) {
			slog.Warn("evicting lamp after connection loss", "address", address, "err", err)
			m.evict(address, entry)
		})
		go m.relayPushes(address, h.PushCh())
		entry.handler = h
	}

	entry.refs++
	return entry.handler, nil
}

// Release marks one Acquire finished. When the last reference goes, the
// connection stays up for the idle grace period and is then closed.
func (m *Multiplexer) Release(address string) {
	address = transport.NormalizeMAC(address)

	m.mu.Lock()
	entry := m.entries[address]
	m.mu.Unlock()
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.refs > 0 {
		entry.refs--
	}
	if entry.refs > 0 || entry.handler == nil {
		return
	}
	entry.idle = time.AfterFunc(m.idleGrace, func() {
		entry.mu.Lock()
		idleNow := entry.refs == 0 && entry.handler != nil
		var h *LampHandler
		if idleNow {
			h = entry.handler
			entry.handler = nil
		}
		entry.mu.Unlock()

		if idleNow {
			slog.Info("idle disconnect", "address", address)
			_ = h.Close()
			m.mu.Lock()
			if m.entries[address] == entry {
				delete(m.entries, address)
			}
			m.mu.Unlock()
		}
	})
}

// evict drops a dead entry from the pool so the next Acquire reconnects.
// A dead engine is never silently reused.
func (m *Multiplexer) evict(address string, entry *muxEntry) {
	m.mu.Lock()
	if m.entries[address] == entry {
		delete(m.entries, address)
	}
	m.mu.Unlock()
}

func (m *Multiplexer) relayPushes(address string, ch <-chan yeelight.Notification) {
	if ch == nil {
		return
	}
	for notif := range ch {
		select {
		case m.PushCh <- Push{Address: address, Notification: notif}:
		default:
		}
	}
}

// Close disconnects every lamp and rejects further Acquires.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	m.closed = true
	entries := make(map[string]*muxEntry, len(m.entries))
	for addr, e := range m.entries {
		entries[addr] = e
	}
	m.entries = make(map[string]*muxEntry)
	m.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		if entry.idle != nil {
			entry.idle.Stop()
		}
		if entry.handler != nil {
			_ = entry.handler.Close()
			entry.handler = nil
		}
		entry.mu.Unlock()
	}
	return nil
}
