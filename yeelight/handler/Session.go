package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"yeelightble/yeelight"
	"yeelightble/yeelight/transport"
)

// DefaultTimeout bounds each command/response cycle unless the session is
// configured otherwise. No wait is ever unbounded.
const DefaultTimeout = 5 * time.Second

// Result is the outcome of one command/response cycle. Text is set for
// replies that arrive as chunked strings (name, serial number, scene name);
// Notification carries everything else.
type Result struct {
	Notification yeelight.Notification
	Text         string
}

type pendingResult struct {
	result Result
	err    error
}

// PendingRequest correlates an outstanding command to the notification
// expected in reply. Created by Send, destroyed on match, deadline expiry,
// or connection loss.
type PendingRequest struct {
	op        yeelight.Opcode
	done      chan pendingResult // buffered; resolving never blocks dispatch
	timer     *time.Timer
	assembler *yeelight.StringAssembler
}

// Session is the protocol engine for one lamp connection. It encodes and
// writes commands, correlates incoming notifications to pending requests by
// opcode, applies deadlines, and caches the last decoded lamp state.
//
// Concurrent Execute calls queue: the whole command/response cycle runs
// under a send lock, so at most one request per response opcode is in
// flight and correlation stays unambiguous. The raw Send/Wait pair allows
// distinct opcodes outstanding at once (used for version+serial fetches).
type Session struct {
	conn    transport.Conn
	timeout time.Duration

	sendMu sync.Mutex // serializes Execute cycles

	mu       sync.Mutex
	pending  map[yeelight.Opcode]*PendingRequest
	state    yeelight.State
	hasState bool
	lostErr  error

	// PushCh delivers decoded notifications that matched no pending request.
	// Sends never block; a slow consumer drops pushes.
	PushCh chan yeelight.Notification

	onLost func(err error)
}

// NewSession wires the engine to an established connection and subscribes
// to its notifications.
func NewSession(conn transport.Conn, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Session{
		conn:    conn,
		timeout: timeout,
		pending: make(map[yeelight.Opcode]*PendingRequest),
		PushCh:  make(chan yeelight.Notification, 16),
	}
	conn.OnDisconnect(s.handleDisconnect)
	if err := conn.Subscribe(s.OnNotification); err != nil {
		return nil, &TransportError{Err: err}
	}
	return s, nil
}

// OnLost registers a callback invoked once when the link drops unexpectedly,
// after all pending requests have been failed.
func (s *Session) OnLost(fn func(err error)) {
	s.mu.Lock()
	s.onLost = fn
	s.mu.Unlock()
}

// Send validates, encodes and writes a command. If the command expects a
// reply, a PendingRequest with an armed deadline is returned; commands
// without a reply return (nil, nil). A transport failure registers nothing.
func (s *Session) Send(cmd yeelight.Command) (*PendingRequest, error) {
	data, err := yeelight.Marshal(cmd)
	if err != nil {
		return nil, err // ValidationError: never written to the wire
	}

	respOp, wantsReply := cmd.Response()
	var pr *PendingRequest

	// Reserve the correlation slot before writing so a notification racing
	// the write cannot find the table empty.
	s.mu.Lock()
	if s.lostErr != nil {
		s.mu.Unlock()
		return nil, ErrConnectionLost
	}
	if wantsReply {
		if _, exists := s.pending[respOp]; exists {
			s.mu.Unlock()
			return nil, ErrBusy
		}
		pr = &PendingRequest{
			op:   respOp,
			done: make(chan pendingResult, 1),
		}
		if isChunked(respOp) {
			pr.assembler = &yeelight.StringAssembler{}
		}
		s.pending[respOp] = pr
	}
	s.mu.Unlock()

	if err := s.conn.Write(data); err != nil {
		if wantsReply {
			s.mu.Lock()
			delete(s.pending, respOp)
			s.mu.Unlock()
		}
		return nil, &TransportError{Err: err}
	}
	slog.Debug("command sent", "op", cmd.Op())

	if !wantsReply {
		return nil, nil
	}

	// The deadline belongs to the engine, not the caller: it fires even if
	// every waiter has detached, so the correlation table cannot leak.
	pr.timer = time.AfterFunc(s.timeout, func() {
		s.resolve(respOp, Result{}, ErrTimeout)
	})
	return pr, nil
}

// Wait suspends until the request resolves, its deadline fires, or ctx is
// done. A detaching caller does not disturb the engine's own bookkeeping.
func (s *Session) Wait(ctx context.Context, pr *PendingRequest) (Result, error) {
	if pr == nil {
		return Result{}, nil
	}
	select {
	case res := <-pr.done:
		return res.result, res.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Execute runs one full command/response cycle. Cycles from concurrent
// callers queue in submission order.
func (s *Session) Execute(ctx context.Context, cmd yeelight.Command) (Result, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	pr, err := s.Send(cmd)
	if err != nil || pr == nil {
		return Result{}, err
	}
	return s.Wait(ctx, pr)
}

// OnNotification is the transport's subscription callback. It may fire at
// any time, including with nothing outstanding: unsolicited state pushes
// update the cache and are not an error. A malformed buffer is logged and
// discarded without touching cached state.
func (s *Session) OnNotification(data []byte) {
	notif, err := yeelight.Decode(data)
	if err != nil {
		slog.Warn("discarding malformed notification", "err", err)
		return
	}

	// Cache state before correlation so even unsolicited pushes refresh it.
	if st, ok := notif.(yeelight.StateNotification); ok {
		s.mu.Lock()
		s.state = st.State
		s.hasState = true
		s.mu.Unlock()
	}

	s.mu.Lock()
	pr, matched := s.pending[notif.Op()]
	s.mu.Unlock()

	if !matched {
		s.mu.Lock()
		if s.lostErr == nil {
			select {
			case s.PushCh <- notif:
			default:
				slog.Debug("push channel full, dropping notification", "op", notif.Op())
			}
		}
		s.mu.Unlock()
		return
	}

	if pr.assembler != nil {
		chunk, ok := chunkOf(notif)
		if !ok {
			slog.Warn("expected chunked notification", "op", notif.Op())
			return
		}
		text, complete, err := pr.assembler.Add(chunk)
		if err != nil {
			s.resolve(notif.Op(), Result{}, &yeelight.MalformedError{Data: data, Reason: err.Error()})
			return
		}
		if !complete {
			return // keep accumulating until every fragment arrived
		}
		s.resolve(notif.Op(), Result{Notification: notif, Text: text}, nil)
		return
	}

	s.resolve(notif.Op(), Result{Notification: notif}, nil)
}

// resolve removes the pending entry for op and delivers the outcome. It is
// a no-op if the entry was already resolved.
func (s *Session) resolve(op yeelight.Opcode, res Result, err error) {
	s.mu.Lock()
	pr, ok := s.pending[op]
	if ok {
		delete(s.pending, op)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	pr.done <- pendingResult{result: res, err: err}
}

// handleDisconnect fails every outstanding request and marks the session
// dead. Later sends return ErrConnectionLost.
func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	if s.lostErr != nil {
		s.mu.Unlock()
		return
	}
	s.lostErr = err
	outstanding := make([]*PendingRequest, 0, len(s.pending))
	for op, pr := range s.pending {
		outstanding = append(outstanding, pr)
		delete(s.pending, op)
	}
	fn := s.onLost
	s.mu.Unlock()

	for _, pr := range outstanding {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		pr.done <- pendingResult{err: ErrConnectionLost}
	}
	close(s.PushCh)
	if fn != nil {
		fn(err)
	}
}

// State returns the last cached lamp state, if any notification carrying
// one has been decoded on this session.
func (s *Session) State() (yeelight.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.hasState
}

// errSessionClosed marks a deliberate Close, distinguishing it from an
// unexpected drop when failing late arrivals.
var errSessionClosed = errors.New("session closed")

// Close tears down the underlying connection. Cached state dies with the
// session.
func (s *Session) Close() error {
	s.mu.Lock()
	alreadyDead := s.lostErr != nil
	if !alreadyDead {
		s.lostErr = errSessionClosed
		close(s.PushCh)
	}
	s.mu.Unlock()
	return s.conn.Close()
}

func isChunked(op yeelight.Opcode) bool {
	switch op {
	case yeelight.OpNotifyName, yeelight.OpNotifySerial, yeelight.OpNotifyScene:
		return true
	}
	return false
}

func chunkOf(notif yeelight.Notification) (yeelight.Chunk, bool) {
	switch n := notif.(type) {
	case yeelight.NameNotification:
		return n.Chunk, true
	case yeelight.SerialNotification:
		return n.Chunk, true
	case yeelight.SceneNotification:
		return n.Chunk, true
	}
	return yeelight.Chunk{}, false
}
