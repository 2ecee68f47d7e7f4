// Package channel is the generic client core shared by the support, notification,
// and widget namespaces: one authenticated, auto-reconnecting WebSocket Session with
// a room registry, an event dispatcher, and acknowledged commands.
//
// A Session processes inbound pushes on a single goroutine in arrival order.
// Independent Sessions share no mutable state.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cambiartech/buykoins-realtime/internal/apierr"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

var errSuperseded = errors.New("session closed during connect")

type ackResult struct {
	result json.RawMessage
	err    error
}

// Session is one logical connection to a namespace. It is created idle with New,
// opened with Connect, and released with Close. After Close (or a terminal
// AuthError) it may be connected again.
type Session struct {
	endpoint  string
	namespace string
	o         options

	events *Dispatcher
	states listeners[StateChange]
	rooms  *Registry

	// joinMu serializes room replay with Join/Leave so a concurrent join is either
	// part of the replay or sent after it.
	joinMu sync.Mutex

	mu       sync.RWMutex
	state    State
	gen      uint64
	conn     *websocket.Conn
	identity Identity
	cred     Credential
	lastErr  error
	cancel   context.CancelFunc
	done     chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan ackResult
}

// New builds an idle Session for namespace at endpoint (see Endpoint).
func New(endpoint, namespace string, cred Credential, opts ...Option) (*Session, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		return nil, fmt.Errorf("channel: endpoint must be ws:// or wss://, got %q", endpoint)
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("channel: empty namespace")
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.log = o.log.With("namespace", namespace)

	s := &Session{
		endpoint:  endpoint,
		namespace: namespace,
		o:         o,
		events:    NewDispatcher(namespace, o.log),
		rooms:     NewRegistry(),
		cred:      cred,
		pending:   make(map[string]chan ackResult),
	}
	s.events.onProto = func(*ProtocolError) { o.metrics.protocolError(namespace) }
	o.metrics.setState(namespace, StateClosed)
	return s, nil
}

// Namespace returns the namespace this Session serves.
func (s *Session) Namespace() string {
	if s == nil {
		return ""
	}
	return s.namespace
}

// State returns the current transport state.
func (s *Session) State() State {
	if s == nil {
		return StateClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the identity resolved by the last successful handshake.
func (s *Session) Identity() Identity {
	if s == nil {
		return Identity{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Err returns the error that last moved the Session to closed, if any.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Credential returns the credential used for the next dial.
func (s *Session) Credential() Credential {
	if s == nil {
		return Credential{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// SetCredential replaces the credential. It is read only when dialing, so a live
// connection keeps its identity until the next reconnect.
func (s *Session) SetCredential(c Credential) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.cred = c
	s.mu.Unlock()
}

// Rooms returns the joined rooms in original join order.
func (s *Session) Rooms() []string {
	if s == nil {
		return nil
	}
	return s.rooms.Rooms()
}

// Events exposes the dispatcher, mainly for OnJSON.
func (s *Session) Events() *Dispatcher {
	if s == nil {
		return nil
	}
	return s.events
}

// On subscribes fn to a pushed event. It is valid before Connect.
func (s *Session) On(event string, fn Handler) *Subscription {
	return s.Events().On(event, fn)
}

// Off removes a subscription returned by On.
func (s *Session) Off(sub *Subscription) {
	sub.Close()
}

// OnState subscribes fn to transport state changes.
func (s *Session) OnState(fn func(StateChange)) *Subscription {
	if s == nil || fn == nil {
		return newSubscription(nil)
	}
	return s.states.add(fn)
}

// Connect dials, authenticates, and replays joined rooms. It returns once the
// Session is open or the first attempt failed; later drops are retried in the
// background until Close or a terminal AuthError.
func (s *Session) Connect(ctx context.Context) (Identity, error) {
	if s == nil {
		return Identity{}, ErrNotConnected
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return Identity{}, ErrAlreadyConnected
	}
	s.lastErr = nil
	s.state = StateConnecting
	gen := s.gen
	s.mu.Unlock()

	s.o.metrics.setState(s.namespace, StateConnecting)
	s.emitState(StateChange{Namespace: s.namespace, From: StateClosed, To: StateConnecting, At: time.Now()})

	conn, id, err := s.handshake(ctx)
	if err != nil {
		s.abort(gen, err)
		return Identity{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		cancel()
		_ = conn.CloseNow()
		return Identity{}, &ConnectionError{Namespace: s.namespace, Op: "connect", Err: errSuperseded}
	}
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	if err := s.ready(ctx, gen, conn, id, 0); err != nil {
		cancel()
		close(done)
		_ = conn.CloseNow()
		s.abort(gen, err)
		return Identity{}, err
	}

	s.o.log.Info("channel.connected", "session_id", id.SessionID, "role", id.Role, "identity_id", id.ID)
	go s.run(runCtx, gen, conn, done)
	return id, nil
}

// Close stops the reconnect loop, closes the socket, fails pending commands,
// forgets rooms, and releases every handler. It is idempotent.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	s.gen++
	prev := s.state
	cancel, done, conn := s.cancel, s.done, s.conn
	s.cancel, s.done, s.conn = nil, nil, nil
	s.state = StateClosed
	s.mu.Unlock()

	// Only an open socket gets a graceful close; a dial or backoff sleep stops now.
	if cancel != nil && (conn == nil || prev != StateOpen) {
		cancel()
	}
	if conn != nil {
		go func() { _ = conn.Close(websocket.StatusNormalClosure, "client disconnect") }()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(closeGrace):
		}
	}
	if cancel != nil {
		cancel()
	}

	s.failPending(ErrNotConnected)
	s.rooms.Clear()

	if prev != StateClosed {
		s.o.metrics.setState(s.namespace, StateClosed)
		s.emitState(StateChange{Namespace: s.namespace, From: prev, To: StateClosed, At: time.Now()})
		s.o.log.Info("channel.closed")
	}

	s.events.Reset()
	s.states.reset()
	return nil
}

// Join records room and sends the join command when open. Joining a held room is a
// no-op. While not open the room is joined by the replay that precedes "open".
func (s *Session) Join(ctx context.Context, room string) error {
	if s == nil {
		return ErrNotConnected
	}
	if !s.o.rooms.enabled() {
		return ErrNoRooms
	}
	room = strings.TrimSpace(room)
	if room == "" {
		return errors.New("channel: empty room id")
	}

	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	if !s.rooms.Add(room) {
		return nil
	}

	conn, err := s.openConn()
	if err != nil {
		return nil
	}
	if err := s.emitOn(ctx, conn, s.o.rooms.Join, s.o.rooms.Payload(room)); err != nil {
		// The failed write means the connection is going away; replay covers it.
		s.o.log.Info("channel.join.deferred", "room", room, "err", err)
	}
	return nil
}

// Leave forgets room immediately, even while reconnecting, and sends the leave
// command only when open.
func (s *Session) Leave(ctx context.Context, room string) error {
	if s == nil {
		return nil
	}
	if !s.o.rooms.enabled() {
		return ErrNoRooms
	}
	room = strings.TrimSpace(room)
	if !s.rooms.Remove(room) {
		return nil
	}

	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	if s.rooms.Has(room) {
		return nil
	}
	conn, err := s.openConn()
	if err != nil {
		return nil
	}
	if err := s.emitOn(ctx, conn, s.o.rooms.Leave, s.o.rooms.Payload(room)); err != nil {
		s.o.log.Info("channel.leave.unsent", "room", room, "err", err)
	}
	return nil
}

// Emit sends a fire-and-forget command. It fails with ErrNotConnected unless open.
func (s *Session) Emit(ctx context.Context, event string, payload any) error {
	if s == nil {
		return ErrNotConnected
	}
	conn, err := s.openConn()
	if err != nil {
		s.o.metrics.command(s.namespace, event, "not_connected")
		return err
	}
	if err := s.emitOn(ctx, conn, event, payload); err != nil {
		s.o.metrics.command(s.namespace, event, "error")
		return err
	}
	s.o.metrics.command(s.namespace, event, "sent")
	return nil
}

// Request sends an acknowledged command and waits for its ack. A rejection is a
// *CommandError. It fails with ErrNotConnected unless open.
func (s *Session) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	wait, err := s.request(ctx, event, payload)
	if err != nil {
		return nil, err
	}
	return wait(ctx)
}

// RequestAsync sends an acknowledged command and delivers its outcome to done on
// another goroutine. Not-connected and write failures are returned synchronously
// and done is not called for them.
func (s *Session) RequestAsync(ctx context.Context, event string, payload any, done func(json.RawMessage, error)) error {
	wait, err := s.request(ctx, event, payload)
	if err != nil {
		return err
	}
	go func() {
		res, err := wait(ctx)
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

func (s *Session) request(ctx context.Context, event string, payload any) (func(context.Context) (json.RawMessage, error), error) {
	if s == nil {
		return nil, ErrNotConnected
	}
	conn, err := s.openConn()
	if err != nil {
		s.o.metrics.command(s.namespace, event, "not_connected")
		return nil, err
	}

	env, err := newEnvelope(event, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan ackResult, 1)
	s.pendingMu.Lock()
	s.pending[env.ID] = ch
	s.pendingMu.Unlock()

	if err := writeEnvelope(ctx, conn, env, s.o.writeTimeout); err != nil {
		s.dropPending(env.ID)
		s.o.metrics.command(s.namespace, event, "error")
		return nil, &ConnectionError{Namespace: s.namespace, Op: "write " + event, Err: err}
	}

	wait := func(ctx context.Context) (json.RawMessage, error) {
		timer := time.NewTimer(s.o.ackTimeout)
		defer timer.Stop()

		select {
		case res := <-ch:
			var ce *CommandError
			if errors.As(res.err, &ce) && ce.Command == "" {
				ce.Command = event
			}
			if res.err != nil {
				s.o.metrics.command(s.namespace, event, "rejected")
				return nil, res.err
			}
			s.o.metrics.command(s.namespace, event, "ok")
			return res.result, nil
		case <-ctx.Done():
			s.dropPending(env.ID)
			return nil, ctx.Err()
		case <-timer.C:
			s.dropPending(env.ID)
			s.o.metrics.command(s.namespace, event, "timeout")
			return nil, fmt.Errorf("%w: %s", ErrAckTimeout, event)
		}
	}
	return wait, nil
}

// ---- lifecycle internals ----

func (s *Session) openConn() (*websocket.Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateOpen || s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func (s *Session) emitOn(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	env, err := newEnvelope(event, payload)
	if err != nil {
		return err
	}
	if err := writeEnvelope(ctx, conn, env, s.o.writeTimeout); err != nil {
		return &ConnectionError{Namespace: s.namespace, Op: "write " + event, Err: err}
	}
	return nil
}

// dialCredential returns the credential for the next dial, filling an empty guest
// id from the guest store.
func (s *Session) dialCredential() Credential {
	s.mu.RLock()
	cred := s.cred
	s.mu.RUnlock()

	if !cred.Guest() || cred.GuestID != "" || s.o.guests == nil {
		return cred
	}
	id, err := s.o.guests.Load()
	if err != nil {
		s.o.log.Warn("channel.guest.load.fail", "err", err)
		return cred
	}
	if id == "" {
		return cred
	}

	s.mu.Lock()
	if s.cred.Guest() && s.cred.GuestID == "" {
		s.cred.GuestID = id
	}
	cred = s.cred
	s.mu.Unlock()
	return cred
}

func (s *Session) adoptGuestID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	changed := s.cred.Guest() && s.cred.GuestID != id
	if changed {
		s.cred.GuestID = id
	}
	s.mu.Unlock()

	if !changed || s.o.guests == nil {
		return
	}
	if err := s.o.guests.Save(id); err != nil {
		s.o.log.Warn("channel.guest.save.fail", "err", err)
	}
}

// handshake dials and completes hello/hello_ack. The credential is re-read on
// every call.
func (s *Session) handshake(parent context.Context) (*websocket.Conn, Identity, error) {
	ctx, cancel := context.WithTimeout(parent, s.o.handshakeTimeout)
	defer cancel()

	cred := s.dialCredential()

	conn, _, err := websocket.Dial(ctx, s.endpoint, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   s.o.header,
		HTTPClient:   s.o.httpClient,
	})
	if err != nil {
		return nil, Identity{}, &ConnectionError{Namespace: s.namespace, Op: "dial", Err: err}
	}
	conn.SetReadLimit(s.o.readLimit)

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, Identity{}, &ConnectionError{Namespace: s.namespace, Op: "dial", Err: fmt.Errorf("subprotocol %q not negotiated", v1.Subprotocol)}
	}

	hello, err := newEnvelope(v1.TypeHello, cred.hello())
	if err != nil {
		_ = conn.CloseNow()
		return nil, Identity{}, err
	}
	if err := writeEnvelope(ctx, conn, hello, s.o.writeTimeout); err != nil {
		_ = conn.CloseNow()
		return nil, Identity{}, &ConnectionError{Namespace: s.namespace, Op: "hello", Err: err}
	}

	env, err := readEnvelope(ctx, conn)
	if err != nil {
		_ = conn.CloseNow()
		if websocket.CloseStatus(err) == v1.CloseUnauthorized {
			return nil, Identity{}, &AuthError{Namespace: s.namespace, Code: apierr.CodeUnauthorized, Message: "closed by server"}
		}
		return nil, Identity{}, &ConnectionError{Namespace: s.namespace, Op: "hello", Err: err}
	}

	switch env.Type {
	case v1.TypeHelloAck:
		var p v1.HelloAckPayload
		if err := env.Decode(&p); err != nil {
			_ = conn.CloseNow()
			return nil, Identity{}, &ConnectionError{Namespace: s.namespace, Op: "hello", Err: &ProtocolError{Namespace: s.namespace, Event: env.Type, Err: err}}
		}
		if p.Role == v1.RoleGuest {
			s.adoptGuestID(p.GuestID)
		}
		return conn, Identity{SessionID: p.SessionID, Role: p.Role, ID: p.IdentityID, GuestID: p.GuestID}, nil

	case v1.TypeError:
		var p v1.ErrorPayload
		_ = env.Decode(&p)
		_ = conn.CloseNow()
		code := apierr.Code(p.Code)
		if apierr.IsAuthCode(code) {
			return nil, Identity{}, &AuthError{Namespace: s.namespace, Code: code, Message: p.Message}
		}
		return nil, Identity{}, &ConnectionError{Namespace: s.namespace, Op: "hello", Err: fmt.Errorf("%s: %s", p.Code, p.Message)}

	default:
		_ = conn.CloseNow()
		return nil, Identity{}, &ConnectionError{Namespace: s.namespace, Op: "hello", Err: &ProtocolError{Namespace: s.namespace, Event: env.Type, Err: errors.New("unexpected handshake reply")}}
	}
}

// ready installs conn, replays rooms in join order, and only then opens the Session.
func (s *Session) ready(ctx context.Context, gen uint64, conn *websocket.Conn, id Identity, attempt int) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return &ConnectionError{Namespace: s.namespace, Op: "ready", Err: errSuperseded}
	}
	s.conn = conn
	s.identity = id
	s.mu.Unlock()

	if s.o.rooms.enabled() {
		for _, room := range s.rooms.Rooms() {
			if err := s.emitOn(ctx, conn, s.o.rooms.Join, s.o.rooms.Payload(room)); err != nil {
				return err
			}
		}
	}

	if !s.transition(gen, StateOpen, attempt, nil) {
		return &ConnectionError{Namespace: s.namespace, Op: "ready", Err: errSuperseded}
	}
	return nil
}

// run owns the connection after Connect: it reads until the socket drops, then
// reconnects, until the Session is closed or authentication becomes terminal.
func (s *Session) run(ctx context.Context, gen uint64, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		hbCtx, hbCancel := context.WithCancel(ctx)
		go s.heartbeat(hbCtx, conn)

		err := s.readLoop(ctx, conn)
		hbCancel()
		_ = conn.CloseNow()

		if ctx.Err() != nil || s.superseded(gen) {
			return
		}

		var ae *AuthError
		if errors.As(err, &ae) {
			s.failPending(&ConnectionError{Namespace: s.namespace, Op: "read", Err: err})
			s.terminate(gen, ae)
			return
		}

		s.o.log.Info("channel.disconnected", "err", err, "close_status", websocket.CloseStatus(err))
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.failPending(&ConnectionError{Namespace: s.namespace, Op: "read", Err: err})

		conn = s.reconnect(ctx, gen, err)
		if conn == nil {
			return
		}
	}
}

func (s *Session) reconnect(ctx context.Context, gen uint64, cause error) *websocket.Conn {
	sched := s.o.backoff.schedule()
	lastErr := cause

	for {
		attempt, delay := sched.next()
		if !s.transition(gen, StateReconnecting, attempt, lastErr) {
			return nil
		}
		s.o.metrics.reconnect(s.namespace)

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
		if ctx.Err() != nil || s.superseded(gen) {
			return nil
		}

		conn, id, err := s.handshake(ctx)
		if err != nil {
			var ae *AuthError
			if errors.As(err, &ae) {
				s.terminate(gen, ae)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			lastErr = err
			s.o.log.Warn("channel.reconnect.failed", "attempt", attempt, "delay", delay, "err", err)
			continue
		}

		if err := s.ready(ctx, gen, conn, id, attempt); err != nil {
			_ = conn.CloseNow()
			if ctx.Err() != nil || s.superseded(gen) {
				return nil
			}
			lastErr = err
			s.o.log.Warn("channel.reconnect.replay_failed", "attempt", attempt, "err", err)
			continue
		}

		s.o.log.Info("channel.reconnected", "attempt", attempt, "session_id", id.SessionID, "rooms", s.rooms.Len())
		return conn
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			var bad errMalformed
			if errors.As(err, &bad) {
				s.events.report(&ProtocolError{Namespace: s.namespace, Event: env.Type, Err: bad.err})
				continue
			}
			if websocket.CloseStatus(err) == v1.CloseUnauthorized {
				return &AuthError{Namespace: s.namespace, Code: apierr.CodeUnauthorized, Message: "closed by server"}
			}
			return err
		}

		if err := s.route(env); err != nil {
			return err
		}
	}
}

// route handles one inbound envelope on the read goroutine.
func (s *Session) route(env v1.Envelope) error {
	switch env.Type {
	case v1.TypeAck:
		var p v1.AckPayload
		if err := env.Decode(&p); err != nil {
			s.events.report(&ProtocolError{Namespace: s.namespace, Event: env.Type, Err: err})
			return nil
		}
		res := ackResult{result: p.Result}
		if !p.OK {
			ce := &CommandError{Code: v1.ErrCodeInternal, Message: "rejected"}
			if p.Error != nil {
				ce.Code, ce.Message = p.Error.Code, p.Error.Message
			}
			res = ackResult{err: ce}
		}
		if !s.resolve(env.ReplyTo, res) {
			s.o.log.Debug("channel.ack.orphan", "reply_to", env.ReplyTo)
		}
		return nil

	case v1.TypeError:
		var p v1.ErrorPayload
		if err := env.Decode(&p); err != nil {
			s.events.report(&ProtocolError{Namespace: s.namespace, Event: env.Type, Err: err})
			return nil
		}
		if env.ReplyTo != "" && s.resolve(env.ReplyTo, ackResult{err: &CommandError{Code: p.Code, Message: p.Message}}) {
			return nil
		}
		if apierr.ShouldForceLogout(apierr.Code(p.Code)) {
			return &AuthError{Namespace: s.namespace, Code: apierr.Code(p.Code), Message: p.Message}
		}
		s.o.log.Warn("channel.server_error", "code", p.Code, "message", p.Message)

	case v1.TypeHello, v1.TypeHelloAck:
		s.events.report(&ProtocolError{Namespace: s.namespace, Event: env.Type, Err: errors.New("unexpected handshake frame")})
		return nil
	}

	s.o.metrics.event(s.namespace, env.Type)
	s.events.Dispatch(Event{
		Namespace: s.namespace,
		Name:      env.Type,
		ID:        env.ID,
		TS:        env.TS,
		Payload:   env.Payload,
	})
	return nil
}

func (s *Session) heartbeat(ctx context.Context, conn *websocket.Conn) {
	if s.o.heartbeatEvery <= 0 {
		return
	}
	t := time.NewTicker(s.o.heartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.o.heartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			s.o.log.Info("channel.ping.fail", "failures", failures, "err", err)
			if failures >= maxPingFailures {
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (s *Session) superseded(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != gen
}

// abort records a failed initial connect.
func (s *Session) abort(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateClosed
	s.conn = nil
	s.lastErr = err
	s.mu.Unlock()

	s.o.metrics.setState(s.namespace, StateClosed)
	s.emitState(StateChange{Namespace: s.namespace, From: prev, To: StateClosed, Err: err, At: time.Now()})
	s.o.log.Info("channel.connect.fail", "err", err)
}

// terminate ends the Session after an authentication failure. Handlers stay
// registered so the caller can observe the status event and reconnect.
func (s *Session) terminate(gen uint64, ae *AuthError) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	prev := s.state
	cancel := s.cancel
	s.state = StateClosed
	s.conn = nil
	s.lastErr = ae
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		defer cancel()
	}

	s.rooms.Clear()
	s.failPending(ae)

	s.o.metrics.setState(s.namespace, StateClosed)
	s.emitState(StateChange{Namespace: s.namespace, From: prev, To: StateClosed, Err: ae, At: time.Now()})
	s.o.log.Warn("channel.auth.terminal", "code", string(ae.Code), "action", ae.Action().String())
}

// transition moves to state to unless the Session was closed after gen was taken.
func (s *Session) transition(gen uint64, to State, attempt int, err error) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = to
	s.mu.Unlock()

	s.o.metrics.setState(s.namespace, to)
	s.emitState(StateChange{Namespace: s.namespace, From: prev, To: to, Attempt: attempt, Err: err, At: time.Now()})
	return true
}

func (s *Session) emitState(ch StateChange) {
	s.states.emit(ch, func(r any) {
		s.o.log.Error("channel.state_handler.panic", "panic", r)
	})
}

func (s *Session) resolve(id string, res ackResult) bool {
	if id == "" {
		return false
	}
	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	delete(s.pending, id)
	s.pendingMu.Unlock()

	if !ok {
		return false
	}
	ch <- res
	return true
}

func (s *Session) dropPending(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan ackResult)
	s.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- ackResult{err: err}
	}
}
