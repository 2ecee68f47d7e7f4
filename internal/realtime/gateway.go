package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultSweepEvery = 30 * time.Second
)

// GatewayConfig holds the tunables of the gateway. Zero values fall back to
// defaults; see DefaultGatewayConfig.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept origin verification. Dev only.
	DevInsecure bool

	// Origin is required by default and only localhost is allowed.
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout time.Duration
	// ReadIdleTimeout closes connections that send nothing for this long.
	// Zero disables it; the heartbeat still detects dead peers.
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	HelloTimeout time.Duration

	WidgetTTL        time.Duration
	WidgetSweepEvery time.Duration
}

// DefaultGatewayConfig returns the secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      wsDefaultWriteTimeout,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
		HelloTimeout:      helloTimeout,
		WidgetTTL:         widgetSessionTTL,
		WidgetSweepEvery:  wsDefaultSweepEvery,
	}
}

func (c GatewayConfig) normalized() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout < 0 {
		c.ReadIdleTimeout = 0
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = d.HelloTimeout
	}
	if c.WidgetTTL <= 0 {
		c.WidgetTTL = d.WidgetTTL
	}
	if c.WidgetSweepEvery <= 0 {
		c.WidgetSweepEvery = d.WidgetSweepEvery
	}
	return c
}

// Deps are the collaborators of a Gateway. Nil fields get in-memory defaults,
// except Membership: a nil MembershipStore admits every join.
type Deps struct {
	Auth          Authenticator
	Store         MessageStore
	Membership    MembershipStore
	Notifications *NotificationFeed
	Widgets       *WidgetEngine
	Metrics       *Metrics
	Hub           *Hub
}

// Gateway is the WebSocket entrypoint for the realtime namespaces.
//
// It enforces origin policy, subprotocol selection, the hello handshake, rate
// limits and heartbeats, and routes validated envelopes to the namespace handlers.
type Gateway struct {
	log *slog.Logger
	cfg GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	auth    Authenticator
	store   MessageStore
	members MembershipStore
	notes   *NotificationFeed
	widgets *WidgetEngine
	metrics *Metrics
	hub     *Hub

	routes  map[string]map[string]route
	closing atomic.Bool
}

// NewGateway constructs a gateway.
func NewGateway(log *slog.Logger, cfg GatewayConfig, deps Deps) *Gateway {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg = cfg.normalized()

	g := &Gateway{
		log:            log,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		auth:           deps.Auth,
		store:          deps.Store,
		members:        deps.Membership,
		notes:          deps.Notifications,
		widgets:        deps.Widgets,
		metrics:        deps.Metrics,
		hub:            deps.Hub,
	}
	if g.auth == nil {
		log.Warn("ws.auth.static", "reason", "no authenticator configured; only guests are admitted")
		g.auth = NewStaticAuthenticator()
	}
	if g.store == nil {
		g.store = NewInMemoryStore()
	}
	if g.notes == nil {
		g.notes = NewNotificationFeed(0)
	}
	if g.widgets == nil {
		g.widgets = NewWidgetEngine(cfg.WidgetTTL)
	}
	if g.hub == nil {
		g.hub = NewHub(log)
	}

	g.routes = map[string]map[string]route{
		v1.NamespaceSupport:       g.supportRoutes(),
		v1.NamespaceNotifications: g.notificationRoutes(),
		v1.NamespaceWidget:        g.widgetRoutes(),
	}
	return g
}

// Hub exposes the live connection registry.
func (g *Gateway) Hub() *Hub { return g.hub }

// Run sweeps expired widget sessions until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	t := time.NewTicker(g.cfg.WidgetSweepEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			g.SweepWidgets(now.UTC())
		}
	}
}

// CloseAll stops admitting connections and closes every live one with 1001.
// Clients treat this as a transient drop and reconnect elsewhere.
func (g *Gateway) CloseAll(reason string) int {
	g.closing.Store(true)
	n := g.hub.KickAll(websocket.StatusGoingAway, reason)
	g.log.Info("ws.drain", "clients", n, "reason", reason)
	return n
}

// Draining reports whether CloseAll has been called.
func (g *Gateway) Draining() bool { return g.closing.Load() }

// ServeHTTP serves /ws/{namespace}.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ns := r.PathValue("namespace")
	if ns == "" {
		ns = strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	}
	if !v1.ValidNamespace(ns) {
		http.NotFound(w, r)
		return
	}
	if g.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	g.HandleWS(w, r, ns)
}

// HandleWS upgrades an HTTP request to a WebSocket session on namespace ns and
// runs the realtime loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request, ns string) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client, ok := g.handshake(ctx, conn, ns)
	if !ok {
		return
	}
	g.serve(ctx, cancel, conn, client)
}

// handshake reads the hello, authenticates it and answers hello_ack. On
// failure the connection is closed and ok is false.
func (g *Gateway) handshake(ctx context.Context, conn *websocket.Conn, ns string) (*Client, bool) {
	helloCtx, helloCancel := context.WithTimeout(ctx, g.cfg.HelloTimeout)
	defer helloCancel()

	env, err := readEnvelope(helloCtx, conn)
	if err == nil {
		err = env.Validate()
	}
	if err == nil && env.Type != v1.TypeHello {
		err = errors.New("first frame must be hello")
	}
	if err != nil {
		g.log.Info("ws.reject.hello", "namespace", ns, "err", err)
		g.writeError(ctx, conn, env.ID, v1.ErrCodeHelloRequired, "hello required")
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return nil, false
	}

	var hello v1.HelloPayload
	if err := env.Decode(&hello); err != nil {
		g.writeError(ctx, conn, env.ID, v1.ErrCodeBadPayload, "invalid hello payload")
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return nil, false
	}

	p, err := g.auth.Authenticate(ctx, ns, hello)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			g.metrics.authFailure(ns, string(ae.Code))
			g.log.Info("ws.reject.auth", "namespace", ns, "code", ae.Code, "err", ae.Message)
			g.writeError(ctx, conn, env.ID, string(ae.Code), ae.Message)
			_ = conn.Close(websocket.StatusCode(v1.CloseUnauthorized), string(ae.Code))
			return nil, false
		}
		g.log.Error("ws.auth.fail", "namespace", ns, "err", err)
		g.writeError(ctx, conn, env.ID, v1.ErrCodeInternal, "authentication unavailable")
		_ = conn.Close(websocket.StatusInternalError, "auth unavailable")
		return nil, false
	}

	now := time.Now().UTC()
	client := NewClient(ns, p, newSessionID(now), g.cfg.SendQueueSize)

	ack := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{
		SessionID:  client.SessionID,
		Role:       p.Role,
		IdentityID: p.ID,
		GuestID:    p.GuestID,
	}, now)
	ack.ReplyTo = env.ID

	// Registered before the ack: a client that saw hello_ack is reachable by fanout.
	g.hub.Register(client)
	if err := writeEnvelope(ctx, conn, ack, g.cfg.WriteTimeout); err != nil {
		g.hub.Unregister(client)
		g.log.Info("ws.write.fail", "session_id", client.SessionID, "err", err)
		return nil, false
	}

	g.log.Info("ws.session.open", "namespace", ns, "session_id", client.SessionID, "role", p.Role, "identity", p.ID)
	return client, true
}

func (g *Gateway) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *Client) {
	ns := client.Namespace
	sessionID := client.SessionID

	g.metrics.connected(ns, 1)
	defer g.metrics.connected(ns, -1)

	g.afterHello(client)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and membership removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.log.Info("ws.session.close", "namespace", ns, "session_id", sessionID, "code", code, "reason", reason)
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				shutdown(client.closeStatus())
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := ctx, context.CancelFunc(func() {})
		if g.cfg.ReadIdleTimeout > 0 {
			readCtx, readCancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		}
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(client, "", v1.ErrCodeBadJSON, "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.sendError(client, env.ID, v1.ErrCodeRateLimited,
				fmt.Sprintf("too many events; retry in %s", rl.RetryAfter(now).Round(time.Millisecond)))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, env.ID, v1.ErrCodeBadEnvelope, err.Error())
			continue readLoop
		}

		g.dispatch(ctx, client, env, now)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// afterHello pushes the initial state of a namespace.
func (g *Gateway) afterHello(client *Client) {
	if client.Namespace == v1.NamespaceNotifications {
		g.push(client, newEnvelope(v1.TypeNotificationUnreadCount, v1.NotificationUnreadPayload{
			UnreadCount: g.notes.Unread(client.Principal.ID),
		}, time.Now().UTC()))
	}
}

// ---- routing ----

// call is one inbound command. Handlers register post-reply effects with then
// so the reply always precedes the fanout it causes.
type call struct {
	client *Client
	env    v1.Envelope
	now    time.Time
	after  []func()
}

func (c *call) then(fn func()) { c.after = append(c.after, fn) }

func (c *call) decode(v any) error {
	if err := c.env.Decode(v); err != nil {
		return replyErr(v1.ErrCodeBadPayload, "invalid payload")
	}
	return nil
}

// route binds one command type. Acknowledged routes answer with an ack
// envelope; the others only answer on failure.
type route struct {
	ack bool
	fn  func(ctx context.Context, c *call) (any, error)
}

// commandError is a failure the client sees with its code.
type commandError struct {
	code    string
	message string
}

func (e *commandError) Error() string { return e.code + ": " + e.message }

func replyErr(code, message string) error { return &commandError{code: code, message: message} }

func (g *Gateway) dispatch(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	ns := client.Namespace
	rt, ok := g.routes[ns][env.Type]
	if !ok {
		g.metrics.envelope(ns, "unknown")
		g.sendError(client, env.ID, v1.ErrCodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		return
	}
	g.metrics.envelope(ns, env.Type)

	c := &call{client: client, env: env, now: now}
	res, err := rt.fn(ctx, c)
	if err != nil {
		code, msg := g.errorCode(err)
		g.log.Info("ws.command.fail", "namespace", ns, "session_id", client.SessionID, "type", env.Type, "code", code, "err", err)
		switch {
		case rt.ack:
			g.reply(client, env.ID, v1.AckPayload{OK: false, Error: &v1.ErrorPayload{Code: code, Message: msg}})
		case ns == v1.NamespaceSupport:
			e := newEnvelope(v1.TypeMessageError, v1.MessageErrorPayload{Error: msg}, now)
			e.ReplyTo = env.ID
			g.push(client, e)
		default:
			g.sendError(client, env.ID, code, msg)
		}
		return
	}

	if rt.ack {
		ack := v1.AckPayload{OK: true}
		if res != nil {
			b, err := json.Marshal(res)
			if err != nil {
				g.log.Error("ws.marshal.fail", "type", env.Type, "err", err)
				g.reply(client, env.ID, v1.AckPayload{OK: false, Error: &v1.ErrorPayload{Code: v1.ErrCodeInternal, Message: "internal error"}})
				return
			}
			ack.Result = b
		}
		g.reply(client, env.ID, ack)
	}
	for _, fn := range c.after {
		fn()
	}
}

func (g *Gateway) errorCode(err error) (code, message string) {
	var ce *commandError
	var se *StepError
	switch {
	case errors.As(err, &ce):
		return ce.code, ce.message
	case errors.As(err, &se):
		return v1.ErrCodeBadPayload, se.Reason
	case errors.Is(err, ErrWidgetNotFound), errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrNotificationNotFound):
		return v1.ErrCodeNotFound, "not found"
	case errors.Is(err, ErrWidgetForbidden):
		return v1.ErrCodeForbidden, "forbidden"
	case errors.Is(err, ErrWidgetTerminal):
		return v1.ErrCodeBadPayload, "session is finished"
	case errors.Is(err, ErrWidgetStepMismatch):
		return v1.ErrCodeBadPayload, "step is not the current step"
	case errors.Is(err, ErrWidgetTrigger):
		return v1.ErrCodeBadPayload, "unknown trigger"
	default:
		return v1.ErrCodeInternal, "internal error"
	}
}

// ---- send helpers ----

func (g *Gateway) push(client *Client, env v1.Envelope) bool {
	if client.Offer(env) {
		return true
	}
	g.metrics.drop(client.Namespace, 1)
	g.log.Debug("ws.enqueue.drop", "session_id", client.SessionID, "type", env.Type)
	return false
}

func (g *Gateway) broadcast(room *Room, env v1.Envelope, exceptSession string) {
	_, dropped := room.Broadcast(env, exceptSession)
	g.metrics.drop(room.Namespace, dropped)
}

func (g *Gateway) reply(client *Client, replyTo string, ack v1.AckPayload) {
	env := newEnvelope(v1.TypeAck, ack, time.Now().UTC())
	env.ReplyTo = replyTo
	g.push(client, env)
}

func (g *Gateway) sendError(client *Client, replyTo, code, msg string) {
	env := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	env.ReplyTo = replyTo
	g.push(client, env)
}

// writeError writes an error frame directly; used before the writer runs.
func (g *Gateway) writeError(ctx context.Context, conn *websocket.Conn, replyTo, code, msg string) {
	env := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	env.ReplyTo = replyTo
	_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
}

// ---- envelope IO ----

var errBadJSON = errors.New("realtime: bad json")

func newEnvelope(typ string, payload any, ts time.Time) v1.Envelope {
	env := v1.Envelope{
		V:    v1.Version,
		Type: typ,
		ID:   newEnvelopeID(ts),
		TS:   ts,
	}
	if payload != nil {
		// Payload types are plain structs; Marshal cannot fail on them.
		env.Payload, _ = json.Marshal(payload)
	}
	return env
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into websocket.Accept host patterns
// so the two origin checks agree.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
