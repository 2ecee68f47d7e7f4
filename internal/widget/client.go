// Package widget is the onboarding-widget façade: it tracks guided-flow sessions
// (onboarding, withdrawal, deposit) pushed by the gateway and submits their steps.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cambiartech/buykoins-realtime/internal/channel"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// Rooms is the widget-session join/leave protocol.
var Rooms = channel.RoomProtocol{
	Join:  v1.TypeWidgetJoin,
	Leave: v1.TypeWidgetLeave,
	Payload: func(room string) any {
		return v1.WidgetSessionPayload{SessionID: room}
	},
}

var (
	// ErrTerminal is returned for steps submitted to a completed, abandoned, or failed session.
	ErrTerminal = errors.New("widget: session is terminal")
	// ErrUnknownSession is returned for a session this client has no state for.
	ErrUnknownSession = errors.New("widget: unknown session")
)

type options struct {
	log     *slog.Logger
	channel []channel.Option
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger shared by the Client and its Session.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithChannelOptions passes options through to the underlying channel.Session.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(o *options) { o.channel = append(o.channel, opts...) }
}

// Client tracks widget sessions over one Session.
type Client struct {
	sess *channel.Session
	log  *slog.Logger
	subs channel.Group

	mu       sync.RWMutex
	sessions map[string]*State
}

// New builds an idle Client. Guests are allowed; pair it with
// channel.WithGuestStore to keep the same guest across restarts.
func New(baseURL string, cred channel.Credential, opts ...Option) (*Client, error) {
	o := options{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	endpoint, err := channel.Endpoint(baseURL, v1.NamespaceWidget)
	if err != nil {
		return nil, err
	}
	sess, err := channel.New(endpoint, v1.NamespaceWidget, cred,
		append([]channel.Option{channel.WithLogger(o.log), channel.WithRooms(Rooms)}, o.channel...)...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		sess:     sess,
		log:      o.log.With("component", "widget"),
		sessions: make(map[string]*State),
	}
	c.bind()
	return c, nil
}

func (c *Client) Session() *channel.Session { return c.sess }

func (c *Client) Connect(ctx context.Context) (channel.Identity, error) {
	if c.subs.Len() == 0 {
		c.bind()
	}
	return c.sess.Connect(ctx)
}

// Close disconnects. Session states are kept.
func (c *Client) Close() error {
	c.subs.Close()
	return c.sess.Close()
}

func (c *Client) bind() {
	d := c.sess.Events()
	c.subs.Add(
		channel.OnJSON(d, v1.TypeWidgetInit, c.init),
		channel.OnJSON(d, v1.TypeWidgetStep, func(p v1.WidgetStepPayload) {
			c.update(p.SessionID, func(s *State) {
				if !s.step(p) && s.Terminal() {
					c.log.Info("widget.step.ignored", "session_id", p.SessionID, "status", s.Status)
				}
			})
		}),
		channel.OnJSON(d, v1.TypeWidgetComplete, func(p v1.WidgetCompletePayload) {
			c.update(p.SessionID, func(s *State) { s.complete(p) })
		}),
		channel.OnJSON(d, v1.TypeWidgetStatus, func(p v1.WidgetStatusPayload) {
			c.update(p.SessionID, func(s *State) { s.status(p) })
		}),
		channel.OnJSON(d, v1.TypeWidgetError, func(p v1.WidgetErrorPayload) {
			c.update(p.SessionID, func(s *State) { s.fail(p) })
			c.log.Warn("widget.error", "session_id", p.SessionID, "step", p.Step, "error", p.Error)
		}),
	)
}

func (c *Client) init(p v1.WidgetInitPayload) {
	if p.SessionID == "" {
		return
	}
	c.mu.Lock()
	c.sessions[p.SessionID] = newState(p)
	c.mu.Unlock()
}

func (c *Client) update(id string, fn func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions[id]
	if s == nil {
		// Pushes for a session this client never saw (for example one started in
		// another tab) still get tracked.
		s = &State{SessionID: id, Status: v1.WidgetActive, Data: make(map[string]any)}
		c.sessions[id] = s
	}
	fn(s)
}

// Start asks the gateway for a new flow and joins its room.
func (c *Client) Start(ctx context.Context, trigger string) (State, error) {
	raw, err := c.sess.Request(ctx, v1.TypeWidgetStart, v1.WidgetStartPayload{Trigger: trigger})
	if err != nil {
		return State{}, err
	}
	var p v1.WidgetInitPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return State{}, fmt.Errorf("widget: decode start result: %w", err)
	}
	if p.SessionID == "" {
		return State{}, errors.New("widget: start result without session id")
	}

	c.mu.Lock()
	if _, ok := c.sessions[p.SessionID]; !ok {
		c.sessions[p.SessionID] = newState(p)
	}
	c.mu.Unlock()

	if err := c.sess.Join(ctx, p.SessionID); err != nil {
		return State{}, err
	}
	st, _ := c.State(p.SessionID)
	return st, nil
}

// Join follows an existing session; the gateway answers with widget:status.
func (c *Client) Join(ctx context.Context, sessionID string) error {
	return c.sess.Join(ctx, strings.TrimSpace(sessionID))
}

func (c *Client) Leave(ctx context.Context, sessionID string) error {
	return c.sess.Leave(ctx, strings.TrimSpace(sessionID))
}

// SubmitStep sends data for step. The next step arrives as a widget:step push;
// on ack the data is merged into the local state.
func (c *Client) SubmitStep(ctx context.Context, sessionID, step string, data map[string]any) error {
	c.mu.RLock()
	s := c.sessions[sessionID]
	var terminal bool
	if s != nil {
		terminal = s.Terminal()
	}
	c.mu.RUnlock()

	if s == nil {
		return ErrUnknownSession
	}
	if terminal {
		return ErrTerminal
	}

	raw, err := c.sess.Request(ctx, v1.TypeWidgetSubmitStep, v1.WidgetSubmitStepPayload{
		SessionID: sessionID,
		Step:      step,
		Data:      data,
	})
	if err != nil {
		return err
	}

	next, ok := c.stepFromAck(raw)
	c.update(sessionID, func(s *State) {
		s.merge(data)
		if ok && next.SessionID == sessionID {
			s.step(next)
		}
	})
	return nil
}

// stepFromAck decodes the next step carried by a submit ack. An empty result is
// not an error; an undecodable one is logged and ignored, since the push that
// follows carries the same step.
func (c *Client) stepFromAck(raw json.RawMessage) (v1.WidgetStepPayload, bool) {
	var next v1.WidgetStepPayload
	if len(raw) == 0 || string(raw) == "null" {
		return next, false
	}
	if err := json.Unmarshal(raw, &next); err != nil {
		perr := &channel.ProtocolError{Namespace: v1.NamespaceWidget, Event: v1.TypeWidgetSubmitStep, Err: err}
		c.log.Warn("widget.ack.drop", "namespace", perr.Namespace, "event", perr.Event, "err", perr)
		return v1.WidgetStepPayload{}, false
	}
	return next, true
}

// Abandon ends a session early.
func (c *Client) Abandon(ctx context.Context, sessionID string) error {
	st, ok := c.State(sessionID)
	if ok && st.Terminal() {
		return ErrTerminal
	}
	if _, err := c.sess.Request(ctx, v1.TypeWidgetAbandon, v1.WidgetSessionPayload{SessionID: sessionID}); err != nil {
		return err
	}
	c.update(sessionID, func(s *State) {
		if !s.Terminal() {
			s.Status = v1.WidgetAbandoned
		}
	})
	return nil
}

// State returns a copy of one session's state.
func (c *Client) State(sessionID string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.sessions[sessionID]
	if s == nil {
		return State{}, false
	}
	return s.clone(), true
}

// Sessions lists known session ids.
func (c *Client) Sessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Forget drops local state of a session and leaves its room.
func (c *Client) Forget(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	return c.sess.Leave(ctx, sessionID)
}
