// Package support is the support-chat façade over a channel.Session: it supplies
// the support event table and keeps per-conversation message lists, unread
// counters, and typing indicators in sync with server pushes.
package support

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
	"time"

	"github.com/google/uuid"

	"github.com/cambiartech/buykoins-realtime/internal/alert"
	"github.com/cambiartech/buykoins-realtime/internal/channel"
	"github.com/cambiartech/buykoins-realtime/internal/unread"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// Rooms is the conversation join/leave protocol.
var Rooms = channel.RoomProtocol{
	Join:  v1.TypeConversationJoin,
	Leave: v1.TypeConversationLeave,
	Payload: func(room string) any {
		return v1.ConversationPayload{ConversationID: room}
	},
}

var (
	ErrEmptyConversation = errors.New("support: empty conversation id")
	ErrEmptyMessage      = errors.New("support: empty message")
)

type options struct {
	log       *slog.Logger
	alerter   alert.Alerter
	channel   []channel.Option
	feedLimit int
	now       func() time.Time
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

// WithAlerter plays an alert for every message from someone else.
func WithAlerter(a alert.Alerter) Option {
	return func(o *options) { o.alerter = a }
}

// WithChannelOptions passes options through to the underlying Session.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(o *options) { o.channel = append(o.channel, opts...) }
}

// WithFeedLimit bounds the messages kept per conversation.
func WithFeedLimit(n int) Option {
	return func(o *options) { o.feedLimit = n }
}

// Client is one support-chat connection plus its local view.
type Client struct {
	sess    *channel.Session
	log     *slog.Logger
	alerter alert.Alerter
	limit   int
	now     func() time.Time

	subs channel.Group

	mu          sync.RWMutex
	feeds       map[string]*unread.Feed[v1.Message]
	typing      map[string]map[string]time.Time
	serverTotal *int
	lastError   string
}

// New builds an idle Client for the gateway at baseURL.
func New(baseURL string, cred channel.Credential, opts ...Option) (*Client, error) {
	o := options{
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		feedLimit: unread.DefaultLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	endpoint, err := channel.Endpoint(baseURL, v1.NamespaceSupport)
	if err != nil {
		return nil, err
	}
	chOpts := append([]channel.Option{channel.WithLogger(o.log), channel.WithRooms(Rooms)}, o.channel...)
	sess, err := channel.New(endpoint, v1.NamespaceSupport, cred, chOpts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		sess:    sess,
		log:     o.log.With("component", "support"),
		alerter: alert.OrNop(o.alerter),
		limit:   o.feedLimit,
		now:     o.now,
		feeds:   make(map[string]*unread.Feed[v1.Message]),
		typing:  make(map[string]map[string]time.Time),
	}
	c.bind()
	return c, nil
}

// Session exposes the underlying Session for extra subscriptions.
func (c *Client) Session() *channel.Session { return c.sess }

// Connect opens the Session. Handlers released by a previous Close are rebound.
func (c *Client) Connect(ctx context.Context) (channel.Identity, error) {
	if c.subs.Len() == 0 {
		c.bind()
	}
	return c.sess.Connect(ctx)
}

// Close disconnects. Messages and counters are kept.
func (c *Client) Close() error {
	c.subs.Close()
	return c.sess.Close()
}

func (c *Client) bind() {
	d := c.sess.Events()
	c.subs.Add(
		channel.OnJSON(d, v1.TypeMessageReceived, func(m v1.Message) { c.receive(m) }),
		channel.OnJSON(d, v1.TypeConversationNewMessage, func(p v1.NewMessagePayload) {
			m := p.Message
			if m.ConversationID == "" {
				m.ConversationID = p.ConversationID
			}
			c.receive(m)
		}),
		channel.OnJSON(d, v1.TypeConversationUnreadUpdated, c.applyUnread),
		channel.OnJSON(d, v1.TypeTypingStart, func(p v1.TypingPayload) { c.setTyping(p, true) }),
		channel.OnJSON(d, v1.TypeTypingStop, func(p v1.TypingPayload) { c.setTyping(p, false) }),
		channel.OnJSON(d, v1.TypeConversationJoined, func(p v1.ConversationPayload) {
			c.log.Debug("support.joined", "conversation_id", p.ConversationID)
		}),
		channel.OnJSON(d, v1.TypeMessageError, func(p v1.MessageErrorPayload) {
			c.mu.Lock()
			c.lastError = p.Error
			c.mu.Unlock()
			c.log.Warn("support.message_error", "error", p.Error)
		}),
	)
}

func (c *Client) feed(conversationID string) *unread.Feed[v1.Message] {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.feeds[conversationID]
	if f == nil {
		f = unread.NewFeed[v1.Message](unread.WithLimit(c.limit))
		c.feeds[conversationID] = f
	}
	return f
}

func (c *Client) lookup(conversationID string) *unread.Feed[v1.Message] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeds[conversationID]
}

func (c *Client) fromSelf(m v1.Message) bool {
	id := c.sess.Identity().ID
	return id != "" && m.SenderID == id
}

func (c *Client) receive(m v1.Message) {
	if m.ID == "" || m.ConversationID == "" {
		c.log.Warn("support.message.drop", "reason", "missing id", "message_id", m.ID)
		return
	}
	self := c.fromSelf(m)
	if !c.feed(m.ConversationID).Push(m, self) || self {
		return
	}

	c.clearTyping(m.ConversationID, m.SenderID)
	c.alerter.Alert(alert.Alert{
		Kind:   alert.KindChatMessage,
		Source: m.ConversationID,
		Title:  m.Body,
		At:     c.now(),
	})
}

func (c *Client) applyUnread(p v1.UnreadCountPayload) {
	if p.ConversationID != "" {
		c.feed(p.ConversationID).SetUnread(p.UnreadCount)
	}
	if p.TotalUnreadCount != nil {
		total := *p.TotalUnreadCount
		c.mu.Lock()
		c.serverTotal = &total
		c.mu.Unlock()
	}
}

func (c *Client) setTyping(p v1.TypingPayload, on bool) {
	if p.ConversationID == "" || p.SenderID == "" {
		return
	}
	if !on {
		c.clearTyping(p.ConversationID, p.SenderID)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.typing[p.ConversationID]
	if m == nil {
		m = make(map[string]time.Time)
		c.typing[p.ConversationID] = m
	}
	m[p.SenderID] = c.now()
}

func (c *Client) clearTyping(conversationID, senderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.typing[conversationID]; m != nil {
		delete(m, senderID)
		if len(m) == 0 {
			delete(c.typing, conversationID)
		}
	}
}

// Join subscribes to a conversation. It is replayed after every reconnect.
func (c *Client) Join(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrEmptyConversation
	}
	return c.sess.Join(ctx, conversationID)
}

// Leave unsubscribes from a conversation. It never requires an open Session.
func (c *Client) Leave(ctx context.Context, conversationID string) error {
	return c.sess.Leave(ctx, strings.TrimSpace(conversationID))
}

// StartTyping signals typing in a conversation.
func (c *Client) StartTyping(ctx context.Context, conversationID string) error {
	return c.sess.Emit(ctx, v1.TypeTypingStart, v1.ConversationPayload{ConversationID: conversationID})
}

// StopTyping clears the typing signal.
func (c *Client) StopTyping(ctx context.Context, conversationID string) error {
	return c.sess.Emit(ctx, v1.TypeTypingStop, v1.ConversationPayload{ConversationID: conversationID})
}

// SendMessage sends a message and waits until the gateway has persisted it. The
// stored message is added to the local list without touching the unread counter.
func (c *Client) SendMessage(ctx context.Context, p v1.MessageSendPayload) (v1.Message, error) {
	p.ConversationID = strings.TrimSpace(p.ConversationID)
	if p.ConversationID == "" {
		return v1.Message{}, ErrEmptyConversation
	}
	if p.MessageType == "" {
		p.MessageType = v1.MessageText
	}
	if strings.TrimSpace(p.Message) == "" && p.File == nil {
		return v1.Message{}, ErrEmptyMessage
	}
	if p.ClientMsgID == "" {
		p.ClientMsgID = uuid.NewString()
	}

	raw, err := c.sess.Request(ctx, v1.TypeMessageSend, p)
	if err != nil {
		return v1.Message{}, err
	}
	var m v1.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return v1.Message{}, fmt.Errorf("support: decode send result: %w", err)
	}
	if m.ConversationID == "" {
		m.ConversationID = p.ConversationID
	}
	c.feed(m.ConversationID).Push(m, true)
	return m, nil
}

// MarkRead marks one message read once the gateway acknowledges it.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	raw, err := c.sess.Request(ctx, v1.TypeMessageRead, v1.MessageReadPayload{MessageID: messageID})
	if err != nil {
		return err
	}
	var res v1.MessageReadResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("support: decode read result: %w", err)
	}
	if res.MessageID == "" {
		res.MessageID = messageID
	}
	if res.ConversationID == "" {
		res.ConversationID = c.conversationOf(res.MessageID)
	}
	if res.ConversationID == "" {
		c.log.Warn("support.read.unknown", "message_id", res.MessageID)
		return nil
	}
	c.feed(res.ConversationID).MarkRead(res.MessageID)
	return nil
}

// History loads a page of older messages. Loaded messages never change counters.
func (c *Client) History(ctx context.Context, conversationID string, afterSeq *int64, limit int) (v1.HistoryResult, error) {
	raw, err := c.sess.Request(ctx, v1.TypeConversationHistory, v1.HistoryPayload{
		ConversationID: conversationID,
		AfterSeq:       afterSeq,
		Limit:          limit,
	})
	if err != nil {
		return v1.HistoryResult{}, err
	}
	var res v1.HistoryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return v1.HistoryResult{}, fmt.Errorf("support: decode history: %w", err)
	}
	c.feed(conversationID).Load(res.Messages)
	return res, nil
}

func (c *Client) conversationOf(messageID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, f := range c.feeds {
		if _, ok := f.Get(messageID); ok {
			return id
		}
	}
	return ""
}

// Messages returns the held messages of a conversation in arrival order.
func (c *Client) Messages(conversationID string) []v1.Message {
	f := c.lookup(conversationID)
	if f == nil {
		return nil
	}
	return f.Items()
}

// Message returns one held message.
func (c *Client) Message(conversationID, messageID string) (v1.Message, bool) {
	f := c.lookup(conversationID)
	if f == nil {
		return v1.Message{}, false
	}
	return f.Get(messageID)
}

// Unread returns the unread counter of a conversation.
func (c *Client) Unread(conversationID string) int {
	f := c.lookup(conversationID)
	if f == nil {
		return 0
	}
	return f.Unread()
}

// TotalUnread sums the per-conversation counters.
func (c *Client) TotalUnread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, f := range c.feeds {
		n += f.Unread()
	}
	return n
}

// ServerTotalUnread returns the last total pushed by the gateway.
func (c *Client) ServerTotalUnread() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.serverTotal == nil {
		return 0, false
	}
	return *c.serverTotal, true
}

// Conversations lists conversations with local state.
func (c *Client) Conversations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.feeds))
	for id := range c.feeds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Typing lists senders currently typing in a conversation.
func (c *Client) Typing(conversationID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.typing[conversationID]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LastError returns the last message:error pushed by the gateway.
func (c *Client) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}
