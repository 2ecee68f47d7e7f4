// Package notify is the notification-feed façade over a channel.Session.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cambiartech/buykoins-realtime/internal/alert"
	"github.com/cambiartech/buykoins-realtime/internal/channel"
	"github.com/cambiartech/buykoins-realtime/internal/unread"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
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

// WithAlerter plays an alert for every new notification.
func WithAlerter(a alert.Alerter) Option {
	return func(o *options) { o.alerter = a }
}

// WithChannelOptions passes options through to the underlying Session.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(o *options) { o.channel = append(o.channel, opts...) }
}

// WithFeedLimit bounds the notifications kept locally.
func WithFeedLimit(n int) Option {
	return func(o *options) { o.feedLimit = n }
}

// Client holds the notification feed of one identity.
type Client struct {
	sess    *channel.Session
	log     *slog.Logger
	alerter alert.Alerter
	now     func() time.Time
	feed    *unread.Feed[v1.Notification]
	subs    channel.Group
}

// New builds an idle Client. The notifications namespace rejects guests.
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

	endpoint, err := channel.Endpoint(baseURL, v1.NamespaceNotifications)
	if err != nil {
		return nil, err
	}
	sess, err := channel.New(endpoint, v1.NamespaceNotifications, cred,
		append([]channel.Option{channel.WithLogger(o.log)}, o.channel...)...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		sess:    sess,
		log:     o.log.With("component", "notify"),
		alerter: alert.OrNop(o.alerter),
		now:     o.now,
		feed:    unread.NewFeed[v1.Notification](unread.WithLimit(o.feedLimit)),
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

func (c *Client) Close() error {
	c.subs.Close()
	return c.sess.Close()
}

func (c *Client) bind() {
	d := c.sess.Events()
	c.subs.Add(
		channel.OnJSON(d, v1.TypeNotificationNew, c.receive),
		channel.OnJSON(d, v1.TypeNotificationUnreadCount, func(p v1.NotificationUnreadPayload) {
			c.feed.SetUnread(p.UnreadCount)
		}),
	)
}

func (c *Client) receive(n v1.Notification) {
	if !c.feed.Push(n, false) || n.Read {
		return
	}
	c.alerter.Alert(alert.Alert{
		Kind:     alert.KindNotification,
		Source:   n.Category,
		Title:    n.Title,
		Priority: n.Priority,
		At:       c.now(),
	})
}

// MarkRead marks one notification read once the gateway acknowledges it.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	if _, err := c.sess.Request(ctx, v1.TypeNotificationMarkRead, v1.NotificationMarkReadPayload{NotificationID: id}); err != nil {
		return err
	}
	c.feed.MarkRead(id)
	return nil
}

// MarkAllRead flips every held notification and adopts the count the gateway
// returns, which already includes anything that arrived meanwhile.
func (c *Client) MarkAllRead(ctx context.Context) (int, error) {
	raw, err := c.sess.Request(ctx, v1.TypeNotificationMarkAllRead, struct{}{})
	if err != nil {
		return 0, err
	}
	var res v1.NotificationMarkAllReadResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("notify: decode mark-all result: %w", err)
	}
	c.feed.MarkAllRead(res.UnreadCount)
	return res.UnreadCount, nil
}

// MarkReadAsync is MarkRead with the outcome delivered to done.
func (c *Client) MarkReadAsync(ctx context.Context, id string, done func(error)) error {
	return c.sess.RequestAsync(ctx, v1.TypeNotificationMarkRead, v1.NotificationMarkReadPayload{NotificationID: id},
		func(_ json.RawMessage, err error) {
			if err == nil {
				c.feed.MarkRead(id)
			}
			if done != nil {
				done(err)
			}
		})
}

// Notifications returns the held notifications in arrival order.
func (c *Client) Notifications() []v1.Notification { return c.feed.Items() }

// Notification returns one held notification.
func (c *Client) Notification(id string) (v1.Notification, bool) { return c.feed.Get(id) }

// Unread returns the unread counter.
func (c *Client) Unread() int { return c.feed.Unread() }
