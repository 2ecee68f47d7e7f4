package realtime

import (
	"context"
	"strings"
	"time"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

func (g *Gateway) notificationRoutes() map[string]route {
	return map[string]route{
		v1.TypeNotificationMarkRead:    {ack: true, fn: g.onNotificationMarkRead},
		v1.TypeNotificationMarkAllRead: {ack: true, fn: g.onNotificationMarkAllRead},
	}
}

// Notifications exposes the per-identity feed.
func (g *Gateway) Notifications() *NotificationFeed { return g.notes }

// PublishNotification stores n for identityID and pushes it, followed by the
// new unread count, to every live session of that identity.
func (g *Gateway) PublishNotification(_ context.Context, identityID string, n v1.Notification) (v1.Notification, error) {
	now := time.Now().UTC()
	stored, err := g.notes.Publish(strings.TrimSpace(identityID), n, now)
	if err != nil {
		return v1.Notification{}, err
	}

	sessions := g.hub.ClientsOf(v1.NamespaceNotifications, identityID)
	for _, c := range sessions {
		g.push(c, newEnvelope(v1.TypeNotificationNew, stored, now))
	}
	g.pushNotificationUnread(identityID, "")

	g.log.Info("notification.publish", "identity", identityID, "notification_id", stored.ID, "priority", stored.Priority, "sessions", len(sessions))
	return stored, nil
}

// pushNotificationUnread sends the authoritative count to identityID's
// sessions, skipping exceptSession.
func (g *Gateway) pushNotificationUnread(identityID, exceptSession string) {
	env := newEnvelope(v1.TypeNotificationUnreadCount, v1.NotificationUnreadPayload{
		UnreadCount: g.notes.Unread(identityID),
	}, time.Now().UTC())
	for _, c := range g.hub.ClientsOf(v1.NamespaceNotifications, identityID) {
		if c.SessionID == exceptSession {
			continue
		}
		g.push(c, env)
	}
}

func (g *Gateway) onNotificationMarkRead(_ context.Context, c *call) (any, error) {
	var p v1.NotificationMarkReadPayload
	if err := c.decode(&p); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(p.NotificationID)
	if id == "" {
		return nil, replyErr(v1.ErrCodeBadPayload, "missing notificationId")
	}

	identity := c.client.Principal.ID
	changed, err := g.notes.MarkRead(identity, id)
	if err != nil {
		return nil, err
	}
	if changed {
		c.then(func() { g.pushNotificationUnread(identity, c.client.SessionID) })
	}
	return v1.NotificationUnreadPayload{UnreadCount: g.notes.Unread(identity)}, nil
}

func (g *Gateway) onNotificationMarkAllRead(_ context.Context, c *call) (any, error) {
	identity := c.client.Principal.ID
	if n := g.notes.MarkAllRead(identity); n > 0 {
		c.then(func() { g.pushNotificationUnread(identity, c.client.SessionID) })
	}
	return v1.NotificationMarkAllReadResult{UnreadCount: g.notes.Unread(identity)}, nil
}
