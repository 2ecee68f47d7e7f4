package v1

import "time"

// Notification namespace types (wire-stable).
const (
	TypeNotificationNew         = "notification:new"
	TypeNotificationUnreadCount = "notification:unread_count"
	TypeNotificationMarkRead    = "notification:mark_read"
	TypeNotificationMarkAllRead = "notification:mark_all_read"
)

var notificationTypes = map[string]struct{}{
	TypeNotificationNew:         {},
	TypeNotificationUnreadCount: {},
	TypeNotificationMarkRead:    {},
	TypeNotificationMarkAllRead: {},
}

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Notification describes a platform occurrence (new credit request, fraud alert, ...).
type Notification struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Body      string    `json:"message"`
	Priority  string    `json:"priority"`
	Read      bool      `json:"isRead"`
	ActionURL string    `json:"actionUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationUnreadPayload is an authoritative unread count for the feed.
type NotificationUnreadPayload struct {
	UnreadCount int `json:"unreadCount"`
}

// NotificationMarkReadPayload marks one notification as read.
type NotificationMarkReadPayload struct {
	NotificationID string `json:"notificationId"`
}

// NotificationMarkAllReadResult carries the server-side count after mark-all-read.
type NotificationMarkAllReadResult struct {
	UnreadCount int `json:"unreadCount"`
}

// ItemID returns the notification id.
func (n Notification) ItemID() string { return n.ID }

// IsRead reports the read flag.
func (n Notification) IsRead() bool { return n.Read }

// WithRead returns a copy with the read flag set.
func (n Notification) WithRead(read bool) Notification {
	n.Read = read
	return n
}
