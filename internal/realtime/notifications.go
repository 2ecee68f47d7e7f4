package realtime

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// ErrNotificationNotFound is returned by MarkRead for an unknown notification id.
var ErrNotificationNotFound = errors.New("realtime: notification not found")

// ErrInvalidNotification is returned by Publish for a notification it cannot store.
var ErrInvalidNotification = errors.New("realtime: invalid notification")

// NotificationFeed keeps the notifications of each identity in memory,
// newest last. It is safe for concurrent use.
type NotificationFeed struct {
	mu    sync.Mutex
	feeds map[string][]v1.Notification
	limit int
}

// NewNotificationFeed constructs an empty feed. limit <= 0 uses the default cap.
func NewNotificationFeed(limit int) *NotificationFeed {
	if limit <= 0 {
		limit = maxNotificationsPerIdentity
	}
	return &NotificationFeed{
		feeds: make(map[string][]v1.Notification),
		limit: limit,
	}
}

// Publish stores n for identityID and returns the stored copy. Missing ids,
// priorities and timestamps are filled in.
func (f *NotificationFeed) Publish(identityID string, n v1.Notification, now time.Time) (v1.Notification, error) {
	if strings.TrimSpace(identityID) == "" {
		return v1.Notification{}, fmt.Errorf("%w: missing identity", ErrInvalidNotification)
	}
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Body) == "" {
		return v1.Notification{}, fmt.Errorf("%w: empty title and message", ErrInvalidNotification)
	}
	if n.Priority == "" {
		n.Priority = v1.PriorityMedium
	}
	if !v1.ValidPriority(n.Priority) {
		return v1.Notification{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidNotification, n.Priority)
	}
	if n.ID == "" {
		n.ID = newServerMsgID(now)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now.UTC()
	}
	n.Read = false

	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.feeds[identityID]
	for _, cur := range list {
		if cur.ID == n.ID {
			return cur, nil
		}
	}
	list = append(list, n)
	if len(list) > f.limit {
		list = list[len(list)-f.limit:]
	}
	f.feeds[identityID] = list
	return n, nil
}

// MarkRead flags one notification read. It reports whether the flag changed.
func (f *NotificationFeed) MarkRead(identityID, notificationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.feeds[identityID]
	for i := range list {
		if list[i].ID != notificationID {
			continue
		}
		if list[i].Read {
			return false, nil
		}
		list[i].Read = true
		return true, nil
	}
	return false, ErrNotificationNotFound
}

// MarkAllRead flags every notification read and returns how many changed.
func (f *NotificationFeed) MarkAllRead(identityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	list := f.feeds[identityID]
	for i := range list {
		if !list[i].Read {
			list[i].Read = true
			n++
		}
	}
	return n
}

// Unread counts unread notifications of identityID.
func (f *NotificationFeed) Unread(identityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, it := range f.feeds[identityID] {
		if !it.Read {
			n++
		}
	}
	return n
}

// List returns a copy of identityID's notifications, oldest first.
func (f *NotificationFeed) List(identityID string) []v1.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.feeds[identityID]
	out := make([]v1.Notification, len(list))
	copy(out, list)
	return out
}
