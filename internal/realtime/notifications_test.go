package realtime

import (
	"errors"
	"testing"
	"time"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

func TestNotificationFeed_PublishAndRead(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	f := NewNotificationFeed(0)

	n1, err := f.Publish("admin:1", v1.Notification{Title: "New credit request"}, now)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n1.ID == "" || n1.Priority != v1.PriorityMedium || n1.CreatedAt.IsZero() || n1.Read {
		t.Fatalf("defaults not applied: %+v", n1)
	}
	if _, err := f.Publish("admin:1", v1.Notification{ID: "n2", Title: "Fraud alert", Priority: v1.PriorityUrgent, Read: true}, now); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := f.Unread("admin:1"); got != 2 {
		t.Fatalf("published notifications start unread, got %d", got)
	}
	if got := f.Unread("admin:2"); got != 0 {
		t.Fatalf("feeds are per identity, got %d", got)
	}

	changed, err := f.MarkRead("admin:1", "n2")
	if err != nil || !changed {
		t.Fatalf("mark read: changed=%v err=%v", changed, err)
	}
	changed, err = f.MarkRead("admin:1", "n2")
	if err != nil || changed {
		t.Fatalf("repeat mark read: changed=%v err=%v", changed, err)
	}
	if _, err := f.MarkRead("admin:1", "nope"); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}

	if n := f.MarkAllRead("admin:1"); n != 1 {
		t.Fatalf("mark all read changed %d, want 1", n)
	}
	if got := f.Unread("admin:1"); got != 0 {
		t.Fatalf("unread after mark all: %d", got)
	}
}

func TestNotificationFeed_Validation(t *testing.T) {
	t.Parallel()

	f := NewNotificationFeed(0)
	now := time.Now()

	if _, err := f.Publish("", v1.Notification{Title: "x"}, now); err == nil {
		t.Fatalf("expected error for missing identity")
	}
	if _, err := f.Publish("admin:1", v1.Notification{}, now); err == nil {
		t.Fatalf("expected error for empty notification")
	}
	if _, err := f.Publish("admin:1", v1.Notification{Title: "x", Priority: "critical"}, now); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}

func TestNotificationFeed_DedupeAndCap(t *testing.T) {
	t.Parallel()

	f := NewNotificationFeed(2)
	now := time.Now()

	for _, id := range []string{"a", "b", "b", "c"} {
		if _, err := f.Publish("admin:1", v1.Notification{ID: id, Title: id}, now); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	list := f.List("admin:1")
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "c" {
		t.Fatalf("expected [b c], got %+v", list)
	}
}
