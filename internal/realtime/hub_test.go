package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow(start.Add(time.Duration(i) * 10 * time.Millisecond)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(start.Add(500 * time.Millisecond)) {
		t.Fatalf("fourth event inside the window must be rejected")
	}
	if got := rl.RetryAfter(start.Add(500 * time.Millisecond)); got != 500*time.Millisecond {
		t.Fatalf("RetryAfter=%s want 500ms", got)
	}
	if !rl.Allow(start.Add(1100 * time.Millisecond)) {
		t.Fatalf("events outside the window must free capacity")
	}
	if !rl.Allow(start.Add(1105*time.Millisecond)) || !rl.Allow(start.Add(1106*time.Millisecond)) {
		t.Fatalf("expired slots must be reusable")
	}
	if rl.Allow(start.Add(1107 * time.Millisecond)) {
		t.Fatalf("three events inside the window again")
	}
	if got := NewRateLimiter(1, time.Second).RetryAfter(start); got != 0 {
		t.Fatalf("fresh limiter RetryAfter=%s", got)
	}
}

func TestRoom_BroadcastSkipsSenderAndCountsDrops(t *testing.T) {
	t.Parallel()

	room := NewRoom(discardLogger(), v1.NamespaceSupport, "C1")
	a := NewClient(v1.NamespaceSupport, Principal{ID: "user:a"}, "s-a", 1)
	b := NewClient(v1.NamespaceSupport, Principal{ID: "admin:b"}, "s-b", 1)

	if !room.Join(a) || !room.Join(b) {
		t.Fatalf("first join must report new membership")
	}
	if room.Join(a) {
		t.Fatalf("second join must not report new membership")
	}

	env := newEnvelope(v1.TypeMessageReceived, nil, time.Now().UTC())
	if sent, dropped := room.Broadcast(env, "s-a"); sent != 1 || dropped != 0 {
		t.Fatalf("first broadcast sent=%d dropped=%d", sent, dropped)
	}
	if len(a.Send) != 0 {
		t.Fatalf("sender must be skipped")
	}
	// b's queue holds one envelope and is now full.
	if sent, dropped := room.Broadcast(env, "s-a"); sent != 0 || dropped != 1 {
		t.Fatalf("full queue: sent=%d dropped=%d", sent, dropped)
	}

	if !room.Leave("s-b") || room.Leave("s-b") {
		t.Fatalf("leave must report membership exactly once")
	}
	if got := room.Members(); len(got) != 1 || got[0].SessionID != "s-a" {
		t.Fatalf("members after leave: %+v", got)
	}
}

func TestHub_UnregisterLeavesRooms(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger())
	c := NewClient(v1.NamespaceSupport, Principal{ID: "user:a"}, "s-a", 8)
	other := NewClient(v1.NamespaceWidget, Principal{ID: "user:a"}, "s-w", 8)
	h.Register(c)
	h.Register(other)

	h.Room(v1.NamespaceSupport, "C1").Join(c)
	h.Room(v1.NamespaceSupport, "C2").Join(c)
	if got := len(h.RoomsOf(v1.NamespaceSupport, "s-a")); got != 2 {
		t.Fatalf("RoomsOf = %d, want 2", got)
	}
	if got := len(h.ClientsOf(v1.NamespaceSupport, "user:a")); got != 1 {
		t.Fatalf("ClientsOf must be scoped by namespace, got %d", got)
	}

	h.Unregister(c)
	if h.LookupRoom(v1.NamespaceSupport, "C1") != nil || h.LookupRoom(v1.NamespaceSupport, "C2") != nil {
		t.Fatalf("empty rooms must be dropped after unregister")
	}
	if h.Len() != 1 {
		t.Fatalf("Len = %d, want 1", h.Len())
	}
}

func TestHub_KickAllRecordsStatus(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger())
	c := NewClient(v1.NamespaceNotifications, Principal{ID: "admin:1"}, "s-1", 8)
	h.Register(c)

	if n := h.KickAll(websocket.StatusGoingAway, "drain"); n != 1 {
		t.Fatalf("KickAll = %d, want 1", n)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("kicked client must be done")
	}
	if code, reason := c.closeStatus(); code != websocket.StatusGoingAway || reason != "drain" {
		t.Fatalf("close status = %v %q", code, reason)
	}
	if c.Offer(newEnvelope(v1.TypeNotificationNew, nil, time.Now())) {
		t.Fatalf("offer after close must fail")
	}

	// A later kick does not overwrite the first status.
	c.Kick(websocket.StatusPolicyViolation, "late")
	if code, _ := c.closeStatus(); code != websocket.StatusGoingAway {
		t.Fatalf("status overwritten: %v", code)
	}
}
