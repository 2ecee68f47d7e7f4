package unread

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

func msg(id string) v1.Message {
	return v1.Message{ID: id, ConversationID: "C1", SenderID: "other", Body: "hi", Kind: v1.MessageText}
}

func TestPushCountsOnlyForeignUnread(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	require.True(t, f.Push(msg("m1"), false))
	require.True(t, f.Push(msg("m2"), true))

	read := msg("m3")
	read.Read = true
	require.True(t, f.Push(read, false))

	assert.Equal(t, 1, f.Unread())
	assert.Equal(t, 3, f.Len())
}

func TestPushIsIdempotentPerID(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	require.True(t, f.Push(msg("m1"), false))
	require.False(t, f.Push(msg("m1"), false))
	assert.Equal(t, 1, f.Unread())
	assert.Equal(t, 1, f.Len())
}

func TestMarkReadNeverGoesNegative(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	f.Push(msg("m1"), false)

	require.True(t, f.MarkRead("m1"))
	assert.Equal(t, 0, f.Unread())

	for i := 0; i < 5; i++ {
		require.False(t, f.MarkRead("m1"))
	}
	assert.Equal(t, 0, f.Unread())

	got, ok := f.Get("m1")
	require.True(t, ok)
	assert.True(t, got.Read)
}

func TestMarkReadUnheldIDIsIdempotent(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	f.SetUnread(3)

	require.True(t, f.MarkRead("older"))
	require.False(t, f.MarkRead("older"))
	assert.Equal(t, 2, f.Unread())
}

func TestReadAckBeforePush(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	f.SetUnread(1)
	f.MarkRead("m1")
	f.Push(msg("m1"), false)

	got, _ := f.Get("m1")
	assert.True(t, got.Read)
	assert.Equal(t, 0, f.Unread())
}

func TestMarkAllReadAdoptsServerCount(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	f.Push(msg("m1"), false)
	f.Push(msg("m2"), false)
	// A push that raced the mark-all-read on the server side.
	f.Push(msg("m3"), false)

	f.MarkAllRead(1)

	assert.Equal(t, 1, f.Unread())
	for _, m := range f.Items() {
		assert.True(t, m.Read, m.ID)
	}

	f.MarkAllRead(-4)
	assert.Equal(t, 0, f.Unread())
}

func TestSetUnreadOverwrites(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	f.Push(msg("m1"), false)
	f.Push(msg("m2"), false)

	f.SetUnread(7)
	assert.Equal(t, 7, f.Unread())
	f.SetUnread(-1)
	assert.Equal(t, 0, f.Unread())
}

func TestLoadDoesNotCount(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	f.Push(msg("m2"), false)

	added := f.Load([]v1.Message{msg("m1"), msg("m2"), msg("m3")})
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, f.Unread())
	assert.Equal(t, 3, f.Len())
}

func TestLimitEvictsOldest(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Notification](WithLimit(2))
	for i := 1; i <= 3; i++ {
		f.Push(v1.Notification{ID: fmt.Sprintf("n%d", i)}, false)
	}

	_, ok := f.Get("n1")
	assert.False(t, ok)
	items := f.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "n2", items[0].ID)
	assert.Equal(t, "n3", items[1].ID)

	require.True(t, f.MarkRead("n3"))
	got, _ := f.Get("n3")
	assert.True(t, got.Read)
}

func TestConcurrentPushAndRead(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("m%d", i)
		wg.Add(2)
		go func() { defer wg.Done(); f.Push(msg(id), false) }()
		go func() { defer wg.Done(); f.MarkRead(id) }()
	}
	wg.Wait()

	assert.Equal(t, 0, f.Unread())
	for _, m := range f.Items() {
		assert.True(t, m.Read, m.ID)
	}
}

func TestMarkReadAfterEvictionIsIdempotent(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message](WithLimit(1))
	f.Push(msg("a"), false)
	require.True(t, f.MarkRead("a"))
	f.Push(msg("b"), false)
	require.Equal(t, 1, f.Unread())

	for i := 0; i < 3; i++ {
		assert.False(t, f.MarkRead("a"))
	}
	assert.Equal(t, 1, f.Unread())

	// Evicted while unread: the first ack counts, later ones do not.
	f.Push(msg("c"), false)
	require.Equal(t, 2, f.Unread())
	assert.True(t, f.MarkRead("b"))
	assert.False(t, f.MarkRead("b"))
	assert.Equal(t, 1, f.Unread())

	assert.False(t, f.Push(msg("a"), false), "evicted ids are not counted twice")
	assert.Equal(t, 1, f.Unread())
}

func TestMarkAllReadCoversEvictedItems(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message](WithLimit(1))
	f.Push(msg("a"), false)
	f.Push(msg("b"), false)

	f.MarkAllRead(0)
	assert.False(t, f.MarkRead("a"))
	assert.Equal(t, 0, f.Unread())
}

func TestPendingAcksAreBounded(t *testing.T) {
	t.Parallel()

	f := NewFeed[v1.Message]()
	n := DefaultLimit + 50
	f.SetUnread(2 * n)
	for i := 0; i < n; i++ {
		require.True(t, f.MarkRead(fmt.Sprintf("x%d", i)))
	}
	assert.Equal(t, n, f.Unread())
	assert.Equal(t, DefaultLimit, f.acked.len())

	// The newest acks are still remembered.
	assert.False(t, f.MarkRead(fmt.Sprintf("x%d", n-1)))
	assert.Equal(t, n, f.Unread())
}

func TestIDSetSurvivesRemoveAndReadd(t *testing.T) {
	t.Parallel()

	s := newIDSet(2)
	s.put("a", false)
	s.put("b", false)
	s.remove("a")
	s.put("a", true)
	s.put("c", false)

	_, hasB := s.get("b")
	assert.False(t, hasB, "b is now the oldest live entry")
	read, hasA := s.get("a")
	assert.True(t, hasA)
	assert.True(t, read)
	assert.Equal(t, 2, s.len())
}
