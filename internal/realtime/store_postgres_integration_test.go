package realtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/cambiartech/buykoins-realtime/internal/ids"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// These tests run only when BKRT_TEST_DATABASE_URL points at a Postgres the
// test may create and drop schemas in.

type pgFixture struct {
	pool    *pgxpool.Pool
	store   *PostgresStore
	members *PostgresMembershipStore
	t       pgTables
	ctx     context.Context
}

func newPGFixture(t *testing.T, timeout time.Duration) *pgFixture {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("BKRT_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("BKRT_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}

	schema := "rt_it_" + strings.ToLower(ids.MustULID(time.Now()))
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = pool.Exec(dropCtx, `DROP SCHEMA IF EXISTS `+pgIdent(schema)+` CASCADE`)
		pool.Close()
	})

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// A second run must be a no-op.
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema again: %v", err)
	}
	members, err := NewPostgresMembershipStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new membership store: %v", err)
	}
	return &pgFixture{pool: pool, store: store, members: members, t: newPGTables(schema), ctx: ctx}
}

func (f *pgFixture) append(t *testing.T, conv, clientMsgID, sender, body string) AppendMessageResult {
	t.Helper()
	res, err := f.store.AppendMessage(f.ctx, AppendMessageInput{
		ConversationID: conv,
		ClientMsgID:    clientMsgID,
		SenderID:       sender,
		SenderType:     v1.SenderUser,
		Kind:           v1.MessageText,
		Body:           body,
	})
	if err != nil {
		t.Fatalf("append %s: %v", clientMsgID, err)
	}
	return res
}

func (f *pgFixture) rowCount(t *testing.T, conv string) int {
	t.Helper()
	var n int
	if err := f.pool.QueryRow(f.ctx, `SELECT count(*) FROM `+f.t.messages+` WHERE conversation_id = $1`, conv).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestPostgresStore_DuplicateClientIDKeepsSeq(t *testing.T) {
	t.Parallel()
	f := newPGFixture(t, 15*time.Second)

	first := f.append(t, "C-dedupe", "cm-1", "user:a", "hello")
	if first.Duplicated || first.Stored.Seq != 1 || first.Stored.ServerMsgID == "" {
		t.Fatalf("first append: %+v", first)
	}
	again := f.append(t, "C-dedupe", "cm-1", "user:a", "hello again")
	if !again.Duplicated || again.Stored.ServerMsgID != first.Stored.ServerMsgID || again.Stored.Body != "hello" {
		t.Fatalf("duplicate append: %+v", again)
	}
	next := f.append(t, "C-dedupe", "cm-2", "user:a", "second")
	if next.Stored.Seq != 2 {
		t.Fatalf("duplicate consumed a seq: next=%d", next.Stored.Seq)
	}
	if n := f.rowCount(t, "C-dedupe"); n != 2 {
		t.Fatalf("rows=%d", n)
	}
}

func TestPostgresStore_FileAttachment(t *testing.T) {
	t.Parallel()
	f := newPGFixture(t, 15*time.Second)

	file := &v1.FileDescriptor{URL: "https://cdn.example/receipt.pdf", Name: "receipt.pdf", Size: 2048, MimeType: "application/pdf"}
	if _, err := f.store.AppendMessage(f.ctx, AppendMessageInput{
		ConversationID: "C-file",
		ClientMsgID:    "cm-file",
		SenderID:       "user:a",
		SenderType:     v1.SenderUser,
		Kind:           v1.MessageFile,
		File:           file,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.append(t, "C-file", "cm-text", "user:a", "no attachment")

	out, err := f.store.FetchHistory(f.ctx, FetchHistoryInput{ConversationID: "C-file"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].File == nil || *out.Messages[0].File != *file || out.Messages[1].File != nil {
		t.Fatalf("attachments: %+v", out.Messages)
	}
}

func TestPostgresStore_HistoryPaging(t *testing.T) {
	t.Parallel()
	f := newPGFixture(t, 20*time.Second)

	for i := range 5 {
		f.append(t, "C-page", fmt.Sprintf("cm-%d", i), "user:a", fmt.Sprintf("m%d", i))
	}

	var seqs []int64
	var after *int64
	for page := 0; ; page++ {
		out, err := f.store.FetchHistory(f.ctx, FetchHistoryInput{ConversationID: "C-page", AfterSeq: after, Limit: 2})
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		for _, m := range out.Messages {
			seqs = append(seqs, m.Seq)
		}
		if !out.HasMore {
			break
		}
		last := out.Messages[len(out.Messages)-1].Seq
		after = &last
	}
	if fmt.Sprint(seqs) != "[1 2 3 4 5]" {
		t.Fatalf("paged seqs: %v", seqs)
	}
}

func TestPostgresStore_ReceiptsAndUnread(t *testing.T) {
	t.Parallel()
	f := newPGFixture(t, 20*time.Second)

	m1 := f.append(t, "C-read", "c1", "user:a", "hi").Stored
	f.append(t, "C-read", "c2", "user:a", "are you there")

	if n, err := f.store.UnreadCount(f.ctx, "C-read", "admin:1"); err != nil || n != 2 {
		t.Fatalf("admin unread: n=%d err=%v", n, err)
	}
	if n, _ := f.store.UnreadCount(f.ctx, "C-read", "user:a"); n != 0 {
		t.Fatalf("sender unread: %d", n)
	}

	if own, err := f.store.MarkRead(f.ctx, MarkReadInput{ServerMsgID: m1.ServerMsgID, ReaderID: "user:a"}); err != nil || own.Changed {
		t.Fatalf("own receipt: %+v err=%v", own, err)
	}
	res, err := f.store.MarkRead(f.ctx, MarkReadInput{ServerMsgID: m1.ServerMsgID, ReaderID: "admin:1"})
	if err != nil || !res.Changed || res.Message.ConversationID != "C-read" {
		t.Fatalf("receipt: %+v err=%v", res, err)
	}
	if again, err := f.store.MarkRead(f.ctx, MarkReadInput{ServerMsgID: m1.ServerMsgID, ReaderID: "admin:1"}); err != nil || again.Changed {
		t.Fatalf("repeat receipt: %+v err=%v", again, err)
	}
	if n, _ := f.store.UnreadCount(f.ctx, "C-read", "admin:1"); n != 1 {
		t.Fatalf("unread after receipt: %d", n)
	}

	out, err := f.store.FetchHistory(f.ctx, FetchHistoryInput{ConversationID: "C-read", ReaderID: "admin:1"})
	if err != nil || !out.Messages[0].Read || out.Messages[1].Read {
		t.Fatalf("read flags: %+v err=%v", out.Messages, err)
	}
	if _, err := f.store.MarkRead(f.ctx, MarkReadInput{ServerMsgID: "nope", ReaderID: "admin:1"}); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("unknown message: %v", err)
	}
}

func TestPostgresStore_ConcurrentAppendsAreGapless(t *testing.T) {
	t.Parallel()
	f := newPGFixture(t, 45*time.Second)

	const n = 32
	g, ctx := errgroup.WithContext(f.ctx)
	for i := range n {
		g.Go(func() error {
			_, err := f.store.AppendMessage(ctx, AppendMessageInput{
				ConversationID: "C-race",
				ClientMsgID:    fmt.Sprintf("cm-%d", i%(n/2)),
				SenderID:       "user:a",
				SenderType:     v1.SenderUser,
				Kind:           v1.MessageText,
				Body:           "x",
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := f.store.FetchHistory(f.ctx, FetchHistoryInput{ConversationID: "C-race", Limit: maxHistoryLimit})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(out.Messages) != n/2 {
		t.Fatalf("each client id once: got %d", len(out.Messages))
	}
	for i, m := range out.Messages {
		if m.Seq != int64(i+1) {
			t.Fatalf("seq gap at %d: %d", i, m.Seq)
		}
	}
}

func TestPostgresMembershipStore(t *testing.T) {
	t.Parallel()
	f := newPGFixture(t, 10*time.Second)

	if ok, err := f.members.IsMember(f.ctx, "user:a", "C-acl"); err != nil || ok {
		t.Fatalf("before grant: ok=%v err=%v", ok, err)
	}
	if err := f.members.AddMember(f.ctx, "user:a", "C-acl", ""); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := f.members.AddMember(f.ctx, "user:a", "C-acl", "owner"); err != nil {
		t.Fatalf("regrant: %v", err)
	}

	var role string
	if err := f.pool.QueryRow(f.ctx, `SELECT role FROM `+f.t.members+` WHERE conversation_id = 'C-acl' AND user_id = 'user:a'`).Scan(&role); err != nil || role != "owner" {
		t.Fatalf("role=%q err=%v", role, err)
	}
	if ok, err := f.members.IsMember(f.ctx, "user:a", "C-acl"); err != nil || !ok {
		t.Fatalf("after grant: ok=%v err=%v", ok, err)
	}
	if ok, _ := f.members.IsMember(f.ctx, " ", "C-acl"); ok {
		t.Fatalf("blank user is never a member")
	}
}
