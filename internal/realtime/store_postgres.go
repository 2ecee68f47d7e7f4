// Package realtime contains the buykoins realtime WebSocket gateway (support,
// notifications, widget namespaces) and its persistence primitives.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// DefaultSchema is the Postgres schema used by the stores.
const DefaultSchema = "rt"

var (
	ErrNilPool         = errors.New("realtime: nil pool")
	ErrInvalidSchema   = errors.New("realtime: invalid schema identifier")
	ErrInvalidMessage  = errors.New("realtime: invalid message")
	ErrInvalidReceipt  = errors.New("realtime: invalid read receipt")
	ErrMissingConvID   = errors.New("realtime: missing conversation id")
	errNilMessageStore = errors.New("realtime: nil store")
)

// pgTables holds the quoted, schema-qualified table names shared by the
// Postgres stores.
type pgTables struct {
	schema        string
	conversations string
	cursors       string
	messages      string
	reads         string
	members       string
}

func newPGTables(schema string) pgTables {
	return pgTables{
		schema:        schema,
		conversations: pgIdent(schema, "conversations"),
		cursors:       pgIdent(schema, "conversation_cursors"),
		messages:      pgIdent(schema, "messages"),
		reads:         pgIdent(schema, "message_reads"),
		members:       pgIdent(schema, "conversation_members"),
	}
}

// pgOptions is what PostgresOption configures.
type pgOptions struct {
	schema string
}

// PostgresOption configures PostgresStore and PostgresMembershipStore.
type PostgresOption func(*pgOptions) error

// WithSchema selects the schema holding the realtime tables (default "rt").
func WithSchema(schema string) PostgresOption {
	return func(o *pgOptions) error {
		v, err := validSchema(schema)
		if err != nil {
			return err
		}
		o.schema = v
		return nil
	}
}

func applyPGOptions(pool *pgxpool.Pool, opts []PostgresOption) (pgTables, error) {
	if pool == nil {
		return pgTables{}, ErrNilPool
	}
	o := pgOptions{schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return pgTables{}, err
		}
	}
	return newPGTables(o.schema), nil
}

// PostgresStore is a MessageStore on PostgreSQL. It borrows the pool; Close
// does not close it. Appends take a per-conversation advisory lock, so
// duplicates never consume a seq and seqs stay gapless under concurrency.
type PostgresStore struct {
	pool *pgxpool.Pool
	t    pgTables
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	t, err := applyPGOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, t: t}, nil
}

func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the message, receipt and membership tables.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, s.pool, s.t)
}

func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if s == nil || s.pool == nil {
		return AppendMessageResult{}, errNilMessageStore
	}
	if in.ConversationID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return AppendMessageResult{}, fmt.Errorf("%w: conversation, client id and sender are required", ErrInvalidMessage)
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	file, err := encodeFile(in.File)
	if err != nil {
		return AppendMessageResult{}, err
	}

	var out AppendMessageResult
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		if err := s.ensureConversation(ctx, tx, in.ConversationID); err != nil {
			return err
		}

		existing, err := s.scanOne(ctx, tx, `conversation_id = $1 AND client_msg_id = $2`, in.ConversationID, in.ClientMsgID)
		switch {
		case err == nil:
			out = AppendMessageResult{Stored: existing, Duplicated: true}
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		var seq int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO `+s.t.cursors+` AS c (conversation_id, next_seq) VALUES ($1, 2)
			 ON CONFLICT (conversation_id) DO UPDATE
			    SET next_seq = c.next_seq + 1, updated_at = now()
			 RETURNING c.next_seq - 1`,
			in.ConversationID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("allocate seq: %w", err)
		}

		msg := StoredMessage{
			ConversationID: in.ConversationID,
			ClientMsgID:    in.ClientMsgID,
			ServerMsgID:    newServerMsgID(now),
			Seq:            seq,
			SenderID:       in.SenderID,
			SenderType:     in.SenderType,
			Kind:           in.Kind,
			Body:           in.Body,
			File:           in.File,
			ServerTS:       now,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.t.messages+`
			   (conversation_id, seq, server_msg_id, client_msg_id, sender_id, sender_type, kind, body, file, server_ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			msg.ConversationID, msg.Seq, msg.ServerMsgID, msg.ClientMsgID, msg.SenderID,
			msg.SenderType, msg.Kind, msg.Body, file, msg.ServerTS,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		out = AppendMessageResult{Stored: msg}
		return nil
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	return out, nil
}

func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if s == nil || s.pool == nil {
		return FetchHistoryResult{}, errNilMessageStore
	}
	if in.ConversationID == "" {
		return FetchHistoryResult{}, ErrMissingConvID
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := historyLimit(in.Limit)
	var after int64
	if in.AfterSeq != nil {
		after = *in.AfterSeq
	}

	// One extra row tells whether another page exists. A message is read for
	// its sender, for an anonymous reader, or once a receipt exists.
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns("m")+`,
		        ($3 = '' OR m.sender_id = $3 OR r.reader_id IS NOT NULL)
		   FROM `+s.t.messages+` m
		   LEFT JOIN `+s.t.reads+` r ON r.server_msg_id = m.server_msg_id AND r.reader_id = $3
		  WHERE m.conversation_id = $1 AND m.seq > $2
		  ORDER BY m.seq
		  LIMIT $4`,
		in.ConversationID, after, in.ReaderID, limit+1,
	)
	if err != nil {
		return FetchHistoryResult{}, err
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (HistoryMessage, error) {
		var h HistoryMessage
		err := scanMessage(row, &h.StoredMessage, &h.Read)
		return h, err
	})
	if err != nil {
		return FetchHistoryResult{}, err
	}

	res := FetchHistoryResult{Messages: msgs}
	if len(msgs) > limit {
		res.Messages, res.HasMore = msgs[:limit], true
	}
	return res, nil
}

// MarkRead records a receipt. Repeats and a sender reading their own message
// report Changed=false.
func (s *PostgresStore) MarkRead(ctx context.Context, in MarkReadInput) (MarkReadResult, error) {
	if s == nil || s.pool == nil {
		return MarkReadResult{}, errNilMessageStore
	}
	if in.ServerMsgID == "" || in.ReaderID == "" {
		return MarkReadResult{}, ErrInvalidReceipt
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	msg, err := s.scanOne(ctx, s.pool, `server_msg_id = $1`, in.ServerMsgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return MarkReadResult{}, ErrMessageNotFound
	}
	if err != nil {
		return MarkReadResult{}, err
	}
	if msg.SenderID == in.ReaderID {
		return MarkReadResult{Message: msg}, nil
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.t.reads+` (server_msg_id, reader_id, read_at) VALUES ($1, $2, $3)
		 ON CONFLICT (server_msg_id, reader_id) DO NOTHING`,
		in.ServerMsgID, in.ReaderID, now,
	)
	if err != nil {
		return MarkReadResult{}, fmt.Errorf("insert receipt: %w", err)
	}
	return MarkReadResult{Message: msg, Changed: tag.RowsAffected() == 1}, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, conversationID, readerID string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, errNilMessageStore
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		   FROM `+s.t.messages+` m
		  WHERE m.conversation_id = $1
		    AND m.sender_id <> $2
		    AND NOT EXISTS (SELECT 1 FROM `+s.t.reads+` r
		                     WHERE r.server_msg_id = m.server_msg_id AND r.reader_id = $2)`,
		conversationID, readerID,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) ensureConversation(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO `+s.t.conversations+` (id, kind) VALUES ($1, 'support') ON CONFLICT (id) DO NOTHING`, id)
	return err
}

type pgRowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) scanOne(ctx context.Context, q pgRowQuerier, where string, args ...any) (StoredMessage, error) {
	var m StoredMessage
	row := q.QueryRow(ctx, `SELECT `+messageColumns("m")+` FROM `+s.t.messages+` m WHERE `+where, args...)
	return m, scanMessage(row, &m)
}

func messageColumns(alias string) string {
	cols := []string{"conversation_id", "client_msg_id", "server_msg_id", "seq", "sender_id",
		"sender_type", "kind", "body", "file", "server_ts"}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// scanMessage reads the messageColumns projection followed by extra.
func scanMessage(row pgx.Row, m *StoredMessage, extra ...any) error {
	var file []byte
	dest := append([]any{
		&m.ConversationID, &m.ClientMsgID, &m.ServerMsgID, &m.Seq, &m.SenderID,
		&m.SenderType, &m.Kind, &m.Body, &file, &m.ServerTS,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	f, err := decodeFile(file)
	m.File = f
	return err
}

func encodeFile(f *v1.FileDescriptor) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode file: %w", err)
	}
	return b, nil
}

func decodeFile(b []byte) (*v1.FileDescriptor, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var f v1.FileDescriptor
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}
	return &f, nil
}

var schemaNameRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

func validSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if !schemaNameRE.MatchString(schema) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSchema, schema)
	}
	return schema, nil
}

// pgIdent quotes a schema-qualified name for interpolation into SQL.
func pgIdent(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}
