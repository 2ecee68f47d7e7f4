package realtime

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensureSchema creates the schema and tables behind PostgresStore and
// PostgresMembershipStore in one transaction. Every statement is idempotent.
func ensureSchema(ctx context.Context, pool *pgxpool.Pool, t pgTables) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgIdent(t.schema),
		`CREATE TABLE IF NOT EXISTS ` + t.conversations + ` (
			id         text PRIMARY KEY,
			kind       text NOT NULL DEFAULT 'support',
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.cursors + ` (
			conversation_id text PRIMARY KEY REFERENCES ` + t.conversations + `(id) ON DELETE CASCADE,
			next_seq        bigint NOT NULL DEFAULT 1,
			updated_at      timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.messages + ` (
			conversation_id text NOT NULL REFERENCES ` + t.conversations + `(id) ON DELETE CASCADE,
			seq             bigint NOT NULL,
			server_msg_id   text NOT NULL UNIQUE,
			client_msg_id   text NOT NULL,
			sender_id       text NOT NULL,
			sender_type     text NOT NULL,
			kind            text NOT NULL DEFAULT 'text',
			body            text NOT NULL DEFAULT '',
			file            jsonb,
			server_ts       timestamptz NOT NULL,
			PRIMARY KEY (conversation_id, seq),
			UNIQUE (conversation_id, client_msg_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.reads + ` (
			server_msg_id text NOT NULL REFERENCES ` + t.messages + `(server_msg_id) ON DELETE CASCADE,
			reader_id     text NOT NULL,
			read_at       timestamptz NOT NULL,
			PRIMARY KEY (server_msg_id, reader_id)
		)`,
		`CREATE INDEX IF NOT EXISTS message_reads_reader_idx ON ` + t.reads + ` (reader_id)`,
		`CREATE TABLE IF NOT EXISTS ` + t.members + ` (
			conversation_id text NOT NULL REFERENCES ` + t.conversations + `(id) ON DELETE CASCADE,
			user_id         text NOT NULL,
			role            text NOT NULL DEFAULT 'member',
			created_at      timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (conversation_id, user_id)
		)`,
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, q := range stmts {
			if _, err := tx.Exec(ctx, q); err != nil {
				return fmt.Errorf("realtime: ensure schema %s: %w", t.schema, err)
			}
		}
		return nil
	})
}
