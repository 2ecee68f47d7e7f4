package realtime

import (
	"errors"
	"strings"
	"testing"
)

func TestPostgresOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil); !errors.Is(err, ErrNilPool) {
		t.Fatalf("nil pool: %v", err)
	}
	if _, err := NewPostgresMembershipStore(nil, WithSchema("rt")); !errors.Is(err, ErrNilPool) {
		t.Fatalf("nil pool (membership): %v", err)
	}

	for _, bad := range []string{"", " ", "1rt", "rt;drop", `rt"x`, strings.Repeat("s", 64)} {
		if err := WithSchema(bad)(&pgOptions{}); !errors.Is(err, ErrInvalidSchema) {
			t.Fatalf("schema %q: %v", bad, err)
		}
	}
	o := pgOptions{}
	if err := WithSchema(" rt_prod ")(&o); err != nil || o.schema != "rt_prod" {
		t.Fatalf("valid schema: %q %v", o.schema, err)
	}
}

func TestPGTablesAreQuoted(t *testing.T) {
	t.Parallel()

	tb := newPGTables("rt")
	if tb.messages != `"rt"."messages"` || tb.members != `"rt"."conversation_members"` {
		t.Fatalf("tables: %+v", tb)
	}
	if got := messageColumns("m"); !strings.HasPrefix(got, "m.conversation_id, m.client_msg_id") || !strings.HasSuffix(got, "m.server_ts") {
		t.Fatalf("columns: %s", got)
	}
}
