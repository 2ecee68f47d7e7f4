package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore defines the authorization boundary for conversation membership.
// Admins bypass it; users and guests may only join conversations they belong to.
type MembershipStore interface {
	// IsMember returns true if userID is an active member of conversationID.
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
}

// PostgresMembershipStore reads the conversation_members table created by
// PostgresStore.EnsureSchema.
type PostgresMembershipStore struct {
	pool *pgxpool.Pool
	t    pgTables
}

// NewPostgresMembershipStore accepts the same options as NewPostgresStore.
func NewPostgresMembershipStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresMembershipStore, error) {
	t, err := applyPGOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresMembershipStore{pool: pool, t: t}, nil
}

func (s *PostgresMembershipStore) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrNilPool
	}
	userID, conversationID = strings.TrimSpace(userID), strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return false, nil
	}

	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.t.members+` WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&ok)
	return ok, err
}

// AddMember grants userID access to conversationID with role ("member" when
// empty). The conversation row is created on first use.
func (s *PostgresMembershipStore) AddMember(ctx context.Context, userID, conversationID, role string) error {
	if s == nil || s.pool == nil {
		return ErrNilPool
	}
	if role == "" {
		role = "member"
	}

	b := &pgx.Batch{}
	b.Queue(`INSERT INTO `+s.t.conversations+` (id, kind) VALUES ($1, 'support') ON CONFLICT (id) DO NOTHING`,
		conversationID)
	b.Queue(`INSERT INTO `+s.t.members+` (conversation_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		conversationID, userID, role)

	br := s.pool.SendBatch(ctx, b)
	for range b.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("realtime: add member: %w", err)
		}
	}
	return br.Close()
}

// StaticMembership is an in-memory MembershipStore for development and tests.
type StaticMembership struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // conversation_id -> user ids
}

// NewStaticMembership constructs an empty StaticMembership.
func NewStaticMembership() *StaticMembership {
	return &StaticMembership{members: make(map[string]map[string]struct{})}
}

// Add grants userID access to conversationID.
func (m *StaticMembership) Add(userID, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.members[conversationID]
	if set == nil {
		set = make(map[string]struct{})
		m.members[conversationID] = set
	}
	set[userID] = struct{}{}
}

func (m *StaticMembership) IsMember(_ context.Context, userID, conversationID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[conversationID][userID]
	return ok, nil
}
