package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cambiartech/buykoins-realtime/internal/apierr"
	"github.com/cambiartech/buykoins-realtime/internal/auth"
	"github.com/cambiartech/buykoins-realtime/internal/ids"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// Principal is the identity a hello resolved to.
type Principal struct {
	Role    string
	ID      string
	GuestID string
}

// IsAdmin reports whether the principal is an operator.
func (p Principal) IsAdmin() bool { return p.Role == v1.RoleAdmin }

// AuthError rejects a handshake with a backend auth code.
type AuthError struct {
	Code    apierr.Code
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("realtime: auth rejected: %s: %s", e.Code, e.Message)
}

// Authenticator resolves a hello payload for a namespace.
type Authenticator interface {
	Authenticate(ctx context.Context, namespace string, hello v1.HelloPayload) (Principal, error)
}

// TokenAuthenticator verifies bearer tokens and admits guests where allowed.
type TokenAuthenticator struct {
	Verifier auth.Verifier
	// GuestNamespaces lists namespaces that accept anonymous guests.
	GuestNamespaces []string
	Now             func() time.Time
}

// NewTokenAuthenticator admits guests on support and widget.
func NewTokenAuthenticator(v auth.Verifier) *TokenAuthenticator {
	return &TokenAuthenticator{
		Verifier:        v,
		GuestNamespaces: []string{v1.NamespaceSupport, v1.NamespaceWidget},
		Now:             time.Now,
	}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, namespace string, hello v1.HelloPayload) (Principal, error) {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	token := strings.TrimSpace(hello.Token)
	if token == "" {
		return guestPrincipal(namespace, a.GuestNamespaces, hello.GuestID, now)
	}
	if a.Verifier == nil {
		return Principal{}, &AuthError{Code: apierr.CodeUnauthorized, Message: "token auth not configured"}
	}

	claims, err := a.Verifier.Verify(token, now)
	if err != nil {
		return Principal{}, &AuthError{Code: auth.CodeFor(err), Message: err.Error()}
	}
	role := claims.Role
	if role != v1.RoleAdmin {
		role = v1.RoleUser
	}
	return Principal{Role: role, ID: claims.Subject}, nil
}

// StaticAuthenticator maps fixed tokens to principals. It is meant for local
// development and tests.
type StaticAuthenticator struct {
	mu              sync.RWMutex
	tokens          map[string]Principal
	rejected        map[string]apierr.Code
	GuestNamespaces []string
}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{
		tokens:          make(map[string]Principal),
		rejected:        make(map[string]apierr.Code),
		GuestNamespaces: []string{v1.NamespaceSupport, v1.NamespaceWidget},
	}
}

// Allow maps token to an identity with role.
func (a *StaticAuthenticator) Allow(token, role, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = Principal{Role: role, ID: id}
	delete(a.rejected, token)
}

// Reject makes token fail with code, as a revoked or expired token would.
func (a *StaticAuthenticator) Reject(token string, code apierr.Code) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected[token] = code
	delete(a.tokens, token)
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, namespace string, hello v1.HelloPayload) (Principal, error) {
	token := strings.TrimSpace(hello.Token)
	if token == "" {
		return guestPrincipal(namespace, a.GuestNamespaces, hello.GuestID, time.Now())
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if code, ok := a.rejected[token]; ok {
		return Principal{}, &AuthError{Code: code, Message: "token rejected"}
	}
	p, ok := a.tokens[token]
	if !ok {
		return Principal{}, &AuthError{Code: apierr.CodeTokenInvalid, Message: "unknown token"}
	}
	return p, nil
}

// guestPrincipal reuses a well-formed guest id or mints a new one.
func guestPrincipal(namespace string, allowed []string, guestID string, now time.Time) (Principal, error) {
	ok := false
	for _, ns := range allowed {
		if ns == namespace {
			ok = true
			break
		}
	}
	if !ok {
		return Principal{}, &AuthError{Code: apierr.CodeAuthRequired, Message: "token required"}
	}

	guestID = strings.TrimSpace(guestID)
	if !ids.ValidULID(guestID) {
		id, err := ids.NewULID(now)
		if err != nil {
			return Principal{}, fmt.Errorf("mint guest id: %w", err)
		}
		guestID = id
	}
	return Principal{Role: v1.RoleGuest, ID: "guest:" + guestID, GuestID: guestID}, nil
}
