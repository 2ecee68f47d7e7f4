package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/cambiartech/buykoins-realtime/internal/apierr"
)

func newTestManager(t *testing.T, ttl time.Duration) *PasetoV4 {
	t.Helper()
	m, err := NewPasetoV4(Config{
		Issuer:       "buykoins-test",
		SecretKeyHex: GenerateSecretKeyHex(),
		TTL:          ttl,
	})
	if err != nil {
		t.Fatalf("NewPasetoV4: %v", err)
	}
	return m
}

func TestIssueVerify(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Minute)
	now := time.Now().UTC()

	tok, exp, err := m.Issue("admin-1", "admin", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("exp=%v must be after now=%v", exp, now)
	}

	claims, err := m.Verify(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "admin-1" || claims.Role != "admin" || claims.Issuer != "buykoins-test" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyClassifiesTime(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Minute)
	now := time.Now().UTC()
	tok, _, err := m.Issue("user-1", "user", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.Verify(tok, now.Add(2*time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := m.Verify(tok, now.Add(-time.Hour)); !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("expected ErrTokenNotActive, got %v", err)
	}
	if _, err := m.Verify("v4.public.garbage", now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyOnlyManager(t *testing.T) {
	t.Parallel()

	issuer := newTestManager(t, time.Minute)
	verifier, err := NewPasetoV4(Config{Issuer: "buykoins-test", PublicKeyHex: issuer.PublicKeyHex()})
	if err != nil {
		t.Fatalf("NewPasetoV4 verify-only: %v", err)
	}

	now := time.Now().UTC()
	tok, _, _ := issuer.Issue("user-2", "user", now)
	if _, err := verifier.Verify(tok, now); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, _, err := verifier.Issue("x", "user", now); !errors.Is(err, ErrCannotIssue) {
		t.Fatalf("expected ErrCannotIssue, got %v", err)
	}
}

func TestVerifyRejectsOtherIssuer(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Minute)
	other, err := NewPasetoV4(Config{Issuer: "someone-else", PublicKeyHex: m.PublicKeyHex()})
	if err != nil {
		t.Fatalf("NewPasetoV4: %v", err)
	}
	now := time.Now().UTC()
	tok, _, _ := m.Issue("user-3", "user", now)
	if _, err := other.Verify(tok, now); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestCodeFor(t *testing.T) {
	t.Parallel()

	cases := map[error]apierr.Code{
		ErrTokenExpired:   apierr.CodeTokenExpired,
		ErrTokenNotActive: apierr.CodeTokenNotActive,
		ErrTokenInvalid:   apierr.CodeTokenInvalid,
	}
	for in, want := range cases {
		if got := CodeFor(in); got != want {
			t.Fatalf("CodeFor(%v)=%q want %q", in, got, want)
		}
	}
	if got := CodeFor(nil); got != "" {
		t.Fatalf("CodeFor(nil)=%q", got)
	}
}

func TestNewPasetoV4RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewPasetoV4(Config{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := NewPasetoV4(Config{PublicKeyHex: "zz"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad hex, got %v", err)
	}
}
