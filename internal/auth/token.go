// Package auth verifies (and, for dev tooling, issues) PASETO v4.public access tokens
// presented in the realtime handshake.
package auth

import (
	"errors"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"github.com/cambiartech/buykoins-realtime/internal/apierr"
)

var (
	// ErrTokenInvalid is returned when a token fails signature, issuer, or claim validation.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenExpired is returned when a token is past its expiration.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenNotActive is returned when a token's not-before is in the future.
	ErrTokenNotActive = errors.New("auth: token not active")

	// ErrCannotIssue is returned by Issue on a verify-only manager.
	ErrCannotIssue = errors.New("auth: no secret key configured")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("auth: invalid config")
)

// Claims is the minimal identity envelope carried by an access token.
type Claims struct {
	Subject   string
	Role      string
	Issuer    string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
}

// Verifier validates access tokens.
type Verifier interface {
	Verify(token string, now time.Time) (Claims, error)
}

// Config configures a PasetoV4 manager.
type Config struct {
	Issuer       string
	PublicKeyHex string
	// SecretKeyHex is only needed to issue tokens (dev tooling and tests).
	SecretKeyHex string
	TTL          time.Duration
	ClockSkew    time.Duration
}

// PasetoV4 verifies v4.public tokens and optionally issues them.
type PasetoV4 struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	public   paseto.V4AsymmetricPublicKey
	secret   paseto.V4AsymmetricSecretKey
	canIssue bool
}

// NewPasetoV4 builds a manager. A secret key implies its public key; otherwise
// PublicKeyHex is required.
func NewPasetoV4(cfg Config) (*PasetoV4, error) {
	m := &PasetoV4{
		issuer:    strings.TrimSpace(cfg.Issuer),
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
	}
	if m.ttl <= 0 {
		m.ttl = 15 * time.Minute
	}
	if m.clockSkew < 0 {
		m.clockSkew = 0
	}

	switch {
	case strings.TrimSpace(cfg.SecretKeyHex) != "":
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(cfg.SecretKeyHex))
		if err != nil {
			return nil, ErrConfig
		}
		m.secret = secret
		m.public = secret.Public()
		m.canIssue = true
	case strings.TrimSpace(cfg.PublicKeyHex) != "":
		public, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(cfg.PublicKeyHex))
		if err != nil {
			return nil, ErrConfig
		}
		m.public = public
	default:
		return nil, ErrConfig
	}
	return m, nil
}

// GenerateSecretKeyHex returns a fresh Ed25519 secret key in hex (dev tooling).
func GenerateSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}

// PublicKeyHex exports the verification key.
func (m *PasetoV4) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue signs a token for subject with role, valid from now for the configured TTL.
func (m *PasetoV4) Issue(subject, role string, now time.Time) (string, time.Time, error) {
	if !m.canIssue {
		return "", time.Time{}, ErrCannotIssue
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	if m.issuer != "" {
		tok.SetIssuer(m.issuer)
	}
	tok.SetSubject(subject)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	if err := tok.Set("role", role); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks the signature and issuer, then classifies time validity itself so
// expired and not-yet-active tokens map to distinct errors.
func (m *PasetoV4) Verify(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenInvalid
	}

	p := paseto.NewParserWithoutExpiryCheck()
	if m.issuer != "" {
		p.AddRule(paseto.IssuedBy(m.issuer))
	}

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}

	sub, err := parsed.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Claims{}, ErrTokenInvalid
	}
	role, err := parsed.GetString("role")
	if err != nil || strings.TrimSpace(role) == "" {
		return Claims{}, ErrTokenInvalid
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	nbf, _ := parsed.GetNotBefore()
	iat, _ := parsed.GetIssuedAt()
	iss, _ := parsed.GetIssuer()

	if !now.Before(exp.Add(m.clockSkew)) {
		return Claims{}, ErrTokenExpired
	}
	if !nbf.IsZero() && now.Add(m.clockSkew).Before(nbf) {
		return Claims{}, ErrTokenNotActive
	}

	return Claims{
		Subject:   sub,
		Role:      role,
		Issuer:    iss,
		IssuedAt:  iat,
		NotBefore: nbf,
		ExpiresAt: exp,
	}, nil
}

// CodeFor maps a verification error to the backend error code vocabulary.
func CodeFor(err error) apierr.Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenExpired):
		return apierr.CodeTokenExpired
	case errors.Is(err, ErrTokenNotActive):
		return apierr.CodeTokenNotActive
	default:
		return apierr.CodeTokenInvalid
	}
}
