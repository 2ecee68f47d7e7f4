// Package v1 defines the buykoins realtime protocol v1 contract.
//
// It is shared between the gateway and the channel clients so the wire protocol stays authoritative
// in one place. It is intentionally dependency-light.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated on every namespace.
const Subprotocol = "buykoins.realtime.v1"

// CloseUnauthorized is the close status sent after a rejected handshake.
const CloseUnauthorized = 4401

// Namespaces. Each one is served at /ws/{namespace}.
const (
	NamespaceSupport       = "support"
	NamespaceNotifications = "notifications"
	NamespaceWidget        = "widget"
)

// Namespaces lists every namespace in a stable order.
var Namespaces = []string{NamespaceSupport, NamespaceNotifications, NamespaceWidget}

// Common types (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server). It must be the first frame.
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake with the resolved identity (server -> client).
	TypeHelloAck = "hello_ack"
	// TypeAck answers an acknowledged command; ReplyTo carries the command envelope id.
	TypeAck = "ack"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Roles resolved by the handshake.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleGuest = "guest"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation. Unknown types are accepted here;
// use Known to enforce the vocabulary.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing field: id")
	}
	return nil
}

// Decode unmarshals the payload into v. An empty payload decodes as "{}".
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

// Known reports whether typ belongs to namespace ns (or is a common type).
func Known(ns, typ string) bool {
	switch typ {
	case TypeHello, TypeHelloAck, TypeAck, TypeError:
		return true
	}
	switch ns {
	case NamespaceSupport:
		_, ok := supportTypes[typ]
		return ok
	case NamespaceNotifications:
		_, ok := notificationTypes[typ]
		return ok
	case NamespaceWidget:
		_, ok := widgetTypes[typ]
		return ok
	default:
		return false
	}
}

// ValidNamespace reports whether ns is served.
func ValidNamespace(ns string) bool {
	for _, n := range Namespaces {
		if n == ns {
			return true
		}
	}
	return false
}

// ---- common payloads ----

// HelloPayload carries exactly one credential: a bearer token or a guest id.
// An empty guest id with no token asks the server to mint a new guest identity.
type HelloPayload struct {
	Token   string `json:"token,omitempty"`
	GuestID string `json:"guestId,omitempty"`
}

// HelloAckPayload is the connection-success event.
type HelloAckPayload struct {
	SessionID  string `json:"sessionId"`
	Role       string `json:"role"`
	IdentityID string `json:"identityId"`
	GuestID    string `json:"guestId,omitempty"`
}

// AckPayload answers an acknowledged command.
type AckPayload struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes used by the gateway outside the AUTH_* vocabulary.
const (
	ErrCodeBadJSON       = "bad_json"
	ErrCodeBadEnvelope   = "bad_envelope"
	ErrCodeBadPayload    = "bad_payload"
	ErrCodeUnsupported   = "unsupported"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeNotJoined     = "not_joined"
	ErrCodeForbidden     = "forbidden"
	ErrCodeNotFound      = "not_found"
	ErrCodeInternal      = "internal"
	ErrCodeHelloRequired = "hello_required"
)
