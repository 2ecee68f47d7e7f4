// Package apierr classifies error codes returned by the backend REST API.
//
// The realtime gateway reuses the same AUTH_* vocabulary for handshake rejections,
// so channel clients and HTTP callers share one force-logout decision.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a backend error code.
type Code string

// Codes that invalidate the current credential.
const (
	CodeTokenInvalid     Code = "AUTH_TOKEN_INVALID"
	CodeTokenExpired     Code = "AUTH_TOKEN_EXPIRED"
	CodeTokenNotActive   Code = "AUTH_TOKEN_NOT_ACTIVE"
	CodeAuthRequired     Code = "AUTH_REQUIRED"
	CodeAccountSuspended Code = "AUTH_ACCOUNT_SUSPENDED"
	CodeAccountNotFound  Code = "AUTH_ACCOUNT_NOT_FOUND"
	CodeUnauthorized     Code = "AUTH_UNAUTHORIZED"
)

// Codes that are shown to the user without ending the session.
const (
	CodeCredentialsInvalid Code = "AUTH_CREDENTIALS_INVALID"
	CodeEmailNotVerified   Code = "AUTH_EMAIL_NOT_VERIFIED"
)

// Action is what a client should do with an error code.
type Action int

const (
	// ActionNone means the code carries no auth semantics.
	ActionNone Action = iota
	// ActionSurface means show the error and keep the session.
	ActionSurface
	// ActionForceLogout means drop the credential and return to login.
	ActionForceLogout
)

func (a Action) String() string {
	switch a {
	case ActionSurface:
		return "surface"
	case ActionForceLogout:
		return "force_logout"
	default:
		return "none"
	}
}

var forceLogout = map[Code]struct{}{
	CodeTokenInvalid:     {},
	CodeTokenExpired:     {},
	CodeTokenNotActive:   {},
	CodeAuthRequired:     {},
	CodeAccountSuspended: {},
	CodeAccountNotFound:  {},
	CodeUnauthorized:     {},
}

var surfaceOnly = map[Code]struct{}{
	CodeCredentialsInvalid: {},
	CodeEmailNotVerified:   {},
}

// ShouldForceLogout reports whether code invalidates the current credential.
func ShouldForceLogout(code Code) bool {
	_, ok := forceLogout[normalize(code)]
	return ok
}

// ShouldSurface reports whether code is shown to the user without logging out.
func ShouldSurface(code Code) bool {
	_, ok := surfaceOnly[normalize(code)]
	return ok
}

// IsAuthCode reports whether code belongs to the AUTH_* family.
func IsAuthCode(code Code) bool {
	return strings.HasPrefix(string(normalize(code)), "AUTH_")
}

// Classify maps a code to the client action.
func Classify(code Code) Action {
	switch {
	case ShouldForceLogout(code):
		return ActionForceLogout
	case ShouldSurface(code):
		return ActionSurface
	default:
		return ActionNone
	}
}

func normalize(code Code) Code {
	return Code(strings.ToUpper(strings.TrimSpace(string(code))))
}

// Error is a decoded backend error.
type Error struct {
	Code       Code
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %s (http %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("api error %s (http %d): %s", e.Code, e.StatusCode, e.Message)
}

// Action classifies the error code.
func (e *Error) Action() Action { return Classify(e.Code) }

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return normalize(ae.Code) == normalize(code)
}

// ForceLogout reports whether err carries a force-logout code.
func ForceLogout(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return ShouldForceLogout(ae.Code)
}

type wireBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Decode parses a backend error body. Both {"error":{"code","message"}} and
// {"code","message"} shapes are accepted. A body without a code falls back to
// the HTTP status text.
func Decode(status int, body []byte) *Error {
	out := &Error{StatusCode: status}

	var w wireBody
	if err := json.Unmarshal(body, &w); err == nil {
		switch {
		case w.Error != nil && w.Error.Code != "":
			out.Code, out.Message = Code(w.Error.Code), w.Error.Message
		case w.Code != "":
			out.Code, out.Message = Code(w.Code), w.Message
		}
	}

	if out.Code == "" {
		if status == http.StatusUnauthorized {
			out.Code = CodeUnauthorized
		}
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
	}
	out.Code = normalize(out.Code)
	return out
}
