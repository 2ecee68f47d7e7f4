package channel

import (
	"errors"
	"fmt"

	"github.com/cambiartech/buykoins-realtime/internal/apierr"
)

var (
	// ErrNotConnected is returned synchronously by commands issued while the
	// Session is not open. Nothing is queued.
	ErrNotConnected = errors.New("channel: not connected")

	// ErrAlreadyConnected is returned by Connect on a Session that is not closed.
	ErrAlreadyConnected = errors.New("channel: already connected")

	// ErrNoRooms is returned by Join/Leave on a namespace without rooms.
	ErrNoRooms = errors.New("channel: namespace has no rooms")

	// ErrAckTimeout is returned when an acknowledged command gets no answer in time.
	ErrAckTimeout = errors.New("channel: ack timeout")
)

// ConnectionError is a transport failure. The Session retries these on its own.
type ConnectionError struct {
	Namespace string
	Op        string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Namespace, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError is terminal for the current credential: the caller must obtain a new
// one and connect again.
type AuthError struct {
	Namespace string
	Code      apierr.Code
	Message   string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("channel %s: auth rejected: %s", e.Namespace, e.Code)
	}
	return fmt.Sprintf("channel %s: auth rejected: %s: %s", e.Namespace, e.Code, e.Message)
}

// Action tells the caller whether to force a logout or only show the error.
func (e *AuthError) Action() apierr.Action { return apierr.Classify(e.Code) }

// CommandError is a server-side rejection of an acknowledged command.
type CommandError struct {
	Command string
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("channel: %s rejected: %s: %s", e.Command, e.Code, e.Message)
}

// ProtocolError is a malformed or unexpected push. It is logged and dropped.
type ProtocolError struct {
	Namespace string
	Event     string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("channel %s: protocol: %v", e.Namespace, e.Err)
	}
	return fmt.Sprintf("channel %s: protocol: %s: %v", e.Namespace, e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsAuth reports whether err is (or wraps) an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRetryable reports whether the caller may simply try again later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrAckTimeout) {
		return true
	}
	var ce *ConnectionError
	return errors.As(err, &ce)
}
