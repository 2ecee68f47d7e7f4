package realtime

import (
	"sync"

	"github.com/coder/websocket"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// Client represents one connected websocket session.
//
// Send is never closed by the server so concurrent broadcasters cannot panic.
// done signals goroutines to stop; Close and Kick are idempotent.
type Client struct {
	SessionID string
	Namespace string
	Principal Principal
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	closeCode   websocket.StatusCode
	closeReason string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(namespace string, p Principal, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Namespace: namespace,
		Principal: p,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
		closeCode: websocket.StatusNormalClosure,
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop. It does NOT close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Kick closes the client with a specific close status.
func (c *Client) Kick(code websocket.StatusCode, reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	select {
	case <-c.done:
	default:
		c.closeCode, c.closeReason = code, reason
	}
	c.mu.Unlock()
	c.Close()
}

func (c *Client) closeStatus() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Offer enqueues env without blocking. It reports false when the queue is full
// or the client is shutting down.
func (c *Client) Offer(env v1.Envelope) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
