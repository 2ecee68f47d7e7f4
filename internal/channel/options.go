package channel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cambiartech/buykoins-realtime/internal/guest"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultAckTimeout       = 10 * time.Second
	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	defaultReadLimit        = 1 << 20

	maxPingFailures = 3
	closeGrace      = 1 * time.Second
)

type options struct {
	log     *slog.Logger
	metrics *Metrics
	rooms   RoomProtocol
	backoff BackoffPolicy
	guests  guest.Store

	header     http.Header
	httpClient *http.Client

	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	ackTimeout       time.Duration
	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
	readLimit        int64
}

func defaultOptions() options {
	return options{
		log:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoff:          DefaultBackoff(),
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		ackTimeout:       defaultAckTimeout,
		heartbeatEvery:   defaultHeartbeatEvery,
		heartbeatTimeout: defaultHeartbeatTimeout,
		readLimit:        defaultReadLimit,
	}
}

// Option configures a Session.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics records state, reconnects, events, and commands on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRooms enables Join/Leave and replay for the namespace.
func WithRooms(p RoomProtocol) Option {
	return func(o *options) { o.rooms = p }
}

// WithBackoff overrides the reconnect schedule.
func WithBackoff(p BackoffPolicy) Option {
	return func(o *options) { o.backoff = p }
}

// WithGuestStore loads a stored guest id when the credential has none and saves
// the id the gateway mints.
func WithGuestStore(st guest.Store) Option {
	return func(o *options) { o.guests = st }
}

// WithHeader adds HTTP headers (for example Origin) to every dial.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h.Clone() }
}

// WithHTTPClient sets the client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeouts overrides handshake, write, and ack timeouts. Zero keeps the default.
func WithTimeouts(handshake, write, ack time.Duration) Option {
	return func(o *options) {
		if handshake > 0 {
			o.handshakeTimeout = handshake
		}
		if write > 0 {
			o.writeTimeout = write
		}
		if ack > 0 {
			o.ackTimeout = ack
		}
	}
}

// WithHeartbeat sets the ping interval and per-ping timeout. every <= 0 disables pings.
func WithHeartbeat(every, timeout time.Duration) Option {
	return func(o *options) {
		o.heartbeatEvery = every
		if timeout > 0 {
			o.heartbeatTimeout = timeout
		}
	}
}

// WithReadLimit caps the size of one inbound frame.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

// Endpoint derives the WebSocket URL of namespace from a base URL such as
// "https://rt.example.com" or "ws://127.0.0.1:8080".
func Endpoint(base, namespace string) (string, error) {
	base = strings.TrimSpace(base)
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return "", errors.New("channel: empty namespace")
	}
	if !strings.Contains(base, "://") {
		base = "ws://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("channel: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("channel: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("channel: missing host")
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + namespace
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}
