package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message text length (runes).
	maxMessageChars = 4000

	// Max step data size accepted by the widget engine (JSON bytes).
	maxStepDataBytes = 8 << 10
)

const (
	// Heartbeat defaults (overridable through GatewayConfig).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// The first frame must be a hello within this window.
	helloTimeout = 10 * time.Second

	// Widget sessions expire after this much inactivity.
	widgetSessionTTL = 15 * time.Minute
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// Notifications kept per identity; the oldest are dropped first.
	maxNotificationsPerIdentity = 500
)
