package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cambiartech/buykoins-realtime/internal/realtime"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// CORS for the plain HTTP routes. WebSocket origins are checked by the gateway.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Token verification. A secret key implies its public key.
	TokenPublicKeyHex string
	TokenSecretKeyHex string
	TokenIssuer       string
	TokenTTL          time.Duration

	// DevTokens maps fixed tokens to identities ("token=role:id"). Dev only.
	DevTokens []string

	// InternalAPIKey guards POST /internal/notifications. Empty disables the route.
	InternalAPIKey string

	WSDevInsecure       bool
	WSOriginRequired    bool
	WSAllowedOrigins    []string
	WSSendQueueSize     int
	WSWriteTimeout      time.Duration
	WSReadIdleTimeout   time.Duration
	WSHeartbeatInterval time.Duration
	WSHeartbeatTimeout  time.Duration
	WSRateEvents        int
	WSRateWindow        time.Duration
	WSHelloTimeout      time.Duration

	WidgetTTL        time.Duration
	WidgetSweepEvery time.Duration

	NotificationLimit int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	gw := realtime.DefaultGatewayConfig()

	return Config{
		HTTPAddr:  EnvString("BKRT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BKRT_LOG_LEVEL", "info"),
		LogFormat: EnvString("BKRT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BKRT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BKRT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BKRT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BKRT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("BKRT_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("BKRT_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("BKRT_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BKRT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BKRT_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("BKRT_DB_SCHEMA", realtime.DefaultSchema),

		ReadinessRequireDB: EnvBool("BKRT_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvCSV("BKRT_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("BKRT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("BKRT_CORS_MAX_AGE_SECONDS", 600),

		TokenPublicKeyHex: EnvString("BKRT_TOKEN_PUBLIC_KEY_HEX", ""),
		TokenSecretKeyHex: EnvString("BKRT_TOKEN_SECRET_KEY_HEX", ""),
		TokenIssuer:       EnvString("BKRT_TOKEN_ISSUER", ""),
		TokenTTL:          EnvDuration("BKRT_TOKEN_TTL", 15*time.Minute),

		DevTokens:      EnvCSV("BKRT_DEV_TOKENS", nil),
		InternalAPIKey: EnvString("BKRT_INTERNAL_API_KEY", ""),

		WSDevInsecure:       EnvBool("BKRT_WS_DEV_INSECURE", false),
		WSOriginRequired:    EnvBool("BKRT_WS_ORIGIN_REQUIRED", gw.OriginRequired),
		WSAllowedOrigins:    EnvCSV("BKRT_WS_ALLOWED_ORIGINS", gw.AllowedOrigins),
		WSSendQueueSize:     EnvInt("BKRT_WS_SEND_QUEUE", gw.SendQueueSize),
		WSWriteTimeout:      EnvDuration("BKRT_WS_WRITE_TIMEOUT", gw.WriteTimeout),
		WSReadIdleTimeout:   EnvDuration("BKRT_WS_READ_IDLE_TIMEOUT", 0),
		WSHeartbeatInterval: EnvDuration("BKRT_WS_HEARTBEAT_INTERVAL", gw.HeartbeatInterval),
		WSHeartbeatTimeout:  EnvDuration("BKRT_WS_HEARTBEAT_TIMEOUT", gw.HeartbeatTimeout),
		WSRateEvents:        EnvInt("BKRT_WS_RATE_EVENTS", gw.RateEvents),
		WSRateWindow:        EnvDuration("BKRT_WS_RATE_WINDOW", gw.RateWindow),
		WSHelloTimeout:      EnvDuration("BKRT_WS_HELLO_TIMEOUT", gw.HelloTimeout),

		WidgetTTL:        EnvDuration("BKRT_WIDGET_TTL", gw.WidgetTTL),
		WidgetSweepEvery: EnvDuration("BKRT_WIDGET_SWEEP_EVERY", gw.WidgetSweepEvery),

		NotificationLimit: EnvInt("BKRT_NOTIFICATION_LIMIT", 500),
	}
}

// Validate fails fast on settings that would make the gateway unusable or unsafe.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: BKRT_HTTP_ADDR is empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "pretty", "text":
	default:
		return fmt.Errorf("config: unknown BKRT_LOG_FORMAT %q", c.LogFormat)
	}
	if c.WSDevInsecure && len(c.WSAllowedOrigins) == 0 {
		return errors.New("config: BKRT_WS_DEV_INSECURE needs BKRT_WS_ALLOWED_ORIGINS")
	}
	for _, raw := range c.DevTokens {
		if _, _, _, err := parseDevToken(raw); err != nil {
			return err
		}
	}
	return nil
}

// GatewayConfig projects the WebSocket settings onto realtime.GatewayConfig.
func (c Config) GatewayConfig() realtime.GatewayConfig {
	return realtime.GatewayConfig{
		DevInsecure:       c.WSDevInsecure,
		OriginRequired:    c.WSOriginRequired,
		AllowedOrigins:    c.WSAllowedOrigins,
		WriteTimeout:      c.WSWriteTimeout,
		ReadIdleTimeout:   c.WSReadIdleTimeout,
		SendQueueSize:     c.WSSendQueueSize,
		HeartbeatInterval: c.WSHeartbeatInterval,
		HeartbeatTimeout:  c.WSHeartbeatTimeout,
		RateEvents:        c.WSRateEvents,
		RateWindow:        c.WSRateWindow,
		HelloTimeout:      c.WSHelloTimeout,
		WidgetTTL:         c.WidgetTTL,
		WidgetSweepEvery:  c.WidgetSweepEvery,
	}
}

// parseDevToken splits "token=role:id".
func parseDevToken(raw string) (token, role, id string, err error) {
	token, rest, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return "", "", "", fmt.Errorf("config: dev token %q: want token=role:id", raw)
	}
	role, id, ok = strings.Cut(rest, ":")
	token, role, id = strings.TrimSpace(token), strings.TrimSpace(role), strings.TrimSpace(id)
	if !ok || token == "" || id == "" {
		return "", "", "", fmt.Errorf("config: dev token %q: want token=role:id", raw)
	}
	switch role {
	case v1.RoleUser, v1.RoleAdmin:
	default:
		return "", "", "", fmt.Errorf("config: dev token %q: role must be user or admin", raw)
	}
	return token, role, id, nil
}
