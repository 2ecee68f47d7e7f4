package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// Run loads BKRT_* config and serves until SIGINT/SIGTERM. It returns instead
// of exiting so deferred cleanup runs.
func Run() error {
	cfg := LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info("config.loaded",
		"addr", cfg.HTTPAddr,
		"auth", authMode(cfg),
		"db_enabled", cfg.DatabaseURL != "",
		"internal_api", cfg.InternalAPIKey != "",
		"ws_origin_required", cfg.WSOriginRequired,
	)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Error("server.exit", "err", err)
		return err
	}
	return nil
}

func authMode(cfg Config) string {
	switch {
	case cfg.TokenPublicKeyHex != "" || cfg.TokenSecretKeyHex != "":
		return "paseto"
	case len(cfg.DevTokens) > 0:
		return "dev_tokens"
	default:
		return "guests_only"
	}
}
