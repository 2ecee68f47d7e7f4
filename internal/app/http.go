package app

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cambiartech/buykoins-realtime/internal/realtime"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

const maxPublishBody = 64 << 10

// publishRequest is the body of POST /internal/notifications.
type publishRequest struct {
	IdentityID   string          `json:"identityId"`
	Notification v1.Notification `json:"notification"`
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	gw *realtime.Gateway,
	reg *prometheus.Registry,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if gw.Draining() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.Handle("/ws/{namespace}", gw)

	if cfg.InternalAPIKey == "" {
		log.Info("http.internal.disabled", "reason", "BKRT_INTERNAL_API_KEY not set")
		return
	}
	mux.Handle("POST /internal/notifications", publishNotificationHandler(log, cfg.InternalAPIKey, gw))
}

// publishNotificationHandler lets backend services push a notification to an
// identity's live sessions.
func publishNotificationHandler(log Logger, apiKey string, gw *realtime.Gateway) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get("X-Internal-Key"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req publishRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody))
		if err := dec.Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if strings.TrimSpace(req.IdentityID) == "" {
			writeJSONError(w, http.StatusBadRequest, "identityId is required")
			return
		}

		stored, err := gw.PublishNotification(r.Context(), req.IdentityID, req.Notification)
		if err != nil {
			if errors.Is(err, realtime.ErrInvalidNotification) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error("http.internal.publish.fail", "err", err)
			writeJSONError(w, http.StatusInternalServerError, "publish failed")
			return
		}

		writeJSON(w, http.StatusAccepted, stored)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
