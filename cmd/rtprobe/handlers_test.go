package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cambiartech/buykoins-realtime/internal/app"
	"github.com/cambiartech/buykoins-realtime/internal/auth"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

func startGateway(t *testing.T) string {
	t.Helper()

	cfg := app.LoadConfig()
	cfg.DatabaseURL = ""
	cfg.TokenPublicKeyHex = ""
	cfg.TokenSecretKeyHex = ""
	cfg.DevTokens = []string{"tok-user=user:u1", "tok-admin=admin:admin:1"}
	cfg.InternalAPIKey = "probe-key"
	cfg.WSOriginRequired = false

	a, err := app.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		a.Gateway().CloseAll("test done")
		srv.Close()
	})
	return srv.URL
}

func TestRunProbe_AllNamespaces(t *testing.T) {
	base := startGateway(t)

	var out bytes.Buffer
	gf := &globalFlags{baseURL: base, timeout: 5 * time.Second, logLevel: "error"}
	err := runProbe(context.Background(), &out, gf, probeOptions{
		userToken:    "tok-user",
		adminToken:   "tok-admin",
		internalKey:  "probe-key",
		conversation: "C-probe",
		text:         "ping",
		trigger:      v1.TriggerWithdrawal,
	})
	if err != nil {
		t.Fatalf("runProbe: %v\n%s", err, out.String())
	}
	for _, check := range []string{"support", "notifications", "widget"} {
		if !strings.Contains(out.String(), "ok    "+check) {
			t.Fatalf("check %s did not pass:\n%s", check, out.String())
		}
	}
}

func TestRunProbe_SkipsWithoutCredentials(t *testing.T) {
	base := startGateway(t)

	var out bytes.Buffer
	gf := &globalFlags{baseURL: base, timeout: 5 * time.Second, logLevel: "error"}
	if err := runProbe(context.Background(), &out, gf, probeOptions{trigger: v1.TriggerOnboarding}); err != nil {
		t.Fatalf("runProbe: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "skip  support") || !strings.Contains(out.String(), "ok    widget") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

func TestRunProbe_BadTokenFails(t *testing.T) {
	base := startGateway(t)

	var out bytes.Buffer
	gf := &globalFlags{baseURL: base, timeout: 5 * time.Second, logLevel: "error"}
	err := runProbe(context.Background(), &out, gf, probeOptions{adminToken: "nope", trigger: v1.TriggerDeposit})
	if err == nil {
		t.Fatalf("expected failure:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "FAIL  notifications") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
	if !strings.Contains(err.Error(), "notifications:") {
		t.Fatalf("error does not name the failing check: %v", err)
	}
}

func TestRunProbe_FailFastReturnsFirstFailure(t *testing.T) {
	base := startGateway(t)

	var out bytes.Buffer
	gf := &globalFlags{baseURL: base, timeout: 5 * time.Second, logLevel: "error"}
	start := time.Now()
	err := runProbe(context.Background(), &out, gf, probeOptions{adminToken: "nope", trigger: v1.TriggerDeposit, failFast: true})
	if err == nil {
		t.Fatalf("expected failure:\n%s", out.String())
	}
	if !strings.Contains(err.Error(), "notifications:") {
		t.Fatalf("error does not name the failing check: %v", err)
	}
	if elapsed := time.Since(start); elapsed > gf.timeout {
		t.Fatalf("fail-fast waited %s", elapsed)
	}
	if len(strings.Split(strings.TrimSpace(out.String()), "\n")) != 3 {
		t.Fatalf("every check should be reported:\n%s", out.String())
	}
}

func TestRunMintToken(t *testing.T) {
	var keys bytes.Buffer
	if err := runMintToken(&keys, mintOptions{generateKey: true}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	var secret string
	for _, line := range strings.Split(keys.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "BKRT_TOKEN_SECRET_KEY_HEX="); ok {
			secret = v
		}
	}
	if secret == "" {
		t.Fatalf("no secret key in output:\n%s", keys.String())
	}

	var out bytes.Buffer
	if err := runMintToken(&out, mintOptions{secretKeyHex: secret, subject: "admin:9", role: v1.RoleAdmin, ttl: time.Minute}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	token := strings.SplitN(out.String(), "\n", 2)[0]

	m, err := auth.NewPasetoV4(auth.Config{SecretKeyHex: secret})
	if err != nil {
		t.Fatalf("NewPasetoV4: %v", err)
	}
	claims, err := m.Verify(token, time.Now())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "admin:9" || claims.Role != v1.RoleAdmin {
		t.Fatalf("claims: %+v", claims)
	}

	if err := runMintToken(io.Discard, mintOptions{secretKeyHex: secret, subject: "x", role: "guest"}); err == nil {
		t.Fatalf("expected role error")
	}
}

func TestHTTPBaseURL(t *testing.T) {
	cases := map[string]string{
		"ws://127.0.0.1:8080":         "http://127.0.0.1:8080",
		"wss://rt.buykoins.example":   "https://rt.buykoins.example",
		"https://rt.buykoins.example": "https://rt.buykoins.example",
		"127.0.0.1:8080":              "http://127.0.0.1:8080",
	}
	for in, want := range cases {
		if got := httpBaseURL(in); got != want {
			t.Fatalf("httpBaseURL(%q)=%q want %q", in, got, want)
		}
	}
}
