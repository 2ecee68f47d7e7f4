package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cambiartech/buykoins-realtime/internal/app"
	"github.com/cambiartech/buykoins-realtime/internal/auth"
	"github.com/cambiartech/buykoins-realtime/internal/channel"
	"github.com/cambiartech/buykoins-realtime/internal/ids"
	"github.com/cambiartech/buykoins-realtime/internal/notify"
	"github.com/cambiartech/buykoins-realtime/internal/realtime"
	"github.com/cambiartech/buykoins-realtime/internal/support"
	"github.com/cambiartech/buykoins-realtime/internal/widget"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

const pollEvery = 20 * time.Millisecond

var errSkipped = errors.New("skipped")

type probeOptions struct {
	userToken    string
	adminToken   string
	internalKey  string
	conversation string
	text         string
	trigger      string
	failFast     bool
}

type listenOptions struct {
	namespace string
	token     string
	guestID   string
	rooms     []string
}

type mintOptions struct {
	generateKey  bool
	secretKeyHex string
	issuer       string
	subject      string
	role         string
	ttl          time.Duration
}

// serverEvents lists the pushes listen subscribes to, per namespace.
var serverEvents = map[string][]string{
	v1.NamespaceSupport: {
		v1.TypeMessageReceived,
		v1.TypeConversationNewMessage,
		v1.TypeConversationUnreadUpdated,
		v1.TypeConversationJoined,
		v1.TypeTypingStart,
		v1.TypeTypingStop,
		v1.TypeMessageRead,
		v1.TypeMessageError,
	},
	v1.NamespaceNotifications: {
		v1.TypeNotificationNew,
		v1.TypeNotificationUnreadCount,
	},
	v1.NamespaceWidget: {
		v1.TypeWidgetInit,
		v1.TypeWidgetStep,
		v1.TypeWidgetComplete,
		v1.TypeWidgetStatus,
		v1.TypeWidgetError,
	},
}

func channelOptions(gf *globalFlags, log *slog.Logger) []channel.Option {
	opts := []channel.Option{channel.WithLogger(log)}
	if gf.origin != "" {
		opts = append(opts, channel.WithHeader(http.Header{"Origin": []string{gf.origin}}))
	}
	return opts
}

// result is one line of the probe report.
type result struct {
	check   string
	err     error
	elapsed time.Duration
}

func runProbe(ctx context.Context, out io.Writer, gf *globalFlags, opts probeOptions) error {
	log := app.NewLogger(gf.logLevel, "pretty")

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"support", func(ctx context.Context) error { return probeSupport(ctx, gf, opts, log) }},
		{"notifications", func(ctx context.Context) error { return probeNotifications(ctx, gf, opts, log) }},
		{"widget", func(ctx context.Context) error { return probeWidget(ctx, gf, opts, log) }},
	}

	results := make([]result, len(checks))

	// Checks are independent unless failFast is set, in which case the first
	// failure cancels the rest.
	g, gctx := &errgroup.Group{}, ctx
	if opts.failFast {
		g, gctx = errgroup.WithContext(ctx)
	}
	for i, c := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, gf.timeout)
			defer cancel()

			start := time.Now()
			err := c.fn(cctx)

			results[i] = result{check: c.name, err: err, elapsed: time.Since(start)}
			if err != nil && !errors.Is(err, errSkipped) {
				return fmt.Errorf("%s: %w", c.name, err)
			}
			return nil
		})
	}
	firstErr := g.Wait()

	failed := 0
	for _, r := range results {
		switch {
		case errors.Is(r.err, errSkipped):
			fmt.Fprintf(out, "skip  %-14s %v\n", r.check, r.err)
		case r.err != nil:
			failed++
			fmt.Fprintf(out, "FAIL  %-14s %v\n", r.check, r.err)
		default:
			fmt.Fprintf(out, "ok    %-14s %s\n", r.check, r.elapsed.Round(time.Millisecond))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed, first %w", failed, firstErr)
	}
	return nil
}

func probeSupport(ctx context.Context, gf *globalFlags, opts probeOptions, log *slog.Logger) error {
	if opts.userToken == "" || opts.adminToken == "" {
		return fmt.Errorf("%w: needs --user-token and --admin-token", errSkipped)
	}
	chOpts := support.WithChannelOptions(channelOptions(gf, log)...)

	user, err := support.New(gf.baseURL, channel.TokenCredential(opts.userToken), support.WithLogger(log), chOpts)
	if err != nil {
		return err
	}
	defer user.Close()
	admin, err := support.New(gf.baseURL, channel.TokenCredential(opts.adminToken), support.WithLogger(log), chOpts)
	if err != nil {
		return err
	}
	defer admin.Close()

	if _, err := user.Connect(ctx); err != nil {
		return fmt.Errorf("user connect: %w", err)
	}
	if _, err := admin.Connect(ctx); err != nil {
		return fmt.Errorf("admin connect: %w", err)
	}
	if err := user.Join(ctx, opts.conversation); err != nil {
		return err
	}
	if err := admin.Join(ctx, opts.conversation); err != nil {
		return err
	}

	// Joins are not acked. A request on the admin connection is handled after
	// its join, so the admin is in the room once the reply arrives.
	if _, err := admin.History(ctx, opts.conversation, nil, 1); err != nil {
		return fmt.Errorf("history: %w", err)
	}

	sent, err := user.SendMessage(ctx, v1.MessageSendPayload{ConversationID: opts.conversation, Message: opts.text})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := waitUntil(ctx, "fanout to admin", func() bool {
		_, ok := admin.Message(opts.conversation, sent.ID)
		return ok
	}); err != nil {
		return err
	}
	if err := admin.MarkRead(ctx, sent.ID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	hist, err := admin.History(ctx, opts.conversation, nil, 50)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	for _, m := range hist.Messages {
		if m.ID == sent.ID {
			return nil
		}
	}
	return fmt.Errorf("history: message %s missing", sent.ID)
}

func probeNotifications(ctx context.Context, gf *globalFlags, opts probeOptions, log *slog.Logger) error {
	if opts.adminToken == "" {
		return fmt.Errorf("%w: needs --admin-token", errSkipped)
	}

	c, err := notify.New(gf.baseURL, channel.TokenCredential(opts.adminToken),
		notify.WithLogger(log), notify.WithChannelOptions(channelOptions(gf, log)...))
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if opts.internalKey == "" {
		return nil
	}

	noteID := "probe-" + ids.MustULID(time.Now())
	if err := publishNotification(ctx, gf.baseURL, opts.internalKey, id.ID, v1.Notification{
		ID:       noteID,
		Category: "system",
		Title:    "rtprobe",
		Body:     "probe notification",
		Priority: v1.PriorityLow,
	}); err != nil {
		return err
	}
	if err := waitUntil(ctx, "notification delivered", func() bool {
		_, ok := c.Notification(noteID)
		return ok
	}); err != nil {
		return err
	}
	return c.MarkRead(ctx, noteID)
}

func probeWidget(ctx context.Context, gf *globalFlags, opts probeOptions, log *slog.Logger) error {
	c, err := widget.New(gf.baseURL, channel.GuestCredential(""),
		widget.WithLogger(log), widget.WithChannelOptions(channelOptions(gf, log)...))
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	st, err := c.Start(ctx, opts.trigger)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	steps, ok := probeSteps[opts.trigger]
	if !ok {
		return fmt.Errorf("no probe data for trigger %q", opts.trigger)
	}
	for _, s := range steps {
		if err := c.SubmitStep(ctx, st.SessionID, s.step, s.data); err != nil {
			return fmt.Errorf("step %s: %w", s.step, err)
		}
	}
	return waitUntil(ctx, "widget completed", func() bool {
		cur, ok := c.State(st.SessionID)
		return ok && cur.Status == v1.WidgetCompleted
	})
}

type probeStep struct {
	step string
	data map[string]any
}

// probeSteps holds valid inputs for every step of each flow.
var probeSteps = map[string][]probeStep{
	v1.TriggerOnboarding: {
		{realtime.StepEmail, map[string]any{"email": "probe@buykoins.example"}},
		{realtime.StepOTP, map[string]any{"otp": "000000"}},
		{realtime.StepProfile, map[string]any{"name": "rtprobe"}},
	},
	v1.TriggerWithdrawal: {
		{realtime.StepAmount, map[string]any{"amount": 1}},
		{realtime.StepBankAccount, map[string]any{"accountNumber": "0000000000"}},
		{realtime.StepConfirm, map[string]any{"confirmed": true}},
	},
	v1.TriggerDeposit: {
		{realtime.StepAmount, map[string]any{"amount": 1}},
		{realtime.StepPaymentMethod, map[string]any{"method": "bank_transfer"}},
		{realtime.StepConfirm, map[string]any{"confirmed": true}},
	},
}

func publishNotification(ctx context.Context, baseURL, key, identityID string, n v1.Notification) error {
	body, err := json.Marshal(map[string]any{"identityId": identityID, "notification": n})
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(httpBaseURL(baseURL), "/") + "/internal/notifications"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Key", key)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("publish: %s: %s", res.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

// httpBaseURL maps ws(s) back to http(s) for the plain HTTP routes.
func httpBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "wss://"):
		return "https://" + strings.TrimPrefix(base, "wss://")
	case strings.HasPrefix(base, "ws://"):
		return "http://" + strings.TrimPrefix(base, "ws://")
	case strings.Contains(base, "://"):
		return base
	default:
		return "http://" + base
	}
}

func runListen(ctx context.Context, out io.Writer, gf *globalFlags, opts listenOptions) error {
	names, ok := serverEvents[opts.namespace]
	if !ok {
		return fmt.Errorf("unknown namespace %q (want one of %s)", opts.namespace, strings.Join(v1.Namespaces, ", "))
	}
	log := app.NewLogger(gf.logLevel, "pretty")

	endpoint, err := channel.Endpoint(gf.baseURL, opts.namespace)
	if err != nil {
		return err
	}
	cred := channel.GuestCredential(opts.guestID)
	if opts.token != "" {
		cred = channel.TokenCredential(opts.token)
	}

	chOpts := channelOptions(gf, log)
	switch opts.namespace {
	case v1.NamespaceSupport:
		chOpts = append(chOpts, channel.WithRooms(support.Rooms))
	case v1.NamespaceWidget:
		chOpts = append(chOpts, channel.WithRooms(widget.Rooms))
	}
	sess, err := channel.New(endpoint, opts.namespace, cred, chOpts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	emit := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(v)
	}

	for _, name := range names {
		sess.On(name, func(ev channel.Event) {
			emit(map[string]any{"ts": ev.TS, "event": ev.Name, "payload": ev.Payload})
		})
	}
	sess.OnState(func(ch channel.StateChange) {
		line := map[string]any{"ts": ch.At, "state": ch.To.String(), "attempt": ch.Attempt}
		if ch.Err != nil {
			line["err"] = ch.Err.Error()
		}
		emit(line)
	})

	cctx, cancel := context.WithTimeout(ctx, gf.timeout)
	id, err := sess.Connect(cctx)
	cancel()
	if err != nil {
		return err
	}
	emit(map[string]any{"connected": opts.namespace, "session": id.SessionID, "role": id.Role, "id": id.ID, "guestId": id.GuestID})

	for _, room := range opts.rooms {
		if err := sess.Join(ctx, room); err != nil {
			return fmt.Errorf("join %s: %w", room, err)
		}
	}

	<-ctx.Done()
	return nil
}

func runMintToken(out io.Writer, opts mintOptions) error {
	if opts.generateKey {
		secret := auth.GenerateSecretKeyHex()
		m, err := auth.NewPasetoV4(auth.Config{SecretKeyHex: secret})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "BKRT_TOKEN_SECRET_KEY_HEX=%s\nBKRT_TOKEN_PUBLIC_KEY_HEX=%s\n", secret, m.PublicKeyHex())
		return nil
	}

	if opts.secretKeyHex == "" {
		return errors.New("--secret-key is required (or use --generate-key)")
	}
	if strings.TrimSpace(opts.subject) == "" {
		return errors.New("--subject is required")
	}
	if opts.role != v1.RoleUser && opts.role != v1.RoleAdmin {
		return fmt.Errorf("--role must be %s or %s", v1.RoleUser, v1.RoleAdmin)
	}

	m, err := auth.NewPasetoV4(auth.Config{
		Issuer:       opts.issuer,
		SecretKeyHex: opts.secretKeyHex,
		TTL:          opts.ttl,
	})
	if err != nil {
		return err
	}
	token, exp, err := m.Issue(opts.subject, opts.role, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	fmt.Fprintf(out, "# expires %s\n", exp.UTC().Format(time.RFC3339))
	return nil
}

func waitUntil(ctx context.Context, what string, cond func() bool) error {
	t := time.NewTicker(pollEvery)
	defer t.Stop()

	for !cond() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s", what)
		case <-t.C:
		}
	}
	return nil
}
