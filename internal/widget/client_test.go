package widget_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cambiartech/buykoins-realtime/internal/channel"
	"github.com/cambiartech/buykoins-realtime/internal/guest"
	"github.com/cambiartech/buykoins-realtime/internal/realtime"
	"github.com/cambiartech/buykoins-realtime/internal/widget"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func startGateway(t *testing.T) (*realtime.Gateway, string) {
	t.Helper()

	cfg := realtime.DefaultGatewayConfig()
	cfg.OriginRequired = false
	g := realtime.NewGateway(nil, cfg, realtime.Deps{Auth: realtime.NewStaticAuthenticator()})

	mux := http.NewServeMux()
	mux.Handle("/ws/{namespace}", g)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		g.CloseAll("test done")
		srv.Close()
	})
	return g, srv.URL
}

func connectGuest(t *testing.T, base string, opts ...channel.Option) *widget.Client {
	t.Helper()

	c, err := widget.New(base, channel.GuestCredential(""), widget.WithChannelOptions(opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	return c
}

func TestClient_OnboardingFlow(t *testing.T) {
	_, base := startGateway(t)
	ctx := context.Background()

	c := connectGuest(t, base)

	st, err := c.Start(ctx, v1.TriggerOnboarding)
	require.NoError(t, err)
	assert.Equal(t, realtime.StepEmail, st.CurrentStep)
	assert.Equal(t, v1.WidgetActive, st.Status)
	require.NotNil(t, st.ExpiresAt)
	id := st.SessionID

	require.NoError(t, c.SubmitStep(ctx, id, realtime.StepEmail, map[string]any{"email": "ada@example.com"}))
	st, ok := c.State(id)
	require.True(t, ok)
	assert.Equal(t, realtime.StepOTP, st.CurrentStep)
	assert.Equal(t, []string{realtime.StepEmail}, st.CompletedSteps)
	assert.Equal(t, "ada@example.com", st.Data["email"])

	var ce *channel.CommandError
	require.ErrorAs(t, c.SubmitStep(ctx, id, realtime.StepOTP, map[string]any{"otp": "abc"}), &ce)
	assert.Equal(t, v1.ErrCodeBadPayload, ce.Code)
	st, _ = c.State(id)
	assert.Equal(t, realtime.StepOTP, st.CurrentStep)

	require.NoError(t, c.SubmitStep(ctx, id, realtime.StepOTP, map[string]any{"otp": "123456"}))
	require.NoError(t, c.SubmitStep(ctx, id, realtime.StepProfile, map[string]any{"name": "Ada"}))

	require.Eventually(t, func() bool {
		st, _ := c.State(id)
		return st.Status == v1.WidgetCompleted
	}, waitFor, tick)

	assert.ErrorIs(t, c.SubmitStep(ctx, id, realtime.StepProfile, nil), widget.ErrTerminal)
	assert.ErrorIs(t, c.Abandon(ctx, id), widget.ErrTerminal)
	assert.ErrorIs(t, c.SubmitStep(ctx, "wgt_unknown", realtime.StepEmail, nil), widget.ErrUnknownSession)
}

func TestClient_AbandonAndExpiry(t *testing.T) {
	g, base := startGateway(t)
	ctx := context.Background()

	c := connectGuest(t, base)

	first, err := c.Start(ctx, v1.TriggerWithdrawal)
	require.NoError(t, err)
	require.NoError(t, c.Abandon(ctx, first.SessionID))
	st, _ := c.State(first.SessionID)
	assert.Equal(t, v1.WidgetAbandoned, st.Status)

	second, err := c.Start(ctx, v1.TriggerDeposit)
	require.NoError(t, err)
	require.NotNil(t, second.ExpiresAt)

	assert.Equal(t, 1, g.SweepWidgets(second.ExpiresAt.Add(time.Second)))
	require.Eventually(t, func() bool {
		st, _ := c.State(second.SessionID)
		return st.Status == v1.WidgetError && st.LastError != ""
	}, waitFor, tick)

	require.NoError(t, c.Forget(ctx, second.SessionID))
	_, ok := c.State(second.SessionID)
	assert.False(t, ok)
	assert.Equal(t, []string{first.SessionID}, c.Sessions())
}

func TestClient_GuestIdentitySurvivesRestart(t *testing.T) {
	g, base := startGateway(t)
	ctx := context.Background()

	store := &guest.Memory{}
	first := connectGuest(t, base, channel.WithGuestStore(store))
	st, err := first.Start(ctx, v1.TriggerOnboarding)
	require.NoError(t, err)
	guestID := first.Session().Identity().GuestID
	require.NotEmpty(t, guestID)
	require.NoError(t, first.Close())

	second := connectGuest(t, base, channel.WithGuestStore(store))
	assert.Equal(t, guestID, second.Session().Identity().GuestID)

	// Same guest, so the session can be followed and resumed.
	require.NoError(t, second.Join(ctx, st.SessionID))
	require.Eventually(t, func() bool {
		got, ok := second.State(st.SessionID)
		return ok && got.CurrentStep == realtime.StepEmail && got.Status == v1.WidgetActive
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		room := g.Hub().LookupRoom(v1.NamespaceWidget, st.SessionID)
		return room != nil && room.Len() == 1
	}, waitFor, tick)
}
