package realtime

import (
	"errors"
	"testing"
	"time"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

var (
	widgetOwner = Principal{Role: v1.RoleGuest, ID: "guest:01J0000000000000000000000A"}
	widgetAdmin = Principal{Role: v1.RoleAdmin, ID: "admin:1"}
)

func TestWidgetEngine_OnboardingFlow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := NewWidgetEngine(time.Minute)

	started, err := e.Start(widgetOwner.ID, v1.TriggerOnboarding, now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.CurrentStep != StepEmail || started.ExpiresAt == nil || !started.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("started: %+v", started)
	}
	id := started.SessionID

	adv, err := e.Submit(widgetOwner, id, StepEmail, map[string]any{"email": "ada@example.com"}, now)
	if err != nil {
		t.Fatalf("submit email: %v", err)
	}
	if adv.Complete != nil || adv.Step.CurrentStep != StepOTP || adv.Step.NextStep != StepProfile {
		t.Fatalf("after email: %+v", adv)
	}

	if _, err := e.Submit(widgetOwner, id, StepOTP, map[string]any{"otp": "12a456"}, now); err == nil {
		t.Fatalf("expected otp validation error")
	} else {
		var se *StepError
		if !errors.As(err, &se) || se.Step != StepOTP {
			t.Fatalf("expected StepError for otp, got %v", err)
		}
	}
	if st, _ := e.Status(widgetOwner, id); st.CurrentStep != StepOTP {
		t.Fatalf("invalid data must not advance, at %q", st.CurrentStep)
	}

	if _, err := e.Submit(widgetOwner, id, StepOTP, map[string]any{"otp": "123456"}, now); err != nil {
		t.Fatalf("submit otp: %v", err)
	}
	adv, err = e.Submit(widgetOwner, id, StepProfile, map[string]any{"name": "Ada"}, now)
	if err != nil {
		t.Fatalf("submit profile: %v", err)
	}
	if adv.Complete == nil || adv.Complete.Status != v1.WidgetCompleted {
		t.Fatalf("expected completion, got %+v", adv)
	}

	if _, err := e.Submit(widgetOwner, id, StepProfile, map[string]any{"name": "Ada"}, now); !errors.Is(err, ErrWidgetTerminal) {
		t.Fatalf("expected ErrWidgetTerminal, got %v", err)
	}
	if _, err := e.Abandon(widgetOwner, id); !errors.Is(err, ErrWidgetTerminal) {
		t.Fatalf("abandon after completion: expected ErrWidgetTerminal, got %v", err)
	}
}

func TestWidgetEngine_StepOrderAndAccess(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	e := NewWidgetEngine(0)

	if _, err := e.Start(widgetOwner.ID, "loan", now); !errors.Is(err, ErrWidgetTrigger) {
		t.Fatalf("expected ErrWidgetTrigger, got %v", err)
	}

	started, err := e.Start(widgetOwner.ID, v1.TriggerWithdrawal, now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := e.Submit(widgetOwner, started.SessionID, StepConfirm, map[string]any{"confirmed": true}, now); !errors.Is(err, ErrWidgetStepMismatch) {
		t.Fatalf("expected ErrWidgetStepMismatch, got %v", err)
	}

	stranger := Principal{Role: v1.RoleUser, ID: "user:x"}
	if _, err := e.Status(stranger, started.SessionID); !errors.Is(err, ErrWidgetForbidden) {
		t.Fatalf("expected ErrWidgetForbidden, got %v", err)
	}
	if _, err := e.Status(widgetAdmin, started.SessionID); err != nil {
		t.Fatalf("admins may follow any session: %v", err)
	}
	if _, err := e.Status(widgetOwner, "wgt_missing"); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("expected ErrWidgetNotFound, got %v", err)
	}
}

func TestWidgetEngine_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		step string
		data map[string]any
		ok   bool
	}{
		{StepEmail, map[string]any{"email": "a@b.co"}, true},
		{StepEmail, map[string]any{"email": "@b.co"}, false},
		{StepEmail, map[string]any{"email": "ab.co"}, false},
		{StepOTP, map[string]any{"otp": "000111"}, true},
		{StepOTP, map[string]any{"otp": "0001"}, false},
		{StepProfile, map[string]any{"name": "  "}, false},
		{StepAmount, map[string]any{"amount": 12.5}, true},
		{StepAmount, map[string]any{"amount": "250"}, true},
		{StepAmount, map[string]any{"amount": 0.0}, false},
		{StepAmount, map[string]any{}, false},
		{StepBankAccount, map[string]any{"accountNumber": "0123456789"}, true},
		{StepBankAccount, map[string]any{"accountNumber": "012345678"}, false},
		{StepPaymentMethod, map[string]any{"method": "card"}, true},
		{StepPaymentMethod, map[string]any{"method": "bank_transfer"}, true},
		{StepPaymentMethod, map[string]any{"method": "cash"}, false},
		{StepConfirm, map[string]any{"confirmed": true}, true},
		{StepConfirm, map[string]any{"confirmed": "yes"}, false},
	}
	for _, tc := range cases {
		err := validateStep(tc.step, tc.data)
		if (err == nil) != tc.ok {
			t.Fatalf("validateStep(%s, %v): err=%v want ok=%v", tc.step, tc.data, err, tc.ok)
		}
	}
}

func TestWidgetEngine_SweepExpired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	e := NewWidgetEngine(time.Minute)

	stale, _ := e.Start(widgetOwner.ID, v1.TriggerDeposit, now)
	done, _ := e.Start(widgetOwner.ID, v1.TriggerDeposit, now)
	if _, err := e.Abandon(widgetOwner, done.SessionID); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	fresh, _ := e.Start(widgetOwner.ID, v1.TriggerDeposit, now.Add(50*time.Second))

	expired := e.SweepExpired(now.Add(61 * time.Second))
	if len(expired) != 1 || expired[0].SessionID != stale.SessionID || expired[0].Step != StepAmount {
		t.Fatalf("expired: %+v", expired)
	}
	if st, _ := e.Status(widgetOwner, stale.SessionID); st.Status != v1.WidgetError {
		t.Fatalf("expired session status: %q", st.Status)
	}
	if st, _ := e.Status(widgetOwner, fresh.SessionID); st.Status != v1.WidgetActive {
		t.Fatalf("fresh session status: %q", st.Status)
	}
	if _, err := e.Submit(widgetOwner, stale.SessionID, StepAmount, map[string]any{"amount": 5.0}, now); !errors.Is(err, ErrWidgetTerminal) {
		t.Fatalf("expected ErrWidgetTerminal after expiry, got %v", err)
	}

	// Finished sessions are forgotten one TTL after they expired.
	e.SweepExpired(now.Add(3 * time.Minute))
	if _, err := e.Status(widgetOwner, done.SessionID); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("expected finished session to be forgotten, got %v", err)
	}
}
