package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

var (
	ErrWidgetNotFound     = errors.New("realtime: widget session not found")
	ErrWidgetTerminal     = errors.New("realtime: widget session is finished")
	ErrWidgetStepMismatch = errors.New("realtime: step is not the current step")
	ErrWidgetTrigger      = errors.New("realtime: unknown widget trigger")
	ErrWidgetForbidden    = errors.New("realtime: widget session belongs to another identity")
)

// StepError reports invalid step data. The session stays on the same step.
type StepError struct {
	Step   string
	Reason string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("realtime: invalid %s: %s", e.Step, e.Reason)
}

// Step names.
const (
	StepEmail         = "email"
	StepOTP           = "otp"
	StepProfile       = "profile"
	StepAmount        = "amount"
	StepBankAccount   = "bank_account"
	StepPaymentMethod = "payment_method"
	StepConfirm       = "confirm"
)

// Flows maps each trigger to its ordered steps.
var Flows = map[string][]string{
	v1.TriggerOnboarding: {StepEmail, StepOTP, StepProfile},
	v1.TriggerWithdrawal: {StepAmount, StepBankAccount, StepConfirm},
	v1.TriggerDeposit:    {StepAmount, StepPaymentMethod, StepConfirm},
}

// WidgetEngine owns server-side widget sessions and decides step order.
type WidgetEngine struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*widgetSession
}

type widgetSession struct {
	id        string
	trigger   string
	owner     string
	steps     []string
	idx       int
	status    string
	data      map[string]any
	expiresAt time.Time
}

func (s *widgetSession) current() string {
	if s.idx >= len(s.steps) {
		return ""
	}
	return s.steps[s.idx]
}

func (s *widgetSession) statusPayload() v1.WidgetStatusPayload {
	return v1.WidgetStatusPayload{SessionID: s.id, Status: s.status, CurrentStep: s.current()}
}

// WidgetAdvance is the outcome of an accepted step. Complete is set when the
// step was the last one.
type WidgetAdvance struct {
	Step     v1.WidgetStepPayload
	Complete *v1.WidgetCompletePayload
}

// NewWidgetEngine constructs an engine. ttl <= 0 uses the default TTL.
func NewWidgetEngine(ttl time.Duration) *WidgetEngine {
	if ttl <= 0 {
		ttl = widgetSessionTTL
	}
	return &WidgetEngine{ttl: ttl, sessions: make(map[string]*widgetSession)}
}

// Start creates a session for owner.
func (e *WidgetEngine) Start(owner, trigger string, now time.Time) (v1.WidgetInitPayload, error) {
	steps, ok := Flows[strings.TrimSpace(trigger)]
	if !ok {
		return v1.WidgetInitPayload{}, ErrWidgetTrigger
	}

	s := &widgetSession{
		id:        "wgt_" + newServerMsgID(now),
		trigger:   trigger,
		owner:     owner,
		steps:     steps,
		status:    v1.WidgetActive,
		data:      make(map[string]any),
		expiresAt: now.Add(e.ttl).UTC(),
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	exp := s.expiresAt
	return v1.WidgetInitPayload{
		SessionID:   s.id,
		CurrentStep: s.current(),
		Trigger:     s.trigger,
		ExpiresAt:   &exp,
	}, nil
}

// lookup returns an accessible session. Callers hold e.mu.
func (e *WidgetEngine) lookup(p Principal, id string) (*widgetSession, error) {
	s := e.sessions[id]
	if s == nil {
		return nil, ErrWidgetNotFound
	}
	if !p.IsAdmin() && s.owner != p.ID {
		return nil, ErrWidgetForbidden
	}
	return s, nil
}

// Status returns the authoritative status of a session.
func (e *WidgetEngine) Status(p Principal, id string) (v1.WidgetStatusPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.lookup(p, id)
	if err != nil {
		return v1.WidgetStatusPayload{}, err
	}
	return s.statusPayload(), nil
}

// Submit validates data for step and advances the session.
func (e *WidgetEngine) Submit(p Principal, id, step string, data map[string]any, now time.Time) (WidgetAdvance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.lookup(p, id)
	if err != nil {
		return WidgetAdvance{}, err
	}
	if v1.WidgetTerminal(s.status) {
		return WidgetAdvance{}, ErrWidgetTerminal
	}
	if !now.Before(s.expiresAt) {
		return WidgetAdvance{}, ErrWidgetTerminal
	}
	if step != s.current() {
		return WidgetAdvance{}, ErrWidgetStepMismatch
	}
	if err := validateStep(step, data); err != nil {
		return WidgetAdvance{}, err
	}

	maps.Copy(s.data, data)
	s.idx++
	s.expiresAt = now.Add(e.ttl).UTC()

	out := WidgetAdvance{Step: v1.WidgetStepPayload{
		SessionID:   s.id,
		CurrentStep: s.current(),
	}}
	if s.idx+1 < len(s.steps) {
		out.Step.NextStep = s.steps[s.idx+1]
	}

	if s.idx >= len(s.steps) {
		s.status = v1.WidgetCompleted
		out.Complete = &v1.WidgetCompletePayload{
			SessionID: s.id,
			Status:    v1.WidgetCompleted,
			Message:   completionMessage(s.trigger),
		}
		return out, nil
	}
	out.Step.Message = "step " + step + " accepted"
	return out, nil
}

// Abandon ends an active session.
func (e *WidgetEngine) Abandon(p Principal, id string) (v1.WidgetCompletePayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.lookup(p, id)
	if err != nil {
		return v1.WidgetCompletePayload{}, err
	}
	if v1.WidgetTerminal(s.status) {
		return v1.WidgetCompletePayload{}, ErrWidgetTerminal
	}
	s.status = v1.WidgetAbandoned
	return v1.WidgetCompletePayload{SessionID: s.id, Status: v1.WidgetAbandoned, Message: "session abandoned"}, nil
}

// SweepExpired fails active sessions whose TTL has passed and forgets
// finished ones that expired. It returns one error payload per failed session,
// ordered by session id.
func (e *WidgetEngine) SweepExpired(now time.Time) []v1.WidgetErrorPayload {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []v1.WidgetErrorPayload
	for id, s := range e.sessions {
		if now.Before(s.expiresAt) {
			continue
		}
		if v1.WidgetTerminal(s.status) {
			if now.Sub(s.expiresAt) > e.ttl {
				delete(e.sessions, id)
			}
			continue
		}
		s.status = v1.WidgetError
		out = append(out, v1.WidgetErrorPayload{SessionID: id, Error: "session expired", Step: s.current()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the number of tracked sessions.
func (e *WidgetEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func completionMessage(trigger string) string {
	switch trigger {
	case v1.TriggerOnboarding:
		return "onboarding complete"
	case v1.TriggerWithdrawal:
		return "withdrawal submitted"
	case v1.TriggerDeposit:
		return "deposit submitted"
	default:
		return "complete"
	}
}

func validateStep(step string, data map[string]any) error {
	if b, err := json.Marshal(data); err != nil || len(b) > maxStepDataBytes {
		return &StepError{Step: step, Reason: "data too large"}
	}

	switch step {
	case StepEmail:
		email := stringField(data, "email")
		at := strings.Index(email, "@")
		if at <= 0 || at == len(email)-1 {
			return &StepError{Step: step, Reason: "email is invalid"}
		}
	case StepOTP:
		if !digits(stringField(data, "otp"), 6) {
			return &StepError{Step: step, Reason: "otp must be 6 digits"}
		}
	case StepProfile:
		if stringField(data, "name") == "" {
			return &StepError{Step: step, Reason: "name is required"}
		}
	case StepAmount:
		amt, ok := numberField(data, "amount")
		if !ok || amt <= 0 {
			return &StepError{Step: step, Reason: "amount must be positive"}
		}
	case StepBankAccount:
		if !digits(stringField(data, "accountNumber"), 10) {
			return &StepError{Step: step, Reason: "accountNumber must be 10 digits"}
		}
	case StepPaymentMethod:
		switch stringField(data, "method") {
		case "card", "bank_transfer":
		default:
			return &StepError{Step: step, Reason: "method must be card or bank_transfer"}
		}
	case StepConfirm:
		if ok, _ := data["confirmed"].(bool); !ok {
			return &StepError{Step: step, Reason: "confirmation required"}
		}
	}
	return nil
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func numberField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
