package v1

import "time"

// Widget namespace types (wire-stable).
const (
	TypeWidgetJoin  = "widget:join"
	TypeWidgetLeave = "widget:leave"
	// TypeWidgetStart creates a session (acknowledged, result is WidgetInitPayload).
	TypeWidgetStart = "widget:start"
	// TypeWidgetSubmitStep submits data for the current step (acknowledged).
	TypeWidgetSubmitStep = "widget:submit_step"
	// TypeWidgetAbandon ends a session early (acknowledged).
	TypeWidgetAbandon = "widget:abandon"

	TypeWidgetInit     = "widget:init"
	TypeWidgetStep     = "widget:step"
	TypeWidgetComplete = "widget:complete"
	TypeWidgetStatus   = "widget:status"
	TypeWidgetError    = "widget:error"
)

var widgetTypes = map[string]struct{}{
	TypeWidgetJoin:       {},
	TypeWidgetLeave:      {},
	TypeWidgetStart:      {},
	TypeWidgetSubmitStep: {},
	TypeWidgetAbandon:    {},
	TypeWidgetInit:       {},
	TypeWidgetStep:       {},
	TypeWidgetComplete:   {},
	TypeWidgetStatus:     {},
	TypeWidgetError:      {},
}

// Widget triggers.
const (
	TriggerOnboarding = "onboarding"
	TriggerWithdrawal = "withdrawal"
	TriggerDeposit    = "deposit"
)

// Widget session statuses.
const (
	WidgetActive    = "active"
	WidgetCompleted = "completed"
	WidgetAbandoned = "abandoned"
	WidgetError     = "error"
)

// WidgetTerminal reports whether status accepts no further steps.
func WidgetTerminal(status string) bool {
	switch status {
	case WidgetCompleted, WidgetAbandoned, WidgetError:
		return true
	default:
		return false
	}
}

// WidgetSessionPayload addresses one widget session (join/leave/abandon).
type WidgetSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// WidgetStartPayload requests a new guided flow.
type WidgetStartPayload struct {
	Trigger string `json:"trigger"`
}

// WidgetInitPayload announces a new session.
type WidgetInitPayload struct {
	SessionID   string     `json:"sessionId"`
	CurrentStep string     `json:"currentStep"`
	Trigger     string     `json:"trigger"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// WidgetSubmitStepPayload carries opaque data for one step.
type WidgetSubmitStepPayload struct {
	SessionID string         `json:"sessionId"`
	Step      string         `json:"step"`
	Data      map[string]any `json:"data,omitempty"`
}

// WidgetStepPayload is pushed after the server accepted a step.
type WidgetStepPayload struct {
	SessionID   string `json:"sessionId"`
	CurrentStep string `json:"currentStep"`
	NextStep    string `json:"nextStep,omitempty"`
	Message     string `json:"message,omitempty"`
}

// WidgetCompletePayload is pushed when a session reaches a terminal status.
type WidgetCompletePayload struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// WidgetStatusPayload is an authoritative session status.
type WidgetStatusPayload struct {
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	CurrentStep string `json:"currentStep,omitempty"`
}

// WidgetErrorPayload reports an unrecoverable session failure.
type WidgetErrorPayload struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
	Step      string `json:"step,omitempty"`
}
