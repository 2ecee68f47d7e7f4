package widget

import (
	"maps"
	"slices"
	"time"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// State is the local view of one guided flow. The gateway decides step order;
// State only records what it was told.
type State struct {
	SessionID      string
	Trigger        string
	CurrentStep    string
	CompletedSteps []string
	Data           map[string]any
	Status         string
	ExpiresAt      *time.Time
	LastMessage    string
	LastError      string
}

// Terminal reports whether no further steps are accepted.
func (s State) Terminal() bool { return v1.WidgetTerminal(s.Status) }

// Expired is advisory; the gateway enforces expiry.
func (s State) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

func (s State) clone() State {
	out := s
	out.CompletedSteps = append([]string(nil), s.CompletedSteps...)
	out.Data = maps.Clone(s.Data)
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

func newState(p v1.WidgetInitPayload) *State {
	return &State{
		SessionID:   p.SessionID,
		Trigger:     p.Trigger,
		CurrentStep: p.CurrentStep,
		Data:        make(map[string]any),
		Status:      v1.WidgetActive,
		ExpiresAt:   p.ExpiresAt,
	}
}

// step advances to the server's current step. Repeating the same step is a no-op.
func (s *State) step(p v1.WidgetStepPayload) bool {
	if s.Terminal() {
		return false
	}
	if p.Message != "" {
		s.LastMessage = p.Message
	}
	if p.CurrentStep == "" || p.CurrentStep == s.CurrentStep {
		return false
	}
	if s.CurrentStep != "" && !slices.Contains(s.CompletedSteps, s.CurrentStep) {
		s.CompletedSteps = append(s.CompletedSteps, s.CurrentStep)
	}
	s.CurrentStep = p.CurrentStep
	return true
}

func (s *State) complete(p v1.WidgetCompletePayload) {
	status := p.Status
	if !v1.WidgetTerminal(status) {
		status = v1.WidgetCompleted
	}
	if status == v1.WidgetCompleted && s.CurrentStep != "" && !slices.Contains(s.CompletedSteps, s.CurrentStep) {
		s.CompletedSteps = append(s.CompletedSteps, s.CurrentStep)
	}
	s.Status = status
	if p.Message != "" {
		s.LastMessage = p.Message
	}
}

func (s *State) status(p v1.WidgetStatusPayload) {
	if p.Status != "" {
		s.Status = p.Status
	}
	if p.CurrentStep != "" && p.CurrentStep != s.CurrentStep {
		if s.CurrentStep != "" && !slices.Contains(s.CompletedSteps, s.CurrentStep) {
			s.CompletedSteps = append(s.CompletedSteps, s.CurrentStep)
		}
		s.CurrentStep = p.CurrentStep
	}
}

func (s *State) fail(p v1.WidgetErrorPayload) {
	s.Status = v1.WidgetError
	s.LastError = p.Error
}

func (s *State) merge(data map[string]any) {
	if s.Data == nil {
		s.Data = make(map[string]any, len(data))
	}
	maps.Copy(s.Data, data)
}
