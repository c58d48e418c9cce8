package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus is the wizard stage of a config session.
type SessionStatus string

const (
	SessionStageModeConfig SessionStatus = "mode_config"
	SessionStageGeneral    SessionStatus = "general"
	SessionStageSummary    SessionStatus = "summary"
)

// rank orders stages for forward/backward comparisons.
func (s SessionStatus) rank() int {
	switch s {
	case SessionStageModeConfig:
		return 0
	case SessionStageGeneral:
		return 1
	case SessionStageSummary:
		return 2
	}
	return -1
}

// Before reports whether s comes earlier in the wizard than other.
func (s SessionStatus) Before(other SessionStatus) bool { return s.rank() < other.rank() }

// StepInput is how a wizard step collects its value.
type StepInput string

const (
	StepInputChoice StepInput = "choice"
	StepInputText   StepInput = "text"
)

// StepChoice is one selectable option inside a wizard step. Clears lists
// dependent step keys whose selections are dropped when this choice is
// applied.
type StepChoice struct {
	ID     string   `json:"id"`
	Label  string   `json:"label"`
	Clears []string `json:"clears,omitempty"`
}

// WizardStep is one step of a mode's proposer wizard.
type WizardStep struct {
	Key              string       `json:"key"`
	Label            string       `json:"label"`
	Input            StepInput    `json:"input"`
	Choices          []StepChoice `json:"choices,omitempty"`
	SelectedChoiceID *string      `json:"selectedChoiceId,omitempty"`
	TextValue        *string      `json:"textValue,omitempty"`
	Completed        bool         `json:"completed"`
}

// Choice returns the selected choice descriptor, if any.
func (s *WizardStep) Choice() *StepChoice {
	if s.SelectedChoiceID == nil {
		return nil
	}
	for i := range s.Choices {
		if s.Choices[i].ID == *s.SelectedChoiceID {
			return &s.Choices[i]
		}
	}
	return nil
}

// GeneralConfig carries the non-mode-specific knobs of a proposal.
type GeneralConfig struct {
	WagerAmount      *decimal.Decimal `json:"wager_amount,omitempty"`
	TimeLimitSeconds *int             `json:"time_limit_seconds,omitempty"`
}

// Preview is the server-rendered summary gating commit.
type Preview struct {
	Description      string   `json:"description"`
	WinningCondition string   `json:"winning_condition"`
	Options          []string `json:"options"`
	Errors           []string `json:"errors,omitempty"`
}

// ConfigSession is the in-flight wizard state for one proposer.
type ConfigSession struct {
	ID           uuid.UUID     `json:"session_id"`
	ModeKey      string        `json:"mode_key"`
	League       string        `json:"league"`
	LeagueGameID string        `json:"league_game_id"`
	Steps        []WizardStep  `json:"steps"`
	General      GeneralConfig `json:"general"`
	Status       SessionStatus `json:"status"`
	Preview      *Preview      `json:"preview,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// SessionTTL bounds every config session.
const SessionTTL = 15 * time.Minute

// Step finds a step by key.
func (s *ConfigSession) Step(key string) *WizardStep {
	for i := range s.Steps {
		if s.Steps[i].Key == key {
			return &s.Steps[i]
		}
	}
	return nil
}

// StepsComplete reports whether every wizard step is completed.
func (s *ConfigSession) StepsComplete() bool {
	for i := range s.Steps {
		if !s.Steps[i].Completed {
			return false
		}
	}
	return true
}

// Expired reports whether the session has passed its TTL.
func (s *ConfigSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
