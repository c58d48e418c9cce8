// Package u2pick implements the manual mode: the proposer types two
// free-form options and a participant settles the bet by hand.
package u2pick

import (
	"context"
	"fmt"
	"strings"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/modes"
)

const ModeKey = "u2pick"

const (
	cfgOptions  = "options"
	cfgQuestion = "question"
)

const (
	stepQuestion = "question"
	stepOption1  = "option_1"
	stepOption2  = "option_2"
)

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Key() string   { return ModeKey }
func (m *Module) Label() string { return "U2Pick" }
func (m *Module) Overview() string {
	return "Write your own bet. You settle it yourselves when the answer is known."
}

// SupportedLeagues is the wildcard: u2pick is not bound to any game.
func (m *Module) SupportedLeagues() []string { return []string{"*"} }

func (m *Module) ComputeOptions(cfg domain.ModeConfig) []string {
	return append(cfg.Strings(cfgOptions), domain.NoEntry)
}

func (m *Module) ComputeWinningCondition(cfg domain.ModeConfig) string {
	question := cfg.String(cfgQuestion)
	options := cfg.Strings(cfgOptions)
	return fmt.Sprintf("%s (%s — settled manually by the table)", question, strings.Join(options, " or "))
}

func (m *Module) BuildUserConfig(ctx context.Context, in modes.BuildInput) ([]domain.WizardStep, error) {
	return []domain.WizardStep{
		{Key: stepQuestion, Label: "What's the bet?", Input: domain.StepInputText},
		{Key: stepOption1, Label: "First option", Input: domain.StepInputText},
		{Key: stepOption2, Label: "Second option", Input: domain.StepInputText},
	}, nil
}

func (m *Module) ConfigFromSteps(steps []domain.WizardStep) domain.ModeConfig {
	cfg := domain.ModeConfig{}
	var options []string
	for i := range steps {
		step := &steps[i]
		if step.TextValue == nil {
			continue
		}
		value := strings.TrimSpace(*step.TextValue)
		switch step.Key {
		case stepQuestion:
			cfg[cfgQuestion] = value
		case stepOption1, stepOption2:
			if value != "" {
				options = append(options, value)
			}
		}
	}
	cfg[cfgOptions] = options
	return cfg
}

func (m *Module) ValidateProposal(ctx context.Context, in modes.ValidateInput) modes.ValidationResult {
	var errs []string

	if strings.TrimSpace(in.Config.String(cfgQuestion)) == "" {
		errs = append(errs, "the bet needs a question")
	}

	options := in.Config.Strings(cfgOptions)
	if len(options) < 2 {
		errs = append(errs, "at least two options are required")
	}
	seen := map[string]bool{}
	for _, o := range options {
		key := strings.ToLower(strings.TrimSpace(o))
		if seen[key] {
			errs = append(errs, "options must be distinct")
			break
		}
		seen[key] = true
	}

	return modes.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// PrepareConfig has no baseline to capture; the config passes through.
func (m *Module) PrepareConfig(ctx context.Context, in modes.PrepareInput) (domain.ModeConfig, error) {
	return in.Config, nil
}

func (m *Module) GetLiveInfo(ctx context.Context, in modes.LiveInfoInput) (*domain.LiveInfo, error) {
	return &domain.LiveInfo{Fields: []domain.LiveInfoField{
		{Label: "Bet", Value: in.Config.String(cfgQuestion)},
		{Label: "Options", Value: strings.Join(in.Config.Strings(cfgOptions), " / ")},
		{Label: "Settlement", Value: "manual"},
	}}, nil
}

// Validator is nil: u2pick is settled only through the manual validate
// endpoint.
func (m *Module) Validator() modes.Validator { return nil }
