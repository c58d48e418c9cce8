package modes

import (
	"context"
	"time"

	"github.com/tablestakes/platform/internal/domain"
)

// GameSource is the slice of the live data store the mode layer reads.
// A missing game returns (nil, nil).
type GameSource interface {
	Game(league, gameID string) (*domain.RefinedGameDoc, error)
}

// BuildInput carries what a mode needs to lay out its wizard steps.
type BuildInput struct {
	League string
	Game   *domain.RefinedGameDoc // nil for modes not bound to a game
}

// ValidateInput is the pre-commit validation context.
type ValidateInput struct {
	League string
	GameID string
	Config domain.ModeConfig
	Game   *domain.RefinedGameDoc
}

// ValidationResult accumulates semantic errors and optional config
// enrichment from ValidateProposal.
type ValidationResult struct {
	Valid         bool
	Errors        []string
	ConfigUpdates domain.ModeConfig
}

// PrepareInput is handed to PrepareConfig at commit time.
type PrepareInput struct {
	Bet    *domain.BetProposal
	Config domain.ModeConfig
}

// LiveInfoInput is the context for projecting live game state for a bet.
type LiveInfoInput struct {
	Bet    *domain.BetProposal
	Config domain.ModeConfig
}

// DecisionKind classifies a validator's verdict for one bet.
type DecisionKind string

const (
	DecisionStillRunning DecisionKind = "still_running"
	DecisionResolve      DecisionKind = "resolve"
	DecisionWash         DecisionKind = "wash"
)

// Decision is the outcome of one validator evaluation.
type Decision struct {
	Kind          DecisionKind
	WinningChoice string
	Explanation   string
}

func StillRunning() Decision { return Decision{Kind: DecisionStillRunning} }

func Resolve(choice string) Decision {
	return Decision{Kind: DecisionResolve, WinningChoice: choice}
}

func Wash(explanation string) Decision {
	return Decision{Kind: DecisionWash, Explanation: explanation}
}

// Validator evaluates one active bet against live data. Implementations
// must swallow provider/live-data failures and report StillRunning so the
// bet is retried next tick.
type Validator interface {
	Evaluate(ctx context.Context, bet *domain.BetProposal, cfg domain.ModeConfig) (Decision, error)
}

// MissingDataHorizon bounds how long a validator keeps retrying a bet whose
// game document cannot be loaded. File retention removes documents well
// after any game ends, so a document still missing this long after the
// proposal is not coming back and the bet is washed.
const MissingDataHorizon = 6 * time.Hour

// Module is the extension surface for one bet mode. New modes are added by
// registering a Module, never by branching inside the core.
type Module interface {
	Key() string
	Label() string
	Overview() string

	// SupportedLeagues returns league tags, or ["*"] for every league.
	SupportedLeagues() []string

	// ComputeOptions returns the choice set participants pick from. The
	// set always includes the "No Entry" sentinel.
	ComputeOptions(cfg domain.ModeConfig) []string

	// ComputeWinningCondition renders the human-readable terminal condition.
	ComputeWinningCondition(cfg domain.ModeConfig) string

	// BuildUserConfig produces the ordered proposer wizard steps.
	BuildUserConfig(ctx context.Context, in BuildInput) ([]domain.WizardStep, error)

	// ConfigFromSteps folds the wizard's selections into the mode config
	// that will be persisted with the bet.
	ConfigFromSteps(steps []domain.WizardStep) domain.ModeConfig

	// ValidateProposal runs immediately before commit.
	ValidateProposal(ctx context.Context, in ValidateInput) ValidationResult

	// PrepareConfig enriches the config with baseline data captured from
	// live game state at commit time. A failure here aborts the proposal.
	PrepareConfig(ctx context.Context, in PrepareInput) (domain.ModeConfig, error)

	// GetLiveInfo projects current game state against the bet's baseline.
	GetLiveInfo(ctx context.Context, in LiveInfoInput) (*domain.LiveInfo, error)

	// Validator returns the mode's background evaluator, or nil for
	// manually resolved modes.
	Validator() Validator
}
