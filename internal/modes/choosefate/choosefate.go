// Package choosefate implements the choose-their-fate mode: participants
// predict how the current possession ends for the team holding the ball at
// proposal time.
package choosefate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/modes"
)

const ModeKey = "choose_their_fate"

const (
	cfgTeamID        = "possession_team_id"
	cfgTeamName      = "possession_team_name"
	cfgDriveSequence = "baseline_drive_sequence"
)

const stepPossession = "possession"

// Drive outcomes participants choose between.
const (
	OutcomeTouchdown = "Touchdown"
	OutcomeFieldGoal = "Field Goal"
	OutcomeSafety    = "Safety"
	OutcomePunt      = "Punt"
	OutcomeTurnover  = "Turnover"
)

// playTypeOutcomes maps the provider's drive-result strings onto the mode's
// outcome set. Results not listed here (end of half, end of game) wash.
var playTypeOutcomes = map[string]string{
	"TD":                OutcomeTouchdown,
	"TOUCHDOWN":         OutcomeTouchdown,
	"FG":                OutcomeFieldGoal,
	"FIELD GOAL":        OutcomeFieldGoal,
	"SF":                OutcomeSafety,
	"SAFETY":            OutcomeSafety,
	"PUNT":              OutcomePunt,
	"INT":               OutcomeTurnover,
	"INTERCEPTION":      OutcomeTurnover,
	"FUMBLE":            OutcomeTurnover,
	"FUMBLE LOST":       OutcomeTurnover,
	"DOWNS":             OutcomeTurnover,
	"TURNOVER ON DOWNS": OutcomeTurnover,
	"MISSED FG":         OutcomeTurnover,
}

// Baseline pins the possession team and the drive count at proposal time so
// the validator only reacts to drives that end after the bet opened.
type Baseline struct {
	GameID           string    `json:"game_id"`
	PossessionTeamID string    `json:"possession_team_id"`
	DriveSequence    int       `json:"drive_sequence"`
	CapturedAt       time.Time `json:"captured_at"`
}

type Module struct {
	games     modes.GameSource
	baselines *modes.BaselineStore
}

func New(games modes.GameSource, baselines *modes.BaselineStore) *Module {
	return &Module{games: games, baselines: baselines}
}

func (m *Module) Key() string   { return ModeKey }
func (m *Module) Label() string { return "Choose Their Fate" }
func (m *Module) Overview() string {
	return "How does the current possession end? Touchdown, field goal, safety, punt, or turnover."
}
func (m *Module) SupportedLeagues() []string { return []string{"nfl"} }

func (m *Module) ComputeOptions(cfg domain.ModeConfig) []string {
	return []string{OutcomeTouchdown, OutcomeFieldGoal, OutcomeSafety, OutcomePunt, OutcomeTurnover, domain.NoEntry}
}

func (m *Module) ComputeWinningCondition(cfg domain.ModeConfig) string {
	team := cfg.String(cfgTeamName)
	if team == "" {
		team = cfg.String(cfgTeamID)
	}
	return fmt.Sprintf("How does %s's current possession end?", team)
}

// BuildUserConfig exposes a single confirmation step pinning the team that
// holds the ball right now.
func (m *Module) BuildUserConfig(ctx context.Context, in modes.BuildInput) ([]domain.WizardStep, error) {
	if in.Game == nil {
		return nil, domain.ErrBadInput("choose_their_fate requires a live game")
	}
	if in.Game.Status != domain.GameStatusInProgress {
		return nil, domain.ErrBadInput("choose_their_fate requires an in-progress game")
	}

	teamID := in.Game.PossessionTeamID()
	if teamID == "" {
		return nil, domain.ErrBadInput("no team currently has possession")
	}
	team := in.Game.Team(teamID)

	return []domain.WizardStep{
		{
			Key:   stepPossession,
			Label: "Team on the ball",
			Input: domain.StepInputChoice,
			Choices: []domain.StepChoice{
				{ID: teamID, Label: team.Name},
			},
		},
	}, nil
}

func (m *Module) ConfigFromSteps(steps []domain.WizardStep) domain.ModeConfig {
	cfg := domain.ModeConfig{}
	for i := range steps {
		if steps[i].Key != stepPossession {
			continue
		}
		if choice := steps[i].Choice(); choice != nil {
			cfg[cfgTeamID] = choice.ID
			cfg[cfgTeamName] = choice.Label
		}
	}
	return cfg
}

func (m *Module) ValidateProposal(ctx context.Context, in modes.ValidateInput) modes.ValidationResult {
	var errs []string

	if in.Game == nil {
		return modes.ValidationResult{Errors: []string{"game data is unavailable"}}
	}
	if in.Game.Status != domain.GameStatusInProgress {
		errs = append(errs, "game must be in progress")
	}

	teamID := in.Config.String(cfgTeamID)
	if teamID == "" {
		errs = append(errs, "a possession team must be confirmed")
	} else if in.Game.PossessionTeamID() != teamID {
		errs = append(errs, "possession has changed since the wizard was opened")
	}

	return modes.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// PrepareConfig records the drive count at commit so only drives ending
// after the proposal count.
func (m *Module) PrepareConfig(ctx context.Context, in modes.PrepareInput) (domain.ModeConfig, error) {
	if in.Bet.LeagueGameID == nil {
		return nil, domain.ErrBadInput("choose_their_fate requires a league game")
	}
	gameID := *in.Bet.LeagueGameID

	doc, err := m.games.Game(in.Bet.League, gameID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrBadInput("game data is unavailable")
	}

	seq := 0
	if doc.LastDrive != nil {
		seq = doc.LastDrive.Sequence
	}

	baseline := Baseline{
		GameID:           gameID,
		PossessionTeamID: in.Config.String(cfgTeamID),
		DriveSequence:    seq,
		CapturedAt:       time.Now().UTC(),
	}
	if err := m.baselines.Save(ctx, ModeKey, in.Bet.ID, baseline); err != nil {
		return nil, err
	}

	enriched := domain.ModeConfig{}
	for k, v := range in.Config {
		enriched[k] = v
	}
	enriched[cfgDriveSequence] = float64(seq)
	return enriched, nil
}

func (m *Module) GetLiveInfo(ctx context.Context, in modes.LiveInfoInput) (*domain.LiveInfo, error) {
	if in.Bet.LeagueGameID == nil {
		return nil, domain.ErrBadInput("bet has no league game")
	}
	doc, err := m.games.Game(in.Bet.League, *in.Bet.LeagueGameID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound("game", *in.Bet.LeagueGameID)
	}

	possession := "nobody"
	if id := doc.PossessionTeamID(); id != "" {
		if t := doc.Team(id); t != nil {
			possession = t.Name
		}
	}

	fields := []domain.LiveInfoField{
		{Label: "Watching", Value: in.Config.String(cfgTeamName)},
		{Label: "Ball with", Value: possession},
		{Label: "Game", Value: fmt.Sprintf("%s Q%d %s", doc.Status, doc.Period, doc.Clock)},
	}
	if doc.LastDrive != nil {
		fields = append(fields, domain.LiveInfoField{Label: "Last drive", Value: doc.LastDrive.PlayType})
	}
	return &domain.LiveInfo{Fields: fields}, nil
}

func (m *Module) Validator() modes.Validator { return &validator{m} }

type validator struct {
	m *Module
}

func (v *validator) Evaluate(ctx context.Context, bet *domain.BetProposal, cfg domain.ModeConfig) (modes.Decision, error) {
	if bet.LeagueGameID == nil {
		return modes.Wash("bet has no league game attached"), nil
	}

	doc, err := v.m.games.Game(bet.League, *bet.LeagueGameID)
	if err != nil || doc == nil {
		if time.Since(bet.ProposalTime) > modes.MissingDataHorizon {
			return modes.Wash("game data is no longer available"), nil
		}
		return modes.StillRunning(), nil
	}

	teamID := cfg.String(cfgTeamID)
	baselineSeq := v.m.baselineSequence(ctx, bet, cfg)

	if doc.LastDrive != nil && doc.LastDrive.Sequence > baselineSeq && doc.LastDrive.TeamID == teamID {
		if outcome, ok := playTypeOutcomes[strings.ToUpper(doc.LastDrive.PlayType)]; ok {
			return modes.Resolve(outcome), nil
		}
		return modes.Wash(fmt.Sprintf("drive ended with %s", doc.LastDrive.PlayType)), nil
	}

	if doc.Status == domain.GameStatusFinal {
		return modes.Wash("possession never ended before the game did"), nil
	}
	return modes.StillRunning(), nil
}

func (m *Module) baselineSequence(ctx context.Context, bet *domain.BetProposal, cfg domain.ModeConfig) int {
	var b Baseline
	if found, err := m.baselines.Load(ctx, ModeKey, bet.ID, &b); err == nil && found {
		return b.DriveSequence
	}
	seq, _ := cfg.Float(cfgDriveSequence)
	return int(seq)
}
