// Package eitheror implements the either-or mode: two players, one stat,
// whoever gains more of it by the chosen period wins. Ties wash.
package eitheror

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/modes"
)

const ModeKey = "either_or"

// Config keys persisted in mode_config.
const (
	cfgPlayer1ID    = "player1_id"
	cfgPlayer1Name  = "player1_name"
	cfgPlayer2ID    = "player2_id"
	cfgPlayer2Name  = "player2_name"
	cfgStatCategory = "stat_category"
	cfgStatKey      = "stat_key"
	cfgStatLabel    = "stat_label"
	cfgResolveAt    = "resolve_at"
	cfgBaselineP1   = "baseline_player1"
	cfgBaselineP2   = "baseline_player2"
)

// Wizard step keys.
const (
	stepPlayer1   = "player1"
	stepPlayer2   = "player2"
	stepStat      = "stat"
	stepResolveAt = "resolve_at"
)

// statChoices are the trackable player-stat lines, keyed by the provider's
// boxscore category and stat key.
var statChoices = []struct {
	Category string
	Key      string
	Label    string
}{
	{"passing", "passingYards", "Passing Yards"},
	{"rushing", "rushingYards", "Rushing Yards"},
	{"receiving", "receivingYards", "Receiving Yards"},
	{"receiving", "receptions", "Receptions"},
}

// Baseline is the snapshot captured at proposal commit.
type Baseline struct {
	GameID          string    `json:"game_id"`
	Player1Stat0    float64   `json:"player1_stat0"`
	Player2Stat0    float64   `json:"player2_stat0"`
	ResolveAtPeriod int       `json:"resolve_at_period"`
	CapturedAt      time.Time `json:"captured_at"`
}

// Module is the either-or mode implementation.
type Module struct {
	games     modes.GameSource
	baselines *modes.BaselineStore
}

func New(games modes.GameSource, baselines *modes.BaselineStore) *Module {
	return &Module{games: games, baselines: baselines}
}

func (m *Module) Key() string   { return ModeKey }
func (m *Module) Label() string { return "Either / Or" }
func (m *Module) Overview() string {
	return "Pick two players and a stat. Whoever gains more of it between now and the end of the chosen quarter wins."
}
func (m *Module) SupportedLeagues() []string { return []string{"nfl"} }

func (m *Module) ComputeOptions(cfg domain.ModeConfig) []string {
	return []string{cfg.String(cfgPlayer1ID), cfg.String(cfgPlayer2ID), domain.NoEntry}
}

func (m *Module) ComputeWinningCondition(cfg domain.ModeConfig) string {
	p1 := cfg.String(cfgPlayer1Name)
	if p1 == "" {
		p1 = cfg.String(cfgPlayer1ID)
	}
	p2 := cfg.String(cfgPlayer2Name)
	if p2 == "" {
		p2 = cfg.String(cfgPlayer2ID)
	}
	stat := cfg.String(cfgStatLabel)
	if stat == "" {
		stat = cfg.String(cfgStatKey)
	}
	resolveAt, _ := cfg.Float(cfgResolveAt)
	return fmt.Sprintf("Whoever of %s and %s gains more %s by the end of Q%d wins. A tie washes the bet.", p1, p2, stat, int(resolveAt))
}

// BuildUserConfig lays out the four wizard steps from the current game
// document. Changing player 1 clears player 2 so the pair stays distinct.
func (m *Module) BuildUserConfig(ctx context.Context, in modes.BuildInput) ([]domain.WizardStep, error) {
	if in.Game == nil {
		return nil, domain.ErrBadInput("either_or requires a live game")
	}

	players := rosterChoices(in.Game)
	if len(players) < 2 {
		return nil, domain.ErrBadInput("game has no trackable players yet")
	}

	p1Choices := make([]domain.StepChoice, len(players))
	copy(p1Choices, players)
	for i := range p1Choices {
		p1Choices[i].Clears = []string{stepPlayer2}
	}

	stats := make([]domain.StepChoice, 0, len(statChoices))
	for _, s := range statChoices {
		stats = append(stats, domain.StepChoice{ID: s.Category + "." + s.Key, Label: s.Label})
	}

	periods := make([]domain.StepChoice, 0, 4)
	for q := maxInt(in.Game.Period, 1); q <= 4; q++ {
		periods = append(periods, domain.StepChoice{ID: strconv.Itoa(q), Label: fmt.Sprintf("Q%d ends", q)})
	}
	if len(periods) == 0 {
		return nil, domain.ErrBadInput("game has no remaining periods")
	}

	return []domain.WizardStep{
		{Key: stepPlayer1, Label: "First player", Input: domain.StepInputChoice, Choices: p1Choices},
		{Key: stepPlayer2, Label: "Second player", Input: domain.StepInputChoice, Choices: players},
		{Key: stepStat, Label: "Stat to track", Input: domain.StepInputChoice, Choices: stats},
		{Key: stepResolveAt, Label: "Resolve when", Input: domain.StepInputChoice, Choices: periods},
	}, nil
}

// ConfigFromSteps folds the four wizard selections into the persisted
// config. The stat choice id carries "<category>.<key>".
func (m *Module) ConfigFromSteps(steps []domain.WizardStep) domain.ModeConfig {
	cfg := domain.ModeConfig{}
	for i := range steps {
		step := &steps[i]
		choice := step.Choice()
		if choice == nil {
			continue
		}
		switch step.Key {
		case stepPlayer1:
			cfg[cfgPlayer1ID] = choice.ID
			cfg[cfgPlayer1Name] = choice.Label
		case stepPlayer2:
			cfg[cfgPlayer2ID] = choice.ID
			cfg[cfgPlayer2Name] = choice.Label
		case stepStat:
			if cat, key, ok := splitStatID(choice.ID); ok {
				cfg[cfgStatCategory] = cat
				cfg[cfgStatKey] = key
			}
			cfg[cfgStatLabel] = choice.Label
		case stepResolveAt:
			if q, err := strconv.Atoi(choice.ID); err == nil {
				cfg[cfgResolveAt] = float64(q)
			}
		}
	}
	return cfg
}

func splitStatID(id string) (category, key string, ok bool) {
	for i := range id {
		if id[i] == '.' {
			return id[:i], id[i+1:], true
		}
	}
	return "", "", false
}

func (m *Module) ValidateProposal(ctx context.Context, in modes.ValidateInput) modes.ValidationResult {
	var errs []string

	if in.Game == nil {
		errs = append(errs, "game data is unavailable")
		return modes.ValidationResult{Errors: errs}
	}
	if in.Game.Status == domain.GameStatusFinal {
		errs = append(errs, "game is already final")
	}

	p1 := in.Config.String(cfgPlayer1ID)
	p2 := in.Config.String(cfgPlayer2ID)
	if p1 == "" || p2 == "" {
		errs = append(errs, "both players must be selected")
	}
	if p1 != "" && p1 == p2 {
		errs = append(errs, "players must be different")
	}

	if in.Config.String(cfgStatKey) == "" || in.Config.String(cfgStatCategory) == "" {
		errs = append(errs, "a stat must be selected")
	}

	resolveAt, ok := in.Config.Float(cfgResolveAt)
	switch {
	case !ok:
		errs = append(errs, "a resolution period must be selected")
	case int(resolveAt) < in.Game.Period:
		errs = append(errs, fmt.Sprintf("Q%d has already ended", int(resolveAt)))
	}

	return modes.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// PrepareConfig captures both players' current stat values as the baseline,
// storing it in Redis and embedding a copy in the config so resolution
// survives baseline expiry.
func (m *Module) PrepareConfig(ctx context.Context, in modes.PrepareInput) (domain.ModeConfig, error) {
	if in.Bet.LeagueGameID == nil {
		return nil, domain.ErrBadInput("either_or requires a league game")
	}
	gameID := *in.Bet.LeagueGameID

	doc, err := m.games.Game(in.Bet.League, gameID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrBadInput("game data is unavailable")
	}

	cat := in.Config.String(cfgStatCategory)
	key := in.Config.String(cfgStatKey)
	p1Stat, _ := doc.PlayerStat(in.Config.String(cfgPlayer1ID), cat, key)
	p2Stat, _ := doc.PlayerStat(in.Config.String(cfgPlayer2ID), cat, key)
	resolveAt, _ := in.Config.Float(cfgResolveAt)

	baseline := Baseline{
		GameID:          gameID,
		Player1Stat0:    p1Stat,
		Player2Stat0:    p2Stat,
		ResolveAtPeriod: int(resolveAt),
		CapturedAt:      time.Now().UTC(),
	}
	if err := m.baselines.Save(ctx, ModeKey, in.Bet.ID, baseline); err != nil {
		return nil, err
	}

	enriched := domain.ModeConfig{}
	for k, v := range in.Config {
		enriched[k] = v
	}
	enriched[cfgBaselineP1] = p1Stat
	enriched[cfgBaselineP2] = p2Stat
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

	cat := in.Config.String(cfgStatCategory)
	key := in.Config.String(cfgStatKey)
	p1Now, _ := doc.PlayerStat(in.Config.String(cfgPlayer1ID), cat, key)
	p2Now, _ := doc.PlayerStat(in.Config.String(cfgPlayer2ID), cat, key)
	p1Base, _ := in.Config.Float(cfgBaselineP1)
	p2Base, _ := in.Config.Float(cfgBaselineP2)
	resolveAt, _ := in.Config.Float(cfgResolveAt)

	statLabel := in.Config.String(cfgStatLabel)
	if statLabel == "" {
		statLabel = key
	}

	return &domain.LiveInfo{Fields: []domain.LiveInfoField{
		{Label: fmt.Sprintf("%s %s", playerLabel(in.Config, cfgPlayer1Name, cfgPlayer1ID), statLabel), Value: fmt.Sprintf("%+g since proposal (%g total)", p1Now-p1Base, p1Now)},
		{Label: fmt.Sprintf("%s %s", playerLabel(in.Config, cfgPlayer2Name, cfgPlayer2ID), statLabel), Value: fmt.Sprintf("%+g since proposal (%g total)", p2Now-p2Base, p2Now)},
		{Label: "Game", Value: fmt.Sprintf("%s Q%d %s", doc.Status, doc.Period, doc.Clock)},
		{Label: "Resolves", Value: fmt.Sprintf("End of Q%d", int(resolveAt))},
	}}, nil
}

func (m *Module) Validator() modes.Validator { return &validator{m} }

// validator resolves either-or bets once the game reaches the configured
// period. Missing live data is retried next tick.
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

	resolveAtF, ok := cfg.Float(cfgResolveAt)
	if !ok {
		return modes.Wash("mode config is missing a resolution period"), nil
	}
	resolveAt := int(resolveAtF)

	if doc.Period < resolveAt {
		if doc.Status == domain.GameStatusFinal {
			return modes.Wash("resolve condition never reached"), nil
		}
		return modes.StillRunning(), nil
	}

	p1Base, p2Base := v.m.baselineStats(ctx, bet, cfg)

	cat := cfg.String(cfgStatCategory)
	key := cfg.String(cfgStatKey)
	p1Now, _ := doc.PlayerStat(cfg.String(cfgPlayer1ID), cat, key)
	p2Now, _ := doc.PlayerStat(cfg.String(cfgPlayer2ID), cat, key)

	delta1 := p1Now - p1Base
	delta2 := p2Now - p2Base

	switch {
	case delta1 > delta2:
		return modes.Resolve(cfg.String(cfgPlayer1ID)), nil
	case delta2 > delta1:
		return modes.Resolve(cfg.String(cfgPlayer2ID)), nil
	default:
		return modes.Wash("players tied at resolution"), nil
	}
}

// baselineStats prefers the Redis baseline and falls back to the copy
// embedded in mode_config when it has expired.
func (m *Module) baselineStats(ctx context.Context, bet *domain.BetProposal, cfg domain.ModeConfig) (float64, float64) {
	var b Baseline
	if found, err := m.baselines.Load(ctx, ModeKey, bet.ID, &b); err == nil && found {
		return b.Player1Stat0, b.Player2Stat0
	}
	p1, _ := cfg.Float(cfgBaselineP1)
	p2, _ := cfg.Float(cfgBaselineP2)
	return p1, p2
}

// rosterChoices flattens every player in the document into wizard choices,
// deduplicated across stat categories and sorted by name.
func rosterChoices(doc *domain.RefinedGameDoc) []domain.StepChoice {
	seen := map[string]string{}
	for i := range doc.Teams {
		for _, lines := range doc.Teams[i].Players {
			for _, line := range lines {
				if _, ok := seen[line.ID]; !ok {
					seen[line.ID] = line.Name
				}
			}
		}
	}

	choices := make([]domain.StepChoice, 0, len(seen))
	for id, name := range seen {
		choices = append(choices, domain.StepChoice{ID: id, Label: name})
	}
	sort.Slice(choices, func(i, j int) bool { return choices[i].Label < choices[j].Label })
	return choices
}

func playerLabel(cfg domain.ModeConfig, nameKey, idKey string) string {
	if name := cfg.String(nameKey); name != "" {
		return name
	}
	return cfg.String(idKey)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
