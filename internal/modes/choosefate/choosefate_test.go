package choosefate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/modes"
)

type fakeGames struct {
	doc *domain.RefinedGameDoc
}

func (f *fakeGames) Game(league, gameID string) (*domain.RefinedGameDoc, error) {
	return f.doc, nil
}

func gameDoc(status string, possessionTeam string, drive *domain.DriveResult) *domain.RefinedGameDoc {
	doc := &domain.RefinedGameDoc{
		GameID: "G1",
		League: "nfl",
		Status: status,
		Period: 2,
		Teams: []domain.RefinedTeam{
			{ID: "t1", Abbr: "KC", Name: "Kansas City Chiefs", Home: true},
			{ID: "t2", Abbr: "BUF", Name: "Buffalo Bills"},
		},
		LastDrive: drive,
	}
	for i := range doc.Teams {
		if doc.Teams[i].ID == possessionTeam {
			doc.Teams[i].Possession = true
		}
	}
	return doc
}

func testModule(t *testing.T, doc *domain.RefinedGameDoc) (*Module, *fakeGames) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	games := &fakeGames{doc: doc}
	return New(games, modes.NewBaselineStore(rdb)), games
}

func testBet() *domain.BetProposal {
	gameID := "G1"
	return domain.NewBetProposal(
		uuid.New(), uuid.New(), "nfl", ModeKey, "choose their fate", &gameID,
		domain.MinWager, 60, time.Now(),
	)
}

func testConfig() domain.ModeConfig {
	return domain.ModeConfig{
		"possession_team_id":   "t1",
		"possession_team_name": "Kansas City Chiefs",
	}
}

func TestBuildUserConfig_PinsPossessionTeam(t *testing.T) {
	m, _ := testModule(t, nil)
	game := gameDoc(domain.GameStatusInProgress, "t1", nil)

	steps, err := m.BuildUserConfig(context.Background(), modes.BuildInput{League: "nfl", Game: game})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Len(t, steps[0].Choices, 1)
	assert.Equal(t, "t1", steps[0].Choices[0].ID)
	assert.Equal(t, "Kansas City Chiefs", steps[0].Choices[0].Label)
}

func TestBuildUserConfig_RequiresInProgress(t *testing.T) {
	m, _ := testModule(t, nil)

	_, err := m.BuildUserConfig(context.Background(), modes.BuildInput{
		League: "nfl",
		Game:   gameDoc(domain.GameStatusScheduled, "", nil),
	})
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "BAD_INPUT", appErr.Code)
}

func TestValidateProposal_PossessionChanged(t *testing.T) {
	m, _ := testModule(t, nil)

	res := m.ValidateProposal(context.Background(), modes.ValidateInput{
		League: "nfl", GameID: "G1", Config: testConfig(),
		Game: gameDoc(domain.GameStatusInProgress, "t2", nil),
	})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "possession has changed since the wizard was opened")
}

func TestPrepareConfig_RecordsDriveSequence(t *testing.T) {
	m, _ := testModule(t, gameDoc(domain.GameStatusInProgress, "t1", &domain.DriveResult{TeamID: "t2", PlayType: "PUNT", Sequence: 3}))
	bet := testBet()

	enriched, err := m.PrepareConfig(context.Background(), modes.PrepareInput{Bet: bet, Config: testConfig()})
	require.NoError(t, err)

	seq, ok := enriched.Float("baseline_drive_sequence")
	require.True(t, ok)
	assert.Equal(t, 3.0, seq)

	var b Baseline
	found, err := m.baselines.Load(context.Background(), ModeKey, bet.ID, &b)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "t1", b.PossessionTeamID)
	assert.Equal(t, 3, b.DriveSequence)
}

func TestValidator_ResolvesOnDriveEnd(t *testing.T) {
	m, games := testModule(t, gameDoc(domain.GameStatusInProgress, "t1", &domain.DriveResult{TeamID: "t2", PlayType: "PUNT", Sequence: 3}))
	bet := testBet()
	cfg, err := m.PrepareConfig(context.Background(), modes.PrepareInput{Bet: bet, Config: testConfig()})
	require.NoError(t, err)

	// Baseline drive is still the latest: nothing to do.
	d, err := m.Validator().Evaluate(context.Background(), bet, cfg)
	require.NoError(t, err)
	assert.Equal(t, modes.DecisionStillRunning, d.Kind)

	// The watched team's drive ends in a touchdown.
	games.doc = gameDoc(domain.GameStatusInProgress, "t2", &domain.DriveResult{TeamID: "t1", PlayType: "TD", Sequence: 4})
	d, err = m.Validator().Evaluate(context.Background(), bet, cfg)
	require.NoError(t, err)
	assert.Equal(t, modes.DecisionResolve, d.Kind)
	assert.Equal(t, OutcomeTouchdown, d.WinningChoice)
}

func TestValidator_PlayTypeMapping(t *testing.T) {
	cases := []struct {
		playType string
		outcome  string
	}{
		{"TD", OutcomeTouchdown},
		{"FG", OutcomeFieldGoal},
		{"SF", OutcomeSafety},
		{"PUNT", OutcomePunt},
		{"INT", OutcomeTurnover},
		{"FUMBLE", OutcomeTurnover},
		{"DOWNS", OutcomeTurnover},
		{"MISSED FG", OutcomeTurnover},
	}
	for _, tc := range cases {
		t.Run(tc.playType, func(t *testing.T) {
			m, games := testModule(t, gameDoc(domain.GameStatusInProgress, "t1", nil))
			bet := testBet()
			cfg, err := m.PrepareConfig(context.Background(), modes.PrepareInput{Bet: bet, Config: testConfig()})
			require.NoError(t, err)

			games.doc = gameDoc(domain.GameStatusInProgress, "t2", &domain.DriveResult{TeamID: "t1", PlayType: tc.playType, Sequence: 1})
			d, err := m.Validator().Evaluate(context.Background(), bet, cfg)
			require.NoError(t, err)
			assert.Equal(t, modes.DecisionResolve, d.Kind)
			assert.Equal(t, tc.outcome, d.WinningChoice)
		})
	}
}

func TestValidator_EndOfHalfWashes(t *testing.T) {
	m, games := testModule(t, gameDoc(domain.GameStatusInProgress, "t1", nil))
	bet := testBet()
	cfg, err := m.PrepareConfig(context.Background(), modes.PrepareInput{Bet: bet, Config: testConfig()})
	require.NoError(t, err)

	games.doc = gameDoc(domain.GameStatusHalftime, "", &domain.DriveResult{TeamID: "t1", PlayType: "END OF HALF", Sequence: 1})
	d, err := m.Validator().Evaluate(context.Background(), bet, cfg)
	require.NoError(t, err)
	assert.Equal(t, modes.DecisionWash, d.Kind)
}

func TestValidator_OtherTeamsDriveIgnored(t *testing.T) {
	m, games := testModule(t, gameDoc(domain.GameStatusInProgress, "t1", nil))
	bet := testBet()
	cfg, err := m.PrepareConfig(context.Background(), modes.PrepareInput{Bet: bet, Config: testConfig()})
	require.NoError(t, err)

	games.doc = gameDoc(domain.GameStatusInProgress, "t1", &domain.DriveResult{TeamID: "t2", PlayType: "TD", Sequence: 1})
	d, err := m.Validator().Evaluate(context.Background(), bet, cfg)
	require.NoError(t, err)
	assert.Equal(t, modes.DecisionStillRunning, d.Kind)
}

func TestValidator_GameEndWashes(t *testing.T) {
	m, games := testModule(t, gameDoc(domain.GameStatusInProgress, "t1", &domain.DriveResult{TeamID: "t2", PlayType: "PUNT", Sequence: 3}))
	bet := testBet()
	cfg, err := m.PrepareConfig(context.Background(), modes.PrepareInput{Bet: bet, Config: testConfig()})
	require.NoError(t, err)

	games.doc = gameDoc(domain.GameStatusFinal, "", &domain.DriveResult{TeamID: "t2", PlayType: "PUNT", Sequence: 3})
	d, err := m.Validator().Evaluate(context.Background(), bet, cfg)
	require.NoError(t, err)
	assert.Equal(t, modes.DecisionWash, d.Kind)
	assert.Equal(t, "possession never ended before the game did", d.Explanation)
}

func TestValidator_MissingDataPastHorizonWashes(t *testing.T) {
	m, games := testModule(t, nil)
	bet := testBet()
	bet.ProposalTime = time.Now().Add(-modes.MissingDataHorizon - time.Minute)

	games.doc = nil
	d, err := m.Validator().Evaluate(context.Background(), bet, testConfig())
	require.NoError(t, err)
	assert.Equal(t, modes.DecisionWash, d.Kind)
	assert.Equal(t, "game data is no longer available", d.Explanation)
}

func TestComputeOptions_FixedSet(t *testing.T) {
	m, _ := testModule(t, nil)
	assert.Equal(t,
		[]string{OutcomeTouchdown, OutcomeFieldGoal, OutcomeSafety, OutcomePunt, OutcomeTurnover, domain.NoEntry},
		m.ComputeOptions(testConfig()),
	)
}
