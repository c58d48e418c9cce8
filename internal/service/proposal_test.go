package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/modes"
)

func rawProposal(tableID, userID uuid.UUID) CreateBetInput {
	wager := decimal.RequireFromString("1")
	limit := 30
	return CreateBetInput{
		TableID:          tableID,
		UserID:           userID,
		ModeKey:          "test_mode",
		League:           "nfl",
		ModeConfig:       domain.ModeConfig{"pick": "heads"},
		WagerAmount:      &wager,
		TimeLimitSeconds: &limit,
	}
}

func TestCreateBetRawBody(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, userID))
	require.NoError(t, err)

	bet := result.Bet
	assert.Equal(t, domain.BetStatusActive, bet.Status)
	assert.Equal(t, "Test Mode: the thing happens", bet.Description)
	assert.Equal(t, "the thing happens", result.WinningCondition)
	assert.Contains(t, result.Options, domain.NoEntry)
	assert.Equal(t, bet.ProposalTime.Add(30*time.Second), bet.CloseTime)

	// Persisted, config recorded, surfaced on the feed.
	require.NotNil(t, env.bets.get(bet.ID))
	assert.Len(t, env.history.eventsOfType(bet.ID, domain.EventModeConfig), 1)
	assert.Len(t, env.tables.feedItems, 1)
	assert.Equal(t, bet.TableID, env.tables.feedItems[0].TableID)
}

func TestCreateBetRequiresMembership(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.proposals.CreateBet(context.Background(), rawProposal(uuid.New(), uuid.New()))
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", appErr.Code)
}

func TestCreateBetCollectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)

	_, err := env.proposals.CreateBet(context.Background(), CreateBetInput{
		TableID: tableID,
		UserID:  userID,
	})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	assert.Len(t, appErr.Details, 4)
}

func TestCreateBetRejectsFinalGame(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)
	env.games.set("nfl", "g1", &domain.RefinedGameDoc{Status: domain.GameStatusFinal})

	in := rawProposal(tableID, userID)
	in.LeagueGameID = "g1"
	_, err := env.proposals.CreateBet(context.Background(), in)
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "BAD_INPUT", appErr.Code)
}

func TestCreateBetSurfacesModeErrors(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)
	env.mod.validateFn = func(in modes.ValidateInput) modes.ValidationResult {
		return modes.ValidationResult{Valid: false, Errors: []string{"pick a side first"}}
	}

	_, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, userID))
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "pick a side first", appErr.Details[0].Message)
	assert.Empty(t, env.bets.bets)
}

func TestCreateBetCompensatingDeleteOnPrepareFailure(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)
	env.mod.prepareFn = func(in modes.PrepareInput) (domain.ModeConfig, error) {
		return nil, errors.New("baseline capture failed")
	}

	_, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, userID))
	require.Error(t, err)

	// The inserted row was rolled back and nothing surfaced on the feed.
	assert.Empty(t, env.bets.bets)
	assert.Len(t, env.bets.deletedIDs, 1)
	assert.Empty(t, env.tables.feedItems)
}

func TestCreateBetCompensatingDeleteOnHistoryFailure(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)
	env.history.appendErr[domain.EventModeConfig] = errors.New("db down")

	_, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, userID))
	require.Error(t, err)
	assert.Empty(t, env.bets.bets)
	assert.Len(t, env.bets.deletedIDs, 1)
}

func TestCreateBetAppliesConfigUpdates(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)
	env.mod.validateFn = func(in modes.ValidateInput) modes.ValidationResult {
		return modes.ValidationResult{
			Valid:         true,
			ConfigUpdates: domain.ModeConfig{"player1_name": "T. Kelce"},
		}
	}

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, userID))
	require.NoError(t, err)

	events := env.history.eventsOfType(result.Bet.ID, domain.EventModeConfig)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), "T. Kelce")
}

func TestCreateBetFromCommittedSession(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)

	session, err := env.sessions.CreateSession(context.Background(), CreateSessionInput{
		ModeKey: "test_mode", League: "nfl",
	})
	require.NoError(t, err)
	_, err = env.sessions.ApplyChoice(context.Background(), session.ID, ApplyChoiceInput{StepKey: "pick", ChoiceID: "tails"})
	require.NoError(t, err)
	wager := decimal.RequireFromString("3")
	limit := 45
	_, err = env.sessions.SetGeneral(context.Background(), session.ID, SetGeneralInput{
		WagerAmount: &wager, TimeLimitSeconds: &limit,
	})
	require.NoError(t, err)

	result, err := env.proposals.CreateBet(context.Background(), CreateBetInput{
		TableID:         tableID,
		UserID:          userID,
		ConfigSessionID: &session.ID,
	})
	require.NoError(t, err)

	assert.True(t, result.Bet.WagerAmount.Equal(wager))
	assert.Equal(t, 45, result.Bet.TimeLimitSeconds)

	events := env.history.eventsOfType(result.Bet.ID, domain.EventModeConfig)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), "tails")

	// Committed sessions are destroyed.
	_, err = env.sessions.GetSession(context.Background(), session.ID)
	require.Error(t, err)
}

func TestCreateBetFromIncompleteSessionFails(t *testing.T) {
	env := newTestEnv(t)
	tableID, userID := uuid.New(), uuid.New()
	env.tables.addMember(tableID, userID)

	session, err := env.sessions.CreateSession(context.Background(), CreateSessionInput{
		ModeKey: "test_mode", League: "nfl",
	})
	require.NoError(t, err)

	_, err = env.proposals.CreateBet(context.Background(), CreateBetInput{
		TableID:         tableID,
		UserID:          userID,
		ConfigSessionID: &session.ID,
	})
	require.Error(t, err)

	// Failed commits leave the session alive for another attempt.
	_, err = env.sessions.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
}

func TestAcceptBet(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer, friend := uuid.New(), uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)
	env.tables.addMember(tableID, friend)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	p, err := env.proposals.AcceptBet(context.Background(), result.Bet.ID, friend, AcceptBetInput{UserGuess: "Yes"})
	require.NoError(t, err)
	assert.Equal(t, "Yes", p.UserGuess)

	// Second acceptance by the same user conflicts.
	_, err = env.proposals.AcceptBet(context.Background(), result.Bet.ID, friend, AcceptBetInput{UserGuess: "No"})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "CONFLICT", appErr.Code)
}

func TestAcceptBetEmptyGuessBecomesNoEntry(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer, friend := uuid.New(), uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)
	env.tables.addMember(tableID, friend)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	p, err := env.proposals.AcceptBet(context.Background(), result.Bet.ID, friend, AcceptBetInput{})
	require.NoError(t, err)
	assert.Equal(t, domain.NoEntry, p.UserGuess)
}

func TestAcceptBetRejectsNonMembersAndBadOptions(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer := uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	_, err = env.proposals.AcceptBet(context.Background(), result.Bet.ID, uuid.New(), AcceptBetInput{UserGuess: "Yes"})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", appErr.Code)

	friend := uuid.New()
	env.tables.addMember(tableID, friend)
	_, err = env.proposals.AcceptBet(context.Background(), result.Bet.ID, friend, AcceptBetInput{UserGuess: "Maybe"})
	require.Error(t, err)
	appErr, ok = err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "winning_choice", appErr.Details[0].Field)
}

func TestAcceptBetClosedBetConflicts(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer, friend := uuid.New(), uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)
	env.tables.addMember(tableID, friend)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	_, err = env.bets.PromoteExpired(context.Background(), nil, result.Bet.CloseTime.Add(time.Second))
	require.NoError(t, err)

	_, err = env.proposals.AcceptBet(context.Background(), result.Bet.ID, friend, AcceptBetInput{UserGuess: "Yes"})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "CONFLICT", appErr.Code)
}

func TestUpdateGuessWhileActiveThenFrozen(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer, friend := uuid.New(), uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)
	env.tables.addMember(tableID, friend)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)
	_, err = env.proposals.AcceptBet(context.Background(), result.Bet.ID, friend, AcceptBetInput{UserGuess: "Yes"})
	require.NoError(t, err)

	p, err := env.proposals.UpdateGuess(context.Background(), result.Bet.ID, friend, AcceptBetInput{UserGuess: "No"})
	require.NoError(t, err)
	assert.Equal(t, "No", p.UserGuess)

	_, err = env.bets.PromoteExpired(context.Background(), nil, result.Bet.CloseTime.Add(time.Second))
	require.NoError(t, err)

	_, err = env.proposals.UpdateGuess(context.Background(), result.Bet.ID, friend, AcceptBetInput{UserGuess: "Yes"})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "CONFLICT", appErr.Code)
}

func TestValidateBetEnqueuesResolution(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer := uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	err = env.proposals.ValidateBet(context.Background(), result.Bet.ID, proposer, ValidateBetInput{WinningChoice: "Yes"})
	require.NoError(t, err)

	depth, err := env.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestValidateBetAuthorization(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer, friend, stranger := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)
	env.tables.addMember(tableID, friend)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)
	_, err = env.proposals.AcceptBet(context.Background(), result.Bet.ID, friend, AcceptBetInput{UserGuess: "Yes"})
	require.NoError(t, err)

	// Non-participants cannot validate.
	err = env.proposals.ValidateBet(context.Background(), result.Bet.ID, stranger, ValidateBetInput{WinningChoice: "Yes"})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", appErr.Code)

	// Participants can.
	err = env.proposals.ValidateBet(context.Background(), result.Bet.ID, friend, ValidateBetInput{WinningChoice: "Yes"})
	require.NoError(t, err)
}

func TestValidateBetRejectsSettledAndBadChoice(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer := uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	err = env.proposals.ValidateBet(context.Background(), result.Bet.ID, proposer, ValidateBetInput{WinningChoice: "Maybe"})
	require.Error(t, err)

	_, err = env.bets.SetWinningChoice(context.Background(), nil, result.Bet.ID, "Yes", time.Now())
	require.NoError(t, err)

	err = env.proposals.ValidateBet(context.Background(), result.Bet.ID, proposer, ValidateBetInput{WinningChoice: "Yes"})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "CONFLICT", appErr.Code)
}

func TestValidateBetRejectsNoEntryAsWinner(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer := uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	// Sitting out is a guess, never a winning choice.
	err = env.proposals.ValidateBet(context.Background(), result.Bet.ID, proposer, ValidateBetInput{WinningChoice: domain.NoEntry})
	require.Error(t, err)
	appErr, ok := err.(*domain.AppError)
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "winning_choice", appErr.Details[0].Field)
	assert.NotContains(t, appErr.Details[0].Message, domain.NoEntry)

	depth, err := env.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	// The sentinel is still accepted as a participation guess.
	_, err = env.proposals.AcceptBet(context.Background(), result.Bet.ID, proposer, AcceptBetInput{UserGuess: domain.NoEntry})
	require.NoError(t, err)
}

func TestPokeBetClonesSettledBet(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer, poker := uuid.New(), uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)
	env.tables.addMember(tableID, poker)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	// Pokes only work on settled bets.
	_, err = env.proposals.PokeBet(context.Background(), poker, result.Bet.ID)
	require.Error(t, err)

	_, err = env.bets.SetWinningChoice(context.Background(), nil, result.Bet.ID, "Yes", time.Now())
	require.NoError(t, err)

	poked, err := env.proposals.PokeBet(context.Background(), poker, result.Bet.ID)
	require.NoError(t, err)

	assert.NotEqual(t, result.Bet.ID, poked.Bet.ID)
	assert.Equal(t, poker, poked.Bet.ProposerUserID)
	require.NotNil(t, poked.Bet.OriginBetID)
	assert.Equal(t, result.Bet.ID, *poked.Bet.OriginBetID)
	assert.Equal(t, domain.BetStatusActive, poked.Bet.Status)

	// The origin link survives persistence, not just the response.
	stored := env.bets.get(poked.Bet.ID)
	require.NotNil(t, stored.OriginBetID)
	assert.Equal(t, result.Bet.ID, *stored.OriginBetID)

	// Config carried over and the poke is auditable.
	events := env.history.eventsOfType(poked.Bet.ID, domain.EventModeConfig)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), "heads")
	assert.Len(t, env.history.eventsOfType(poked.Bet.ID, domain.EventBetPoked), 1)
}

func TestLiveInfoOpenBetUsesModule(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer := uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)
	env.mod.liveInfo = &domain.LiveInfo{Fields: []domain.LiveInfoField{{Label: "Score", Value: "14-7"}}}

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	info, err := env.proposals.LiveInfo(context.Background(), result.Bet.ID)
	require.NoError(t, err)
	require.Len(t, info.Fields, 1)
	assert.Equal(t, "14-7", info.Fields[0].Value)
}

func TestLiveInfoTerminalBetServesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer := uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)
	env.mod.liveInfo = &domain.LiveInfo{Fields: []domain.LiveInfoField{{Label: "Final", Value: "21-17"}}}

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	_, err = env.bets.SetWinningChoice(context.Background(), nil, result.Bet.ID, "Yes", time.Now())
	require.NoError(t, err)
	env.proposals.SnapshotLiveInfo(context.Background(), result.Bet.ID)

	// Change what the module would report now; the snapshot must win.
	env.mod.liveInfo = &domain.LiveInfo{Fields: []domain.LiveInfoField{{Label: "Final", Value: "0-0"}}}

	info, err := env.proposals.LiveInfo(context.Background(), result.Bet.ID)
	require.NoError(t, err)
	require.Len(t, info.Fields, 1)
	assert.Equal(t, "21-17", info.Fields[0].Value)
}

func TestValidateBetDedupsQueueJobs(t *testing.T) {
	env := newTestEnv(t)
	tableID, proposer := uuid.New(), uuid.New()
	env.tables.addMember(tableID, proposer)

	result, err := env.proposals.CreateBet(context.Background(), rawProposal(tableID, proposer))
	require.NoError(t, err)

	require.NoError(t, env.proposals.ValidateBet(context.Background(), result.Bet.ID, proposer, ValidateBetInput{WinningChoice: "Yes"}))
	require.NoError(t, env.proposals.ValidateBet(context.Background(), result.Bet.ID, proposer, ValidateBetInput{WinningChoice: "No"}))

	depth, err := env.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}
