package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/infra"
	"github.com/tablestakes/platform/internal/metrics"
	"github.com/tablestakes/platform/internal/modes"
	"github.com/tablestakes/platform/internal/queue"
	"github.com/tablestakes/platform/internal/repository"
)

// ProposalService commits validated bets and owns the participation and
// manual-validation write paths.
type ProposalService struct {
	db             repository.DBTX
	bets           repository.BetRepository
	participations repository.ParticipationRepository
	tables         repository.TableRepository
	history        repository.HistoryRepository
	modeConfigs    *repository.ModeConfigCache
	registry       *modes.Registry
	games          modes.GameSource
	sessions       *SessionService
	queue          *queue.Queue
	producer       *infra.FeedProducer
	logger         *slog.Logger
}

func NewProposalService(
	db repository.DBTX,
	bets repository.BetRepository,
	participations repository.ParticipationRepository,
	tables repository.TableRepository,
	history repository.HistoryRepository,
	modeConfigs *repository.ModeConfigCache,
	registry *modes.Registry,
	games modes.GameSource,
	sessions *SessionService,
	q *queue.Queue,
	producer *infra.FeedProducer,
	logger *slog.Logger,
) *ProposalService {
	return &ProposalService{
		db:             db,
		bets:           bets,
		participations: participations,
		tables:         tables,
		history:        history,
		modeConfigs:    modeConfigs,
		registry:       registry,
		games:          games,
		sessions:       sessions,
		queue:          q,
		producer:       producer,
		logger:         logger,
	}
}

// CreateBetInput is the body of POST /tables/:tableId/bets. Either a
// committed config session or the raw fields describe the bet.
type CreateBetInput struct {
	TableID          uuid.UUID         `json:"-"`
	UserID           uuid.UUID         `json:"-"`
	OriginBetID      *uuid.UUID        `json:"-"`
	ConfigSessionID  *uuid.UUID        `json:"config_session_id,omitempty"`
	ModeKey          string            `json:"mode_key,omitempty"`
	League           string            `json:"league,omitempty"`
	LeagueGameID     string            `json:"league_game_id,omitempty"`
	ModeConfig       domain.ModeConfig `json:"mode_config,omitempty"`
	WagerAmount      *decimal.Decimal  `json:"wager_amount,omitempty"`
	TimeLimitSeconds *int              `json:"time_limit_seconds,omitempty"`
}

// BetResult is the created-bet response.
type BetResult struct {
	Bet              *domain.BetProposal `json:"bet"`
	Options          []string            `json:"options"`
	WinningCondition string              `json:"winning_condition"`
}

// CreateBet runs the proposal pipeline: membership, session or raw-body
// resolution, mode lookup, live-data gating, validation, insert, config
// enrichment with compensating delete, feed surfacing.
func (s *ProposalService) CreateBet(ctx context.Context, in CreateBetInput) (*BetResult, error) {
	member, err := s.tables.IsMember(ctx, s.db, in.TableID, in.UserID)
	if err != nil {
		return nil, domain.ErrInternal("check table membership", err)
	}
	if !member {
		return nil, domain.ErrForbidden("not a member of this table")
	}

	draft, err := s.resolveDraft(ctx, in)
	if err != nil {
		return nil, err
	}

	module, err := s.registry.Lookup(draft.league, draft.modeKey)
	if err != nil {
		return nil, err
	}

	var game *domain.RefinedGameDoc
	if draft.gameID != "" {
		game, err = s.games.Game(draft.league, draft.gameID)
		if err != nil {
			return nil, domain.ErrInternal("read game data", err)
		}
		// No mode accepts a finished game.
		if game != nil && game.Status == domain.GameStatusFinal {
			return nil, domain.ErrBadInput("game is already final")
		}
	}

	result := module.ValidateProposal(ctx, modes.ValidateInput{
		League: draft.league,
		GameID: draft.gameID,
		Config: draft.config,
		Game:   game,
	})
	if !result.Valid {
		details := make([]domain.FieldError, 0, len(result.Errors))
		for _, msg := range result.Errors {
			details = append(details, domain.FieldError{Field: "mode_config", Message: msg})
		}
		return nil, domain.ErrValidation("proposal rejected", details...)
	}
	for k, v := range result.ConfigUpdates {
		draft.config[k] = v
	}

	condition := module.ComputeWinningCondition(draft.config)
	description := module.Label() + ": " + condition

	var gameID *string
	if draft.gameID != "" {
		gameID = &draft.gameID
	}
	bet := domain.NewBetProposal(in.TableID, in.UserID, draft.league, draft.modeKey,
		description, gameID, draft.wager, draft.timeLimit, time.Now().UTC())
	bet.OriginBetID = in.OriginBetID

	if err := s.bets.Insert(ctx, s.db, bet); err != nil {
		return nil, domain.ErrInternal("insert bet", err)
	}

	// Baseline capture and config enrichment. A failure here aborts the
	// proposal and compensating-deletes the row just inserted.
	enriched, err := module.PrepareConfig(ctx, modes.PrepareInput{Bet: bet, Config: draft.config})
	if err == nil {
		err = s.history.Append(ctx, s.db, bet.ID, domain.EventModeConfig, enriched.Raw())
	}
	if err != nil {
		if derr := s.bets.Delete(ctx, s.db, bet.ID); derr != nil {
			s.logger.Error("compensating delete failed", "bet_id", bet.ID, "error", derr)
		}
		if appErr, ok := err.(*domain.AppError); ok {
			return nil, appErr
		}
		return nil, domain.ErrInternal("persist mode config", err)
	}

	s.surfaceOnFeed(ctx, bet)
	if draft.session != nil {
		s.sessions.Destroy(ctx, draft.session.ID)
	}

	metrics.BetsProposedTotal.Inc()
	s.logger.Info("bet proposed",
		"bet_id", bet.ID, "table_id", bet.TableID, "mode_key", bet.ModeKey,
		"wager", bet.WagerAmount, "close_time", bet.CloseTime)

	return &BetResult{
		Bet:              bet,
		Options:          module.ComputeOptions(enriched),
		WinningCondition: condition,
	}, nil
}

// betDraft is the resolved shape of a proposal regardless of source.
type betDraft struct {
	modeKey   string
	league    string
	gameID    string
	config    domain.ModeConfig
	wager     decimal.Decimal
	timeLimit int
	session   *domain.ConfigSession
}

func (s *ProposalService) resolveDraft(ctx context.Context, in CreateBetInput) (*betDraft, error) {
	if in.ConfigSessionID != nil {
		session, err := s.sessions.Commit(ctx, *in.ConfigSessionID)
		if err != nil {
			return nil, err
		}
		module, err := s.registry.Lookup(session.League, session.ModeKey)
		if err != nil {
			return nil, err
		}
		return &betDraft{
			modeKey:   session.ModeKey,
			league:    session.League,
			gameID:    session.LeagueGameID,
			config:    module.ConfigFromSteps(session.Steps),
			wager:     *session.General.WagerAmount,
			timeLimit: *session.General.TimeLimitSeconds,
			session:   session,
		}, nil
	}

	var details []domain.FieldError
	if in.ModeKey == "" {
		details = append(details, domain.FieldError{Field: "mode_key", Message: "required without config_session_id"})
	}
	if in.League == "" {
		details = append(details, domain.FieldError{Field: "league", Message: "required without config_session_id"})
	}
	if in.WagerAmount == nil {
		details = append(details, domain.FieldError{Field: "wager_amount", Message: "required"})
	}
	if in.TimeLimitSeconds == nil {
		details = append(details, domain.FieldError{Field: "time_limit_seconds", Message: "required"})
	}
	if len(details) > 0 {
		return nil, domain.ErrValidation("incomplete proposal", details...)
	}

	cfg := in.ModeConfig
	if cfg == nil {
		cfg = domain.ModeConfig{}
	}
	return &betDraft{
		modeKey:   in.ModeKey,
		league:    in.League,
		gameID:    in.LeagueGameID,
		config:    cfg,
		wager:     *in.WagerAmount,
		timeLimit: *in.TimeLimitSeconds,
	}, nil
}

// PokeBet re-proposes a settled bet with the same configuration, linked by
// a flat origin_bet_id reference to the bet that was poked.
func (s *ProposalService) PokeBet(ctx context.Context, userID, sourceBetID uuid.UUID) (*BetResult, error) {
	source, err := s.bets.FindByID(ctx, s.db, sourceBetID)
	if err != nil {
		return nil, domain.ErrInternal("load bet", err)
	}
	if source == nil {
		return nil, domain.ErrNotFound("bet", sourceBetID.String())
	}
	if !source.Status.Terminal() {
		return nil, domain.ErrBadInput("only settled bets can be poked")
	}

	cfg, err := s.modeConfigs.Get(ctx, s.db, sourceBetID)
	if err != nil {
		return nil, domain.ErrInternal("load mode config", err)
	}
	if cfg == nil {
		return nil, domain.ErrBadInput("source bet has no recorded configuration")
	}

	gameID := ""
	if source.LeagueGameID != nil {
		gameID = *source.LeagueGameID
	}
	wager := source.WagerAmount
	limit := source.TimeLimitSeconds

	result, err := s.CreateBet(ctx, CreateBetInput{
		TableID:          source.TableID,
		UserID:           userID,
		OriginBetID:      &source.ID,
		ModeKey:          source.ModeKey,
		League:           source.League,
		LeagueGameID:     gameID,
		ModeConfig:       cfg,
		WagerAmount:      &wager,
		TimeLimitSeconds: &limit,
	})
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]string{"origin_bet_id": source.ID.String()})
	if err := s.history.Append(ctx, s.db, result.Bet.ID, domain.EventBetPoked, payload); err != nil {
		s.logger.Warn("poke history write failed", "bet_id", result.Bet.ID, "error", err)
	}
	return result, nil
}

// AcceptBetInput is the body of POST /bets/:betId/accept.
type AcceptBetInput struct {
	UserGuess string `json:"user_guess"`
}

// AcceptBet records a participation while the bet is still open.
func (s *ProposalService) AcceptBet(ctx context.Context, betID, userID uuid.UUID, in AcceptBetInput) (*domain.BetParticipation, error) {
	bet, cfg, err := s.loadBetWithConfig(ctx, betID)
	if err != nil {
		return nil, err
	}
	if bet.Status != domain.BetStatusActive {
		return nil, domain.ErrConflict("bet is no longer accepting participants")
	}

	member, err := s.tables.IsMember(ctx, s.db, bet.TableID, userID)
	if err != nil {
		return nil, domain.ErrInternal("check table membership", err)
	}
	if !member {
		return nil, domain.ErrForbidden("not a member of this table")
	}

	guess := strings.TrimSpace(in.UserGuess)
	if guess == "" {
		guess = domain.NoEntry
	}
	if err := s.checkOption(bet, cfg, guess); err != nil {
		return nil, err
	}

	existing, err := s.participations.FindByBetAndUser(ctx, s.db, betID, userID)
	if err != nil {
		return nil, domain.ErrInternal("load participation", err)
	}
	if existing != nil {
		return nil, domain.ErrConflict("already participating in this bet")
	}

	p := &domain.BetParticipation{
		ID:                uuid.New(),
		BetID:             betID,
		UserID:            userID,
		UserGuess:         guess,
		ParticipationTime: time.Now().UTC(),
	}
	if err := s.participations.Insert(ctx, s.db, p); err != nil {
		return nil, domain.ErrInternal("insert participation", err)
	}
	return p, nil
}

// UpdateGuess changes a participant's guess while the bet is active.
func (s *ProposalService) UpdateGuess(ctx context.Context, betID, userID uuid.UUID, in AcceptBetInput) (*domain.BetParticipation, error) {
	bet, cfg, err := s.loadBetWithConfig(ctx, betID)
	if err != nil {
		return nil, err
	}

	guess := strings.TrimSpace(in.UserGuess)
	if err := s.checkOption(bet, cfg, guess); err != nil {
		return nil, err
	}

	p, err := s.participations.FindByBetAndUser(ctx, s.db, betID, userID)
	if err != nil {
		return nil, domain.ErrInternal("load participation", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("participation", betID.String())
	}

	updated, err := s.participations.UpdateGuess(ctx, s.db, p.ID, guess)
	if err != nil {
		return nil, domain.ErrInternal("update guess", err)
	}
	if !updated {
		return nil, domain.ErrConflict("bet has closed, guesses are frozen")
	}
	p.UserGuess = guess
	return p, nil
}

// ValidateBetInput is the body of POST /bets/:betId/validate.
type ValidateBetInput struct {
	WinningChoice string `json:"winning_choice"`
}

// ValidateBet settles a manually resolved bet. The caller must be the
// proposer or a participant, and the choice must come from the recorded
// options list.
func (s *ProposalService) ValidateBet(ctx context.Context, betID, userID uuid.UUID, in ValidateBetInput) error {
	bet, cfg, err := s.loadBetWithConfig(ctx, betID)
	if err != nil {
		return err
	}
	if bet.Status.Terminal() {
		return domain.ErrConflict("bet is already settled")
	}

	if bet.ProposerUserID != userID {
		p, err := s.participations.FindByBetAndUser(ctx, s.db, betID, userID)
		if err != nil {
			return domain.ErrInternal("load participation", err)
		}
		if p == nil {
			return domain.ErrForbidden("only the proposer or a participant can validate")
		}
	}

	if err := s.checkWinner(bet, cfg, in.WinningChoice); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{
		"winning_choice": in.WinningChoice,
		"validated_by":   userID.String(),
	})
	_, err = queue.EnqueueResolve(ctx, s.queue, betID, in.WinningChoice, &queue.HistoryEvent{
		EventType: domain.EventBetResolved,
		Payload:   payload,
	})
	if err != nil {
		return domain.ErrInternal("enqueue resolution", err)
	}
	s.modeConfigs.Invalidate(betID)
	return nil
}

// LiveInfo returns the current projection for an open bet, or the
// persisted settlement snapshot once the bet is terminal.
func (s *ProposalService) LiveInfo(ctx context.Context, betID uuid.UUID) (*domain.LiveInfo, error) {
	bet, cfg, err := s.loadBetWithConfig(ctx, betID)
	if err != nil {
		return nil, err
	}

	if bet.Status.Terminal() {
		ev, err := s.history.LatestByType(ctx, s.db, betID, domain.EventLiveInfoSnapshot)
		if err != nil {
			return nil, domain.ErrInternal("load snapshot", err)
		}
		if ev == nil {
			return &domain.LiveInfo{}, nil
		}
		var info domain.LiveInfo
		if err := json.Unmarshal(ev.Payload, &info); err != nil {
			return nil, domain.ErrInternal("decode snapshot", err)
		}
		return &info, nil
	}

	module, err := s.registry.Lookup(bet.League, bet.ModeKey)
	if err != nil {
		return nil, err
	}
	return module.GetLiveInfo(ctx, modes.LiveInfoInput{Bet: bet, Config: cfg})
}

// SnapshotLiveInfo persists the mode's final projection as a history event
// right after settlement. Wired as the queue's post-success hook.
func (s *ProposalService) SnapshotLiveInfo(ctx context.Context, betID uuid.UUID) {
	bet, cfg, err := s.loadBetWithConfig(ctx, betID)
	if err != nil {
		s.logger.Warn("snapshot load failed", "bet_id", betID, "error", err)
		return
	}

	module, err := s.registry.Lookup(bet.League, bet.ModeKey)
	if err != nil {
		return
	}
	info, err := module.GetLiveInfo(ctx, modes.LiveInfoInput{Bet: bet, Config: cfg})
	if err != nil || info == nil {
		return
	}

	payload, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := s.history.Append(ctx, s.db, betID, domain.EventLiveInfoSnapshot, payload); err != nil {
		s.logger.Warn("snapshot write failed", "bet_id", betID, "error", err)
	}
}

func (s *ProposalService) loadBetWithConfig(ctx context.Context, betID uuid.UUID) (*domain.BetProposal, domain.ModeConfig, error) {
	bet, err := s.bets.FindByID(ctx, s.db, betID)
	if err != nil {
		return nil, nil, domain.ErrInternal("load bet", err)
	}
	if bet == nil {
		return nil, nil, domain.ErrNotFound("bet", betID.String())
	}

	cfg, err := s.modeConfigs.Get(ctx, s.db, betID)
	if err != nil {
		return nil, nil, domain.ErrInternal("load mode config", err)
	}
	if cfg == nil {
		cfg = domain.ModeConfig{}
	}
	return bet, cfg, nil
}

// checkOption rejects guesses outside the bet's recorded option set.
func (s *ProposalService) checkOption(bet *domain.BetProposal, cfg domain.ModeConfig, choice string) error {
	options, err := s.betOptions(bet, cfg)
	if err != nil {
		return err
	}
	return matchOption(options, choice)
}

// checkWinner is checkOption without the "No Entry" sentinel: sitting out
// is a valid guess but can never be the winning choice.
func (s *ProposalService) checkWinner(bet *domain.BetProposal, cfg domain.ModeConfig, choice string) error {
	options, err := s.betOptions(bet, cfg)
	if err != nil {
		return err
	}
	winners := make([]string, 0, len(options))
	for _, o := range options {
		if o != domain.NoEntry {
			winners = append(winners, o)
		}
	}
	return matchOption(winners, choice)
}

func (s *ProposalService) betOptions(bet *domain.BetProposal, cfg domain.ModeConfig) ([]string, error) {
	module, err := s.registry.Lookup(bet.League, bet.ModeKey)
	if err != nil {
		return nil, err
	}
	return module.ComputeOptions(cfg), nil
}

func matchOption(options []string, choice string) error {
	for _, o := range options {
		if o == choice {
			return nil
		}
	}
	return domain.ErrValidation("invalid choice", domain.FieldError{
		Field:   "winning_choice",
		Message: "valid options: " + strings.Join(options, ", "),
	})
}

// surfaceOnFeed inserts the table feed row and publishes the Kafka event.
// Neither failure rolls back the committed bet.
func (s *ProposalService) surfaceOnFeed(ctx context.Context, bet *domain.BetProposal) {
	payload, _ := json.Marshal(bet)

	item := &domain.FeedItem{
		ID:       uuid.New(),
		TableID:  bet.TableID,
		UserID:   bet.ProposerUserID,
		ItemType: domain.FeedItemBetProposal,
		Payload:  payload,
	}
	if err := s.tables.InsertFeedItem(ctx, s.db, item); err != nil {
		s.logger.Error("feed item insert failed", "bet_id", bet.ID, "error", err)
	}
	if err := s.tables.TouchActivity(ctx, s.db, bet.TableID, time.Now().UTC()); err != nil {
		s.logger.Warn("table activity touch failed", "table_id", bet.TableID, "error", err)
	}

	event := domain.FeedEvent{
		EventID:   uuid.New(),
		TableID:   bet.TableID,
		BetID:     bet.ID,
		EventType: domain.FeedItemBetProposal,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	data, _ := json.Marshal(event)
	if err := s.producer.Publish(ctx, bet.TableID.String(), data); err != nil {
		s.logger.Warn("feed event publish failed", "bet_id", bet.ID, "error", err)
	}
}
