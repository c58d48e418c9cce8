package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/modes"
)

// SessionService drives the multi-step proposer wizard. Sessions live in
// Redis hashes under a 15-minute TTL refreshed on every mutating call.
type SessionService struct {
	rdb      *redis.Client
	registry *modes.Registry
	games    modes.GameSource
	logger   *slog.Logger
}

func NewSessionService(rdb *redis.Client, registry *modes.Registry, games modes.GameSource, logger *slog.Logger) *SessionService {
	return &SessionService{rdb: rdb, registry: registry, games: games, logger: logger}
}

func sessionKey(id uuid.UUID) string { return "config_session:" + id.String() }

// CreateSessionInput is the body of POST /bet-proposals/sessions.
type CreateSessionInput struct {
	ModeKey      string `json:"mode_key"`
	League       string `json:"league"`
	LeagueGameID string `json:"league_game_id"`
}

// CreateSession opens a fresh wizard session in the mode_config stage.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.ConfigSession, error) {
	if in.ModeKey == "" || in.League == "" {
		return nil, domain.ErrValidation("mode_key and league are required")
	}

	module, err := s.registry.Lookup(in.League, in.ModeKey)
	if err != nil {
		return nil, err
	}

	var game *domain.RefinedGameDoc
	if in.LeagueGameID != "" {
		game, err = s.games.Game(in.League, in.LeagueGameID)
		if err != nil {
			return nil, domain.ErrInternal("read game data", err)
		}
	}

	steps, err := module.BuildUserConfig(ctx, modes.BuildInput{League: in.League, Game: game})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &domain.ConfigSession{
		ID:           uuid.New(),
		ModeKey:      in.ModeKey,
		League:       in.League,
		LeagueGameID: in.LeagueGameID,
		Steps:        steps,
		Status:       domain.SessionStageModeConfig,
		CreatedAt:    now,
		ExpiresAt:    now.Add(domain.SessionTTL),
	}
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("config session created", "session_id", session.ID, "mode_key", in.ModeKey, "league", in.League)
	return session, nil
}

// GetSession loads a session; expiry presents as NOT_FOUND.
func (s *SessionService) GetSession(ctx context.Context, id uuid.UUID) (*domain.ConfigSession, error) {
	return s.load(ctx, id)
}

// ApplyChoiceInput is the body of POST /bet-proposals/sessions/:id/choices.
// ChoiceID selects an option on choice steps; TextValue fills text steps.
type ApplyChoiceInput struct {
	StepKey   string `json:"step_key"`
	ChoiceID  string `json:"choice_id,omitempty"`
	TextValue string `json:"text_value,omitempty"`
}

// ApplyChoice records a step selection, cascades declared clears, rebuilds
// the preview, and advances the stage once every step is complete.
func (s *SessionService) ApplyChoice(ctx context.Context, id uuid.UUID, in ApplyChoiceInput) (*domain.ConfigSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	step := session.Step(in.StepKey)
	if step == nil {
		return nil, domain.ErrValidation("unknown step", domain.FieldError{Field: "step_key", Message: "no such wizard step"})
	}

	switch step.Input {
	case domain.StepInputText:
		value := strings.TrimSpace(in.TextValue)
		step.TextValue = &value
		step.Completed = value != ""

	default:
		var choice *domain.StepChoice
		for i := range step.Choices {
			if step.Choices[i].ID == in.ChoiceID {
				choice = &step.Choices[i]
				break
			}
		}
		if choice == nil {
			return nil, domain.ErrValidation("invalid choice", domain.FieldError{Field: "choice_id", Message: "not an option for this step"})
		}
		step.SelectedChoiceID = &choice.ID
		step.Completed = true

		// Dependent steps declared by the choice lose their selections.
		for _, clearKey := range choice.Clears {
			if cleared := session.Step(clearKey); cleared != nil {
				cleared.SelectedChoiceID = nil
				cleared.TextValue = nil
				cleared.Completed = false
			}
		}
	}

	if err := s.refreshPreview(ctx, session); err != nil {
		return nil, err
	}
	if session.StepsComplete() && session.Status == domain.SessionStageModeConfig {
		session.Status = domain.SessionStageGeneral
	}

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SetGeneralInput is the body of POST /bet-proposals/sessions/:id/general.
type SetGeneralInput struct {
	WagerAmount      *decimal.Decimal `json:"wager_amount,omitempty"`
	TimeLimitSeconds *int             `json:"time_limit_seconds,omitempty"`
}

// SetGeneral stores wager and time limit, validating the hard ranges. Only
// permitted once the wizard has reached the general stage.
func (s *SessionService) SetGeneral(ctx context.Context, id uuid.UUID, in SetGeneralInput) (*domain.ConfigSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Before(domain.SessionStageGeneral) {
		return nil, domain.ErrBadInput("mode configuration is not complete yet")
	}

	var details []domain.FieldError
	if in.WagerAmount != nil {
		if in.WagerAmount.LessThan(domain.MinWager) || in.WagerAmount.GreaterThan(domain.MaxWager) {
			details = append(details, domain.FieldError{Field: "wager_amount", Message: "must be between 0.25 and 5"})
		}
	}
	if in.TimeLimitSeconds != nil {
		if *in.TimeLimitSeconds < domain.MinTimeLimitSeconds || *in.TimeLimitSeconds > domain.MaxTimeLimitSeconds {
			details = append(details, domain.FieldError{Field: "time_limit_seconds", Message: "must be between 10 and 120 seconds"})
		}
	}
	if len(details) > 0 {
		return nil, domain.ErrValidation("general config out of range", details...)
	}

	if in.WagerAmount != nil {
		session.General.WagerAmount = in.WagerAmount
	}
	if in.TimeLimitSeconds != nil {
		session.General.TimeLimitSeconds = in.TimeLimitSeconds
	}

	if session.General.WagerAmount != nil && session.General.TimeLimitSeconds != nil && session.StepsComplete() {
		session.Status = domain.SessionStageSummary
	}

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// OverrideStage moves the wizard to an earlier stage for non-linear edits.
// Forward moves past incomplete prerequisites are rejected.
func (s *SessionService) OverrideStage(ctx context.Context, id uuid.UUID, stage domain.SessionStatus) (*domain.ConfigSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if session.Status.Before(stage) {
		switch stage {
		case domain.SessionStageGeneral:
			if !session.StepsComplete() {
				return nil, domain.ErrBadInput("cannot skip forward past incomplete steps")
			}
		case domain.SessionStageSummary:
			if !session.StepsComplete() || session.General.WagerAmount == nil || session.General.TimeLimitSeconds == nil {
				return nil, domain.ErrBadInput("cannot skip forward past incomplete steps")
			}
		default:
			return nil, domain.ErrValidation("unknown stage")
		}
	}

	session.Status = stage
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Commit verifies the session is committable and hands it to the proposal
// pipeline. The caller destroys the session after the bet row exists.
func (s *SessionService) Commit(ctx context.Context, id uuid.UUID) (*domain.ConfigSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionStageSummary {
		return nil, domain.ErrBadInput("session has not reached the summary stage")
	}
	if session.Preview != nil && len(session.Preview.Errors) > 0 {
		return nil, domain.ErrBadInput("preview has unresolved errors")
	}
	return session, nil
}

// Destroy removes a committed session.
func (s *SessionService) Destroy(ctx context.Context, id uuid.UUID) {
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		s.logger.Warn("session delete failed", "session_id", id, "error", err)
	}
}

// refreshPreview recomputes the server-rendered summary that gates commit.
func (s *SessionService) refreshPreview(ctx context.Context, session *domain.ConfigSession) error {
	module, err := s.registry.Lookup(session.League, session.ModeKey)
	if err != nil {
		return err
	}

	cfg := module.ConfigFromSteps(session.Steps)

	var game *domain.RefinedGameDoc
	if session.LeagueGameID != "" {
		game, err = s.games.Game(session.League, session.LeagueGameID)
		if err != nil {
			return domain.ErrInternal("read game data", err)
		}
	}

	preview := &domain.Preview{}
	if session.StepsComplete() {
		condition := module.ComputeWinningCondition(cfg)
		preview.Description = fmt.Sprintf("%s: %s", module.Label(), condition)
		preview.WinningCondition = condition
		preview.Options = module.ComputeOptions(cfg)

		result := module.ValidateProposal(ctx, modes.ValidateInput{
			League: session.League,
			GameID: session.LeagueGameID,
			Config: cfg,
			Game:   game,
		})
		preview.Errors = result.Errors
	}

	session.Preview = preview
	return nil
}

// Sessions persist as Redis hashes: scalar fields as strings, structured
// fields as JSON.
func (s *SessionService) save(ctx context.Context, session *domain.ConfigSession) error {
	steps, err := json.Marshal(session.Steps)
	if err != nil {
		return domain.ErrInternal("encode session steps", err)
	}
	general, err := json.Marshal(session.General)
	if err != nil {
		return domain.ErrInternal("encode session general", err)
	}
	preview := []byte("null")
	if session.Preview != nil {
		if preview, err = json.Marshal(session.Preview); err != nil {
			return domain.ErrInternal("encode session preview", err)
		}
	}

	// Mutations refresh the TTL.
	session.ExpiresAt = time.Now().UTC().Add(domain.SessionTTL)

	key := sessionKey(session.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"mode_key":       session.ModeKey,
		"league":         session.League,
		"league_game_id": session.LeagueGameID,
		"status":         string(session.Status),
		"steps":          string(steps),
		"general":        string(general),
		"preview":        string(preview),
		"created_at":     session.CreatedAt.Format(time.RFC3339Nano),
		"expires_at":     session.ExpiresAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, domain.SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.ErrInternal("store session", err)
	}
	return nil
}

func (s *SessionService) load(ctx context.Context, id uuid.UUID) (*domain.ConfigSession, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, domain.ErrInternal("load session", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound("session", id.String())
	}

	session := &domain.ConfigSession{
		ID:           id,
		ModeKey:      fields["mode_key"],
		League:       fields["league"],
		LeagueGameID: fields["league_game_id"],
		Status:       domain.SessionStatus(fields["status"]),
	}
	if err := json.Unmarshal([]byte(fields["steps"]), &session.Steps); err != nil {
		return nil, domain.ErrInternal("decode session steps", err)
	}
	if err := json.Unmarshal([]byte(fields["general"]), &session.General); err != nil {
		return nil, domain.ErrInternal("decode session general", err)
	}
	if raw := fields["preview"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &session.Preview); err != nil {
			return nil, domain.ErrInternal("decode session preview", err)
		}
	}
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, domain.ErrInternal("decode session created_at", err)
	}
	if session.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, domain.ErrInternal("decode session expires_at", err)
	}

	if session.Expired(time.Now()) {
		return nil, domain.ErrNotFound("session", id.String())
	}
	return session, nil
}
