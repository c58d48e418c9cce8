package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BetStatus is the lifecycle state of a bet proposal. Transitions are
// monotonic along active -> pending -> {resolved, washed}.
type BetStatus string

const (
	BetStatusActive   BetStatus = "active"
	BetStatusPending  BetStatus = "pending"
	BetStatusResolved BetStatus = "resolved"
	BetStatusWashed   BetStatus = "washed"
)

// Terminal reports whether the status admits no further transition.
func (s BetStatus) Terminal() bool {
	return s == BetStatusResolved || s == BetStatusWashed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// monotonic.
func (s BetStatus) CanTransitionTo(next BetStatus) bool {
	switch s {
	case BetStatusActive:
		return next == BetStatusPending || next == BetStatusResolved || next == BetStatusWashed
	case BetStatusPending:
		return next == BetStatusResolved || next == BetStatusWashed
	default:
		return false
	}
}

// NoEntry is the sentinel guess every mode's option set must include.
const NoEntry = "No Entry"

// Wager bounds and time-limit bounds for every proposal.
var (
	MinWager = decimal.RequireFromString("0.25")
	MaxWager = decimal.RequireFromString("5")
)

const (
	MinTimeLimitSeconds = 10
	MaxTimeLimitSeconds = 120
)

// ClampWager forces a wager into [MinWager, MaxWager] and truncates to cents
// (rounds toward zero).
func ClampWager(w decimal.Decimal) decimal.Decimal {
	if w.LessThan(MinWager) {
		w = MinWager
	}
	if w.GreaterThan(MaxWager) {
		w = MaxWager
	}
	return w.Truncate(2)
}

// ClampTimeLimit forces a time limit into [10, 120] whole seconds.
func ClampTimeLimit(secs int) int {
	if secs < MinTimeLimitSeconds {
		return MinTimeLimitSeconds
	}
	if secs > MaxTimeLimitSeconds {
		return MaxTimeLimitSeconds
	}
	return secs
}

// BetProposal is the authoritative bet record.
type BetProposal struct {
	ID               uuid.UUID       `json:"bet_id"`
	TableID          uuid.UUID       `json:"table_id"`
	ProposerUserID   uuid.UUID       `json:"proposer_user_id"`
	League           string          `json:"league"`
	LeagueGameID     *string         `json:"league_game_id,omitempty"`
	ModeKey          string          `json:"mode_key"`
	Description      string          `json:"description"`
	WagerAmount      decimal.Decimal `json:"wager_amount"`
	TimeLimitSeconds int             `json:"time_limit_seconds"`
	ProposalTime     time.Time       `json:"proposal_time"`
	CloseTime        time.Time       `json:"close_time"`
	Status           BetStatus       `json:"bet_status"`
	WinningChoice    *string         `json:"winning_choice,omitempty"`
	ResolutionTime   *time.Time      `json:"resolution_time,omitempty"`
	OriginBetID      *uuid.UUID      `json:"origin_bet_id,omitempty"`
}

// NewBetProposal builds an active proposal with clamped wager and time limit
// and close_time derived from the proposal time.
func NewBetProposal(tableID, proposerID uuid.UUID, league, modeKey, description string, gameID *string, wager decimal.Decimal, timeLimitSeconds int, now time.Time) *BetProposal {
	limit := ClampTimeLimit(timeLimitSeconds)
	return &BetProposal{
		ID:               uuid.New(),
		TableID:          tableID,
		ProposerUserID:   proposerID,
		League:           league,
		LeagueGameID:     gameID,
		ModeKey:          modeKey,
		Description:      description,
		WagerAmount:      ClampWager(wager),
		TimeLimitSeconds: limit,
		ProposalTime:     now,
		CloseTime:        now.Add(time.Duration(limit) * time.Second),
		Status:           BetStatusActive,
	}
}

// BetParticipation is one user's acceptance of a bet. The guess stays
// mutable only while the parent bet is active.
type BetParticipation struct {
	ID                uuid.UUID `json:"participation_id"`
	BetID             uuid.UUID `json:"bet_id"`
	UserID            uuid.UUID `json:"user_id"`
	UserGuess         string    `json:"user_guess"`
	ParticipationTime time.Time `json:"participation_time"`
}

// ModeConfig is the per-bet, mode-specific configuration payload. It is
// persisted as the most recent resolution_history event of type
// EventModeConfig and never mutated after write.
type ModeConfig map[string]any

// Raw marshals the config for storage.
func (c ModeConfig) Raw() json.RawMessage {
	b, _ := json.Marshal(c)
	return b
}

// String returns the string value of a config field, or "".
func (c ModeConfig) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Float returns the numeric value of a config field. JSON round-trips hand
// back float64 for every number.
func (c ModeConfig) Float(key string) (float64, bool) {
	f, ok := c[key].(float64)
	return f, ok
}

// Strings returns a []string config field regardless of whether it survived
// a JSON round-trip as []any.
func (c ModeConfig) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
