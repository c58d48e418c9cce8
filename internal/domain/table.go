package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Table is a private room of members who bet against each other.
type Table struct {
	ID             uuid.UUID `json:"table_id"`
	Name           string    `json:"name"`
	OwnerUserID    uuid.UUID `json:"owner_user_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MemberCount    int       `json:"member_count"`
}

// FeedItem is one entry of a table's chat feed. Bet proposals surface here.
type FeedItem struct {
	ID        uuid.UUID       `json:"feed_item_id"`
	TableID   uuid.UUID       `json:"table_id"`
	UserID    uuid.UUID       `json:"user_id"`
	ItemType  string          `json:"item_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const FeedItemBetProposal = "bet_proposal"

// Ticket is the participation-by-bet read model returned by the
// ticket-listing endpoint. It has no lifecycle of its own.
type Ticket struct {
	ParticipationID   uuid.UUID       `json:"participation_id"`
	BetID             uuid.UUID       `json:"bet_id"`
	TableID           uuid.UUID       `json:"table_id"`
	ModeKey           string          `json:"mode_key"`
	Description       string          `json:"description"`
	UserGuess         string          `json:"user_guess"`
	WagerAmount       decimal.Decimal `json:"wager_amount"`
	BetStatus         BetStatus       `json:"bet_status"`
	WinningChoice     *string         `json:"winning_choice,omitempty"`
	ParticipationTime time.Time       `json:"participated_at"`
}

// FeedEvent is the Kafka payload published when a table feed changes.
type FeedEvent struct {
	EventID   uuid.UUID       `json:"event_id"`
	TableID   uuid.UUID       `json:"table_id"`
	BetID     uuid.UUID       `json:"bet_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
