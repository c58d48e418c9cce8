package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tablestakes/platform/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// BetRepository provides access to bet_proposals.
type BetRepository interface {
	// Insert creates a new proposal row.
	Insert(ctx context.Context, db DBTX, bet *domain.BetProposal) error

	// Delete removes a proposal. Only used as the compensating action when
	// mode-config persistence fails during creation.
	Delete(ctx context.Context, db DBTX, betID uuid.UUID) error

	// FindByID returns a proposal, or nil when absent.
	FindByID(ctx context.Context, db DBTX, betID uuid.UUID) (*domain.BetProposal, error)

	// PromoteExpired moves active bets with close_time at or before the
	// cutoff to pending. Returns the ids promoted.
	PromoteExpired(ctx context.Context, db DBTX, cutoff time.Time) ([]uuid.UUID, error)

	// SetWinningChoice resolves a bet via a conditional update. Returns
	// false when the row was already settled.
	SetWinningChoice(ctx context.Context, db DBTX, betID uuid.UUID, choice string, at time.Time) (bool, error)

	// Wash transitions a bet to washed via a conditional update.
	Wash(ctx context.Context, db DBTX, betID uuid.UUID, at time.Time) (bool, error)

	// ListUnsettledByMode returns active and pending bets for one mode,
	// oldest first, for the resolver loop.
	ListUnsettledByMode(ctx context.Context, db DBTX, modeKey string) ([]domain.BetProposal, error)

	// CountUnsettled counts active and pending bets.
	CountUnsettled(ctx context.Context, db DBTX) (int64, error)
}

// ParticipationRepository provides access to bet_participations.
type ParticipationRepository interface {
	// Insert records one user's acceptance of a bet.
	Insert(ctx context.Context, db DBTX, p *domain.BetParticipation) error

	// FindByBetAndUser returns a participation, or nil.
	FindByBetAndUser(ctx context.Context, db DBTX, betID, userID uuid.UUID) (*domain.BetParticipation, error)

	// UpdateGuess changes a guess while the parent bet is still active.
	// Returns false when the bet has already closed.
	UpdateGuess(ctx context.Context, db DBTX, participationID uuid.UUID, guess string) (bool, error)

	// ListTickets returns the participation-by-bet read model for a user,
	// newest first, cursor-paginated on (participation_time, id).
	ListTickets(ctx context.Context, db DBTX, userID uuid.UUID, cursor *TicketCursor, limit int) ([]domain.Ticket, error)
}

// TicketCursor addresses a page boundary in the ticket listing.
type TicketCursor struct {
	BeforeParticipatedAt  time.Time
	BeforeParticipationID uuid.UUID
}

// HistoryRepository provides access to resolution_history.
type HistoryRepository interface {
	// Append inserts one audit event.
	Append(ctx context.Context, db DBTX, betID uuid.UUID, eventType string, payload json.RawMessage) error

	// LatestByType returns the most recent event of a type for a bet, or
	// nil. The latest mode_config event is the authoritative config.
	LatestByType(ctx context.Context, db DBTX, betID uuid.UUID, eventType string) (*domain.ResolutionHistoryEvent, error)
}

// TableRepository provides access to tables, table_members and feed_items.
type TableRepository interface {
	// FindByID returns a table, or nil.
	FindByID(ctx context.Context, db DBTX, tableID uuid.UUID) (*domain.Table, error)

	// IsMember reports whether the user belongs to the table.
	IsMember(ctx context.Context, db DBTX, tableID, userID uuid.UUID) (bool, error)

	// InsertFeedItem adds an entry to the table's chat feed.
	InsertFeedItem(ctx context.Context, db DBTX, item *domain.FeedItem) error

	// TouchActivity bumps the table's last_activity_at.
	TouchActivity(ctx context.Context, db DBTX, tableID uuid.UUID, at time.Time) error

	// ListForUser returns the user's tables by recency, cursor-paginated
	// on (last_activity_at, id).
	ListForUser(ctx context.Context, db DBTX, userID uuid.UUID, cursor *TableCursor, limit int) ([]domain.Table, error)
}

// TableCursor addresses a page boundary in the table listing.
type TableCursor struct {
	BeforeActivityAt time.Time
	BeforeTableID    uuid.UUID
}
