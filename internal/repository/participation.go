package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tablestakes/platform/internal/domain"
)

type participationRepo struct{}

// NewParticipationRepository returns a pgx-backed ParticipationRepository.
func NewParticipationRepository() ParticipationRepository {
	return &participationRepo{}
}

func (r *participationRepo) Insert(ctx context.Context, db DBTX, p *domain.BetParticipation) error {
	_, err := db.Exec(ctx, `
		INSERT INTO bet_participations (id, bet_id, user_id, user_guess, participation_time)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.BetID, p.UserID, p.UserGuess, p.ParticipationTime)
	if err != nil {
		return fmt.Errorf("insert participation: %w", err)
	}
	return nil
}

func (r *participationRepo) FindByBetAndUser(ctx context.Context, db DBTX, betID, userID uuid.UUID) (*domain.BetParticipation, error) {
	row := db.QueryRow(ctx, `
		SELECT id, bet_id, user_id, user_guess, participation_time
		FROM bet_participations
		WHERE bet_id = $1 AND user_id = $2`, betID, userID)

	var p domain.BetParticipation
	err := row.Scan(&p.ID, &p.BetID, &p.UserID, &p.UserGuess, &p.ParticipationTime)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan participation: %w", err)
	}
	return &p, nil
}

// UpdateGuess only touches rows whose parent bet is still active, so
// guesses freeze the moment the bet closes.
func (r *participationRepo) UpdateGuess(ctx context.Context, db DBTX, participationID uuid.UUID, guess string) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE bet_participations p
		SET user_guess = $2
		FROM bet_proposals b
		WHERE p.id = $1 AND b.id = p.bet_id AND b.bet_status = 'active'`,
		participationID, guess)
	if err != nil {
		return false, fmt.Errorf("update guess: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *participationRepo) ListTickets(ctx context.Context, db DBTX, userID uuid.UUID, cursor *TicketCursor, limit int) ([]domain.Ticket, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = db.Query(ctx, `
			SELECT p.id, b.id, b.table_id, b.mode_key, b.description, p.user_guess,
			       b.wager_amount, b.bet_status, b.winning_choice, p.participation_time
			FROM bet_participations p
			JOIN bet_proposals b ON b.id = p.bet_id
			WHERE p.user_id = $1
			  AND (p.participation_time, p.id) < ($2, $3)
			ORDER BY p.participation_time DESC, p.id DESC
			LIMIT $4`, userID, cursor.BeforeParticipatedAt, cursor.BeforeParticipationID, limit)
	} else {
		rows, err = db.Query(ctx, `
			SELECT p.id, b.id, b.table_id, b.mode_key, b.description, p.user_guess,
			       b.wager_amount, b.bet_status, b.winning_choice, p.participation_time
			FROM bet_participations p
			JOIN bet_proposals b ON b.id = p.bet_id
			WHERE p.user_id = $1
			ORDER BY p.participation_time DESC, p.id DESC
			LIMIT $2`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var status string
		err := rows.Scan(&t.ParticipationID, &t.BetID, &t.TableID, &t.ModeKey, &t.Description,
			&t.UserGuess, &t.WagerAmount, &status, &t.WinningChoice, &t.ParticipationTime)
		if err != nil {
			return nil, fmt.Errorf("scan ticket row: %w", err)
		}
		t.BetStatus = domain.BetStatus(status)
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}
