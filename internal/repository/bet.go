package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tablestakes/platform/internal/domain"
)

const betColumns = `id, table_id, proposer_user_id, league, league_game_id, mode_key,
	       description, wager_amount, time_limit_seconds, proposal_time, close_time,
	       bet_status, winning_choice, resolution_time, origin_bet_id`

type betRepo struct{}

// NewBetRepository returns a pgx-backed BetRepository.
func NewBetRepository() BetRepository {
	return &betRepo{}
}

func (r *betRepo) Insert(ctx context.Context, db DBTX, bet *domain.BetProposal) error {
	_, err := db.Exec(ctx, `
		INSERT INTO bet_proposals
		  (id, table_id, proposer_user_id, league, league_game_id, mode_key,
		   description, wager_amount, time_limit_seconds, proposal_time, close_time,
		   bet_status, origin_bet_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		bet.ID, bet.TableID, bet.ProposerUserID, bet.League, bet.LeagueGameID, bet.ModeKey,
		bet.Description, bet.WagerAmount, bet.TimeLimitSeconds, bet.ProposalTime, bet.CloseTime,
		string(bet.Status), bet.OriginBetID,
	)
	if err != nil {
		return fmt.Errorf("insert bet proposal: %w", err)
	}
	return nil
}

func (r *betRepo) Delete(ctx context.Context, db DBTX, betID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM bet_proposals WHERE id = $1`, betID)
	if err != nil {
		return fmt.Errorf("delete bet proposal %s: %w", betID, err)
	}
	return nil
}

func (r *betRepo) FindByID(ctx context.Context, db DBTX, betID uuid.UUID) (*domain.BetProposal, error) {
	row := db.QueryRow(ctx, `
		SELECT `+betColumns+`
		FROM bet_proposals WHERE id = $1`, betID)
	return scanBet(row)
}

func (r *betRepo) PromoteExpired(ctx context.Context, db DBTX, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `
		UPDATE bet_proposals
		SET bet_status = 'pending'
		WHERE bet_status = 'active' AND close_time <= $1 AND winning_choice IS NULL
		RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("promote expired bets: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan promoted bet id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *betRepo) SetWinningChoice(ctx context.Context, db DBTX, betID uuid.UUID, choice string, at time.Time) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE bet_proposals
		SET bet_status = 'resolved', winning_choice = $2, resolution_time = $3
		WHERE id = $1 AND bet_status IN ('active', 'pending') AND winning_choice IS NULL`,
		betID, choice, at)
	if err != nil {
		return false, fmt.Errorf("set winning choice for bet %s: %w", betID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *betRepo) Wash(ctx context.Context, db DBTX, betID uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE bet_proposals
		SET bet_status = 'washed', resolution_time = $2
		WHERE id = $1 AND bet_status IN ('active', 'pending') AND winning_choice IS NULL`,
		betID, at)
	if err != nil {
		return false, fmt.Errorf("wash bet %s: %w", betID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *betRepo) ListUnsettledByMode(ctx context.Context, db DBTX, modeKey string) ([]domain.BetProposal, error) {
	rows, err := db.Query(ctx, `
		SELECT `+betColumns+`
		FROM bet_proposals
		WHERE mode_key = $1 AND bet_status IN ('active', 'pending')
		ORDER BY proposal_time ASC`, modeKey)
	if err != nil {
		return nil, fmt.Errorf("query unsettled bets: %w", err)
	}
	defer rows.Close()

	return collectBets(rows)
}

func (r *betRepo) CountUnsettled(ctx context.Context, db DBTX) (int64, error) {
	var n int64
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM bet_proposals WHERE bet_status IN ('active', 'pending')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unsettled bets: %w", err)
	}
	return n, nil
}

func scanBet(row pgx.Row) (*domain.BetProposal, error) {
	var bet domain.BetProposal
	var status string
	err := row.Scan(
		&bet.ID, &bet.TableID, &bet.ProposerUserID, &bet.League, &bet.LeagueGameID, &bet.ModeKey,
		&bet.Description, &bet.WagerAmount, &bet.TimeLimitSeconds, &bet.ProposalTime, &bet.CloseTime,
		&status, &bet.WinningChoice, &bet.ResolutionTime, &bet.OriginBetID,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan bet proposal: %w", err)
	}
	bet.Status = domain.BetStatus(status)
	return &bet, nil
}

func collectBets(rows pgx.Rows) ([]domain.BetProposal, error) {
	var bets []domain.BetProposal
	for rows.Next() {
		var bet domain.BetProposal
		var status string
		err := rows.Scan(
			&bet.ID, &bet.TableID, &bet.ProposerUserID, &bet.League, &bet.LeagueGameID, &bet.ModeKey,
			&bet.Description, &bet.WagerAmount, &bet.TimeLimitSeconds, &bet.ProposalTime, &bet.CloseTime,
			&status, &bet.WinningChoice, &bet.ResolutionTime, &bet.OriginBetID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan bet proposal row: %w", err)
		}
		bet.Status = domain.BetStatus(status)
		bets = append(bets, bet)
	}
	return bets, rows.Err()
}
