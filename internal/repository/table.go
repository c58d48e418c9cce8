package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tablestakes/platform/internal/domain"
)

type tableRepo struct{}

// NewTableRepository returns a pgx-backed TableRepository.
func NewTableRepository() TableRepository {
	return &tableRepo{}
}

func (r *tableRepo) FindByID(ctx context.Context, db DBTX, tableID uuid.UUID) (*domain.Table, error) {
	row := db.QueryRow(ctx, `
		SELECT t.id, t.name, t.owner_user_id, t.created_at, t.last_activity_at,
		       (SELECT COUNT(*) FROM table_members m WHERE m.table_id = t.id)
		FROM tables t WHERE t.id = $1`, tableID)

	var tbl domain.Table
	err := row.Scan(&tbl.ID, &tbl.Name, &tbl.OwnerUserID, &tbl.CreatedAt, &tbl.LastActivityAt, &tbl.MemberCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan table: %w", err)
	}
	return &tbl, nil
}

func (r *tableRepo) IsMember(ctx context.Context, db DBTX, tableID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM table_members WHERE table_id = $1 AND user_id = $2)`,
		tableID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table membership: %w", err)
	}
	return exists, nil
}

func (r *tableRepo) InsertFeedItem(ctx context.Context, db DBTX, item *domain.FeedItem) error {
	payload := item.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO feed_items (id, table_id, user_id, item_type, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.TableID, item.UserID, item.ItemType, payload)
	if err != nil {
		return fmt.Errorf("insert feed item: %w", err)
	}
	return nil
}

func (r *tableRepo) TouchActivity(ctx context.Context, db DBTX, tableID uuid.UUID, at time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE tables SET last_activity_at = $2 WHERE id = $1 AND last_activity_at < $2`,
		tableID, at)
	if err != nil {
		return fmt.Errorf("touch table activity: %w", err)
	}
	return nil
}

func (r *tableRepo) ListForUser(ctx context.Context, db DBTX, userID uuid.UUID, cursor *TableCursor, limit int) ([]domain.Table, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = db.Query(ctx, `
			SELECT t.id, t.name, t.owner_user_id, t.created_at, t.last_activity_at,
			       (SELECT COUNT(*) FROM table_members c WHERE c.table_id = t.id)
			FROM tables t
			JOIN table_members m ON m.table_id = t.id AND m.user_id = $1
			WHERE (t.last_activity_at, t.id) < ($2, $3)
			ORDER BY t.last_activity_at DESC, t.id DESC
			LIMIT $4`, userID, cursor.BeforeActivityAt, cursor.BeforeTableID, limit)
	} else {
		rows, err = db.Query(ctx, `
			SELECT t.id, t.name, t.owner_user_id, t.created_at, t.last_activity_at,
			       (SELECT COUNT(*) FROM table_members c WHERE c.table_id = t.id)
			FROM tables t
			JOIN table_members m ON m.table_id = t.id AND m.user_id = $1
			ORDER BY t.last_activity_at DESC, t.id DESC
			LIMIT $2`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []domain.Table
	for rows.Next() {
		var tbl domain.Table
		if err := rows.Scan(&tbl.ID, &tbl.Name, &tbl.OwnerUserID, &tbl.CreatedAt, &tbl.LastActivityAt, &tbl.MemberCount); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, tbl)
	}
	return tables, rows.Err()
}
