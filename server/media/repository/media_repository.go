package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"media_server/server/media/domain"
)

const recordColumns = `id, user_id, media_id, compressed_id, status, description, content_type, size_bytes, created_at, updated_at`

type MediaRepository struct {
	pool *pgxpool.Pool
}

func NewMediaRepository(pool *pgxpool.Pool) *MediaRepository {
	return &MediaRepository{pool: pool}
}

func (r *MediaRepository) Create(ctx context.Context, record domain.MediaRecord) (domain.MediaRecord, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO user_media(user_id, media_id, compressed_id, status, description, content_type, size_bytes)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, record.UserID, record.MediaID, record.CompressedID, record.Status, record.Description, record.ContentType, record.SizeBytes).
		Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return domain.MediaRecord{}, fmt.Errorf("insert media %s: %w", record.MediaID, err)
	}
	return record, nil
}

// UpdateStatus matches media_id exactly and returns the updated row.
func (r *MediaRepository) UpdateStatus(ctx context.Context, mediaID, status string) (domain.MediaRecord, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE user_media
		SET status=$2, updated_at=now()
		WHERE media_id=$1
		RETURNING `+recordColumns, mediaID, status)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MediaRecord{}, domain.ErrRecordNotFound
		}
		return domain.MediaRecord{}, fmt.Errorf("update media %s: %w", mediaID, err)
	}
	return record, nil
}

func (r *MediaRepository) GetByMediaID(ctx context.Context, mediaID string) (domain.MediaRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM user_media WHERE media_id=$1`, mediaID)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MediaRecord{}, domain.ErrRecordNotFound
		}
		return domain.MediaRecord{}, fmt.Errorf("get media %s: %w", mediaID, err)
	}
	return record, nil
}

// ListByUser returns one page (1-based) of the user's records in upload
// order together with the total number of pages.
func (r *MediaRepository) ListByUser(ctx context.Context, userID int32, page, limit int) ([]domain.MediaRecord, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM user_media WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count media for user %d: %w", userID, err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM user_media
		WHERE user_id=$1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list media for user %d: %w", userID, err)
	}
	defer rows.Close()

	items := make([]domain.MediaRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, NumPages(total, limit), nil
}

func NumPages(total int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}

func scanRecord(row pgx.Row) (domain.MediaRecord, error) {
	var m domain.MediaRecord
	err := row.Scan(&m.ID, &m.UserID, &m.MediaID, &m.CompressedID, &m.Status, &m.Description, &m.ContentType, &m.SizeBytes, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}
