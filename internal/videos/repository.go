package videos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safetrain/backend/internal/models"
)

// Repository handles video persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a videos repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const videoColumns = `id, unique_id, title, description, category, zone, owner_id, file_name, size_bytes, mime_type,
	duration_seconds, status, primary_rendition_key, thumbnail_key, rendition_high, rendition_medium, rendition_low,
	processing_error, view_count, created_at, updated_at`

func scanVideo(row pgx.Row) (*models.Video, error) {
	var v models.Video
	var status string
	err := row.Scan(&v.ID, &v.UniqueID, &v.Title, &v.Description, &v.Category, &v.Zone, &v.OwnerID, &v.FileName, &v.SizeBytes, &v.MimeType,
		&v.DurationSeconds, &status, &v.PrimaryRenditionKey, &v.ThumbnailKey, &v.RenditionKeys.High, &v.RenditionKeys.Medium, &v.RenditionKeys.Low,
		&v.ProcessingError, &v.ViewCount, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if v.Status, err = models.ParseVideoStatus(status); err != nil {
		return nil, err
	}
	return &v, nil
}

// Create inserts a provisional video in processing state with empty keys.
func (r *Repository) Create(ctx context.Context, v *models.Video) error {
	const q = `INSERT INTO videos (id, unique_id, title, description, category, zone, owner_id, file_name, size_bytes, mime_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`
	v.Status = models.VideoStatusProcessing
	return r.pool.QueryRow(ctx, q, v.ID, v.UniqueID, v.Title, v.Description, v.Category, v.Zone, v.OwnerID, v.FileName, v.SizeBytes, v.MimeType, string(v.Status)).
		Scan(&v.CreatedAt, &v.UpdatedAt)
}

// Get returns a video by ID.
func (r *Repository) Get(ctx context.Context, id string) (*models.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	return scanVideo(r.pool.QueryRow(ctx, q, id))
}

// List returns all videos, newest first.
func (r *Repository) List(ctx context.Context) ([]models.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]models.Video, 0)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

// MarkReady sets status, duration and all four keys in one statement, only from processing.
func (r *Repository) MarkReady(ctx context.Context, id string, u models.ReadyUpdate) error {
	if !u.Complete() {
		return ErrIncompleteKeys
	}
	const q = `UPDATE videos SET status = $2, duration_seconds = $3, thumbnail_key = $4,
		rendition_high = $5, rendition_medium = $6, rendition_low = $7, primary_rendition_key = $5,
		processing_error = '', updated_at = NOW()
		WHERE id = $1 AND status = $8`
	tag, err := r.pool.Exec(ctx, q, id, string(models.VideoStatusReady), u.DurationSeconds, u.ThumbnailKey,
		u.RenditionKeys.High, u.RenditionKeys.Medium, u.RenditionKeys.Low, string(models.VideoStatusProcessing))
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionMiss(ctx, id)
	}
	return nil
}

// MarkFailed sets status error and the message, only from processing. Keys stay empty.
func (r *Repository) MarkFailed(ctx context.Context, id, message string) error {
	const q = `UPDATE videos SET status = $2, processing_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`
	tag, err := r.pool.Exec(ctx, q, id, string(models.VideoStatusError), message, string(models.VideoStatusProcessing))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionMiss(ctx, id)
	}
	return nil
}

// IncrementViews adds one view atomically and returns the updated record.
func (r *Repository) IncrementViews(ctx context.Context, id string) (*models.Video, error) {
	q := `UPDATE videos SET view_count = view_count + 1 WHERE id = $1 RETURNING ` + videoColumns
	return scanVideo(r.pool.QueryRow(ctx, q, id))
}

func (r *Repository) transitionMiss(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotProcessing
}
