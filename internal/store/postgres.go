package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"asset-pipeline/internal/models"
)

// Postgres implements AssetStore over a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the database connection for health checks.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Insert creates an asset row in pending state. The upload path normally owns
// asset creation; this exists for seeding and local development.
func (s *Postgres) Insert(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assets (id, status, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, models.AssetPending)
	return err
}

func (s *Postgres) Get(ctx context.Context, id string) (models.Asset, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, thumbnail_path, transcoded_paths, metadata, error_message, updated_at
		FROM assets WHERE id = $1
	`, id)

	var a models.Asset
	var thumb, errMsg pgtype.Text
	var transcoded, metadata []byte

	if err := row.Scan(&a.ID, &a.Status, &thumb, &transcoded, &metadata, &errMsg, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return models.Asset{}, fmt.Errorf("scan asset: %w", err)
	}

	a.ThumbnailPath = thumb.String
	a.ErrorMessage = errMsg.String
	if len(transcoded) > 0 {
		if err := json.Unmarshal(transcoded, &a.TranscodedPaths); err != nil {
			return models.Asset{}, fmt.Errorf("unmarshal transcoded_paths: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return models.Asset{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return a, nil
}

func (s *Postgres) MarkProcessing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE assets
		SET status = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.AssetProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return nil
}

func (s *Postgres) MarkCompleted(ctx context.Context, id string, upd models.CompletionUpdate) error {
	transcoded, err := json.Marshal(upd.TranscodedPaths)
	if err != nil {
		return fmt.Errorf("marshal transcoded_paths: %w", err)
	}
	metadata, err := json.Marshal(upd.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE assets
		SET status = $2,
		    thumbnail_path = NULLIF($3, ''),
		    transcoded_paths = $4,
		    metadata = $5,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, id, models.AssetCompleted, upd.ThumbnailPath, transcoded, metadata)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return nil
}

func (s *Postgres) MarkFailed(ctx context.Context, id string, message string, terminal bool) error {
	var tag pgconn.CommandTag
	var err error
	if terminal {
		tag, err = s.pool.Exec(ctx, `
			UPDATE assets
			SET status = $2, error_message = $3, updated_at = NOW()
			WHERE id = $1
		`, id, models.AssetFailed, message)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE assets
			SET error_message = $2, updated_at = NOW()
			WHERE id = $1
		`, id, message)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return nil
}

func (s *Postgres) FailStuckProcessing(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE assets
		SET status = $1,
		    error_message = 'processing stalled: no worker heartbeat',
		    updated_at = NOW()
		WHERE status = $2 AND updated_at < NOW() - $3::interval
		RETURNING id
	`, models.AssetFailed, models.AssetProcessing, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
