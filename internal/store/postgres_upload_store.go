package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/okarlsson/imagepress/internal/domain"
)

const uploadSchemaSQL = `
CREATE TABLE IF NOT EXISTS uploads (
	job_id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS uploads_created_at_idx ON uploads (created_at DESC);
`

type PostgresUploadStore struct {
	db *sql.DB
}

func NewPostgresUploadStore(ctx context.Context, dsn string) (*PostgresUploadStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, uploadSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply upload schema: %w", err)
	}

	return &PostgresUploadStore{db: db}, nil
}

func (s *PostgresUploadStore) Record(ctx context.Context, upload domain.Upload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (job_id, filename, content_type, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO NOTHING`,
		upload.JobID,
		upload.Filename,
		upload.ContentType,
		upload.SizeBytes,
		upload.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record upload %s: %w", upload.JobID, err)
	}
	return nil
}

func (s *PostgresUploadStore) Get(ctx context.Context, jobID string) (domain.Upload, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, filename, content_type, size_bytes, created_at
		FROM uploads WHERE job_id = $1`, jobID)

	var upload domain.Upload
	err := row.Scan(&upload.JobID, &upload.Filename, &upload.ContentType, &upload.SizeBytes, &upload.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Upload{}, false, nil
	}
	if err != nil {
		return domain.Upload{}, false, fmt.Errorf("load upload %s: %w", jobID, err)
	}
	return upload, true, nil
}

func (s *PostgresUploadStore) ListRecent(ctx context.Context, limit int) ([]domain.Upload, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, filename, content_type, size_bytes, created_at
		FROM uploads ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []domain.Upload
	for rows.Next() {
		var upload domain.Upload
		if err := rows.Scan(&upload.JobID, &upload.Filename, &upload.ContentType, &upload.SizeBytes, &upload.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload row: %w", err)
		}
		uploads = append(uploads, upload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload rows: %w", err)
	}
	return uploads, nil
}

func (s *PostgresUploadStore) Close() error {
	return s.db.Close()
}
