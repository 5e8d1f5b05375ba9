package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"release-maker/internal/domain"
	"release-maker/internal/repository"
)

const createReleaseScreenshotsTable = `
CREATE TABLE IF NOT EXISTS release_screenshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id TEXT NOT NULL,
	local_path TEXT NOT NULL,
	url TEXT NOT NULL,
	thumbnail_url TEXT NOT NULL DEFAULT '',
	FOREIGN KEY(release_id) REFERENCES releases(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_release_screenshots_release_id ON release_screenshots(release_id);
`

type ReleaseScreenshotRepository struct {
	db *sql.DB
}

func NewReleaseScreenshotRepository(db *sql.DB) repository.ReleaseScreenshotRepository {
	return &ReleaseScreenshotRepository{db: db}
}

func (r *ReleaseScreenshotRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createReleaseScreenshotsTable); err != nil {
		return fmt.Errorf("create release_screenshots table: %w", err)
	}
	return nil
}

func (r *ReleaseScreenshotRepository) Add(ctx context.Context, shot *domain.ReleaseScreenshot) error {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO release_screenshots (release_id, local_path, url, thumbnail_url)
VALUES (?, ?, ?, ?)`,
		shot.ReleaseID,
		shot.LocalPath,
		shot.URL,
		shot.ThumbnailURL,
	)
	if err != nil {
		return fmt.Errorf("insert screenshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("screenshot last insert id: %w", err)
	}
	shot.ID = id
	return nil
}

func (r *ReleaseScreenshotRepository) ListByRelease(ctx context.Context, releaseID string) ([]domain.ReleaseScreenshot, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, release_id, local_path, url, thumbnail_url
FROM release_screenshots
WHERE release_id=?
ORDER BY id ASC`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("query release screenshots: %w", err)
	}
	defer rows.Close()

	var shots []domain.ReleaseScreenshot
	for rows.Next() {
		var s domain.ReleaseScreenshot
		if err := rows.Scan(&s.ID, &s.ReleaseID, &s.LocalPath, &s.URL, &s.ThumbnailURL); err != nil {
			return nil, fmt.Errorf("scan screenshot: %w", err)
		}
		shots = append(shots, s)
	}
	return shots, rows.Err()
}
