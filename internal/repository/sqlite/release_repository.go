package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"release-maker/internal/domain"
	"release-maker/internal/repository"
)

const createReleasesTable = `
CREATE TABLE IF NOT EXISTS releases (
	id TEXT PRIMARY KEY,
	media_name TEXT NOT NULL,
	location TEXT NOT NULL,
	media_type TEXT NOT NULL,
	status TEXT NOT NULL,
	success INTEGER NOT NULL DEFAULT 0,
	status_message TEXT NOT NULL DEFAULT '',
	upload_progress REAL NOT NULL DEFAULT 0,
	torrent_progress REAL NOT NULL DEFAULT 0,
	publish_text TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	started_at DATETIME NULL,
	ended_at DATETIME NULL
);
CREATE INDEX IF NOT EXISTS idx_releases_status ON releases(status);
`

const releaseColumns = `id, media_name, location, media_type, status, success, status_message, upload_progress, torrent_progress, publish_text, created_at, updated_at, started_at, ended_at`

type ReleaseRepository struct {
	db *sql.DB
}

func NewReleaseRepository(db *sql.DB) repository.ReleaseRepository {
	return &ReleaseRepository{db: db}
}

func (r *ReleaseRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createReleasesTable); err != nil {
		return fmt.Errorf("create releases table: %w", err)
	}
	return ensureColumns(ctx, r.db, "releases", []column{
		{"torrent_progress", "REAL NOT NULL DEFAULT 0"},
		{"publish_text", "TEXT NOT NULL DEFAULT ''"},
	})
}

func (r *ReleaseRepository) Create(ctx context.Context, release *domain.Release) error {
	now := time.Now().UTC()
	release.CreatedAt = now
	release.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO releases (`+releaseColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		release.ID,
		release.MediaName,
		release.Location,
		string(release.MediaType),
		string(release.Status),
		release.Success,
		release.StatusMessage,
		release.UploadProgress,
		release.TorrentProgress,
		release.PublishText,
		release.CreatedAt,
		release.UpdatedAt,
		nullTime(release.StartedAt),
		nullTime(release.EndedAt),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("release %s already exists: %w", release.ID, err)
		}
		return fmt.Errorf("insert release: %w", err)
	}
	return nil
}

func (r *ReleaseRepository) Update(ctx context.Context, release *domain.Release) error {
	release.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE releases
SET media_name=?, location=?, media_type=?, status=?, success=?, status_message=?, upload_progress=?, torrent_progress=?, publish_text=?, updated_at=?, started_at=?, ended_at=?
WHERE id=?`,
		release.MediaName,
		release.Location,
		string(release.MediaType),
		string(release.Status),
		release.Success,
		release.StatusMessage,
		release.UploadProgress,
		release.TorrentProgress,
		release.PublishText,
		release.UpdatedAt,
		nullTime(release.StartedAt),
		nullTime(release.EndedAt),
		release.ID,
	)
	if err != nil {
		return fmt.Errorf("update release: %w", err)
	}
	return expectAffected(res, "release", release.ID)
}

func (r *ReleaseRepository) UpdateProgress(ctx context.Context, id string, uploadProgress, torrentProgress float64, statusMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE releases
SET upload_progress=?, torrent_progress=?, status_message=?, updated_at=?
WHERE id=?`,
		uploadProgress,
		torrentProgress,
		statusMessage,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update release progress: %w", err)
	}
	return expectAffected(res, "release", id)
}

func (r *ReleaseRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM release_screenshots WHERE release_id=?`, id); err != nil {
		return fmt.Errorf("delete release screenshots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM release_artifacts WHERE release_id=?`, id); err != nil {
		return fmt.Errorf("delete release artifacts: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM releases WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete release: %w", err)
	}
	if err := expectAffected(res, "release", id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release delete: %w", err)
	}
	return nil
}

func (r *ReleaseRepository) Get(ctx context.Context, id string) (*domain.Release, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+releaseColumns+`
FROM releases
WHERE id=?`,
		id,
	)
	return scanRelease(row)
}

func (r *ReleaseRepository) List(ctx context.Context) ([]domain.Release, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+releaseColumns+`
FROM releases
ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query releases: %w", err)
	}
	defer rows.Close()
	return collectReleases(rows)
}

func (r *ReleaseRepository) ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Release, error) {
	if len(statuses) == 0 {
		return []domain.Release{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(`
SELECT %s
FROM releases
WHERE status IN (%s)
ORDER BY created_at ASC, id ASC`, releaseColumns, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query releases by status: %w", err)
	}
	defer rows.Close()
	return collectReleases(rows)
}

func collectReleases(rows *sql.Rows) ([]domain.Release, error) {
	var releases []domain.Release
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *release)
	}
	return releases, rows.Err()
}

func scanRelease(scanner interface {
	Scan(dest ...any) error
}) (*domain.Release, error) {
	var (
		release   domain.Release
		mediaType string
		status    string
		startedAt sql.NullTime
		endedAt   sql.NullTime
	)

	if err := scanner.Scan(
		&release.ID,
		&release.MediaName,
		&release.Location,
		&mediaType,
		&status,
		&release.Success,
		&release.StatusMessage,
		&release.UploadProgress,
		&release.TorrentProgress,
		&release.PublishText,
		&release.CreatedAt,
		&release.UpdatedAt,
		&startedAt,
		&endedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("release %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan release: %w", err)
	}

	release.MediaType = domain.MediaType(mediaType)
	release.Status = domain.TaskStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		release.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		release.EndedAt = &t
	}
	return &release, nil
}
