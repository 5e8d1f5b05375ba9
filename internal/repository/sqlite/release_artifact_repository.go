package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"release-maker/internal/domain"
	"release-maker/internal/repository"
)

const createReleaseArtifactsTable = `
CREATE TABLE IF NOT EXISTS release_artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	path TEXT NOT NULL,
	tracker TEXT NOT NULL DEFAULT '',
	info_hash TEXT NOT NULL DEFAULT '',
	FOREIGN KEY(release_id) REFERENCES releases(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_release_artifacts_release_id ON release_artifacts(release_id);
`

type ReleaseArtifactRepository struct {
	db *sql.DB
}

func NewReleaseArtifactRepository(db *sql.DB) repository.ReleaseArtifactRepository {
	return &ReleaseArtifactRepository{db: db}
}

func (r *ReleaseArtifactRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createReleaseArtifactsTable); err != nil {
		return fmt.Errorf("create release_artifacts table: %w", err)
	}
	return nil
}

func (r *ReleaseArtifactRepository) ReplaceForRelease(ctx context.Context, releaseID string, artifacts []domain.ReleaseArtifact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM release_artifacts WHERE release_id=?`, releaseID); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}

	for _, a := range artifacts {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO release_artifacts (release_id, kind, path, tracker, info_hash)
VALUES (?, ?, ?, ?, ?)`,
			releaseID,
			string(a.Kind),
			a.Path,
			a.Tracker,
			a.InfoHash,
		); err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *ReleaseArtifactRepository) ListByRelease(ctx context.Context, releaseID string) ([]domain.ReleaseArtifact, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, release_id, kind, path, tracker, info_hash
FROM release_artifacts
WHERE release_id=?
ORDER BY id ASC`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("query release artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []domain.ReleaseArtifact
	for rows.Next() {
		var (
			a    domain.ReleaseArtifact
			kind string
		)
		if err := rows.Scan(&a.ID, &a.ReleaseID, &kind, &a.Path, &a.Tracker, &a.InfoHash); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Kind = domain.ArtifactKind(kind)
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
