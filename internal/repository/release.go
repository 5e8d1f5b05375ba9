package repository

import (
	"context"
	"errors"

	"release-maker/internal/domain"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ReleaseRepository exposes persistence operations for release history.
type ReleaseRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, release *domain.Release) error
	Update(ctx context.Context, release *domain.Release) error
	UpdateProgress(ctx context.Context, id string, uploadProgress, torrentProgress float64, statusMessage string) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Release, error)
	List(ctx context.Context) ([]domain.Release, error)
	ListByStatuses(ctx context.Context, statuses ...domain.TaskStatus) ([]domain.Release, error)
}

// ReleaseScreenshotRepository stores uploaded screenshot links.
type ReleaseScreenshotRepository interface {
	Init(ctx context.Context) error
	Add(ctx context.Context, shot *domain.ReleaseScreenshot) error
	ListByRelease(ctx context.Context, releaseID string) ([]domain.ReleaseScreenshot, error)
}

// ReleaseArtifactRepository stores the files a release produced.
type ReleaseArtifactRepository interface {
	Init(ctx context.Context) error
	ReplaceForRelease(ctx context.Context, releaseID string, artifacts []domain.ReleaseArtifact) error
	ListByRelease(ctx context.Context, releaseID string) ([]domain.ReleaseArtifact, error)
}
