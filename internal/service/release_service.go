package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
	"release-maker/internal/pipeline"
	"release-maker/internal/repository"
	"release-maker/internal/storage"
	"release-maker/internal/uploader"
)

// ErrReleaseNotFound is returned for unknown release ids.
var ErrReleaseNotFound = errors.New("release not found")

// DeleteOptions selects what is removed together with a history entry.
type DeleteOptions struct {
	// Remote deletes the uploaded screenshots from object storage.
	Remote bool
	// Local deletes the written txt, torrent and xml files.
	Local bool
}

// ReleaseService keeps the release history in sync with running tasks.
type ReleaseService interface {
	Track(ctx context.Context, task *pipeline.Task) error
	GetRelease(ctx context.Context, id string) (*domain.Release, error)
	ListReleases(ctx context.Context) ([]domain.Release, error)
	DeleteRelease(ctx context.Context, id string, opts DeleteOptions) error
	ListRemoteObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	RecoverInterrupted(ctx context.Context) (int, error)
}

// RemoteConfig locates uploaded screenshots in object storage.
type RemoteConfig struct {
	Bucket    string
	KeyPrefix string
}

type releaseService struct {
	releases    repository.ReleaseRepository
	screenshots repository.ReleaseScreenshotRepository
	artifacts   repository.ReleaseArtifactRepository
	store       storage.Service
	remote      RemoteConfig
	logger      *logrus.Logger
}

func NewReleaseService(
	releases repository.ReleaseRepository,
	screenshots repository.ReleaseScreenshotRepository,
	artifacts repository.ReleaseArtifactRepository,
	store storage.Service,
	remote RemoteConfig,
	logger *logrus.Logger,
) ReleaseService {
	if logger == nil {
		logger = logrus.New()
	}
	return &releaseService{
		releases:    releases,
		screenshots: screenshots,
		artifacts:   artifacts,
		store:       store,
		remote:      remote,
		logger:      logger,
	}
}

// Track stores a history row for task and subscribes a Recorder to it. Call
// it before submitting the task so no event is missed.
func (s *releaseService) Track(ctx context.Context, task *pipeline.Task) error {
	info := task.Info()
	release := &domain.Release{
		ID:            task.ID(),
		MediaName:     info.Settings.Media.Name(),
		Location:      info.Settings.Media.Location,
		MediaType:     info.Settings.Media.Type,
		Status:        task.Status(),
		StatusMessage: "Queued.",
	}
	if err := s.releases.Create(ctx, release); err != nil {
		return err
	}
	rec := NewRecorder(context.WithoutCancel(ctx), release, s.releases, s.screenshots, s.artifacts, s.logger)
	rec.Attach(task)
	return nil
}

func (s *releaseService) GetRelease(ctx context.Context, id string) (*domain.Release, error) {
	release, err := s.releases.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReleaseNotFound
		}
		return nil, err
	}
	if err := s.attachChildren(ctx, release); err != nil {
		return nil, err
	}
	return release, nil
}

func (s *releaseService) ListReleases(ctx context.Context) ([]domain.Release, error) {
	releases, err := s.releases.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range releases {
		if err := s.attachChildren(ctx, &releases[i]); err != nil {
			return nil, err
		}
	}
	return releases, nil
}

func (s *releaseService) attachChildren(ctx context.Context, release *domain.Release) error {
	shots, err := s.screenshots.ListByRelease(ctx, release.ID)
	if err != nil {
		return err
	}
	artifacts, err := s.artifacts.ListByRelease(ctx, release.ID)
	if err != nil {
		return err
	}
	release.Screenshots = shots
	release.Artifacts = artifacts
	return nil
}

func (s *releaseService) DeleteRelease(ctx context.Context, id string, opts DeleteOptions) error {
	release, err := s.GetRelease(ctx, id)
	if err != nil {
		return err
	}

	if opts.Remote {
		if s.store == nil || strings.TrimSpace(s.remote.Bucket) == "" {
			return fmt.Errorf("%w: object storage is not configured", pipeline.ErrConfiguration)
		}
		prefix := uploader.KeyPrefix(s.remote.KeyPrefix, release.ID) + "/"
		if err := s.store.DeletePrefix(ctx, s.remote.Bucket, prefix); err != nil {
			return fmt.Errorf("delete remote screenshots: %w", err)
		}
	}
	if opts.Local {
		for _, a := range release.Artifacts {
			if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
				s.logger.WithField("release_id", id).Warnf("remove %s: %v", a.Path, err)
			}
		}
	}

	if err := s.releases.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrReleaseNotFound
		}
		return err
	}
	return nil
}

func (s *releaseService) ListRemoteObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if s.store == nil || strings.TrimSpace(s.remote.Bucket) == "" {
		return nil, fmt.Errorf("%w: object storage is not configured", pipeline.ErrConfiguration)
	}
	full := strings.Trim(s.remote.KeyPrefix, "/")
	if p := strings.Trim(prefix, "/"); p != "" {
		full = uploader.KeyPrefix(full, p)
	}
	if full != "" {
		full += "/"
	}
	return s.store.ListObjects(ctx, s.remote.Bucket, full)
}

// RecoverInterrupted closes history rows left busy by a previous process.
func (s *releaseService) RecoverInterrupted(ctx context.Context) (int, error) {
	busy, err := s.releases.ListByStatuses(ctx,
		domain.TaskStatusInQueue,
		domain.TaskStatusPreparing,
		domain.TaskStatusWorking,
		domain.TaskStatusStopping,
	)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for i := range busy {
		r := &busy[i]
		r.Status = domain.TaskStatusCompleted
		r.Success = false
		r.StatusMessage = "Interrupted."
		r.EndedAt = &now
		if err := s.releases.Update(ctx, r); err != nil {
			return i, err
		}
		s.logger.WithField("release_id", r.ID).Warn("release interrupted by restart")
	}
	return len(busy), nil
}
