package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
	"release-maker/internal/pipeline"
	"release-maker/internal/repository"
)

const progressFlushInterval = 500 * time.Millisecond

// Recorder persists the events of one task into the release history. It
// unsubscribes itself once the task completes.
type Recorder struct {
	ctx         context.Context
	releases    repository.ReleaseRepository
	screenshots repository.ReleaseScreenshotRepository
	artifacts   repository.ReleaseArtifactRepository
	logger      *logrus.Entry

	mu          sync.Mutex
	release     domain.Release
	unsubscribe func()
	lastFlush   time.Time
}

func NewRecorder(
	ctx context.Context,
	release *domain.Release,
	releases repository.ReleaseRepository,
	screenshots repository.ReleaseScreenshotRepository,
	artifacts repository.ReleaseArtifactRepository,
	logger *logrus.Logger,
) *Recorder {
	return &Recorder{
		ctx:         ctx,
		releases:    releases,
		screenshots: screenshots,
		artifacts:   artifacts,
		logger:      logger.WithField("release_id", release.ID),
		release:     *release,
	}
}

// Attach subscribes the recorder to task.
func (r *Recorder) Attach(task *pipeline.Task) {
	unsubscribe := task.Subscribe(r)
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()
}

func (r *Recorder) HandleEvent(e pipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel := &r.release
	rel.Status = e.Status
	rel.StatusMessage = e.Info.StatusMessage
	rel.UploadProgress = e.Info.UploadProgress
	rel.TorrentProgress = e.Info.TorrentProgress
	rel.Success = e.Success

	switch e.Kind {
	case pipeline.EventMediaLoaded:
		if !e.Info.StartTime.IsZero() {
			started := e.Info.StartTime.UTC()
			rel.StartedAt = &started
		}
		r.save()
	case pipeline.EventScreenshotUploaded:
		if e.Screenshot != nil {
			shot := &domain.ReleaseScreenshot{
				ReleaseID:    rel.ID,
				LocalPath:    e.Screenshot.LocalPath,
				URL:          e.Screenshot.FullImageURL,
				ThumbnailURL: e.Screenshot.ThumbnailURL,
			}
			if err := r.screenshots.Add(r.ctx, shot); err != nil {
				r.logger.Errorf("record screenshot: %v", err)
			}
		}
		r.flushProgress(false)
	case pipeline.EventUploadProgressChanged, pipeline.EventTorrentProgressChanged:
		r.flushProgress(false)
	case pipeline.EventStatusChanged, pipeline.EventUploaderConfigRequired, pipeline.EventTorrentInfoCreated:
		r.flushProgress(true)
	case pipeline.EventTaskCompleted:
		r.complete(e.Info)
	}
}

func (r *Recorder) complete(info domain.TaskInfo) {
	rel := &r.release
	rel.PublishText = info.PublishText
	if !info.StartTime.IsZero() {
		started := info.StartTime.UTC()
		rel.StartedAt = &started
	}
	if !info.EndTime.IsZero() {
		ended := info.EndTime.UTC()
		rel.EndedAt = &ended
	}
	r.save()

	if err := r.artifacts.ReplaceForRelease(r.ctx, rel.ID, artifactsOf(info)); err != nil {
		r.logger.Errorf("record artifacts: %v", err)
	}
	r.logger.WithField("success", rel.Success).Info("release recorded")

	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *Recorder) save() {
	if err := r.releases.Update(r.ctx, &r.release); err != nil {
		r.logger.Errorf("record release: %v", err)
	}
	r.lastFlush = time.Now()
}

// flushProgress writes progress at most every progressFlushInterval unless forced.
func (r *Recorder) flushProgress(force bool) {
	if !force && time.Since(r.lastFlush) < progressFlushInterval {
		return
	}
	rel := &r.release
	if err := r.releases.UpdateProgress(r.ctx, rel.ID, rel.UploadProgress, rel.TorrentProgress, rel.StatusMessage); err != nil {
		r.logger.Errorf("record progress: %v", err)
	}
	r.lastFlush = time.Now()
}

func artifactsOf(info domain.TaskInfo) []domain.ReleaseArtifact {
	var out []domain.ReleaseArtifact
	if info.PublishPath != "" {
		out = append(out, domain.ReleaseArtifact{Kind: domain.ArtifactPublish, Path: info.PublishPath})
	}
	for _, tf := range info.TorrentFiles {
		out = append(out, domain.ReleaseArtifact{
			Kind:     domain.ArtifactTorrent,
			Path:     tf.Path,
			Tracker:  tf.Host,
			InfoHash: tf.InfoHash,
		})
	}
	if info.DescriptorPath != "" {
		out = append(out, domain.ReleaseArtifact{Kind: domain.ArtifactXML, Path: info.DescriptorPath})
	}
	return out
}
