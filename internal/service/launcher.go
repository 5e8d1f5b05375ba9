package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
	"release-maker/internal/media"
	"release-maker/internal/pipeline"
)

// LaunchRequest describes the media to release. Nil overrides keep the
// configured defaults.
type LaunchRequest struct {
	Paths   []string
	Split   bool
	Title   string
	Source  string
	WebLink string

	Options  *domain.MediaOptions
	Trackers []string

	// Listeners are subscribed to every task before it is submitted.
	Listeners []pipeline.Listener
}

// LauncherConfig holds what every launched task starts from.
type LauncherConfig struct {
	Classifier *media.Classifier
	Base       domain.TaskSettings
	// ResolveFolders fills the output folders once media is known.
	ResolveFolders func(*domain.TaskSettings)
	Pipeline       pipeline.Config
	Logger         *logrus.Logger
}

// Launcher turns paths into tracked, submitted tasks.
type Launcher struct {
	cfg      LauncherConfig
	manager  pipeline.Manager
	releases ReleaseService
}

func NewLauncher(cfg LauncherConfig, manager pipeline.Manager, releases ReleaseService) *Launcher {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = media.NewClassifier(nil, nil, cfg.Logger)
	}
	if cfg.Pipeline.Logger == nil {
		cfg.Pipeline.Logger = cfg.Logger
	}
	return &Launcher{cfg: cfg, manager: manager, releases: releases}
}

// Launch classifies req.Paths, records a history entry per task when a
// release service is set and submits every task to the manager.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) ([]*pipeline.Task, error) {
	base, err := l.baseFor(req)
	if err != nil {
		return nil, err
	}

	classifier := *l.cfg.Classifier
	classifier.Split = req.Split
	settings, err := classifier.Build(ctx, req.Paths, base)
	if err != nil {
		return nil, err
	}

	tasks := make([]*pipeline.Task, 0, len(settings))
	for _, ts := range settings {
		if l.cfg.ResolveFolders != nil {
			l.cfg.ResolveFolders(&ts)
		}
		task := pipeline.NewTask(ts, l.cfg.Pipeline)
		if l.releases != nil {
			if err := l.releases.Track(ctx, task); err != nil {
				return tasks, fmt.Errorf("record release %s: %w", task, err)
			}
		}
		for _, listener := range req.Listeners {
			task.Subscribe(listener)
		}
		if err := l.manager.Submit(task); err != nil {
			return tasks, err
		}
		l.cfg.Logger.WithFields(logrus.Fields{
			"task_id":    task.ID(),
			"media_type": ts.Media.Type,
			"files":      len(ts.Media.Files),
		}).Infof("launched %s", task)
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (l *Launcher) baseFor(req LaunchRequest) (domain.TaskSettings, error) {
	base := l.cfg.Base.Clone()
	base.Media.Title = strings.TrimSpace(req.Title)
	base.Media.Source = strings.TrimSpace(req.Source)
	base.Media.WebLink = strings.TrimSpace(req.WebLink)
	if req.Options != nil {
		base.Options = *req.Options
	}
	if req.Trackers != nil {
		base.Trackers = nil
		for _, announce := range req.Trackers {
			if strings.TrimSpace(announce) == "" {
				continue
			}
			tg, err := domain.NewTrackerGroup(announce)
			if err != nil {
				return domain.TaskSettings{}, fmt.Errorf("%w: %v", pipeline.ErrConfiguration, err)
			}
			base.Trackers = append(base.Trackers, tg)
		}
	}
	return base, nil
}
