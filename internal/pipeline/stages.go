package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"release-maker/internal/domain"
	"release-maker/internal/publish"
	"release-maker/internal/torrent"
	"release-maker/internal/uploader"
)

// mediaRef addresses a media file inside the task settings; overall selects
// the disc aggregate instead of Files[index].
type mediaRef struct {
	index   int
	overall bool
}

// targets lists the media files screenshots are taken from: the aggregate for
// disc media, every file otherwise.
func (t *Task) targets() []mediaRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	media := t.info.Settings.Media
	if media.Type == domain.MediaTypeDisc {
		if media.Overall == nil {
			return nil
		}
		return []mediaRef{{overall: true}}
	}
	refs := make([]mediaRef, len(media.Files))
	for i := range media.Files {
		refs[i] = mediaRef{index: i}
	}
	return refs
}

func (t *Task) fileLocked(ref mediaRef) *domain.MediaFile {
	media := &t.info.Settings.Media
	if ref.overall {
		return media.Overall
	}
	return &media.Files[ref.index]
}

func (t *Task) mediaFile(ref mediaRef) domain.MediaFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	mf := *t.fileLocked(ref)
	mf.Screenshots = append([]domain.ScreenshotInfo(nil), mf.Screenshots...)
	return mf
}

func (t *Task) analyzeMedia(ctx context.Context) {
	settings := t.settings()
	switch {
	case settings.Media.Type == domain.MediaTypeDisc:
		t.logger.Debug("disc media is summarised by its aggregate, skipping analysis")
	case t.cfg.Analyzer == nil:
		t.logger.Warn("no media analyzer configured, skipping analysis")
	default:
		for i, mf := range settings.Media.Files {
			name := mf.FileName()
			t.reportProgress(mf.FilePath, fmt.Sprintf("Reading %s using MediaInfo...", name))
			_ = t.runUnit(StageAnalysis, name, func() error {
				cctx, cancel := t.cfg.callContext(ctx)
				defer cancel()
				probe := mf
				if err := t.cfg.Analyzer.ReadMedia(cctx, &probe); err != nil {
					t.reportProgress(mf.FilePath, fmt.Sprintf("%v for %s", err, name))
					return wrapUnit(ErrExternalTool, StageAnalysis, name, err)
				}
				t.mu.Lock()
				f := &t.info.Settings.Media.Files[i]
				f.Duration = probe.Duration
				f.ShortSummary = probe.ShortSummary
				f.CompleteSummary = probe.CompleteSummary
				t.mu.Unlock()
				return nil
			})
		}
	}
	t.emit(EventMediaLoaded, nil)
}

func (t *Task) processScreenshots(ctx context.Context) {
	opts := t.settings().Options
	switch {
	case opts.UploadScreenshots:
		t.captureScreenshots(ctx)
		t.uploadScreenshots(ctx)
	case opts.CreateScreenshots:
		t.captureScreenshots(ctx)
	default:
		t.logger.Debug("screenshots disabled")
	}
}

func (t *Task) captureScreenshots(ctx context.Context) {
	if t.cfg.Thumbnailer == nil {
		t.logger.Warn("no thumbnailer configured, skipping screenshots")
		return
	}
	settings := t.settings()
	refs := t.targets()
	if len(refs) == 0 {
		t.logger.Warn("no media files to take screenshots from")
		return
	}

	fanOut(t.cfg.CaptureLimit, len(refs), func(i int) {
		ref := refs[i]
		mf := t.mediaFile(ref)
		name := mf.FileName()
		_ = t.runUnit(StageCapture, name, func() error {
			cctx, cancel := t.cfg.callContext(ctx)
			defer cancel()
			shots, err := t.cfg.Thumbnailer.Capture(cctx, mf, settings.ScreenshotDir(mf), t.cfg.ThumbnailOptions)

			t.mu.Lock()
			t.fileLocked(ref).Screenshots = shots
			t.mu.Unlock()

			if err != nil {
				t.reportProgress(mf.FilePath, fmt.Sprintf("%v for %s", err, name))
				return wrapUnit(ErrExternalTool, StageCapture, name, err)
			}
			t.reportProgress(mf.FilePath, fmt.Sprintf("Done taking screenshots for %s", name))
			return nil
		})
	})
}

func (t *Task) uploadScreenshots(ctx context.Context) {
	settings := t.settings()
	up, err := t.createUploader(settings.ImageUploader)
	if err != nil {
		_ = t.runUnit(StageUpload, settings.ImageUploader, func() error { return err })
		return
	}

	refs := t.targets()
	var paths []string
	for _, ref := range refs {
		for _, s := range t.mediaFile(ref).Screenshots {
			paths = append(paths, s.LocalPath)
		}
	}
	t.prepareUploadMeter(paths)

	keep := settings.Options.KeepScreenshots
	slots := newLimiter(t.cfg.UploadLimit)
	fanOut(t.cfg.UploadLimit, len(refs), func(i int) {
		t.uploadMediaFile(ctx, up, refs[i], keep, slots)
	})
}

// createUploader resolves the configured image service. A missing or
// misconfigured service raises UploaderConfigRequired once per task.
func (t *Task) createUploader(name string) (uploader.Uploader, error) {
	svc, ok := t.cfg.Uploaders.Get(name)
	if !ok {
		t.requestUploaderConfig(name)
		return nil, wrapUnit(ErrConfiguration, StageUpload, name, errors.New("unknown image uploader"))
	}
	if !svc.CheckConfig(t.cfg.UploaderConfig) {
		t.requestUploaderConfig(svc.Name())
		return nil, wrapUnit(ErrConfiguration, StageUpload, svc.Name(), errors.New("image uploader is not configured"))
	}
	cfg := t.cfg.UploaderConfig
	cfg.Namespace = t.id
	up, err := svc.CreateUploader(cfg)
	if err != nil {
		t.requestUploaderConfig(svc.Name())
		return nil, wrapUnit(ErrConfiguration, StageUpload, svc.Name(), err)
	}
	return up, nil
}

func (t *Task) requestUploaderConfig(service string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.configNotified {
		return
	}
	t.configNotified = true
	t.info.StatusMessage = fmt.Sprintf("Image uploader %q needs configuration.", service)
	t.emitLocked(EventUploaderConfigRequired, func(e *Event) { e.Service = service })
}

// uploadMediaFile uploads one file's screenshots concurrently; slots caps
// uploads across all files of the task.
func (t *Task) uploadMediaFile(ctx context.Context, up uploader.Uploader, ref mediaRef, keep bool, slots limiter) {
	mf := t.mediaFile(ref)
	total := len(mf.Screenshots)
	var counter atomic.Int32

	fanOut(t.cfg.UploadLimit, total, func(j int) {
		shot := mf.Screenshots[j]
		name := filepath.Base(shot.LocalPath)
		slots.do(func() {
			_ = t.runUnit(StageUpload, name, func() error {
				if _, err := os.Stat(shot.LocalPath); err != nil {
					t.reportProgress(mf.FilePath, fmt.Sprintf("Missing %s", name))
					return wrapUnit(ErrIO, StageUpload, name, err)
				}
				n := counter.Add(1)
				t.reportProgress(mf.FilePath, fmt.Sprintf("Uploading %s (%d of %d)", name, n, total))

				res, err := t.uploadFile(ctx, up, shot.LocalPath)
				if err != nil {
					t.reportProgress(mf.FilePath, fmt.Sprintf("Failed uploading %s. Try again later.", name))
					return wrapUnit(ErrIO, StageUpload, name, err)
				}
				if !res.OK() {
					t.reportProgress(mf.FilePath, fmt.Sprintf("Failed uploading %s. Try again later.", name))
					msg := res.Error()
					if msg == "" {
						msg = "no url returned"
					}
					return wrapUnit(ErrNetwork, StageUpload, name, errors.New(msg))
				}

				t.finishUpload(shot.LocalPath)
				t.reportProgress(mf.FilePath, fmt.Sprintf("Uploaded %s.", name))
				if !keep {
					t.scheduleDeletion(shot.LocalPath)
				}
				t.storeUpload(ref, j, mf.FilePath, res)
				return nil
			})
		})
	})
}

func (t *Task) uploadFile(ctx context.Context, up uploader.Uploader, path string) (uploader.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return uploader.Result{}, fmt.Errorf("open screenshot: %w", err)
	}
	defer f.Close()

	cctx, cancel := t.cfg.callContext(ctx)
	defer cancel()
	return up.Upload(cctx, f, filepath.Base(path), func(done, _ int64) {
		t.trackUpload(path, done)
	}), nil
}

func (t *Task) storeUpload(ref mediaRef, j int, mediaFile string, res uploader.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mf := t.fileLocked(ref)
	if j >= len(mf.Screenshots) {
		return
	}
	s := &mf.Screenshots[j]
	s.FullImageURL = res.URL
	s.ThumbnailURL = res.ThumbnailURL
	if s.ThumbnailURL == "" {
		s.ThumbnailURL = res.URL
	}
	shot := *s
	t.emitLocked(EventScreenshotUploaded, func(e *Event) {
		e.MediaFile = mediaFile
		e.Screenshot = &shot
	})
}

func (t *Task) renderPublish(context.Context) {
	settings := t.settings()
	opts := settings.Publish
	// Linking full size images only makes sense when they were uploaded.
	opts.FullPicture = opts.FullPicture && settings.Options.UploadScreenshots

	var text string
	_ = t.runUnit(StagePublish, settings.Media.Name(), func() error {
		out, err := t.cfg.Renderer.Render(settings, opts)
		if err != nil {
			t.reportProgress("", fmt.Sprintf("Failed rendering description: %v", err))
			return wrapUnit(ErrIO, StagePublish, settings.Media.Name(), err)
		}
		text = out
		return nil
	})

	t.mu.Lock()
	t.info.PublishText = text
	t.info.Settings.Publish = opts
	t.mu.Unlock()
}

func (t *Task) announceTorrentInfo(context.Context) {
	t.emit(EventTorrentInfoCreated, nil)
}

func (t *Task) writePublishFile(context.Context) {
	settings := t.settings()
	if !settings.Options.WritePublish {
		return
	}
	path := filepath.Join(settings.TorrentFolder, settings.Media.Name()+".txt")
	err := t.runUnit(StageArtifact, filepath.Base(path), func() error {
		t.mu.Lock()
		text := t.info.PublishText
		t.mu.Unlock()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return wrapUnit(ErrIO, StageArtifact, path, err)
		}
		if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
			return wrapUnit(ErrIO, StageArtifact, path, err)
		}
		return nil
	})
	if err == nil {
		t.mu.Lock()
		t.info.PublishPath = path
		t.mu.Unlock()
	}
}

func (t *Task) createTorrents(ctx context.Context) {
	settings := t.settings()
	if !settings.Options.CreateTorrent {
		return
	}
	if len(settings.Trackers) == 0 {
		t.logger.Info("There were no active trackers configured to create a torrent.")
		return
	}
	if t.cfg.TorrentBuilder == nil {
		t.logger.Warn("no torrent builder configured, skipping torrent creation")
		return
	}

	src := settings.Media.Location
	name := settings.Media.Name()
	opts := t.cfg.TorrentOptions
	if opts.Comment == "" {
		opts.Comment = name
	}

	for _, tr := range settings.Trackers {
		out := filepath.Join(settings.TorrentFolder, tr.Host, name+".torrent")
		t.mu.Lock()
		t.info.TorrentProgress = 0
		t.mu.Unlock()
		t.reportProgress("", fmt.Sprintf("Creating %s", out))

		_ = t.runUnit(StageTorrent, tr.Host, func() error {
			if _, err := os.Stat(src); err != nil {
				return wrapUnit(ErrIO, StageTorrent, tr.Host, err)
			}
			cctx, cancel := t.cfg.callContext(ctx)
			defer cancel()
			res, err := t.cfg.TorrentBuilder.Build(cctx, src, [][]string{{tr.AnnounceURL}}, out, opts, t.torrentProgress())
			if err != nil {
				t.reportProgress("", fmt.Sprintf("Failed creating %s: %v", out, err))
				return wrapUnit(ErrExternalTool, StageTorrent, tr.Host, err)
			}
			t.mu.Lock()
			t.info.TorrentFiles = append(t.info.TorrentFiles, domain.TorrentFile{
				Tracker:  tr.AnnounceURL,
				Host:     tr.Host,
				Path:     res.Path,
				InfoHash: res.InfoHash,
			})
			t.mu.Unlock()
			t.reportProgress("", fmt.Sprintf("Created %s", out))
			return nil
		})
	}
}

// torrentProgress guards one tracker's hashing progress: values never
// decrease and 100 is forwarded once.
func (t *Task) torrentProgress() torrent.ProgressFunc {
	last := -1.0
	return func(percent float64) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if percent > 100 {
			percent = 100
		}
		if percent <= last {
			return
		}
		last = percent
		t.info.TorrentProgress = percent
		t.emitLocked(EventTorrentProgressChanged, nil)
	}
}

func (t *Task) writeDescriptor(context.Context) {
	settings := t.settings()
	if !settings.Options.WriteXML {
		return
	}
	path := filepath.Join(settings.TorrentFolder, settings.Media.Name()+".xml")
	err := t.runUnit(StageArtifact, filepath.Base(path), func() error {
		if err := publish.WriteUploadDescriptor(path, publish.NewUploadDescriptor(t.Info())); err != nil {
			return wrapUnit(ErrIO, StageArtifact, path, err)
		}
		return nil
	})
	if err == nil {
		t.mu.Lock()
		t.info.DescriptorPath = path
		t.mu.Unlock()
	}
}
