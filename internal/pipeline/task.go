// Package pipeline runs release tasks: media analysis, screenshot capture and
// upload, description rendering and torrent creation, with progress events.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
)

// Task processes one media source. It runs at most once.
type Task struct {
	id       string
	cfg      Config
	logger   *logrus.Entry
	notifier *notifier
	done     chan struct{}

	mu             sync.Mutex
	status         domain.TaskStatus
	stopRequested  bool
	stopObserved   bool
	info           domain.TaskInfo
	results        []UnitResult
	scheduled      []string
	configNotified bool
	upload         uploadMeter
}

// NewTask creates a queued task owning a private copy of settings.
func NewTask(settings domain.TaskSettings, cfg Config) *Task {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	logger := cfg.Logger.WithFields(logrus.Fields{
		"task_id": id,
		"media":   settings.Media.Name(),
	})
	return &Task{
		id:       id,
		cfg:      cfg,
		logger:   logger,
		notifier: newNotifier(logger),
		done:     make(chan struct{}),
		status:   domain.TaskStatusInQueue,
		info:     domain.TaskInfo{Settings: settings.Clone()},
	}
}

func (t *Task) ID() string { return t.id }

func (t *Task) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.Settings.Media.Name()
}

// Start launches the task in the background. It returns false when the task
// has already started or a stop was requested while it was queued.
func (t *Task) Start(ctx context.Context) bool {
	t.mu.Lock()
	if t.status != domain.TaskStatusInQueue || t.stopRequested {
		t.mu.Unlock()
		return false
	}
	t.info.StartTime = t.cfg.Now()
	t.setStatusLocked(domain.TaskStatusPreparing)
	t.mu.Unlock()

	t.notifier.start()
	go t.run(ctx)
	return true
}

// RequestStop asks the task to skip its remaining stages. Work already in
// flight finishes first.
func (t *Task) RequestStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == domain.TaskStatusCompleted {
		return
	}
	t.stopRequested = true
}

func (t *Task) StopRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopRequested
}

func (t *Task) Status() domain.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Info returns a snapshot of the task state.
func (t *Task) Info() domain.TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.Clone()
}

func (t *Task) UploadProgress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.UploadProgress
}

// Success evaluates the configured policy over the results so far.
func (t *Task) Success() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.SuccessPolicy.Evaluate(t.results)
}

// Results returns the unit results in recording order.
func (t *Task) Results() []UnitResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UnitResult, len(t.results))
	copy(out, t.results)
	return out
}

// Subscribe registers l for this task's events and returns its unsubscribe
// func. Listeners are dropped automatically after TaskCompleted.
func (t *Task) Subscribe(l Listener) func() {
	return t.notifier.subscribe(l)
}

// Done is closed once the task has completed and its listeners were drained.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task completes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type stage struct {
	name string
	run  func(ctx context.Context)
}

func (t *Task) stages() []stage {
	return []stage{
		{"media analysis", t.analyzeMedia},
		{"screenshots", t.processScreenshots},
		{"publish rendering", t.renderPublish},
		{"torrent info", t.announceTorrentInfo},
		{"publish file", t.writePublishFile},
		{"torrent creation", t.createTorrents},
		{"xml descriptor", t.writeDescriptor},
	}
}

func (t *Task) run(ctx context.Context) {
	defer t.complete()

	t.mu.Lock()
	t.setStatusLocked(domain.TaskStatusWorking)
	t.mu.Unlock()
	t.logger.Info("task started")

	for _, s := range t.stages() {
		if t.checkpoint(ctx, s.name) {
			return
		}
		t.runStage(ctx, s)
	}
}

// checkpoint observes stop requests between stages. Context cancellation
// counts as a stop request.
func (t *Task) checkpoint(ctx context.Context, next string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		t.stopRequested = true
	}
	if !t.stopRequested {
		return false
	}
	if !t.stopObserved {
		t.stopObserved = true
		t.setStatusLocked(domain.TaskStatusStopping)
		t.info.StatusMessage = "Stopping..."
		t.emitLocked(EventStatusChanged, nil)
		t.logger.Infof("stop observed before %s", next)
	}
	return true
}

func (t *Task) runStage(ctx context.Context, s stage) {
	defer func() {
		if r := recover(); r != nil {
			t.record(StageArtifact, s.name, fmt.Errorf("%w: %s panicked: %v", ErrExternalTool, s.name, r))
		}
	}()
	s.run(ctx)
}

// complete always runs: it settles the final status, notifies listeners,
// releases them and removes files scheduled for deletion.
func (t *Task) complete() {
	t.mu.Lock()
	t.info.EndTime = t.cfg.Now()
	if t.stopObserved {
		t.info.StatusMessage = "Stopped."
	} else {
		t.info.StatusMessage = "Done."
	}
	t.setStatusLocked(domain.TaskStatusCompleted)
	scheduled := t.scheduled
	t.scheduled = nil
	success := t.cfg.SuccessPolicy.Evaluate(t.results)
	t.emitLocked(EventTaskCompleted, nil)
	elapsed := t.info.Duration()
	t.mu.Unlock()

	t.notifier.close()
	t.removeScheduled(scheduled)

	t.logger.WithFields(logrus.Fields{
		"success":  success,
		"duration": elapsed.Round(time.Millisecond),
	}).Info("task completed")
	close(t.done)
}

// settleQueued completes a task that was stopped before it ever started.
func (t *Task) settleQueued() {
	t.mu.Lock()
	if t.status != domain.TaskStatusInQueue || !t.stopRequested {
		t.mu.Unlock()
		return
	}
	t.info.EndTime = t.cfg.Now()
	t.stopObserved = true
	t.info.StatusMessage = "Stopped."
	t.setStatusLocked(domain.TaskStatusCompleted)
	t.emitLocked(EventTaskCompleted, nil)
	t.mu.Unlock()

	t.notifier.start()
	t.notifier.close()
	t.logger.Info("task stopped while queued")
	close(t.done)
}

func (t *Task) setStatusLocked(next domain.TaskStatus) {
	if !t.status.CanTransition(next) {
		return
	}
	t.status = next
}

// emitLocked snapshots the task state into an event and queues it. Queuing
// under t.mu keeps event order identical to state mutation order.
func (t *Task) emitLocked(kind EventKind, fill func(*Event)) {
	ev := Event{
		Kind:    kind,
		TaskID:  t.id,
		Time:    t.cfg.Now(),
		Status:  t.status,
		Success: t.cfg.SuccessPolicy.Evaluate(t.results),
		Info:    t.info.Clone(),
	}
	if fill != nil {
		fill(&ev)
	}
	t.notifier.publish(ev)
}

func (t *Task) emit(kind EventKind, fill func(*Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked(kind, fill)
}

// reportProgress sets the status message and raises StatusChanged.
func (t *Task) reportProgress(mediaFile, msg string) {
	t.logger.Info(msg)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.StatusMessage = msg
	t.emitLocked(EventStatusChanged, func(e *Event) { e.MediaFile = mediaFile })
}

// runUnit executes one unit of work and records its outcome. A panic is
// recorded as an external tool failure and does not escape.
func (t *Task) runUnit(stage Stage, unit string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wrapUnit(ErrExternalTool, stage, unit, fmt.Errorf("panic: %v", r))
		}
		t.record(stage, unit, err)
	}()
	return fn()
}

func (t *Task) record(stage Stage, unit string, err error) {
	if err != nil {
		t.logger.WithFields(logrus.Fields{"stage": stage, "unit": unit}).Error(err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, UnitResult{Stage: stage, Unit: unit, Err: err, At: t.cfg.Now()})
}

func (t *Task) settings() domain.TaskSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.Settings.Clone()
}

func (t *Task) scheduleDeletion(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduled = append(t.scheduled, path)
}

func (t *Task) removeScheduled(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			t.logger.Warnf("remove screenshot %s: %v", p, err)
		}
	}
}

// uploadMeter aggregates byte progress across all screenshots of a task.
type uploadMeter struct {
	total   int64
	sizes   map[string]int64
	done    map[string]int64
	lastLog time.Time
}

func (t *Task) prepareUploadMeter(paths []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upload = uploadMeter{sizes: make(map[string]int64), done: make(map[string]int64)}
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		size := fi.Size()
		if size <= 0 {
			size = 1
		}
		t.upload.sizes[p] = size
		t.upload.total += size
	}
}

// trackUpload records transferred bytes for path. UploadProgress never
// decreases and UploadProgressChanged is raised only when it grows.
func (t *Task) trackUpload(path string, done int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := &t.upload
	size, ok := m.sizes[path]
	if !ok || m.total == 0 {
		return
	}
	if done > size {
		done = size
	}
	if done <= m.done[path] {
		return
	}
	m.done[path] = done

	var sum int64
	for _, d := range m.done {
		sum += d
	}
	pct := float64(sum) / float64(m.total) * 100
	if pct > 100 {
		pct = 100
	}
	if pct <= t.info.UploadProgress {
		return
	}
	t.info.UploadProgress = pct

	if now := time.Now(); now.Sub(m.lastLog) >= 500*time.Millisecond || sum == m.total {
		m.lastLog = now
		t.logger.Debugf("upload progress: %.1f%% (%s/%s)", pct,
			humanize.IBytes(uint64(sum)), humanize.IBytes(uint64(m.total)))
	}
	t.emitLocked(EventUploadProgressChanged, nil)
}

func (t *Task) finishUpload(path string) {
	t.mu.Lock()
	size := t.upload.sizes[path]
	t.mu.Unlock()
	t.trackUpload(path, size)
}
