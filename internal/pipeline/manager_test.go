package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"release-maker/internal/domain"
)

func blockingTask(t *testing.T, analyzer *fakeAnalyzer) *Task {
	t.Helper()
	settings := singleFileSettings(t, t.TempDir())
	settings.Options = domain.MediaOptions{}
	cfg := testConfig(&fakeService{name: "fake", configOK: true})
	cfg.Analyzer = analyzer
	return NewTask(settings, cfg)
}

func awaitStarted(t *testing.T, analyzer *fakeAnalyzer) {
	t.Helper()
	select {
	case <-analyzer.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("analyzer was not called")
	}
}

func TestAverageProgressIsZeroWhenIdle(t *testing.T) {
	m := NewManager(ManagerConfig{Logger: quietLogger()})
	if m.IsBusy() {
		t.Fatalf("empty manager reports busy")
	}
	if got := m.AverageProgress(); got != 0 {
		t.Fatalf("AverageProgress = %v", got)
	}
}

func TestAverageProgressOverBusyTasks(t *testing.T) {
	m := NewManager(ManagerConfig{Logger: quietLogger()})

	finished := NewTask(singleFileSettings(t, t.TempDir()), testConfig(&fakeService{name: "fake", configOK: true}))
	if err := m.Submit(finished); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, finished)

	release := make(chan struct{})
	analyzer := &fakeAnalyzer{release: release, started: make(chan string, 2)}
	a, b := blockingTask(t, analyzer), blockingTask(t, analyzer)
	for _, task := range []*Task{a, b} {
		if err := m.Submit(task); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	awaitStarted(t, analyzer)
	awaitStarted(t, analyzer)

	a.mu.Lock()
	a.info.UploadProgress = 40
	a.mu.Unlock()
	b.mu.Lock()
	b.info.UploadProgress = 80
	b.mu.Unlock()

	if !m.IsBusy() {
		t.Fatalf("manager should be busy")
	}
	if got := m.AverageProgress(); math.Abs(got-60) > 1e-9 {
		t.Fatalf("AverageProgress = %v, want 60", got)
	}

	close(release)
	waitDone(t, a)
	waitDone(t, b)
	if m.IsBusy() {
		t.Fatalf("manager still busy")
	}
	if got := m.AverageProgress(); got != 0 {
		t.Fatalf("AverageProgress after completion = %v", got)
	}
	if got := m.Prune(); got != 3 {
		t.Fatalf("Prune = %d, want 3", got)
	}
	if len(m.Tasks()) != 0 {
		t.Fatalf("tasks left after prune")
	}
}

func TestSubmitRejectsInvalidTasks(t *testing.T) {
	m := NewManager(ManagerConfig{Logger: quietLogger()})

	stopped := NewTask(singleFileSettings(t, t.TempDir()), testConfig(&fakeService{name: "fake", configOK: true}))
	stopped.RequestStop()
	if err := m.Submit(stopped); !errors.Is(err, ErrNotStartable) {
		t.Fatalf("submit stopped task: %v", err)
	}
	if _, ok := m.Get(stopped.ID()); ok {
		t.Fatalf("stopped task is tracked")
	}

	task := NewTask(singleFileSettings(t, t.TempDir()), testConfig(&fakeService{name: "fake", configOK: true}))
	if err := m.Submit(task); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.Submit(task); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("resubmit: %v", err)
	}
	waitDone(t, task)

	if err := m.Stop("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("stop unknown: %v", err)
	}
}

func TestShutdownStopsRunningTasks(t *testing.T) {
	m := NewManager(ManagerConfig{Logger: quietLogger()})
	release := make(chan struct{})
	analyzer := &fakeAnalyzer{release: release, started: make(chan string, 1)}
	task := blockingTask(t, analyzer)
	if err := m.Submit(task); err != nil {
		t.Fatalf("submit: %v", err)
	}
	awaitStarted(t, analyzer)

	errc := make(chan error, 1)
	go func() { errc <- m.Shutdown(context.Background()) }()

	// The in-flight analysis finishes before the stop is observed.
	deadline := time.Now().Add(5 * time.Second)
	for !task.StopRequested() {
		if time.Now().After(deadline) {
			t.Fatalf("shutdown did not request a stop")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("shutdown did not return")
	}
	if got := task.Info().StatusMessage; got != "Stopped." {
		t.Fatalf("status message = %q", got)
	}
	if err := m.Submit(blockingTask(t, &fakeAnalyzer{})); !errors.Is(err, ErrNotStartable) {
		t.Fatalf("submit after shutdown: %v", err)
	}
}

func TestMaxConcurrentQueuesTasks(t *testing.T) {
	m := NewManager(ManagerConfig{MaxConcurrent: 1, Logger: quietLogger()})
	release := make(chan struct{})
	analyzer := &fakeAnalyzer{release: release, started: make(chan string, 2)}
	first, second := blockingTask(t, analyzer), blockingTask(t, analyzer)
	for _, task := range []*Task{first, second} {
		if err := m.Submit(task); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	awaitStarted(t, analyzer)
	time.Sleep(20 * time.Millisecond)
	if got := second.Status(); got != domain.TaskStatusInQueue {
		t.Fatalf("second task status = %s, want queued", got)
	}

	close(release)
	waitDone(t, first)
	awaitStarted(t, analyzer)
	waitDone(t, second)
}

func TestStopQueuedTaskCompletes(t *testing.T) {
	m := NewManager(ManagerConfig{MaxConcurrent: 1, Logger: quietLogger()})
	release := make(chan struct{})
	analyzer := &fakeAnalyzer{release: release, started: make(chan string, 2)}
	running, queued := blockingTask(t, analyzer), blockingTask(t, analyzer)
	events := &eventLog{}
	queued.Subscribe(events)
	for _, task := range []*Task{running, queued} {
		if err := m.Submit(task); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	awaitStarted(t, analyzer)

	if err := m.Stop(queued.ID()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// completes without waiting for the running task to free its slot
	waitDone(t, queued)

	info := queued.Info()
	if queued.Status() != domain.TaskStatusCompleted || info.StatusMessage != "Stopped." {
		t.Fatalf("queued task = %s %q", queued.Status(), info.StatusMessage)
	}
	if !info.StartTime.IsZero() || info.EndTime.IsZero() {
		t.Fatalf("times = %v..%v", info.StartTime, info.EndTime)
	}
	if got := events.count(EventTaskCompleted); got != 1 {
		t.Fatalf("TaskCompleted fired %d times", got)
	}
	if _, ok := m.Get(queued.ID()); !ok {
		t.Fatalf("stopped task no longer tracked")
	}
	if queued.Start(context.Background()) {
		t.Fatalf("settled task started")
	}

	close(release)
	waitDone(t, running)
	if got := running.Info().StatusMessage; got != "Done." {
		t.Fatalf("running task message = %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if n := len(analyzer.started); n != 0 {
		t.Fatalf("stopped task reached the analyzer")
	}
	if got := m.Prune(); got != 2 {
		t.Fatalf("pruned %d tasks", got)
	}
}

func TestShutdownSettlesQueuedTasks(t *testing.T) {
	m := NewManager(ManagerConfig{MaxConcurrent: 1, Logger: quietLogger()})
	release := make(chan struct{})
	analyzer := &fakeAnalyzer{release: release, started: make(chan string, 2)}
	running, queued := blockingTask(t, analyzer), blockingTask(t, analyzer)
	for _, task := range []*Task{running, queued} {
		if err := m.Submit(task); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	awaitStarted(t, analyzer)

	shutdown := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdown <- m.Shutdown(ctx)
	}()
	waitDone(t, queued)
	close(release)
	if err := <-shutdown; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := queued.Info().StatusMessage; got != "Stopped." {
		t.Fatalf("queued message = %q", got)
	}
}
