package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
)

// Manager tracks submitted tasks and reports aggregate activity.
type Manager interface {
	Start(ctx context.Context)
	Submit(task *Task) error
	Get(id string) (*Task, bool)
	Tasks() []*Task
	IsBusy() bool
	AverageProgress() float64
	Stop(id string) error
	Prune() int
	Shutdown(ctx context.Context) error
}

type ManagerConfig struct {
	// MaxConcurrent bounds running tasks; queued ones wait for a slot.
	// Zero runs every task immediately.
	MaxConcurrent int
	Logger        *logrus.Logger
}

type manager struct {
	cfg ManagerConfig
	sem chan struct{}

	mu     sync.RWMutex
	ctx    context.Context
	order  []string
	tasks  map[string]*Task
	wg     sync.WaitGroup
	closed bool
}

func NewManager(cfg ManagerConfig) Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	m := &manager{
		cfg:   cfg,
		ctx:   context.Background(),
		tasks: make(map[string]*Task),
	}
	if cfg.MaxConcurrent > 0 {
		m.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return m
}

// Start sets the context submitted tasks run under. Cancelling it stops them.
func (m *manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

func (m *manager) Submit(task *Task) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: manager is shut down", ErrNotStartable)
	}
	if _, ok := m.tasks[task.ID()]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, task.ID())
	}
	if task.Status() != domain.TaskStatusInQueue || task.StopRequested() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotStartable, task.ID(), task.Status())
	}
	m.tasks[task.ID()] = task
	m.order = append(m.order, task.ID())
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	logger := m.cfg.Logger.WithField("task_id", task.ID())
	if m.sem == nil {
		m.launch(ctx, task, logger)
		return nil
	}
	go func() {
		select {
		case m.sem <- struct{}{}:
		case <-task.Done():
			// settled by Stop while waiting for a slot
			m.wg.Done()
			return
		case <-ctx.Done():
			task.RequestStop()
			m.launch(ctx, task, logger)
			return
		}
		if !m.launch(ctx, task, logger) {
			<-m.sem
			return
		}
		<-task.Done()
		<-m.sem
	}()
	return nil
}

// launch starts task and releases the wait group slot once it is done. A task
// stopped while queued never runs its stages but still completes.
func (m *manager) launch(ctx context.Context, task *Task, logger *logrus.Entry) bool {
	if !task.Start(ctx) {
		task.settleQueued()
		logger.Info("task stopped before start")
		m.wg.Done()
		return false
	}
	logger.Infof("task %s submitted", task)
	go func() {
		<-task.Done()
		m.wg.Done()
	}()
	return true
}

func (m *manager) Get(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Tasks returns tracked tasks in submission order.
func (m *manager) Tasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tasks[id])
	}
	return out
}

func (m *manager) IsBusy() bool {
	for _, t := range m.Tasks() {
		if t.Status().IsBusy() {
			return true
		}
	}
	return false
}

// AverageProgress is the mean upload progress of busy tasks, 0 when idle.
func (m *manager) AverageProgress() float64 {
	var sum float64
	var n int
	for _, t := range m.Tasks() {
		if !t.Status().IsBusy() {
			continue
		}
		sum += t.UploadProgress()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (m *manager) Stop(id string) error {
	t, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.RequestStop()
	t.settleQueued()
	return nil
}

// Prune drops completed tasks and returns how many were removed.
func (m *manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		if m.tasks[id].Status() == domain.TaskStatusCompleted {
			delete(m.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed
}

// Shutdown requests every task to stop and waits for them to complete.
func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, t := range m.Tasks() {
		t.RequestStop()
		t.settleQueued()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cfg.Logger.Info("release manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Manager = (*manager)(nil)
