package pipeline

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
)

// EventKind names a task notification.
type EventKind string

const (
	EventMediaLoaded            EventKind = "media_loaded"
	EventStatusChanged          EventKind = "status_changed"
	EventScreenshotUploaded     EventKind = "screenshot_uploaded"
	EventTorrentInfoCreated     EventKind = "torrent_info_created"
	EventTorrentProgressChanged EventKind = "torrent_progress_changed"
	EventUploadProgressChanged  EventKind = "upload_progress_changed"
	EventUploaderConfigRequired EventKind = "uploader_config_required"
	EventTaskCompleted          EventKind = "task_completed"
)

// Event is delivered to listeners in emission order. Info is a snapshot taken
// when the event was raised and is never mutated afterwards.
type Event struct {
	Kind    EventKind
	TaskID  string
	Time    time.Time
	Status  domain.TaskStatus
	Success bool
	Info    domain.TaskInfo

	// MediaFile is the path of the file a status message or screenshot refers to.
	MediaFile  string
	Screenshot *domain.ScreenshotInfo
	// Service is set on EventUploaderConfigRequired.
	Service string
}

// Listener receives task events on the task's notification goroutine.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }

type subscription struct {
	id       int
	listener Listener
}

// notifier delivers events one at a time from a single goroutine so listeners
// never observe two events of the same task concurrently.
type notifier struct {
	logger *logrus.Entry

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	listeners []subscription
	nextID    int
	started   bool
	closed    bool
	done      chan struct{}
}

func newNotifier(logger *logrus.Entry) *notifier {
	n := &notifier{logger: logger, done: make(chan struct{})}
	n.cond = sync.NewCond(&n.mu)
	return n
}

func (n *notifier) subscribe(l Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || l == nil {
		return func() {}
	}
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, subscription{id: id, listener: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, s := range n.listeners {
				if s.id == id {
					n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

func (n *notifier) start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started || n.closed {
		return
	}
	n.started = true
	go n.loop()
}

func (n *notifier) publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, e)
	n.cond.Signal()
}

// close delivers everything already queued, then drops all listeners.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	started := n.started
	if !started {
		n.listeners = nil
		n.queue = nil
		close(n.done)
	}
	n.cond.Broadcast()
	n.mu.Unlock()
	<-n.done
}

func (n *notifier) loop() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.listeners = nil
			n.mu.Unlock()
			return
		}
		ev := n.queue[0]
		n.queue[0] = Event{}
		n.queue = n.queue[1:]
		targets := make([]Listener, len(n.listeners))
		for i, s := range n.listeners {
			targets[i] = s.listener
		}
		n.mu.Unlock()

		for _, l := range targets {
			n.deliver(l, ev)
		}
	}
}

func (n *notifier) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithField("event", ev.Kind).Errorf("listener panic: %v", r)
		}
	}()
	l.HandleEvent(ev)
}
