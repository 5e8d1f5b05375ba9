package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
	"release-maker/internal/thumbnail"
	"release-maker/internal/torrent"
	"release-maker/internal/uploader"
)

type fakeAnalyzer struct {
	fail    map[string]bool
	release chan struct{}
	started chan string
}

func (a *fakeAnalyzer) ReadMedia(ctx context.Context, mf *domain.MediaFile) error {
	if a.started != nil {
		a.started <- mf.FileName()
	}
	if a.release != nil {
		<-a.release
	}
	if a.fail[mf.FileName()] {
		panic("analyzer crashed")
	}
	mf.Duration = 90 * time.Minute
	mf.ShortSummary = "1920x1080 h264"
	mf.CompleteSummary = "General\nFormat : Matroska"
	return nil
}

type fakeThumbnailer struct {
	fail map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeThumbnailer) Capture(ctx context.Context, mf domain.MediaFile, outputDir string, opts thumbnail.Options) ([]domain.ScreenshotInfo, error) {
	f.mu.Lock()
	f.calls = append(f.calls, mf.FileName())
	f.mu.Unlock()
	if f.fail[mf.FileName()] {
		return nil, errors.New("ffmpeg exited with status 1")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(mf.FileName(), filepath.Ext(mf.FileName()))
	var shots []domain.ScreenshotInfo
	for i := 1; i <= 2; i++ {
		p := filepath.Join(outputDir, fmt.Sprintf("%s-%02d.png", base, i))
		if err := os.WriteFile(p, []byte("png-bytes-"+base), 0o644); err != nil {
			return shots, err
		}
		shots = append(shots, domain.ScreenshotInfo{LocalPath: p, Timestamp: time.Duration(i) * time.Minute})
	}
	return shots, nil
}

type fakeService struct {
	name      string
	configOK  bool
	fail      map[string]bool
	onUpload  func()
	mu        sync.Mutex
	uploaded  []string
}

func (s *fakeService) Name() string                        { return s.name }
func (s *fakeService) CheckConfig(uploader.Config) bool    { return s.configOK }
func (s *fakeService) CreateUploader(uploader.Config) (uploader.Uploader, error) {
	return fakeUploader{s}, nil
}

type fakeUploader struct{ svc *fakeService }

func (u fakeUploader) Upload(ctx context.Context, body io.Reader, fileName string, progress uploader.ProgressFunc) uploader.Result {
	data, err := io.ReadAll(body)
	if err != nil {
		return uploader.Result{Errors: []string{err.Error()}}
	}
	total := int64(len(data))
	if progress != nil {
		progress(total/2, total)
		progress(total, total)
	}
	if u.svc.onUpload != nil {
		u.svc.onUpload()
	}
	if u.svc.fail[fileName] {
		return uploader.Result{Errors: []string{"503 service unavailable"}}
	}
	u.svc.mu.Lock()
	u.svc.uploaded = append(u.svc.uploaded, fileName)
	u.svc.mu.Unlock()
	return uploader.Result{
		URL:          "https://img.example/" + fileName,
		ThumbnailURL: "https://img.example/thumb/" + fileName,
	}
}

type fakeBuilder struct {
	mu       sync.Mutex
	announce []string
}

func (b *fakeBuilder) Build(ctx context.Context, src string, announce [][]string, outPath string, opts torrent.Options, onProgress torrent.ProgressFunc) (torrent.Result, error) {
	b.mu.Lock()
	b.announce = append(b.announce, announce[0][0])
	b.mu.Unlock()
	for _, p := range []float64{0, 25, 25, 60, 10, 100, 100} {
		onProgress(p)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return torrent.Result{}, err
	}
	if err := os.WriteFile(outPath, []byte("d4:infod4:name3:fooee"), 0o644); err != nil {
		return torrent.Result{}, err
	}
	return torrent.Result{Path: outPath, InfoHash: "0123456789abcdef"}, nil
}

type fakeRenderer struct {
	onRender func()
}

func (r fakeRenderer) Render(ts domain.TaskSettings, opts domain.PublishOptions) (string, error) {
	if r.onRender != nil {
		r.onRender()
	}
	return "[b]" + ts.Media.DisplayTitle() + "[/b]", nil
}

// eventLog is a Listener collecting everything it receives.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) HandleEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, e := range l.all() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) first(kind EventKind) int {
	for i, e := range l.all() {
		if e.Kind == kind {
			return i
		}
	}
	return -1
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// writeMedia creates n media files under dir and returns their paths.
func writeMedia(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
		if err := os.WriteFile(paths[i], []byte("media "+n), 0o644); err != nil {
			t.Fatalf("write media: %v", err)
		}
	}
	return paths
}

func testConfig(svc *fakeService) Config {
	return Config{
		Analyzer:       &fakeAnalyzer{},
		Thumbnailer:    &fakeThumbnailer{},
		Uploaders:      uploader.NewRegistry(svc),
		TorrentBuilder: &fakeBuilder{},
		Logger:         quietLogger(),
	}
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s did not complete, status %s", task.ID(), task.Status())
	}
}

func tracker(t *testing.T, announce string) domain.TrackerGroup {
	t.Helper()
	tg, err := domain.NewTrackerGroup(announce)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	return tg
}
