package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
	"release-maker/internal/pipeline"
	"release-maker/internal/repository/sqlite"
	"release-maker/internal/service"
	"release-maker/internal/storage"
)

type listStore struct {
	storage.Service
	objects []storage.ObjectInfo
}

func (s *listStore) ListObjects(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for _, o := range s.objects {
		if strings.HasPrefix(o.Key, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

// gateRenderer blocks rendering until release is closed.
type gateRenderer struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateRenderer) Render(ts domain.TaskSettings, _ domain.PublishOptions) (string, error) {
	if g.entered != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
	}
	if g.release != nil {
		<-g.release
	}
	return "[b]" + ts.Media.DisplayTitle() + "[/b]", nil
}

type testEnv struct {
	router  *gin.Engine
	manager pipeline.Manager
	media   string
	token   string
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEnv(t *testing.T, store storage.Service, renderer *gateRenderer) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	releases := sqlite.NewReleaseRepository(db)
	shots := sqlite.NewReleaseScreenshotRepository(db)
	artifacts := sqlite.NewReleaseArtifactRepository(db)
	users := sqlite.NewUserRepository(db)
	for _, init := range []func(context.Context) error{releases.Init, shots.Init, artifacts.Init, users.Init} {
		if err := init(ctx); err != nil {
			t.Fatalf("init: %v", err)
		}
	}

	if renderer == nil {
		renderer = &gateRenderer{}
	}
	logger := quietLogger()
	releaseSvc := service.NewReleaseService(releases, shots, artifacts, store, service.RemoteConfig{Bucket: "shots", KeyPrefix: "rel"}, logger)
	userSvc := service.NewUserService(users, "letmein")
	manager := pipeline.NewManager(pipeline.ManagerConfig{Logger: logger})
	t.Cleanup(func() {
		if renderer.release != nil {
			select {
			case <-renderer.release:
			default:
				close(renderer.release)
			}
		}
		_ = manager.Shutdown(context.Background())
	})

	cfg := pipeline.Config{Logger: logger, Renderer: renderer}
	launcher := service.NewLauncher(service.LauncherConfig{
		Pipeline: cfg,
		Logger:   logger,
	}, manager, releaseSvc)

	router := gin.New()
	NewHandler(releaseSvc, userSvc, manager, launcher, "test-secret", time.Hour, logger).RegisterRoutes(router)

	dir := t.TempDir()
	mediaPath := filepath.Join(dir, "Film.2021.mkv")
	if err := os.WriteFile(mediaPath, []byte("film"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}

	env := &testEnv{router: router, manager: manager, media: mediaPath}
	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username":          "alice",
		"password":          "correct horse",
		"register_password": "letmein",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body.String())
	}
	var tok tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil || tok.Token == "" {
		t.Fatalf("register body %s: %v", rec.Body.String(), err)
	}
	env.token = tok.Token
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) launch(t *testing.T) TaskResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/releases", map[string]interface{}{
		"paths":   []string{e.media},
		"title":   "Film",
		"options": map[string]bool{},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Tasks []TaskResponse `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Tasks) != 1 {
		t.Fatalf("create body %s: %v", rec.Body.String(), err)
	}
	return body.Tasks[0]
}

func (e *testEnv) wait(t *testing.T, id string) {
	t.Helper()
	task, ok := e.manager.Get(id)
	if !ok {
		t.Fatalf("task %s not tracked", id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	token := env.token
	env.token = ""
	if rec := env.do(t, http.MethodGet, "/api/releases", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	env.token = "garbage"
	if rec := env.do(t, http.MethodGet, "/api/status", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
	env.token = ""
	if rec := env.do(t, http.MethodGet, "/api/health", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("health status %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "wrong password"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad login, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "correct horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}

	env.token = token
	if rec := env.do(t, http.MethodGet, "/api/status", nil); rec.Code != http.StatusOK {
		t.Fatalf("status with token: %d", rec.Code)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/auth/password", map[string]string{
		"current_password": "wrong password",
		"new_password":     "battery staple",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current password: %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/auth/password", map[string]string{
		"current_password": "correct horse",
		"new_password":     "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/auth/password", map[string]string{
		"current_password": "correct horse",
		"new_password":     "battery staple",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("change password: %d %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "correct horse"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("old password still accepted: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "battery staple"}); rec.Code != http.StatusOK {
		t.Fatalf("new password rejected: %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/auth/me", nil)
	var me UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil || me.Username != "alice" || me.LastLoginAt == "" {
		t.Fatalf("me = %+v (%s), %v", me, rec.Body.String(), err)
	}
}

func TestReleaseLifecycle(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	task := env.launch(t)
	if task.Name != "Film.2021" || task.MediaType != domain.MediaTypeIndividual {
		t.Fatalf("task = %+v", task)
	}
	env.wait(t, task.ID)

	rec := env.do(t, http.MethodGet, "/api/releases/"+task.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", rec.Code, rec.Body.String())
	}
	var rel ReleaseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rel); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rel.Status != domain.TaskStatusCompleted || rel.Live || rel.PublishText != "[b]Film[/b]" {
		t.Fatalf("release = %+v", rel)
	}

	rec = env.do(t, http.MethodGet, "/api/releases", nil)
	var list []ReleaseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list %s: %v", rec.Body.String(), err)
	}

	rec = env.do(t, http.MethodGet, "/api/releases/"+task.ID+"/events", nil)
	if !strings.Contains(rec.Body.String(), "event:snapshot") {
		t.Fatalf("expected snapshot event, got %q", rec.Body.String())
	}

	if rec := env.do(t, http.MethodDelete, "/api/releases/"+task.ID+"?delete_remote=true", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete remote without storage: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/releases/"+task.ID, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete status %d: %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/api/releases/"+task.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rec.Code)
	}
	if len(env.manager.Tasks()) != 0 {
		t.Fatalf("completed task not pruned")
	}
}

func TestCreateReleaseValidation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if rec := env.do(t, http.MethodPost, "/api/releases", map[string]interface{}{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing paths: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/releases", map[string]interface{}{
		"paths": []string{filepath.Join(t.TempDir(), "missing.mkv")},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file: %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/releases", map[string]interface{}{
		"paths":    []string{env.media},
		"trackers": []string{"no-host"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad tracker: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/releases/nope/stop", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("stop unknown: %d", rec.Code)
	}
}

func TestBusyReleaseCannotBeDeleted(t *testing.T) {
	gate := &gateRenderer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	env := newTestEnv(t, nil, gate)
	task := env.launch(t)

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("renderer never reached")
	}

	if rec := env.do(t, http.MethodDelete, "/api/releases/"+task.ID, nil); rec.Code != http.StatusConflict {
		t.Fatalf("delete busy: %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/releases/"+task.ID, nil)
	var rel ReleaseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rel); err != nil || !rel.Live {
		t.Fatalf("expected live release, got %s: %v", rec.Body.String(), err)
	}

	var status map[string]interface{}
	rec = env.do(t, http.MethodGet, "/api/status", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil || status["busy"] != true {
		t.Fatalf("status = %s: %v", rec.Body.String(), err)
	}

	if rec := env.do(t, http.MethodPost, "/api/releases/"+task.ID+"/stop", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("stop: %d", rec.Code)
	}
	close(gate.release)
	env.wait(t, task.ID)

	got, _ := env.manager.Get(task.ID)
	if info := got.Info(); info.StatusMessage != "Stopped." {
		t.Fatalf("status message = %q", info.StatusMessage)
	}
}

func TestEventStreamFollowsTask(t *testing.T) {
	gate := &gateRenderer{release: make(chan struct{})}
	env := newTestEnv(t, nil, gate)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	task := env.launch(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/releases/"+task.ID+"/events?token="+env.token, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.Contains(line, "snapshot") {
		t.Fatalf("first line %q: %v", line, err)
	}

	close(gate.release)
	rest, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(rest), "event:task_completed") {
		t.Fatalf("stream missing completion: %q", rest)
	}
}

func TestListObjects(t *testing.T) {
	store := &listStore{objects: []storage.ObjectInfo{
		{Key: "rel/abc/2024/01/01/x/shot.png", Size: 10},
		{Key: "rel/def/shot.png", Size: 20},
	}}
	env := newTestEnv(t, store, nil)

	rec := env.do(t, http.MethodGet, "/api/storage/objects?prefix=abc", nil)
	var objs []StorageObjectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &objs); err != nil || len(objs) != 1 || objs[0].Size != 10 {
		t.Fatalf("objects %s: %v", rec.Body.String(), err)
	}
}
