package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
	"release-maker/internal/media"
	"release-maker/internal/pipeline"
	"release-maker/internal/service"
	"release-maker/internal/storage"
)

// Launcher starts release tasks for a set of paths.
type Launcher interface {
	Launch(ctx context.Context, req service.LaunchRequest) ([]*pipeline.Task, error)
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	releases  service.ReleaseService
	users     service.UserService
	manager   pipeline.Manager
	launcher  Launcher
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *logrus.Logger
}

func NewHandler(
	releases service.ReleaseService,
	users service.UserService,
	manager pipeline.Manager,
	launcher Launcher,
	jwtSecret string,
	tokenTTL time.Duration,
	logger *logrus.Logger,
) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		releases:  releases,
		users:     users,
		manager:   manager,
		launcher:  launcher,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusAccepted, gin.H{"ok": "ok"})
		})
		api.POST("/auth/register", h.register)
		api.POST("/auth/login", h.login)

		authed := api.Group("")
		authed.Use(h.authMiddleware())
		authed.GET("/auth/me", h.me)
		authed.POST("/auth/password", h.changePassword)
		authed.GET("/status", h.status)
		authed.POST("/releases", h.createReleases)
		authed.GET("/releases", h.listReleases)
		authed.GET("/releases/:id", h.getRelease)
		authed.POST("/releases/:id/stop", h.stopRelease)
		authed.GET("/releases/:id/events", h.streamEvents)
		authed.DELETE("/releases/:id", h.deleteRelease)
		authed.GET("/storage/objects", h.listObjects)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type createReleaseRequest struct {
	Paths    []string        `json:"paths" binding:"required,min=1"`
	Split    bool            `json:"split"`
	Title    string          `json:"title"`
	Source   string          `json:"source"`
	WebLink  string          `json:"web_link"`
	Options  *optionsRequest `json:"options"`
	Trackers []string        `json:"trackers"`
}

type optionsRequest struct {
	CreateScreenshots bool `json:"create_screenshots"`
	UploadScreenshots bool `json:"upload_screenshots"`
	KeepScreenshots   bool `json:"keep_screenshots"`
	CreateTorrent     bool `json:"create_torrent"`
	WritePublish      bool `json:"write_publish"`
	WriteXML          bool `json:"write_xml"`
}

func (h *Handler) createReleases(c *gin.Context) {
	var req createReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	launch := service.LaunchRequest{
		Paths:    req.Paths,
		Split:    req.Split,
		Title:    req.Title,
		Source:   req.Source,
		WebLink:  req.WebLink,
		Trackers: req.Trackers,
	}
	if o := req.Options; o != nil {
		launch.Options = &domain.MediaOptions{
			CreateScreenshots: o.CreateScreenshots,
			UploadScreenshots: o.UploadScreenshots,
			KeepScreenshots:   o.KeepScreenshots,
			CreateTorrent:     o.CreateTorrent,
			WritePublish:      o.WritePublish,
			WriteXML:          o.WriteXML,
		}
	}

	tasks, err := h.launcher.Launch(c.Request.Context(), launch)
	if err != nil && len(tasks) == 0 {
		writeError(c, err)
		return
	}

	resp := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = taskToResponse(t)
	}
	body := gin.H{"tasks": resp}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusAccepted, body)
}

func (h *Handler) listReleases(c *gin.Context) {
	releases, err := h.releases.ListReleases(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]ReleaseResponse, len(releases))
	for i := range releases {
		resp[i] = h.releaseResponse(releases[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getRelease(c *gin.Context) {
	release, err := h.releases.GetRelease(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.releaseResponse(*release))
}

func (h *Handler) stopRelease(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Stop(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"stopping": id})
}

func (h *Handler) deleteRelease(c *gin.Context) {
	id := c.Param("id")
	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_remote"})
		return
	}
	deleteLocal, err := strconv.ParseBool(c.DefaultQuery("delete_local", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_local"})
		return
	}

	if task, ok := h.manager.Get(id); ok && task.Status().IsBusy() {
		c.JSON(http.StatusConflict, gin.H{"error": "release is still running, stop it first"})
		return
	}

	remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := h.releases.DeleteRelease(remoteCtx, id, service.DeleteOptions{Remote: deleteRemote, Local: deleteLocal}); err != nil {
		writeError(c, err)
		return
	}
	h.manager.Prune()
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) listObjects(c *gin.Context) {
	objects, err := h.releases.ListRemoteObjects(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) status(c *gin.Context) {
	tasks := h.manager.Tasks()
	running := 0
	for _, t := range tasks {
		if t.Status().IsBusy() {
			running++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"busy":             h.manager.IsBusy(),
		"average_progress": h.manager.AverageProgress(),
		"tracked":          len(tasks),
		"running":          running,
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrReleaseNotFound), errors.Is(err, pipeline.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrConfiguration), errors.Is(err, media.ErrNoMedia), errors.Is(err, fs.ErrNotExist),
		errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotStartable), errors.Is(err, pipeline.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidRegistrationPassword):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrUserAlreadyExists):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type TaskResponse struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Location        string            `json:"location"`
	MediaType       domain.MediaType  `json:"media_type"`
	Status          domain.TaskStatus `json:"status"`
	Success         bool              `json:"success"`
	StatusMessage   string            `json:"status_message"`
	UploadProgress  float64           `json:"upload_progress"`
	TorrentProgress float64           `json:"torrent_progress"`
}

func taskToResponse(t *pipeline.Task) TaskResponse {
	info := t.Info()
	return TaskResponse{
		ID:              t.ID(),
		Name:            info.Settings.Media.Name(),
		Location:        info.Settings.Media.Location,
		MediaType:       info.Settings.Media.Type,
		Status:          t.Status(),
		Success:         t.Success(),
		StatusMessage:   info.StatusMessage,
		UploadProgress:  info.UploadProgress,
		TorrentProgress: info.TorrentProgress,
	}
}

type ReleaseResponse struct {
	ID              string               `json:"id"`
	MediaName       string               `json:"media_name"`
	Location        string               `json:"location"`
	MediaType       domain.MediaType     `json:"media_type"`
	Status          domain.TaskStatus    `json:"status"`
	Success         bool                 `json:"success"`
	StatusMessage   string               `json:"status_message"`
	UploadProgress  float64              `json:"upload_progress"`
	TorrentProgress float64              `json:"torrent_progress"`
	PublishText     string               `json:"publish_text,omitempty"`
	Live            bool                 `json:"live"`
	CreatedAt       string               `json:"created_at"`
	UpdatedAt       string               `json:"updated_at"`
	StartedAt       *string              `json:"started_at,omitempty"`
	EndedAt         *string              `json:"ended_at,omitempty"`
	Screenshots     []ScreenshotResponse `json:"screenshots"`
	Artifacts       []ArtifactResponse   `json:"artifacts"`
}

type ScreenshotResponse struct {
	LocalPath    string `json:"local_path"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type ArtifactResponse struct {
	Kind     domain.ArtifactKind `json:"kind"`
	Path     string              `json:"path"`
	Tracker  string              `json:"tracker,omitempty"`
	InfoHash string              `json:"info_hash,omitempty"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

// releaseResponse renders a history row, overlaid with live progress while
// the manager still runs the task.
func (h *Handler) releaseResponse(r domain.Release) ReleaseResponse {
	resp := ReleaseResponse{
		ID:              r.ID,
		MediaName:       r.MediaName,
		Location:        r.Location,
		MediaType:       r.MediaType,
		Status:          r.Status,
		Success:         r.Success,
		StatusMessage:   r.StatusMessage,
		UploadProgress:  r.UploadProgress,
		TorrentProgress: r.TorrentProgress,
		PublishText:     r.PublishText,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.Format(time.RFC3339),
		StartedAt:       formatTime(r.StartedAt),
		EndedAt:         formatTime(r.EndedAt),
		Screenshots:     make([]ScreenshotResponse, len(r.Screenshots)),
		Artifacts:       make([]ArtifactResponse, len(r.Artifacts)),
	}
	for i, s := range r.Screenshots {
		resp.Screenshots[i] = ScreenshotResponse{LocalPath: s.LocalPath, URL: s.URL, ThumbnailURL: s.ThumbnailURL}
	}
	for i, a := range r.Artifacts {
		resp.Artifacts[i] = ArtifactResponse{Kind: a.Kind, Path: a.Path, Tracker: a.Tracker, InfoHash: a.InfoHash}
	}

	if t, ok := h.manager.Get(r.ID); ok && t.Status().IsBusy() {
		live := taskToResponse(t)
		resp.Live = true
		resp.Status = live.Status
		resp.Success = live.Success
		resp.StatusMessage = live.StatusMessage
		resp.UploadProgress = live.UploadProgress
		resp.TorrentProgress = live.TorrentProgress
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Format(time.RFC3339)
	return &v
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
