package http

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"release-maker/internal/pipeline"
)

const eventBuffer = 256

type EventResponse struct {
	Kind            pipeline.EventKind  `json:"kind"`
	TaskID          string              `json:"task_id"`
	Time            string              `json:"time"`
	Status          string              `json:"status"`
	Success         bool                `json:"success"`
	StatusMessage   string              `json:"status_message"`
	UploadProgress  float64             `json:"upload_progress"`
	TorrentProgress float64             `json:"torrent_progress"`
	MediaFile       string              `json:"media_file,omitempty"`
	Screenshot      *ScreenshotResponse `json:"screenshot,omitempty"`
	Service         string              `json:"service,omitempty"`
	PublishText     string              `json:"publish_text,omitempty"`
}

func eventToResponse(e pipeline.Event) EventResponse {
	resp := EventResponse{
		Kind:            e.Kind,
		TaskID:          e.TaskID,
		Time:            e.Time.Format(time.RFC3339Nano),
		Status:          string(e.Status),
		Success:         e.Success,
		StatusMessage:   e.Info.StatusMessage,
		UploadProgress:  e.Info.UploadProgress,
		TorrentProgress: e.Info.TorrentProgress,
		MediaFile:       e.MediaFile,
		Service:         e.Service,
	}
	if e.Screenshot != nil {
		resp.Screenshot = &ScreenshotResponse{
			LocalPath:    e.Screenshot.LocalPath,
			URL:          e.Screenshot.FullImageURL,
			ThumbnailURL: e.Screenshot.ThumbnailURL,
		}
	}
	if e.Kind == pipeline.EventTaskCompleted {
		resp.PublishText = e.Info.PublishText
	}
	return resp
}

// streamEvents relays task notifications as server-sent events until the task
// completes or the client goes away. Finished releases get a single snapshot.
func (h *Handler) streamEvents(c *gin.Context) {
	id := c.Param("id")
	task, ok := h.manager.Get(id)
	if !ok || !task.Status().IsBusy() {
		release, err := h.releases.GetRelease(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.SSEvent("snapshot", h.releaseResponse(*release))
		return
	}

	events := make(chan pipeline.Event, eventBuffer)
	logger := h.logger.WithField("task_id", id)
	unsubscribe := task.Subscribe(pipeline.ListenerFunc(func(e pipeline.Event) {
		select {
		case events <- e:
		default:
			logger.Debugf("event stream lagging, dropped %s", e.Kind)
		}
	}))
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", taskToResponse(task))
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case e := <-events:
			c.SSEvent(string(e.Kind), eventToResponse(e))
			return e.Kind != pipeline.EventTaskCompleted
		case <-task.Done():
			for {
				select {
				case e := <-events:
					c.SSEvent(string(e.Kind), eventToResponse(e))
				default:
					return false
				}
			}
		case <-ctx.Done():
			return false
		}
	})
}
