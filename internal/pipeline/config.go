package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"release-maker/internal/mediainfo"
	"release-maker/internal/publish"
	"release-maker/internal/thumbnail"
	"release-maker/internal/torrent"
	"release-maker/internal/uploader"
)

// Config wires the collaborators a task calls into. A nil collaborator turns
// its stage into a logged no-op.
type Config struct {
	Analyzer       mediainfo.Analyzer
	Thumbnailer    thumbnail.Thumbnailer
	Uploaders      *uploader.Registry
	UploaderConfig uploader.Config
	TorrentBuilder torrent.Builder
	Renderer       publish.Renderer

	ThumbnailOptions thumbnail.Options
	TorrentOptions   torrent.Options

	// CaptureLimit bounds concurrent captures. UploadLimit bounds concurrent
	// uploads across all files of a task. Zero means unbounded.
	CaptureLimit int
	UploadLimit  int
	// CallTimeout caps each collaborator call. Zero disables it.
	CallTimeout time.Duration

	SuccessPolicy SuccessPolicy
	Logger        *logrus.Logger
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Renderer == nil {
		c.Renderer = publish.NewTemplateRenderer()
	}
	if c.SuccessPolicy == "" {
		c.SuccessPolicy = SuccessLastWrite
	}
	if c.CaptureLimit < 0 {
		c.CaptureLimit = 0
	}
	if c.UploadLimit < 0 {
		c.UploadLimit = 0
	}
	return c
}

// callContext detaches collaborator calls from task cancellation so in-flight
// work always finishes; stop requests are honoured between stages instead.
func (c Config) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.CallTimeout > 0 {
		return context.WithTimeout(detached, c.CallTimeout)
	}
	return context.WithCancel(detached)
}
