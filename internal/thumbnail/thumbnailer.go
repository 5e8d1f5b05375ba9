// Package thumbnail captures still frames from media files.
package thumbnail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"release-maker/internal/domain"
	"release-maker/internal/mediainfo"
)

// Options is the capture profile.
type Options struct {
	Count  int
	Width  int
	Format string
}

func (o Options) normalized() Options {
	if o.Count <= 0 {
		o.Count = 3
	}
	switch strings.ToLower(strings.TrimSpace(o.Format)) {
	case "jpg", "jpeg":
		o.Format = "jpg"
	default:
		o.Format = "png"
	}
	return o
}

// Thumbnailer captures screenshots of a media file into outputDir.
type Thumbnailer interface {
	Capture(ctx context.Context, mf domain.MediaFile, outputDir string, opts Options) ([]domain.ScreenshotInfo, error)
}

// FFmpegThumbnailer runs one ffmpeg process per screenshot.
type FFmpegThumbnailer struct {
	Binary string
	Run    mediainfo.Runner
}

func NewFFmpegThumbnailer(binary string) *FFmpegThumbnailer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegThumbnailer{Binary: binary, Run: mediainfo.ExecRunner}
}

func (t *FFmpegThumbnailer) Capture(ctx context.Context, mf domain.MediaFile, outputDir string, opts Options) ([]domain.ScreenshotInfo, error) {
	opts = opts.normalized()
	if _, err := os.Stat(mf.FilePath); err != nil {
		return nil, fmt.Errorf("stat media: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}

	run := t.Run
	if run == nil {
		run = mediainfo.ExecRunner
	}

	base := strings.TrimSuffix(mf.FileName(), filepath.Ext(mf.FilePath))
	shots := make([]domain.ScreenshotInfo, 0, opts.Count)
	for i, ts := range Timestamps(mf.Duration, opts.Count) {
		out := filepath.Join(outputDir, fmt.Sprintf("%s-%02d.%s", base, i+1, opts.Format))
		args := []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-ss", strconv.FormatFloat(ts.Seconds(), 'f', 3, 64),
			"-i", mf.FilePath,
			"-frames:v", "1",
		}
		if opts.Width > 0 {
			args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", opts.Width))
		}
		args = append(args, out)
		if _, err := run(ctx, t.Binary, args...); err != nil {
			return shots, fmt.Errorf("capture frame %d of %s: %w", i+1, mf.FileName(), err)
		}
		shots = append(shots, domain.ScreenshotInfo{LocalPath: out, Timestamp: ts})
	}
	return shots, nil
}

var _ Thumbnailer = (*FFmpegThumbnailer)(nil)

// Timestamps spreads count capture points evenly, skipping the first and last segment.
// Unknown durations fall back to one frame every 30 seconds.
func Timestamps(duration time.Duration, count int) []time.Duration {
	if count <= 0 {
		return nil
	}
	out := make([]time.Duration, count)
	if duration <= 0 {
		for i := range out {
			out[i] = time.Duration(i+1) * 30 * time.Second
		}
		return out
	}
	step := duration / time.Duration(count+1)
	for i := range out {
		out[i] = step * time.Duration(i+1)
	}
	return out
}
