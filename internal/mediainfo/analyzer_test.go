package mediainfo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"release-maker/internal/domain"
)

const sampleProbe = `{
  "format": {"format_name": "matroska,webm", "format_long_name": "Matroska / WebM", "duration": "5400.5", "bit_rate": "8000000"},
  "streams": [
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "codec_long_name": "AAC (Advanced Audio Coding)", "channels": 6, "channel_layout": "5.1", "tags": {"language": "eng"}},
    {"index": 0, "codec_type": "video", "codec_name": "h264", "codec_long_name": "H.264 / AVC", "profile": "High", "width": 1920, "height": 1080, "avg_frame_rate": "24000/1001"}
  ]
}`

func writeMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.mkv")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

func TestFFprobeAnalyzerPopulatesSummaries(t *testing.T) {
	path := writeMedia(t)
	var gotArgs []string
	a := &FFprobeAnalyzer{Binary: "ffprobe", Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte(sampleProbe), nil
	}}

	mf := &domain.MediaFile{FilePath: path}
	if err := a.ReadMedia(context.Background(), mf); err != nil {
		t.Fatalf("ReadMedia failed: %v", err)
	}

	if gotArgs[0] != "ffprobe" || gotArgs[len(gotArgs)-1] != path {
		t.Fatalf("unexpected command: %v", gotArgs)
	}
	if mf.Duration != 5400*time.Second+500*time.Millisecond {
		t.Fatalf("unexpected duration: %v", mf.Duration)
	}
	if mf.ShortSummary != "1920x1080 h264, aac 6ch, 01:30:01" {
		t.Fatalf("unexpected short summary: %q", mf.ShortSummary)
	}
	video := strings.Index(mf.CompleteSummary, "\nVideo\n")
	audio := strings.Index(mf.CompleteSummary, "\nAudio\n")
	if video < 0 || audio < 0 || video > audio {
		t.Fatalf("streams should be ordered by index:\n%s", mf.CompleteSummary)
	}
	if !strings.Contains(mf.CompleteSummary, "Language      : eng") {
		t.Fatalf("missing language line:\n%s", mf.CompleteSummary)
	}
}

func TestFFprobeAnalyzerMissingFile(t *testing.T) {
	a := &FFprobeAnalyzer{Binary: "ffprobe", Run: func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("runner should not be called for a missing file")
		return nil, nil
	}}
	err := a.ReadMedia(context.Background(), &domain.MediaFile{FilePath: filepath.Join(t.TempDir(), "nope.mkv")})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFFprobeAnalyzerToolFailure(t *testing.T) {
	path := writeMedia(t)
	toolErr := errors.New("exit status 1")
	a := &FFprobeAnalyzer{Binary: "ffprobe", Run: func(context.Context, string, ...string) ([]byte, error) {
		return nil, toolErr
	}}
	err := a.ReadMedia(context.Background(), &domain.MediaFile{FilePath: path})
	if !errors.Is(err, toolErr) {
		t.Fatalf("expected wrapped tool error, got %v", err)
	}
}
