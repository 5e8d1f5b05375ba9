// Package mediainfo reads technical metadata from media files.
package mediainfo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"release-maker/internal/domain"
)

// Analyzer populates the summaries of a media file.
type Analyzer interface {
	ReadMedia(ctx context.Context, mf *domain.MediaFile) error
}

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// FFprobeAnalyzer shells out to ffprobe.
type FFprobeAnalyzer struct {
	Binary string
	Run    Runner
}

func NewFFprobeAnalyzer(binary string) *FFprobeAnalyzer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &FFprobeAnalyzer{Binary: binary, Run: ExecRunner}
}

func (a *FFprobeAnalyzer) ReadMedia(ctx context.Context, mf *domain.MediaFile) error {
	if mf == nil {
		return fmt.Errorf("media file is nil")
	}
	info, err := os.Stat(mf.FilePath)
	if err != nil {
		return fmt.Errorf("stat media: %w", err)
	}

	run := a.Run
	if run == nil {
		run = ExecRunner
	}
	out, err := run(ctx, a.Binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		mf.FilePath,
	)
	if err != nil {
		return fmt.Errorf("probe %s: %w", mf.FileName(), err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return fmt.Errorf("decode ffprobe output: %w", err)
	}

	mf.Duration = probe.duration()
	mf.ShortSummary = probe.shortSummary()
	mf.CompleteSummary = probe.completeSummary(mf.FileName(), info.Size())
	return nil
}

var _ Analyzer = (*FFprobeAnalyzer)(nil)

type probeOutput struct {
	Format struct {
		FormatName     string            `json:"format_name"`
		FormatLongName string            `json:"format_long_name"`
		Duration       string            `json:"duration"`
		BitRate        string            `json:"bit_rate"`
		Tags           map[string]string `json:"tags"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index         int               `json:"index"`
	CodecType     string            `json:"codec_type"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	Profile       string            `json:"profile"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	FrameRate     string            `json:"avg_frame_rate"`
	Channels      int               `json:"channels"`
	ChannelLayout string            `json:"channel_layout"`
	SampleRate    string            `json:"sample_rate"`
	BitRate       string            `json:"bit_rate"`
	Tags          map[string]string `json:"tags"`
}

func (p probeOutput) duration() time.Duration {
	secs, err := strconv.ParseFloat(p.Format.Duration, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func (p probeOutput) shortSummary() string {
	var parts []string
	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			parts = append(parts, fmt.Sprintf("%dx%d %s", s.Width, s.Height, s.CodecName))
		case "audio":
			parts = append(parts, fmt.Sprintf("%s %dch", s.CodecName, s.Channels))
		}
	}
	if d := p.duration(); d > 0 {
		parts = append(parts, formatDuration(d))
	}
	return strings.Join(parts, ", ")
}

func (p probeOutput) completeSummary(fileName string, size int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "General\n")
	fmt.Fprintf(&b, "Complete name : %s\n", fileName)
	fmt.Fprintf(&b, "Format        : %s\n", p.Format.FormatLongName)
	fmt.Fprintf(&b, "File size     : %s\n", humanize.IBytes(uint64(size)))
	if d := p.duration(); d > 0 {
		fmt.Fprintf(&b, "Duration      : %s\n", formatDuration(d))
	}
	if br, err := strconv.ParseUint(p.Format.BitRate, 10, 64); err == nil {
		fmt.Fprintf(&b, "Overall bit rate : %s/s\n", humanize.SI(float64(br), "b"))
	}

	streams := append([]probeStream(nil), p.Streams...)
	sort.SliceStable(streams, func(i, j int) bool { return streams[i].Index < streams[j].Index })
	for _, s := range streams {
		switch s.CodecType {
		case "video":
			fmt.Fprintf(&b, "\nVideo\n")
			fmt.Fprintf(&b, "Format        : %s\n", s.CodecLongName)
			if s.Profile != "" {
				fmt.Fprintf(&b, "Profile       : %s\n", s.Profile)
			}
			fmt.Fprintf(&b, "Resolution    : %dx%d\n", s.Width, s.Height)
			if s.FrameRate != "" && s.FrameRate != "0/0" {
				fmt.Fprintf(&b, "Frame rate    : %s\n", s.FrameRate)
			}
		case "audio":
			fmt.Fprintf(&b, "\nAudio\n")
			fmt.Fprintf(&b, "Format        : %s\n", s.CodecLongName)
			fmt.Fprintf(&b, "Channels      : %d\n", s.Channels)
			if s.ChannelLayout != "" {
				fmt.Fprintf(&b, "Layout        : %s\n", s.ChannelLayout)
			}
			if lang := s.Tags["language"]; lang != "" {
				fmt.Fprintf(&b, "Language      : %s\n", lang)
			}
		case "subtitle":
			fmt.Fprintf(&b, "\nText\n")
			fmt.Fprintf(&b, "Format        : %s\n", s.CodecName)
			if lang := s.Tags["language"]; lang != "" {
				fmt.Fprintf(&b, "Language      : %s\n", lang)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
