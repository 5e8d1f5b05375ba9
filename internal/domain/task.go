package domain

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a release task. Transitions only move forward.
type TaskStatus string

const (
	TaskStatusInQueue   TaskStatus = "in_queue"
	TaskStatusPreparing TaskStatus = "preparing"
	TaskStatusWorking   TaskStatus = "working"
	TaskStatusStopping  TaskStatus = "stopping"
	TaskStatusCompleted TaskStatus = "completed"
)

func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusInQueue:
		return 0
	case TaskStatusPreparing:
		return 1
	case TaskStatusWorking:
		return 2
	case TaskStatusStopping:
		return 3
	case TaskStatusCompleted:
		return 4
	}
	return -1
}

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s == TaskStatusCompleted || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// IsWorking is true while stages are executing.
func (s TaskStatus) IsWorking() bool {
	return s == TaskStatusPreparing || s == TaskStatusWorking || s == TaskStatusStopping
}

// IsBusy is true until the task completes.
func (s TaskStatus) IsBusy() bool {
	return s == TaskStatusInQueue || s.IsWorking()
}

// MediaType classifies how a release source is laid out on disk.
type MediaType string

const (
	MediaTypeIndividual MediaType = "individual"
	MediaTypeCollection MediaType = "collection"
	MediaTypeDisc       MediaType = "disc"
)

// ScreenshotInfo tracks a captured screenshot and, once uploaded, its remote links.
type ScreenshotInfo struct {
	LocalPath    string
	Timestamp    time.Duration
	FullImageURL string
	ThumbnailURL string
}

// Uploaded reports whether the screenshot has a remote URL.
func (s ScreenshotInfo) Uploaded() bool {
	return s.FullImageURL != ""
}

// MediaFile is a single analysed file belonging to a release.
type MediaFile struct {
	FilePath        string
	Duration        time.Duration
	ShortSummary    string
	CompleteSummary string
	Screenshots     []ScreenshotInfo
}

// FileName returns the base name of the file.
func (m MediaFile) FileName() string {
	return filepath.Base(m.FilePath)
}

func (m MediaFile) clone() MediaFile {
	out := m
	if m.Screenshots != nil {
		out.Screenshots = make([]ScreenshotInfo, len(m.Screenshots))
		copy(out.Screenshots, m.Screenshots)
	}
	return out
}

// Media describes the release source: a file, a set of files, or a disc folder.
type Media struct {
	Location string
	Type     MediaType
	Title    string
	Source   string
	WebLink  string
	Files    []MediaFile
	// Overall is the aggregate object used for disc media.
	Overall *MediaFile
}

// Name returns the media base name used for artifact file names. It reads
// only the location string and the media type.
func (m Media) Name() string {
	return MediaName(m.Location, m.Type == MediaTypeCollection || m.Type == MediaTypeDisc)
}

// DisplayTitle prefers the user supplied title over the media name.
func (m Media) DisplayTitle() string {
	if t := strings.TrimSpace(m.Title); t != "" {
		return t
	}
	return m.Name()
}

func (m Media) clone() Media {
	out := m
	if m.Files != nil {
		out.Files = make([]MediaFile, len(m.Files))
		for i := range m.Files {
			out.Files[i] = m.Files[i].clone()
		}
	}
	if m.Overall != nil {
		overall := m.Overall.clone()
		out.Overall = &overall
	}
	return out
}

// MediaName strips the extension of a file name. Folder names are kept whole:
// "Show.S01" stays "Show.S01".
func MediaName(location string, folder bool) string {
	base := filepath.Base(filepath.Clean(location))
	if folder {
		return base
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// TrackerGroup is a distribution endpoint; Host names the torrent sub-folder.
type TrackerGroup struct {
	AnnounceURL string
	Host        string
}

// NewTrackerGroup parses an announce URL and derives its host key.
func NewTrackerGroup(announce string) (TrackerGroup, error) {
	announce = strings.TrimSpace(announce)
	u, err := url.Parse(announce)
	if err != nil {
		return TrackerGroup{}, fmt.Errorf("parse announce url %q: %w", announce, err)
	}
	if u.Hostname() == "" {
		return TrackerGroup{}, fmt.Errorf("announce url %q has no host", announce)
	}
	return TrackerGroup{AnnounceURL: announce, Host: u.Hostname()}, nil
}

// PublishType selects how the release description is produced.
type PublishType string

const (
	PublishTypeTemplate  PublishType = "template"
	PublishTypeExternal  PublishType = "external"
	PublishTypeMediaInfo PublishType = "mediainfo"
)

// PublishOptions controls description rendering.
type PublishOptions struct {
	Type             PublishType
	TemplatePath     string
	AlignCenter      bool
	PreformattedText bool
	FullPicture      bool
}

// MediaOptions toggles the optional pipeline stages.
type MediaOptions struct {
	CreateScreenshots bool
	UploadScreenshots bool
	KeepScreenshots   bool
	CreateTorrent     bool
	WritePublish      bool
	WriteXML          bool
}

// TaskSettings is the per-task configuration snapshot. Only the owning task mutates it.
type TaskSettings struct {
	Media            Media
	Options          MediaOptions
	Trackers         []TrackerGroup
	TorrentFolder    string
	ScreenshotFolder string
	Publish          PublishOptions
	ImageUploader    string
}

// Clone returns a deep copy safe to hand to observers.
func (ts TaskSettings) Clone() TaskSettings {
	out := ts
	out.Media = ts.Media.clone()
	if ts.Trackers != nil {
		out.Trackers = make([]TrackerGroup, len(ts.Trackers))
		copy(out.Trackers, ts.Trackers)
	}
	return out
}

// ScreenshotDir returns the capture directory for a media file.
func (ts TaskSettings) ScreenshotDir(mf MediaFile) string {
	if ts.ScreenshotFolder != "" {
		return ts.ScreenshotFolder
	}
	return filepath.Join(filepath.Dir(mf.FilePath), "screenshots")
}

// TorrentFile records a torrent produced for one tracker.
type TorrentFile struct {
	Tracker  string
	Host     string
	Path     string
	InfoHash string
}

// TaskInfo carries the observable state of a task.
type TaskInfo struct {
	StatusMessage   string
	UploadProgress  float64
	TorrentProgress float64
	StartTime       time.Time
	EndTime         time.Time
	PublishText     string
	PublishPath     string
	DescriptorPath  string
	TorrentFiles    []TorrentFile
	Settings        TaskSettings
}

// Clone returns a deep copy of the info.
func (ti TaskInfo) Clone() TaskInfo {
	out := ti
	out.Settings = ti.Settings.Clone()
	if ti.TorrentFiles != nil {
		out.TorrentFiles = make([]TorrentFile, len(ti.TorrentFiles))
		copy(out.TorrentFiles, ti.TorrentFiles)
	}
	return out
}

// Duration is the elapsed run time, zero until the task ends.
func (ti TaskInfo) Duration() time.Duration {
	if ti.StartTime.IsZero() || ti.EndTime.IsZero() {
		return 0
	}
	return ti.EndTime.Sub(ti.StartTime)
}
