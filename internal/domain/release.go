package domain

import "time"

// ArtifactKind names a file written by a release task.
type ArtifactKind string

const (
	ArtifactPublish ArtifactKind = "publish"
	ArtifactTorrent ArtifactKind = "torrent"
	ArtifactXML     ArtifactKind = "xml"
)

// Release is the persisted history record of a task.
type Release struct {
	ID              string
	MediaName       string
	Location        string
	MediaType       MediaType
	Status          TaskStatus
	Success         bool
	StatusMessage   string
	UploadProgress  float64
	TorrentProgress float64
	PublishText     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	Screenshots     []ReleaseScreenshot
	Artifacts       []ReleaseArtifact
}

// ReleaseScreenshot is an uploaded screenshot of a release.
type ReleaseScreenshot struct {
	ID           int64
	ReleaseID    string
	LocalPath    string
	URL          string
	ThumbnailURL string
}

// ReleaseArtifact is a file produced by a release.
type ReleaseArtifact struct {
	ID        int64
	ReleaseID string
	Kind      ArtifactKind
	Path      string
	Tracker   string
	InfoHash  string
}
