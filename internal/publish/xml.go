package publish

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"release-maker/internal/domain"
)

// UploadDescriptor is the XML document handed to tracker upload tools.
type UploadDescriptor struct {
	XMLName     xml.Name       `xml:"TorrentUpload"`
	Title       string         `xml:"Title"`
	MediaName   string         `xml:"MediaName"`
	MediaType   string         `xml:"MediaType"`
	Source      string         `xml:"Source,omitempty"`
	WebLink     string         `xml:"WebLink,omitempty"`
	Description string         `xml:"Description"`
	MediaInfo   []string       `xml:"MediaInfo>Summary"`
	Screenshots []string       `xml:"Screenshots>Url"`
	Torrents    []TorrentEntry `xml:"Torrents>Torrent"`
}

// TorrentEntry lists one produced torrent.
type TorrentEntry struct {
	Tracker  string `xml:"tracker,attr"`
	InfoHash string `xml:"infohash,attr,omitempty"`
	Path     string `xml:",chardata"`
}

// NewUploadDescriptor collects the descriptor fields from a task snapshot.
func NewUploadDescriptor(info domain.TaskInfo) UploadDescriptor {
	m := info.Settings.Media
	d := UploadDescriptor{
		Title:       m.DisplayTitle(),
		MediaName:   m.Name(),
		MediaType:   string(m.Type),
		Source:      m.Source,
		WebLink:     m.WebLink,
		Description: info.PublishText,
	}
	files := m.Files
	if m.Type == domain.MediaTypeDisc && m.Overall != nil {
		files = []domain.MediaFile{*m.Overall}
	}
	for _, mf := range files {
		if mf.CompleteSummary != "" {
			d.MediaInfo = append(d.MediaInfo, mf.CompleteSummary)
		}
		for _, s := range mf.Screenshots {
			if s.Uploaded() {
				d.Screenshots = append(d.Screenshots, s.FullImageURL)
			}
		}
	}
	for _, tf := range info.TorrentFiles {
		d.Torrents = append(d.Torrents, TorrentEntry{Tracker: tf.Host, InfoHash: tf.InfoHash, Path: tf.Path})
	}
	return d
}

// WriteUploadDescriptor writes d as indented XML to path.
func WriteUploadDescriptor(path string, d UploadDescriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create descriptor dir: %w", err)
	}
	out, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	out = append([]byte(xml.Header), out...)
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}
