// Package media turns user supplied paths into task settings.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
	"release-maker/internal/mediainfo"
)

// DefaultExtensions lists the video containers picked up from directories.
var DefaultExtensions = []string{
	".avi", ".m2ts", ".m4v", ".mkv", ".mov", ".mp4", ".mpeg", ".mpg", ".ts", ".vob", ".webm", ".wmv",
}

var ErrNoMedia = errors.New("no media files found")

// DiscKind identifies disc folder layouts.
type DiscKind string

const (
	DiscNone   DiscKind = ""
	DiscBluray DiscKind = "Blu-ray"
	DiscDVD    DiscKind = "DVD"
)

// Classifier builds task settings from paths.
type Classifier struct {
	Extensions []string
	// DiscAnalyzer summarises the aggregate file of disc media ahead of the
	// task, which skips its own analysis for discs.
	DiscAnalyzer mediainfo.Analyzer
	// Split turns every path into its own task instead of one collection.
	Split  bool
	Logger *logrus.Logger
}

func NewClassifier(extensions []string, discAnalyzer mediainfo.Analyzer, logger *logrus.Logger) *Classifier {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Classifier{Extensions: extensions, DiscAnalyzer: discAnalyzer, Logger: logger}
}

// DetectDisc reports the disc layout of dir.
func DetectDisc(dir string) DiscKind {
	if isDir(filepath.Join(dir, "BDMV")) {
		return DiscBluray
	}
	if isDir(filepath.Join(dir, "VIDEO_TS")) {
		return DiscDVD
	}
	return DiscNone
}

// Classify decides the media type for a set of paths.
func (c *Classifier) Classify(paths []string) (domain.MediaType, error) {
	if len(paths) == 0 {
		return "", ErrNoMedia
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	if len(paths) > 1 {
		return domain.MediaTypeCollection, nil
	}
	if !isDir(paths[0]) {
		return domain.MediaTypeIndividual, nil
	}
	if DetectDisc(paths[0]) != DiscNone {
		return domain.MediaTypeDisc, nil
	}
	return domain.MediaTypeCollection, nil
}

// Build returns one TaskSettings per task to run. Every result starts as a
// copy of base with its Media filled in.
func (c *Classifier) Build(ctx context.Context, paths []string, base domain.TaskSettings) ([]domain.TaskSettings, error) {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, filepath.Clean(p))
		}
	}
	if len(cleaned) > 1 && !c.Split {
		ts, err := c.collection(cleaned, base)
		if err != nil {
			return nil, err
		}
		return []domain.TaskSettings{ts}, nil
	}

	var out []domain.TaskSettings
	for _, p := range cleaned {
		ts, err := c.single(ctx, p, base)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	if len(out) == 0 {
		return nil, ErrNoMedia
	}
	return out, nil
}

func (c *Classifier) single(ctx context.Context, path string, base domain.TaskSettings) (domain.TaskSettings, error) {
	kind, err := c.Classify([]string{path})
	if err != nil {
		return domain.TaskSettings{}, err
	}
	switch kind {
	case domain.MediaTypeIndividual:
		return withMedia(base, domain.Media{
			Location: path,
			Type:     kind,
			Files:    []domain.MediaFile{{FilePath: path}},
		}), nil
	case domain.MediaTypeDisc:
		return c.disc(ctx, path, base)
	default:
		return c.collection([]string{path}, base)
	}
}

func (c *Classifier) collection(paths []string, base domain.TaskSettings) (domain.TaskSettings, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	var files []string
	for _, p := range sorted {
		if isDir(p) {
			found, err := c.mediaFiles(p)
			if err != nil {
				return domain.TaskSettings{}, err
			}
			files = append(files, found...)
			continue
		}
		if _, err := os.Stat(p); err != nil {
			c.Logger.Warnf("skipping %s: %v", p, err)
			continue
		}
		files = append(files, p)
	}
	if len(files) == 0 {
		return domain.TaskSettings{}, fmt.Errorf("%w in %s", ErrNoMedia, strings.Join(paths, ", "))
	}

	location := sorted[0]
	if !isDir(location) {
		location = filepath.Dir(location)
	}
	media := domain.Media{Location: location, Type: domain.MediaTypeCollection}
	for _, f := range files {
		media.Files = append(media.Files, domain.MediaFile{FilePath: f})
	}
	return withMedia(base, media), nil
}

func (c *Classifier) disc(ctx context.Context, dir string, base domain.TaskSettings) (domain.TaskSettings, error) {
	largest, err := largestFile(dir)
	if err != nil {
		return domain.TaskSettings{}, err
	}
	overall := &domain.MediaFile{FilePath: largest}
	if c.DiscAnalyzer != nil {
		if err := c.DiscAnalyzer.ReadMedia(ctx, overall); err != nil {
			c.Logger.WithField("disc", dir).Warnf("summarise disc: %v", err)
		}
	}
	media := domain.Media{
		Location: dir,
		Type:     domain.MediaTypeDisc,
		Overall:  overall,
	}
	ts := withMedia(base, media)
	if ts.Media.Source == "" {
		ts.Media.Source = string(DetectDisc(dir))
	}
	return ts, nil
}

func withMedia(base domain.TaskSettings, media domain.Media) domain.TaskSettings {
	ts := base.Clone()
	media.Title = base.Media.Title
	media.Source = base.Media.Source
	media.WebLink = base.Media.WebLink
	ts.Media = media
	return ts
}

// mediaFiles walks dir for files with a supported extension, sorted by path.
func (c *Classifier) mediaFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !c.supported(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func (c *Classifier) supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func largestFile(dir string) (string, error) {
	var (
		best string
		size int64 = -1
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > size {
			best, size = path, info.Size()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan disc %s: %w", dir, err)
	}
	if best == "" {
		return "", fmt.Errorf("%w in disc %s", ErrNoMedia, dir)
	}
	return best, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
