// Package uploader hosts screenshot images on a configured image service.
package uploader

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// Config is the uploader destination configuration shared by all services.
type Config struct {
	// Namespace groups the uploads of one release under a common key.
	Namespace string
	S3        S3Config
}

// KeyPrefix returns the object key prefix of namespace under prefix.
func KeyPrefix(prefix, namespace string) string {
	return path.Join(strings.Trim(prefix, "/"), namespace)
}

// S3Config configures the S3 image service.
type S3Config struct {
	Bucket         string
	KeyPrefix      string
	PublicBaseURL  string
	PresignTTL     time.Duration
	ThumbnailWidth int
}

// ProgressFunc receives transferred and total byte counts.
type ProgressFunc func(done, total int64)

// Result is the outcome of one upload. A result without URL or with errors is a failure.
type Result struct {
	URL          string
	ThumbnailURL string
	Errors       []string
}

// OK reports whether the upload produced a usable link.
func (r Result) OK() bool {
	return r.URL != "" && len(r.Errors) == 0
}

// Error joins the collected error messages.
func (r Result) Error() string {
	return strings.Join(r.Errors, "; ")
}

// Uploader transfers a single image.
type Uploader interface {
	Upload(ctx context.Context, body io.Reader, fileName string, progress ProgressFunc) Result
}

// Service creates uploaders for one hosting destination.
type Service interface {
	Name() string
	CheckConfig(cfg Config) bool
	CreateUploader(cfg Config) (Uploader, error)
}

// Registry resolves services by name.
type Registry struct {
	services map[string]Service
}

func NewRegistry(services ...Service) *Registry {
	r := &Registry{services: make(map[string]Service, len(services))}
	for _, s := range services {
		r.services[strings.ToLower(s.Name())] = s
	}
	return r
}

func (r *Registry) Get(name string) (Service, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.services[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
