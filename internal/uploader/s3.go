package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"release-maker/internal/storage"
)

const S3ServiceName = "s3"

// S3ImageService hosts screenshots in an S3 bucket.
type S3ImageService struct {
	Store  storage.Service
	Logger *logrus.Logger
}

func NewS3ImageService(store storage.Service, logger *logrus.Logger) *S3ImageService {
	if logger == nil {
		logger = logrus.New()
	}
	return &S3ImageService{Store: store, Logger: logger}
}

func (s *S3ImageService) Name() string { return S3ServiceName }

func (s *S3ImageService) CheckConfig(cfg Config) bool {
	return s.Store != nil && strings.TrimSpace(cfg.S3.Bucket) != ""
}

func (s *S3ImageService) CreateUploader(cfg Config) (Uploader, error) {
	if !s.CheckConfig(cfg) {
		return nil, errors.New("s3 image uploader is not configured")
	}
	return &s3ImageUploader{
		store:     s.Store,
		cfg:       cfg.S3,
		namespace: cfg.Namespace,
		logger:    s.Logger,
		now:       time.Now,
	}, nil
}

var _ Service = (*S3ImageService)(nil)

type s3ImageUploader struct {
	store     storage.Service
	cfg       S3Config
	namespace string
	logger    *logrus.Logger
	now       func() time.Time
}

func (u *s3ImageUploader) Upload(ctx context.Context, body io.Reader, fileName string, progress ProgressFunc) Result {
	data, err := io.ReadAll(body)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("read %s: %v", fileName, err)}}
	}

	base := path.Join(KeyPrefix(u.cfg.KeyPrefix, u.namespace), u.now().UTC().Format("2006/01/02"), uuid.NewString())
	key := path.Join(base, filepath.Base(fileName))

	opts := storage.UploadOptions{
		Bucket:      u.cfg.Bucket,
		ContentType: mime.TypeByExtension(filepath.Ext(fileName)),
		Size:        int64(len(data)),
	}
	if progress != nil {
		opts.ProgressCallback = progress
	}
	if _, err := u.store.UploadObject(ctx, key, bytes.NewReader(data), opts); err != nil {
		return Result{Errors: []string{err.Error()}}
	}

	link, err := u.objectURL(ctx, key)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	result := Result{URL: link, ThumbnailURL: link}

	if u.cfg.ThumbnailWidth <= 0 {
		return result
	}
	thumb, err := scaleToWidth(data, u.cfg.ThumbnailWidth)
	if err != nil {
		u.logger.WithField("file", fileName).Warnf("thumbnail skipped: %v", err)
		return result
	}
	if thumb == nil {
		return result
	}
	thumbKey := path.Join(base, strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))+"_thumb.jpg")
	if _, err := u.store.UploadObject(ctx, thumbKey, bytes.NewReader(thumb), storage.UploadOptions{
		Bucket:      u.cfg.Bucket,
		ContentType: "image/jpeg",
		Size:        int64(len(thumb)),
	}); err != nil {
		u.logger.WithField("file", fileName).Warnf("thumbnail upload failed: %v", err)
		return result
	}
	if thumbLink, err := u.objectURL(ctx, thumbKey); err == nil {
		result.ThumbnailURL = thumbLink
	}
	return result
}

func (u *s3ImageUploader) objectURL(ctx context.Context, key string) (string, error) {
	if base := strings.TrimRight(u.cfg.PublicBaseURL, "/"); base != "" {
		return base + "/" + key, nil
	}
	return u.store.GetObjectURL(ctx, u.cfg.Bucket, key, u.cfg.PresignTTL)
}

// scaleToWidth returns a JPEG thumbnail, or nil when the image is already narrow enough.
func scaleToWidth(data []byte, width int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	if b.Dx() <= width {
		return nil, nil
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
