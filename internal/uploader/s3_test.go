package uploader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"release-maker/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) UploadObject(_ context.Context, key string, body io.Reader, opts storage.UploadOptions) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if opts.ProgressCallback != nil {
		opts.ProgressCallback(int64(len(data)), opts.Size)
	}
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return "s3://" + opts.Bucket + "/" + key, nil
}

func (f *fakeStore) ListObjects(context.Context, string, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStore) DeletePrefix(context.Context, string, string) error { return nil }

func (f *fakeStore) GetObjectURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + bucket + "/" + key, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestS3ImageServiceCheckConfig(t *testing.T) {
	svc := NewS3ImageService(newFakeStore(), logrus.New())
	if svc.CheckConfig(Config{}) {
		t.Fatal("expected missing bucket to fail config check")
	}
	if !svc.CheckConfig(Config{S3: S3Config{Bucket: "shots"}}) {
		t.Fatal("expected bucket to pass config check")
	}
	if _, err := svc.CreateUploader(Config{}); err == nil {
		t.Fatal("expected CreateUploader to fail without config")
	}
}

func TestS3UploaderUploadsImageAndThumbnail(t *testing.T) {
	store := newFakeStore()
	svc := NewS3ImageService(store, logrus.New())
	up, err := svc.CreateUploader(Config{S3: S3Config{
		Bucket:         "shots",
		KeyPrefix:      "releases",
		PublicBaseURL:  "https://cdn.example/",
		ThumbnailWidth: 40,
	}})
	if err != nil {
		t.Fatalf("CreateUploader failed: %v", err)
	}

	var progressCalls int
	res := up.Upload(context.Background(), bytes.NewReader(pngBytes(t, 200, 100)), "movie-01.png", func(done, total int64) {
		progressCalls++
		if done != total {
			t.Errorf("expected completed progress, got %d/%d", done, total)
		}
	})
	if !res.OK() {
		t.Fatalf("expected success, got errors %v", res.Errors)
	}
	if !strings.HasPrefix(res.URL, "https://cdn.example/releases/") || !strings.HasSuffix(res.URL, "/movie-01.png") {
		t.Fatalf("unexpected url: %s", res.URL)
	}
	if !strings.HasSuffix(res.ThumbnailURL, "/movie-01_thumb.jpg") {
		t.Fatalf("unexpected thumbnail url: %s", res.ThumbnailURL)
	}
	if progressCalls == 0 {
		t.Fatal("expected progress callback")
	}

	var thumb []byte
	for key, data := range store.objects {
		if strings.HasSuffix(key, "_thumb.jpg") {
			thumb = data
		}
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 20 {
		t.Fatalf("expected 40x20 thumbnail, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestS3UploaderPresignsWithoutPublicBase(t *testing.T) {
	svc := NewS3ImageService(newFakeStore(), logrus.New())
	up, _ := svc.CreateUploader(Config{S3: S3Config{Bucket: "shots"}})
	res := up.Upload(context.Background(), bytes.NewReader([]byte("not an image")), "a.png", nil)
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Errors)
	}
	if !strings.HasPrefix(res.URL, "https://signed.example/shots/") {
		t.Fatalf("expected presigned url, got %s", res.URL)
	}
	if res.ThumbnailURL != res.URL {
		t.Fatalf("expected thumbnail to fall back to full url")
	}
}

func TestS3UploaderReportsStorageFailure(t *testing.T) {
	store := newFakeStore()
	store.uploadErr = errors.New("network down")
	svc := NewS3ImageService(store, logrus.New())
	up, _ := svc.CreateUploader(Config{S3: S3Config{Bucket: "shots"}})
	res := up.Upload(context.Background(), bytes.NewReader([]byte("x")), "a.png", nil)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error(), "network down") {
		t.Fatalf("unexpected error text: %s", res.Error())
	}
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	reg := NewRegistry(NewS3ImageService(newFakeStore(), nil))
	if _, ok := reg.Get(" S3 "); !ok {
		t.Fatal("expected lookup to succeed")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "s3" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestS3UploaderNamespacesKeys(t *testing.T) {
	store := newFakeStore()
	svc := NewS3ImageService(store, logrus.New())
	up, err := svc.CreateUploader(Config{Namespace: "release-1", S3: S3Config{Bucket: "shots", KeyPrefix: "/releases/"}})
	if err != nil {
		t.Fatalf("CreateUploader failed: %v", err)
	}
	if res := up.Upload(context.Background(), bytes.NewReader([]byte("x")), "a.png", nil); !res.OK() {
		t.Fatalf("upload failed: %v", res.Errors)
	}
	want := KeyPrefix("/releases/", "release-1") + "/"
	if want != "releases/release-1/" {
		t.Fatalf("KeyPrefix = %q", want)
	}
	for key := range store.objects {
		if !strings.HasPrefix(key, want) {
			t.Fatalf("key %q outside namespace %q", key, want)
		}
	}
}
