package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"release-maker/internal/domain"
	"release-maker/internal/pipeline"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:8080" || cfg.Database.Path != "data/releases.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Output.TorrentLocation != LocationKnown || cfg.Output.ScreenshotLocation != LocationParent {
		t.Fatalf("unexpected output defaults: %+v", cfg.Output)
	}
	if cfg.Pipeline.SuccessPolicy != string(pipeline.SuccessLastWrite) || cfg.Pipeline.MaxConcurrent != 0 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.LogLevel() != logrus.InfoLevel || cfg.TokenTTL() != 24*time.Hour {
		t.Fatalf("unexpected ambient defaults")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  trackers:
    - https://tracker.one/announce
  capturelimit: 2
  calltimeoutseconds: 30
  successpolicy: all
torrent:
  private: false
  source: RM
storage:
  bucket: shots
`)
	t.Setenv("RELEASE_STORAGE_KEYPREFIX", "env-prefix")
	t.Setenv("RELEASE_LOG_LEVEL", "debug")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.KeyPrefix != "env-prefix" || cfg.LogLevel() != logrus.DebugLevel {
		t.Fatalf("env override not applied: %+v", cfg.Storage)
	}

	pc, err := cfg.PipelineConfig(nil)
	if err != nil {
		t.Fatalf("pipeline config: %v", err)
	}
	if pc.CaptureLimit != 2 || pc.CallTimeout != 30*time.Second || pc.SuccessPolicy != pipeline.SuccessAll {
		t.Fatalf("pipeline config = %+v", pc)
	}
	if pc.TorrentOptions.Private || pc.TorrentOptions.Source != "RM" {
		t.Fatalf("torrent options = %+v", pc.TorrentOptions)
	}
	if pc.UploaderConfig.S3.Bucket != "shots" || pc.UploaderConfig.S3.KeyPrefix != "env-prefix" {
		t.Fatalf("uploader config = %+v", pc.UploaderConfig)
	}

	base, err := cfg.BaseSettings()
	if err != nil {
		t.Fatalf("base settings: %v", err)
	}
	if len(base.Trackers) != 1 || base.Trackers[0].Host != "tracker.one" {
		t.Fatalf("trackers = %+v", base.Trackers)
	}
	if !base.Options.CreateTorrent || base.ImageUploader != "s3" {
		t.Fatalf("base settings = %+v", base)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"location": "output:\n  torrentlocation: elsewhere\n",
		"custom":   "output:\n  torrentlocation: custom\n",
		"policy":   "pipeline:\n  successpolicy: majority\n",
		"tracker":  "pipeline:\n  trackers: [\"not a url\"]\n",
		"publish":  "publish:\n  type: external\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFile(writeConfig(t, body)); !errors.Is(err, pipeline.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestResolveFolders(t *testing.T) {
	var cfg Config
	cfg.Output.DataDir = "/srv/data"
	ts := domain.TaskSettings{Media: domain.Media{Location: "/media/show/Episode.mkv"}}

	cfg.Output.TorrentLocation = LocationKnown
	cfg.Output.ScreenshotLocation = LocationParent
	cfg.ResolveFolders(&ts)
	if ts.TorrentFolder != filepath.Join("/srv/data", "torrents") || ts.ScreenshotFolder != "" {
		t.Fatalf("known/parent = %q %q", ts.TorrentFolder, ts.ScreenshotFolder)
	}

	cfg.Output.TorrentLocation = LocationParent
	cfg.Output.ScreenshotLocation = LocationKnown
	cfg.ResolveFolders(&ts)
	if ts.TorrentFolder != "/media/show" || ts.ScreenshotFolder != filepath.Join("/srv/data", "screenshots", "Episode") {
		t.Fatalf("parent/known = %q %q", ts.TorrentFolder, ts.ScreenshotFolder)
	}

	cfg.Output.TorrentLocation = LocationCustom
	cfg.Output.CustomTorrentDir = "/out"
	cfg.Output.ScreenshotLocation = LocationCustom
	cfg.Output.CustomScreenshotDir = "/shots"
	cfg.ResolveFolders(&ts)
	if ts.TorrentFolder != "/out" || ts.ScreenshotFolder != "/shots" {
		t.Fatalf("custom = %q %q", ts.TorrentFolder, ts.ScreenshotFolder)
	}
}
