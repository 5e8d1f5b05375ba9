package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"release-maker/internal/domain"
	"release-maker/internal/pipeline"
	"release-maker/internal/thumbnail"
	"release-maker/internal/torrent"
	"release-maker/internal/uploader"
)

// Folder locations for torrents and screenshots.
const (
	LocationKnown  = "known"
	LocationParent = "parent"
	LocationCustom = "custom"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Log struct {
		Level string
	}
	Auth struct {
		JWTSecret        string
		RegisterPassword string
		TokenTTLMinutes  int
	}
	Output struct {
		DataDir             string
		TorrentLocation     string
		CustomTorrentDir    string
		ScreenshotLocation  string
		CustomScreenshotDir string
	}
	Storage struct {
		Bucket         string
		KeyPrefix      string
		Region         string
		Endpoint       string
		PublicBaseURL  string
		PresignMinutes int
		ThumbnailWidth int
	}
	AWS struct {
		Profile string
	}
	Pipeline struct {
		CreateScreenshots  bool
		UploadScreenshots  bool
		KeepScreenshots    bool
		CreateTorrent      bool
		WritePublish       bool
		WriteXML           bool
		Trackers           []string
		CaptureLimit       int
		UploadLimit        int
		CallTimeoutSeconds int
		SuccessPolicy      string
		MaxConcurrent      int
	}
	Publish struct {
		Type         string
		TemplatePath string
		AlignCenter  bool
		PreText      bool
		FullPicture  bool
	}
	Thumbnail struct {
		FFmpegPath  string
		FFprobePath string
		Count       int
		Width       int
		Format      string
	}
	Torrent struct {
		Private     bool
		CreatedBy   string
		Source      string
		PieceLength int64
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path falls back to
// an optional config.{yaml,toml,json} in the working directory.
func LoadFile(path string) (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("RELEASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional file
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/releases.db")
	v.SetDefault("log.level", "info")

	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.registerpassword", "")
	v.SetDefault("auth.tokenttlminutes", 24*60)

	v.SetDefault("output.datadir", "data")
	v.SetDefault("output.torrentlocation", LocationKnown)
	v.SetDefault("output.customtorrentdir", "")
	v.SetDefault("output.screenshotlocation", LocationParent)
	v.SetDefault("output.customscreenshotdir", "")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "release-screenshots")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.publicbaseurl", "")
	v.SetDefault("storage.presignminutes", 7*24*60)
	v.SetDefault("storage.thumbnailwidth", 350)
	v.SetDefault("aws.profile", "")

	v.SetDefault("pipeline.createscreenshots", true)
	v.SetDefault("pipeline.uploadscreenshots", false)
	v.SetDefault("pipeline.keepscreenshots", false)
	v.SetDefault("pipeline.createtorrent", true)
	v.SetDefault("pipeline.writepublish", true)
	v.SetDefault("pipeline.writexml", false)
	v.SetDefault("pipeline.trackers", []string{})
	v.SetDefault("pipeline.capturelimit", 0)
	v.SetDefault("pipeline.uploadlimit", 0)
	v.SetDefault("pipeline.calltimeoutseconds", 0)
	v.SetDefault("pipeline.successpolicy", string(pipeline.SuccessLastWrite))
	v.SetDefault("pipeline.maxconcurrent", 0)

	v.SetDefault("publish.type", string(domain.PublishTypeTemplate))
	v.SetDefault("publish.templatepath", "")
	v.SetDefault("publish.aligncenter", false)
	v.SetDefault("publish.pretext", true)
	v.SetDefault("publish.fullpicture", false)

	v.SetDefault("thumbnail.ffmpegpath", "ffmpeg")
	v.SetDefault("thumbnail.ffprobepath", "ffprobe")
	v.SetDefault("thumbnail.count", 3)
	v.SetDefault("thumbnail.width", 0)
	v.SetDefault("thumbnail.format", "png")

	v.SetDefault("torrent.private", true)
	v.SetDefault("torrent.createdby", "release-maker")
	v.SetDefault("torrent.source", "")
	v.SetDefault("torrent.piecelength", 0)
}

// Validate rejects settings that no task could run with.
func (c Config) Validate() error {
	for name, loc := range map[string]string{
		"output.torrentlocation":    c.Output.TorrentLocation,
		"output.screenshotlocation": c.Output.ScreenshotLocation,
	} {
		switch loc {
		case LocationKnown, LocationParent:
		case LocationCustom:
			if strings.HasPrefix(name, "output.torrent") && strings.TrimSpace(c.Output.CustomTorrentDir) == "" {
				return fmt.Errorf("%w: %s is custom but output.customtorrentdir is empty", pipeline.ErrConfiguration, name)
			}
			if strings.HasPrefix(name, "output.screenshot") && strings.TrimSpace(c.Output.CustomScreenshotDir) == "" {
				return fmt.Errorf("%w: %s is custom but output.customscreenshotdir is empty", pipeline.ErrConfiguration, name)
			}
		default:
			return fmt.Errorf("%w: %s must be one of known, parent, custom (got %q)", pipeline.ErrConfiguration, name, loc)
		}
	}
	if _, err := pipeline.ParseSuccessPolicy(c.Pipeline.SuccessPolicy); err != nil {
		return err
	}
	switch domain.PublishType(c.Publish.Type) {
	case domain.PublishTypeTemplate, domain.PublishTypeMediaInfo:
	case domain.PublishTypeExternal:
		if strings.TrimSpace(c.Publish.TemplatePath) == "" {
			return fmt.Errorf("%w: publish.type external needs publish.templatepath", pipeline.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown publish.type %q", pipeline.ErrConfiguration, c.Publish.Type)
	}
	if _, err := c.TrackerGroups(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", pipeline.ErrConfiguration, err)
	}
	return nil
}

// LogLevel returns the configured logrus level, info when unparsable.
func (c Config) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// TrackerGroups parses the configured announce URLs. Blank entries are skipped.
func (c Config) TrackerGroups() ([]domain.TrackerGroup, error) {
	var groups []domain.TrackerGroup
	for _, raw := range c.Pipeline.Trackers {
		for _, announce := range strings.Fields(raw) {
			tg, err := domain.NewTrackerGroup(announce)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", pipeline.ErrConfiguration, err)
			}
			groups = append(groups, tg)
		}
	}
	return groups, nil
}

// UploaderConfig maps the storage section onto the image uploader settings.
func (c Config) UploaderConfig() uploader.Config {
	return uploader.Config{
		S3: uploader.S3Config{
			Bucket:         c.Storage.Bucket,
			KeyPrefix:      c.Storage.KeyPrefix,
			PublicBaseURL:  c.Storage.PublicBaseURL,
			PresignTTL:     time.Duration(c.Storage.PresignMinutes) * time.Minute,
			ThumbnailWidth: c.Storage.ThumbnailWidth,
		},
	}
}

// PipelineConfig returns the task configuration without collaborators; the
// caller wires analyzer, thumbnailer, uploaders and torrent builder.
func (c Config) PipelineConfig(logger *logrus.Logger) (pipeline.Config, error) {
	policy, err := pipeline.ParseSuccessPolicy(c.Pipeline.SuccessPolicy)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		UploaderConfig: c.UploaderConfig(),
		ThumbnailOptions: thumbnail.Options{
			Count:  c.Thumbnail.Count,
			Width:  c.Thumbnail.Width,
			Format: c.Thumbnail.Format,
		},
		TorrentOptions: torrent.Options{
			Private:     c.Torrent.Private,
			CreatedBy:   c.Torrent.CreatedBy,
			Source:      c.Torrent.Source,
			PieceLength: c.Torrent.PieceLength,
		},
		CaptureLimit:  c.Pipeline.CaptureLimit,
		UploadLimit:   c.Pipeline.UploadLimit,
		CallTimeout:   time.Duration(c.Pipeline.CallTimeoutSeconds) * time.Second,
		SuccessPolicy: policy,
		Logger:        logger,
	}, nil
}

func (c Config) ManagerConfig(logger *logrus.Logger) pipeline.ManagerConfig {
	return pipeline.ManagerConfig{MaxConcurrent: c.Pipeline.MaxConcurrent, Logger: logger}
}

// BaseSettings returns the task settings shared by every release. Media and
// folders are filled in per task.
func (c Config) BaseSettings() (domain.TaskSettings, error) {
	trackers, err := c.TrackerGroups()
	if err != nil {
		return domain.TaskSettings{}, err
	}
	return domain.TaskSettings{
		Options: domain.MediaOptions{
			CreateScreenshots: c.Pipeline.CreateScreenshots,
			UploadScreenshots: c.Pipeline.UploadScreenshots,
			KeepScreenshots:   c.Pipeline.KeepScreenshots,
			CreateTorrent:     c.Pipeline.CreateTorrent,
			WritePublish:      c.Pipeline.WritePublish,
			WriteXML:          c.Pipeline.WriteXML,
		},
		Trackers: trackers,
		Publish: domain.PublishOptions{
			Type:             domain.PublishType(c.Publish.Type),
			TemplatePath:     c.Publish.TemplatePath,
			AlignCenter:      c.Publish.AlignCenter,
			PreformattedText: c.Publish.PreText,
			FullPicture:      c.Publish.FullPicture,
		},
		ImageUploader: uploader.S3ServiceName,
	}, nil
}

// ResolveFolders sets the torrent and screenshot folders of ts from its media
// location. A parent screenshot location leaves ScreenshotFolder empty so each
// file gets a screenshots directory next to it.
func (c Config) ResolveFolders(ts *domain.TaskSettings) {
	parent := filepath.Dir(filepath.Clean(ts.Media.Location))

	switch c.Output.TorrentLocation {
	case LocationParent:
		ts.TorrentFolder = parent
	case LocationCustom:
		ts.TorrentFolder = c.Output.CustomTorrentDir
	default:
		ts.TorrentFolder = filepath.Join(c.Output.DataDir, "torrents")
	}

	switch c.Output.ScreenshotLocation {
	case LocationKnown:
		ts.ScreenshotFolder = filepath.Join(c.Output.DataDir, "screenshots", ts.Media.Name())
	case LocationCustom:
		ts.ScreenshotFolder = c.Output.CustomScreenshotDir
	default:
		ts.ScreenshotFolder = ""
	}
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
