// Package app wires configuration into the services shared by the server and
// the command line tool.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"release-maker/internal/config"
	"release-maker/internal/media"
	"release-maker/internal/mediainfo"
	"release-maker/internal/pipeline"
	"release-maker/internal/repository"
	"release-maker/internal/repository/sqlite"
	"release-maker/internal/service"
	"release-maker/internal/storage"
	"release-maker/internal/thumbnail"
	"release-maker/internal/torrent"
	"release-maker/internal/uploader"
)

// App holds the wired services. Close releases the database.
type App struct {
	Config   config.Config
	Logger   *logrus.Logger
	DB       *sql.DB
	Storage  storage.Service
	Users    repository.UserRepository
	Releases service.ReleaseService
	Manager  pipeline.Manager
	Launcher *service.Launcher
}

// NewLogger returns the logrus logger configured for cfg.
func NewLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(cfg.LogLevel())
	return logger
}

// New opens the history database, connects object storage when a bucket is
// configured and builds the release pipeline.
func New(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*App, error) {
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, DB: db}
	if err := a.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	releaseRepo := sqlite.NewReleaseRepository(a.DB)
	shotRepo := sqlite.NewReleaseScreenshotRepository(a.DB)
	artifactRepo := sqlite.NewReleaseArtifactRepository(a.DB)
	a.Users = sqlite.NewUserRepository(a.DB)

	if err := releaseRepo.Init(ctx); err != nil {
		return fmt.Errorf("init release repository: %w", err)
	}
	if err := shotRepo.Init(ctx); err != nil {
		return fmt.Errorf("init screenshot repository: %w", err)
	}
	if err := artifactRepo.Init(ctx); err != nil {
		return fmt.Errorf("init artifact repository: %w", err)
	}
	if err := a.Users.Init(ctx); err != nil {
		return fmt.Errorf("init user repository: %w", err)
	}

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}
	a.Storage = store

	a.Releases = service.NewReleaseService(releaseRepo, shotRepo, artifactRepo, store, service.RemoteConfig{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
	}, logger)

	pcfg, err := cfg.PipelineConfig(logger)
	if err != nil {
		return err
	}
	analyzer := mediainfo.NewFFprobeAnalyzer(cfg.Thumbnail.FFprobePath)
	pcfg.Analyzer = analyzer
	pcfg.Thumbnailer = thumbnail.NewFFmpegThumbnailer(cfg.Thumbnail.FFmpegPath)
	pcfg.Uploaders = uploader.NewRegistry(uploader.NewS3ImageService(store, logger))
	pcfg.TorrentBuilder = torrent.NewMetainfoBuilder()

	base, err := cfg.BaseSettings()
	if err != nil {
		return err
	}

	a.Manager = pipeline.NewManager(cfg.ManagerConfig(logger))
	a.Launcher = service.NewLauncher(service.LauncherConfig{
		Classifier:     media.NewClassifier(nil, analyzer, logger),
		Base:           base,
		ResolveFolders: cfg.ResolveFolders,
		Pipeline:       pcfg,
		Logger:         logger,
	}, a.Manager, a.Releases)
	return nil
}

// Close stops every task and closes the database.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Manager != nil {
		err = a.Manager.Shutdown(ctx)
	}
	if cerr := a.DB.Close(); err == nil {
		err = cerr
	}
	return err
}

// buildStorage returns nil without a bucket; uploads then ask for
// configuration instead of failing at startup.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Warn("storage bucket not configured, screenshot upload disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
