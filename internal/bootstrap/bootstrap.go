// Package bootstrap provides dependency initialization for the avatar video API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/audio"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/cache"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/config"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/generator"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/job"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/media"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/scheduler"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/service"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service   *service.Service
	Scheduler *scheduler.Scheduler
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath)

	gen, err := generator.New(cfg.GeneratorBackend, generatorConfig(cfg), processor)
	if err != nil {
		return nil, fmt.Errorf("create generator backend: %w", err)
	}
	logger.Info("generator backend configured",
		slog.String("backend", gen.Name()),
	)

	repo := job.NewMemoryRepository()

	sched := scheduler.New(scheduler.Config{
		Workers:    cfg.WorkerCount,
		QueueSize:  cfg.QueueSize,
		JobTimeout: cfg.JobTimeout(),
	}, gen, repo, store, logger)

	var policy cache.Policy
	if cfg.CacheMaxEntries > 0 {
		policy = cache.MaxEntriesPolicy{Max: cfg.CacheMaxEntries}
	}
	index := cache.NewIndex(policy)

	svc := service.New(service.Config{
		CacheEnabled: cfg.CacheEnabled,
		SingleFlight: cfg.CacheSingleFlight,
	}, service.Deps{
		Repo:        repo,
		Store:       store,
		Scheduler:   sched,
		Generator:   gen,
		Synthesizer: audio.NewLocalSynthesizer(cfg.FFmpegPath),
		Converter:   audio.NewFFmpegConverter(cfg.FFmpegPath),
		Cache:       index,
		Logger:      logger,
	})

	return &Dependencies{
		Service:   svc,
		Scheduler: sched,
	}, nil
}

// generatorConfig maps the flat environment surface onto the per-backend
// sections the factory consumes.
func generatorConfig(cfg *config.Config) generator.Config {
	return generator.Config{
		Mock: generator.MockConfig{
			VideoSize: cfg.VideoSize,
			VideoFPS:  cfg.VideoFPS,
		},
		SadTalker: generator.SadTalkerConfig{
			RepoDir:    cfg.SadTalkerRepoDir,
			Python:     cfg.SadTalkerPython,
			Size:       cfg.SadTalkerSize,
			Preprocess: cfg.SadTalkerPreprocess,
			Enhancer:   cfg.SadTalkerEnhancer,
		},
		SVD: generator.SVDConfig{
			Script:                 cfg.SVDScript,
			Python:                 cfg.SVDPython,
			Width:                  cfg.SVDWidth,
			Height:                 cfg.SVDHeight,
			FPS:                    cfg.SVDFPS,
			NumFrames:              cfg.SVDNumFrames,
			NumInferenceSteps:      cfg.SVDNumInferenceSteps,
			MotionBucketID:         cfg.SVDMotionBucketID,
			NoiseAugStrength:       cfg.SVDNoiseAugStrength,
			Seed:                   cfg.SVDSeed,
			DType:                  cfg.SVDDType,
			EnableAttentionSlicing: cfg.SVDEnableAttentionSlicing,
			EnableCPUOffload:       cfg.SVDEnableCPUOffload,
			MaxPixels:              cfg.SVDMaxPixels,
			ExtendToAudio:          cfg.SVDExtendToAudio,
			ExtendStrategy:         cfg.SVDExtendStrategy,
		},
		Remote: generator.RemoteConfig{
			Endpoint:     cfg.RemoteEndpoint,
			APIKey:       cfg.RemoteAPIKey,
			PollInterval: cfg.RemotePollInterval(),
			MaxRetries:   cfg.RemoteMaxRetries,
		},
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(cfg.StorageDir, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 store: %w", err)
		}
		logger.Info("S3 publishing configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}
	logger.Info("local store configured",
		slog.String("dir", cfg.StorageDir),
	)
	return localStore, nil
}
