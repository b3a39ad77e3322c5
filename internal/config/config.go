// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrRemoteEndpointRequired is returned when the remote backend is
	// selected without AVATAR_REMOTE_ENDPOINT.
	ErrRemoteEndpointRequired = errors.New("config: AVATAR_REMOTE_ENDPOINT is required for the remote backend")
	// ErrSadTalkerRepoRequired is returned when the sadtalker backend is
	// selected without AVATAR_SADTALKER_REPO_DIR.
	ErrSadTalkerRepoRequired = errors.New("config: AVATAR_SADTALKER_REPO_DIR is required for the sadtalker backend")
	// ErrInvalidWorkerCount is returned for a worker count below one.
	ErrInvalidWorkerCount = errors.New("config: AVATAR_WORKER_COUNT must be at least 1")
	// ErrInvalidQueueSize is returned for a queue capacity below one.
	ErrInvalidQueueSize = errors.New("config: AVATAR_QUEUE_SIZE must be at least 1")
)

// Config holds all configuration for the application. Backend tuning knobs
// left at zero defer to the backend's own defaults.
type Config struct {
	// Server settings
	Port             int      `env:"AVATAR_PORT, default=8000" json:"port"`
	CORSAllowOrigins []string `env:"AVATAR_CORS_ALLOW_ORIGINS, default=*" json:"cors_allow_origins"`
	MaxUploadMB      int64    `env:"AVATAR_MAX_UPLOAD_MB, default=32" json:"max_upload_mb"`

	// Storage settings
	StorageDir string `env:"AVATAR_STORAGE_DIR, default=storage" json:"storage_dir"`

	// Scheduler settings
	GeneratorBackend string `env:"AVATAR_GENERATOR_BACKEND, default=mock" json:"generator_backend"`
	WorkerCount      int    `env:"AVATAR_WORKER_COUNT, default=1" json:"worker_count"`
	QueueSize        int    `env:"AVATAR_QUEUE_SIZE, default=64" json:"queue_size"`
	JobTimeoutSec    int    `env:"AVATAR_JOB_TIMEOUT_SEC, default=1800" json:"job_timeout_sec"`

	// Result cache settings
	CacheEnabled      bool `env:"AVATAR_ENABLE_CACHE, default=true" json:"cache_enabled"`
	CacheMaxEntries   int  `env:"AVATAR_CACHE_MAX_ENTRIES, default=0" json:"cache_max_entries"`
	CacheSingleFlight bool `env:"AVATAR_CACHE_SINGLE_FLIGHT, default=false" json:"cache_single_flight"`

	// Media tooling
	FFmpegPath string `env:"AVATAR_FFMPEG_PATH" json:"ffmpeg_path,omitempty"`

	// Mock backend settings
	VideoSize int `env:"AVATAR_VIDEO_SIZE" json:"video_size,omitempty"`
	VideoFPS  int `env:"AVATAR_VIDEO_FPS" json:"video_fps,omitempty"`

	// SadTalker backend settings
	SadTalkerRepoDir    string `env:"AVATAR_SADTALKER_REPO_DIR" json:"sadtalker_repo_dir,omitempty"`
	SadTalkerPython     string `env:"AVATAR_SADTALKER_PYTHON" json:"sadtalker_python,omitempty"`
	SadTalkerSize       int    `env:"AVATAR_SADTALKER_SIZE" json:"sadtalker_size,omitempty"`
	SadTalkerPreprocess string `env:"AVATAR_SADTALKER_PREPROCESS" json:"sadtalker_preprocess,omitempty"`
	SadTalkerEnhancer   string `env:"AVATAR_SADTALKER_ENHANCER" json:"sadtalker_enhancer,omitempty"`

	// Stable Video Diffusion backend settings
	SVDScript                 string  `env:"AVATAR_SVD_SCRIPT" json:"svd_script,omitempty"`
	SVDPython                 string  `env:"AVATAR_SVD_PYTHON" json:"svd_python,omitempty"`
	SVDWidth                  int     `env:"AVATAR_SVD_WIDTH" json:"svd_width,omitempty"`
	SVDHeight                 int     `env:"AVATAR_SVD_HEIGHT" json:"svd_height,omitempty"`
	SVDFPS                    int     `env:"AVATAR_SVD_FPS" json:"svd_fps,omitempty"`
	SVDNumFrames              int     `env:"AVATAR_SVD_NUM_FRAMES" json:"svd_num_frames,omitempty"`
	SVDNumInferenceSteps      int     `env:"AVATAR_SVD_NUM_INFERENCE_STEPS" json:"svd_num_inference_steps,omitempty"`
	SVDMotionBucketID         int     `env:"AVATAR_SVD_MOTION_BUCKET_ID" json:"svd_motion_bucket_id,omitempty"`
	SVDNoiseAugStrength       float64 `env:"AVATAR_SVD_NOISE_AUG_STRENGTH" json:"svd_noise_aug_strength,omitempty"`
	SVDSeed                   *int64  `env:"AVATAR_SVD_SEED" json:"svd_seed,omitempty"`
	SVDDType                  string  `env:"AVATAR_SVD_DTYPE" json:"svd_dtype,omitempty"`
	SVDEnableAttentionSlicing bool    `env:"AVATAR_SVD_ENABLE_ATTENTION_SLICING" json:"svd_enable_attention_slicing,omitempty"`
	SVDEnableCPUOffload       bool    `env:"AVATAR_SVD_ENABLE_CPU_OFFLOAD" json:"svd_enable_cpu_offload,omitempty"`
	SVDMaxPixels              int     `env:"AVATAR_SVD_MAX_PIXELS" json:"svd_max_pixels,omitempty"`
	SVDExtendToAudio          bool    `env:"AVATAR_SVD_EXTEND_TO_AUDIO, default=true" json:"svd_extend_to_audio"`
	SVDExtendStrategy         string  `env:"AVATAR_SVD_EXTEND_STRATEGY" json:"svd_extend_strategy,omitempty"`

	// Remote backend settings
	RemoteEndpoint       string `env:"AVATAR_REMOTE_ENDPOINT" json:"remote_endpoint,omitempty"`
	RemoteAPIKey         string `env:"AVATAR_REMOTE_API_KEY" json:"-"` // Masked in JSON
	RemotePollIntervalMs int    `env:"AVATAR_REMOTE_POLL_INTERVAL_MS" json:"remote_poll_interval_ms,omitempty"`
	RemoteMaxRetries     int    `env:"AVATAR_REMOTE_MAX_RETRIES" json:"remote_max_retries,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"AVATAR_S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"AVATAR_S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"AVATAR_S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"AVATAR_LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"AVATAR_LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// JobTimeout returns the per-job generation budget.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

// MaxUploadBytes returns the multipart memory limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// RemotePollInterval returns the remote backend poll delay.
func (c *Config) RemotePollInterval() time.Duration {
	return time.Duration(c.RemotePollIntervalMs) * time.Millisecond
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the selected backend has what it needs and that
// the scheduler bounds make sense.
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return ErrInvalidWorkerCount
	}
	if c.QueueSize < 1 {
		return ErrInvalidQueueSize
	}

	switch strings.ToLower(strings.TrimSpace(c.GeneratorBackend)) {
	case "remote":
		if c.RemoteEndpoint == "" {
			return ErrRemoteEndpointRequired
		}
	case "sadtalker":
		if c.SadTalkerRepoDir == "" {
			return ErrSadTalkerRepoRequired
		}
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, StorageDir: %s, Backend: %s, Workers: %d, QueueSize: %d, JobTimeoutSec: %d, CacheEnabled: %t, CacheMaxEntries: %d, SingleFlight: %t, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.StorageDir,
		c.GeneratorBackend,
		c.WorkerCount,
		c.QueueSize,
		c.JobTimeoutSec,
		c.CacheEnabled,
		c.CacheMaxEntries,
		c.CacheSingleFlight,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
