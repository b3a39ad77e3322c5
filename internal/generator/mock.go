package generator

import (
	"context"
	"fmt"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/media"
)

// mockMaxVideoSize is the hard output cap for the mock backend.
const mockMaxVideoSize = 2048

// Compile-time check that Mock implements Generator.
var _ Generator = (*Mock)(nil)

// MockConfig holds the settings for the mock backend.
type MockConfig struct {
	VideoSize int `json:"video_size"`
	VideoFPS  int `json:"video_fps"`
}

// Mock is the offline backend. It composes the source image and the speech
// track into a still-image video, which makes the full pipeline usable on
// machines without any model installed.
type Mock struct {
	cfg  MockConfig
	proc media.Processor
}

// NewMock creates the mock backend with defaults applied.
func NewMock(cfg MockConfig, proc media.Processor) *Mock {
	if cfg.VideoSize <= 0 {
		cfg.VideoSize = 512
	}
	if cfg.VideoFPS <= 0 {
		cfg.VideoFPS = 25
	}
	return &Mock{cfg: cfg, proc: proc}
}

// Name returns the backend's registry name.
func (m *Mock) Name() string { return BackendMock }

// Identity covers the effective render settings.
func (m *Mock) Identity() string { return identity(BackendMock, m.cfg) }

// CheckOptions rejects sizes beyond what the still renderer will encode.
func (m *Mock) CheckOptions(opts Options) error {
	if opts.VideoSize > mockMaxVideoSize {
		return fmt.Errorf("%w: video_size %d exceeds mock maximum %d", ErrOptionOutOfRange, opts.VideoSize, mockMaxVideoSize)
	}
	return nil
}

// Generate renders the still-image video.
func (m *Mock) Generate(ctx context.Context, task Task, progress ProgressFunc) error {
	size := m.cfg.VideoSize
	if task.Options.VideoSize > 0 {
		size = task.Options.VideoSize
	}
	fps := m.cfg.VideoFPS
	if task.Options.VideoFPS > 0 {
		fps = task.Options.VideoFPS
	}

	progress(0.1, "Mock: encoding video")
	if err := m.proc.RenderStillVideo(ctx, task.ImagePath, task.AudioPath, task.OutputPath, size, fps); err != nil {
		return fmt.Errorf("render still video: %w", err)
	}
	progress(0.95, "Mock: video encoded")

	return nil
}
