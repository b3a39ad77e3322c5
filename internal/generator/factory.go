package generator

import (
	"fmt"
	"strings"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/media"
)

// Backend names accepted by New.
const (
	// BackendMock composes the still image and speech track into a video.
	BackendMock = "mock"
	// BackendSadTalker drives a local SadTalker checkout.
	BackendSadTalker = "sadtalker"
	// BackendWav2Lip is reserved for lip-sync post-processing.
	BackendWav2Lip = "wav2lip"
	// BackendSVD renders motion with Stable Video Diffusion.
	BackendSVD = "svd"
	// BackendRemote delegates generation to a remote HTTP service.
	BackendRemote = "remote"
)

// Config aggregates the per-backend settings. The factory reads only the
// section of the selected backend.
type Config struct {
	Mock      MockConfig
	SadTalker SadTalkerConfig
	SVD       SVDConfig
	Remote    RemoteConfig
}

// New resolves a backend name to its Generator. Names are matched
// case-insensitively and an empty name selects the mock backend.
// Returns ErrUnknownBackend for names the factory does not know.
func New(name string, cfg Config, proc media.Processor) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendMock:
		return NewMock(cfg.Mock, proc), nil
	case BackendSadTalker:
		return NewSadTalker(cfg.SadTalker), nil
	case BackendWav2Lip:
		return NewWav2Lip(), nil
	case BackendSVD:
		return NewSVD(cfg.SVD, proc), nil
	case BackendRemote:
		return NewRemote(cfg.Remote)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}
