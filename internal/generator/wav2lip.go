package generator

import (
	"context"
	"errors"
)

// Compile-time check that Wav2Lip implements Generator.
var _ Generator = (*Wav2Lip)(nil)

// ErrWav2LipNotWired is returned by the wav2lip backend until its pipeline
// is integrated.
var ErrWav2LipNotWired = errors.New("wav2lip backend is not wired up: create a base video from the image, then run Wav2Lip to sync the mouth region")

// Wav2Lip is a placeholder for a lip-sync post-processing backend. It
// registers the name so configuration can select it, but generation fails
// until the pipeline is integrated.
type Wav2Lip struct{}

// NewWav2Lip creates the wav2lip placeholder backend.
func NewWav2Lip() *Wav2Lip { return &Wav2Lip{} }

// Name returns the backend's registry name.
func (w *Wav2Lip) Name() string { return BackendWav2Lip }

// Identity returns the bare backend name; there is no configuration yet.
func (w *Wav2Lip) Identity() string { return BackendWav2Lip }

// CheckOptions accepts everything; the failure surfaces at generation.
func (w *Wav2Lip) CheckOptions(_ Options) error { return nil }

// Generate always fails with ErrWav2LipNotWired.
func (w *Wav2Lip) Generate(_ context.Context, _ Task, _ ProgressFunc) error {
	return ErrWav2LipNotWired
}
