// Package audio prepares the speech track for a generation request.
// It provides local text-to-speech synthesis and conversion of uploaded
// clips into the mono 16 kHz WAV format the backends consume.
package audio

import (
	"context"
	"errors"
)

// Static errors for audio preparation.
var (
	// ErrNoTTSEngine is returned when no local speech engine is installed.
	ErrNoTTSEngine = errors.New("no local TTS engine found: install espeak or espeak-ng, or run on macOS for say")
	// ErrFFmpegRequired is returned when ffmpeg is needed but not installed.
	ErrFFmpegRequired = errors.New("ffmpeg is required for audio preparation")
)

// Synthesizer defines the interface for producing a spoken WAV file from text.
type Synthesizer interface {
	// Synthesize renders text as speech and writes a mono 16 kHz WAV
	// file at outputWav.
	Synthesize(ctx context.Context, text, outputWav string) error
}

// Converter defines the interface for normalizing uploaded audio clips.
type Converter interface {
	// ConvertToWAV re-encodes the clip at src into a mono 16 kHz WAV at dst.
	ConvertToWAV(ctx context.Context, src, dst string) error
}
