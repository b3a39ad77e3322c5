package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Compile-time check that LocalSynthesizer implements Synthesizer.
var _ Synthesizer = (*LocalSynthesizer)(nil)

// LocalSynthesizer implements Synthesizer with whatever speech engine the
// host provides: say on macOS, espeak or espeak-ng elsewhere. The engine
// output is normalized to mono 16 kHz WAV with ffmpeg.
type LocalSynthesizer struct {
	ffmpegPath string
}

// NewLocalSynthesizer creates a new LocalSynthesizer.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewLocalSynthesizer(ffmpegPath string) *LocalSynthesizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &LocalSynthesizer{ffmpegPath: ffmpegPath}
}

// Synthesize renders text as speech and writes a mono 16 kHz WAV file at
// outputWav. Returns ErrNoTTSEngine when no speech engine is installed.
func (s *LocalSynthesizer) Synthesize(ctx context.Context, text, outputWav string) error {
	if _, err := exec.LookPath(s.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %w", ErrFFmpegRequired, err)
	}

	if _, err := exec.LookPath("say"); err == nil {
		return s.synthesizeWithSay(ctx, text, outputWav)
	}

	for _, engine := range []string{"espeak", "espeak-ng"} {
		if _, err := exec.LookPath(engine); err == nil {
			return s.synthesizeWithEspeak(ctx, engine, text, outputWav)
		}
	}

	return ErrNoTTSEngine
}

// synthesizeWithSay uses the macOS speech engine. say only writes AIFF, so
// the result goes through ffmpeg for the WAV conversion.
func (s *LocalSynthesizer) synthesizeWithSay(ctx context.Context, text, outputWav string) error {
	aiff := tempSibling(outputWav, ".aiff")
	defer func() { _ = os.Remove(aiff) }()

	if err := runCommand(ctx, "say", "-o", aiff, text); err != nil {
		return fmt.Errorf("say synthesis: %w", err)
	}

	return s.normalize(ctx, aiff, outputWav)
}

// synthesizeWithEspeak uses espeak or espeak-ng, then normalizes the raw
// engine output.
func (s *LocalSynthesizer) synthesizeWithEspeak(ctx context.Context, engine, text, outputWav string) error {
	raw := tempSibling(outputWav, ".raw.wav")
	defer func() { _ = os.Remove(raw) }()

	if err := runCommand(ctx, engine, "-w", raw, text); err != nil {
		return fmt.Errorf("%s synthesis: %w", engine, err)
	}

	return s.normalize(ctx, raw, outputWav)
}

// normalize converts the engine output into the mono 16 kHz WAV format.
func (s *LocalSynthesizer) normalize(ctx context.Context, src, dst string) error {
	return runCommand(ctx, s.ffmpegPath,
		"-y",
		"-i", src,
		"-ar", "16000",
		"-ac", "1",
		dst,
	)
}

// tempSibling builds a scratch path next to the final output.
func tempSibling(path, suffix string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	return filepath.Join(dir, "."+base+suffix)
}
