package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Compile-time check that FFmpegConverter implements Converter.
var _ Converter = (*FFmpegConverter)(nil)

// FFmpegConverter implements Converter using the ffmpeg CLI.
type FFmpegConverter struct {
	ffmpegPath string
}

// NewFFmpegConverter creates a new FFmpegConverter.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegConverter(ffmpegPath string) *FFmpegConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegConverter{ffmpegPath: ffmpegPath}
}

// ConvertToWAV re-encodes the clip at src into a mono 16 kHz WAV at dst.
func (c *FFmpegConverter) ConvertToWAV(ctx context.Context, src, dst string) error {
	if _, err := exec.LookPath(c.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %w", ErrFFmpegRequired, err)
	}

	return runCommand(ctx, c.ffmpegPath,
		"-y",
		"-i", src,
		"-ar", "16000", // Sample rate the backends expect
		"-ac", "1", // Mono
		dst,
	)
}

// runCommand executes a command and returns an error containing the stderr
// output if it fails.
func runCommand(ctx context.Context, name string, args ...string) error {
	// #nosec G204 - command name and args come from trusted internal code
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s failed: %w, stderr: %s", name, err, stderr.String())
	}

	return nil
}
