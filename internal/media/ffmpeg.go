package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Static errors for media operations.
var (
	// ErrInvalidSize is returned when the requested size or frame rate is not positive.
	ErrInvalidSize = errors.New("invalid size: dimensions and fps must be positive")
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// extendThreshold is the audio overhang in seconds below which no video
// extension is attempted.
const extendThreshold = 0.05

// Compile-time check that FFmpegProcessor implements Processor.
var _ Processor = (*FFmpegProcessor)(nil)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// RenderStillVideo composes a static source image and a speech track into a
// square video. The image is scaled to cover the frame and center-cropped,
// and the output stops with the audio.
func (p *FFmpegProcessor) RenderStillVideo(ctx context.Context, imagePath, audioPath, output string, size, fps int) error {
	if size <= 0 || fps <= 0 {
		return fmt.Errorf("%w: size=%d, fps=%d", ErrInvalidSize, size, fps)
	}

	// scale: covers the square frame while maintaining aspect ratio
	// crop: center-crops the overflow to exact dimensions
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", size, size, size, size)

	args := []string{
		"-y",         // Overwrite output file without asking
		"-loop", "1", // Repeat the single input frame
		"-i", imagePath, // Input image
		"-i", audioPath, // Input audio
		"-vf", filter, // Video filter
		"-c:v", "libx264", // Video codec
		"-tune", "stillimage", // Optimize for static content
		"-preset", "veryfast", // Encoding speed preset
		"-c:a", "aac", // Audio codec
		"-b:a", "192k", // Audio bitrate
		"-shortest",             // Stop with the audio stream
		"-r", fmt.Sprint(fps),   // Output frame rate
		"-pix_fmt", "yuv420p",   // Pixel format for broad player compatibility
		"-movflags", "+faststart", // Move moov atom up front for streaming
		output,
	}

	return p.runFFmpeg(ctx, args)
}

// MuxAudio merges a silent video with a speech track into output. With
// ExtendFreeze or ExtendLoop the video stream is stretched when the audio
// runs longer; otherwise the streams are copied and cut at the shorter one.
func (p *FFmpegProcessor) MuxAudio(ctx context.Context, videoPath, audioPath, output string, extend ExtendMode) error {
	if extend == ExtendFreeze || extend == ExtendLoop {
		videoDur, err := p.Duration(ctx, videoPath)
		if err != nil {
			return fmt.Errorf("probe video duration: %w", err)
		}
		audioDur, err := p.Duration(ctx, audioPath)
		if err != nil {
			return fmt.Errorf("probe audio duration: %w", err)
		}

		overhang := audioDur - videoDur
		if overhang > extendThreshold {
			if extend == ExtendFreeze {
				return p.muxFreeze(ctx, videoPath, audioPath, output, overhang)
			}
			return p.muxLoop(ctx, videoPath, audioPath, output)
		}
	}

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0", // Video from the first input
		"-map", "1:a:0", // Audio from the second input
		"-c:v", "copy", // Copy the video stream without re-encoding
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		output,
	}
	return p.runFFmpeg(ctx, args)
}

// muxFreeze extends the video by cloning its last frame for the audio
// overhang, then muxes the speech track in. Re-encodes the video stream
// since tpad is a filter.
func (p *FFmpegProcessor) muxFreeze(ctx context.Context, videoPath, audioPath, output string, overhang float64) error {
	filter := fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", overhang+0.1)

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-vf", filter,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		output,
	}
	return p.runFFmpeg(ctx, args)
}

// muxLoop repeats the video from the start until the audio ends.
func (p *FFmpegProcessor) muxLoop(ctx context.Context, videoPath, audioPath, output string) error {
	args := []string{
		"-y",
		"-stream_loop", "-1", // Loop the video input indefinitely
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest", // The audio stream bounds the looped video
		"-movflags", "+faststart",
		output,
	}
	return p.runFFmpeg(ctx, args)
}

// Duration returns the duration in seconds of a media file.
// It uses ffprobe to extract the duration metadata.
func (p *FFmpegProcessor) Duration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - path is provided by trusted internal code
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var duration float64
	_, err = fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &duration)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}

	return duration, nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
