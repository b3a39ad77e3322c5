// Package media provides ffmpeg-based video assembly for the generation
// backends.
package media

import "context"

// ExtendMode selects how a silent video is stretched when the speech track
// is longer than the rendered motion.
type ExtendMode string

const (
	// ExtendNone cuts the output at the shorter of the two streams.
	ExtendNone ExtendMode = ""
	// ExtendFreeze holds the last frame until the audio ends.
	ExtendFreeze ExtendMode = "freeze"
	// ExtendLoop repeats the video until the audio ends.
	ExtendLoop ExtendMode = "loop"
)

// Processor defines the interface for video assembly operations.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// RenderStillVideo composes a static source image and a speech track into
	// a square talking-head placeholder video of the given size and frame rate.
	RenderStillVideo(ctx context.Context, imagePath, audioPath, output string, size, fps int) error

	// MuxAudio merges a silent video with a speech track. When extend is set
	// and the audio outlasts the video, the video is stretched to cover it.
	MuxAudio(ctx context.Context, videoPath, audioPath, output string, extend ExtendMode) error

	// Duration returns the duration in seconds of a media file.
	Duration(ctx context.Context, path string) (float64, error)
}
