package generator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/media"
)

// stepLineRe matches the per-step progress lines the render script prints
// to stdout, e.g. "step 3/25".
var stepLineRe = regexp.MustCompile(`^step\s+(\d+)/(\d+)\b`)

// Compile-time check that SVD implements Generator.
var _ Generator = (*SVD)(nil)

// SVDConfig holds the settings for the Stable Video Diffusion backend.
type SVDConfig struct {
	// Script is the render script that loads the diffusion pipeline and
	// writes a silent video. It must print "step i/N" lines to stdout.
	Script string `json:"script"`
	// Python is the interpreter of the diffusion virtualenv.
	Python string `json:"python"`

	Width             int     `json:"width"`
	Height            int     `json:"height"`
	FPS               int     `json:"fps"`
	NumFrames         int     `json:"num_frames"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	MotionBucketID    int     `json:"motion_bucket_id"`
	NoiseAugStrength  float64 `json:"noise_aug_strength"`
	Seed              *int64  `json:"seed,omitempty"`

	// DType selects the model precision: auto, float16, float32 or bfloat16.
	DType string `json:"dtype"`
	// EnableAttentionSlicing trades speed for a smaller memory peak.
	EnableAttentionSlicing bool `json:"enable_attention_slicing"`
	// EnableCPUOffload moves idle model parts off the accelerator.
	EnableCPUOffload bool `json:"enable_cpu_offload"`

	// MaxPixels caps width*height per request. Zero disables the cap.
	// Useful on accelerators that cannot address large attention buffers.
	MaxPixels int `json:"max_pixels,omitempty"`

	// ExtendToAudio stretches the rendered motion to cover the speech track.
	// SVD produces a fixed number of frames regardless of audio length.
	ExtendToAudio bool `json:"extend_to_audio"`
	// ExtendStrategy selects freeze or loop for the stretch.
	ExtendStrategy string `json:"extend_strategy"`
}

// SVD renders motion from the source image with Stable Video Diffusion via
// an external render script, then muxes the speech track into the silent
// result.
type SVD struct {
	cfg  SVDConfig
	proc media.Processor
}

// NewSVD creates the SVD backend with defaults applied.
func NewSVD(cfg SVDConfig, proc media.Processor) *SVD {
	if cfg.Script == "" {
		cfg.Script = "scripts/svd_render.py"
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 576
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 7
	}
	if cfg.NumFrames <= 0 {
		cfg.NumFrames = 14
	}
	if cfg.NumInferenceSteps <= 0 {
		cfg.NumInferenceSteps = 25
	}
	if cfg.MotionBucketID <= 0 {
		cfg.MotionBucketID = 127
	}
	if cfg.NoiseAugStrength <= 0 {
		cfg.NoiseAugStrength = 0.02
	}
	if cfg.DType == "" {
		cfg.DType = "auto"
	}
	if cfg.ExtendStrategy == "" {
		cfg.ExtendStrategy = string(media.ExtendFreeze)
	}
	return &SVD{cfg: cfg, proc: proc}
}

// Name returns the backend's registry name.
func (g *SVD) Name() string { return BackendSVD }

// Identity covers the script location and the effective render settings.
func (g *SVD) Identity() string { return identity(BackendSVD, g.cfg) }

// CheckOptions rejects resolutions beyond the configured pixel budget.
func (g *SVD) CheckOptions(opts Options) error {
	width := g.cfg.Width
	if opts.Width > 0 {
		width = opts.Width
	}
	height := g.cfg.Height
	if opts.Height > 0 {
		height = opts.Height
	}
	if g.cfg.MaxPixels > 0 && width*height > g.cfg.MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds the configured pixel budget of %d", ErrOptionOutOfRange, width, height, g.cfg.MaxPixels)
	}
	return nil
}

// Generate runs the render script and muxes the speech track into its
// silent output. Per-step progress is scanned from the script's stdout.
func (g *SVD) Generate(ctx context.Context, task Task, progress ProgressFunc) error {
	if _, err := os.Stat(g.cfg.Script); err != nil {
		return fmt.Errorf("SVD render script not found at %s: %w", g.cfg.Script, err)
	}

	width := g.cfg.Width
	if task.Options.Width > 0 {
		width = task.Options.Width
	}
	height := g.cfg.Height
	if task.Options.Height > 0 {
		height = task.Options.Height
	}
	fps := g.cfg.FPS
	if task.Options.VideoFPS > 0 {
		fps = task.Options.VideoFPS
	}
	numFrames := g.cfg.NumFrames
	if task.Options.NumFrames > 0 {
		numFrames = task.Options.NumFrames
	}
	steps := g.cfg.NumInferenceSteps
	if task.Options.NumInferenceSteps > 0 {
		steps = task.Options.NumInferenceSteps
	}
	motionBucket := g.cfg.MotionBucketID
	if task.Options.MotionBucketID > 0 {
		motionBucket = task.Options.MotionBucketID
	}
	noiseAug := g.cfg.NoiseAugStrength
	if task.Options.NoiseAugStrength > 0 {
		noiseAug = task.Options.NoiseAugStrength
	}
	seed := g.cfg.Seed
	if task.Options.Seed != nil {
		seed = task.Options.Seed
	}

	silent := task.OutputPath + ".silent.mp4"
	defer func() { _ = os.Remove(silent) }()

	args := []string{
		g.cfg.Script,
		"--image", task.ImagePath,
		"--output", silent,
		"--width", strconv.Itoa(width),
		"--height", strconv.Itoa(height),
		"--fps", strconv.Itoa(fps),
		"--num-frames", strconv.Itoa(numFrames),
		"--steps", strconv.Itoa(steps),
		"--motion-bucket-id", strconv.Itoa(motionBucket),
		"--noise-aug", strconv.FormatFloat(noiseAug, 'f', -1, 64),
		"--dtype", g.cfg.DType,
	}
	if seed != nil {
		args = append(args, "--seed", strconv.FormatInt(*seed, 10))
	}
	if g.cfg.EnableAttentionSlicing {
		args = append(args, "--attention-slicing")
	}
	if g.cfg.EnableCPUOffload {
		args = append(args, "--cpu-offload")
	}

	// #nosec G204 - interpreter and args come from configuration, not user input
	cmd := exec.CommandContext(ctx, g.cfg.Python, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("svd stdout pipe: %w", err)
	}

	progress(0.08, "SVD: loading model (first run can be slow)")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("svd start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if step, total, ok := parseStepLine(scanner.Text()); ok {
			frac := float64(step) / float64(total)
			progress(0.25+0.5*frac, fmt.Sprintf("SVD: denoising %d/%d", step, total))
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("svd cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("svd render: %w\n--- stderr tail ---\n%s", err, tailOutput(stderr.String(), outputTailLimit))
	}

	if _, err := os.Stat(silent); err != nil {
		return fmt.Errorf("svd render script wrote no video at %s: %w", silent, err)
	}

	extend := g.cfg.ExtendToAudio
	if task.Options.ExtendToAudio != nil {
		extend = *task.Options.ExtendToAudio
	}
	strategy := g.cfg.ExtendStrategy
	if task.Options.ExtendStrategy != "" {
		strategy = task.Options.ExtendStrategy
	}
	mode := media.ExtendNone
	if extend {
		mode = media.ExtendMode(strategy)
	}

	progress(0.9, "SVD: muxing audio")
	if err := g.proc.MuxAudio(ctx, silent, task.AudioPath, task.OutputPath, mode); err != nil {
		return fmt.Errorf("mux audio: %w", err)
	}

	return nil
}

// parseStepLine extracts the step counter from a render script stdout line.
func parseStepLine(line string) (step, total int, ok bool) {
	m := stepLineRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	step, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(m[2])
	if err != nil || total < 1 {
		return 0, 0, false
	}
	if step > total {
		step = total
	}
	return step, total, true
}
