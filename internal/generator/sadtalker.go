package generator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// outputTailLimit bounds how much subprocess output is carried into error
// messages.
const outputTailLimit = 4000

// Compile-time check that SadTalker implements Generator.
var _ Generator = (*SadTalker)(nil)

// SadTalkerConfig holds the settings for the SadTalker backend.
type SadTalkerConfig struct {
	// RepoDir is a local checkout of the SadTalker repository, with its
	// checkpoints downloaded.
	RepoDir string `json:"repo_dir"`
	// Python is the interpreter of the SadTalker virtualenv.
	Python string `json:"python"`
	// Size is the face rendering resolution, 256 or 512.
	Size int `json:"size"`
	// Preprocess is the default face-cropping mode.
	Preprocess string `json:"preprocess"`
	// Enhancer optionally enables a face restoration pass.
	Enhancer string `json:"enhancer,omitempty"`
}

// SadTalker drives the inference script of a local SadTalker checkout.
// It runs the script, then collects the newest mp4 from the result
// directory because the script names output files by timestamp.
type SadTalker struct {
	cfg SadTalkerConfig
}

// NewSadTalker creates the SadTalker backend with defaults applied.
func NewSadTalker(cfg SadTalkerConfig) *SadTalker {
	if cfg.RepoDir == "" {
		cfg.RepoDir = filepath.Join("third_party", "SadTalker")
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Size == 0 {
		cfg.Size = 256
	}
	if cfg.Preprocess == "" {
		cfg.Preprocess = "crop"
	}
	return &SadTalker{cfg: cfg}
}

// Name returns the backend's registry name.
func (s *SadTalker) Name() string { return BackendSadTalker }

// Identity covers the checkout location and the effective render settings.
func (s *SadTalker) Identity() string { return identity(BackendSadTalker, s.cfg) }

// CheckOptions rejects sizes the upstream checkpoints do not exist for.
func (s *SadTalker) CheckOptions(opts Options) error {
	size := s.cfg.Size
	if opts.VideoSize > 0 {
		size = opts.VideoSize
	}
	if size != 256 && size != 512 {
		return fmt.Errorf("%w: sadtalker renders at 256 or 512, got video_size %d", ErrOptionOutOfRange, size)
	}
	return nil
}

// Generate runs the SadTalker inference script on the staged inputs.
func (s *SadTalker) Generate(ctx context.Context, task Task, progress ProgressFunc) error {
	inferencePy := filepath.Join(s.cfg.RepoDir, "inference.py")
	if _, err := os.Stat(inferencePy); err != nil {
		return fmt.Errorf("SadTalker repo not found at %s (clone it and download the checkpoints): %w", s.cfg.RepoDir, err)
	}

	size := s.cfg.Size
	if task.Options.VideoSize > 0 {
		size = task.Options.VideoSize
	}
	preprocess := s.cfg.Preprocess
	if task.Options.Preprocess != "" {
		preprocess = task.Options.Preprocess
	}
	enhancer := s.cfg.Enhancer
	if task.Options.Enhancer != "" {
		enhancer = task.Options.Enhancer
	}

	// The script drops timestamped files into the result dir; keep one dir
	// per job so the newest-file scan cannot pick up another job's output.
	resultDir := filepath.Join(filepath.Dir(task.OutputPath), "sadtalker")
	if err := os.MkdirAll(resultDir, 0750); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}

	progress(0.05, "SadTalker: starting")

	args := []string{
		inferencePy,
		"--driven_audio", task.AudioPath,
		"--source_image", task.ImagePath,
		"--checkpoint_dir", filepath.Join(s.cfg.RepoDir, "checkpoints"),
		"--result_dir", resultDir,
		"--size", strconv.Itoa(size),
		"--preprocess", preprocess,
	}
	if task.Options.Still {
		args = append(args, "--still")
	}
	if enhancer != "" {
		args = append(args, "--enhancer", enhancer)
	}

	// #nosec G204 - interpreter and args come from configuration, not user input
	cmd := exec.CommandContext(ctx, s.cfg.Python, args...)
	cmd.Dir = s.cfg.RepoDir
	cmd.Env = prependPythonPath(os.Environ(), s.cfg.RepoDir)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	progress(0.2, "SadTalker: generating video")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("sadtalker cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("sadtalker inference: %w\n--- output tail ---\n%s", err, tailOutput(output.String(), outputTailLimit))
	}

	progress(0.9, "SadTalker: collecting result")
	newest, err := newestMP4(resultDir)
	if err != nil {
		return err
	}
	if err := copyFile(newest, task.OutputPath); err != nil {
		return fmt.Errorf("copy result: %w", err)
	}

	return nil
}

// prependPythonPath makes local SadTalker imports resolve inside the script.
func prependPythonPath(env []string, dir string) []string {
	const key = "PYTHONPATH="
	for i, kv := range env {
		if strings.HasPrefix(kv, key) {
			env[i] = key + dir + string(os.PathListSeparator) + kv[len(key):]
			return env
		}
	}
	return append(env, key+dir)
}

// newestMP4 returns the most recently modified mp4 under dir.
func newestMP4(dir string) (string, error) {
	var newest string
	var newestMod int64

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".mp4") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = path
			newestMod = mod
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan result dir: %w", err)
	}
	if newest == "" {
		return "", fmt.Errorf("sadtalker produced no mp4 in %s", dir)
	}
	return newest, nil
}

// tailOutput returns the last limit bytes of subprocess output.
func tailOutput(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src is produced by trusted internal code
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304 - dst is produced by trusted internal code
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
