// Package service implements the submission use case: it stages inputs,
// consults the result cache, hands jobs to the scheduler and serves the
// status and result read paths. Transport handlers stay thin; every
// decision lives here.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/audio"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/cache"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/generator"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/job"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/scheduler"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/storage"
)

// Validation errors surfaced to the caller at submission time. The job is
// never created when one of these is returned.
var (
	// ErrImageRequired is returned when the submission carries no image.
	ErrImageRequired = errors.New("image file is required")
	// ErrScriptOrAudioRequired is returned unless exactly one of text and
	// audio is provided.
	ErrScriptOrAudioRequired = errors.New("provide exactly one of: text or audio")
	// ErrInvalidOptions is returned for a malformed options document.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrResultNotReady is returned when the result of a non-succeeded job
	// is requested.
	ErrResultNotReady = errors.New("job result is not ready")
)

// Scheduler is the slice of the worker pool the service depends on.
type Scheduler interface {
	Submit(j *job.Job, task generator.Task, opts ...scheduler.SubmitOption) error
}

// Config carries the cache toggles.
type Config struct {
	// CacheEnabled turns the result cache on. Disabled, every submission
	// is a miss and nothing is registered.
	CacheEnabled bool
	// SingleFlight makes identical submissions join the in-flight job
	// instead of generating the same video twice.
	SingleFlight bool
}

// Deps bundles the service collaborators.
type Deps struct {
	Repo        job.Repository
	Store       storage.Store
	Scheduler   Scheduler
	Generator   generator.Generator
	Synthesizer audio.Synthesizer
	Converter   audio.Converter
	Cache       *cache.Index
	Logger      *slog.Logger
}

// Service orchestrates job submission and reads.
type Service struct {
	cfg      Config
	repo     job.Repository
	store    storage.Store
	sched    Scheduler
	gen      generator.Generator
	synth    audio.Synthesizer
	conv     audio.Converter
	index    *cache.Index
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates the service.
func New(cfg Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	index := deps.Cache
	if index == nil {
		index = cache.NewIndex(nil)
	}

	return &Service{
		cfg:      cfg,
		repo:     deps.Repo,
		store:    deps.Store,
		sched:    deps.Scheduler,
		gen:      deps.Generator,
		synth:    deps.Synthesizer,
		conv:     deps.Converter,
		index:    index,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateJobInput is the submission payload after transport decoding.
type CreateJobInput struct {
	// ImageData is the uploaded source image.
	ImageData []byte
	// ImageFilename is the original upload name; its extension is kept.
	ImageFilename string
	// Text is the script to synthesize speech from.
	Text string
	// AudioData is an uploaded speech recording.
	AudioData []byte
	// AudioFilename is the original audio upload name.
	AudioFilename string
	// OptionsJSON is the raw options document, empty when absent.
	OptionsJSON string
}

// CreateJob validates a submission and either reuses a cached result or
// stages the inputs and enqueues a new job. The returned snapshot is
// queued on a miss and already succeeded on a cache hit.
func (s *Service) CreateJob(ctx context.Context, input CreateJobInput) (*job.Job, error) {
	if len(input.ImageData) == 0 {
		return nil, ErrImageRequired
	}
	hasText := strings.TrimSpace(input.Text) != ""
	hasAudio := len(input.AudioData) > 0
	if hasText == hasAudio {
		return nil, ErrScriptOrAudioRequired
	}

	opts, err := s.parseOptions(input.OptionsJSON)
	if err != nil {
		return nil, err
	}

	fp := ""
	if s.cfg.CacheEnabled {
		fp = s.fingerprint(input, hasText, opts)
		if entry, ok := s.lookupCache(ctx, fp); ok {
			return s.reuseResult(ctx, entry, input, hasText, opts)
		}
	}

	j := job.New(s.gen.Name())
	j.Options = opts
	if hasText {
		j.Script = strings.TrimSpace(input.Text)
	}

	if s.cfg.CacheEnabled && s.cfg.SingleFlight {
		if owner, started := s.index.BeginFlight(fp, j.ID); !started {
			if existing, err := s.repo.FindByID(ctx, owner); err == nil {
				s.logger.Info("joining in-flight job",
					slog.String("job_id", owner),
					slog.String("fingerprint", fp),
				)
				return existing, nil
			}
			// The owner is gone without a terminal hook having fired.
			// Clear the stale marker and build under this job instead.
			s.index.EndFlight(fp)
			_, _ = s.index.BeginFlight(fp, j.ID)
		}
	}

	snap, err := s.stageAndSubmit(ctx, j, input, hasText, fp)
	if err != nil {
		if s.cfg.CacheEnabled && s.cfg.SingleFlight {
			s.index.EndFlight(fp)
		}
		return nil, err
	}
	return snap, nil
}

// parseOptions decodes and validates the options document. Unknown keys
// pass through to be ignored by the active backend; malformed JSON and
// out-of-bounds values are rejected.
func (s *Service) parseOptions(raw string) (generator.Options, error) {
	var opts generator.Options
	if strings.TrimSpace(raw) == "" {
		return opts, nil
	}

	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return generator.Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err := s.validate.Struct(opts); err != nil {
		return generator.Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return opts, nil
}

// fingerprint digests the semantic inputs. For text submissions the script
// itself is hashed, so a cache hit skips speech synthesis entirely.
func (s *Service) fingerprint(input CreateJobInput, hasText bool, opts generator.Options) string {
	in := cache.Inputs{
		BackendIdentity: s.gen.Identity(),
		Image:           input.ImageData,
		Options:         opts.Canonical(),
	}
	if hasText {
		in.Script = strings.TrimSpace(input.Text)
	} else {
		in.Audio = input.AudioData
	}
	return in.Fingerprint()
}

// lookupCache returns a verified cache entry. Entries whose artifact is
// gone from storage are dropped so the next submission regenerates.
func (s *Service) lookupCache(ctx context.Context, fp string) (cache.Entry, bool) {
	entry, ok := s.index.Lookup(fp)
	if !ok {
		return cache.Entry{}, false
	}

	exists, err := s.store.Exists(ctx, entry.Ref)
	if err != nil || !exists {
		s.logger.Warn("cached artifact missing, dropping entry",
			slog.String("ref", entry.Ref.String()),
		)
		s.index.Drop(fp)
		return cache.Entry{}, false
	}
	return entry, true
}

// reuseResult synthesizes an already-succeeded record referencing the
// cached artifact. The record walks the regular state machine, it just
// does so without touching the scheduler.
func (s *Service) reuseResult(ctx context.Context, entry cache.Entry, input CreateJobInput, hasText bool, opts generator.Options) (*job.Job, error) {
	j := job.New(s.gen.Name())
	j.Options = opts
	if hasText {
		j.Script = strings.TrimSpace(input.Text)
	}

	if err := j.Start(); err != nil {
		return nil, err
	}
	if err := j.Succeed(entry.Ref, "", "Ready (cache hit)"); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.logger.Info("cache hit",
		slog.String("job_id", j.ID),
		slog.String("result_ref", entry.Ref.String()),
	)
	return j.Clone(), nil
}

// stageAndSubmit persists the inputs, saves the queued record and hands it
// to the scheduler. The returned snapshot is taken before submission, so
// it always reads queued.
func (s *Service) stageAndSubmit(ctx context.Context, j *job.Job, input CreateJobInput, hasText bool, fp string) (*job.Job, error) {
	imageRef, err := s.store.Put(ctx, storage.ImageRef(j.ID, filepath.Ext(input.ImageFilename)), bytes.NewReader(input.ImageData))
	if err != nil {
		return nil, fmt.Errorf("stage image: %w", err)
	}
	j.ImageRef = imageRef

	audioRef, err := s.prepareAudio(ctx, j.ID, input, hasText)
	if err != nil {
		return nil, err
	}
	j.AudioRef = audioRef

	task := generator.Task{
		ImagePath:  s.store.Path(imageRef),
		AudioPath:  s.store.Path(audioRef),
		OutputPath: s.store.Path(storage.VideoRef(j.ID)),
		Options:    j.Options,
	}

	if err := s.repo.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	snap := j.Clone()

	var opts []scheduler.SubmitOption
	if fp != "" {
		opts = append(opts, scheduler.WithTerminalFunc(s.terminalHook(fp)))
	}

	if err := s.sched.Submit(j, task, opts...); err != nil {
		// Nothing will ever run the record, so it must not stay queued.
		if delErr := s.repo.Delete(ctx, j.ID); delErr != nil {
			s.logger.Error("failed to delete unqueued job",
				slog.String("job_id", j.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("job submitted",
		slog.String("job_id", j.ID),
		slog.String("backend", j.Backend),
	)
	return snap, nil
}

// terminalHook releases the single-flight marker and registers successful
// results in the cache index.
func (s *Service) terminalHook(fp string) scheduler.TerminalFunc {
	return func(snap *job.Job) {
		if s.cfg.SingleFlight {
			s.index.EndFlight(fp)
		}
		if snap.Status == job.StatusSucceeded {
			s.index.Register(fp, snap.ResultRef, snap.Backend)
		}
	}
}

// prepareAudio stages the speech track at uploads/<id>/audio.wav: text is
// synthesized, non-wav uploads are converted, wav uploads pass through.
func (s *Service) prepareAudio(ctx context.Context, jobID string, input CreateJobInput, hasText bool) (storage.Ref, error) {
	audioRef := storage.AudioRef(jobID)

	if hasText {
		dst := s.store.Path(audioRef)
		if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
			return "", fmt.Errorf("prepare uploads directory: %w", err)
		}
		if err := s.synth.Synthesize(ctx, strings.TrimSpace(input.Text), dst); err != nil {
			return "", fmt.Errorf("synthesize speech: %w", err)
		}
		return audioRef, nil
	}

	rawRef := storage.RawAudioRef(jobID, filepath.Ext(input.AudioFilename))
	if _, err := s.store.Put(ctx, rawRef, bytes.NewReader(input.AudioData)); err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	if rawRef == audioRef {
		// Uploaded wavs are consumed as-is.
		return audioRef, nil
	}
	if err := s.conv.ConvertToWAV(ctx, s.store.Path(rawRef), s.store.Path(audioRef)); err != nil {
		return "", fmt.Errorf("convert audio: %w", err)
	}
	return audioRef, nil
}

// GetJob returns a snapshot of one job.
func (s *Service) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns snapshots of all jobs, oldest first.
func (s *Service) ListJobs(ctx context.Context) ([]*job.Job, error) {
	return s.repo.List(ctx)
}

// ResultVideo resolves the stored result of a succeeded job to a local
// path for serving. Returns ErrResultNotReady while the job has not
// succeeded and job.ErrNotFound for unknown IDs.
func (s *Service) ResultVideo(ctx context.Context, id string) (string, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if j.Status != job.StatusSucceeded || j.ResultRef == "" {
		return "", fmt.Errorf("%w: status is %s", ErrResultNotReady, j.Status)
	}

	exists, err := s.store.Exists(ctx, j.ResultRef)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("result artifact missing from store: %s", j.ResultRef)
	}
	return s.store.Path(j.ResultRef), nil
}

// Backend reports the active backend name for health and status payloads.
func (s *Service) Backend() string {
	return s.gen.Name()
}
