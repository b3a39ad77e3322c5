// Package scheduler runs the bounded worker pool that executes queued
// generation jobs. Submission is non-blocking; a fixed number of workers
// consume the queue in FIFO order, so at most Workers generator
// invocations run at once while excess jobs stay queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/generator"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/job"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/storage"
)

// ErrQueueFull is returned by Submit when the backlog cap is reached.
var ErrQueueFull = errors.New("job queue is full")

// Config sizes the worker pool.
type Config struct {
	// Workers is the number of concurrent generator invocations. Defaults to 1.
	Workers int
	// QueueSize caps the backlog of queued jobs. Defaults to 64.
	QueueSize int
	// JobTimeout bounds a single generation. Defaults to 30 minutes.
	JobTimeout time.Duration
}

// TerminalFunc observes a job's terminal snapshot. Called exactly once per
// executed job, after the terminal state is persisted.
type TerminalFunc func(j *job.Job)

// item pairs a queued record with its staged task and submission hooks.
type item struct {
	job        *job.Job
	task       generator.Task
	onTerminal TerminalFunc
}

// SubmitOption customizes one submission.
type SubmitOption func(*item)

// WithTerminalFunc registers a hook invoked with the job's terminal
// snapshot. The hook runs on the worker goroutine and must not block.
func WithTerminalFunc(fn TerminalFunc) SubmitOption {
	return func(it *item) { it.onTerminal = fn }
}

// Scheduler owns the job queue and the worker pool.
type Scheduler struct {
	cfg    Config
	gen    generator.Generator
	repo   job.Repository
	store  storage.Store
	logger *slog.Logger

	queue   chan item
	wg      sync.WaitGroup
	started atomic.Bool
}

// New creates a Scheduler with defaults applied.
func New(cfg Config, gen generator.Generator, repo job.Repository, store storage.Store, logger *slog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cfg:    cfg,
		gen:    gen,
		repo:   repo,
		store:  store,
		logger: logger,
		queue:  make(chan item, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// in-flight jobs are abandoned, queued jobs stay queued. Calling Start
// more than once is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if s.started.Swap(true) {
		return
	}

	s.logger.Info("scheduler starting",
		slog.Int("workers", s.cfg.Workers),
		slog.Int("queue_size", s.cfg.QueueSize),
		slog.String("backend", s.gen.Name()),
	)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
}

// Wait blocks until every worker has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Submit enqueues a queued record with its staged task. Never blocks:
// when the backlog cap is reached it returns ErrQueueFull immediately.
func (s *Scheduler) Submit(j *job.Job, task generator.Task, opts ...SubmitOption) error {
	it := item{job: j, task: task}
	for _, opt := range opts {
		opt(&it)
	}

	select {
	case s.queue <- it:
		return nil
	default:
		return ErrQueueFull
	}
}

// worker consumes the queue until ctx is cancelled.
func (s *Scheduler) worker(ctx context.Context, n int) {
	defer s.wg.Done()

	logger := s.logger.With(slog.Int("worker", n))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		case it := <-s.queue:
			s.execute(ctx, it)
		}
	}
}

// execute runs one job through its full lifecycle. Every failure path
// lands in the record; nothing propagates out of the worker.
func (s *Scheduler) execute(ctx context.Context, it item) {
	j := it.job
	logger := s.logger.With(
		slog.String("job_id", j.ID),
		slog.String("backend", s.gen.Name()),
	)

	if err := j.Start(); err != nil {
		// Never happens for records coming off the queue.
		logger.Error("cannot start job", slog.String("error", err.Error()))
		return
	}
	s.save(j, logger)
	logger.Info("job started")

	// Hard backend constraints fail the job before any invocation.
	if err := s.gen.CheckOptions(j.Options); err != nil {
		s.fail(it, err.Error(), logger)
		return
	}

	// Backends write the result through the filesystem path, so the output
	// directory must exist before invocation.
	if err := os.MkdirAll(filepath.Dir(it.task.OutputPath), 0750); err != nil {
		s.fail(it, fmt.Sprintf("prepare output directory: %v", err), logger)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	if err := s.generate(runCtx, it, logger); err != nil {
		msg := (&generator.GenerationError{Backend: s.gen.Name(), Err: err}).Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("generation timed out after %s", s.cfg.JobTimeout)
		}
		s.fail(it, msg, logger)
		return
	}

	resultRef := storage.VideoRef(j.ID)
	exists, err := s.store.Exists(ctx, resultRef)
	if err != nil || !exists {
		s.fail(it, "generator finished but produced no video", logger)
		return
	}

	videoURL := ""
	if url, err := s.store.Publish(ctx, resultRef); err == nil {
		videoURL = url
		logger.Info("result published", slog.String("video_url", url))
	} else if !errors.Is(err, storage.ErrS3NotConfigured) {
		logger.Warn("publish failed, result stays local", slog.String("error", err.Error()))
	}

	if err := j.Succeed(resultRef, videoURL, ""); err != nil {
		logger.Error("cannot mark job succeeded", slog.String("error", err.Error()))
		return
	}
	s.finalize(it, logger)
	logger.Info("job succeeded", slog.String("result_ref", resultRef.String()))
}

// generate invokes the backend with the per-job progress sink. A panicking
// backend is converted into an error so one job's fault never takes the
// worker down.
func (s *Scheduler) generate(ctx context.Context, it item, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in generator: %v", r)
		}
	}()

	progress := func(p float64, msg string) {
		it.job.UpdateProgress(p, msg)
		s.save(it.job, logger)
	}

	return s.gen.Generate(ctx, it.task, progress)
}

// fail records a terminal failure on the job.
func (s *Scheduler) fail(it item, msg string, logger *slog.Logger) {
	if err := it.job.Fail(msg); err != nil {
		logger.Error("cannot mark job failed", slog.String("error", err.Error()))
		return
	}
	s.finalize(it, logger)
	logger.Warn("job failed", slog.String("error", msg))
}

// finalize persists the terminal snapshot, writes the job metadata file
// and invokes the submission hook.
func (s *Scheduler) finalize(it item, logger *slog.Logger) {
	s.save(it.job, logger)

	if err := s.writeMeta(it.job); err != nil {
		logger.Warn("failed to write job meta", slog.String("error", err.Error()))
	}

	if it.onTerminal != nil {
		it.onTerminal(it.job.Clone())
	}
}

// save persists the current record snapshot. Uses a background context:
// terminal snapshots must land even while the pool is shutting down.
func (s *Scheduler) save(j *job.Job, logger *slog.Logger) {
	if err := s.repo.Save(context.Background(), j); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}
