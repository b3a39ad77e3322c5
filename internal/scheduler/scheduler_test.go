package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/generator"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/job"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeGenerator is a configurable in-process backend. The default behavior
// writes the output file and reports one progress step.
type fakeGenerator struct {
	checkErr   error
	generateFn func(ctx context.Context, task generator.Task, progress generator.ProgressFunc) error
}

func (f *fakeGenerator) Name() string     { return "fake" }
func (f *fakeGenerator) Identity() string { return "fake:{}" }

func (f *fakeGenerator) CheckOptions(_ generator.Options) error { return f.checkErr }

func (f *fakeGenerator) Generate(ctx context.Context, task generator.Task, progress generator.ProgressFunc) error {
	if f.generateFn != nil {
		return f.generateFn(ctx, task, progress)
	}
	progress(0.5, "rendering")
	return os.WriteFile(task.OutputPath, []byte("video"), 0600)
}

// newTestScheduler wires a scheduler onto a fresh store and repository.
func newTestScheduler(t *testing.T, cfg Config, gen generator.Generator) (*Scheduler, *job.MemoryRepository, *storage.LocalStore) {
	t.Helper()

	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	repo := job.NewMemoryRepository()
	return New(cfg, gen, repo, store, testLogger()), repo, store
}

// submitJob creates a queued record with its task and submits it. Terminal
// snapshots arrive on the returned channel.
func submitJob(t *testing.T, s *Scheduler, store storage.Store) (*job.Job, <-chan *job.Job) {
	t.Helper()

	j := job.New("fake")
	task := generator.Task{
		ImagePath:  "unused.png",
		AudioPath:  "unused.wav",
		OutputPath: store.Path(storage.VideoRef(j.ID)),
		Options:    j.Options,
	}

	done := make(chan *job.Job, 1)
	err := s.Submit(j, task, WithTerminalFunc(func(snap *job.Job) {
		done <- snap
	}))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return j, done
}

func waitTerminal(t *testing.T, done <-chan *job.Job) *job.Job {
	t.Helper()
	select {
	case snap := <-done:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal state")
		return nil
	}
}

func TestScheduler_RunsJobToSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, repo, store := newTestScheduler(t, Config{}, &fakeGenerator{})
	s.Start(ctx)

	j, done := submitJob(t, s, store)
	snap := waitTerminal(t, done)

	if snap.Status != job.StatusSucceeded {
		t.Fatalf("status = %v, want succeeded (error: %v)", snap.Status, snap.Error)
	}
	if snap.ResultRef != storage.VideoRef(j.ID) {
		t.Errorf("ResultRef = %q, want %q", snap.ResultRef, storage.VideoRef(j.ID))
	}
	if snap.Progress != 1.0 {
		t.Errorf("Progress = %v, want 1.0", snap.Progress)
	}
	if snap.Message != "Ready" {
		t.Errorf("Message = %q, want Ready", snap.Message)
	}
	if snap.VideoURL != "" {
		t.Errorf("VideoURL = %q, want empty without S3", snap.VideoURL)
	}

	// The persisted record matches the terminal snapshot.
	stored, err := repo.FindByID(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if stored.Status != job.StatusSucceeded || stored.ResultRef != snap.ResultRef {
		t.Errorf("stored record diverges: status %v ref %q", stored.Status, stored.ResultRef)
	}

	// The metadata snapshot landed next to the result.
	r, err := store.Open(context.Background(), storage.MetaRef(j.ID))
	if err != nil {
		t.Fatalf("meta snapshot missing: %v", err)
	}
	defer func() { _ = r.Close() }()

	var meta map[string]any
	if err := json.NewDecoder(r).Decode(&meta); err != nil {
		t.Fatalf("meta snapshot is not valid JSON: %v", err)
	}
	if meta["job_id"] != j.ID {
		t.Errorf("meta job_id = %v, want %v", meta["job_id"], j.ID)
	}
	if meta["status"] != string(job.StatusSucceeded) {
		t.Errorf("meta status = %v, want succeeded", meta["status"])
	}
	if meta["result_ref"] != storage.VideoRef(j.ID).String() {
		t.Errorf("meta result_ref = %v", meta["result_ref"])
	}
}

func TestScheduler_ForwardsProgressIntoRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var s *Scheduler
	var repo *job.MemoryRepository

	gen := &fakeGenerator{
		generateFn: func(_ context.Context, task generator.Task, progress generator.ProgressFunc) error {
			progress(0.3, "warming up")

			// The sink persists synchronously, so the repository already
			// has the update.
			stored, err := repo.FindByID(context.Background(), jobIDFromOutput(task.OutputPath))
			if err != nil {
				return err
			}
			if stored.Progress != 0.3 || stored.Message != "warming up" {
				return fmt.Errorf("progress not persisted: %v %q", stored.Progress, stored.Message)
			}

			progress(0.7, "rendering")
			return os.WriteFile(task.OutputPath, []byte("video"), 0600)
		},
	}

	s, repo, store := newTestScheduler(t, Config{}, gen)
	s.Start(ctx)

	_, done := submitJob(t, s, store)
	snap := waitTerminal(t, done)

	if snap.Status != job.StatusSucceeded {
		t.Fatalf("status = %v, want succeeded (error: %v)", snap.Status, snap.Error)
	}
}

// jobIDFromOutput extracts the job ID from an outputs/<id>/result.mp4 path.
func jobIDFromOutput(outputPath string) string {
	parts := strings.Split(outputPath, string(os.PathSeparator))
	for i, p := range parts {
		if p == "outputs" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func TestScheduler_BoundsConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const workers = 2
	const jobs = 4

	var current, peak int32
	entered := make(chan struct{}, jobs)
	release := make(chan struct{})

	gen := &fakeGenerator{
		generateFn: func(_ context.Context, task generator.Task, _ generator.ProgressFunc) error {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			entered <- struct{}{}
			<-release
			atomic.AddInt32(&current, -1)
			return os.WriteFile(task.OutputPath, []byte("video"), 0600)
		},
	}

	s, _, store := newTestScheduler(t, Config{Workers: workers, QueueSize: jobs}, gen)
	s.Start(ctx)

	dones := make([]<-chan *job.Job, 0, jobs)
	for i := 0; i < jobs; i++ {
		_, done := submitJob(t, s, store)
		dones = append(dones, done)
	}

	// Both worker slots fill up while the remaining jobs stay queued.
	for i := 0; i < workers; i++ {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("workers did not pick up jobs")
		}
	}
	close(release)

	for _, done := range dones {
		snap := waitTerminal(t, done)
		if snap.Status != job.StatusSucceeded {
			t.Errorf("job %s status = %v, want succeeded (error: %v)", snap.ID, snap.Status, snap.Error)
		}
	}

	if got := atomic.LoadInt32(&peak); got != workers {
		t.Errorf("peak concurrency = %d, want %d", got, workers)
	}
}

func TestScheduler_ExecutesInSubmissionOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, store := newTestScheduler(t, Config{Workers: 1, QueueSize: 8}, &fakeGenerator{})

	var mu sync.Mutex
	var order []string
	var submitted []string
	dones := make([]<-chan *job.Job, 0, 3)

	for i := 0; i < 3; i++ {
		j := job.New("fake")
		task := generator.Task{OutputPath: store.Path(storage.VideoRef(j.ID))}
		done := make(chan *job.Job, 1)
		err := s.Submit(j, task, WithTerminalFunc(func(snap *job.Job) {
			mu.Lock()
			order = append(order, snap.ID)
			mu.Unlock()
			done <- snap
		}))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		submitted = append(submitted, j.ID)
		dones = append(dones, done)
	}

	// Workers start only now, so completion order mirrors queue order.
	s.Start(ctx)
	for _, done := range dones {
		waitTerminal(t, done)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range submitted {
		if order[i] != submitted[i] {
			t.Fatalf("execution order %v does not match submission order %v", order, submitted)
		}
	}
}

func TestScheduler_TimeoutFailsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &fakeGenerator{
		generateFn: func(ctx context.Context, _ generator.Task, _ generator.ProgressFunc) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	s, _, store := newTestScheduler(t, Config{JobTimeout: 50 * time.Millisecond}, gen)
	s.Start(ctx)

	_, done := submitJob(t, s, store)
	snap := waitTerminal(t, done)

	if snap.Status != job.StatusFailed {
		t.Fatalf("status = %v, want failed", snap.Status)
	}
	if !strings.Contains(snap.Error, "timed out after") {
		t.Errorf("Error = %q, want a timeout message", snap.Error)
	}
}

func TestScheduler_PanicDoesNotKillWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var first atomic.Bool
	gen := &fakeGenerator{
		generateFn: func(_ context.Context, task generator.Task, _ generator.ProgressFunc) error {
			if first.CompareAndSwap(false, true) {
				panic("model blew up")
			}
			return os.WriteFile(task.OutputPath, []byte("video"), 0600)
		},
	}

	s, _, store := newTestScheduler(t, Config{Workers: 1}, gen)
	s.Start(ctx)

	_, done1 := submitJob(t, s, store)
	snap1 := waitTerminal(t, done1)
	if snap1.Status != job.StatusFailed {
		t.Fatalf("first job status = %v, want failed", snap1.Status)
	}
	if !strings.Contains(snap1.Error, "panic in generator") {
		t.Errorf("first job Error = %q, want panic message", snap1.Error)
	}

	// The same worker keeps serving jobs.
	_, done2 := submitJob(t, s, store)
	snap2 := waitTerminal(t, done2)
	if snap2.Status != job.StatusSucceeded {
		t.Errorf("second job status = %v, want succeeded (error: %v)", snap2.Status, snap2.Error)
	}
}

func TestScheduler_OptionCheckFailsBeforeInvocation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var invoked atomic.Bool
	gen := &fakeGenerator{
		checkErr: fmt.Errorf("%w: video_size 9000", generator.ErrOptionOutOfRange),
		generateFn: func(_ context.Context, _ generator.Task, _ generator.ProgressFunc) error {
			invoked.Store(true)
			return nil
		},
	}

	s, repo, store := newTestScheduler(t, Config{}, gen)
	s.Start(ctx)

	j, done := submitJob(t, s, store)
	snap := waitTerminal(t, done)

	if snap.Status != job.StatusFailed {
		t.Fatalf("status = %v, want failed", snap.Status)
	}
	if !strings.Contains(snap.Error, "video_size 9000") {
		t.Errorf("Error = %q, want the constraint violation", snap.Error)
	}
	if invoked.Load() {
		t.Error("backend was invoked despite the failed option check")
	}

	// The job still went through running before failing.
	stored, err := repo.FindByID(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if stored.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
}

func TestScheduler_MissingOutputFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &fakeGenerator{
		generateFn: func(_ context.Context, _ generator.Task, _ generator.ProgressFunc) error {
			return nil // reports success without writing anything
		},
	}

	s, _, store := newTestScheduler(t, Config{}, gen)
	s.Start(ctx)

	_, done := submitJob(t, s, store)
	snap := waitTerminal(t, done)

	if snap.Status != job.StatusFailed {
		t.Fatalf("status = %v, want failed", snap.Status)
	}
	if !strings.Contains(snap.Error, "produced no video") {
		t.Errorf("Error = %q, want missing output message", snap.Error)
	}
}

func TestScheduler_QueueFull(t *testing.T) {
	// Not started: nothing drains the queue.
	s, _, store := newTestScheduler(t, Config{QueueSize: 1}, &fakeGenerator{})

	j1 := job.New("fake")
	if err := s.Submit(j1, generator.Task{OutputPath: store.Path(storage.VideoRef(j1.ID))}); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	j2 := job.New("fake")
	err := s.Submit(j2, generator.Task{OutputPath: store.Path(storage.VideoRef(j2.ID))})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Submit() error = %v, want ErrQueueFull", err)
	}
}

// publishingStore pretends S3 is configured.
type publishingStore struct {
	*storage.LocalStore
}

func (p *publishingStore) Publish(_ context.Context, ref storage.Ref) (string, error) {
	return "https://cdn.example.com/" + ref.String(), nil
}

func TestScheduler_PublishSetsVideoURL(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	store := &publishingStore{LocalStore: local}
	repo := job.NewMemoryRepository()
	s := New(Config{}, &fakeGenerator{}, repo, store, testLogger())
	s.Start(ctx)

	j, done := submitJob(t, s, store)
	snap := waitTerminal(t, done)

	if snap.Status != job.StatusSucceeded {
		t.Fatalf("status = %v, want succeeded (error: %v)", snap.Status, snap.Error)
	}
	want := "https://cdn.example.com/" + storage.VideoRef(j.ID).String()
	if snap.VideoURL != want {
		t.Errorf("VideoURL = %q, want %q", snap.VideoURL, want)
	}
}

func TestScheduler_WaitReturnsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s, _, _ := newTestScheduler(t, Config{Workers: 3}, &fakeGenerator{})
	s.Start(ctx)

	cancel()

	finished := make(chan struct{})
	go func() {
		s.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after context cancellation")
	}
}
