package job

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/storage"
)

func TestNew(t *testing.T) {
	j := New("mock")

	if j.ID == "" {
		t.Error("expected non-empty ID")
	}
	if j.Backend != "mock" {
		t.Errorf("Backend = %v, want mock", j.Backend)
	}
	if j.Status != StatusQueued {
		t.Errorf("Status = %v, want %v", j.Status, StatusQueued)
	}
	if j.Message != "Queued" {
		t.Errorf("Message = %v, want Queued", j.Message)
	}
	if j.Progress != 0 {
		t.Errorf("Progress = %v, want 0", j.Progress)
	}
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() {
		t.Error("expected CreatedAt and UpdatedAt to be set")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{name: "queued to running", from: StatusQueued, to: StatusRunning, wantErr: false},
		{name: "queued to succeeded", from: StatusQueued, to: StatusSucceeded, wantErr: true},
		{name: "queued to failed", from: StatusQueued, to: StatusFailed, wantErr: true},
		{name: "running to succeeded", from: StatusRunning, to: StatusSucceeded, wantErr: false},
		{name: "running to failed", from: StatusRunning, to: StatusFailed, wantErr: false},
		{name: "running to queued", from: StatusRunning, to: StatusQueued, wantErr: true},
		{name: "succeeded to running", from: StatusSucceeded, to: StatusRunning, wantErr: true},
		{name: "succeeded to failed", from: StatusSucceeded, to: StatusFailed, wantErr: true},
		{name: "failed to running", from: StatusFailed, to: StatusRunning, wantErr: true},
		{name: "failed to succeeded", from: StatusFailed, to: StatusSucceeded, wantErr: true},
		{name: "unknown status", from: Status("bogus"), to: StatusRunning, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewWithID("test-job", "mock")
			j.Status = tt.from

			err := j.TransitionTo(tt.to)
			if tt.wantErr {
				if err == nil {
					t.Errorf("TransitionTo(%v) expected error, got nil", tt.to)
				}
				if j.GetStatus() != tt.from {
					t.Errorf("status changed on rejected transition: %v", j.GetStatus())
				}
				return
			}
			if err != nil {
				t.Errorf("TransitionTo(%v) error = %v", tt.to, err)
			}
			if j.GetStatus() != tt.to {
				t.Errorf("status = %v, want %v", j.GetStatus(), tt.to)
			}
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	j := New("mock")

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if j.GetStatus() != StatusRunning {
		t.Errorf("status = %v, want %v", j.GetStatus(), StatusRunning)
	}
	if j.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
	if j.Message != "Starting" {
		t.Errorf("Message = %v, want Starting", j.Message)
	}
	if j.Progress != 0.01 {
		t.Errorf("Progress = %v, want 0.01", j.Progress)
	}

	j.UpdateProgress(0.4, "Rendering")

	ref := storage.VideoRef(j.ID)
	if err := j.Succeed(ref, "https://example.com/v.mp4", ""); err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}

	snap := j.Clone()
	if snap.Status != StatusSucceeded {
		t.Errorf("status = %v, want %v", snap.Status, StatusSucceeded)
	}
	if snap.ResultRef != ref {
		t.Errorf("ResultRef = %v, want %v", snap.ResultRef, ref)
	}
	if snap.VideoURL != "https://example.com/v.mp4" {
		t.Errorf("VideoURL = %v", snap.VideoURL)
	}
	if snap.Progress != 1.0 {
		t.Errorf("Progress = %v, want 1.0", snap.Progress)
	}
	if snap.Message != "Ready" {
		t.Errorf("Message = %v, want Ready", snap.Message)
	}
	if snap.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_SucceedRequiresRunning(t *testing.T) {
	j := New("mock")

	err := j.Succeed(storage.VideoRef(j.ID), "", "")
	if err != ErrInvalidTransition {
		t.Errorf("Succeed() on queued job error = %v, want ErrInvalidTransition", err)
	}
	if j.ResultRef != "" {
		t.Errorf("ResultRef set on rejected transition: %v", j.ResultRef)
	}
}

func TestJob_Fail(t *testing.T) {
	j := New("mock")
	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := j.Fail("generation exploded"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	snap := j.Clone()
	if snap.Status != StatusFailed {
		t.Errorf("status = %v, want %v", snap.Status, StatusFailed)
	}
	if snap.Error != "generation exploded" {
		t.Errorf("Error = %v", snap.Error)
	}
	if snap.Message != "Failed" {
		t.Errorf("Message = %v, want Failed", snap.Message)
	}
	if snap.ResultRef != "" {
		t.Errorf("ResultRef = %v, want empty on failure", snap.ResultRef)
	}
}

func TestJob_TerminalIsImmutable(t *testing.T) {
	j := New("mock")
	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := j.Fail("first failure"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	if err := j.Fail("second failure"); err != ErrInvalidTransition {
		t.Errorf("second Fail() error = %v, want ErrInvalidTransition", err)
	}
	if err := j.Succeed(storage.VideoRef(j.ID), "", ""); err != ErrInvalidTransition {
		t.Errorf("Succeed() after Fail() error = %v, want ErrInvalidTransition", err)
	}
	if err := j.Start(); err != ErrInvalidTransition {
		t.Errorf("Start() after Fail() error = %v, want ErrInvalidTransition", err)
	}

	snap := j.Clone()
	if snap.Error != "first failure" {
		t.Errorf("Error = %v, want first failure", snap.Error)
	}
	if snap.ResultRef != "" {
		t.Errorf("ResultRef = %v, want empty", snap.ResultRef)
	}
}

func TestJob_UpdateProgress(t *testing.T) {
	j := New("mock")
	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	j.UpdateProgress(0.5, "Halfway")
	if j.Progress != 0.5 {
		t.Errorf("Progress = %v, want 0.5", j.Progress)
	}
	if j.Message != "Halfway" {
		t.Errorf("Message = %v, want Halfway", j.Message)
	}

	// Progress never decreases.
	j.UpdateProgress(0.3, "Backwards")
	if j.Progress != 0.5 {
		t.Errorf("Progress = %v, want 0.5 after regressing update", j.Progress)
	}

	// Empty message keeps the previous one.
	j.UpdateProgress(0.6, "")
	if j.Message != "Backwards" {
		t.Errorf("Message = %v, want Backwards", j.Message)
	}

	// Out-of-range values are clamped.
	j.UpdateProgress(2.5, "")
	if j.Progress != 1.0 {
		t.Errorf("Progress = %v, want 1.0", j.Progress)
	}

	j2 := New("mock")
	if err := j2.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	j2.UpdateProgress(-0.5, "")
	if j2.Progress != 0 {
		t.Errorf("Progress = %v, want 0", j2.Progress)
	}
}

func TestJob_UpdateProgressDroppedWhenNotRunning(t *testing.T) {
	j := New("mock")

	j.UpdateProgress(0.5, "too early")
	if j.Progress != 0 || j.Message != "Queued" {
		t.Errorf("queued job mutated: progress=%v message=%v", j.Progress, j.Message)
	}

	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := j.Succeed(storage.VideoRef(j.ID), "", ""); err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}

	j.UpdateProgress(0.1, "late backend callback")
	snap := j.Clone()
	if snap.Progress != 1.0 {
		t.Errorf("Progress = %v, want 1.0 after terminal state", snap.Progress)
	}
	if snap.Message != "Ready" {
		t.Errorf("Message = %v, want Ready after terminal state", snap.Message)
	}
}

func TestJob_UpdatedAtNeverRegresses(t *testing.T) {
	j := New("mock")
	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	prev := j.UpdatedAt
	for i := 0; i < 50; i++ {
		j.UpdateProgress(float64(i)/100, "tick")
		if j.UpdatedAt.Before(prev) {
			t.Fatalf("UpdatedAt moved backwards: %v -> %v", prev, j.UpdatedAt)
		}
		prev = j.UpdatedAt
	}
}

func TestJob_Clone(t *testing.T) {
	j := New("sadtalker")
	j.ImageRef = storage.ImageRef(j.ID, ".png")
	j.Script = "hello there"

	snap := j.Clone()
	if snap.ID != j.ID || snap.Backend != j.Backend || snap.Script != j.Script {
		t.Error("clone does not match source")
	}
	if snap.ImageRef != j.ImageRef {
		t.Errorf("ImageRef = %v, want %v", snap.ImageRef, j.ImageRef)
	}

	// Mutating the source must not leak into the clone.
	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	j.UpdateProgress(0.9, "almost")

	if snap.Status != StatusQueued {
		t.Errorf("clone status = %v, want %v", snap.Status, StatusQueued)
	}
	if snap.Progress != 0 {
		t.Errorf("clone progress = %v, want 0", snap.Progress)
	}
}

func TestJob_ConcurrentAccess(t *testing.T) {
	j := New("mock")
	if err := j.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				j.UpdateProgress(float64(k)/100, "worker update")
				_ = j.GetStatus()
				_ = j.Clone()
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(time.Millisecond)
		_ = j.Succeed(storage.VideoRef(j.ID), "", "")
	}()

	wg.Wait()
	<-done

	snap := j.Clone()
	if snap.Status != StatusSucceeded {
		t.Errorf("status = %v, want %v", snap.Status, StatusSucceeded)
	}
	if snap.Progress != 1.0 {
		t.Errorf("Progress = %v, want 1.0", snap.Progress)
	}
	if !strings.HasPrefix(string(snap.ResultRef), "outputs/") {
		t.Errorf("ResultRef = %v", snap.ResultRef)
	}
}
