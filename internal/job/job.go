// Package job provides the Job aggregate for avatar video generation
// requests. It includes the Job record with its state machine, as well as
// repository interfaces for persistence.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/generator"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/job/id"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/storage"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job is waiting for an available worker.
	StatusQueued Status = "queued"
	// StatusRunning indicates the job is being processed by a worker.
	StatusRunning Status = "running"
	// StatusSucceeded indicates the job finished and its result is stored.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "failed"
)

// IsTerminal returns true for states that never change again.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning},
	StatusRunning:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents a single avatar video generation request.
// All mutations go through its methods; each method body is one atomic
// commit under the record lock, so readers never observe a half-applied
// update (for example a succeeded status without its result ref).
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Backend is the name of the generation backend that serves this job.
	Backend string
	// Status is the current job state.
	Status Status
	// Progress is the fraction of completion (0.0-1.0).
	Progress float64
	// Message is a short human-readable phase description.
	Message string
	// Error contains the failure reason if the job failed.
	Error string

	// ImageRef points at the uploaded source image.
	ImageRef storage.Ref
	// AudioRef points at the uploaded or synthesized speech track.
	AudioRef storage.Ref
	// Script is the text to speak when no audio clip was uploaded.
	Script string
	// Options carries the generation options captured at submission.
	Options generator.Options

	// ResultRef points at the produced video. Set only on success.
	ResultRef storage.Ref
	// VideoURL is the public URL if the result was published to S3.
	VideoURL string

	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated. Never moves backwards.
	UpdatedAt time.Time
	// StartedAt is when a worker picked the job up.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial queued status.
func New(backend string) *Job {
	return NewWithID(id.Generate(), backend)
}

// NewWithID creates a new Job with the specified ID and initial queued
// status. Useful for testing or when the ID needs to be externally generated.
func NewWithID(jobID, backend string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Backend:   backend,
		Status:    StatusQueued,
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// monotonicNow returns the current time, clamped so a commit never records
// an UpdatedAt earlier than the previous one.
func monotonicNow(last time.Time) time.Time {
	now := time.Now()
	if now.Before(last) {
		return last
	}
	return now
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = monotonicNow(j.UpdatedAt)

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusSucceeded, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from queued to running.
// Returns ErrInvalidTransition if the job is not queued.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, StatusRunning) {
		return ErrInvalidTransition
	}

	j.Status = StatusRunning
	j.Progress = 0.01
	j.Message = "Starting"
	j.UpdatedAt = monotonicNow(j.UpdatedAt)
	j.StartedAt = j.UpdatedAt
	return nil
}

// Succeed transitions the job to succeeded and records the result in the
// same commit. Returns ErrInvalidTransition if the job is not running.
func (j *Job) Succeed(resultRef storage.Ref, videoURL, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, StatusSucceeded) {
		return ErrInvalidTransition
	}

	j.Status = StatusSucceeded
	j.ResultRef = resultRef
	j.VideoURL = videoURL
	j.Progress = 1.0
	if message == "" {
		message = "Ready"
	}
	j.Message = message
	j.UpdatedAt = monotonicNow(j.UpdatedAt)
	j.CompletedAt = j.UpdatedAt
	return nil
}

// Fail transitions the job to failed with an error message in the same
// commit. Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, StatusFailed) {
		return ErrInvalidTransition
	}

	j.Status = StatusFailed
	j.Error = errMsg
	j.Progress = 1.0
	j.Message = "Failed"
	j.UpdatedAt = monotonicNow(j.UpdatedAt)
	j.CompletedAt = j.UpdatedAt
	return nil
}

// UpdateProgress records backend progress on a running job. Progress is
// clamped to [0, 1] and never decreases; an empty message keeps the
// previous one. Updates arriving after a terminal state are dropped.
func (j *Job) UpdateProgress(progress float64, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != StatusRunning {
		return
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	if message != "" {
		j.Message = message
	}
	j.UpdatedAt = monotonicNow(j.UpdatedAt)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.IsTerminal()
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Backend:     j.Backend,
		Status:      j.Status,
		Progress:    j.Progress,
		Message:     j.Message,
		Error:       j.Error,
		ImageRef:    j.ImageRef,
		AudioRef:    j.AudioRef,
		Script:      j.Script,
		Options:     j.Options,
		ResultRef:   j.ResultRef,
		VideoURL:    j.VideoURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
