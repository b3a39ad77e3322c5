// Package generator provides the common contract for avatar video
// generation backends and the factory that selects the active one.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Static errors for backend resolution and option checks.
var (
	// ErrUnknownBackend is returned when the configured backend name is not registered.
	ErrUnknownBackend = errors.New("unknown generator backend")
	// ErrOptionOutOfRange is returned when a request option violates a hard backend constraint.
	ErrOptionOutOfRange = errors.New("option exceeds backend limits")
)

// GenerationError reports a backend failure during synthesis.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ProgressFunc receives backend progress as a fraction in [0, 1] and a
// short phase message. Implementations may call it from the generation
// goroutine at any rate; calls must be cheap and non-blocking.
type ProgressFunc func(progress float64, message string)

// Task describes one unit of generation work. Paths point at staged
// artifacts on the local filesystem; the backend reads the image and the
// speech track and writes the finished video to OutputPath.
type Task struct {
	ImagePath  string
	AudioPath  string
	OutputPath string
	Options    Options
}

// Generator defines the interface for avatar video generation backends.
type Generator interface {
	// Name returns the backend's registry name.
	Name() string

	// Identity returns a stable string covering the backend name and every
	// configuration knob that affects its output. Backends with equal
	// identity produce interchangeable results for identical inputs.
	Identity() string

	// CheckOptions reports whether the request options violate a hard
	// constraint of this backend. Violations wrap ErrOptionOutOfRange.
	CheckOptions(opts Options) error

	// Generate renders the task into Task.OutputPath, reporting progress
	// through the callback. It must honor ctx cancellation.
	Generate(ctx context.Context, task Task, progress ProgressFunc) error
}

// identity builds the canonical identity string for a backend from its name
// and effective configuration.
func identity(name string, cfg any) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return name
	}
	return name + ":" + string(b)
}
