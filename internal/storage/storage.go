// Package storage provides the artifact store for job inputs and produced
// videos. It defines the Store interface (port) for hexagonal architecture
// and implementations for local disk and S3-backed publishing.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Ref is an opaque reference to a stored artifact. Callers treat it as a
// stable handle: a Ref returned once keeps resolving to the same bytes for
// the lifetime of the store.
type Ref string

// String returns the ref as a plain string.
func (r Ref) String() string { return string(r) }

// ErrS3NotConfigured is returned when publishing is attempted on a store
// without S3 configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// Error describes a failed store operation on a specific artifact.
type Error struct {
	Op  string // "put", "open", "exists", "publish"
	Ref Ref
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store defines the interface for the artifact store. Implementations must
// make writes atomic: a ref either resolves to the complete artifact or does
// not resolve at all, never to partial bytes.
type Store interface {
	// Put writes data at ref atomically and returns the same ref on success.
	Put(ctx context.Context, ref Ref, data io.Reader) (Ref, error)

	// Open returns a reader for a stored artifact.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, ref Ref) (io.ReadCloser, error)

	// Path resolves a ref to a filesystem path. External tools
	// (ffmpeg, backend scripts) read and write artifacts through it.
	Path(ref Ref) string

	// Exists reports whether a ref resolves to a stored artifact.
	Exists(ctx context.Context, ref Ref) (bool, error)

	// Publish pushes a stored artifact to remote durable storage and returns
	// its public URL. Returns ErrS3NotConfigured when no remote is set up.
	Publish(ctx context.Context, ref Ref) (url string, err error)
}

// Artifact refs follow a fixed per-job layout: uploads hold the request
// inputs, outputs hold the produced video and the job metadata snapshot.

// ImageRef returns the ref for a job's uploaded source image.
// The extension of the original upload is preserved.
func ImageRef(jobID, ext string) Ref {
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return Ref(path.Join("uploads", jobID, "image"+ext))
}

// AudioRef returns the ref for a job's prepared speech track (mono WAV).
func AudioRef(jobID string) Ref {
	return Ref(path.Join("uploads", jobID, "audio.wav"))
}

// RawAudioRef returns the ref for an uploaded audio clip before conversion.
func RawAudioRef(jobID, ext string) Ref {
	if ext == "" || strings.EqualFold(ext, ".wav") {
		return AudioRef(jobID)
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return Ref(path.Join("uploads", jobID, "audio"+ext))
}

// VideoRef returns the ref for a job's produced result video.
func VideoRef(jobID string) Ref {
	return Ref(path.Join("outputs", jobID, "result.mp4"))
}

// MetaRef returns the ref for a job's persisted metadata snapshot.
func MetaRef(jobID string) Ref {
	return Ref(path.Join("outputs", jobID, "job.json"))
}
