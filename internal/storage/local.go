package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// errInvalidRef is wrapped into *Error for refs that escape the store root.
var errInvalidRef = errors.New("invalid ref")

// LocalStore implements the Store interface on a local directory tree.
// Writes go through a temp file plus rename, so partially written artifacts
// are never visible under their final ref.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore rooted at dir.
// If dir is empty, "storage" under the working directory is used.
// The directory is created if it doesn't exist.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "storage"
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalStore{root: dir}, nil
}

// Root returns the store's root directory.
func (s *LocalStore) Root() string {
	return s.root
}

// cleanRef validates a ref and returns its relative filesystem path.
// Refs are slash-separated and must stay inside the store root.
func cleanRef(ref Ref) (string, error) {
	r := string(ref)
	if r == "" || strings.HasPrefix(r, "/") || strings.Contains(r, "\\") {
		return "", errInvalidRef
	}
	cleaned := filepath.Clean(filepath.FromSlash(r))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", errInvalidRef
	}
	return cleaned, nil
}

// Put writes data at ref atomically and returns the same ref on success.
// The artifact appears under its final path only after a complete write.
func (s *LocalStore) Put(ctx context.Context, ref Ref, data io.Reader) (Ref, error) {
	select {
	case <-ctx.Done():
		return "", &Error{Op: "put", Ref: ref, Err: ctx.Err()}
	default:
	}

	rel, err := cleanRef(ref)
	if err != nil {
		return "", &Error{Op: "put", Ref: ref, Err: err}
	}

	dst := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", &Error{Op: "put", Ref: ref, Err: err}
	}

	f, err := os.CreateTemp(filepath.Dir(dst), ".put_*")
	if err != nil {
		return "", &Error{Op: "put", Ref: ref, Err: err}
	}

	tmpName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return "", &Error{Op: "put", Ref: ref, Err: err}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", &Error{Op: "put", Ref: ref, Err: err}
	}

	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", &Error{Op: "put", Ref: ref, Err: err}
	}

	return ref, nil
}

// Open returns a reader for a stored artifact.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStore) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, &Error{Op: "open", Ref: ref, Err: ctx.Err()}
	default:
	}

	rel, err := cleanRef(ref)
	if err != nil {
		return nil, &Error{Op: "open", Ref: ref, Err: err}
	}

	f, err := os.Open(filepath.Join(s.root, rel)) // #nosec G304 - ref is validated by cleanRef
	if err != nil {
		return nil, &Error{Op: "open", Ref: ref, Err: err}
	}

	return f, nil
}

// Path resolves a ref to a path under the store root. Invalid refs resolve
// to the root itself, where no artifact ever lives.
func (s *LocalStore) Path(ref Ref) string {
	rel, err := cleanRef(ref)
	if err != nil {
		return s.root
	}
	return filepath.Join(s.root, rel)
}

// Exists reports whether a ref resolves to a stored artifact.
func (s *LocalStore) Exists(ctx context.Context, ref Ref) (bool, error) {
	select {
	case <-ctx.Done():
		return false, &Error{Op: "exists", Ref: ref, Err: ctx.Err()}
	default:
	}

	rel, err := cleanRef(ref)
	if err != nil {
		return false, &Error{Op: "exists", Ref: ref, Err: err}
	}

	info, err := os.Stat(filepath.Join(s.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &Error{Op: "exists", Ref: ref, Err: err}
	}

	return !info.IsDir(), nil
}

// Publish is not supported by LocalStore and returns ErrS3NotConfigured.
func (s *LocalStore) Publish(_ context.Context, _ Ref) (string, error) {
	return "", ErrS3NotConfigured
}
