package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")

	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	if store.Root() != dir {
		t.Errorf("Root() = %v, want %v", store.Root(), dir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("storage root was not created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("storage root is not a directory")
	}
}

func TestLocalStore_PutAndOpen(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()
	ref := ImageRef("job-1", ".png")

	got, err := store.Put(ctx, ref, bytes.NewReader([]byte("image bytes")))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got != ref {
		t.Errorf("Put() ref = %v, want %v", got, ref)
	}

	r, err := store.Open(ctx, ref)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(content) != "image bytes" {
		t.Errorf("got %q, want %q", string(content), "image bytes")
	}
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()
	ref := AudioRef("job-1")

	if _, err := store.Put(ctx, ref, strings.NewReader("first")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := store.Put(ctx, ref, strings.NewReader("second")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	r, err := store.Open(ctx, ref)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	content, _ := io.ReadAll(r)
	if string(content) != "second" {
		t.Errorf("got %q, want %q", string(content), "second")
	}
}

type failingReader struct{}

func (failingReader) Read(_ []byte) (int, error) {
	return 0, errors.New("read failed")
}

func TestLocalStore_PutFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()
	ref := VideoRef("job-1")

	if _, err := store.Put(ctx, ref, failingReader{}); err == nil {
		t.Fatal("Put() with failing reader expected error, got nil")
	}

	ok, err := store.Exists(ctx, ref)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Error("artifact exists after failed Put()")
	}

	// No partially written temp files may survive a failed Put.
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), ".put_") {
			t.Errorf("leftover temp file %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
}

func TestLocalStore_PutInvalidRef(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()

	tests := []struct {
		name string
		ref  Ref
	}{
		{name: "empty", ref: ""},
		{name: "absolute", ref: "/etc/passwd"},
		{name: "traversal", ref: "../outside"},
		{name: "nested traversal", ref: "uploads/../../outside"},
		{name: "backslash", ref: `uploads\job\image.png`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Put(ctx, tt.ref, strings.NewReader("x")); err == nil {
				t.Errorf("Put(%q) expected error, got nil", tt.ref)
			}

			var serr *Error
			_, err := store.Open(ctx, tt.ref)
			if !errors.As(err, &serr) {
				t.Errorf("Open(%q) error = %v, want *storage.Error", tt.ref, err)
			}
		})
	}
}

func TestLocalStore_Exists(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()
	ref := MetaRef("job-1")

	ok, err := store.Exists(ctx, ref)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Error("Exists() = true for missing artifact")
	}

	if _, err := store.Put(ctx, ref, strings.NewReader("{}")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ok, err = store.Exists(ctx, ref)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !ok {
		t.Error("Exists() = false for stored artifact")
	}
}

func TestLocalStore_Path(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ref := VideoRef("job-1")
	want := filepath.Join(dir, "outputs", "job-1", "result.mp4")
	if got := store.Path(ref); got != want {
		t.Errorf("Path() = %v, want %v", got, want)
	}

	// Invalid refs must not resolve outside the root.
	got := store.Path(Ref("../../etc/passwd"))
	if !strings.HasPrefix(got, dir) {
		t.Errorf("Path() escaped root: %v", got)
	}
}

func TestLocalStore_PublishNotConfigured(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	_, err = store.Publish(context.Background(), VideoRef("job-1"))
	if !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("Publish() error = %v, want ErrS3NotConfigured", err)
	}
}

func TestLocalStore_ContextCancelled(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Put(ctx, AudioRef("job-1"), strings.NewReader("x")); err == nil {
		t.Error("Put() with cancelled context expected error, got nil")
	}
	if _, err := store.Open(ctx, AudioRef("job-1")); err == nil {
		t.Error("Open() with cancelled context expected error, got nil")
	}
}

func TestRefLayout(t *testing.T) {
	tests := []struct {
		name string
		got  Ref
		want Ref
	}{
		{name: "image default ext", got: ImageRef("j1", ""), want: "uploads/j1/image.png"},
		{name: "image jpg", got: ImageRef("j1", ".jpg"), want: "uploads/j1/image.jpg"},
		{name: "image missing dot", got: ImageRef("j1", "jpeg"), want: "uploads/j1/image.jpeg"},
		{name: "audio", got: AudioRef("j1"), want: "uploads/j1/audio.wav"},
		{name: "raw audio wav collapses", got: RawAudioRef("j1", ".wav"), want: "uploads/j1/audio.wav"},
		{name: "raw audio mp3", got: RawAudioRef("j1", ".mp3"), want: "uploads/j1/audio.mp3"},
		{name: "video", got: VideoRef("j1"), want: "outputs/j1/result.mp4"},
		{name: "meta", got: MetaRef("j1"), want: "outputs/j1/job.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}
