package archive

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"veil/hasher"
)

func TestNames(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("CET", 3600))
	if got := OriginalName(ts, "/in/Holiday Photo.PNG"); got != "20240309T130507Z__Holiday Photo.PNG" {
		t.Fatalf("unexpected original name: %s", got)
	}
	if got := CleanName(ts, "scan.tiff", ".jpg"); got != "20240309T130507Z__scan_clean.jpg" {
		t.Fatalf("unexpected clean name: %s", got)
	}
}

func TestCopyFileChecksumMatchesHasher(t *testing.T) {
	src := filepath.Join(t.TempDir(), "input.bin")
	if err := os.WriteFile(src, []byte("evidence bytes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := New(filepath.Join(t.TempDir(), "originals"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := store.CopyFile(src, "copy.bin")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	want, err := hasher.HashFile(src)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if res.Checksum != want || res.Size != int64(len("evidence bytes")) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatal("copy must leave the source in place")
	}
}

func TestWriteCollisionGetsSuffix(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first, err := store.Save(strings.NewReader("a"), "same_clean.jpg")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := store.Save(strings.NewReader("b"), "same_clean.jpg")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Name != "same_clean.jpg" || second.Name == first.Name {
		t.Fatalf("unexpected names: %s %s", first.Name, second.Name)
	}
	if !strings.HasPrefix(second.Name, "same_clean_") || !strings.HasSuffix(second.Name, ".jpg") {
		t.Fatalf("unexpected suffixed name: %s", second.Name)
	}
	if n, _ := Count(store.Dir()); n != 2 {
		t.Fatalf("expected 2 files, got %d", n)
	}
}

func TestWriteFailureLeavesNothing(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = store.Write("broken.png", func(w io.Writer) error {
		_, _ = w.Write([]byte("half"))
		return errors.New("encoder exploded")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Fatalf("expected empty directory, got %d entries", len(entries))
	}
}

func TestRemoveMissingIsNil(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.Remove("nope"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStageAndCommit(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	staged, err := store.Stage(".mp4")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if !strings.HasSuffix(staged, ".mp4") {
		t.Fatalf("staged path must keep extension: %s", staged)
	}
	if n, _ := Count(store.Dir()); n != 0 {
		t.Fatalf("staged files must not be counted, got %d", n)
	}
	if err := os.WriteFile(staged, []byte("stripped"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := store.Commit(staged, "clip_clean.mp4")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	want, _ := hasher.HashFile(res.Path)
	if res.Name != "clip_clean.mp4" || res.Checksum != want || res.Size != 8 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatal("staged file must be gone after commit")
	}
}
