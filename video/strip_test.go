package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"veil/logger"
)

func init() {
	logger.Init("error")
}

// fakeTool writes a shell script that behaves like ffmpeg for the argument
// shape used here: it copies the -i input to the last argument.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return path
}

const copyBody = `in=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-i" ]; then in="$arg"; fi
  prev="$arg"
  last="$arg"
done
cp "$in" "$last"`

func TestIsVideo(t *testing.T) {
	if !IsVideo("/a/b/Clip.MP4") || IsVideo("clip.mov") || IsVideo("photo.jpg") {
		t.Fatal("unexpected IsVideo result")
	}
}

func TestUnavailableTool(t *testing.T) {
	s := NewStripper(filepath.Join(t.TempDir(), "missing-ffmpeg"), time.Second)
	if s.Available() {
		t.Fatal("tool should not be available")
	}
	details, err := s.Strip(context.Background(), "in.mp4", "out.mp4")
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if details.Error == "" || details.LSBRandomizationApplied {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestStripRunsTool(t *testing.T) {
	tool := fakeTool(t, copyBody)
	dir := t.TempDir()
	in := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(in, []byte("moov"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewStripper(tool, 5*time.Second)
	if !s.Available() {
		t.Fatal("fake tool should be available")
	}
	out := filepath.Join(dir, "clip_stripped.mp4")
	details, err := s.Strip(context.Background(), in, out)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if data, _ := os.ReadFile(out); string(data) != "moov" {
		t.Fatalf("unexpected output %q", data)
	}
	if details.Operation != "strip_metadata" || len(details.Arguments) != len(stripArgs) {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestStripReportsToolFailure(t *testing.T) {
	tool := fakeTool(t, `echo "moov atom not found" >&2; exit 1`)
	s := NewStripper(tool, 5*time.Second)
	details, err := s.Strip(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatal("expected failure")
	}
	if details.Error == "" {
		t.Fatal("details must carry the error")
	}
}

func TestStripTimeout(t *testing.T) {
	tool := fakeTool(t, "exec sleep 5")
	s := NewStripper(tool, 100*time.Millisecond)
	start := time.Now()
	_, err := s.Strip(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout was not enforced")
	}
}

func TestCleanNamingAndOverwrite(t *testing.T) {
	tool := fakeTool(t, copyBody)
	src := filepath.Join(t.TempDir(), "holiday.mp4")
	if err := os.WriteFile(src, []byte("ftyp"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := filepath.Join(t.TempDir(), "out")
	s := NewStripper(tool, 5*time.Second)

	out, _, err := s.Clean(context.Background(), src, CleanOptions{OutputDir: outDir})
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if out != filepath.Join(outDir, "holiday_clean.mp4") {
		t.Fatalf("unexpected output path %s", out)
	}
	if _, _, err := s.Clean(context.Background(), src, CleanOptions{OutputDir: outDir}); !errors.Is(err, ErrOutputExists) {
		t.Fatalf("expected ErrOutputExists, got %v", err)
	}
	if _, _, err := s.Clean(context.Background(), src, CleanOptions{OutputDir: outDir, Overwrite: true}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, _, err := s.Clean(context.Background(), "clip.mov", CleanOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
