package diag

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"veil/logger"
)

func init() {
	logger.Init("error")
}

type fakeProfile struct {
	content string
}

func (f fakeProfile) WriteTo(w io.Writer, debug int) error {
	_, err := io.WriteString(w, f.content)
	return err
}

func fakeLookup(name string) profileWriter {
	if name == "goroutine" {
		return fakeProfile{content: "goroutines"}
	}
	return nil
}

func TestCheckDumpsOnStall(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	w := NewWatchdog(Options{
		Threshold: 2 * time.Second,
		Dir:       dir,
		Progress:  func() int64 { return 3 },
		DumpFlightRecorder: func(path string) error {
			return os.WriteFile(path, []byte("flight"), 0o600)
		},
		Now:           func() time.Time { return now },
		ProfileLookup: fakeLookup,
	})
	w.lastProgress = 3
	w.lastProgressAt = now

	w.check(now.Add(time.Second))
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("nothing should be dumped before the threshold, got %d entries", len(entries))
	}

	w.check(now.Add(3 * time.Second))
	var stall, flight, profile bool
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "veil-stall-") && strings.HasSuffix(name, ".json"):
			stall = true
			data, _ := os.ReadFile(filepath.Join(dir, name))
			if !strings.Contains(string(data), `"files_finished": 3`) || !strings.Contains(string(data), `"goroutine_dumped": true`) {
				t.Fatalf("unexpected stall event: %s", data)
			}
		case strings.HasPrefix(name, "veil-flight-"):
			flight = true
		case strings.HasPrefix(name, "veil-goroutine-") && strings.HasSuffix(name, ".pprof"):
			profile = true
		}
	}
	if !stall || !flight || !profile {
		t.Fatalf("missing artifacts: stall=%t flight=%t profile=%t", stall, flight, profile)
	}

	// A second check inside the same threshold window does not dump again.
	before := len(entries)
	w.check(now.Add(4 * time.Second))
	if entries, _ := os.ReadDir(dir); len(entries) != before {
		t.Fatalf("expected no new artifacts, got %d (was %d)", len(entries), before)
	}
}

func TestCheckResetsOnProgress(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	var done int64
	w := NewWatchdog(Options{
		Threshold:     time.Second,
		Dir:           dir,
		Progress:      func() int64 { return done },
		Now:           func() time.Time { return now },
		ProfileLookup: fakeLookup,
	})
	w.lastProgressAt = now

	done = 1
	w.check(now.Add(5 * time.Second))
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("progress should reset the stall clock, got %d entries", len(entries))
	}
}

func TestStartStopWithoutThresholdIsNoop(t *testing.T) {
	w := NewWatchdog(Options{Progress: func() int64 { return 0 }})
	w.Start(context.Background())
	if w.stopCh != nil {
		t.Fatal("watchdog without threshold should not start")
	}
	w.Stop()

	var n atomic.Int64
	w = NewWatchdog(Options{Threshold: 10 * time.Millisecond, Dir: t.TempDir(), Progress: n.Load, ProfileLookup: fakeLookup})
	w.Start(context.Background())
	n.Add(1)
	w.Stop()
	if w.stopCh != nil {
		t.Fatal("Stop should reset the watchdog")
	}
}
