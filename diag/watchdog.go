// Package diag watches a running batch and leaves diagnostics behind when
// no file completes for too long, typically a stuck decode or ffmpeg run.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"veil/logger"
)

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// Threshold is how long the batch may go without finishing a file.
	// Zero disables the watchdog.
	Threshold time.Duration
	Dir       string
	// Progress reports the number of files finished so far.
	Progress           func() int64
	DumpFlightRecorder func(path string) error
	Now                func() time.Time
	ProfileLookup      func(name string) profileWriter
}

type Watchdog struct {
	threshold          time.Duration
	dir                string
	progress           func() int64
	dumpFlightRecorder func(path string) error
	now                func() time.Time
	profileLookup      func(name string) profileWriter

	mu             sync.Mutex
	lastProgressAt time.Time
	lastProgress   int64
	lastDumpAt     time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWatchdog(opts Options) *Watchdog {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lookup := opts.ProfileLookup
	if lookup == nil {
		lookup = func(name string) profileWriter {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	return &Watchdog{
		threshold:          opts.Threshold,
		dir:                dir,
		progress:           opts.Progress,
		dumpFlightRecorder: opts.DumpFlightRecorder,
		now:                now,
		profileLookup:      lookup,
	}
}

// Start polls progress until ctx ends or Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.threshold <= 0 || w.progress == nil || w.stopCh != nil {
		return
	}

	w.mu.Lock()
	w.lastProgress = w.progress()
	w.lastProgressAt = w.now()
	w.lastDumpAt = time.Time{}
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := w.threshold / 2
	if interval < 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.check(w.now())
			}
		}
	}()
}

func (w *Watchdog) Stop() {
	if w == nil || w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.stopCh = nil
	w.doneCh = nil
}

func (w *Watchdog) check(now time.Time) {
	progress := w.progress()

	w.mu.Lock()
	if progress != w.lastProgress || w.lastProgressAt.IsZero() {
		w.lastProgress = progress
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	stalledFor := now.Sub(w.lastProgressAt)
	dump := stalledFor >= w.threshold &&
		(w.lastDumpAt.IsZero() || now.Sub(w.lastDumpAt) >= w.threshold)
	if dump {
		w.lastDumpAt = now
	}
	w.mu.Unlock()

	if dump {
		logger.Warnf("No file finished for %s after %d file(s); writing diagnostics to %s",
			stalledFor.Round(time.Second), progress, w.dir)
		if err := w.dumpStall(now, progress, stalledFor); err != nil {
			logger.Warnf("Stall diagnostics failed: %v", err)
		}
	}
}

func (w *Watchdog) dumpStall(now time.Time, progress int64, stalledFor time.Duration) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")
	event := map[string]interface{}{
		"event":            "batch_stalled",
		"timestamp":        now.UTC().Format(time.RFC3339Nano),
		"files_finished":   progress,
		"threshold_ms":     w.threshold.Milliseconds(),
		"stalled_for_ms":   stalledFor.Milliseconds(),
		"goroutine_dumped": false,
	}
	if _, err := w.writeProfile("goroutine", 2, ts); err != nil {
		logger.Warnf("Goroutine profile not written: %v", err)
	} else {
		event["goroutine_dumped"] = true
	}
	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.dir, fmt.Sprintf("veil-stall-%s.json", ts)), b, 0o600); err != nil {
		return err
	}
	if w.dumpFlightRecorder != nil {
		if err := w.dumpFlightRecorder(filepath.Join(w.dir, fmt.Sprintf("veil-flight-%s.out", ts))); err != nil {
			logger.Warnf("Flight recorder dump failed: %v", err)
		}
	}
	return nil
}

func (w *Watchdog) writeProfile(name string, debug int, ts string) (string, error) {
	profile := w.profileLookup(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("veil-%s-%s.pprof", name, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, debug); err != nil {
		return "", err
	}
	return path, nil
}
