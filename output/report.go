// Package output writes the per-run JSON report and exports audit actions
// over OTLP.
package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"veil/systeminfo"
)

// SchemaVersion is stamped on reports and exported records.
const SchemaVersion = "1.0.0"

const reportIndent = "  "

// File outcomes.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

type RunInfo struct {
	RunID     uint      `json:"run_id"`
	UUID      string    `json:"uuid"`
	Operator  string    `json:"operator"`
	StartedAt time.Time `json:"started_at"`
}

type Metrics struct {
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Aborted    bool   `json:"aborted,omitempty"`
}

// Artifact describes one stored file.
type Artifact struct {
	FileID uint   `json:"file_id,omitempty"`
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Format string `json:"format,omitempty"`
}

// FileResult is the report entry for one intake file.
type FileResult struct {
	Input       string            `json:"input"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	Stage       string            `json:"stage,omitempty"`
	Error       string            `json:"error,omitempty"`
	Original    *Artifact         `json:"original,omitempty"`
	Clean       *Artifact         `json:"clean,omitempty"`
	Hashes      map[string]string `json:"hashes,omitempty"`
	FuzzyHashes map[string]string `json:"fuzzy_hashes,omitempty"`
	DuplicateOf []uint            `json:"duplicate_of,omitempty"`
	Unavailable map[string]string `json:"metadata_unavailable,omitempty"`
	Duration    string            `json:"duration,omitempty"`
}

// Report streams a JSON document to disk, flushing after every entry so a
// crash still leaves the processed prefix readable. A nil *Report accepts
// every call and writes nothing.
type Report struct {
	mu    sync.Mutex
	file  *os.File
	buf   *bufio.Writer
	first bool
	count int
}

func NewReport(path string, run RunInfo, host *systeminfo.Host, configuration interface{}) (*Report, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	r := &Report{file: f, buf: bufio.NewWriterSize(f, 64*1024), first: true}
	if err := r.writeHeader(run, host, configuration); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Report) writeHeader(run RunInfo, host *systeminfo.Host, configuration interface{}) error {
	if _, err := fmt.Fprintf(r.buf, "{\n  \"schema_version\": %q,\n", SchemaVersion); err != nil {
		return err
	}
	var hostValue interface{}
	if host != nil {
		hostValue = host
	}
	sections := []struct {
		key   string
		value interface{}
	}{
		{"run", run},
		{"host", hostValue},
		{"configuration", configuration},
	}
	for _, s := range sections {
		if s.value == nil {
			continue
		}
		data, err := encodeNested(s.value, 1)
		if err != nil {
			return fmt.Errorf("encode report %s: %w", s.key, err)
		}
		if _, err := fmt.Fprintf(r.buf, "  %q: %s,\n", s.key, data); err != nil {
			return err
		}
	}
	if _, err := r.buf.WriteString("  \"files\": [\n"); err != nil {
		return err
	}
	return r.buf.Flush()
}

// Add appends one file entry.
func (r *Report) Add(res FileResult) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := encodeNested(res, 2)
	if err != nil {
		return fmt.Errorf("encode report entry: %w", err)
	}
	if !r.first {
		if _, err := r.buf.WriteString(",\n"); err != nil {
			return err
		}
	}
	r.first = false
	if _, err := r.buf.WriteString("    "); err != nil {
		return err
	}
	if _, err := r.buf.Write(data); err != nil {
		return err
	}
	r.count++
	return r.buf.Flush()
}

// Close terminates the files array, writes the metrics and syncs the file.
func (r *Report) Close(m Metrics) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := encodeNested(m, 1)
	if err != nil {
		r.file.Close()
		return fmt.Errorf("encode report metrics: %w", err)
	}
	if _, err := fmt.Fprintf(r.buf, "\n  ],\n  \"metrics\": %s\n}\n", data); err != nil {
		r.file.Close()
		return err
	}
	if err := r.buf.Flush(); err != nil {
		r.file.Close()
		return err
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Entries returns how many file entries were written.
func (r *Report) Entries() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
