// Package archive writes pipeline artifacts into their destination
// directories. Every write goes to a temp file, is hashed on the fly, synced
// and then renamed into place, so a crash never leaves a partial artifact
// under its final name.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the UTC prefix on every archived name.
const TimestampLayout = "20060102T150405Z"

type Store struct {
	dir string
}

type SaveResult struct {
	Name     string
	Path     string
	Size     int64
	Checksum string
}

// New creates dir when missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// OriginalName is {timestamp}__{filename}.
func OriginalName(ts time.Time, filename string) string {
	return ts.UTC().Format(TimestampLayout) + "__" + filepath.Base(filename)
}

// CleanName is {timestamp}__{stem}_clean{ext}.
func CleanName(ts time.Time, filename, ext string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return ts.UTC().Format(TimestampLayout) + "__" + stem + "_clean" + ext
}

// CopyFile streams src into the store under name.
func (s *Store) CopyFile(src, name string) (*SaveResult, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	return s.Save(f, name)
}

// Save writes everything read from r under name.
func (s *Store) Save(r io.Reader, name string) (*SaveResult, error) {
	return s.Write(name, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// Write lets fn stream the artifact body. The final name is name unless
// that already exists, in which case a short unique suffix is added before
// the extension.
func (s *Store) Write(name string, fn func(w io.Writer) error) (*SaveResult, error) {
	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) (*SaveResult, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	hasher := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(tmp, hasher)}
	if err := fn(counter); err != nil {
		return fail(fmt.Errorf("write %s: %w", name, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("fsync %s: %w", name, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpPath, 0o640); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("chmod %s: %w", name, err)
	}

	final := s.availableName(name)
	fullPath := filepath.Join(s.dir, final)
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename into %s: %w", fullPath, err)
	}
	return &SaveResult{
		Name:     final,
		Path:     fullPath,
		Size:     counter.n,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Stage reserves a temp path in the store for tools that write their own
// output file. The extension is kept so such tools can pick a muxer from it.
func (s *Store) Stage(ext string) (string, error) {
	tmp, err := os.CreateTemp(s.dir, ".partial-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Commit hashes a staged file and renames it into place under name. The
// staged file is removed when the commit fails.
func (s *Store) Commit(staged, name string) (*SaveResult, error) {
	f, err := os.Open(staged)
	if err != nil {
		os.Remove(staged)
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	f.Close()
	if err != nil {
		os.Remove(staged)
		return nil, fmt.Errorf("hash staged file: %w", err)
	}
	if err := os.Chmod(staged, 0o640); err != nil {
		os.Remove(staged)
		return nil, fmt.Errorf("chmod %s: %w", name, err)
	}
	final := s.availableName(name)
	fullPath := filepath.Join(s.dir, final)
	if err := os.Rename(staged, fullPath); err != nil {
		os.Remove(staged)
		return nil, fmt.Errorf("rename into %s: %w", fullPath, err)
	}
	return &SaveResult{
		Name:     final,
		Path:     fullPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (s *Store) availableName(name string) string {
	if _, err := os.Lstat(filepath.Join(s.dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for {
		candidate := stem + "_" + uuid.New().String()[:8] + ext
		if _, err := os.Lstat(filepath.Join(s.dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Remove deletes name from the store. Missing files are not an error.
func (s *Store) Remove(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Count returns the number of regular files in the store directory.
func Count(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".partial-") {
			n++
		}
	}
	return n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
