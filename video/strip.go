// Package video removes container metadata from MP4 files by stream-copying
// them through ffmpeg. Frames are not touched, so there is no LSB step for
// video.
package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"veil/logger"
)

var (
	ErrToolUnavailable = errors.New("video: ffmpeg not found")
	ErrUnsupported     = errors.New("video: only .mp4 files are supported")
	ErrOutputExists    = errors.New("video: output already exists")
)

// stripArgs keeps every stream, drops global, stream and chapter metadata
// and never re-encodes.
var stripArgs = []string{
	"-map", "0",
	"-map_metadata", "-1",
	"-map_chapters", "-1",
	"-c", "copy",
	"-movflags", "use_metadata_tags",
}

// IsVideo reports whether path has a video extension handled here.
func IsVideo(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mp4")
}

// Details describe one strip invocation for the audit log.
type Details struct {
	Tool                    string   `json:"tool"`
	Operation               string   `json:"operation"`
	Arguments               []string `json:"arguments"`
	LSBRandomizationApplied bool     `json:"lsb_randomization_applied"`
	Duration                string   `json:"duration,omitempty"`
	Error                   string   `json:"error,omitempty"`
}

type Stripper struct {
	tool    string
	timeout time.Duration
}

// NewStripper uses tool (a name on PATH or a path) and bounds every run by
// timeout. A zero timeout means no limit.
func NewStripper(tool string, timeout time.Duration) *Stripper {
	if strings.TrimSpace(tool) == "" {
		tool = "ffmpeg"
	}
	return &Stripper{tool: tool, timeout: timeout}
}

// Available reports whether the tool can be resolved.
func (s *Stripper) Available() bool {
	_, err := exec.LookPath(s.tool)
	return err == nil
}

func (s *Stripper) details() Details {
	return Details{
		Tool:      filepath.Base(s.tool),
		Operation: "strip_metadata",
		Arguments: append([]string(nil), stripArgs...),
	}
}

// Strip writes a metadata-free copy of in to out, replacing out if present.
func (s *Stripper) Strip(ctx context.Context, in, out string) (Details, error) {
	details := s.details()
	bin, err := exec.LookPath(s.tool)
	if err != nil {
		details.Error = ErrToolUnavailable.Error()
		return details, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", in}
	args = append(args, stripArgs...)
	args = append(args, out)

	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	details.Duration = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("video: strip %s: %w", in, ctxErr)
		} else {
			msg := strings.TrimSpace(string(output))
			if msg != "" {
				err = fmt.Errorf("video: strip %s: %w: %s", in, err, msg)
			} else {
				err = fmt.Errorf("video: strip %s: %w", in, err)
			}
		}
		details.Error = err.Error()
		return details, err
	}
	logger.Debugf("Stripped video metadata from %s in %s", in, details.Duration)
	return details, nil
}

// CleanOptions control Clean. Suffix defaults to "_clean" and OutputDir to
// the source directory.
type CleanOptions struct {
	OutputDir string
	Suffix    string
	Overwrite bool
}

// Clean strips src into {OutputDir}/{stem}{Suffix}.mp4 and returns that path.
func (s *Stripper) Clean(ctx context.Context, src string, opts CleanOptions) (string, Details, error) {
	if !IsVideo(src) {
		return "", Details{}, fmt.Errorf("%w: %s", ErrUnsupported, src)
	}
	dir := opts.OutputDir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	suffix := opts.Suffix
	if suffix == "" {
		suffix = "_clean"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", Details{}, fmt.Errorf("video: create output directory: %w", err)
	}
	base := filepath.Base(src)
	out := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+suffix+".mp4")
	if _, err := os.Stat(out); err == nil && !opts.Overwrite {
		return "", Details{}, fmt.Errorf("%w: %s", ErrOutputExists, out)
	}
	details, err := s.Strip(ctx, src, out)
	if err != nil {
		return "", details, err
	}
	return out, details, nil
}
