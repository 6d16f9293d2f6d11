package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"veil/logger"
	"veil/utils"
	"veil/video"

	"github.com/h2non/filetype"
)

// Kinds of intake file.
const (
	KindImage = "image"
	KindVideo = "video"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// Item is one intake file selected for processing.
type Item struct {
	Path string
	Name string
	Kind string
	Size int64
	// MIME is what the content sniffed as; empty when unknown.
	MIME string
}

// Plan is what a batch would do, computed before anything is written.
type Plan struct {
	Items []Item
	// SkippedVideos are MP4 files left in intake because the strip tool is
	// missing. They are neither processed nor failed.
	SkippedVideos []Item
	Excluded      int
}

// Empty reports whether there is nothing to process.
func (p Plan) Empty() bool {
	return len(p.Items) == 0
}

// Counts returns the number of images and videos to process.
func (p Plan) Counts() (images, videos int) {
	for _, it := range p.Items {
		if it.Kind == KindVideo {
			videos++
		} else {
			images++
		}
	}
	return images, videos
}

func classify(name string) (string, bool) {
	if video.IsVideo(name) {
		return KindVideo, true
	}
	if _, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return KindImage, true
	}
	return "", false
}

// Scan lists the supported files directly inside dir, sorted by name.
// Subdirectories, links leaving dir and unsupported extensions are ignored.
func Scan(dir string, matcher *utils.PatternMatcher) ([]Item, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read intake %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	items := make([]Item, 0, len(entries))
	excluded := 0
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		kind, ok := classify(name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		if !utils.IsPathWithin(path, []string{dir}) {
			logger.Warnf("Skipping %s: resolves outside the intake directory", name)
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			logger.Warnf("Skipping %s: %v", name, err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if !matcher.ShouldInclude(path) {
			excluded++
			continue
		}
		items = append(items, Item{
			Path: path,
			Name: name,
			Kind: kind,
			Size: info.Size(),
			MIME: sniff(path, name, kind),
		})
	}
	return items, excluded, nil
}

// sniff matches the leading bytes of path and warns when the content
// disagrees with the extension. Decoding decides the outcome either way.
func sniff(path, name, kind string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	t, err := filetype.Match(head)
	if err != nil || t == filetype.Unknown {
		return ""
	}
	switch {
	case kind == KindImage && !filetype.IsImage(head):
		logger.Warnf("%s has an image extension but sniffs as %s", name, t.MIME.Value)
	case kind == KindVideo && !filetype.IsVideo(head):
		logger.Warnf("%s has a video extension but sniffs as %s", name, t.MIME.Value)
	}
	return t.MIME.Value
}
