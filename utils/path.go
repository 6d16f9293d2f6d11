package utils

import (
	"path/filepath"
	"strings"
)

// IsPathWithin reports whether path, after resolving symlinks, lies inside
// one of roots. Intake entries that escape the intake directory through a
// link are refused with this check.
func IsPathWithin(path string, roots []string) bool {
	absPath, err := resolve(path)
	if err != nil {
		return false
	}
	for _, root := range roots {
		absRoot, err := resolve(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// SameDir reports whether a and b resolve to the same directory.
func SameDir(a, b string) bool {
	ra, errA := resolve(a)
	rb, errB := resolve(b)
	return errA == nil && errB == nil && ra == rb
}

func resolve(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return filepath.Abs(path)
}
