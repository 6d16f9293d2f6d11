package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// regexPrefix marks a pattern as a regular expression matched against the
// slash-separated path. Anything else is a glob matched against the base
// name, ignoring case.
const regexPrefix = "re:"

type pattern struct {
	raw  string
	glob string
	re   *regexp.Regexp
}

func (p pattern) match(path string) bool {
	if p.re != nil {
		return p.re.MatchString(filepath.ToSlash(path))
	}
	ok, _ := filepath.Match(p.glob, strings.ToLower(filepath.Base(path)))
	return ok
}

// PatternMatcher decides whether an intake file is eligible. Includes are
// applied first, then excludes.
type PatternMatcher struct {
	include []pattern
	exclude []pattern
}

func NewPatternMatcher(includePatterns, excludePatterns []string) (*PatternMatcher, error) {
	include, err := compilePatterns(includePatterns)
	if err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}
	exclude, err := compilePatterns(excludePatterns)
	if err != nil {
		return nil, fmt.Errorf("exclude pattern: %w", err)
	}
	return &PatternMatcher{include: include, exclude: exclude}, nil
}

func (m *PatternMatcher) ShouldInclude(path string) bool {
	if m == nil {
		return true
	}
	if len(m.include) > 0 && !anyMatch(m.include, path) {
		return false
	}
	return !anyMatch(m.exclude, path)
}

func anyMatch(patterns []pattern, path string) bool {
	for _, p := range patterns {
		if p.match(path) {
			return true
		}
	}
	return false
}

func compilePatterns(raw []string) ([]pattern, error) {
	out := make([]pattern, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if expr, ok := strings.CutPrefix(item, regexPrefix); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", item, err)
			}
			out = append(out, pattern{raw: item, re: re})
			continue
		}
		glob := strings.ToLower(item)
		if _, err := filepath.Match(glob, ""); err != nil {
			return nil, fmt.Errorf("%q: %w", item, err)
		}
		out = append(out, pattern{raw: item, glob: glob})
	}
	return out, nil
}
