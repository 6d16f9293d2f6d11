package fuzzy

import (
	"sort"
	"strings"

	"veil/logger"
)

// Hasher computes a similarity-preserving digest of a file.
type Hasher interface {
	Name() string
	HashFile(path string) (string, error)
}

var registry = map[string]Hasher{}

// Register adds a fuzzy hasher to the registry.
func Register(hasher Hasher) {
	if hasher == nil {
		return
	}
	registry[strings.ToLower(hasher.Name())] = hasher
}

// Lookup returns a registered hasher by name.
func Lookup(name string) (Hasher, bool) {
	hasher, ok := registry[strings.ToLower(name)]
	return hasher, ok
}

// Available returns the sorted names of registered hashers.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Digests runs each named hasher over path and leaves failures out of the
// result. Unknown names are logged as warnings. Inputs a hasher rejects
// (TLSH needs enough byte variety) are logged at debug.
func Digests(path string, algorithms []string) map[string]string {
	out := make(map[string]string, len(algorithms))
	for _, name := range algorithms {
		h, ok := Lookup(name)
		if !ok {
			logger.Warnf("Unsupported fuzzy hash algorithm: %s", name)
			continue
		}
		digest, err := h.HashFile(path)
		if err != nil {
			logger.Debugf("Fuzzy hash %s skipped for %s: %v", name, path, err)
			continue
		}
		out[h.Name()] = digest
	}
	return out
}
