package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	"veil/logger"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

// Primary is the digest recorded for every artifact in the ledger.
const Primary = "sha256"

const (
	hashBufferSmallSize      = 32 * 1024
	hashBufferLargeSize      = 128 * 1024
	hashLargeBufferThreshold = 256 * 1024
)

var hashBufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSmallSize)
		return &buf
	},
}

var hashBufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferLargeSize)
		return &buf
	},
}

// New returns a fresh hash for a supported algorithm name.
func New(algo string) (hash.Hash, bool) {
	switch algo {
	case "md5":
		return md5.New(), true
	case "sha1":
		return sha1.New(), true
	case "sha256":
		return sha256.New(), true
	case "sha512":
		return sha512.New(), true
	case "blake3":
		return blake3.New(32, nil), true
	case "xxhash":
		return xxhash.New(), true
	default:
		return nil, false
	}
}

// HashFile streams the file at path through SHA-256 and returns the hex
// digest. The file is never loaded fully into memory.
func HashFile(path string) (string, error) {
	hashes, err := hashFile(path, []string{Primary})
	if err != nil {
		return "", err
	}
	return hashes[Primary], nil
}

// ComputeHashes returns hex digests for every supported algorithm in
// algorithms. Unsupported names are logged and skipped; read failures are
// logged and yield an empty map.
func ComputeHashes(path string, algorithms []string) map[string]string {
	hashes, err := hashFile(path, algorithms)
	if err != nil {
		logger.Warnf("Failed to compute hashes for %s: %v", path, err)
		return map[string]string{}
	}
	return hashes
}

func hashFile(path string, algorithms []string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer file.Close()

	type hasherEntry struct {
		name string
		h    hash.Hash
	}
	hashers := make([]hasherEntry, 0, len(algorithms))
	seen := make(map[string]struct{}, len(algorithms))
	for _, algo := range algorithms {
		if _, ok := seen[algo]; ok {
			continue
		}
		h, ok := New(algo)
		if !ok {
			logger.Warnf("Unsupported hash algorithm: %s", algo)
			continue
		}
		seen[algo] = struct{}{}
		hashers = append(hashers, hasherEntry{name: algo, h: h})
	}

	hashes := make(map[string]string, len(hashers))
	if len(hashers) == 0 {
		return hashes, nil
	}

	bufferPool := &hashBufferSmallPool
	if info, statErr := file.Stat(); statErr == nil && info.Size() >= hashLargeBufferThreshold {
		bufferPool = &hashBufferLargePool
	}
	bufferPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufferPtr)
	buffer := *bufferPtr
	for {
		n, readErr := file.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			for i := range hashers {
				// hash.Hash.Write never returns an error.
				_, _ = hashers[i].h.Write(chunk)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read %s for hashing: %w", path, readErr)
		}
	}

	for i := range hashers {
		hashes[hashers[i].name] = hex.EncodeToString(hashers[i].h.Sum(nil))
	}
	return hashes, nil
}
