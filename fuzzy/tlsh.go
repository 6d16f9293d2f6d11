package fuzzy

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/glaslos/tlsh"
)

// tlshMinInput is the smallest input TLSH produces a digest for.
const tlshMinInput = 50

var ErrInputTooSmall = errors.New("input too small for a similarity digest")

// tlshDigest lets a reviewer see that a clean artifact is a near neighbour
// of its preserved original even though the SHA-256 values diverge.
type tlshDigest struct{}

func (tlshDigest) Name() string { return "tlsh" }

func (tlshDigest) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() < tlshMinInput {
		return "", fmt.Errorf("%s: %d bytes: %w", path, info.Size(), ErrInputTooSmall)
	}
	digest, err := tlsh.HashReader(bufio.NewReaderSize(f, 64*1024))
	if err != nil {
		return "", fmt.Errorf("tlsh %s: %w", path, err)
	}
	return digest.String(), nil
}

func init() {
	Register(tlshDigest{})
}
