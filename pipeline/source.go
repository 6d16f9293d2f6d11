package pipeline

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"veil/config"
	"veil/metadata"
	"veil/obfuscate"
)

// Source is what CleanImage reads: either a file on disk or an image that
// is already decoded. The two implementations are PathSource and
// DecodedSource.
type Source interface {
	resolve() (*metadata.Decoded, string, error)
}

// PathSource names an image file.
type PathSource string

func (s PathSource) resolve() (*metadata.Decoded, string, error) {
	d, err := metadata.DecodeFile(string(s))
	if err != nil {
		return nil, "", err
	}
	base := filepath.Base(string(s))
	return d, strings.TrimSuffix(base, filepath.Ext(base)), nil
}

// DecodedSource wraps an in-memory image. Such an image has no container,
// so there is no metadata to strip beyond what the pixels carry.
type DecodedSource struct {
	Image image.Image
	// Stem names the saved file; "image" when empty.
	Stem string
}

func (s DecodedSource) resolve() (*metadata.Decoded, string, error) {
	if s.Image == nil {
		return nil, "", errors.New("decoded source holds no image")
	}
	stem := s.Stem
	if stem == "" {
		stem = "image"
	}
	return metadata.FromImage(s.Image), stem, nil
}

// CleanOptions mirror the batch knobs. Numeric values are clamped the same
// way the configuration clamps them.
type CleanOptions struct {
	FlipProbability float64
	Passes          int
	AddNoise        bool
	NoiseLevel      float64
	Format          string
	JPEGQuality     int
	// OutputDir, when set, receives {stem}{Suffix}.{jpg|png}.
	OutputDir string
	Suffix    string
	Engine    *obfuscate.Engine
}

// DefaultCleanOptions are the standard security level settings.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		FlipProbability: config.DefaultFlipProbability,
		Passes:          config.DefaultPasses,
		AddNoise:        true,
		NoiseLevel:      config.DefaultNoiseLevel,
		Format:          config.FormatJPEG,
		JPEGQuality:     config.DefaultJPEGQuality,
		Suffix:          "_clean",
	}
}

type CleanResult struct {
	Image *image.RGBA
	Log   obfuscate.Log
	// Path is empty unless OutputDir was set.
	Path string
}

// CleanImage sanitises one image without touching the ledger or the
// workspace.
func CleanImage(src Source, opts CleanOptions) (*CleanResult, error) {
	if src == nil {
		return nil, errors.New("clean image: nil source")
	}
	d, stem, err := src.resolve()
	if err != nil {
		return nil, fmt.Errorf("clean image: %w", err)
	}
	engine := opts.Engine
	if engine == nil {
		engine = obfuscate.NewEngine()
	}
	noise := opts.NoiseLevel
	if noise <= 0 {
		noise = config.DefaultNoiseLevel
	}
	img, log, err := engine.Obfuscate(d, obfuscate.Options{
		FlipProbability: config.ClampFlipProbability(opts.FlipProbability),
		Passes:          config.ClampPasses(opts.Passes),
		AddNoise:        opts.AddNoise,
		NoiseLevel:      noise,
	})
	if err != nil {
		return nil, fmt.Errorf("clean image: %w", err)
	}
	res := &CleanResult{Image: img, Log: log}
	if opts.OutputDir == "" {
		return res, nil
	}

	format := config.NormalizeFormat(opts.Format)
	suffix := opts.Suffix
	if suffix == "" {
		suffix = "_clean"
	}
	if err := os.MkdirAll(opts.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("clean image: create output directory: %w", err)
	}
	path := filepath.Join(opts.OutputDir, stem+suffix+obfuscate.Extension(format))
	if err := writeImage(path, img, format, config.ClampJPEGQuality(opts.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("clean image: %w", err)
	}
	res.Path = path
	return res, nil
}

func writeImage(path string, img image.Image, format string, quality int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if err := obfuscate.Encode(f, img, format, quality); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
