// Package obfuscate rewrites pixel data so that anything hidden in the least
// significant bit plane is destroyed while the picture stays visually the same.
package obfuscate

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"veil/metadata"

	"golang.org/x/image/draw"
)

// Options control one obfuscation. Probability is used as given within
// [0, 1]; range clamping for operators happens in config.
type Options struct {
	FlipProbability float64
	Passes          int
	AddNoise        bool
	NoiseLevel      float64
}

// Log records what the engine did. It becomes the obfuscation summary.
type Log struct {
	MetadataStripped        bool    `json:"metadata_stripped"`
	LSBRandomizationApplied bool    `json:"lsb_randomization_applied"`
	TransparencyRemoved     bool    `json:"transparency_removed"`
	NoiseAdded              bool    `json:"noise_added"`
	PassesApplied           int     `json:"passes_applied"`
	FlipProbability         float64 `json:"flip_probability"`
	SamplesFlipped          int64   `json:"samples_flipped"`
}

// Engine draws every random decision from its entropy source. Production
// code uses crypto/rand; tests may inject a deterministic reader.
type Engine struct {
	entropy io.Reader
}

func NewEngine() *Engine {
	return &Engine{entropy: rand.Reader}
}

// NewEngineWithEntropy returns an engine reading randomness from r.
func NewEngineWithEntropy(r io.Reader) *Engine {
	if r == nil {
		r = rand.Reader
	}
	return &Engine{entropy: r}
}

// Obfuscate flattens d onto an opaque 8-bit RGB canvas and applies the
// configured LSB passes. The returned image always has alpha 255.
func (e *Engine) Obfuscate(d *metadata.Decoded, opts Options) (*image.RGBA, Log, error) {
	if d == nil || d.Image == nil {
		return nil, Log{}, fmt.Errorf("obfuscate: no image")
	}
	bounds := d.Image.Bounds()
	if bounds.Empty() {
		return nil, Log{}, fmt.Errorf("obfuscate: empty image %v", bounds)
	}

	log := Log{
		MetadataStripped: true,
		FlipProbability:  opts.FlipProbability,
	}
	canvas, removed := flatten(d)
	log.TransparencyRemoved = removed

	passes := opts.Passes
	if passes < 0 {
		passes = 0
	}
	threshold := flipThreshold(opts.FlipProbability)
	for pass := 0; pass < passes; pass++ {
		flipped, err := e.randomizeLSB(canvas, threshold)
		if err != nil {
			return nil, Log{}, fmt.Errorf("obfuscate: pass %d: %w", pass+1, err)
		}
		log.SamplesFlipped += flipped
		if pass == 0 && opts.AddNoise {
			if err := e.addNoise(canvas, opts.NoiseLevel); err != nil {
				return nil, Log{}, fmt.Errorf("obfuscate: noise: %w", err)
			}
			log.NoiseAdded = true
		}
	}
	log.PassesApplied = passes
	log.LSBRandomizationApplied = passes > 0 && threshold > 0
	return canvas, log, nil
}

// flatten composites the image over white into a fresh RGBA canvas anchored
// at the origin. Palette images are expanded to direct colour on the way.
// The flag is set when the source declared any transparency, including a
// tRNS colour key on an RGB or greyscale PNG.
func flatten(d *metadata.Decoded) (*image.RGBA, bool) {
	src := d.Image
	bounds := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Over)
	return canvas, d.HasAlpha() || d.TransparencyKey || !opaque(src)
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}

// flipThreshold converts p into the exclusive upper bound a random byte must
// fall below for its sample to flip.
func flipThreshold(p float64) float64 {
	if math.IsNaN(p) || p <= 0 {
		return 0
	}
	if p >= 1 {
		return 256
	}
	return p * 256
}

func (e *Engine) randomizeLSB(canvas *image.RGBA, threshold float64) (int64, error) {
	if threshold <= 0 {
		return 0, nil
	}
	w, h := canvas.Rect.Dx(), canvas.Rect.Dy()
	row := make([]byte, w*3)
	var flipped int64
	for y := 0; y < h; y++ {
		if _, err := io.ReadFull(e.entropy, row); err != nil {
			return flipped, fmt.Errorf("read entropy: %w", err)
		}
		pix := canvas.Pix[y*canvas.Stride : y*canvas.Stride+w*4]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				if float64(row[x*3+c]) < threshold {
					pix[x*4+c] ^= 1
					flipped++
				}
			}
		}
	}
	return flipped, nil
}

// addNoise perturbs every colour sample with N(0, sigma) drawn through
// Box-Muller from the entropy source, rounding back into [0, 255].
func (e *Engine) addNoise(canvas *image.RGBA, sigma float64) error {
	if sigma <= 0 {
		return nil
	}
	w, h := canvas.Rect.Dx(), canvas.Rect.Dy()
	gauss := newGaussian(e.entropy)
	for y := 0; y < h; y++ {
		pix := canvas.Pix[y*canvas.Stride : y*canvas.Stride+w*4]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				n, err := gauss.next()
				if err != nil {
					return err
				}
				v := math.Round(float64(pix[x*4+c]) + n*sigma)
				pix[x*4+c] = uint8(math.Min(math.Max(v, 0), 255))
			}
		}
	}
	return nil
}

type gaussian struct {
	r     io.Reader
	buf   [16]byte
	spare float64
	have  bool
}

func newGaussian(r io.Reader) *gaussian {
	return &gaussian{r: r}
}

func (g *gaussian) next() (float64, error) {
	if g.have {
		g.have = false
		return g.spare, nil
	}
	if _, err := io.ReadFull(g.r, g.buf[:]); err != nil {
		return 0, fmt.Errorf("read entropy: %w", err)
	}
	// 53-bit uniforms; u1 is shifted into (0, 1] so the log is finite.
	u1 := (float64(binary.LittleEndian.Uint64(g.buf[0:8])>>11) + 1) / (1 << 53)
	u2 := float64(binary.LittleEndian.Uint64(g.buf[8:16])>>11) / (1 << 53)
	mag := math.Sqrt(-2 * math.Log(u1))
	g.spare = mag * math.Sin(2*math.Pi*u2)
	g.have = true
	return mag * math.Cos(2*math.Pi*u2), nil
}
