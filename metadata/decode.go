package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// Decoded is an image together with what its container said about it.
// It is produced once per input and shared by the extractor and the
// obfuscation engine.
type Decoded struct {
	Image  image.Image
	Format string
	Mode   string
	Path   string

	// TransparencyKey is set when the container declares a transparent
	// colour outside the alpha channel (PNG tRNS).
	TransparencyKey bool

	container    containerInfo
	containerErr error
}

// DecodeFile reads and decodes an image from disk.
func DecodeFile(path string) (*Decoded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	d, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	d.Path = path
	return d, nil
}

// Decode parses an encoded image held in memory.
func Decode(data []byte) (*Decoded, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedFormat
		}
		return nil, err
	}
	d := &Decoded{
		Image:  img,
		Format: strings.ToUpper(format),
	}
	d.container, d.containerErr = parseContainer(sniffMIME(data), data)
	d.TransparencyKey = d.container.transparencyKey
	d.Mode = d.container.mode
	if d.Mode == "" {
		d.Mode = ModeOf(img)
	}
	return d, nil
}

// FromImage wraps an already decoded image. There is no container, so the
// snapshot will carry empty metadata maps.
func FromImage(img image.Image) *Decoded {
	return &Decoded{
		Image:     img,
		Format:    "RAW",
		Mode:      ModeOf(img),
		container: newContainerInfo(),
	}
}

// HasAlpha reports whether the colour mode carries an alpha channel.
func (d *Decoded) HasAlpha() bool {
	return d.Mode == "RGBA" || d.Mode == "LA" || d.Mode == "PA"
}

// ModeOf names the colour representation of a decoded Go image using the
// conventional short mode strings (RGB, RGBA, L, LA, P, CMYK, I;16).
func ModeOf(img image.Image) string {
	switch m := img.(type) {
	case *image.Gray:
		return "L"
	case *image.Gray16:
		return "I;16"
	case *image.Paletted:
		return "P"
	case *image.CMYK:
		return "CMYK"
	case *image.YCbCr:
		return "RGB"
	case *image.NYCbCrA:
		return "RGBA"
	case *image.RGBA:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.NRGBA:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.RGBA64:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.NRGBA64:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.Alpha, *image.Alpha16:
		return "LA"
	}
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return "L"
	}
	return "RGB"
}

func sniffMIME(data []byte) string {
	head := data
	if len(head) > 261 {
		head = head[:261]
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
