package obfuscate

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
)

// Encode writes img as JPEG or PNG. Only pixel data is written: no EXIF,
// ICC, text or transparency chunks exist in the output.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch strings.ToUpper(format) {
	case "PNG":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	case "JPEG", "JPG":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// Extension returns the file extension used for format.
func Extension(format string) string {
	if strings.ToUpper(format) == "PNG" {
		return ".png"
	}
	return ".jpg"
}
