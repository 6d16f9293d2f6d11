// Package testimg builds synthetic images and containers for tests.
package testimg

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// Gradient returns an opaque RGB gradient.
func Gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x + y) * 255 / max(w+h-2, 1)),
				A: 255,
			})
		}
	}
	return img
}

// Translucent returns an image whose alpha varies across the frame.
func Translucent(w, h int) *image.NRGBA {
	img := Gradient(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+3] = uint8(x * 255 / max(w-1, 1))
		}
	}
	return img
}

// JPEG encodes img at quality 95.
func JPEG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNG encodes img losslessly.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

const (
	typeASCII    = 2
	typeLong     = 4
	typeRational = 5
)

func ascii(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}

func rationals(tag uint16, values ...[2]uint32) ifdEntry {
	b := make([]byte, 0, 8*len(values))
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, v[0])
		b = binary.LittleEndian.AppendUint32(b, v[1])
	}
	return ifdEntry{tag: tag, typ: typeRational, count: uint32(len(values)), data: b}
}

func ifdSize(entries []ifdEntry) uint32 {
	size := uint32(2 + 12*len(entries) + 4)
	for _, e := range entries {
		if len(e.data) > 4 {
			size += uint32(len(e.data) + len(e.data)%2)
		}
	}
	return size
}

func encodeIFD(entries []ifdEntry, offset uint32) []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(entries)))
	dataOff := offset + uint32(2+12*len(entries)+4)
	var data []byte
	for _, e := range entries {
		out = binary.LittleEndian.AppendUint16(out, e.tag)
		out = binary.LittleEndian.AppendUint16(out, e.typ)
		out = binary.LittleEndian.AppendUint32(out, e.count)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			out = append(out, v...)
			continue
		}
		out = binary.LittleEndian.AppendUint32(out, dataOff+uint32(len(data)))
		data = append(data, e.data...)
		if len(e.data)%2 == 1 {
			data = append(data, 0)
		}
	}
	out = binary.LittleEndian.AppendUint32(out, 0)
	return append(out, data...)
}

// EXIF returns a little-endian TIFF structure carrying Make, Model and a GPS
// sub-directory located at 48°51'30"N 2°17'40"E.
func EXIF(camera, model string) []byte {
	ifd0 := []ifdEntry{
		ascii(0x010F, camera),
		ascii(0x0110, model),
		{tag: 0x8825, typ: typeLong, count: 1},
	}
	gpsOffset := 8 + ifdSize(ifd0)
	ifd0[2].data = binary.LittleEndian.AppendUint32(nil, gpsOffset)
	gps := []ifdEntry{
		ascii(0x0001, "N"),
		rationals(0x0002, [2]uint32{48, 1}, [2]uint32{51, 1}, [2]uint32{30, 1}),
		ascii(0x0003, "E"),
		rationals(0x0004, [2]uint32{2, 1}, [2]uint32{17, 1}, [2]uint32{40, 1}),
	}
	out := []byte("II*\x00")
	out = binary.LittleEndian.AppendUint32(out, 8)
	out = append(out, encodeIFD(ifd0, 8)...)
	out = append(out, encodeIFD(gps, gpsOffset)...)
	return out
}

func jpegSegment(marker byte, payload []byte) []byte {
	seg := []byte{0xFF, marker}
	seg = binary.BigEndian.AppendUint16(seg, uint16(len(payload)+2))
	return append(seg, payload...)
}

// JPEGWithMetadata encodes img and injects an EXIF APP1 segment built from
// exifTIFF plus an ICC APP2 segment of iccSize profile bytes.
func JPEGWithMetadata(img image.Image, exifTIFF []byte, iccSize int) []byte {
	base := JPEG(img)
	var extra []byte
	if exifTIFF != nil {
		extra = append(extra, jpegSegment(0xE1, append([]byte("Exif\x00\x00"), exifTIFF...))...)
	}
	if iccSize > 0 {
		payload := append([]byte("ICC_PROFILE\x00"), 1, 1)
		payload = append(payload, make([]byte, iccSize)...)
		extra = append(extra, jpegSegment(0xE2, payload)...)
	}
	out := append([]byte{}, base[:2]...)
	out = append(out, extra...)
	return append(out, base[2:]...)
}

// PNGWithChunks encodes img and inserts the given ancillary chunks right
// after IHDR.
func PNGWithChunks(img image.Image, chunks map[string][]byte) []byte {
	base := PNG(img)
	const ihdrEnd = 8 + 8 + 13 + 4
	out := append([]byte{}, base[:ihdrEnd]...)
	for typ, data := range chunks {
		out = append(out, Chunk(typ, data)...)
	}
	return append(out, base[ihdrEnd:]...)
}

// Chunk frames a PNG chunk with length and CRC.
func Chunk(typ string, data []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	body := append([]byte(typ), data...)
	out = append(out, body...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
}

// OversizedCountTIFF is a little-endian TIFF block whose single IFD0 entry
// (Orientation, SHORT) declares 0x80000002 values. Two bytes times that
// count wraps to 4 in 32-bit arithmetic.
func OversizedCountTIFF() []byte {
	out := []byte("II*\x00")
	out = binary.LittleEndian.AppendUint32(out, 8)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, 0x0112)
	out = binary.LittleEndian.AppendUint16(out, 3)
	out = binary.LittleEndian.AppendUint32(out, 0x80000002)
	out = binary.LittleEndian.AppendUint32(out, 0)
	return binary.LittleEndian.AppendUint32(out, 0)
}

// NestedOversizedCountTIFF hides the same entry in the Exif sub-IFD.
func NestedOversizedCountTIFF() []byte {
	out := []byte("II*\x00")
	out = binary.LittleEndian.AppendUint32(out, 8)
	// IFD0 at 8: one entry pointing at the Exif IFD at 26.
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, 0x8769)
	out = binary.LittleEndian.AppendUint16(out, 4)
	out = binary.LittleEndian.AppendUint32(out, 1)
	out = binary.LittleEndian.AppendUint32(out, 26)
	out = binary.LittleEndian.AppendUint32(out, 0)
	// Exif IFD at 26.
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, 0x829A)
	out = binary.LittleEndian.AppendUint16(out, 5)
	out = binary.LittleEndian.AppendUint32(out, 0x20000001)
	out = binary.LittleEndian.AppendUint32(out, 0)
	return binary.LittleEndian.AppendUint32(out, 0)
}
