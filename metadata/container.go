package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/rwcarlsen/goexif/tiff"
)

var errTruncated = errors.New("truncated container")

// containerInfo is what the container format says beyond the pixels.
type containerInfo struct {
	exif            []byte
	iccSize         int
	iccErr          error
	other           map[string]string
	transparencyKey bool
	mode            string
}

func newContainerInfo() containerInfo {
	return containerInfo{other: map[string]string{}}
}

// maxTextChunk bounds decompressed PNG text chunks so a crafted zTXt cannot
// balloon memory.
const maxTextChunk = 1 << 20

func parseContainer(mime string, data []byte) (containerInfo, error) {
	switch mime {
	case "image/jpeg":
		return parseJPEG(data)
	case "image/png":
		return parsePNG(data)
	case "image/webp":
		return parseWebP(data)
	case "image/tiff":
		return parseTIFF(data)
	case "image/bmp":
		return parseBMP(data)
	default:
		return newContainerInfo(), fmt.Errorf("no container parser for %q", mime)
	}
}

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegICCHeader  = []byte("ICC_PROFILE\x00")
	jpegXMPHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
)

func parseJPEG(data []byte) (containerInfo, error) {
	info := newContainerInfo()
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return info, errors.New("missing JPEG SOI marker")
	}
	i := 2
	for i+2 <= len(data) {
		if data[i] != 0xFF {
			return info, fmt.Errorf("expected JPEG marker at offset %d", i)
		}
		marker := data[i+1]
		if marker == 0xFF {
			i++
			continue
		}
		i += 2
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD8) {
			continue
		}
		if marker == 0xD9 || marker == 0xDA {
			break
		}
		if i+2 > len(data) {
			return info, errTruncated
		}
		segLen := int(binary.BigEndian.Uint16(data[i:]))
		if segLen < 2 || i+segLen > len(data) {
			return info, fmt.Errorf("truncated JPEG segment 0x%X", marker)
		}
		payload := data[i+2 : i+segLen]
		switch {
		case marker == 0xE0 && bytes.HasPrefix(payload, []byte("JFIF\x00")) && len(payload) >= 12:
			info.other["jfif_version"] = fmt.Sprintf("%d.%02d", payload[5], payload[6])
			x := binary.BigEndian.Uint16(payload[8:10])
			y := binary.BigEndian.Uint16(payload[10:12])
			switch payload[7] {
			case 1:
				info.other["dpi"] = fmt.Sprintf("%d,%d", x, y)
			case 2:
				info.other["dpi"] = fmt.Sprintf("%d,%d", dpcmToDPI(x), dpcmToDPI(y))
			default:
				info.other["jfif_density"] = fmt.Sprintf("%d,%d", x, y)
			}
		case marker == 0xE1 && bytes.HasPrefix(payload, jpegExifHeader):
			info.exif = payload[len(jpegExifHeader):]
		case marker == 0xE1 && bytes.HasPrefix(payload, jpegXMPHeader):
			info.other["xmp_bytes"] = strconv.Itoa(len(payload) - len(jpegXMPHeader))
		case marker == 0xE2 && bytes.HasPrefix(payload, jpegICCHeader) && len(payload) >= len(jpegICCHeader)+2:
			info.iccSize += len(payload) - len(jpegICCHeader) - 2
		case marker == 0xED:
			info.other["photoshop_bytes"] = strconv.Itoa(len(payload))
		case marker == 0xEE && bytes.HasPrefix(payload, []byte("Adobe")) && len(payload) >= 12:
			info.other["adobe"] = strconv.Itoa(int(binary.BigEndian.Uint16(payload[5:7])))
			info.other["adobe_transform"] = strconv.Itoa(int(payload[11]))
		case marker == 0xFE:
			info.other["comment"] = string(payload)
		case marker == 0xC2:
			info.other["progressive"] = "1"
		}
		i += segLen
	}
	return info, nil
}

func dpcmToDPI(v uint16) int {
	return int(math.Round(float64(v) * 2.54))
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

func parsePNG(data []byte) (containerInfo, error) {
	info := newContainerInfo()
	if !bytes.HasPrefix(data, pngSignature) {
		return info, errors.New("missing PNG signature")
	}
	i := len(pngSignature)
	for i+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[i:]))
		typ := string(data[i+4 : i+8])
		start := i + 8
		end := start + length
		if length < 0 || end+4 > len(data) {
			return info, fmt.Errorf("truncated PNG chunk %q", typ)
		}
		chunk := data[start:end]
		switch typ {
		case "IHDR":
			if len(chunk) >= 10 {
				info.mode = pngMode(chunk[8], chunk[9])
			}
		case "iCCP":
			size, err := pngICCSize(chunk)
			if err != nil {
				info.iccErr = err
			} else {
				info.iccSize = size
			}
		case "eXIf":
			info.exif = chunk
		case "tEXt":
			if key, value, ok := bytes.Cut(chunk, []byte{0}); ok {
				info.other[string(key)] = string(value)
			}
		case "zTXt":
			if key, rest, ok := bytes.Cut(chunk, []byte{0}); ok && len(rest) > 1 {
				if text, err := inflate(rest[1:]); err == nil {
					info.other[string(key)] = string(text)
				}
			}
		case "iTXt":
			if key, value, ok := parseITXt(chunk); ok {
				info.other[key] = value
			}
		case "tRNS":
			info.transparencyKey = true
		case "gAMA":
			if len(chunk) == 4 {
				info.other["gamma"] = strconv.FormatFloat(float64(binary.BigEndian.Uint32(chunk))/100000, 'f', -1, 64)
			}
		case "pHYs":
			if len(chunk) == 9 && chunk[8] == 1 {
				x := math.Round(float64(binary.BigEndian.Uint32(chunk[0:4])) * 0.0254)
				y := math.Round(float64(binary.BigEndian.Uint32(chunk[4:8])) * 0.0254)
				info.other["dpi"] = fmt.Sprintf("%d,%d", int(x), int(y))
			}
		case "sRGB":
			if len(chunk) == 1 {
				info.other["srgb"] = strconv.Itoa(int(chunk[0]))
			}
		case "IEND":
			return info, nil
		}
		i = end + 4
	}
	return info, nil
}

func pngMode(bitDepth, colorType byte) string {
	switch colorType {
	case 0:
		switch bitDepth {
		case 1:
			return "1"
		case 16:
			return "I;16"
		}
		return "L"
	case 2:
		return "RGB"
	case 3:
		return "P"
	case 4:
		return "LA"
	case 6:
		return "RGBA"
	}
	return ""
}

func pngICCSize(chunk []byte) (int, error) {
	_, rest, ok := bytes.Cut(chunk, []byte{0})
	if !ok || len(rest) < 1 {
		return 0, errors.New("malformed iCCP chunk")
	}
	profile, err := inflate(rest[1:])
	if err != nil {
		return 0, fmt.Errorf("inflate iCCP: %w", err)
	}
	return len(profile), nil
}

func parseITXt(chunk []byte) (string, string, bool) {
	key, rest, ok := bytes.Cut(chunk, []byte{0})
	if !ok || len(rest) < 2 {
		return "", "", false
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	_, rest, ok = bytes.Cut(rest, []byte{0}) // language tag
	if !ok {
		return "", "", false
	}
	_, text, ok := bytes.Cut(rest, []byte{0}) // translated keyword
	if !ok {
		return "", "", false
	}
	if compressed {
		inflated, err := inflate(text)
		if err != nil {
			return "", "", false
		}
		text = inflated
	}
	return string(key), string(text), true
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxTextChunk))
}

func parseWebP(data []byte) (containerInfo, error) {
	info := newContainerInfo()
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return info, errors.New("missing RIFF/WEBP header")
	}
	alpha := false
	i := 12
	for i+8 <= len(data) {
		fourcc := string(data[i : i+4])
		size := int(binary.LittleEndian.Uint32(data[i+4:]))
		start := i + 8
		end := start + size
		if size < 0 || end > len(data) {
			return info, fmt.Errorf("truncated WebP chunk %q", fourcc)
		}
		chunk := data[start:end]
		switch fourcc {
		case "VP8X":
			if len(chunk) >= 1 {
				alpha = alpha || chunk[0]&0x10 != 0
				if chunk[0]&0x02 != 0 {
					info.other["animated"] = "1"
				}
			}
		case "ICCP":
			info.iccSize = size
		case "EXIF":
			info.exif = bytes.TrimPrefix(chunk, jpegExifHeader)
		case "XMP ":
			info.other["xmp_bytes"] = strconv.Itoa(size)
		case "ALPH":
			alpha = true
		case "VP8L":
			if len(chunk) >= 5 && chunk[0] == 0x2f {
				bits := binary.LittleEndian.Uint32(chunk[1:5])
				alpha = alpha || (bits>>28)&1 == 1
			}
		}
		i = end + size%2
	}
	if alpha {
		info.mode = "RGBA"
	} else {
		info.mode = "RGB"
	}
	return info, nil
}

const (
	tiffTagCompression    = 0x0103
	tiffTagPhotometric    = 0x0106
	tiffTagXResolution    = 0x011A
	tiffTagResolutionUnit = 0x0128
	tiffTagExtraSamples   = 0x0152
	tiffTagICCProfile     = 0x8773
)

func parseTIFF(data []byte) (containerInfo, error) {
	info := newContainerInfo()
	// The whole file is a TIFF structure; the EXIF decoder walks it directly.
	info.exif = data
	if err := checkTIFFEntries(data); err != nil {
		return info, err
	}
	t, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return info, fmt.Errorf("parse TIFF directories: %w", err)
	}
	if len(t.Dirs) == 0 {
		return info, nil
	}
	unit := 2
	for _, tag := range t.Dirs[0].Tags {
		switch tag.Id {
		case tiffTagCompression:
			if v, err := tag.Int(0); err == nil {
				info.other["compression"] = tiffCompressionName(v)
			}
		case tiffTagPhotometric:
			if v, err := tag.Int(0); err == nil && v == 3 {
				info.mode = "P"
			}
		case tiffTagResolutionUnit:
			if v, err := tag.Int(0); err == nil {
				unit = v
			}
		case tiffTagExtraSamples:
			info.other["extra_samples"] = strconv.Itoa(int(tag.Count))
		case tiffTagICCProfile:
			info.iccSize = int(tag.Count)
		}
	}
	for _, tag := range t.Dirs[0].Tags {
		if tag.Id != tiffTagXResolution {
			continue
		}
		num, den, err := tag.Rat2(0)
		if err != nil || den == 0 {
			break
		}
		res := float64(num) / float64(den)
		if unit == 3 {
			res *= 2.54
		}
		info.other["dpi"] = strconv.Itoa(int(math.Round(res)))
	}
	return info, nil
}

func tiffCompressionName(v int) string {
	switch v {
	case 1:
		return "raw"
	case 5:
		return "tiff_lzw"
	case 7:
		return "jpeg"
	case 8, 32946:
		return "tiff_adobe_deflate"
	case 32773:
		return "packbits"
	}
	return strconv.Itoa(v)
}

func parseBMP(data []byte) (containerInfo, error) {
	info := newContainerInfo()
	if len(data) < 18 || data[0] != 'B' || data[1] != 'M' {
		return info, errors.New("missing BMP header")
	}
	headerSize := binary.LittleEndian.Uint32(data[14:18])
	if headerSize < 40 || len(data) < 14+40 {
		return info, nil
	}
	info.other["compression"] = strconv.Itoa(int(binary.LittleEndian.Uint32(data[30:34])))
	x := int32(binary.LittleEndian.Uint32(data[38:42]))
	y := int32(binary.LittleEndian.Uint32(data[42:46]))
	if x > 0 && y > 0 {
		info.other["dpi"] = fmt.Sprintf("%d,%d", int(math.Round(float64(x)*0.0254)), int(math.Round(float64(y)*0.0254)))
	}
	return info, nil
}
