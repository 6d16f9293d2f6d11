package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// errTagOverflow marks a TIFF entry whose declared value size does not fit
// in the block. goexif multiplies type size and count in 32 bits and then
// allocates count elements, so such an entry must never reach it.
var errTagOverflow = errors.New("malformed EXIF: tag count overflow")

const (
	tiffTagExifIFD    = 0x8769
	tiffTagGPSIFD     = 0x8825
	tiffTagInteropIFD = 0xA005

	maxIFDs = 64
)

var tiffTypeSizes = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1,
	7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// checkTIFFEntries walks IFD0, the chained IFDs and the Exif, GPS and
// Interop sub-directories, and rejects any entry whose value would be larger
// than the block. Truncated directories are left for the decoder to report.
func checkTIFFEntries(raw []byte) error {
	raw = bytes.TrimPrefix(raw, jpegExifHeader)
	if len(raw) < 8 {
		return nil
	}
	var order binary.ByteOrder
	switch string(raw[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil
	}
	limit := uint64(len(raw))
	queue := []uint32{order.Uint32(raw[4:8])}
	seen := map[uint32]bool{}
	for len(queue) > 0 && len(seen) < maxIFDs {
		off := queue[0]
		queue = queue[1:]
		if off == 0 || seen[off] || uint64(off)+2 > limit {
			continue
		}
		seen[off] = true
		n := uint64(order.Uint16(raw[off:]))
		start := uint64(off) + 2
		for i := uint64(0); i < n; i++ {
			e := start + i*12
			if e+12 > limit {
				return nil
			}
			tag := order.Uint16(raw[e:])
			typ := order.Uint16(raw[e+2:])
			count := uint64(order.Uint32(raw[e+4:]))
			if size, ok := tiffTypeSizes[typ]; ok && size*count > limit {
				return errTagOverflow
			}
			switch tag {
			case tiffTagExifIFD, tiffTagGPSIFD, tiffTagInteropIFD:
				queue = append(queue, order.Uint32(raw[e+8:]))
			}
		}
		if next := start + n*12; next+4 <= limit {
			queue = append(queue, order.Uint32(raw[next:]))
		}
	}
	return nil
}
