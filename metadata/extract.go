package metadata

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// Snapshot is the preserved-metadata record taken before any mutation.
type Snapshot struct {
	Format          string                   `json:"format"`
	EXIF            Facet[map[string]string] `json:"exif"`
	GPS             Facet[map[string]string] `json:"gps"`
	ICCProfileSize  Facet[int]               `json:"icc_profile_size"`
	OtherInfo       Facet[map[string]string] `json:"other_info"`
	Filesystem      Facet[map[string]string] `json:"filesystem,omitempty"`
	HasTransparency bool                     `json:"has_transparency"`
	OriginalMode    string                   `json:"original_mode"`
}

// Unavailable lists every facet that could not be read, keyed by facet name.
func (s Snapshot) Unavailable() map[string]string {
	out := map[string]string{}
	if !s.EXIF.OK() {
		out["exif"] = s.EXIF.Reason
	}
	if !s.GPS.OK() {
		out["gps"] = s.GPS.Reason
	}
	if !s.ICCProfileSize.OK() {
		out["icc_profile_size"] = s.ICCProfileSize.Reason
	}
	if !s.OtherInfo.OK() {
		out["other_info"] = s.OtherInfo.Reason
	}
	if !s.Filesystem.OK() {
		out["filesystem"] = s.Filesystem.Reason
	}
	return out
}

// maxUndefinedTagBytes caps how much of an opaque EXIF blob (MakerNote and
// friends) is rendered into the snapshot.
const maxUndefinedTagBytes = 64

// Extract builds the snapshot for d. It never fails: each facet that cannot
// be read carries its own reason.
func Extract(d *Decoded) Snapshot {
	snap := Snapshot{
		Format:       d.Format,
		OriginalMode: d.Mode,
		Filesystem:   Found(map[string]string{}),
	}
	snap.HasTransparency = d.HasAlpha() || d.TransparencyKey

	snap.EXIF, snap.GPS = extractEXIF(d.container.exif)

	switch {
	case d.containerErr != nil && d.container.iccSize == 0:
		snap.ICCProfileSize = Unavailable[int](d.containerErr.Error())
	case d.container.iccErr != nil:
		snap.ICCProfileSize = Unavailable[int](d.container.iccErr.Error())
	default:
		snap.ICCProfileSize = Found(d.container.iccSize)
	}

	if d.containerErr != nil {
		snap.OtherInfo = Unavailable[map[string]string](d.containerErr.Error())
	} else {
		other := make(map[string]string, len(d.container.other))
		for k, v := range d.container.other {
			other[k] = v
		}
		snap.OtherInfo = Found(other)
	}

	if d.Path != "" {
		times, err := fileTimes(d.Path)
		if err != nil {
			snap.Filesystem = Unavailable[map[string]string](err.Error())
		} else {
			snap.Filesystem = Found(times)
		}
	}
	return snap
}

func extractEXIF(raw []byte) (Facet[map[string]string], Facet[map[string]string]) {
	if len(raw) == 0 {
		return Found(map[string]string{}), Found(map[string]string{})
	}
	if err := checkTIFFEntries(raw); err != nil {
		return Unavailable[map[string]string](err.Error()), Unavailable[map[string]string](err.Error())
	}
	x, err := exif.Decode(bytes.NewReader(raw))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		reason := "malformed EXIF"
		if err != nil {
			reason = fmt.Sprintf("malformed EXIF: %v", err)
		}
		return Unavailable[map[string]string](reason), Unavailable[map[string]string](reason)
	}

	w := &exifWalker{tags: map[string]string{}, gps: map[string]string{}}
	if walkErr := x.Walk(w); walkErr != nil {
		reason := fmt.Sprintf("walk EXIF: %v", walkErr)
		return Unavailable[map[string]string](reason), Unavailable[map[string]string](reason)
	}
	if lat, long, err := x.LatLong(); err == nil {
		w.gps["Latitude"] = strconv.FormatFloat(lat, 'f', 6, 64)
		w.gps["Longitude"] = strconv.FormatFloat(long, 'f', 6, 64)
	}
	return Found(w.tags), Found(w.gps)
}

type exifWalker struct {
	tags map[string]string
	gps  map[string]string
}

func (w *exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	key := string(name)
	switch key {
	case "ExifIFDPointer", "InteroperabilityIFDPointer":
		return nil
	case "GPSInfoIFDPointer":
		w.tags["GPSInfo"] = "present"
		return nil
	}
	value := tagValue(tag)
	if strings.HasPrefix(key, "GPS") {
		w.gps[strings.TrimPrefix(key, "GPS")] = value
		return nil
	}
	w.tags[key] = value
	return nil
}

func tagValue(tag *tiff.Tag) string {
	switch tag.Format() {
	case tiff.StringVal:
		if s, err := tag.StringVal(); err == nil {
			return strings.TrimRight(s, "\x00 ")
		}
	case tiff.UndefVal:
		if len(tag.Val) > maxUndefinedTagBytes {
			return fmt.Sprintf("<%d bytes>", len(tag.Val))
		}
	}
	return tag.String()
}

// ForVideo is the snapshot recorded for an MP4 original. Container atoms
// are not parsed, so only the filesystem times are captured.
func ForVideo(path string) Snapshot {
	snap := Snapshot{
		Format:         "MP4",
		EXIF:           Found(map[string]string{}),
		GPS:            Found(map[string]string{}),
		ICCProfileSize: Found(0),
		OtherInfo:      Found(map[string]string{"media_type": "video_mp4"}),
	}
	times, err := fileTimes(path)
	if err != nil {
		snap.Filesystem = Unavailable[map[string]string](err.Error())
	} else {
		snap.Filesystem = Found(times)
	}
	return snap
}
