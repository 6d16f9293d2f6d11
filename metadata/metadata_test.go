package metadata

import (
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"veil/internal/testimg"
)

func TestExtractJPEGWithEXIFAndGPS(t *testing.T) {
	data := testimg.JPEGWithMetadata(testimg.Gradient(32, 16), testimg.EXIF("Canon", "EOS R5"), 128)
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	d, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Format != "JPEG" || d.Mode != "RGB" {
		t.Fatalf("unexpected format/mode: %s/%s", d.Format, d.Mode)
	}

	snap := Extract(d)
	if !snap.EXIF.OK() || snap.EXIF.Value["Make"] != "Canon" || snap.EXIF.Value["Model"] != "EOS R5" {
		t.Fatalf("unexpected exif facet: %+v", snap.EXIF)
	}
	if snap.EXIF.Value["GPSInfo"] != "present" {
		t.Fatalf("expected GPS pointer marker, got %v", snap.EXIF.Value)
	}
	if !snap.GPS.OK() || snap.GPS.Value["LatitudeRef"] != "N" {
		t.Fatalf("unexpected gps facet: %+v", snap.GPS)
	}
	if !strings.HasPrefix(snap.GPS.Value["Latitude"], "48.858") {
		t.Fatalf("unexpected latitude: %q", snap.GPS.Value["Latitude"])
	}
	if !snap.ICCProfileSize.OK() || snap.ICCProfileSize.Value != 128 {
		t.Fatalf("unexpected icc facet: %+v", snap.ICCProfileSize)
	}
	if snap.HasTransparency {
		t.Fatal("jpeg should not report transparency")
	}
	if !snap.Filesystem.OK() || snap.Filesystem.Value["mod_time"] == "" {
		t.Fatalf("expected filesystem times, got %+v", snap.Filesystem)
	}
	if len(snap.Unavailable()) != 0 {
		t.Fatalf("unexpected unavailable facets: %v", snap.Unavailable())
	}
}

func TestExtractWithoutEXIFYieldsEmptyMaps(t *testing.T) {
	d, err := Decode(testimg.JPEG(testimg.Gradient(8, 8)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	snap := Extract(d)
	if !snap.EXIF.OK() || len(snap.EXIF.Value) != 0 {
		t.Fatalf("expected empty exif, got %+v", snap.EXIF)
	}
	if !snap.GPS.OK() || len(snap.GPS.Value) != 0 {
		t.Fatalf("expected empty gps, got %+v", snap.GPS)
	}
	if snap.ICCProfileSize.Value != 0 {
		t.Fatalf("expected no icc profile, got %d", snap.ICCProfileSize.Value)
	}
}

func TestExtractMalformedEXIFIsMarkedUnavailable(t *testing.T) {
	data := testimg.JPEGWithMetadata(testimg.Gradient(8, 8), []byte("MM\x00*\x00\x00\xff\xff garbage"), 0)
	d, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	snap := Extract(d)
	if snap.EXIF.OK() {
		t.Fatalf("expected exif facet unavailable, got %+v", snap.EXIF)
	}
	if !strings.Contains(snap.EXIF.Reason, "EXIF") {
		t.Fatalf("unexpected reason: %q", snap.EXIF.Reason)
	}
	if !snap.OtherInfo.OK() || !snap.ICCProfileSize.OK() {
		t.Fatal("other facets must survive a broken EXIF block")
	}
	encoded, err := json.Marshal(snap.EXIF)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"unavailable"`) {
		t.Fatalf("expected unavailable marker, got %s", encoded)
	}
}

func TestExtractPNGTextAndAlpha(t *testing.T) {
	data := testimg.PNGWithChunks(testimg.Translucent(8, 8), map[string][]byte{
		"tEXt": []byte("Author\x00Jane Roe"),
	})
	d, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Mode != "RGBA" {
		t.Fatalf("expected RGBA mode, got %s", d.Mode)
	}
	snap := Extract(d)
	if !snap.HasTransparency {
		t.Fatal("expected transparency for RGBA input")
	}
	if snap.OtherInfo.Value["Author"] != "Jane Roe" {
		t.Fatalf("unexpected other info: %v", snap.OtherInfo.Value)
	}
}

func TestExtractPalettedTransparencyKey(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{
		color.NRGBA{0, 0, 0, 0},
		color.NRGBA{255, 0, 0, 255},
	})
	img.SetColorIndex(1, 1, 1)
	d, err := Decode(testimg.PNG(img))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Mode != "P" || !d.TransparencyKey {
		t.Fatalf("expected paletted mode with tRNS, got %s/%t", d.Mode, d.TransparencyKey)
	}
	if !Extract(d).HasTransparency {
		t.Fatal("expected transparency from tRNS key")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("definitely not an image")); err != ErrUnsupportedFormat {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFromImageHasEmptyContainer(t *testing.T) {
	d := FromImage(testimg.Gradient(4, 4))
	snap := Extract(d)
	if snap.OriginalMode != "RGB" || !snap.OtherInfo.OK() || len(snap.OtherInfo.Value) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestFacetJSONRoundTrip(t *testing.T) {
	var f Facet[int]
	if err := json.Unmarshal([]byte(`{"unavailable":"boom"}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.OK() || f.Reason != "boom" {
		t.Fatalf("unexpected facet: %+v", f)
	}
	if err := json.Unmarshal([]byte(`42`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !f.OK() || f.Value != 42 {
		t.Fatalf("unexpected facet: %+v", f)
	}
}

func TestForVideoCapturesFileTimes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap := ForVideo(path)
	if snap.Format != "MP4" || snap.OtherInfo.Value["media_type"] != "video_mp4" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.Filesystem.OK() || snap.Filesystem.Value["mod_time"] == "" {
		t.Fatalf("expected filesystem times, got %+v", snap.Filesystem)
	}

	missing := ForVideo(filepath.Join(t.TempDir(), "gone.mp4"))
	if _, ok := missing.Unavailable()["filesystem"]; !ok {
		t.Fatalf("expected filesystem facet to be unavailable")
	}
}

func TestOversizedTagCountIsUnavailable(t *testing.T) {
	for name, blob := range map[string][]byte{
		"ifd0":     testimg.OversizedCountTIFF(),
		"exif_ifd": testimg.NestedOversizedCountTIFF(),
	} {
		exifFacet, gpsFacet := extractEXIF(blob)
		if exifFacet.OK() || !strings.Contains(exifFacet.Reason, "tag count overflow") {
			t.Fatalf("%s: expected overflow reason, got %+v", name, exifFacet)
		}
		if gpsFacet.OK() {
			t.Fatalf("%s: gps facet should be unavailable too", name)
		}
		if _, err := parseTIFF(blob); err == nil {
			t.Fatalf("%s: expected TIFF directory parse to refuse the block", name)
		}
	}
}

func TestJPEGWithOversizedTagStillExtracts(t *testing.T) {
	d, err := Decode(testimg.JPEGWithMetadata(testimg.Gradient(16, 16), testimg.OversizedCountTIFF(), 32))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	snap := Extract(d)
	if snap.EXIF.OK() || snap.GPS.OK() {
		t.Fatalf("expected exif and gps to be unavailable, got %+v / %+v", snap.EXIF, snap.GPS)
	}
	if !snap.ICCProfileSize.OK() || snap.ICCProfileSize.Value != 32 {
		t.Fatalf("other facets must survive a bad EXIF block: %+v", snap.ICCProfileSize)
	}
}

func TestWellFormedEXIFPassesEntryCheck(t *testing.T) {
	if err := checkTIFFEntries(testimg.EXIF("Canon", "EOS R5")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
