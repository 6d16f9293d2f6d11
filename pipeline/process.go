package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"time"

	"veil/archive"
	"veil/fuzzy"
	"veil/hasher"
	"veil/ledger"
	"veil/logger"
	"veil/metadata"
	"veil/obfuscate"
	"veil/output"
	"veil/tracing"
)

// fileOutcome is what one intake file produced. fileID is the last ledger
// record written for it, zero when none exists yet.
type fileOutcome struct {
	result output.FileResult
	fileID uint
	err    error
}

// step runs one stage inside a trace region and tags a failure with the
// stage name.
func step(ctx context.Context, name string, fn func() error) error {
	defer tracing.Stage(ctx, name)()
	err := fn()
	if err == nil {
		return nil
	}
	var se *stageError
	if errors.As(err, &se) {
		return err
	}
	return failAt(name, err)
}

func (p *Pipeline) process(ctx context.Context, runID uint, item Item) fileOutcome {
	start := time.Now()
	tracing.File(ctx, item.Kind, item.Name)
	var out fileOutcome
	if item.Kind == KindVideo {
		out = p.processVideo(ctx, runID, item)
	} else {
		out = p.processImage(ctx, runID, item)
	}
	out.result.Input = item.Name
	out.result.Kind = item.Kind
	out.result.Duration = time.Since(start).Round(time.Millisecond).String()
	if out.err != nil {
		out.result.Status = output.StatusFailed
		out.result.Stage = stageOf(out.err)
		out.result.Error = out.err.Error()
	} else {
		out.result.Status = output.StatusSucceeded
	}
	return out
}

// original is the shared first half of both state machines: hash, look for
// earlier copies, archive, record.
type original struct {
	sha256  string
	hashes  map[string]string
	fuzzy   map[string]string
	saved   *archive.SaveResult
	id      uint
	earlier []uint
}

func (p *Pipeline) hashOriginal(ctx context.Context, item Item, o *original) error {
	return step(ctx, "hash_original", func() error {
		sum, err := hasher.HashFile(item.Path)
		if err != nil {
			return err
		}
		o.sha256 = sum
		if len(p.cfg.HashAlgorithms) > 0 {
			o.hashes = hasher.ComputeHashes(item.Path, p.cfg.HashAlgorithms)
		}
		if p.cfg.FuzzyHash {
			o.fuzzy = fuzzy.Digests(item.Path, p.cfg.FuzzyAlgorithms)
		}
		return nil
	})
}

func (p *Pipeline) archiveOriginal(ctx context.Context, item Item, ts time.Time, o *original) error {
	if err := step(ctx, "duplicate_check", func() error {
		ids, err := p.ledger.FindOriginalsByHash(o.sha256)
		if err != nil {
			return ledgerFail("duplicate_check", err)
		}
		o.earlier = ids
		return nil
	}); err != nil {
		return err
	}
	return step(ctx, "archive_original", func() error {
		saved, err := p.originals.CopyFile(item.Path, archive.OriginalName(ts, item.Name))
		if err != nil {
			return err
		}
		if saved.Checksum != o.sha256 {
			if rmErr := p.originals.Remove(saved.Name); rmErr != nil {
				logger.Warnf("Could not remove mismatched copy %s: %v", saved.Name, rmErr)
			}
			return fmt.Errorf("archived copy of %s does not match the intake digest", item.Name)
		}
		o.saved = saved
		return nil
	})
}

// recordOriginal writes the original row, its snapshot and the
// preservation actions.
func (p *Pipeline) recordOriginal(ctx context.Context, runID uint, item Item, o *original, snap metadata.Snapshot, info ledger.ImageInfo, out *fileOutcome) error {
	return step(ctx, "record_original", func() error {
		id, err := p.ledger.RecordFile(runID, ledger.TypeOriginal, item.Name, o.saved.Path, o.sha256, info)
		if err != nil {
			return ledgerFail("record_original", err)
		}
		o.id = id
		out.fileID = id
		if err := p.ledger.RecordPreservedMetadata(id, snap); err != nil {
			return ledgerFail("record_original", err)
		}
		details := map[string]interface{}{
			"original_path":  item.Path,
			"preserved_path": o.saved.Path,
			"hash_sha256":    o.sha256,
			"size_bytes":     o.saved.Size,
		}
		if item.MIME != "" {
			details["detected_mime"] = item.MIME
		}
		if len(o.hashes) > 0 {
			details["hashes"] = o.hashes
		}
		if len(o.fuzzy) > 0 {
			details["fuzzy_hashes"] = o.fuzzy
		}
		if missing := snap.Unavailable(); len(missing) > 0 {
			details["metadata_unavailable"] = missing
		}
		if err := p.ledger.RecordAction(runID, id, ActionPreserveOriginal, details); err != nil {
			return ledgerFail("record_original", err)
		}
		if len(o.earlier) > 0 {
			logger.Warnf("%s matches %d earlier original(s); processing it again", item.Name, len(o.earlier))
			dup := map[string]interface{}{
				"file":              item.Name,
				"hash_sha256":       o.sha256,
				"previous_file_ids": o.earlier,
			}
			if err := p.ledger.RecordAction(runID, id, ActionDuplicateDetected, dup); err != nil {
				return ledgerFail("record_original", err)
			}
		}
		return nil
	})
}

func (o *original) artifact(format string) *output.Artifact {
	if o.saved == nil {
		return nil
	}
	return &output.Artifact{
		FileID: o.id,
		Name:   o.saved.Name,
		Path:   o.saved.Path,
		SHA256: o.sha256,
		Size:   o.saved.Size,
		Format: format,
	}
}

func (p *Pipeline) processImage(ctx context.Context, runID uint, item Item) (out fileOutcome) {
	ts := p.now()
	var (
		o        original
		d        *metadata.Decoded
		snap     metadata.Snapshot
		cleanImg *image.RGBA
		olog     obfuscate.Log
		saved    *archive.SaveResult
		cleanID  uint
	)
	format := p.cfg.OutputFormat
	defer func() {
		out.result.Hashes = o.hashes
		out.result.FuzzyHashes = o.fuzzy
		out.result.DuplicateOf = o.earlier
		if d != nil {
			out.result.Original = o.artifact(d.Format)
			out.result.Unavailable = snap.Unavailable()
			if len(out.result.Unavailable) == 0 {
				out.result.Unavailable = nil
			}
		}
	}()

	if out.err = step(ctx, "decode", func() error {
		var err error
		d, err = metadata.DecodeFile(item.Path)
		return err
	}); out.err != nil {
		return out
	}
	_ = step(ctx, "extract_metadata", func() error {
		snap = metadata.Extract(d)
		return nil
	})
	if out.err = p.hashOriginal(ctx, item, &o); out.err != nil {
		return out
	}
	if out.err = p.archiveOriginal(ctx, item, ts, &o); out.err != nil {
		return out
	}
	bounds := d.Image.Bounds()
	info := ledger.ImageInfo{
		SizeBytes: o.saved.Size,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Format:    d.Format,
		Mode:      d.Mode,
	}
	if out.err = p.recordOriginal(ctx, runID, item, &o, snap, info, &out); out.err != nil {
		return out
	}

	if out.err = step(ctx, "obfuscate", func() error {
		img, log, err := p.engine.Obfuscate(d, obfuscate.Options{
			FlipProbability: p.cfg.LSBFlipProbability,
			Passes:          p.cfg.ObfuscationPasses,
			AddNoise:        p.cfg.AddNoise,
			NoiseLevel:      p.cfg.NoiseLevel,
		})
		cleanImg, olog = img, log
		return err
	}); out.err != nil {
		return out
	}

	if out.err = step(ctx, "save_clean", func() error {
		name := archive.CleanName(ts, item.Name, obfuscate.Extension(format))
		var err error
		saved, err = p.clean.Write(name, func(w io.Writer) error {
			return obfuscate.Encode(w, cleanImg, format, p.cfg.JPEGQuality)
		})
		return err
	}); out.err != nil {
		return out
	}

	var cleanSHA string
	var cleanHashes, cleanFuzzy map[string]string
	if out.err = step(ctx, "hash_clean", func() error {
		sum, err := hasher.HashFile(saved.Path)
		if err != nil {
			return err
		}
		if sum != saved.Checksum {
			return fmt.Errorf("clean file %s changed after it was written", saved.Name)
		}
		cleanSHA = sum
		if len(p.cfg.HashAlgorithms) > 0 {
			cleanHashes = hasher.ComputeHashes(saved.Path, p.cfg.HashAlgorithms)
		}
		if p.cfg.FuzzyHash {
			cleanFuzzy = fuzzy.Digests(saved.Path, p.cfg.FuzzyAlgorithms)
		}
		return nil
	}); out.err != nil {
		p.discardClean(saved)
		return out
	}

	if out.err = step(ctx, "record_clean", func() error {
		cb := cleanImg.Bounds()
		id, err := p.ledger.RecordCleaned(runID, o.id, saved.Name, saved.Path, cleanSHA, ledger.ImageInfo{
			SizeBytes: saved.Size,
			Width:     cb.Dx(),
			Height:    cb.Dy(),
			Format:    format,
			Mode:      "RGB",
		}, &olog, d.Format)
		if err != nil {
			return ledgerFail("record_clean", err)
		}
		cleanID = id
		out.fileID = id

		details := map[string]interface{}{
			"input_hash":          o.sha256,
			"output_hash":         cleanSHA,
			"clean_path":          saved.Path,
			"obfuscation_details": olog,
			"format_change":       !strings.EqualFold(d.Format, format),
			"jpeg_quality":        p.cfg.JPEGQuality,
		}
		if len(cleanHashes) > 0 {
			details["hashes"] = cleanHashes
		}
		if len(cleanFuzzy) > 0 {
			details["fuzzy_hashes"] = cleanFuzzy
		}
		if err := p.ledger.RecordAction(runID, cleanID, ActionSecureObfuscation, details); err != nil {
			return ledgerFail("record_clean", err)
		}
		return nil
	}); out.err != nil {
		if cleanID == 0 {
			p.discardClean(saved)
		}
		return out
	}

	out.result.Clean = &output.Artifact{
		FileID: cleanID,
		Name:   saved.Name,
		Path:   saved.Path,
		SHA256: cleanSHA,
		Size:   saved.Size,
		Format: format,
	}
	out.err = p.removeIntake(ctx, runID, item, o.id)
	return out
}

func (p *Pipeline) processVideo(ctx context.Context, runID uint, item Item) (out fileOutcome) {
	ts := p.now()
	var o original
	defer func() {
		out.result.Hashes = o.hashes
		out.result.FuzzyHashes = o.fuzzy
		out.result.DuplicateOf = o.earlier
		out.result.Original = o.artifact("MP4")
	}()

	if out.err = p.hashOriginal(ctx, item, &o); out.err != nil {
		return out
	}
	if out.err = p.archiveOriginal(ctx, item, ts, &o); out.err != nil {
		return out
	}
	info := ledger.ImageInfo{SizeBytes: o.saved.Size, Format: "MP4"}
	if out.err = p.recordOriginal(ctx, runID, item, &o, metadata.ForVideo(item.Path), info, &out); out.err != nil {
		return out
	}

	var saved *archive.SaveResult
	var details map[string]interface{}
	if out.err = step(ctx, "strip_video", func() error {
		staged, err := p.clean.Stage(".mp4")
		if err != nil {
			return err
		}
		d, err := p.stripper.Strip(ctx, item.Path, staged)
		if err != nil {
			os.Remove(staged)
			return err
		}
		saved, err = p.clean.Commit(staged, archive.CleanName(ts, item.Name, ".mp4"))
		if err != nil {
			return err
		}
		details = map[string]interface{}{
			"tool":                      d.Tool,
			"operation":                 d.Operation,
			"arguments":                 d.Arguments,
			"lsb_randomization_applied": d.LSBRandomizationApplied,
			"duration":                  d.Duration,
		}
		return nil
	}); out.err != nil {
		return out
	}

	var cleanID uint
	if out.err = step(ctx, "record_clean", func() error {
		id, err := p.ledger.RecordCleaned(runID, o.id, saved.Name, saved.Path, saved.Checksum,
			ledger.ImageInfo{SizeBytes: saved.Size, Format: "MP4"}, nil, "MP4")
		if err != nil {
			return ledgerFail("record_clean", err)
		}
		cleanID = id
		out.fileID = id

		details["input_hash"] = o.sha256
		details["output_hash"] = saved.Checksum
		details["clean_path"] = saved.Path
		if err := p.ledger.RecordAction(runID, cleanID, ActionStripVideoMetadata, details); err != nil {
			return ledgerFail("record_clean", err)
		}
		return nil
	}); out.err != nil {
		if cleanID == 0 {
			p.discardClean(saved)
		}
		return out
	}

	out.result.Clean = &output.Artifact{
		FileID: cleanID,
		Name:   saved.Name,
		Path:   saved.Path,
		SHA256: saved.Checksum,
		Size:   saved.Size,
		Format: "MP4",
	}
	out.err = p.removeIntake(ctx, runID, item, o.id)
	return out
}

// removeIntake deletes the intake file. It only runs once the clean
// artifact is stored and recorded.
func (p *Pipeline) removeIntake(ctx context.Context, runID uint, item Item, originalID uint) error {
	return step(ctx, "remove_intake", func() error {
		if err := os.Remove(item.Path); err != nil {
			return err
		}
		if err := p.ledger.RecordAction(runID, originalID, ActionRemoveFromIngest, map[string]interface{}{
			"ingest_path": item.Path,
		}); err != nil {
			return ledgerFail("remove_intake", err)
		}
		return nil
	})
}

// discardClean removes a clean artifact that never made it into the ledger.
func (p *Pipeline) discardClean(saved *archive.SaveResult) {
	if saved == nil {
		return
	}
	if err := p.clean.Remove(saved.Name); err != nil {
		logger.Warnf("Could not remove unrecorded clean file %s: %v", saved.Name, err)
	}
}
