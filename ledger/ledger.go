// Package ledger is the audit store: runs, files, their lineage, preserved
// metadata, obfuscation summaries and the free-form action log. Every
// write failure is returned to the caller; nothing is suppressed here.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"veil/logger"
	"veil/metadata"
	"veil/obfuscate"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrRunNotFound      = errors.New("ledger: run not found")
	ErrRunFinished      = errors.New("ledger: run already finished")
	ErrInvalidFileType  = errors.New("ledger: file type must be original or cleaned")
	ErrFileTypeMismatch = errors.New("ledger: file record has the wrong type")
	ErrRunMismatch      = errors.New("ledger: file record belongs to another run")
)

// Options selects the backing store. Path is used by the sqlite driver,
// DSN by mysql.
type Options struct {
	Driver   string
	Path     string
	DSN      string
	LogLevel string
}

// Stats are the counts written when a run is finalised.
type Stats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ImageInfo is the descriptive part of a file record. Videos leave the
// dimensions at zero.
type ImageInfo struct {
	SizeBytes int64
	Width     int
	Height    int
	Format    string
	Mode      string
}

type Ledger struct {
	db       *gorm.DB
	observer func(ProcessingAction)
}

// Open connects to the store and migrates the schema. The same handle is
// meant to be shared by every write of a session.
func Open(opts Options) (*Ledger, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(opts.Path) == "" {
			return nil, fmt.Errorf("ledger: sqlite path must not be empty")
		}
		if opts.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
				return nil, fmt.Errorf("ledger: create db directory: %w", err)
			}
		}
		dialector = sqlite.Open(opts.Path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	case "mysql":
		if strings.TrimSpace(opts.DSN) == "" {
			return nil, fmt.Errorf("ledger: mysql DSN must not be empty")
		}
		dialector = mysql.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(logger.Logger(), gormlogger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  toGormLogLevel(opts.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ledger: get sql.DB: %w", err)
	}
	if _, ok := dialector.(*sqlite.Dialector); ok {
		// One writer connection keeps the pragmas and transactions coherent.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Ledger{db: db}, nil
}

// toGormLogLevel maps the application log level onto GORM's. Statement
// logging only shows up at debug.
func toGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info", "", "warn":
		return gormlogger.Warn
	case "error", "fatal", "panic":
		return gormlogger.Error
	case "silent":
		return gormlogger.Silent
	default:
		return gormlogger.Warn
	}
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OnAction registers fn to be called after every committed action insert.
func (l *Ledger) OnAction(fn func(ProcessingAction)) {
	l.observer = fn
}

// StartRun inserts a new run stamped with the current UTC time.
func (l *Ledger) StartRun(operator string, config interface{}) (uint, error) {
	cfgJSON, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("ledger: encode run configuration: %w", err)
	}
	run := Run{
		UUID:          uuid.NewString(),
		StartedAt:     time.Now().UTC(),
		OperatorName:  operator,
		Configuration: string(cfgJSON),
	}
	if err := l.db.Create(&run).Error; err != nil {
		return 0, fmt.Errorf("ledger: start run: %w", err)
	}
	return run.ID, nil
}

// FinishRun finalises a run. Unknown ids and second calls are errors.
func (l *Ledger) FinishRun(runID uint, stats Stats) error {
	now := time.Now().UTC()
	res := l.db.Model(&Run{}).
		Where("id = ? AND finished_at_utc IS NULL", runID).
		Updates(map[string]interface{}{
			"finished_at_utc":  now,
			"total_files":      stats.Total,
			"successful_files": stats.Successful,
			"failed_files":     stats.Failed,
		})
	if res.Error != nil {
		return fmt.Errorf("ledger: finish run %d: %w", runID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := l.db.Model(&Run{}).Where("id = ?", runID).Count(&count).Error; err != nil {
		return fmt.Errorf("ledger: finish run %d: %w", runID, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	return fmt.Errorf("%w: %d", ErrRunFinished, runID)
}

// RecordFile inserts a file row and returns its id.
func (l *Ledger) RecordFile(runID uint, fileType, filename, storedPath, sha256 string, info ImageInfo) (uint, error) {
	f, err := newFile(runID, fileType, filename, storedPath, sha256, info)
	if err != nil {
		return 0, err
	}
	if err := l.db.Create(f).Error; err != nil {
		return 0, fmt.Errorf("ledger: record %s file %s: %w", fileType, filename, err)
	}
	return f.ID, nil
}

// RecordCleaned inserts a cleaned file row together with its lineage and,
// when log is non-nil, its obfuscation summary. Either all of it is written
// or none of it.
func (l *Ledger) RecordCleaned(runID, originalID uint, filename, storedPath, sha256 string, info ImageInfo, log *obfuscate.Log, originalFormat string) (uint, error) {
	f, err := newFile(runID, TypeCleaned, filename, storedPath, sha256, info)
	if err != nil {
		return 0, err
	}
	err = l.db.Transaction(func(tx *gorm.DB) error {
		if err := expectOriginalInRun(tx, originalID, runID); err != nil {
			return err
		}
		if err := tx.Create(f).Error; err != nil {
			return fmt.Errorf("ledger: record cleaned file %s: %w", filename, err)
		}
		return insertLineage(tx, f.ID, originalID, log, originalFormat, info.Format)
	})
	if err != nil {
		return 0, err
	}
	return f.ID, nil
}

func newFile(runID uint, fileType, filename, storedPath, sha256 string, info ImageInfo) (*File, error) {
	if fileType != TypeOriginal && fileType != TypeCleaned {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFileType, fileType)
	}
	if sha256 == "" {
		return nil, fmt.Errorf("ledger: record file %s: empty hash", filename)
	}
	return &File{
		RunID:            runID,
		FileType:         fileType,
		OriginalFilename: filename,
		StoredPath:       storedPath,
		SHA256:           sha256,
		SizeBytes:        info.SizeBytes,
		Width:            info.Width,
		Height:           info.Height,
		Format:           info.Format,
		Mode:             info.Mode,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// RecordPreservedMetadata stores the snapshot of an original. A second call
// for the same file violates the primary key and fails.
func (l *Ledger) RecordPreservedMetadata(fileID uint, snap metadata.Snapshot) error {
	row := PreservedMetadata{
		FileID:          fileID,
		Format:          snap.Format,
		HadTransparency: snap.HasTransparency,
		OriginalMode:    snap.OriginalMode,
	}
	var err error
	if row.EXIFJSON, err = marshalString(snap.EXIF); err != nil {
		return fmt.Errorf("ledger: encode exif: %w", err)
	}
	if row.GPSJSON, err = marshalString(snap.GPS); err != nil {
		return fmt.Errorf("ledger: encode gps: %w", err)
	}
	if row.ICCProfileJSON, err = marshalString(snap.ICCProfileSize); err != nil {
		return fmt.Errorf("ledger: encode icc: %w", err)
	}
	if row.OtherJSON, err = marshalString(snap.OtherInfo); err != nil {
		return fmt.Errorf("ledger: encode other info: %w", err)
	}
	if row.FilesystemJSON, err = marshalString(snap.Filesystem); err != nil {
		return fmt.Errorf("ledger: encode filesystem times: %w", err)
	}
	if snap.ICCProfileSize.OK() {
		size := snap.ICCProfileSize.Value
		row.ICCProfileSize = &size
	}

	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := expectType(tx, fileID, TypeOriginal); err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("ledger: record preserved metadata for file %d: %w", fileID, err)
		}
		return nil
	})
}

// RecordObfuscationSummary links cleaned to original and stores the engine
// log in one transaction.
func (l *Ledger) RecordObfuscationSummary(cleanedID, originalID uint, log obfuscate.Log, originalFormat, cleanedFormat string) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := expectType(tx, originalID, TypeOriginal); err != nil {
			return err
		}
		if err := expectType(tx, cleanedID, TypeCleaned); err != nil {
			return err
		}
		return insertLineage(tx, cleanedID, originalID, &log, originalFormat, cleanedFormat)
	})
}

func insertLineage(tx *gorm.DB, cleanedID, originalID uint, log *obfuscate.Log, originalFormat, cleanedFormat string) error {
	rel := FileRelationship{OriginalFileID: originalID, CleanedFileID: cleanedID}
	if err := tx.Create(&rel).Error; err != nil {
		return fmt.Errorf("ledger: link %d -> %d: %w", originalID, cleanedID, err)
	}
	if log == nil {
		return nil
	}
	summary := ObfuscationSummary{
		CleanedFileID:           cleanedID,
		MetadataStripped:        log.MetadataStripped,
		LSBRandomizationApplied: log.LSBRandomizationApplied,
		TransparencyRemoved:     log.TransparencyRemoved,
		NoiseAdded:              log.NoiseAdded,
		ObfuscationPasses:       log.PassesApplied,
		LSBFlipProbability:      log.FlipProbability,
		SamplesFlipped:          log.SamplesFlipped,
		FormatChanged:           !strings.EqualFold(originalFormat, cleanedFormat),
		OriginalFormat:          originalFormat,
		CleanedFormat:           cleanedFormat,
	}
	if err := tx.Create(&summary).Error; err != nil {
		return fmt.Errorf("ledger: record obfuscation summary for file %d: %w", cleanedID, err)
	}
	return nil
}

// RecordAction appends one entry to the action log.
func (l *Ledger) RecordAction(runID, fileID uint, actionType string, details interface{}) error {
	payload, err := marshalString(details)
	if err != nil {
		return fmt.Errorf("ledger: encode %s details: %w", actionType, err)
	}
	action := ProcessingAction{
		RunID:      runID,
		FileID:     fileID,
		ActionType: actionType,
		Details:    payload,
		Timestamp:  time.Now().UTC(),
	}
	if err := l.db.Create(&action).Error; err != nil {
		return fmt.Errorf("ledger: record %s action: %w", actionType, err)
	}
	if l.observer != nil {
		l.observer(action)
	}
	return nil
}

// FindOriginalsByHash returns the ids of earlier originals with this digest.
func (l *Ledger) FindOriginalsByHash(sha256 string) ([]uint, error) {
	var ids []uint
	err := l.db.Model(&File{}).
		Where("file_type = ? AND file_hash_sha256 = ?", TypeOriginal, sha256).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup hash: %w", err)
	}
	return ids, nil
}

// GetRun loads one run.
func (l *Ledger) GetRun(runID uint) (*Run, error) {
	var run Run
	err := l.db.First(&run, runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load run %d: %w", runID, err)
	}
	return &run, nil
}

// Files lists the file rows of a run in insertion order.
func (l *Ledger) Files(runID uint) ([]File, error) {
	var files []File
	if err := l.db.Where("run_id = ?", runID).Order("id").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("ledger: list files of run %d: %w", runID, err)
	}
	return files, nil
}

// Actions lists the action log of a run in insertion order.
func (l *Ledger) Actions(runID uint) ([]ProcessingAction, error) {
	var actions []ProcessingAction
	if err := l.db.Where("run_id = ?", runID).Order("id").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("ledger: list actions of run %d: %w", runID, err)
	}
	return actions, nil
}

// OriginalOf returns the original id a cleaned file was derived from.
func (l *Ledger) OriginalOf(cleanedID uint) (uint, error) {
	var rels []FileRelationship
	if err := l.db.Where("cleaned_file_id = ?", cleanedID).Find(&rels).Error; err != nil {
		return 0, fmt.Errorf("ledger: lookup lineage of %d: %w", cleanedID, err)
	}
	if len(rels) != 1 {
		return 0, fmt.Errorf("ledger: cleaned file %d has %d originals", cleanedID, len(rels))
	}
	return rels[0].OriginalFileID, nil
}

// PreservedMetadataFor loads the snapshot row of an original.
func (l *Ledger) PreservedMetadataFor(fileID uint) (*PreservedMetadata, error) {
	var row PreservedMetadata
	if err := l.db.First(&row, "file_id = ?", fileID).Error; err != nil {
		return nil, fmt.Errorf("ledger: load preserved metadata of %d: %w", fileID, err)
	}
	return &row, nil
}

// SummaryFor loads the obfuscation summary of a cleaned file.
func (l *Ledger) SummaryFor(cleanedID uint) (*ObfuscationSummary, error) {
	var row ObfuscationSummary
	if err := l.db.First(&row, "cleaned_file_id = ?", cleanedID).Error; err != nil {
		return nil, fmt.Errorf("ledger: load obfuscation summary of %d: %w", cleanedID, err)
	}
	return &row, nil
}

// Overview aggregates the whole ledger for the summary view.
type Overview struct {
	TotalRuns       int64 `json:"total_runs"`
	TotalFiles      int64 `json:"total_files"`
	SuccessfulFiles int64 `json:"successful_files"`
	RecentRuns      []Run `json:"recent_runs"`
}

// Overview reports run totals and the most recent runs, newest first.
func (l *Ledger) Overview(recent int) (*Overview, error) {
	var out Overview
	row := l.db.Model(&Run{}).
		Select("COUNT(*), COALESCE(SUM(total_files), 0), COALESCE(SUM(successful_files), 0)").
		Row()
	if err := row.Scan(&out.TotalRuns, &out.TotalFiles, &out.SuccessfulFiles); err != nil {
		return nil, fmt.Errorf("ledger: aggregate runs: %w", err)
	}
	if recent <= 0 {
		recent = 5
	}
	if err := l.db.Order("id DESC").Limit(recent).Find(&out.RecentRuns).Error; err != nil {
		return nil, fmt.Errorf("ledger: list recent runs: %w", err)
	}
	return &out, nil
}

func expectType(tx *gorm.DB, fileID uint, fileType string) error {
	var f File
	if err := tx.Select("id", "file_type").First(&f, fileID).Error; err != nil {
		return fmt.Errorf("ledger: load file %d: %w", fileID, err)
	}
	if f.FileType != fileType {
		return fmt.Errorf("%w: file %d is %s, want %s", ErrFileTypeMismatch, fileID, f.FileType, fileType)
	}
	return nil
}

// expectOriginalInRun checks that a cleaned row about to be inserted for
// runID links to an original recorded earlier in that same run.
func expectOriginalInRun(tx *gorm.DB, originalID, runID uint) error {
	if err := expectType(tx, originalID, TypeOriginal); err != nil {
		return err
	}
	var f File
	if err := tx.Select("id", "run_id").First(&f, originalID).Error; err != nil {
		return fmt.Errorf("ledger: load file %d: %w", originalID, err)
	}
	if f.RunID != runID {
		return fmt.Errorf("%w: original %d was recorded in run %d, not %d", ErrRunMismatch, originalID, f.RunID, runID)
	}
	return nil
}

func marshalString(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
