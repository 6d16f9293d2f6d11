package ledger

import "time"

// File types accepted by the files table.
const (
	TypeOriginal = "original"
	TypeCleaned  = "cleaned"
)

// Run is one batch invocation. It is finalised exactly once.
type Run struct {
	ID              uint       `gorm:"primaryKey" json:"run_id"`
	UUID            string     `gorm:"size:36;uniqueIndex;not null" json:"uuid"`
	StartedAt       time.Time  `gorm:"column:started_at_utc;not null" json:"started_at_utc"`
	FinishedAt      *time.Time `gorm:"column:finished_at_utc" json:"finished_at_utc,omitempty"`
	OperatorName    string     `gorm:"size:255" json:"operator_name"`
	TotalFiles      int        `gorm:"not null" json:"total_files"`
	SuccessfulFiles int        `gorm:"not null" json:"successful_files"`
	FailedFiles     int        `gorm:"not null" json:"failed_files"`
	Configuration   string     `gorm:"column:configuration_json;type:text" json:"configuration_json"`
}

func (Run) TableName() string { return "runs" }

// File is one physical artifact produced during a run.
type File struct {
	ID               uint      `gorm:"primaryKey" json:"file_id"`
	RunID            uint      `gorm:"index:idx_files_run;not null" json:"run_id"`
	Run              *Run      `gorm:"constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT;" json:"-"`
	FileType         string    `gorm:"size:16;not null;index:idx_files_type;check:chk_files_type,file_type IN ('original','cleaned')" json:"file_type"`
	OriginalFilename string    `gorm:"size:1024;not null" json:"original_filename"`
	StoredPath       string    `gorm:"size:2048;not null" json:"stored_path"`
	SHA256           string    `gorm:"column:file_hash_sha256;size:64;not null;index:idx_files_hash" json:"file_hash_sha256"`
	SizeBytes        int64     `gorm:"column:file_size_bytes" json:"file_size_bytes"`
	Width            int       `gorm:"column:image_width" json:"image_width"`
	Height           int       `gorm:"column:image_height" json:"image_height"`
	Format           string    `gorm:"column:image_format;size:16" json:"image_format"`
	Mode             string    `gorm:"column:image_mode;size:16" json:"image_mode"`
	CreatedAt        time.Time `gorm:"column:created_at_utc;not null" json:"created_at_utc"`
}

func (File) TableName() string { return "files" }

// FileRelationship links a cleaned file to the original it was derived from.
// A cleaned file has exactly one original.
type FileRelationship struct {
	OriginalFileID uint  `gorm:"primaryKey;autoIncrement:false" json:"original_file_id"`
	CleanedFileID  uint  `gorm:"primaryKey;autoIncrement:false;uniqueIndex:idx_relationship_cleaned" json:"cleaned_file_id"`
	Original       *File `gorm:"foreignKey:OriginalFileID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT;" json:"-"`
	Cleaned        *File `gorm:"foreignKey:CleanedFileID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT;" json:"-"`
}

func (FileRelationship) TableName() string { return "file_relationships" }

// PreservedMetadata is the snapshot taken from an original before mutation.
// Facet columns hold either the value or {"unavailable": reason}.
type PreservedMetadata struct {
	FileID          uint   `gorm:"primaryKey;autoIncrement:false" json:"file_id"`
	File            *File  `gorm:"constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT;" json:"-"`
	Format          string `gorm:"size:16" json:"format"`
	EXIFJSON        string `gorm:"column:exif_data_json;type:text" json:"exif_data_json"`
	GPSJSON         string `gorm:"column:exif_gps_json;type:text" json:"exif_gps_json"`
	ICCProfileSize  *int   `gorm:"column:icc_profile_size" json:"icc_profile_size"`
	ICCProfileJSON  string `gorm:"column:icc_profile_json;type:text" json:"icc_profile_json"`
	OtherJSON       string `gorm:"column:other_metadata_json;type:text" json:"other_metadata_json"`
	FilesystemJSON  string `gorm:"column:filesystem_json;type:text" json:"filesystem_json"`
	HadTransparency bool   `gorm:"column:had_transparency" json:"had_transparency"`
	OriginalMode    string `gorm:"size:16" json:"original_mode"`
}

func (PreservedMetadata) TableName() string { return "preserved_metadata" }

// ProcessingAction is an append-only audit entry. FileID 0 means the action
// is not tied to a file record, so the column carries no foreign key.
type ProcessingAction struct {
	ID         uint      `gorm:"primaryKey" json:"action_id"`
	RunID      uint      `gorm:"index;not null" json:"run_id"`
	Run        *Run      `gorm:"constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT;" json:"-"`
	FileID     uint      `gorm:"index;not null" json:"file_id"`
	ActionType string    `gorm:"size:64;not null;index" json:"action_type"`
	Details    string    `gorm:"column:action_details_json;type:text" json:"action_details_json"`
	Timestamp  time.Time `gorm:"column:timestamp_utc;not null" json:"timestamp_utc"`
}

func (ProcessingAction) TableName() string { return "processing_actions" }

// ObfuscationSummary is one-to-one with a cleaned file.
type ObfuscationSummary struct {
	CleanedFileID           uint    `gorm:"primaryKey;autoIncrement:false" json:"cleaned_file_id"`
	Cleaned                 *File   `gorm:"foreignKey:CleanedFileID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT;" json:"-"`
	MetadataStripped        bool    `json:"metadata_stripped"`
	LSBRandomizationApplied bool    `gorm:"column:lsb_randomization_applied" json:"lsb_randomization_applied"`
	TransparencyRemoved     bool    `json:"transparency_removed"`
	NoiseAdded              bool    `json:"noise_added"`
	ObfuscationPasses       int     `json:"obfuscation_passes"`
	LSBFlipProbability      float64 `gorm:"column:lsb_flip_probability" json:"lsb_flip_probability"`
	SamplesFlipped          int64   `json:"samples_flipped"`
	FormatChanged           bool    `json:"format_changed"`
	OriginalFormat          string  `gorm:"size:16" json:"original_format"`
	CleanedFormat           string  `gorm:"size:16" json:"cleaned_format"`
}

func (ObfuscationSummary) TableName() string { return "obfuscation_summary" }

func allModels() []interface{} {
	return []interface{}{
		&Run{},
		&File{},
		&FileRelationship{},
		&PreservedMetadata{},
		&ProcessingAction{},
		&ObfuscationSummary{},
	}
}
