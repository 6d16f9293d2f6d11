package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"veil/version"
)

const (
	MinFlipProbability     = 0.05
	MaxFlipProbability     = 0.30
	DefaultFlipProbability = 0.15
	MinPasses              = 1
	MaxPasses              = 5
	DefaultPasses          = 2
	MinJPEGQuality         = 70
	MaxJPEGQuality         = 95
	DefaultJPEGQuality     = 85
	DefaultNoiseLevel      = 0.4

	FormatJPEG = "JPEG"
	FormatPNG  = "PNG"

	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Security levels selectable on the command line. LevelStandard and
// LevelCustom keep the configured knobs; the other two override them.
const (
	LevelStandard = 1
	LevelHigh     = 2
	LevelMaximum  = 3
	LevelCustom   = 4
)

type Config struct {
	BaseDir            string            `json:"base_dir"`
	IngestDir          string            `json:"ingest_dir"`
	CleanDir           string            `json:"clean_dir"`
	OriginalsDir       string            `json:"originals_dir"`
	DBDir              string            `json:"db_dir"`
	LogDir             string            `json:"log_dir"`
	DBFilename         string            `json:"db_filename"`
	DBDriver           string            `json:"db_driver"`
	DBDSN              string            `json:"db_dsn"`
	Operator           string            `json:"operator"`
	SecurityLevel      int               `json:"security_level"`
	LSBFlipProbability float64           `json:"lsb_flip_probability"`
	ObfuscationPasses  int               `json:"obfuscation_passes"`
	AddNoise           bool              `json:"add_noise"`
	NoiseLevel         float64           `json:"noise_level"`
	OutputFormat       string            `json:"output_format"`
	JPEGQuality        int               `json:"jpeg_quality"`
	HashAlgorithms     []string          `json:"hash_algorithms"`
	FuzzyHash          bool              `json:"fuzzy_hash"`
	FuzzyAlgorithms    []string          `json:"fuzzy_algorithms"`
	IncludePatterns    []string          `json:"include_patterns"`
	ExcludePatterns    []string          `json:"exclude_patterns"`
	FFmpegPath         string            `json:"ffmpeg_path"`
	VideoTimeout       time.Duration     `json:"video_timeout"`
	AbortOnLedgerError bool              `json:"abort_on_ledger_error"`
	CollectHostInfo    bool              `json:"collect_host_info"`
	LogLevel           string            `json:"log_level"`
	LogToFile          bool              `json:"log_to_file"`
	ReportFile         string            `json:"report_file"`
	ConfigFile         string            `json:"config_file"`
	AssumeYes          bool              `json:"assume_yes"`
	ShowSummary        bool              `json:"-"`
	ShowLayout         bool              `json:"-"`
	OtelEndpoint       string            `json:"otel_endpoint"`
	OtelFromEnv        bool              `json:"otel_from_env"`
	OtelHeaders        map[string]string `json:"otel_headers"`
	OtelServiceName    string            `json:"otel_service_name"`
	OtelTimeout        time.Duration     `json:"otel_timeout"`
	OtelExportPaths    bool              `json:"otel_export_paths"`
	TraceFlight        bool              `json:"trace_flight"`
	TraceFlightFile    string            `json:"trace_flight_file"`
	StallThreshold     time.Duration     `json:"stall_threshold"`
}

// Defaults returns the configuration used before any environment, file or
// flag overrides are applied.
func Defaults() *Config {
	return &Config{
		BaseDir:            ".",
		IngestDir:          "ingest",
		CleanDir:           "clean",
		OriginalsDir:       "originals",
		DBDir:              "db",
		LogDir:             "logs",
		DBFilename:         "processing.db",
		DBDriver:           DriverSQLite,
		Operator:           "Anonymous",
		SecurityLevel:      LevelStandard,
		LSBFlipProbability: DefaultFlipProbability,
		ObfuscationPasses:  DefaultPasses,
		AddNoise:           true,
		NoiseLevel:         DefaultNoiseLevel,
		OutputFormat:       FormatJPEG,
		JPEGQuality:        DefaultJPEGQuality,
		HashAlgorithms:     []string{},
		FuzzyAlgorithms:    []string{},
		FFmpegPath:         "ffmpeg",
		VideoTimeout:       10 * time.Minute,
		AbortOnLedgerError: true,
		CollectHostInfo:    true,
		LogLevel:           "info",
		OtelHeaders:        map[string]string{},
		OtelServiceName:    "veil",
		OtelTimeout:        5 * time.Second,
		TraceFlightFile:    "trace-flight.out",
	}
}

func LoadConfig() (*Config, error) {
	cfg := Defaults()
	cfg.applyEnv(os.LookupEnv)

	baseDir := flag.String("base-dir", cfg.BaseDir, fmt.Sprintf("Workspace root holding the pipeline directories (default: %s).", cfg.BaseDir))
	ingestDir := flag.String("ingest-dir", cfg.IngestDir, fmt.Sprintf("Intake directory, relative to the base dir (default: %s).", cfg.IngestDir))
	cleanDir := flag.String("clean-dir", cfg.CleanDir, fmt.Sprintf("Clean output directory (default: %s).", cfg.CleanDir))
	originalsDir := flag.String("originals-dir", cfg.OriginalsDir, fmt.Sprintf("Preserved originals directory (default: %s).", cfg.OriginalsDir))
	dbDir := flag.String("db-dir", cfg.DBDir, fmt.Sprintf("Ledger directory (default: %s).", cfg.DBDir))
	logDir := flag.String("log-dir", cfg.LogDir, fmt.Sprintf("Log directory (default: %s).", cfg.LogDir))
	dbFilename := flag.String("db-file", cfg.DBFilename, fmt.Sprintf("Ledger file name for the sqlite driver (default: %s).", cfg.DBFilename))
	dbDriver := flag.String("db-driver", cfg.DBDriver, fmt.Sprintf("Ledger driver: sqlite or mysql (default: %s).", cfg.DBDriver))
	dbDSN := flag.String("db-dsn", cfg.DBDSN, "Ledger DSN for the mysql driver (default: none).")
	operator := flag.String("operator", cfg.Operator, fmt.Sprintf("Operator name recorded with each run (default: %s).", cfg.Operator))
	securityLevel := flag.Int("security-level", cfg.SecurityLevel, "Security level: 1 standard, 2 high, 3 maximum, 4 custom (default: 1).")
	flipProbability := flag.Float64("lsb-flip-probability", cfg.LSBFlipProbability, fmt.Sprintf("Per-sample LSB flip probability, clamped to %.2f-%.2f (default: %.2f).", MinFlipProbability, MaxFlipProbability, cfg.LSBFlipProbability))
	passes := flag.Int("passes", cfg.ObfuscationPasses, fmt.Sprintf("Obfuscation passes, clamped to %d-%d (default: %d).", MinPasses, MaxPasses, cfg.ObfuscationPasses))
	addNoise := flag.Bool("add-noise", cfg.AddNoise, fmt.Sprintf("Add Gaussian noise on the first pass (default: %t).", cfg.AddNoise))
	noiseLevel := flag.Float64("noise-level", cfg.NoiseLevel, fmt.Sprintf("Noise standard deviation in sample units (default: %.1f).", cfg.NoiseLevel))
	format := flag.String("format", cfg.OutputFormat, fmt.Sprintf("Clean output format: JPEG or PNG (default: %s).", cfg.OutputFormat))
	quality := flag.Int("jpeg-quality", cfg.JPEGQuality, fmt.Sprintf("JPEG quality, clamped to %d-%d (default: %d).", MinJPEGQuality, MaxJPEGQuality, cfg.JPEGQuality))
	hashes := flag.String("hashes", "", "Comma-separated extra hash algorithms recorded next to sha256: md5, sha1, sha512, blake3, xxhash (default: none).")
	fuzzyHash := flag.Bool("fuzzy-hash", cfg.FuzzyHash, fmt.Sprintf("Record fuzzy digests of originals and clean files (default: %t).", cfg.FuzzyHash))
	fuzzyAlgorithms := flag.String("fuzzy-algorithms", "", "Comma-separated list of fuzzy hash algorithms (default: tlsh when fuzzy hashing enabled).")
	includes := flag.String("include", "", "Comma-separated list of intake include patterns (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated list of intake exclude patterns (default: none).")
	ffmpegPath := flag.String("ffmpeg", cfg.FFmpegPath, fmt.Sprintf("ffmpeg executable used for video metadata stripping (default: %s).", cfg.FFmpegPath))
	videoTimeout := flag.Duration("video-timeout", cfg.VideoTimeout, "Maximum runtime of one ffmpeg invocation (default: 10m).")
	stallThreshold := flag.Duration("stall-threshold", cfg.StallThreshold, "Write diagnostics to the log dir when no file finishes within this duration (0 disables).")
	abortOnLedgerError := flag.Bool("abort-on-ledger-error", cfg.AbortOnLedgerError, fmt.Sprintf("Stop the batch when the ledger rejects a write (default: %t).", cfg.AbortOnLedgerError))
	collectHostInfo := flag.Bool("collect-host-info", cfg.CollectHostInfo, fmt.Sprintf("Attach a host descriptor to each run (default: %t).", cfg.CollectHostInfo))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	logToFile := flag.Bool("log-file", cfg.LogToFile, fmt.Sprintf("Also write JSON logs to <log-dir>/pipeline.log (default: %t).", cfg.LogToFile))
	reportFile := flag.String("report", cfg.ReportFile, "Write a JSON run report to this path (default: none).")
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	assumeYes := flag.Bool("yes", cfg.AssumeYes, "Start the batch without asking for confirmation.")
	showSummary := flag.Bool("summary", false, "Print the ledger summary and exit.")
	showLayout := flag.Bool("layout", false, "Print the workspace directory layout and exit.")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint for audit export (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: veil).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include storage paths in OTEL payloads (default: false).")
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, fmt.Sprintf("Enable flight recorder tracing (default: %t).", cfg.TraceFlight))
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("Flight recorder output file (default: %s).", cfg.TraceFlightFile))
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("veil version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-dir":
			cfg.BaseDir = *baseDir
		case "ingest-dir":
			cfg.IngestDir = *ingestDir
		case "clean-dir":
			cfg.CleanDir = *cleanDir
		case "originals-dir":
			cfg.OriginalsDir = *originalsDir
		case "db-dir":
			cfg.DBDir = *dbDir
		case "log-dir":
			cfg.LogDir = *logDir
		case "db-file":
			cfg.DBFilename = *dbFilename
		case "db-driver":
			cfg.DBDriver = *dbDriver
		case "db-dsn":
			cfg.DBDSN = *dbDSN
		case "operator":
			cfg.Operator = *operator
		case "security-level":
			cfg.SecurityLevel = *securityLevel
		case "lsb-flip-probability":
			cfg.LSBFlipProbability = *flipProbability
		case "passes":
			cfg.ObfuscationPasses = *passes
		case "add-noise":
			cfg.AddNoise = *addNoise
		case "noise-level":
			cfg.NoiseLevel = *noiseLevel
		case "format":
			cfg.OutputFormat = *format
		case "jpeg-quality":
			cfg.JPEGQuality = *quality
		case "hashes":
			cfg.HashAlgorithms = parseCommaSeparated(*hashes)
		case "fuzzy-hash":
			cfg.FuzzyHash = *fuzzyHash
		case "fuzzy-algorithms":
			cfg.FuzzyAlgorithms = parseCommaSeparated(*fuzzyAlgorithms)
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "ffmpeg":
			cfg.FFmpegPath = *ffmpegPath
		case "video-timeout":
			cfg.VideoTimeout = *videoTimeout
		case "stall-threshold":
			cfg.StallThreshold = *stallThreshold
		case "abort-on-ledger-error":
			cfg.AbortOnLedgerError = *abortOnLedgerError
		case "collect-host-info":
			cfg.CollectHostInfo = *collectHostInfo
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogToFile = *logToFile
		case "report":
			cfg.ReportFile = *reportFile
		case "yes":
			cfg.AssumeYes = *assumeYes
		case "summary":
			cfg.ShowSummary = *showSummary
		case "layout":
			cfg.ShowLayout = *showLayout
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		}
	})
	cfg.Normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func displayHelp() {
	fmt.Println("veil - auditable image and video sanitisation pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  veil [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  veil --base-dir /srv/evidence --operator \"J. Doe\" --yes")
	fmt.Println("  veil --security-level 3 --format PNG")
	fmt.Println("  veil --summary")
}

// applyEnv reads the PIPELINE_* variables once. Core packages never consult
// the environment themselves.
func (cfg *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PIPELINE_BASE_DIR", &cfg.BaseDir)
	str("PIPELINE_INGEST_DIR", &cfg.IngestDir)
	str("PIPELINE_CLEAN_DIR", &cfg.CleanDir)
	str("PIPELINE_ORIGINALS_DIR", &cfg.OriginalsDir)
	str("PIPELINE_DB_DIR", &cfg.DBDir)
	str("PIPELINE_LOG_DIR", &cfg.LogDir)
	str("PIPELINE_DB_FILENAME", &cfg.DBFilename)
	str("PIPELINE_OUTPUT_FORMAT", &cfg.OutputFormat)
	str("PIPELINE_DEFAULT_OPERATOR", &cfg.Operator)

	if v, ok := lookup("PIPELINE_LSB_FLIP_PROBABILITY"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.LSBFlipProbability = f
		}
	}
	if v, ok := lookup("PIPELINE_OBFUSCATION_PASSES"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.ObfuscationPasses = n
		}
	}
	if v, ok := lookup("PIPELINE_ADD_NOISE"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			cfg.AddNoise = true
		case "0", "false", "no", "off":
			cfg.AddNoise = false
		}
	}
	if v, ok := lookup("PIPELINE_JPEG_QUALITY"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.JPEGQuality = n
		}
	}
	if v, ok := lookup("PIPELINE_DEFAULT_SECURITY_LEVEL"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.SecurityLevel = n
		}
	}
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

// Normalize applies the security preset and clamps every numeric knob into
// its documented range. Out-of-range values are never rejected.
func (cfg *Config) Normalize() {
	cfg.SecurityLevel = clampInt(cfg.SecurityLevel, LevelStandard, LevelCustom)
	switch cfg.SecurityLevel {
	case LevelHigh:
		cfg.LSBFlipProbability = 0.20
		cfg.ObfuscationPasses = 3
	case LevelMaximum:
		cfg.LSBFlipProbability = 0.25
		cfg.ObfuscationPasses = 3
		cfg.AddNoise = true
	}

	cfg.LSBFlipProbability = ClampFlipProbability(cfg.LSBFlipProbability)
	cfg.ObfuscationPasses = ClampPasses(cfg.ObfuscationPasses)
	cfg.JPEGQuality = ClampJPEGQuality(cfg.JPEGQuality)
	if cfg.NoiseLevel <= 0 || math.IsNaN(cfg.NoiseLevel) {
		cfg.NoiseLevel = DefaultNoiseLevel
	}
	cfg.OutputFormat = NormalizeFormat(cfg.OutputFormat)

	cfg.Operator = strings.TrimSpace(cfg.Operator)
	if cfg.Operator == "" {
		cfg.Operator = "Anonymous"
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if cfg.DBDriver == "" || cfg.DBDriver == "sqlite3" {
		cfg.DBDriver = DriverSQLite
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.HashAlgorithms = normalizeAlgorithms(cfg.HashAlgorithms)
	cfg.FuzzyAlgorithms = normalizeAlgorithms(cfg.FuzzyAlgorithms)
	if cfg.FuzzyHash && len(cfg.FuzzyAlgorithms) == 0 {
		cfg.FuzzyAlgorithms = []string{"tlsh"}
	}
	if len(cfg.FuzzyAlgorithms) > 0 {
		cfg.FuzzyHash = true
	}
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.VideoTimeout < 0 {
		cfg.VideoTimeout = 0
	}
	if cfg.StallThreshold < 0 {
		cfg.StallThreshold = 0
	}
	if cfg.TraceFlight && cfg.TraceFlightFile == "" {
		cfg.TraceFlightFile = "trace-flight.out"
	}
	if cfg.OtelHeaders == nil {
		cfg.OtelHeaders = map[string]string{}
	}
}

func (cfg *Config) validate() error {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return fmt.Errorf("base directory must not be empty")
	}
	for name, dir := range map[string]string{
		"ingest-dir":    cfg.IngestDir,
		"clean-dir":     cfg.CleanDir,
		"originals-dir": cfg.OriginalsDir,
		"db-dir":        cfg.DBDir,
		"log-dir":       cfg.LogDir,
	} {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	if cfg.IngestDir == cfg.CleanDir || cfg.IngestDir == cfg.OriginalsDir || cfg.CleanDir == cfg.OriginalsDir {
		return fmt.Errorf("ingest, clean and originals directories must be distinct")
	}
	switch cfg.DBDriver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.DBFilename) == "" {
			return fmt.Errorf("db-file must not be empty for the sqlite driver")
		}
	case DriverMySQL:
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return fmt.Errorf("db-dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("invalid db driver: %s", cfg.DBDriver)
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

// Layout holds the resolved workspace directories.
type Layout struct {
	Base      string
	Ingest    string
	Clean     string
	Originals string
	DB        string
	Logs      string
}

// Layout resolves the configured directory names against BaseDir. Absolute
// directory names are kept as they are.
func (cfg *Config) Layout() Layout {
	resolve := func(dir string) string {
		if filepath.IsAbs(dir) {
			return filepath.Clean(dir)
		}
		return filepath.Join(cfg.BaseDir, dir)
	}
	return Layout{
		Base:      filepath.Clean(cfg.BaseDir),
		Ingest:    resolve(cfg.IngestDir),
		Clean:     resolve(cfg.CleanDir),
		Originals: resolve(cfg.OriginalsDir),
		DB:        resolve(cfg.DBDir),
		Logs:      resolve(cfg.LogDir),
	}
}

// DBPath is the sqlite ledger location.
func (cfg *Config) DBPath() string {
	return filepath.Join(cfg.Layout().DB, cfg.DBFilename)
}

// LogFilePath is where the rotating log sink writes when enabled.
func (cfg *Config) LogFilePath() string {
	return filepath.Join(cfg.Layout().Logs, "pipeline.log")
}

// Snapshot is the serialisable subset stored with each run.
func (cfg *Config) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"operator_name":         cfg.Operator,
		"security_level":        cfg.SecurityLevel,
		"lsb_flip_probability":  cfg.LSBFlipProbability,
		"obfuscation_passes":    cfg.ObfuscationPasses,
		"add_noise":             cfg.AddNoise,
		"noise_level":           cfg.NoiseLevel,
		"output_format":         cfg.OutputFormat,
		"jpeg_quality":          cfg.JPEGQuality,
		"hash_algorithms":       append([]string{"sha256"}, cfg.HashAlgorithms...),
		"fuzzy_algorithms":      cfg.FuzzyAlgorithms,
		"include_patterns":      cfg.IncludePatterns,
		"exclude_patterns":      cfg.ExcludePatterns,
		"video_timeout":         cfg.VideoTimeout.String(),
		"abort_on_ledger_error": cfg.AbortOnLedgerError,
		"version":               version.Version,
	}
}

func ClampFlipProbability(p float64) float64 {
	if math.IsNaN(p) {
		return DefaultFlipProbability
	}
	return math.Min(math.Max(p, MinFlipProbability), MaxFlipProbability)
}

func ClampPasses(n int) int {
	return clampInt(n, MinPasses, MaxPasses)
}

func ClampJPEGQuality(q int) int {
	return clampInt(q, MinJPEGQuality, MaxJPEGQuality)
}

// NormalizeFormat maps user input onto JPEG or PNG, defaulting to JPEG.
func NormalizeFormat(format string) string {
	switch strings.ToUpper(strings.TrimSpace(format)) {
	case "PNG":
		return FormatPNG
	default:
		return FormatJPEG
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		parts := strings.SplitN(strings.TrimSpace(item), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(parts[1])
	}
	return headers
}

func normalizeAlgorithms(items []string) []string {
	normalized := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || item == "sha256" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		normalized = append(normalized, item)
	}
	return normalized
}
