package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func resetFlags(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	oldFlag := flag.CommandLine
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldFlag
	})
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	os.Args = append([]string{"cmd"}, args...)
}

func TestParseCommaSeparated(t *testing.T) {
	res := parseCommaSeparated("a,b , c,")
	if len(res) != 3 || res[1] != "b" {
		t.Fatalf("unexpected result: %v", res)
	}
	if res := parseCommaSeparated(""); len(res) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestClampBounds(t *testing.T) {
	if got := ClampFlipProbability(0.99); got != 0.30 {
		t.Fatalf("expected 0.30, got %v", got)
	}
	if got := ClampFlipProbability(0.0); got != 0.05 {
		t.Fatalf("expected 0.05, got %v", got)
	}
	if got := ClampFlipProbability(0.2); got != 0.2 {
		t.Fatalf("expected in-range value kept, got %v", got)
	}
	if got := ClampPasses(10); got != 5 {
		t.Fatalf("expected 5 passes, got %d", got)
	}
	if got := ClampPasses(0); got != 1 {
		t.Fatalf("expected 1 pass, got %d", got)
	}
	if got := ClampJPEGQuality(200); got != 95 {
		t.Fatalf("expected quality 95, got %d", got)
	}
	if got := ClampJPEGQuality(10); got != 70 {
		t.Fatalf("expected quality 70, got %d", got)
	}
}

func TestNormalizeClampsInsteadOfRejecting(t *testing.T) {
	cfg := Defaults()
	cfg.SecurityLevel = LevelCustom
	cfg.LSBFlipProbability = 0.99
	cfg.ObfuscationPasses = 10
	cfg.JPEGQuality = 200
	cfg.OutputFormat = "gif"
	cfg.Operator = "  "
	cfg.StallThreshold = -time.Second
	cfg.Normalize()
	if err := cfg.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LSBFlipProbability != 0.30 || cfg.ObfuscationPasses != 5 || cfg.JPEGQuality != 95 {
		t.Fatalf("unexpected clamped values: %+v", cfg)
	}
	if cfg.OutputFormat != FormatJPEG {
		t.Fatalf("expected JPEG fallback, got %s", cfg.OutputFormat)
	}
	if cfg.Operator != "Anonymous" {
		t.Fatalf("expected default operator, got %q", cfg.Operator)
	}
	if cfg.StallThreshold != 0 {
		t.Fatalf("negative stall threshold should disable the watchdog, got %s", cfg.StallThreshold)
	}
}

func TestSecurityPresets(t *testing.T) {
	cfg := Defaults()
	cfg.SecurityLevel = LevelHigh
	cfg.Normalize()
	if cfg.LSBFlipProbability != 0.20 || cfg.ObfuscationPasses != 3 {
		t.Fatalf("unexpected high preset: %v/%d", cfg.LSBFlipProbability, cfg.ObfuscationPasses)
	}

	cfg = Defaults()
	cfg.SecurityLevel = LevelMaximum
	cfg.AddNoise = false
	cfg.Normalize()
	if cfg.LSBFlipProbability != 0.25 || cfg.ObfuscationPasses != 3 || !cfg.AddNoise {
		t.Fatalf("unexpected maximum preset: %+v", cfg)
	}

	cfg = Defaults()
	cfg.SecurityLevel = 9
	cfg.LSBFlipProbability = 0.1
	cfg.Normalize()
	if cfg.SecurityLevel != LevelCustom || cfg.LSBFlipProbability != 0.1 {
		t.Fatalf("expected custom level keeping knobs, got %+v", cfg)
	}
}

func TestApplyEnvReadsPipelineVariables(t *testing.T) {
	env := map[string]string{
		"PIPELINE_BASE_DIR":             "/srv/evidence",
		"PIPELINE_LSB_FLIP_PROBABILITY": "0.99",
		"PIPELINE_OBFUSCATION_PASSES":   "4",
		"PIPELINE_ADD_NOISE":            "false",
		"PIPELINE_OUTPUT_FORMAT":        "png",
		"PIPELINE_JPEG_QUALITY":         "not-a-number",
		"PIPELINE_DEFAULT_OPERATOR":     "analyst",
	}
	cfg := Defaults()
	cfg.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	cfg.Normalize()
	if cfg.BaseDir != "/srv/evidence" || cfg.Operator != "analyst" {
		t.Fatalf("unexpected string overrides: %+v", cfg)
	}
	if cfg.LSBFlipProbability != 0.30 || cfg.ObfuscationPasses != 4 || cfg.AddNoise {
		t.Fatalf("unexpected numeric overrides: %+v", cfg)
	}
	if cfg.OutputFormat != FormatPNG {
		t.Fatalf("expected PNG, got %s", cfg.OutputFormat)
	}
	if cfg.JPEGQuality != DefaultJPEGQuality {
		t.Fatalf("expected unparsable quality to be ignored, got %d", cfg.JPEGQuality)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmp, err := os.CreateTemp("", "cfg*.json")
	if err != nil {
		t.Fatalf("temp: %v", err)
	}
	tmp.WriteString(`{"operator":"desk-7","obfuscation_passes":3,"output_format":"PNG"}`)
	tmp.Close()
	defer os.Remove(tmp.Name())

	cfg := Defaults()
	if err := cfg.loadFromFile(tmp.Name()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Operator != "desk-7" || cfg.ObfuscationPasses != 3 || cfg.OutputFormat != "PNG" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.DBDriver = "postgres"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected invalid driver error")
	}
	cfg = Defaults()
	cfg.DBDriver = DriverMySQL
	if err := cfg.validate(); err == nil {
		t.Fatal("expected missing dsn error")
	}
	cfg = Defaults()
	cfg.CleanDir = cfg.IngestDir
	if err := cfg.validate(); err == nil {
		t.Fatal("expected distinct directory error")
	}
	cfg = Defaults()
	cfg.LogLevel = "bad"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected invalid log level")
	}
	cfg = Defaults()
	cfg.OtelEndpoint = "collector:4318"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected scheme error")
	}
	if err := Defaults().validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	base := t.TempDir()
	resetFlags(t, "--base-dir", base, "--security-level", "4", "--lsb-flip-probability", "0.99",
		"--passes", "10", "--jpeg-quality", "200", "--format", "png", "--video-timeout", "30s", "--fuzzy-hash")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LSBFlipProbability != 0.30 || cfg.ObfuscationPasses != 5 || cfg.JPEGQuality != 95 {
		t.Fatalf("expected clamped values, got %+v", cfg)
	}
	if cfg.OutputFormat != FormatPNG || cfg.VideoTimeout != 30*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.FuzzyAlgorithms) != 1 || cfg.FuzzyAlgorithms[0] != "tlsh" {
		t.Fatalf("expected tlsh default, got %v", cfg.FuzzyAlgorithms)
	}
	if cfg.DBPath() != filepath.Join(base, "db", "processing.db") {
		t.Fatalf("unexpected db path: %s", cfg.DBPath())
	}
}

func TestLayoutKeepsAbsoluteDirectories(t *testing.T) {
	cfg := Defaults()
	cfg.BaseDir = "/data"
	cfg.CleanDir = "/mnt/clean"
	layout := cfg.Layout()
	if layout.Ingest != filepath.Join("/data", "ingest") {
		t.Fatalf("unexpected ingest dir: %s", layout.Ingest)
	}
	if layout.Clean != "/mnt/clean" {
		t.Fatalf("unexpected clean dir: %s", layout.Clean)
	}
}

func TestSnapshotAlwaysListsSHA256(t *testing.T) {
	cfg := Defaults()
	cfg.HashAlgorithms = []string{"blake3"}
	snap := cfg.Snapshot()
	algos, ok := snap["hash_algorithms"].([]string)
	if !ok || len(algos) != 2 || algos[0] != "sha256" {
		t.Fatalf("unexpected hash algorithms: %v", snap["hash_algorithms"])
	}
}
