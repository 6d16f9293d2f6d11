package output

import (
	"testing"
	"time"

	"veil/config"
	"veil/ledger"
	"veil/logger"

	otelLog "go.opentelemetry.io/otel/log"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

func init() {
	logger.Init("error")
}

func findAttr(kvs []otelLog.KeyValue, key string) (otelLog.Value, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return otelLog.Value{}, false
}

func TestResolveOtelEndpoint(t *testing.T) {
	env := map[string]string{
		"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT": "https://logs.example.test/v1/logs",
		"OTEL_EXPORTER_OTLP_ENDPOINT":      "https://fallback.example.test",
	}
	getenv := func(k string) string { return env[k] }

	cfg := &config.Config{OtelEndpoint: "  https://explicit.example.test  ", OtelFromEnv: true}
	if got := resolveOtelEndpoint(cfg, getenv); got != "https://explicit.example.test" {
		t.Fatalf("expected explicit endpoint, got %q", got)
	}
	cfg = &config.Config{OtelFromEnv: true}
	if got := resolveOtelEndpoint(cfg, getenv); got != "https://logs.example.test/v1/logs" {
		t.Fatalf("expected logs env endpoint, got %q", got)
	}
	env["OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"] = ""
	if got := resolveOtelEndpoint(cfg, getenv); got != "https://fallback.example.test" {
		t.Fatalf("expected fallback env endpoint, got %q", got)
	}
	cfg = &config.Config{OtelFromEnv: false}
	if got := resolveOtelEndpoint(cfg, getenv); got != "" {
		t.Fatalf("expected empty endpoint when env fallback disabled, got %q", got)
	}
}

func TestNewAuditExporterDisabledAndInvalid(t *testing.T) {
	exp, err := NewAuditExporter(&config.Config{})
	if err != nil || exp != nil {
		t.Fatalf("expected disabled exporter, got %v %v", exp, err)
	}
	// Calls on a nil exporter are ignored.
	exp.ExportAction(ledger.ProcessingAction{ActionType: "x"})
	exp.ExportRun("run_started", RunInfo{}, nil)
	exp.Shutdown()

	if _, err := NewAuditExporter(&config.Config{OtelEndpoint: "collector:4318"}); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestSanitizeDetailsStripsPaths(t *testing.T) {
	details := map[string]interface{}{
		"file":          "cat.png",
		"original_path": "/srv/evidence/ingest/cat.png",
		"stored": map[string]interface{}{
			"path": "/srv/evidence/originals/x.png",
			"name": "x.png",
		},
		"sha256": "abc",
	}
	clean := sanitizeDetails(details, otelPolicy{})
	if _, ok := clean["original_path"]; ok {
		t.Fatal("expected original_path to be stripped")
	}
	nested := clean["stored"].(map[string]interface{})
	if _, ok := nested["path"]; ok || nested["name"] != "x.png" {
		t.Fatalf("expected nested path stripped, got %v", nested)
	}
	if _, ok := details["original_path"]; !ok {
		t.Fatal("input must remain unchanged")
	}
	kept := sanitizeDetails(details, otelPolicy{includePaths: true})
	if kept["original_path"] == nil {
		t.Fatal("paths must be kept when enabled")
	}
}

func TestActionAttributes(t *testing.T) {
	details := map[string]interface{}{
		"file":   "cat.png",
		"size":   float64(42),
		"sha256": "abc123",
		"hashes": map[string]interface{}{"blake3": "def"},
		"stage":  "decode",
	}
	attrs := actionAttributes(details)
	if v, ok := findAttr(attrs, string(semconv.FileNameKey)); !ok || v.AsString() != "cat.png" {
		t.Fatalf("expected file name attribute, got %#v", v)
	}
	if v, ok := findAttr(attrs, string(semconv.FileSizeKey)); !ok || v.AsInt64() != 42 {
		t.Fatalf("expected file size attribute, got %#v", v)
	}
	if _, ok := findAttr(attrs, "veil.hash.blake3"); !ok {
		t.Fatal("expected extra hash attribute")
	}
	if _, ok := findAttr(attrs, string(semconv.FilePathKey)); ok {
		t.Fatal("no path attribute without a path field")
	}
}

func TestToLogValue(t *testing.T) {
	v := toLogValue(map[string]interface{}{"a": []interface{}{"x", float64(1)}, "b": true})
	if v.Kind() != otelLog.KindMap || len(v.AsMap()) != 2 {
		t.Fatalf("unexpected value: %#v", v)
	}
	if toLogValue(nil).Kind() != otelLog.KindEmpty {
		t.Fatal("nil must map to an empty value")
	}
}

func TestExporterAgainstUnreachableCollector(t *testing.T) {
	cfg := &config.Config{OtelEndpoint: "http://127.0.0.1:1/v1/logs", OtelTimeout: 200 * time.Millisecond}
	exp, err := NewAuditExporter(cfg)
	if err != nil || exp == nil {
		t.Fatalf("expected exporter, got %v %v", exp, err)
	}
	exp.ExportAction(ledger.ProcessingAction{RunID: 1, ActionType: "preserve_original", Details: `{"file":"a.jpg"}`, Timestamp: time.Now()})
	exp.ExportRun("run_finished", RunInfo{RunID: 1}, &Metrics{Total: 1})
	exp.Shutdown()
}
