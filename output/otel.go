package output

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"veil/config"
	"veil/ledger"
	"veil/logger"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// AuditExporter ships every ledger action as an OTLP log record. A nil
// exporter ignores all calls.
type AuditExporter struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
}

type otelPolicy struct {
	includePaths bool
}

// NewAuditExporter returns nil without error when no endpoint is configured.
func NewAuditExporter(cfg *config.Config) (*AuditExporter, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg, os.Getenv)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}
	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.OtelServiceName
	if serviceName == "" {
		serviceName = "veil"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)
	return &AuditExporter{
		provider: provider,
		logger:   provider.Logger("veil/audit"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
		policy:   otelPolicy{includePaths: cfg.OtelExportPaths},
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config, getenv func(string) string) string {
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *AuditExporter) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

// ExportAction emits one ledger action. Path-like detail fields are dropped
// unless path export is enabled.
func (o *AuditExporter) ExportAction(a ledger.ProcessingAction) {
	if o == nil || o.logger == nil {
		return
	}
	details, err := decodeDetails(a.Details)
	if err != nil {
		details = map[string]interface{}{"raw": a.Details}
	}
	details = sanitizeDetails(details, o.policy)

	attrs := []otelLog.KeyValue{
		otelLog.Int64("veil.run_id", int64(a.RunID)),
		otelLog.Int64("veil.file_id", int64(a.FileID)),
		otelLog.String("veil.action_type", a.ActionType),
	}
	attrs = append(attrs, actionAttributes(details)...)
	o.emit("veil.action", a.Timestamp, attrs, toLogValue(details))
}

// ExportRun emits a run lifecycle record such as run_started or
// run_finished.
func (o *AuditExporter) ExportRun(event string, run RunInfo, m *Metrics) {
	if o == nil || o.logger == nil {
		return
	}
	attrs := []otelLog.KeyValue{
		otelLog.Int64("veil.run_id", int64(run.RunID)),
		otelLog.String("veil.run_uuid", run.UUID),
		otelLog.String("veil.run_event", event),
	}
	body := map[string]interface{}{"operator": run.Operator}
	if m != nil {
		attrs = append(attrs,
			otelLog.Int("veil.metrics.total", m.Total),
			otelLog.Int("veil.metrics.successful", m.Successful),
			otelLog.Int("veil.metrics.failed", m.Failed),
			otelLog.Int("veil.metrics.skipped", m.Skipped),
		)
		body["end_time"] = m.EndTime
		body["aborted"] = m.Aborted
	}
	o.emit("veil.run", time.Now(), attrs, toLogValue(body))
}

func (o *AuditExporter) emit(eventName string, ts time.Time, attrs []otelLog.KeyValue, body otelLog.Value) {
	var record otelLog.Record
	record.SetTimestamp(ts)
	record.SetObservedTimestamp(time.Now())
	record.SetEventName(eventName)
	record.AddAttributes(otelLog.String("schema_version", SchemaVersion))
	record.AddAttributes(attrs...)
	if body.Kind() != otelLog.KindEmpty {
		record.SetBody(body)
	}
	o.logger.Emit(context.Background(), record)
}

// Shutdown flushes pending records within the configured timeout.
func (o *AuditExporter) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

// sanitizeDetails returns a copy of details without path fields, recursing
// into nested maps.
func sanitizeDetails(details map[string]interface{}, policy otelPolicy) map[string]interface{} {
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if !policy.includePaths && isPathKey(k) {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			v = sanitizeDetails(nested, policy)
		}
		out[k] = v
	}
	return out
}

func isPathKey(key string) bool {
	key = strings.ToLower(key)
	return key == "path" || strings.HasSuffix(key, "_path") || key == "output_dir"
}

func actionAttributes(details map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	if name, ok := details["file"].(string); ok && name != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FileNameKey), name))
	}
	if p, ok := details["original_path"].(string); ok && p != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), p))
	}
	if size, ok := details["size"].(float64); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), int64(size)))
	}
	if sum, ok := details["sha256"].(string); ok && sum != "" {
		kvs = append(kvs, otelLog.String("veil.hash.sha256", sum))
	}
	if hashes, ok := details["hashes"].(map[string]interface{}); ok {
		for _, algo := range sortedKeys(hashes) {
			if v, ok := hashes[algo].(string); ok && v != "" {
				kvs = append(kvs, otelLog.String("veil.hash."+algo, v))
			}
		}
	}
	if stage, ok := details["stage"].(string); ok && stage != "" {
		kvs = append(kvs, otelLog.String("veil.stage", stage))
	}
	return kvs
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case uint:
		return otelLog.Int64Value(int64(v))
	case float64:
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for _, key := range sortedKeys(v) {
			kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(v[key])})
		}
		return otelLog.MapValue(kvs...)
	case map[string]string:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for key, val := range v {
			kvs = append(kvs, otelLog.String(key, val))
		}
		return otelLog.MapValue(kvs...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.StringValue(fmt.Sprint(v))
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
