package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"veil/systeminfo"
)

type reportDoc struct {
	SchemaVersion string                 `json:"schema_version"`
	Run           RunInfo                `json:"run"`
	Host          *systeminfo.Host       `json:"host"`
	Configuration map[string]interface{} `json:"configuration"`
	Files         []FileResult           `json:"files"`
	Metrics       Metrics                `json:"metrics"`
}

func readReport(t *testing.T, path string) reportDoc {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var doc reportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("report is not valid JSON: %v\n%s", err, data)
	}
	return doc
}

func TestReportLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	run := RunInfo{RunID: 7, UUID: "0d6f", Operator: "op", StartedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	host := &systeminfo.Host{OS: "linux", NumCPU: 4}
	r, err := NewReport(path, run, host, map[string]interface{}{"obfuscation_passes": 2})
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	_ = r.Add(FileResult{Input: "a.jpg", Kind: "image", Status: StatusSucceeded,
		Original: &Artifact{FileID: 1, Name: "20240102T030405Z__a.jpg", SHA256: "aa", Size: 10},
		Clean:    &Artifact{FileID: 2, Name: "20240102T030405Z__a_clean.jpg", SHA256: "bb", Size: 9}})
	_ = r.Add(FileResult{Input: "b.png", Kind: "image", Status: StatusFailed, Stage: "decode", Error: "corrupt"})
	if r.Entries() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.Entries())
	}
	if err := r.Close(Metrics{Total: 2, Successful: 1, Failed: 1}); err != nil {
		t.Fatalf("close: %v", err)
	}

	doc := readReport(t, path)
	if doc.SchemaVersion != SchemaVersion || doc.Run.RunID != 7 || doc.Host == nil || doc.Host.NumCPU != 4 {
		t.Fatalf("unexpected header: %+v", doc)
	}
	if len(doc.Files) != 2 || doc.Files[1].Stage != "decode" || doc.Files[0].Clean.SHA256 != "bb" {
		t.Fatalf("unexpected files: %+v", doc.Files)
	}
	if doc.Metrics.Total != 2 || doc.Metrics.Failed != 1 {
		t.Fatalf("unexpected metrics: %+v", doc.Metrics)
	}
}

func TestReportWithoutEntriesOrHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	r, err := NewReport(path, RunInfo{RunID: 1}, nil, nil)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	if err := r.Close(Metrics{}); err != nil {
		t.Fatalf("close: %v", err)
	}
	doc := readReport(t, path)
	if len(doc.Files) != 0 || doc.Host != nil {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), `"host"`) {
		t.Fatal("nil host must be omitted")
	}
}

func TestNilReportIsNoOp(t *testing.T) {
	var r *Report
	if err := r.Add(FileResult{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Close(Metrics{}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.Entries() != 0 {
		t.Fatal("nil report has no entries")
	}
}
