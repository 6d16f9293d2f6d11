package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerFunctions(t *testing.T) {
	Init("invalid") // should default to info
	if log == nil {
		t.Fatal("log not initialized")
	}
	if Level() != "info" {
		t.Fatalf("expected info level, got %s", Level())
	}
	// Avoid os.Exit on Fatal
	log.ExitFunc = func(int) {}

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
	Debugf("%s", "debugf")
	Infof("%s", "infof")
	Warnf("%s", "warnf")
	Errorf("%s", "errorf")
	Fatal("fatal")
	Fatalf("%s", "fatalf")
}

func TestInitWithFileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pipeline.log")
	if err := InitWithFile("debug", FileSink{Path: path}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer Init("error")

	WithFields(map[string]interface{}{"run_id": 7}).Info("run started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"msg":"run started"`) || !strings.Contains(line, `"run_id":7`) {
		t.Fatalf("unexpected log line: %s", line)
	}
}
