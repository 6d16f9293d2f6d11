//go:build trace

// Package tracing records runtime/trace tasks for batch runs. Runs are tasks,
// per-file stages are regions and each file start is a log event, so
// `go tool trace` shows where a slow file spent its time.
package tracing

import (
	"context"
	"fmt"
	"os"
	"runtime/trace"
)

var traceFile *os.File

// Start enables runtime tracing into path.
func Start(path string) error {
	var err error
	traceFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	return trace.Start(traceFile)
}

func Stop() {
	trace.Stop()
	if traceFile != nil {
		traceFile.Close()
		traceFile = nil
	}
}

// StartRun opens the task covering one batch run.
func StartRun(ctx context.Context, runID uint) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, "veil.run")
	trace.Log(ctx, "run_id", fmt.Sprint(runID))
	return ctx, task.End
}

// Stage marks one per-file stage as a region named stage/<name>.
func Stage(ctx context.Context, name string) func() {
	return trace.StartRegion(ctx, "stage/"+name).End
}

// File logs the intake file the following regions belong to.
func File(ctx context.Context, kind, name string) {
	trace.Log(ctx, "file/"+kind, name)
}
