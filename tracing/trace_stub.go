//go:build !trace

// Package tracing records runtime/trace tasks for batch runs. Without the
// trace build tag only the flight recorder is active.
package tracing

import "context"

func Start(path string) error { return nil }

func Stop() {}

func StartRun(ctx context.Context, runID uint) (context.Context, func()) {
	return ctx, func() {}
}

func Stage(ctx context.Context, name string) func() {
	return func() {}
}

func File(ctx context.Context, kind, name string) {}
