package main

import (
	"context"

	"github.com/glowdeck/stripsync/internal/probe"
)

// probeBackend runs the startup probe suite against the backend and
// returns the structured result together with the formatted summary
// that should be shown before the UI takes over the terminal.
func probeBackend(ctx context.Context, baseURL string) (probe.Result, string) {
	result := probe.Run(ctx, probe.NewContext(baseURL))
	return result, probe.FormatSummary(result)
}
