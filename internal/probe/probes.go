// Package probe checks the LED backend before the UI starts: is it
// reachable, what does it identify as, and how is it configured. The
// result renders into the startup summary.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Result captures everything the startup probes learned about the
// backend.
type Result struct {
	BaseURL string
	Health  HealthResult
	Info    *InfoResult
}

// HealthResult records the outcome of the health endpoint check.
type HealthResult struct {
	Reachable bool
	Status    string
	Latency   time.Duration
	Error     string
}

// InfoResult captures the backend's self-description. Nil when the
// endpoint is missing or unreachable; older backends only serve health.
type InfoResult struct {
	Name       string
	Version    string
	StripCount int
	LedCount   int
	Mode       string
}

type healthPayload struct {
	Status string `json:"status"`
}

type infoPayload struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	StripCount int    `json:"strip_count"`
	LedCount   int    `json:"led_count"`
	Mode       string `json:"mode"`
}

// Run executes the startup probes and returns a consolidated result.
func Run(ctx context.Context, pctx *Context) Result {
	return Result{
		BaseURL: pctx.BaseURL(),
		Health:  runHealthProbe(ctx, pctx),
		Info:    runInfoProbe(ctx, pctx),
	}
}

func runHealthProbe(ctx context.Context, pctx *Context) HealthResult {
	start := time.Now()
	body, err := pctx.GetJSON(ctx, "/api/v1/health")
	latency := time.Since(start)
	if err != nil {
		return HealthResult{Error: err.Error(), Latency: latency}
	}

	var payload healthPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return HealthResult{Reachable: true, Status: "unparseable", Latency: latency, Error: err.Error()}
	}
	status := payload.Status
	if status == "" {
		status = "ok"
	}
	return HealthResult{Reachable: true, Status: status, Latency: latency}
}

func runInfoProbe(ctx context.Context, pctx *Context) *InfoResult {
	body, err := pctx.GetJSON(ctx, "/api/v1/info")
	if err != nil {
		return nil
	}

	var payload infoPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return &InfoResult{
		Name:       payload.Name,
		Version:    payload.Version,
		StripCount: payload.StripCount,
		LedCount:   payload.LedCount,
		Mode:       payload.Mode,
	}
}

// Healthy reports whether the backend answered the health check.
func (r Result) Healthy() bool {
	return r.Health.Reachable && r.Health.Status != "unparseable"
}

// SummaryLines returns the human-readable bullet lines describing the
// probed backend.
func (r Result) SummaryLines() []string {
	var lines []string

	if r.Health.Reachable {
		lines = append(lines, fmt.Sprintf("health: %s (%s)", r.Health.Status, r.Health.Latency.Round(time.Millisecond)))
	} else {
		detail := r.Health.Error
		if detail == "" {
			detail = "no response"
		}
		lines = append(lines, "health: unreachable ("+detail+")")
	}

	if r.Info != nil {
		var details []string
		if r.Info.Version != "" {
			details = append(details, "version "+r.Info.Version)
		}
		if r.Info.StripCount > 0 {
			details = append(details, fmt.Sprintf("%d strip(s), %d LEDs", r.Info.StripCount, r.Info.LedCount))
		}
		if r.Info.Mode != "" {
			details = append(details, "mode "+r.Info.Mode)
		}
		name := r.Info.Name
		if name == "" {
			name = "backend"
		}
		lines = append(lines, joinSummary(name, details))
	}

	return lines
}

// FormatSummary renders a probe result into a human-readable summary.
// The backend address is always included, followed by probe outcomes
// rendered as bullet points.
func FormatSummary(result Result) string {
	header := "Backend: " + result.BaseURL
	lines := result.SummaryLines()
	if len(lines) == 0 {
		return header
	}

	for i, line := range lines {
		lines[i] = "- " + line
	}
	return strings.Join(append([]string{header}, lines...), "\n")
}

func joinSummary(title string, details []string) string {
	if len(details) == 0 {
		return title
	}
	return fmt.Sprintf("%s (%s)", title, strings.Join(details, "; "))
}
