package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, health, info http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if health != nil {
		mux.HandleFunc("/api/v1/health", health)
	}
	if info != nil {
		mux.HandleFunc("/api/v1/info", info)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRunAgainstHealthyBackend(t *testing.T) {
	server := newBackend(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"ok"}`))
		},
		func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"name":"simboard","version":"0.3.0","strip_count":3,"led_count":98,"mode":"AmbientLight"}`))
		},
	)

	result := Run(context.Background(), NewContext(server.URL))

	require.True(t, result.Healthy())
	require.Equal(t, "ok", result.Health.Status)
	require.NotNil(t, result.Info)
	require.Equal(t, "simboard", result.Info.Name)
	require.Equal(t, 98, result.Info.LedCount)
	require.Equal(t, "AmbientLight", result.Info.Mode)
}

func TestRunWithoutInfoEndpoint(t *testing.T) {
	server := newBackend(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"ok"}`))
		},
		nil,
	)

	result := Run(context.Background(), NewContext(server.URL))

	require.True(t, result.Healthy(), "older backends only serve health")
	require.Nil(t, result.Info)
}

func TestRunAgainstDeadBackend(t *testing.T) {
	server := newBackend(t, nil, nil)
	url := server.URL
	server.Close()

	result := Run(context.Background(), NewContext(url))

	require.False(t, result.Healthy())
	require.NotEmpty(t, result.Health.Error)
}

func TestHealthProbeReportsServerError(t *testing.T) {
	server := newBackend(t,
		func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		nil,
	)

	result := Run(context.Background(), NewContext(server.URL))
	require.False(t, result.Healthy())
}

func TestFormatSummaryIncludesBackendAndBullets(t *testing.T) {
	server := newBackend(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"status":"ok"}`))
		},
		func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"name":"simboard","version":"0.3.0"}`))
		},
	)

	summary := FormatSummary(Run(context.Background(), NewContext(server.URL)))

	require.True(t, strings.HasPrefix(summary, "Backend: "+server.URL), summary)
	require.Contains(t, summary, "- health: ok")
	require.Contains(t, summary, "simboard (version 0.3.0)")
}

func TestFormatSummaryUnreachable(t *testing.T) {
	result := Result{
		BaseURL: "http://127.0.0.1:1",
		Health:  HealthResult{Error: "connection refused"},
	}
	require.Contains(t, FormatSummary(result), "health: unreachable (connection refused)")
}
