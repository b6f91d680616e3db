package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformHealthCheck(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		responseBody any
		wantStatus   string
		wantErr      string
	}{
		{
			name:         "ready server",
			statusCode:   http.StatusOK,
			responseBody: HealthResponse{Status: "ready", Checks: map[string]CheckResult{"sessions": {Status: "pass"}}},
			wantStatus:   "ready",
		},
		{
			name:       "failing dependency",
			statusCode: http.StatusServiceUnavailable,
			responseBody: HealthResponse{Status: "unavailable", Checks: map[string]CheckResult{
				"database": {Status: "fail", Message: "connection refused"},
			}},
			wantStatus: "unavailable",
			wantErr:    "unhealthy: database: connection refused",
		},
		{
			name:         "unexpected status without checks",
			statusCode:   http.StatusServiceUnavailable,
			responseBody: map[string]string{"status": "shutting_down"},
			wantStatus:   "shutting_down",
			wantErr:      "unhealthy: status 503 (shutting_down)",
		},
		{
			name:         "invalid response",
			statusCode:   http.StatusOK,
			responseBody: "not json at all",
			wantErr:      "parse health response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/readyz", r.URL.Path)
				w.WriteHeader(tt.statusCode)
				if s, ok := tt.responseBody.(string); ok {
					_, _ = w.Write([]byte(s))
					return
				}
				_ = json.NewEncoder(w).Encode(tt.responseBody)
			}))
			defer server.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			status, err := performHealthCheck(ctx, server.Client(), server.URL+"/readyz")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestPerformHealthCheck_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := performHealthCheck(context.Background(), http.DefaultClient, url+"/readyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}
