package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newHealthcheckCommand() *cobra.Command {
	var (
		timeout time.Duration
		url     string
	)

	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is ready",
		Long: `Performs a readiness check by calling the /readyz endpoint.

This command is used by Docker HEALTHCHECK to monitor container health.
It exits with code 0 if the server is ready, non-zero otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				url = fmt.Sprintf("http://localhost:%s/readyz", port)
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, cancel := context.WithTimeout(parent, timeout)
			defer cancel()

			status, err := performHealthCheck(ctx, http.DefaultClient, url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", status)
			return nil
		},
	}

	healthcheckCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	healthcheckCmd.Flags().StringVar(&url, "url", "", "readiness URL (default: http://localhost:{SERVER_PORT}/readyz)")
	return healthcheckCmd
}

// HealthResponse matches the body written by the readiness handler.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// performHealthCheck returns the reported status, or an error naming the
// first failing check.
func performHealthCheck(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", fmt.Errorf("parse health response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || health.Status != "ready" {
		for name, check := range health.Checks {
			if check.Status == "fail" {
				return health.Status, fmt.Errorf("unhealthy: %s: %s", name, check.Message)
			}
		}
		return health.Status, fmt.Errorf("unhealthy: status %d (%s)", resp.StatusCode, health.Status)
	}
	return health.Status, nil
}
