// Package main implements rmctl, the roadmapd command-line tool. It runs
// extraction locally against a roadmapd database and talks to a running
// server for health checks.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the roadmapd HTTP server
	serverURL string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rmctl",
		Short: "CLI for roadmapd",
		Long: `rmctl runs entity extraction against a local roadmapd database,
inspects organization world models and validates pattern files.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "roadmapd server URL")

	root.AddCommand(newExtractCmd())
	root.AddCommand(newWorldModelCmd())
	root.AddCommand(newPatternsCmd())
	root.AddCommand(healthCmd)
	root.AddCommand(versionCmd)
	return root
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check roadmapd server health",
	Long: `Check the health status of the roadmapd HTTP server.

Examples:
  # Check health
  rmctl health

  # Check health on a different server
  rmctl health --server http://localhost:8080`,
	RunE: runHealth,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rmctl version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rmctl %s\n", version)
	},
}

func runHealth(cmd *cobra.Command, _ []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", healthResp.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
