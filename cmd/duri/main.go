// Package main implements the duri CLI for manual operations against the
// durid HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the durid HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "duri",
	Short: "CLI for durid server operations",
	Long: `duri is a command-line interface for the durid memory daemon.
It records traces, searches them semantically, queries the reasoning
graph, judges decisions, and manages session checkpoints.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9120", "durid server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(reasonCmd)
	rootCmd.AddCommand(judgeCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(consolidateCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check durid server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Status string `json:"status"`
		}
		if err := doGet("/health", &resp); err != nil {
			return err
		}
		fmt.Printf("Server Status: %s\n", resp.Status)
		fmt.Printf("Server URL: %s\n", serverURL)
		return nil
	},
}

// httpClient is shared by all commands.
var httpClient = &http.Client{Timeout: 30 * time.Second}

func doGet(path string, out any) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func doPost(path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func doDelete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, nil)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// printJSON writes indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
