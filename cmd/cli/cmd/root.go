package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFormat string
	account      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "torpedo",
	Short: "Torpedo CLI - rent and offer compute capacity",
	Long: `Torpedo is a peer-to-peer marketplace for compute capacity.

This CLI tool allows you to:
- Register provider capacity records
- Inspect providers and pool totals
- Quote resource requests
- Create sessions and drive the connection handoff`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("TORPEDO_URL", "http://localhost:8080"), "Torpedo server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&account, "account", "a", os.Getenv("TORPEDO_ACCOUNT"), "Account to act as (X-Account header)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// apiDo performs a request against the server, attaching the acting account.
func apiDo(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("X-Account", account)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return resp, nil
}

// decodeOrError decodes a 2xx response into out, or returns the server's
// error body as an error.
func decodeOrError(resp *http.Response, wantStatus int, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func requireAccount() error {
	if account == "" {
		return fmt.Errorf("an account is required: pass --account or set TORPEDO_ACCOUNT")
	}
	return nil
}
