// Package main implements the pentestctl CLI for operating a pentestd
// daemon: managing sessions, starting and steering runs, and deciding
// approvals.
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
	// serverURL is the base URL for the pentestd HTTP server
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
	Use:   "pentestctl",
	Short: "CLI for pentestd server operations",
	Long: `pentestctl is a command-line interface for a running pentestd daemon.
It manages engagement sessions, starts and stops autonomous runs, decides
pending approvals, and streams run events.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8840", "pentestd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(playbooksCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(findingsCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <session-id> <message>",
	Short: "Send a chat message to the agent and print its reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodPost, "/api/v1/sessions/"+args[0]+"/chat", map[string]any{
			"message": args[1],
		})
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check pentestd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodGet, "/health", nil)
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var playbooksCmd = &cobra.Command{
	Use:   "playbooks",
	Short: "List available playbooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodGet, "/api/v1/playbooks", nil)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var findingsCmd = &cobra.Command{
	Use:   "findings <session-id>",
	Short: "List a session's findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodGet, "/api/v1/sessions/"+args[0]+"/findings", nil)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

// doRequest performs one JSON request against the daemon and returns
// the response body. Non-2xx statuses are returned as errors carrying
// the server's message.
func doRequest(method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

// printJSON re-indents a JSON body for the terminal.
func printJSON(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
