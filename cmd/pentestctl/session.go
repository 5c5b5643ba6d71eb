package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

var (
	sessionName  string
	sessionScope []string
	sessionNotes string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage engagement sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	Long: `Create an engagement session.

Examples:
  pentestctl session create --name "acme external" --scope example.com --scope 10.0.0.0/24
  pentestctl session create --name lab --notes "internal lab, no rate limits"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodPost, "/api/v1/sessions", map[string]any{
			"name":         sessionName,
			"target_scope": sessionScope,
			"notes":        sessionNotes,
		})
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodGet, "/api/v1/sessions", nil)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its run state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodGet, "/api/v1/sessions/"+args[0], nil)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := doRequest(http.MethodDelete, "/api/v1/sessions/"+args[0], nil)
		return err
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionName, "name", "", "session display name (required)")
	sessionCreateCmd.Flags().StringArrayVar(&sessionScope, "scope", nil, "authorized target (repeatable: host, *.domain, or CIDR)")
	sessionCreateCmd.Flags().StringVar(&sessionNotes, "notes", "", "free-form engagement notes")
	_ = sessionCreateCmd.MarkFlagRequired("name")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}
