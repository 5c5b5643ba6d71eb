package main

import (
	"bufio"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	runObjective    string
	runMaxSteps     int
	runApprovalMode string
	runPlaybookID   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start, stop, and inspect runs",
}

var runStartCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Start a run",
	Long: `Start an autonomous run in a session.

Examples:
  pentestctl run start <id> --objective "assess example.com" --approval manual
  pentestctl run start <id> --objective "recon sweep" --playbook recon --approval auto`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodPost, "/api/v1/sessions/"+args[0]+"/runs", map[string]any{
			"objective":     runObjective,
			"max_steps":     runMaxSteps,
			"approval_mode": runApprovalMode,
			"playbook_id":   runPlaybookID,
		})
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var runStopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop the session's active run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := doRequest(http.MethodDelete, "/api/v1/sessions/"+args[0]+"/runs", nil)
		return err
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the session's run status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := doRequest(http.MethodGet, "/api/v1/sessions/"+args[0]+"/runs", nil)
		if err != nil {
			return err
		}
		return printJSON(body)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <session-id> <step-id>",
	Short: "Approve a pending step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(args[0], args[1], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <session-id> <step-id>",
	Short: "Reject a pending step (ends the run)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(args[0], args[1], false)
	},
}

var injectCmd = &cobra.Command{
	Use:   "inject <session-id> <message>",
	Short: "Queue an operator message for the active run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := doRequest(http.MethodPost, "/api/v1/sessions/"+args[0]+"/messages", map[string]any{
			"message": args[1],
		})
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Stream a session's run events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := serverURL + "/api/v1/sessions/" + args[0] + "/events"
		client := &http.Client{Timeout: 0} // the stream stays open
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("connect to event stream: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || line[0] == ':' {
				continue
			}
			fmt.Printf("%s %s\n", time.Now().Format(time.TimeOnly), line)
		}
		return scanner.Err()
	},
}

func resolveApproval(sessionID, stepID string, approved bool) error {
	_, err := doRequest(http.MethodPost,
		"/api/v1/sessions/"+sessionID+"/approvals/"+stepID,
		map[string]any{"approved": approved})
	return err
}

func init() {
	runStartCmd.Flags().StringVar(&runObjective, "objective", "", "run objective (required)")
	runStartCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "step budget for freeform runs (0 = server default)")
	runStartCmd.Flags().StringVar(&runApprovalMode, "approval", "manual", "approval mode: auto or manual")
	runStartCmd.Flags().StringVar(&runPlaybookID, "playbook", "", "playbook ID for playbook mode")
	_ = runStartCmd.MarkFlagRequired("objective")

	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runStopCmd)
	runCmd.AddCommand(runStatusCmd)
}
