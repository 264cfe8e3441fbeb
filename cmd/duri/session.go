package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions and checkpoints",
}

// sessionBeginCmd starts a session
var sessionBeginCmd = &cobra.Command{
	Use:   "begin [label]",
	Short: "Start a new session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label := ""
		if len(args) > 0 {
			label = args[0]
		}
		var sess map[string]any
		if err := doPost("/api/v1/sessions", map[string]any{"label": label}, &sess); err != nil {
			return err
		}
		return printJSON(sess)
	},
}

// sessionEndCmd ends a session
var sessionEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doDelete("/api/v1/sessions/" + url.PathEscape(args[0])); err != nil {
			return err
		}
		fmt.Println("Session ended.")
		return nil
	},
}

// sessionListCmd lists live sessions
var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessions []map[string]any
		if err := doGet("/api/v1/sessions", &sessions); err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No live sessions.")
			return nil
		}
		return printJSON(sessions)
	},
}

var (
	checkpointSummary     string
	checkpointContext     string
	checkpointFullState   string
	checkpointDescription string
)

// sessionCheckpointCmd saves a checkpoint
var sessionCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <session-id> <name>",
	Short: "Save a checkpoint of a session",
	Long: `Save a named snapshot of a session's working state.

Examples:
  duri session checkpoint 4f7c... before-refactor --summary "about to split the parser"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"name":        args[1],
			"description": checkpointDescription,
			"summary":     checkpointSummary,
			"context":     checkpointContext,
			"full_state":  checkpointFullState,
		}
		var cp map[string]any
		if err := doPost("/api/v1/sessions/"+url.PathEscape(args[0])+"/checkpoints", req, &cp); err != nil {
			return err
		}
		return printJSON(cp)
	},
}

var resumeLevel string

// sessionResumeCmd restores a checkpoint
var sessionResumeCmd = &cobra.Command{
	Use:   "resume <checkpoint-id>",
	Short: "Restore a checkpoint",
	Long: `Restore checkpoint content at a chosen level.

Levels:
  summary  condensed summary only
  context  summary plus context fragments
  full     complete saved state`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"level": resumeLevel}
		var resp struct {
			Content    string `json:"content"`
			TokenCount int    `json:"token_count"`
		}
		if err := doPost("/api/v1/checkpoints/"+url.PathEscape(args[0])+"/resume", req, &resp); err != nil {
			return err
		}
		fmt.Print(resp.Content)
		fmt.Fprintf(cmd.ErrOrStderr(), "\n[duri] Restored ~%d tokens at level %q\n", resp.TokenCount, resumeLevel)
		return nil
	},
}

func init() {
	sessionCheckpointCmd.Flags().StringVar(&checkpointSummary, "summary", "", "condensed summary of the session state")
	sessionCheckpointCmd.Flags().StringVar(&checkpointContext, "context", "", "relevant context fragments")
	sessionCheckpointCmd.Flags().StringVar(&checkpointFullState, "full-state", "", "complete session state")
	sessionCheckpointCmd.Flags().StringVar(&checkpointDescription, "description", "", "what was happening at save time")

	sessionResumeCmd.Flags().StringVar(&resumeLevel, "level", "summary", "resume level: summary|context|full")

	sessionCmd.AddCommand(sessionBeginCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionCheckpointCmd)
	sessionCmd.AddCommand(sessionResumeCmd)
}
