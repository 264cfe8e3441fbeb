package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Record, search, and rate traces",
}

var (
	traceKind    string
	traceOutcome string
	traceTags    []string
)

// traceAddCmd records a new trace
var traceAddCmd = &cobra.Command{
	Use:   "add <title> <content>",
	Short: "Record a new trace",
	Long: `Record a new trace.

Examples:
  duri trace add "Batch database writes" "batching writes cut commit overhead by 40%"
  duri trace add --kind antipattern --outcome failure "Retry without backoff" "hammering a failing upstream made the outage worse"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"kind":    traceKind,
			"title":   args[0],
			"content": args[1],
			"outcome": traceOutcome,
			"tags":    traceTags,
		}
		var trace map[string]any
		if err := doPost("/api/v1/traces", req, &trace); err != nil {
			return err
		}
		return printJSON(trace)
	},
}

var searchLimit int

// traceSearchCmd searches traces semantically
var traceSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search traces by meaning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"query": args[0], "limit": searchLimit}
		var results []map[string]any
		if err := doPost("/api/v1/traces/search", req, &results); err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matching traces.")
			return nil
		}
		return printJSON(results)
	},
}

var (
	feedbackType     string
	feedbackNegative bool
)

// traceFeedbackCmd records a confidence signal against a trace
var traceFeedbackCmd = &cobra.Command{
	Use:   "feedback <trace-id>",
	Short: "Record feedback against a trace",
	Long: `Record a confidence signal against a trace.

Examples:
  duri trace feedback 4f7c...
  duri trace feedback --type outcome --negative 4f7c...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"type": feedbackType, "positive": !feedbackNegative}
		var trace map[string]any
		if err := doPost("/api/v1/traces/"+url.PathEscape(args[0])+"/feedback", req, &trace); err != nil {
			return err
		}
		return printJSON(trace)
	},
}

// traceGetCmd fetches one trace
var traceGetCmd = &cobra.Command{
	Use:   "get <trace-id>",
	Short: "Show a trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var trace map[string]any
		if err := doGet("/api/v1/traces/"+url.PathEscape(args[0]), &trace); err != nil {
			return err
		}
		return printJSON(trace)
	},
}

// traceDeleteCmd removes a trace
var traceDeleteCmd = &cobra.Command{
	Use:   "delete <trace-id>",
	Short: "Delete a trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doDelete("/api/v1/traces/" + url.PathEscape(args[0])); err != nil {
			return err
		}
		fmt.Println("Deleted.")
		return nil
	},
}

func init() {
	traceAddCmd.Flags().StringVar(&traceKind, "kind", "observation", "trace kind: observation|strategy|antipattern|reflection")
	traceAddCmd.Flags().StringVar(&traceOutcome, "outcome", "success", "outcome: success|failure")
	traceAddCmd.Flags().StringSliceVar(&traceTags, "tag", nil, "tags (repeatable)")

	traceSearchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")

	traceFeedbackCmd.Flags().StringVar(&feedbackType, "type", "explicit", "signal type: explicit|outcome|usage")
	traceFeedbackCmd.Flags().BoolVar(&feedbackNegative, "negative", false, "record negative feedback")

	traceCmd.AddCommand(traceAddCmd)
	traceCmd.AddCommand(traceSearchCmd)
	traceCmd.AddCommand(traceFeedbackCmd)
	traceCmd.AddCommand(traceGetCmd)
	traceCmd.AddCommand(traceDeleteCmd)
}
