package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var reasonCmd = &cobra.Command{
	Use:   "reason",
	Short: "Query and edit the concept graph",
}

var conceptActivationCost float64

// reasonConceptCmd adds a concept node
var reasonConceptCmd = &cobra.Command{
	Use:   "concept <id> <label>",
	Short: "Add a concept to the graph",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"id":              args[0],
			"label":           args[1],
			"activation_cost": conceptActivationCost,
		}
		var concept map[string]any
		if err := doPost("/api/v1/reason/concepts", req, &concept); err != nil {
			return err
		}
		return printJSON(concept)
	},
}

var relationLabel string

// reasonRelateCmd adds a weighted relation
var reasonRelateCmd = &cobra.Command{
	Use:   "relate <from> <to> <weight>",
	Short: "Add a directed weighted relation",
	Long: `Add a directed weighted relation between two concepts.

Weight in (0,1] expresses how reliable the connection is.

Examples:
  duri reason relate slow-queries missing-index 0.9
  duri reason relate --label fixed-by missing-index add-index 0.8`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		weight, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return err
		}
		req := map[string]any{
			"from":   args[0],
			"to":     args[1],
			"label":  relationLabel,
			"weight": weight,
		}
		var relation map[string]any
		if err := doPost("/api/v1/reason/relations", req, &relation); err != nil {
			return err
		}
		return printJSON(relation)
	},
}

// reasonLandmarkCmd picks the heuristic landmark
var reasonLandmarkCmd = &cobra.Command{
	Use:   "landmark <concept-id>",
	Short: "Set the search heuristic landmark",
	Long: `Set the concept used as the path-search heuristic landmark.

Pick a well-connected concept; distances from it speed up path queries
across the graph. Graph edits invalidate the landmark until it is set
again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doPost("/api/v1/reason/landmark", map[string]any{"id": args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("Landmark set to %q.\n", args[0])
		return nil
	},
}

// reasonPathCmd finds the most reliable path
var reasonPathCmd = &cobra.Command{
	Use:   "path <start> <goal>",
	Short: "Find the most reliable path between concepts",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"start": args[0], "goal": args[1]}
		var result map[string]any
		if err := doPost("/api/v1/reason/path", req, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

// reasonValidateCmd checks a proposed path
var reasonValidateCmd = &cobra.Command{
	Use:   "validate <node> <node> [node...]",
	Short: "Validate a proposed reasoning path",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"nodes": args}
		var validation map[string]any
		if err := doPost("/api/v1/reason/validate", req, &validation); err != nil {
			return err
		}
		return printJSON(validation)
	},
}

// reasonStatsCmd shows graph size
var reasonStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show concept graph statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats map[string]any
		if err := doGet("/api/v1/reason/stats", &stats); err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	reasonConceptCmd.Flags().Float64Var(&conceptActivationCost, "activation-cost", 0, "cost added when a path enters this concept")
	reasonRelateCmd.Flags().StringVar(&relationLabel, "label", "relates", "relation label")

	reasonCmd.AddCommand(reasonConceptCmd)
	reasonCmd.AddCommand(reasonRelateCmd)
	reasonCmd.AddCommand(reasonLandmarkCmd)
	reasonCmd.AddCommand(reasonPathCmd)
	reasonCmd.AddCommand(reasonValidateCmd)
	reasonCmd.AddCommand(reasonStatsCmd)
}
