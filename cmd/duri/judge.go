package main

import (
	"github.com/spf13/cobra"
)

var (
	judgeRisk       float64
	judgeBenefit    float64
	judgeUrgency    float64
	judgeBottleneck float64
	judgeConfidence float64
	judgeTags       []string
)

// judgeCmd evaluates a decision against the configured rules
var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Judge a decision against the configured rules",
	Long: `Judge a decision context against the server's rules.

Examples:
  duri judge --risk 0.9 --benefit 0.1
  duri judge --risk 0.4 --urgency 0.8 --tag irreversible`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"risk":       judgeRisk,
			"benefit":    judgeBenefit,
			"urgency":    judgeUrgency,
			"bottleneck": judgeBottleneck,
			"confidence": judgeConfidence,
			"tags":       judgeTags,
		}
		var verdict map[string]any
		if err := doPost("/api/v1/judge", req, &verdict); err != nil {
			return err
		}
		return printJSON(verdict)
	},
}

var (
	consolidateThreshold float64
	consolidateDryRun    bool
)

// consolidateCmd triggers a consolidation run
var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Trigger a consolidation run",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"threshold": consolidateThreshold,
			"dry_run":   consolidateDryRun,
		}
		var result map[string]any
		if err := doPost("/api/v1/consolidate", req, &result); err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	judgeCmd.Flags().Float64Var(&judgeRisk, "risk", 0, "estimated risk in [0,1]")
	judgeCmd.Flags().Float64Var(&judgeBenefit, "benefit", 0, "expected benefit in [0,1]")
	judgeCmd.Flags().Float64Var(&judgeUrgency, "urgency", 0, "time pressure in [0,1]")
	judgeCmd.Flags().Float64Var(&judgeBottleneck, "bottleneck", 1, "weakest-link reliability of the reasoning path")
	judgeCmd.Flags().Float64Var(&judgeConfidence, "confidence", 0.5, "evidence-backed confidence of the supporting trace")
	judgeCmd.Flags().StringSliceVar(&judgeTags, "tag", nil, "decision tags (repeatable)")

	consolidateCmd.Flags().Float64Var(&consolidateThreshold, "threshold", 0, "similarity threshold (0 uses the server default)")
	consolidateCmd.Flags().BoolVar(&consolidateDryRun, "dry-run", false, "report clusters without merging")
}
