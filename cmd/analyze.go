package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	analyzeForce bool
	analyzeLimit int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <facebook-id>...",
	Short: "Classify stored profiles with Claude",
	Long: `Classify one or more stored profiles.

A single id reuses the stored analysis unless --force is set. Several
ids are grouped into batched model calls and the per-id outcome report
is printed when the batch completes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			analysis, err := env.Analyzer.AnalyzeOne(cmd.Context(), args[0], analyzeForce)
			if err != nil {
				return err
			}
			return printJSON(analysis)
		}

		result, err := env.Analyzer.AnalyzeBatch(cmd.Context(), args, analyzeForce)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var analyzeDueCmd = &cobra.Command{
	Use:   "due",
	Short: "Re-analyze profiles whose analysis is missing, weak, or stale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		candidates, err := env.Selector.Select(cmd.Context(), analyzeLimit)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			zap.L().Info("no profiles due for analysis")
			return nil
		}

		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.FacebookID
			zap.L().Debug("candidate selected",
				zap.String("facebook_id", c.FacebookID),
				zap.String("reason", string(c.Reason)))
		}

		result, err := env.Analyzer.AnalyzeBatch(cmd.Context(), ids, true)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	analyzeCmd.PersistentFlags().BoolVar(&analyzeForce, "force", false, "re-run classification even when a stored analysis exists")
	analyzeDueCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "cap on selected profiles (0 means no cap)")
	analyzeCmd.AddCommand(analyzeDueCmd)
	rootCmd.AddCommand(analyzeCmd)
}
