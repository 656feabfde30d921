package main

import (
	"github.com/spf13/cobra"

	"github.com/finscope/profiler-cli/internal/store"
)

var (
	profilesAccount string
	profilesLimit   int
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect stored profiles and their analysis history",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently fetched profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		profiles, err := env.Store.ListRecentProfiles(cmd.Context(), store.ProfileFilter{
			AccountID: profilesAccount,
			Limit:     profilesLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(profiles)
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <facebook-id>",
	Short: "Show a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		profile, err := env.Store.GetProfile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(profile)
	},
}

var profilesAnalysesCmd = &cobra.Command{
	Use:   "analyses <facebook-id>",
	Short: "Show a profile's analysis history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Store.GetProfile(cmd.Context(), args[0]); err != nil {
			return err
		}
		analyses, err := env.Store.ListAnalyses(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(analyses)
	},
}

var profilesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate analysis counts, status breakdown, and token spend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Store.AnalysisStats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	profilesListCmd.Flags().StringVar(&profilesAccount, "account", "", "only profiles fetched by this account")
	profilesListCmd.Flags().IntVar(&profilesLimit, "limit", 50, "maximum profiles to return")
	profilesCmd.AddCommand(profilesListCmd, profilesShowCmd, profilesAnalysesCmd, profilesStatsCmd)
	rootCmd.AddCommand(profilesCmd)
}
