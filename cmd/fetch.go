package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finscope/profiler-cli/internal/pacer"
)

var (
	fetchAccount string
	fetchForce   bool
	fetchDelay   int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <profile-url>",
	Short: "Fetch a profile through the browser gate",
	Long: `Fetch a single profile, honoring the staleness window.

A profile fetched within the TTL is returned from the store without
touching the gate; --force bypasses the window.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		profile, err := env.Pacer.Fetch(cmd.Context(), args[0], fetchAccount, fetchForce)
		if err != nil {
			return err
		}
		return printJSON(profile)
	},
}

var fetchBulkCmd = &cobra.Command{
	Use:   "bulk <profile-url>...",
	Short: "Fetch several profiles with a pacing delay between them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		delay := time.Duration(fetchDelay) * time.Second
		jobID, err := env.Pacer.FetchBulk(cmd.Context(), args, fetchAccount, delay, fetchForce)
		if err != nil {
			return err
		}
		zap.L().Info("bulk fetch started",
			zap.String("job_id", jobID.String()),
			zap.Int("profiles", len(args)))

		// The job runs in the background; wait for it so the process
		// exit carries the full outcome list.
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			view, ok := env.Pacer.Job(jobID)
			if !ok {
				return eris.Errorf("job %s disappeared", jobID)
			}
			if view.Status != pacer.JobRunning {
				return printJSON(view)
			}
			select {
			case <-cmd.Context().Done():
				env.Pacer.CancelJob(jobID)
				return waitForCancel(env, jobID)
			case <-ticker.C:
			}
		}
	},
}

// waitForCancel lets the in-flight fetch finish before exiting.
func waitForCancel(env *appEnv, jobID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		view, ok := env.Pacer.Job(jobID)
		if !ok || view.Status != pacer.JobRunning {
			if ok {
				return printJSON(view)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return eris.New("timed out waiting for job to stop")
		case <-ticker.C:
		}
	}
}

func init() {
	fetchCmd.PersistentFlags().StringVar(&fetchAccount, "account", "", "source account id to fetch with (required)")
	_ = fetchCmd.MarkPersistentFlagRequired("account")
	fetchCmd.PersistentFlags().BoolVar(&fetchForce, "force", false, "fetch even when the cached profile is fresh")
	fetchBulkCmd.Flags().IntVar(&fetchDelay, "delay", 0, "seconds between profiles (clamped to configured bounds)")
	fetchCmd.AddCommand(fetchBulkCmd)
	rootCmd.AddCommand(fetchCmd)
}
