package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var retryLoop bool

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-enrich partial and unenriched leads whose backoff has elapsed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "retry")
		if err != nil {
			return err
		}
		defer env.Close()

		if retryLoop {
			env.Scheduler.Run(ctx)
			return nil
		}

		report, err := env.Scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("retry pass complete",
			zap.Int("selected", report.Selected),
			zap.Int("recovered", report.Recovered),
			zap.Int("requeued", report.Requeued),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
		)
		return nil
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryLoop, "loop", false, "keep running on the configured interval")
	rootCmd.AddCommand(retryCmd)
}
