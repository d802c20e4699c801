package main

import (
	"context"

	"github.com/spf13/cobra"

	"faultline/internal/exit"
	"faultline/internal/logger"
	"faultline/internal/prompt"
	"faultline/pkg/app"
)

var (
	assumeYes bool

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove every sandbox and network the control plane created",
		Run: func(cmd *cobra.Command, args []string) {
			settings, err := loadSettings()
			exit.OnErrorWithMessage(err, "Failed to load configuration")

			if !assumeYes && !prompt.Confirm("Remove all faultline sandboxes and networks?", false) {
				logger.Info("Cleanup aborted")
				return
			}

			rt, err := app.NewRuntime(settings)
			exit.OnErrorWithMessage(err, "Failed to initialize runtime")

			ctx := context.Background()
			exit.OnErrorWithMessage(rt.Ping(ctx), "Runtime not reachable")
			exit.OnErrorWithMessage(rt.CleanupAll(ctx), "Cleanup failed")
			logger.Info("All sandboxes removed")
		},
	}
)

func init() {
	cleanupCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(cleanupCmd)
}
