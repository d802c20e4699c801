package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"faultline/internal/config"
	"faultline/internal/diagnose"
	"faultline/internal/exit"
	"faultline/internal/logger"
	"faultline/internal/mongo"
	"faultline/internal/prompt"
	"faultline/pkg/app"
)

var (
	fixLeftovers bool

	diagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Check the runtime, image and leftovers the control plane depends on",
		Run: func(cmd *cobra.Command, args []string) {
			settings, err := loadSettings()
			exit.OnErrorWithMessage(err, "Failed to load configuration")

			rt, err := app.NewRuntime(settings)
			exit.OnErrorWithMessage(err, "Failed to initialize runtime")

			ctx := context.Background()
			doctor := diagnose.New(rt, mongoPing(settings), settings.Image)
			report := doctor.Run(ctx)

			if len(report.Leftovers) > 0 && fixLeftovers {
				if prompt.Confirm("Remove the leftover sandboxes now?", true) {
					exit.OnErrorWithMessage(doctor.Fix(ctx), "Failed to remove leftovers")
					logger.Info("Leftover sandboxes removed")
				}
			}
			if !report.Healthy() {
				os.Exit(1)
			}
		},
	}
)

// mongoPing dials a short-lived session per probe so diagnose leaves no
// cached connections behind.
func mongoPing(settings config.Settings) diagnose.PingFunc {
	opts := mongo.Options{
		ConnectTimeout:         settings.ConnectTimeout,
		ServerSelectionTimeout: settings.ServerSelectionTimeout,
	}
	return func(ctx context.Context, addr string) error {
		sess, err := mongo.Connect(ctx, addr, opts)
		if err != nil {
			return err
		}
		defer sess.Close(ctx)
		return sess.Ping(ctx)
	}
}

func init() {
	diagnoseCmd.Flags().BoolVar(&fixLeftovers, "fix", false, "Offer to remove leftover sandboxes")
	rootCmd.AddCommand(diagnoseCmd)
}
