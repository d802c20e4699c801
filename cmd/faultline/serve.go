package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"faultline/internal/exit"
	"faultline/pkg/app"
)

var (
	listenAddr  string
	runtimeName string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane HTTP and WebSocket server",
		Run: func(cmd *cobra.Command, args []string) {
			settings, err := loadSettings()
			exit.OnErrorWithMessage(err, "Failed to load configuration")
			if listenAddr != "" {
				settings.ListenAddr = listenAddr
			}
			if runtimeName != "" {
				settings.Runtime = runtimeName
			}
			exit.OnErrorWithMessage(settings.Validate(), "Invalid configuration")

			a, err := app.New(settings)
			exit.OnErrorWithMessage(err, "Failed to initialize the control plane")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			exit.OnError(a.Run(ctx))
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides configuration)")
	serveCmd.Flags().StringVar(&runtimeName, "runtime", "", "Sandbox runtime, docker or kubernetes (overrides configuration)")
	rootCmd.AddCommand(serveCmd)
}
