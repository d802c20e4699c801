package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"faultline/internal/exit"
	"faultline/internal/prompt"
	"faultline/pkg/app"
	"faultline/pkg/scenario"
)

var (
	keepCluster bool

	scenarioCmd = &cobra.Command{
		Use:   "scenario [file]",
		Short: "Run a scripted failure drill from a YAML file",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := pickScenario(args)
			sc, err := scenario.Load(path)
			exit.OnErrorWithMessage(err, "Invalid scenario")

			settings, err := loadSettings()
			exit.OnErrorWithMessage(err, "Failed to load configuration")

			a, err := app.New(settings)
			exit.OnErrorWithMessage(err, "Failed to initialize the control plane")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			exit.OnErrorWithMessage(a.Runtime.Ping(ctx), "Runtime not reachable")
			exit.OnErrorWithMessage(a.Runtime.EnsureNetwork(ctx, settings.Network), "Failed to prepare the shared network")

			runner := scenario.NewRunner(a.Manager, a.Simulator, a.Executor)
			runErr := runner.Run(ctx, sc, keepCluster)
			a.Pool.Close(context.Background())
			if runErr != nil {
				os.Exit(1)
			}
		},
	}
)

func pickScenario(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	matches, err := filepath.Glob("scenarios/*.yaml")
	exit.OnErrorWithMessage(err, "Failed to list scenario files")
	if len(matches) == 0 {
		exit.OnError(fmt.Errorf("no scenario files found under scenarios/"))
	}
	return prompt.Select("Choose a scenario", matches)
}

func init() {
	scenarioCmd.Flags().BoolVar(&keepCluster, "keep", false, "Keep the replica set running after the drill")
	rootCmd.AddCommand(scenarioCmd)
}
