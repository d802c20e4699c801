package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"faultline/internal/config"
	"faultline/internal/logger"
)

var (
	configPath string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:     "faultline",
		Short:   "Run, break and observe replicated MongoDB clusters in sandboxes",
		Version: "0.1.0",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logger.DefaultLogLevel
			if verbose {
				level = logger.DEBUG
			}
			if err := logger.EnsureLogger(level); err != nil {
				fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			}
		},
	}
)

// Execute runs the root command; called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to the console")
}

// loadSettings reads configuration and aligns the console log level with
// it, unless --verbose already forced debug output.
func loadSettings() (config.Settings, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return settings, err
	}
	if !verbose {
		if l, lerr := logger.GetLogger(); lerr == nil {
			l.SetLevel(logger.ParseLevel(settings.LogLevel))
		}
	}
	return settings, nil
}
