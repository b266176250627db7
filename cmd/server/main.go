package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const defaultConfigName = "RecentImages.config.xml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	logLevel   string
}

func rootCommand() *cobra.Command {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "recent-images",
		Short: "Recent images dashboard server",
		Long: "Serves a dashboard listing the most recent camera images. The list refreshes " +
			"when the image service announces a new image, and an alarm is raised when no " +
			"image arrives within the configured number of seconds.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := f.configPath
			if configPath == "" {
				path, err := defaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			return serve(cmd.Context(), configPath, f.logLevel)
		},
	}

	rootCmd.Flags().StringVarP(&f.configPath, "config", "c", "",
		"Path to the XML or YAML config file (default: "+defaultConfigName+" next to the executable)")
	rootCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCommand())
	return rootCmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "recent-images %s (built %s)\n", Version, BuildTime)
		},
	}
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), defaultConfigName), nil
}
