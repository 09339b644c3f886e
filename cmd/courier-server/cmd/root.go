package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/plugin-courier/internal/config"
	"github.com/oshokin/plugin-courier/internal/logger"
	"github.com/oshokin/plugin-courier/internal/service/server"
	"github.com/oshokin/plugin-courier/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// packagesDir overrides the package-definition directory.
	packagesDir string
	// logLevel adjusts logger verbosity.
	logLevel string

	// rootCmd represents the base command for running the update server.
	rootCmd = &cobra.Command{
		Use:   "courier-server [listen-address]",
		Short: "Serve plugin updates over the control and data channels.",
		Long: `Starts the update server that resolves package definitions and answers
client update requests.

The server listens on two consecutive TCP ports: the control channel on the
configured port and the data channel on the next one. Listen address can be
provided as argument to override config (e.g., :45000, 0.0.0.0:45000).
Package definitions are reloaded wholesale on SIGHUP without a restart.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				PackagesDir:   packagesDir,
				ListenAddress: listenAddress,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the courier-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().
		StringVarP(&packagesDir, "packages", "p", "", "path to the package-definition directory")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}
