package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/plugin-courier/internal/config"
	"github.com/oshokin/plugin-courier/internal/service/client"
	"github.com/oshokin/plugin-courier/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// pluginName of the package to check.
	pluginName string
	// pluginVersion currently installed on this machine.
	pluginVersion string
	// allowBeta opts in to beta releases.
	allowBeta bool
	// markerPath of the recovery marker file.
	markerPath string
	// primaryExtension of artifacts that are always re-fetched on recovery.
	primaryExtension string
	// timeout bounds every network operation.
	timeout time.Duration

	// rootCmd represents the base command for checking and installing updates.
	rootCmd = &cobra.Command{
		Use:   "courier-client [server-address]",
		Short: "Check the update server and install a pending plugin update.",
		Long: `Queries the update server for the named plugin and, when a newer version
is available, downloads and installs every artifact it requires.

Server address can be provided as argument or loaded from configuration file.
An interrupted install leaves a recovery marker and resumes on the next run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options, err := clientOptions(args)
			if err != nil {
				return err
			}

			if client.CheckUpdate(ctx, options) {
				fmt.Fprintln(os.Stdout, "update installed")
			} else {
				fmt.Fprintln(os.Stdout, "no update applied")
			}

			return nil
		},
	}
)

// clientOptions resolves the entry-point options from flags and config.
func clientOptions(args []string) (*client.Options, error) {
	var serverAddress string
	if len(args) > 0 {
		serverAddress = args[0]
	}

	if serverAddress == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}

		serverAddress = cfg.ServerAddress
	}

	return &client.Options{
		ServerAddress:    serverAddress,
		PluginName:       pluginName,
		PluginVersion:    pluginVersion,
		AllowBeta:        allowBeta,
		Timeout:          timeout,
		MarkerPath:       markerPath,
		PrimaryExtension: primaryExtension,
	}, nil
}

// Execute runs the courier-client CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup shared flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVarP(&pluginName, "plugin", "p", "", "name of the plugin to check")
	flags.StringVarP(&pluginVersion, "plugin-version", "V", "", "currently installed plugin version")
	flags.BoolVarP(&allowBeta, "beta", "b", false, "accept beta releases")
	flags.StringVarP(&markerPath, "marker", "m", config.DefaultMarkerFilename, "path to the recovery marker file")
	flags.StringVarP(&primaryExtension, "primary-extension", "e", config.DefaultPrimaryExtension,
		"file extension that is always re-fetched during recovery")
	flags.DurationVarP(&timeout, "timeout", "t", config.DefaultTimeout, "network operation timeout")

	if err := rootCmd.MarkPersistentFlagRequired("plugin"); err != nil {
		panic(err)
	}

	if err := rootCmd.MarkPersistentFlagRequired("plugin-version"); err != nil {
		panic(err)
	}
}
