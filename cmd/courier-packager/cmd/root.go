package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/plugin-courier/internal/config"
	"github.com/oshokin/plugin-courier/internal/service/packager"
	"github.com/oshokin/plugin-courier/internal/version"
)

var (
	// packagesDir is the package-definition directory to validate.
	packagesDir string

	// rootCmd represents the base command for validating package definitions.
	rootCmd = &cobra.Command{
		Use:   "courier-packager [packages-dir]",
		Short: "Validate package definitions before publication.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			dir := packagesDir
			if len(args) > 0 {
				dir = args[0]
			}

			return packager.Run(ctx, &packager.Options{PackagesDir: dir})
		},
	}
)

// Execute runs the courier-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().
		StringVarP(&packagesDir, "packages", "p", config.DefaultPackagesDir, "path to the package-definition directory")
}
