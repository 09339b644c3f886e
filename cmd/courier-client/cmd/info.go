package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/plugin-courier/internal/protocol"
	"github.com/oshokin/plugin-courier/internal/service/client"
)

// infoCmd queries the server without installing anything.
var infoCmd = &cobra.Command{
	Use:   "info [server-address]",
	Short: "Show what the server would serve without installing it.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		options, err := clientOptions(args)
		if err != nil {
			return err
		}

		response, err := client.GetUpdateInfo(ctx, options)
		if err != nil {
			return err
		}

		return printResponse(response)
	},
}

// printResponse renders the server response for operators.
func printResponse(response *protocol.UpdateResponse) error {
	summary := struct {
		Code      protocol.ResponseCode `yaml:"code"`
		Name      string                `yaml:"plugin_name"`
		Version   string                `yaml:"plugin_version,omitempty"`
		Artifacts int                   `yaml:"artifacts"`
	}{
		Code:      response.Code,
		Name:      response.PluginName,
		Version:   response.PluginVersion,
		Artifacts: len(response.RequiredFiles),
	}

	data, err := yaml.Marshal(&summary)
	if err != nil {
		return fmt.Errorf("render response: %w", err)
	}

	_, err = os.Stdout.Write(data)

	return err
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(infoCmd)
}
