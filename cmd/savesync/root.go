package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"savesync/internal/config"
	"savesync/internal/format"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool
	var outputName string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "savesync",
		Short:         "Savesync stores and serves one save file per user and game",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			if outputName != "" {
				formatter, err := format.ForName(outputName)
				if err != nil {
					return err
				}
				outputFormatter = formatter
				jsonOutput = true
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVarP(&outputName, "output", "o", "", "structured output format: json, json-pretty or yaml")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newTokenCmd(cfg, &jsonOutput),
		newConfigCmd(cfg),
		newPingCmd(cfg, &jsonOutput),
		newMetaCmd(cfg, &jsonOutput),
		newPullCmd(cfg, &jsonOutput),
		newPushCmd(cfg, &jsonOutput),
	)

	return cmd
}
