package main

import (
	"github.com/spf13/cobra"

	"github.com/AltairaLabs/callkit/config"
	"github.com/AltairaLabs/callkit/logger"
	"github.com/AltairaLabs/callkit/version"
)

const (
	flagConfig  = "config"
	flagEnvFile = "env-file"
	flagVerbose = "verbose"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "callagent",
		Short:         "Voice agent that phones a business and collects facts about it",
		Version:       version.Get().Version,
		SilenceUsage:  true, // Don't print usage on error
		SilenceErrors: false,
		Long: `callagent answers Twilio Media Streams, holds a short spoken conversation
with the business on the line, and records the fields it was asked to collect.

Configuration is read from built-in defaults, an optional YAML file, a .env
file, CALLKIT_* environment variables and the flags below, in that order.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if cmd.Flags().Changed(flagVerbose) {
				verbose, _ := cmd.Flags().GetBool(flagVerbose)
				logger.SetVerbose(verbose)
			}
		},
	}
	root.SetVersionTemplate(version.Get().String() + "\n")

	pf := root.PersistentFlags()
	pf.String(flagConfig, "", "YAML configuration file")
	pf.String(flagEnvFile, "", "env file to load (default .env if present)")
	pf.BoolP(flagVerbose, "v", false, "enable debug logging")
	config.RegisterFlags(pf)

	root.AddCommand(newServeCmd(), newFieldsCmd(), newConfigCmd(), newVersionCmd())
	return root
}

// loadConfig reads the configuration selected by the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString(flagConfig)
	envFile, _ := cmd.Flags().GetString(flagEnvFile)
	return config.Load(config.LoadOptions{
		File:    file,
		EnvFile: envFile,
		Flags:   cmd.Flags(),
	})
}
