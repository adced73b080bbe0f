package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "Print the active field catalogue as YAML",
		Long: `Prints the field catalogue the agent will collect, after loading the
catalogue file (--catalogue) or falling back to the built-in gym catalogue.
The output is a valid catalogue file and can be edited and passed back in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cat, err := cfg.Catalogue()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cat)
			if err != nil {
				return fmt.Errorf("encode catalogue: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
