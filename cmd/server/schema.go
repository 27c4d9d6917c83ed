package main

import (
	"fmt"

	"github.com/Dremora/endpoints/internal/schema"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the resource schema",
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Load and compile a schema file",
	Long:  "Load and compile a schema file, defaulting to schema.path from config, and report any errors",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.Schema.Path
		}

		reg, err := schema.Load(path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, rt := range reg.Types() {
			fmt.Fprintf(out, "%s: %d attributes, %d relationships, %d constraints\n",
				rt.Name, len(rt.Attributes), len(rt.Relationships), len(rt.Constraints))
		}
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaValidateCmd)
}
