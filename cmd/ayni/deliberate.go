package main

import (
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/engine"
)

var deliberateLayers string

var deliberateCmd = &cobra.Command{
	Use:   "deliberate",
	Short: "Run a Fire Circle deliberation over the final layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		layers, err := readLayers(deliberateLayers, cmd.InOrStdin())
		if err != nil {
			return err
		}
		eng, err := engine.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.Deliberate(cmd.Context(), layers)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	deliberateCmd.Flags().StringVarP(&deliberateLayers, "layers", "f", "-", "layers JSON file, - for stdin")
}
