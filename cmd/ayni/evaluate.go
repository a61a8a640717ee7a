package main

import (
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/engine"
)

var (
	evalLayers  string
	evalSession string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the evaluation pipeline over one exchange",
	Long: `Reads a JSON array of layers ({"role","content","sequence_index"}) and prints the
outcome: decision, terminal stage, ayni balance, exchange type, and violations.
With --session the session's trust trajectory is consulted and updated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		layers, err := readLayers(evalLayers, cmd.InOrStdin())
		if err != nil {
			return err
		}
		eng, err := engine.Build(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		out, err := eng.Evaluate(cmd.Context(), layers, evalSession)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	evaluateCmd.Flags().StringVarP(&evalLayers, "layers", "f", "-", "layers JSON file, - for stdin")
	evaluateCmd.Flags().StringVarP(&evalSession, "session", "s", "", "session key for trust tracking")
}
