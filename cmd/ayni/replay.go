package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/replay"
)

var replayFixture string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded fixture and compare decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := replay.LoadFixture(replayFixture)
		if err != nil {
			return err
		}
		results, _, err := replay.Run(cmd.Context(), f, logger)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-10s  %-8s  %s\n", "Turn", "Action", "Reason")
		fmt.Fprintf(w, "%-10s+-%-8s+-%s\n", "----------", "--------", "--------------------")
		for _, r := range results {
			fmt.Fprintf(w, "%-10s  %-8s  %s\n", r.TurnID, r.Action, r.Reason)
		}

		s := replay.Summarize(results)
		fmt.Fprintf(w, "\n%d turns: %d accept, %d reject, %d error\n", s.TotalTurns, s.Accepts, s.Rejects, s.Errors)
		for key, ema := range s.Sessions {
			fmt.Fprintf(w, "session %s: trust %.4f\n", key, ema)
		}

		mismatches := replay.Check(f.Turns, results)
		for _, m := range mismatches {
			fmt.Fprintf(cmd.ErrOrStderr(), "MISMATCH %s\n", m)
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("replay: %d of %d turns did not match", len(mismatches), len(f.Turns))
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFixture, "fixture", "", "path to fixture JSON")
	_ = replayCmd.MarkFlagRequired("fixture")
}
