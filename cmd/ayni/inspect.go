package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/record"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/session"
)

var (
	inspectDB      string
	inspectLast    int
	inspectSession string
	inspectRounds  string
	inspectJSON    bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List stored evaluations, sessions, or deliberation rounds",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := record.OpenSQLite(inspectDB)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()

		ctx, w := cmd.Context(), cmd.OutOrStdout()
		if inspectRounds != "" {
			rounds, err := store.Rounds(ctx, inspectRounds)
			if err != nil {
				return err
			}
			if inspectJSON {
				return printJSON(w, rounds)
			}
			printRounds(w, rounds)
			return nil
		}

		rows, err := store.RecentEvaluations(ctx, inspectSession, inspectLast)
		if err != nil {
			return err
		}
		sessions, err := store.Sessions(ctx, inspectLast)
		if err != nil {
			return err
		}
		if inspectJSON {
			return printJSON(w, map[string]any{"evaluations": rows, "sessions": sessions})
		}
		printEvaluations(w, rows)
		fmt.Fprintln(w)
		printSessions(w, sessions)
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "ayni.db", "path to the SQLite record store")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent rows")
	inspectCmd.Flags().StringVar(&inspectSession, "session", "", "only evaluations for this session")
	inspectCmd.Flags().StringVar(&inspectRounds, "rounds", "", "show the rounds of one deliberation id")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of table")
}

// #region tables
func printEvaluations(w io.Writer, rows []record.EvaluationRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no evaluations found")
		return
	}
	fmt.Fprintf(w, "%-36s  %-8s  %-22s  %-11s  %7s  %-12s  %s\n",
		"Evaluation", "Decision", "Stage", "Type", "Balance", "Session", "Violations")
	fmt.Fprintf(w, "%-36s+-%-8s+-%-22s+-%-11s+-%7s+-%-12s+-%s\n",
		"------------------------------------", "--------", "----------------------", "-----------", "-------", "------------", "----------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-36s  %-8s  %-22s  %-11s  %7.3f  %-12s  %s\n",
			r.ID, r.Decision, r.TerminalStage, r.ExchangeType, r.Balance, r.SessionKey, r.Violations)
	}
}

func printSessions(w io.Writer, sessions []session.State) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions found")
		return
	}
	fmt.Fprintf(w, "%-20s  %5s  %9s  %-10s  %s\n", "Session", "Turns", "Trust EMA", "Trajectory", "Updated")
	fmt.Fprintf(w, "%-20s+-%5s+-%9s+-%-10s+-%s\n", "--------------------", "-----", "---------", "----------", "--------------------")
	for _, s := range sessions {
		fmt.Fprintf(w, "%-20s  %5d  %9.4f  %-10s  %s\n",
			s.SessionKey, s.TurnCount, s.TrustEMA, s.Trajectory, s.UpdatedAt.Format("2006-01-02T15:04:05Z"))
	}
}

func printRounds(w io.Writer, rounds []record.Round) {
	if len(rounds) == 0 {
		fmt.Fprintln(w, "no rounds found")
		return
	}
	for _, r := range rounds {
		fmt.Fprintf(w, "round %d  chair %s  responded %v\n  %s\n", r.Summary.Index, r.Summary.ChairID, r.Summary.ChairResponded, r.Summary.Framing())
		for _, id := range slices.Sorted(maps.Keys(r.Summary.Failed)) {
			fmt.Fprintf(w, "  excluded %s: %s\n", id, r.Summary.Failed[id])
		}
	}
}

// #endregion tables
