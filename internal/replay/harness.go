package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/engine"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/oracle"
)

// #region types
// ReplayResult captures the outcome of replaying one turn through the engine.
type ReplayResult struct {
	TurnID  string
	Action  string // "accept" | "reject" | "error"
	Reason  string
	Outcome *engine.Outcome // nil when Action is "error"
	Err     error
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTurns int
	Accepts    int
	Rejects    int
	Errors     int
	Sessions   map[string]float64 // final trust EMA per session key
}

// #endregion types

// #region replay
// Replay evaluates turns in order on eng. Turns sharing a session key build on
// each other's trust trajectory.
func Replay(ctx context.Context, eng *engine.Engine, turns []Turn) []ReplayResult {
	results := make([]ReplayResult, 0, len(turns))
	for _, turn := range turns {
		out, err := eng.Evaluate(ctx, turn.Layers, turn.Session)
		if err != nil {
			results = append(results, ReplayResult{
				TurnID: turn.TurnID,
				Action: "error",
				Reason: err.Error(),
				Err:    err,
			})
			continue
		}
		results = append(results, ReplayResult{
			TurnID:  turn.TurnID,
			Action:  string(out.Decision),
			Reason:  out.Reason,
			Outcome: &out,
		})
	}
	return results
}

// Run builds a scripted engine from f and replays its turns.
func Run(ctx context.Context, f *Fixture, logger *zap.Logger) ([]ReplayResult, *engine.Engine, error) {
	script := oracle.NewScripted(f.Script...)
	eng, err := engine.New(f.Config.EngineConfig(), map[string]judgment.Oracle{scriptModel: script}, nil, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("replay engine: %w", err)
	}
	return Replay(ctx, eng, f.Turns), eng, nil
}

// Check compares results against each turn's expectation and returns one line per mismatch.
func Check(turns []Turn, results []ReplayResult) []string {
	var mismatches []string
	if len(turns) != len(results) {
		return []string{fmt.Sprintf("expected %d results, got %d", len(turns), len(results))}
	}
	for i, turn := range turns {
		got, want := results[i], turn.Expect
		if got.Action != want.Action {
			mismatches = append(mismatches, fmt.Sprintf("%s: action=%s, want %s (%s)", turn.TurnID, got.Action, want.Action, got.Reason))
			continue
		}
		if got.Outcome == nil {
			continue
		}
		if want.TerminalStage != "" && string(got.Outcome.TerminalStage) != want.TerminalStage {
			mismatches = append(mismatches, fmt.Sprintf("%s: terminal_stage=%s, want %s", turn.TurnID, got.Outcome.TerminalStage, want.TerminalStage))
		}
		if want.ExchangeType != "" && string(got.Outcome.Result.ExchangeType) != want.ExchangeType {
			mismatches = append(mismatches, fmt.Sprintf("%s: exchange_type=%s, want %s", turn.TurnID, got.Outcome.Result.ExchangeType, want.ExchangeType))
		}
	}
	return mismatches
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{
		TotalTurns: len(results),
		Sessions:   make(map[string]float64),
	}
	for _, r := range results {
		switch r.Action {
		case "accept":
			s.Accepts++
		case "reject":
			s.Rejects++
		case "error":
			s.Errors++
		}
		if r.Outcome != nil && r.Outcome.Session != nil {
			s.Sessions[r.Outcome.SessionKey] = r.Outcome.Session.TrustEMA
		}
	}
	return s
}

// #endregion replay
