package record

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/ayni"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/circle"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/session"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/trustfield"
)

func tempDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListEvaluations(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, key := range []string{"a", "b", "a"} {
		rec := Evaluation{
			ID:            []string{"e1", "e2", "e3"}[i],
			SessionKey:    key,
			Decision:      "reject",
			TerminalStage: "coherence_check",
			Result: ayni.Result{
				Balance:      -1,
				ExchangeType: judgment.ExchangeExtractive,
				Violations:   trustfield.Tags{}.Add(trustfield.TagRoleConfusion),
			},
			Preview:   &judgment.Judgment{Falsehood: 0.7},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rows, err := s.RecentEvaluations(ctx, "a", 10)
	if err != nil {
		t.Fatalf("RecentEvaluations: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "e3" || rows[1].ID != "e1" {
		t.Fatalf("expected e3, e1 newest first, got %+v", rows)
	}
	if rows[0].Violations != "role_confusion" || rows[0].Balance != -1 {
		t.Fatalf("unexpected row: %+v", rows[0])
	}

	all, err := s.RecentEvaluations(ctx, "", 2)
	if err != nil {
		t.Fatalf("RecentEvaluations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("limit not applied: %d", len(all))
	}
}

func TestSubSecondOrdering(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	// 100ms and 120ms differ only in fractional digits
	for id, ms := range map[string]int{"early": 100, "late": 120} {
		rec := Evaluation{
			ID:            id,
			Decision:      "accept",
			TerminalStage: "relational",
			Result:        ayni.Result{Balance: 0.5, ExchangeType: judgment.ExchangeReciprocal},
			CreatedAt:     base.Add(time.Duration(ms) * time.Millisecond),
		}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rows, err := s.RecentEvaluations(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentEvaluations: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "late" || rows[1].ID != "early" {
		t.Fatalf("expected late, early, got %+v", rows)
	}
	if !rows[1].CreatedAt.Equal(base.Add(100 * time.Millisecond)) {
		t.Fatalf("created_at round trip: %v", rows[1].CreatedAt)
	}
}

func TestDuplicateEvaluationRejected(t *testing.T) {
	s := tempDB(t)
	rec := Evaluation{ID: "dup", Decision: "accept", TerminalStage: "relational_evaluation"}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(context.Background(), rec); err == nil {
		t.Fatal("expected primary key violation")
	}
}

func TestSessionUpsertAndLoad(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	missing, err := s.LoadSession(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for unknown session, got %v, %v", missing, err)
	}

	st := session.State{SessionKey: "k", TurnCount: 1, TrustEMA: 0.21, Trajectory: session.TrajectoryStable, History: []float64{0.21}}
	if err := s.Save(ctx, Session{State: st}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	st.TurnCount, st.TrustEMA, st.History = 2, 0.357, []float64{0.21, 0.357}
	st.Trajectory = session.TrajectoryViolated
	if err := s.Save(ctx, Session{State: st}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.LoadSession(ctx, "k")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.TurnCount != 2 || got.TrustEMA != 0.357 || got.Trajectory != session.TrajectoryViolated || len(got.History) != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}

	list, err := s.Sessions(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one session, got %v, %v", list, err)
	}
}

func TestDeliberationRecords(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	res := circle.Result{
		ID:                    "d1",
		ConsensusBalance:      0.55,
		ConsensusExchangeType: judgment.ExchangeReciprocal,
		ConsensusDelta:        0.15,
		Rounds: []circle.RoundSummary{
			{Index: 1, ChairID: "p1", ParticipantNets: map[string]float64{"p1": 0.7}, ConsensusBalance: 0.5},
			{Index: 2, ChairID: "p2", ParticipantNets: map[string]float64{"p2": 0.4}, ConsensusBalance: 0.55, Failed: map[string]string{"p3": "timeout"}},
		},
	}
	for _, rec := range FromDeliberation(res, time.Now()) {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save %T: %v", rec, err)
		}
	}

	rounds, err := s.Rounds(ctx, "d1")
	if err != nil {
		t.Fatalf("Rounds: %v", err)
	}
	if len(rounds) != 2 || rounds[1].Summary.ChairID != "p2" || rounds[1].Summary.Failed["p3"] != "timeout" {
		t.Fatalf("unexpected rounds: %+v", rounds)
	}
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	if err := s.Save(context.Background(), Evaluation{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	st, err := s.LoadSession(context.Background(), "k")
	if st != nil || err != nil {
		t.Fatalf("expected nil, nil")
	}
}
