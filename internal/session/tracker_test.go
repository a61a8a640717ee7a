package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// #region step-tests
func TestScenarioTrustThenViolation(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	ctx := context.Background()

	var s State
	var err error
	for i := 0; i < 3; i++ {
		s, err = tr.Update(ctx, "sess-b", Observation{Balance: 0.7})
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}
	// 0.21, 0.357, 0.4599
	if !near(s.TrustEMA, 0.4599) {
		t.Fatalf("expected ema 0.4599 after three turns, got %.6f", s.TrustEMA)
	}
	if s.Trajectory != TrajectoryBuilding {
		t.Fatalf("expected building, got %s", s.Trajectory)
	}

	s, err = tr.Update(ctx, "sess-b", Observation{Balance: -1.0, Violated: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !near(s.TrustEMA, 0.3*-1.0+0.7*0.4599) {
		t.Fatalf("expected ema 0.02193, got %.6f", s.TrustEMA)
	}
	if s.Trajectory != TrajectoryViolated {
		t.Fatalf("expected violated, got %s", s.Trajectory)
	}
	if s.TurnCount != 4 || len(s.History) != 4 {
		t.Fatalf("expected 4 turns of history, got %d/%d", s.TurnCount, len(s.History))
	}
}

func TestEMABounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alpha = 0.95
	s := Zero("k")
	seq := []float64{1, 1, 1, -1, -1, 1, -1, 1, 1, 1, -1, -1, -1, -1}
	for i, b := range seq {
		s = Step(s, Observation{Balance: b}, cfg)
		if s.TrustEMA < -1 || s.TrustEMA > 1 {
			t.Fatalf("step %d: ema out of range: %f", i, s.TrustEMA)
		}
	}
	// out-of-range input is clamped before it enters the average
	s = Step(Zero("k"), Observation{Balance: 7}, cfg)
	if s.TrustEMA > 1 {
		t.Fatalf("ema out of range after oversized balance: %f", s.TrustEMA)
	}
}

func TestHistoryIsRingBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 4
	s := Zero("k")
	for i := 0; i < 10; i++ {
		s = Step(s, Observation{Balance: float64(i) / 10}, cfg)
	}
	if len(s.History) != 4 {
		t.Fatalf("expected history capped at 4, got %d", len(s.History))
	}
	if s.History[3] != s.TrustEMA {
		t.Fatalf("newest entry should be the current ema")
	}
	if s.TurnCount != 10 {
		t.Fatalf("turn count must keep counting past the ring: %d", s.TurnCount)
	}
}

func TestTrajectoryTrends(t *testing.T) {
	cfg := DefaultConfig()

	s := Step(Zero("k"), Observation{Balance: 0.5}, cfg)
	if s.Trajectory != TrajectoryStable {
		t.Fatalf("one turn is not a trend: %s", s.Trajectory)
	}

	s = Zero("k")
	for _, b := range []float64{-0.5, -0.6, -0.7} {
		s = Step(s, Observation{Balance: b}, cfg)
	}
	if s.Trajectory != TrajectoryDeclining {
		t.Fatalf("expected declining, got %s", s.Trajectory)
	}

	// recovery after a violation follows the trend again
	s = Step(s, Observation{Balance: -1, Violated: true}, cfg)
	s = Step(s, Observation{Balance: 0.9}, cfg)
	if s.Trajectory == TrajectoryViolated {
		t.Fatal("violated must only reflect the most recent observation")
	}

	s = Zero("k")
	for _, b := range []float64{0.5, 0.1, 0.6} {
		s = Step(s, Observation{Balance: b}, cfg)
	}
	if s.Trajectory != TrajectoryStable {
		t.Fatalf("mixed deltas should be stable, got %s", s.Trajectory)
	}
}

// #endregion step-tests

// #region tracker-tests
func TestGetUnseenIsZero(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	s := tr.Get("nobody")
	if s.TurnCount != 0 || s.TrustEMA != 0 || s.Trajectory != TrajectoryStable || s.SessionKey != "nobody" {
		t.Fatalf("unexpected zero state: %+v", s)
	}
	if tr.Len() != 0 {
		t.Fatal("Get must not create sessions")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	if _, err := tr.Update(context.Background(), "k", Observation{Balance: 0.5}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	s := tr.Get("k")
	s.History[0] = 99
	if tr.Get("k").History[0] == 99 {
		t.Fatal("Get leaked internal history")
	}
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Update(context.Background(), "shared", Observation{Balance: 0.5}); err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := tr.Get("shared").TurnCount; got != 64 {
		t.Fatalf("lost updates: expected 64 turns, got %d", got)
	}
}

func TestLockContention(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	e, err := tr.acquire(context.Background(), "busy")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Update(ctx, "busy", Observation{Balance: 0.1})
	if !errors.Is(err, ErrSessionLockContention) {
		t.Fatalf("expected ErrSessionLockContention, got %v", err)
	}

	<-e.lock
	if _, err := tr.Update(context.Background(), "busy", Observation{Balance: 0.1}); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}

func TestExpire(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	if _, err := tr.Update(context.Background(), "k", Observation{Balance: 0.9}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	tr.Expire("k")
	if s := tr.Get("k"); s.TurnCount != 0 {
		t.Fatalf("expected fresh state after expiry, got %+v", s)
	}
}

func TestUpdateRejectsNonFiniteBalance(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil, nil)
	if _, err := tr.Update(context.Background(), "k", Observation{Balance: math.NaN()}); err == nil {
		t.Fatal("expected error for NaN balance")
	}
}

// #endregion tracker-tests

// #region loader-tests
type loaderFunc func(ctx context.Context, key string) (*State, error)

func (f loaderFunc) LoadSession(ctx context.Context, key string) (*State, error) { return f(ctx, key) }

func TestLoaderSeedsOnce(t *testing.T) {
	calls := 0
	loader := loaderFunc(func(_ context.Context, key string) (*State, error) {
		calls++
		return &State{SessionKey: key, TurnCount: 5, TrustEMA: 0.5, History: []float64{0.5}, Trajectory: TrajectoryStable}, nil
	})
	tr := NewTracker(DefaultConfig(), loader, nil)

	s, err := tr.Update(context.Background(), "k", Observation{Balance: 0.5})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.TurnCount != 6 || !near(s.TrustEMA, 0.5) {
		t.Fatalf("expected restored state to continue, got %+v", s)
	}
	if _, err := tr.Update(context.Background(), "k", Observation{Balance: 0.5}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if calls != 1 {
		t.Fatalf("loader should be consulted once, got %d", calls)
	}
}

func TestLoaderFailureStartsFresh(t *testing.T) {
	tr := NewTracker(DefaultConfig(), loaderFunc(func(context.Context, string) (*State, error) {
		return nil, errors.New("sink down")
	}), nil)
	s, err := tr.Update(context.Background(), "k", Observation{Balance: 1})
	if err != nil {
		t.Fatalf("loader failure must not fail the update: %v", err)
	}
	if s.TurnCount != 1 {
		t.Fatalf("expected fresh session, got %+v", s)
	}
}

func TestSnapshotHydratesFromLoader(t *testing.T) {
	calls := 0
	tr := NewTracker(DefaultConfig(), loaderFunc(func(_ context.Context, key string) (*State, error) {
		calls++
		return &State{SessionKey: key, TurnCount: 3, TrustEMA: 0.4, History: []float64{0.4}}, nil
	}), nil)

	s, err := tr.Snapshot(context.Background(), "k")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.TurnCount != 3 || !near(s.TrustEMA, 0.4) || s.Trajectory != TrajectoryStable {
		t.Fatalf("expected restored state, got %+v", s)
	}
	if g := tr.Get("k"); g.TurnCount != 3 {
		t.Fatalf("Get after Snapshot should see restored state, got %+v", g)
	}
	if _, err := tr.Update(context.Background(), "k", Observation{Balance: 0.4}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if calls != 1 {
		t.Fatalf("loader should be consulted once, got %d", calls)
	}
}

// #endregion loader-tests
