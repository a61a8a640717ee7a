package session

import (
	"math"
	"time"
)

// #region step
// Step is a pure function computing the next session state from one observation.
//
//	ema' = clamp(α·balance + (1−α)·ema, -1, 1)
func Step(old State, obs Observation, config Config) State {
	next := old.Clone()
	balance := clamp(obs.Balance)
	next.TrustEMA = clamp(config.Alpha*balance + (1-config.Alpha)*old.TrustEMA)
	next.TurnCount = old.TurnCount + 1
	next.History = pushRing(next.History, next.TrustEMA, config.HistorySize)
	next.UpdatedAt = time.Now().UTC()

	if obs.Violated {
		next.Trajectory = TrajectoryViolated
	} else {
		next.Trajectory = trend(next, config)
	}
	return next
}

// #endregion step

// #region trend
// trend classifies the last TrendWindow EMA deltas. At least two deltas are needed
// to call a direction; the EMA before the first turn is 0.
func trend(s State, config Config) Trajectory {
	vals := s.History
	if s.TurnCount == len(s.History) {
		// ring has not wrapped, so the pre-session zero is still the baseline
		vals = append([]float64{0}, s.History...)
	}
	n := min(config.TrendWindow, len(vals)-1)
	if n < 2 {
		return TrajectoryStable
	}

	up, down := 0, 0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		switch {
		case d > config.Epsilon:
			up++
		case d < -config.Epsilon:
			down++
		}
	}
	switch {
	case up == n:
		return TrajectoryBuilding
	case down == n:
		return TrajectoryDeclining
	}
	return TrajectoryStable
}

// #endregion trend

// #region helpers
// pushRing appends v, dropping the oldest entries beyond size.
func pushRing(h []float64, v float64, size int) []float64 {
	h = append(h, v)
	if size > 0 && len(h) > size {
		h = append([]float64(nil), h[len(h)-size:]...)
	}
	return h
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// #endregion helpers
