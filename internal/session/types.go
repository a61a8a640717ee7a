package session

import (
	"errors"
	"time"
)

// ErrSessionLockContention is returned when a caller's context ends while another
// writer holds the session. Callers may retry.
var ErrSessionLockContention = errors.New("session lock contention")

// #region trajectory
// Trajectory is the direction of a session's trust over recent turns.
type Trajectory string

const (
	TrajectoryBuilding  Trajectory = "building"
	TrajectoryStable    Trajectory = "stable"
	TrajectoryDeclining Trajectory = "declining"
	TrajectoryViolated  Trajectory = "violated"
)

// #endregion trajectory

// #region state
// State is the trust trajectory of one session.
type State struct {
	SessionKey string     `json:"session_key"`
	TurnCount  int        `json:"turn_count"`
	TrustEMA   float64    `json:"trust_ema"`
	Trajectory Trajectory `json:"trajectory"`
	History    []float64  `json:"history"` // EMA after each turn, oldest first, bounded
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Zero returns the state of a session that has not been seen.
func Zero(key string) State {
	return State{SessionKey: key, Trajectory: TrajectoryStable}
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	s.History = append([]float64(nil), s.History...)
	return s
}

// #endregion state

// #region observation
// Observation is what one evaluation contributes to its session.
type Observation struct {
	Balance  float64
	Violated bool // the evaluation carried a non-compensable violation
}

// #endregion observation

// #region config
// Config holds EMA and trend parameters.
type Config struct {
	Alpha       float64 // EMA weight of the newest balance, in (0,1)
	HistorySize int     // ring buffer length
	TrendWindow int     // k: number of recent EMA deltas that must agree for building/declining
	Epsilon     float64 // deltas within ±Epsilon count as flat
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:       0.3,
		HistorySize: 16,
		TrendWindow: 3,
		Epsilon:     1e-3,
	}
}

// #endregion config
