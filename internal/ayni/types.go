package ayni

import (
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/trustfield"
)

// #region config
// Config holds the aggregation tunables. The weighting values are calibration
// knobs, not fixed constants; thresholds define the classification bands.
type Config struct {
	RecencyDecay        float64 // weight multiplier per step back from the final layer, in (0,1]
	ReciprocationGain   float64 // how strongly trust-field reciprocation scales the weighted balance
	ReciprocalThreshold float64 // balance above this is reciprocal/generative
	ExtractiveThreshold float64 // balance below this is extractive
	SessionBlend        float64 // share of session trust blended into the borderline band
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		RecencyDecay:        0.8,
		ReciprocationGain:   0.25,
		ReciprocalThreshold: 0.3,
		ExtractiveThreshold: -0.2,
		SessionBlend:        0.2,
	}
}

// #endregion config

// #region session-context
// SessionContext is the temporal history the aggregator may consult.
type SessionContext struct {
	TrustEMA  float64
	TurnCount int
}

// #endregion session-context

// #region result
// Result is the outcome of one aggregation.
type Result struct {
	Balance        float64                  `json:"balance"`
	ExchangeType   judgment.ExchangeType    `json:"exchange_type"`
	Violations     trustfield.Tags          `json:"violations"`
	Candidates     trustfield.Tags          `json:"candidates,omitempty"`
	LayerJudgments []judgment.LayerJudgment `json:"layer_judgments"`
	Reciprocation  float64                  `json:"reciprocation"`
	Reason         string                   `json:"reason"`
	Terminal       bool                     `json:"terminal"`        // set by a non-compensable violation
	SessionBlended bool                     `json:"session_blended"` // borderline band resolved with session trust
}

// NonCompensable reports whether the result was forced by a non-compensable violation.
func (r Result) NonCompensable() bool {
	return r.Violations.HasNonCompensable()
}

// #endregion result
