package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/ayni"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// ErrEvaluationFailed means the oracle calls left nothing to aggregate for a required layer.
var ErrEvaluationFailed = errors.New("evaluation failed")

// #region stage
// Stage names a pipeline state.
type Stage string

const (
	StageCoherence  Stage = "coherence_check"
	StageRelational Stage = "relational_evaluation"
	StagePreview    Stage = "outcome_preview"
)

// Decision is a terminal pipeline state.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// #endregion stage

// #region config
// Config holds routing thresholds.
type Config struct {
	Stages                   int     // 1..3: how far the machine may go
	CoherenceRejectFalsehood float64 // coherence rejects when F ≥ this ...
	CoherenceRejectTruth     float64 // ... and T ≤ this
	PreviewRejectFalsehood   float64 // preview rejects when F ≥ this and F > T
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		Stages:                   3,
		CoherenceRejectFalsehood: 0.8,
		CoherenceRejectTruth:     0.2,
		PreviewRejectFalsehood:   0.6,
	}
}

// #endregion config

// #region stage-metric
// StageMetric captures a single routing check.
type StageMetric struct {
	Stage Stage   `json:"stage"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// Exclusion records an oracle call dropped from aggregation.
type Exclusion struct {
	Stage      Stage  `json:"stage"`
	LayerIndex int    `json:"layer"`
	Reason     string `json:"reason"`
	Error      string `json:"error"`
}

// #endregion stage-metric

// #region outcome
// Outcome is the result of one pipeline run. Result is always the prompt-intent
// evaluation; the outcome-preview judgment is kept apart in Preview.
type Outcome struct {
	Decision      Decision           `json:"decision"`
	TerminalStage Stage              `json:"terminal_stage"`
	StagesRun     []Stage            `json:"stages_run"`
	Result        ayni.Result        `json:"result"`
	Coherence     *judgment.Judgment `json:"coherence,omitempty"`
	Preview       *judgment.Judgment `json:"preview,omitempty"`
	Metrics       []StageMetric      `json:"metrics"`
	Exclusions    []Exclusion        `json:"exclusions,omitempty"`
	Reason        string             `json:"reason"`
}

// #endregion outcome

// #region errors
// EvaluationError attributes a failed evaluation to its stage and layer.
type EvaluationError struct {
	Stage      Stage
	LayerIndex int
	Causes     []error
}

func (e *EvaluationError) Error() string {
	parts := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		parts[i] = c.Error()
	}
	return fmt.Sprintf("%v: stage=%s layer=%d: %s", ErrEvaluationFailed, e.Stage, e.LayerIndex, strings.Join(parts, "; "))
}

// Unwrap exposes ErrEvaluationFailed and every oracle failure behind it.
func (e *EvaluationError) Unwrap() []error {
	return append([]error{ErrEvaluationFailed}, e.Causes...)
}

// #endregion errors
