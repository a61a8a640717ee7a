package ayni

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/trustfield"
)

// #region aggregator
// Aggregator combines layer judgments and a trust field into one Result.
type Aggregator struct {
	config Config
}

// NewAggregator creates an aggregator with the given configuration.
func NewAggregator(config Config) *Aggregator {
	return &Aggregator{config: config}
}

// Aggregate checks non-compensable violations first, then scores the judgments.
// sess may be nil; it only ever moves a borderline balance.
func (a *Aggregator) Aggregate(judgments []judgment.LayerJudgment, field trustfield.Field, sess *SessionContext) Result {
	ordered := sortedByIndex(judgments)
	res := Result{
		Violations:     field.Violations,
		Candidates:     field.Candidates,
		LayerJudgments: ordered,
		Reciprocation:  field.Reciprocation,
	}

	// --- Hard override pass ---
	if field.Violations.HasNonCompensable() {
		res.Balance = -1.0
		res.ExchangeType = judgment.ExchangeExtractive
		res.Terminal = true
		res.Reason = fmt.Sprintf("non-compensable violation: %s", joinTags(field.Violations))
		return res
	}

	// --- Weighted scoring ---
	if len(ordered) == 0 {
		res.ExchangeType = judgment.ExchangeBorderline
		if len(field.Violations) > 0 {
			res.ExchangeType = judgment.ExchangeExtractive
		}
		res.Reason = "no judgments to weigh"
		return res
	}

	weighted, weights := a.weightedNet(ordered)
	res.Balance = clampSigned(weighted * (1 + a.config.ReciprocationGain*field.Reciprocation))
	res.ExchangeType, res.Reason = a.classify(res.Balance, ordered, weights, field)

	// --- Session blend (borderline band only) ---
	if res.ExchangeType == judgment.ExchangeBorderline && sess != nil && sess.TurnCount > 0 && a.config.SessionBlend > 0 {
		blended := clampSigned((1-a.config.SessionBlend)*res.Balance + a.config.SessionBlend*sess.TrustEMA)
		res.Balance = blended
		res.ExchangeType, res.Reason = a.classify(blended, ordered, weights, field)
		res.Reason = fmt.Sprintf("%s (session trust %.3f blended)", res.Reason, sess.TrustEMA)
		res.SessionBlended = true
	}
	return res
}

// #endregion aggregator

// #region weighting
// weightedNet returns the recency-weighted mean of T-F and the per-judgment weights.
// The final judgment weighs 1; each position back multiplies by RecencyDecay.
// Positions count judgments, not sequence indexes, so gaps in the indexes do not
// fade earlier layers.
func (a *Aggregator) weightedNet(ordered []judgment.LayerJudgment) (float64, []float64) {
	last := len(ordered) - 1
	weights := make([]float64, len(ordered))
	var num, den float64
	for i, lj := range ordered {
		w := math.Pow(a.config.RecencyDecay, float64(last-i))
		weights[i] = w
		num += w * lj.Judgment.Net()
		den += w
	}
	if den == 0 {
		return 0, weights
	}
	return num / den, weights
}

// dominant returns the judgment with the largest weighted |T-F|; ties go to the later layer.
func dominant(ordered []judgment.LayerJudgment, weights []float64) judgment.Judgment {
	best, bestScore := 0, -1.0
	for i, lj := range ordered {
		score := weights[i] * math.Abs(lj.Judgment.Net())
		if score >= bestScore {
			best, bestScore = i, score
		}
	}
	return ordered[best].Judgment
}

// #endregion weighting

// #region classify
func (a *Aggregator) classify(balance float64, ordered []judgment.LayerJudgment, weights []float64, field trustfield.Field) (judgment.ExchangeType, string) {
	switch {
	case len(field.Violations) > 0:
		return judgment.ExchangeExtractive, fmt.Sprintf("violation present: %s", joinTags(field.Violations))
	case balance < a.config.ExtractiveThreshold:
		return judgment.ExchangeExtractive, fmt.Sprintf("balance %.3f below %.2f", balance, a.config.ExtractiveThreshold)
	case balance > a.config.ReciprocalThreshold:
		if field.Candidates.Has(trustfield.TagContextSaturation) {
			return judgment.ExchangeBorderline, fmt.Sprintf("balance %.3f but context saturation suspected", balance)
		}
		if dominant(ordered, weights).ExchangeType == judgment.ExchangeGenerative {
			return judgment.ExchangeGenerative, fmt.Sprintf("balance %.3f, dominant judgment generative", balance)
		}
		return judgment.ExchangeReciprocal, fmt.Sprintf("balance %.3f above %.2f", balance, a.config.ReciprocalThreshold)
	}
	if allNeutral(ordered) {
		return judgment.ExchangeNeutral, fmt.Sprintf("balance %.3f, all judgments neutral", balance)
	}
	return judgment.ExchangeBorderline, fmt.Sprintf("balance %.3f within borderline band", balance)
}

func allNeutral(ordered []judgment.LayerJudgment) bool {
	for _, lj := range ordered {
		if lj.Judgment.ExchangeType != judgment.ExchangeNeutral {
			return false
		}
	}
	return true
}

// #endregion classify

// #region helpers
func sortedByIndex(in []judgment.LayerJudgment) []judgment.LayerJudgment {
	out := make([]judgment.LayerJudgment, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func joinTags(tags trustfield.Tags) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// clampSigned restricts v to [-1, 1].
func clampSigned(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// #endregion helpers
