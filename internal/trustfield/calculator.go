package trustfield

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// #region calculator
// Calculator derives a trust field from layers and their judgments.
// It is stateless; the structural scan never reads judgment text.
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator with the given thresholds.
func NewCalculator(config Config) *Calculator {
	return &Calculator{config: config}
}

// Compute runs the structural scan over layers and the directional pass over judgments.
// judgments may be empty or partial; missing layers are skipped by the directional pass.
func (c *Calculator) Compute(layers []judgment.Layer, judgments []judgment.LayerJudgment) Field {
	field := Field{}
	for _, l := range layers {
		for _, f := range c.scanLayer(l) {
			field.Findings = append(field.Findings, f)
			if f.Tag == TagContextSaturation {
				field.Candidates = field.Candidates.Add(f.Tag)
			} else {
				field.Violations = field.Violations.Add(f.Tag)
			}
		}
	}

	field.Recognition, field.Vulnerability = directional(layers, judgments)
	field.Reciprocation = clampSigned(field.Recognition - field.Vulnerability)
	return field
}

// #endregion calculator

// #region structural-scan
// scanLayer checks one layer against the role it claims to speak from.
func (c *Calculator) scanLayer(l judgment.Layer) []Finding {
	if l.Role == judgment.RoleSystem {
		// the system layer defines the boundaries; it cannot cross them
		return nil
	}

	var out []Finding
	add := func(tag Tag, evidence string) {
		out = append(out, Finding{Tag: tag, LayerIndex: l.Index, Evidence: evidence})
	}

	// 1. Role confusion: assistant phrasing outside the assistant role,
	//    or a simulated turn embedded in the layer.
	if l.Role != judgment.RoleAssistant {
		if m, ok := matchAny(l.Content, assistantVoice); ok {
			add(TagRoleConfusion, strings.ToLower(m))
		}
	}
	if m, ok := simulatedTurn(l.Content); ok {
		add(TagRoleConfusion, m)
	} else if m := chatTemplate.FindString(l.Content); m != "" {
		add(TagRoleConfusion, m)
	}

	// 2. Override, probing, and authority claims are read from the user side only;
	//    assistant layers routinely quote refusals of exactly these requests.
	if l.Role == judgment.RoleUser {
		if m, ok := matchAny(l.Content, overridePatterns); ok {
			add(TagInstructionOverride, m)
		}
		if m, ok := matchAny(l.Content, probingPatterns); ok {
			add(TagLayerProbing, m)
		}
		if m, ok := matchAny(l.Content, authorityPatterns); ok {
			add(TagAuthorityMasquerade, m)
		}
	}

	// 3. Context saturation (candidate only)
	if ok, evidence := c.saturated(l.Content); ok {
		add(TagContextSaturation, evidence)
	}

	return dedupe(out)
}

// saturated reports whether polite/affirming tokens swamp the layer's topic tokens.
func (c *Calculator) saturated(content string) (bool, string) {
	tokens := words(content)
	if len(tokens) < c.config.SaturationMinTokens {
		return false, ""
	}
	polite := 0
	topic := make(map[string]bool)
	for _, t := range tokens {
		switch {
		case politeWords[t]:
			polite++
		case len(t) < 2 || stopwords[t]:
		default:
			topic[t] = true
		}
	}
	if polite < c.config.SaturationMinPolite {
		return false, ""
	}
	if float64(polite) < c.config.SaturationPoliteToTopic*float64(len(topic)) {
		return false, ""
	}
	return true, fmt.Sprintf("polite=%d topic=%d tokens=%d", polite, len(topic), len(tokens))
}

// #endregion structural-scan

// #region directional
// directional computes recognition and vulnerability over adjacent judged layers.
//
//	recognition   = mean((1 - max(0, T_prev - T_next)) * (1 - F_next))
//	vulnerability = mean(clamp(max(0, F_next - F_prev) + I_next/2))
//
// Both are zero when fewer than two layers carry judgments.
func directional(layers []judgment.Layer, judgments []judgment.LayerJudgment) (recognition, vulnerability float64) {
	byIndex := make(map[int]judgment.Judgment, len(judgments))
	for _, lj := range judgments {
		byIndex[lj.Index] = lj.Judgment
	}

	var judged []judgment.Judgment
	for _, l := range layers {
		if j, ok := byIndex[l.Index]; ok {
			judged = append(judged, j)
		}
	}
	if len(judged) < 2 {
		return 0, 0
	}

	var recSum, vulSum float64
	for i := 1; i < len(judged); i++ {
		prev, next := judged[i-1], judged[i]
		recSum += (1 - max(0, prev.Truth-next.Truth)) * (1 - next.Falsehood)
		vulSum += clampUnit(max(0, next.Falsehood-prev.Falsehood) + next.Indeterminacy/2)
	}
	pairs := float64(len(judged) - 1)
	return clampUnit(recSum / pairs), clampUnit(vulSum / pairs)
}

// #endregion directional

// #region helpers
func dedupe(in []Finding) []Finding {
	seen := make(map[Tag]bool, len(in))
	out := in[:0]
	for _, f := range in {
		if seen[f.Tag] {
			continue
		}
		seen[f.Tag] = true
		out = append(out, f)
	}
	return out
}

// clampUnit restricts v to [0, 1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampSigned restricts v to [-1, 1].
func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
