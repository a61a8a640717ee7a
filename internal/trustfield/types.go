package trustfield

import "sort"

// #region tag
// Tag names a structural violation between layers.
type Tag string

const (
	TagRoleConfusion       Tag = "role_confusion"
	TagInstructionOverride Tag = "instruction_override"
	TagLayerProbing        Tag = "layer_probing"
	TagContextSaturation   Tag = "context_saturation"
	TagAuthorityMasquerade Tag = "authority_masquerade"
)

// NonCompensable reports whether t forces a terminal extractive outcome.
func (t Tag) NonCompensable() bool {
	return t == TagRoleConfusion || t == TagInstructionOverride
}

// #endregion tag

// #region tags
// Tags is a sorted, duplicate-free set of violation tags.
type Tags []Tag

// Add inserts t keeping the set sorted.
func (ts Tags) Add(t Tag) Tags {
	if ts.Has(t) {
		return ts
	}
	out := append(ts, t)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports membership.
func (ts Tags) Has(t Tag) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

// HasNonCompensable reports whether any member forces an extractive outcome.
func (ts Tags) HasNonCompensable() bool {
	for _, x := range ts {
		if x.NonCompensable() {
			return true
		}
	}
	return false
}

// #endregion tags

// #region field
// Finding records which layer triggered a tag and the matched text.
type Finding struct {
	Tag        Tag    `json:"tag"`
	LayerIndex int    `json:"layer"`
	Evidence   string `json:"evidence"`
}

// Field holds the derived directional signals and structural violations of an exchange.
// Candidates are non-forcing signals (context saturation) kept apart from Violations.
type Field struct {
	Vulnerability float64   `json:"vulnerability"`
	Recognition   float64   `json:"recognition"`
	Reciprocation float64   `json:"reciprocation"`
	Violations    Tags      `json:"violations"`
	Candidates    Tags      `json:"candidates,omitempty"`
	Findings      []Finding `json:"findings,omitempty"`
}

// #endregion field

// #region config
// Config holds thresholds for the structural scan.
type Config struct {
	SaturationMinTokens     int     // ignore layers shorter than this
	SaturationMinPolite     int     // minimum affirming/polite token count
	SaturationPoliteToTopic float64 // polite tokens must reach this multiple of distinct topic tokens
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		SaturationMinTokens:     20,
		SaturationMinPolite:     6,
		SaturationPoliteToTopic: 1.0,
	}
}

// #endregion config
