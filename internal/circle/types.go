package circle

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/trustfield"
)

// ErrQuorumNotMet means a round had fewer successful participants than required.
var ErrQuorumNotMet = errors.New("quorum not met")

// #region config
// Config holds deliberation parameters.
type Config struct {
	Rounds           int
	QuorumMin        int
	DissentThreshold float64 // |participant net − consensus| above this counts as dissent
	ChairFraming     string  // advocacy instructions for the empty chair
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Rounds:           2,
		QuorumMin:        2,
		DissentThreshold: 0.3,
		ChairFraming: "You hold the empty chair. Advocate for parties not present in this exchange " +
			"and for its long-term effects, even if every other voice disagrees.",
	}
}

// #endregion config

// #region participant
// Participant is one voice in the circle, bound to its own extractor.
type Participant struct {
	ID        string
	Extractor *judgment.Extractor
}

// #endregion participant

// #region round
// RoundSummary is what survives a round: balances, roles, and dissent. Reasoning text is dropped.
type RoundSummary struct {
	Index                 int                   `json:"round_index"`
	ChairID               string                `json:"chair_id"`
	ChairResponded        bool                  `json:"chair_responded"`
	ParticipantNets       map[string]float64    `json:"participant_nets"` // T−F per responding participant
	Failed                map[string]string     `json:"failed,omitempty"` // participant → reason
	ConsensusBalance      float64               `json:"consensus_balance"`
	ConsensusExchangeType judgment.ExchangeType `json:"consensus_exchange_type"`
	ConsensusDelta        float64               `json:"consensus_delta"`
	Dissenters            []string              `json:"dissenters,omitempty"`
}

// Framing renders the summary handed to the next round's participants.
func (s RoundSummary) Framing() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d consensus: balance %.2f (%s), empty-chair shift %.2f.",
		s.Index, s.ConsensusBalance, s.ConsensusExchangeType, s.ConsensusDelta)
	if len(s.Dissenters) > 0 {
		b.WriteString(" Dissent from:")
		for _, id := range s.Dissenters {
			fmt.Fprintf(&b, " %s (%.2f)", id, s.ParticipantNets[id])
		}
		b.WriteString(".")
	} else {
		b.WriteString(" No dissent.")
	}
	return b.String()
}

// #endregion round

// #region result
// Result is the outcome of a full deliberation. Consensus values are the final round's.
type Result struct {
	ID                    string                `json:"id"`
	ConsensusBalance      float64               `json:"consensus_balance"`
	ConsensusExchangeType judgment.ExchangeType `json:"consensus_exchange_type"`
	ConsensusDelta        float64               `json:"consensus_delta"`
	Violations            trustfield.Tags       `json:"violations"`
	Rounds                []RoundSummary        `json:"rounds"`
}

// #endregion result

// #region errors
// QuorumError reports which round fell short and why each missing participant failed.
type QuorumError struct {
	Round     int
	Responded int
	Required  int
	Failures  map[string]error
}

func (e *QuorumError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id, err := range e.Failures {
		ids = append(ids, fmt.Sprintf("%s: %s", id, judgment.Reason(err)))
	}
	sort.Strings(ids)
	return fmt.Sprintf("%v: round %d had %d of %d required responses [%s]",
		ErrQuorumNotMet, e.Round, e.Responded, e.Required, strings.Join(ids, "; "))
}

// Unwrap exposes ErrQuorumNotMet and every participant failure.
func (e *QuorumError) Unwrap() []error {
	out := []error{ErrQuorumNotMet}
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}

// #endregion errors
