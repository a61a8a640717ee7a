package record

import (
	"context"
	"time"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/ayni"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/circle"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/session"
)

// #region sink
// Sink is durable, best-effort storage for results and session state.
// Callers log Save failures; they never block an evaluation.
type Sink interface {
	Save(ctx context.Context, rec Record) error
	LoadSession(ctx context.Context, key string) (*session.State, error)
	Close() error
}

// Record is one of the record types below.
type Record interface {
	kind() string
}

// #endregion sink

// #region records
// Evaluation is the stored form of one evaluate call.
type Evaluation struct {
	ID             string             `json:"id"`
	SessionKey     string             `json:"session_key,omitempty"`
	Decision       string             `json:"decision"`
	TerminalStage  string             `json:"terminal_stage"`
	Result         ayni.Result        `json:"result"`
	Preview        *judgment.Judgment `json:"preview,omitempty"`
	DeliberationID string             `json:"deliberation_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Round is the stored summary of one Fire Circle round.
type Round struct {
	DeliberationID string              `json:"deliberation_id"`
	Summary        circle.RoundSummary `json:"summary"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Deliberation is the stored consensus of a whole Fire Circle run, without its rounds.
type Deliberation struct {
	ID                    string                `json:"id"`
	ConsensusBalance      float64               `json:"consensus_balance"`
	ConsensusExchangeType judgment.ExchangeType `json:"consensus_exchange_type"`
	ConsensusDelta        float64               `json:"consensus_delta"`
	Rounds                int                   `json:"rounds"`
	CreatedAt             time.Time             `json:"created_at"`
}

// Session is a snapshot of a session's trust trajectory.
type Session struct {
	State session.State `json:"state"`
}

func (Evaluation) kind() string { return "evaluation" }
func (Round) kind() string { return "round" }
func (Deliberation) kind() string { return "deliberation" }
func (Session) kind() string { return "session" }

// FromDeliberation splits a circle result into its deliberation and round records.
func FromDeliberation(res circle.Result, at time.Time) []Record {
	out := []Record{Deliberation{
		ID:                    res.ID,
		ConsensusBalance:      res.ConsensusBalance,
		ConsensusExchangeType: res.ConsensusExchangeType,
		ConsensusDelta:        res.ConsensusDelta,
		Rounds:                len(res.Rounds),
		CreatedAt:             at,
	}}
	for _, r := range res.Rounds {
		out = append(out, Round{DeliberationID: res.ID, Summary: r, CreatedAt: at})
	}
	return out
}

// #endregion records

// #region nop
// Nop discards every record.
type Nop struct{}

func (Nop) Save(context.Context, Record) error { return nil }
func (Nop) LoadSession(context.Context, string) (*session.State, error) { return nil, nil }
func (Nop) Close() error { return nil }

// #endregion nop
