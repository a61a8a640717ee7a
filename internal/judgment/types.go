package judgment

import (
	"context"
	"fmt"
	"strings"
)

// #region role
// Role identifies who authored a layer.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// #endregion role

// #region layer
// Layer is one role-tagged piece of an exchange. Treat as immutable.
type Layer struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Index   int    `json:"sequence_index"`
}

// Validate checks the role and that the content is non-empty.
func (l Layer) Validate() error {
	if !l.Role.Valid() {
		return fmt.Errorf("%w: layer %d has unknown role %q", ErrInvalidLayer, l.Index, l.Role)
	}
	if strings.TrimSpace(l.Content) == "" {
		return fmt.Errorf("%w: layer %d has empty content", ErrInvalidLayer, l.Index)
	}
	if l.Index < 0 {
		return fmt.Errorf("%w: negative sequence index %d", ErrInvalidLayer, l.Index)
	}
	return nil
}

// ValidateExchange checks every layer and that sequence indexes strictly increase.
func ValidateExchange(layers []Layer) error {
	if len(layers) == 0 {
		return fmt.Errorf("%w: exchange has no layers", ErrInvalidLayer)
	}
	for i, l := range layers {
		if err := l.Validate(); err != nil {
			return err
		}
		if i > 0 && l.Index <= layers[i-1].Index {
			return fmt.Errorf("%w: sequence index %d does not follow %d", ErrInvalidLayer, l.Index, layers[i-1].Index)
		}
	}
	return nil
}

// RenderContext flattens prior layers into the text context handed to an oracle.
func RenderContext(layers []Layer) string {
	var b strings.Builder
	for _, l := range layers {
		fmt.Fprintf(&b, "[%d %s] %s\n", l.Index, l.Role, l.Content)
	}
	return b.String()
}

// #endregion layer

// #region exchange-type
// ExchangeType classifies the reciprocity character of a layer or exchange.
type ExchangeType string

const (
	ExchangeReciprocal ExchangeType = "reciprocal"
	ExchangeExtractive ExchangeType = "extractive"
	ExchangeGenerative ExchangeType = "generative"
	ExchangeNeutral    ExchangeType = "neutral"
	// ExchangeBorderline is only produced by aggregation, never by an oracle.
	ExchangeBorderline ExchangeType = "borderline"
)

// ParseExchangeType accepts the four oracle-reportable types, case-insensitively.
func ParseExchangeType(s string) (ExchangeType, bool) {
	switch t := ExchangeType(strings.ToLower(strings.TrimSpace(s))); t {
	case ExchangeReciprocal, ExchangeExtractive, ExchangeGenerative, ExchangeNeutral:
		return t, true
	}
	return "", false
}

// #endregion exchange-type

// #region template
// TemplateID selects the judgment framing an oracle should apply.
type TemplateID string

const (
	TemplateCoherence      TemplateID = "coherence"
	TemplateRelational     TemplateID = "relational"
	TemplateOutcomePreview TemplateID = "outcome_preview"
	TemplateCircleMember   TemplateID = "circle_member"
	TemplateEmptyChair     TemplateID = "empty_chair"
)

// #endregion template

// #region judgment
// Judgment is a neutrosophic (T, I, F) assessment of one layer.
// The three values are independent and need not sum to 1.
type Judgment struct {
	Truth         float64      `json:"truth"`
	Indeterminacy float64      `json:"indeterminacy"`
	Falsehood     float64      `json:"falsehood"`
	Reasoning     string       `json:"reasoning,omitempty"`
	ExchangeType  ExchangeType `json:"exchange_type"`
}

// Net returns truth minus falsehood, in [-1, 1].
func (j Judgment) Net() float64 {
	return j.Truth - j.Falsehood
}

// LayerJudgment ties a judgment back to the layer it was produced for.
type LayerJudgment struct {
	Index    int        `json:"sequence_index"`
	Template TemplateID `json:"template"`
	Judgment Judgment   `json:"judgment"`
}

// #endregion judgment

// #region oracle
// Request is the payload submitted to a judgment oracle.
type Request struct {
	LayerContent string
	LayerRole    Role
	Context      string
	Template     TemplateID
	// Framing is an optional preamble (round summaries, empty-chair instructions).
	Framing string
}

// Response is the raw oracle output before normalization.
type Response struct {
	Truth         float64 `json:"truth" validate:"gte=0,lte=1"`
	Indeterminacy float64 `json:"indeterminacy" validate:"gte=0,lte=1"`
	Falsehood     float64 `json:"falsehood" validate:"gte=0,lte=1"`
	Reasoning     string  `json:"reasoning"`
	ExchangeType  string  `json:"exchange_type" validate:"required"`
}

// Oracle is the external judgment capability. Implementations fail with errors
// wrapping ErrOracleTimeout, ErrOracleMalformed, or ErrOracleTransport.
type Oracle interface {
	Submit(ctx context.Context, req Request) (Response, error)
}

// #endregion oracle
