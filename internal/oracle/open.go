package oracle

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// Kinds of oracle backend.
const (
	KindScripted = "scripted"
	KindGRPC     = "grpc"
	KindGemini   = "gemini"
)

// Spec describes one oracle backend.
type Spec struct {
	ID          string
	Kind        string
	Address     string  // grpc
	Model       string  // gemini
	APIKey      string  // gemini
	Temperature float32 // gemini
	Script      string  // scripted: path to a JSON rule file
}

// Open builds the oracle described by spec. The returned close func is never nil.
func Open(ctx context.Context, spec Spec) (judgment.Oracle, func() error, error) {
	noop := func() error { return nil }
	switch spec.Kind {
	case KindScripted:
		if spec.Script == "" {
			return NewScripted(), noop, nil
		}
		s, err := LoadScripted(spec.Script)
		if err != nil {
			return nil, noop, fmt.Errorf("open oracle %s: %w", spec.ID, err)
		}
		return s, noop, nil
	case KindGRPC:
		g, err := NewGRPC(spec.Address)
		if err != nil {
			return nil, noop, fmt.Errorf("open oracle %s: %w", spec.ID, err)
		}
		return g, g.Close, nil
	case KindGemini:
		g, err := NewGemini(ctx, spec.APIKey, spec.Model)
		if err != nil {
			return nil, noop, fmt.Errorf("open oracle %s: %w", spec.ID, err)
		}
		return g.WithTemperature(spec.Temperature), noop, nil
	}
	return nil, noop, fmt.Errorf("open oracle %s: unknown kind %q", spec.ID, spec.Kind)
}
