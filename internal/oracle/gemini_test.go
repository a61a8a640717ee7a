package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// #region mock
type fakeGenerator struct {
	text  string
	err   error
	model string
	cfg   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

// #endregion mock

func TestGeminiSubmit(t *testing.T) {
	gen := &fakeGenerator{text: `{"truth":0.9,"indeterminacy":0.05,"falsehood":0.05,"reasoning":"fine","exchange_type":"generative"}`}
	g := NewGeminiWithGenerator(gen, "gemini-2.5-flash")

	resp, err := g.Submit(context.Background(), judgment.Request{
		LayerContent: "hello", LayerRole: judgment.RoleUser, Template: judgment.TemplateRelational,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, resp.Truth)
	assert.Equal(t, "generative", resp.ExchangeType)
	assert.Equal(t, "gemini-2.5-flash", gen.model)
	require.NotNil(t, gen.cfg)
	assert.Equal(t, "application/json", gen.cfg.ResponseMIMEType)
}

func TestGeminiTemperature(t *testing.T) {
	gen := &fakeGenerator{text: `{"truth":0.5,"indeterminacy":0.2,"falsehood":0.3,"exchange_type":"neutral"}`}
	g := NewGeminiWithGenerator(gen, "m").WithTemperature(0.4)

	_, err := g.Submit(context.Background(), judgment.Request{LayerContent: "x", LayerRole: judgment.RoleUser, Template: judgment.TemplateRelational})
	require.NoError(t, err)
	require.NotNil(t, gen.cfg.Temperature)
	assert.InDelta(t, 0.4, float64(*gen.cfg.Temperature), 1e-6)
}

func TestGeminiErrors(t *testing.T) {
	req := judgment.Request{LayerContent: "x", LayerRole: judgment.RoleUser, Template: judgment.TemplateRelational}

	_, err := NewGeminiWithGenerator(&fakeGenerator{err: errors.New("503")}, "m").Submit(context.Background(), req)
	require.ErrorIs(t, err, judgment.ErrOracleTransport)

	_, err = NewGeminiWithGenerator(&fakeGenerator{err: context.DeadlineExceeded}, "m").Submit(context.Background(), req)
	require.ErrorIs(t, err, judgment.ErrOracleTimeout)

	_, err = NewGeminiWithGenerator(&fakeGenerator{text: "I can't help with that."}, "m").Submit(context.Background(), req)
	require.ErrorIs(t, err, judgment.ErrOracleMalformed)
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "")
	require.Error(t, err)
}
