package oracle

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// contentGenerator is the slice of genai.Models the oracle needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// #region gemini
// Gemini is a judgment oracle backed by the Gemini API.
type Gemini struct {
	models      contentGenerator
	model       string
	temperature float32
}

// NewGemini connects to the Gemini API with apiKey.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini oracle: api key is empty")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{models: client.Models, model: model}, nil
}

// NewGeminiWithGenerator creates a Gemini oracle over an injected generator.
// Used for testing without network access.
func NewGeminiWithGenerator(gen contentGenerator, model string) *Gemini {
	return &Gemini{models: gen, model: model}
}

// WithTemperature sets the sampling temperature sent with every request.
func (g *Gemini) WithTemperature(t float32) *Gemini {
	g.temperature = t
	return g
}

// Submit renders the template prompt and parses the JSON judgment from the reply.
func (g *Gemini) Submit(ctx context.Context, req judgment.Request) (judgment.Response, error) {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return judgment.Response{}, err
	}

	temp := g.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       &temp,
		ResponseMIMEType:  "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	res, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return judgment.Response{}, fmt.Errorf("%w: gemini %s: %w", judgment.ErrOracleTimeout, g.model, err)
		}
		return judgment.Response{}, fmt.Errorf("%w: gemini %s: %w", judgment.ErrOracleTransport, g.model, err)
	}
	if res == nil {
		return judgment.Response{}, fmt.Errorf("%w: gemini %s returned no response", judgment.ErrOracleMalformed, g.model)
	}
	text := res.Text()
	if text == "" {
		return judgment.Response{}, fmt.Errorf("%w: gemini %s returned empty text", judgment.ErrOracleMalformed, g.model)
	}
	return ParseResponse(text)
}

// #endregion gemini
