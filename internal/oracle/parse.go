package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// #region parse
// rawResponse uses pointers so a missing field can be told apart from a zero.
type rawResponse struct {
	Truth         *float64 `json:"truth"`
	Indeterminacy *float64 `json:"indeterminacy"`
	Falsehood     *float64 `json:"falsehood"`
	Reasoning     string   `json:"reasoning"`
	ExchangeType  string   `json:"exchange_type"`
}

// ParseResponse extracts the judgment object from model text. Code fences and
// surrounding prose are tolerated; a missing T/I/F field is malformed.
func ParseResponse(text string) (judgment.Response, error) {
	body := stripFences(text)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return judgment.Response{}, fmt.Errorf("%w: no json object in %q", judgment.ErrOracleMalformed, truncate(text, 80))
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return judgment.Response{}, fmt.Errorf("%w: decode judgment: %w", judgment.ErrOracleMalformed, err)
	}
	if raw.Truth == nil || raw.Indeterminacy == nil || raw.Falsehood == nil {
		return judgment.Response{}, fmt.Errorf("%w: judgment missing truth/indeterminacy/falsehood", judgment.ErrOracleMalformed)
	}
	return judgment.Response{
		Truth:         *raw.Truth,
		Indeterminacy: *raw.Indeterminacy,
		Falsehood:     *raw.Falsehood,
		Reasoning:     raw.Reasoning,
		ExchangeType:  raw.ExchangeType,
	}, nil
}

// #endregion parse

// #region helpers
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language tag line
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// #endregion helpers
