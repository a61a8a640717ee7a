package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// #region rule
// Rule is one canned answer. Empty match fields match anything.
type Rule struct {
	Template judgment.TemplateID `json:"template,omitempty"`
	Contains string              `json:"contains,omitempty"` // substring of the layer content
	Framing  string              `json:"framing,omitempty"`  // substring of the framing preamble
	Response judgment.Response   `json:"response"`
	Error    string              `json:"error,omitempty"` // "timeout" | "malformed" | "transport"
	DelayMS  int                 `json:"delay_ms,omitempty"`
}

func (r Rule) matches(req judgment.Request) bool {
	if r.Template != "" && r.Template != req.Template {
		return false
	}
	if r.Contains != "" && !strings.Contains(req.LayerContent, r.Contains) {
		return false
	}
	if r.Framing != "" && !strings.Contains(req.Framing, r.Framing) {
		return false
	}
	return true
}

// #endregion rule

// #region scripted
// Scripted answers from a fixed rule list; the first matching rule wins.
// It records every request it sees.
type Scripted struct {
	rules []Rule

	mu    sync.Mutex
	calls []judgment.Request
}

// NewScripted creates a scripted oracle.
func NewScripted(rules ...Rule) *Scripted {
	return &Scripted{rules: rules}
}

// LoadScripted reads a JSON array of rules from path.
func LoadScripted(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	return NewScripted(rules...), nil
}

// Submit returns the first matching rule's response or error.
func (s *Scripted) Submit(ctx context.Context, req judgment.Request) (judgment.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	for _, r := range s.rules {
		if !r.matches(req) {
			continue
		}
		if r.DelayMS > 0 {
			select {
			case <-time.After(time.Duration(r.DelayMS) * time.Millisecond):
			case <-ctx.Done():
				return judgment.Response{}, ctx.Err()
			}
		}
		if r.Error != "" {
			return judgment.Response{}, scriptedError(r.Error)
		}
		return r.Response, nil
	}
	return judgment.Response{}, fmt.Errorf("%w: no scripted answer for template %s", judgment.ErrOracleTransport, req.Template)
}

// Calls returns a copy of the requests seen so far.
func (s *Scripted) Calls() []judgment.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]judgment.Request(nil), s.calls...)
}

func scriptedError(kind string) error {
	switch kind {
	case "timeout":
		return fmt.Errorf("%w: scripted", judgment.ErrOracleTimeout)
	case "malformed":
		return fmt.Errorf("%w: scripted", judgment.ErrOracleMalformed)
	}
	return fmt.Errorf("%w: scripted %s", judgment.ErrOracleTransport, kind)
}

// #endregion scripted
