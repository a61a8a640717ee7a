package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/config"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/oracle"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a recorded oracle
// script plus the turns to evaluate against it.
type Fixture struct {
	Description string        `json:"description"`
	Config      FixtureConfig `json:"config"`
	Script      []oracle.Rule `json:"script"`
	Turns       []Turn        `json:"turns"`
}

// FixtureConfig overrides engine defaults for a replay run. Zero values keep the default.
type FixtureConfig struct {
	Mode       string  `json:"mode,omitempty"`
	Stages     int     `json:"stages,omitempty"`
	CircleSize int     `json:"circle_size,omitempty"`
	Rounds     int     `json:"rounds,omitempty"`
	EMAAlpha   float64 `json:"ema_alpha,omitempty"`
}

// Turn is one evaluate call.
type Turn struct {
	TurnID  string           `json:"turn_id"`
	Session string           `json:"session,omitempty"`
	Layers  []judgment.Layer `json:"layers"`
	Expect  Expectation      `json:"expect"`
}

// Expectation is what a turn should produce. Empty fields are not checked.
// Action is "accept", "reject", or "error".
type Expectation struct {
	Action        string `json:"action"`
	TerminalStage string `json:"terminal_stage,omitempty"`
	ExchangeType  string `json:"exchange_type,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Turns) == 0 {
		return nil, fmt.Errorf("parse fixture %s: no turns", path)
	}
	return &f, nil
}

// scriptModel is the single model every replay engine is built around.
const scriptModel = "replay"

// EngineConfig applies the fixture overrides to the default configuration,
// with one scripted model standing in for every oracle.
func (fc FixtureConfig) EngineConfig() config.Config {
	cfg := config.Default()
	cfg.Models = []string{scriptModel}
	cfg.Oracles = []config.OracleConfig{{ID: scriptModel, Kind: oracle.KindScripted, Script: "fixture"}}
	if fc.Mode != "" {
		cfg.Mode = fc.Mode
	}
	if fc.Stages != 0 {
		cfg.Pipeline.Stages = fc.Stages
	}
	if fc.CircleSize != 0 {
		cfg.CircleSize = fc.CircleSize
	}
	if fc.Rounds != 0 {
		cfg.Rounds = fc.Rounds
	}
	if fc.EMAAlpha != 0 {
		cfg.EMAAlpha = fc.EMAAlpha
	}
	return cfg
}

// #endregion fixture-loader
