// Package config loads engine settings from YAML, environment overrides, and defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/ayni"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/circle"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/oracle"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/pipeline"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/session"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/trustfield"
)

// #region modes
const (
	ModeSingle     = "single"
	ModeParallel   = "parallel"
	ModeFireCircle = "fire_circle"
)

const (
	SinkNone   = "none"
	SinkSQLite = "sqlite"
	SinkRedis  = "redis"
)

// #endregion modes

// #region config
// Config is the full engine configuration.
type Config struct {
	Models     []string       `yaml:"models" validate:"required,min=1,dive,required"`
	Mode       string         `yaml:"mode" validate:"oneof=single parallel fire_circle"`
	CircleSize int            `yaml:"circle_size" validate:"min=2"`
	Rounds     int            `yaml:"rounds" validate:"min=1"`
	EMAAlpha   float64        `yaml:"ema_alpha" validate:"gt=0,lt=1"`
	QuorumMin  int            `yaml:"quorum_min" validate:"min=2"`
	TimeoutS   float64        `yaml:"timeout_s" validate:"gt=0"`
	Oracles    []OracleConfig `yaml:"oracles" validate:"dive"`

	// MemberTimeoutS bounds each ensemble member in parallel mode.
	// Zero means 80% of TimeoutS.
	MemberTimeoutS float64 `yaml:"member_timeout_s" validate:"min=0"`

	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	TrustField  TrustFieldConfig  `yaml:"trust_field"`
	Session     SessionConfig     `yaml:"session"`
	Circle      CircleConfig      `yaml:"circle"`
	Sink        SinkConfig        `yaml:"sink"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// OracleConfig defines one judgment backend. Models refer to oracles by ID.
type OracleConfig struct {
	ID          string  `yaml:"id" validate:"required"`
	Kind        string  `yaml:"kind" validate:"oneof=scripted grpc gemini"`
	Address     string  `yaml:"address" validate:"required_if=Kind grpc"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float32 `yaml:"temperature" validate:"min=0,max=2"`
	Script      string  `yaml:"script" validate:"required_if=Kind scripted"`
}

type PipelineConfig struct {
	Stages                   int     `yaml:"stages" validate:"min=1,max=3"`
	CoherenceRejectFalsehood float64 `yaml:"coherence_reject_falsehood" validate:"min=0,max=1"`
	CoherenceRejectTruth     float64 `yaml:"coherence_reject_truth" validate:"min=0,max=1"`
	PreviewRejectFalsehood   float64 `yaml:"preview_reject_falsehood" validate:"min=0,max=1"`
}

type AggregationConfig struct {
	RecencyDecay        float64 `yaml:"recency_decay" validate:"gt=0,max=1"`
	ReciprocationGain   float64 `yaml:"reciprocation_gain" validate:"min=0,max=1"`
	ReciprocalThreshold float64 `yaml:"reciprocal_threshold" validate:"min=-1,max=1"`
	ExtractiveThreshold float64 `yaml:"extractive_threshold" validate:"min=-1,max=1,ltfield=ReciprocalThreshold"`
	SessionBlend        float64 `yaml:"session_blend" validate:"min=0,max=1"`
}

type TrustFieldConfig struct {
	SaturationMinTokens     int     `yaml:"saturation_min_tokens" validate:"min=1"`
	SaturationMinPolite     int     `yaml:"saturation_min_polite" validate:"min=1"`
	SaturationPoliteToTopic float64 `yaml:"saturation_polite_to_topic" validate:"gt=0"`
}

type SessionConfig struct {
	HistorySize int     `yaml:"history_size" validate:"min=2"`
	TrendWindow int     `yaml:"trend_window" validate:"min=1,ltfield=HistorySize"`
	Epsilon     float64 `yaml:"epsilon" validate:"min=0"`
}

type CircleConfig struct {
	DissentThreshold float64 `yaml:"dissent_threshold" validate:"gt=0,max=2"`
	ChairFraming     string  `yaml:"chair_framing" validate:"required"`
}

// SinkConfig selects where records and session state are persisted.
type SinkConfig struct {
	Kind        string        `yaml:"kind" validate:"oneof=none sqlite redis"`
	Path        string        `yaml:"path" validate:"required_if=Kind sqlite"`
	RedisAddr   string        `yaml:"redis_addr" validate:"required_if=Kind redis"`
	RedisPrefix string        `yaml:"redis_prefix"`
	TTL         time.Duration `yaml:"ttl" validate:"min=0"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// #endregion config

// #region defaults
// Default returns a single-model Gemini configuration with no durable sink.
func Default() Config {
	pc := pipeline.DefaultConfig()
	ac := ayni.DefaultConfig()
	tc := trustfield.DefaultConfig()
	sc := session.DefaultConfig()
	cc := circle.DefaultConfig()
	return Config{
		Models:     []string{"gemini"},
		Mode:       ModeSingle,
		CircleSize: 3,
		Rounds:     cc.Rounds,
		EMAAlpha:   sc.Alpha,
		QuorumMin:  cc.QuorumMin,
		TimeoutS:   30,
		Oracles: []OracleConfig{
			{ID: "gemini", Kind: "gemini", Model: "gemini-2.5-flash"},
		},
		Pipeline: PipelineConfig{
			Stages:                   pc.Stages,
			CoherenceRejectFalsehood: pc.CoherenceRejectFalsehood,
			CoherenceRejectTruth:     pc.CoherenceRejectTruth,
			PreviewRejectFalsehood:   pc.PreviewRejectFalsehood,
		},
		Aggregation: AggregationConfig{
			RecencyDecay:        ac.RecencyDecay,
			ReciprocationGain:   ac.ReciprocationGain,
			ReciprocalThreshold: ac.ReciprocalThreshold,
			ExtractiveThreshold: ac.ExtractiveThreshold,
			SessionBlend:        ac.SessionBlend,
		},
		TrustField: TrustFieldConfig{
			SaturationMinTokens:     tc.SaturationMinTokens,
			SaturationMinPolite:     tc.SaturationMinPolite,
			SaturationPoliteToTopic: tc.SaturationPoliteToTopic,
		},
		Session: SessionConfig{
			HistorySize: sc.HistorySize,
			TrendWindow: sc.TrendWindow,
			Epsilon:     sc.Epsilon,
		},
		Circle: CircleConfig{
			DissentThreshold: cc.DissentThreshold,
			ChairFraming:     cc.ChairFraming,
		},
		Sink:    SinkConfig{Kind: SinkNone, RedisPrefix: "ayni"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// #endregion defaults

// #region load
// Load reads path (if non-empty) over Default, applies environment overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &Error{Problems: []string{fmt.Sprintf("read %s", path)}, Err: err}
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates, without consulting the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &Error{Problems: []string{"decode yaml"}, Err: err}
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("AYNI_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("AYNI_MODELS"); v != "" {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		c.Models = models
	}
	if v := os.Getenv("AYNI_TIMEOUT_S"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &Error{Problems: []string{"AYNI_TIMEOUT_S: not a number"}, Err: err}
		}
		c.TimeoutS = f
	}
	if v := os.Getenv("AYNI_DB"); v != "" {
		c.Sink.Kind = SinkSQLite
		c.Sink.Path = v
	}
	if v := os.Getenv("AYNI_REDIS_ADDR"); v != "" {
		c.Sink.Kind = SinkRedis
		c.Sink.RedisAddr = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		for i := range c.Oracles {
			if c.Oracles[i].Kind == "gemini" && c.Oracles[i].APIKey == "" {
				c.Oracles[i].APIKey = v
			}
		}
	}
	return nil
}

// #endregion load

// #region validate
var validate = validator.New()

// Validate checks field ranges and cross-field rules. Failures are *Error.
func (c Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &Error{Problems: []string{"validate"}, Err: err}
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if c.MemberTimeoutS > 0 && c.MemberTimeoutS >= c.TimeoutS {
		problems = append(problems, fmt.Sprintf("member_timeout_s %g must be below timeout_s %g", c.MemberTimeoutS, c.TimeoutS))
	}
	if c.QuorumMin > c.CircleSize {
		problems = append(problems, fmt.Sprintf("quorum_min %d exceeds circle_size %d", c.QuorumMin, c.CircleSize))
	}
	defined := make(map[string]bool, len(c.Oracles))
	for _, o := range c.Oracles {
		if defined[o.ID] {
			problems = append(problems, fmt.Sprintf("oracle %q defined twice", o.ID))
		}
		defined[o.ID] = true
	}
	for _, m := range c.Models {
		if m != "" && !defined[m] {
			problems = append(problems, fmt.Sprintf("model %q has no oracle definition", m))
		}
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value())
}

// #endregion validate

// #region conversions
// Timeout is the per-oracle-call deadline.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutS * float64(time.Second))
}

// MemberTimeout is the per-member deadline inside a parallel ensemble.
func (c Config) MemberTimeout() time.Duration {
	if c.MemberTimeoutS > 0 {
		return time.Duration(c.MemberTimeoutS * float64(time.Second))
	}
	return c.Timeout() * 4 / 5
}

// Spec converts an oracle definition for oracle.Open.
func (o OracleConfig) Spec() oracle.Spec {
	return oracle.Spec{
		ID:          o.ID,
		Kind:        o.Kind,
		Address:     o.Address,
		Model:       o.Model,
		APIKey:      o.APIKey,
		Temperature: o.Temperature,
		Script:      o.Script,
	}
}

func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Stages:                   c.Pipeline.Stages,
		CoherenceRejectFalsehood: c.Pipeline.CoherenceRejectFalsehood,
		CoherenceRejectTruth:     c.Pipeline.CoherenceRejectTruth,
		PreviewRejectFalsehood:   c.Pipeline.PreviewRejectFalsehood,
	}
}

func (c Config) AggregatorConfig() ayni.Config {
	return ayni.Config{
		RecencyDecay:        c.Aggregation.RecencyDecay,
		ReciprocationGain:   c.Aggregation.ReciprocationGain,
		ReciprocalThreshold: c.Aggregation.ReciprocalThreshold,
		ExtractiveThreshold: c.Aggregation.ExtractiveThreshold,
		SessionBlend:        c.Aggregation.SessionBlend,
	}
}

func (c Config) TrustFieldConfig() trustfield.Config {
	return trustfield.Config{
		SaturationMinTokens:     c.TrustField.SaturationMinTokens,
		SaturationMinPolite:     c.TrustField.SaturationMinPolite,
		SaturationPoliteToTopic: c.TrustField.SaturationPoliteToTopic,
	}
}

func (c Config) SessionConfig() session.Config {
	return session.Config{
		Alpha:       c.EMAAlpha,
		HistorySize: c.Session.HistorySize,
		TrendWindow: c.Session.TrendWindow,
		Epsilon:     c.Session.Epsilon,
	}
}

func (c Config) CircleConfig() circle.Config {
	return circle.Config{
		Rounds:           c.Rounds,
		QuorumMin:        c.QuorumMin,
		DissentThreshold: c.Circle.DissentThreshold,
		ChairFraming:     c.Circle.ChairFraming,
	}
}

// Oracle returns the definition for id.
func (c Config) Oracle(id string) (OracleConfig, bool) {
	for _, o := range c.Oracles {
		if o.ID == id {
			return o, true
		}
	}
	return OracleConfig{}, false
}

// #endregion conversions
