// Package engine wires oracles, the evaluation pipeline, the Fire Circle, the
// session tracker, and the record sink into the public Evaluate/Deliberate operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/ayni"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/circle"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/config"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/logging"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/oracle"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/pipeline"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/record"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/session"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/trustfield"
)

// #region outcome
// Outcome is the pipeline outcome plus engine bookkeeping.
type Outcome struct {
	pipeline.Outcome
	ID           string         `json:"id"`
	SessionKey   string         `json:"session_key,omitempty"`
	Session      *session.State `json:"session,omitempty"`
	Deliberation *circle.Result `json:"deliberation,omitempty"`
}

// #endregion outcome

// #region engine
// Engine is safe for concurrent use.
type Engine struct {
	config     config.Config
	controller *pipeline.Controller
	circle     *circle.Circle
	tracker    *session.Tracker
	sink       record.Sink
	logger     *zap.Logger
	closers    []func() error
	now        func() time.Time
}

// New assembles an engine from already-open oracles, keyed by model name.
// sink may be nil.
func New(cfg config.Config, oracles map[string]judgment.Oracle, sink record.Sink, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, m := range cfg.Models {
		if oracles[m] == nil {
			return nil, &config.Error{Problems: []string{fmt.Sprintf("model %q has no open oracle", m)}}
		}
	}
	if sink == nil {
		sink = record.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	calc := trustfield.NewCalculator(cfg.TrustFieldConfig())
	agg := ayni.NewAggregator(cfg.AggregatorConfig())

	var primary judgment.Oracle
	switch cfg.Mode {
	case config.ModeParallel:
		members := make([]oracle.Member, len(cfg.Models))
		for i, m := range cfg.Models {
			members[i] = oracle.Member{ID: m, Oracle: oracles[m]}
		}
		primary = oracle.NewEnsemble(members, cfg.MemberTimeout(), logger)
	default:
		primary = oracles[cfg.Models[0]]
	}
	ex := judgment.NewExtractor(primaryID(cfg), primary, cfg.Timeout(), logger)

	participants := make([]circle.Participant, cfg.CircleSize)
	for i := range participants {
		model := cfg.Models[i%len(cfg.Models)]
		id := fmt.Sprintf("p%d:%s", i+1, model)
		participants[i] = circle.Participant{
			ID:        id,
			Extractor: judgment.NewExtractor(id, oracles[model], cfg.Timeout(), logger),
		}
	}
	fc, err := circle.New(participants, calc, agg, cfg.CircleConfig(), logger)
	if err != nil {
		return nil, &config.Error{Problems: []string{"fire circle"}, Err: err}
	}

	return &Engine{
		config:     cfg,
		controller: pipeline.NewController(ex, calc, agg, cfg.PipelineConfig(), logger),
		circle:     fc,
		tracker:    session.NewTracker(cfg.SessionConfig(), sink, logger),
		sink:       sink,
		logger:     logging.Component(logger, "engine"),
		now:        time.Now,
	}, nil
}

// Build opens every oracle the configured models name and the configured sink.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	oracles := make(map[string]judgment.Oracle, len(cfg.Models))
	for _, m := range cfg.Models {
		if oracles[m] != nil {
			continue
		}
		oc, _ := cfg.Oracle(m)
		o, closeFn, err := oracle.Open(ctx, oc.Spec())
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("build engine: %w", err)
		}
		oracles[m] = o
		closers = append(closers, closeFn)
	}

	sink, err := openSink(ctx, cfg.Sink, logging.Component(logger, "engine"))
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	closers = append(closers, sink.Close)

	e, err := New(cfg, oracles, sink, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	e.closers = closers
	return e, nil
}

// openSink falls back to Nop when Redis is unreachable; a SQLite failure is fatal.
func openSink(ctx context.Context, sc config.SinkConfig, logger *zap.Logger) (record.Sink, error) {
	switch sc.Kind {
	case config.SinkSQLite:
		return record.OpenSQLite(sc.Path)
	case config.SinkRedis:
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		r, err := record.NewRedis(pingCtx, sc.RedisAddr, sc.RedisPrefix, sc.TTL)
		if err != nil {
			logger.Warn("redis unavailable, records will not be persisted", zap.Error(err))
			return record.Nop{}, nil
		}
		return r, nil
	}
	return record.Nop{}, nil
}

// Close releases oracles and the sink.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tracker exposes the session arena.
func (e *Engine) Tracker() *session.Tracker {
	return e.tracker
}

func primaryID(cfg config.Config) string {
	if cfg.Mode == config.ModeParallel {
		return "ensemble"
	}
	return cfg.Models[0]
}

// #endregion engine
