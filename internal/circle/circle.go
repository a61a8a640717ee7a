package circle

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/ayni"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/trustfield"
)

// #region circle
// Circle runs multi-round deliberations over a fixed set of participants.
type Circle struct {
	participants []Participant
	calc         *trustfield.Calculator
	agg          *ayni.Aggregator
	config       Config
	logger       *zap.Logger
}

// New creates a circle. It needs at least QuorumMin participants and QuorumMin ≥ 2.
func New(participants []Participant, calc *trustfield.Calculator, agg *ayni.Aggregator, config Config, logger *zap.Logger) (*Circle, error) {
	if config.QuorumMin < 2 {
		return nil, fmt.Errorf("new circle: quorum_min %d must be at least 2", config.QuorumMin)
	}
	if len(participants) < config.QuorumMin {
		return nil, fmt.Errorf("new circle: %d participants cannot meet quorum %d", len(participants), config.QuorumMin)
	}
	if config.Rounds < 1 {
		return nil, fmt.Errorf("new circle: rounds %d must be at least 1", config.Rounds)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Circle{
		participants: participants,
		calc:         calc,
		agg:          agg,
		config:       config,
		logger:       logger.With(zap.String("component", "circle")),
	}, nil
}

// ChairFor returns the participant holding the empty chair in round (1-based).
func (c *Circle) ChairFor(round int) Participant {
	return c.participants[(round-1)%len(c.participants)]
}

// #endregion circle

// #region deliberate
// Deliberate judges the final layer across Rounds sequential rounds.
// Any round below quorum ends the deliberation with a *QuorumError.
func (c *Circle) Deliberate(ctx context.Context, layers []judgment.Layer) (Result, error) {
	if err := judgment.ValidateExchange(layers); err != nil {
		return Result{}, fmt.Errorf("deliberate: %w", err)
	}
	target := layers[len(layers)-1]
	prior := layers[:len(layers)-1]
	field := c.calc.Compute(layers, nil)

	res := Result{ID: uuid.New().String(), Violations: field.Violations}
	framing := ""
	for r := 1; r <= c.config.Rounds; r++ {
		summary, err := c.round(ctx, r, target, prior, field, framing)
		if err != nil {
			c.logger.Warn("deliberation failed", zap.String("deliberation", res.ID), zap.Int("round", r), zap.Error(err))
			return Result{}, err
		}
		res.Rounds = append(res.Rounds, summary)
		framing = summary.Framing()
	}

	last := res.Rounds[len(res.Rounds)-1]
	res.ConsensusBalance = last.ConsensusBalance
	res.ConsensusExchangeType = last.ConsensusExchangeType
	res.ConsensusDelta = last.ConsensusDelta

	c.logger.Info("deliberation complete",
		zap.String("deliberation", res.ID),
		zap.Int("rounds", len(res.Rounds)),
		zap.Float64("consensus_balance", res.ConsensusBalance),
		zap.String("consensus_exchange_type", string(res.ConsensusExchangeType)),
		zap.Float64("consensus_delta", res.ConsensusDelta),
	)
	return res, nil
}

// #endregion deliberate

// #region round
func (c *Circle) round(ctx context.Context, index int, target judgment.Layer, prior []judgment.Layer, field trustfield.Field, prevSummary string) (RoundSummary, error) {
	chair := c.ChairFor(index)
	ctx, span := otel.Tracer("ayni/circle").Start(ctx, "circle.Round",
		trace.WithAttributes(
			attribute.Int("round", index),
			attribute.String("chair", chair.ID),
			attribute.Int("participants", len(c.participants)),
		))
	defer span.End()

	judged := make([]*judgment.Judgment, len(c.participants))
	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.participants {
		tmpl, framing := judgment.TemplateCircleMember, prevSummary
		if p.ID == chair.ID {
			tmpl = judgment.TemplateEmptyChair
			framing = joinFraming(c.config.ChairFraming, prevSummary)
		}
		g.Go(func() error {
			j, err := p.Extractor.JudgeFramed(gctx, target, prior, tmpl, framing)
			if err != nil {
				mu.Lock()
				failures[p.ID] = err
				mu.Unlock()
				c.logger.Warn("participant excluded",
					zap.Int("round", index),
					zap.String("participant", p.ID),
					zap.Int("layer", target.Index),
					zap.String("template", string(tmpl)),
					zap.String("reason", judgment.Reason(err)),
				)
				return nil
			}
			judged[i] = &j
			return nil
		})
	}
	_ = g.Wait()

	var all, others []judgment.LayerJudgment
	nets := make(map[string]float64)
	chairResponded := false
	for i, j := range judged {
		if j == nil {
			continue
		}
		p := c.participants[i]
		lj := judgment.LayerJudgment{Index: target.Index, Template: judgment.TemplateCircleMember, Judgment: *j}
		if p.ID == chair.ID {
			lj.Template = judgment.TemplateEmptyChair
			chairResponded = true
		} else {
			others = append(others, lj)
		}
		all = append(all, lj)
		nets[p.ID] = j.Net()
	}

	if len(all) < c.config.QuorumMin {
		qe := &QuorumError{Round: index, Responded: len(all), Required: c.config.QuorumMin, Failures: failures}
		span.RecordError(qe)
		span.SetStatus(codes.Error, "quorum not met")
		return RoundSummary{}, qe
	}

	// participants judge the same layer, so they weigh equally and carry no direction
	consensusField := trustfield.Field{Violations: field.Violations, Candidates: field.Candidates}
	with := c.agg.Aggregate(all, consensusField, nil)
	delta := 0.0
	if chairResponded && len(others) > 0 {
		without := c.agg.Aggregate(others, consensusField, nil)
		delta = math.Abs(with.Balance - without.Balance)
	}

	summary := RoundSummary{
		Index:                 index,
		ChairID:               chair.ID,
		ChairResponded:        chairResponded,
		ParticipantNets:       nets,
		ConsensusBalance:      with.Balance,
		ConsensusExchangeType: with.ExchangeType,
		ConsensusDelta:        delta,
	}
	if len(failures) > 0 {
		summary.Failed = make(map[string]string, len(failures))
		for id, err := range failures {
			summary.Failed[id] = judgment.Reason(err)
		}
	}
	for _, p := range c.participants {
		if net, ok := nets[p.ID]; ok && math.Abs(net-with.Balance) > c.config.DissentThreshold {
			summary.Dissenters = append(summary.Dissenters, p.ID)
		}
	}

	span.SetAttributes(
		attribute.Int("responded", len(all)),
		attribute.Float64("consensus_balance", with.Balance),
		attribute.Float64("consensus_delta", delta),
	)
	c.logger.Debug("round complete",
		zap.Int("round", index),
		zap.String("chair", chair.ID),
		zap.Int("responded", len(all)),
		zap.Float64("consensus_balance", with.Balance),
		zap.Float64("consensus_delta", delta),
	)
	return summary, nil
}

// #endregion round

// #region helpers
func joinFraming(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p
	}
	return out
}

// #endregion helpers
