package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/ayni"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/trustfield"
)

// #region controller
// Controller routes an exchange through coherence, relational, and preview stages.
type Controller struct {
	extractor *judgment.Extractor
	calc      *trustfield.Calculator
	agg       *ayni.Aggregator
	config    Config
	logger    *zap.Logger
}

// NewController creates a controller over one extractor.
func NewController(extractor *judgment.Extractor, calc *trustfield.Calculator, agg *ayni.Aggregator, config Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		extractor: extractor,
		calc:      calc,
		agg:       agg,
		config:    config,
		logger:    logger.With(zap.String("component", "pipeline")),
	}
}

// #endregion controller

// #region run
// Run evaluates layers. sess may be nil. There are no retries: an oracle failure that
// leaves a required layer unjudged returns an *EvaluationError.
func (c *Controller) Run(ctx context.Context, layers []judgment.Layer, sess *ayni.SessionContext) (Outcome, error) {
	if err := judgment.ValidateExchange(layers); err != nil {
		return Outcome{}, fmt.Errorf("run pipeline: %w", err)
	}
	var out Outcome

	// --- Stage 1: coherence ---
	done, err := c.coherence(ctx, layers, sess, &out)
	if err != nil || done {
		return out, err
	}
	if c.config.Stages < 2 {
		return c.finish(out, StageCoherence, out.Result), nil
	}

	// --- Stage 2: relational ---
	if err := c.relational(ctx, layers, sess, &out); err != nil {
		return out, err
	}
	if out.Result.ExchangeType != judgment.ExchangeBorderline || c.config.Stages < 3 {
		return c.finish(out, StageRelational, out.Result), nil
	}

	// --- Stage 3: outcome preview ---
	if err := c.preview(ctx, layers, &out); err != nil {
		return out, err
	}
	return out, nil
}

// #endregion run

// #region coherence
// coherence makes one oracle call on the final layer and runs the structural scan.
// It reports done when the exchange is rejected here.
func (c *Controller) coherence(ctx context.Context, layers []judgment.Layer, sess *ayni.SessionContext, out *Outcome) (bool, error) {
	out.StagesRun = append(out.StagesRun, StageCoherence)
	final := layers[len(layers)-1]

	j, err := c.extractor.Judge(ctx, final, layers[:len(layers)-1], judgment.TemplateCoherence)
	if err != nil {
		c.exclude(out, StageCoherence, final.Index, err)
		return true, &EvaluationError{Stage: StageCoherence, LayerIndex: final.Index, Causes: []error{err}}
	}
	out.Coherence = &j

	field := c.calc.Compute(layers, nil)
	lj := []judgment.LayerJudgment{{Index: final.Index, Template: judgment.TemplateCoherence, Judgment: j}}

	incoherent := j.Falsehood >= c.config.CoherenceRejectFalsehood && j.Truth <= c.config.CoherenceRejectTruth
	out.Metrics = append(out.Metrics,
		StageMetric{Stage: StageCoherence, Name: "falsehood", Value: j.Falsehood, Pass: !incoherent},
		StageMetric{Stage: StageCoherence, Name: "non_compensable", Value: boolValue(field.Violations.HasNonCompensable()), Pass: !field.Violations.HasNonCompensable()},
	)

	if incoherent || field.Violations.HasNonCompensable() {
		res := c.agg.Aggregate(lj, field, nil)
		out.Decision = DecisionReject
		out.TerminalStage = StageCoherence
		out.Result = res
		out.Reason = fmt.Sprintf("coherence reject: %s", res.Reason)
		if incoherent && !field.Violations.HasNonCompensable() {
			out.Reason = fmt.Sprintf("coherence reject: confidently incoherent (T=%.2f F=%.2f)", j.Truth, j.Falsehood)
		}
		c.logger.Debug("stage terminal", zap.String("stage", string(StageCoherence)), zap.String("reason", out.Reason))
		return true, nil
	}

	out.Result = c.agg.Aggregate(lj, field, sess)
	c.logger.Debug("stage passed", zap.String("stage", string(StageCoherence)), zap.Float64("falsehood", j.Falsehood))
	return false, nil
}

// #endregion coherence

// #region relational
type layerOutcome struct {
	judgment judgment.Judgment
	err      error
}

// relational judges every layer concurrently and aggregates by layer index.
func (c *Controller) relational(ctx context.Context, layers []judgment.Layer, sess *ayni.SessionContext, out *Outcome) error {
	out.StagesRun = append(out.StagesRun, StageRelational)

	outcomes := make([]layerOutcome, len(layers))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range layers {
		g.Go(func() error {
			j, err := c.extractor.Judge(gctx, l, layers[:i], judgment.TemplateRelational)
			mu.Lock()
			outcomes[i] = layerOutcome{judgment: j, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// outcomes are indexed by layer position, so judged comes out in layer order
	var judged []judgment.LayerJudgment
	var causes []error
	for i, o := range outcomes {
		if o.err != nil {
			c.exclude(out, StageRelational, layers[i].Index, o.err)
			causes = append(causes, o.err)
			continue
		}
		judged = append(judged, judgment.LayerJudgment{Index: layers[i].Index, Template: judgment.TemplateRelational, Judgment: o.judgment})
	}

	final := layers[len(layers)-1]
	if len(judged) == 0 || outcomes[len(outcomes)-1].err != nil {
		return &EvaluationError{Stage: StageRelational, LayerIndex: final.Index, Causes: causes}
	}

	field := c.calc.Compute(layers, judged)
	out.Result = c.agg.Aggregate(judged, field, sess)
	out.Metrics = append(out.Metrics,
		StageMetric{Stage: StageRelational, Name: "judged_layers", Value: float64(len(judged)), Pass: true},
		StageMetric{Stage: StageRelational, Name: "balance", Value: out.Result.Balance, Pass: out.Result.ExchangeType != judgment.ExchangeExtractive},
		StageMetric{Stage: StageRelational, Name: "reciprocation", Value: field.Reciprocation, Pass: true},
	)
	c.logger.Debug("stage complete",
		zap.String("stage", string(StageRelational)),
		zap.Float64("balance", out.Result.Balance),
		zap.String("exchange_type", string(out.Result.ExchangeType)),
		zap.Int("excluded", len(causes)),
	)
	return nil
}

// #endregion relational

// #region preview
// preview judges a hypothetical compliant response. Its judgment never enters Result.
func (c *Controller) preview(ctx context.Context, layers []judgment.Layer, out *Outcome) error {
	out.StagesRun = append(out.StagesRun, StagePreview)
	final := layers[len(layers)-1]

	j, err := c.extractor.Judge(ctx, final, layers[:len(layers)-1], judgment.TemplateOutcomePreview)
	if err != nil {
		c.exclude(out, StagePreview, final.Index, err)
		return &EvaluationError{Stage: StagePreview, LayerIndex: final.Index, Causes: []error{err}}
	}
	out.Preview = &j

	harmful := j.Falsehood >= c.config.PreviewRejectFalsehood && j.Falsehood > j.Truth
	out.Metrics = append(out.Metrics, StageMetric{Stage: StagePreview, Name: "falsehood", Value: j.Falsehood, Pass: !harmful})

	out.TerminalStage = StagePreview
	if harmful {
		out.Decision = DecisionReject
		out.Reason = fmt.Sprintf("outcome preview reject: compliant response judged F=%.2f", j.Falsehood)
	} else {
		out.Decision = DecisionAccept
		out.Reason = fmt.Sprintf("outcome preview accept: %s", out.Result.Reason)
	}
	return nil
}

// #endregion preview

// #region helpers
// finish settles the decision from the prompt-intent result.
func (c *Controller) finish(out Outcome, stage Stage, res ayni.Result) Outcome {
	out.TerminalStage = stage
	out.Result = res
	out.Decision = DecisionAccept
	if res.ExchangeType == judgment.ExchangeExtractive {
		out.Decision = DecisionReject
	}
	out.Reason = fmt.Sprintf("%s %s: %s", stage, out.Decision, res.Reason)
	return out
}

func (c *Controller) exclude(out *Outcome, stage Stage, layer int, err error) {
	reason := judgment.Reason(err)
	out.Exclusions = append(out.Exclusions, Exclusion{Stage: stage, LayerIndex: layer, Reason: reason, Error: err.Error()})
	c.logger.Warn("judgment excluded",
		zap.String("stage", string(stage)),
		zap.Int("layer", layer),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
