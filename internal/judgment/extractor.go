package judgment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// #region extractor
// Extractor wraps a single oracle and turns its raw output into a typed Judgment.
// It holds no per-call state and is safe for concurrent use.
type Extractor struct {
	oracleID string
	oracle   Oracle
	timeout  time.Duration
	validate *validator.Validate
	logger   *zap.Logger
}

// NewExtractor creates an extractor bound to one oracle. A zero timeout disables the deadline.
func NewExtractor(oracleID string, oracle Oracle, timeout time.Duration, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		oracleID: oracleID,
		oracle:   oracle,
		timeout:  timeout,
		validate: validator.New(),
		logger:   logger.With(zap.String("component", "judgment"), zap.String("oracle", oracleID)),
	}
}

// OracleID returns the identifier of the wrapped oracle.
func (e *Extractor) OracleID() string {
	return e.oracleID
}

// #endregion extractor

// #region judge
// Judge asks the oracle for one judgment of layer given the preceding context.
func (e *Extractor) Judge(ctx context.Context, layer Layer, prior []Layer, tmpl TemplateID) (Judgment, error) {
	return e.JudgeFramed(ctx, layer, prior, tmpl, "")
}

// JudgeFramed is Judge with an extra framing preamble handed to the oracle.
// Exactly one oracle call is made; failures are never replaced by a default judgment.
func (e *Extractor) JudgeFramed(ctx context.Context, layer Layer, prior []Layer, tmpl TemplateID, framing string) (Judgment, error) {
	if err := layer.Validate(); err != nil {
		return Judgment{}, err
	}

	ctx, span := otel.Tracer("ayni/judgment").Start(ctx, "judgment.Judge",
		trace.WithAttributes(
			attribute.String("oracle", e.oracleID),
			attribute.Int("layer", layer.Index),
			attribute.String("template", string(tmpl)),
		))
	defer span.End()

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	req := Request{
		LayerContent: layer.Content,
		LayerRole:    layer.Role,
		Context:      RenderContext(prior),
		Template:     tmpl,
		Framing:      framing,
	}

	start := time.Now()
	resp, err := e.submit(callCtx, req)
	if err != nil {
		oe := e.classify(callCtx, layer.Index, tmpl, err)
		span.RecordError(oe)
		span.SetStatus(codes.Error, oe.Reason())
		return Judgment{}, oe
	}

	j, err := e.normalize(resp)
	if err != nil {
		oe := &OracleError{Kind: ErrOracleMalformed, Oracle: e.oracleID, LayerIndex: layer.Index, Template: tmpl, Err: err}
		span.RecordError(oe)
		span.SetStatus(codes.Error, oe.Reason())
		return Judgment{}, oe
	}

	e.logger.Debug("judgment extracted",
		zap.Int("layer", layer.Index),
		zap.String("template", string(tmpl)),
		zap.Float64("truth", j.Truth),
		zap.Float64("indeterminacy", j.Indeterminacy),
		zap.Float64("falsehood", j.Falsehood),
		zap.Duration("latency", time.Since(start)),
	)
	return j, nil
}

// #endregion judge

// #region submit
type submitResult struct {
	resp Response
	err  error
}

// submit runs the oracle call so that the deadline holds even if the backend ignores ctx.
func (e *Extractor) submit(ctx context.Context, req Request) (Response, error) {
	done := make(chan submitResult, 1)
	go func() {
		resp, err := e.oracle.Submit(ctx, req)
		done <- submitResult{resp: resp, err: err}
	}()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// #endregion submit

// #region classify
func (e *Extractor) classify(callCtx context.Context, layerIndex int, tmpl TemplateID, err error) *OracleError {
	oe := &OracleError{Oracle: e.oracleID, LayerIndex: layerIndex, Template: tmpl, Err: err}
	switch {
	case errors.Is(err, ErrOracleTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(callCtx.Err(), context.DeadlineExceeded):
		oe.Kind = ErrOracleTimeout
	case errors.Is(err, ErrOracleMalformed):
		oe.Kind = ErrOracleMalformed
	default:
		oe.Kind = ErrOracleTransport
	}
	if err == oe.Kind {
		oe.Err = nil
	}
	return oe
}

// #endregion classify

// #region normalize
// normalize validates the raw response shape and ranges.
func (e *Extractor) normalize(resp Response) (Judgment, error) {
	for name, v := range map[string]float64{
		"truth":         resp.Truth,
		"indeterminacy": resp.Indeterminacy,
		"falsehood":     resp.Falsehood,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Judgment{}, fmt.Errorf("%s is not a finite number", name)
		}
	}
	if err := e.validate.Struct(resp); err != nil {
		return Judgment{}, fmt.Errorf("validate response: %w", err)
	}
	et, ok := ParseExchangeType(resp.ExchangeType)
	if !ok {
		return Judgment{}, fmt.Errorf("unknown exchange type %q", resp.ExchangeType)
	}
	return Judgment{
		Truth:         resp.Truth,
		Indeterminacy: resp.Indeterminacy,
		Falsehood:     resp.Falsehood,
		Reasoning:     resp.Reasoning,
		ExchangeType:  et,
	}, nil
}

// #endregion normalize
