package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/ayni"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/circle"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/config"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/pipeline"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/record"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/session"
)

// #region evaluate
// Evaluate runs the pipeline over layers. With a non-empty sessionKey the session's
// trust informs borderline results and is updated with the final balance.
func (e *Engine) Evaluate(ctx context.Context, layers []judgment.Layer, sessionKey string) (Outcome, error) {
	var sess *ayni.SessionContext
	if sessionKey != "" {
		st, err := e.tracker.Snapshot(ctx, sessionKey)
		if err != nil {
			return Outcome{}, fmt.Errorf("evaluate: %w", err)
		}
		sess = &ayni.SessionContext{TrustEMA: st.TrustEMA, TurnCount: st.TurnCount}
	}

	po, err := e.controller.Run(ctx, layers, sess)
	if err != nil {
		e.logger.Warn("evaluation failed", zap.String("session", sessionKey), zap.Error(err))
		return Outcome{}, err
	}
	out := Outcome{Outcome: po, ID: uuid.New().String(), SessionKey: sessionKey}

	if e.config.Mode == config.ModeFireCircle && out.Result.ExchangeType == judgment.ExchangeBorderline {
		e.escalate(ctx, layers, &out)
	}

	if sessionKey != "" {
		st, err := e.tracker.Update(ctx, sessionKey, session.Observation{
			Balance:  out.Result.Balance,
			Violated: out.Result.NonCompensable(),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("evaluate: %w", err)
		}
		out.Session = &st
	}

	e.persist(ctx, out)
	e.logger.Info("evaluation complete",
		zap.String("evaluation", out.ID),
		zap.String("session", sessionKey),
		zap.String("decision", string(out.Decision)),
		zap.String("terminal_stage", string(out.TerminalStage)),
		zap.Float64("balance", out.Result.Balance),
		zap.String("exchange_type", string(out.Result.ExchangeType)),
		zap.Int("exclusions", len(out.Exclusions)),
	)
	return out, nil
}

// escalate hands a borderline result to the Fire Circle and adopts its consensus.
// A failed deliberation leaves the pipeline outcome in place.
func (e *Engine) escalate(ctx context.Context, layers []judgment.Layer, out *Outcome) {
	res, err := e.circle.Deliberate(ctx, layers)
	if err != nil {
		e.logger.Warn("fire circle escalation failed, keeping pipeline outcome",
			zap.String("evaluation", out.ID), zap.Error(err))
		return
	}
	out.Deliberation = &res
	out.Result.Balance = res.ConsensusBalance
	out.Result.ExchangeType = res.ConsensusExchangeType
	out.Result.Reason = fmt.Sprintf("fire circle consensus %.3f over %d rounds", res.ConsensusBalance, len(res.Rounds))
	if res.ConsensusExchangeType == judgment.ExchangeExtractive {
		out.Decision = pipeline.DecisionReject
	}
}

// #endregion evaluate

// #region deliberate
// Deliberate runs a Fire Circle over the final layer of layers.
func (e *Engine) Deliberate(ctx context.Context, layers []judgment.Layer) (circle.Result, error) {
	res, err := e.circle.Deliberate(ctx, layers)
	if err != nil {
		return circle.Result{}, err
	}
	for _, rec := range record.FromDeliberation(res, e.now()) {
		e.save(ctx, rec)
	}
	return res, nil
}

// #endregion deliberate

// #region persist
func (e *Engine) persist(ctx context.Context, out Outcome) {
	at := e.now()
	rec := record.Evaluation{
		ID:            out.ID,
		SessionKey:    out.SessionKey,
		Decision:      string(out.Decision),
		TerminalStage: string(out.TerminalStage),
		Result:        out.Result,
		Preview:       out.Preview,
		CreatedAt:     at,
	}
	if out.Deliberation != nil {
		rec.DeliberationID = out.Deliberation.ID
		for _, r := range record.FromDeliberation(*out.Deliberation, at) {
			e.save(ctx, r)
		}
	}
	e.save(ctx, rec)
	if out.Session != nil {
		e.save(ctx, record.Session{State: *out.Session})
	}
}

// save never fails the caller; sink errors are logged.
func (e *Engine) save(ctx context.Context, rec record.Record) {
	if err := e.sink.Save(ctx, rec); err != nil {
		e.logger.Warn("record save failed", zap.String("record", fmt.Sprintf("%T", rec)), zap.Error(err))
	}
}

// #endregion persist
