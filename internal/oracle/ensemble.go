package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// #region ensemble
// Member is one named oracle in an ensemble.
type Member struct {
	ID     string
	Oracle judgment.Oracle
}

// Ensemble asks every member concurrently and merges the successful answers.
// It fails only when every member fails.
type Ensemble struct {
	members       []Member
	memberTimeout time.Duration
	logger        *zap.Logger
}

// NewEnsemble creates an ensemble over members. memberTimeout bounds each member's
// call and must sit below the caller's deadline, so a slow member is dropped
// while the others' answers still count. Zero leaves members on the caller's deadline.
func NewEnsemble(members []Member, memberTimeout time.Duration, logger *zap.Logger) *Ensemble {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ensemble{
		members:       members,
		memberTimeout: memberTimeout,
		logger:        logger.With(zap.String("component", "ensemble")),
	}
}

// Submit fans the request out to all members and merges the answers:
// mean T/I/F and majority exchange type, ties going to the more cautious type.
func (e *Ensemble) Submit(ctx context.Context, req judgment.Request) (judgment.Response, error) {
	if len(e.members) == 0 {
		return judgment.Response{}, fmt.Errorf("%w: ensemble has no members", judgment.ErrOracleTransport)
	}

	results := make([]*judgment.Response, len(e.members))
	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range e.members {
		g.Go(func() error {
			resp, err := e.ask(gctx, m, req)
			if err == nil {
				_, err = validResponse(resp)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("member %s: %w", m.ID, err))
				mu.Unlock()
				e.logger.Warn("ensemble member excluded",
					zap.String("member", m.ID),
					zap.String("template", string(req.Template)),
					zap.String("reason", judgment.Reason(err)),
					zap.Error(err),
				)
				return nil
			}
			results[i] = &resp
			return nil
		})
	}
	_ = g.Wait()

	var ok []judgment.Response
	var ids []string
	for i, r := range results {
		if r != nil {
			ok = append(ok, *r)
			ids = append(ids, e.members[i].ID)
		}
	}
	if len(ok) == 0 {
		return judgment.Response{}, fmt.Errorf("ensemble: all %d members failed: %w", len(e.members), errors.Join(errs...))
	}
	return merge(ok, ids), nil
}

type memberResult struct {
	resp judgment.Response
	err  error
}

// ask calls one member under its own deadline, even if the member ignores ctx.
func (e *Ensemble) ask(ctx context.Context, m Member, req judgment.Request) (judgment.Response, error) {
	if e.memberTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.memberTimeout)
		defer cancel()
	}
	done := make(chan memberResult, 1)
	go func() {
		resp, err := m.Oracle.Submit(ctx, req)
		done <- memberResult{resp: resp, err: err}
	}()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return judgment.Response{}, fmt.Errorf("%w: member deadline: %w", judgment.ErrOracleTimeout, ctx.Err())
	}
}

// #endregion ensemble

// #region merge
// caution ranks exchange types; lower is more cautious.
var caution = map[judgment.ExchangeType]int{
	judgment.ExchangeExtractive: 0,
	judgment.ExchangeNeutral:    1,
	judgment.ExchangeReciprocal: 2,
	judgment.ExchangeGenerative: 3,
}

func merge(rs []judgment.Response, ids []string) judgment.Response {
	var out judgment.Response
	votes := make(map[judgment.ExchangeType]int)
	var reasons []string
	for i, r := range rs {
		out.Truth += r.Truth
		out.Indeterminacy += r.Indeterminacy
		out.Falsehood += r.Falsehood
		et, _ := judgment.ParseExchangeType(r.ExchangeType)
		votes[et]++
		if r.Reasoning != "" {
			reasons = append(reasons, fmt.Sprintf("[%s] %s", ids[i], r.Reasoning))
		}
	}
	n := float64(len(rs))
	out.Truth /= n
	out.Indeterminacy /= n
	out.Falsehood /= n
	out.Reasoning = strings.Join(reasons, " ")

	var best judgment.ExchangeType
	bestVotes := -1
	for et, v := range votes {
		if v > bestVotes || (v == bestVotes && caution[et] < caution[best]) {
			best, bestVotes = et, v
		}
	}
	out.ExchangeType = string(best)
	return out
}

// validResponse rejects answers that would poison the mean.
func validResponse(r judgment.Response) (judgment.ExchangeType, error) {
	for _, v := range []float64{r.Truth, r.Indeterminacy, r.Falsehood} {
		if !(v >= 0 && v <= 1) {
			return "", fmt.Errorf("%w: value %v outside [0,1]", judgment.ErrOracleMalformed, v)
		}
	}
	et, ok := judgment.ParseExchangeType(r.ExchangeType)
	if !ok {
		return "", fmt.Errorf("%w: unknown exchange type %q", judgment.ErrOracleMalformed, r.ExchangeType)
	}
	return et, nil
}

// #endregion merge
