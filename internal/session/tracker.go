package session

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// Loader hydrates a session the tracker has not seen in this process.
type Loader interface {
	LoadSession(ctx context.Context, key string) (*State, error)
}

// #region tracker
// Tracker is an arena of session states with a single writer per key.
// Reads return snapshots and never wait on writers.
type Tracker struct {
	config Config
	loader Loader
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	lock   chan struct{} // one slot; holding it makes the caller the key's writer
	state  State         // guarded by Tracker.mu
	seeded bool          // loader consulted; guarded by lock
}

// NewTracker creates an empty arena. loader may be nil.
func NewTracker(config Config, loader Loader, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		config:  config,
		loader:  loader,
		logger:  logger.With(zap.String("component", "session")),
		entries: make(map[string]*entry),
	}
}

// #endregion tracker

// #region get
// Get returns the current state of key, or a zero state if unseen.
func (t *Tracker) Get(key string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	if !ok {
		return Zero(key)
	}
	return e.state.Clone()
}

// Snapshot is Get for a key that may only exist in the loader's store.
// It hydrates the key first, waiting behind any writer.
func (t *Tracker) Snapshot(ctx context.Context, key string) (State, error) {
	e, err := t.acquire(ctx, key)
	if err != nil {
		return State{}, err
	}
	defer func() { <-e.lock }()
	if !e.seeded {
		t.seed(ctx, key, e)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return e.state.Clone(), nil
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// #endregion get

// #region update
// Update folds one observation into key's trajectory and returns the new state.
// Concurrent updates of the same key are serialized; if ctx ends while waiting,
// the error wraps ErrSessionLockContention.
func (t *Tracker) Update(ctx context.Context, key string, obs Observation) (State, error) {
	if math.IsNaN(obs.Balance) || math.IsInf(obs.Balance, 0) {
		return State{}, fmt.Errorf("update session %q: balance is not finite", key)
	}

	e, err := t.acquire(ctx, key)
	if err != nil {
		return State{}, err
	}
	defer func() { <-e.lock }()

	if !e.seeded {
		t.seed(ctx, key, e)
	}

	t.mu.RLock()
	old := e.state
	t.mu.RUnlock()

	next := Step(old, obs, t.config)

	t.mu.Lock()
	e.state = next
	t.mu.Unlock()

	t.logger.Debug("session updated",
		zap.String("session", key),
		zap.Int("turn", next.TurnCount),
		zap.Float64("trust_ema", next.TrustEMA),
		zap.String("trajectory", string(next.Trajectory)),
	)
	return next.Clone(), nil
}

// Expire drops key. A writer already holding the key finishes on the detached entry.
func (t *Tracker) Expire(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// #endregion update

// #region locking
func (t *Tracker) acquire(ctx context.Context, key string) (*entry, error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{lock: make(chan struct{}, 1), state: Zero(key)}
		t.entries[key] = e
	}
	t.mu.Unlock()

	select {
	case e.lock <- struct{}{}:
		return e, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: session %q: %w", ErrSessionLockContention, key, ctx.Err())
	}
}

// seed consults the loader once per key. Load failures are logged and the key starts fresh.
func (t *Tracker) seed(ctx context.Context, key string, e *entry) {
	e.seeded = true
	if t.loader == nil {
		return
	}
	loaded, err := t.loader.LoadSession(ctx, key)
	if err != nil {
		t.logger.Warn("session restore failed", zap.String("session", key), zap.Error(err))
		return
	}
	if loaded == nil {
		return
	}
	restored := loaded.Clone()
	restored.SessionKey = key
	restored.TrustEMA = clamp(restored.TrustEMA)
	if t.config.HistorySize > 0 && len(restored.History) > t.config.HistorySize {
		restored.History = restored.History[len(restored.History)-t.config.HistorySize:]
	}
	if restored.Trajectory == "" {
		restored.Trajectory = TrajectoryStable
	}

	t.mu.Lock()
	e.state = restored
	t.mu.Unlock()
	t.logger.Debug("session restored", zap.String("session", key), zap.Int("turn", restored.TurnCount))
}

// #endregion locking
