package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/session"
)

// #region redis
// Redis stores records in a shared Redis instance. Evaluations go to a capped list,
// round summaries to a per-deliberation list, and sessions to plain keys.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	maxList int64
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr, prefix string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisWithClient(client, prefix, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "ayni"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, maxList: 10000}
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// #endregion redis

// #region keys
func (r *Redis) evaluationsKey() string { return r.prefix + ":evaluations" }

func (r *Redis) deliberationsKey() string { return r.prefix + ":deliberations" }

func (r *Redis) roundsKey(id string) string { return r.prefix + ":deliberation:" + id + ":rounds" }

func (r *Redis) sessionKey(key string) string { return r.prefix + ":session:" + key }

// #endregion keys

// #region save
// Save writes rec as JSON.
func (r *Redis) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", rec.kind(), err)
	}

	pipe := r.client.TxPipeline()
	switch v := rec.(type) {
	case Evaluation:
		pipe.LPush(ctx, r.evaluationsKey(), data)
		pipe.LTrim(ctx, r.evaluationsKey(), 0, r.maxList-1)
	case Deliberation:
		pipe.LPush(ctx, r.deliberationsKey(), data)
		pipe.LTrim(ctx, r.deliberationsKey(), 0, r.maxList-1)
	case Round:
		key := r.roundsKey(v.DeliberationID)
		pipe.RPush(ctx, key, data)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
	case Session:
		state, err := json.Marshal(v.State)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		pipe.Set(ctx, r.sessionKey(v.State.SessionKey), state, r.ttl)
	default:
		return fmt.Errorf("save record: unsupported type %T", rec)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save %s: %w", rec.kind(), err)
	}
	return nil
}

// #endregion save

// #region load
// LoadSession returns the stored state for key, or nil if none exists.
func (r *Redis) LoadSession(ctx context.Context, key string) (*session.State, error) {
	data, err := r.client.Get(ctx, r.sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load session %q: %w", key, err)
	}
	var st session.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session %q: %w", key, err)
	}
	return &st, nil
}

// #endregion load
