// Package redis implements a recovery.Store backed by Redis, mirroring
// the thin wrapper-around-a-provided-client layering used across
// goa-ai's Redis-backed clients: callers build a *redis.Client, pass it
// to New, and receive a typed Store that exposes only the operations
// the epoch coordinator needs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowcore-dev/flowcore/recovery"
)

type (
	// Options configures the Redis-backed Store.
	Options struct {
		// Redis is the Redis connection used to persist snapshots. Required.
		Redis *redis.Client
		// KeyPrefix namespaces every key this Store writes. Defaults to
		// "flowcore:recovery".
		KeyPrefix string
		// OperationTimeout bounds individual Commit/Load calls. Zero
		// means no timeout.
		OperationTimeout time.Duration
	}

	store struct {
		redis   *redis.Client
		prefix  string
		timeout time.Duration
	}
)

const defaultKeyPrefix = "flowcore:recovery"

// New constructs a recovery.Store backed by the provided Redis
// connection. Returns an error if opts.Redis is nil.
func New(opts Options) (recovery.Store, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &store{redis: opts.Redis, prefix: prefix, timeout: opts.OperationTimeout}, nil
}

// Commit implements recovery.Store: it writes the snapshot payload under
// an epoch-addressed key, then publishes the committed-epoch pointer —
// write-then-publish, so a crash between the two leaves the prior
// pointer (and its still-present payload) intact.
func (s *store) Commit(ctx context.Context, snap recovery.Snapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.redis.Set(ctx, s.snapshotKey(snap.FlowID, snap.Epoch), payload, 0).Err(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := s.redis.Set(ctx, s.pointerKey(snap.FlowID), snap.Epoch, 0).Err(); err != nil {
		return fmt.Errorf("publish committed epoch: %w", err)
	}
	return nil
}

// CommittedEpoch implements recovery.Store.
func (s *store) CommittedEpoch(ctx context.Context, flowID string) (int64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	epoch, err := s.redis.Get(ctx, s.pointerKey(flowID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read committed epoch: %w", err)
	}
	return epoch, true, nil
}

// Load implements recovery.Store.
func (s *store) Load(ctx context.Context, flowID string, epoch int64) (recovery.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.redis.Get(ctx, s.snapshotKey(flowID, epoch)).Bytes()
	if errors.Is(err, redis.Nil) {
		return recovery.Snapshot{}, fmt.Errorf("redis store: flow %q has no snapshot at epoch %d", flowID, epoch)
	}
	if err != nil {
		return recovery.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap recovery.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return recovery.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *store) snapshotKey(flowID string, epoch int64) string {
	return fmt.Sprintf("%s:%s:epoch:%d", s.prefix, flowID, epoch)
}

func (s *store) pointerKey(flowID string) string {
	return fmt.Sprintf("%s:%s:committed", s.prefix, flowID)
}

func (s *store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
