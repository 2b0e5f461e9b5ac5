// Package ingest publishes normalized inbound messages to the bus exactly
// once per message id, registering conversation claims along the way.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/baechuer/turn-bridge/internal/claims"
	"github.com/baechuer/turn-bridge/internal/metrics"
	"github.com/baechuer/turn-bridge/internal/models"
	"github.com/baechuer/turn-bridge/internal/publisher"
	"github.com/baechuer/turn-bridge/internal/redislock"
)

type Ingestor struct {
	publisher   publisher.Publisher
	redis       *redis.Client
	registry    *claims.Registry
	lockTimeout time.Duration
	dedupWindow time.Duration
}

// New builds an ingestor. A nil redis client disables deduplication and
// claim registration: every message publishes unconditionally.
func New(pub publisher.Publisher, rdb *redis.Client, registry *claims.Registry, lockTimeout, dedupWindow time.Duration) *Ingestor {
	return &Ingestor{
		publisher:   pub,
		redis:       rdb,
		registry:    registry,
		lockTimeout: lockTimeout,
		dedupWindow: dedupWindow,
	}
}

// DedupeAndPublish publishes msg unless the same message id was already
// published within the deduplication window. claim is the X-Turn-Claim
// header value, empty when absent.
func (i *Ingestor) DedupeAndPublish(ctx context.Context, msg *models.Message, claim string) error {
	if i.redis == nil {
		return i.publish(ctx, msg, claim)
	}

	lockKey := "msglock:" + msg.MessageID
	seenKey := "msgseen:" + msg.MessageID

	lock, err := redislock.Acquire(ctx, i.redis, lockKey, i.lockTimeout, 2*i.lockTimeout)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", lockKey, err)
	}
	defer func() {
		// Release must run even when the request context is already gone.
		_ = lock.Release(context.WithoutCancel(ctx))
	}()

	_, err = i.redis.Get(ctx, seenKey).Result()
	switch {
	case err == nil:
		metrics.RecordDedupHit()
		return nil
	case !errors.Is(err, redis.Nil):
		return fmt.Errorf("seen check %s: %w", seenKey, err)
	}

	if err := i.publish(ctx, msg, claim); err != nil {
		return err
	}
	if err := i.redis.Set(ctx, seenKey, "", i.dedupWindow).Err(); err != nil {
		return fmt.Errorf("mark seen %s: %w", seenKey, err)
	}
	metrics.RecordDedupMiss()
	return nil
}

// publish runs the bus publish and the claim registration concurrently.
func (i *Ingestor) publish(ctx context.Context, msg *models.Message, claim string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return i.publisher.PublishMessage(ctx, msg)
	})
	g.Go(func() error {
		return i.registry.Store(ctx, claim, msg.FromAddr)
	})
	return g.Wait()
}
