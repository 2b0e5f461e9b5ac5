package claims

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimsKey is the ordered set of open conversations: member = user address,
// score = unix seconds of the last activity that extended the claim.
const claimsKey = "claims"

// Registry tracks open conversation claims in Redis, shared across
// instances. A nil *Registry is a valid no-op registry, used when no Redis
// is configured.
type Registry struct {
	client *redis.Client
}

func New(client *redis.Client) *Registry {
	if client == nil {
		return nil
	}
	return &Registry{client: client}
}

// Store upserts the address with the current time. The claim token itself is
// not stored; its presence gates the write. A missing token or registry is a
// no-op.
func (r *Registry) Store(ctx context.Context, claim, address string) error {
	if r == nil || claim == "" {
		return nil
	}
	return r.client.ZAdd(ctx, claimsKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: address,
	}).Err()
}

// Delete removes the address from the registry. A missing token or registry
// is a no-op.
func (r *Registry) Delete(ctx context.Context, claim, address string) error {
	if r == nil || claim == "" {
		return nil
	}
	return r.client.ZRem(ctx, claimsKey, address).Err()
}

// ScanExpired returns every address whose claim score is at or below cutoff
// and removes them, atomically, so that concurrent reapers on other
// instances never double-close a conversation.
func (r *Registry) ScanExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	if r == nil {
		return nil, nil
	}

	var res *redis.StringSliceCmd
	max := strconv.FormatInt(cutoff.Unix(), 10)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		res = pipe.ZRangeByScore(ctx, claimsKey, &redis.ZRangeBy{Min: "-inf", Max: max})
		pipe.ZRemRangeByScore(ctx, claimsKey, "-inf", max)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res.Val(), nil
}
