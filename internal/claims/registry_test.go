package claims

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) (*Registry, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client), mr, client
}

func TestStoreUpsertsSingleEntry(t *testing.T) {
	registry, _, client := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Store(ctx, "claim-token", "27820001001"))
	first, err := client.ZScore(ctx, "claims", "27820001001").Result()
	require.NoError(t, err)

	require.NoError(t, registry.Store(ctx, "another-token", "27820001001"))

	members, err := client.ZRange(ctx, "claims", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"27820001001"}, members)

	second, err := client.ZScore(ctx, "claims", "27820001001").Result()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second, first)
}

func TestStoreWithoutClaimIsNoop(t *testing.T) {
	registry, _, client := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Store(ctx, "", "27820001001"))

	count, err := client.ZCard(ctx, "claims").Result()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDelete(t *testing.T) {
	registry, _, client := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Store(ctx, "claim-token", "27820001001"))
	require.NoError(t, registry.Delete(ctx, "claim-token", "27820001001"))

	count, err := client.ZCard(ctx, "claims").Result()
	require.NoError(t, err)
	assert.Zero(t, count)

	// no claim token, no delete
	require.NoError(t, registry.Store(ctx, "claim-token", "27820001001"))
	require.NoError(t, registry.Delete(ctx, "", "27820001001"))
	count, err = client.ZCard(ctx, "claims").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestScanExpiredRemovesAndReturns(t *testing.T) {
	registry, _, client := setupRegistry(t)
	ctx := context.Background()

	now := time.Now()
	expired := float64(now.Add(-6 * time.Minute).Unix())
	fresh := float64(now.Unix())

	require.NoError(t, client.ZAdd(ctx, "claims",
		redis.Z{Score: expired, Member: "27820001001"},
		redis.Z{Score: expired, Member: "27820001002"},
		redis.Z{Score: fresh, Member: "27820001003"},
	).Err())

	addresses, err := registry.ScanExpired(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"27820001001", "27820001002"}, addresses)

	members, err := client.ZRange(ctx, "claims", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"27820001003"}, members)
}

func TestScanExpiredEmpty(t *testing.T) {
	registry, _, _ := setupRegistry(t)

	addresses, err := registry.ScanExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, addresses)
}

func TestNilRegistryIsNoop(t *testing.T) {
	var registry *Registry
	ctx := context.Background()

	assert.NoError(t, registry.Store(ctx, "claim", "addr"))
	assert.NoError(t, registry.Delete(ctx, "claim", "addr"))

	addresses, err := registry.ScanExpired(ctx, time.Now())
	assert.NoError(t, err)
	assert.Nil(t, addresses)
}
