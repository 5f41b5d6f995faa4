//go:build integration

package service_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mathieu-neron/trendsync/internal/model"
	"github.com/mathieu-neron/trendsync/internal/service"
)

var (
	testRedis     *redis.Client
	testContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	if err := startRedis(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if testRedis != nil {
		_ = testRedis.Close()
	}
	if testContainer != nil {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = testContainer.Terminate(termCtx)
	}
	os.Exit(code)
}

func startRedis(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}
	testContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return err
	}
	testRedis = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	return testRedis.Ping(ctx).Err()
}

func newCache(t *testing.T) *service.CacheService {
	t.Helper()
	require.NoError(t, testRedis.FlushDB(context.Background()).Err())
	return service.NewCacheServiceWithClient(testRedis, "yt_test", 2*time.Second, zerolog.Nop())
}

func TestCache_MarkSeenAndBulkCheck(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.MarkSeen(ctx, []model.Fingerprint{
		{Identifier: "a", Title: "A"},
		{Identifier: "b", Title: "B", Mirrored: true},
	}, time.Hour))

	known, err := c.BulkCheck(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, known, 2)
	require.False(t, known["a"].Mirrored)
	require.True(t, known["b"].Mirrored)
	require.Positive(t, known["a"].TTLSeconds)

	ok, err := c.IsKnown(ctx, "c")
	require.NoError(t, err)
	require.False(t, ok)

	fields, err := testRedis.HGetAll(ctx, "yt_test:a").Result()
	require.NoError(t, err)
	require.Equal(t, "a", fields["identifier"])
	require.Equal(t, "A", fields["title"])
	require.Equal(t, "no", fields["mirrored"])
	require.NotEmpty(t, fields["cached_at"])
}

func TestCache_MarkSeenLeavesNoKeyWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	fps := make([]model.Fingerprint, 0, 50)
	for i := 0; i < 50; i++ {
		fps = append(fps, model.Fingerprint{Identifier: fmt.Sprintf("v%02d", i), Title: "t"})
	}
	require.NoError(t, c.MarkSeen(ctx, fps, time.Hour))

	for _, fp := range fps {
		ttl, err := testRedis.TTL(ctx, c.Key(fp.Identifier)).Result()
		require.NoError(t, err)
		require.Greater(t, ttl, 59*time.Minute, fp.Identifier)
	}
}

func TestCache_AttributesNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.MarkSeen(ctx, []model.Fingerprint{{Identifier: "a", Title: "first"}}, time.Hour))
	require.NoError(t, c.MarkSeen(ctx, []model.Fingerprint{{Identifier: "a", Title: "second", Mirrored: true}}, time.Hour))

	fields, err := testRedis.HGetAll(ctx, c.Key("a")).Result()
	require.NoError(t, err)
	require.Equal(t, "first", fields["title"])
	require.Equal(t, "no", fields["mirrored"])
}

func TestCache_TTLNeverShortened(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.MarkSeen(ctx, []model.Fingerprint{{Identifier: "a"}}, 2*time.Hour))
	require.NoError(t, c.MarkSeen(ctx, []model.Fingerprint{{Identifier: "a"}}, time.Minute))

	ttl, err := testRedis.TTL(ctx, c.Key("a")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Hour)

	require.NoError(t, c.MarkSeen(ctx, []model.Fingerprint{{Identifier: "a"}}, 3*time.Hour))
	ttl, err = testRedis.TTL(ctx, c.Key("a")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 2*time.Hour)
}

func TestCache_MarkMirroredOnlyLiveKeys(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.MarkSeen(ctx, []model.Fingerprint{{Identifier: "a"}}, time.Hour))
	require.NoError(t, c.MarkMirrored(ctx, []string{"a", "ghost"}))

	state, err := c.Lookup(ctx, "a")
	require.NoError(t, err)
	require.True(t, state.Mirrored)

	n, err := testRedis.Exists(ctx, c.Key("ghost")).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCache_ListKnown(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	require.NoError(t, c.MarkSeen(ctx, []model.Fingerprint{{Identifier: "a"}, {Identifier: "b"}}, time.Hour))
	require.NoError(t, testRedis.Set(ctx, "other:z", "1", 0).Err())

	known, err := c.ListKnown(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"a": {}, "b": {}}, known)
}

func TestCache_Purge(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	fps := make([]model.Fingerprint, 0, 1200)
	for i := 0; i < 1200; i++ {
		fps = append(fps, model.Fingerprint{Identifier: fmt.Sprintf("v%04d", i)})
	}
	require.NoError(t, c.MarkSeen(ctx, fps, time.Hour))
	require.NoError(t, testRedis.Set(ctx, "other:z", "1", 0).Err())
	require.NoError(t, testRedis.Set(ctx, "yt_test:nested:z", "1", 0).Err())
	token, err := c.AcquireCycleLock(ctx, time.Minute)
	require.NoError(t, err)

	removed, err := c.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 1200, removed)

	known, err := c.ListKnown(ctx, "")
	require.NoError(t, err)
	require.Empty(t, known)

	n, err := testRedis.Exists(ctx, "other:z", "yt_test:nested:z").Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = c.AcquireCycleLock(ctx, time.Minute)
	require.ErrorIs(t, err, service.ErrCycleLocked)
	require.NoError(t, c.ReleaseCycleLock(ctx, token))
}

func TestCache_CycleLock(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)

	token, err := c.AcquireCycleLock(ctx, time.Minute)
	require.NoError(t, err)

	_, err = c.AcquireCycleLock(ctx, time.Minute)
	require.ErrorIs(t, err, service.ErrCycleLocked)

	require.NoError(t, c.ReleaseCycleLock(ctx, "not-the-owner"))
	_, err = c.AcquireCycleLock(ctx, time.Minute)
	require.ErrorIs(t, err, service.ErrCycleLocked)

	require.NoError(t, c.ReleaseCycleLock(ctx, token))
	_, err = c.AcquireCycleLock(ctx, time.Minute)
	require.NoError(t, err)
}

func TestCache_Disabled(t *testing.T) {
	c := service.NewCacheService("", "yt_test", time.Second, zerolog.Nop())

	require.ErrorIs(t, c.Ping(context.Background()), service.ErrCacheUnavailable)
	_, err := c.BulkCheck(context.Background(), []string{"a"})
	require.ErrorIs(t, err, service.ErrCacheUnavailable)
	require.NoError(t, c.Close())
}
