package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/trendsync/internal/metrics"
	"github.com/mathieu-neron/trendsync/internal/model"
)

var (
	// ErrCacheUnavailable is returned by every CacheService call when Redis is
	// disabled or unreachable. Callers degrade to the mirror.
	ErrCacheUnavailable = errors.New("fingerprint cache unavailable")

	// ErrCycleLocked means another cycle holds the namespace lease.
	ErrCycleLocked = errors.New("sync cycle already running for namespace")
)

// Fingerprint hash fields.
const (
	fieldIdentifier = "identifier"
	fieldCachedAt   = "cached_at"
	fieldTitle      = "title"
	fieldMirrored   = "mirrored"

	mirroredYes = "yes"
	mirroredNo  = "no"
)

// extendTTL only ever lengthens a key's expiry. PTTL is -1 for a key without
// expiry (just created) and -2 for a missing key.
var extendTTL = redis.NewScript(`
local current = redis.call('PTTL', KEYS[1])
if current == -2 then
	return 0
end
local ttl = tonumber(ARGV[1])
if current < ttl then
	redis.call('PEXPIRE', KEYS[1], ttl)
	return 1
end
return 0
`)

// markMirrored flips the mirrored flag on live keys only, so an expired
// fingerprint is never resurrected without a TTL.
var markMirrored = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], 'mirrored', 'yes')
	return 1
end
return 0
`)

var releaseLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// CacheService is the fingerprint cache: a TTL-bounded "seen" marker per
// identifier, stored as a Redis hash under {namespace}:{identifier}.
type CacheService struct {
	rdb       *redis.Client
	namespace string
	timeout   time.Duration
	log       zerolog.Logger
}

// NewCacheService connects to Redis. If redisURL is empty or the connection
// fails, it returns a CacheService with a nil client; every call then fails
// with ErrCacheUnavailable.
func NewCacheService(redisURL, namespace string, timeout time.Duration, logger zerolog.Logger) *CacheService {
	c := &CacheService{namespace: namespace, timeout: timeout, log: logger}
	if redisURL == "" {
		logger.Warn().Msg("redis: no URL configured, fingerprint cache disabled")
		return c
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis: invalid URL, fingerprint cache disabled")
		return c
	}
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		// Keep the client: Redis may come back, and each cycle probes it again.
		logger.Warn().Err(err).Msg("redis: initial ping failed, cycles will fall back to the mirror until it recovers")
	} else {
		logger.Info().Msg("redis: connected, fingerprint cache enabled")
	}
	c.rdb = rdb
	return c
}

// NewCacheServiceWithClient wraps an existing client.
func NewCacheServiceWithClient(rdb *redis.Client, namespace string, timeout time.Duration, logger zerolog.Logger) *CacheService {
	return &CacheService{rdb: rdb, namespace: namespace, timeout: timeout, log: logger}
}

// Client returns the underlying Redis client (for health checks). May be nil.
func (c *CacheService) Client() *redis.Client {
	return c.rdb
}

// Namespace returns the key prefix of this cache.
func (c *CacheService) Namespace() string {
	return c.namespace
}

// Key returns the fingerprint key of an identifier.
func (c *CacheService) Key(identifier string) string {
	return fingerprintKey(c.namespace, identifier)
}

func fingerprintKey(namespace, identifier string) string {
	return fmt.Sprintf("%s:%s", namespace, identifier)
}

func (c *CacheService) lockKey() string {
	return fmt.Sprintf("lock:%s:cycle", c.namespace)
}

func (c *CacheService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// unavailable wraps a Redis error so callers can match ErrCacheUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCacheUnavailable, err)
}

// Ping probes Redis.
func (c *CacheService) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return ErrCacheUnavailable
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// IsKnown reports whether an unexpired fingerprint exists for identifier.
func (c *CacheService) IsKnown(ctx context.Context, identifier string) (bool, error) {
	if c.rdb == nil {
		return false, ErrCacheUnavailable
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	n, err := c.rdb.Exists(ctx, c.Key(identifier)).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n == 1, nil
}

// BulkCheck returns the state of every identifier that has a live
// fingerprint. One pipelined round trip regardless of batch size.
func (c *CacheService) BulkCheck(ctx context.Context, identifiers []string) (map[string]model.FingerprintState, error) {
	if c.rdb == nil {
		return nil, ErrCacheUnavailable
	}
	known := make(map[string]model.FingerprintState)
	if len(identifiers) == 0 {
		return known, nil
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	type probe struct {
		exists   *redis.IntCmd
		mirrored *redis.StringCmd
		ttl      *redis.DurationCmd
	}
	probes := make([]probe, len(identifiers))

	pipe := c.rdb.Pipeline()
	for i, id := range identifiers {
		key := c.Key(id)
		probes[i] = probe{
			exists:   pipe.Exists(ctx, key),
			mirrored: pipe.HGet(ctx, key, fieldMirrored),
			ttl:      pipe.TTL(ctx, key),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("bulk check", err)
	}

	for i, id := range identifiers {
		if probes[i].exists.Val() != 1 {
			metrics.CacheMisses.Inc()
			continue
		}
		metrics.CacheHits.Inc()
		state := model.FingerprintState{
			Identifier: id,
			Mirrored:   probes[i].mirrored.Val() == mirroredYes,
		}
		if ttl := probes[i].ttl.Val(); ttl > 0 {
			state.TTLSeconds = int64(ttl / time.Second)
		}
		known[id] = state
	}
	return known, nil
}

// Lookup returns the fingerprint state of one identifier, or nil if unknown.
func (c *CacheService) Lookup(ctx context.Context, identifier string) (*model.FingerprintState, error) {
	known, err := c.BulkCheck(ctx, []string{identifier})
	if err != nil {
		return nil, err
	}
	state, ok := known[identifier]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// MarkSeen creates or refreshes fingerprints. Attributes of an existing
// fingerprint are never overwritten; only its expiry is extended to ttl.
// The writes and the expiry run in one MULTI so no key is left without a TTL.
func (c *CacheService) MarkSeen(ctx context.Context, fingerprints []model.Fingerprint, ttl time.Duration) error {
	if c.rdb == nil {
		return ErrCacheUnavailable
	}
	if len(fingerprints) == 0 {
		return nil
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	pipe := c.rdb.TxPipeline()
	for _, fp := range fingerprints {
		key := c.Key(fp.Identifier)
		mirrored := mirroredNo
		if fp.Mirrored {
			mirrored = mirroredYes
		}
		pipe.HSetNX(ctx, key, fieldIdentifier, fp.Identifier)
		pipe.HSetNX(ctx, key, fieldCachedAt, now)
		pipe.HSetNX(ctx, key, fieldTitle, fp.Title)
		pipe.HSetNX(ctx, key, fieldMirrored, mirrored)
		extendTTL.Eval(ctx, pipe, []string{key}, ttl.Milliseconds())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("mark seen", err)
	}
	return nil
}

// MarkMirrored flags live fingerprints as present in the mirror.
func (c *CacheService) MarkMirrored(ctx context.Context, identifiers []string) error {
	if c.rdb == nil {
		return ErrCacheUnavailable
	}
	if len(identifiers) == 0 {
		return nil
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	pipe := c.rdb.Pipeline()
	for _, id := range identifiers {
		markMirrored.Eval(ctx, pipe, []string{c.Key(id)})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("mark mirrored", err)
	}
	return nil
}

// ListKnown enumerates the identifiers of every live fingerprint under
// prefix. An empty prefix means this cache's namespace.
func (c *CacheService) ListKnown(ctx context.Context, prefix string) (map[string]struct{}, error) {
	if c.rdb == nil {
		return nil, ErrCacheUnavailable
	}
	if prefix == "" {
		prefix = c.namespace
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	known := make(map[string]struct{})
	iter := c.rdb.Scan(ctx, 0, prefix+":*", 500).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), prefix+":")
		if id == "" || strings.Contains(id, ":") {
			continue
		}
		known[id] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return known, nil
}

// Purge deletes every fingerprint in this cache's namespace and reports how
// many keys were removed. The cycle lease lives outside the namespace and is
// left alone.
func (c *CacheService) Purge(ctx context.Context) (int, error) {
	if c.rdb == nil {
		return 0, ErrCacheUnavailable
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	prefix := c.namespace + ":"
	removed := 0
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	iter := c.rdb.Scan(ctx, 0, prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), prefix)
		if id == "" || strings.Contains(id, ":") {
			continue
		}
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, unavailable("purge", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable("scan", err)
	}
	if err := flush(); err != nil {
		return removed, unavailable("purge", err)
	}

	c.log.Info().Str("namespace", c.namespace).Int("removed", removed).Msg("fingerprints purged")
	return removed, nil
}

// AcquireCycleLock takes the namespace lease for ttl and returns its token.
func (c *CacheService) AcquireCycleLock(ctx context.Context, ttl time.Duration) (string, error) {
	if c.rdb == nil {
		return "", ErrCacheUnavailable
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, c.lockKey(), token, ttl).Result()
	if err != nil {
		return "", unavailable("acquire lock", err)
	}
	if !ok {
		return "", ErrCycleLocked
	}
	return token, nil
}

// ReleaseCycleLock drops the lease if it is still held by token.
func (c *CacheService) ReleaseCycleLock(ctx context.Context, token string) error {
	if c.rdb == nil {
		return ErrCacheUnavailable
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := releaseLock.Run(ctx, c.rdb, []string{c.lockKey()}, token).Err(); err != nil {
		return unavailable("release lock", err)
	}
	return nil
}

// Close shuts down the Redis connection.
func (c *CacheService) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
