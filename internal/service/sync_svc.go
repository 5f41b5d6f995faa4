package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/trendsync/internal/metrics"
	"github.com/mathieu-neron/trendsync/internal/model"
	"github.com/mathieu-neron/trendsync/internal/repository"
)

// ErrEmptyBatch means the fetch source returned nothing to synchronise.
var ErrEmptyBatch = errors.New("fetch returned no records")

// VideoStore is the relational sink.
type VideoStore interface {
	UpsertVideos(ctx context.Context, records []model.Record) (int, error)
	UpsertSnapshots(ctx context.Context, records []model.Record) (int, error)
}

// SyncOptions tunes a SyncService.
type SyncOptions struct {
	// TTL is the fingerprint lifetime; it bounds "at most once per identifier".
	TTL time.Duration
	// DBTimeout bounds each relational write. Zero means no extra bound.
	DBTimeout time.Duration
	// LockEnabled wraps each cycle in a Redis lease so that two processes
	// sharing a namespace never interleave cycles.
	LockEnabled bool
	// LockTTL is the lease lifetime. Defaults to 10 minutes.
	LockTTL time.Duration
}

// SyncService runs deduplication cycles: it classifies a batch as new or
// repeat and fans it out to the relational store, the cache and the mirror.
type SyncService struct {
	store  VideoStore
	cache  FingerprintCache
	mirror Mirror
	opts   SyncOptions
	log    zerolog.Logger
	now    func() time.Time
}

// NewSyncService wires the coordinator. cache may be nil, in which case every
// cycle deduplicates against the mirror.
func NewSyncService(store VideoStore, cache FingerprintCache, mirror Mirror, opts SyncOptions, logger zerolog.Logger) *SyncService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &SyncService{
		store:  store,
		cache:  cache,
		mirror: mirror,
		opts:   opts,
		log:    logger,
		now:    time.Now,
	}
}

// RunCycle processes one fetched batch. It never returns an error: failures
// are reported in the outcome together with the stage that failed.
//
// Writes happen in a fixed order: relational videos, relational snapshots,
// cache fingerprints, mirror. A relational failure stops the cycle before
// anything else is written; a cache failure is logged and ignored.
func (s *SyncService) RunCycle(ctx context.Context, records []model.Record) *model.CycleOutcome {
	out := &model.CycleOutcome{
		CycleID:   uuid.NewString(),
		StartedAt: s.now().UTC(),
		Fetched:   len(records),
	}
	log := s.log.With().Str("cycle_id", out.CycleID).Logger()
	defer s.finish(out, log)

	if s.opts.LockEnabled && s.cache != nil {
		token, err := s.cache.AcquireCycleLock(ctx, s.opts.LockTTL)
		switch {
		case errors.Is(err, ErrCycleLocked):
			out.Status = model.CycleLocked
			out.Err = err
			out.Error = err.Error()
			return out
		case err != nil:
			log.Warn().Err(err).Msg("sync: cycle lock unavailable, running unlocked")
		default:
			defer func() {
				if err := s.cache.ReleaseCycleLock(context.WithoutCancel(ctx), token); err != nil {
					log.Warn().Err(err).Msg("sync: failed to release cycle lock")
				}
			}()
		}
	}

	s.run(ctx, records, out, log)
	return out
}

func (s *SyncService) run(ctx context.Context, records []model.Record, out *model.CycleOutcome, log zerolog.Logger) {
	batch := make([]model.Record, 0, len(records))
	for _, r := range records {
		if msg := r.Validate(); msg != "" {
			out.Skipped++
			log.Warn().Str("identifier", r.Identifier).Str("reason", msg).Msg("sync: skipping malformed record")
			continue
		}
		r.Identifier, _ = model.ValidateIdentifier(r.Identifier)
		batch = append(batch, r)
	}
	if len(batch) == 0 {
		out.Status = model.CycleSuccess
		return
	}

	ids := model.Identifiers(batch)
	provider := s.selectProvider(ctx, log)
	out.Strategy = provider.Strategy()

	known, err := provider.Known(ctx, ids)
	if err != nil && provider.Strategy() == model.StrategyCache {
		metrics.CacheFallbacks.Inc()
		log.Warn().Err(err).Msg("sync: cache lookup failed mid-cycle, falling back to mirror")
		provider = MirrorKeys{Mirror: s.mirror}
		out.Strategy = provider.Strategy()
		known, err = provider.Known(ctx, ids)
	}
	if err != nil {
		s.fail(out, model.StageDedup, err)
		return
	}

	fresh, repeat := partition(batch, known)
	out.New = len(fresh)
	out.Repeat = len(repeat)

	if len(fresh) > 0 {
		if err := s.withDB(ctx, func(ctx context.Context) error {
			_, err := s.store.UpsertVideos(ctx, fresh)
			return err
		}); err != nil {
			s.fail(out, model.StageVideos, err)
			return
		}
	}

	if err := s.snapshots(ctx, batch, log); err != nil {
		s.fail(out, model.StageSnapshots, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.MarkSeen(ctx, fingerprints(batch, known), s.opts.TTL); err != nil {
			log.Warn().Err(err).Msg("sync: could not record fingerprints")
		}
	}

	toMirror := fresh
	if out.Strategy == model.StrategyCache {
		backfill := s.backfill(ctx, repeat, known, log)
		out.Backfilled = len(backfill)
		toMirror = append(append([]model.Record(nil), fresh...), backfill...)
	}
	if err := s.mirror.AppendVideos(ctx, toMirror, s.cache); err != nil {
		s.fail(out, model.StageMirror, err)
		return
	}
	if err := s.mirror.AppendSnapshots(ctx, batch); err != nil {
		s.fail(out, model.StageMirror, err)
		return
	}

	// Repeats found in the mirror may still be flagged unmirrored in the
	// cache, e.g. after an outage during an earlier cycle.
	if out.Strategy == model.StrategyMirror && s.cache != nil && len(known) > 0 {
		if err := s.cache.MarkMirrored(ctx, keysOf(known)); err != nil {
			log.Warn().Err(err).Msg("sync: could not reconcile mirrored flags")
		}
	}

	out.Status = model.CycleSuccess
}

// selectProvider picks the cache when it answers a ping, the mirror otherwise.
func (s *SyncService) selectProvider(ctx context.Context, log zerolog.Logger) KeyProvider {
	if s.cache == nil {
		return MirrorKeys{Mirror: s.mirror}
	}
	if err := s.cache.Ping(ctx); err != nil {
		metrics.CacheFallbacks.Inc()
		log.Warn().Err(err).Msg("sync: cache unavailable, deduplicating against mirror")
		return MirrorKeys{Mirror: s.mirror}
	}
	return CacheKeys{Cache: s.cache}
}

// backfill returns the repeats the cache knows but never saw reach the
// mirror, minus those the mirror turns out to contain after all. A mirror
// read failure defers the backfill to a later cycle.
func (s *SyncService) backfill(ctx context.Context, repeat []model.Record, known map[string]model.FingerprintState, log zerolog.Logger) []model.Record {
	var candidates []model.Record
	seen := make(map[string]struct{})
	for _, r := range repeat {
		state, ok := known[r.Identifier]
		if !ok || state.Mirrored {
			continue
		}
		if _, dup := seen[r.Identifier]; dup {
			continue
		}
		seen[r.Identifier] = struct{}{}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}

	existing, err := s.mirror.ExistingKeys(ctx, s.mirror.VideosSheet(), model.FieldIdentifier)
	if err != nil {
		log.Warn().Err(err).Int("candidates", len(candidates)).Msg("sync: mirror read failed, backfill deferred")
		return nil
	}

	var missing []model.Record
	var present []string
	for _, r := range candidates {
		if _, ok := existing[r.Identifier]; ok {
			present = append(present, r.Identifier)
			continue
		}
		missing = append(missing, r)
	}
	if len(present) > 0 {
		if err := s.cache.MarkMirrored(ctx, present); err != nil {
			log.Warn().Err(err).Msg("sync: could not reconcile mirrored flags")
		}
	}
	return missing
}

// snapshots writes the batch's snapshots. When the relational store lost
// video rows the cache or mirror still remembers (a wiped database), the
// batch's videos are restored and the write is retried once.
func (s *SyncService) snapshots(ctx context.Context, batch []model.Record, log zerolog.Logger) error {
	err := s.withDB(ctx, func(ctx context.Context) error {
		_, err := s.store.UpsertSnapshots(ctx, batch)
		return err
	})
	if !errors.Is(err, repository.ErrMissingVideo) {
		return err
	}

	log.Warn().Err(err).Msg("sync: snapshots reference missing videos, restoring video rows")
	return s.withDB(ctx, func(ctx context.Context) error {
		restored, err := s.store.UpsertVideos(ctx, batch)
		if err != nil {
			return err
		}
		log.Info().Int("restored", restored).Msg("sync: video rows restored")
		_, err = s.store.UpsertSnapshots(ctx, batch)
		return err
	})
}

func (s *SyncService) withDB(ctx context.Context, fn func(context.Context) error) error {
	if s.opts.DBTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DBTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (s *SyncService) fail(out *model.CycleOutcome, stage string, err error) {
	out.Status = model.CycleFailed
	out.Stage = stage
	out.Err = err
	out.Error = err.Error()
}

func (s *SyncService) finish(out *model.CycleOutcome, log zerolog.Logger) {
	out.Duration = s.now().Sub(out.StartedAt)
	out.DurationMs = out.Duration.Milliseconds()

	metrics.CyclesTotal.WithLabelValues(out.Status, out.Strategy).Inc()
	metrics.CycleDuration.Observe(out.Duration.Seconds())
	metrics.RecordsTotal.WithLabelValues("new").Add(float64(out.New))
	metrics.RecordsTotal.WithLabelValues("repeat").Add(float64(out.Repeat))
	metrics.RecordsTotal.WithLabelValues("skipped").Add(float64(out.Skipped))
	metrics.RecordsTotal.WithLabelValues("backfilled").Add(float64(out.Backfilled))

	var ev *zerolog.Event
	switch out.Status {
	case model.CycleSuccess:
		ev = log.Info()
	case model.CycleLocked:
		ev = log.Warn()
	default:
		ev = log.Error().Err(out.Err).Str("stage", out.Stage)
	}
	ev.Str("status", out.Status).
		Str("strategy", out.Strategy).
		Int("fetched", out.Fetched).
		Int("new", out.New).
		Int("repeat", out.Repeat).
		Int("skipped", out.Skipped).
		Int("backfilled", out.Backfilled).
		Dur("duration", out.Duration).
		Msg("sync: cycle finished")
}

// partition splits batch in order. The first occurrence of an identifier
// absent from known is fresh; everything else is a repeat.
func partition(batch []model.Record, known map[string]model.FingerprintState) (fresh, repeat []model.Record) {
	seen := make(map[string]struct{}, len(batch))
	for _, r := range batch {
		_, isKnown := known[r.Identifier]
		_, inBatch := seen[r.Identifier]
		seen[r.Identifier] = struct{}{}
		if isKnown || inBatch {
			repeat = append(repeat, r)
			continue
		}
		fresh = append(fresh, r)
	}
	return fresh, repeat
}

// fingerprints builds one fingerprint per distinct identifier, carrying the
// mirrored flag the key provider reported.
func fingerprints(batch []model.Record, known map[string]model.FingerprintState) []model.Fingerprint {
	seen := make(map[string]struct{}, len(batch))
	fps := make([]model.Fingerprint, 0, len(batch))
	for _, r := range batch {
		if _, dup := seen[r.Identifier]; dup {
			continue
		}
		seen[r.Identifier] = struct{}{}
		fps = append(fps, model.Fingerprint{
			Identifier: r.Identifier,
			Title:      r.Title,
			Mirrored:   known[r.Identifier].Mirrored,
		})
	}
	return fps
}

func keysOf(known map[string]model.FingerprintState) []string {
	ids := make([]string, 0, len(known))
	for id := range known {
		ids = append(ids, id)
	}
	return ids
}
