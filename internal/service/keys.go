package service

import (
	"context"
	"time"

	"github.com/mathieu-neron/trendsync/internal/model"
)

// KeyProvider answers "which of these identifiers were seen before?".
// A cycle picks one provider up front and uses it for the whole batch.
type KeyProvider interface {
	Strategy() string
	Known(ctx context.Context, identifiers []string) (map[string]model.FingerprintState, error)
}

// FingerprintCache is the cache surface the coordinator depends on.
type FingerprintCache interface {
	MirroredMarker
	Ping(ctx context.Context) error
	BulkCheck(ctx context.Context, identifiers []string) (map[string]model.FingerprintState, error)
	MarkSeen(ctx context.Context, fingerprints []model.Fingerprint, ttl time.Duration) error
	AcquireCycleLock(ctx context.Context, ttl time.Duration) (string, error)
	ReleaseCycleLock(ctx context.Context, token string) error
}

// Mirror is the spreadsheet surface the coordinator depends on.
type Mirror interface {
	VideosSheet() string
	ExistingKeys(ctx context.Context, sheet string, keyFields ...string) (map[string]struct{}, error)
	AppendVideos(ctx context.Context, records []model.Record, marker MirroredMarker) error
	AppendSnapshots(ctx context.Context, records []model.Record) error
}

// CacheKeys answers from the fingerprint cache. Entries carry the cache's
// mirrored flag.
type CacheKeys struct {
	Cache FingerprintCache
}

func (k CacheKeys) Strategy() string { return model.StrategyCache }

func (k CacheKeys) Known(ctx context.Context, identifiers []string) (map[string]model.FingerprintState, error) {
	return k.Cache.BulkCheck(ctx, identifiers)
}

// MirrorKeys answers from the identifier column of the video sheet. Every
// identifier it knows is by definition mirrored.
type MirrorKeys struct {
	Mirror Mirror
}

func (k MirrorKeys) Strategy() string { return model.StrategyMirror }

func (k MirrorKeys) Known(ctx context.Context, identifiers []string) (map[string]model.FingerprintState, error) {
	existing, err := k.Mirror.ExistingKeys(ctx, k.Mirror.VideosSheet(), model.FieldIdentifier)
	if err != nil {
		return nil, err
	}
	known := make(map[string]model.FingerprintState)
	for _, id := range identifiers {
		if _, ok := existing[id]; ok {
			known[id] = model.FingerprintState{Identifier: id, Mirrored: true}
		}
	}
	return known, nil
}

var (
	_ FingerprintCache  = (*CacheService)(nil)
	_ FingerprintPurger = (*CacheService)(nil)
	_ Mirror            = (*MirrorService)(nil)
	_ SheetClearer      = (*MirrorService)(nil)
	_ CycleGuard        = (*SyncWorker)(nil)
)
