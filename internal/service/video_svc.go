package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/trendsync/internal/model"
)

// VideoReader is the read side of the relational store.
type VideoReader interface {
	FindByIdentifier(ctx context.Context, identifier string) (*model.Video, int, error)
	Counts(ctx context.Context) (videos, snapshots int, err error)
	TopChannels(ctx context.Context, since time.Time, minVideos int) ([]model.ChannelCount, error)
}

// FingerprintReader is the read side of the fingerprint cache.
type FingerprintReader interface {
	Lookup(ctx context.Context, identifier string) (*model.FingerprintState, error)
	ListKnown(ctx context.Context, prefix string) (map[string]struct{}, error)
}

// VideoService answers the read endpoints. Cache reads are best effort: an
// unavailable cache leaves the fingerprint fields empty.
type VideoService struct {
	repo  VideoReader
	cache FingerprintReader
	log   zerolog.Logger
}

func NewVideoService(repo VideoReader, cache FingerprintReader, logger zerolog.Logger) *VideoService {
	return &VideoService{repo: repo, cache: cache, log: logger}
}

// LookupByVideoID returns the stored video with its fingerprint state.
// A missing video surfaces the repository's pgx.ErrNoRows.
func (s *VideoService) LookupByVideoID(ctx context.Context, videoID string) (*model.VideoResponse, error) {
	video, snapshots, err := s.repo.FindByIdentifier(ctx, videoID)
	if err != nil {
		return nil, err
	}

	resp := &model.VideoResponse{Video: video, Snapshots: snapshots}
	if s.cache != nil {
		state, err := s.cache.Lookup(ctx, videoID)
		if err != nil {
			s.log.Debug().Err(err).Str("identifier", videoID).Msg("video: fingerprint lookup skipped")
		} else {
			resp.Fingerprint = state
		}
	}
	return resp, nil
}

// GetStats returns table sizes, the number of live fingerprints and the
// channels with more than minVideos videos recorded since the given time.
func (s *VideoService) GetStats(ctx context.Context, since time.Time, minVideos int) (*model.StatsResponse, error) {
	videos, snapshots, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, err
	}
	channels, err := s.repo.TopChannels(ctx, since, minVideos)
	if err != nil {
		return nil, err
	}

	stats := &model.StatsResponse{
		TotalVideos:    videos,
		TotalSnapshots: snapshots,
		TopChannels:    channels,
	}
	if s.cache != nil {
		known, err := s.cache.ListKnown(ctx, "")
		if err != nil {
			s.log.Debug().Err(err).Msg("stats: fingerprint count skipped")
		} else {
			stats.CachedFingerprints = len(known)
		}
	}
	return stats, nil
}

var _ FingerprintReader = (*CacheService)(nil)
