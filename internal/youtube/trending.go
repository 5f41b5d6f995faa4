// Package youtube fetches the trending chart from the YouTube Data API v3.
package youtube

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/mathieu-neron/trendsync/internal/model"
	"github.com/mathieu-neron/trendsync/internal/retry"
)

// MaxResults is the largest page the videos.list endpoint serves.
const MaxResults = 50

// TrendingFetcher lists the most popular videos of one region.
type TrendingFetcher struct {
	service     *yt.Service
	regionCode  string
	size        int64
	log         zerolog.Logger
	now         func() time.Time
	RetryConfig retry.Config
}

// NewTrendingFetcher creates a fetcher authenticated with an API key.
func NewTrendingFetcher(ctx context.Context, apiKey, regionCode string, size int64, logger zerolog.Logger, opts ...option.ClientOption) (*TrendingFetcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return NewTrendingFetcherWithService(service, regionCode, size, logger), nil
}

// NewTrendingFetcherWithService wraps an existing service. size is clamped
// to [1, MaxResults].
func NewTrendingFetcherWithService(service *yt.Service, regionCode string, size int64, logger zerolog.Logger) *TrendingFetcher {
	if size < 1 {
		size = 1
	}
	if size > MaxResults {
		size = MaxResults
	}
	return &TrendingFetcher{
		service:     service,
		regionCode:  regionCode,
		size:        size,
		log:         logger,
		now:         time.Now,
		RetryConfig: retry.DefaultConfig(),
	}
}

// Fetch returns one record per trending video. Every record of a call shares
// the same RecordedAt.
func (f *TrendingFetcher) Fetch(ctx context.Context) ([]model.Record, error) {
	var resp *yt.VideoListResponse
	err := retry.Do(ctx, f.RetryConfig, retry.IsTransient, func(ctx context.Context) error {
		var err error
		resp, err = f.service.Videos.List([]string{"snippet", "statistics"}).
			Chart("mostPopular").
			RegionCode(f.regionCode).
			MaxResults(f.size).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list trending videos: %w", err)
	}

	recordedAt := f.now().UTC().Truncate(time.Second)
	records := make([]model.Record, 0, len(resp.Items))
	for _, item := range resp.Items {
		records = append(records, toRecord(item, recordedAt, f.log))
	}
	f.log.Debug().Int("count", len(records)).Str("region", f.regionCode).Msg("youtube: fetched trending chart")
	return records, nil
}

func toRecord(item *yt.Video, recordedAt time.Time, logger zerolog.Logger) model.Record {
	r := model.Record{
		Identifier: item.Id,
		RecordedAt: recordedAt,
	}

	if s := item.Snippet; s != nil {
		r.Title = s.Title
		r.Channel = s.ChannelTitle
		r.Category = s.CategoryId
		r.Tags = s.Tags
		r.ThumbnailURL = thumbnailURL(s.Thumbnails)
		if s.PublishedAt != "" {
			t, err := time.Parse(time.RFC3339, s.PublishedAt)
			if err != nil {
				logger.Warn().Err(err).Str("identifier", item.Id).Msg("youtube: unparseable publishedAt")
			} else {
				r.PublishedAt = t.UTC()
			}
		}
		if s.Description != "" {
			r.Extra = map[string]any{"description": s.Description}
		}
	}

	if st := item.Statistics; st != nil {
		r.Metrics = model.Metrics{
			Views:        int64(st.ViewCount),
			Likes:        int64(st.LikeCount),
			CommentCount: int64(st.CommentCount),
		}
	}
	return r
}

// thumbnailURL prefers the high resolution thumbnail.
func thumbnailURL(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	if t.High != nil && t.High.Url != "" {
		return t.High.Url
	}
	if t.Default != nil {
		return t.Default.Url
	}
	return ""
}
