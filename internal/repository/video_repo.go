package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/trendsync/internal/model"
)

// ErrMissingVideo means a snapshot references an identifier that has no row
// in videos.
var ErrMissingVideo = errors.New("snapshot references a video that is not stored")

// pgForeignKeyViolation is the SQLSTATE of a foreign key violation.
const pgForeignKeyViolation = "23503"

type VideoRepo struct {
	pool   *pgxpool.Pool
	schema string
}

func NewVideoRepo(pool *pgxpool.Pool, schema string) *VideoRepo {
	return &VideoRepo{pool: pool, schema: schema}
}

func (r *VideoRepo) table(name string) string {
	return pgx.Identifier{r.schema, name}.Sanitize()
}

// UpsertVideos inserts every record into videos in one transaction.
// Existing identifiers are skipped, never overwritten. Returns the number of
// rows actually inserted.
func (r *VideoRepo) UpsertVideos(ctx context.Context, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO ` + r.table("videos") + ` (
			identifier, title, channel, category, published_at, tags,
			views, likes, comment_count, thumbnail_url, extra, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (identifier) DO NOTHING`

	b := &pgx.Batch{}
	for _, rec := range records {
		extra, err := encodeExtra(rec.Extra)
		if err != nil {
			return 0, fmt.Errorf("encode extra for %s: %w", rec.Identifier, err)
		}
		tags := rec.Tags
		if tags == nil {
			tags = []string{}
		}
		b.Queue(query,
			rec.Identifier, rec.Title, nullString(rec.Channel), nullString(rec.Category),
			nullTime(rec.PublishedAt), tags,
			rec.Metrics.Views, rec.Metrics.Likes, rec.Metrics.CommentCount,
			nullString(rec.ThumbnailURL), extra, rec.RecordedAt,
		)
	}
	return r.sendBatch(ctx, b)
}

// UpsertSnapshots appends one trending_history row per record in one
// transaction. A repeated (identifier, recorded_at) pair is skipped.
func (r *VideoRepo) UpsertSnapshots(ctx context.Context, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO ` + r.table("trending_history") + ` (
			identifier, published_at, views, likes, comment_count, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identifier, recorded_at) DO NOTHING`

	b := &pgx.Batch{}
	for _, rec := range records {
		b.Queue(query,
			rec.Identifier, nullTime(rec.PublishedAt),
			rec.Metrics.Views, rec.Metrics.Likes, rec.Metrics.CommentCount,
			rec.RecordedAt,
		)
	}
	n, err := r.sendBatch(ctx, b)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return 0, fmt.Errorf("%w: %w", ErrMissingVideo, err)
	}
	return n, err
}

// sendBatch runs the batch inside a transaction: either every statement
// commits or none does.
func (r *VideoRepo) sendBatch(ctx context.Context, b *pgx.Batch) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, b)
	inserted := 0
	for i := 0; i < b.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, err
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// FindByIdentifier returns a single video and the number of snapshots recorded for it.
func (r *VideoRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.Video, int, error) {
	query := `
		SELECT v.identifier, v.title, v.channel, v.category, v.published_at, v.tags,
		       v.views, v.likes, v.comment_count, v.thumbnail_url, v.recorded_at,
		       (SELECT COUNT(*) FROM ` + r.table("trending_history") + ` h WHERE h.identifier = v.identifier)
		FROM ` + r.table("videos") + ` v
		WHERE v.identifier = $1`

	var v model.Video
	var snapshots int
	err := r.pool.QueryRow(ctx, query, identifier).Scan(
		&v.Identifier, &v.Title, &v.Channel, &v.Category, &v.PublishedAt, &v.Tags,
		&v.Metrics.Views, &v.Metrics.Likes, &v.Metrics.CommentCount, &v.ThumbnailURL, &v.RecordedAt,
		&snapshots,
	)
	if err != nil {
		return nil, 0, err
	}
	return &v, snapshots, nil
}

// Counts returns the number of rows in videos and trending_history.
func (r *VideoRepo) Counts(ctx context.Context) (videos, snapshots int, err error) {
	query := `
		SELECT (SELECT COUNT(*) FROM ` + r.table("videos") + `),
		       (SELECT COUNT(*) FROM ` + r.table("trending_history") + `)`
	err = r.pool.QueryRow(ctx, query).Scan(&videos, &snapshots)
	return videos, snapshots, err
}

// TopChannels returns channels with more than minVideos videos first recorded
// since the given time, ordered by video count descending.
func (r *VideoRepo) TopChannels(ctx context.Context, since time.Time, minVideos int) ([]model.ChannelCount, error) {
	query := `
		SELECT channel, COUNT(*) AS video_count
		FROM ` + r.table("videos") + `
		WHERE channel IS NOT NULL AND recorded_at >= $1
		GROUP BY channel
		HAVING COUNT(*) > $2
		ORDER BY video_count DESC, channel ASC
		LIMIT 20`

	rows, err := r.pool.Query(ctx, query, since, minVideos)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []model.ChannelCount{}
	for rows.Next() {
		var c model.ChannelCount
		if err := rows.Scan(&c.Channel, &c.VideoCount); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// Wipe deletes every row from both tables. Only the environment reset calls it.
func (r *VideoRepo) Wipe(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE TABLE `+r.table("trending_history")+`, `+r.table("videos"))
	return err
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func encodeExtra(extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	return json.Marshal(extra)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
