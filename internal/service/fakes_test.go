package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mathieu-neron/trendsync/internal/model"
	"github.com/mathieu-neron/trendsync/internal/repository"
)

var errBoom = errors.New("boom")

// memValues is an in-memory sheets.Values.
type memValues struct {
	mu        sync.Mutex
	sheets    map[string][][]string
	readErr   error
	appendErr error
	clearErr  error
	appends   int
	cleared   []string
}

func newMemValues() *memValues {
	return &memValues{sheets: make(map[string][][]string)}
}

func (v *memValues) Read(_ context.Context, sheet string, limit int) ([][]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.readErr != nil {
		return nil, v.readErr
	}
	rows := v.sheets[sheet]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (v *memValues) Append(_ context.Context, sheet string, rows [][]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.appendErr != nil {
		return v.appendErr
	}
	v.appends++
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = fmt.Sprint(c)
		}
		v.sheets[sheet] = append(v.sheets[sheet], cells)
	}
	return nil
}

func (v *memValues) Clear(_ context.Context, sheet string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.clearErr != nil {
		return v.clearErr
	}
	v.cleared = append(v.cleared, sheet)
	delete(v.sheets, sheet)
	return nil
}

// column returns the values of field in sheet, header excluded.
func (v *memValues) column(sheet, field string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	rows := v.sheets[sheet]
	if len(rows) == 0 {
		return nil
	}
	col := indexOf(rows[0], field)
	var out []string
	for _, r := range rows[1:] {
		out = append(out, r[col])
	}
	return out
}

type cacheEntry struct {
	title    string
	mirrored bool
	ttl      time.Duration
}

// fakeCache is an in-memory FingerprintCache with the same
// write-once-attributes, extend-only-TTL semantics as Redis.
type fakeCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	pingErr    error
	bulkErr    error
	markErr    error
	purgeErr   error
	lockHolder string
	markSeen   int
	released   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*cacheEntry)}
}

func (c *fakeCache) Ping(context.Context) error { return c.pingErr }

func (c *fakeCache) BulkCheck(_ context.Context, ids []string) (map[string]model.FingerprintState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bulkErr != nil {
		return nil, c.bulkErr
	}
	known := make(map[string]model.FingerprintState)
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			known[id] = model.FingerprintState{Identifier: id, Mirrored: e.mirrored}
		}
	}
	return known, nil
}

func (c *fakeCache) MarkSeen(_ context.Context, fps []model.Fingerprint, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markErr != nil {
		return c.markErr
	}
	c.markSeen++
	for _, fp := range fps {
		e, ok := c.entries[fp.Identifier]
		if !ok {
			c.entries[fp.Identifier] = &cacheEntry{title: fp.Title, mirrored: fp.Mirrored, ttl: ttl}
			continue
		}
		if ttl > e.ttl {
			e.ttl = ttl
		}
	}
	return nil
}

func (c *fakeCache) MarkMirrored(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markErr != nil {
		return c.markErr
	}
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			e.mirrored = true
		}
	}
	return nil
}

func (c *fakeCache) AcquireCycleLock(context.Context, time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingErr != nil {
		return "", ErrCacheUnavailable
	}
	if c.lockHolder != "" {
		return "", ErrCycleLocked
	}
	c.lockHolder = "token"
	return c.lockHolder, nil
}

func (c *fakeCache) ReleaseCycleLock(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockHolder == token {
		c.lockHolder = ""
		c.released++
	}
	return nil
}

func (c *fakeCache) Purge(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purgeErr != nil {
		return 0, c.purgeErr
	}
	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	return n, nil
}

func (c *fakeCache) entry(id string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[id]
}

// fakeStore emulates INSERT ... ON CONFLICT DO NOTHING on both tables. With
// foreignKeys set it also rejects, like the schema, a snapshot batch that
// references a missing video.
type fakeStore struct {
	mu           sync.Mutex
	videos       map[string]model.Record
	snapshots    map[string]model.Record
	videosErr    error
	snapshotsErr error
	wipeErr      error
	foreignKeys  bool
	videoCalls   int
	wipes        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{videos: make(map[string]model.Record), snapshots: make(map[string]model.Record)}
}

func (s *fakeStore) UpsertVideos(_ context.Context, records []model.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoCalls++
	if s.videosErr != nil {
		return 0, s.videosErr
	}
	n := 0
	for _, r := range records {
		if _, ok := s.videos[r.Identifier]; !ok && s.foreignKeys {
			s.videos[r.Identifier] = r
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpsertSnapshots(_ context.Context, records []model.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotsErr != nil {
		return 0, s.snapshotsErr
	}
	for _, r := range records {
		if _, ok := s.videos[r.Identifier]; !ok && s.foreignKeys {
			return 0, fmt.Errorf("%w: insert %s violates foreign key constraint", repository.ErrMissingVideo, r.Identifier)
		}
	}
	n := 0
	for _, r := range records {
		key := r.Identifier + "@" + r.RecordedAt.UTC().Format(time.RFC3339Nano)
		if _, ok := s.snapshots[key]; !ok {
			s.snapshots[key] = r
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Wipe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wipeErr != nil {
		return s.wipeErr
	}
	s.wipes++
	s.videos = make(map[string]model.Record)
	s.snapshots = make(map[string]model.Record)
	return nil
}

func rec(id string, at time.Time) model.Record {
	return model.Record{
		Identifier: id,
		Title:      "title " + id,
		Channel:    "chan",
		Tags:       []string{"a", "b"},
		Metrics:    model.Metrics{Views: 100, Likes: 10, CommentCount: 1},
		RecordedAt: at,
	}
}
