package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mathieu-neron/trendsync/internal/model"
)

func newTestMirror() (*MirrorService, *memValues) {
	v := newMemValues()
	return NewMirrorService(v, "vids", "snapshots", zerolog.Nop()), v
}

func TestMirror_AppendWritesHeaderOnEmptySheet(t *testing.T) {
	ctx := context.Background()
	m, v := newTestMirror()

	err := m.Append(ctx, "vids", []string{"identifier", "title"}, []model.Row{
		{"identifier": "v1", "title": "one"},
		{"identifier": "v2", "title": "two"},
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"identifier", "title"},
		{"v1", "one"},
		{"v2", "two"},
	}, v.sheets["vids"])
	require.Equal(t, 1, v.appends, "header and rows go out in one call")
}

func TestMirror_AppendFollowsExistingHeaderOrder(t *testing.T) {
	ctx := context.Background()
	m, v := newTestMirror()
	v.sheets["vids"] = [][]string{{"title", "identifier", "legacy"}}

	err := m.Append(ctx, "vids", []string{"identifier", "title", "views"}, []model.Row{
		{"identifier": "v1", "title": "one", "views": int64(5)},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"one", "v1", ""}, v.sheets["vids"][1])
	require.Len(t, v.sheets["vids"], 2)
}

func TestMirror_AppendNeverDeduplicates(t *testing.T) {
	ctx := context.Background()
	m, v := newTestMirror()
	row := []model.Row{{"identifier": "v1"}}

	require.NoError(t, m.Append(ctx, "vids", []string{"identifier"}, row))
	require.NoError(t, m.Append(ctx, "vids", []string{"identifier"}, row))
	require.Equal(t, []string{"v1", "v1"}, v.column("vids", "identifier"))
}

func TestMirror_AppendEmptyIsNoop(t *testing.T) {
	m, v := newTestMirror()
	require.NoError(t, m.Append(context.Background(), "vids", []string{"identifier"}, nil))
	require.Zero(t, v.appends)
}

func TestMirror_ExistingKeys(t *testing.T) {
	ctx := context.Background()
	m, v := newTestMirror()

	keys, err := m.ExistingKeys(ctx, "vids")
	require.NoError(t, err)
	require.Empty(t, keys)

	v.sheets["vids"] = [][]string{
		{"identifier", "recorded_at"},
		{"v1", "2024-01-01"},
		{" v2 ", "2024-01-02"},
		{"", ""},
		{"v3"},
	}
	keys, err = m.ExistingKeys(ctx, "vids", "identifier")
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"v1": {}, "v2": {}, "v3": {}}, keys)

	keys, err = m.ExistingKeys(ctx, "vids", "identifier", "recorded_at")
	require.NoError(t, err)
	require.Contains(t, keys, CompositeKey("v1", "2024-01-01"))
	require.Contains(t, keys, CompositeKey("v3", ""))
	require.Len(t, keys, 3)
}

func TestMirror_ExistingKeysMissingField(t *testing.T) {
	m, v := newTestMirror()
	v.sheets["vids"] = [][]string{{"title"}, {"x"}}

	_, err := m.ExistingKeys(context.Background(), "vids", "identifier")
	require.ErrorIs(t, err, ErrMissingKeyField)
}

func TestMirror_AppendVideosFlagsMirrored(t *testing.T) {
	ctx := context.Background()
	m, v := newTestMirror()
	cache := newFakeCache()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cache.MarkSeen(ctx, []model.Fingerprint{{Identifier: "v1"}}, time.Hour))

	require.NoError(t, m.AppendVideos(ctx, []model.Record{rec("v1", now)}, cache))

	require.True(t, cache.entry("v1").mirrored)
	require.Equal(t, model.VideoFields, v.sheets["vids"][0])
	tagsCol := indexOf(v.sheets["vids"][0], model.FieldTags)
	require.Equal(t, "a, b", v.sheets["vids"][1][tagsCol])
}

func TestMirror_AppendVideosMarkerFailureIsSoft(t *testing.T) {
	m, _ := newTestMirror()
	cache := newFakeCache()
	cache.markErr = errBoom

	err := m.AppendVideos(context.Background(), []model.Record{rec("v1", time.Now())}, cache)
	require.NoError(t, err)
}

func TestMirror_AppendSnapshotsFixedHeader(t *testing.T) {
	ctx := context.Background()
	m, v := newTestMirror()
	r := rec("v1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	r.Extra = map[string]any{"description": "ignored"}

	require.NoError(t, m.AppendSnapshots(ctx, []model.Record{r}))
	require.Equal(t, model.SnapshotFields, v.sheets["snapshots"][0])
	require.Equal(t, []string{"v1", "", "100", "10", "1", "2024-03-01T12:00:00Z"}, v.sheets["snapshots"][1])
}

func TestMirror_ClearDropsHeaderAndRows(t *testing.T) {
	ctx := context.Background()
	m, v := newTestMirror()

	require.NoError(t, m.AppendVideos(ctx, []model.Record{rec("a", t0)}, nil))
	require.NoError(t, m.AppendSnapshots(ctx, []model.Record{rec("a", t0)}))

	require.NoError(t, m.Clear(ctx, m.VideosSheet()))
	require.Empty(t, v.sheets["vids"])
	require.NotEmpty(t, v.sheets["snapshots"])

	keys, err := m.ExistingKeys(ctx, m.VideosSheet(), model.FieldIdentifier)
	require.NoError(t, err)
	require.Empty(t, keys)

	// The next append starts over with a header.
	require.NoError(t, m.AppendVideos(ctx, []model.Record{rec("b", t1)}, nil))
	require.Equal(t, []string{"b"}, v.column("vids", model.FieldIdentifier))
}

func TestMirror_ClearError(t *testing.T) {
	m, v := newTestMirror()
	v.clearErr = errBoom
	require.ErrorIs(t, m.Clear(context.Background(), "vids"), errBoom)
}

func TestCellValue(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, ""},
		{"string", "s", "s"},
		{"int64", int64(3), int64(3)},
		{"tags", []string{"x", "y"}, "x, y"},
		{"time", ts, "2024-01-02T02:04:05Z"},
		{"zero time", time.Time{}, ""},
		{"generic list", []any{1, "b"}, "1, b"},
		{"map", map[string]int{"k": 1}, "map[k:1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, cellValue(tt.in))
		})
	}
}
