package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/trendsync/internal/metrics"
	"github.com/mathieu-neron/trendsync/internal/model"
	"github.com/mathieu-neron/trendsync/internal/sheets"
)

// keySeparator joins the parts of a composite mirror key.
const keySeparator = "\x1f"

// ErrMissingKeyField is returned when a key field is absent from a sheet header.
var ErrMissingKeyField = errors.New("key field not in sheet header")

// MirroredMarker is the part of the fingerprint cache the mirror updates
// after a successful video append.
type MirroredMarker interface {
	MarkMirrored(ctx context.Context, identifiers []string) error
}

// MirrorService is the durable, append-only spreadsheet copy of the data:
// one video row per identifier and one snapshot row per identifier per cycle.
type MirrorService struct {
	values         sheets.Values
	videosSheet    string
	snapshotsSheet string
	log            zerolog.Logger
}

func NewMirrorService(values sheets.Values, videosSheet, snapshotsSheet string, logger zerolog.Logger) *MirrorService {
	return &MirrorService{
		values:         values,
		videosSheet:    videosSheet,
		snapshotsSheet: snapshotsSheet,
		log:            logger,
	}
}

func (m *MirrorService) VideosSheet() string    { return m.videosSheet }
func (m *MirrorService) SnapshotsSheet() string { return m.snapshotsSheet }

// CompositeKey joins key parts the same way ExistingKeys does.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, keySeparator)
}

// ExistingKeys reads the whole sheet and returns the set of keys formed by
// keyFields. An empty sheet yields an empty set.
func (m *MirrorService) ExistingKeys(ctx context.Context, sheet string, keyFields ...string) (map[string]struct{}, error) {
	if len(keyFields) == 0 {
		keyFields = []string{model.FieldIdentifier}
	}

	rows, err := m.values.Read(ctx, sheet, 0)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	if len(rows) == 0 {
		return keys, nil
	}

	header := rows[0]
	cols := make([]int, len(keyFields))
	for i, f := range keyFields {
		cols[i] = indexOf(header, f)
		if cols[i] < 0 {
			return nil, fmt.Errorf("%s: %w: %q", sheet, ErrMissingKeyField, f)
		}
	}

	parts := make([]string, len(cols))
	for _, row := range rows[1:] {
		empty := true
		for i, c := range cols {
			parts[i] = ""
			if c < len(row) {
				parts[i] = strings.TrimSpace(row[c])
			}
			if parts[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		keys[CompositeKey(parts...)] = struct{}{}
	}
	return keys, nil
}

// Append writes rows to sheet in one batched call. Only the first row of the
// sheet is read: if it is empty, fieldnames is written as the header first;
// otherwise rows follow the existing header's column order and fields it does
// not name are dropped. Append never deduplicates.
func (m *MirrorService) Append(ctx context.Context, sheet string, fieldnames []string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}

	head, err := m.values.Read(ctx, sheet, 1)
	if err != nil {
		return err
	}

	header := fieldnames
	out := make([][]any, 0, len(rows)+1)
	if len(head) == 0 || isBlank(head[0]) {
		out = append(out, toCells(fieldnames))
	} else {
		header = head[0]
		if missing := missingColumns(header, fieldnames); len(missing) > 0 {
			m.log.Warn().Str("sheet", sheet).Strs("fields", missing).
				Msg("mirror: fields not in sheet header, dropping them")
		}
	}

	for _, r := range rows {
		cells := make([]any, len(header))
		for i, col := range header {
			cells[i] = cellValue(r[col])
		}
		out = append(out, cells)
	}

	if err := m.values.Append(ctx, sheet, out); err != nil {
		return err
	}
	metrics.MirrorRowsAppended.WithLabelValues(sheet).Add(float64(len(rows)))
	return nil
}

// AppendVideos appends one video row per record, then flags the identifiers
// as mirrored through marker. A marker failure is logged, not returned.
func (m *MirrorService) AppendVideos(ctx context.Context, records []model.Record, marker MirroredMarker) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]model.Row, len(records))
	for i, r := range records {
		rows[i] = r.VideoRow()
	}
	if err := m.Append(ctx, m.videosSheet, model.VideoHeader(records), rows); err != nil {
		return fmt.Errorf("append videos: %w", err)
	}

	if marker != nil {
		if err := marker.MarkMirrored(ctx, model.Identifiers(records)); err != nil {
			m.log.Warn().Err(err).Int("count", len(records)).Msg("mirror: could not flag fingerprints as mirrored")
		}
	}
	return nil
}

// AppendSnapshots appends one snapshot row per record.
func (m *MirrorService) AppendSnapshots(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]model.Row, len(records))
	for i, r := range records {
		rows[i] = r.SnapshotRow()
	}
	if err := m.Append(ctx, m.snapshotsSheet, model.SnapshotFields, rows); err != nil {
		return fmt.Errorf("append snapshots: %w", err)
	}
	return nil
}

// Clear empties sheet, header included. Only the environment reset calls it.
func (m *MirrorService) Clear(ctx context.Context, sheet string) error {
	if err := m.values.Clear(ctx, sheet); err != nil {
		return err
	}
	m.log.Info().Str("sheet", sheet).Msg("mirror: sheet cleared")
	return nil
}

func indexOf(header []string, field string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == field {
			return i
		}
	}
	return -1
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func missingColumns(header, fields []string) []string {
	var missing []string
	for _, f := range fields {
		if indexOf(header, f) < 0 {
			missing = append(missing, f)
		}
	}
	return missing
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

// cellValue flattens a row value into something a spreadsheet cell holds.
func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string, bool, int, int32, int64, float32, float64:
		return x
	case []string:
		return strings.Join(x, ", ")
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}
