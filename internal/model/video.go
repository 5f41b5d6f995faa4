package model

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// MaxIdentifierLen matches videos.identifier VARCHAR(32).
const MaxIdentifierLen = 32

// identifierRe matches platform video IDs: alphanumeric, dash, underscore.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Metrics are the engagement counters captured at fetch time.
type Metrics struct {
	Views        int64 `json:"views"`
	Likes        int64 `json:"likes"`
	CommentCount int64 `json:"commentCount"`
}

// Record is one trending video as returned by a single fetch.
// Identifier and RecordedAt are required; Extra carries any fields the
// fetch source adds that are not modelled here.
type Record struct {
	Identifier   string         `json:"identifier"`
	Title        string         `json:"title,omitempty"`
	Channel      string         `json:"channel,omitempty"`
	Category     string         `json:"category,omitempty"`
	PublishedAt  time.Time      `json:"publishedAt"`
	Tags         []string       `json:"tags,omitempty"`
	Metrics      Metrics        `json:"metrics"`
	ThumbnailURL string         `json:"thumbnailUrl,omitempty"`
	RecordedAt   time.Time      `json:"recordedAt"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ValidateIdentifier checks that an identifier is well-formed and within DB limits.
func ValidateIdentifier(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "identifier is required"
	}
	if len(id) > MaxIdentifierLen {
		return "", fmt.Sprintf("identifier must be at most %d characters", MaxIdentifierLen)
	}
	if !identifierRe.MatchString(id) {
		return "", "identifier contains invalid characters"
	}
	return id, ""
}

// Validate reports why a record cannot take part in a cycle, or "" if it can.
func (r Record) Validate() string {
	if _, msg := ValidateIdentifier(r.Identifier); msg != "" {
		return msg
	}
	if r.RecordedAt.IsZero() {
		return "recordedAt is required"
	}
	if r.Metrics.Views < 0 || r.Metrics.Likes < 0 || r.Metrics.CommentCount < 0 {
		return "metrics must be non-negative"
	}
	return ""
}

// Mirror column names. VideoFields is the default header of the video sheet;
// SnapshotFields is the fixed header of the snapshot sheet.
const (
	FieldIdentifier   = "identifier"
	FieldTitle        = "title"
	FieldChannel      = "channel"
	FieldCategory     = "category"
	FieldPublishedAt  = "published_at"
	FieldTags         = "tags"
	FieldViews        = "views"
	FieldLikes        = "likes"
	FieldCommentCount = "comment_count"
	FieldThumbnailURL = "thumbnail_url"
	FieldRecordedAt   = "recorded_at"
)

var VideoFields = []string{
	FieldIdentifier, FieldTitle, FieldChannel, FieldCategory, FieldPublishedAt,
	FieldTags, FieldViews, FieldLikes, FieldCommentCount, FieldThumbnailURL, FieldRecordedAt,
}

var SnapshotFields = []string{
	FieldIdentifier, FieldPublishedAt, FieldViews, FieldLikes, FieldCommentCount, FieldRecordedAt,
}

// Row is a flattened field map ready to be written to the mirror.
type Row map[string]any

// VideoRow projects the full record, Extra included.
func (r Record) VideoRow() Row {
	row := Row{
		FieldIdentifier:   r.Identifier,
		FieldTitle:        r.Title,
		FieldChannel:      r.Channel,
		FieldCategory:     r.Category,
		FieldPublishedAt:  formatTime(r.PublishedAt),
		FieldTags:         r.Tags,
		FieldViews:        r.Metrics.Views,
		FieldLikes:        r.Metrics.Likes,
		FieldCommentCount: r.Metrics.CommentCount,
		FieldThumbnailURL: r.ThumbnailURL,
		FieldRecordedAt:   formatTime(r.RecordedAt),
	}
	for k, v := range r.Extra {
		if _, taken := row[k]; !taken {
			row[k] = v
		}
	}
	return row
}

// SnapshotRow projects the metrics-only time-series view of the record.
func (r Record) SnapshotRow() Row {
	return Row{
		FieldIdentifier:   r.Identifier,
		FieldPublishedAt:  formatTime(r.PublishedAt),
		FieldViews:        r.Metrics.Views,
		FieldLikes:        r.Metrics.Likes,
		FieldCommentCount: r.Metrics.CommentCount,
		FieldRecordedAt:   formatTime(r.RecordedAt),
	}
}

// VideoHeader returns VideoFields followed by the sorted Extra keys found in records.
func VideoHeader(records []Record) []string {
	header := append([]string(nil), VideoFields...)
	known := make(map[string]struct{}, len(header))
	for _, f := range header {
		known[f] = struct{}{}
	}
	var extra []string
	for _, r := range records {
		for k := range r.Extra {
			if _, ok := known[k]; ok {
				continue
			}
			known[k] = struct{}{}
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(header, extra...)
}

// Identifiers returns the identifiers of records in order.
func Identifiers(records []Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.Identifier)
	}
	return ids
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Video is a row of the relational videos table.
type Video struct {
	Identifier   string     `json:"identifier"`
	Title        string     `json:"title"`
	Channel      *string    `json:"channel,omitempty"`
	Category     *string    `json:"category,omitempty"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	Tags         []string   `json:"tags"`
	Metrics      Metrics    `json:"metrics"`
	ThumbnailURL *string    `json:"thumbnailUrl,omitempty"`
	RecordedAt   time.Time  `json:"recordedAt"`
}

// VideoResponse is the API response for a single identifier lookup.
type VideoResponse struct {
	Video       *Video            `json:"video,omitempty"`
	Fingerprint *FingerprintState `json:"fingerprint,omitempty"`
	Snapshots   int               `json:"snapshots"`
}
