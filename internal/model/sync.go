package model

import "time"

// Fingerprint is what the cache stores the first time an identifier is seen.
type Fingerprint struct {
	Identifier string
	Title      string
	Mirrored   bool
}

// FingerprintState is the cache's view of a known identifier.
type FingerprintState struct {
	Identifier string `json:"identifier"`
	Mirrored   bool   `json:"mirrored"`
	TTLSeconds int64  `json:"ttlSeconds,omitempty"`
}

// Cycle statuses.
const (
	CycleSuccess = "success"
	CycleFailed  = "failed"
	CycleLocked  = "locked"
)

// Existing-keys strategies.
const (
	StrategyCache  = "cache"
	StrategyMirror = "mirror"
)

// Failure stages.
const (
	StageFetch     = "fetch"
	StageDedup     = "dedup"
	StageVideos    = "videos"
	StageSnapshots = "snapshots"
	StageMirror    = "mirror"
)

// CycleOutcome summarises one fetch-dedup-write pass.
type CycleOutcome struct {
	CycleID    string    `json:"cycleId"`
	Status     string    `json:"status"`
	Strategy   string    `json:"strategy,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Fetched    int       `json:"fetched"`
	New        int       `json:"new"`
	Repeat     int       `json:"repeat"`
	Skipped    int       `json:"skipped"`
	Backfilled int       `json:"backfilled"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`

	Duration time.Duration `json:"-"`
	Err      error         `json:"-"`
}

// OK reports whether the cycle completed every stage.
func (o *CycleOutcome) OK() bool {
	return o.Status == CycleSuccess
}

// ChannelCount is one entry of the weekly top-channels rollup.
type ChannelCount struct {
	Channel    string `json:"channel"`
	VideoCount int    `json:"videoCount"`
}

// StatsResponse is the API response for global statistics.
type StatsResponse struct {
	TotalVideos        int            `json:"totalVideos"`
	TotalSnapshots     int            `json:"totalSnapshots"`
	CachedFingerprints int            `json:"cachedFingerprints"`
	TopChannels        []ChannelCount `json:"topChannels"`
}
