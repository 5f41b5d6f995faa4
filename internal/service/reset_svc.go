package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrResetForbidden is returned when the environment reset is disabled,
// which it always is in production.
var ErrResetForbidden = errors.New("environment reset is disabled")

// RelationalWiper empties the relational sink.
type RelationalWiper interface {
	Wipe(ctx context.Context) error
}

// SheetClearer empties the mirror's sheets.
type SheetClearer interface {
	VideosSheet() string
	SnapshotsSheet() string
	Clear(ctx context.Context, sheet string) error
}

// FingerprintPurger drops every fingerprint of a namespace.
type FingerprintPurger interface {
	Purge(ctx context.Context) (int, error)
}

// CycleGuard runs fn while no sync cycle can start.
type CycleGuard interface {
	Exclusive(ctx context.Context, fn func(context.Context) error) error
}

// ResetResult summarises an environment reset.
type ResetResult struct {
	SheetsCleared       []string `json:"sheets_cleared"`
	FingerprintsRemoved int      `json:"fingerprints_removed"`
	FingerprintsSkipped bool     `json:"fingerprints_skipped,omitempty"`
}

// ResetService puts the three stores of an environment back to empty
// together, so none of them remembers videos the others have forgotten.
type ResetService struct {
	store   RelationalWiper
	mirror  SheetClearer
	cache   FingerprintPurger
	guard   CycleGuard
	enabled bool
	log     zerolog.Logger
}

// NewResetService wires the reset. cache is nil when Redis is not configured;
// guard may be nil when no worker runs in this process.
func NewResetService(store RelationalWiper, mirror SheetClearer, cache FingerprintPurger, guard CycleGuard, enabled bool, logger zerolog.Logger) *ResetService {
	return &ResetService{
		store:   store,
		mirror:  mirror,
		cache:   cache,
		guard:   guard,
		enabled: enabled,
		log:     logger,
	}
}

func (r *ResetService) Enabled() bool {
	return r.enabled
}

// Reset wipes both relational tables, purges the namespace's fingerprints
// and clears both mirror sheets, in that order. It stops at the first
// failure; running it again finishes the job.
func (r *ResetService) Reset(ctx context.Context) (*ResetResult, error) {
	if !r.enabled {
		return nil, ErrResetForbidden
	}

	res := &ResetResult{SheetsCleared: []string{}}
	run := func(ctx context.Context) error {
		if err := r.store.Wipe(ctx); err != nil {
			return fmt.Errorf("wipe relational store: %w", err)
		}

		if r.cache == nil {
			res.FingerprintsSkipped = true
		} else {
			n, err := r.cache.Purge(ctx)
			res.FingerprintsRemoved = n
			if err != nil {
				return fmt.Errorf("purge fingerprints: %w", err)
			}
		}

		for _, sheet := range []string{r.mirror.VideosSheet(), r.mirror.SnapshotsSheet()} {
			if err := r.mirror.Clear(ctx, sheet); err != nil {
				return fmt.Errorf("clear sheet %s: %w", sheet, err)
			}
			res.SheetsCleared = append(res.SheetsCleared, sheet)
		}
		return nil
	}

	var err error
	if r.guard != nil {
		err = r.guard.Exclusive(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		r.log.Error().Err(err).Msg("reset: failed")
		return res, err
	}

	r.log.Warn().
		Int("fingerprints_removed", res.FingerprintsRemoved).
		Strs("sheets_cleared", res.SheetsCleared).
		Msg("reset: environment emptied")
	return res, nil
}
