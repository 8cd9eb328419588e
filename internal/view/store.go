package view

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"certmarket/internal/classify"
	"certmarket/internal/globaltime"
	"certmarket/internal/listing"
)

// LoadFunc reads the full record set from the store.
type LoadFunc func(ctx context.Context) ([]listing.Record, error)

// Store double-buffers the current snapshot behind an atomic pointer.
// Refresh builds the replacement off to the side and swaps it in one
// store, so in-flight readers keep their snapshot untorn.
type Store struct {
	load    LoadFunc
	rules   classify.RuleSet
	logger  zerolog.Logger
	current atomic.Pointer[Snapshot]
}

func NewStore(load LoadFunc, rules classify.RuleSet, logger zerolog.Logger) *Store {
	return &Store{
		load:   load,
		rules:  rules,
		logger: logger,
	}
}

// Current returns the latest snapshot, or nil before the first
// successful refresh.
func (s *Store) Current() *Snapshot {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

// Refresh rebuilds the snapshot from a fresh record read. On failure the
// previous snapshot stays in place.
func (s *Store) Refresh(ctx context.Context) error {
	if s == nil || s.load == nil {
		return fmt.Errorf("view store is not initialized")
	}

	records, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	snapshot, err := Build(records, s.rules, globaltime.UTC())
	if err != nil {
		return err
	}

	s.current.Store(snapshot)
	s.logger.Debug().
		Int("records", len(records)).
		Int("demand", len(snapshot.Classes(listing.CategoryDemand))).
		Int("supply", len(snapshot.Classes(listing.CategorySupply))).
		Int("other", len(snapshot.Classes(listing.CategoryOther))).
		Msg("snapshot refreshed")
	return nil
}

// RunRefreshLoop refreshes on the given interval until ctx is done.
// Errors are logged and the loop keeps going; a failed cycle must not
// take down a serving instance.
func (s *Store) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error().Err(err).Msg("snapshot refresh failed")
			}
		}
	}
}
