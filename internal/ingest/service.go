// Package ingest turns validated listing payloads into stored rows.
//
// Listings are append-only: every accepted payload becomes a new row
// and message-level deduplication happens later, at read time. The
// raw_messages table additionally tracks verbatim-content repeats so
// operators can see how noisy the source groups are.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"certmarket/internal/db"
	payloadschema "certmarket/schema"
)

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

// Result describes one accepted batch.
type Result struct {
	ListingIDs       []int64 `json:"listing_ids"`
	Inserted         int     `json:"inserted"`
	DuplicateContent int     `json:"duplicate_content"`
}

func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

// IngestOne validates and stores a single listing payload.
func (s *Service) IngestOne(ctx context.Context, payload json.RawMessage) (Result, error) {
	if s == nil || s.pool == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}

	item, err := payloadschema.ValidateListingPayload(payload)
	if err != nil {
		return Result{}, fmt.Errorf("validate payload: %w", err)
	}
	return s.store(ctx, []*payloadschema.ListingPayload{item})
}

// IngestBatch validates a JSON array of payloads and stores them all
// in one transaction. A single invalid payload rejects the whole batch
// before anything is written.
func (s *Service) IngestBatch(ctx context.Context, batch json.RawMessage) (Result, error) {
	if s == nil || s.pool == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}

	items, err := payloadschema.ValidateListingBatch(batch)
	if err != nil {
		return Result{}, fmt.Errorf("validate batch: %w", err)
	}
	return s.store(ctx, items)
}

func (s *Service) store(ctx context.Context, items []*payloadschema.ListingPayload) (Result, error) {
	inserts, err := buildInserts(items)
	if err != nil {
		return Result{}, err
	}

	ids, err := s.pool.InsertListings(ctx, inserts)
	if err != nil {
		return Result{}, fmt.Errorf("insert listings: %w", err)
	}

	duplicates, err := s.recordRawMessages(ctx, items)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info().
		Int("inserted", len(ids)).
		Int("duplicate_content", duplicates).
		Msg("ingest completed")

	return Result{
		ListingIDs:       ids,
		Inserted:         len(ids),
		DuplicateContent: duplicates,
	}, nil
}

// buildInserts converts validated payloads into insert rows. Validation
// has already run, so the only error left is a malformed timestamp that
// slipped past the schema, which ValidateListingPayload also checks.
func buildInserts(items []*payloadschema.ListingPayload) ([]db.InsertListing, error) {
	inserts := make([]db.InsertListing, 0, len(items))
	for i, item := range items {
		messageAt, err := item.MessageTime()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		inserts = append(inserts, db.InsertListing{
			UUID:              uuid.NewString(),
			Type:              item.Type,
			Certificates:      item.Certificates,
			SplitCertificates: item.SplitCertificates,
			SocialSecurity:    item.SocialSecurity,
			Location:          item.Location,
			Price:             item.Price,
			OtherInfo:         item.OtherInfo,
			OriginalInfo:      item.OriginalInfo,
			GroupName:         item.GroupName,
			MemberNick:        item.MemberNick,
			GroupID:           item.GroupID,
			MemberID:          item.MemberID,
			MessageID:         item.MessageID,
			MessageAt:         messageAt,
		})
	}
	return inserts, nil
}

// recordRawMessages keeps the verbatim-content audit trail. A message
// whose exact content is already stored is skipped and counted as a
// duplicate instead of being stored again.
func (s *Service) recordRawMessages(ctx context.Context, items []*payloadschema.ListingPayload) (int, error) {
	duplicates := 0
	for i, item := range items {
		exists, err := s.pool.RawContentExists(ctx, item.OriginalInfo)
		if err != nil {
			return 0, fmt.Errorf("check raw content %d: %w", i, err)
		}
		if exists {
			duplicates++
			continue
		}

		messageAt, err := item.MessageTime()
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := s.pool.InsertRawMessage(ctx, db.InsertRawMessage{
			UUID:       uuid.NewString(),
			MessageID:  item.MessageID,
			Content:    item.OriginalInfo,
			GroupName:  item.GroupName,
			MemberNick: item.MemberNick,
			GroupID:    item.GroupID,
			MemberID:   item.MemberID,
			MessageAt:  messageAt,
		}); err != nil {
			return 0, fmt.Errorf("insert raw message %d: %w", i, err)
		}
	}
	return duplicates, nil
}
