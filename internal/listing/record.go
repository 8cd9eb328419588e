// Package listing holds the core domain types for certificate-trading
// postings extracted from chat messages.
package listing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRecord marks records violating the store invariants. A batch
// containing such a record is rejected whole rather than silently pruned,
// so the dedup and tag views never see partial input.
var ErrInvalidRecord = errors.New("invalid listing record")

// Category is the transaction category a posting's free-text type label
// classifies into.
type Category string

const (
	// CategoryDemand covers postings seeking a certificate (收).
	CategoryDemand Category = "demand"
	// CategorySupply covers postings offering a certificate (出).
	CategorySupply Category = "supply"
	// CategoryOther covers everything else.
	CategoryOther Category = "other"
)

// Categories lists all categories in presentation order.
func Categories() []Category {
	return []Category{CategoryDemand, CategorySupply, CategoryOther}
}

// ParseCategory maps a query-parameter value to a Category. Empty input
// means "all categories" and returns ok=false without error.
func ParseCategory(raw string) (Category, bool, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return "", false, nil
	}
	switch Category(trimmed) {
	case CategoryDemand, CategorySupply, CategoryOther:
		return Category(trimmed), true, nil
	default:
		return "", false, fmt.Errorf("unknown category %q (want demand, supply or other)", raw)
	}
}

// Record is one structured posting. Records are append-only: once written
// they are never edited, and all derived views (equivalence classes, tag
// indexes, match statistics) are recomputed from scratch.
type Record struct {
	ID   int64  `json:"listing_id"`
	UUID string `json:"listing_uuid,omitempty"`

	Type              string   `json:"type"`
	Certificates      string   `json:"certificates"`
	SplitCertificates []string `json:"split_certificates,omitempty"`
	SocialSecurity    string   `json:"social_security,omitempty"`
	Location          string   `json:"location,omitempty"`
	Price             *int64   `json:"price,omitempty"`
	OtherInfo         string   `json:"other_info,omitempty"`
	OriginalInfo      string   `json:"original_info"`

	GroupName  string `json:"group_name,omitempty"`
	MemberNick string `json:"member_nick,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	MemberID   string `json:"member_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`

	MessageAt *time.Time `json:"message_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Fingerprint is the equivalence key for deduplication: identical text
// from the same poster is the same listing re-posted over time.
type Fingerprint struct {
	OriginalInfo string
	MemberID     string
}

// Fingerprint returns the record's dedup key.
func (r Record) Fingerprint() Fingerprint {
	return Fingerprint{OriginalInfo: r.OriginalInfo, MemberID: r.MemberID}
}

// HasTags reports whether the record carries at least one split tag.
func (r Record) HasTags() bool {
	return len(r.SplitCertificates) > 0
}

// Negotiable reports whether the price renders as "negotiable": both a
// stored zero and an absent price do, but they stay distinct at storage.
func (r Record) Negotiable() bool {
	return r.Price == nil || *r.Price == 0
}

// Validate checks the store invariants. All violations wrap
// ErrInvalidRecord.
func (r Record) Validate() error {
	if strings.TrimSpace(r.OriginalInfo) == "" {
		return fmt.Errorf("%w: original_info must not be empty", ErrInvalidRecord)
	}
	if r.Price != nil && *r.Price < 0 {
		return fmt.Errorf("%w: price must be >= 0, got %d", ErrInvalidRecord, *r.Price)
	}
	seen := make(map[string]struct{}, len(r.SplitCertificates))
	for i, tag := range r.SplitCertificates {
		if tag == "" {
			return fmt.Errorf("%w: split_certificates[%d] is empty", ErrInvalidRecord, i)
		}
		if _, dup := seen[tag]; dup {
			return fmt.Errorf("%w: split_certificates contains duplicate tag %q", ErrInvalidRecord, tag)
		}
		seen[tag] = struct{}{}
	}
	return nil
}

// ValidateAll fails fast on the first invalid record in a batch.
func ValidateAll(records []Record) error {
	for i, record := range records {
		if err := record.Validate(); err != nil {
			return fmt.Errorf("record %d (message_id=%q): %w", i, record.MessageID, err)
		}
	}
	return nil
}
