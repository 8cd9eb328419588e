// Package view materializes the derived read models (equivalence
// classes, tag indexes, aggregate match statistics) as immutable
// snapshots. Readers always see one consistent snapshot; refresh swaps
// the whole snapshot atomically, so concurrent queries never observe a
// partially rebuilt index.
package view

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"certmarket/internal/classify"
	"certmarket/internal/dedup"
	"certmarket/internal/listing"
	"certmarket/internal/match"
	"certmarket/internal/tags"
)

// Snapshot is one immutable derived view over the record store.
type Snapshot struct {
	BuiltAt     time.Time
	RuleVersion string

	// classes holds the deduplicated equivalence classes per category,
	// ordered newest representative first.
	classes map[listing.Category][]dedup.Class
	// demandByID resolves a demand representative for the per-listing
	// availability endpoint.
	demandByID map[int64]dedup.Class

	demandIndex *tags.Index
	supplyIndex *tags.Index

	aggregate []match.TagStat
}

// Build validates the batch, classifies and deduplicates it, and
// precomputes the tag indexes and aggregate match table. It fails fast
// on the first invariant violation so a corrupt record never reaches the
// derived views.
func Build(records []listing.Record, rules classify.RuleSet, builtAt time.Time) (*Snapshot, error) {
	if err := listing.ValidateAll(records); err != nil {
		return nil, fmt.Errorf("snapshot build rejected batch: %w", err)
	}

	byCategory := make(map[listing.Category][]listing.Record, 3)
	for _, record := range records {
		category := rules.ClassifyRecord(record)
		byCategory[category] = append(byCategory[category], record)
	}

	snapshot := &Snapshot{
		BuiltAt:     builtAt,
		RuleVersion: rules.Version,
		classes:     make(map[listing.Category][]dedup.Class, 3),
		demandByID:  make(map[int64]dedup.Class),
	}
	for _, category := range listing.Categories() {
		snapshot.classes[category] = dedup.Collapse(byCategory[category])
	}
	for _, class := range snapshot.classes[listing.CategoryDemand] {
		snapshot.demandByID[class.Representative.ID] = class
	}

	snapshot.demandIndex = tags.BuildIndex(dedup.Representatives(snapshot.classes[listing.CategoryDemand]))
	snapshot.supplyIndex = tags.BuildIndex(dedup.Representatives(snapshot.classes[listing.CategorySupply]))
	snapshot.aggregate = match.AggregateTagStats(snapshot.demandIndex, snapshot.supplyIndex)

	return snapshot, nil
}

// Classes returns the equivalence classes of one category.
func (s *Snapshot) Classes(category listing.Category) []dedup.Class {
	if s == nil {
		return nil
	}
	return s.classes[category]
}

// CategoryCounts returns the number of equivalence classes per category.
func (s *Snapshot) CategoryCounts() map[listing.Category]int {
	counts := make(map[listing.Category]int, 3)
	for _, category := range listing.Categories() {
		counts[category] = len(s.classes[category])
	}
	return counts
}

// AggregateTagStats returns the precomputed per-tag match table.
func (s *Snapshot) AggregateTagStats() []match.TagStat {
	if s == nil {
		return nil
	}
	return s.aggregate
}

// DemandAvailability computes the supply coverage for one demand
// representative. ok is false when the ID is not a demand representative
// in this snapshot.
func (s *Snapshot) DemandAvailability(listingID int64) (match.Availability, dedup.Class, bool) {
	if s == nil {
		return match.Availability{}, dedup.Class{}, false
	}
	class, ok := s.demandByID[listingID]
	if !ok {
		return match.Availability{}, dedup.Class{}, false
	}
	return match.ComputeAvailability(class.Representative, s.supplyIndex), class, true
}

// TagFrequencies aggregates tag frequencies over the deduplicated
// representatives of all categories.
func (s *Snapshot) TagFrequencies(opts tags.FrequencyOptions) []tags.Frequency {
	if s == nil {
		return nil
	}
	reps := make([]listing.Record, 0)
	for _, category := range listing.Categories() {
		reps = append(reps, dedup.Representatives(s.classes[category])...)
	}
	return tags.Frequencies(reps, opts)
}

// SearchParams filter and paginate the representative set.
type SearchParams struct {
	// Category narrows to one category; nil means all.
	Category *listing.Category
	// Location is a case-insensitive substring filter.
	Location string
	// CertificateTags is an OR filter: a representative qualifies when
	// its tag set intersects the given set at all.
	CertificateTags []string
	Limit           int
	Offset          int
}

// SearchResult is one page of matching equivalence classes.
type SearchResult struct {
	Classes []dedup.Class
	// Total counts all matches before pagination.
	Total int
}

// Search filters and orders representatives: tagged listings before
// untagged ones, then listing ID descending. Limit must be positive and
// offset non-negative; the handler layer validates both before calling.
func (s *Snapshot) Search(params SearchParams) SearchResult {
	if s == nil {
		return SearchResult{}
	}

	categories := listing.Categories()
	if params.Category != nil {
		categories = []listing.Category{*params.Category}
	}

	location := strings.ToLower(strings.TrimSpace(params.Location))
	wanted := make(map[string]struct{}, len(params.CertificateTags))
	for _, tag := range params.CertificateTags {
		trimmed := strings.TrimSpace(tag)
		if trimmed != "" {
			wanted[trimmed] = struct{}{}
		}
	}

	matched := make([]dedup.Class, 0)
	for _, category := range categories {
		for _, class := range s.classes[category] {
			if !matchesSearch(class.Representative, location, wanted) {
				continue
			}
			matched = append(matched, class)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].Representative, matched[j].Representative
		if a.HasTags() != b.HasTags() {
			return a.HasTags()
		}
		return a.ID > b.ID
	})

	result := SearchResult{Total: len(matched)}
	if params.Offset >= len(matched) {
		result.Classes = []dedup.Class{}
		return result
	}
	matched = matched[params.Offset:]
	if params.Limit > 0 && len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}
	result.Classes = matched
	return result
}

func matchesSearch(record listing.Record, location string, wanted map[string]struct{}) bool {
	if location != "" && !strings.Contains(strings.ToLower(record.Location), location) {
		return false
	}
	if len(wanted) > 0 {
		intersects := false
		for _, tag := range record.SplitCertificates {
			if _, ok := wanted[tag]; ok {
				intersects = true
				break
			}
		}
		if !intersects {
			return false
		}
	}
	return true
}
