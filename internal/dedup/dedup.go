// Package dedup collapses repeated re-postings of the same listing into
// one canonical representative per equivalence class.
package dedup

import (
	"sort"

	"certmarket/internal/listing"
)

// Class is one fingerprint equivalence class: the most recent record as
// its representative plus the class cardinality.
type Class struct {
	Representative listing.Record `json:"representative"`
	RepeatCount    int            `json:"repeat_count"`
}

// Collapse partitions records by fingerprint (original_info, member_id)
// and picks the most recent record of each partition as representative.
// Ties on created_at fall back to the larger listing ID so the choice is
// deterministic. Output is ordered newest representative first, then ID
// descending. Empty input yields empty output; Collapse never fails.
func Collapse(records []listing.Record) []Class {
	if len(records) == 0 {
		return nil
	}

	classes := make(map[listing.Fingerprint]*Class, len(records))
	for _, record := range records {
		key := record.Fingerprint()
		class, seen := classes[key]
		if !seen {
			classes[key] = &Class{Representative: record, RepeatCount: 1}
			continue
		}
		class.RepeatCount++
		if newerThan(record, class.Representative) {
			class.Representative = record
		}
	}

	out := make([]Class, 0, len(classes))
	for _, class := range classes {
		out = append(out, *class)
	}
	sort.Slice(out, func(i, j int) bool {
		return newerThan(out[i].Representative, out[j].Representative)
	})
	return out
}

// Representatives strips the repeat counts.
func Representatives(classes []Class) []listing.Record {
	reps := make([]listing.Record, 0, len(classes))
	for _, class := range classes {
		reps = append(reps, class.Representative)
	}
	return reps
}

func newerThan(a, b listing.Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
