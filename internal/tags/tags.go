// Package tags aggregates certificate tags across deduplicated listing
// representatives and maintains the inverted tag index backing matching
// and OR-tag search.
package tags

import (
	"sort"
	"strings"

	"certmarket/internal/listing"
)

const (
	// DefaultTrendingLimit caps the trending mode result.
	DefaultTrendingLimit = 50
	// DefaultSuggestionLimit caps the suggestion mode result.
	DefaultSuggestionLimit = 20
	// DefaultMinSupport is the minimum representative count for a tag to
	// appear in trending mode.
	DefaultMinSupport = 5
)

// Frequency is one tag with the number of representatives carrying it.
type Frequency struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// FrequencyOptions control Frequencies. Zero values pick the documented
// defaults.
type FrequencyOptions struct {
	// Search switches to suggestion mode: case-insensitive substring
	// filter, no minimum support.
	Search string
	// MinSupport applies in trending mode only.
	MinSupport int
	Limit      int
}

// Frequencies counts, per tag, how many records carry it. A record
// contributes at most one count per distinct tag regardless of how often
// the tag occurs in its list. Callers pass deduplicated representatives
// so re-postings do not inflate popularity. Order: count descending,
// then tag ascending.
func Frequencies(records []listing.Record, opts FrequencyOptions) []Frequency {
	search := strings.ToLower(strings.TrimSpace(opts.Search))
	suggestion := search != ""

	limit := opts.Limit
	if limit <= 0 {
		if suggestion {
			limit = DefaultSuggestionLimit
		} else {
			limit = DefaultTrendingLimit
		}
	}
	minSupport := opts.MinSupport
	if minSupport <= 0 {
		minSupport = DefaultMinSupport
	}

	counts := make(map[string]int)
	for _, record := range records {
		seen := make(map[string]struct{}, len(record.SplitCertificates))
		for _, tag := range record.SplitCertificates {
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			counts[tag]++
		}
	}

	out := make([]Frequency, 0, len(counts))
	for tag, count := range counts {
		if suggestion {
			if !strings.Contains(strings.ToLower(tag), search) {
				continue
			}
		} else if count < minSupport {
			continue
		}
		out = append(out, Frequency{Tag: tag, Count: count})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Index is an inverted index from certificate tag to the IDs of the
// representatives carrying it, within one category. It is rebuilt on
// every snapshot refresh and never mutated afterwards.
type Index struct {
	byTag map[string][]int64
}

// BuildIndex indexes the given representatives by tag. Duplicate tags
// within one record count once.
func BuildIndex(records []listing.Record) *Index {
	byTag := make(map[string][]int64)
	for _, record := range records {
		seen := make(map[string]struct{}, len(record.SplitCertificates))
		for _, tag := range record.SplitCertificates {
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			byTag[tag] = append(byTag[tag], record.ID)
		}
	}
	return &Index{byTag: byTag}
}

// Count returns the number of distinct representatives carrying the tag.
func (idx *Index) Count(tag string) int {
	if idx == nil {
		return 0
	}
	return len(idx.byTag[tag])
}

// Has reports whether any representative carries the tag.
func (idx *Index) Has(tag string) bool {
	return idx.Count(tag) > 0
}

// Tags returns all indexed tags in lexicographic order.
func (idx *Index) Tags() []string {
	if idx == nil {
		return nil
	}
	out := make([]string, 0, len(idx.byTag))
	for tag := range idx.byTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
