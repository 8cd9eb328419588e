// Package match computes supply/demand cross-matching over deduplicated
// representatives. Both computations go through the inverted tag index,
// keeping the engine linear in tags instead of quadratic in listings.
package match

import (
	"math"
	"sort"

	"certmarket/internal/listing"
	"certmarket/internal/tags"
)

// Match levels for aggregate tag statistics.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
	LevelNone   = "none"
)

// Availability describes, for one demand representative, which of its
// tags the current supply side covers.
type Availability struct {
	ListingID int64 `json:"listing_id"`
	// AvailableTagCount is the number of distinct demand tags covered by
	// at least one supply representative.
	AvailableTagCount int `json:"available_tag_count"`
	// AvailableTags lists the covered tags in lexicographic order.
	AvailableTags []string `json:"available_tags"`
	// TotalSupplyCount sums, over each covered tag, the number of
	// distinct supply representatives carrying it. This is a volume
	// signal: one tag held by k suppliers contributes k.
	TotalSupplyCount int `json:"total_supply_count"`
}

// ComputeAvailability computes the supply coverage of one demand
// representative.
func ComputeAvailability(demand listing.Record, supplyIndex *tags.Index) Availability {
	out := Availability{
		ListingID:     demand.ID,
		AvailableTags: []string{},
	}

	seen := make(map[string]struct{}, len(demand.SplitCertificates))
	for _, tag := range demand.SplitCertificates {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}

		supplyCount := supplyIndex.Count(tag)
		if supplyCount == 0 {
			continue
		}
		out.AvailableTags = append(out.AvailableTags, tag)
		out.TotalSupplyCount += supplyCount
	}

	sort.Strings(out.AvailableTags)
	out.AvailableTagCount = len(out.AvailableTags)
	return out
}

// TagStat is one row of the aggregate supply/demand match table.
type TagStat struct {
	Tag          string `json:"tag"`
	ReceiveCount int    `json:"receive_count"`
	SendCount    int    `json:"send_count"`
	// MatchStrengthScore is receive_count * send_count.
	MatchStrengthScore int `json:"match_strength_score"`
	// SendReceiveRatioPercent is send/max(receive,1)*100 rounded to two
	// decimals.
	SendReceiveRatioPercent float64 `json:"send_receive_ratio_percent"`
	MatchLevel              string  `json:"match_level"`
	// Rank uses standard competition ranking: supplied tags rank ahead
	// of unsupplied ones, ties share a rank, the next distinct key gets
	// rank = rows strictly ahead + 1.
	Rank int `json:"rank"`
}

// AggregateTagStats builds the per-tag match table for every tag seen on
// either side.
func AggregateTagStats(demandIndex, supplyIndex *tags.Index) []TagStat {
	universe := make(map[string]struct{})
	for _, tag := range demandIndex.Tags() {
		universe[tag] = struct{}{}
	}
	for _, tag := range supplyIndex.Tags() {
		universe[tag] = struct{}{}
	}

	out := make([]TagStat, 0, len(universe))
	for tag := range universe {
		receive := demandIndex.Count(tag)
		send := supplyIndex.Count(tag)
		out = append(out, TagStat{
			Tag:                     tag,
			ReceiveCount:            receive,
			SendCount:               send,
			MatchStrengthScore:      receive * send,
			SendReceiveRatioPercent: ratioPercent(send, receive),
			MatchLevel:              matchLevel(receive, send),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return rankLess(out[i], out[j])
	})
	assignRanks(out)
	return out
}

func ratioPercent(send, receive int) float64 {
	divisor := receive
	if divisor < 1 {
		divisor = 1
	}
	return math.Round(float64(send)/float64(divisor)*100*100) / 100
}

func matchLevel(receive, send int) string {
	switch {
	case send == 0:
		return LevelNone
	case send >= 2*receive:
		return LevelHigh
	case send >= receive:
		return LevelMedium
	default:
		return LevelLow
	}
}

// rankLess orders the aggregate table: supplied tags first, then match
// strength descending, then tag ascending.
func rankLess(a, b TagStat) bool {
	aSupplied := a.SendCount > 0
	bSupplied := b.SendCount > 0
	if aSupplied != bSupplied {
		return aSupplied
	}
	if a.MatchStrengthScore != b.MatchStrengthScore {
		return a.MatchStrengthScore > b.MatchStrengthScore
	}
	return a.Tag < b.Tag
}

func sameRankKey(a, b TagStat) bool {
	return (a.SendCount > 0) == (b.SendCount > 0) && a.MatchStrengthScore == b.MatchStrengthScore
}

func assignRanks(stats []TagStat) {
	for i := range stats {
		if i > 0 && sameRankKey(stats[i], stats[i-1]) {
			stats[i].Rank = stats[i-1].Rank
			continue
		}
		stats[i].Rank = i + 1
	}
}
