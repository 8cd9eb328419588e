package match

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"certmarket/internal/listing"
	"certmarket/internal/tags"
)

var tagPool = []string{"一级建造师", "二级建造师", "B证", "一级市政", "注册岩土", "消防工程师"}

func genSide() gopter.Gen {
	tagSubset := gen.SliceOf(gen.IntRange(0, len(tagPool)-1)).Map(func(picks []int) []string {
		seen := make(map[string]struct{}, len(picks))
		out := make([]string, 0, len(picks))
		for _, pick := range picks {
			tag := tagPool[pick]
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
		return out
	})

	recordGen := tagSubset.Map(func(certTags []string) listing.Record {
		return listing.Record{OriginalInfo: "x", SplitCertificates: certTags}
	})

	return gen.SliceOf(recordGen).Map(func(records []listing.Record) []listing.Record {
		for i := range records {
			records[i].ID = int64(i + 1)
		}
		return records
	})
}

func TestMatchingProperties(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("adding a supply listing never decreases counts", prop.ForAll(
		func(demandRecords, supplyRecords []listing.Record, extraTag int) bool {
			demandIndex := tags.BuildIndex(demandRecords)
			before := AggregateTagStats(demandIndex, tags.BuildIndex(supplyRecords))

			added := listing.Record{
				ID:                int64(len(supplyRecords) + 1),
				OriginalInfo:      "x",
				SplitCertificates: []string{tagPool[extraTag]},
			}
			after := AggregateTagStats(demandIndex, tags.BuildIndex(append(supplyRecords, added)))

			beforeByTag := make(map[string]TagStat, len(before))
			for _, row := range before {
				beforeByTag[row.Tag] = row
			}
			for _, row := range after {
				prev, seen := beforeByTag[row.Tag]
				if !seen {
					continue
				}
				if row.SendCount < prev.SendCount || row.MatchStrengthScore < prev.MatchStrengthScore {
					return false
				}
			}
			return true
		},
		genSide(), genSide(), gen.IntRange(0, len(tagPool)-1),
	))

	properties.Property("availability totals never decrease with more supply", prop.ForAll(
		func(demandRecords, supplyRecords []listing.Record, extraTag int) bool {
			supplyIndex := tags.BuildIndex(supplyRecords)
			added := listing.Record{
				ID:                int64(len(supplyRecords) + 1),
				OriginalInfo:      "x",
				SplitCertificates: []string{tagPool[extraTag]},
			}
			grownIndex := tags.BuildIndex(append(supplyRecords, added))

			for _, demand := range demandRecords {
				before := ComputeAvailability(demand, supplyIndex)
				after := ComputeAvailability(demand, grownIndex)
				if after.TotalSupplyCount < before.TotalSupplyCount || after.AvailableTagCount < before.AvailableTagCount {
					return false
				}
			}
			return true
		},
		genSide(), genSide(), gen.IntRange(0, len(tagPool)-1),
	))

	properties.Property("higher score means rank at least as good among supplied tags", prop.ForAll(
		func(demandRecords, supplyRecords []listing.Record) bool {
			stats := AggregateTagStats(tags.BuildIndex(demandRecords), tags.BuildIndex(supplyRecords))
			for i := range stats {
				for j := range stats {
					if stats[i].SendCount == 0 || stats[j].SendCount == 0 {
						continue
					}
					if stats[i].MatchStrengthScore > stats[j].MatchStrengthScore && stats[i].Rank > stats[j].Rank {
						return false
					}
				}
			}
			return true
		},
		genSide(), genSide(),
	))

	properties.TestingRun(t)
}
