package dedup

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"certmarket/internal/listing"
)

// genRecords builds record sets with a small key space so fingerprint
// collisions actually occur.
func genRecords() gopter.Gen {
	texts := gen.OneConstOf("收一建", "出二建", "寻注册岩土", "出消防")
	members := gen.OneConstOf("m1", "m2", "m3")

	recordGen := gopter.CombineGens(texts, members, gen.Int64Range(0, 72)).Map(
		func(values []interface{}) listing.Record {
			return listing.Record{
				OriginalInfo: values[0].(string),
				MemberID:     values[1].(string),
				CreatedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(values[2].(int64)) * time.Hour),
			}
		})

	return gen.SliceOf(recordGen).Map(func(records []listing.Record) []listing.Record {
		for i := range records {
			records[i].ID = int64(i + 1)
		}
		return records
	})
}

func TestCollapseProperties(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cardinality never exceeds input size", prop.ForAll(
		func(records []listing.Record) bool {
			return len(Collapse(records)) <= len(records)
		},
		genRecords(),
	))

	properties.Property("class sizes sum to input size", prop.ForAll(
		func(records []listing.Record) bool {
			total := 0
			for _, class := range Collapse(records) {
				total += class.RepeatCount
			}
			return total == len(records)
		},
		genRecords(),
	))

	properties.Property("collapsing representatives again is idempotent", prop.ForAll(
		func(records []listing.Record) bool {
			first := Collapse(records)
			second := Collapse(Representatives(first))
			if len(second) != len(first) {
				return false
			}
			for i, class := range second {
				if class.RepeatCount != 1 {
					return false
				}
				if class.Representative.Fingerprint() != first[i].Representative.Fingerprint() {
					return false
				}
			}
			return true
		},
		genRecords(),
	))

	properties.TestingRun(t)
}
