package ingest

import (
	"testing"
	"time"

	payloadschema "certmarket/schema"
)

func TestBuildInserts(t *testing.T) {
	t.Parallel()

	price := int64(35000)
	messageAt := "2026-03-01T08:00:00Z"
	items := []*payloadschema.ListingPayload{
		{
			PayloadVersion:    "v1",
			Type:              "收一建",
			SplitCertificates: []string{"一级建造师", "B证"},
			Location:          "浙江省宁波市",
			Price:             &price,
			OriginalInfo:      "收一级建造师带B证",
			MemberID:          "m-42",
			MessageAt:         &messageAt,
		},
		{
			PayloadVersion: "v1",
			Type:           "出二建",
			OriginalInfo:   "出二级建造师",
			MemberID:       "m-7",
		},
	}

	inserts, err := buildInserts(items)
	if err != nil {
		t.Fatalf("build inserts: %v", err)
	}
	if len(inserts) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(inserts))
	}

	first := inserts[0]
	if first.UUID == "" || first.UUID == inserts[1].UUID {
		t.Fatalf("expected distinct non-empty UUIDs, got %q and %q", first.UUID, inserts[1].UUID)
	}
	if first.Price == nil || *first.Price != price {
		t.Fatalf("expected price %d, got %v", price, first.Price)
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if first.MessageAt == nil || !first.MessageAt.Equal(want) {
		t.Fatalf("expected message_at %v, got %v", want, first.MessageAt)
	}

	second := inserts[1]
	if second.Price != nil {
		t.Fatalf("expected absent price to stay nil, got %v", second.Price)
	}
	if second.MessageAt != nil {
		t.Fatalf("expected absent message_at to stay nil, got %v", second.MessageAt)
	}
}

func TestBuildInsertsRejectsBadTimestamp(t *testing.T) {
	t.Parallel()

	bad := "not-a-timestamp"
	items := []*payloadschema.ListingPayload{
		{
			PayloadVersion: "v1",
			Type:           "收一建",
			OriginalInfo:   "收一级建造师",
			MemberID:       "m-1",
			MessageAt:      &bad,
		},
	}

	if _, err := buildInserts(items); err == nil {
		t.Fatalf("expected malformed timestamp to fail")
	}
}
