package db

import (
	"context"
	"fmt"
	"time"
)

// ListingStats is the store-level read model behind the stats command
// and endpoint.
type ListingStats struct {
	TotalListings    int64      `json:"total_listings"`
	UniqueGroups     int64      `json:"unique_groups"`
	UniqueMembers    int64      `json:"unique_members"`
	WithCertificates int64      `json:"with_certificates"`
	AveragePrice     *float64   `json:"average_price,omitempty"`
	LatestListingAt  *time.Time `json:"latest_listing_at,omitempty"`
}

// QueryListingStats returns totals over the listing store. The average
// price only considers rows with a stored positive price: zero means
// "negotiable" and would drag the average down.
func (p *Pool) QueryListingStats(ctx context.Context) (*ListingStats, error) {
	const q = `
SELECT
	COUNT(*)::BIGINT AS total_listings,
	COUNT(DISTINCT group_id)::BIGINT AS unique_groups,
	COUNT(DISTINCT member_id)::BIGINT AS unique_members,
	COUNT(*) FILTER (
		WHERE split_certificates IS NOT NULL
		  AND array_length(split_certificates, 1) > 0
	)::BIGINT AS with_certificates,
	AVG(price) FILTER (WHERE price > 0) AS average_price,
	MAX(created_at) AS latest_listing_at
FROM certmarket.listings
`
	var stats ListingStats
	if err := p.QueryRow(ctx, q).Scan(
		&stats.TotalListings,
		&stats.UniqueGroups,
		&stats.UniqueMembers,
		&stats.WithCertificates,
		&stats.AveragePrice,
		&stats.LatestListingAt,
	); err != nil {
		return nil, fmt.Errorf("query listing stats: %w", err)
	}
	return &stats, nil
}

// TypeCount is one free-text type label with its raw record count.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// QueryTypeCounts returns raw record counts per type label, most common
// first. Useful for auditing the classifier rule tables against what
// posters actually write.
func (p *Pool) QueryTypeCounts(ctx context.Context, limit int) ([]TypeCount, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT type, COUNT(*)::BIGINT AS record_count
FROM certmarket.listings
GROUP BY type
ORDER BY record_count DESC, type
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query type counts: %w", err)
	}
	defer rows.Close()

	items := make([]TypeCount, 0, limit)
	for rows.Next() {
		var row TypeCount
		if err := rows.Scan(&row.Type, &row.Count); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type counts: %w", err)
	}
	return items, nil
}
