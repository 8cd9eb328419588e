package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"certmarket/internal/listing"
)

// recordColumns is the scan order shared by the listing read queries.
const recordColumns = `
	l.listing_id,
	l.listing_uuid::text,
	l.type,
	l.certificates,
	l.split_certificates,
	l.social_security,
	l.location,
	l.price,
	l.other_info,
	l.original_info,
	l.group_name,
	l.member_nick,
	l.group_id,
	l.member_id,
	l.message_id,
	l.message_at,
	l.created_at`

func scanRecord(rows *Rows) (listing.Record, error) {
	var (
		record listing.Record
		certs  pq.StringArray
	)
	if err := rows.Scan(
		&record.ID,
		&record.UUID,
		&record.Type,
		&record.Certificates,
		&certs,
		&record.SocialSecurity,
		&record.Location,
		&record.Price,
		&record.OtherInfo,
		&record.OriginalInfo,
		&record.GroupName,
		&record.MemberNick,
		&record.GroupID,
		&record.MemberID,
		&record.MessageID,
		&record.MessageAt,
		&record.CreatedAt,
	); err != nil {
		return listing.Record{}, err
	}
	record.SplitCertificates = []string(certs)
	return record, nil
}

// ListAllRecords reads the full append-only record set, oldest first.
// The derived views (dedup, tag index, match table) are rebuilt from
// this read on every snapshot refresh.
func (p *Pool) ListAllRecords(ctx context.Context) ([]listing.Record, error) {
	q := `
SELECT` + recordColumns + `
FROM certmarket.listings l
ORDER BY l.listing_id
`
	return p.queryRecords(ctx, q)
}

// FindRecordsByCertificate returns records carrying the given tag,
// newest first.
func (p *Pool) FindRecordsByCertificate(ctx context.Context, tag string, limit int) ([]listing.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	q := `
SELECT` + recordColumns + `
FROM certmarket.listings l
WHERE $1 = ANY(l.split_certificates)
ORDER BY l.created_at DESC, l.listing_id DESC
LIMIT $2
`
	return p.queryRecords(ctx, q, tag, limit)
}

// FindRecordsByGroup returns a chat group's records, newest first.
func (p *Pool) FindRecordsByGroup(ctx context.Context, groupID string, limit int) ([]listing.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	q := `
SELECT` + recordColumns + `
FROM certmarket.listings l
WHERE l.group_id = $1
ORDER BY l.created_at DESC, l.listing_id DESC
LIMIT $2
`
	return p.queryRecords(ctx, q, groupID, limit)
}

// FindRecordByMessageID resolves one record by source message ID.
// Returns ErrNoRows when absent.
func (p *Pool) FindRecordByMessageID(ctx context.Context, messageID string) (listing.Record, error) {
	q := `
SELECT` + recordColumns + `
FROM certmarket.listings l
WHERE l.message_id = $1
ORDER BY l.listing_id
LIMIT 1
`
	records, err := p.queryRecords(ctx, q, messageID)
	if err != nil {
		return listing.Record{}, err
	}
	if len(records) == 0 {
		return listing.Record{}, ErrNoRows
	}
	return records[0], nil
}

func (p *Pool) queryRecords(ctx context.Context, query string, args ...any) ([]listing.Record, error) {
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	records := make([]listing.Record, 0, 64)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing rows: %w", err)
	}
	return records, nil
}

// InsertListing is one row of a batch insert.
type InsertListing struct {
	UUID              string
	Type              string
	Certificates      string
	SplitCertificates []string
	SocialSecurity    string
	Location          string
	Price             *int64
	OtherInfo         string
	OriginalInfo      string
	GroupName         string
	MemberNick        string
	GroupID           string
	MemberID          string
	MessageID         string
	MessageAt         *time.Time
}

// InsertListings appends a validated batch in one transaction and
// returns the assigned listing IDs in input order.
func (p *Pool) InsertListings(ctx context.Context, items []InsertListing) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin insert transaction: %w", err)
	}

	const q = `
INSERT INTO certmarket.listings (
	listing_uuid, type, certificates, split_certificates, social_security,
	location, price, other_info, original_info,
	group_name, member_nick, group_id, member_id, message_id, message_at
) VALUES (
	$1::uuid, $2, $3, $4, $5,
	$6, $7, $8, $9,
	$10, $11, $12, $13, $14, $15
)
RETURNING listing_id
`

	ids := make([]int64, 0, len(items))
	for i, item := range items {
		var id int64
		err := tx.QueryRow(ctx, q,
			item.UUID,
			item.Type,
			item.Certificates,
			pq.StringArray(item.SplitCertificates),
			item.SocialSecurity,
			item.Location,
			item.Price,
			item.OtherInfo,
			item.OriginalInfo,
			item.GroupName,
			item.MemberNick,
			item.GroupID,
			item.MemberID,
			item.MessageID,
			item.MessageAt,
		).Scan(&id)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("insert listing %d: %w", i, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit listing batch: %w", err)
	}
	return ids, nil
}
