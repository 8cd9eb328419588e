package db

import (
	"context"
	"fmt"
	"time"
)

// RawContentExists reports whether a raw message with identical verbatim
// content was already ingested. The lookup goes through the md5 hash
// index before comparing the full text.
func (p *Pool) RawContentExists(ctx context.Context, content string) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1
	FROM certmarket.raw_messages r
	WHERE md5(r.content) = md5($1)
	  AND r.content = $1
)
`
	var exists bool
	if err := p.QueryRow(ctx, q, content).Scan(&exists); err != nil {
		return false, fmt.Errorf("check raw content: %w", err)
	}
	return exists, nil
}

// InsertRawMessage is one verbatim chat payload.
type InsertRawMessage struct {
	UUID       string
	MessageID  string
	Content    string
	GroupName  string
	MemberNick string
	GroupID    string
	MemberID   string
	MessageAt  *time.Time
}

// InsertRawMessage appends one raw message and returns its ID.
func (p *Pool) InsertRawMessage(ctx context.Context, item InsertRawMessage) (int64, error) {
	const q = `
INSERT INTO certmarket.raw_messages (
	raw_message_uuid, message_id, content,
	group_name, member_nick, group_id, member_id, message_at
) VALUES (
	$1::uuid, $2, $3,
	$4, $5, $6, $7, $8
)
RETURNING raw_message_id
`
	var id int64
	err := p.QueryRow(ctx, q,
		item.UUID,
		item.MessageID,
		item.Content,
		item.GroupName,
		item.MemberNick,
		item.GroupID,
		item.MemberID,
		item.MessageAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert raw message: %w", err)
	}
	return id, nil
}

// RawMessageStats summarizes the content-dedup bookkeeping.
type RawMessageStats struct {
	TotalMessages  int64      `json:"total_messages"`
	UniqueContents int64      `json:"unique_contents"`
	DuplicateCount int64      `json:"duplicate_count"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
}

// QueryRawMessageStats returns totals over the raw message store.
func (p *Pool) QueryRawMessageStats(ctx context.Context) (*RawMessageStats, error) {
	const q = `
SELECT
	COUNT(*)::BIGINT AS total_messages,
	COUNT(DISTINCT content)::BIGINT AS unique_contents,
	(COUNT(*) - COUNT(DISTINCT content))::BIGINT AS duplicate_count,
	MAX(created_at) AS last_message_at
FROM certmarket.raw_messages
`
	var stats RawMessageStats
	if err := p.QueryRow(ctx, q).Scan(
		&stats.TotalMessages,
		&stats.UniqueContents,
		&stats.DuplicateCount,
		&stats.LastMessageAt,
	); err != nil {
		return nil, fmt.Errorf("query raw message stats: %w", err)
	}
	return &stats, nil
}
