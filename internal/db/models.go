package db

import (
	"time"

	"github.com/lib/pq"
)

// Listing maps certmarket.listings. The table is append-only: rows are
// written once by the ingest boundary and never edited; deduplication
// and matching are recomputed per query cycle.
type Listing struct {
	ListingID   int64  `gorm:"column:listing_id;primaryKey;autoIncrement"`
	ListingUUID string `gorm:"column:listing_uuid;type:uuid;not null;unique"`

	Type              string         `gorm:"column:type;type:text;not null;default:''"`
	Certificates      string         `gorm:"column:certificates;type:text;not null;default:''"`
	SplitCertificates pq.StringArray `gorm:"column:split_certificates;type:text[]"`
	SocialSecurity    string         `gorm:"column:social_security;type:text;not null;default:''"`
	Location          string         `gorm:"column:location;type:text;not null;default:''"`
	Price             *int64         `gorm:"column:price;type:bigint"`
	OtherInfo         string         `gorm:"column:other_info;type:text;not null;default:''"`
	OriginalInfo      string         `gorm:"column:original_info;type:text;not null"`

	GroupName  string `gorm:"column:group_name;type:text;not null;default:''"`
	MemberNick string `gorm:"column:member_nick;type:text;not null;default:''"`
	GroupID    string `gorm:"column:group_id;type:text;not null;default:''"`
	MemberID   string `gorm:"column:member_id;type:text;not null;default:''"`
	MessageID  string `gorm:"column:message_id;type:text;not null;default:''"`

	MessageAt *time.Time `gorm:"column:message_at;type:timestamptz"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Listing) TableName() string { return "certmarket.listings" }

// RawMessage maps certmarket.raw_messages: the verbatim chat payload
// store used for content-based ingest dedup bookkeeping.
type RawMessage struct {
	RawMessageID   int64  `gorm:"column:raw_message_id;primaryKey;autoIncrement"`
	RawMessageUUID string `gorm:"column:raw_message_uuid;type:uuid;not null;unique"`

	MessageID string `gorm:"column:message_id;type:text;not null;default:''"`
	Content   string `gorm:"column:content;type:text;not null"`

	GroupName  string `gorm:"column:group_name;type:text;not null;default:''"`
	MemberNick string `gorm:"column:member_nick;type:text;not null;default:''"`
	GroupID    string `gorm:"column:group_id;type:text;not null;default:''"`
	MemberID   string `gorm:"column:member_id;type:text;not null;default:''"`

	MessageAt *time.Time `gorm:"column:message_at;type:timestamptz"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (RawMessage) TableName() string { return "certmarket.raw_messages" }

func autoMigrateModels() []any {
	return []any{
		&Listing{},
		&RawMessage{},
	}
}
