// Package payloadschema validates listing-record payloads delivered by
// the upstream extraction pipeline before they touch the store.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed listing_record.schema.json
var listingRecordSchemaJSON string

// ListingPayload is one structured posting as delivered by the upstream
// AI extraction step.
type ListingPayload struct {
	PayloadVersion    string   `json:"payload_version"`
	Type              string   `json:"type"`
	Certificates      string   `json:"certificates,omitempty"`
	SplitCertificates []string `json:"split_certificates,omitempty"`
	SocialSecurity    string   `json:"social_security,omitempty"`
	Location          string   `json:"location,omitempty"`
	Price             *int64   `json:"price,omitempty"`
	OtherInfo         string   `json:"other_info,omitempty"`
	OriginalInfo      string   `json:"original_info"`
	GroupName         string   `json:"group_name,omitempty"`
	MemberNick        string   `json:"member_nick,omitempty"`
	GroupID           string   `json:"group_id,omitempty"`
	MemberID          string   `json:"member_id"`
	MessageID         string   `json:"message_id,omitempty"`
	MessageAt         *string  `json:"message_at,omitempty"`
}

// MessageTime parses the optional RFC3339 message timestamp.
func (p *ListingPayload) MessageTime() (*time.Time, error) {
	if p == nil || p.MessageAt == nil {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*p.MessageAt))
	if err != nil {
		return nil, fmt.Errorf("message_at must be RFC3339: %w", err)
	}
	utc := ts.UTC()
	return &utc, nil
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateListingPayload validates one payload against the v1 schema
// plus the semantic invariants the schema cannot express.
func ValidateListingPayload(payload json.RawMessage) (*ListingPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item ListingPayload
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

// ValidateListingBatch validates a JSON array of payloads. The whole
// batch is rejected on the first invalid entry.
func ValidateListingBatch(payload json.RawMessage) ([]*ListingPayload, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("batch payload is empty")
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(trimmed, &rawItems); err != nil {
		return nil, fmt.Errorf("batch must be a JSON array: %w", err)
	}
	if len(rawItems) == 0 {
		return nil, fmt.Errorf("batch must not be empty")
	}

	items := make([]*ListingPayload, 0, len(rawItems))
	for i, raw := range rawItems {
		item, err := ValidateListingPayload(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("listing_record.schema.json", strings.NewReader(listingRecordSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("listing_record.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *ListingPayload) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(item.OriginalInfo) == "" {
		return fmt.Errorf("original_info must not be empty")
	}
	if strings.TrimSpace(item.MemberID) == "" {
		return fmt.Errorf("member_id must not be empty")
	}
	if item.Price != nil && *item.Price < 0 {
		return fmt.Errorf("price must be >= 0")
	}

	seen := make(map[string]struct{}, len(item.SplitCertificates))
	for i, tag := range item.SplitCertificates {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("split_certificates[%d] must not be empty", i)
		}
		if _, dup := seen[tag]; dup {
			return fmt.Errorf("split_certificates contains duplicate tag %q", tag)
		}
		seen[tag] = struct{}{}
	}

	if _, err := item.MessageTime(); err != nil {
		return err
	}

	return nil
}
