// Package classify maps free-text transaction labels to categories.
//
// Two rule tables exist historically: the collector used 收/接/招聘/寻
// for demand and 出 for supply, while the web layer additionally matched
// 要/需/找 and 供. The rules are kept as explicit versioned tables so a
// deployment picks one deliberately instead of inheriting whichever code
// path ran last.
package classify

import (
	"fmt"
	"strings"

	"certmarket/internal/listing"
)

// RuleSet is an explicit classification rule table. Demand markers are
// checked before supply markers: a label containing both (e.g. "收出")
// classifies as demand, and that ordering is load-bearing for
// reproducibility.
type RuleSet struct {
	Version       string
	DemandMarkers []string
	SupplyMarkers []string
}

// Collector is the v1 rule table used by the message collector.
var Collector = RuleSet{
	Version:       "v1",
	DemandMarkers: []string{"收", "接", "招聘", "寻"},
	SupplyMarkers: []string{"出"},
}

// Web is the v2 rule table used by the web layer.
var Web = RuleSet{
	Version:       "v2",
	DemandMarkers: []string{"收", "接", "招聘", "寻", "要", "需", "找"},
	SupplyMarkers: []string{"出", "供"},
}

// ByVersion resolves a configured rule set version.
func ByVersion(version string) (RuleSet, error) {
	switch strings.TrimSpace(strings.ToLower(version)) {
	case "", Collector.Version:
		return Collector, nil
	case Web.Version:
		return Web, nil
	default:
		return RuleSet{}, fmt.Errorf("unknown classifier rule set %q (want v1 or v2)", version)
	}
}

// Classify returns exactly one category for any label. Matching is
// substring containment on the label as stored.
func (r RuleSet) Classify(typeLabel string) listing.Category {
	label := strings.TrimSpace(typeLabel)
	if label == "" {
		return listing.CategoryOther
	}
	for _, marker := range r.DemandMarkers {
		if strings.Contains(label, marker) {
			return listing.CategoryDemand
		}
	}
	for _, marker := range r.SupplyMarkers {
		if strings.Contains(label, marker) {
			return listing.CategorySupply
		}
	}
	return listing.CategoryOther
}

// ClassifyRecord classifies a record by its type label.
func (r RuleSet) ClassifyRecord(record listing.Record) listing.Category {
	return r.Classify(record.Type)
}
