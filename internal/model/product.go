// Package model defines the canonical product record and run reporting types
// shared across the ingestion pipeline.
package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Source identifies an affiliate network provider.
type Source string

const (
	SourceAWIN   Source = "awin"
	SourceCJ     Source = "cj"
	SourceImpact Source = "impact"
)

// AllSources returns every known provider in registration order.
func AllSources() []Source {
	return []Source{SourceAWIN, SourceCJ, SourceImpact}
}

// ParseSource converts a string like "awin" into a Source.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceAWIN, SourceCJ, SourceImpact:
		return Source(s), nil
	default:
		return "", eris.Errorf("unknown source: %q (valid: awin, cj, impact)", s)
	}
}

// RawRow is one parsed feed record mapping lower-cased column names to
// raw values. It is ephemeral and discarded after normalization.
type RawRow map[string]string

// PriceBand is a coarse price classification derived from configurable thresholds.
type PriceBand string

const (
	BandLow  PriceBand = "low"
	BandMid  PriceBand = "mid"
	BandHigh PriceBand = "high"
)

// WinnerTier is the coarse quality tier derived from the quality score.
type WinnerTier string

const (
	TierA WinnerTier = "A"
	TierB WinnerTier = "B"
	TierC WinnerTier = "C"
)

// CategoryPath holds the normalized category: a lower-cased machine key
// ("home/kitchen") and a human label ("Home / Kitchen").
type CategoryPath struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Product is the canonical persisted record, unique on (Source, ExternalID).
type Product struct {
	Source     Source `json:"source"`
	ExternalID string `json:"external_id"`

	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Category     CategoryPath `json:"category"`
	MerchantName string       `json:"merchant_name"`
	MerchantID   string       `json:"merchant_id"`

	Price      *float64 `json:"price,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	EPC        *float64 `json:"epc,omitempty"`
	Commission *float64 `json:"commission,omitempty"`

	ProductURL string `json:"product_url,omitempty"`
	LandingURL string `json:"landing_url,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`

	CanonicalURL  string    `json:"canonical_url,omitempty"`
	CanonicalHash string    `json:"canonical_hash,omitempty"`
	PriceBand     PriceBand `json:"price_band,omitempty"`

	// QualityScore is always computed, never absent. Score defaults to
	// QualityScore but may be overridden by a downstream ranking pass.
	QualityScore int        `json:"quality_score"`
	Score        int        `json:"score"`
	WinnerTier   WinnerTier `json:"winner_tier,omitempty"`

	IsActive   bool       `json:"is_active"`
	IsApproved bool       `json:"is_approved"`
	GeoScope   string     `json:"geo_scope,omitempty"`
	DeadReason string     `json:"dead_reason,omitempty"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUpdate *time.Time `json:"last_update,omitempty"` // provider-reported freshness
}

// ID returns the serving identifier "source:external_id".
func (p *Product) ID() string {
	return fmt.Sprintf("%s:%s", p.Source, p.ExternalID)
}

// HasURL reports whether the product carries at least one usable link.
func (p *Product) HasURL() bool {
	return p.ProductURL != "" || p.LandingURL != ""
}
