// Package score computes the deterministic 0–100 quality score and winner
// tier for canonical products.
package score

import (
	"time"

	"github.com/afflux/feedsync/internal/model"
)

// Config holds the scoring knobs. The zero value plus DefaultConfig gives
// the documented behavior.
type Config struct {
	// TrustUpstreamScores accepts an explicit score already present in the
	// feed instead of recomputing. Off by default: a buggy or malicious feed
	// must not be able to bypass the quality bar.
	TrustUpstreamScores bool

	// SweetSpotLow/High bound the price band that earns a small bonus.
	SweetSpotLow  float64
	SweetSpotHigh float64
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		SweetSpotLow:  25,
		SweetSpotHigh: 150,
	}
}

// Tier thresholds.
const (
	tierAMin = 85
	tierBMin = 70
	tierCMin = 55
)

// Compute returns the quality score for a product at the given reference
// time. It is a pure function: identical input always yields an identical
// score. now is passed explicitly so recency bonuses are reproducible.
func Compute(p *model.Product, upstream *int, cfg Config, now time.Time) int {
	if cfg.TrustUpstreamScores && upstream != nil {
		return clamp(*upstream)
	}

	s := 0

	if p.ImageURL != "" {
		s += 30
	}

	if n := len(p.Description); n >= 60 {
		s += 20
		if n >= 140 {
			s += 10
		}
	}

	if p.Price != nil && *p.Price > 0 {
		s += 20
		if *p.Price >= cfg.SweetSpotLow && *p.Price <= cfg.SweetSpotHigh {
			s += 3
		}
	}

	if p.MerchantName != "" || p.MerchantID != "" {
		s += 10
	}

	if p.Category.Key != "" {
		s += 10
	}

	if p.LastUpdate != nil {
		age := now.Sub(*p.LastUpdate)
		switch {
		case age < 30*24*time.Hour:
			s += 8
		case age < 90*24*time.Hour:
			s += 5
		case age < 180*24*time.Hour:
			s += 2
		}
	}

	return clamp(s)
}

// TierFor maps a quality score to the coarse winner tier.
func TierFor(score int) model.WinnerTier {
	switch {
	case score >= tierAMin:
		return model.TierA
	case score >= tierBMin:
		return model.TierB
	case score >= tierCMin:
		return model.TierC
	default:
		return ""
	}
}

func clamp(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
