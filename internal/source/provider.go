// Package source defines the affiliate network providers and the registry
// the orchestrator selects them from. Adding a provider means adding one
// file with a field table and default endpoint; the pipeline never branches
// on provider names.
package source

import (
	"time"

	"github.com/afflux/feedsync/internal/config"
	"github.com/afflux/feedsync/internal/model"
	"github.com/afflux/feedsync/internal/normalize"
)

// Provider describes one affiliate network feed.
type Provider interface {
	// Name returns the unique source identifier (e.g., "awin").
	Name() model.Source

	// FeedURL returns the feed endpoint, honoring the configured override.
	FeedURL() string

	// Fields returns the provider's column alias table.
	Fields() normalize.FieldTable

	// Rules derives the hard filters for this provider from the ingest config.
	Rules(ing config.IngestConfig) normalize.Rules

	// Delimiter returns the feed's field separator.
	Delimiter() rune
}

// rulesFrom maps the shared ingest knobs onto normalizer rules.
func rulesFrom(ing config.IngestConfig) normalize.Rules {
	var maxAge time.Duration
	if ing.MaxAgeDays > 0 {
		maxAge = time.Duration(ing.MaxAgeDays) * 24 * time.Hour
	}
	return normalize.Rules{
		MinDescriptionLen: ing.MinDescriptionLen,
		RequireImage:      ing.RequireImage,
		MinPrice:          ing.MinPrice,
		MaxAge:            maxAge,
		Currency:          ing.Currency,
	}
}

// prepend puts provider-specific aliases ahead of the shared ones so they
// win the first-non-empty resolution.
func prepend(aliases []string, extra ...string) []string {
	return append(extra, aliases...)
}
