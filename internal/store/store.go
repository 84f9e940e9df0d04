// Package store persists the product index and the ingest run log.
// Two implementations exist: Postgres (pgxpool) and SQLite (modernc).
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/afflux/feedsync/internal/config"
	"github.com/afflux/feedsync/internal/model"
)

// SearchQuery filters the product index read path.
type SearchQuery struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit,omitempty"`
	GeoScope string `json:"geo_scope,omitempty"`
	// IncludeUnapproved widens the search past approved records.
	// The default (false) matches the serving behavior.
	IncludeUnapproved bool `json:"include_unapproved,omitempty"`
}

// Clamped returns the effective limit: 1..200, default 30.
func (q SearchQuery) Clamped() int {
	switch {
	case q.Limit <= 0:
		return 30
	case q.Limit > 200:
		return 200
	default:
		return q.Limit
	}
}

// SearchResult is one row of the search surface.
type SearchResult struct {
	ID          string   `json:"id"` // "source:external_id"
	Title       string   `json:"title"`
	Description string   `json:"description"`
	EPC         *float64 `json:"epc,omitempty"`
	Category    string   `json:"category"`
	URL         string   `json:"url"`
}

// PolicyCaps bounds the cross-source winner policy pass.
type PolicyCaps struct {
	MerchantCap int `json:"merchant_cap"`
	CategoryCap int `json:"category_cap"`
	GlobalCap   int `json:"global_cap"`
}

// normalized fills zero or negative caps with the serving defaults.
func (c PolicyCaps) normalized() PolicyCaps {
	if c.MerchantCap <= 0 {
		c.MerchantCap = 25
	}
	if c.CategoryCap <= 0 {
		c.CategoryCap = 40
	}
	if c.GlobalCap <= 0 {
		c.GlobalCap = 200
	}
	return c
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Product index
	UpsertProducts(ctx context.Context, products []model.Product) (int64, error)
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	ApplyWinnerPolicy(ctx context.Context, caps PolicyCaps) (*model.WinnerPolicyResult, error)

	// Maintenance. Only these paths flip a record inactive.
	MarkDead(ctx context.Context, source model.Source, externalID, reason string) error
	DeactivateStale(ctx context.Context, olderThan time.Time) (int64, error)

	// Ingest run log
	LastSuccess(ctx context.Context, source model.Source) (*time.Time, error)
	// LastETag returns the feed ETag recorded by the most recent completed
	// run, or "" when no run has completed yet.
	LastETag(ctx context.Context, source model.Source) (string, error)
	StartRun(ctx context.Context, source model.Source) (int64, error)
	CompleteRun(ctx context.Context, runID int64, report *model.SourceReport) error
	FailRun(ctx context.Context, runID int64, errMsg string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the store configured by cfg.Driver ("sqlite" or "postgres").
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", cfg.Driver)
	}
}
