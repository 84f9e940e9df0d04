package normalize

import (
	"strings"
	"time"

	"github.com/afflux/feedsync/internal/model"
)

// Reason identifies why a row was rejected by the hard filters. Rejection is
// an expected outcome counted as skipped, never logged as an error.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonMissingID     Reason = "missing_external_id"
	ReasonMissingTitle  Reason = "missing_title"
	ReasonMissingURL    Reason = "missing_url"
	ReasonMissingImage  Reason = "missing_image"
	ReasonShortDesc     Reason = "short_description"
	ReasonPriceBelowMin Reason = "price_below_min"
	ReasonStale         Reason = "stale"
	ReasonWrongCurrency Reason = "wrong_currency"
)

// Rules are the hard filters, configurable per source. Zero values disable
// the optional filters; the title/URL/ID requirements always apply.
type Rules struct {
	MinDescriptionLen int
	RequireImage      bool
	MinPrice          float64
	MaxAge            time.Duration // 0 = no freshness requirement
	Currency          string        // "" = accept any
}

// Options bundle the non-filter normalization knobs.
type Options struct {
	CategoryDepth int
	PriceBandLow  float64
	PriceBandHigh float64
}

// Result is a normalized candidate plus the upstream score, if the feed
// carried one. Scoring and canonical identity are applied downstream.
type Result struct {
	Product       *model.Product
	UpstreamScore *int
}

// Normalizer maps raw rows from one source into canonical candidates.
type Normalizer struct {
	source model.Source
	fields FieldTable
	rules  Rules
	opts   Options
	now    func() time.Time
}

// New creates a Normalizer for one source.
func New(source model.Source, fields FieldTable, rules Rules, opts Options) *Normalizer {
	return &Normalizer{
		source: source,
		fields: fields,
		rules:  rules,
		opts:   opts,
		now:    time.Now,
	}
}

// Row maps a RawRow to a canonical candidate, or rejects it with a Reason.
func (n *Normalizer) Row(row model.RawRow) (*Result, Reason) {
	externalID := resolve(row, n.fields.ExternalID)
	if externalID == "" {
		return nil, ReasonMissingID
	}

	title := resolve(row, n.fields.Title)
	if title == "" {
		return nil, ReasonMissingTitle
	}

	productURL := resolve(row, n.fields.ProductURL)
	landingURL := resolve(row, n.fields.LandingURL)
	if productURL == "" && landingURL == "" {
		return nil, ReasonMissingURL
	}

	imageURL := resolve(row, n.fields.ImageURL)
	if n.rules.RequireImage && imageURL == "" {
		return nil, ReasonMissingImage
	}

	description := resolve(row, n.fields.Description)
	if n.rules.MinDescriptionLen > 0 && len(description) < n.rules.MinDescriptionLen {
		return nil, ReasonShortDesc
	}

	price := ParsePrice(resolve(row, n.fields.Price))
	if n.rules.MinPrice > 0 && price != nil && *price < n.rules.MinPrice {
		return nil, ReasonPriceBelowMin
	}

	currency := resolve(row, n.fields.Currency)
	if n.rules.Currency != "" && currency != "" && !strings.EqualFold(currency, n.rules.Currency) {
		return nil, ReasonWrongCurrency
	}

	lastUpdate := ParseTime(resolve(row, n.fields.LastUpdate))
	if n.rules.MaxAge > 0 && lastUpdate != nil && n.now().Sub(*lastUpdate) > n.rules.MaxAge {
		return nil, ReasonStale
	}

	p := &model.Product{
		Source:       n.source,
		ExternalID:   externalID,
		Title:        title,
		Description:  description,
		Category:     Category(resolve(row, n.fields.Category), n.opts.CategoryDepth),
		MerchantName: resolve(row, n.fields.MerchantName),
		MerchantID:   resolve(row, n.fields.MerchantID),
		Price:        price,
		Currency:     currency,
		EPC:          ParsePrice(resolve(row, n.fields.EPC)),
		Commission:   ParsePrice(resolve(row, n.fields.Commission)),
		ProductURL:   productURL,
		LandingURL:   landingURL,
		ImageURL:     imageURL,
		GeoScope:     resolve(row, n.fields.GeoScope),
		PriceBand:    BandFor(price, n.opts.PriceBandLow, n.opts.PriceBandHigh),
		LastUpdate:   lastUpdate,
		IsActive:     true,
		IsApproved:   true,
	}

	return &Result{
		Product:       p,
		UpstreamScore: ParseScore(resolve(row, n.fields.Score)),
	}, ReasonNone
}
