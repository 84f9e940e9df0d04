package source

import (
	"github.com/afflux/feedsync/internal/config"
	"github.com/afflux/feedsync/internal/model"
	"github.com/afflux/feedsync/internal/normalize"
)

const awinDefaultFeedURL = "https://productdata.awin.com/datafeed/download/feed.csv.gz"

// AWIN serves gzip-compressed comma-delimited product feeds. Prices use a
// comma decimal separator in many locales.
type AWIN struct {
	cfg config.SourceConfig
}

func (a *AWIN) Name() model.Source {
	return model.SourceAWIN
}

func (a *AWIN) FeedURL() string {
	if a.cfg.FeedURL != "" {
		return a.cfg.FeedURL
	}
	return awinDefaultFeedURL
}

func (a *AWIN) Fields() normalize.FieldTable {
	f := normalize.CommonAliases()
	f.ExternalID = prepend(f.ExternalID, "aw_product_id", "merchant_product_id")
	f.ProductURL = prepend(f.ProductURL, "aw_deep_link")
	f.LandingURL = prepend(f.LandingURL, "merchant_deep_link")
	f.ImageURL = prepend(f.ImageURL, "aw_image_url", "merchant_image_url")
	f.Price = prepend(f.Price, "search_price", "store_price")
	f.Category = prepend(f.Category, "merchant_category", "category_name")
	f.LastUpdate = prepend(f.LastUpdate, "data_feed_updated")
	return f
}

func (a *AWIN) Rules(ing config.IngestConfig) normalize.Rules {
	return rulesFrom(ing)
}

func (a *AWIN) Delimiter() rune {
	return ','
}
