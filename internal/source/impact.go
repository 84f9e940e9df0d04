package source

import (
	"github.com/afflux/feedsync/internal/config"
	"github.com/afflux/feedsync/internal/model"
	"github.com/afflux/feedsync/internal/normalize"
)

// Impact publishes catalog drops on an FTP endpoint rather than HTTP.
const impactDefaultFeedURL = "ftp://feeds.impact.com/catalog/products.csv"

type Impact struct {
	cfg config.SourceConfig
}

func (i *Impact) Name() model.Source {
	return model.SourceImpact
}

func (i *Impact) FeedURL() string {
	if i.cfg.FeedURL != "" {
		return i.cfg.FeedURL
	}
	return impactDefaultFeedURL
}

func (i *Impact) Fields() normalize.FieldTable {
	f := normalize.CommonAliases()
	f.ExternalID = prepend(f.ExternalID, "catalog_item_id", "item_id")
	f.Title = prepend(f.Title, "product_name", "item_name")
	f.MerchantName = prepend(f.MerchantName, "campaign_name")
	f.MerchantID = prepend(f.MerchantID, "campaign_id")
	f.Price = prepend(f.Price, "current_price", "original_price")
	f.ProductURL = prepend(f.ProductURL, "product_url")
	f.LandingURL = prepend(f.LandingURL, "landing_page_url")
	return f
}

func (i *Impact) Rules(ing config.IngestConfig) normalize.Rules {
	return rulesFrom(ing)
}

func (i *Impact) Delimiter() rune {
	return ','
}
