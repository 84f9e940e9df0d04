package source

import (
	"github.com/afflux/feedsync/internal/config"
	"github.com/afflux/feedsync/internal/model"
	"github.com/afflux/feedsync/internal/normalize"
)

const cjDefaultFeedURL = "https://datafeeds.cj.com/products/catalog.csv"

// CJ serves plain comma-delimited catalogs keyed by SKU.
type CJ struct {
	cfg config.SourceConfig
}

func (c *CJ) Name() model.Source {
	return model.SourceCJ
}

func (c *CJ) FeedURL() string {
	if c.cfg.FeedURL != "" {
		return c.cfg.FeedURL
	}
	return cjDefaultFeedURL
}

func (c *CJ) Fields() normalize.FieldTable {
	f := normalize.CommonAliases()
	f.ExternalID = prepend(f.ExternalID, "sku", "catalog_id")
	f.Title = prepend(f.Title, "name")
	f.ProductURL = prepend(f.ProductURL, "buy_url", "buyurl")
	f.ImageURL = prepend(f.ImageURL, "image_url", "imageurl")
	f.MerchantName = prepend(f.MerchantName, "advertiser_name", "advertisername")
	f.MerchantID = prepend(f.MerchantID, "advertiser_id", "advertiserid")
	f.LastUpdate = prepend(f.LastUpdate, "lastupdated")
	return f
}

func (c *CJ) Rules(ing config.IngestConfig) normalize.Rules {
	return rulesFrom(ing)
}

func (c *CJ) Delimiter() rune {
	return ','
}
