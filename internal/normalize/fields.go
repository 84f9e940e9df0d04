// Package normalize maps provider-specific feed rows into canonical product
// candidates, applying per-source field resolution and hard filters.
package normalize

import (
	"strings"

	"github.com/afflux/feedsync/internal/model"
)

// FieldTable maps each canonical field to an ordered list of provider column
// aliases, evaluated top-to-bottom; the first present value wins. Adding a
// new provider means adding one table, not touching the normalizer.
type FieldTable struct {
	ExternalID   []string
	Title        []string
	Description  []string
	Category     []string
	MerchantName []string
	MerchantID   []string
	Price        []string
	Currency     []string
	EPC          []string
	Commission   []string
	ProductURL   []string
	LandingURL   []string
	ImageURL     []string
	LastUpdate   []string
	GeoScope     []string
	Score        []string // explicit upstream score, honored only when trusted
}

// CommonAliases returns the alias lists shared by most tabular feeds.
// Provider tables extend these with their own columns.
func CommonAliases() FieldTable {
	return FieldTable{
		ExternalID:   []string{"product_id", "id", "sku"},
		Title:        []string{"product_name", "title", "name", "display_name"},
		Description:  []string{"description", "product_description", "long_description", "short_description"},
		Category:     []string{"category", "merchant_category", "category_name", "product_type"},
		MerchantName: []string{"merchant_name", "merchant", "advertiser_name", "brand"},
		MerchantID:   []string{"merchant_id", "advertiser_id"},
		Price:        []string{"price", "search_price", "display_price", "sale_price", "retail_price"},
		Currency:     []string{"currency", "currency_code"},
		EPC:          []string{"epc", "seven_day_epc"},
		Commission:   []string{"commission", "commission_amount", "commission_rate"},
		ProductURL:   []string{"product_url", "url", "deep_link", "deeplink", "buy_url", "link"},
		LandingURL:   []string{"landing_url", "landing_page", "merchant_deep_link", "mobile_url"},
		ImageURL:     []string{"image_url", "merchant_image_url", "aw_image_url", "large_image", "picture_url"},
		LastUpdate:   []string{"last_updated", "last_update", "updated_at", "data_feed_updated"},
		GeoScope:     []string{"geo_scope", "country", "market"},
		Score:        []string{"quality_score", "score", "rating"},
	}
}

// resolve returns the first non-empty value among the aliases.
func resolve(row model.RawRow, aliases []string) string {
	for _, a := range aliases {
		if v := strings.TrimSpace(row[a]); v != "" {
			return v
		}
	}
	return ""
}
