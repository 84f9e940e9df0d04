// Package winner implements constrained top-K selection over scored product
// candidates. The selector is pure and stateless: all state is local to one
// call.
package winner

import (
	"fmt"
	"sort"

	"github.com/afflux/feedsync/internal/model"
)

// Caps bound the selected set. Zero values fall back to defaults so a partial
// config never disables a constraint entirely.
type Caps struct {
	PerMerchant int // max winners per merchant
	PerCategory int // max winners per category key
	PerBucket   int // max winners per (merchant, category, price band)
	Global      int // max winners overall
}

// DefaultCaps returns the default selection constraints.
func DefaultCaps() Caps {
	return Caps{
		PerMerchant: 25,
		PerCategory: 40,
		PerBucket:   3,
		Global:      200,
	}
}

func (c Caps) normalized() Caps {
	d := DefaultCaps()
	if c.PerMerchant <= 0 {
		c.PerMerchant = d.PerMerchant
	}
	if c.PerCategory <= 0 {
		c.PerCategory = d.PerCategory
	}
	if c.PerBucket <= 0 {
		c.PerBucket = d.PerBucket
	}
	if c.Global <= 0 {
		c.Global = d.Global
	}
	return c
}

// bucketKey is the fine-grained constraint key.
func bucketKey(p *model.Product) string {
	return fmt.Sprintf("%s\x00%s\x00%s", merchantKey(p), p.Category.Key, p.PriceBand)
}

func merchantKey(p *model.Product) string {
	if p.MerchantID != "" {
		return p.MerchantID
	}
	return p.MerchantName
}

// better orders candidates by score descending, breaking ties by title then
// external ID for determinism.
func better(a, b *model.Product) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.ExternalID < b.ExternalID
}

// Select returns the bounded winner subset of the scored candidates,
// honoring all caps simultaneously and preferring higher scores.
//
// Two phases: a local per-bucket top-K pre-filter bounds the candidate set,
// then a single global walk over the score-sorted survivors enforces the
// merchant, category, bucket, and global caps together. The pre-filter
// guarantees no single merchant or category can starve the result set.
func Select(cands []*model.Product, caps Caps) []*model.Product {
	caps = caps.normalized()
	if len(cands) == 0 {
		return nil
	}

	// Phase 1: per-bucket top-K.
	buckets := make(map[string][]*model.Product)
	for _, c := range cands {
		k := bucketKey(c)
		buckets[k] = append(buckets[k], c)
	}

	survivors := make([]*model.Product, 0, len(cands))
	for _, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool { return better(bucket[i], bucket[j]) })
		if len(bucket) > caps.PerBucket {
			bucket = bucket[:caps.PerBucket]
		}
		survivors = append(survivors, bucket...)
	}

	// Phase 2: global constrained walk.
	sort.Slice(survivors, func(i, j int) bool { return better(survivors[i], survivors[j]) })

	seen := make(map[string]bool, len(survivors))
	perMerchant := make(map[string]int)
	perCategory := make(map[string]int)
	perBucket := make(map[string]int)

	var out []*model.Product
	for _, c := range survivors {
		if len(out) >= caps.Global {
			break
		}

		id := c.ID()
		if seen[id] {
			continue
		}

		m, cat, bk := merchantKey(c), c.Category.Key, bucketKey(c)
		if perMerchant[m] >= caps.PerMerchant ||
			perCategory[cat] >= caps.PerCategory ||
			perBucket[bk] >= caps.PerBucket {
			continue
		}

		seen[id] = true
		perMerchant[m]++
		perCategory[cat]++
		perBucket[bk]++
		out = append(out, c)
	}

	return out
}
