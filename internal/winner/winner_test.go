package winner

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afflux/feedsync/internal/model"
)

func cand(id, merchant, category string, band model.PriceBand, score int) *model.Product {
	return &model.Product{
		Source:       model.SourceAWIN,
		ExternalID:   id,
		Title:        "p" + id,
		MerchantName: merchant,
		Category:     model.CategoryPath{Key: category},
		PriceBand:    band,
		Score:        score,
		QualityScore: score,
	}
}

func TestSelect_Empty(t *testing.T) {
	assert.Nil(t, Select(nil, DefaultCaps()))
}

func TestSelect_PrefersHigherScores(t *testing.T) {
	cands := []*model.Product{
		cand("1", "m1", "a", model.BandLow, 50),
		cand("2", "m2", "b", model.BandLow, 90),
		cand("3", "m3", "c", model.BandLow, 70),
	}
	out := Select(cands, Caps{Global: 2})
	require.Len(t, out, 2)
	assert.Equal(t, "2", out[0].ExternalID)
	assert.Equal(t, "3", out[1].ExternalID)
}

func TestSelect_MerchantCapStarvationPrevention(t *testing.T) {
	// 50 candidates all from the same merchant, cap 10: exactly the 10
	// highest-scoring survive.
	var cands []*model.Product
	for i := range 50 {
		c := cand(fmt.Sprintf("%02d", i), "mono", fmt.Sprintf("cat%d", i), model.BandMid, i)
		cands = append(cands, c)
	}
	out := Select(cands, Caps{PerMerchant: 10, PerCategory: 100, PerBucket: 100, Global: 100})
	require.Len(t, out, 10)
	for _, c := range out {
		assert.GreaterOrEqual(t, c.Score, 40)
	}
}

func TestSelect_BucketCap(t *testing.T) {
	var cands []*model.Product
	for i := range 10 {
		cands = append(cands, cand(fmt.Sprintf("%d", i), "m", "cat", model.BandMid, 50+i))
	}
	out := Select(cands, Caps{PerBucket: 2, PerMerchant: 100, PerCategory: 100, Global: 100})
	require.Len(t, out, 2)
	assert.Equal(t, 59, out[0].Score)
	assert.Equal(t, 58, out[1].Score)
}

func TestSelect_DeterministicTieBreak(t *testing.T) {
	a := cand("1", "m", "cat", model.BandMid, 80)
	a.Title = "Alpha"
	b := cand("2", "m", "cat", model.BandMid, 80)
	b.Title = "Beta"

	out1 := Select([]*model.Product{b, a}, Caps{PerBucket: 1, Global: 1})
	out2 := Select([]*model.Product{a, b}, Caps{PerBucket: 1, Global: 1})
	require.Len(t, out1, 1)
	assert.Equal(t, "Alpha", out1[0].Title)
	assert.Equal(t, out1[0].ExternalID, out2[0].ExternalID)
}

func TestSelect_DedupsByExternalID(t *testing.T) {
	// Same external ID in two different buckets survives phase 1 twice but
	// is accepted once.
	a := cand("dup", "m1", "a", model.BandLow, 90)
	b := cand("dup", "m2", "b", model.BandHigh, 85)
	out := Select([]*model.Product{a, b}, DefaultCaps())
	require.Len(t, out, 1)
	assert.Equal(t, 90, out[0].Score)
}

func TestSelect_CapEnforcement_Randomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for trial := range 25 {
		caps := Caps{
			PerMerchant: 1 + rng.IntN(8),
			PerCategory: 1 + rng.IntN(8),
			PerBucket:   1 + rng.IntN(4),
			Global:      1 + rng.IntN(40),
		}

		var cands []*model.Product
		n := 50 + rng.IntN(150)
		bands := []model.PriceBand{model.BandLow, model.BandMid, model.BandHigh}
		for i := range n {
			cands = append(cands, cand(
				fmt.Sprintf("%d", i),
				fmt.Sprintf("m%d", rng.IntN(6)),
				fmt.Sprintf("c%d", rng.IntN(5)),
				bands[rng.IntN(3)],
				rng.IntN(101),
			))
		}

		out := Select(cands, caps)

		perMerchant := map[string]int{}
		perCategory := map[string]int{}
		perBucket := map[string]int{}
		for _, c := range out {
			perMerchant[c.MerchantName]++
			perCategory[c.Category.Key]++
			perBucket[bucketKey(c)]++
		}

		require.LessOrEqual(t, len(out), caps.Global, "trial %d", trial)
		for m, n := range perMerchant {
			assert.LessOrEqual(t, n, caps.PerMerchant, "trial %d merchant %s", trial, m)
		}
		for c, n := range perCategory {
			assert.LessOrEqual(t, n, caps.PerCategory, "trial %d category %s", trial, c)
		}
		for b, n := range perBucket {
			assert.LessOrEqual(t, n, caps.PerBucket, "trial %d bucket %q", trial, b)
		}
	}
}

func TestCaps_ZeroValuesFallBackToDefaults(t *testing.T) {
	got := Caps{}.normalized()
	assert.Equal(t, DefaultCaps(), got)

	partial := Caps{PerMerchant: 2}.normalized()
	assert.Equal(t, 2, partial.PerMerchant)
	assert.Equal(t, DefaultCaps().PerCategory, partial.PerCategory)
}
