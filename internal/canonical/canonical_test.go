package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_Empty(t *testing.T) {
	u, h := Canonicalize("", "", Options{})
	assert.Empty(t, u)
	assert.Empty(t, h)
}

func TestCanonicalize_PrefersProductURL(t *testing.T) {
	u, _ := Canonicalize("https://shop.test/p/1", "https://land.test/x", Options{})
	assert.Equal(t, "https://shop.test/p/1", u)

	u, _ = Canonicalize("", "https://land.test/x", Options{})
	assert.Equal(t, "https://land.test/x", u)
}

func TestCanonicalize_HostAndPath(t *testing.T) {
	u, _ := Canonicalize("https://WWW.Shop.Test/Products/widget/", "", Options{})
	assert.Equal(t, "https://shop.test/Products/widget", u)

	// Root path keeps its slash.
	u, _ = Canonicalize("https://shop.test/", "", Options{})
	assert.Equal(t, "https://shop.test/", u)
}

func TestCanonicalize_DropsFragment(t *testing.T) {
	u, _ := Canonicalize("https://shop.test/p/1#reviews", "", Options{})
	assert.Equal(t, "https://shop.test/p/1", u)
}

func TestCanonicalize_TrackingParamInvariance(t *testing.T) {
	base := "https://shop.test/p/1"
	variants := []string{
		base,
		base + "?utm_source=a",
		base + "?utm_source=b&utm_campaign=summer",
		base + "?clickref=xyz&awc=123",
		base + "?fbclid=abc",
	}

	_, want := Canonicalize(base, "", Options{})
	require.NotEmpty(t, want)
	for _, v := range variants {
		_, got := Canonicalize(v, "", Options{})
		assert.Equal(t, want, got, "variant %s", v)
	}
}

func TestCanonicalize_StrictKeepsIdentityParams(t *testing.T) {
	u, _ := Canonicalize("https://shop.test/p?sku=A1&color=red&size=xl", "", Options{Strict: true})
	assert.Equal(t, "https://shop.test/p?sku=A1", u)

	// Without an identity param, everything non-tracking survives.
	u, _ = Canonicalize("https://shop.test/p?color=red&size=xl", "", Options{Strict: true})
	assert.Equal(t, "https://shop.test/p?color=red&size=xl", u)
}

func TestCanonicalize_ParamsSorted(t *testing.T) {
	u1, h1 := Canonicalize("https://shop.test/p?b=2&a=1", "", Options{})
	u2, h2 := Canonicalize("https://shop.test/p?a=1&b=2", "", Options{})
	assert.Equal(t, u1, u2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "https://shop.test/p?a=1&b=2", u1)
}

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []string{
		"https://WWW.Shop.Test/p/1/?utm_source=a&sku=9&z=1#frag",
		"https://shop.test/",
		"http://shop.test/p?id=5",
	}
	for _, in := range inputs {
		once, h1 := Canonicalize(in, "", Options{Strict: true})
		twice, h2 := Canonicalize(once, "", Options{Strict: true})
		assert.Equal(t, once, twice, "input %s", in)
		assert.Equal(t, h1, h2)
	}
}

func TestCanonicalize_UnparsableFallsBackToFragmentStrip(t *testing.T) {
	u, h := Canonicalize("::not a url::#frag", "", Options{})
	assert.Equal(t, "::not a url::", u)
	assert.NotEmpty(t, h)
}

func TestHash_PureFunction(t *testing.T) {
	assert.Equal(t, Hash("https://shop.test/p/1"), Hash("https://shop.test/p/1"))
	assert.NotEqual(t, Hash("https://shop.test/p/1"), Hash("https://shop.test/p/2"))
	assert.Len(t, Hash("x"), 64)
}
