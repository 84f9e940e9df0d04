// Package canonical derives a tracking-stripped canonical URL and a stable
// hash identity from a product's link fields. Two differently-tracked
// affiliate links to the same product collapse to the same identity.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Options configures canonicalization.
type Options struct {
	// Strict keeps only allow-listed identity parameters when at least one
	// is present in the remaining query.
	Strict bool
}

// trackingParams are dropped unconditionally.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"utm_id":       true,
	"gclid":        true,
	"fbclid":       true,
	"msclkid":      true,
	"clickid":      true,
	"click_id":     true,
	"clickref":     true,
	"awc":          true,
	"affid":        true,
	"aff_id":       true,
	"affiliate":    true,
	"aff_sub":      true,
	"subid":        true,
	"sub_id":       true,
	"sid":          true,
	"ref":          true,
	"referrer":     true,
	"referral":     true,
	"tag":          true,
	"irclickid":    true,
	"irgwc":        true,
	"cjevent":      true,
	"zanpid":       true,
}

// identityParams are product-identifying parameters kept in strict mode.
var identityParams = map[string]bool{
	"id":         true,
	"sku":        true,
	"productid":  true,
	"product_id": true,
	"pid":        true,
	"asin":       true,
	"variant":    true,
}

// Canonicalize derives (canonical_url, canonical_hash) from the candidate
// URLs, preferring the product URL. Returns ("", "") if no usable URL exists.
func Canonicalize(productURL, landingURL string, opts Options) (string, string) {
	raw := productURL
	if raw == "" {
		raw = landingURL
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	canon := normalizeURL(raw, opts)
	if canon == "" {
		return "", ""
	}

	return canon, Hash(canon)
}

// Hash returns the hex sha256 of a canonical URL. It is a pure function:
// equal canonical URLs always produce equal hashes.
func Hash(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

func normalizeURL(raw string, opts Options) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Unparsable: best effort, strip the fragment and return as-is.
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}
		return raw
	}

	u.Fragment = ""

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	u.Host = host

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	q := u.Query()
	for name := range q {
		if trackingParams[strings.ToLower(name)] {
			q.Del(name)
		}
	}

	if opts.Strict {
		hasIdentity := false
		for name := range q {
			if identityParams[strings.ToLower(name)] {
				hasIdentity = true
				break
			}
		}
		if hasIdentity {
			for name := range q {
				if !identityParams[strings.ToLower(name)] {
					q.Del(name)
				}
			}
		}
	}

	u.RawQuery = sortedEncode(q)
	return u.String()
}

// sortedEncode encodes query parameters sorted by name for determinism.
func sortedEncode(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		vals := q[name]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
