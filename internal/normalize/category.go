package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/afflux/feedsync/internal/model"
)

// categorySeparators are the hierarchy separators seen across providers,
// tried in order of specificity.
var categorySeparators = []string{"::", ">", "|", "/"}

// categorySynonyms translates known provider spellings and languages to a
// canonical token per level.
var categorySynonyms = map[string]string{
	"apparel":           "clothing",
	"fashion":           "clothing",
	"bekleidung":        "clothing",
	"vetements":         "clothing",
	"vêtements":         "clothing",
	"electronic":        "electronics",
	"elektronik":        "electronics",
	"home & garden":     "home",
	"house & home":      "home",
	"haus & garten":     "home",
	"maison":            "home",
	"health & beauty":   "beauty",
	"beaute":            "beauty",
	"beauté":            "beauty",
	"sports & outdoors": "sports",
	"sport":             "sports",
	"kids":              "children",
	"kinder":            "children",
	"enfants":           "children",
	"computing":         "computers",
	"informatique":      "computers",
}

var titleCaser = cases.Title(language.English)

// Category splits a raw provider category on common hierarchy separators,
// translates known synonyms per level, truncates to depth, and returns both
// a lower-cased machine key and a human label.
func Category(raw string, depth int) model.CategoryPath {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.CategoryPath{}
	}
	if depth <= 0 {
		depth = 2
	}

	parts := []string{raw}
	for _, sep := range categorySeparators {
		if strings.Contains(raw, sep) {
			parts = strings.Split(raw, sep)
			break
		}
	}

	var keys, labels []string
	for _, p := range parts {
		tok := strings.ToLower(strings.TrimSpace(p))
		if tok == "" {
			continue
		}
		if canon, ok := categorySynonyms[tok]; ok {
			tok = canon
		}
		keys = append(keys, tok)
		labels = append(labels, titleCaser.String(tok))
		if len(keys) == depth {
			break
		}
	}

	if len(keys) == 0 {
		return model.CategoryPath{}
	}

	return model.CategoryPath{
		Key:   strings.Join(keys, "/"),
		Label: strings.Join(labels, " / "),
	}
}
