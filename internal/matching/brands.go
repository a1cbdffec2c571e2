package matching

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// BrandTable maps noisy store-name variants to a canonical chain label. It is
// loaded from configuration so new chains can be added without a redeploy.
type BrandTable struct {
	synonyms  []brandSynonym
	stopwords *regexp.Regexp
}

type brandSynonym struct {
	variant   string
	canonical string
}

type brandFile struct {
	Stopwords []string          `yaml:"stopwords"`
	Brands    map[string]string `yaml:"brands"`
}

// LoadBrandTable reads a YAML file with a `brands` variant->canonical map and
// an optional `stopwords` list.
func LoadBrandTable(path string) (*BrandTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("matching: read brand table: %w", err)
	}
	var f brandFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("matching: parse brand table: %w", err)
	}
	return NewBrandTable(f.Brands, f.Stopwords), nil
}

// NewBrandTable builds a table from an in-memory mapping. Longer variants take
// precedence so "carrefour express" wins over "carrefour".
func NewBrandTable(brands map[string]string, stopwords []string) *BrandTable {
	t := &BrandTable{}
	for variant, canonical := range brands {
		variant = strings.ToLower(strings.TrimSpace(variant))
		if variant == "" || canonical == "" {
			continue
		}
		t.synonyms = append(t.synonyms, brandSynonym{variant: variant, canonical: canonical})
	}
	sort.Slice(t.synonyms, func(i, j int) bool {
		if len(t.synonyms[i].variant) != len(t.synonyms[j].variant) {
			return len(t.synonyms[i].variant) > len(t.synonyms[j].variant)
		}
		return t.synonyms[i].variant < t.synonyms[j].variant
	})
	if len(stopwords) > 0 {
		escaped := make([]string, 0, len(stopwords))
		for _, w := range stopwords {
			w = strings.TrimSpace(w)
			if w != "" {
				escaped = append(escaped, regexp.QuoteMeta(strings.ToLower(w)))
			}
		}
		if len(escaped) > 0 {
			t.stopwords = regexp.MustCompile(`\b(` + strings.Join(escaped, "|") + `)\b`)
		}
	}
	return t
}

// Apply lowercases the name, removes stopwords and collapses any variant it
// recognizes to the canonical chain label. Unrecognized names come back
// stopword-stripped.
func (t *BrandTable) Apply(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if t == nil {
		return lowered
	}
	if t.stopwords != nil {
		lowered = strings.TrimSpace(t.stopwords.ReplaceAllString(lowered, ""))
		lowered = strings.Join(strings.Fields(lowered), " ")
	}
	for _, syn := range t.synonyms {
		if strings.Contains(lowered, syn.variant) {
			return syn.canonical
		}
	}
	return lowered
}
