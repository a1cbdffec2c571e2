package catalog

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ProductMatchType reports which strategy produced a product match.
type ProductMatchType string

const (
	ProductMatchExact   ProductMatchType = "exact"
	ProductMatchAlias   ProductMatchType = "alias"
	ProductMatchSimilar ProductMatchType = "similar"
	ProductMatchCreated ProductMatchType = "created"
)

// ProductMatch is the outcome of product resolution.
type ProductMatch struct {
	Product    Product
	Confidence float64
	Type       ProductMatchType
}

// ProductMatcherOptions names the resolution policy.
type ProductMatcherOptions struct {
	// ConfidenceThreshold gates similarity matching and product creation on
	// the classifier confidence.
	ConfidenceThreshold float64
	// SimilarityFloor is the minimum keyword-overlap score for a similar
	// match.
	SimilarityFloor float64
	// Reported confidences per strategy.
	ExactConfidence       float64
	AliasFullAgreement    float64
	AliasPartialAgreement float64
	AliasBase             float64
}

// DefaultProductMatcherOptions returns the production policy.
func DefaultProductMatcherOptions() ProductMatcherOptions {
	return ProductMatcherOptions{
		ConfidenceThreshold:   0.8,
		SimilarityFloor:       0.7,
		ExactConfidence:       0.95,
		AliasFullAgreement:    0.92,
		AliasPartialAgreement: 0.88,
		AliasBase:             0.85,
	}
}

var (
	packagingTokens = regexp.MustCompile(`(?i)\b(kg|g|ml|l|pz|pezzi|confezione|conf\.?|x\d+)\b`)
	capitalizedRun  = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`)
	multiSpace      = regexp.MustCompile(`\s+`)
)

// ProductMatcher resolves raw line labels to catalog products, creating new
// products when the prediction is confident enough.
type ProductMatcher struct {
	repo   Repository
	opts   ProductMatcherOptions
	logger *slog.Logger
	titled cases.Caser
}

// NewProductMatcher builds a matcher over the catalog repository.
func NewProductMatcher(repo Repository, opts ProductMatcherOptions, logger *slog.Logger) *ProductMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductMatcher{repo: repo, opts: opts, logger: logger, titled: cases.Title(language.Und)}
}

// FindOrCreate applies the ordered strategy: exact match, alias match,
// similarity match (confidence permitting), creation (confidence and a
// predicted type or category permitting). Returns nil when the evidence is too
// weak to do any of those; the caller must not fabricate a product.
func (m *ProductMatcher) FindOrCreate(ctx context.Context, labelRaw string, brand *string, typeID, categoryID *uuid.UUID, confidence float64) (*ProductMatch, error) {
	if strings.TrimSpace(labelRaw) == "" {
		return nil, nil
	}
	cleanLabel := CleanLabel(labelRaw)
	resolvedBrand := brand
	if !hasValue(resolvedBrand) {
		resolvedBrand = ExtractBrand(labelRaw)
	}

	if match, err := m.exactMatch(ctx, cleanLabel, resolvedBrand, typeID, categoryID); match != nil || err != nil {
		return match, err
	}
	if match, err := m.aliasMatch(ctx, cleanLabel, typeID, categoryID); match != nil || err != nil {
		return match, err
	}
	if confidence >= m.opts.ConfidenceThreshold {
		match, err := m.similarMatch(ctx, cleanLabel, resolvedBrand, typeID, categoryID)
		if err != nil {
			return nil, err
		}
		if match != nil && match.Confidence >= m.opts.SimilarityFloor {
			return match, nil
		}
	}
	if confidence >= m.opts.ConfidenceThreshold && (typeID != nil || categoryID != nil) {
		return m.create(ctx, labelRaw, cleanLabel, resolvedBrand, typeID, categoryID, confidence)
	}
	return nil, nil
}

func (m *ProductMatcher) exactMatch(ctx context.Context, cleanLabel string, brand *string, typeID, categoryID *uuid.UUID) (*ProductMatch, error) {
	product, err := m.repo.FindProductExact(ctx, cleanLabel, brand, typeID, categoryID)
	if err != nil || product == nil {
		return nil, err
	}
	return &ProductMatch{Product: *product, Confidence: m.opts.ExactConfidence, Type: ProductMatchExact}, nil
}

func (m *ProductMatcher) aliasMatch(ctx context.Context, cleanLabel string, typeID, categoryID *uuid.UUID) (*ProductMatch, error) {
	product, err := m.repo.FindProductByAlias(ctx, cleanLabel)
	if err != nil || product == nil {
		return nil, err
	}
	typeAgrees := typeID == nil || product.ProductTypeID == *typeID
	categoryAgrees := categoryID == nil || (product.CategoryID != nil && *product.CategoryID == *categoryID)

	confidence := m.opts.AliasBase
	switch {
	case typeAgrees && categoryAgrees:
		confidence = m.opts.AliasFullAgreement
	case typeAgrees || categoryAgrees:
		confidence = m.opts.AliasPartialAgreement
	}
	return &ProductMatch{Product: *product, Confidence: confidence, Type: ProductMatchAlias}, nil
}

func (m *ProductMatcher) similarMatch(ctx context.Context, cleanLabel string, brand *string, typeID, categoryID *uuid.UUID) (*ProductMatch, error) {
	candidates, err := m.repo.ListProductsFiltered(ctx, typeID, categoryID)
	if err != nil {
		return nil, err
	}
	searchWords := Keywords(cleanLabel)
	if hasValue(brand) {
		// Candidate keyword sets include the brand, so the search side
		// carries it too.
		seen := make(map[string]struct{}, len(searchWords))
		for _, w := range searchWords {
			seen[w] = struct{}{}
		}
		for _, w := range Keywords(*brand) {
			if _, dup := seen[w]; !dup {
				searchWords = append(searchWords, w)
			}
		}
	}

	var best *ProductMatch
	for _, candidate := range candidates {
		score := keywordScore(cleanLabel, searchWords, candidate)
		if best == nil || score > best.Confidence {
			best = &ProductMatch{Product: candidate.Product, Confidence: score, Type: ProductMatchSimilar}
		}
	}
	if best == nil || best.Confidence < m.opts.SimilarityFloor {
		return nil, nil
	}
	return best, nil
}

func (m *ProductMatcher) create(ctx context.Context, labelRaw, cleanLabel string, brand *string, typeID, categoryID *uuid.UUID, confidence float64) (*ProductMatch, error) {
	name := m.titled.String(strings.ToLower(cleanLabel))

	resolvedTypeID := uuid.Nil
	if typeID != nil {
		resolvedTypeID = *typeID
	} else {
		fallback, err := m.repo.DefaultProductTypeID(ctx)
		if err != nil {
			return nil, err
		}
		resolvedTypeID = fallback
	}

	product := Product{
		ID:            uuid.New(),
		Name:          name,
		ProductTypeID: resolvedTypeID,
		CategoryID:    categoryID,
	}
	if hasValue(brand) {
		titled := m.titled.String(strings.ToLower(strings.TrimSpace(*brand)))
		product.Brand = &titled
	}

	aliases := buildAliases(product, labelRaw)
	if err := m.repo.CreateProduct(ctx, &product, aliases); err != nil {
		return nil, err
	}
	m.logger.Debug("product created",
		slog.String("name", product.Name),
		slog.Float64("confidence", confidence))
	return &ProductMatch{Product: product, Confidence: confidence, Type: ProductMatchCreated}, nil
}

// buildAliases generates the alias set for a new product: the original raw
// label, the lowercase name and the brand-prefixed name.
func buildAliases(product Product, labelRaw string) []string {
	var aliases []string
	seen := make(map[string]struct{})
	add := func(alias string) {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			return
		}
		key := strings.ToLower(alias)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		aliases = append(aliases, alias)
	}
	if !strings.EqualFold(product.Name, strings.TrimSpace(labelRaw)) {
		add(labelRaw)
	}
	add(strings.ToLower(product.Name))
	if product.Brand != nil {
		add(*product.Brand + " " + product.Name)
	}
	return aliases
}

// CleanLabel strips packaging and size tokens ("kg", "x3", "conf.") from a raw
// line label.
func CleanLabel(labelRaw string) string {
	cleaned := packagingTokens.ReplaceAllString(labelRaw, " ")
	return strings.TrimSpace(multiSpace.ReplaceAllString(cleaned, " "))
}

// ExtractBrand guesses a brand as the first capitalized word run in the raw
// label. Low precision; only used when no brand was supplied.
func ExtractBrand(labelRaw string) *string {
	match := capitalizedRun.FindString(labelRaw)
	if match == "" {
		return nil
	}
	return &match
}

// Keywords lowercases and splits text, keeping distinct words longer than two
// characters.
func Keywords(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]struct{}, len(fields))
	var words []string
	for _, w := range fields {
		if len(w) <= 2 {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}

// keywordScore is Jaccard overlap between the search keywords and the words
// drawn from the candidate's name, aliases and brand, with boosts for an exact
// name match and for the label containing the brand.
func keywordScore(searchLabel string, searchWords []string, candidate ProductWithAliases) float64 {
	candidateWords := make(map[string]struct{})
	for _, w := range Keywords(candidate.Product.Name) {
		candidateWords[w] = struct{}{}
	}
	for _, alias := range candidate.Aliases {
		for _, w := range Keywords(alias) {
			candidateWords[w] = struct{}{}
		}
	}
	if candidate.Product.Brand != nil {
		for _, w := range Keywords(*candidate.Product.Brand) {
			candidateWords[w] = struct{}{}
		}
	}
	if len(searchWords) == 0 || len(candidateWords) == 0 {
		return 0.0
	}

	intersection := 0
	for _, w := range searchWords {
		if _, ok := candidateWords[w]; ok {
			intersection++
		}
	}
	union := len(searchWords) + len(candidateWords) - intersection
	score := float64(intersection) / float64(union)

	if strings.EqualFold(candidate.Product.Name, searchLabel) && score < 0.95 {
		score = 0.95
	}
	if candidate.Product.Brand != nil &&
		strings.Contains(strings.ToLower(searchLabel), strings.ToLower(*candidate.Product.Brand)) {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
