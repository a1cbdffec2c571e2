package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/spendscan/spendscan/internal/matching"
)

// StoreResolverOptions names the scoring policy. Defaults reproduce the tuned
// production thresholds; they are knobs, not incidental constants.
type StoreResolverOptions struct {
	// NameWeight and LocationWeight split the composite score.
	NameWeight     float64
	LocationWeight float64
	// ChainBonus is added when the input resembles the store's chain label
	// above ChainSimilarityFloor.
	ChainBonus           float64
	ChainSimilarityFloor float64
	// ThresholdWithLocation applies when any location hint was supplied;
	// ThresholdNameOnly is stricter because a lone OCR'd name is unreliable.
	ThresholdWithLocation float64
	ThresholdNameOnly     float64
	// Location sub-weights.
	VATWeight              float64
	CityWeight             float64
	AddressWeight          float64
	CitySimilarityFloor    float64
	AddressSimilarityFloor float64
	// CorrectionThreshold gates fuzzy product-label correction.
	CorrectionThreshold float64
}

// DefaultStoreResolverOptions returns the production scoring policy.
func DefaultStoreResolverOptions() StoreResolverOptions {
	return StoreResolverOptions{
		NameWeight:             0.7,
		LocationWeight:         0.3,
		ChainBonus:             0.1,
		ChainSimilarityFloor:   0.8,
		ThresholdWithLocation:  0.65,
		ThresholdNameOnly:      0.78,
		VATWeight:              0.4,
		CityWeight:             0.3,
		AddressWeight:          0.3,
		CitySimilarityFloor:    0.8,
		AddressSimilarityFloor: 0.6,
		CorrectionThreshold:    0.82,
	}
}

// LocationHint carries the optional location fields extracted from a receipt.
type LocationHint struct {
	Address   *string
	City      *string
	VATNumber *string
}

func (h LocationHint) empty() bool {
	return !hasValue(h.Address) && !hasValue(h.City) && !hasValue(h.VATNumber)
}

// StoreMatch is a successful store resolution.
type StoreMatch struct {
	StoreID uuid.UUID
	Name    string
	Score   float64
}

// StoreResolver decides whether a raw store name refers to a known store.
type StoreResolver struct {
	cache  *Cache
	brands *matching.BrandTable
	opts   StoreResolverOptions
	logger *slog.Logger
}

// NewStoreResolver wires the resolver over the snapshot cache.
func NewStoreResolver(cache *Cache, brands *matching.BrandTable, opts StoreResolverOptions, logger *slog.Logger) *StoreResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreResolver{cache: cache, brands: brands, opts: opts, logger: logger}
}

// MatchStore scores every cached store against the raw name and location
// hints. It returns nil when the best score stays below the adaptive
// threshold, signaling the caller to create a new store.
func (r *StoreResolver) MatchStore(ctx context.Context, rawName string, hint LocationHint) (*StoreMatch, error) {
	name := strings.TrimSpace(rawName)
	if len(name) < 3 {
		return nil, nil
	}
	canon := matching.Normalize(r.brands.Apply(name))

	stores, err := r.cache.Stores(ctx)
	if err != nil {
		return nil, err
	}

	var best *StoreMatch
	for _, store := range stores {
		storeCanon := matching.Normalize(r.brands.Apply(store.Name))
		score := r.opts.NameWeight * matching.Similarity(canon, storeCanon)
		score += r.opts.LocationWeight * r.locationScore(hint, store.Location)
		if store.Chain != nil && *store.Chain != "" {
			chainCanon := matching.Normalize(r.brands.Apply(*store.Chain))
			if matching.Similarity(canon, chainCanon) > r.opts.ChainSimilarityFloor {
				score += r.opts.ChainBonus
			}
		}
		// Nothing above guarantees the composite stays in [0,1]; clamp it so
		// reported confidence semantics hold.
		if score > 1.0 {
			score = 1.0
		}
		if best == nil || score > best.Score {
			best = &StoreMatch{StoreID: store.ID, Name: store.Name, Score: score}
		}
	}

	threshold := r.opts.ThresholdNameOnly
	if !hint.empty() {
		threshold = r.opts.ThresholdWithLocation
	}
	if best == nil || best.Score < threshold {
		r.logger.Debug("no store match",
			slog.String("raw_name", rawName),
			slog.Float64("best_score", bestScore(best)),
			slog.Float64("threshold", threshold))
		return nil, nil
	}
	r.logger.Debug("store matched",
		slog.String("raw_name", rawName),
		slog.String("store", best.Name),
		slog.Float64("score", best.Score),
		slog.Float64("threshold", threshold))
	return best, nil
}

// CorrectProductLabel fuzzy-corrects an OCR'd label against the product
// candidate cache. The second return reports whether a correction was applied;
// corrections that change the length too drastically are rejected.
func (r *StoreResolver) CorrectProductLabel(ctx context.Context, raw string) (string, bool, error) {
	label := strings.TrimSpace(raw)
	if len(label) < 3 {
		return label, false, nil
	}
	canon := matching.Normalize(label)

	candidates, err := r.cache.ProductCandidates(ctx)
	if err != nil {
		return label, false, err
	}

	var bestMatch string
	bestScore := 0.0
	for _, candidate := range candidates {
		score := matching.Similarity(canon, matching.Normalize(candidate))
		if score >= r.opts.CorrectionThreshold && score > bestScore {
			bestScore = score
			bestMatch = candidate
		}
	}
	if bestMatch == "" {
		return label, false, nil
	}
	maxDelta := len(label) / 3
	if maxDelta < 3 {
		maxDelta = 3
	}
	delta := len(bestMatch) - len(label)
	if delta < 0 {
		delta = -delta
	}
	if delta > maxDelta {
		return label, false, nil
	}
	r.logger.Debug("product label corrected",
		slog.String("raw", label),
		slog.String("corrected", bestMatch),
		slog.Float64("score", bestScore))
	return bestMatch, true, nil
}

// locationScore sums the sub-scores for fields present on both sides; missing
// fields simply omit their term.
func (r *StoreResolver) locationScore(hint LocationHint, loc *LocationSnapshot) float64 {
	if loc == nil {
		return 0.0
	}
	score := 0.0
	if hasValue(hint.VATNumber) && hasValue(loc.VATNumber) {
		if cleanVAT(*hint.VATNumber) == cleanVAT(*loc.VATNumber) {
			score += r.opts.VATWeight
		}
	}
	if hasValue(hint.City) && hasValue(loc.City) {
		sim := matching.LevenshteinSimilarity(matching.Normalize(*hint.City), matching.Normalize(*loc.City))
		if sim > r.opts.CitySimilarityFloor {
			score += sim * r.opts.CityWeight
		}
	}
	if hasValue(hint.Address) && hasValue(loc.Address) {
		sim := matching.LevenshteinSimilarity(matching.Normalize(*hint.Address), matching.Normalize(*loc.Address))
		if sim > r.opts.AddressSimilarityFloor {
			score += sim * r.opts.AddressWeight
		}
	}
	return score
}

// cleanVAT strips formatting and country prefixes down to the alphanumeric
// core, uppercased.
func cleanVAT(vat string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(vat) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hasValue(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func bestScore(m *StoreMatch) float64 {
	if m == nil {
		return 0.0
	}
	return m.Score
}
