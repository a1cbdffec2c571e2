package matching

// Weights blends the three sub-metrics into one similarity score. The split
// favors the prefix-weighted and edit-distance metrics, which behave best on
// short OCR'd names; bigram overlap catches word reordering.
type Weights struct {
	PrefixWeighted float64
	EditDistance   float64
	BigramOverlap  float64
}

// DefaultWeights is the blend used for product-label and store-name matching.
var DefaultWeights = Weights{PrefixWeighted: 0.4, EditDistance: 0.4, BigramOverlap: 0.2}

// Similarity computes the weighted blend of JaroWinkler, LevenshteinSimilarity
// and BigramJaccard. Symmetric, 1.0 for equal strings, 0.0 when exactly one
// side is empty.
func (w Weights) Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	return w.PrefixWeighted*JaroWinkler(a, b) +
		w.EditDistance*LevenshteinSimilarity(a, b) +
		w.BigramOverlap*BigramJaccard(a, b)
}

// Similarity applies DefaultWeights.
func Similarity(a, b string) float64 {
	return DefaultWeights.Similarity(a, b)
}

// LevenshteinSimilarity maps edit distance into [0,1] relative to the longer
// string.
func LevenshteinSimilarity(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1.0 - float64(Levenshtein(a, b))/float64(maxLen)
}

// Levenshtein returns the edit distance between a and b using a two-row
// dynamic program.
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

const (
	winklerPrefixCap   = 4
	winklerPrefixBoost = 0.1
	winklerBoostFloor  = 0.7
)

// JaroWinkler computes Jaro similarity boosted by the shared prefix (capped at
// four characters). The boost only applies above the conventional 0.7 floor.
func JaroWinkler(a, b string) float64 {
	jaro := jaroSimilarity(a, b)
	if jaro < winklerBoostFloor {
		return jaro
	}
	maxPrefix := winklerPrefixCap
	if len(a) < maxPrefix {
		maxPrefix = len(a)
	}
	if len(b) < maxPrefix {
		maxPrefix = len(b)
	}
	prefix := 0
	for i := 0; i < maxPrefix && a[i] == b[i]; i++ {
		prefix++
	}
	return jaro + winklerPrefixBoost*float64(prefix)*(1-jaro)
}

func jaroSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	window := len(a)
	if len(b) > window {
		window = len(b)
	}
	window = window/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0
	for i := 0; i < len(a); i++ {
		start := i - window
		if start < 0 {
			start = 0
		}
		end := i + window + 1
		if end > len(b) {
			end = len(b)
		}
		for j := start; j < end; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2.0)/m) / 3.0
}

// BigramJaccard computes set overlap of character 2-grams. Two strings with no
// bigrams at all count as identical; exactly one without bigrams counts as
// fully distinct.
func BigramJaccard(a, b string) float64 {
	setA := bigrams(a)
	setB := bigrams(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	intersection := 0
	for g := range setA {
		if _, ok := setB[g]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func bigrams(s string) map[string]struct{} {
	if len(s) < 2 {
		return nil
	}
	set := make(map[string]struct{}, len(s)-1)
	for i := 0; i+2 <= len(s); i++ {
		set[s[i:i+2]] = struct{}{}
	}
	return set
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
