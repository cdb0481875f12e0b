package loadbalance

import "github.com/protorelay/gateway/registry"

// Weighted selects a binding with probability proportional to weight
// among eligible candidates, grounded on strategies.LoadBalance's
// selectFromTargets (internal/strategies/loadbalance.go).
type Weighted struct{}

// Select implements Strategy.
func (Weighted) Select(candidates []*registry.Pipeline) (*registry.Pipeline, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligible
	}
	weights := weightsOf(candidates)
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return candidates[0], nil
	}
	r := rng.Intn(total)
	cum := 0
	for i, w := range weights {
		cum += w
		if r < cum {
			return candidates[i], nil
		}
	}
	// Ties / float rounding fall through to the last candidate, matching
	// the teacher's defensive final return.
	return candidates[len(candidates)-1], nil
}

// Redistribute computes the weight-redistribution formula of §4.3:
// when binding B is blacklisted, its weight is added to each surviving
// binding i in proportion to i's own share of the surviving total:
//
//	w'_i = w_i + w_B * (w_i / Σ_{j≠B} w_j)
//
// original holds every binding's configured weight (including blacklisted
// ones); blacklisted holds the ids currently blacklisted. The result
// contains an entry only for non-blacklisted ids. If every binding is
// blacklisted the result is empty — callers must treat that as
// NoEligibleBinding, never a silent fallback outside the category.
func Redistribute(original map[string]int, blacklisted map[string]bool) map[string]float64 {
	survivorsTotal := 0
	for id, w := range original {
		if !blacklisted[id] {
			survivorsTotal += w
		}
	}
	result := make(map[string]float64, len(original))
	if survivorsTotal == 0 {
		return result
	}
	blacklistedTotal := 0
	for id, w := range original {
		if blacklisted[id] {
			blacklistedTotal += w
		}
	}
	for id, w := range original {
		if blacklisted[id] {
			continue
		}
		result[id] = float64(w) + float64(blacklistedTotal)*(float64(w)/float64(survivorsTotal))
	}
	return result
}
