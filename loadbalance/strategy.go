// Package loadbalance implements the Load Balancer (C3): given an
// eligible binding set for a category, pick one pipeline per request
// using one of five selection strategies, and maintain the weight
// redistribution and failure bookkeeping that keep selection honest
// over time.
//
// Grounded on internal/strategies/*.go (the teacher's Strategy interface
// and weighted-random implementation), generalized to operate over
// registry.Pipeline instead of providers.Provider, and extended with the
// two strategies (least-connections, response-time) the teacher does
// not implement.
package loadbalance

import (
	"errors"
	"math/rand"

	"github.com/protorelay/gateway/registry"
)

// ErrNoEligible is returned by a Strategy when the candidate set is
// empty; callers translate this into relayerr.KindNoEligibleBinding.
var ErrNoEligible = errors.New("loadbalance: no eligible pipeline")

// Strategy selects one pipeline from an eligible candidate set (§4.3).
// Implementations must not mutate candidates.
type Strategy interface {
	Select(candidates []*registry.Pipeline) (*registry.Pipeline, error)
}

// NoEligibleBindingError wraps ErrNoEligible-style failures into the
// shared error taxonomy, carrying the category for diagnostics.
func NoEligibleBindingError(category string) error {
	return registry.NoEligibleBindingError(category)
}

// rng is package-level so tests can seed it deterministically via
// WithRand; the teacher's loadbalance strategy uses the same pattern
// (internal/strategies/loadbalance.go's rand.New(rand.NewSource(...))).
var rng = rand.New(rand.NewSource(1))

// WithRand lets callers (mainly tests) install a deterministic RNG.
func WithRand(r *rand.Rand) { rng = r }

// weightsOf returns the binding weight of every candidate, treating a
// non-positive weight as 1 so a misconfigured binding is still
// selectable rather than silently excluded.
func weightsOf(candidates []*registry.Pipeline) []int {
	out := make([]int, len(candidates))
	for i, p := range candidates {
		w := p.Binding().Weight
		if w <= 0 {
			w = 1
		}
		out[i] = w
	}
	return out
}
