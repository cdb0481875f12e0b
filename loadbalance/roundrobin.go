package loadbalance

import (
	"sync/atomic"

	"github.com/protorelay/gateway/registry"
)

// RoundRobin maintains a monotone counter per category and picks
// `counter mod len(eligible)` (§4.3 strategy 2). One RoundRobin instance
// should be shared across calls for the same category; the counter is
// the strategy's only state.
type RoundRobin struct {
	counter atomic.Uint64
}

// Select implements Strategy.
func (rr *RoundRobin) Select(candidates []*registry.Pipeline) (*registry.Pipeline, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligible
	}
	n := uint64(len(candidates))
	idx := rr.counter.Add(1) - 1
	return candidates[idx%n], nil
}
