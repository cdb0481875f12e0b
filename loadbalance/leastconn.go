package loadbalance

import "github.com/protorelay/gateway/registry"

// LeastConnections picks the binding with the smallest in-flight
// counter; ties are broken by weighted random (§4.3 strategy 3).
type LeastConnections struct {
	tiebreak Weighted
}

// Select implements Strategy.
func (l LeastConnections) Select(candidates []*registry.Pipeline) (*registry.Pipeline, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligible
	}
	min := candidates[0].InFlight()
	for _, p := range candidates[1:] {
		if p.InFlight() < min {
			min = p.InFlight()
		}
	}
	var tied []*registry.Pipeline
	for _, p := range candidates {
		if p.InFlight() == min {
			tied = append(tied, p)
		}
	}
	if len(tied) == 1 {
		return tied[0], nil
	}
	return l.tiebreak.Select(tied)
}
