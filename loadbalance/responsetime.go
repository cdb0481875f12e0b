package loadbalance

import "github.com/protorelay/gateway/registry"

// ResponseTime picks the binding with the smallest exponentially-weighted
// moving average latency (α=0.3), maintained by registry.Pipeline.Release
// on every completed request (§4.3 strategy 4). A pipeline that has
// never completed a request has an EWMA of zero and is therefore
// preferred until it reports a real latency — matching the teacher's
// bias toward giving new/recovered bindings traffic.
type ResponseTime struct{}

// Select implements Strategy.
func (ResponseTime) Select(candidates []*registry.Pipeline) (*registry.Pipeline, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligible
	}
	best := candidates[0]
	bestLatency := best.AvgLatencyMs()
	for _, p := range candidates[1:] {
		if p.AvgLatencyMs() < bestLatency {
			best = p
			bestLatency = p.AvgLatencyMs()
		}
	}
	return best, nil
}
