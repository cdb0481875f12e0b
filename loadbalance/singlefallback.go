package loadbalance

import "github.com/protorelay/gateway/registry"

// SingleFallback always selects the head of the candidate list; if the
// head is ineligible, the first eligible entry in the fallback list is
// used instead (§4.3 strategy 5). Unlike the other strategies, callers
// must pass candidates in declared priority order (primary, then
// backups) rather than the alphabetically-stabilized order
// Registry.ListEligible returns for tie-breaking — order is the whole
// point of this strategy, grounded on the teacher's strategies.Fallback
// (internal/strategies/fallback.go), which walks its target list in
// the same way before giving up.
type SingleFallback struct{}

// Select implements Strategy. candidates must already be filtered to
// eligible pipelines but retain declared priority order.
func (SingleFallback) Select(candidates []*registry.Pipeline) (*registry.Pipeline, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligible
	}
	return candidates[0], nil
}
