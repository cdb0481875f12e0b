package loadbalance

import (
	"sync"

	"github.com/protorelay/gateway/internal/blacklist"
	"github.com/protorelay/gateway/internal/keyrotation"
	"github.com/protorelay/gateway/registry"
)

// KeyGroupAware wraps an inner Strategy so multi-key providers are
// selected correctly under §4.3's two-level scheme: strict round-robin
// *within* a key group, then the category's configured strategy
// *across* groups. Candidates sharing a Binding().KeyGroup (the ids
// registry.ExpandMultiKey split one provider config into) are first
// collapsed to a single representative via keyrotation.Group; Inner
// only ever sees one candidate per provider. Candidates with no
// KeyGroup pass through untouched.
type KeyGroupAware struct {
	Inner     Strategy
	Blacklist *blacklist.Store

	mu     sync.Mutex
	groups map[string]*keyrotation.Group
}

// Select implements Strategy.
func (k *KeyGroupAware) Select(candidates []*registry.Pipeline) (*registry.Pipeline, error) {
	byGroup := make(map[string][]*registry.Pipeline)
	var ungrouped []*registry.Pipeline
	for _, p := range candidates {
		kg := p.Binding().KeyGroup
		if kg == "" {
			ungrouped = append(ungrouped, p)
			continue
		}
		byGroup[kg] = append(byGroup[kg], p)
	}

	reps := make([]*registry.Pipeline, 0, len(ungrouped)+len(byGroup))
	reps = append(reps, ungrouped...)
	for kg, members := range byGroup {
		group := k.groupFor(kg, members)
		id, ok := group.Next()
		if !ok {
			// every key in this provider's group is blacklisted; the
			// provider contributes no candidate this round (§4.3).
			continue
		}
		for _, p := range members {
			if p.ID() == id {
				reps = append(reps, p)
				break
			}
		}
	}
	if len(reps) == 0 {
		return nil, ErrNoEligible
	}
	return k.Inner.Select(reps)
}

func (k *KeyGroupAware) groupFor(keyGroup string, members []*registry.Pipeline) *keyrotation.Group {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.groups == nil {
		k.groups = make(map[string]*keyrotation.Group)
	}
	g, ok := k.groups[keyGroup]
	if ok {
		return g
	}
	ids := make([]string, len(members))
	for i, p := range members {
		ids[i] = p.ID()
	}
	g = keyrotation.NewGroup(keyGroup, ids, k.Blacklist)
	k.groups[keyGroup] = g
	return g
}
