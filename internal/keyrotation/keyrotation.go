// Package keyrotation implements strict round-robin selection over the
// non-blacklisted credentials within a single multi-key provider group
// (§4.3 "Key rotation"). The counter arithmetic mirrors the teacher's
// weightedStartIndex round-robin bookkeeping in gateway.go, generalized
// from "next target index" to "next key index".
package keyrotation

import (
	"sync/atomic"

	"github.com/protorelay/gateway/internal/blacklist"
)

// Group rotates selection across the keys of a single multi-key binding
// group (e.g. "openai-key0".."openai-key3").
type Group struct {
	providerID string
	keyIDs     []string // binding ids, one per credential, in declared order
	counter    atomic.Uint64
	bl         *blacklist.Store
}

// NewGroup returns a rotation group over keyIDs, consulting bl to skip
// blacklisted keys.
func NewGroup(providerID string, keyIDs []string, bl *blacklist.Store) *Group {
	cp := make([]string, len(keyIDs))
	copy(cp, keyIDs)
	return &Group{providerID: providerID, keyIDs: cp, bl: bl}
}

// Next returns the next non-blacklisted key id in strict round-robin
// order. It returns ("", false) once every key in the group is
// blacklisted — the parent binding is then ineligible until at least one
// key's blacklist expires (§4.3).
func (g *Group) Next() (string, bool) {
	n := len(g.keyIDs)
	if n == 0 {
		return "", false
	}
	start := g.counter.Add(1) - 1
	for i := 0; i < n; i++ {
		idx := int((start + uint64(i)) % uint64(n))
		id := g.keyIDs[idx]
		if g.bl == nil || !g.bl.IsBlacklisted(id, "") {
			return id, true
		}
	}
	return "", false
}

// AllBlacklisted reports whether every key in the group is currently
// blacklisted.
func (g *Group) AllBlacklisted() bool {
	if g.bl == nil {
		return false
	}
	for _, id := range g.keyIDs {
		if !g.bl.IsBlacklisted(id, "") {
			return false
		}
	}
	return len(g.keyIDs) > 0
}

// Keys returns the key binding ids in declared order.
func (g *Group) Keys() []string {
	cp := make([]string, len(g.keyIDs))
	copy(cp, g.keyIDs)
	return cp
}
