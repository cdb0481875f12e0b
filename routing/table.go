package routing

import "github.com/protorelay/gateway/relayerr"

// WeightedBinding is one entry of a RoutingTable's per-category ordered
// list (§3 "RoutingTable").
type WeightedBinding struct {
	BindingID string
	Weight    int
}

// Table maps each category to an ordered list of bindings. Every
// referenced binding id must exist in the registry — that invariant is
// checked by the caller wiring Table against registry.Registry at
// startup, not by Table itself.
type Table struct {
	entries  map[Category][]WeightedBinding
	required map[Category]bool
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{entries: make(map[Category][]WeightedBinding), required: make(map[Category]bool)}
}

// Set declares the ordered binding list for a category. required marks
// whether a miss on this category is a hard NoEligibleBinding failure or
// falls through to CategoryDefault (§4.1 "Errors").
func (t *Table) Set(cat Category, bindings []WeightedBinding, required bool) {
	t.entries[cat] = bindings
	t.required[cat] = required
}

// Resolve returns the ordered binding list declared for cat. If cat has
// no entries: when cat is required, returns NoEligibleBinding; otherwise
// falls through to CategoryDefault's list (§4.1).
func (t *Table) Resolve(cat Category) ([]WeightedBinding, error) {
	if bindings, ok := t.entries[cat]; ok && len(bindings) > 0 {
		return bindings, nil
	}
	if t.required[cat] {
		return nil, relayerr.New(relayerr.KindNoEligibleBinding, "no binding configured for required category "+string(cat))
	}
	if bindings, ok := t.entries[CategoryDefault]; ok {
		return bindings, nil
	}
	return nil, relayerr.New(relayerr.KindNoEligibleBinding, "no binding configured for category "+string(cat)+" or default")
}
