package routing

import (
	"testing"

	"github.com/protorelay/gateway/relayerr"
)

func TestTable_ResolveConfiguredCategory(t *testing.T) {
	tbl := NewTable()
	tbl.Set(CategoryDefault, []WeightedBinding{{BindingID: "a", Weight: 1}}, true)

	got, err := tbl.Resolve(CategoryDefault)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].BindingID != "a" {
		t.Errorf("got %v", got)
	}
}

func TestTable_ResolveRequiredCategoryMissingFails(t *testing.T) {
	tbl := NewTable()
	tbl.Set(CategoryDefault, []WeightedBinding{{BindingID: "a", Weight: 1}}, true)
	// CategoryThinking was never Set, but is marked required via a second Set call below.
	tbl.Set(CategoryThinking, nil, true)

	_, err := tbl.Resolve(CategoryThinking)
	relayErr, ok := err.(*relayerr.Error)
	if !ok || relayErr.Kind != relayerr.KindNoEligibleBinding {
		t.Fatalf("got %v, want KindNoEligibleBinding", err)
	}
}

func TestTable_ResolveOptionalCategoryFallsThroughToDefault(t *testing.T) {
	tbl := NewTable()
	tbl.Set(CategoryDefault, []WeightedBinding{{BindingID: "fallback", Weight: 1}}, true)
	tbl.Set(CategorySearch, nil, false)

	got, err := tbl.Resolve(CategorySearch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].BindingID != "fallback" {
		t.Errorf("got %v, want fallback to default", got)
	}
}

func TestTable_ResolveUnsetCategoryNoDefaultFails(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Resolve(CategoryBackground)
	relayErr, ok := err.(*relayerr.Error)
	if !ok || relayErr.Kind != relayerr.KindNoEligibleBinding {
		t.Fatalf("got %v, want KindNoEligibleBinding", err)
	}
}

func TestTable_ResolveEmptyBindingListTreatedAsMissing(t *testing.T) {
	tbl := NewTable()
	tbl.Set(CategoryDefault, []WeightedBinding{{BindingID: "fallback", Weight: 1}}, true)
	tbl.Set(CategoryLongContext, []WeightedBinding{}, false)

	got, err := tbl.Resolve(CategoryLongContext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].BindingID != "fallback" {
		t.Errorf("an explicitly empty list should still fall through to default, got %v", got)
	}
}
