package loadbalance

import (
	"testing"
	"time"

	"github.com/protorelay/gateway/registry"
)

func TestResponseTime_NoCandidates(t *testing.T) {
	var rt ResponseTime
	if _, err := rt.Select(nil); err != ErrNoEligible {
		t.Errorf("got %v, want ErrNoEligible", err)
	}
}

func TestResponseTime_PrefersNeverCompletedOverReportedLatency(t *testing.T) {
	seasoned := keyedPipeline(t, "seasoned", "", 1)
	seasoned.Acquire()
	seasoned.Release(registry.OutcomeSuccess, 50*time.Millisecond)

	fresh := keyedPipeline(t, "fresh", "", 1)

	var rt ResponseTime
	p, err := rt.Select([]*registry.Pipeline{seasoned, fresh})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if p.ID() != "fresh" {
		t.Errorf("got %q, want fresh (EWMA=0 beats a positive EWMA)", p.ID())
	}
}

func TestResponseTime_PicksLowerEWMA(t *testing.T) {
	slow := keyedPipeline(t, "slow", "", 1)
	fast := keyedPipeline(t, "fast", "", 1)
	slow.Acquire()
	slow.Release(registry.OutcomeSuccess, 200*time.Millisecond)
	fast.Acquire()
	fast.Release(registry.OutcomeSuccess, 10*time.Millisecond)

	var rt ResponseTime
	p, err := rt.Select([]*registry.Pipeline{slow, fast})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if p.ID() != "fast" {
		t.Errorf("got %q, want fast", p.ID())
	}
}
