package loadbalance

import (
	"testing"
	"time"

	"github.com/protorelay/gateway/internal/blacklist"
	"github.com/protorelay/gateway/registry"
)

func TestFailureBookkeeping_SuccessClearsRateLimitCounter(t *testing.T) {
	bl := blacklist.New()
	p := keyedPipeline(t, "b1", "", 1)
	fb := FailureBookkeeping{Blacklist: bl, RateLimitTTL: time.Minute}

	p.Acquire()
	fb.Apply(p, registry.OutcomeSuccess, 5*time.Millisecond)

	if bl.IsBlacklisted("b1", p.Binding().Model) {
		t.Error("a success should not blacklist the binding")
	}
}

// §8 scenario: three consecutive 429s blacklist the binding.
func TestFailureBookkeeping_ThirdConsecutiveRateLimitBlacklists(t *testing.T) {
	bl := blacklist.New()
	p := keyedPipeline(t, "b1", "", 1)
	fb := FailureBookkeeping{Blacklist: bl, RateLimitTTL: time.Minute}

	for i := 0; i < 2; i++ {
		p.Acquire()
		fb.Apply(p, registry.OutcomeRateLimit, time.Millisecond)
		if bl.IsBlacklisted("b1", p.Binding().Model) {
			t.Fatalf("should not be blacklisted before the 3rd consecutive 429 (iteration %d)", i)
		}
	}
	p.Acquire()
	fb.Apply(p, registry.OutcomeRateLimit, time.Millisecond)
	if !bl.IsBlacklisted("b1", p.Binding().Model) {
		t.Error("expected blacklisting on the 3rd consecutive rate limit outcome")
	}
}

func TestFailureBookkeeping_AuthFailureBlacklistsImmediately(t *testing.T) {
	bl := blacklist.New()
	p := keyedPipeline(t, "b1", "", 1)
	fb := FailureBookkeeping{Blacklist: bl}

	p.Acquire()
	fb.Apply(p, registry.OutcomeAuthFailure, time.Millisecond)
	if !bl.IsBlacklisted("b1", p.Binding().Model) {
		t.Error("expected immediate blacklisting on auth failure")
	}
}

func TestFailureBookkeeping_NilBlacklistStillReleasesPipeline(t *testing.T) {
	p := keyedPipeline(t, "b1", "", 1)
	fb := FailureBookkeeping{}

	p.Acquire()
	if p.InFlight() != 1 {
		t.Fatalf("InFlight: got %d, want 1", p.InFlight())
	}
	fb.Apply(p, registry.OutcomeSuccess, time.Millisecond)
	if p.InFlight() != 0 {
		t.Errorf("InFlight after Apply with nil Blacklist: got %d, want 0", p.InFlight())
	}
}

// Cancellation counts against neither circuit breaker nor blacklist (§5).
func TestFailureBookkeeping_CancelledDoesNotAffectCircuitBreaker(t *testing.T) {
	p := keyedPipeline(t, "b1", "", 1)
	fb := FailureBookkeeping{Blacklist: blacklist.New()}

	before := p.CircuitBreaker().State()
	p.Acquire()
	fb.Apply(p, registry.OutcomeCancelled, time.Millisecond)
	if p.CircuitBreaker().State() != before {
		t.Error("cancellation should not change circuit breaker state")
	}
}

func TestFailoverPolicy_DisabledNeverFailsOver(t *testing.T) {
	fp := FailoverPolicy{EnableFailover: false}
	if fp.ShouldFailover(registry.OutcomeRateLimit) {
		t.Error("disabled policy should never fail over")
	}
}

func TestFailoverPolicy_RetryableOutcomes(t *testing.T) {
	fp := FailoverPolicy{EnableFailover: true}
	retryable := []registry.Outcome{
		registry.OutcomeRateLimit,
		registry.OutcomeServerError,
		registry.OutcomeNetworkError,
		registry.OutcomeTimeout,
	}
	for _, o := range retryable {
		if !fp.ShouldFailover(o) {
			t.Errorf("%s should be eligible for failover", o)
		}
	}
}

func TestFailoverPolicy_NonRetryableOutcomes(t *testing.T) {
	fp := FailoverPolicy{EnableFailover: true}
	nonRetryable := []registry.Outcome{
		registry.OutcomeAuthFailure,
		registry.OutcomeCancelled,
		registry.OutcomeSuccess,
	}
	for _, o := range nonRetryable {
		if fp.ShouldFailover(o) {
			t.Errorf("%s should not be eligible for failover", o)
		}
	}
}
