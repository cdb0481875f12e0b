package loadbalance

import (
	"time"

	"github.com/protorelay/gateway/internal/blacklist"
	"github.com/protorelay/gateway/registry"
)

// FailureBookkeeping applies the §4.3 "Failure bookkeeping (on release)"
// table: updates the circuit breaker (via Pipeline.Release) and the
// blacklist store together, so callers only need one entry point after
// a request completes. Grounded on the teacher's cbProvider decorator
// (gateway.go), which is the only place the teacher couples a call
// outcome to breaker state — generalized here to also drive the
// blacklist, which the teacher does not have.
type FailureBookkeeping struct {
	Blacklist *blacklist.Store

	// RateLimitTTL is the blacklist duration applied on the third
	// consecutive 429 (default 60s).
	RateLimitTTL time.Duration
}

// Apply records outcome against pipeline's circuit breaker/latency and,
// where the outcome implies a blacklist action, updates the blacklist
// store keyed by the pipeline's binding.
func (f FailureBookkeeping) Apply(p *registry.Pipeline, outcome registry.Outcome, latency time.Duration) {
	p.Release(outcome, latency)
	if f.Blacklist == nil {
		return
	}
	b := p.Binding()
	switch outcome {
	case registry.OutcomeSuccess:
		f.Blacklist.RecordSuccess(b.ID, b.Model)
	case registry.OutcomeRateLimit:
		f.Blacklist.RecordRateLimit(b.ID, b.Model, f.RateLimitTTL)
	case registry.OutcomeAuthFailure:
		f.Blacklist.RecordAuthFailure(b.ID)
	case registry.OutcomeServerError:
		// CB already recorded the failure via Release; no independent
		// blacklist entry unless the operator configured a static one.
	case registry.OutcomeNetworkError:
	case registry.OutcomeTimeout:
	case registry.OutcomeCancelled:
		// Cancellation counts against neither CB nor blacklist (§5).
	}
}

// FailoverPolicy captures the Open Question decision recorded in
// DESIGN.md: whether a RateLimit outcome is retried against the next
// eligible binding in the same category before being surfaced to the
// client.
type FailoverPolicy struct {
	// EnableFailover mirrors routing.categories.<cat>.loadBalancing.enableFailover.
	EnableFailover bool
}

// ShouldFailover reports whether, given this policy and an outcome, the
// caller should attempt the next eligible pipeline in the category
// rather than surfacing the error. Only RateLimit and the transient
// upstream kinds are eligible for cross-binding failover; AuthError and
// BadRequest are never retried against a different binding by this
// policy (an auth failure is binding-specific and a bad request is
// client-specific, so trying another binding cannot help).
func (f FailoverPolicy) ShouldFailover(outcome registry.Outcome) bool {
	if !f.EnableFailover {
		return false
	}
	switch outcome {
	case registry.OutcomeRateLimit, registry.OutcomeServerError, registry.OutcomeNetworkError, registry.OutcomeTimeout:
		return true
	default:
		return false
	}
}
