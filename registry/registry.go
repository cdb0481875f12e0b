package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/protorelay/gateway/internal/blacklist"
	"github.com/protorelay/gateway/internal/circuitbreaker"
	"github.com/protorelay/gateway/relayerr"
)

// ChainBuilder constructs a StageChain for a binding. Supplied by the
// caller (cmd/protorelay) so the registry stays agnostic of concrete
// per-family stage implementations.
type ChainBuilder func(Binding) (StageChain, error)

// Registry owns the set of pipelines (§4.2). At most one pipeline exists
// per binding id; the registry never exposes a partially-initialized
// pipeline.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	byCategory map[string][]string // category -> ordered binding ids
	blacklist *blacklist.Store
}

// New returns an empty Registry backed by the given blacklist store.
func New(bl *blacklist.Store) *Registry {
	return &Registry{
		pipelines:  make(map[string]*Pipeline),
		byCategory: make(map[string][]string),
		blacklist:  bl,
	}
}

// Register adds a new pipeline for binding, failing if the id collides
// (§4.2 "register(binding) → pipelineId; fails if id collides").
func (r *Registry) Register(binding Binding, build ChainBuilder, cbCfg CircuitBreakerConfig) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[binding.ID]; exists {
		return nil, fmt.Errorf("binding id %q already registered", binding.ID)
	}
	chain, err := build(binding)
	if err != nil {
		return nil, fmt.Errorf("building stage chain for %q: %w", binding.ID, err)
	}
	cb := circuitbreaker.New(binding.ID, cbCfg.FailureThreshold, cbCfg.SuccessThreshold, cbCfg.Timeout)
	p := NewPipeline(binding, chain, cb, cbCfg.Retry)
	r.pipelines[binding.ID] = p
	return p, nil
}

// CircuitBreakerConfig bundles the per-binding breaker thresholds plus
// retry policy so Register takes one config value.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Retry            RetryPolicy
}

// ExpandMultiKey produces K bindings with ids "{name}-key{i}" for a
// provider declared with K>1 credentials, dividing the aggregate weight
// equally unless perKeyWeights is supplied (§4.2 "expandMultiKey").
func ExpandMultiKey(name string, template Binding, credentials []string, perKeyWeights []int) []Binding {
	k := len(credentials)
	if k == 0 {
		return nil
	}
	out := make([]Binding, k)
	equalShare := template.Weight / k
	remainder := template.Weight % k
	for i, cred := range credentials {
		b := template
		b.ID = fmt.Sprintf("%s-key%d", name, i)
		b.Credential = cred
		b.KeyGroup = name
		if len(perKeyWeights) == k {
			b.Weight = perKeyWeights[i]
		} else {
			w := equalShare
			if i < remainder {
				w++ // distribute the remainder across the first keys
			}
			b.Weight = w
		}
		out[i] = b
	}
	return out
}

// SetCategory declares the ordered binding ids eligible for a routing
// category. Called once per category at startup from the routing table.
func (r *Registry) SetCategory(category string, bindingIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(bindingIDs))
	copy(cp, bindingIDs)
	r.byCategory[category] = cp
}

// ListEligible returns pipelines for category whose state is running,
// whose circuit breaker is closed or half-open, and which are not
// blacklisted (§4.2 "listEligible").
func (r *Registry) ListEligible(category string) []*Pipeline {
	r.mu.RLock()
	ids := r.byCategory[category]
	r.mu.RUnlock()

	out := make([]*Pipeline, 0, len(ids))
	for _, id := range ids {
		r.mu.RLock()
		p := r.pipelines[id]
		r.mu.RUnlock()
		if p == nil || !p.Eligible() {
			continue
		}
		b := p.Binding()
		if r.blacklist != nil && r.blacklist.IsBlacklisted(b.ID, b.Model) {
			continue
		}
		out = append(out, p)
	}
	// Stable order by binding id for deterministic tie-breaking (§4.3
	// "Weighted random: ... Ties broken by stable order").
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Get returns the pipeline for a binding id.
func (r *Registry) Get(id string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[id]
	return p, ok
}

// All returns every registered pipeline, for /status and /health.
func (r *Registry) All() []*Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// InitializeAll drives every pipeline from created through running,
// calling Init/Connect on each stage in order. A failure on one binding
// does not prevent the others from initializing; failures are collected
// and returned together.
func (r *Registry) InitializeAll(ctx context.Context, opts map[string]map[string]any) error {
	r.mu.RLock()
	pipelines := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		pipelines = append(pipelines, p)
	}
	r.mu.RUnlock()

	var errs []error
	for _, p := range pipelines {
		if err := p.initialize(ctx, opts[p.ID()]); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", p.ID(), err))
			continue
		}
		p.transition(StateRunning)
	}
	if len(errs) > 0 {
		return fmt.Errorf("initializing pipelines: %v", errs)
	}
	return nil
}

// ShutdownAll stops accepting new work, drains in-flight requests up to
// drainTimeout, then disconnects and destroys every stage (§4.2
// "Shutdown is ordered").
func (r *Registry) ShutdownAll(ctx context.Context, drainTimeout time.Duration) error {
	r.mu.RLock()
	pipelines := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		pipelines = append(pipelines, p)
	}
	r.mu.RUnlock()

	for _, p := range pipelines {
		p.transition(StateDisconnected)
	}
	waitForDrain(pipelines, drainTimeout)

	var errs []error
	for _, p := range pipelines {
		if err := p.teardown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", p.ID(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutting down pipelines: %v", errs)
	}
	return nil
}

// waitForDrain polls in-flight counters until they reach zero or
// deadline elapses, bounding ShutdownAll's wait (§4.2 "drain in-flight
// (bounded wait)").
func waitForDrain(pipelines []*Pipeline, deadline time.Duration) {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	timeoutAt := time.Now().Add(deadline)
	for range ticker.C {
		drained := true
		for _, p := range pipelines {
			if p.InFlight() > 0 {
				drained = false
				break
			}
		}
		if drained || time.Now().After(timeoutAt) {
			return
		}
	}
}

// NoEligibleBindingError is a convenience constructor mirroring the
// Router's error when a category has no eligible pipelines (§4.1).
func NoEligibleBindingError(category string) error {
	return relayerr.New(relayerr.KindNoEligibleBinding, fmt.Sprintf("no eligible binding for category %q", category))
}
