// Package aigateway is the entry point for the protocol-translating AI
// gateway: a Router (C1) classifies a clientschema.Request into a routing
// category, the Load Balancer (C3) picks an eligible binding from the
// Pipeline Registry (C2), and the binding's four-stage Pipeline (C4) runs
// the request end to end.
//
// Create a Gateway from a loaded Config with NewFromConfig, then route
// requests with Route. Guardrail/observability plugins and routing
// strategies are all driven by [Config], loaded from YAML or JSON via
// [LoadConfig].
package aigateway

import (
	"context"
	"sync"
	"time"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/internal/logging"
	"github.com/protorelay/gateway/internal/metrics"
	"github.com/protorelay/gateway/internal/ratelimit"
	"github.com/protorelay/gateway/loadbalance"
	"github.com/protorelay/gateway/models"
	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/plugin"
	"github.com/protorelay/gateway/registry"
	"github.com/protorelay/gateway/relayerr"
	"github.com/protorelay/gateway/routing"
)

// EventHookFunc is called asynchronously after a gateway event (request
// completed or failed).
type EventHookFunc func(ctx context.Context, subject string, data map[string]interface{})

// Event subject constants used when invoking gateway hooks.
const (
	SubjectRequestCompleted = "gateway.request.completed"
	SubjectRequestFailed    = "gateway.request.failed"
)

// Gateway is the main entry point for routing LLM requests. It owns no
// network resources of its own: registry.Registry's pipelines do.
type Gateway struct {
	mu sync.RWMutex

	config  Config
	catalog models.Catalog

	registry   *registry.Registry
	table      *routing.Table
	classifier routing.ClassifierConfig

	strategies map[routing.Category]loadbalance.Strategy
	failover   map[routing.Category]loadbalance.FailoverPolicy
	bookkeep   loadbalance.FailureBookkeeping

	globalLimiter *ratelimit.Limiter

	plugins *plugin.Manager
	hooks   []EventHookFunc

	aliases map[string]string
}

// RegisterPlugin registers a plugin at the given lifecycle stage.
func (g *Gateway) RegisterPlugin(stage plugin.Stage, p plugin.Plugin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.plugins.Register(stage, p)
}

// AddHook registers an EventHookFunc that is called asynchronously on each
// completed or failed request. Multiple hooks may be registered; all are
// invoked for every event.
func (g *Gateway) AddHook(fn EventHookFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// Catalog returns a shallow copy of the loaded model catalog.
func (g *Gateway) Catalog() models.Catalog {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cp := make(models.Catalog, len(g.catalog))
	for k, v := range g.catalog {
		cp[k] = v
	}
	return cp
}

// GetConfig returns a copy of the current configuration.
func (g *Gateway) GetConfig() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// Registry exposes the underlying pipeline registry, for /status and
// health reporting.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// resolveModelAlias returns the alias target for model, or model unchanged.
func (g *Gateway) resolveModelAlias(model string) string {
	g.mu.RLock()
	target, ok := g.aliases[model]
	g.mu.RUnlock()
	if ok {
		return target
	}
	return model
}

// Route classifies req, selects an eligible binding, and drives it
// through the pipeline, applying guardrail/observability plugins,
// failover, metrics, and cost accounting around the core C1→C4 flow.
func (g *Gateway) Route(ctx context.Context, req *clientschema.Request) (*clientschema.Reply, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	if g.globalLimiter != nil && !g.globalLimiter.Allow() {
		metrics.RateLimitRejections.WithLabelValues("global").Inc()
		return nil, relayerr.New(relayerr.KindRateLimit, "global request rate exceeded")
	}

	req.Model = g.resolveModelAlias(req.Model)

	pctx := plugin.NewContext(req)
	if g.plugins.HasPlugins() {
		if err := g.plugins.RunBefore(ctx, pctx); err != nil {
			metrics.RequestsTotal.WithLabelValues("", req.Model, "rejected").Inc()
			return nil, relayerr.New(relayerr.KindBadRequest, err.Error())
		}
		if pctx.Reject {
			metrics.RequestsTotal.WithLabelValues("", req.Model, "rejected").Inc()
			return nil, relayerr.New(relayerr.KindBadRequest, "request rejected by plugin: "+pctx.Reason)
		}
		if pctx.Skip && pctx.Response != nil {
			// A before-request plugin (response-cache) already has the answer.
			return pctx.Response, nil
		}
	}

	category := routing.Classify(req, g.classifier)
	metrics.RoutingCategoryTotal.WithLabelValues(string(category)).Inc()

	resp, bindingID, err := g.dispatch(ctx, category, req)
	latency := time.Since(start)

	if err != nil {
		pctx.Error = err
		g.plugins.RunOnError(ctx, pctx)

		errType := "upstream_error"
		status := 502
		var relErr *relayerr.Error
		if relayerr.As(err, &relErr) {
			errType = string(relErr.Kind)
			status = relErr.HTTPStatus()
		}
		metrics.RequestsTotal.WithLabelValues(bindingID, req.Model, "error").Inc()
		metrics.ProviderErrors.WithLabelValues(bindingID, errType).Inc()

		log.Error("request failed",
			"model", req.Model,
			"category", category,
			"binding", bindingID,
			"latency_ms", latency.Milliseconds(),
			"error", err.Error(),
		)
		g.publishEvent(ctx, SubjectRequestFailed, map[string]interface{}{
			"trace_id":   logging.TraceIDFromContext(ctx),
			"model":      req.Model,
			"category":   string(category),
			"binding":    bindingID,
			"error":      err.Error(),
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"timestamp":  time.Now(),
		})
		return nil, err
	}

	if g.plugins.HasPlugins() {
		pctx.Response = resp
		_ = g.plugins.RunAfter(ctx, pctx)
	}

	metrics.RequestDuration.WithLabelValues(bindingID, resp.Model).Observe(latency.Seconds())
	metrics.RequestsTotal.WithLabelValues(bindingID, resp.Model, "success").Inc()
	metrics.TokensInput.WithLabelValues(bindingID, resp.Model).Add(float64(resp.Usage.InputTokens))
	metrics.TokensOutput.WithLabelValues(bindingID, resp.Model).Add(float64(resp.Usage.OutputTokens))

	g.mu.RLock()
	catalog := g.catalog
	g.mu.RUnlock()
	cost := models.Calculate(catalog, bindingID, resp.Model, models.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	})
	if cost.TotalUSD > 0 {
		metrics.RequestCostUSD.WithLabelValues(bindingID, resp.Model).Add(cost.TotalUSD)
	}

	log.Info("request completed",
		"model", resp.Model,
		"category", category,
		"binding", bindingID,
		"latency_ms", latency.Milliseconds(),
		"tokens_in", resp.Usage.InputTokens,
		"tokens_out", resp.Usage.OutputTokens,
		"cost_usd", cost.TotalUSD,
	)
	g.publishEvent(ctx, SubjectRequestCompleted, map[string]interface{}{
		"trace_id":   logging.TraceIDFromContext(ctx),
		"binding":    bindingID,
		"model":      resp.Model,
		"category":   string(category),
		"status":     200,
		"latency_ms": latency.Milliseconds(),
		"tokens_in":  resp.Usage.InputTokens,
		"tokens_out": resp.Usage.OutputTokens,
		"cost_usd":   cost.TotalUSD,
		"timestamp":  time.Now(),
	})

	return resp, nil
}

// RouteStream is Route's streaming counterpart: it classifies req and
// selects a single eligible binding exactly as Route does, but drives it
// through pipeline.Pipeline.RunStream instead of Run, invoking emit once
// per client-schema stream event as they're produced rather than
// returning one assembled *clientschema.Reply.
//
// There is no cross-pipeline failover once streaming begins: bytes
// already flushed toward the client can't be retransmitted against a
// different binding, so a mid-stream failure surfaces as an error rather
// than a retry, and a context cancellation reports OutcomeCancelled
// rather than counting against the binding's circuit breaker (§5
// "Cancellation semantics").
func (g *Gateway) RouteStream(ctx context.Context, req *clientschema.Request, emit func(*clientschema.StreamEvent) error) error {
	if g.globalLimiter != nil && !g.globalLimiter.Allow() {
		metrics.RateLimitRejections.WithLabelValues("global").Inc()
		return relayerr.New(relayerr.KindRateLimit, "global request rate exceeded")
	}
	req.Model = g.resolveModelAlias(req.Model)

	pctx := plugin.NewContext(req)
	if g.plugins.HasPlugins() {
		if err := g.plugins.RunBefore(ctx, pctx); err != nil {
			return relayerr.New(relayerr.KindBadRequest, err.Error())
		}
		if pctx.Reject {
			return relayerr.New(relayerr.KindBadRequest, "request rejected by plugin: "+pctx.Reason)
		}
	}

	category := routing.Classify(req, g.classifier)
	if _, err := g.table.Resolve(category); err != nil {
		category = routing.CategoryDefault
		if _, err := g.table.Resolve(category); err != nil {
			return err
		}
	}

	g.mu.RLock()
	strategy := g.strategies[category]
	g.mu.RUnlock()
	if strategy == nil {
		strategy = loadbalance.Weighted{}
	}

	candidates := g.registry.ListEligible(string(category))
	if len(candidates) == 0 {
		return registry.NoEligibleBindingError(string(category))
	}
	p, err := strategy.Select(candidates)
	if err != nil {
		return loadbalance.NoEligibleBindingError(string(category))
	}

	start := time.Now()
	p.Acquire()
	metrics.InflightRequests.WithLabelValues(p.ID()).Set(float64(p.InFlight()))
	runErr := p.RunStream(ctx, logging.TraceIDFromContext(ctx), req, func(ev pipeline.StreamEvent) error {
		cev, ok := ev.Payload.(*clientschema.StreamEvent)
		if !ok {
			return relayerr.New(relayerr.KindTransformError, "stream: unexpected event payload type")
		}
		return emit(cev)
	})
	latency := time.Since(start)
	metrics.InflightRequests.WithLabelValues(p.ID()).Set(float64(p.InFlight() - 1))
	outcome := outcomeFor(runErr)
	g.bookkeep.Apply(p, outcome, latency)
	metrics.CircuitBreakerState.WithLabelValues(p.ID()).Set(float64(p.CircuitBreaker().State()))

	if runErr != nil {
		metrics.RequestsTotal.WithLabelValues(p.ID(), req.Model, "error").Inc()
		g.publishEvent(ctx, SubjectRequestFailed, map[string]interface{}{
			"trace_id":   logging.TraceIDFromContext(ctx),
			"model":      req.Model,
			"category":   string(category),
			"binding":    p.ID(),
			"error":      runErr.Error(),
			"latency_ms": latency.Milliseconds(),
			"timestamp":  time.Now(),
		})
		return runErr
	}

	metrics.RequestDuration.WithLabelValues(p.ID(), req.Model).Observe(latency.Seconds())
	metrics.RequestsTotal.WithLabelValues(p.ID(), req.Model, "success").Inc()
	g.publishEvent(ctx, SubjectRequestCompleted, map[string]interface{}{
		"trace_id":   logging.TraceIDFromContext(ctx),
		"binding":    p.ID(),
		"model":      req.Model,
		"category":   string(category),
		"status":     200,
		"latency_ms": latency.Milliseconds(),
		"timestamp":  time.Now(),
	})
	return nil
}

// dispatch resolves category to an eligible pipeline, runs the request,
// and — when the category's failover policy allows it — retries the
// next eligible pipeline on a transient outcome rather than surfacing
// the error immediately (§4.3 "Failover").
func (g *Gateway) dispatch(ctx context.Context, category routing.Category, req *clientschema.Request) (*clientschema.Reply, string, error) {
	if _, err := g.table.Resolve(category); err != nil {
		category = routing.CategoryDefault
		if _, err := g.table.Resolve(category); err != nil {
			return nil, "", err
		}
	}

	g.mu.RLock()
	strategy := g.strategies[category]
	failover := g.failover[category]
	g.mu.RUnlock()
	if strategy == nil {
		strategy = loadbalance.Weighted{}
	}

	tried := map[string]bool{}
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		candidates := g.excludeTried(g.registry.ListEligible(string(category)), tried)
		if len(candidates) == 0 {
			if lastErr != nil {
				return nil, "", lastErr
			}
			return nil, "", registry.NoEligibleBindingError(string(category))
		}

		p, err := strategy.Select(candidates)
		if err != nil {
			return nil, "", loadbalance.NoEligibleBindingError(string(category))
		}
		tried[p.ID()] = true

		p.Acquire()
		metrics.InflightRequests.WithLabelValues(p.ID()).Set(float64(p.InFlight()))
		callStart := time.Now()
		out, runErr := p.Run(ctx, logging.TraceIDFromContext(ctx), req)
		latency := time.Since(callStart)
		metrics.InflightRequests.WithLabelValues(p.ID()).Set(float64(p.InFlight() - 1))
		outcome := outcomeFor(runErr)
		g.bookkeep.Apply(p, outcome, latency)
		metrics.CircuitBreakerState.WithLabelValues(p.ID()).Set(float64(p.CircuitBreaker().State()))

		if runErr == nil {
			reply, ok := out.(*clientschema.Reply)
			if !ok {
				return nil, p.ID(), relayerr.New(relayerr.KindTransformError, "pipeline returned unexpected type").WithBinding(p.ID())
			}
			return reply, p.ID(), nil
		}

		lastErr = runErr
		if !failover.ShouldFailover(outcome) {
			return nil, p.ID(), runErr
		}
	}
	return nil, "", lastErr
}

// excludeTried filters out pipelines already attempted during this
// dispatch's failover loop.
func (g *Gateway) excludeTried(candidates []*registry.Pipeline, tried map[string]bool) []*registry.Pipeline {
	if len(tried) == 0 {
		return candidates
	}
	out := make([]*registry.Pipeline, 0, len(candidates))
	for _, p := range candidates {
		if !tried[p.ID()] {
			out = append(out, p)
		}
	}
	return out
}

// outcomeFor maps a pipeline run error (or its absence) to the closed
// registry.Outcome vocabulary consulted by circuit-breaker/blacklist
// bookkeeping and failover policy.
func outcomeFor(err error) registry.Outcome {
	if err == nil {
		return registry.OutcomeSuccess
	}
	var relErr *relayerr.Error
	if !relayerr.As(err, &relErr) {
		return registry.OutcomeServerError
	}
	switch relErr.Kind {
	case relayerr.KindRateLimit:
		return registry.OutcomeRateLimit
	case relayerr.KindAuthError:
		return registry.OutcomeAuthFailure
	case relayerr.KindNetworkError:
		return registry.OutcomeNetworkError
	case relayerr.KindTimeout:
		return registry.OutcomeTimeout
	case relayerr.KindCancelled:
		return registry.OutcomeCancelled
	case relayerr.KindUpstreamError, relayerr.KindEmptyResponse, relayerr.KindMissingFinishReason:
		return registry.OutcomeServerError
	default:
		return registry.OutcomeTransientFailure
	}
}

// publishEvent calls all registered hooks asynchronously.
func (g *Gateway) publishEvent(ctx context.Context, subject string, data map[string]interface{}) {
	g.mu.RLock()
	hooks := make([]EventHookFunc, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.RUnlock()

	for _, h := range hooks {
		fn := h
		go fn(ctx, subject, data)
	}
}

// Close shuts down every pipeline in the registry, draining in-flight
// requests up to drainTimeout before disconnecting transports.
func (g *Gateway) Close(ctx context.Context, drainTimeout time.Duration) error {
	return g.registry.ShutdownAll(ctx, drainTimeout)
}
