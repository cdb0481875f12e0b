package aigateway

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/protorelay/gateway/internal/blacklist"
	"github.com/protorelay/gateway/internal/credentials"
	"github.com/protorelay/gateway/internal/ratelimit"
	"github.com/protorelay/gateway/loadbalance"
	"github.com/protorelay/gateway/models"
	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/pipeline/protocol"
	"github.com/protorelay/gateway/pipeline/server"
	"github.com/protorelay/gateway/pipeline/servercompat"
	"github.com/protorelay/gateway/pipeline/transformer"
	"github.com/protorelay/gateway/plugin"
	"github.com/protorelay/gateway/registry"
	"github.com/protorelay/gateway/routing"

	_ "github.com/protorelay/gateway/internal/plugins/cache"
	_ "github.com/protorelay/gateway/internal/plugins/logger"
	_ "github.com/protorelay/gateway/internal/plugins/maxtoken"
	_ "github.com/protorelay/gateway/internal/plugins/ratelimit"
	_ "github.com/protorelay/gateway/internal/plugins/wordfilter"
)

// DefaultCircuitBreakerConfig is used for any binding whose provider
// config leaves CircuitBreaker at its zero value.
func DefaultCircuitBreakerConfig() registry.CircuitBreakerConfig {
	return registry.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		Retry:            registry.DefaultRetryPolicy(),
	}
}

// processorWiring maps a preprocessing.processors entry name to its
// registered plugin factory name and the lifecycle stage(s) it attaches
// to. Unlike the teacher's Config.Plugins (one stage per entry),
// response-cache needs both before_request (lookup) and after_request
// (store) registered against the same instance.
var processorWiring = map[string]struct {
	factory string
	stages  []plugin.Stage
}{
	"maxtoken":   {factory: "max-token", stages: []plugin.Stage{plugin.StageBeforeRequest}},
	"wordfilter": {factory: "word-filter", stages: []plugin.Stage{plugin.StageBeforeRequest}},
	"ratelimit":  {factory: "rate-limit", stages: []plugin.Stage{plugin.StageBeforeRequest}},
	"logger":     {factory: "request-logger", stages: []plugin.Stage{plugin.StageAfterRequest}},
	"cache":      {factory: "response-cache", stages: []plugin.Stage{plugin.StageBeforeRequest, plugin.StageAfterRequest}},
}

// NewFromConfig builds a fully-wired Gateway from a loaded Config: it
// expands multi-key providers into bindings, builds a per-Kind pipeline
// chain for each, registers them against the routing table declared by
// cfg.Routing.Categories, and loads guardrail/observability plugins from
// cfg.Preprocessing.Processors.
func NewFromConfig(cfg Config) (*Gateway, error) {
	catalog, err := models.Load()
	if err != nil {
		catalog = models.Catalog{}
	}

	bl := blacklist.New()
	reg := registry.New(bl)
	credStore := credentials.NewStore()
	oauthByProvider := make(map[string]*credentials.OAuthCredential)
	bindingIDsByProvider := make(map[string][]string)

	for name, pc := range cfg.Providers {
		kind, err := bindingKind(pc.Type)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}

		var credIDs []string
		switch {
		case len(pc.Authentication.Credentials.Tokens) > 0:
			for i, tok := range pc.Authentication.Credentials.Tokens {
				id := fmt.Sprintf("%s-token%d", name, i)
				oauthByProvider[id] = credentials.NewOAuthCredential(
					oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}),
				)
				credIDs = append(credIDs, id)
			}
		case len(pc.Authentication.Credentials.APIKeys) > 0:
			for i, key := range pc.Authentication.Credentials.APIKeys {
				id := fmt.Sprintf("%s-key%d", name, i)
				credStore.Put(id, key)
				credIDs = append(credIDs, id)
			}
		case pc.Authentication.Credentials.APIKey != "":
			credStore.Put(name, pc.Authentication.Credentials.APIKey)
			credIDs = []string{name}
		}

		weight := pc.Weight
		if weight <= 0 {
			weight = 1
		}

		template := registry.Binding{
			ID:                       name,
			Kind:                     kind,
			Endpoint:                 pc.Endpoint,
			Weight:                   weight,
			Priority:                 pc.Priority,
			MaxConcurrentConnections: pc.MaxConcurrentRequests,
			Health:                   registry.HealthUnknown,
		}

		bindings := []registry.Binding{template}
		if cfg.Routing.GlobalSettings.EnableMultiKeyExpansion && len(credIDs) > 1 {
			bindings = registry.ExpandMultiKey(name, template, credIDs, nil)
		} else if len(credIDs) > 0 {
			template.Credential = credIDs[0]
			bindings = []registry.Binding{template}
		}

		cbCfg := DefaultCircuitBreakerConfig()
		if pc.CircuitBreaker.FailureThreshold > 0 {
			cbCfg.FailureThreshold = pc.CircuitBreaker.FailureThreshold
		}
		if pc.CircuitBreaker.SuccessThreshold > 0 {
			cbCfg.SuccessThreshold = pc.CircuitBreaker.SuccessThreshold
		}
		if pc.CircuitBreaker.Timeout > 0 {
			cbCfg.Timeout = time.Duration(pc.CircuitBreaker.Timeout)
		}
		if pc.Retry.MaxRetries > 0 {
			cbCfg.Retry = registry.RetryPolicy{
				MaxAttempts: pc.Retry.MaxRetries + 1,
				BaseBackoff: time.Duration(pc.Retry.DelayMs) * time.Millisecond,
				MaxBackoff:  time.Duration(pc.Retry.MaxDelayMs) * time.Millisecond,
			}
			if cbCfg.Retry.MaxBackoff <= 0 {
				cbCfg.Retry.MaxBackoff = 10 * time.Second
			}
		}

		healthURL := pc.Endpoint
		for _, b := range bindings {
			build := chainBuilder(b.Kind, credStore, oauthByProvider[b.Credential], pc.Timeout, healthURL)
			if _, err := reg.Register(b, build, cbCfg); err != nil {
				return nil, fmt.Errorf("registering binding %q: %w", b.ID, err)
			}
			bindingIDsByProvider[name] = append(bindingIDsByProvider[name], b.ID)
		}
	}

	table := routing.NewTable()
	strategies := make(map[routing.Category]loadbalance.Strategy)
	failover := make(map[routing.Category]loadbalance.FailoverPolicy)

	for catName, cc := range cfg.Routing.Categories {
		cat := routing.Category(catName)
		targets := append([]CategoryTarget{cc.Primary}, cc.Backups...)
		wbs := make([]routing.WeightedBinding, 0, len(targets))
		bindingIDs := make([]string, 0, len(targets))
		for _, t := range targets {
			if t.Provider == "" {
				continue
			}
			w := int(t.Weight)
			if w <= 0 {
				w = 1
			}
			wbs = append(wbs, routing.WeightedBinding{BindingID: t.Provider, Weight: w})
			if ids := bindingIDsByProvider[t.Provider]; len(ids) > 0 {
				bindingIDs = append(bindingIDs, ids...)
			} else {
				bindingIDs = append(bindingIDs, t.Provider)
			}
		}
		required := cat == routing.CategoryDefault
		table.Set(cat, wbs, required)
		reg.SetCategory(catName, bindingIDs)
		strategy := strategyFor(cc.LoadBalancing.Strategy)
		if cfg.Routing.GlobalSettings.EnableMultiKeyExpansion {
			// Collapse each multi-key provider's expanded bindings down
			// to one strict-round-robin representative (§4.3) before
			// the category's configured strategy ever sees them.
			strategy = &loadbalance.KeyGroupAware{Inner: strategy, Blacklist: bl}
		}
		strategies[cat] = strategy
		failover[cat] = loadbalance.FailoverPolicy{EnableFailover: cc.LoadBalancing.EnableFailover}
	}

	var globalLimiter *ratelimit.Limiter
	if cfg.Routing.GlobalSettings.RateLimiting.Enabled {
		rps := float64(cfg.Routing.GlobalSettings.RateLimiting.RequestsPerMinute) / 60.0
		burst := float64(cfg.Routing.GlobalSettings.RateLimiting.BurstLimit)
		if burst <= 0 {
			burst = rps
		}
		globalLimiter = ratelimit.New(rps, burst)
	}

	mgr := plugin.NewManager()
	for name, pcfg := range cfg.Preprocessing.Processors {
		if !pcfg.Enabled {
			continue
		}
		wiring, ok := processorWiring[name]
		if !ok {
			return nil, fmt.Errorf("unknown preprocessing processor %q", name)
		}
		factory, ok := plugin.GetFactory(wiring.factory)
		if !ok {
			return nil, fmt.Errorf("no plugin factory registered for %q", wiring.factory)
		}
		// One instance shared across every stage it attaches to, so a
		// stateful processor (response-cache) sees both halves of a
		// request/response pair.
		p := factory()
		if err := p.Init(pcfg.Options); err != nil {
			return nil, fmt.Errorf("initializing processor %q: %w", name, err)
		}
		for _, stage := range wiring.stages {
			if err := mgr.Register(stage, p); err != nil {
				return nil, fmt.Errorf("registering processor %q at %s: %w", name, stage, err)
			}
		}
	}

	g := &Gateway{
		config:        cfg,
		catalog:       catalog,
		registry:      reg,
		table:         table,
		classifier:    routing.DefaultClassifierConfig(),
		strategies:    strategies,
		failover:      failover,
		bookkeep:      loadbalance.FailureBookkeeping{Blacklist: bl, RateLimitTTL: 60 * time.Second},
		globalLimiter: globalLimiter,
		plugins:       mgr,
		aliases:       cfg.Routing.Aliases,
	}
	return g, nil
}

func bindingKind(providerType string) (registry.Kind, error) {
	switch providerType {
	case "openai":
		return registry.KindOpenAIFamily, nil
	case "gemini":
		return registry.KindGeminiFamily, nil
	case "codewhisperer":
		return registry.KindCodeWhispererFamily, nil
	case "local_openai_compat", "local-openai-compat", "local":
		return registry.KindLocalOpenAICompat, nil
	default:
		return "", fmt.Errorf("unknown provider type %q", providerType)
	}
}

func strategyFor(name string) loadbalance.Strategy {
	switch name {
	case "round_robin", "roundrobin":
		return &loadbalance.RoundRobin{}
	case "least_connections", "leastconnections":
		return loadbalance.LeastConnections{}
	case "response_time", "responsetime":
		return loadbalance.ResponseTime{}
	case "single_fallback", "singlefallback":
		return loadbalance.SingleFallback{}
	default:
		return loadbalance.Weighted{}
	}
}

// chainBuilder returns the registry.ChainBuilder for a provider family,
// composing the four pipeline.Stage implementations the teacher would
// have assembled as one Provider (internal providers/*.go): transformer
// (family-specific schema conversion), protocol (wire framing),
// servercompat (auth + response reshaping), server (the HTTP round
// trip).
func chainBuilder(kind registry.Kind, credStore *credentials.Store, oauth *credentials.OAuthCredential, timeout Duration, healthURL string) registry.ChainBuilder {
	to := time.Duration(timeout)
	if to <= 0 {
		to = 60 * time.Second
	}
	return func(b registry.Binding) (registry.StageChain, error) {
		var tr pipeline.Stage
		var pr pipeline.Stage
		switch kind {
		case registry.KindGeminiFamily:
			tr = transformer.NewGeminiFamily()
			pr = protocol.NewGemini(b)
		case registry.KindCodeWhispererFamily:
			tr = transformer.NewCodeWhispererFamily(b.ID)
			pr = protocol.NewCodeWhisperer(b)
		case registry.KindOpenAIFamily, registry.KindLocalOpenAICompat:
			tr = transformer.NewOpenAIFamily()
			pr = protocol.NewOpenAI(b)
		default:
			return registry.StageChain{}, fmt.Errorf("unsupported binding kind %q", kind)
		}
		sc := servercompat.New(b, credStore, oauth)
		srv := server.New(to, healthURL)
		return registry.StageChain{
			Transformer:  tr,
			Protocol:     pr,
			ServerCompat: sc,
			Server:       srv,
		}, nil
	}
}
