// Package ratelimit provides a gateway plugin that enforces per-model rate
// limits using in-memory token buckets, one per requested model. Configure
// it at the before_request stage so that over-budget requests are rejected
// before they hit the provider.
package ratelimit

import (
	"context"
	"fmt"

	internalrl "github.com/protorelay/gateway/internal/ratelimit"
	"github.com/protorelay/gateway/plugin"
)

func init() {
	plugin.RegisterFactory("rate-limit", func() plugin.Plugin {
		return &Plugin{}
	})
}

// Plugin enforces a token-bucket rate limit keyed by request model, so a
// burst against one model doesn't starve the budget of every other model
// sharing the gateway.
type Plugin struct {
	store *internalrl.Store
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string { return "rate-limit" }

// Type returns the plugin lifecycle hook type.
func (p *Plugin) Type() plugin.PluginType { return plugin.TypeRateLimit }

// Init reads config keys:
//   - requests_per_second (float64 or int, default 100) — per model
//   - burst (float64 or int, default equal to rps)
func (p *Plugin) Init(config map[string]interface{}) error {
	rps := 100.0
	burst := 0.0

	if v, ok := config["requests_per_second"]; ok {
		switch val := v.(type) {
		case float64:
			rps = val
		case int:
			rps = float64(val)
		default:
			return fmt.Errorf("rate-limit: requests_per_second must be a number")
		}
	}
	if v, ok := config["burst"]; ok {
		switch val := v.(type) {
		case float64:
			burst = val
		case int:
			burst = float64(val)
		default:
			return fmt.Errorf("rate-limit: burst must be a number")
		}
	}

	p.store = internalrl.NewStore(rps, burst)
	return nil
}

// Execute rejects the request if its model's rate limit is exceeded.
func (p *Plugin) Execute(_ context.Context, pctx *plugin.Context) error {
	model := ""
	if pctx.Request != nil {
		model = pctx.Request.Model
	}
	if !p.store.Allow(model) {
		pctx.Reject = true
		pctx.Reason = "rate limit exceeded"
		return fmt.Errorf("rate limit exceeded for model %q", model)
	}
	return nil
}
