// Package cache provides a response-cache plugin that stores LLM responses
// in memory and serves them on exact-match cache hits, reducing provider cost
// and latency for repeated requests. Register it with a blank import:
//
//	_ "github.com/protorelay/gateway/internal/plugins/cache"
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/internal/cache"
	"github.com/protorelay/gateway/plugin"
)

func init() {
	plugin.RegisterFactory("response-cache", func() plugin.Plugin {
		return &ResponseCache{}
	})
}

// ResponseCache is a transform plugin that caches LLM responses using
// exact-match hashing of the request (model + messages). Backed by
// internal/cache.Memory, an LRU cache with per-entry TTL expiration.
type ResponseCache struct {
	store      cache.Cache
	maxAge     time.Duration
	maxEntries int
}

// Name returns the plugin identifier.
func (c *ResponseCache) Name() string {
	return "response-cache"
}

// Type returns the plugin lifecycle hook type.
func (c *ResponseCache) Type() plugin.PluginType {
	return plugin.TypeTransform
}

// Init configures the plugin from the provided options map.
func (c *ResponseCache) Init(config map[string]interface{}) error {
	maxAge := 300
	// JSON delivers numeric values as float64; YAML may deliver int. Handle both.
	switch v := config["max_age"].(type) {
	case int:
		maxAge = v
	case float64:
		maxAge = int(v)
	}

	maxEntries := 1000
	switch v := config["max_entries"].(type) {
	case int:
		maxEntries = v
	case float64:
		maxEntries = int(v)
	}

	c.maxAge = time.Duration(maxAge) * time.Second
	c.maxEntries = maxEntries
	c.store = cache.NewMemory(c.maxEntries, c.maxAge)
	return nil
}

// Execute checks for a cache hit (before request) or stores the response (after request).
func (c *ResponseCache) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Request == nil {
		return nil
	}

	key := cacheKey(pctx.Request)

	if pctx.Response == nil {
		// before_request: lookup
		if resp, ok := c.store.Get(key); ok {
			pctx.Response = resp
			pctx.Skip = true
			pctx.Metadata["cache_hit"] = true
		}
		return nil
	}

	// after_request: store
	if pctx.Metadata["cache_hit"] == true {
		return nil
	}

	c.store.Set(key, pctx.Response)
	return nil
}

func cacheKey(req *clientschema.Request) string {
	msgs := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		var content string
		for _, blk := range m.Blocks {
			content += blk.Text
		}
		msgs[i] = fmt.Sprintf("%s:%s", m.Role, content)
	}
	sort.Strings(msgs)

	raw := req.Model + "\n" + fmt.Sprintf("%v", msgs)
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
