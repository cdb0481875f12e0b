// Package cache provides the Cache interface backing the response-cache
// plugin (internal/plugins/cache). The default in-process implementation
// is Memory, an LRU cache with per-entry TTL expiration.
package cache

import "github.com/protorelay/gateway/clientschema"

// Cache defines the interface for response caching.
type Cache interface {
	Get(key string) (*clientschema.Reply, bool)
	Set(key string, resp *clientschema.Reply)
	Delete(key string)
	Len() int
	Clear()
}
