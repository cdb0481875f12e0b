// Package routing implements the Router (C1): classifying a
// clientschema.Request into a RoutingCategory and consulting the routing
// table for an ordered list of eligible bindings.
package routing

// Category is the closed enum of routing buckets (§3 "RoutingCategory").
type Category string

// The five routing categories. Classification is deterministic given a
// clientschema.Request (§4.1).
const (
	CategoryDefault     Category = "default"
	CategoryBackground  Category = "background"
	CategoryThinking    Category = "thinking"
	CategoryLongContext Category = "longcontext"
	CategorySearch      Category = "search"
)
