// Package registry owns all provider bindings and their pipelines (C2).
// It is grounded on providers.Registry (a flat name→Provider map in the
// teacher) generalized into a full binding lifecycle with multi-key
// expansion, following the teacher's one-constructor-per-credential
// pattern in cmd/ferrogw/main.go.
package registry

// Kind is the closed enum of provider kinds a binding may speak (§9
// "Dynamic dispatch across provider families" redesign: a closed set,
// not an open plugin set).
type Kind string

// The closed set of provider kinds.
const (
	KindOpenAIFamily       Kind = "openai"
	KindGeminiFamily       Kind = "gemini"
	KindCodeWhispererFamily Kind = "codewhisperer"
	KindLocalOpenAICompat  Kind = "local_openai_compat"
)

// HealthStatus is the closed enum of binding health as observed by the
// health monitor's probe operation.
type HealthStatus string

// Binding health states.
const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Metrics holds the rolling per-binding counters consulted by the load
// balancer's response-time and least-connections strategies.
type Metrics struct {
	AvgLatencyMs float64
	SuccessRate  float64
	InFlight     int64
}

// Binding is the unit the load balancer selects (§3 "ProviderBinding").
type Binding struct {
	ID          string
	Kind        Kind
	Endpoint    string
	Credential  string // opaque credential handle; resolved via internal/credentials
	Model       string
	Weight      int
	Priority    int
	MaxConcurrentConnections int
	Health      HealthStatus

	// KeyGroup identifies the multi-key provider this binding was expanded
	// from, empty for single-credential providers.
	KeyGroup string
}
