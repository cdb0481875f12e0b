package aigateway

import "time"

// Config is the root configuration document (§6 "Configuration"),
// generalized from the teacher's Strategy/Targets/Plugins shape to the
// provider-registry + routing-category schema this gateway loads.
type Config struct {
	Server        ServerConfig              `json:"server" yaml:"server"`
	Providers     map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Routing       RoutingConfig             `json:"routing" yaml:"routing"`
	Preprocessing PreprocessingConfig       `json:"preprocessing,omitempty" yaml:"preprocessing,omitempty"`
}

// ServerConfig is the gateway's own listener binding.
type ServerConfig struct {
	Port int    `json:"port" yaml:"port"`
	Host string `json:"host" yaml:"host"`
}

// ProviderConfig describes one upstream provider; after multi-key
// expansion the registry turns one ProviderConfig into one or more
// registry.Binding values.
type ProviderConfig struct {
	Type                  string            `json:"type" yaml:"type"`
	Endpoint              string            `json:"endpoint" yaml:"endpoint"`
	Authentication        AuthConfig        `json:"authentication" yaml:"authentication"`
	Models                []string          `json:"models" yaml:"models"`
	MaxTokens             map[string]int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Timeout               Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry                 RetryConfig       `json:"retry,omitempty" yaml:"retry,omitempty"`
	HealthCheck           HealthCheckConfig `json:"healthCheck,omitempty" yaml:"healthCheck,omitempty"`
	Weight                int               `json:"weight,omitempty" yaml:"weight,omitempty"`
	Priority              int               `json:"priority,omitempty" yaml:"priority,omitempty"`
	MaxConcurrentRequests int               `json:"maxConcurrentRequests,omitempty" yaml:"maxConcurrentRequests,omitempty"`
	Blacklist             []string          `json:"blacklist,omitempty" yaml:"blacklist,omitempty"`
	CircuitBreaker        CircuitBreakerConfig `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
}

// CircuitBreakerConfig configures a binding's per-pipeline breaker
// (internal/circuitbreaker.CircuitBreaker); zero values fall back to
// DefaultCircuitBreakerConfig at wiring time.
type CircuitBreakerConfig struct {
	FailureThreshold int      `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty"`
	SuccessThreshold int      `json:"successThreshold,omitempty" yaml:"successThreshold,omitempty"`
	Timeout          Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// AuthConfig carries the provider's credential material.
type AuthConfig struct {
	Type        string      `json:"type" yaml:"type"`
	Credentials Credentials `json:"credentials" yaml:"credentials"`
}

// Credentials is the union of supported credential shapes: a single
// key, a list of keys (multi-key expansion, §4.2 expandMultiKey), or
// OAuth bearer tokens (CodeWhisperer).
type Credentials struct {
	APIKey  string   `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIKeys []string `json:"apiKeys,omitempty" yaml:"apiKeys,omitempty"`
	Tokens  []string `json:"tokens,omitempty" yaml:"tokens,omitempty"`
}

// RetryConfig configures a binding's pipeline-level retry policy
// (registry.RetryPolicy).
type RetryConfig struct {
	MaxRetries        int     `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	DelayMs           int     `json:"delayMs,omitempty" yaml:"delayMs,omitempty"`
	BackoffMultiplier float64 `json:"backoffMultiplier,omitempty" yaml:"backoffMultiplier,omitempty"`
	MaxDelayMs        int     `json:"maxDelayMs,omitempty" yaml:"maxDelayMs,omitempty"`
}

// HealthCheckConfig configures a binding's health-probe operation
// (pipeline.HealthProber).
type HealthCheckConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Model      string   `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout    Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Interval   Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	RetryCount int      `json:"retryCount,omitempty" yaml:"retryCount,omitempty"`
}

// RoutingConfig is the Router's (C1) full configuration.
type RoutingConfig struct {
	Categories     map[string]CategoryConfig `json:"categories" yaml:"categories"`
	GlobalSettings GlobalSettings            `json:"globalSettings" yaml:"globalSettings"`

	// Aliases maps a client-supplied model name to the model name used
	// for classification and binding resolution, carried over from the
	// teacher's Config.Aliases/resolveAlias so that an operator can
	// rename a model without touching every category's target list.
	Aliases map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// CategoryConfig configures one routing category's primary binding,
// backups, and load-balancing policy (§4.1/§4.3).
type CategoryConfig struct {
	Primary       CategoryTarget      `json:"primary" yaml:"primary"`
	Backups       []CategoryTarget    `json:"backups,omitempty" yaml:"backups,omitempty"`
	LoadBalancing LoadBalancingConfig `json:"loadBalancing" yaml:"loadBalancing"`
}

// CategoryTarget names one provider+model pair eligible for a category,
// plus an optional weighted-strategy weight override.
type CategoryTarget struct {
	Provider string  `json:"provider" yaml:"provider"`
	Model    string  `json:"model" yaml:"model"`
	Weight   float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// LoadBalancingConfig selects and configures a loadbalance.Strategy for
// a category.
type LoadBalancingConfig struct {
	Strategy           string `json:"strategy" yaml:"strategy"`
	EnableFailover     bool   `json:"enableFailover" yaml:"enableFailover"`
	MaxFailures        int    `json:"maxFailures,omitempty" yaml:"maxFailures,omitempty"`
	FailoverCooldownMs int    `json:"failoverCooldownMs,omitempty" yaml:"failoverCooldownMs,omitempty"`
}

// GlobalSettings are routing-wide defaults and the rate-limiting policy
// enforced ahead of the router.
type GlobalSettings struct {
	EnableMultiKeyExpansion bool         `json:"enableMultiKeyExpansion" yaml:"enableMultiKeyExpansion"`
	DefaultCategory         string       `json:"defaultCategory" yaml:"defaultCategory"`
	FallbackProvider        string       `json:"fallbackProvider,omitempty" yaml:"fallbackProvider,omitempty"`
	RateLimiting            RateLimiting `json:"rateLimiting" yaml:"rateLimiting"`
}

// RateLimiting is the global request-rate cap ahead of routing.
type RateLimiting struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `json:"requestsPerMinute,omitempty" yaml:"requestsPerMinute,omitempty"`
	BurstLimit        int  `json:"burstLimit,omitempty" yaml:"burstLimit,omitempty"`
}

// PreprocessingConfig toggles the response preprocessor (C5) and its
// named sub-processors.
type PreprocessingConfig struct {
	Enabled    bool                       `json:"enabled" yaml:"enabled"`
	Processors map[string]ProcessorConfig `json:"processors,omitempty" yaml:"processors,omitempty"`
}

// ProcessorConfig is one named preprocessing sub-component's toggle and
// free-form options, following the teacher's PluginConfig.Config shape.
type ProcessorConfig struct {
	Enabled bool                   `json:"enabled" yaml:"enabled"`
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

// Duration unmarshals from a plain string ("30s") into a time.Duration,
// generalizing the teacher's CircuitBreakerConfig.Timeout string field
// into a reusable type for every timeout/interval field in this schema.
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
