package pipeline

// WireRequest is the payload handed from the Protocol stage down to
// ServerCompat and Server: a fully-built provider-specific HTTP request
// description (§4.4.2 "Builds provider-specific request bodies").
type WireRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Stream  bool
}

// WireResponse is the payload handed back up from Server through
// ServerCompat to Protocol: the raw network result (§4.4.4).
type WireResponse struct {
	StatusCode   int
	Headers      map[string]string
	Body         []byte
	TransportErr string // ETIMEDOUT / ECONNREFUSED / ENOTFOUND, or ""
}

// FamilyRequest is the provider-family-schema request produced by the
// Transformer stage's request direction and consumed by Protocol
// (§4.4.1). Concrete per-family shapes live in pipeline/transformer.
type FamilyRequest struct {
	Family string
	Model  string
	// Payload is the family-specific request value (e.g. an OpenAI-shaped
	// struct); Protocol knows how to marshal it for its own family.
	Payload any
}

// FamilyResponse is the provider-family-schema response produced by
// Protocol's response direction and consumed by Transformer.
type FamilyResponse struct {
	Family  string
	Payload any
}
