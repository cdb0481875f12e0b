package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/pipeline/transformer"
	"github.com/protorelay/gateway/registry"
	"github.com/protorelay/gateway/relayerr"
)

// CodeWhisperer implements pipeline.Stage for AWS CodeWhisperer/Q
// Developer's GenerateAssistantResponse wire encoding (adapted by
// analogy from providers/bedrock.go's InvokeModel JSON-body pattern;
// CodeWhisperer uses its own REST surface rather than Bedrock's runtime
// API, but the same "marshal struct, POST, unmarshal struct" shape
// applies).
type CodeWhisperer struct {
	binding registry.Binding
}

// NewCodeWhisperer returns a Protocol stage bound to b.
func NewCodeWhisperer(b registry.Binding) *CodeWhisperer { return &CodeWhisperer{binding: b} }

func (p *CodeWhisperer) Init(ctx context.Context, opts map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{Name: "protocol:codewhisperer", Streaming: true}, nil
}
func (p *CodeWhisperer) Connect(ctx context.Context) error    { return nil }
func (p *CodeWhisperer) Disconnect(ctx context.Context) error { return nil }
func (p *CodeWhisperer) Destroy(ctx context.Context) error    { return nil }

func (p *CodeWhisperer) ValidateInput(ctx context.Context, in any) error {
	if _, ok := in.(pipeline.FamilyRequest); !ok {
		return relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyRequest")
	}
	return nil
}
func (p *CodeWhisperer) ValidateOutput(ctx context.Context, out any) error {
	if _, ok := out.(pipeline.FamilyResponse); !ok {
		return relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyResponse")
	}
	return nil
}

func (p *CodeWhisperer) ProcessRequest(ctx context.Context, in any) (any, error) {
	fr, ok := in.(pipeline.FamilyRequest)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyRequest")
	}
	body, err := json.Marshal(fr.Payload)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransformError, err, "marshaling codewhisperer-family request body")
	}
	return pipeline.WireRequest{
		Method:  "POST",
		URL:     p.binding.Endpoint + "/generateAssistantResponse",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
		Stream:  true,
	}, nil
}

func (p *CodeWhisperer) ProcessResponse(ctx context.Context, in any) (any, error) {
	wr, ok := in.(pipeline.WireResponse)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.WireResponse")
	}
	if wr.TransportErr != "" {
		return nil, relayerr.New(relayerr.KindNetworkError, fmt.Sprintf("codewhisperer-family transport error: %s", wr.TransportErr))
	}
	if wr.StatusCode >= 500 {
		return nil, relayerr.New(relayerr.KindUpstreamError, fmt.Sprintf("codewhisperer-family upstream status %d", wr.StatusCode)).WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode == 429 {
		return nil, relayerr.New(relayerr.KindRateLimit, "codewhisperer-family rate limited").WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode == 401 || wr.StatusCode == 403 {
		return nil, relayerr.New(relayerr.KindAuthError, "codewhisperer-family auth rejected").WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode >= 400 {
		return nil, relayerr.New(relayerr.KindBadRequest, fmt.Sprintf("codewhisperer-family client error %d", wr.StatusCode)).WithUpstreamStatus(wr.StatusCode)
	}

	var resp transformer.CodeWhispererResponse
	if err := json.Unmarshal(wr.Body, &resp); err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransformError, err, "parsing codewhisperer-family response body")
	}
	return pipeline.FamilyResponse{Family: "codewhisperer", Payload: &resp}, nil
}
