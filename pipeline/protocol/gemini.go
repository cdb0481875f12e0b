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

// Gemini implements pipeline.Stage for the Gemini-family wire encoding:
// a JSON POST to /v1beta/models/{model}:generateContent, grounded on
// providers/gemini.go's Complete.
type Gemini struct {
	binding registry.Binding
}

// NewGemini returns a Protocol stage bound to b.
func NewGemini(b registry.Binding) *Gemini { return &Gemini{binding: b} }

func (p *Gemini) Init(ctx context.Context, opts map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{Name: "protocol:gemini", Streaming: true}, nil
}
func (p *Gemini) Connect(ctx context.Context) error    { return nil }
func (p *Gemini) Disconnect(ctx context.Context) error { return nil }
func (p *Gemini) Destroy(ctx context.Context) error    { return nil }

func (p *Gemini) ValidateInput(ctx context.Context, in any) error {
	if _, ok := in.(pipeline.FamilyRequest); !ok {
		return relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyRequest")
	}
	return nil
}
func (p *Gemini) ValidateOutput(ctx context.Context, out any) error {
	if _, ok := out.(pipeline.FamilyResponse); !ok {
		return relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyResponse")
	}
	return nil
}

func (p *Gemini) ProcessRequest(ctx context.Context, in any) (any, error) {
	fr, ok := in.(pipeline.FamilyRequest)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyRequest")
	}
	body, err := json.Marshal(fr.Payload)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransformError, err, "marshaling gemini-family request body")
	}
	verb := "generateContent"
	if fr.Model == "" {
		return nil, relayerr.New(relayerr.KindBadRequest, "gemini-family request missing model")
	}
	return pipeline.WireRequest{
		Method:  "POST",
		URL:     fmt.Sprintf("%s/v1beta/models/%s:%s", p.binding.Endpoint, fr.Model, verb),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

func (p *Gemini) ProcessResponse(ctx context.Context, in any) (any, error) {
	wr, ok := in.(pipeline.WireResponse)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.WireResponse")
	}
	if wr.TransportErr != "" {
		return nil, relayerr.New(relayerr.KindNetworkError, fmt.Sprintf("gemini-family transport error: %s", wr.TransportErr))
	}
	if wr.StatusCode >= 500 {
		return nil, relayerr.New(relayerr.KindUpstreamError, fmt.Sprintf("gemini-family upstream status %d", wr.StatusCode)).WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode == 429 {
		return nil, relayerr.New(relayerr.KindRateLimit, "gemini-family rate limited").WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode == 401 || wr.StatusCode == 403 {
		return nil, relayerr.New(relayerr.KindAuthError, "gemini-family auth rejected").WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode >= 400 {
		return nil, relayerr.New(relayerr.KindBadRequest, fmt.Sprintf("gemini-family client error %d", wr.StatusCode)).WithUpstreamStatus(wr.StatusCode)
	}

	var resp transformer.GeminiResponse
	if err := json.Unmarshal(wr.Body, &resp); err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransformError, err, "parsing gemini-family response body")
	}
	return pipeline.FamilyResponse{Family: "gemini", Payload: &resp}, nil
}
