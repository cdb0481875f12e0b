// Package protocol implements the Protocol stage (§4.4.2): building
// provider-specific request bodies and endpoint paths from a
// FamilyRequest, and parsing the raw wire bytes of a WireResponse back
// into the matching FamilyResponse struct, grounded on the teacher's
// per-provider Complete() marshal/unmarshal pairs in providers/*.go.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/providers"
	"github.com/protorelay/gateway/registry"
	"github.com/protorelay/gateway/relayerr"
)

var openAIStreamDoneSentinel = []byte("[DONE]")

// OpenAI implements pipeline.Stage for the OpenAI-family (and
// local-OpenAI-compat) wire encoding: a JSON POST to
// /v1/chat/completions.
type OpenAI struct {
	binding registry.Binding
}

// NewOpenAI returns a Protocol stage bound to b.
func NewOpenAI(b registry.Binding) *OpenAI { return &OpenAI{binding: b} }

func (p *OpenAI) Init(ctx context.Context, opts map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{Name: "protocol:openai", Streaming: true}, nil
}
func (p *OpenAI) Connect(ctx context.Context) error    { return nil }
func (p *OpenAI) Disconnect(ctx context.Context) error { return nil }
func (p *OpenAI) Destroy(ctx context.Context) error    { return nil }

func (p *OpenAI) ValidateInput(ctx context.Context, in any) error {
	if _, ok := in.(pipeline.FamilyRequest); !ok {
		return relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyRequest")
	}
	return nil
}
func (p *OpenAI) ValidateOutput(ctx context.Context, out any) error {
	if _, ok := out.(pipeline.FamilyResponse); !ok {
		return relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyResponse")
	}
	return nil
}

// ProcessRequest builds an openai-go SDK ChatCompletionNewParams from the
// family request and marshals that as the HTTP body, so the wire shape
// openai-go defines (including its tool/response-format unions) is what
// actually leaves the gateway rather than a hand-rolled mirror of it.
// Endpoint/headers are built here; auth injection is ServerCompat's job
// (§4.4.3 owns credentials, not Protocol).
func (p *OpenAI) ProcessRequest(ctx context.Context, in any) (any, error) {
	fr, ok := in.(pipeline.FamilyRequest)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.FamilyRequest")
	}
	req, ok := fr.Payload.(providers.Request)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "protocol: expected providers.Request payload")
	}

	params := openai.ChatCompletionNewParams{
		Messages: buildOpenAIMessages(req.Messages),
		Model:    req.Model,
	}
	applyOpenAIParams(&params, req)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransformError, err, "marshaling openai-family request body")
	}
	return pipeline.WireRequest{
		Method:  "POST",
		URL:     p.binding.Endpoint + "/v1/chat/completions",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
		Stream:  req.Stream,
	}, nil
}

// ProcessResponse parses the raw response body as an openai-go
// ChatCompletion and maps it into a providers.Response. ServerCompat has
// already applied the response preprocessor's JSON surgery by the time
// this runs.
func (p *OpenAI) ProcessResponse(ctx context.Context, in any) (any, error) {
	wr, ok := in.(pipeline.WireResponse)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "protocol: expected pipeline.WireResponse")
	}
	if wr.TransportErr != "" {
		return nil, relayerr.New(relayerr.KindNetworkError, fmt.Sprintf("openai-family transport error: %s", wr.TransportErr))
	}
	if wr.StatusCode >= 500 {
		return nil, relayerr.New(relayerr.KindUpstreamError, fmt.Sprintf("openai-family upstream status %d", wr.StatusCode)).WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode == 429 {
		return nil, relayerr.New(relayerr.KindRateLimit, "openai-family rate limited").WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode == 401 || wr.StatusCode == 403 {
		return nil, relayerr.New(relayerr.KindAuthError, "openai-family auth rejected").WithUpstreamStatus(wr.StatusCode)
	}
	if wr.StatusCode >= 400 {
		return nil, relayerr.New(relayerr.KindBadRequest, fmt.Sprintf("openai-family client error %d", wr.StatusCode)).WithUpstreamStatus(wr.StatusCode)
	}

	var completion openai.ChatCompletion
	if err := json.Unmarshal(wr.Body, &completion); err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransformError, err, "parsing openai-family response body")
	}
	resp := chatCompletionToResponse(&completion)
	return pipeline.FamilyResponse{Family: "openai", Payload: resp}, nil
}

// DecodeStreamChunk implements pipeline.StreamDecoder: line is one "data:
// ..." payload already stripped of the SSE field prefix and trailing
// newline by the caller. OpenAI terminates its stream with a literal
// "[DONE]" line rather than a JSON object, which decodes into done=true.
func (p *OpenAI) DecodeStreamChunk(line []byte) (any, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false, nil
	}
	if bytes.Equal(line, openAIStreamDoneSentinel) {
		return nil, true, nil
	}
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, false, relayerr.Wrap(relayerr.KindTransformError, err, "parsing openai-family stream chunk")
	}
	return providers.StreamChunk{
		ID:      chunk.ID,
		Object:  chunk.Object,
		Created: chunk.Created,
		Model:   chunk.Model,
		Choices: streamChoicesFromChunk(chunk),
	}, false, nil
}

// streamChoicesFromChunk maps an openai-go ChatCompletionChunk's choices
// onto the family-agnostic providers.StreamChoice shape.
func streamChoicesFromChunk(chunk openai.ChatCompletionChunk) []providers.StreamChoice {
	out := make([]providers.StreamChoice, 0, len(chunk.Choices))
	for _, c := range chunk.Choices {
		delta := providers.MessageDelta{
			Role:    string(c.Delta.Role),
			Content: c.Delta.Content,
		}
		for _, tc := range c.Delta.ToolCalls {
			delta.ToolCalls = append(delta.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: providers.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, providers.StreamChoice{
			Index:        int(c.Index),
			Delta:        delta,
			FinishReason: string(c.FinishReason),
		})
	}
	return out
}

// buildOpenAIMessages converts gateway Messages to the openai-go SDK
// union type.
func buildOpenAIMessages(msgs []providers.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case providers.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case providers.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case providers.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case providers.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// applyOpenAIParams applies all optional Request fields to the SDK
// params struct.
func applyOpenAIParams(params *openai.ChatCompletionNewParams, req providers.Request) {
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.N != nil {
		params.N = openai.Int(int64(*req.N))
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*req.FrequencyPenalty)
	}
	if req.User != "" {
		params.User = openai.String(req.User)
	}
	if req.LogProbs {
		params.Logprobs = openai.Bool(true)
	}
	if req.TopLogProbs != nil {
		params.TopLogprobs = openai.Int(int64(*req.TopLogProbs))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var paramSchema openai.FunctionParameters
			if len(t.Function.Parameters) > 0 {
				_ = json.Unmarshal(t.Function.Parameters, &paramSchema)
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Function.Name,
					Description: openai.String(t.Function.Description),
					Parameters:  paramSchema,
					Strict:      openai.Bool(t.Function.Strict),
				},
			})
		}
		params.Tools = tools
	}
}

// chatCompletionToResponse maps an openai-go ChatCompletion onto the
// family-agnostic providers.Response shape the transformer stage expects.
func chatCompletionToResponse(completion *openai.ChatCompletion) *providers.Response {
	resp := &providers.Response{
		ID:    completion.ID,
		Model: completion.Model,
		Usage: providers.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
			ReasoningTokens:  int(completion.Usage.CompletionTokensDetails.ReasoningTokens),
			CacheReadTokens:  int(completion.Usage.PromptTokensDetails.CachedTokens),
		},
	}
	for i, choice := range completion.Choices {
		msg := providers.Message{
			Role:    string(choice.Message.Role),
			Content: choice.Message.Content,
		}
		for _, tc := range choice.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: providers.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		resp.Choices = append(resp.Choices, providers.Choice{
			Index:        i,
			Message:      msg,
			FinishReason: string(choice.FinishReason),
		})
	}
	return resp
}
