package transformer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/preprocessor"
	"github.com/protorelay/gateway/providers"
	"github.com/protorelay/gateway/relayerr"
)

// OpenAIFamily implements pipeline.Stage for the OpenAI-family wire
// schema, reusing providers.Request/providers.Response (the teacher's
// OpenAI-shaped wire types in providers/provider.go) as the family
// schema rather than inventing a parallel set of structs.
type OpenAIFamily struct {
	now func() time.Time
}

// NewOpenAIFamily returns a ready-to-Init transformer stage.
func NewOpenAIFamily() *OpenAIFamily {
	return &OpenAIFamily{now: time.Now}
}

// Init implements pipeline.Stage.
func (t *OpenAIFamily) Init(ctx context.Context, opts map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{Name: "transformer:openai", Streaming: true}, nil
}

// Connect implements pipeline.Stage; the transformer holds no persistent
// resources.
func (t *OpenAIFamily) Connect(ctx context.Context) error { return nil }

// Disconnect implements pipeline.Stage.
func (t *OpenAIFamily) Disconnect(ctx context.Context) error { return nil }

// Destroy implements pipeline.Stage.
func (t *OpenAIFamily) Destroy(ctx context.Context) error { return nil }

// ValidateInput implements pipeline.Stage: confirms the request's
// invariants and that every tool's parameter schema is well-formed.
func (t *OpenAIFamily) ValidateInput(ctx context.Context, in any) error {
	req, ok := in.(*clientschema.Request)
	if !ok {
		return relayerr.New(relayerr.KindTransformError, "transformer: unexpected input type")
	}
	if err := req.Validate(); err != nil {
		return relayerr.Wrap(relayerr.KindBadRequest, err, "client request failed validation")
	}
	return ValidateToolSchemas(req.Tools)
}

// ValidateOutput implements pipeline.Stage: a no-op beyond type checking,
// since clientschema.Reply has no further invariants of its own.
func (t *OpenAIFamily) ValidateOutput(ctx context.Context, out any) error {
	if _, ok := out.(*clientschema.Reply); !ok {
		return relayerr.New(relayerr.KindTransformError, "transformer: unexpected output type")
	}
	return nil
}

// ProcessRequest converts a clientschema.Request into an OpenAI-family
// providers.Request, mapping roles, preserving block sequencing for
// multipart content, and carrying tool definitions and tool_use id
// linkage forward (§4.4.1).
func (t *OpenAIFamily) ProcessRequest(ctx context.Context, in any) (any, error) {
	req, ok := in.(*clientschema.Request)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: unexpected input type")
	}

	var messages []providers.Message
	if req.System != "" {
		messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		converted, err := convertMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted...)
	}

	var tools []providers.Tool
	for _, td := range req.Tools {
		tools = append(tools, providers.Tool{
			Type: "function",
			Function: providers.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.InputSchema,
			},
		})
	}

	maxTokens := req.MaxTokens
	famReq := providers.Request{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: &maxTokens,
		Stream:    req.Stream,
		Tools:     tools,
	}
	if req.Temperature != nil {
		famReq.Temperature = req.Temperature
	}
	return pipeline.FamilyRequest{Family: "openai", Model: req.Model, Payload: famReq}, nil
}

func convertMessage(m clientschema.Message) ([]providers.Message, error) {
	role := string(m.Role)
	var out []providers.Message
	var textParts []string
	var toolCalls []providers.ToolCall

	for _, blk := range m.Blocks {
		switch blk.Type {
		case clientschema.BlockText:
			textParts = append(textParts, blk.Text)
		case clientschema.BlockToolUse:
			toolCalls = append(toolCalls, providers.ToolCall{
				ID:   blk.ToolUseID,
				Type: "function",
				Function: providers.FunctionCall{
					Name:      blk.ToolName,
					Arguments: string(blk.ToolInput),
				},
			})
		case clientschema.BlockToolResult:
			out = append(out, providers.Message{
				Role:       providers.RoleTool,
				Content:    blk.ToolContent,
				ToolCallID: blk.ToolUseRefID,
			})
		case clientschema.BlockImage:
			// OpenAI-family vision input; image blocks are not carried
			// into the converted message.
		default:
			return nil, relayerr.New(relayerr.KindTransformError, fmt.Sprintf("cannot translate content block type %q", blk.Type))
		}
	}

	if len(textParts) > 0 || len(toolCalls) > 0 {
		content := ""
		for i, p := range textParts {
			if i > 0 {
				content += "\n"
			}
			content += p
		}
		out = append([]providers.Message{{Role: role, Content: content, ToolCalls: toolCalls}}, out...)
	}
	return out, nil
}

// ProcessResponse converts a providers.Response (already preprocessed
// for tool-call termination and reshaping by ServerCompat/Protocol) into
// a clientschema.Reply.
func (t *OpenAIFamily) ProcessResponse(ctx context.Context, in any) (any, error) {
	fr, ok := in.(pipeline.FamilyResponse)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: unexpected response input type")
	}
	resp, ok := fr.Payload.(*providers.Response)
	if !ok || resp == nil {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: expected *providers.Response payload")
	}
	if len(resp.Choices) == 0 {
		return nil, relayerr.New(relayerr.KindEmptyResponse, "openai-family reply carries no choices")
	}
	choice := resp.Choices[0]

	var blocks []clientschema.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, clientschema.ContentBlock{Type: clientschema.BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, clientschema.ContentBlock{
			Type:      clientschema.BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: json.RawMessage(tc.Function.Arguments),
		})
	}

	return &clientschema.Reply{
		ID:         resp.ID,
		Model:      resp.Model,
		Role:       clientschema.RoleAssistant,
		Blocks:     blocks,
		StopReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage: clientschema.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// NewStreamTranslation implements pipeline.StreamTranslator: each
// streamed reply gets its own openAIStreamTranslation so rolling state
// (content-block bookkeeping, tool-intent detection) never leaks across
// replies sharing the stage.
func (t *OpenAIFamily) NewStreamTranslation(replyID, model string) pipeline.StreamTranslation {
	return &openAIStreamTranslation{replyID: replyID, model: model}
}

// openAIStreamTranslation tracks the one open content block (text or tool
// use) of the first choice across a stream, and defers termination-field
// correction to the final chunk (§9 open question, resolved: final-chunk
// only), matching preprocessor.StreamState.Finalize's contract.
type openAIStreamTranslation struct {
	replyID     string
	model       string
	started     bool
	blockOpen   bool
	blockIsTool bool
	state       preprocessor.StreamState
}

// Translate implements pipeline.StreamTranslation for an OpenAI-family
// providers.StreamChunk.
func (s *openAIStreamTranslation) Translate(chunk any) ([]pipeline.StreamEvent, error) {
	sc, ok := chunk.(providers.StreamChunk)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "stream transformer: expected providers.StreamChunk")
	}

	var out []pipeline.StreamEvent
	if !s.started {
		s.started = true
		out = append(out, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
			Type: clientschema.EventMessageStart,
		}})
	}

	if len(sc.Choices) == 0 {
		return out, nil
	}
	choice := sc.Choices[0]

	if choice.Delta.Content != "" {
		s.state.Append([]byte(choice.Delta.Content))
		if !s.blockOpen {
			s.blockOpen = true
			out = append(out, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
				Type:  clientschema.EventContentBlockStart,
				Index: choice.Index,
				Block: &clientschema.ContentBlock{Type: clientschema.BlockText},
			}})
		}
		out = append(out, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
			Type:      clientschema.EventContentBlockDelta,
			Index:     choice.Index,
			DeltaText: choice.Delta.Content,
		}})
	}

	for _, tc := range choice.Delta.ToolCalls {
		s.blockIsTool = true
		out = append(out, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
			Type:  clientschema.EventContentBlockStart,
			Index: choice.Index,
			Block: &clientschema.ContentBlock{
				Type:      clientschema.BlockToolUse,
				ToolUseID: tc.ID,
				ToolName:  tc.Function.Name,
				ToolInput: json.RawMessage(tc.Function.Arguments),
			},
		}})
	}

	if choice.FinishReason == "" {
		return out, nil
	}

	if s.blockOpen || s.blockIsTool {
		out = append(out, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
			Type:  clientschema.EventContentBlockStop,
			Index: choice.Index,
		}})
	}

	stopReason := mapOpenAIFinishReason(choice.FinishReason)
	if _, _, rewrite := s.state.Finalize(preprocessor.FamilyOpenAI, false); rewrite {
		stopReason = clientschema.StopToolUse
	}

	out = append(out, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
		Type:       clientschema.EventMessageDelta,
		StopReason: stopReason,
	}})
	out = append(out, pipeline.StreamEvent{
		Payload: &clientschema.StreamEvent{Type: clientschema.EventMessageStop},
		IsFinal: true,
	})
	return out, nil
}

func mapOpenAIFinishReason(r string) clientschema.StopReason {
	switch r {
	case "tool_calls":
		return clientschema.StopToolUse
	case "length":
		return clientschema.StopMaxTokens
	case "stop":
		return clientschema.StopEndTurn
	default:
		return clientschema.StopEndTurn
	}
}
