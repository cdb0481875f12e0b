package transformer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/preprocessor"
	"github.com/protorelay/gateway/relayerr"
)

// GeminiRequest mirrors the Gemini generateContent request body (grounded
// on providers/gemini.go's unexported geminiRequest, re-exported here
// since the family schema lives in this package rather than providers).
type GeminiRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools            []GeminiTool            `json:"tools,omitempty"`
}

// GeminiContent is one turn of a Gemini conversation.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart is a single content part: text, a function call, or a
// function response.
type GeminiPart struct {
	Text             string                `json:"text,omitempty"`
	FunctionCall     *GeminiFunctionCall   `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResult `json:"functionResponse,omitempty"`
}

// GeminiFunctionCall is a model-issued tool call.
type GeminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// GeminiFunctionResult carries a tool_result back to Gemini.
type GeminiFunctionResult struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

// GeminiGenerationConfig holds sampling parameters.
type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GeminiTool declares a function-calling tool.
type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

// GeminiFunctionDeclaration is one callable function.
type GeminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// GeminiResponse mirrors the Gemini generateContent response body.
type GeminiResponse struct {
	Candidates []GeminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// GeminiCandidate is a single completion candidate.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// GeminiFamily implements pipeline.Stage for the Gemini-family wire
// schema (grounded on providers/gemini.go's convertMessagesToGemini /
// mapGeminiFinishReason helpers, generalized here to carry tool calls).
type GeminiFamily struct{}

// NewGeminiFamily returns a ready-to-Init transformer stage.
func NewGeminiFamily() *GeminiFamily { return &GeminiFamily{} }

func (t *GeminiFamily) Init(ctx context.Context, opts map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{Name: "transformer:gemini", Streaming: true}, nil
}

func (t *GeminiFamily) Connect(ctx context.Context) error    { return nil }
func (t *GeminiFamily) Disconnect(ctx context.Context) error { return nil }
func (t *GeminiFamily) Destroy(ctx context.Context) error    { return nil }

func (t *GeminiFamily) ValidateInput(ctx context.Context, in any) error {
	req, ok := in.(*clientschema.Request)
	if !ok {
		return relayerr.New(relayerr.KindTransformError, "transformer: unexpected input type")
	}
	if err := req.Validate(); err != nil {
		return relayerr.Wrap(relayerr.KindBadRequest, err, "client request failed validation")
	}
	return ValidateToolSchemas(req.Tools)
}

func (t *GeminiFamily) ValidateOutput(ctx context.Context, out any) error {
	if _, ok := out.(*clientschema.Reply); !ok {
		return relayerr.New(relayerr.KindTransformError, "transformer: unexpected output type")
	}
	return nil
}

// ProcessRequest converts a clientschema.Request into a GeminiRequest.
// System messages become systemInstruction; assistant maps to "model";
// tool_result blocks become functionResponse parts keyed by tool name
// (Gemini links results by name, not by id, unlike OpenAI/Anthropic).
func (t *GeminiFamily) ProcessRequest(ctx context.Context, in any) (any, error) {
	req, ok := in.(*clientschema.Request)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: unexpected input type")
	}

	toolNameByUseID := map[string]string{}
	for _, m := range req.Messages {
		for _, blk := range m.Blocks {
			if blk.Type == clientschema.BlockToolUse {
				toolNameByUseID[blk.ToolUseID] = blk.ToolName
			}
		}
	}

	var contents []GeminiContent
	for _, m := range req.Messages {
		if m.Role == clientschema.RoleTool {
			for _, blk := range m.Blocks {
				if blk.Type != clientschema.BlockToolResult {
					continue
				}
				name := toolNameByUseID[blk.ToolUseRefID]
				contents = append(contents, GeminiContent{
					Role: "function",
					Parts: []GeminiPart{{
						FunctionResponse: &GeminiFunctionResult{
							Name:     name,
							Response: json.RawMessage(`{"content":` + jsonQuote(blk.ToolContent) + `}`),
						},
					}},
				})
			}
			continue
		}

		role := string(m.Role)
		if role == string(clientschema.RoleAssistant) {
			role = "model"
		}
		var parts []GeminiPart
		for _, blk := range m.Blocks {
			switch blk.Type {
			case clientschema.BlockText:
				parts = append(parts, GeminiPart{Text: blk.Text})
			case clientschema.BlockToolUse:
				parts = append(parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: blk.ToolName, Args: blk.ToolInput}})
			case clientschema.BlockImage:
				// Gemini inline_data image parts are a supplemented feature
				// not yet wired to a concrete upstream call path.
			}
		}
		if len(parts) > 0 {
			contents = append(contents, GeminiContent{Role: role, Parts: parts})
		}
	}

	famReq := GeminiRequest{Contents: contents}
	if req.System != "" {
		famReq.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: req.System}}}
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		famReq.GenerationConfig = &GeminiGenerationConfig{Temperature: req.Temperature, MaxOutputTokens: &maxTokens}
	}
	for _, td := range req.Tools {
		famReq.Tools = append(famReq.Tools, GeminiTool{FunctionDeclarations: []GeminiFunctionDeclaration{{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  td.InputSchema,
		}}})
	}

	return pipeline.FamilyRequest{Family: "gemini", Model: req.Model, Payload: famReq}, nil
}

// ProcessResponse converts a GeminiResponse into a clientschema.Reply.
func (t *GeminiFamily) ProcessResponse(ctx context.Context, in any) (any, error) {
	fr, ok := in.(pipeline.FamilyResponse)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: unexpected response input type")
	}
	resp, ok := fr.Payload.(*GeminiResponse)
	if !ok || resp == nil {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: expected *GeminiResponse payload")
	}
	if len(resp.Candidates) == 0 {
		return nil, relayerr.New(relayerr.KindEmptyResponse, "gemini-family reply carries no candidates")
	}
	candidate := resp.Candidates[0]

	var blocks []clientschema.ContentBlock
	for _, part := range candidate.Content.Parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, clientschema.ContentBlock{Type: clientschema.BlockText, Text: part.Text})
		case part.FunctionCall != nil:
			blocks = append(blocks, clientschema.ContentBlock{
				Type:      clientschema.BlockToolUse,
				ToolUseID: preprocessor.NewToolUseID(time.Now()),
				ToolName:  part.FunctionCall.Name,
				ToolInput: part.FunctionCall.Args,
			})
		}
	}

	return &clientschema.Reply{
		Model:      fr.Family,
		Role:       clientschema.RoleAssistant,
		Blocks:     blocks,
		StopReason: mapGeminiFinishReasonToStop(candidate.FinishReason),
		Usage: clientschema.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func mapGeminiFinishReasonToStop(r string) clientschema.StopReason {
	switch r {
	case "STOP":
		return clientschema.StopEndTurn
	case "MAX_TOKENS":
		return clientschema.StopMaxTokens
	default:
		return clientschema.StopEndTurn
	}
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
