package transformer

import (
	"context"
	"encoding/json"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/relayerr"
)

// CodeWhispererRequest mirrors the GenerateAssistantResponse conversation
// state shape used by AWS CodeWhisperer/Q Developer (adapted by analogy
// from providers/bedrock.go's bedrockAnthropicRequest — CodeWhisperer
// wraps a Claude-like turn sequence in its own conversationState
// envelope rather than Bedrock's flat messages array).
type CodeWhispererRequest struct {
	ConversationState CWConversationState `json:"conversationState"`
}

// CWConversationState carries the current turn plus prior history.
type CWConversationState struct {
	ChatTriggerType string      `json:"chatTriggerType"`
	ConversationID  string      `json:"conversationId"`
	CurrentMessage  CWMessage   `json:"currentMessage"`
	History         []CWMessage `json:"history,omitempty"`
}

// CWMessage is one user or assistant turn.
type CWMessage struct {
	UserInputMessage      *CWUserInputMessage      `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *CWAssistantMessage   `json:"assistantResponseMessage,omitempty"`
}

// CWUserInputMessage carries the user content plus any tool results.
type CWUserInputMessage struct {
	Content      string        `json:"content"`
	UserInputMessageContext CWContext `json:"userInputMessageContext,omitempty"`
}

// CWContext carries tool results and declared tool specs for a turn.
type CWContext struct {
	ToolResults []CWToolResult `json:"toolResults,omitempty"`
	Tools       []CWTool       `json:"tools,omitempty"`
}

// CWToolResult links a tool invocation's output back by id.
type CWToolResult struct {
	ToolUseID string `json:"toolUseId"`
	Content   []CWToolResultContent `json:"content"`
	Status    string `json:"status"`
}

// CWToolResultContent is one text span of a tool result.
type CWToolResultContent struct {
	Text string `json:"text"`
}

// CWTool declares a callable tool.
type CWTool struct {
	ToolSpecification CWToolSpec `json:"toolSpecification"`
}

// CWToolSpec is the tool's name, description, and input schema.
type CWToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema CWInputSchema  `json:"inputSchema"`
}

// CWInputSchema wraps the raw JSON Schema document.
type CWInputSchema struct {
	JSON any `json:"json"`
}

// CWAssistantMessage is an assistant turn, optionally carrying tool uses.
type CWAssistantMessage struct {
	Content  string      `json:"content"`
	ToolUses []CWToolUse `json:"toolUses,omitempty"`
}

// CWToolUse is a single assistant-issued tool invocation.
type CWToolUse struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
}

// CodeWhispererResponse mirrors the assembled GenerateAssistantResponse
// result. The response body is parsed as one JSON document; Server and
// ServerCompat do not decode event-stream framing.
type CodeWhispererResponse struct {
	AssistantResponseMessage CWAssistantMessage `json:"assistantResponseMessage"`
	StopReason               string             `json:"stopReason"`
}

// CodeWhispererFamily implements pipeline.Stage for the CodeWhisperer
// conversation-state wire schema.
type CodeWhispererFamily struct {
	conversationID string
}

// NewCodeWhispererFamily returns a ready-to-Init transformer stage bound
// to a fixed conversation id, since CodeWhisperer requires one per
// session rather than per request.
func NewCodeWhispererFamily(conversationID string) *CodeWhispererFamily {
	return &CodeWhispererFamily{conversationID: conversationID}
}

func (t *CodeWhispererFamily) Init(ctx context.Context, opts map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{Name: "transformer:codewhisperer", Streaming: true}, nil
}

func (t *CodeWhispererFamily) Connect(ctx context.Context) error    { return nil }
func (t *CodeWhispererFamily) Disconnect(ctx context.Context) error { return nil }
func (t *CodeWhispererFamily) Destroy(ctx context.Context) error    { return nil }

func (t *CodeWhispererFamily) ValidateInput(ctx context.Context, in any) error {
	req, ok := in.(*clientschema.Request)
	if !ok {
		return relayerr.New(relayerr.KindTransformError, "transformer: unexpected input type")
	}
	if err := req.Validate(); err != nil {
		return relayerr.Wrap(relayerr.KindBadRequest, err, "client request failed validation")
	}
	return ValidateToolSchemas(req.Tools)
}

func (t *CodeWhispererFamily) ValidateOutput(ctx context.Context, out any) error {
	if _, ok := out.(*clientschema.Reply); !ok {
		return relayerr.New(relayerr.KindTransformError, "transformer: unexpected output type")
	}
	return nil
}

// ProcessRequest converts a clientschema.Request into a
// CodeWhispererRequest: the last user turn becomes currentMessage, every
// prior turn becomes history, and tool_result blocks are attached to the
// current user turn's context per CodeWhisperer's tool-use linkage.
func (t *CodeWhispererFamily) ProcessRequest(ctx context.Context, in any) (any, error) {
	req, ok := in.(*clientschema.Request)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: unexpected input type")
	}
	if len(req.Messages) == 0 {
		return nil, relayerr.New(relayerr.KindBadRequest, "request carries no messages")
	}

	var history []CWMessage
	for _, m := range req.Messages[:len(req.Messages)-1] {
		history = append(history, convertCWMessage(m))
	}

	last := req.Messages[len(req.Messages)-1]
	current := convertCWMessage(last)
	if current.UserInputMessage == nil {
		current.UserInputMessage = &CWUserInputMessage{}
	}
	for _, td := range req.Tools {
		current.UserInputMessage.UserInputMessageContext.Tools = append(
			current.UserInputMessage.UserInputMessageContext.Tools,
			CWTool{ToolSpecification: CWToolSpec{Name: td.Name, Description: td.Description, InputSchema: CWInputSchema{JSON: rawJSONToAny(td.InputSchema)}}},
		)
	}

	famReq := CodeWhispererRequest{ConversationState: CWConversationState{
		ChatTriggerType: "MANUAL",
		ConversationID:  t.conversationID,
		CurrentMessage:  current,
		History:         history,
	}}
	return pipeline.FamilyRequest{Family: "codewhisperer", Model: req.Model, Payload: famReq}, nil
}

func convertCWMessage(m clientschema.Message) CWMessage {
	if m.Role == clientschema.RoleAssistant {
		var content string
		var toolUses []CWToolUse
		for _, blk := range m.Blocks {
			switch blk.Type {
			case clientschema.BlockText:
				content += blk.Text
			case clientschema.BlockToolUse:
				toolUses = append(toolUses, CWToolUse{ToolUseID: blk.ToolUseID, Name: blk.ToolName, Input: rawJSONToAny(blk.ToolInput)})
			}
		}
		return CWMessage{AssistantResponseMessage: &CWAssistantMessage{Content: content, ToolUses: toolUses}}
	}

	var content string
	var results []CWToolResult
	for _, blk := range m.Blocks {
		switch blk.Type {
		case clientschema.BlockText:
			content += blk.Text
		case clientschema.BlockToolResult:
			results = append(results, CWToolResult{
				ToolUseID: blk.ToolUseRefID,
				Content:   []CWToolResultContent{{Text: blk.ToolContent}},
				Status:    toolResultStatus(blk.IsError),
			})
		}
	}
	return CWMessage{UserInputMessage: &CWUserInputMessage{
		Content:                 content,
		UserInputMessageContext: CWContext{ToolResults: results},
	}}
}

func toolResultStatus(isError bool) string {
	if isError {
		return "error"
	}
	return "success"
}

func rawJSONToAny(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return rawMessageString(raw)
}

// rawMessageString is a thin marker type so json.Marshal re-emits the
// already-valid schema bytes verbatim instead of double-encoding them.
type rawMessageString []byte

func (r rawMessageString) MarshalJSON() ([]byte, error) { return r, nil }

func marshalAny(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// ProcessResponse converts an assembled CodeWhispererResponse into a
// clientschema.Reply.
func (t *CodeWhispererFamily) ProcessResponse(ctx context.Context, in any) (any, error) {
	fr, ok := in.(pipeline.FamilyResponse)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: unexpected response input type")
	}
	resp, ok := fr.Payload.(*CodeWhispererResponse)
	if !ok || resp == nil {
		return nil, relayerr.New(relayerr.KindTransformError, "transformer: expected *CodeWhispererResponse payload")
	}

	var blocks []clientschema.ContentBlock
	if resp.AssistantResponseMessage.Content != "" {
		blocks = append(blocks, clientschema.ContentBlock{Type: clientschema.BlockText, Text: resp.AssistantResponseMessage.Content})
	}
	for _, tu := range resp.AssistantResponseMessage.ToolUses {
		blocks = append(blocks, clientschema.ContentBlock{
			Type:      clientschema.BlockToolUse,
			ToolUseID: tu.ToolUseID,
			ToolName:  tu.Name,
			ToolInput: marshalAny(tu.Input),
		})
	}
	if len(blocks) == 0 {
		return nil, relayerr.New(relayerr.KindEmptyResponse, "codewhisperer-family reply carries no content")
	}

	stop := clientschema.StopEndTurn
	if len(resp.AssistantResponseMessage.ToolUses) > 0 {
		stop = clientschema.StopToolUse
	}
	return &clientschema.Reply{
		Role:       clientschema.RoleAssistant,
		Blocks:     blocks,
		StopReason: stop,
	}, nil
}
