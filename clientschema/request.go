// Package clientschema defines the canonical request/reply shape accepted
// at the proxy boundary — the Anthropic Messages v1 wire format. Every
// stage's client-facing side speaks this schema; no invented fields are
// added to it (§6 "Wire compatibility").
package clientschema

import (
	"encoding/json"
	"fmt"
)

// Role is the closed set of message roles accepted on the client schema.
type Role string

// The roles a ClientRequest message may carry.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType is the closed set of content-block kinds within a message.
type BlockType string

// Content-block kinds.
const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// ContentBlock is one element of a message's block-list content.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text is set when Type == BlockText.
	Text string `json:"text,omitempty"`

	// ToolUse fields, set when Type == BlockToolUse.
	ToolUseID   string          `json:"id,omitempty"`
	ToolName    string          `json:"name,omitempty"`
	ToolInput   json.RawMessage `json:"input,omitempty"`

	// ToolResult fields, set when Type == BlockToolResult.
	ToolUseRefID string `json:"tool_use_id,omitempty"`
	ToolContent  string `json:"content,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`

	// Image fields, set when Type == BlockImage.
	ImageSource *ImageSource `json:"source,omitempty"`
}

// ImageSource carries inline base64 image data.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is a single turn. Content may be a plain string or a
// ContentBlock list on the wire; Blocks is always populated after
// decoding (a plain string becomes a single BlockText block).
type Message struct {
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"-"`
}

// MarshalJSON emits Content as a plain string when it is a single text
// block, else as a block array — matching how the Anthropic wire format
// is commonly produced by clients.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	var contentJSON json.RawMessage
	if len(m.Blocks) == 1 && m.Blocks[0].Type == BlockText {
		b, err := json.Marshal(m.Blocks[0].Text)
		if err != nil {
			return nil, err
		}
		contentJSON = b
	} else {
		b, err := json.Marshal(m.Blocks)
		if err != nil {
			return nil, err
		}
		contentJSON = b
	}
	return json.Marshal(wire{Role: m.Role, Content: contentJSON})
}

// UnmarshalJSON accepts both the plain-string and block-array content
// forms.
func (m *Message) UnmarshalJSON(b []byte) error {
	type wire struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	m.Role = w.Role
	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(w.Content, &s); err == nil {
		m.Blocks = []ContentBlock{{Type: BlockText, Text: s}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(w.Content, &blocks); err != nil {
		return fmt.Errorf("decoding message content: %w", err)
	}
	m.Blocks = blocks
	return nil
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is the canonical request form entering the router (§3
// "ClientRequest").
type Request struct {
	ID          string           `json:"-"` // opaque, assigned by the caller
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	System      string           `json:"system,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`

	// Thinking opts into explicit deep-reasoning mode; consulted by the
	// router's classification algorithm (§4.1 step 2).
	Thinking bool `json:"thinking,omitempty"`
}

// Validate checks the invariants from §3: messages nonempty, every
// tool-role message references a prior tool_use id, block sequences
// well-formed.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must be nonempty")
	}
	seen := map[string]bool{}
	for _, msg := range r.Messages {
		for _, blk := range msg.Blocks {
			switch blk.Type {
			case BlockToolUse:
				if blk.ToolUseID == "" {
					return fmt.Errorf("tool_use block missing id")
				}
				seen[blk.ToolUseID] = true
			case BlockToolResult:
				if blk.ToolUseRefID == "" {
					return fmt.Errorf("tool_result block missing tool_use_id")
				}
			case BlockText, BlockImage:
			default:
				return fmt.Errorf("unknown content block type %q", blk.Type)
			}
		}
		if msg.Role == RoleTool {
			hasResult := false
			for _, blk := range msg.Blocks {
				if blk.Type == BlockToolResult {
					hasResult = true
					if !seen[blk.ToolUseRefID] {
						return fmt.Errorf("tool message references unknown tool_use id %q", blk.ToolUseRefID)
					}
				}
			}
			if !hasResult {
				return fmt.Errorf("tool role message carries no tool_result block")
			}
		}
	}
	return nil
}

// HasSearchTool reports whether any declared tool advertises a "search"
// capability — consulted by the router's classification algorithm
// (§4.1 step 4). Only tools named exactly "web_search" or "search"
// count; name prefixes and tool descriptions are not examined.
func (r *Request) HasSearchTool() bool {
	for _, t := range r.Tools {
		if t.Name == "web_search" || t.Name == "search" {
			return true
		}
	}
	return false
}
