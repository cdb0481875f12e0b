package preprocessor

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// NewToolUseID synthesizes a fresh tool-call id in the
// `toolu_<timestamp>_<random>` form (§4.5 "Text-embedded tool-call
// reshaping" step 2).
func NewToolUseID(now time.Time) string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("toolu_%d_%s", now.UnixNano(), hex.EncodeToString(b[:]))
}

// ReshapedCall is a synthesized structured tool-call ready to be spliced
// into the family-appropriate response shape.
type ReshapedCall struct {
	ID       string
	Name     string
	ArgsJSON string
}

// Reshape parses hit's JSON argument blob and synthesizes a structured
// tool-call block, returning an error if the blob is not valid JSON —
// a malformed embedded call is a TransformError, never a silent drop
// (§4.4.1).
func Reshape(hit Hit, now time.Time) (ReshapedCall, error) {
	if !gjson.Valid(hit.ArgsJSON) {
		return ReshapedCall{}, fmt.Errorf("text-embedded tool-call argument blob is not valid JSON: %q", hit.ArgsJSON)
	}
	return ReshapedCall{
		ID:       NewToolUseID(now),
		Name:     hit.Name,
		ArgsJSON: hit.ArgsJSON,
	}, nil
}

// RemoveSpan removes the matched literal span [start:end) from text,
// leaving surrounding text intact (§4.5 step 3).
func RemoveSpan(text string, start, end int) string {
	if start < 0 || end > len(text) || start >= end {
		return text
	}
	return text[:start] + text[end:]
}

// PatchOpenAIToolCalls rewrites a raw OpenAI-family choice JSON object,
// injecting a tool_calls array built from reshaped and forcing
// finish_reason=tool_calls, using gjson/sjson for targeted JSON surgery
// instead of a full struct round-trip — the kind of partial-document
// patch gjson/sjson exist for.
func PatchOpenAIToolCalls(choiceJSON string, reshaped ReshapedCall) (string, error) {
	out, err := sjson.Set(choiceJSON, "message.tool_calls.-1", map[string]any{
		"id":   reshaped.ID,
		"type": "function",
		"function": map[string]any{
			"name":      reshaped.Name,
			"arguments": reshaped.ArgsJSON,
		},
	})
	if err != nil {
		return "", err
	}
	out, err = sjson.Set(out, "finish_reason", ToolCallTerminationValue(FamilyOpenAI))
	if err != nil {
		return "", err
	}
	return out, nil
}

// PatchAnthropicToolUse appends a tool_use content block to a raw
// Anthropic-family response JSON and forces stop_reason=tool_use.
func PatchAnthropicToolUse(respJSON string, reshaped ReshapedCall) (string, error) {
	var args any
	if reshaped.ArgsJSON != "" {
		args = gjson.Parse(reshaped.ArgsJSON).Value()
	}
	out, err := sjson.Set(respJSON, "content.-1", map[string]any{
		"type":  "tool_use",
		"id":    reshaped.ID,
		"name":  reshaped.Name,
		"input": args,
	})
	if err != nil {
		return "", err
	}
	out, err = sjson.Set(out, "stop_reason", ToolCallTerminationValue(FamilyAnthropic))
	if err != nil {
		return "", err
	}
	return out, nil
}

// PatchGeminiFunctionCall rewrites a raw Gemini-family candidate JSON,
// appending a functionCall part and forcing finishReason=FUNCTION_CALL.
func PatchGeminiFunctionCall(candidateJSON string, reshaped ReshapedCall) (string, error) {
	var args any
	if reshaped.ArgsJSON != "" {
		args = gjson.Parse(reshaped.ArgsJSON).Value()
	}
	out, err := sjson.Set(candidateJSON, "content.parts.-1.functionCall", map[string]any{
		"name": reshaped.Name,
		"args": args,
	})
	if err != nil {
		return "", err
	}
	out, err = sjson.Set(out, "finishReason", ToolCallTerminationValue(FamilyGemini))
	if err != nil {
		return "", err
	}
	return out, nil
}
