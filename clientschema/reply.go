package clientschema

// StopReason is the closed set of termination reasons on the client
// schema reply. The preprocessor normalizes every provider family's
// native termination field into this vocabulary before the reply
// crosses back over the client boundary.
type StopReason string

// Client-schema stop reasons.
const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
)

// Usage carries token consumption for a reply.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Reply is the canonical, complete (non-streamed) reply form leaving the
// pipeline back toward the client.
type Reply struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Role       Role           `json:"role"`
	Blocks     []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// StreamEventType is the closed set of SSE event kinds emitted on the
// client schema's streaming surface.
type StreamEventType string

// Client-schema stream event kinds.
const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
)

// StreamEvent is one frame of a streamed reply. IsFinal marks the frame
// that carries the (possibly corrected) stop reason — the only point at
// which text-embedded tool-call reshaping is applied mid-stream (§9 open
// question, resolved: final-chunk only).
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Index      int             `json:"index,omitempty"`
	Block      *ContentBlock   `json:"content_block,omitempty"`
	DeltaText  string          `json:"delta_text,omitempty"`
	StopReason StopReason      `json:"stop_reason,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
	IsFinal    bool            `json:"-"`
	Err        error           `json:"-"`
}
