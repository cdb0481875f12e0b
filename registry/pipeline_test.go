package registry

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/internal/circuitbreaker"
	"github.com/protorelay/gateway/pipeline"
)

// passthroughStage is a minimal pipeline.Stage that forwards its input
// unchanged in both directions; tests embed it and override only the
// method(s) that matter.
type passthroughStage struct{}

func (passthroughStage) Init(context.Context, map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{}, nil
}
func (passthroughStage) Connect(context.Context) error              { return nil }
func (passthroughStage) Disconnect(context.Context) error           { return nil }
func (passthroughStage) Destroy(context.Context) error               { return nil }
func (passthroughStage) ValidateInput(context.Context, any) error   { return nil }
func (passthroughStage) ValidateOutput(context.Context, any) error  { return nil }
func (passthroughStage) ProcessRequest(_ context.Context, in any) (any, error)  { return in, nil }
func (passthroughStage) ProcessResponse(_ context.Context, in any) (any, error) { return in, nil }

// fakeStreamServer implements pipeline.Stage + pipeline.StreamOpener,
// opening an in-memory SSE body built from lines instead of a real
// network call.
type fakeStreamServer struct {
	passthroughStage
	lines []string
}

func (s *fakeStreamServer) OpenStream(ctx context.Context, req pipeline.WireRequest) (io.ReadCloser, http.Header, int, error) {
	return io.NopCloser(strings.NewReader(strings.Join(s.lines, "\n") + "\n")), nil, 200, nil
}

// fakeStreamProtocol implements pipeline.Stage + pipeline.StreamDecoder:
// each line is itself the chunk payload (a bare string), "[DONE]" ends
// the stream.
type fakeStreamProtocol struct {
	passthroughStage
}

// ProcessRequest stands in for a real Protocol stage's job of producing
// the pipeline.WireRequest the Server stage's StreamOpener consumes.
func (fakeStreamProtocol) ProcessRequest(context.Context, any) (any, error) {
	return pipeline.WireRequest{Method: "POST", URL: "http://upstream.invalid/v1/chat/completions"}, nil
}

func (fakeStreamProtocol) DecodeStreamChunk(line []byte) (any, bool, error) {
	if string(line) == "[DONE]" {
		return nil, true, nil
	}
	if len(line) == 0 {
		return nil, false, nil
	}
	return string(line), false, nil
}

// fakeStreamTransformer implements pipeline.Stage + pipeline.StreamTranslator,
// echoing each chunk string back as a single content_block_delta event and
// marking the literal "END" chunk as final.
type fakeStreamTransformer struct {
	passthroughStage
}

func (fakeStreamTransformer) NewStreamTranslation(replyID, model string) pipeline.StreamTranslation {
	return &fakeStreamTranslation{}
}

type fakeStreamTranslation struct{}

func (fakeStreamTranslation) Translate(chunk any) ([]pipeline.StreamEvent, error) {
	text := chunk.(string)
	if text == "END" {
		return []pipeline.StreamEvent{{
			Payload: &clientschema.StreamEvent{Type: clientschema.EventMessageStop},
			IsFinal: true,
		}}, nil
	}
	return []pipeline.StreamEvent{{
		Payload: &clientschema.StreamEvent{Type: clientschema.EventContentBlockDelta, DeltaText: text},
	}}, nil
}

func newTestCB(t *testing.T) *circuitbreaker.CircuitBreaker {
	t.Helper()
	return circuitbreaker.New("mock", 100, 1, time.Second)
}

func TestPipeline_RunStream_IncrementalChain(t *testing.T) {
	chain := StageChain{
		Transformer:  &fakeStreamTransformer{},
		Protocol:     &fakeStreamProtocol{},
		ServerCompat: &passthroughStage{},
		Server:       &fakeStreamServer{lines: []string{"data: he", "data: llo", "data: END", "data: [DONE]"}},
	}
	p := NewPipeline(Binding{ID: "mock"}, chain, newTestCB(t), RetryPolicy{})
	p.transition(StateRunning)

	var got []string
	var sawFinal bool
	err := p.RunStream(context.Background(), "req-1", &clientschema.Request{}, func(ev pipeline.StreamEvent) error {
		cev := ev.Payload.(*clientschema.StreamEvent)
		if cev.DeltaText != "" {
			got = append(got, cev.DeltaText)
		}
		if ev.IsFinal {
			sawFinal = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	if strings.Join(got, "") != "hello" {
		t.Errorf("got deltas %v, want [he llo] joining to hello", got)
	}
	if !sawFinal {
		t.Error("expected the END chunk's event to be marked IsFinal")
	}
}

func TestPipeline_RunStream_FallsBackWhenChainLacksStreamingCapability(t *testing.T) {
	reply := &clientschema.Reply{
		ID:         "r1",
		Model:      "gpt-4o",
		StopReason: clientschema.StopEndTurn,
		Blocks:     []clientschema.ContentBlock{{Type: clientschema.BlockText, Text: "hi"}},
	}
	chain := StageChain{
		Transformer:  passthroughStage{},
		Protocol:     passthroughStage{},
		ServerCompat: passthroughStage{},
		// Server hands the reply straight back on ProcessRequest rather than
		// building/transporting a real WireRequest, so the pass-through
		// stages above it unwind it unchanged — simulating a chain whose
		// Server stage has no streaming capability.
		Server: &fakeNonStreamingServer{reply: reply},
	}
	p := NewPipeline(Binding{ID: "mock"}, chain, newTestCB(t), RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	p.transition(StateRunning)

	var events []clientschema.StreamEventType
	err := p.RunStream(context.Background(), "req-1", reply, func(ev pipeline.StreamEvent) error {
		events = append(events, ev.Payload.(*clientschema.StreamEvent).Type)
		return nil
	})
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	if len(events) == 0 || events[0] != clientschema.EventMessageStart {
		t.Fatalf("got %v, want first event message_start", events)
	}
	if events[len(events)-1] != clientschema.EventMessageStop {
		t.Errorf("got last event %v, want message_stop", events[len(events)-1])
	}
}

// fakeNonStreamingServer implements only pipeline.Stage (no StreamOpener),
// short-circuiting ProcessRequest to hand back reply directly so Run's
// normal forward/reverse walk has something to unwind.
type fakeNonStreamingServer struct {
	passthroughStage
	reply *clientschema.Reply
}

func (s *fakeNonStreamingServer) ProcessRequest(context.Context, any) (any, error) {
	return s.reply, nil
}
