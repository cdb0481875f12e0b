package protocol

import (
	"testing"

	"github.com/protorelay/gateway/providers"
	"github.com/protorelay/gateway/registry"
)

func TestOpenAI_DecodeStreamChunk_ParsesDelta(t *testing.T) {
	p := NewOpenAI(registry.Binding{})
	line := []byte(`{"id":"chatcmpl-1","model":"gpt-4o","created":1700000000,"choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}`)

	chunk, done, err := p.DecodeStreamChunk(line)
	if err != nil {
		t.Fatalf("DecodeStreamChunk: %v", err)
	}
	if done {
		t.Fatal("expected done=false for a data chunk")
	}
	sc, ok := chunk.(providers.StreamChunk)
	if !ok {
		t.Fatalf("got %T, want providers.StreamChunk", chunk)
	}
	if sc.ID != "chatcmpl-1" || sc.Model != "gpt-4o" {
		t.Errorf("got id/model %q/%q, want chatcmpl-1/gpt-4o", sc.ID, sc.Model)
	}
	if len(sc.Choices) != 1 || sc.Choices[0].Delta.Content != "hi" {
		t.Fatalf("got choices %+v, want one choice with delta content %q", sc.Choices, "hi")
	}
}

func TestOpenAI_DecodeStreamChunk_DoneSentinel(t *testing.T) {
	p := NewOpenAI(registry.Binding{})
	_, done, err := p.DecodeStreamChunk([]byte("[DONE]"))
	if err != nil {
		t.Fatalf("DecodeStreamChunk: %v", err)
	}
	if !done {
		t.Error("expected done=true for the [DONE] sentinel")
	}
}

func TestOpenAI_DecodeStreamChunk_EmptyLineIgnored(t *testing.T) {
	p := NewOpenAI(registry.Binding{})
	chunk, done, err := p.DecodeStreamChunk([]byte("   "))
	if err != nil {
		t.Fatalf("DecodeStreamChunk: %v", err)
	}
	if done || chunk != nil {
		t.Errorf("got chunk=%v done=%v, want nil/false for a blank line", chunk, done)
	}
}

func TestOpenAI_DecodeStreamChunk_InvalidJSON(t *testing.T) {
	p := NewOpenAI(registry.Binding{})
	if _, _, err := p.DecodeStreamChunk([]byte("{not json")); err == nil {
		t.Error("expected an error for malformed chunk JSON")
	}
}
