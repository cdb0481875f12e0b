package pipeline

import (
	"context"
	"io"
	"net/http"
)

// StreamOpener is implemented by a Server stage that can open a raw
// streaming upstream body instead of buffering the full response body,
// used whenever WireRequest.Stream is set. The caller owns closing body.
type StreamOpener interface {
	OpenStream(ctx context.Context, req WireRequest) (body io.ReadCloser, headers http.Header, statusCode int, err error)
}

// StreamDecoder is implemented by a Protocol stage that knows how to turn
// one raw upstream SSE data line into a family-schema stream chunk. done
// is true on the upstream's terminal sentinel (e.g. OpenAI's "[DONE]"),
// in which case chunk is nil.
type StreamDecoder interface {
	DecodeStreamChunk(line []byte) (chunk any, done bool, err error)
}

// StreamEvent is one client-schema SSE frame a Transformer's
// StreamTranslator emits for a single upstream chunk. Defined here
// (rather than imported from clientschema) so the base pipeline package
// doesn't need a dependency on the client-facing wire schema; Gateway
// converts Payload back to clientschema.StreamEvent, which is always the
// concrete type a StreamTranslator actually produces.
type StreamEvent struct {
	Payload any
	IsFinal bool
}

// StreamTranslator is implemented by a Transformer stage that can turn a
// family-schema stream chunk into zero or more client-schema events. Impl
// owns whatever rolling state it needs (open content-block index,
// accumulated text for tool-call detection) across NewStreamTranslation's
// lifetime; a fresh StreamTranslation is created per streamed reply.
type StreamTranslator interface {
	NewStreamTranslation(replyID, model string) StreamTranslation
}

// StreamTranslation is the per-reply state object returned by
// StreamTranslator.NewStreamTranslation; Translate is called once per
// decoded chunk, in order.
type StreamTranslation interface {
	// Translate converts one family-schema chunk (the value DecodeStreamChunk
	// produced) into zero or more StreamEvents.
	Translate(chunk any) ([]StreamEvent, error)
}
