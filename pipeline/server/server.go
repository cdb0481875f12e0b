// Package server implements the Server stage (§4.4.4): the actual
// network call to the upstream provider, grounded on the teacher's
// net/http usage in cmd/ferrogw/proxy.go (auth header injection plus a
// forwarded round trip) generalized into a typed WireRequest/WireResponse
// exchange instead of a raw reverse proxy.
package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/relayerr"
)

// HTTP implements pipeline.Stage (and pipeline.HealthProber) for any
// provider kind reachable over a plain HTTP/JSON call: OpenAI, Gemini,
// local-OpenAI-compat, and the assembled (non-streaming) CodeWhisperer
// call path.
type HTTP struct {
	client      *http.Client
	healthURL   string
	healthModel string
}

// New returns a Server stage with a client timeout bounding every call;
// healthURL is probed by Probe (empty disables probing).
func New(timeout time.Duration, healthURL string) *HTTP {
	return &HTTP{client: &http.Client{Timeout: timeout}, healthURL: healthURL}
}

func (s *HTTP) Init(ctx context.Context, opts map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{Name: "server:http", Streaming: true}, nil
}
func (s *HTTP) Connect(ctx context.Context) error    { return nil }
func (s *HTTP) Disconnect(ctx context.Context) error { return nil }
func (s *HTTP) Destroy(ctx context.Context) error    { return nil }

func (s *HTTP) ValidateInput(ctx context.Context, in any) error {
	if _, ok := in.(pipeline.WireRequest); !ok {
		return relayerr.New(relayerr.KindTransformError, "server: expected pipeline.WireRequest")
	}
	return nil
}
func (s *HTTP) ValidateOutput(ctx context.Context, out any) error {
	if _, ok := out.(pipeline.WireResponse); !ok {
		return relayerr.New(relayerr.KindTransformError, "server: expected pipeline.WireResponse")
	}
	return nil
}

// ProcessRequest is a no-op in the request direction: Server is the
// terminal link, its real work happens transporting the already-built
// WireRequest, which Run does directly via RoundTrip rather than through
// this hook (the Stage contract still requires the method for chain
// uniformity).
func (s *HTTP) ProcessRequest(ctx context.Context, in any) (any, error) {
	return in, nil
}

// ProcessResponse performs the actual HTTP round trip: in is the
// WireRequest produced by the forward pass, and the returned value is
// the WireResponse the chain unwinds with.
func (s *HTTP) ProcessResponse(ctx context.Context, in any) (any, error) {
	wr, ok := in.(pipeline.WireRequest)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "server: expected pipeline.WireRequest")
	}
	return s.RoundTrip(ctx, wr)
}

// RoundTrip executes req against the network. A connection failure or
// timeout is reported through the WireResponse.TransportErr sentinel
// rather than as a Go error — ServerCompat and Protocol decide how to
// turn that into a relayerr.Kind. A request that cannot be built, or a
// response body that cannot be read, is returned as a relayerr error.
func (s *HTTP) RoundTrip(ctx context.Context, req pipeline.WireRequest) (pipeline.WireResponse, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return pipeline.WireResponse{}, relayerr.Wrap(relayerr.KindTransformError, err, "building upstream HTTP request")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return pipeline.WireResponse{TransportErr: "ETIMEDOUT"}, nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return pipeline.WireResponse{TransportErr: "ETIMEDOUT"}, nil
		}
		return pipeline.WireResponse{TransportErr: "ECONNREFUSED"}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.WireResponse{}, relayerr.Wrap(relayerr.KindNetworkError, err, "reading upstream response body")
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return pipeline.WireResponse{StatusCode: resp.StatusCode, Headers: headers, Body: body}, nil
}

// OpenStream implements pipeline.StreamOpener: it issues the same request
// as RoundTrip but returns the live response body instead of buffering it,
// for callers that read it as an SSE line stream. The caller must close
// body once done, including on error.
func (s *HTTP) OpenStream(ctx context.Context, req pipeline.WireRequest) (io.ReadCloser, http.Header, int, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, nil, 0, relayerr.Wrap(relayerr.KindTransformError, err, "building upstream HTTP request")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, 0, relayerr.New(relayerr.KindNetworkError, "ETIMEDOUT")
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, 0, relayerr.New(relayerr.KindNetworkError, "ETIMEDOUT")
		}
		return nil, nil, 0, relayerr.Wrap(relayerr.KindNetworkError, err, "opening upstream stream")
	}
	if resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return nil, resp.Header, resp.StatusCode, relayerr.New(relayerr.KindUpstreamError, string(body)).WithUpstreamStatus(resp.StatusCode)
	}
	return resp.Body, resp.Header, resp.StatusCode, nil
}

// Probe implements pipeline.HealthProber: a lightweight GET against the
// configured health URL, treating any 2xx as healthy.
func (s *HTTP) Probe(ctx context.Context, timeout time.Duration) error {
	if s.healthURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return relayerr.New(relayerr.KindUpstreamError, "health probe returned non-2xx").WithUpstreamStatus(resp.StatusCode)
	}
	return nil
}
