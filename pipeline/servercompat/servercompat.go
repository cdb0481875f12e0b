// Package servercompat implements the ServerCompat stage (§4.4.3):
// injecting provider authentication and running the mandatory response
// preprocessor over raw wire bytes before Protocol parses them,
// grounded on the teacher's ProxiableProvider.AuthHeaders() contract
// (providers/provider.go) generalized across the closed Kind set.
package servercompat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/protorelay/gateway/internal/credentials"
	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/preprocessor"
	"github.com/protorelay/gateway/registry"
	"github.com/protorelay/gateway/relayerr"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ServerCompat implements pipeline.Stage for any provider kind: it is
// parameterized by the binding's Kind rather than having one
// implementation per family, since auth-header shape and preprocessing
// are cross-cutting, not family-specific.
type ServerCompat struct {
	binding registry.Binding
	creds   *credentials.Store
	oauth   *credentials.OAuthCredential // set only for CodeWhisperer bindings
	now     func() time.Time
}

// New returns a ServerCompat stage bound to b, resolving its credential
// from store. oauth may be nil for non-OAuth bindings.
func New(b registry.Binding, store *credentials.Store, oauth *credentials.OAuthCredential) *ServerCompat {
	return &ServerCompat{binding: b, creds: store, oauth: oauth, now: time.Now}
}

func (s *ServerCompat) Init(ctx context.Context, opts map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{Name: "servercompat:" + string(s.binding.Kind), Streaming: true}, nil
}
func (s *ServerCompat) Connect(ctx context.Context) error    { return nil }
func (s *ServerCompat) Disconnect(ctx context.Context) error { return nil }
func (s *ServerCompat) Destroy(ctx context.Context) error    { return nil }

func (s *ServerCompat) ValidateInput(ctx context.Context, in any) error {
	if _, ok := in.(pipeline.WireRequest); !ok {
		return relayerr.New(relayerr.KindTransformError, "servercompat: expected pipeline.WireRequest")
	}
	return nil
}
func (s *ServerCompat) ValidateOutput(ctx context.Context, out any) error {
	if _, ok := out.(pipeline.WireResponse); !ok {
		return relayerr.New(relayerr.KindTransformError, "servercompat: expected pipeline.WireResponse")
	}
	return nil
}

// ProcessRequest injects the binding's authentication into the wire
// request's headers (§4.4.3 "Auth header injection").
func (s *ServerCompat) ProcessRequest(ctx context.Context, in any) (any, error) {
	wr, ok := in.(pipeline.WireRequest)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "servercompat: expected pipeline.WireRequest")
	}
	headers, err := s.authHeaders(ctx)
	if err != nil {
		return nil, err
	}
	if wr.Headers == nil {
		wr.Headers = map[string]string{}
	}
	for k, v := range headers {
		wr.Headers[k] = v
	}
	return wr, nil
}

func (s *ServerCompat) authHeaders(ctx context.Context) (map[string]string, error) {
	switch s.binding.Kind {
	case registry.KindGeminiFamily:
		cred, ok := s.creds.Get(s.binding.Credential)
		if !ok {
			return nil, relayerr.New(relayerr.KindAuthError, "no credential for binding").WithBinding(s.binding.ID)
		}
		return map[string]string{"x-goog-api-key": cred.Secret}, nil
	case registry.KindCodeWhispererFamily:
		if s.oauth == nil {
			return nil, relayerr.New(relayerr.KindAuthError, "codewhisperer binding has no oauth credential").WithBinding(s.binding.ID)
		}
		token, err := s.oauth.BearerToken(ctx)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.KindAuthError, err, "refreshing codewhisperer bearer token").WithBinding(s.binding.ID)
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil
	case registry.KindOpenAIFamily, registry.KindLocalOpenAICompat:
		cred, ok := s.creds.Get(s.binding.Credential)
		if !ok {
			return nil, relayerr.New(relayerr.KindAuthError, "no credential for binding").WithBinding(s.binding.ID)
		}
		return map[string]string{"Authorization": "Bearer " + cred.Secret}, nil
	default:
		return nil, relayerr.New(relayerr.KindTransformError, fmt.Sprintf("servercompat: unknown binding kind %q", s.binding.Kind))
	}
}

// ProcessResponse runs the mandatory response preprocessor over the raw
// wire body (§4.5) before Protocol parses it into a family struct. Any
// reshaped tool call is spliced back into the body via the
// family-appropriate gjson/sjson patch.
func (s *ServerCompat) ProcessResponse(ctx context.Context, in any) (any, error) {
	wr, ok := in.(pipeline.WireResponse)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "servercompat: expected pipeline.WireResponse")
	}
	if wr.TransportErr != "" || wr.StatusCode >= 400 || len(wr.Body) == 0 {
		return wr, nil
	}

	if abnormal := preprocessor.Classify(preprocessor.RawResponse{
		Body:              string(wr.Body),
		HTTPStatus:        wr.StatusCode,
		TransportErr:      wr.TransportErr,
		ProviderFamilyTag: modelFamilyTag(s.binding.Model),
	}); abnormal != nil {
		return nil, abnormal.WithBinding(s.binding.ID)
	}

	textSpans := extractTextSpans(wr.Body)
	result, err := preprocessor.Run(preprocessor.DetectionInput{
		Family: family(s.binding.Kind),
		Text:   textSpans,
	}, s.now())
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransformError, err, "running response preprocessor").WithBinding(s.binding.ID)
	}

	body := string(wr.Body)
	if result.Reshaped != nil {
		body, err = patchReshapedCall(family(s.binding.Kind), body, *result.Reshaped)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.KindTransformError, err, "patching reshaped tool call").WithBinding(s.binding.ID)
		}
	}
	wr.Body = []byte(body)
	return wr, nil
}

func family(k registry.Kind) preprocessor.Family {
	switch k {
	case registry.KindGeminiFamily:
		return preprocessor.FamilyGemini
	case registry.KindCodeWhispererFamily:
		return preprocessor.FamilyAnthropic
	default:
		return preprocessor.FamilyOpenAI
	}
}

func patchReshapedCall(f preprocessor.Family, body string, r preprocessor.ReshapedCall) (string, error) {
	switch f {
	case preprocessor.FamilyGemini:
		patched, err := preprocessor.PatchGeminiFunctionCall(gjson.Get(body, "candidates.0").Raw, r)
		if err != nil {
			return "", err
		}
		return sjson.SetRaw(body, "candidates.0", patched)
	case preprocessor.FamilyAnthropic:
		return preprocessor.PatchAnthropicToolUse(body, r)
	default:
		patched, err := preprocessor.PatchOpenAIToolCalls(gjson.Get(body, "choices.0").Raw, r)
		if err != nil {
			return "", err
		}
		return sjson.SetRaw(body, "choices.0", patched)
	}
}

// modelFamilyTag maps a model identifier to the provider-family tag the
// classifier's Qwen/ModelScope finish-reason check expects.
func modelFamilyTag(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "qwen"):
		return "qwen"
	case strings.Contains(lower, "modelscope"):
		return "modelscope"
	default:
		return ""
	}
}

// extractTextSpans pulls out the plain-text content a provider would
// have emitted, for the textual tool-call scanner; a full JSON parse
// happens downstream in Protocol, so this is a cheap structural guess
// rather than a typed decode.
func extractTextSpans(body []byte) string {
	return string(body)
}
