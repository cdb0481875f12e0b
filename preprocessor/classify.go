package preprocessor

import (
	"strings"

	"github.com/protorelay/gateway/relayerr"
	"github.com/tidwall/gjson"
)

// RawResponse is the minimal view of a provider's wire response the
// classifier needs, gathered by the ServerCompat stage before handing
// off to the detectors. Body is the raw response bytes (or "" for a
// transport-level failure).
type RawResponse struct {
	Body              string
	HTTPStatus        int
	TransportErr      string // ETIMEDOUT / ECONNREFUSED / ENOTFOUND, or ""
	ProviderFamilyTag string // e.g. "qwen" / "modelscope" for the finish-reason check
}

// Classify checks the abnormal-response conditions of §4.5 in the
// documented order (before the tool-call detectors run) and returns a
// structured error when one holds, or nil when the response is normal.
func Classify(r RawResponse) *relayerr.Error {
	if r.TransportErr == "ETIMEDOUT" || r.TransportErr == "ECONNREFUSED" || r.TransportErr == "ENOTFOUND" {
		return relayerr.New(relayerr.KindNetworkError, "transport error: "+r.TransportErr)
	}
	if strings.TrimSpace(r.Body) == "" {
		return relayerr.New(relayerr.KindEmptyResponse, "upstream reply body is empty")
	}
	if r.HTTPStatus >= 400 || gjson.Get(r.Body, "error").Exists() {
		return relayerr.New(relayerr.KindUpstreamError, "upstream returned an error body").
			WithUpstreamStatus(r.HTTPStatus)
	}
	if isQwenModelScopeFamily(r.ProviderFamilyTag) && hasMessageWithoutFinishReason(r.Body) {
		return relayerr.New(relayerr.KindMissingFinishReason, "Qwen/ModelScope reply has message but no finish_reason field")
	}
	return nil
}

func isQwenModelScopeFamily(tag string) bool {
	t := strings.ToLower(tag)
	return t == "qwen" || t == "modelscope"
}

func hasMessageWithoutFinishReason(body string) bool {
	choice := gjson.Get(body, "choices.0")
	if !choice.Exists() {
		return false
	}
	return choice.Get("message").Exists() && !choice.Get("finish_reason").Exists()
}
