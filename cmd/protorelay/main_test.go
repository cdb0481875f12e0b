package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	aigateway "github.com/protorelay/gateway"
	"github.com/protorelay/gateway/relayerr"
)

func newTestGateway(t *testing.T) *aigateway.Gateway {
	t.Helper()
	cfg := aigateway.Config{
		Providers: map[string]aigateway.ProviderConfig{
			"openai-main": {
				Type:     "openai",
				Endpoint: "https://api.openai.com/v1",
				Authentication: aigateway.AuthConfig{
					Type:        "api_key",
					Credentials: aigateway.Credentials{APIKey: "sk-test"},
				},
				Models: []string{"gpt-4o"},
			},
		},
		Routing: aigateway.RoutingConfig{
			Categories: map[string]aigateway.CategoryConfig{
				"default": {
					Primary:       aigateway.CategoryTarget{Provider: "openai-main", Model: "gpt-4o"},
					LoadBalancing: aigateway.LoadBalancingConfig{Strategy: "weighted"},
				},
			},
			GlobalSettings: aigateway.GlobalSettings{DefaultCategory: "default"},
		},
	}
	gw, err := aigateway.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	return gw
}

func TestHealthHandler(t *testing.T) {
	gw := newTestGateway(t)
	r := newRouter(gw)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("got body %q, want OK", rr.Body.String())
	}
}

func TestVersionHandler(t *testing.T) {
	gw := newTestGateway(t)
	r := newRouter(gw)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["version"] == "" {
		t.Error("expected a non-empty version string")
	}
}

func TestStatusHandler_ReportsBindingInventory(t *testing.T) {
	gw := newTestGateway(t)
	r := newRouter(gw)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rr.Code)
	}
	var body struct {
		Pipelines []map[string]interface{} `json:"pipelines"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Pipelines) != 1 {
		t.Fatalf("expected 1 pipeline entry, got %d", len(body.Pipelines))
	}
	if body.Pipelines[0]["binding"] != "openai-main" {
		t.Errorf("got binding %v, want openai-main", body.Pipelines[0]["binding"])
	}
}

func TestMessagesHandler_RejectsInvalidBody(t *testing.T) {
	gw := newTestGateway(t)
	r := newRouter(gw)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`{not json`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rr.Code)
	}
}

func TestMessagesHandler_RejectsMissingMessages(t *testing.T) {
	gw := newTestGateway(t)
	r := newRouter(gw)

	body, _ := json.Marshal(map[string]interface{}{"model": "gpt-4o"})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rr.Code)
	}
}

func TestErrStatus_TranslatesRelayerrKind(t *testing.T) {
	err := relayerr.New(relayerr.KindRateLimit, "too many requests")
	if got := errStatus(err); got != http.StatusTooManyRequests {
		t.Errorf("got %d, want %d", got, http.StatusTooManyRequests)
	}
}

func TestErrStatus_FallsBackToBadGateway(t *testing.T) {
	if got := errStatus(errors.New("boom")); got != http.StatusBadGateway {
		t.Errorf("got %d, want %d", got, http.StatusBadGateway)
	}
}
