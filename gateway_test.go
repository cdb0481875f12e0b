package aigateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/internal/blacklist"
	"github.com/protorelay/gateway/loadbalance"
	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/plugin"
	"github.com/protorelay/gateway/registry"
	"github.com/protorelay/gateway/relayerr"
	"github.com/protorelay/gateway/routing"
)

// fakeStage is a minimal pipeline.Stage test double. All four chain
// links share this type; reqFn/respFn default to a pass-through so a
// test only needs to override the link that matters to it.
type fakeStage struct {
	reqFn  func(ctx context.Context, in any) (any, error)
	respFn func(ctx context.Context, in any) (any, error)
}

func (f *fakeStage) Init(context.Context, map[string]any) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{}, nil
}
func (f *fakeStage) Connect(context.Context) error { return nil }
func (f *fakeStage) ProcessRequest(ctx context.Context, in any) (any, error) {
	if f.reqFn != nil {
		return f.reqFn(ctx, in)
	}
	return in, nil
}
func (f *fakeStage) ProcessResponse(ctx context.Context, in any) (any, error) {
	if f.respFn != nil {
		return f.respFn(ctx, in)
	}
	return in, nil
}
func (f *fakeStage) ValidateInput(context.Context, any) error  { return nil }
func (f *fakeStage) ValidateOutput(context.Context, any) error { return nil }
func (f *fakeStage) Disconnect(context.Context) error          { return nil }
func (f *fakeStage) Destroy(context.Context) error             { return nil }

// newTestPipelineRegistry registers one binding per (id, outcome) pair: a
// nil runErr makes the pipeline reply with reply; a non-nil err makes
// every Run against that binding fail with err. All bindings are
// registered under routing.CategoryDefault and InitializeAll'd to
// StateRunning so ListEligible picks them up.
func newTestPipelineRegistry(t *testing.T, specs map[string]error, replies map[string]*clientschema.Reply) *registry.Registry {
	t.Helper()
	reg := registry.New(blacklist.New())
	ids := make([]string, 0, len(specs))
	for id, runErr := range specs {
		id, runErr := id, runErr
		build := func(b registry.Binding) (registry.StageChain, error) {
			server := &fakeStage{
				reqFn: func(ctx context.Context, in any) (any, error) {
					if runErr != nil {
						return nil, runErr
					}
					return in, nil
				},
			}
			transformer := &fakeStage{
				respFn: func(ctx context.Context, in any) (any, error) {
					return replies[id], nil
				},
			}
			return registry.StageChain{
				Transformer:  transformer,
				Protocol:     &fakeStage{},
				ServerCompat: &fakeStage{},
				Server:       server,
			}, nil
		}
		cbCfg := registry.CircuitBreakerConfig{
			FailureThreshold: 100,
			SuccessThreshold: 1,
			Timeout:          time.Second,
			Retry:            registry.RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		}
		if _, err := reg.Register(registry.Binding{ID: id, Kind: registry.KindOpenAIFamily, Weight: 1}, build, cbCfg); err != nil {
			t.Fatalf("registering binding %q: %v", id, err)
		}
		ids = append(ids, id)
	}
	if err := reg.InitializeAll(context.Background(), nil); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	reg.SetCategory(string(routing.CategoryDefault), ids)
	return reg
}

func newTestGateway(t *testing.T, specs map[string]error, replies map[string]*clientschema.Reply) *Gateway {
	t.Helper()
	reg := newTestPipelineRegistry(t, specs, replies)
	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	wbs := make([]routing.WeightedBinding, 0, len(ids))
	for _, id := range ids {
		wbs = append(wbs, routing.WeightedBinding{BindingID: id, Weight: 1})
	}
	table := routing.NewTable()
	table.Set(routing.CategoryDefault, wbs, true)

	return &Gateway{
		registry:   reg,
		table:      table,
		classifier: routing.DefaultClassifierConfig(),
		strategies: map[routing.Category]loadbalance.Strategy{
			routing.CategoryDefault: &loadbalance.RoundRobin{},
		},
		failover: map[routing.Category]loadbalance.FailoverPolicy{
			routing.CategoryDefault: {EnableFailover: true},
		},
		bookkeep: loadbalance.FailureBookkeeping{Blacklist: blacklist.New(), RateLimitTTL: time.Minute},
		plugins:  plugin.NewManager(),
	}
}

func basicRequest(model string) *clientschema.Request {
	return &clientschema.Request{
		ID:        "req-1",
		Model:     model,
		MaxTokens: 128,
		Messages: []clientschema.Message{
			{Role: clientschema.RoleUser, Blocks: []clientschema.ContentBlock{{Type: clientschema.BlockText, Text: "hi"}}},
		},
	}
}

func TestGateway_Route_Success(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"mock": nil},
		map[string]*clientschema.Reply{"mock": {ID: "r1", Model: "gpt-4o", Usage: clientschema.Usage{InputTokens: 5, OutputTokens: 10}}},
	)

	resp, err := gw.Route(context.Background(), basicRequest("gpt-4o"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ID != "r1" {
		t.Errorf("got ID %q, want r1", resp.ID)
	}
}

func TestGateway_Route_FailoverToSecondBinding(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{
			"bad":  relayerr.New(relayerr.KindUpstreamError, "provider down"),
			"good": nil,
		},
		map[string]*clientschema.Reply{
			"good": {ID: "fallback-ok", Model: "gpt-4o"},
		},
	)

	resp, err := gw.Route(context.Background(), basicRequest("gpt-4o"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ID != "fallback-ok" {
		t.Errorf("got ID %q, want fallback-ok", resp.ID)
	}
}

func TestGateway_Route_NoEligibleBinding(t *testing.T) {
	gw := newTestGateway(t, map[string]error{}, map[string]*clientschema.Reply{})

	_, err := gw.Route(context.Background(), basicRequest("gpt-4o"))
	if err == nil {
		t.Fatal("expected error for no eligible bindings")
	}
}

func TestGateway_Route_AllBindingsFail(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"only": relayerr.New(relayerr.KindUpstreamError, "down")},
		map[string]*clientschema.Reply{},
	)

	_, err := gw.Route(context.Background(), basicRequest("gpt-4o"))
	if err == nil {
		t.Fatal("expected error when every binding fails")
	}
}

func TestGateway_Route_NonRetryableErrorStopsImmediately(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{
			"first":  relayerr.New(relayerr.KindBadRequest, "bad input"),
			"second": nil,
		},
		map[string]*clientschema.Reply{
			"second": {ID: "should-not-be-reached", Model: "gpt-4o"},
		},
	)
	// bad_request is not in ShouldFailover's set, so dispatch must surface
	// it rather than trying "second".
	_, err := gw.Route(context.Background(), basicRequest("gpt-4o"))
	if err == nil {
		t.Fatal("expected bad_request error to surface without failover")
	}
	var relErr *relayerr.Error
	if !relayerr.As(err, &relErr) || relErr.Kind != relayerr.KindBadRequest {
		t.Errorf("got %v, want a bad_request relayerr.Error", err)
	}
}

// guardrailPlugin is a minimal plugin.Plugin test double.
type guardrailPlugin struct {
	mu     sync.Mutex
	called bool
	reject bool
	reason string
}

func (g *guardrailPlugin) Name() string                     { return "guardrail" }
func (g *guardrailPlugin) Type() plugin.PluginType           { return plugin.TypeGuardrail }
func (g *guardrailPlugin) Init(map[string]interface{}) error { return nil }
func (g *guardrailPlugin) Execute(_ context.Context, pctx *plugin.Context) error {
	g.mu.Lock()
	g.called = true
	g.mu.Unlock()
	if g.reject {
		pctx.Reject = true
		pctx.Reason = g.reason
	}
	return nil
}

func TestGateway_Route_BeforePluginRuns(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"mock": nil},
		map[string]*clientschema.Reply{"mock": {ID: "ok", Model: "gpt-4o"}},
	)
	gp := &guardrailPlugin{}
	if err := gw.RegisterPlugin(plugin.StageBeforeRequest, gp); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}

	if _, err := gw.Route(context.Background(), basicRequest("gpt-4o")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gp.mu.Lock()
	defer gp.mu.Unlock()
	if !gp.called {
		t.Error("before-request plugin was not invoked")
	}
}

func TestGateway_Route_PluginRejectsRequest(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"mock": nil},
		map[string]*clientschema.Reply{"mock": {ID: "should-not-reach", Model: "gpt-4o"}},
	)
	gp := &guardrailPlugin{reject: true, reason: "PII detected"}
	if err := gw.RegisterPlugin(plugin.StageBeforeRequest, gp); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}

	_, err := gw.Route(context.Background(), basicRequest("gpt-4o"))
	if err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestGateway_ResolveModelAlias(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"mock": nil},
		map[string]*clientschema.Reply{"mock": {ID: "aliased", Model: "gpt-4o"}},
	)
	gw.aliases = map[string]string{"my-alias": "gpt-4o"}

	if got := gw.resolveModelAlias("my-alias"); got != "gpt-4o" {
		t.Errorf("resolveModelAlias(my-alias) = %q, want gpt-4o", got)
	}
	if got := gw.resolveModelAlias("untouched"); got != "untouched" {
		t.Errorf("resolveModelAlias(untouched) = %q, want untouched", got)
	}
}

func TestGateway_AddHook_FiresOnSuccess(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"mock": nil},
		map[string]*clientschema.Reply{"mock": {ID: "ok", Model: "gpt-4o"}},
	)

	done := make(chan string, 1)
	gw.AddHook(func(_ context.Context, subject string, _ map[string]interface{}) {
		done <- subject
	})

	if _, err := gw.Route(context.Background(), basicRequest("gpt-4o")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case subj := <-done:
		if subj != SubjectRequestCompleted {
			t.Errorf("got subject %q, want %q", subj, SubjectRequestCompleted)
		}
	case <-time.After(time.Second):
		t.Fatal("hook was not called within timeout")
	}
}

func TestGateway_RouteStream_FallbackSynthesizesEvents(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"mock": nil},
		map[string]*clientschema.Reply{"mock": {
			ID:         "r1",
			Model:      "gpt-4o",
			StopReason: clientschema.StopEndTurn,
			Blocks:     []clientschema.ContentBlock{{Type: clientschema.BlockText, Text: "hello"}},
			Usage:      clientschema.Usage{InputTokens: 3, OutputTokens: 1},
		}},
	)
	req := basicRequest("gpt-4o")
	req.Stream = true

	var types []clientschema.StreamEventType
	var sawFinal bool
	err := gw.RouteStream(context.Background(), req, func(ev *clientschema.StreamEvent) error {
		types = append(types, ev.Type)
		if ev.IsFinal {
			sawFinal = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(types) == 0 || types[0] != clientschema.EventMessageStart {
		t.Fatalf("expected first event message_start, got %v", types)
	}
	if !sawFinal {
		t.Error("expected the final event to be marked IsFinal")
	}
	last := types[len(types)-1]
	if last != clientschema.EventMessageStop {
		t.Errorf("got last event %q, want message_stop", last)
	}
}

func TestGateway_RouteStream_EmitErrorAbortsStream(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"mock": nil},
		map[string]*clientschema.Reply{"mock": {
			ID:     "r1",
			Model:  "gpt-4o",
			Blocks: []clientschema.ContentBlock{{Type: clientschema.BlockText, Text: "hello"}},
		}},
	)
	req := basicRequest("gpt-4o")
	req.Stream = true

	boom := errors.New("client disconnected")
	calls := 0
	err := gw.RouteStream(context.Background(), req, func(*clientschema.StreamEvent) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got error %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("expected emit to be called exactly once before aborting, got %d", calls)
	}
}

func TestGateway_Close_DrainsRegistry(t *testing.T) {
	gw := newTestGateway(t,
		map[string]error{"mock": nil},
		map[string]*clientschema.Reply{"mock": {ID: "ok", Model: "gpt-4o"}},
	)
	if err := gw.Close(context.Background(), time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
