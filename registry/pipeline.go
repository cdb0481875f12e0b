package registry

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/internal/circuitbreaker"
	"github.com/protorelay/gateway/internal/logging"
	"github.com/protorelay/gateway/pipeline"
	"github.com/protorelay/gateway/relayerr"
)

// stageNames labels StageChain.ordered()'s four positions for stage-event
// logging (§4.4 "Stage contract").
var stageNames = [4]string{"transformer", "protocol", "servercompat", "server"}

// LifecycleState is the closed set of pipeline lifecycle states (§3
// "Pipeline").
type LifecycleState string

// Pipeline lifecycle states.
const (
	StateCreated      LifecycleState = "created"
	StateInitialized  LifecycleState = "initialized"
	StateConnected    LifecycleState = "connected"
	StateRunning      LifecycleState = "running"
	StateDisconnected LifecycleState = "disconnected"
	StateDestroyed    LifecycleState = "destroyed"
)

// StageChain is the ordered four-link chain a Pipeline executes,
// transformer → protocol → servercompat → server on the request
// direction, reversed on the response direction (§4.4).
type StageChain struct {
	Transformer pipeline.Stage
	Protocol    pipeline.Stage
	ServerCompat pipeline.Stage
	Server      pipeline.Stage
}

func (c StageChain) ordered() [4]pipeline.Stage {
	return [4]pipeline.Stage{c.Transformer, c.Protocol, c.ServerCompat, c.Server}
}

// RetryPolicy configures the request-direction retry behaviour of
// TransientError/Timeout outcomes against the same pipeline (§4.4
// "Failure semantics per stage").
type RetryPolicy struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// DefaultRetryPolicy matches the spec defaults: N=3, base 2s, max 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 2 * time.Second, MaxBackoff: 10 * time.Second}
}

// Pipeline is one-to-one with a Binding; owns four Stage instances and a
// per-binding CircuitBreaker (§3 "Pipeline").
type Pipeline struct {
	mu      sync.RWMutex
	binding Binding
	chain   StageChain
	cb      *circuitbreaker.CircuitBreaker
	state   LifecycleState
	retry   RetryPolicy

	inFlight    atomic.Int64
	latencyEWMA atomic.Uint64 // bits of float64 milliseconds, alpha=0.3
}

// NewPipeline constructs a Pipeline in state "created". cb must be
// non-nil; retry zero-value falls back to DefaultRetryPolicy.
func NewPipeline(binding Binding, chain StageChain, cb *circuitbreaker.CircuitBreaker, retry RetryPolicy) *Pipeline {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &Pipeline{binding: binding, chain: chain, cb: cb, state: StateCreated, retry: retry}
}

// ID returns the owning binding's id.
func (p *Pipeline) ID() string { return p.binding.ID }

// Binding returns a copy of the owning binding.
func (p *Pipeline) Binding() Binding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.binding
}

// State returns the current lifecycle state.
func (p *Pipeline) State() LifecycleState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// CircuitBreaker exposes the per-binding breaker for the fault substrate.
func (p *Pipeline) CircuitBreaker() *circuitbreaker.CircuitBreaker { return p.cb }

// InFlight returns the current in-flight counter.
func (p *Pipeline) InFlight() int64 { return p.inFlight.Load() }

// AvgLatencyMs returns the EWMA latency observed by Release calls.
func (p *Pipeline) AvgLatencyMs() float64 {
	return math.Float64frombits(p.latencyEWMA.Load())
}

// Eligible reports whether the pipeline is running, its breaker allows
// traffic, and it is below its concurrency cap (blacklist is checked
// separately by the caller, which has access to the shared blacklist
// store) — §4.2 "listEligible".
func (p *Pipeline) Eligible() bool {
	p.mu.RLock()
	state := p.state
	cap := p.binding.MaxConcurrentConnections
	p.mu.RUnlock()
	if state != StateRunning {
		return false
	}
	if !p.cb.Allow() {
		return false
	}
	if cap > 0 && p.inFlight.Load() >= int64(cap) {
		return false
	}
	return true
}

// Acquire increments the in-flight counter at selection time, per the LB
// contract (§4.3).
func (p *Pipeline) Acquire() { p.inFlight.Add(1) }

// Outcome is the closed enum of request outcomes reported to Release.
type Outcome string

// The outcomes a caller may report to Release (§4.3).
const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomeRateLimit        Outcome = "rate_limit"
	OutcomeAuthFailure      Outcome = "auth_failure"
	OutcomeServerError      Outcome = "server_error"
	OutcomeNetworkError     Outcome = "network_error"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeCancelled        Outcome = "cancelled"
)

// Release decrements the in-flight counter, updates the latency EWMA,
// and records success/failure against the circuit breaker. Cancelled
// outcomes count against neither CB nor latency (§5 "Cancellation
// semantics").
func (p *Pipeline) Release(outcome Outcome, latency time.Duration) {
	p.inFlight.Add(-1)
	if outcome == OutcomeCancelled {
		return
	}
	p.updateLatency(latency)
	switch outcome {
	case OutcomeSuccess:
		p.cb.RecordSuccess()
	case OutcomeServerError, OutcomeNetworkError, OutcomeTimeout:
		p.cb.RecordFailure()
	}
}

func (p *Pipeline) updateLatency(latency time.Duration) {
	const alpha = 0.3
	ms := float64(latency.Microseconds()) / 1000.0
	for {
		old := p.latencyEWMA.Load()
		oldMs := math.Float64frombits(old)
		var next float64
		if oldMs == 0 {
			next = ms
		} else {
			next = alpha*ms + (1-alpha)*oldMs
		}
		if p.latencyEWMA.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// Run drives a request through the four-stage chain in order, then the
// reverse order for the response, applying the retry policy on
// TransientError/Timeout against this same pipeline (§4.4).
func (p *Pipeline) Run(ctx context.Context, requestID string, in any) (any, error) {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()
	if state != StateRunning {
		return nil, relayerr.New(relayerr.KindNoEligibleBinding, fmt.Sprintf("pipeline %s not running (state=%s)", p.binding.ID, state))
	}

	stages := p.chain.ordered()
	var lastErr error
	attempts := p.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.retry.BaseBackoff

	for attempt := 0; attempt < attempts; attempt++ {
		out, err := p.runOnce(ctx, requestID, stages, in)
		if err == nil {
			return out, nil
		}
		lastErr = err
		var relErr *relayerr.Error
		if !relayerr.As(err, &relErr) || !relErr.Retryable() {
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, relayerr.Wrap(relayerr.KindCancelled, ctx.Err(), "cancelled during retry backoff")
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.retry.MaxBackoff {
			backoff = p.retry.MaxBackoff
		}
	}
	return nil, lastErr
}

func (p *Pipeline) runOnce(ctx context.Context, requestID string, stages [4]pipeline.Stage, in any) (any, error) {
	cur := in
	for i, st := range stages {
		if err := st.ValidateInput(ctx, cur); err != nil {
			return nil, relayerr.Wrap(relayerr.KindBadRequest, err, "stage input validation failed")
		}
		start := time.Now()
		out, err := st.ProcessRequest(ctx, cur)
		logging.StageEvent(ctx, stageNames[i], "request", requestID, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		cur = out
	}
	// cur now holds the server stage's raw wire reply; walk back up in
	// reverse order through ProcessResponse.
	for i := len(stages) - 1; i >= 0; i-- {
		st := stages[i]
		start := time.Now()
		out, err := st.ProcessResponse(ctx, cur)
		logging.StageEvent(ctx, stageNames[i], "response", requestID, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		if err := st.ValidateOutput(ctx, out); err != nil {
			return nil, relayerr.Wrap(relayerr.KindTransformError, err, "stage output validation failed")
		}
		cur = out
	}
	return cur, nil
}

// RunStream drives a single streamed attempt through the chain: no
// retry/failover, since bytes already flushed to the client can't be
// retransmitted against a different pipeline (§5 "Cancellation
// semantics" treats a mid-stream disconnect as a standalone Cancelled
// outcome, never a failover trigger). emit is called once per
// client-schema StreamEvent, in order; returning an error from emit
// (e.g. the client disconnected) aborts the stream immediately.
//
// When the chain's Server/Protocol/Transformer stages all support the
// optional streaming capability interfaces (pipeline.StreamOpener,
// pipeline.StreamDecoder, pipeline.StreamTranslator — true today for the
// OpenAI-family/local-OpenAI-compat chain), chunks are translated and
// emitted incrementally as they arrive. Otherwise RunStream falls back
// to a single buffered Run and synthesizes one whole-message event
// sequence from the resulting reply, so every binding kind still
// answers a stream:true request with a valid SSE event sequence even
// when true incremental translation isn't wired for its family yet.
func (p *Pipeline) RunStream(ctx context.Context, requestID string, in any, emit func(pipeline.StreamEvent) error) error {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()
	if state != StateRunning {
		return relayerr.New(relayerr.KindNoEligibleBinding, fmt.Sprintf("pipeline %s not running (state=%s)", p.binding.ID, state))
	}

	chain := p.chain
	opener, ok1 := chain.Server.(pipeline.StreamOpener)
	decoder, ok2 := chain.Protocol.(pipeline.StreamDecoder)
	translator, ok3 := chain.Transformer.(pipeline.StreamTranslator)
	if !ok1 || !ok2 || !ok3 {
		return p.runStreamFallback(ctx, requestID, in, emit)
	}

	cur := in
	for i, st := range []pipeline.Stage{chain.Transformer, chain.Protocol, chain.ServerCompat} {
		if err := st.ValidateInput(ctx, cur); err != nil {
			return relayerr.Wrap(relayerr.KindBadRequest, err, "stage input validation failed")
		}
		start := time.Now()
		out, err := st.ProcessRequest(ctx, cur)
		logging.StageEvent(ctx, stageNames[i], "request", requestID, time.Since(start), err)
		if err != nil {
			return err
		}
		cur = out
	}
	wr, ok := cur.(pipeline.WireRequest)
	if !ok {
		return relayerr.New(relayerr.KindTransformError, "stream: expected pipeline.WireRequest after forward pass")
	}

	body, _, statusCode, err := opener.OpenStream(ctx, wr)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()
	if statusCode >= 400 {
		return relayerr.New(relayerr.KindUpstreamError, "stream: upstream rejected request").WithUpstreamStatus(statusCode)
	}

	replyID := requestID
	model := ""
	if fr, ok := cur.(pipeline.FamilyRequest); ok {
		model = fr.Model
	}
	translation := translator.NewStreamTranslation(replyID, model)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		chunk, done, err := decoder.DecodeStreamChunk(data)
		if err != nil {
			return err
		}
		if done {
			break
		}
		if chunk == nil {
			continue
		}
		events, err := translation.Translate(chunk)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return relayerr.Wrap(relayerr.KindCancelled, err, "stream cancelled")
		}
		return relayerr.Wrap(relayerr.KindNetworkError, err, "reading upstream stream")
	}
	return nil
}

// runStreamFallback buffers a full non-streaming Run and re-emits the
// resulting reply as one synthetic event sequence, for chains whose
// Protocol/Transformer stages don't yet implement per-chunk translation.
func (p *Pipeline) runStreamFallback(ctx context.Context, requestID string, in any, emit func(pipeline.StreamEvent) error) error {
	out, err := p.Run(ctx, requestID, in)
	if err != nil {
		return err
	}
	events, err := synthesizeStreamEvents(out)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// synthesizeStreamEvents turns a complete, already-assembled reply into
// the same event sequence an incrementally-streamed reply would have
// produced, for families whose Protocol/Transformer stages haven't yet
// implemented per-chunk translation.
func synthesizeStreamEvents(out any) ([]pipeline.StreamEvent, error) {
	reply, ok := out.(*clientschema.Reply)
	if !ok {
		return nil, relayerr.New(relayerr.KindTransformError, "stream fallback: expected *clientschema.Reply")
	}

	events := []pipeline.StreamEvent{
		{Payload: &clientschema.StreamEvent{Type: clientschema.EventMessageStart}},
	}
	for i, blk := range reply.Blocks {
		b := blk
		events = append(events, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
			Type:  clientschema.EventContentBlockStart,
			Index: i,
			Block: &b,
		}})
		if blk.Type == clientschema.BlockText && blk.Text != "" {
			events = append(events, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
				Type:      clientschema.EventContentBlockDelta,
				Index:     i,
				DeltaText: blk.Text,
			}})
		}
		events = append(events, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
			Type:  clientschema.EventContentBlockStop,
			Index: i,
		}})
	}
	usage := reply.Usage
	events = append(events, pipeline.StreamEvent{Payload: &clientschema.StreamEvent{
		Type:       clientschema.EventMessageDelta,
		StopReason: reply.StopReason,
		Usage:      &usage,
	}})
	events = append(events, pipeline.StreamEvent{
		Payload: &clientschema.StreamEvent{Type: clientschema.EventMessageStop},
		IsFinal: true,
	})
	return events, nil
}

// transition moves the pipeline through its lifecycle; callers (the
// Registry) are responsible for calling the corresponding Stage methods.
func (p *Pipeline) transition(s LifecycleState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// initialize runs Init then Connect on every stage in chain order,
// advancing created → initialized → connected. It does not itself
// transition to running; Registry.InitializeAll does that for each
// pipeline right after that pipeline's initialize succeeds.
func (p *Pipeline) initialize(ctx context.Context, opts map[string]any) error {
	for _, st := range p.chain.ordered() {
		if _, err := st.Init(ctx, opts); err != nil {
			return fmt.Errorf("stage init: %w", err)
		}
	}
	p.transition(StateInitialized)
	for _, st := range p.chain.ordered() {
		if err := st.Connect(ctx); err != nil {
			return fmt.Errorf("stage connect: %w", err)
		}
	}
	p.transition(StateConnected)
	return nil
}

// teardown disconnects then destroys every stage, in reverse chain
// order so the server stage (holding network resources) releases first.
func (p *Pipeline) teardown(ctx context.Context) error {
	stages := p.chain.ordered()
	var errs []error
	for i := len(stages) - 1; i >= 0; i-- {
		if err := stages[i].Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(stages) - 1; i >= 0; i-- {
		if err := stages[i].Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.transition(StateDestroyed)
	if len(errs) > 0 {
		return fmt.Errorf("tearing down stages: %v", errs)
	}
	return nil
}
