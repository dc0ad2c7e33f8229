// Package orchestrator implements the Orchestration State Machine (C5):
// INGRESS -> FC_REQUEST -> FC_RESPONSE -> {FINAL_LLM | TOOL_REQUEST ->
// TOOL_RESPONSE -> FINAL_LLM} -> COMPLETE, with FAILED reachable from
// any state.
//
// Grounded on the recursive agentic loop of the teacher's
// pkg/agent/engine.go ProcessLLMStream, collapsed from the teacher's
// open-ended recursion/continuation/summarization into the fixed two-
// or three-phase flow spec.md §4.2 describes, and on the cyclic-
// reference resolution spec.md §9 prescribes: StreamContext owns a
// correlation-id -> CalloutContext map; a handler receives the
// StreamContext by exclusive access and the CalloutContext by value,
// removed from the map before the handler runs.
package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"archgw/internal/gatewayapi"
)

// HandlerKind records which orchestration phase issued an outstanding
// callout.
type HandlerKind int

const (
	HandlerFunctionCalling HandlerKind = iota
	HandlerToolEndpoint
	HandlerFinalLLM
)

// CalloutContext is the bookkeeping for one outstanding outbound HTTP
// call (§3). It is owned by a StreamContext's correlation-id map until
// the call returns, at which point the issuing phase removes it with
// PopCallout; the reply itself is processed by that same phase, not
// dispatched on HandlerKind.
type CalloutContext struct {
	HandlerKind             HandlerKind
	UserMessage             string
	PromptTargetName        string
	OriginalRequestEnvelope gatewayapi.ChatCompletionRequest
	UpstreamCluster         string
	UpstreamPath            string
	Agent                   gatewayapi.Agent
}

// StreamContext is the per-request state the orchestration machine
// mutates exclusively from the single logical flow serving that
// request (§3, §5). It is created on client request and discarded once
// the response is fully emitted or the request fails.
type StreamContext struct {
	ContextID string

	Request     gatewayapi.ChatCompletionRequest
	Agent       gatewayapi.Agent
	UserPrompt  string
	IsStreaming bool

	// Mutated as the machine advances.
	ToolCalls          []gatewayapi.ToolCall
	ToolCallResponse   string
	ArchFCResponseText string
	RanTools           bool

	// Opaque round-tripped state (§6's x-arch-state metadata extension).
	ArchState []any

	RequestID   string
	Traceparent string

	StartUpstream time.Time
	FirstToken    time.Time
	firstTokenSet int32

	mu              sync.Mutex
	callouts        map[uint32]CalloutContext
	nextCorrelation uint32
}

func NewStreamContext(contextID string, req gatewayapi.ChatCompletionRequest) *StreamContext {
	return &StreamContext{
		ContextID: contextID,
		Request:   req,
		callouts:  make(map[uint32]CalloutContext),
	}
}

// PutCallout assigns the next correlation id to cc and stores it,
// returning the id the Dispatcher should tag its outstanding call with.
func (s *StreamContext) PutCallout(cc CalloutContext) uint32 {
	id := atomic.AddUint32(&s.nextCorrelation, 1)
	s.mu.Lock()
	s.callouts[id] = cc
	s.mu.Unlock()
	return id
}

// PopCallout removes and returns the CalloutContext for id, the way a
// reply handler retrieves (and releases) its bookkeeping before running.
func (s *StreamContext) PopCallout(id uint32) (CalloutContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.callouts[id]
	delete(s.callouts, id)
	return cc, ok
}

// ReleaseAll drops every outstanding callout, used on client disconnect
// (§5 Cancellation): any reply for a released correlation id is
// discarded because PopCallout will no longer find it.
func (s *StreamContext) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callouts = make(map[uint32]CalloutContext)
}

// MarkFirstToken records the wall-clock time of the first response body
// byte at most once per request (§4.5, §8).
func (s *StreamContext) MarkFirstToken() {
	if atomic.CompareAndSwapInt32(&s.firstTokenSet, 0, 1) {
		s.FirstToken = time.Now()
	}
}

// TimeToFirstToken returns nanoseconds since epoch of the first token,
// or 0 if none was recorded yet.
func (s *StreamContext) TimeToFirstToken() int64 {
	if atomic.LoadInt32(&s.firstTokenSet) == 0 {
		return 0
	}
	return s.FirstToken.UnixNano()
}
