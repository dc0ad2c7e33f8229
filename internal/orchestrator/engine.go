package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"archgw/internal/dispatch"
	"archgw/internal/gatewayapi"
	"archgw/internal/gatewayerr"
	"archgw/internal/mux"
	"archgw/internal/registry"
	"archgw/internal/router"
	"archgw/internal/templater"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fcDispatchTimeout bounds the FC_REQUEST call (§4.2): the function-
// calling model must decide in time for the ingress handler's overall
// budget to still leave room for a tool call and the final answer.
const fcDispatchTimeout = 5 * time.Second

// Engine wires the registries and dispatcher together and drives the
// state machine described in this package's doc comment.
type Engine struct {
	Tools    *registry.ToolRegistry
	Agents   *registry.AgentRegistry
	Dispatch *dispatch.Dispatcher
	FCRoute  string // the configured function-calling provider route

	// Router, when set, performs usage-based route selection (§4.4)
	// instead of the agent-orchestrator flow. UseAgentOrchestrator picks
	// which of the two top-level behaviors (a) vs (b) from the overview
	// applies to this deployment.
	Router               *router.Client
	UseAgentOrchestrator bool
}

// Outcome is what Run hands back to ingress: either a buffered response
// or a stream channel, never both, plus the bookkeeping mux needs to
// synthesize chunks and round-trip arch_state.
type Outcome struct {
	Streaming bool
	Buffered  gatewayapi.ChatCompletionResponse
	Stream    <-chan gatewayapi.StreamChunk

	RanTools           bool
	FCModelName        string
	ArchFCBuffer       string
	ArchFCResponseText string
	ArchState          []any
}

// Run drives one request through FC_REQUEST -> FC_RESPONSE -> {FINAL_LLM
// | TOOL_REQUEST -> TOOL_RESPONSE -> FINAL_LLM} -> COMPLETE (§4.2-§4.6),
// or, when UseAgentOrchestrator is off, the plain usage-based routing
// path of the overview's feature (a): the router model picks a
// provider route and the request is dispatched there directly, with no
// function-calling/tool detour.
func (e *Engine) Run(ctx context.Context, sc *StreamContext) (Outcome, error) {
	if !e.UseAgentOrchestrator {
		return e.runRoutedDirect(ctx, sc)
	}

	fcResp, err := e.runFCRequest(ctx, sc)
	if err != nil {
		return Outcome{}, err
	}
	if len(fcResp.Choices) != 1 {
		// §9 Open Question: a function-calling model returning anything
		// but exactly one choice has no defined handling in spec.md;
		// treated as a hard failure rather than guessing which choice wins.
		return Outcome{}, gatewayerr.LogicError("function-calling model returned %d choices, want 1", len(fcResp.Choices))
	}

	fcChoice := fcResp.Choices[0]
	sc.ArchFCResponseText = fcChoice.Message.Content.AsText()

	if !fcChoice.Message.HasToolCalls() {
		return e.finalizeDirectAnswer(ctx, sc, fcResp.Model)
	}

	if len(fcChoice.Message.ToolCalls) > 1 {
		slog.WarnContext(ctx, "function-calling model returned multiple tool_calls, honoring only the first",
			"context_id", sc.ContextID, "count", len(fcChoice.Message.ToolCalls))
	}
	sc.ToolCalls = fcChoice.Message.ToolCalls[:1]
	sc.RanTools = true

	toolResp, err := e.runToolRequest(ctx, sc)
	if err != nil {
		return Outcome{}, err
	}
	sc.ToolCallResponse = toolResp

	return e.finalizeWithToolResult(ctx, sc, fcResp.Model)
}

// RunPassthrough dispatches sc.Request to its client-requested model with
// no FC_REQUEST/TOOL_REQUEST detour: the §4.1/§8 short-circuit taken when
// a parsed body has no user-role message to orchestrate against (an empty
// body is answered by ingress and never reaches here). The conversation
// is forwarded exactly as received.
func (e *Engine) RunPassthrough(ctx context.Context, sc *StreamContext) (Outcome, error) {
	id := sc.PutCallout(CalloutContext{
		HandlerKind:             HandlerFinalLLM,
		OriginalRequestEnvelope: sc.Request,
		UpstreamCluster:         sc.Request.Model,
		Agent:                   sc.Agent,
	})
	defer sc.PopCallout(id)

	if !sc.IsStreaming {
		resp, err := e.Dispatch.CallLLM(ctx, sc.Request.Model, sc.Request)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Buffered: resp, ArchState: sc.ArchState}, nil
	}

	ch, err := e.Dispatch.CallLLMStream(ctx, sc.Request.Model, sc.Request)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Streaming: true, Stream: ch, ArchState: sc.ArchState}, nil
}

// runRoutedDirect implements usage-based routing without agent
// orchestration (§4.4, boundary behavior "empty router route adds no
// hint"): ask the router model which provider route fits the
// conversation, fall back to the client's requested model/route when
// the router selects none, and dispatch straight through.
func (e *Engine) runRoutedDirect(ctx context.Context, sc *StreamContext) (Outcome, error) {
	route := sc.Request.Model
	if e.Router != nil {
		if selected, ok, err := e.Router.SelectRoute(ctx, sc.Request.Messages, sc.Traceparent); err != nil {
			return Outcome{}, gatewayerr.HTTPDispatch(err)
		} else if ok {
			route = selected
		}
	}

	id := sc.PutCallout(CalloutContext{
		HandlerKind:             HandlerFinalLLM,
		OriginalRequestEnvelope: sc.Request,
		UpstreamCluster:         route,
		Agent:                   sc.Agent,
	})
	defer sc.PopCallout(id)

	if !sc.IsStreaming {
		resp, err := e.Dispatch.CallLLM(ctx, route, sc.Request)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Buffered: resp, ArchState: sc.ArchState}, nil
	}

	ch, err := e.Dispatch.CallLLMStream(ctx, route, sc.Request)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Streaming: true, Stream: ch, ArchState: sc.ArchState}, nil
}

// runFCRequest builds and dispatches the FC_REQUEST call (§4.2): the
// agent's orchestrator prompt prepended, the original conversation
// appended, the agent's available tools attached, streaming forced off.
func (e *Engine) runFCRequest(ctx context.Context, sc *StreamContext) (gatewayapi.ChatCompletionResponse, error) {
	messages := make([]gatewayapi.Message, 0, len(sc.Request.Messages)+1)
	if sc.Agent.AgentOrchestratorPrompt != "" {
		messages = append(messages, gatewayapi.Message{
			Role:    gatewayapi.RoleSystem,
			Content: gatewayapi.NewTextContent(sc.Agent.AgentOrchestratorPrompt),
		})
	}
	messages = append(messages, sc.Request.Messages...)

	var tools []gatewayapi.ToolFunctionSpec
	for _, t := range e.Tools.AvailableAgentTools(sc.Agent) {
		tools = append(tools, t.ToOpenAISpec())
	}

	req := gatewayapi.ChatCompletionRequest{
		Model:    sc.Request.Model,
		Messages: messages,
		Tools:    tools,
		Stream:   false,
	}

	callCtx, cancel := context.WithTimeout(ctx, fcDispatchTimeout)
	defer cancel()

	id := sc.PutCallout(CalloutContext{
		HandlerKind:             HandlerFunctionCalling,
		UserMessage:             sc.UserPrompt,
		OriginalRequestEnvelope: req,
		UpstreamCluster:         e.FCRoute,
		Agent:                   sc.Agent,
	})
	defer sc.PopCallout(id)

	return e.Dispatch.CallLLM(callCtx, e.FCRoute, req)
}

// runToolRequest resolves the chosen tool, templates its path/body, and
// dispatches the outbound call (§4.2 TOOL_REQUEST / TOOL_RESPONSE). It
// returns the tool's response body as text, or a gatewayerr.Upstream for
// a non-2xx reply.
func (e *Engine) runToolRequest(ctx context.Context, sc *StreamContext) (string, error) {
	call := sc.ToolCalls[0]

	tool, ok := e.Tools.Get(call.Function.Name)
	if !ok {
		return "", gatewayerr.LogicError("tool-call references unknown tool %q", call.Function.Name)
	}

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "", gatewayerr.Deserialization(err)
		}
	}

	result, err := templater.Build(tool.Endpoint.Path, args, tool.Parameters, tool.Endpoint.Method)
	if err != nil {
		return "", err
	}

	headers := map[string]string{
		"upstream-host": tool.Endpoint.Name,
		"authority":     tool.Endpoint.Name,
		"max-retries":   "3",
		"timeout":       "5s",
	}
	if result.Body != nil {
		headers["Content-Type"] = "application/json"
	}
	if sc.RequestID != "" {
		headers["x-request-id"] = sc.RequestID
	}
	if sc.Traceparent != "" {
		headers["traceparent"] = sc.Traceparent
	}
	// Endpoint-declared headers win on key collision (§4.2).
	for k, v := range tool.Endpoint.HTTPHeaders {
		headers[k] = v
	}

	id := sc.PutCallout(CalloutContext{
		HandlerKind:      HandlerToolEndpoint,
		UserMessage:      sc.UserPrompt,
		PromptTargetName: tool.Name,
		UpstreamCluster:  tool.Endpoint.Name,
		UpstreamPath:     result.Path,
		Agent:            sc.Agent,
	})
	defer sc.PopCallout(id)

	resp, err := e.Dispatch.CallTool(ctx, dispatch.ToolCallRequest{
		Method:  firstNonEmpty(tool.Endpoint.Method, "GET"),
		URL:     result.Path,
		Headers: headers,
		Body:    result.Body,
	})
	if err != nil {
		return "", err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return "", gatewayerr.Upstream(tool.Endpoint.Name, result.Path, resp.Status, string(resp.Body))
	}
	return string(resp.Body), nil
}

// finalizeDirectAnswer handles FC_RESPONSE's no-tool-calls branch
// (§4.2): the FC model's own text is the answer. If the client asked
// for streaming, the two synthetic chunks (§4.5 scenario 6's pattern,
// applied here per §4.2) stand in for the real stream since there is no
// further upstream call to make.
func (e *Engine) finalizeDirectAnswer(ctx context.Context, sc *StreamContext, fcModel string) (Outcome, error) {
	if !sc.IsStreaming {
		return Outcome{
			Buffered: gatewayapi.ChatCompletionResponse{
				Model: fcModel,
				Choices: []gatewayapi.Choice{{
					Message:      gatewayapi.Message{Role: gatewayapi.RoleAssistant, Content: gatewayapi.NewTextContent(sc.ArchFCResponseText)},
					FinishReason: "stop",
				}},
			},
			RanTools:    false,
			FCModelName: fcModel,
			ArchState:   sc.ArchState,
		}, nil
	}

	out := make(chan gatewayapi.StreamChunk, 2)
	for _, c := range mux.BuildSyntheticChunks(fcModel, "", sc.ArchFCResponseText) {
		out <- c
	}
	close(out)

	return Outcome{
		Streaming:          true,
		Stream:             out,
		RanTools:           false,
		FCModelName:        fcModel,
		ArchFCResponseText: sc.ArchFCResponseText,
		ArchState:          sc.ArchState,
	}, nil
}

// finalizeWithToolResult handles TOOL_RESPONSE -> FINAL_LLM (§4.2): the
// original conversation is filtered and the last user turn's content is
// replaced with the tool result folded in as context, then dispatched
// to the client's originally requested model/route.
func (e *Engine) finalizeWithToolResult(ctx context.Context, sc *StreamContext, fcModel string) (Outcome, error) {
	messages := buildFinalMessages(sc.Request.Messages, sc.ToolCallResponse)

	finalReq := gatewayapi.ChatCompletionRequest{
		Model:         sc.Request.Model,
		Messages:      messages,
		Stream:        sc.IsStreaming,
		StreamOptions: sc.Request.StreamOptions,
	}

	id := sc.PutCallout(CalloutContext{
		HandlerKind:             HandlerFinalLLM,
		OriginalRequestEnvelope: finalReq,
		UpstreamCluster:         sc.Request.Model,
		Agent:                   sc.Agent,
	})
	defer sc.PopCallout(id)

	if !sc.IsStreaming {
		resp, err := e.Dispatch.CallLLM(ctx, sc.Request.Model, finalReq)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Buffered:    resp,
			RanTools:    true,
			FCModelName: fcModel,
			ArchState:   sc.ArchState,
		}, nil
	}

	real, err := e.Dispatch.CallLLMStream(ctx, sc.Request.Model, finalReq)
	if err != nil {
		return Outcome{}, err
	}

	out := make(chan gatewayapi.StreamChunk, 2)
	go func() {
		defer close(out)
		for _, c := range mux.BuildSyntheticChunks(fcModel, "", sc.ArchFCResponseText) {
			out <- c
		}
		for c := range real {
			out <- c
		}
	}()

	return Outcome{
		Streaming:          true,
		Stream:             out,
		RanTools:           true,
		FCModelName:        fcModel,
		ArchFCResponseText: sc.ArchFCResponseText,
		ArchState:          sc.ArchState,
	}, nil
}

// buildFinalMessages applies the FINAL_LLM filtering rule (§4.2 step
// "construct final message list"): drop tool-role messages, drop
// messages with no content, drop assistant messages that carry
// tool_calls, and fold the tool result into the last remaining user
// message as trailing context.
func buildFinalMessages(original []gatewayapi.Message, toolCallResponse string) []gatewayapi.Message {
	filtered := make([]gatewayapi.Message, 0, len(original))
	for _, m := range original {
		if m.Role == gatewayapi.RoleTool {
			continue
		}
		if m.Role == gatewayapi.RoleAssistant && m.HasToolCalls() {
			continue
		}
		if !m.Content.IsSet || strings.TrimSpace(m.Content.AsText()) == "" {
			continue
		}
		filtered = append(filtered, m)
	}

	for i := len(filtered) - 1; i >= 0; i-- {
		if filtered[i].Role != gatewayapi.RoleUser {
			continue
		}
		original := filtered[i].Content.AsText()
		filtered[i].Content = gatewayapi.NewTextContent(original + "\ncontext: " + toolCallResponse)
		break
	}
	return filtered
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
