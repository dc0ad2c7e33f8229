// Package dispatch implements the Callout Dispatcher (C7): it issues
// outbound HTTP calls (to LLM provider routes and to tool endpoints)
// with caller-supplied headers, bodies, and timeouts, and translates
// transport failures into the §7 error taxonomy.
//
// Grounded on the teacher's pkg/llm/openailm/client.go (the openai-go/v3
// call shape adapted here into LLMProvider.ChatCompletion/StreamChat)
// and pkg/llm/registry.go's name-keyed provider map, generalized from a
// Go-factory registry to a route-name-keyed map of already-constructed
// LLMProvider values (the gateway resolves providers from config at
// startup, not via package init()).
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"archgw/internal/gatewayapi"
	"archgw/internal/gatewayerr"
)

// LLMProvider is implemented by each upstream backend family (OpenAI-
// shaped, Ollama, Gemini) that can serve chat completions for a route.
type LLMProvider interface {
	ChatCompletion(ctx context.Context, req gatewayapi.ChatCompletionRequest) (gatewayapi.ChatCompletionResponse, error)
	StreamChatCompletion(ctx context.Context, req gatewayapi.ChatCompletionRequest) (<-chan gatewayapi.StreamChunk, error)
}

// Dispatcher resolves a route name to a provider and issues the call,
// and issues raw HTTP calls to tool endpoints.
type Dispatcher struct {
	httpClient *http.Client
	providers  map[string]LLMProvider
	timeout    time.Duration
}

func New(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{},
		providers:  make(map[string]LLMProvider),
		timeout:    timeout,
	}
}

// RegisterProvider binds a route name (e.g. "weather-chat", the
// internal function-calling route, or a router-selected provider name)
// to the LLMProvider that serves it.
func (d *Dispatcher) RegisterProvider(route string, p LLMProvider) {
	d.providers[route] = p
}

func (d *Dispatcher) resolve(route string) (LLMProvider, error) {
	p, ok := d.providers[route]
	if !ok {
		return nil, gatewayerr.LogicError("no provider registered for route %q", route)
	}
	return p, nil
}

// CallLLM performs a non-streaming chat completion against the named
// route, under the dispatcher's configured timeout.
func (d *Dispatcher) CallLLM(ctx context.Context, route string, req gatewayapi.ChatCompletionRequest) (gatewayapi.ChatCompletionResponse, error) {
	provider, err := d.resolve(route)
	if err != nil {
		return gatewayapi.ChatCompletionResponse{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := provider.ChatCompletion(callCtx, req)
	if err != nil {
		return gatewayapi.ChatCompletionResponse{}, classifyErr(route, err)
	}
	return resp, nil
}

// CallLLMStream performs a streaming chat completion against the named
// route. The returned channel is closed when the upstream stream ends.
func (d *Dispatcher) CallLLMStream(ctx context.Context, route string, req gatewayapi.ChatCompletionRequest) (<-chan gatewayapi.StreamChunk, error) {
	provider, err := d.resolve(route)
	if err != nil {
		return nil, err
	}
	ch, err := provider.StreamChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyErr(route, err)
	}
	return ch, nil
}

func classifyErr(route string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return gatewayerr.Timeout(route, "")
	}
	var gwErr *gatewayerr.Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return gatewayerr.HTTPDispatch(err)
}

// ToolCallRequest is everything the Dispatcher needs to issue an
// outbound call to a tool's developer endpoint (§4.2 TOOL_REQUEST).
type ToolCallRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// ToolCallResponse is the raw result of a tool endpoint call.
type ToolCallResponse struct {
	Status int
	Body   []byte
}

// CallTool issues the outbound HTTP call to a tool's developer
// endpoint and returns the raw status/body. A non-2xx status is NOT an
// error here — TOOL_RESPONSE (§4.2) decides how to surface it; a
// transport-level failure (DNS, connect, timeout) is.
func (d *Dispatcher) CallTool(ctx context.Context, call ToolCallRequest) (ToolCallResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var bodyReader io.Reader
	if call.Body != nil {
		bodyReader = bytes.NewReader(call.Body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, call.Method, call.URL, bodyReader)
	if err != nil {
		return ToolCallResponse{}, gatewayerr.HTTPDispatch(err)
	}
	for k, v := range call.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ToolCallResponse{}, gatewayerr.Timeout(call.URL, "")
		}
		return ToolCallResponse{}, gatewayerr.HTTPDispatch(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ToolCallResponse{}, gatewayerr.HTTPDispatch(err)
	}

	return ToolCallResponse{Status: resp.StatusCode, Body: body}, nil
}
