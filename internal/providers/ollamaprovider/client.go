// Package ollamaprovider adapts github.com/ollama/ollama's api client
// into a dispatch.LLMProvider, for upstream clusters configured with
// provider type "ollama" (typically a local or self-hosted model).
//
// Grounded on the teacher's pkg/llm/ollama/client.go: the custom
// no-timeout http.Transport (Ollama generations can run long), the
// JSON-roundtrip tool conversion to dodge SDK type friction, and the
// api.Client.Chat callback-based streaming shape.
package ollamaprovider

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"

	"archgw/internal/gatewayapi"
	"archgw/internal/gatewayerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Client struct {
	sdk   *api.Client
	model string
}

func New(baseURL, model string) (*Client, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	httpClient := &http.Client{Transport: transport}

	var sdk *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, gatewayerr.BadRequest("invalid ollama base url: %v", err)
		}
		sdk = api.NewClient(u, httpClient)
	} else {
		var err error
		sdk, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, gatewayerr.HTTPDispatch(err)
		}
	}

	return &Client{sdk: sdk, model: model}, nil
}

func convertMessages(messages []gatewayapi.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, api.Message{Role: m.Role, Content: m.Content.AsText()})
	}
	return out
}

func convertTools(tools []gatewayapi.ToolFunctionSpec) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	raw, err := json.Marshal(tools)
	if err != nil {
		return nil
	}
	var out []api.Tool
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (c *Client) ChatCompletion(ctx context.Context, req gatewayapi.ChatCompletionRequest) (gatewayapi.ChatCompletionResponse, error) {
	streamOff := false
	var final gatewayapi.ChatCompletionResponse
	err := c.sdk.Chat(ctx, &api.ChatRequest{
		Model:    firstNonEmpty(req.Model, c.model),
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req.Tools),
		Stream:   &streamOff,
	}, func(resp api.ChatResponse) error {
		msg := gatewayapi.Message{Role: gatewayapi.RoleAssistant, Content: gatewayapi.NewTextContent(resp.Message.Content)}
		for _, tc := range resp.Message.ToolCalls {
			argsB, _ := json.Marshal(tc.Function.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, gatewayapi.ToolCall{
				Type:     "function",
				Function: gatewayapi.FunctionCall{Name: tc.Function.Name, Arguments: string(argsB)},
			})
		}
		final = gatewayapi.ChatCompletionResponse{
			Model:   resp.Model,
			Choices: []gatewayapi.Choice{{Message: msg, FinishReason: resp.DoneReason}},
		}
		return nil
	})
	if err != nil {
		return gatewayapi.ChatCompletionResponse{}, gatewayerr.HTTPDispatch(err)
	}
	return final, nil
}

func (c *Client) StreamChatCompletion(ctx context.Context, req gatewayapi.ChatCompletionRequest) (<-chan gatewayapi.StreamChunk, error) {
	streamOn := true
	out := make(chan gatewayapi.StreamChunk, 64)

	go func() {
		defer close(out)
		_ = c.sdk.Chat(ctx, &api.ChatRequest{
			Model:    firstNonEmpty(req.Model, c.model),
			Messages: convertMessages(req.Messages),
			Tools:    convertTools(req.Tools),
			Stream:   &streamOn,
		}, func(resp api.ChatResponse) error {
			var toolCalls []gatewayapi.ToolCall
			for _, tc := range resp.Message.ToolCalls {
				argsB, _ := json.Marshal(tc.Function.Arguments)
				toolCalls = append(toolCalls, gatewayapi.ToolCall{
					Type:     "function",
					Function: gatewayapi.FunctionCall{Name: tc.Function.Name, Arguments: string(argsB)},
				})
			}
			out <- gatewayapi.StreamChunk{
				Model: resp.Model,
				Choices: []gatewayapi.StreamChoice{{
					Delta:        gatewayapi.Delta{Content: resp.Message.Content, ToolCalls: toolCalls},
					FinishReason: resp.DoneReason,
				}},
			}
			return nil
		})
	}()

	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
