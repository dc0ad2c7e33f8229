// Package openaicompat adapts the official OpenAI Go SDK into a
// dispatch.LLMProvider, for upstreams that speak the OpenAI Chat
// Completions wire format (OpenAI itself, and any OpenAI-compatible
// gateway reachable over the same API shape).
//
// Grounded on the teacher's pkg/llm/openailm/client.go: the same SDK
// client construction, message conversion, and streaming-chunk
// consumption (each SDK chunk is forwarded as one StreamChunk), rewritten against this gateway's gatewayapi.Message/
// StreamChunk shapes instead of the teacher's internal ContentBlock
// message model.
package openaicompat

import (
	"context"
	"strings"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"archgw/internal/gatewayapi"
	"archgw/internal/gatewayerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client wraps an *openai.Client bound to one model.
type Client struct {
	sdk   *openai.Client
	model string
}

func New(apiKey, model, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	return &Client{sdk: &c, model: model}
}

func (c *Client) ChatCompletion(ctx context.Context, req gatewayapi.ChatCompletionRequest) (gatewayapi.ChatCompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(firstNonEmpty(req.Model, c.model)),
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req.Tools),
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return gatewayapi.ChatCompletionResponse{}, gatewayerr.HTTPDispatch(err)
	}

	out := gatewayapi.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  string(resp.Object),
		Created: resp.Created,
		Model:   resp.Model,
	}
	for _, choice := range resp.Choices {
		msg := gatewayapi.Message{
			Role:    gatewayapi.RoleAssistant,
			Content: gatewayapi.NewTextContent(choice.Message.Content),
		}
		for _, tc := range choice.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, gatewayapi.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: gatewayapi.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, gatewayapi.Choice{
			Index:        int(choice.Index),
			Message:      msg,
			FinishReason: string(choice.FinishReason),
		})
	}
	return out, nil
}

func (c *Client) StreamChatCompletion(ctx context.Context, req gatewayapi.ChatCompletionRequest) (<-chan gatewayapi.StreamChunk, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(firstNonEmpty(req.Model, c.model)),
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req.Tools),
	}

	out := make(chan gatewayapi.StreamChunk, 64)
	go func() {
		defer close(out)
		stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			if len(event.Choices) == 0 {
				continue
			}
			choice := event.Choices[0]

			var toolCalls []gatewayapi.ToolCall
			for _, tc := range choice.Delta.ToolCalls {
				toolCalls = append(toolCalls, gatewayapi.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: gatewayapi.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}

			out <- gatewayapi.StreamChunk{
				ID:      event.ID,
				Model:   event.Model,
				Created: event.Created,
				Choices: []gatewayapi.StreamChoice{{
					Index: 0,
					Delta: gatewayapi.Delta{
						Content:   choice.Delta.Content,
						ToolCalls: toolCalls,
					},
					FinishReason: string(choice.FinishReason),
				}},
			}
		}
		// stream.Err() failures end the channel silently; the caller
		// observes truncation via the closed channel. Transport-level
		// failures do the same: NewStreaming runs inside this goroutine,
		// so StreamChatCompletion itself always returns a nil error.
	}()
	return out, nil
}

// convertMessages maps gatewayapi.Message into the SDK's per-role union
// params, the same role switch the teacher's convertMessages performs.
func convertMessages(messages []gatewayapi.Message) []openai.ChatCompletionMessageParamUnion {
	items := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case gatewayapi.RoleTool:
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Role:       "tool",
					ToolCallID: m.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(m.Content.AsText()),
					},
				},
			})
		case gatewayapi.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				var calls []openai.ChatCompletionMessageToolCallUnionParam
				for _, tc := range m.ToolCalls {
					calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID:   tc.ID,
							Type: "function",
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      tc.Function.Name,
								Arguments: tc.Function.Arguments,
							},
						},
					})
				}
				items = append(items, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Role:      "assistant",
						ToolCalls: calls,
					},
				})
			} else {
				items = append(items, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Role: "assistant",
						Content: openai.ChatCompletionAssistantMessageParamContentUnion{
							OfString: openai.String(m.Content.AsText()),
						},
					},
				})
			}
		case gatewayapi.RoleUser:
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Role: "user",
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(m.Content.AsText()),
					},
				},
			})
		case gatewayapi.RoleSystem:
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Role: "system",
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(m.Content.AsText()),
					},
				},
			})
		}
	}
	return items
}

// convertTools round-trips through JSON rather than hand-mapping every
// field of the SDK's tool param union, the same shortcut the teacher's
// Ollama client uses to dodge SDK type incompatibilities.
func convertTools(tools []gatewayapi.ToolFunctionSpec) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	raw, err := json.Marshal(tools)
	if err != nil {
		return nil
	}
	var sdkTools []openai.ChatCompletionToolUnionParam
	if err := json.Unmarshal(raw, &sdkTools); err != nil {
		return nil
	}
	return sdkTools
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
