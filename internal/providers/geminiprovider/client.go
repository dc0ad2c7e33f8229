// Package geminiprovider adapts google.golang.org/genai into a
// dispatch.LLMProvider, for upstream clusters configured with
// provider type "gemini".
//
// Grounded on the teacher's pkg/llm/gemini/client.go: role mapping
// (assistant -> "model", tool results folded into "user" content) and
// the GenerateContent/GenerateContentStream call shape, rewritten
// against gatewayapi instead of the teacher's internal Message model.
package geminiprovider

import (
	"context"

	"google.golang.org/genai"

	"archgw/internal/gatewayapi"
	"archgw/internal/gatewayerr"
)

type Client struct {
	sdk   *genai.Client
	model string
}

func New(ctx context.Context, apiKey, model string) (*Client, error) {
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, gatewayerr.HTTPDispatch(err)
	}
	return &Client{sdk: sdk, model: model}, nil
}

func (c *Client) convert(messages []gatewayapi.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, m := range messages {
		if m.Role == gatewayapi.RoleSystem {
			systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content.AsText()}}}
			continue
		}
		role := "user"
		if m.Role == gatewayapi.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content.AsText()}},
		})
	}
	return contents, systemInstruction
}

func (c *Client) ChatCompletion(ctx context.Context, req gatewayapi.ChatCompletionRequest) (gatewayapi.ChatCompletionResponse, error) {
	contents, sysInstr := c.convert(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if sysInstr != nil {
		cfg.SystemInstruction = sysInstr
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return gatewayapi.ChatCompletionResponse{}, gatewayerr.HTTPDispatch(err)
	}

	out := gatewayapi.ChatCompletionResponse{Model: c.model}
	for i, cand := range resp.Candidates {
		var text string
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				text += p.Text
			}
		}
		out.Choices = append(out.Choices, gatewayapi.Choice{
			Index:   i,
			Message: gatewayapi.Message{Role: gatewayapi.RoleAssistant, Content: gatewayapi.NewTextContent(text)},
		})
	}
	return out, nil
}

func (c *Client) StreamChatCompletion(ctx context.Context, req gatewayapi.ChatCompletionRequest) (<-chan gatewayapi.StreamChunk, error) {
	contents, sysInstr := c.convert(req.Messages)
	cfg := &genai.GenerateContentConfig{}
	if sysInstr != nil {
		cfg.SystemInstruction = sysInstr
	}

	out := make(chan gatewayapi.StreamChunk, 64)
	go func() {
		defer close(out)
		for resp, err := range c.sdk.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
			if err != nil {
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				var text string
				for _, p := range cand.Content.Parts {
					text += p.Text
				}
				out <- gatewayapi.StreamChunk{
					Model:   c.model,
					Choices: []gatewayapi.StreamChoice{{Delta: gatewayapi.Delta{Content: text}}},
				}
			}
		}
	}()
	return out, nil
}
