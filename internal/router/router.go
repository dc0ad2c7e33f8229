// Package router implements the Router Model Client (C2): it renders
// the routing prompt, calls the router LLM, and parses its answer into
// a route name (or none).
//
// The system prompt and the four-step tolerant JSON repair are taken
// verbatim from _examples/original_source/crates/brightstaff/src/router/router_model_v1.rs,
// per §4.4 and §9's warning not to extend the repair rules.
package router

import (
	"context"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"archgw/internal/gatewayapi"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const systemPromptTemplate = `
You are an advanced Routing Assistant designed to select the optimal route based on user requests.
Your task is to analyze conversations and match them to the most appropriate predefined route.
Review the available routes config:

# ROUTES CONFIG START
{routes}
# ROUTES CONFIG END

Examine the following conversation between a user and an assistant:

# CONVERSATION START
{conversation}
# CONVERSATION END

Your goal is to identify the most appropriate route that matches the user's LATEST intent. Follow these steps:

1. Carefully read and analyze the provided conversation, focusing on the user's latest request and the conversation scenario.
2. Check if the user's request and scenario matches any of the routes in the routing configuration (focus on the description).
3. Find the route that best matches.
4. Use context clues from the entire conversation to determine the best fit.
5. Return the best match possible. You only response the name of the route that best matches the user's request, use the exact name in the routes config.
6. If no route relatively close to matches the user's latest intent or user last message is thank you or greeting, return an empty route ''.

# OUTPUT FORMAT
Your final output must follow this JSON format:
{
  "route": "route_name" # The matched route name, or empty string '' if no match
}

Based on your analysis, provide only the JSON object as your final output with no additional text, explanations, or whitespace.
`

// Route is one entry of the routes config rendered into the prompt.
type Route struct {
	Name        string
	Description string
}

// RenderRoutes produces the YAML-ish `- name: ...()\n  description: ...`
// block substituted into {routes}.
func RenderRoutes(routes []Route) string {
	var b strings.Builder
	for _, r := range routes {
		b.WriteString("- name: ")
		b.WriteString(r.Name)
		b.WriteString("()\n  description: ")
		b.WriteString(r.Description)
		b.WriteString("\n")
	}
	return b.String()
}

// RenderConversation serializes non-system messages as "role: <json content>"
// lines, matching generate_request's message formatting.
func RenderConversation(messages []gatewayapi.Message) string {
	var lines []string
	for _, m := range messages {
		if m.Role == gatewayapi.RoleSystem {
			continue
		}
		contentJSON, _ := json.Marshal(m.Content.AsText())
		lines = append(lines, m.Role+": "+string(contentJSON))
	}
	return strings.Join(lines, "\n")
}

// BuildRequest constructs the router model's ChatCompletionRequest: a
// single user message carrying the fully rendered prompt, non-streaming,
// no tools, no metadata.
func BuildRequest(routingModel string, routes []Route, messages []gatewayapi.Message) gatewayapi.ChatCompletionRequest {
	prompt := systemPromptTemplate
	prompt = strings.Replace(prompt, "{routes}", RenderRoutes(routes), 1)
	prompt = strings.Replace(prompt, "{conversation}", RenderConversation(messages), 1)

	return gatewayapi.ChatCompletionRequest{
		Model: routingModel,
		Messages: []gatewayapi.Message{
			{Role: gatewayapi.RoleUser, Content: gatewayapi.NewTextContent(prompt)},
		},
		Stream: false,
	}
}

type routeResponse struct {
	Route *string `json:"route"`
}

// ParseResponse applies the tolerant repair rules and extracts the route
// name. An empty resulting route (after stripping any "()" suffix) means
// no route was selected.
func ParseResponse(content string) (route string, ok bool, err error) {
	fixed := fixJSONResponse(content)

	var resp routeResponse
	if err := json.Unmarshal([]byte(fixed), &resp); err != nil {
		return "", false, err
	}
	if resp.Route == nil {
		return "", false, nil
	}
	name := strings.TrimSuffix(*resp.Route, "()")
	if name == "" {
		return "", false, nil
	}
	return name, true, nil
}

// fixJSONResponse applies the four conservative repairs, in order:
// quote normalization, literal-\n stripping, and fence stripping. Do not
// extend this list without new tests; see §9.
func fixJSONResponse(body string) string {
	out := strings.ReplaceAll(body, "'", "\"")
	if strings.Contains(out, "\\n") {
		out = strings.ReplaceAll(out, "\\n", "")
	}
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimSuffix(out, "```")
	return out
}

// Client calls the router model through a caller-supplied sender and
// returns the selected route name, or ok=false if none was selected.
type Client struct {
	RoutingModel string
	Routes       []Route
	Send         func(ctx context.Context, req gatewayapi.ChatCompletionRequest, traceparent string) (gatewayapi.ChatCompletionResponse, error)
}

func (c *Client) SelectRoute(ctx context.Context, messages []gatewayapi.Message, traceparent string) (string, bool, error) {
	req := BuildRequest(c.RoutingModel, c.Routes, messages)
	resp, err := c.Send(ctx, req, traceparent)
	if err != nil {
		return "", false, err
	}
	if len(resp.Choices) == 0 {
		return "", false, nil
	}
	return ParseResponse(resp.Choices[0].Message.Content.AsText())
}
