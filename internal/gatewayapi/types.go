// Package gatewayapi holds the OpenAI-shaped wire types the gateway
// accepts from clients and exchanges with upstream providers, plus the
// configuration-time shapes (Agent, ToolDescriptor, Parameter, Endpoint)
// that the registries and templater operate on.
package gatewayapi

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentPart is one element of a multi-part message content array, e.g.
// {"type":"text","text":"..."} or {"type":"image_url","image_url":{...}}.
type ContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL jsoniter.RawMessage `json:"image_url,omitempty"`
}

// MessageContent carries either a plain string or a multi-part array,
// matching the OpenAI envelope's polymorphic `content` field.
type MessageContent struct {
	Text  string
	Parts []ContentPart
	IsSet bool
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*c = MessageContent{}
		return nil
	}
	c.IsSet = true
	if trimmed[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	return json.Unmarshal(data, &c.Parts)
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if !c.IsSet {
		return []byte("null"), nil
	}
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// AsText renders the content as a flat string: the string form verbatim,
// or the multi-part form with text-typed parts concatenated by newline,
// skipping image_url parts (per the ingress content-flattening rule).
func (c MessageContent) AsText() string {
	if c.Parts == nil {
		return c.Text
	}
	var lines []string
	for _, p := range c.Parts {
		if p.Type == "text" {
			lines = append(lines, p.Text)
		}
	}
	return strings.Join(lines, "\n")
}

func NewTextContent(s string) MessageContent {
	return MessageContent{Text: s, IsSet: true}
}

// FunctionCall is the {name, arguments} pair inside a ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single function-call emitted by an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one turn in a chat-completions conversation.
type Message struct {
	Role       string         `json:"role"`
	Content    MessageContent `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// HasToolCalls reports whether the message carries a non-empty tool_calls
// list, the condition the orchestrator uses to decide FC_RESPONSE routing.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolFunctionSpec is the OpenAI tool-schema encoding of a callable
// function: {type:"function", function:{name, description, parameters}}.
type ToolFunctionSpec struct {
	Type     string        `json:"type"`
	Function FunctionSpec  `json:"function"`
}

type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// StreamOptions mirrors OpenAI's stream_options passthrough field.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatCompletionRequest is the inbound/outbound OpenAI-shaped envelope.
type ChatCompletionRequest struct {
	Model         string             `json:"model"`
	Messages      []Message          `json:"messages"`
	Stream        bool               `json:"stream,omitempty"`
	StreamOptions *StreamOptions     `json:"stream_options,omitempty"`
	Tools         []ToolFunctionSpec `json:"tools,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
}

// Choice is one element of a non-streaming response's choices array.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the non-streaming reply envelope.
type ChatCompletionResponse struct {
	ID       string         `json:"id,omitempty"`
	Object   string         `json:"object,omitempty"`
	Created  int64          `json:"created,omitempty"`
	Model    string         `json:"model,omitempty"`
	Choices  []Choice       `json:"choices"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Delta is the incremental content of one streaming chunk's choice.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type StreamChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// StreamChunk is a single SSE `data:` payload in OpenAI's streaming shape.
type StreamChunk struct {
	ID       string         `json:"id,omitempty"`
	Object   string         `json:"object,omitempty"`
	Created  int64          `json:"created,omitempty"`
	Model    string         `json:"model,omitempty"`
	Choices  []StreamChoice `json:"choices"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Parameter describes one templatable argument of a tool endpoint.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Default     string   `json:"default,omitempty"`
	InPath      bool     `json:"in_path,omitempty"`
	EnumValues  []string `json:"enum_values,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Endpoint is a named upstream cluster address.
type Endpoint struct {
	Name              string `json:"name"`
	Protocol          string `json:"protocol"`
	Hostname          string `json:"hostname"`
	Port              int    `json:"port"`
	AgentOrchestrator bool   `json:"agent_orchestrator,omitempty"`
}

// ToolEndpointRef is the {name, path, method, http_headers} block a
// ToolDescriptor points at.
type ToolEndpointRef struct {
	Name        string            `json:"name"`
	Path        string            `json:"path,omitempty"`
	Method      string            `json:"method,omitempty"`
	HTTPHeaders map[string]string `json:"http_headers,omitempty"`
}

// ToolDescriptor is the Tool (Endpoint Descriptor) entry of §3: a named,
// callable HTTP endpoint with a declared parameter schema.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Endpoint    ToolEndpointRef `json:"endpoint"`
	Parameters  []Parameter     `json:"parameters,omitempty"`
}

// ToOpenAISpec encodes the descriptor as an OpenAI tool-schema entry for
// inclusion in an FC_REQUEST's `tools` array.
func (t ToolDescriptor) ToOpenAISpec() ToolFunctionSpec {
	props := make(map[string]any, len(t.Parameters))
	var required []string
	for _, p := range t.Parameters {
		entry := map[string]any{"type": firstNonEmpty(p.Type, "string")}
		if p.Description != "" {
			entry["description"] = p.Description
		}
		if len(p.EnumValues) > 0 {
			entry["enum"] = p.EnumValues
		}
		props[p.Name] = entry
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return ToolFunctionSpec{
		Type: "function",
		Function: FunctionSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": props,
				"required":   required,
			},
		},
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Agent is the named bundle of §3: a system prompt, an orchestrator
// prompt, and the set of tool names it may call.
type Agent struct {
	Name                    string   `json:"name"`
	Tools                   []string `json:"tools"`
	SystemPrompt            string   `json:"system_prompt,omitempty"`
	AgentOrchestratorPrompt string   `json:"agent_orchestrator_prompt,omitempty"`
}
