package router

import (
	"strings"
	"testing"

	"archgw/internal/gatewayapi"
)

func TestBuildRequestPromptFormat(t *testing.T) {
	routes := []Route{
		{Name: "route1", Description: "description1"},
		{Name: "route2", Description: "description2"},
	}
	messages := []gatewayapi.Message{
		{Role: gatewayapi.RoleSystem, Content: gatewayapi.NewTextContent("You are a helpful assistant.")},
		{Role: gatewayapi.RoleUser, Content: gatewayapi.NewTextContent("Hello, I want to book a flight.")},
		{Role: gatewayapi.RoleAssistant, Content: gatewayapi.NewTextContent("Sure, where would you like to go?")},
		{Role: gatewayapi.RoleUser, Content: gatewayapi.NewTextContent("seattle")},
	}

	req := BuildRequest("test-model", routes, messages)
	prompt := req.Messages[0].Content.Text

	if !strings.Contains(prompt, "- name: route1()\n  description: description1\n- name: route2()\n  description: description2") {
		t.Errorf("prompt missing rendered routes block: %s", prompt)
	}
	if !strings.Contains(prompt, `user: "Hello, I want to book a flight."`) {
		t.Errorf("prompt missing rendered conversation: %s", prompt)
	}
	if strings.Contains(prompt, "system:") {
		t.Errorf("system message should be excluded from conversation rendering")
	}
}

func TestParseResponseStripsSuffixAndFences(t *testing.T) {
	route, ok, err := ParseResponse("```json\n{'route': 'weather()'}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || route != "weather" {
		t.Errorf("got route=%q ok=%v, want weather/true", route, ok)
	}
}

func TestParseResponseEmptyRoute(t *testing.T) {
	route, ok, err := ParseResponse(`{"route": ""}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || route != "" {
		t.Errorf("got route=%q ok=%v, want empty/false", route, ok)
	}
}
