package registry

import (
	"testing"

	"archgw/internal/gatewayapi"
)

func TestToolRegistryGet(t *testing.T) {
	r := NewToolRegistry()
	r.Load([]gatewayapi.ToolDescriptor{{Name: "get_weather"}})

	if _, ok := r.Get("get_weather"); !ok {
		t.Fatal("expected get_weather to resolve")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing tool to not resolve")
	}
}

func TestAgentRegistrySingle(t *testing.T) {
	r := NewAgentRegistry()
	if _, ok := r.Single(); ok {
		t.Fatal("expected no single agent on empty registry")
	}

	r.Load([]gatewayapi.Agent{{Name: "weather"}})
	a, ok := r.Single()
	if !ok || a.Name != "weather" {
		t.Fatalf("got %+v, %v; want weather, true", a, ok)
	}

	r.Load([]gatewayapi.Agent{{Name: "other"}})
	if _, ok := r.Single(); ok {
		t.Fatal("expected ambiguous result once a second agent is loaded")
	}
}

func TestAvailableAgentToolsOmitsUnknown(t *testing.T) {
	tools := NewToolRegistry()
	tools.Load([]gatewayapi.ToolDescriptor{{Name: "known"}})

	agent := gatewayapi.Agent{Name: "a", Tools: []string{"known", "ghost"}}
	available := tools.AvailableAgentTools(agent)
	if len(available) != 1 || available[0].Name != "known" {
		t.Fatalf("got %+v, want only known", available)
	}
}

func TestResolveAgentToolsErrorsOnUnknown(t *testing.T) {
	tools := NewToolRegistry()
	agent := gatewayapi.Agent{Name: "a", Tools: []string{"ghost"}}
	if _, err := tools.ResolveAgentTools(agent); err == nil {
		t.Fatal("expected LogicError for unresolved tool")
	}
}
