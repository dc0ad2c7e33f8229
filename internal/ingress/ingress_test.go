package ingress

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"archgw/internal/dispatch"
	"archgw/internal/gatewayapi"
	"archgw/internal/orchestrator"
	"archgw/internal/registry"
)

func newTestServer(agentName string) *Server {
	tools := registry.NewToolRegistry()
	agents := registry.NewAgentRegistry()
	if agentName != "" {
		agents.Load([]gatewayapi.Agent{{Name: agentName}})
	}

	d := dispatch.New(0)
	engine := &orchestrator.Engine{Tools: tools, Agents: agents, Dispatch: d, FCRoute: "fc-route"}

	return &Server{Engine: engine, Agents: agents, MaxBodyBytes: 1 << 20}
}

func TestHealthzReturns200(t *testing.T) {
	s := newTestServer("weather")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestChatCompletionsNoAgentConfiguredReturns400(t *testing.T) {
	s := newTestServer("")
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChatCompletionsBodyTooLargeReturns413(t *testing.T) {
	s := newTestServer("weather")
	s.MaxBodyBytes = 8
	body := []byte(`{"messages":[{"role":"user","content":"this is far too long"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestChatCompletionsMalformedJSONReturns400(t *testing.T) {
	s := newTestServer("weather")
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestExtractArchStateRoundTrips(t *testing.T) {
	metadata := map[string]any{"x-arch-state": []any{map[string]any{"k": "v"}}}
	got := extractArchState(metadata)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
}

func TestExtractArchStateAbsent(t *testing.T) {
	if got := extractArchState(nil); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
	if got := extractArchState(map[string]any{}); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}
