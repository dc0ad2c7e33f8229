package templater

import (
	"testing"

	"archgw/internal/gatewayapi"
)

func TestBuildGETQueryFolding(t *testing.T) {
	args := map[string]any{"id": "42", "extra": "x y"}
	declared := []gatewayapi.Parameter{{Name: "lang", Default: "en"}}

	res, err := Build("/items/{id}", args, declared, "GET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/items/42?extra=x%20y&lang=en"
	if res.Path != want {
		t.Errorf("path = %q, want %q", res.Path, want)
	}
	if res.Body != nil {
		t.Errorf("expected no body for GET, got %q", res.Body)
	}
}

func TestBuildPOSTBody(t *testing.T) {
	args := map[string]any{"a": "1", "b": "two"}

	res, err := Build("/create", args, nil, "POST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Path != "/create" {
		t.Errorf("path = %q, want /create", res.Path)
	}
	want := `{"a":"1","b":"two"}`
	if string(res.Body) != want {
		t.Errorf("body = %s, want %s", res.Body, want)
	}
}

func TestBuildMissingPathParameter(t *testing.T) {
	_, err := Build("/items/{id}", map[string]any{}, nil, "GET")
	if err == nil {
		t.Fatal("expected MissingParameter error, got nil")
	}
}

func TestBuildDropsNonScalarArgs(t *testing.T) {
	args := map[string]any{
		"id":     "7",
		"nested": map[string]any{"x": 1},
		"list":   []any{1, 2},
		"nil":    nil,
	}
	res, err := Build("/items/{id}", args, nil, "GET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Path != "/items/7" {
		t.Errorf("path = %q, want /items/7 (non-scalars dropped)", res.Path)
	}
}
