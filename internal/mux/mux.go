// Package mux implements the Response Mux (C6): it streams or rewrites
// the upstream's reply back to the client, injecting synthetic SSE
// chunks ahead of the real stream when the orchestrator ran a tool
// call, and round-tripping `arch_state` through response metadata.
//
// The synthetic-chunk injection is the literal feature that is
// commented out in _examples/original_source/crates/agent_gateway/src/http_context.rs;
// spec.md §4.5 and its scenario 6 pin down the intended behavior this
// package implements in full, per §9's first Open Question.
package mux

import (
	"bufio"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"archgw/internal/gatewayapi"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BuildSyntheticChunks renders the two assistant-role SSE frames spec.md
// §4.2/§4.5 require ahead of the real stream: a role-announcement frame
// carrying any prior arch_fc_response buffer (empty absent continuation
// state, since this gateway holds no cross-call buffer), then a frame
// carrying the function-calling model's response text, tagged with the
// model name plus the "-Chat" suffix.
func BuildSyntheticChunks(fcModelName, archFCBuffer, fcResponseText string) []gatewayapi.StreamChunk {
	return []gatewayapi.StreamChunk{
		{
			Model: fcModelName,
			Choices: []gatewayapi.StreamChoice{{
				Delta: gatewayapi.Delta{Role: gatewayapi.RoleAssistant, Content: archFCBuffer},
			}},
		},
		{
			Model: fcModelName + "-Chat",
			Choices: []gatewayapi.StreamChoice{{
				Delta: gatewayapi.Delta{Role: gatewayapi.RoleAssistant, Content: fcResponseText},
			}},
		},
	}
}

// BufferNonStreaming applies the non-streaming rewrite rule of §4.5: the
// arch_state round-trip is folded into `metadata` whenever the client
// sent one or the orchestrator ran a tool call; otherwise the body
// passes through untouched.
func BufferNonStreaming(body []byte, archState []any, ranTools bool) ([]byte, error) {
	if archState == nil && !ranTools {
		return body, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Not a JSON object (unexpected upstream shape): forward as-is
		// rather than fail the whole response over a cosmetic rewrite.
		return body, nil
	}
	if archState != nil {
		metadata, _ := obj["metadata"].(map[string]any)
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["x-arch-state"] = archState
		obj["metadata"] = metadata
	}
	return json.Marshal(obj)
}

// SSEWriter frames StreamChunk values as `data: <json>\n\n` and the
// upstream terminator as `data: [DONE]\n\n`, flushing after each frame
// so the client observes them incrementally.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	buf     *bufio.Writer
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher, buf: bufio.NewWriter(w)}
}

func (s *SSEWriter) WriteChunk(chunk gatewayapi.StreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.buf, "data: %s\n\n", data); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *SSEWriter) WriteTerminator() error {
	if _, err := s.buf.WriteString("data: [DONE]\n\n"); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
