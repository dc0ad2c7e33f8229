// Package ingress implements the Ingress HTTP Server (C4): it accepts
// client requests in the OpenAI Chat Completions shape, resolves the
// serving agent, hands the request to the orchestrator, and writes the
// response back either buffered or as an SSE stream.
//
// Grounded on the teacher's pkg/handler/handler.go request-validation
// and routing shape (request-id extraction, body-size guard, JSON
// decode error mapping), rewritten against this gateway's single
// /v1/chat/completions surface instead of the teacher's multi-channel
// dispatch.
package ingress

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"archgw/internal/gatewayapi"
	"archgw/internal/gatewayerr"
	"archgw/internal/idgen"
	"archgw/internal/mux"
	"archgw/internal/obslog"
	"archgw/internal/orchestrator"
	"archgw/internal/registry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the bound HTTP surface: /healthz and /v1/chat/completions.
type Server struct {
	Engine                *orchestrator.Engine
	Agents                *registry.AgentRegistry
	MaxBodyBytes          int64
	OptimizeContextWindow bool
}

func (s *Server) Routes() *http.ServeMux {
	m := http.NewServeMux()
	m.HandleFunc("GET /healthz", s.handleHealthz)
	m.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	return m
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleChatCompletions implements the ingress steps of §4.1: strip
// content-length framing concerns (net/http already does this), capture
// correlation headers, resolve the serving agent, bound-read the body,
// parse the envelope, extract any round-tripped arch_state, and hand
// off to the orchestrator.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("x-request-id")
	traceparent := r.Header.Get("traceparent")
	ctx := obslog.WithRequestID(r.Context(), requestID)

	agent, ok := s.resolveAgent(r)
	if !ok {
		writeError(w, gatewayerr.BadRequest("no agent resolvable: set x-agent-name or configure exactly one agent"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.MaxBodyBytes+1))
	if err != nil {
		writeError(w, gatewayerr.BadRequest("failed to read request body: %v", err))
		return
	}
	if int64(len(body)) > s.MaxBodyBytes {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "request body exceeds maximum size"}})
		return
	}

	// §4.1 step 5 / §8 boundary: an empty body skips orchestration
	// entirely rather than failing decode. There is nothing to parse a
	// route or conversation from, so the handler answers 200 with the
	// empty body itself; nothing is sent upstream.
	if len(body) == 0 {
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	var req gatewayapi.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, gatewayerr.BadRequest("invalid request body: %v", err))
		return
	}

	archState := extractArchState(req.Metadata)

	if s.OptimizeContextWindow {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["optimize_context_window"] = true
	}

	sc := orchestrator.NewStreamContext(idgen.New(), req)
	sc.Agent = agent
	sc.IsStreaming = req.Stream
	sc.RequestID = requestID
	sc.Traceparent = traceparent
	sc.ArchState = archState

	// §4.1 step 7 / §8 boundary: no user-role message short-circuits to
	// a direct dispatch, bypassing FC_REQUEST/TOOL_REQUEST orchestration.
	userPrompt, hasUser := lastUserMessage(req.Messages)
	if !hasUser {
		outcome, err := s.Engine.RunPassthrough(ctx, sc)
		if err != nil {
			slog.ErrorContext(ctx, "passthrough dispatch failed", "error", err)
			writeError(w, err)
			return
		}
		s.writeOutcome(w, sc, outcome)
		return
	}
	sc.UserPrompt = userPrompt

	// Any outstanding callouts must be released if the client disconnects
	// mid-request (§5 Cancellation) so a late reply finds nothing to
	// correlate against.
	runDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sc.ReleaseAll()
		case <-runDone:
		}
	}()

	outcome, err := s.Engine.Run(ctx, sc)
	close(runDone)
	if err != nil {
		slog.ErrorContext(ctx, "orchestration failed", "error", err)
		writeError(w, err)
		return
	}

	s.writeOutcome(w, sc, outcome)
}

// lastUserMessage returns the text of the last message with role "user",
// per §4.1 step 7's "select the last message whose role is user".
func lastUserMessage(messages []gatewayapi.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == gatewayapi.RoleUser {
			return messages[i].Content.AsText(), true
		}
	}
	return "", false
}

func (s *Server) writeOutcome(w http.ResponseWriter, sc *orchestrator.StreamContext, outcome orchestrator.Outcome) {
	if outcome.Streaming {
		s.writeStream(w, sc, outcome)
		return
	}
	s.writeBuffered(w, sc, outcome)
}

// resolveAgent implements §4.1 step 4: an explicit x-agent-name header
// wins; absent that, exactly one configured agent is used implicitly.
func (s *Server) resolveAgent(r *http.Request) (gatewayapi.Agent, bool) {
	if name := r.Header.Get("x-agent-name"); name != "" {
		return s.Agents.Get(name)
	}
	return s.Agents.Single()
}

func extractArchState(metadata map[string]any) []any {
	if metadata == nil {
		return nil
	}
	raw, ok := metadata["x-arch-state"]
	if !ok {
		return nil
	}
	state, ok := raw.([]any)
	if !ok {
		return nil
	}
	return state
}

func (s *Server) writeBuffered(w http.ResponseWriter, sc *orchestrator.StreamContext, outcome orchestrator.Outcome) {
	body, err := json.Marshal(outcome.Buffered)
	if err != nil {
		writeError(w, gatewayerr.Serialization(err))
		return
	}
	body, err = mux.BufferNonStreaming(body, outcome.ArchState, outcome.RanTools)
	if err != nil {
		writeError(w, gatewayerr.Serialization(err))
		return
	}
	sc.MarkFirstToken()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	slog.Debug("response written", "context_id", sc.ContextID, "time_to_first_token", sc.TimeToFirstToken())
}

func (s *Server) writeStream(w http.ResponseWriter, sc *orchestrator.StreamContext, outcome orchestrator.Outcome) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := mux.NewSSEWriter(w)
	first := true
	for chunk := range outcome.Stream {
		if first {
			sc.MarkFirstToken()
			first = false
		}
		if outcome.ArchState != nil {
			if chunk.Metadata == nil {
				chunk.Metadata = map[string]any{}
			}
			chunk.Metadata["x-arch-state"] = outcome.ArchState
		}
		if err := sw.WriteChunk(chunk); err != nil {
			return
		}
	}
	sw.WriteTerminator()
	slog.Debug("stream complete", "context_id", sc.ContextID, "time_to_first_token", sc.TimeToFirstToken())
}

func writeError(w http.ResponseWriter, err error) {
	var gwErr *gatewayerr.Error
	status := http.StatusInternalServerError
	message := err.Error()
	if errors.As(err, &gwErr) {
		status = gwErr.HTTPStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": message}})
}
