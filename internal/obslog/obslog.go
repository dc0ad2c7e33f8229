// Package obslog sets up structured logging for the gateway process.
//
// Grounded on the teacher's pkg/monitor/logger.go CustomHandler, which
// extracts a "llm_debug_dir" value from the handler's context to tag
// log lines; here the tagged value is the client's x-request-id, the
// per-request correlation id a StreamContext carries through §3/§4.6,
// not a debug-session directory.
package obslog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// WithRequestID returns a context tagging subsequent log lines with id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// Handler implements slog.Handler with a "[TIME] [LEVEL] [request_id]
// message attr=val..." format.
type Handler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

func NewHandler(w io.Writer, opts slog.HandlerOptions) *Handler {
	return &Handler{w: w, opts: opts}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	requestID := ""
	if ctx != nil {
		if v, ok := ctx.Value(requestIDKey).(string); ok {
			requestID = v
		}
	}

	fmt.Fprintf(buf, "[%s] [%s]", r.Time.Format("2006-01-02T15:04:05.000Z0700"), r.Level)
	if requestID != "" {
		fmt.Fprintf(buf, " [%s]", requestID)
	}
	fmt.Fprintf(buf, " %s", r.Message)

	for _, a := range h.attrs {
		h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(buf, a)
		return true
	})

	buf.WriteString("\n")
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *Handler) appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")

	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{w: h.w, opts: h.opts, attrs: append(h.attrs, attrs...)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return h
}

// Setup installs the default slog.Logger with Handler at the given level.
func Setup(levelStr string) {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(NewHandler(os.Stderr, slog.HandlerOptions{Level: level})))
}

// Startup logs a one-line process banner; grounded on the teacher's
// PrintBanner, trimmed to a single structured line rather than ASCII art.
func Startup(bindAddress, configPath string) {
	slog.Info("arch gateway starting", "bind_address", bindAddress, "config_path", configPath)
}
