package logging

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Wrap a slog.Handler so that records logged with the *Context methods carry the active trace
//
// With a Google Cloud project set the trace id is qualified so Cloud Logging links the entry
// to Cloud Trace. Without one plain traceId/spanId attributes are added.
func NewTraceLogHandler(base slog.Handler, googleCloudProject string) slog.Handler {
	return &traceLogHandler{base: base, project: googleCloudProject}
}

type traceLogHandler struct {
	base    slog.Handler
	project string
}

func (h *traceLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *traceLogHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return h.base.Handle(ctx, r)
	}

	if h.project == "" {
		r.AddAttrs(
			slog.String("traceId", sc.TraceID().String()),
			slog.String("spanId", sc.SpanID().String()),
		)
		return h.base.Handle(ctx, r)
	}

	// https://docs.cloud.google.com/logging/docs/agent/logging/configuration#special-fields
	r.AddAttrs(
		slog.String("logging.googleapis.com/trace", fmt.Sprintf("projects/%s/traces/%s", h.project, sc.TraceID().String())),
		slog.String("logging.googleapis.com/spanId", sc.SpanID().String()),
		slog.Bool("logging.googleapis.com/trace_sampled", sc.TraceFlags().IsSampled()),
	)
	return h.base.Handle(ctx, r)
}

func (h *traceLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceLogHandler{base: h.base.WithAttrs(attrs), project: h.project}
}

func (h *traceLogHandler) WithGroup(name string) slog.Handler {
	return &traceLogHandler{base: h.base.WithGroup(name), project: h.project}
}

var _ slog.Handler = (*traceLogHandler)(nil)
