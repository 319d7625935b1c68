package bridge

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// StructuredLogger provides enhanced logging capabilities for the bridge
type StructuredLogger struct {
	logger *slog.Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *slog.Logger) *StructuredLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredLogger{logger: logger}
}

// LogCommand logs one dispatched command with structured fields
func (sl *StructuredLogger) LogCommand(ctx context.Context, command string, duration time.Duration, success bool, errorType string, errMsg string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.Duration("duration", duration),
		slog.Bool("success", success),
	}

	if !success {
		if errorType != "" {
			attrs = append(attrs, slog.String("error_type", errorType))
		}
		if errMsg != "" {
			attrs = append(attrs, slog.String("error", errMsg))
		}
	}

	attrs = appendTraceAttrs(ctx, attrs)

	if success {
		sl.logger.LogAttrs(ctx, slog.LevelDebug, "Command processed", attrs...)
	} else {
		sl.logger.LogAttrs(ctx, slog.LevelWarn, "Command failed", attrs...)
	}
}

// LogProtocolError logs a request line that could not be dispatched
func (sl *StructuredLogger) LogProtocolError(ctx context.Context, errorType string, err error, lineLen int) {
	attrs := []slog.Attr{
		slog.String("error_type", errorType),
		slog.Int("line_bytes", lineLen),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	sl.logger.LogAttrs(ctx, slog.LevelWarn, "Protocol error", attrs...)
}

// LogLoopEvent logs loop lifecycle events (start, eof, shutdown)
func (sl *StructuredLogger) LogLoopEvent(ctx context.Context, eventType string, commands int) {
	sl.logger.LogAttrs(ctx, slog.LevelInfo, "Loop event",
		slog.String("event_type", eventType),
		slog.Int("commands", commands),
	)
}

func appendTraceAttrs(ctx context.Context, attrs []slog.Attr) []slog.Attr {
	if traceID := getTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if spanID := getSpanID(ctx); spanID != "" {
		attrs = append(attrs, slog.String("span_id", spanID))
	}
	return attrs
}

// Helper functions to extract trace information from context

func getTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

func getSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
