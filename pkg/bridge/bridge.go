// Package bridge runs the line protocol between a controller process and the
// environment engine: one JSON request per input line, one JSON response per
// output line, strictly in order.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"

	"github.com/polisai/envbridge/pkg/protocol"
	"github.com/polisai/envbridge/pkg/session"
)

// Loop reads commands, dispatches them to the session controller and writes
// one response per command. It is single-threaded: a command finishes before
// the next line is read.
type Loop struct {
	ctrl    SessionController
	reader  *bufio.Reader
	writer  *bufio.Writer
	encoder *json.Encoder
	logger  *slog.Logger
	events  *StructuredLogger
	metrics *Metrics
	tracing *TracingManager

	commands int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the loop's logger. Logs never go to the response stream.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records command metrics into m.
func WithMetrics(m *Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithTracing opens a span per command.
func WithTracing(tm *TracingManager) LoopOption {
	return func(l *Loop) { l.tracing = tm }
}

// NewLoop creates a loop reading requests from in and writing responses to out.
func NewLoop(ctrl SessionController, in io.Reader, out io.Writer, opts ...LoopOption) *Loop {
	l := &Loop{
		ctrl:   ctrl,
		reader: bufio.NewReaderSize(in, 64*1024),
		writer: bufio.NewWriter(out),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.encoder = json.NewEncoder(l.writer)
	l.encoder.SetEscapeHTML(false)
	l.events = NewStructuredLogger(l.logger)
	return l
}

// Run processes lines until shutdown, end of input, or a write failure.
//
// Shutdown and end of input return nil. The engine is released on every exit
// path. ctx is checked between commands; a command in flight is not
// interrupted.
func (l *Loop) Run(ctx context.Context) error {
	l.events.LogLoopEvent(ctx, "start", 0)

	for {
		if err := ctx.Err(); err != nil {
			l.release()
			l.events.LogLoopEvent(ctx, "cancelled", l.commands)
			return err
		}

		line, readErr := l.reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			stop, err := l.handle(ctx, trimmed)
			if err != nil {
				l.release()
				return err
			}
			if stop {
				l.events.LogLoopEvent(ctx, "shutdown", l.commands)
				return nil
			}
		}

		if readErr != nil {
			l.release()
			if errors.Is(readErr, io.EOF) {
				l.events.LogLoopEvent(ctx, "eof", l.commands)
				return nil
			}
			return fmt.Errorf("read request: %w", readErr)
		}
	}
}

// handle processes one non-blank line. It reports whether the loop should stop.
func (l *Loop) handle(ctx context.Context, line []byte) (bool, error) {
	l.commands++

	cmd, err := protocol.Decode(line)
	if err != nil {
		reason := protocol.ReasonInvalidJSON
		if derr := (*protocol.DecodeError)(nil); errors.As(err, &derr) {
			reason = derr.Reason()
		}
		l.reject(ctx, reason, err, len(line))
		return false, l.write(protocol.Failure(err))
	}

	kind := cmd.Kind()
	if !cmd.Known() {
		uerr := &UnknownCommandError{Kind: kind}
		l.reject(ctx, errorType(uerr), uerr, len(line))
		return false, l.write(protocol.Failure(uerr))
	}

	ctx, span := l.tracing.StartSpan(ctx, "envbridge."+kind, attribute.String("envbridge.command", kind))
	defer span.End()
	l.tracing.AddSpanAttributes(ctx, commandAttributes(cmd)...)

	timer := l.metrics.NewCommandTimer(kind)
	resp, err := l.dispatch(ctx, cmd)

	if err != nil {
		errType := errorType(err)
		duration := timer.Error(errType)
		l.tracing.RecordError(ctx, err)
		l.events.LogCommand(ctx, kind, duration, false, errType, err.Error())
		if l.metrics != nil && errors.Is(err, ErrCommandPanicked) {
			l.metrics.RecordPanic()
		}
		if perr := (*PanicError)(nil); errors.As(err, &perr) {
			l.logger.Error("Command panicked", "command", kind, "panic", fmt.Sprint(perr.Value), "stack", string(perr.Stack))
		}
		return false, l.write(protocol.Failure(err))
	}

	duration := timer.Success()
	l.events.LogCommand(ctx, kind, duration, true, "", "")
	if l.metrics != nil {
		l.recordOutcome(kind, resp)
	}

	if werr := l.write(resp); werr != nil {
		return false, werr
	}
	return kind == protocol.CmdShutdown, nil
}

// reject accounts for a line refused before dispatch.
func (l *Loop) reject(ctx context.Context, reason string, err error, lineLen int) {
	l.events.LogProtocolError(ctx, reason, err, lineLen)
	if l.metrics != nil {
		l.metrics.RecordProtocolError(reason)
	}
}

// release drops the engine when the loop ends without a shutdown command.
func (l *Loop) release() {
	l.ctrl.Close()
	if l.metrics != nil {
		l.metrics.RecordSessionEnded()
	}
}

// dispatch runs one known command, turning a handler panic into an error.
func (l *Loop) dispatch(ctx context.Context, cmd *protocol.Command) (resp any, err error) {
	kind := cmd.Kind()
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &PanicError{Command: kind, Value: r, Stack: debug.Stack()}
		}
	}()

	switch kind {
	case protocol.CmdInit:
		return l.ctrl.Init(ctx, session.InitRequest{
			ConfigPath: deref(cmd.ConfigPath),
			Split:      deref(cmd.Split),
			DataRoot:   deref(cmd.AlfworldData),
		})
	case protocol.CmdListTasks:
		return l.ctrl.ListTasks(), nil
	case protocol.CmdReset:
		return l.ctrl.Reset(ctx, deref(cmd.GameFile))
	case protocol.CmdStep:
		return l.ctrl.Step(ctx, cmd.Action)
	case protocol.CmdShutdown:
		return l.ctrl.Shutdown(), nil
	}
	return nil, &UnknownCommandError{Kind: kind}
}

// write encodes one response record and flushes it.
func (l *Loop) write(resp any) error {
	err := l.encoder.Encode(resp)
	if err != nil && isMarshalError(err) {
		// An unencodable response still owes the controller a line.
		err = l.encoder.Encode(protocol.Failuref("Failed to encode response: %v", err))
	}
	if err == nil {
		err = l.writer.Flush()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputClosed, err)
	}
	return nil
}

func isMarshalError(err error) bool {
	var (
		valueErr     *json.UnsupportedValueError
		typeErr      *json.UnsupportedTypeError
		marshalerErr *json.MarshalerError
	)
	return errors.As(err, &valueErr) || errors.As(err, &typeErr) || errors.As(err, &marshalerErr)
}

func (l *Loop) recordOutcome(kind string, resp any) {
	switch r := resp.(type) {
	case *protocol.InitResponse:
		if kind == protocol.CmdInit {
			l.metrics.RecordSessionStarted()
		} else {
			l.metrics.RecordSessionEnded()
		}
	case *protocol.ResetResponse:
		l.metrics.RecordEpisode()
	case *protocol.StepResponse:
		l.metrics.RecordStep(r.Done)
	}
}

func commandAttributes(cmd *protocol.Command) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if cmd.GameFile != nil {
		attrs = append(attrs, attribute.String("envbridge.game_file", *cmd.GameFile))
	}
	if cmd.Action != nil {
		attrs = append(attrs, attribute.String("envbridge.action", *cmd.Action))
	}
	if cmd.Split != nil {
		attrs = append(attrs, attribute.String("envbridge.split", *cmd.Split))
	}
	return attrs
}

func errorType(err error) string {
	var opErr *session.OpError
	switch {
	case IsUnknownCommand(err):
		return "unknown_command"
	case session.IsNotInitialized(err):
		return "not_initialized"
	case errors.Is(err, ErrCommandPanicked):
		return "panic"
	case errors.As(err, &opErr):
		return opErr.Op + "_failed"
	}
	return "internal"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
