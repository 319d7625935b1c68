// Package protocol defines the newline-delimited JSON records exchanged between
// a controller process and the environment bridge.
//
// Each request is one JSON object on its own line carrying a "cmd" field. Each
// response is one JSON object on its own line. Response shapes depend on the
// command that produced them; failures always use ErrorResponse.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command kinds understood by the bridge.
const (
	CmdInit      = "init"
	CmdListTasks = "list_tasks"
	CmdReset     = "reset"
	CmdStep      = "step"
	CmdShutdown  = "shutdown"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Command is one decoded request line. Optional fields are pointers so that an
// absent field can be told apart from an empty one.
type Command struct {
	Cmd          any     `json:"cmd,omitempty"`
	ConfigPath   *string `json:"config_path,omitempty"`
	Split        *string `json:"split,omitempty"`
	AlfworldData *string `json:"alfworld_data,omitempty"`
	GameFile     *string `json:"game_file,omitempty"`
	Action       *string `json:"action,omitempty"`
}

// Kind returns the command kind, or "None" when the request carried no cmd.
func (c *Command) Kind() string {
	if c == nil {
		return "None"
	}
	switch v := c.Cmd.(type) {
	case nil:
		return "None"
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Known reports whether the command kind is one the bridge dispatches.
func (c *Command) Known() bool {
	if c == nil {
		return false
	}
	kind, ok := c.Cmd.(string)
	if !ok {
		return false
	}
	switch kind {
	case CmdInit, CmdListTasks, CmdReset, CmdStep, CmdShutdown:
		return true
	}
	return false
}

// Decode failure reasons.
const (
	ReasonInvalidJSON  = "invalid_json"
	ReasonInvalidField = "invalid_field"
)

// DecodeError reports a request line that is not a valid command object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if field, typeErr := e.fieldError(); typeErr != nil {
		return fmt.Sprintf("Invalid field %s: expected %s, got %s", field, typeErr.Type, typeErr.Value)
	}
	return "Invalid JSON: " + e.Err.Error()
}

// Reason classifies the failure: a well-formed object with a mistyped field
// is ReasonInvalidField, anything else is ReasonInvalidJSON.
func (e *DecodeError) Reason() string {
	if _, typeErr := e.fieldError(); typeErr != nil {
		return ReasonInvalidField
	}
	return ReasonInvalidJSON
}

func (e *DecodeError) fieldError() (string, *json.UnmarshalTypeError) {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(e.Err, &typeErr) || typeErr.Field == "" {
		return "", nil
	}
	return typeErr.Field, typeErr
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses a single request line.
//
// The line must be a JSON object. Any JSON value is accepted for cmd so that a
// non-string kind is reported as an unknown command; the remaining fields must
// be strings when present.
func Decode(line []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &cmd, nil
}

// StatusResponse answers init and shutdown.
type StatusResponse struct {
	Status    string `json:"status"`
	TaskCount *int   `json:"task_count,omitempty"`
}

// InitResponse is the success shape of init.
type InitResponse = StatusResponse

// OK returns the plain {"status":"ok"} response.
func OK() *StatusResponse {
	return &StatusResponse{Status: StatusOK}
}

// Initialized returns the init success response for a catalog of n tasks.
func Initialized(n int) *InitResponse {
	return &StatusResponse{Status: StatusOK, TaskCount: &n}
}

// TasksResponse answers list_tasks. Tasks is never nil on the wire.
type TasksResponse struct {
	Tasks []string `json:"tasks"`
}

// ResetResponse answers reset.
type ResetResponse struct {
	Obs                string   `json:"obs"`
	AdmissibleCommands []string `json:"admissible_commands"`
	Goal               string   `json:"goal"`
	Done               bool     `json:"done"`
	Score              float64  `json:"score"`
}

// StepResponse answers step.
type StepResponse struct {
	Obs                string   `json:"obs"`
	AdmissibleCommands []string `json:"admissible_commands"`
	Done               bool     `json:"done"`
	Score              float64  `json:"score"`
}

// ErrorResponse is the failure shape shared by every command.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Trace  string `json:"trace,omitempty"`
}

// Tracer is implemented by errors that carry a diagnostic trace, such as a
// worker traceback or a recovered goroutine stack.
type Tracer interface {
	Trace() string
}

// TraceOf returns the first diagnostic trace found in err's chain.
func TraceOf(err error) string {
	var t Tracer
	if errors.As(err, &t) {
		return t.Trace()
	}
	return ""
}

// Failure builds an error response from err.
func Failure(err error) *ErrorResponse {
	if err == nil {
		return &ErrorResponse{Status: StatusError, Error: "unknown error"}
	}
	return &ErrorResponse{
		Status: StatusError,
		Error:  err.Error(),
		Trace:  TraceOf(err),
	}
}

// Failuref builds an error response from a formatted message.
func Failuref(format string, args ...any) *ErrorResponse {
	return &ErrorResponse{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}
