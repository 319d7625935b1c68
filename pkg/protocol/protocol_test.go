package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type tracedErr struct{ msg, trace string }

func (e *tracedErr) Error() string { return e.msg }
func (e *tracedErr) Trace() string { return e.trace }

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		kind       string
		known      bool
		wantErr    string
		wantReason string
	}{
		{name: "init", line: `{"cmd":"init"}`, kind: "init", known: true},
		{name: "list_tasks", line: `{"cmd":"list_tasks"}`, kind: "list_tasks", known: true},
		{name: "unknown kind", line: `{"cmd":"fly"}`, kind: "fly"},
		{name: "missing cmd", line: `{}`, kind: "None"},
		{name: "null cmd", line: `{"cmd":null}`, kind: "None"},
		{name: "numeric cmd", line: `{"cmd":7}`, kind: "7"},
		{name: "not json", line: `not json`, wantErr: "Invalid JSON: ", wantReason: ReasonInvalidJSON},
		{name: "array", line: `[1,2]`, wantErr: "Invalid JSON: ", wantReason: ReasonInvalidJSON},
		{name: "truncated", line: `{"cmd":"step"`, wantErr: "Invalid JSON: ", wantReason: ReasonInvalidJSON},
		{
			name:       "non-string action",
			line:       `{"cmd":"step","action":3}`,
			wantErr:    "Invalid field action: expected string, got number",
			wantReason: ReasonInvalidField,
		},
		{
			name:       "non-string game_file",
			line:       `{"cmd":"reset","game_file":5}`,
			wantErr:    "Invalid field game_file: expected string, got number",
			wantReason: ReasonInvalidField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Decode([]byte(tt.line))
			if tt.wantErr != "" {
				require.Error(t, err)
				var de *DecodeError
				require.True(t, errors.As(err, &de))
				assert.True(t, strings.HasPrefix(err.Error(), tt.wantErr), err.Error())
				assert.Equal(t, tt.wantReason, de.Reason())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, cmd.Kind())
			assert.Equal(t, tt.known, cmd.Known())
		})
	}
}

func TestDecodeOptionalFields(t *testing.T) {
	cmd, err := Decode([]byte(`{"cmd":"init","config_path":"/c.yaml","split":"train","alfworld_data":"/data"}`))
	require.NoError(t, err)
	require.NotNil(t, cmd.ConfigPath)
	require.NotNil(t, cmd.Split)
	require.NotNil(t, cmd.AlfworldData)
	assert.Equal(t, "/c.yaml", *cmd.ConfigPath)
	assert.Equal(t, "train", *cmd.Split)
	assert.Equal(t, "/data", *cmd.AlfworldData)
	assert.Nil(t, cmd.GameFile)
	assert.Nil(t, cmd.Action)

	cmd, err = Decode([]byte(`{"cmd":"step","action":""}`))
	require.NoError(t, err)
	require.NotNil(t, cmd.Action, "an empty action is present, not absent")
	assert.Equal(t, "", *cmd.Action)
}

func TestResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		resp any
		want string
	}{
		{name: "ok", resp: OK(), want: `{"status":"ok"}`},
		{name: "initialized", resp: Initialized(3), want: `{"status":"ok","task_count":3}`},
		{name: "initialized zero", resp: Initialized(0), want: `{"status":"ok","task_count":0}`},
		{name: "empty tasks", resp: &TasksResponse{Tasks: []string{}}, want: `{"tasks":[]}`},
		{
			name: "reset",
			resp: &ResetResponse{Obs: "room", AdmissibleCommands: []string{"look"}, Goal: "room"},
			want: `{"obs":"room","admissible_commands":["look"],"goal":"room","done":false,"score":0}`,
		},
		{
			name: "step",
			resp: &StepResponse{Obs: "done", AdmissibleCommands: []string{}, Done: true, Score: 1},
			want: `{"obs":"done","admissible_commands":[],"done":true,"score":1}`,
		},
		{name: "error", resp: Failuref("Unknown command: %s", "fly"), want: `{"status":"error","error":"Unknown command: fly"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestFailure(t *testing.T) {
	resp := Failure(errors.New("boom"))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "boom", resp.Error)
	assert.Empty(t, resp.Trace)

	wrapped := errors.Join(errors.New("outer"), &tracedErr{msg: "inner", trace: "line 1"})
	resp = Failure(wrapped)
	assert.Equal(t, "line 1", resp.Trace)
	assert.Contains(t, resp.Error, "inner")

	assert.Equal(t, "unknown error", Failure(nil).Error)
}

func TestDecodeNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.SliceOf(rapid.Byte()).Draw(t, "line")
		cmd, err := Decode(line)
		if err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("unexpected error type %T", err)
			}
			return
		}
		_ = cmd.Kind()
	})
}

func TestKnownCommandsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom([]string{CmdInit, CmdListTasks, CmdReset, CmdStep, CmdShutdown}).Draw(t, "kind")
		data, err := json.Marshal(map[string]string{"cmd": kind})
		if err != nil {
			t.Fatal(err)
		}
		cmd, err := Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		if !cmd.Known() || cmd.Kind() != kind {
			t.Fatalf("kind %q decoded as %q (known=%v)", kind, cmd.Kind(), cmd.Known())
		}
	})
}
