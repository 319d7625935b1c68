package session

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/polisai/envbridge/pkg/engine"
)

// The helpers below collapse the engine's batch-of-one results to slot 0.
// Each accepts either a scalar or a batch.

func firstText(v any) string {
	v, ok := slot0(v)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func firstFloat(v any) (float64, error) {
	v, ok := slot0(v)
	if !ok {
		return 0, fmt.Errorf("empty score batch")
	}
	switch t := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing score")
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert score %q to float", t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("unsupported score type %T", v)
}

func firstBool(v any) (bool, error) {
	v, ok := slot0(v)
	if !ok {
		return false, fmt.Errorf("empty done batch")
	}
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		return t != "", nil
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0, nil
	case reflect.Map, reflect.Slice:
		return rv.Len() > 0, nil
	}
	return false, fmt.Errorf("unsupported done type %T", v)
}

// firstCommands returns the legal actions of slot 0. A missing entry yields an
// empty list. A flat list of strings is taken as an unbatched slot.
func firstCommands(infos engine.Infos) []string {
	raw, ok := infos[engine.InfoAdmissibleCommands]
	if !ok || raw == nil {
		return []string{}
	}

	switch t := raw.(type) {
	case []string:
		return append([]string{}, t...)
	case [][]string:
		if len(t) == 0 {
			return []string{}
		}
		return append([]string{}, t[0]...)
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return []string{}
	}
	if _, ok := rv.Index(0).Interface().(string); ok {
		return stringsOf(rv)
	}
	inner := reflect.ValueOf(rv.Index(0).Interface())
	if inner.Kind() != reflect.Slice {
		return []string{}
	}
	return stringsOf(inner)
}

// firstGameFile returns the game file reported for slot 0, if any.
func firstGameFile(infos engine.Infos) string {
	raw, ok := infos[engine.InfoGameFile]
	if !ok {
		return ""
	}
	return firstText(raw)
}

func stringsOf(rv reflect.Value) []string {
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, firstText(rv.Index(i).Interface()))
	}
	return out
}

// slot0 unwraps one batch level. Scalars pass through. ok is false for an
// empty batch.
func slot0(v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch t := v.(type) {
	case string, []byte:
		return t, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return nil, false
		}
		return rv.Index(0).Interface(), true
	}
	return v, true
}

// goalOf takes the first line of an observation as the episode goal.
func goalOf(obs string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(obs), "\n")
	return line
}
