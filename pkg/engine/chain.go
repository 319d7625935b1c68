package engine

import (
	"reflect"
	"slices"
)

// TaskFileAttrs lists the attribute names under which layers cache the active
// task set. Every name is tried on every layer.
var TaskFileAttrs = []string{"GameFiles", "gameFiles", "game_files"}

// maxChainDepth bounds the delegate walk so a cyclic chain cannot hang the bridge.
const maxChainDepth = 64

var stringSliceType = reflect.TypeOf([]string(nil))

// SetTaskFiles narrows the active task set of every layer in env's delegate
// chain to files. The walk starts at env and follows Wrapper.Unwrap until a
// layer has no inner delegate. Each layer receives its own copy of files.
//
// It returns the number of attributes written across the chain.
func SetTaskFiles(env Env, files []string) int {
	written := 0
	for _, layer := range Layers(env) {
		for _, name := range TaskFileAttrs {
			if setAttr(layer, name, slices.Clone(files)) {
				written++
			}
		}
	}
	return written
}

// Layers returns the delegate chain of env from the outermost layer inward.
func Layers(env Env) []Env {
	var chain []Env
	seen := make(map[Env]struct{})

	layer := env
	for depth := 0; depth < maxChainDepth && !isNil(layer); depth++ {
		if reflect.TypeOf(layer).Comparable() {
			if _, ok := seen[layer]; ok {
				break
			}
			seen[layer] = struct{}{}
		}
		chain = append(chain, layer)

		w, ok := layer.(Wrapper)
		if !ok {
			break
		}
		layer = w.Unwrap()
	}
	return chain
}

// LayerNames renders the chain for logs, outermost first.
func LayerNames(env Env) []string {
	chain := Layers(env)
	names := make([]string, 0, len(chain))
	for _, layer := range chain {
		names = append(names, reflect.TypeOf(layer).String())
	}
	return names
}

func setAttr(layer Env, name string, files []string) bool {
	if s, ok := layer.(AttrSetter); ok && s.SetAttr(name, files) {
		return true
	}

	v := reflect.ValueOf(layer)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return false
	}
	f := v.FieldByName(name)
	if !f.IsValid() || !f.CanSet() || f.Type() != stringSliceType {
		return false
	}
	f.Set(reflect.ValueOf(files))
	return true
}

func isNil(env Env) bool {
	if env == nil {
		return true
	}
	v := reflect.ValueOf(env)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
