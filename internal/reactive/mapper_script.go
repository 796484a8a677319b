package reactive

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// ScriptMapper runs a user-supplied JavaScript function as a mapper,
// letting a resource's param schema (internal/resource) describe a
// transform declaratively instead of as compiled Go. Isolation mirrors the
// enclave script engine this is grounded on: the source is compiled once,
// but every call gets a fresh goja.Runtime so one key's script state can
// never leak into another's (spec §3 "Mapper must be stateless").
type ScriptMapper[K comparable, V1, V2 any] struct {
	name       string
	program    *goja.Program
	entryPoint string
}

// NewScriptMapper compiles script (which must define a function named
// entryPoint(key, value) returning the mapped value, or null/undefined to
// filter the key out; other falsy results such as 0, "" or false are kept)
// and returns a Mapper bound to name.
func NewScriptMapper[K comparable, V1, V2 any](name, script, entryPoint string) (*ScriptMapper[K, V1, V2], error) {
	program, err := goja.Compile(name+".js", script, false)
	if err != nil {
		return nil, fmt.Errorf("compile mapper %q: %w", name, err)
	}
	return &ScriptMapper[K, V1, V2]{name: name, program: program, entryPoint: entryPoint}, nil
}

// Name implements Mapper.
func (s *ScriptMapper[K, V1, V2]) Name() string { return s.name }

// MapElement implements Mapper by evaluating the compiled script against a
// freshly constructed runtime.
func (s *ScriptMapper[K, V1, V2]) MapElement(key K, value V1) ([]KV[K, V2], error) {
	vm := goja.New()
	if _, err := vm.RunProgram(s.program); err != nil {
		return nil, fmt.Errorf("mapper %q: load script: %w", s.name, err)
	}

	entry, ok := goja.AssertFunction(vm.Get(s.entryPoint))
	if !ok {
		return nil, fmt.Errorf("mapper %q: entry point %q is not a function", s.name, s.entryPoint)
	}

	result, err := entry(goja.Undefined(), vm.ToValue(key), vm.ToValue(value))
	if err != nil {
		return nil, fmt.Errorf("mapper %q: %w", s.name, err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}

	var out V2
	exported := result.Export()
	if typed, ok := exported.(V2); ok {
		out = typed
	} else {
		// Round-trip through JSON for shapes goja exports as plain
		// map[string]interface{}/[]interface{} rather than V2 directly.
		raw, err := json.Marshal(exported)
		if err != nil {
			return nil, fmt.Errorf("mapper %q: encode result: %w", s.name, err)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("mapper %q: decode result into %T: %w", s.name, out, err)
		}
	}
	return []KV[K, V2]{{Key: key, Value: out}}, nil
}
