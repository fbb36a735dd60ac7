package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Meta is the explicit substitute for a host language's
// Tool(name, description?, requiresAuth?) method annotation. Go has no
// runtime reflection of method annotations, so callers supply this
// alongside a MethodSpec instead of the binder discovering it on its own
// to expose the same surface through explicit builder calls.
type Meta struct {
	Name         string
	Description  string
	RequiresAuth *bool // nil defaults to true, matching the descriptor's default
}

// MethodSpec names one exported method on a host object to bind as a tool.
type MethodSpec struct {
	Method string // Go method name, e.g. "GetInventory"
	Tool   Meta
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Bind reflects over host's method named spec.Method and produces the
// Descriptor/Handler pair that Register expects ("Reflective
// binding"). The method must have one of these shapes:
//
//	func(context.Context) (Result, error)
//	func(context.Context, Args) (Result, error)
//	func(context.Context, *Args) (Result, error)
//
// Args is a struct whose exported fields describe the tool's parameters —
// the Go-idiomatic stand-in for a per-parameter ToolParameter annotation.
// A `json` tag gives the wire parameter name; a `gabp` tag carries
// description/required/default, e.g.:
//
//	type GetItemArgs struct {
//	    ItemID string `json:"itemId" gabp:"description=inventory slot id;required"`
//	    Count  int    `json:"count" gabp:"default=1"`
//	}
//
// Default values in the gabp tag must be valid JSON literals.
func Bind(host any, spec MethodSpec) (Descriptor, Handler, error) {
	v := reflect.ValueOf(host)
	m := v.MethodByName(spec.Method)
	if !m.IsValid() {
		return Descriptor{}, nil, fmt.Errorf("tool: host has no method %q", spec.Method)
	}
	mt := m.Type()

	if mt.NumIn() < 1 || mt.In(0) != contextType {
		return Descriptor{}, nil, fmt.Errorf("tool: %s: first parameter must be context.Context", spec.Method)
	}
	if mt.NumOut() != 2 || mt.Out(1) != errorType {
		return Descriptor{}, nil, fmt.Errorf("tool: %s: must return (Result, error)", spec.Method)
	}
	if mt.NumIn() > 2 {
		return Descriptor{}, nil, fmt.Errorf("tool: %s: must take (context.Context) or (context.Context, Args)", spec.Method)
	}

	var argsType reflect.Type
	argIsPtr := false
	if mt.NumIn() == 2 {
		argsType = mt.In(1)
		if argsType.Kind() == reflect.Ptr {
			argIsPtr = true
			argsType = argsType.Elem()
		}
		if argsType.Kind() != reflect.Struct {
			return Descriptor{}, nil, fmt.Errorf("tool: %s: second parameter must be a struct", spec.Method)
		}
	}

	params, fields := paramsFromArgsType(argsType)

	requiresAuth := true
	if spec.Tool.RequiresAuth != nil {
		requiresAuth = *spec.Tool.RequiresAuth
	}
	desc := Descriptor{
		Name:         spec.Tool.Name,
		Description:  spec.Tool.Description,
		RequiresAuth: requiresAuth,
		Parameters:   params,
	}

	handler := func(ctx context.Context, raw []byte) (any, error) {
		in := []reflect.Value{reflect.ValueOf(ctx)}
		if argsType != nil {
			argsVal, err := coerceArgs(argsType, fields, raw)
			if err != nil {
				return nil, err
			}
			if argIsPtr {
				ptr := reflect.New(argsType)
				ptr.Elem().Set(argsVal)
				in = append(in, ptr)
			} else {
				in = append(in, argsVal)
			}
		}
		out := m.Call(in)
		if errVal, _ := out[1].Interface().(error); errVal != nil {
			return nil, errVal
		}
		return out[0].Interface(), nil
	}

	return desc, handler, nil
}

// RegisterFrom binds and registers every spec against host in one call
// ("register_tools_from").
func RegisterFrom(reg *Registry, host any, specs []MethodSpec) error {
	for _, spec := range specs {
		desc, handler, err := Bind(host, spec)
		if err != nil {
			return err
		}
		if err := reg.Register(desc.Name, handler, &desc); err != nil {
			return err
		}
	}
	return nil
}

type fieldBinding struct {
	structIndex int
	wireName    string
	hasDefault  bool
	defaultVal  string
}

func paramsFromArgsType(t reflect.Type) ([]Parameter, []fieldBinding) {
	if t == nil {
		return nil, nil
	}
	params := make([]Parameter, 0, t.NumField())
	fields := make([]fieldBinding, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		wireName := f.Name
		if j := f.Tag.Get("json"); j != "" {
			wireName = strings.Split(j, ",")[0]
		}
		description, required, hasDefault, defaultRaw := parseGabpTag(f.Tag.Get("gabp"))

		p := Parameter{
			Name:        wireName,
			Type:        f.Type.String(),
			Description: description,
			Required:    required,
		}
		if hasDefault {
			p.Default = json.RawMessage(defaultRaw)
		}
		params = append(params, p)
		fields = append(fields, fieldBinding{
			structIndex: i,
			wireName:    wireName,
			hasDefault:  hasDefault,
			defaultVal:  defaultRaw,
		})
	}
	return params, fields
}

// parseGabpTag parses a `gabp:"description=...;required;default=..."` tag.
// required defaults true unless a default value is present, which implies
// optional unless the tag overrides it explicitly.
func parseGabpTag(tag string) (description string, required bool, hasDefault bool, defaultVal string) {
	required = true
	if tag == "" {
		return "", true, false, ""
	}
	explicit := false
	for _, part := range strings.Split(tag, ";") {
		part = strings.TrimSpace(part)
		switch {
		case part == "required":
			required = true
			explicit = true
		case part == "optional":
			required = false
			explicit = true
		case strings.HasPrefix(part, "description="):
			description = strings.TrimPrefix(part, "description=")
		case strings.HasPrefix(part, "default="):
			hasDefault = true
			defaultVal = strings.TrimPrefix(part, "default=")
			if !explicit {
				required = false
			}
		}
	}
	return description, required, hasDefault, defaultVal
}

// coerceArgs converts the raw JSON `arguments` value into argsType: each
// formal parameter is looked up by wire name and coerced via a JSON
// round-trip into the target type; on failure or absence, it falls back
// to the declared default or the field's zero value.
func coerceArgs(argsType reflect.Type, fields []fieldBinding, raw []byte) (reflect.Value, error) {
	out := reflect.New(argsType).Elem()

	var asMap map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &asMap); err != nil {
			return reflect.Value{}, fmt.Errorf("tool: arguments must be a JSON object: %w", err)
		}
	}

	for _, fb := range fields {
		fieldVal := out.Field(fb.structIndex)
		rawVal, present := asMap[fb.wireName]
		if !present {
			if fb.hasDefault {
				applyDefault(fieldVal, fb.defaultVal)
			}
			continue
		}
		target := reflect.New(fieldVal.Type())
		if err := json.Unmarshal(rawVal, target.Interface()); err != nil {
			if fb.hasDefault {
				applyDefault(fieldVal, fb.defaultVal)
			}
			continue
		}
		fieldVal.Set(target.Elem())
	}
	return out, nil
}

// applyDefault best-effort parses defaultVal as JSON into fieldVal,
// leaving the field at its zero value if the default itself is malformed.
func applyDefault(fieldVal reflect.Value, defaultVal string) {
	target := reflect.New(fieldVal.Type())
	if err := json.Unmarshal([]byte(defaultVal), target.Interface()); err != nil {
		return
	}
	fieldVal.Set(target.Elem())
}
