// Package tool implements the GABP tool registry: registration, discovery,
// dispatch, and reflective argument binding from annotated host methods.
package tool

import "context"

// Parameter describes one formal parameter of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Descriptor is the advertised shape of a registered tool, returned by
// tools/list.
type Descriptor struct {
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	RequiresAuth  bool        `json:"requiresAuth"`
	Parameters    []Parameter `json:"parameters"`
}

// Handler is the callable behind a registered tool. It receives the raw
// JSON `arguments` value from a tools/call request and returns a JSON-
// marshalable result, or an error which the dispatcher normalizes to
// InternalError.
type Handler func(ctx context.Context, args []byte) (any, error)
