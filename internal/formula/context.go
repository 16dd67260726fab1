package formula

import (
	"sort"
)

// Context is the immutable evaluation context: the registered data columns
// and the global-constant namespace a formula may reference. Schema or
// statistics changes produce a new Context via the With* methods; evaluators
// and workers receive Context snapshots by value and never share mutable
// state.
type Context struct {
	variables map[string]struct{}
	constants map[string]float64
}

// NewContext creates a context with no registered variables and only the
// science constants.
func NewContext() Context {
	return Context{
		variables: map[string]struct{}{},
		constants: map[string]float64{},
	}
}

// WithVariables returns a context whose registered-variable set is replaced
// by names.
func (c Context) WithVariables(names []string) Context {
	variables := make(map[string]struct{}, len(names))
	for _, name := range names {
		variables[name] = struct{}{}
	}
	return Context{variables: variables, constants: c.constants}
}

// WithConstants returns a context with the given constants merged over the
// existing custom-constant namespace.
func (c Context) WithConstants(constants map[string]float64) Context {
	merged := make(map[string]float64, len(c.constants)+len(constants))
	for name, value := range c.constants {
		merged[name] = value
	}
	for name, value := range constants {
		merged[name] = value
	}
	return Context{variables: c.variables, constants: merged}
}

// WithoutConstant returns a context with one custom constant removed.
// Science constants cannot be removed.
func (c Context) WithoutConstant(name string) Context {
	if _, ok := c.constants[name]; !ok {
		return c
	}
	remaining := make(map[string]float64, len(c.constants)-1)
	for k, v := range c.constants {
		if k != name {
			remaining[k] = v
		}
	}
	return Context{variables: c.variables, constants: remaining}
}

// HasVariable reports whether name is a registered data column.
func (c Context) HasVariable(name string) bool {
	_, ok := c.variables[name]
	return ok
}

// Constant resolves name against the science constants and the custom
// namespace. Custom constants shadow nothing: science constants win.
func (c Context) Constant(name string) (float64, bool) {
	if v, ok := ScienceConstants[name]; ok {
		return v, true
	}
	v, ok := c.constants[name]
	return v, ok
}

// HasConstant reports whether name resolves to any constant.
func (c Context) HasConstant(name string) bool {
	_, ok := c.Constant(name)
	return ok
}

// Variables returns the registered variable names in sorted order.
func (c Context) Variables() []string {
	names := make([]string, 0, len(c.variables))
	for name := range c.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Constants returns a copy of the full constant namespace, science constants
// included.
func (c Context) Constants() map[string]float64 {
	out := make(map[string]float64, len(ScienceConstants)+len(c.constants))
	for name, value := range c.constants {
		out[name] = value
	}
	for name, value := range ScienceConstants {
		out[name] = value
	}
	return out
}
