// Package agent implements the capability registry, intent classification,
// dispatch, and multi-step workflows of the nutrition assistant.
package agent

import (
	"context"
	"fmt"
)

// Handler executes one capability with fully resolved parameters.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Param describes one parameter a capability accepts. Default is filled by
// the dispatcher when the caller omits the parameter; Required parameters
// have no default and must be present at invocation time.
type Param struct {
	Name     string
	Required bool
	Default  any
}

// Capability is one named operation the agent can dispatch to.
type Capability struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// CapabilityInfo is the caller-facing description of a registered capability.
type CapabilityInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required_params,omitempty"`
}

// Registry holds the registered capabilities. Registration happens once at
// startup; lookups afterwards are read-only and safe for concurrent use.
type Registry struct {
	order []string
	caps  map[string]*Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Capability)}
}

// Register adds a capability, rejecting duplicates and incomplete entries.
func (r *Registry) Register(c *Capability) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("capability must have a name")
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %q must have a handler", c.Name)
	}
	if _, exists := r.caps[c.Name]; exists {
		return fmt.Errorf("capability %q is already registered", c.Name)
	}
	r.order = append(r.order, c.Name)
	r.caps[c.Name] = c
	return nil
}

// Get returns a capability by name.
func (r *Registry) Get(name string) (*Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Names returns the capability names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Describe returns caller-facing info for every capability in registration
// order, for the classifier prompt and the suggest endpoint.
func (r *Registry) Describe() []CapabilityInfo {
	infos := make([]CapabilityInfo, 0, len(r.order))
	for _, name := range r.order {
		c := r.caps[name]
		var required []string
		for _, p := range c.Params {
			if p.Required {
				required = append(required, p.Name)
			}
		}
		infos = append(infos, CapabilityInfo{
			Name:        c.Name,
			Description: c.Description,
			Required:    required,
		})
	}
	return infos
}

// stringParam reads a string parameter, falling back to def when absent,
// empty, or not a string.
func stringParam(params map[string]any, name, def string) string {
	if v, ok := params[name]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// intParam reads an integer parameter. JSON decoding produces float64, so
// both forms are accepted.
func intParam(params map[string]any, name string, def int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// stringsParam reads a string-slice parameter, accepting both []string and
// the []any a JSON decoder produces.
func stringsParam(params map[string]any, name string) []string {
	switch v := params[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
