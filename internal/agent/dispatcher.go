package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quangtienngo661/NouMeal-be/internal/apperr"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

// Dispatcher resolves a capability by name and invokes it with defaults and
// the user's profile applied. Dispatch is synchronous and deterministic:
// identical inputs against identical adapter behavior produce identical
// results.
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(registry *Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		log:      log.With("component", "dispatcher"),
	}
}

// Registry exposes the underlying registry for capability introspection.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Execute runs one capability. The caller's params map is never mutated.
// Parameter resolution order: caller params, then profile overlay
// (health_condition and target_calories only), then capability defaults.
// Handler panics come back as internal errors, never crash the process.
func (d *Dispatcher) Execute(ctx context.Context, name string, params map[string]any, profile *store.Profile) (result map[string]any, err error) {
	capability, ok := d.registry.Get(name)
	if !ok {
		return nil, apperr.UnknownCapability(name)
	}

	resolved := make(map[string]any, len(params)+len(capability.Params))
	for k, v := range params {
		resolved[k] = v
	}

	if profile != nil {
		if _, set := resolved["health_condition"]; !set && profile.HealthCondition != "" {
			resolved["health_condition"] = profile.HealthCondition
		}
		if _, set := resolved["target_calories"]; !set && profile.TargetCalories > 0 {
			resolved["target_calories"] = profile.TargetCalories
		}
	}

	for _, p := range capability.Params {
		if _, set := resolved[p.Name]; !set && p.Default != nil {
			resolved[p.Name] = p.Default
		}
	}

	for _, p := range capability.Params {
		if !p.Required {
			continue
		}
		if v, set := resolved[p.Name]; !set || v == nil {
			return nil, apperr.Validationf("capability %q requires parameter %q", name, p.Name)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "Capability handler panicked", "capability", name, "panic", r)
			result = nil
			err = apperr.Internal(fmt.Errorf("capability %s panicked: %v", name, r))
		}
	}()

	d.log.DebugContext(ctx, "Dispatching capability", "capability", name)
	return capability.Handler(ctx, resolved)
}
