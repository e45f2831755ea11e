package target

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownTarget is returned when a target name is not registered.
var ErrUnknownTarget = errors.New("unknown target")

// Registry is the read-only routing table of deploy targets.
type Registry struct {
	targets map[string]*Target
	names   []string
}

// NewRegistry creates a registry from validated targets.
func NewRegistry(targets map[string]*Target) *Registry {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Registry{
		targets: targets,
		names:   names,
	}
}

// Get retrieves a target by name
func (r *Registry) Get(name string) (*Target, error) {
	t, exists := r.targets[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	return t, nil
}

// List returns all target names in sorted order.
func (r *Registry) List() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns the targets in name order.
func (r *Registry) All() []*Target {
	out := make([]*Target, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.targets[name])
	}
	return out
}

// Count returns the number of targets
func (r *Registry) Count() int {
	return len(r.targets)
}
