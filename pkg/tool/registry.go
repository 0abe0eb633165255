package tool

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds one agent's tools. Names are unique; duplicates are
// rejected at construction. The rendered description block is memoized
// and invalidated on any registry change.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	names []string // sorted
	desc  string   // cached Describe output, "" when dirty
}

// NewRegistry builds a registry from the given tools.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.tools[t.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
		}
		r.tools[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// NamesCSV returns the sorted names joined by ", " for prompt injection.
func (r *Registry) NamesCSV() string {
	return strings.Join(r.Names(), ", ")
}

// SetMemory attaches learned usage guidance to a tool and invalidates the
// description cache.
func (r *Registry) SetMemory(name, guidance string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	t.Memory = guidance
	r.desc = ""
	return nil
}

// Describe returns the numbered, sorted concatenation of every tool's
// full description, with usage guidance appended for tools that carry
// learned memory. The result is cached until the registry changes.
func (r *Registry) Describe() string {
	r.mu.RLock()
	if r.desc != "" {
		defer r.mu.RUnlock()
		return r.desc
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.desc != "" {
		return r.desc
	}

	if len(r.names) == 0 {
		return "No tools available."
	}

	var sb strings.Builder
	for i, name := range r.names {
		t := r.tools[name]
		sb.WriteString(fmt.Sprintf("%d. %s", i+1, t.FullDescription()))
		if t.Memory != "" {
			sb.WriteString(fmt.Sprintf("\n    Usage guidance: %s", t.Memory))
		}
		if i < len(r.names)-1 {
			sb.WriteString("\n\n")
		}
	}
	r.desc = sb.String()
	return r.desc
}
