package skills

import (
	"fmt"
	"sort"
)

// Builder collects definitions during startup. It is not safe for
// concurrent use; Build freezes the result.
type Builder struct {
	defs map[string]Definition
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{defs: make(map[string]Definition)}
}

// Register adds a definition. Duplicate names are rejected.
func (b *Builder) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := b.defs[def.Name]; exists {
		return fmt.Errorf("skill %q already registered", def.Name)
	}
	b.defs[def.Name] = def
	return nil
}

// Has reports whether name is already registered.
func (b *Builder) Has(name string) bool {
	_, ok := b.defs[name]
	return ok
}

// Build returns an immutable registry of everything registered so far.
func (b *Builder) Build() *Registry {
	skills := make(map[string]Definition, len(b.defs))
	names := make([]string, 0, len(b.defs))
	for name, def := range b.defs {
		skills[name] = def.clone()
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{skills: skills, names: names}
}

// Registry is the read-only skill catalog. It is safe for concurrent use.
type Registry struct {
	skills map[string]Definition
	names  []string
}

// Get returns the definition with the given name.
func (r *Registry) Get(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.skills[name]
	return def.clone(), ok
}

// All returns a copy of every definition sorted by name.
func (r *Registry) All() []Definition {
	if r == nil {
		return nil
	}
	out := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.skills[name].clone())
	}
	return out
}

// Names returns registered skill names sorted alphabetically.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

func (d Definition) clone() Definition {
	d.Params = append([]Param(nil), d.Params...)
	return d
}
