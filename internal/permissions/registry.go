package permissions

import (
	"fmt"
	"sort"
)

// Registry holds the permission definitions and resolves tools to them.
// It is built once at startup and read-only afterwards.
type Registry struct {
	defs   []*Definition
	byTool map[string]*Definition
	byKey  map[string]*Definition
}

// NewRegistry validates the definitions and indexes them by tool and key
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		byTool: make(map[string]*Definition),
		byKey:  make(map[string]*Definition),
	}

	for i := range defs {
		def := &defs[i]
		if def.Key == "" {
			return nil, fmt.Errorf("definition %d: missing key", i)
		}
		if len(def.Tools) == 0 {
			return nil, fmt.Errorf("definition %s: no tools", def.Key)
		}
		if _, exists := r.byKey[def.Key]; exists {
			return nil, fmt.Errorf("duplicate definition key: %s", def.Key)
		}
		if _, ok := planRanks[def.MinPlan]; !ok {
			return nil, fmt.Errorf("definition %s: unknown plan %q", def.Key, def.MinPlan)
		}

		for _, tool := range def.Tools {
			if tool == "" {
				return nil, fmt.Errorf("definition %s: empty tool name", def.Key)
			}
			if owner, exists := r.byTool[tool]; exists {
				return nil, fmt.Errorf("tool %s claimed by both %s and %s", tool, owner.Key, def.Key)
			}
			r.byTool[tool] = def
		}

		r.byKey[def.Key] = def
		r.defs = append(r.defs, def)
	}

	return r, nil
}

// DefinitionFor returns the definition covering the tool, nil if unknown
func (r *Registry) DefinitionFor(tool string) *Definition {
	return r.byTool[tool]
}

// Definition returns the definition with the given key, nil if absent
func (r *Registry) Definition(key string) *Definition {
	return r.byKey[key]
}

// Definitions returns all definitions in registration order
func (r *Registry) Definitions() []*Definition {
	out := make([]*Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Tools returns every registered tool name, sorted
func (r *Registry) Tools() []string {
	tools := make([]string, 0, len(r.byTool))
	for tool := range r.byTool {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}
