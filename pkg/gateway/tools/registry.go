// Package tools holds the named side-effecting functions the backend may
// call during a session, plus the registry the dispatch gate resolves them
// through.
package tools

import (
	"context"
	"sort"
	"strings"

	"github.com/aRaikoFunakami/copilot-automotive/pkg/core/realtime"
)

// Tool is a named, schema-described callable. Execute returns structured
// data; a top-level `return_direct: true` in the result signals that the raw
// payload bypasses the backend's verbal response.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

type Registry struct {
	byName map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	registry := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		registry.byName[t.Name()] = t
	}
	return registry
}

func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.byName[strings.TrimSpace(name)]
	return t, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions renders every registered tool in the shape the backend's
// session configuration expects.
func (r *Registry) Definitions() []realtime.ToolDefinition {
	if r == nil {
		return nil
	}
	defs := make([]realtime.ToolDefinition, 0, len(r.byName))
	for _, name := range r.Names() {
		t := r.byName[name]
		defs = append(defs, realtime.ToolDefinition{
			Type:        "function",
			Name:        t.Name(),
			Description: t.Description(),
			Parameters: map[string]any{
				"type":       "object",
				"properties": t.Parameters(),
			},
		})
	}
	return defs
}

func floatArg(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
