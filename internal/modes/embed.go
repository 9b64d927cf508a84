package modes

import (
	"embed"
	"fmt"
	"sort"
)

//go:embed builtin/*.json
var builtinFS embed.FS

// LoadBuiltins registers every definition shipped with the binary.
// Builtins load in sorted file order, after native modes and before any
// custom directory, so upload collisions resolve in favor of builtins.
func (r *Registry) LoadBuiltins() ([]string, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("read builtin modes: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	loaded := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := builtinFS.ReadFile("builtin/" + name)
		if err != nil {
			return nil, fmt.Errorf("read builtin mode %s: %w", name, err)
		}
		id, err := r.LoadDefinition(raw, SourceBuiltin)
		if err != nil {
			return nil, fmt.Errorf("builtin mode %s: %w", name, err)
		}
		loaded = append(loaded, id)
	}
	return loaded, nil
}
