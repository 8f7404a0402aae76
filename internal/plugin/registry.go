package plugin

import (
	"sync"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
)

// entry tracks one registered analyzer.
type entry struct {
	analyzer Analyzer
	builtin  bool
	order    int
}

// Registry indexes analyzers by name and capability. Built-in analyzers
// take precedence over external plugins on name collision.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]entry // name → [builtin?, external?]
	next    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]entry)}
}

// NewWithBuiltins creates a registry pre-populated with the built-in
// analyzers.
func NewWithBuiltins() (*Registry, error) {
	r := NewRegistry()
	for _, a := range Builtins() {
		if err := r.RegisterBuiltin(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterBuiltin registers a built-in analyzer. Duplicate built-in names
// fail validation.
func (r *Registry) RegisterBuiltin(a Analyzer) error {
	return r.register(a, true)
}

// Register registers an externally loaded analyzer. Its name may shadow a
// built-in, but the built-in wins at lookup time; two external plugins with
// the same name fail validation.
func (r *Registry) Register(a Analyzer) error {
	return r.register(a, false)
}

func (r *Registry) register(a Analyzer, builtin bool) error {
	name := a.Name()
	if !namePattern.MatchString(name) {
		return &ValidationError{Plugin: name, Reason: "name must be alphanumeric with hyphens/underscores"}
	}
	if len(a.Types()) == 0 {
		return &ValidationError{Plugin: name, Reason: "at least one issue type is required"}
	}
	for _, t := range a.Types() {
		if !t.Valid() {
			return &ValidationError{Plugin: name, Reason: "unsupported issue type " + string(t)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries[name] {
		if e.builtin == builtin {
			return &ValidationError{Plugin: name, Reason: "duplicate name"}
		}
	}
	r.entries[name] = append(r.entries[name], entry{analyzer: a, builtin: builtin, order: r.next})
	r.next++
	return nil
}

// Get returns the analyzer registered under name, preferring the built-in
// on collision.
func (r *Registry) Get(name string) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(name)
}

func (r *Registry) lookup(name string) (Analyzer, bool) {
	entries := r.entries[name]
	if len(entries) == 0 {
		return nil, false
	}
	for _, e := range entries {
		if e.builtin {
			return e.analyzer, true
		}
	}
	return entries[0].analyzer, true
}

// ListFor returns the analyzers covering the requested issue types, in
// registration order. An empty type set selects every analyzer. On name
// collision only the preferred (built-in) analyzer is returned.
func (r *Registry) ListFor(types []issue.Type) []Analyzer {
	want := make(map[issue.Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type ordered struct {
		analyzer Analyzer
		order    int
	}
	var selected []ordered
	for name := range r.entries {
		a, ok := r.lookup(name)
		if !ok {
			continue
		}
		if len(want) > 0 && !covers(a, want) {
			continue
		}
		order := r.entries[name][0].order
		for _, e := range r.entries[name] {
			if e.analyzer == a {
				order = e.order
			}
		}
		selected = append(selected, ordered{analyzer: a, order: order})
	}

	// Stable registration order keeps analysis deterministic.
	for i := 1; i < len(selected); i++ {
		for j := i; j > 0 && selected[j-1].order > selected[j].order; j-- {
			selected[j-1], selected[j] = selected[j], selected[j-1]
		}
	}

	out := make([]Analyzer, len(selected))
	for n, s := range selected {
		out[n] = s.analyzer
	}
	return out
}

func covers(a Analyzer, want map[issue.Type]bool) bool {
	for _, t := range a.Types() {
		if want[t] {
			return true
		}
	}
	return false
}

// Names returns the registered names, built-ins and externals merged.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
