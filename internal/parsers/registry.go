package parsers

import (
	"fmt"
	"sync"
)

// DefaultPluginName is the passthrough parser used when no other parser
// claims a command.
const DefaultPluginName = "default"

// Registry is the parser catalog. Auto-detection iterates parsers in
// registration order, so detection is stable across runs.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]Plugin
}

// NewRegistry creates an empty parser catalog.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// NewDefaultRegistry creates the catalog with the built-in parsers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("nmap", NewNmapPlugin())
	_ = r.Register(DefaultPluginName, NewDefaultPlugin())
	return r
}

// Register adds a parser under a unique name.
func (r *Registry) Register(name string, p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.plugins[name]; dup {
		return fmt.Errorf("parser %q already registered", name)
	}
	r.plugins[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns a parser by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names lists the registered parsers in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Detect returns the first parser, in registration order, that recognizes
// the command line. The default parser never claims a command.
func (r *Registry) Detect(cmdline string) (string, Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if name == DefaultPluginName {
			continue
		}
		if r.plugins[name].DetectCmdline(cmdline) {
			return name, r.plugins[name], true
		}
	}
	return "", nil, false
}
