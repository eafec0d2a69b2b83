package strategy

import (
	"sort"
	"sync"

	"github.com/zsh04/ai-trader-sub000/errs"
)

// Registry maps strategy names to generators. It is safe for concurrent use
// so script runtimes can register generators after startup.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry builds a registry preloaded with the built-in generators.
func NewRegistry() *Registry {
	r := &Registry{generators: make(map[string]Generator)}
	r.Register(Breakout{})
	r.Register(Momentum{})
	r.Register(MeanReversion{})
	return r
}

// Register installs a generator under its name, replacing any previous entry.
func (r *Registry) Register(g Generator) {
	if g == nil || g.Name() == "" {
		return
	}
	r.mu.Lock()
	r.generators[g.Name()] = g
	r.mu.Unlock()
}

// Lookup resolves a generator by name.
func (r *Registry) Lookup(name string) (Generator, error) {
	r.mu.RLock()
	g, ok := r.generators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(name, errs.CodeNotFound, errs.WithMessage("unknown strategy"))
	}
	return g, nil
}

// Names lists registered strategies in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
