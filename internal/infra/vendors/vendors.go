// Package vendors defines the uniform capability interface over upstream
// market-data vendors and the shared HTTP machinery their clients build on.
package vendors

import (
	"context"
	"strings"
	"sync"

	"github.com/zsh04/ai-trader-sub000/errs"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

// Client is the uniform historical-fetch capability every vendor implements.
type Client interface {
	Name() string
	FetchBars(ctx context.Context, req schema.FetchRequest) (*schema.Bars, error)
	SupportsStreaming() bool
}

// StreamingClient extends Client with a live bar/trade stream. The returned
// channel closes when the context is cancelled; reconnection is internal.
type StreamingClient interface {
	Client
	StreamBars(ctx context.Context, symbols []string, interval schema.Interval) (<-chan schema.RawEvent, error)
}

// Registry resolves vendor names to constructed clients. It is populated
// explicitly at wiring time; there are no process-wide singletons.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	daily   map[string]Client
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		daily:   make(map[string]Client),
	}
}

// Register installs a client under its name.
func (r *Registry) Register(c Client) {
	if c == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(c.Name()))
	if name == "" {
		return
	}
	r.mu.Lock()
	r.clients[name] = c
	r.mu.Unlock()
}

// RegisterDaily installs an interval-specialized client consulted instead of
// the vendor's default when a daily fetch is resolved.
func (r *Registry) RegisterDaily(vendor string, c Client) {
	name := strings.ToLower(strings.TrimSpace(vendor))
	if name == "" || c == nil {
		return
	}
	r.mu.Lock()
	r.daily[name] = c
	r.mu.Unlock()
}

// Resolve returns the client serving (vendor, interval). Daily requests remap
// silently to the vendor's daily-optimized client when one is registered.
func (r *Registry) Resolve(vendor string, interval schema.Interval) (Client, error) {
	name := strings.ToLower(strings.TrimSpace(vendor))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if interval == schema.Interval1Day {
		if c, ok := r.daily[name]; ok {
			return c, nil
		}
	}
	c, ok := r.clients[name]
	if !ok {
		return nil, errs.New(name, errs.CodeNotFound, errs.WithMessage("unknown vendor"))
	}
	return c, nil
}

// Names lists registered vendors.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// Fatal reports whether the fetch error must surface to the caller instead of
// degrading to an empty bar set. Everything else is transient by policy.
func Fatal(err error) bool {
	var envelope *errs.E
	if !errs.As(err, &envelope) {
		return false
	}
	switch envelope.Canonical {
	case errs.CanonicalMissingCredentials, errs.CanonicalAuthFailed, errs.CanonicalUnsupportedInterval:
		return true
	default:
		return false
	}
}
