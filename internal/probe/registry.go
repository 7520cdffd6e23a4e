// Package probe holds the data-driven set of platform probes and the guard that wraps each one.
package probe

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// Registry maps platforms to their probe. Adding a platform is a Register call, not a code path.
type Registry struct {
	mu     sync.RWMutex
	probes map[domain.Platform]domain.Probe
}

func NewRegistry(probes ...domain.Probe) *Registry {
	r := &Registry{probes: make(map[domain.Platform]domain.Probe)}
	for _, p := range probes {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p domain.Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[p.Platform()] = p
}

func (r *Registry) Get(platform domain.Platform) (domain.Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.probes[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, platform)
	}
	return p, nil
}

// Platforms returns the registered platforms in a stable order.
func (r *Registry) Platforms() []domain.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Platform, 0, len(r.probes))
	for p := range r.probes {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// IsLive dispatches to the probe registered for id's platform.
func (r *Registry) IsLive(ctx context.Context, id domain.Identity) (domain.LiveSnapshot, error) {
	p, err := r.Get(id.Platform)
	if err != nil {
		return domain.LiveSnapshot{}, err
	}
	return p.IsLive(ctx, id)
}

// Lookup resolves a username on a platform to its identity.
func (r *Registry) Lookup(ctx context.Context, platform domain.Platform, username string) (*domain.Identity, error) {
	p, err := r.Get(platform)
	if err != nil {
		return nil, err
	}
	return p.GetUserIdentity(ctx, username)
}
