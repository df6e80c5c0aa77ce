// Package router holds the set of connection profiles nzgo knows about and
// resolves a profile name to its configuration on the hot path, without
// taking a lock: an atomic.Value snapshot serves lock-free reads, a mutex
// serializes the rare writes.
package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nzconn/nzgo/internal/config"
)

// routerSnapshot is an immutable point-in-time view of the routing table.
// Stored in atomic.Value for lock-free reads on the hot path.
type routerSnapshot struct {
	profiles map[string]config.ProfileConfig
	defaults config.PoolDefaults
	paused   map[string]bool
}

// Router resolves profile names to their connection configurations.
// Resolve() and IsPaused() are lock-free via atomic.Value.
// Mutations serialize on a write mutex and swap in a new snapshot.
type Router struct {
	snap atomic.Value // holds *routerSnapshot
	wmu  sync.Mutex   // serializes mutations (writes are rare)
}

// New creates a new Router populated from the given config.
func New(cfg *config.Config) *Router {
	snap := &routerSnapshot{
		profiles: make(map[string]config.ProfileConfig, len(cfg.Profiles)),
		defaults: cfg.Defaults,
		paused:   make(map[string]bool),
	}
	for id, p := range cfg.Profiles {
		snap.profiles[id] = p
	}

	r := &Router{}
	r.snap.Store(snap)
	return r
}

// load returns the current immutable snapshot (lock-free).
func (r *Router) load() *routerSnapshot {
	return r.snap.Load().(*routerSnapshot)
}

// cloneSnap returns a mutable deep copy of the current snapshot.
// Must be called with wmu held.
func (r *Router) cloneSnap() *routerSnapshot {
	cur := r.load()
	newProfiles := make(map[string]config.ProfileConfig, len(cur.profiles))
	for id, p := range cur.profiles {
		newProfiles[id] = p
	}
	newPaused := make(map[string]bool, len(cur.paused))
	for id, v := range cur.paused {
		newPaused[id] = v
	}
	return &routerSnapshot{
		profiles: newProfiles,
		defaults: cur.defaults,
		paused:   newPaused,
	}
}

// Resolve looks up the ProfileConfig for the given profile name. Lock-free.
func (r *Router) Resolve(profile string) (config.ProfileConfig, error) {
	snap := r.load()
	p, ok := snap.profiles[profile]
	if !ok {
		return config.ProfileConfig{}, fmt.Errorf("unknown profile: %q", profile)
	}
	return p, nil
}

// AddProfile registers or updates a profile configuration.
func (r *Router) AddProfile(name string, p config.ProfileConfig) {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	s := r.cloneSnap()
	s.profiles[name] = p
	r.snap.Store(s)
}

// RemoveProfile removes a profile from the router.
func (r *Router) RemoveProfile(name string) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	if _, ok := cur.profiles[name]; !ok {
		return false
	}

	s := r.cloneSnap()
	delete(s.profiles, name)
	delete(s.paused, name)
	r.snap.Store(s)
	return true
}

// Pause marks a profile as paused; health probing for it stops until Resume
// is called. Pool acquisition does not consult the paused flag. Returns false
// if the profile is unknown.
func (r *Router) Pause(name string) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	if _, ok := cur.profiles[name]; !ok {
		return false
	}

	s := r.cloneSnap()
	s.paused[name] = true
	r.snap.Store(s)
	return true
}

// Resume un-pauses a profile. Returns false if the profile is unknown.
func (r *Router) Resume(name string) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	if _, ok := cur.profiles[name]; !ok {
		return false
	}

	s := r.cloneSnap()
	delete(s.paused, name)
	r.snap.Store(s)
	return true
}

// IsPaused returns whether a profile is currently paused. Lock-free.
func (r *Router) IsPaused(name string) bool {
	return r.load().paused[name]
}

// List returns all profile names and their configs.
func (r *Router) List() map[string]config.ProfileConfig {
	snap := r.load()
	result := make(map[string]config.ProfileConfig, len(snap.profiles))
	for id, p := range snap.profiles {
		result[id] = p
	}
	return result
}

// Defaults returns the current pool defaults. Lock-free.
func (r *Router) Defaults() config.PoolDefaults {
	return r.load().defaults
}

// Reload replaces the entire routing table from a new config. Preserves
// paused state for profiles that still exist in the new config.
func (r *Router) Reload(cfg *config.Config) {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	newProfiles := make(map[string]config.ProfileConfig, len(cfg.Profiles))
	for id, p := range cfg.Profiles {
		newProfiles[id] = p
	}

	newPaused := make(map[string]bool)
	for id, v := range cur.paused {
		if _, exists := newProfiles[id]; exists {
			newPaused[id] = v
		}
	}

	r.snap.Store(&routerSnapshot{
		profiles: newProfiles,
		defaults: cfg.Defaults,
		paused:   newPaused,
	})
}
