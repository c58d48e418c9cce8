package modes

import (
	"sort"
	"sync"

	"github.com/tablestakes/platform/internal/domain"
)

// ModeInfo is a catalog entry for one registered mode.
type ModeInfo struct {
	Key      string `json:"mode_key"`
	Label    string `json:"label"`
	Overview string `json:"overview"`
}

// Registry holds every registered mode module, indexed by key with a
// per-league availability check on lookup.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module. Re-registering an already-present key is a no-op,
// so process-start registration is idempotent.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modules[m.Key()]; ok {
		return
	}
	r.modules[m.Key()] = m
}

// Lookup resolves (league, modeKey) to a module.
func (r *Registry) Lookup(league, modeKey string) (Module, error) {
	r.mu.RLock()
	m, ok := r.modules[modeKey]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrModeNotFound(modeKey)
	}
	if !supportsLeague(m, league) {
		return nil, domain.ErrModeUnavailableForLeague(modeKey, league)
	}
	return m, nil
}

// Catalog lists the modes available for a league, ordered by key.
func (r *Registry) Catalog(league string) []ModeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ModeInfo, 0, len(r.modules))
	for _, m := range r.modules {
		if supportsLeague(m, league) {
			infos = append(infos, ModeInfo{Key: m.Key(), Label: m.Label(), Overview: m.Overview()})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// All lists every registered module regardless of league.
func (r *Registry) All() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func supportsLeague(m Module, league string) bool {
	for _, l := range m.SupportedLeagues() {
		if l == "*" || l == league {
			return true
		}
	}
	return false
}
