package flow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefinitionLoader loads the full set of enabled flow definitions from
// persistence (spec §6.6 flows table) — implemented by the persistence
// package, kept abstract here so the store is testable without Postgres.
type DefinitionLoader interface {
	LoadAll(ctx context.Context) ([]FlowDefinition, error)
}

// Store is the read-mostly, version-invalidated Flow Definition Store of
// spec §5 ("Flow definition cache is read-mostly; updates invalidate by
// version"). Grounded on statemanager/manager.go's in-memory
// map-with-eviction idiom, narrowed from capacity-based LRU eviction
// (flow counts are small and bounded by deployment, not by traffic) to
// version-based invalidation: a reload replaces any entry whose stored
// version differs.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]FlowDefinition

	loader  DefinitionLoader
	reloads singleflight.Group
}

func NewStore(loader DefinitionLoader) *Store {
	return &Store{byID: make(map[string]FlowDefinition), loader: loader}
}

// Reload re-fetches every definition from the loader and replaces the
// cache wholesale — cheap because the flow set is small and changes
// rarely (admin-driven, not request-driven). Concurrent callers (an admin
// `flows load` racing the webhook handler's periodic refresh) collapse
// onto a single in-flight LoadAll via singleflight rather than each
// issuing its own Postgres round trip.
func (s *Store) Reload(ctx context.Context) error {
	_, err, _ := s.reloads.Do("reload", func() (interface{}, error) {
		defs, err := s.loader.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("reload flow definitions: %w", err)
		}

		byID := make(map[string]FlowDefinition, len(defs))
		for _, def := range defs {
			if err := def.Validate(); err != nil {
				return nil, fmt.Errorf("flow %s: %w", def.ID, err)
			}
			byID[def.ID] = def
		}

		s.mu.Lock()
		s.byID = byID
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// Get returns the definition by exact id.
func (s *Store) Get(id string) (FlowDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.byID[id]
	return def, ok
}

// ByTrigger returns the single winning enabled flow for an intent
// trigger, applying the tie-break rule of spec §4.6: highest version,
// then lexicographically greatest id.
func (s *Store) ByTrigger(intent string) (FlowDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []FlowDefinition
	for _, def := range s.byID {
		if def.Enabled && def.Trigger == intent {
			candidates = append(candidates, def)
		}
	}
	if len(candidates) == 0 {
		return FlowDefinition{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Version != candidates[j].Version {
			return candidates[i].Version > candidates[j].Version
		}
		return candidates[i].ID > candidates[j].ID
	})
	return candidates[0], true
}

// FallbackForModule returns the enabled fallback flow configured for a
// business module (spec §4.6 step 5), if any, with the same tie-break.
func (s *Store) FallbackForModule(module string) (FlowDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []FlowDefinition
	for _, def := range s.byID {
		if def.Enabled && def.Module == module && def.FallbackFlow {
			candidates = append(candidates, def)
		}
	}
	if len(candidates) == 0 {
		return FlowDefinition{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Version != candidates[j].Version {
			return candidates[i].Version > candidates[j].Version
		}
		return candidates[i].ID > candidates[j].ID
	})
	return candidates[0], true
}

// All returns every cached definition, used by the admin CLI's `flows
// list`.
func (s *Store) All() []FlowDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FlowDefinition, 0, len(s.byID))
	for _, def := range s.byID {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
