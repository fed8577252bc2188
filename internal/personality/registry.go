// Package personality provides the per-level strategies driving data
// placement and resync for an array.
package personality

import (
	"fmt"
	"sort"
	"sync"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// Registry maps RAID levels to personalities
type Registry struct {
	mu       sync.RWMutex
	registry map[int32]interfaces.Personality
}

// LevelInfo describes a registered personality
type LevelInfo struct {
	Level int32  `json:"level" yaml:"level"`
	Name  string `json:"name" yaml:"name"`
	// Redundant levels keep data that needs resync after an unclean stop
	Redundant bool `json:"redundant" yaml:"redundant"`
	// HotSwap reports support for hot add/remove and spare recovery
	HotSwap bool `json:"hot_swap" yaml:"hot_swap"`
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{registry: make(map[int32]interfaces.Personality)}
}

// NewDefaultRegistry returns a registry holding the built-in personalities
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewLinear())
	r.Register(NewRaid0())
	r.Register(NewRaid1())
	return r
}

// Register installs p for its level, replacing any previous personality
func (r *Registry) Register(p interfaces.Personality) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[p.Level()] = p
}

// Unregister removes the personality for level
func (r *Registry) Unregister(level int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registry, level)
}

// Lookup implements interfaces.PersonalityRegistry
func (r *Registry) Lookup(level int32) (interfaces.Personality, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.registry[level]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedLevel, types.LevelName(level))
	}
	return p, nil
}

// IsRegistered reports whether a personality serves level
func (r *Registry) IsRegistered(level int32) bool {
	_, err := r.Lookup(level)
	return err == nil
}

// Levels lists the registered personalities ordered by level
func (r *Registry) Levels() []LevelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LevelInfo, 0, len(r.registry))
	for level, p := range r.registry {
		_, hot := p.(interfaces.HotSwapper)
		out = append(out, LevelInfo{
			Level:     level,
			Name:      p.Name(),
			Redundant: types.IsRedundantLevel(level),
			HotSwap:   hot,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
