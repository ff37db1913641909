// dependency_tracker.go: reverse-dependency bookkeeping over the installed set
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"sort"
	"sync"
)

// DependencyTracker records, for each plugin name, which installed plugins
// declare it as a hard dependency. Optional dependencies never block removal.
//
// The tracker is safe for concurrent use; the Manager additionally serialises
// every mutation through its own lock.
type DependencyTracker struct {
	mu         sync.RWMutex
	dependents map[string]map[string]struct{}
}

// TrackerSnapshot is an opaque copy of the tracker state.
type TrackerSnapshot struct {
	dependents map[string]map[string]struct{}
}

// NewDependencyTracker creates an empty tracker.
func NewDependencyTracker() *DependencyTracker {
	return &DependencyTracker{dependents: make(map[string]map[string]struct{})}
}

// AddInstalled records that descriptor requires each of its hard dependencies.
func (t *DependencyTracker) AddInstalled(descriptor *PluginDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, dep := range descriptor.Dependencies {
		set, ok := t.dependents[dep.Name]
		if !ok {
			set = make(map[string]struct{})
			t.dependents[dep.Name] = set
		}
		set[descriptor.Name()] = struct{}{}
	}
}

// RemoveInstalled forgets descriptor. It fails without mutating anything
// when another installed plugin still requires descriptor.
func (t *DependencyTracker) RemoveInstalled(descriptor *PluginDescriptor) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := descriptor.Name()
	if dependents := t.dependents[name]; len(dependents) > 0 {
		return NewDependencyStillNeededError(name, sortedKeys(dependents))
	}
	delete(t.dependents, name)

	for _, dep := range descriptor.Dependencies {
		set, ok := t.dependents[dep.Name]
		if !ok {
			continue
		}
		delete(set, name)
		if len(set) == 0 {
			delete(t.dependents, dep.Name)
		}
	}
	return nil
}

// ReplaceInstalled swaps the dependencies recorded for an updated plugin.
// Plugins requiring it keep doing so.
func (t *DependencyTracker) ReplaceInstalled(previous, next *PluginDescriptor) {
	t.mu.Lock()
	for _, dep := range previous.Dependencies {
		if set, ok := t.dependents[dep.Name]; ok {
			delete(set, previous.Name())
			if len(set) == 0 {
				delete(t.dependents, dep.Name)
			}
		}
	}
	t.mu.Unlock()
	t.AddInstalled(next)
}

// MayUninstall reports whether no installed plugin requires name.
// Unknown names are uninstallable.
func (t *DependencyTracker) MayUninstall(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dependents[name]) == 0
}

// Dependents returns the sorted names of the plugins requiring name.
func (t *DependencyTracker) Dependents(name string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.dependents[name])
}

// Snapshot copies the current state.
func (t *DependencyTracker) Snapshot() TrackerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TrackerSnapshot{dependents: cloneDependents(t.dependents)}
}

// Restore replaces the current state with snapshot.
func (t *DependencyTracker) Restore(snapshot TrackerSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dependents = cloneDependents(snapshot.dependents)
}

// Reset forgets everything.
func (t *DependencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dependents = make(map[string]map[string]struct{})
}

func cloneDependents(src map[string]map[string]struct{}) map[string]map[string]struct{} {
	dst := make(map[string]map[string]struct{}, len(src))
	for name, set := range src {
		copied := make(map[string]struct{}, len(set))
		for dependent := range set {
			copied[dependent] = struct{}{}
		}
		dst[name] = copied
	}
	return dst
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
