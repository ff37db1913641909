// symbol_source.go: where a loading unit finds its own code
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"plugin"
	"sort"
	"sync"
)

// SymbolSource resolves the symbols a single plugin provides itself.
// A missing symbol is reported with ErrCodeSymbolNotFound; any other error
// means the source itself is broken.
type SymbolSource interface {
	Lookup(symbol string) (any, error)
}

// SharedObjectSource loads a Go plugin (.so built with -buildmode=plugin).
// The object is opened on first lookup and kept open for the life of the
// process, since the runtime cannot unload it.
type SharedObjectSource struct {
	path string

	once   sync.Once
	handle *plugin.Plugin
	err    error
}

// NewSharedObjectSource creates a source for the shared object at path.
func NewSharedObjectSource(path string) *SharedObjectSource {
	return &SharedObjectSource{path: path}
}

// Path returns the shared object path.
func (s *SharedObjectSource) Path() string {
	return s.path
}

func (s *SharedObjectSource) open() (*plugin.Plugin, error) {
	s.once.Do(func() {
		handle, err := plugin.Open(s.path)
		if err != nil {
			s.err = NewLoadingUnitError(s.path, "cannot open shared object", err)
			return
		}
		s.handle = handle
	})
	return s.handle, s.err
}

// Lookup implements SymbolSource.
func (s *SharedObjectSource) Lookup(symbol string) (any, error) {
	handle, err := s.open()
	if err != nil {
		return nil, err
	}
	value, err := handle.Lookup(symbol)
	if err != nil {
		return nil, NewSymbolNotFoundError(s.path, symbol)
	}
	return value, nil
}

// SymbolRegistry holds symbols registered at compile time, keyed by plugin
// name. It is the loading mechanism on platforms without plugin support and
// for plugins linked into the host binary.
//
//	registry := pluginhost.NewSymbolRegistry()
//	registry.Register("mail-plugin", "Sender", mail.NewSender)
//	source := registry.Source("mail-plugin")
type SymbolRegistry struct {
	mu      sync.RWMutex
	symbols map[string]map[string]any
}

// NewSymbolRegistry creates an empty registry.
func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{symbols: make(map[string]map[string]any)}
}

// Register binds symbol to value for pluginName, replacing any previous value.
func (r *SymbolRegistry) Register(pluginName, symbol string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.symbols[pluginName]
	if !ok {
		bucket = make(map[string]any)
		r.symbols[pluginName] = bucket
	}
	bucket[symbol] = value
}

// Has reports whether anything is registered for pluginName.
func (r *SymbolRegistry) Has(pluginName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.symbols[pluginName]
	return ok
}

// Symbols returns the sorted symbol names registered for pluginName.
func (r *SymbolRegistry) Symbols(pluginName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.symbols[pluginName]))
	for name := range r.symbols[pluginName] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns a SymbolSource over the symbols of pluginName. Symbols
// registered later are visible through it.
func (r *SymbolRegistry) Source(pluginName string) SymbolSource {
	return registrySource{registry: r, plugin: pluginName}
}

type registrySource struct {
	registry *SymbolRegistry
	plugin   string
}

func (s registrySource) Lookup(symbol string) (any, error) {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()

	if value, ok := s.registry.symbols[s.plugin][symbol]; ok {
		return value, nil
	}
	return nil, NewSymbolNotFoundError(s.plugin, symbol)
}

// MapSource is a fixed symbol table.
type MapSource map[string]any

// Lookup implements SymbolSource.
func (m MapSource) Lookup(symbol string) (any, error) {
	if value, ok := m[symbol]; ok {
		return value, nil
	}
	return nil, NewSymbolNotFoundError("map", symbol)
}

// emptySource provides nothing; plugins shipping only resources use it.
type emptySource struct{ name string }

func (e emptySource) Lookup(symbol string) (any, error) {
	return nil, NewSymbolNotFoundError(e.name, symbol)
}
