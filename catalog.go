// catalog.go: source of the plugins available for installation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"sync"
)

// Catalog supplies the plugins available for this host.
type Catalog interface {
	Available(ctx context.Context) ([]*AvailablePlugin, error)
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(ctx context.Context) ([]*AvailablePlugin, error)

// Available implements Catalog.
func (f CatalogFunc) Available(ctx context.Context) ([]*AvailablePlugin, error) {
	return f(ctx)
}

// StaticCatalog is an in-memory catalog. It serves tests, air-gapped hosts
// and a catalog file loaded at startup.
type StaticCatalog struct {
	mu      sync.RWMutex
	plugins []*AvailablePlugin
}

// NewStaticCatalog creates a catalog holding plugins.
func NewStaticCatalog(plugins ...*AvailablePlugin) *StaticCatalog {
	return &StaticCatalog{plugins: append([]*AvailablePlugin(nil), plugins...)}
}

// Available implements Catalog.
func (c *StaticCatalog) Available(ctx context.Context) ([]*AvailablePlugin, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*AvailablePlugin(nil), c.plugins...), nil
}

// Set replaces the catalog content.
func (c *StaticCatalog) Set(plugins ...*AvailablePlugin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins = append([]*AvailablePlugin(nil), plugins...)
}

// indexAvailable maps catalog entries by name, rejecting duplicates.
func indexAvailable(plugins []*AvailablePlugin) (map[string]*AvailablePlugin, error) {
	index := make(map[string]*AvailablePlugin, len(plugins))
	for _, p := range plugins {
		if p == nil || p.Descriptor == nil {
			continue
		}
		if _, exists := index[p.Name()]; exists {
			return nil, NewDuplicatePluginError(p.Name())
		}
		index[p.Name()] = p
	}
	return index, nil
}
