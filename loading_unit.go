// loading_unit.go: isolated, delegating code loading units for installed plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"weak"
)

// LoadingPolicy selects whether a plugin unit asks its parent or itself first.
type LoadingPolicy string

const (
	// PolicyHostFirst resolves through the parent before the plugin's own code,
	// so a plugin cannot shadow what the host provides.
	PolicyHostFirst LoadingPolicy = "host-first"

	// PolicyPluginFirst resolves the plugin's own code first. Used by plugins
	// bundling their own version of something the host also provides.
	PolicyPluginFirst LoadingPolicy = "plugin-first"
)

// LoadingUnit resolves symbols and bundled resources.
//
// Lookup and Resource report misses with ErrCodeSymbolNotFound and
// ErrCodeResourceNotFound respectively. Implementations are safe for
// concurrent use.
type LoadingUnit interface {
	Name() string
	Lookup(symbol string) (any, error)
	Resource(name string) (string, error)
}

// Resolution is a symbol resolved by a loading unit.
type Resolution struct {
	Symbol string
	Value  any
	Unit   string
}

// resolvingUnit is implemented by units that keep their resolutions alive
// for as long as the unit itself is alive.
type resolvingUnit interface {
	resolve(symbol string) (*Resolution, error)
}

// resolutionAnchors holds the strong references behind the weak entries of
// an AggregateUnit cache.
type resolutionAnchors struct {
	resolved sync.Map // symbol -> *Resolution
}

func (a *resolutionAnchors) anchor(unit, symbol string, value any) *Resolution {
	if existing, ok := a.resolved.Load(symbol); ok {
		return existing.(*Resolution)
	}
	actual, _ := a.resolved.LoadOrStore(symbol, &Resolution{Symbol: symbol, Value: value, Unit: unit})
	return actual.(*Resolution)
}

func isMiss(err error) bool {
	return HasErrorCode(err, ErrCodeSymbolNotFound) || HasErrorCode(err, ErrCodeResourceNotFound)
}

// HostUnit exposes the symbols and resources the host offers to plugins.
type HostUnit struct {
	name         string
	source       SymbolSource
	resourceRoot string
	anchors      resolutionAnchors
}

// NewHostUnit creates the root of every delegation chain. resourceRoot may be empty.
func NewHostUnit(source SymbolSource, resourceRoot string) *HostUnit {
	if source == nil {
		source = emptySource{name: "host"}
	}
	return &HostUnit{name: "host", source: source, resourceRoot: resourceRoot}
}

// Name implements LoadingUnit.
func (h *HostUnit) Name() string { return h.name }

// Lookup implements LoadingUnit.
func (h *HostUnit) Lookup(symbol string) (any, error) {
	r, err := h.resolve(symbol)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

func (h *HostUnit) resolve(symbol string) (*Resolution, error) {
	value, err := h.source.Lookup(symbol)
	if err != nil {
		if isMiss(err) {
			return nil, NewSymbolNotFoundError(h.name, symbol)
		}
		return nil, err
	}
	return h.anchors.anchor(h.name, symbol, value), nil
}

// Resource implements LoadingUnit.
func (h *HostUnit) Resource(name string) (string, error) {
	return localResource(h.name, h.resourceRoot, name)
}

// PluginUnit is the loading unit owned by one installed plugin.
type PluginUnit struct {
	name         string
	source       SymbolSource
	resourceRoot string
	parent       LoadingUnit
	policy       LoadingPolicy
	anchors      resolutionAnchors
}

// NewPluginUnit creates the unit of plugin name. parent may be nil; an empty
// policy means PolicyHostFirst.
func NewPluginUnit(name string, source SymbolSource, resourceRoot string, parent LoadingUnit, policy LoadingPolicy) *PluginUnit {
	if source == nil {
		source = emptySource{name: name}
	}
	if policy == "" {
		policy = PolicyHostFirst
	}
	return &PluginUnit{
		name:         name,
		source:       source,
		resourceRoot: resourceRoot,
		parent:       parent,
		policy:       policy,
	}
}

// Name implements LoadingUnit.
func (u *PluginUnit) Name() string { return u.name }

// Policy returns the delegation policy.
func (u *PluginUnit) Policy() LoadingPolicy { return u.policy }

// Parent returns the unit lookups are delegated to, or nil.
func (u *PluginUnit) Parent() LoadingUnit { return u.parent }

// Lookup implements LoadingUnit.
func (u *PluginUnit) Lookup(symbol string) (any, error) {
	r, err := u.resolve(symbol)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

func (u *PluginUnit) resolve(symbol string) (*Resolution, error) {
	if existing, ok := u.anchors.resolved.Load(symbol); ok {
		return existing.(*Resolution), nil
	}

	first, second := u.parentLookup, u.ownLookup
	if u.policy == PolicyPluginFirst {
		first, second = u.ownLookup, u.parentLookup
	}

	value, err := first(symbol)
	if err == nil {
		return u.anchors.anchor(u.name, symbol, value), nil
	}
	if !isMiss(err) {
		return nil, err
	}
	value, err = second(symbol)
	if err == nil {
		return u.anchors.anchor(u.name, symbol, value), nil
	}
	if !isMiss(err) {
		return nil, err
	}
	return nil, NewSymbolNotFoundError(u.name, symbol)
}

func (u *PluginUnit) ownLookup(symbol string) (any, error) {
	return u.source.Lookup(symbol)
}

func (u *PluginUnit) parentLookup(symbol string) (any, error) {
	if u.parent == nil {
		return nil, NewSymbolNotFoundError(u.name, symbol)
	}
	return u.parent.Lookup(symbol)
}

// Resource implements LoadingUnit, following the same policy as Lookup.
func (u *PluginUnit) Resource(name string) (string, error) {
	own := func() (string, error) { return localResource(u.name, u.resourceRoot, name) }
	parent := func() (string, error) {
		if u.parent == nil {
			return "", NewResourceNotFoundError(u.name, name)
		}
		return u.parent.Resource(name)
	}

	first, second := parent, own
	if u.policy == PolicyPluginFirst {
		first, second = own, parent
	}
	path, err := first()
	if err == nil || !isMiss(err) {
		return path, err
	}
	path, err = second()
	if err == nil || !isMiss(err) {
		return path, err
	}
	return "", NewResourceNotFoundError(u.name, name)
}

// localResource resolves name below root without escaping it.
func localResource(unit, root, name string) (string, error) {
	if root == "" {
		return "", NewResourceNotFoundError(unit, name)
	}
	path := filepath.Join(root, filepath.Clean("/"+name))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", NewResourceNotFoundError(unit, name)
	}
	return path, nil
}

// MultiParentUnit delegates, in order, to parents it does not own. It chains
// a plugin unit to the host and to the units of its dependencies.
type MultiParentUnit struct {
	name    string
	parents []LoadingUnit
	anchors resolutionAnchors
}

// NewMultiParentUnit creates a unit delegating to parents in the given order.
func NewMultiParentUnit(name string, parents ...LoadingUnit) *MultiParentUnit {
	return &MultiParentUnit{name: name, parents: append([]LoadingUnit(nil), parents...)}
}

// Name implements LoadingUnit.
func (m *MultiParentUnit) Name() string { return m.name }

// Parents returns the delegation order.
func (m *MultiParentUnit) Parents() []LoadingUnit {
	return append([]LoadingUnit(nil), m.parents...)
}

// Lookup implements LoadingUnit.
func (m *MultiParentUnit) Lookup(symbol string) (any, error) {
	r, err := m.resolve(symbol)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

func (m *MultiParentUnit) resolve(symbol string) (*Resolution, error) {
	for _, parent := range m.parents {
		value, err := parent.Lookup(symbol)
		if err == nil {
			return m.anchors.anchor(parent.Name(), symbol, value), nil
		}
		if !isMiss(err) {
			return nil, err
		}
	}
	return nil, NewSymbolNotFoundError(m.name, symbol)
}

// Resource implements LoadingUnit.
func (m *MultiParentUnit) Resource(name string) (string, error) {
	for _, parent := range m.parents {
		path, err := parent.Resource(name)
		if err == nil || !isMiss(err) {
			return path, err
		}
	}
	return "", NewResourceNotFoundError(m.name, name)
}

// AggregateUnitName is the unit name reported by AggregateUnit misses.
const AggregateUnitName = "installed plugins"

// AggregateUnit sees the code of every installed plugin. Members are tried
// in order and the first success wins.
//
// Successful resolutions are cached by symbol name through weak pointers: the
// member that produced a resolution keeps it alive, the cache never does.
// A collected entry is resolved again; misses are never cached.
type AggregateUnit struct {
	members []LoadingUnit
	cache   sync.Map // symbol -> weak.Pointer[Resolution]

	hits   atomic.Int64
	misses atomic.Int64
}

// AggregateStats reports cache effectiveness.
type AggregateStats struct {
	CacheHits   int64
	CacheMisses int64
}

// NewAggregateUnit creates an aggregate over members.
func NewAggregateUnit(members ...LoadingUnit) *AggregateUnit {
	return &AggregateUnit{members: append([]LoadingUnit(nil), members...)}
}

// Name implements LoadingUnit.
func (a *AggregateUnit) Name() string { return AggregateUnitName }

// Members returns the member units in lookup order.
func (a *AggregateUnit) Members() []LoadingUnit {
	return append([]LoadingUnit(nil), a.members...)
}

// Stats returns cache counters.
func (a *AggregateUnit) Stats() AggregateStats {
	return AggregateStats{CacheHits: a.hits.Load(), CacheMisses: a.misses.Load()}
}

// Lookup implements LoadingUnit.
func (a *AggregateUnit) Lookup(symbol string) (any, error) {
	r, err := a.Resolve(symbol)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

// Resolve is Lookup returning the cached resolution itself. Holding the
// returned pointer keeps the cache entry alive.
func (a *AggregateUnit) Resolve(symbol string) (*Resolution, error) {
	if entry, ok := a.cache.Load(symbol); ok {
		if r := entry.(weak.Pointer[Resolution]).Value(); r != nil {
			a.hits.Add(1)
			return r, nil
		}
	}
	a.misses.Add(1)

	resolved, err := a.resolveMembers(symbol)
	if err != nil {
		return nil, err
	}

	fresh := weak.Make(resolved)
	for {
		entry, loaded := a.cache.LoadOrStore(symbol, fresh)
		if !loaded {
			return resolved, nil
		}
		current := entry.(weak.Pointer[Resolution])
		if r := current.Value(); r != nil {
			return r, nil
		}
		if a.cache.CompareAndSwap(symbol, current, fresh) {
			return resolved, nil
		}
	}
}

func (a *AggregateUnit) resolveMembers(symbol string) (*Resolution, error) {
	for _, member := range a.members {
		if resolver, ok := member.(resolvingUnit); ok {
			r, err := resolver.resolve(symbol)
			if err == nil {
				return r, nil
			}
			if !isMiss(err) {
				return nil, err
			}
			continue
		}
		value, err := member.Lookup(symbol)
		if err == nil {
			return &Resolution{Symbol: symbol, Value: value, Unit: member.Name()}, nil
		}
		if !isMiss(err) {
			return nil, err
		}
	}
	return nil, NewSymbolNotFoundError(AggregateUnitName, symbol)
}

// Resource implements LoadingUnit. Resources are not cached.
func (a *AggregateUnit) Resource(name string) (string, error) {
	for _, member := range a.members {
		path, err := member.Resource(name)
		if err == nil || !isMiss(err) {
			return path, err
		}
	}
	return "", NewResourceNotFoundError(AggregateUnitName, name)
}

// UnitSourceFunc supplies the own code and resource root of a plugin.
type UnitSourceFunc func(node *PluginNode) (SymbolSource, string, error)

// ComposedUnits is the result of ComposeUnits.
type ComposedUnits struct {
	Units     map[string]*PluginUnit
	Order     []*PluginUnit
	Aggregate *AggregateUnit
}

// ComposeUnits builds one PluginUnit per node in leaf-last order. A plugin
// without in-tree dependencies delegates to host; otherwise it delegates to
// host followed by the units of its dependencies, in declaration order.
func ComposeUnits(tree *PluginTree, host LoadingUnit, sources UnitSourceFunc) (*ComposedUnits, error) {
	composed := &ComposedUnits{Units: make(map[string]*PluginUnit, tree.Len())}

	for _, node := range tree.LeafLastNodes() {
		source, resourceRoot, err := sources(node)
		if err != nil {
			return nil, NewLoadingUnitError(node.Name(), "cannot prepare plugin code", err)
		}

		var parent LoadingUnit = host
		if deps := node.Dependencies(); len(deps) > 0 {
			parents := make([]LoadingUnit, 0, len(deps)+1)
			if host != nil {
				parents = append(parents, host)
			}
			for _, dep := range deps {
				unit, ok := composed.Units[dep.Name()]
				if !ok {
					return nil, NewLoadingUnitError(node.Name(), "dependency unit not built before dependent: "+dep.Name(), nil)
				}
				parents = append(parents, unit)
			}
			parent = NewMultiParentUnit(node.Name()+" parents", parents...)
		}

		unit := NewPluginUnit(node.Name(), source, resourceRoot, parent, node.Descriptor().LoadingPolicy)
		composed.Units[node.Name()] = unit
		composed.Order = append(composed.Order, unit)
	}

	members := make([]LoadingUnit, 0, len(composed.Order))
	for _, unit := range composed.Order {
		members = append(members, unit)
	}
	composed.Aggregate = NewAggregateUnit(members...)
	return composed, nil
}
