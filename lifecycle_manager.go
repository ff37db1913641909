// lifecycle_manager.go: install/uninstall state machine with pending queues and rollback
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// Permission is a capability checked before lifecycle operations.
type Permission string

const (
	// PermissionRead guards the read operations of the Manager.
	PermissionRead Permission = "read"
	// PermissionManage guards every mutating operation.
	PermissionManage Permission = "manage"
)

// Authorizer decides whether the caller identified by ctx holds permission.
type Authorizer interface {
	Check(ctx context.Context, permission Permission) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, permission Permission) error

// Check implements Authorizer.
func (f AuthorizerFunc) Check(ctx context.Context, permission Permission) error {
	return f(ctx, permission)
}

// AllowAllAuthorizer permits everything. Intended for embedded hosts that
// authorize at their own edge.
type AllowAllAuthorizer struct{}

// Check implements Authorizer.
func (AllowAllAuthorizer) Check(context.Context, Permission) error { return nil }

// Restarter activates pending changes by restarting the host. Restart must
// not block for long; the Manager calls it in its own goroutine.
type Restarter interface {
	Restart(cause string)
}

// RestarterFunc adapts a function to Restarter.
type RestarterFunc func(cause string)

// Restart implements Restarter.
func (f RestarterFunc) Restart(cause string) { f(cause) }

// Lifecycle event types.
const (
	EventInstallationStaged   = "installation_staged"
	EventInstallationFailed   = "installation_failed"
	EventUninstallMarked      = "uninstall_marked"
	EventPendingCancelled     = "pending_cancelled"
	EventCancellationFailed   = "cancellation_failed"
	EventRestartRequested     = "restart_requested"
	EventInstalledPluginsBoot = "installed_plugins_booted"
)

// LifecycleEvent describes one lifecycle transition.
type LifecycleEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Plugin    string    `json:"plugin,omitempty"`
	Version   string    `json:"version,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
	Cause     string    `json:"cause,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// LifecycleEventHandler receives lifecycle events. Events are delivered off
// the caller's goroutine, one at a time and in emission order, so a slow
// handler delays later deliveries. Handlers must not call back into the
// Manager synchronously.
type LifecycleEventHandler func(event LifecycleEvent)

// ManagerMetrics counts lifecycle activity.
type ManagerMetrics struct {
	InstallationsStaged  atomic.Int64
	InstallationFailures atomic.Int64
	UninstallsMarked     atomic.Int64
	Cancellations        atomic.Int64
	RestartsRequested    atomic.Int64
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Storage    *PluginStorage
	Catalog    Catalog
	Authorizer Authorizer
	Restarter  Restarter
	Fetcher    Fetcher
	Host       HostEnvironment

	// HostUnit is the parent of every plugin loading unit.
	HostUnit LoadingUnit
	// Registry supplies code for plugins without a shared object.
	Registry *SymbolRegistry

	Logger any
}

// Manager owns the installed plugins, the pending queues and the dependency
// tracker of one host. Every mutating operation runs under a single lock.
//
// Example usage:
//
//	manager, err := pluginhost.NewManager(pluginhost.ManagerOptions{
//	    Storage: storage,
//	    Catalog: catalog,
//	    Host:    pluginhost.DefaultHostEnvironment("3.1.0"),
//	})
//	if err := manager.Boot(ctx); err != nil {
//	    return err
//	}
//	if err := manager.Install(ctx, "review-plugin", false); err != nil {
//	    return err
//	}
type Manager struct {
	storage    *PluginStorage
	catalog    Catalog
	authorizer Authorizer
	restarter  Restarter
	fetcher    Fetcher
	host       HostEnvironment
	hostUnit   LoadingUnit
	registry   *SymbolRegistry
	logger     Logger

	mu               sync.Mutex
	installed        map[string]*InstalledPlugin
	pendingInstall   []*PendingInstallation
	pendingUninstall []*PendingUninstallation
	tracker          *DependencyTracker
	units            *ComposedUnits

	handlers     []LifecycleEventHandler
	handlerMutex sync.RWMutex

	// events waiting for delivery, in emission order
	eventQueue  []queuedEvent
	eventMutex  sync.Mutex
	dispatching bool

	metrics ManagerMetrics
}

// NewManager validates opts and creates a Manager with an empty installed
// set. Call Boot to load the plugins found in storage.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Storage == nil {
		return nil, NewConfigValidationError("plugin storage is required", nil)
	}
	if opts.Catalog == nil {
		return nil, NewConfigValidationError("catalog is required", nil)
	}
	logger := NewLogger(opts.Logger)

	if opts.Authorizer == nil {
		opts.Authorizer = AllowAllAuthorizer{}
	}
	if opts.Restarter == nil {
		opts.Restarter = RestarterFunc(func(cause string) {
			logger.Warn("Restart requested but no restarter configured", "cause", cause)
		})
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewHTTPFetcher(0)
	}
	if opts.Host.SchemaVersion == 0 {
		opts.Host.SchemaVersion = HostSchemaVersion
	}
	if opts.HostUnit == nil {
		opts.HostUnit = NewHostUnit(nil, "")
	}

	return &Manager{
		storage:    opts.Storage,
		catalog:    opts.Catalog,
		authorizer: opts.Authorizer,
		restarter:  opts.Restarter,
		fetcher:    opts.Fetcher,
		host:       opts.Host,
		hostUnit:   opts.HostUnit,
		registry:   opts.Registry,
		logger:     logger,
		installed:  make(map[string]*InstalledPlugin),
		tracker:    NewDependencyTracker(),
	}, nil
}

// Boot scans storage, orders the installed plugins, builds their loading
// units and initialises the tracker. Plugins carrying an uninstall marker
// from a previous run are queued as pending uninstallations.
func (m *Manager) Boot(ctx context.Context) error {
	plugins, err := m.storage.Scan(ctx)
	if err != nil {
		return err
	}

	descriptors := make([]*PluginDescriptor, 0, len(plugins))
	for _, p := range plugins {
		descriptors = append(descriptors, p.Descriptor)
	}
	tree, err := BuildPluginTree(descriptors, m.host)
	if err != nil {
		return err
	}

	byName := make(map[string]*InstalledPlugin, len(plugins))
	for _, p := range plugins {
		byName[p.Name()] = p
	}
	units, err := ComposeUnits(tree, m.hostUnit, func(node *PluginNode) (SymbolSource, string, error) {
		source, resourceRoot := m.storage.SymbolSourceFor(byName[node.Name()], m.registry)
		return source, resourceRoot, nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.installed = byName
	m.units = units
	m.pendingInstall = nil
	m.pendingUninstall = nil
	for name, p := range m.installed {
		p.Unit = units.Units[name]
		if p.IsMarkedForUninstall() {
			m.pendingUninstall = append(m.pendingUninstall, &PendingUninstallation{
				Plugin:     p,
				MarkerPath: m.markerPath(p),
				MarkedAt:   timecache.CachedTime(),
			})
		}
	}
	sort.Slice(m.pendingUninstall, func(i, j int) bool {
		return m.pendingUninstall[i].Name() < m.pendingUninstall[j].Name()
	})
	m.rebuildTrackerLocked()
	m.recomputeFlagsLocked()

	m.logger.Info("Installed plugins booted",
		"plugins", len(m.installed),
		"load_order", tree.LeafLastNames())
	m.emit(LifecycleEvent{Type: EventInstalledPluginsBoot, Cause: "boot"})
	return nil
}

func (m *Manager) markerPath(p *InstalledPlugin) string {
	return filepath.Join(p.Directory, UninstallMarkerName)
}

// Install stages name and every missing hard dependency, dependencies first.
//
// An installed plugin is only staged again when the catalog offers a newer
// version. When any plugin of the batch fails, everything staged by this call
// is removed, the tracker is restored and the original error is returned.
func (m *Manager) Install(ctx context.Context, name string, restartImmediately bool) error {
	if err := m.authorizer.Check(ctx, PermissionManage); err != nil {
		return NewNotPermittedError(PermissionManage, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	queued, err := m.installLocked(ctx, name)
	if err != nil {
		return err
	}
	if queued && restartImmediately {
		m.restartLocked("plugin installation")
	}
	return nil
}

func (m *Manager) installLocked(ctx context.Context, name string) (bool, error) {
	if p, ok := m.installed[name]; ok {
		if p.Core {
			return false, NewCorePluginViolationError(name, "install")
		}
		if p.IsMarkedForUninstall() {
			return false, NewPendingChangeError(name, "install")
		}
	}

	available, err := m.catalog.Available(ctx)
	if err != nil {
		return false, NewCatalogError("cannot list available plugins", err)
	}
	index, err := indexAvailable(available)
	if err != nil {
		return false, err
	}
	target, ok := index[name]
	if !ok {
		return false, NewPluginNotFoundError("available", name)
	}

	batch, err := m.collectLocked(target, index)
	if err != nil {
		return false, err
	}
	if len(batch) == 0 {
		m.logger.Info("Plugin already installed or pending", "plugin", name)
		return false, nil
	}

	batchID := uuid.NewString()
	snapshot := m.tracker.Snapshot()
	staged := make([]*PendingInstallation, 0, len(batch))

	for _, candidate := range batch {
		pending, err := m.stageLocked(ctx, candidate, staged, batchID)
		if err != nil {
			m.rollbackLocked(staged, snapshot)
			m.metrics.InstallationFailures.Add(1)
			m.logger.Error("Plugin installation failed, batch rolled back",
				"plugin", candidate.Name(),
				"target", name,
				"batch", batchID,
				"error", err)
			m.emit(LifecycleEvent{
				Type:    EventInstallationFailed,
				Plugin:  candidate.Name(),
				Version: candidate.Descriptor.Version(),
				BatchID: batchID,
				Error:   err.Error(),
			})
			return false, err
		}
		staged = append(staged, pending)

		if previous, ok := m.installed[pending.Name()]; ok {
			m.tracker.ReplaceInstalled(previous.Descriptor, pending.Plugin.Descriptor)
		} else {
			m.tracker.AddInstalled(pending.Plugin.Descriptor)
		}
	}

	m.pendingInstall = append(m.pendingInstall, staged...)
	m.recomputeFlagsLocked()

	for _, pending := range staged {
		m.metrics.InstallationsStaged.Add(1)
		m.logger.Info("Plugin installation staged",
			"plugin", pending.Name(),
			"version", pending.Plugin.Descriptor.Version(),
			"batch", batchID)
		m.emit(LifecycleEvent{
			Type:    EventInstallationStaged,
			Plugin:  pending.Name(),
			Version: pending.Plugin.Descriptor.Version(),
			BatchID: batchID,
		})
	}
	return true, nil
}

// collectLocked returns target plus its missing hard dependencies in
// installation order: every plugin after its dependencies, each once.
func (m *Manager) collectLocked(target *AvailablePlugin, index map[string]*AvailablePlugin) ([]*AvailablePlugin, error) {
	var collected []*AvailablePlugin
	done := make(map[string]bool)
	visiting := make(map[string]bool)

	var collect func(p *AvailablePlugin, isTarget bool) error
	collect = func(p *AvailablePlugin, isTarget bool) error {
		name := p.Name()
		if done[name] {
			return nil
		}
		if m.isPendingInstallLocked(name) {
			return nil
		}
		if installed, ok := m.installed[name]; ok {
			if !isTarget || !isNewer(p.Descriptor, installed.Descriptor) {
				return nil
			}
		}
		visiting[name] = true
		for _, dep := range p.Descriptor.Dependencies {
			if visiting[dep.Name] {
				return NewCircularDependencyError(name, dep.Name, []string{name, dep.Name, name})
			}
			if _, ok := m.installed[dep.Name]; ok || m.isPendingInstallLocked(dep.Name) {
				continue
			}
			next, ok := index[dep.Name]
			if !ok {
				return NewDependencyNotFoundError(name, dep.Name)
			}
			if err := collect(next, false); err != nil {
				return err
			}
		}
		visiting[name] = false
		done[name] = true
		collected = append(collected, p)
		return nil
	}

	if err := collect(target, true); err != nil {
		return nil, err
	}
	return collected, nil
}

// stageLocked downloads, verifies and stages one plugin of a batch.
func (m *Manager) stageLocked(ctx context.Context, candidate *AvailablePlugin, batch []*PendingInstallation, batchID string) (*PendingInstallation, error) {
	downloaded, err := m.storage.Download(ctx, m.fetcher, candidate)
	if err != nil {
		return nil, err
	}

	descriptor, err := m.verifyArchiveLocked(downloaded, candidate, batch)
	if err != nil {
		_ = m.storage.RemoveStaged(downloaded)
		return nil, err
	}

	path, err := m.storage.Stage(downloaded, candidate.Name())
	if err != nil {
		_ = m.storage.RemoveStaged(downloaded)
		return nil, err
	}

	return &PendingInstallation{
		Plugin: &AvailablePlugin{
			Descriptor: descriptor,
			URL:        candidate.URL,
			Checksum:   candidate.Checksum,
		},
		ArtifactPath: path,
		StagedAt:     timecache.CachedTime(),
		BatchID:      batchID,
	}, nil
}

func (m *Manager) verifyArchiveLocked(archive string, candidate *AvailablePlugin, batch []*PendingInstallation) (*PluginDescriptor, error) {
	descriptor, err := ReadArchiveDescriptor(archive)
	if err != nil {
		return nil, err
	}
	if descriptor.Name() != candidate.Name() {
		return nil, NewInvalidDescriptorError(candidate.URL,
			stderrors.New("archive descriptor names "+descriptor.Name()+" instead of "+candidate.Name()))
	}
	if descriptor.SchemaVersion != m.host.SchemaVersion {
		return nil, NewSchemaIncompatibleError(descriptor.Name(), descriptor.SchemaVersion, m.host.SchemaVersion)
	}

	verification := InstallationContextFrom(m.installedListLocked(), append(append([]*PendingInstallation(nil), m.pendingInstall...), batch...))
	if err := VerifyInstallation(verification, descriptor, m.host.Runtime); err != nil {
		return nil, err
	}
	return descriptor, nil
}

// rollbackLocked removes the archives staged by a failed batch, newest
// first, and restores the tracker.
func (m *Manager) rollbackLocked(staged []*PendingInstallation, snapshot TrackerSnapshot) {
	for i := len(staged) - 1; i >= 0; i-- {
		if err := m.storage.RemoveStaged(staged[i].ArtifactPath); err != nil {
			m.logger.Error("Failed to remove staged plugin during rollback",
				"plugin", staged[i].Name(),
				"path", staged[i].ArtifactPath,
				"error", err)
		}
	}
	m.tracker.Restore(snapshot)
}

// Uninstall marks name for removal at the next restart. Uninstalling a
// plugin that is already marked does nothing; a plugin with a queued update
// is rejected until the update is cancelled or activated.
func (m *Manager) Uninstall(ctx context.Context, name string, restartImmediately bool) error {
	if err := m.authorizer.Check(ctx, PermissionManage); err != nil {
		return NewNotPermittedError(PermissionManage, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.installed[name]
	if !ok {
		return NewPluginNotFoundError("installed", name)
	}
	if p.Core {
		return NewCorePluginViolationError(name, "uninstall")
	}
	if p.IsMarkedForUninstall() {
		return nil
	}
	if m.isPendingInstallLocked(name) {
		return NewPendingChangeError(name, "uninstall")
	}

	if err := m.tracker.RemoveInstalled(p.Descriptor); err != nil {
		return err
	}
	marker, err := m.storage.WriteUninstallMarker(p)
	if err != nil {
		m.tracker.AddInstalled(p.Descriptor)
		return NewCancellationFailedError(name, m.markerPath(p), err)
	}

	p.setMarkedForUninstall(true)
	m.pendingUninstall = append(m.pendingUninstall, &PendingUninstallation{
		Plugin:     p,
		MarkerPath: marker,
		MarkedAt:   timecache.CachedTime(),
	})
	m.recomputeFlagsLocked()

	m.metrics.UninstallsMarked.Add(1)
	m.logger.Info("Plugin marked for uninstall", "plugin", name, "marker", marker)
	m.emit(LifecycleEvent{Type: EventUninstallMarked, Plugin: name, Version: p.Descriptor.Version()})

	if restartImmediately {
		m.restartLocked("plugin uninstallation")
	}
	return nil
}

// CancelPending reverts every queued change. Each failure to remove a marker
// or a staged archive is reported as ErrCodeCancellationFailed without
// stopping the remaining cancellations; all of them are joined in the result.
// Entries that could not be reverted stay queued so a later call retries them.
func (m *Manager) CancelPending(ctx context.Context) error {
	if err := m.authorizer.Check(ctx, PermissionManage); err != nil {
		return NewNotPermittedError(PermissionManage, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var failures []error
	cancelled := 0

	var remainingUninstalls []*PendingUninstallation
	for _, pending := range m.pendingUninstall {
		if err := m.storage.RemoveUninstallMarker(pending.MarkerPath); err != nil {
			failures = append(failures, m.cancellationFailedLocked(pending.Name(), pending.MarkerPath, err))
			remainingUninstalls = append(remainingUninstalls, pending)
			continue
		}
		pending.Plugin.setMarkedForUninstall(false)
		cancelled++
		m.logger.Info("Pending uninstall cancelled", "plugin", pending.Name())
	}

	var remainingInstalls []*PendingInstallation
	for _, pending := range m.pendingInstall {
		if err := m.storage.RemoveStaged(pending.ArtifactPath); err != nil {
			failures = append(failures, m.cancellationFailedLocked(pending.Name(), pending.ArtifactPath, err))
			remainingInstalls = append(remainingInstalls, pending)
			continue
		}
		cancelled++
		m.logger.Info("Pending installation cancelled", "plugin", pending.Name())
	}

	m.pendingUninstall = remainingUninstalls
	m.pendingInstall = remainingInstalls
	m.rebuildTrackerLocked()
	m.recomputeFlagsLocked()

	m.metrics.Cancellations.Add(int64(cancelled))
	m.emit(LifecycleEvent{Type: EventPendingCancelled, Cause: "cancel pending"})
	return stderrors.Join(failures...)
}

func (m *Manager) cancellationFailedLocked(name, path string, cause error) error {
	err := NewCancellationFailedError(name, path, cause)
	m.logger.Error("Failed to cancel pending change", "plugin", name, "path", path, "error", cause)
	m.emit(LifecycleEvent{Type: EventCancellationFailed, Plugin: name, Error: err.Error()})
	return err
}

// ExecutePendingAndRestart requests a restart when installations are queued
// or an installed plugin is marked for uninstall. Otherwise it does nothing.
func (m *Manager) ExecutePendingAndRestart(ctx context.Context) error {
	if err := m.authorizer.Check(ctx, PermissionManage); err != nil {
		return NewNotPermittedError(PermissionManage, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasPendingChangesLocked() {
		m.restartLocked("execute pending plugin changes")
	}
	return nil
}

// UpdateAll installs every newer catalog version of a non-core plugin and
// requests one restart at the end if anything was queued. The first failing
// update is returned; updates queued before it stay queued.
func (m *Manager) UpdateAll(ctx context.Context) error {
	if err := m.authorizer.Check(ctx, PermissionManage); err != nil {
		return NewNotPermittedError(PermissionManage, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	updatable, err := m.updatableLocked(ctx)
	if err != nil {
		return err
	}

	anyQueued := false
	for _, name := range updatable {
		queued, err := m.installLocked(ctx, name)
		if err != nil {
			return err
		}
		anyQueued = anyQueued || queued
	}
	if anyQueued {
		m.restartLocked("plugin update")
	}
	return nil
}

func (m *Manager) updatableLocked(ctx context.Context) ([]string, error) {
	available, err := m.catalog.Available(ctx)
	if err != nil {
		return nil, NewCatalogError("cannot list available plugins", err)
	}
	index, err := indexAvailable(available)
	if err != nil {
		return nil, err
	}

	var names []string
	for name, p := range m.installed {
		if m.isUpdatableLocked(p, index[name]) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) isUpdatableLocked(p *InstalledPlugin, candidate *AvailablePlugin) bool {
	return candidate != nil &&
		!p.Core &&
		!p.IsMarkedForUninstall() &&
		!m.isPendingInstallLocked(p.Name()) &&
		isNewer(candidate.Descriptor, p.Descriptor)
}

// IsUpdatable reports whether the catalog offers a newer version of the
// installed plugin name that can be installed.
func (m *Manager) IsUpdatable(ctx context.Context, name string) (bool, error) {
	if err := m.authorizer.Check(ctx, PermissionRead); err != nil {
		return false, NewNotPermittedError(PermissionRead, err)
	}
	available, err := m.catalog.Available(ctx)
	if err != nil {
		return false, NewCatalogError("cannot list available plugins", err)
	}
	index, err := indexAvailable(available)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.installed[name]
	if !ok {
		return false, NewPluginNotFoundError("installed", name)
	}
	return m.isUpdatableLocked(p, index[name]), nil
}

func isNewer(candidate, current *PluginDescriptor) bool {
	cmp, err := CompareVersions(candidate.Version(), current.Version())
	return err == nil && cmp > 0
}

// Installed returns the installed plugins sorted by name.
func (m *Manager) Installed(ctx context.Context) ([]*InstalledPlugin, error) {
	if err := m.authorizer.Check(ctx, PermissionRead); err != nil {
		return nil, NewNotPermittedError(PermissionRead, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installedListLocked(), nil
}

// InstalledPlugin returns the installed plugin called name.
func (m *Manager) InstalledPlugin(ctx context.Context, name string) (*InstalledPlugin, error) {
	if err := m.authorizer.Check(ctx, PermissionRead); err != nil {
		return nil, NewNotPermittedError(PermissionRead, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.installed[name]
	if !ok {
		return nil, NewPluginNotFoundError("installed", name)
	}
	return p, nil
}

// Available returns the catalog entries that are not installed, sorted by
// name. Entries with a queued installation have Pending set.
func (m *Manager) Available(ctx context.Context) ([]*AvailablePlugin, error) {
	if err := m.authorizer.Check(ctx, PermissionRead); err != nil {
		return nil, NewNotPermittedError(PermissionRead, err)
	}
	available, err := m.catalog.Available(ctx)
	if err != nil {
		return nil, NewCatalogError("cannot list available plugins", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*AvailablePlugin, 0, len(available))
	for _, p := range available {
		if p == nil || p.Descriptor == nil {
			continue
		}
		if _, installed := m.installed[p.Name()]; installed {
			continue
		}
		result = append(result, p.withPending(m.isPendingInstallLocked(p.Name())))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result, nil
}

// AvailablePlugin returns the catalog entry called name, installed or not.
func (m *Manager) AvailablePlugin(ctx context.Context, name string) (*AvailablePlugin, error) {
	if err := m.authorizer.Check(ctx, PermissionRead); err != nil {
		return nil, NewNotPermittedError(PermissionRead, err)
	}
	available, err := m.catalog.Available(ctx)
	if err != nil {
		return nil, NewCatalogError("cannot list available plugins", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range available {
		if p != nil && p.Descriptor != nil && p.Name() == name {
			return p.withPending(m.isPendingInstallLocked(name)), nil
		}
	}
	return nil, NewPluginNotFoundError("available", name)
}

// PendingInstallations returns the queued installations in staging order.
func (m *Manager) PendingInstallations(ctx context.Context) ([]*PendingInstallation, error) {
	if err := m.authorizer.Check(ctx, PermissionRead); err != nil {
		return nil, NewNotPermittedError(PermissionRead, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*PendingInstallation(nil), m.pendingInstall...), nil
}

// PendingUninstallations returns the queued uninstallations.
func (m *Manager) PendingUninstallations(ctx context.Context) ([]*PendingUninstallation, error) {
	if err := m.authorizer.Check(ctx, PermissionRead); err != nil {
		return nil, NewNotPermittedError(PermissionRead, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*PendingUninstallation(nil), m.pendingUninstall...), nil
}

// LoadingUnits returns the units composed at boot, or nil before Boot.
func (m *Manager) LoadingUnits() *ComposedUnits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.units
}

// AddEventHandler registers handler for lifecycle events.
func (m *Manager) AddEventHandler(handler LifecycleEventHandler) {
	m.handlerMutex.Lock()
	defer m.handlerMutex.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Metrics returns a snapshot of the lifecycle counters.
func (m *Manager) Metrics() map[string]int64 {
	return map[string]int64{
		"installations_staged":  m.metrics.InstallationsStaged.Load(),
		"installation_failures": m.metrics.InstallationFailures.Load(),
		"uninstalls_marked":     m.metrics.UninstallsMarked.Load(),
		"cancellations":         m.metrics.Cancellations.Load(),
		"restarts_requested":    m.metrics.RestartsRequested.Load(),
	}
}

// Tracker exposes the dependency tracker for inspection.
func (m *Manager) Tracker() *DependencyTracker {
	return m.tracker
}

func (m *Manager) hasPendingChangesLocked() bool {
	if len(m.pendingInstall) > 0 {
		return true
	}
	for _, p := range m.installed {
		if p.IsMarkedForUninstall() {
			return true
		}
	}
	return false
}

func (m *Manager) isPendingInstallLocked(name string) bool {
	for _, pending := range m.pendingInstall {
		if pending.Name() == name {
			return true
		}
	}
	return false
}

func (m *Manager) installedListLocked() []*InstalledPlugin {
	list := make([]*InstalledPlugin, 0, len(m.installed))
	for _, p := range m.installed {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// rebuildTrackerLocked registers every installed plugin that is not marked
// for uninstall, plus the queued installations.
func (m *Manager) rebuildTrackerLocked() {
	m.tracker.Reset()
	for _, p := range m.installedListLocked() {
		if !p.IsMarkedForUninstall() {
			m.tracker.AddInstalled(p.Descriptor)
		}
	}
	for _, pending := range m.pendingInstall {
		if previous, ok := m.installed[pending.Name()]; ok {
			m.tracker.ReplaceInstalled(previous.Descriptor, pending.Plugin.Descriptor)
			continue
		}
		m.tracker.AddInstalled(pending.Plugin.Descriptor)
	}
}

func (m *Manager) recomputeFlagsLocked() {
	for name, p := range m.installed {
		p.setUninstallable(!p.Core && !p.IsMarkedForUninstall() && m.tracker.MayUninstall(name))
	}
}

// restartLocked signals activation without waiting for it.
func (m *Manager) restartLocked(cause string) {
	m.metrics.RestartsRequested.Add(1)
	m.logger.Info("Restart requested", "cause", cause)
	m.emit(LifecycleEvent{Type: EventRestartRequested, Cause: cause})

	restarter := m.restarter
	safeGo(m.logger, func() {
		restarter.Restart(cause)
	})
}

func (m *Manager) emit(event LifecycleEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = timecache.CachedTime()
	}

	m.handlerMutex.RLock()
	handlers := make([]LifecycleEventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.handlerMutex.RUnlock()
	if len(handlers) == 0 {
		return
	}

	m.eventMutex.Lock()
	m.eventQueue = append(m.eventQueue, queuedEvent{event: event, handlers: handlers})
	if m.dispatching {
		m.eventMutex.Unlock()
		return
	}
	m.dispatching = true
	m.eventMutex.Unlock()

	safeGo(m.logger, m.dispatchEvents)
}

// queuedEvent pairs an event with the handlers registered when it was emitted.
type queuedEvent struct {
	event    LifecycleEvent
	handlers []LifecycleEventHandler
}

// dispatchEvents drains the event queue on one goroutine so that handlers
// observe events in emission order. It exits once the queue is empty.
func (m *Manager) dispatchEvents() {
	for {
		m.eventMutex.Lock()
		if len(m.eventQueue) == 0 {
			m.dispatching = false
			m.eventMutex.Unlock()
			return
		}
		next := m.eventQueue[0]
		m.eventQueue[0] = queuedEvent{}
		m.eventQueue = m.eventQueue[1:]
		m.eventMutex.Unlock()

		for _, handler := range next.handlers {
			h := handler
			safeCall(m.logger, func() { h(next.event) })
		}
	}
}
