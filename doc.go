// Package pluginhost installs, removes and loads plugins for a host
// application that restarts to apply changes.
//
// A plugin is a directory (or a zip artifact before installation) holding a
// plugin.yaml descriptor plus its code and resources. The descriptor names
// the plugin, its version, its hard and optional dependencies, the platforms
// it supports and the way its code is resolved against the host.
//
// Key Features:
//   - Dependency graph with cycle detection and leaf-last ordering
//   - Installation verification against installed and pending plugins
//   - Atomic installation batches with rollback of staged artifacts
//   - Reverse dependency tracking that blocks unsafe uninstalls
//   - Deferred changes applied on restart, cancellable until then
//   - Per-plugin loading units with host-first or plugin-first lookup
//   - Aggregate symbol resolution with a weak-reference cache
//
// Basic Usage:
//
//	storage, err := pluginhost.NewPluginStorage("/var/lib/host/plugins", "", logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	manager, err := pluginhost.NewManager(pluginhost.ManagerOptions{
//		Storage: storage,
//		Catalog: pluginhost.NewStaticCatalog(available...),
//		Host:    pluginhost.DefaultHostEnvironment("3.1.0"),
//		Logger:  logger,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := manager.Boot(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	// Stage a plugin and its missing dependencies, restart later.
//	err = manager.Install(ctx, "review-plugin", false)
//
//	// Resolve a symbol across every installed plugin.
//	res, err := manager.LoadingUnits().Aggregate.Resolve("NewReviewPanel")
//
// Collaborators:
// Open wires a Manager from an EngineConfig: a gRPC catalog with an optional
// Redis cache, restart requests over RabbitMQ or Redis pub/sub, a sqlite or
// mysql lifecycle journal and an Argus audit trail. Every failure carries a
// go-errors code (see errors.go) so callers can branch on HasErrorCode.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package pluginhost
