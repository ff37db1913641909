// engine.go: assembles a Manager and its collaborators from an EngineConfig
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
)

// Options supplies the parts of an Engine that cannot come from a file.
type Options struct {
	// Catalog is used when the configuration names no catalog endpoint.
	Catalog Catalog

	// Restarter overrides the configured restart transport.
	Restarter Restarter

	Authorizer Authorizer
	Fetcher    Fetcher

	// HostSource and HostResourceRoot back the host loading unit.
	HostSource       SymbolSource
	HostResourceRoot string

	// Registry supplies code for plugins shipped without a shared object.
	Registry *SymbolRegistry

	// CatalogDialOptions are passed to the gRPC catalog client.
	CatalogDialOptions []grpc.DialOption

	// Logger overrides the logger built from the logging section.
	Logger any
}

// Engine is a booted Manager plus the collaborators it was wired with.
//
// Example usage:
//
//	cfg, err := pluginhost.LoadEngineConfig("pluginhost.yaml")
//	if err != nil {
//	    return err
//	}
//	engine, err := pluginhost.Open(ctx, cfg, pluginhost.Options{})
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
//	units := engine.Manager().LoadingUnits()
type Engine struct {
	config  EngineConfig
	manager *Manager
	logger  Logger
	level   *slog.LevelVar

	journal *SQLJournal
	audit   *AuditTrail
	watcher *ConfigWatcher

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// Open validates cfg, connects the configured collaborators, creates the
// Manager and boots it. Collaborators opened before a failure are closed.
func Open(ctx context.Context, cfg EngineConfig, opts Options) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{config: cfg}
	if opts.Logger != nil {
		e.logger = NewLogger(opts.Logger)
	} else {
		e.logger, e.level = NewLoggerFromConfig(cfg.Logging)
	}

	manager, err := e.wire(ctx, opts)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.manager = manager

	if err := manager.Boot(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.logger.Info("Plugin engine ready",
		"host_version", cfg.HostVersion,
		"plugin_dir", cfg.Storage.PluginDir,
		"restart_transport", cfg.Restart.Transport)
	return e, nil
}

// OpenFile loads the configuration at path, opens an Engine and watches the
// file so log level changes apply without a restart.
func OpenFile(ctx context.Context, path string, opts Options) (*Engine, error) {
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		return nil, err
	}
	e, err := Open(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	watcher, err := NewConfigWatcher(path, ConfigWatcherOptions{
		Level:    e.level,
		OnReload: e.configReloaded,
		Logger:   e.logger,
	})
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.watcher = watcher
	e.closers = append(e.closers, watcher.Stop)
	return e, nil
}

func (e *Engine) wire(ctx context.Context, opts Options) (*Manager, error) {
	cfg := e.config
	rt := CurrentRuntime(cfg.HostVersion)

	storage, err := NewPluginStorage(cfg.Storage.PluginDir, cfg.Storage.CoreDir, e.logger)
	if err != nil {
		return nil, err
	}

	catalog, err := e.openCatalog(rt, opts)
	if err != nil {
		return nil, err
	}

	restarter := opts.Restarter
	if restarter == nil {
		if restarter, err = e.openRestarter(ctx); err != nil {
			return nil, err
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(cfg.Download.Timeout)
	}

	manager, err := NewManager(ManagerOptions{
		Storage:    storage,
		Catalog:    catalog,
		Authorizer: opts.Authorizer,
		Restarter:  restarter,
		Fetcher:    fetcher,
		Host:       DefaultHostEnvironment(cfg.HostVersion),
		HostUnit:   NewHostUnit(opts.HostSource, opts.HostResourceRoot),
		Registry:   opts.Registry,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Journal.Driver != "" {
		journal, err := OpenSQLJournal(ctx, cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return nil, err
		}
		e.journal = journal
		e.closers = append(e.closers, journal.Close)
		manager.AddEventHandler(journal.Handler(e.logger))
	}

	if cfg.Audit.Enabled {
		audit, err := NewAuditTrail(cfg.Audit.OutputFile)
		if err != nil {
			return nil, err
		}
		e.audit = audit
		e.closers = append(e.closers, audit.Close)
		manager.AddEventHandler(audit.Handler())
	}
	return manager, nil
}

func (e *Engine) openCatalog(rt Runtime, opts Options) (Catalog, error) {
	cfg := e.config.Catalog

	var catalog Catalog
	switch {
	case cfg.Endpoint != "":
		remote, err := NewGRPCCatalog(cfg.Endpoint, rt, cfg.Timeout, opts.CatalogDialOptions...)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, remote.Close)
		catalog = remote
		if cfg.Breaker.FailureThreshold > 0 {
			catalog = NewBreakingCatalog(remote, cfg.Breaker, e.logger)
		}
	case opts.Catalog != nil:
		catalog = opts.Catalog
	default:
		return nil, NewConfigValidationError("no catalog: set catalog.endpoint or supply Options.Catalog", nil)
	}

	if cfg.Cache.Addr == "" {
		return catalog, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	e.closers = append(e.closers, client.Close)
	return NewRedisCatalogCache(client, catalog, cfg.Cache.Key, cfg.Cache.TTL, e.logger), nil
}

func (e *Engine) openRestarter(ctx context.Context) (Restarter, error) {
	cfg := e.config.Restart
	switch cfg.Transport {
	case RestartTransportAMQP:
		restarter, err := NewAMQPRestarter(cfg.AMQPURL, cfg.Queue, e.logger)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, restarter.Close)
		return restarter, nil
	case RestartTransportRedis:
		restarter, err := NewRedisRestarter(ctx, cfg.RedisAddr, "", 0, cfg.Channel, e.logger)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, restarter.Close)
		return restarter, nil
	default:
		return nil, nil
	}
}

func (e *Engine) configReloaded(next EngineConfig) {
	if next.Restart != e.config.Restart || next.Catalog != e.config.Catalog {
		e.logger.Warn("Catalog and restart changes take effect after restart")
	}
}

// Manager returns the booted lifecycle manager.
func (e *Engine) Manager() *Manager {
	return e.manager
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Logger returns the engine logger.
func (e *Engine) Logger() Logger {
	return e.logger
}

// Journal returns the lifecycle journal, nil when disabled.
func (e *Engine) Journal() *SQLJournal {
	return e.journal
}

// Audit returns the audit trail, nil when disabled.
func (e *Engine) Audit() *AuditTrail {
	return e.audit
}

// Close releases every collaborator in reverse opening order.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		var errs []error
		for i := len(e.closers) - 1; i >= 0; i-- {
			if err := e.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		e.closeErr = stderrors.Join(errs...)
	})
	return e.closeErr
}
