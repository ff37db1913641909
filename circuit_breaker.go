// circuit_breaker.go: circuit breaker guarding remote catalog lookups
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// CircuitBreakerState is the operational state of a CircuitBreaker.
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a CircuitBreaker. A zero FailureThreshold
// disables the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout,omitempty" yaml:"recovery_timeout,omitempty"`
	SuccessThreshold int           `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
}

// CircuitBreaker counts consecutive failures of a remote call. After
// FailureThreshold failures it opens and rejects calls until RecoveryTimeout
// has passed; then up to SuccessThreshold probe calls decide whether it
// closes again.
//
//	cb := NewCircuitBreaker(CircuitBreakerConfig{
//	    FailureThreshold: 3,
//	    RecoveryTimeout:  30 * time.Second,
//	    SuccessThreshold: 1,
//	})
//	if !cb.AllowRequest() {
//	    return errCircuitOpen
//	}
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state           atomic.Int32
	failures        atomic.Int64
	probes          atomic.Int64
	probeSuccesses  atomic.Int64
	lastFailureTime atomic.Int64

	mu sync.Mutex
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{config: config}
	cb.state.Store(int32(StateClosed))
	return cb
}

// Enabled reports whether the breaker ever opens.
func (cb *CircuitBreaker) Enabled() bool {
	return cb.config.FailureThreshold > 0
}

// AllowRequest reports whether a call may proceed. An open breaker whose
// recovery timeout expired moves to half-open and admits probe calls.
func (cb *CircuitBreaker) AllowRequest() bool {
	if !cb.Enabled() {
		return true
	}

	switch CircuitBreakerState(cb.state.Load()) {
	case StateClosed:
		return true
	case StateOpen:
		if !cb.recoveryElapsed() {
			return false
		}
		cb.mu.Lock()
		if CircuitBreakerState(cb.state.Load()) == StateOpen && cb.recoveryElapsed() {
			cb.state.Store(int32(StateHalfOpen))
			cb.probes.Store(0)
			cb.probeSuccesses.Store(0)
		}
		cb.mu.Unlock()
		return cb.admitProbe()
	case StateHalfOpen:
		return cb.admitProbe()
	default:
		return false
	}
}

func (cb *CircuitBreaker) admitProbe() bool {
	if CircuitBreakerState(cb.state.Load()) != StateHalfOpen {
		return CircuitBreakerState(cb.state.Load()) == StateClosed
	}
	return cb.probes.Add(1) <= int64(cb.config.SuccessThreshold)
}

// RecordSuccess closes a half-open breaker once enough probes succeeded and
// clears the failure streak of a closed one.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.Enabled() {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch CircuitBreakerState(cb.state.Load()) {
	case StateHalfOpen:
		if cb.probeSuccesses.Add(1) >= int64(cb.config.SuccessThreshold) {
			cb.state.Store(int32(StateClosed))
			cb.failures.Store(0)
		}
	case StateClosed:
		cb.failures.Store(0)
	}
}

// RecordFailure extends the failure streak. A failing probe reopens the
// breaker immediately.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.Enabled() {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime.Store(timecache.CachedTimeNano())
	failures := cb.failures.Add(1)
	switch CircuitBreakerState(cb.state.Load()) {
	case StateHalfOpen:
		cb.state.Store(int32(StateOpen))
	case StateClosed:
		if failures >= int64(cb.config.FailureThreshold) {
			cb.state.Store(int32(StateOpen))
		}
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// Reset closes the breaker and clears every counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state.Store(int32(StateClosed))
	cb.failures.Store(0)
	cb.probes.Store(0)
	cb.probeSuccesses.Store(0)
	cb.lastFailureTime.Store(0)
}

func (cb *CircuitBreaker) recoveryElapsed() bool {
	last := cb.lastFailureTime.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) >= cb.config.RecoveryTimeout
}

// BreakingCatalog fails fast while its breaker is open. The last successful
// listing is served instead when there is one, so the manager keeps
// answering read queries during a catalog outage.
type BreakingCatalog struct {
	upstream Catalog
	breaker  *CircuitBreaker
	logger   Logger

	mu       sync.RWMutex
	lastGood []*AvailablePlugin
}

// NewBreakingCatalog guards upstream with a breaker built from config.
func NewBreakingCatalog(upstream Catalog, config CircuitBreakerConfig, logger any) *BreakingCatalog {
	return &BreakingCatalog{
		upstream: upstream,
		breaker:  NewCircuitBreaker(config),
		logger:   NewLogger(logger),
	}
}

// Breaker exposes the breaker for inspection.
func (c *BreakingCatalog) Breaker() *CircuitBreaker {
	return c.breaker
}

// Available implements Catalog.
func (c *BreakingCatalog) Available(ctx context.Context) ([]*AvailablePlugin, error) {
	if !c.breaker.AllowRequest() {
		return c.fallback(NewCatalogError("catalog circuit is open", nil))
	}

	plugins, err := c.upstream.Available(ctx)
	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Warn("Catalog lookup failed", "breaker", c.breaker.State().String(), "error", err)
		return c.fallback(err)
	}
	c.breaker.RecordSuccess()

	c.mu.Lock()
	c.lastGood = append([]*AvailablePlugin(nil), plugins...)
	c.mu.Unlock()
	return plugins, nil
}

func (c *BreakingCatalog) fallback(cause error) ([]*AvailablePlugin, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastGood == nil {
		return nil, cause
	}
	c.logger.Debug("Serving last known catalog", "plugins", len(c.lastGood))
	return append([]*AvailablePlugin(nil), c.lastGood...), nil
}
