// circuit_breaker_test.go: breaker state machine and guarded catalog tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	assert.False(t, cb.Enabled())
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  40 * time.Millisecond,
	})

	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State(), "a success resets the streak")

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.AllowRequest())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.AllowRequest(), "one probe after the recovery timeout")
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.AllowRequest(), "only SuccessThreshold probes are admitted")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.AllowRequest())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Millisecond,
		SuccessThreshold: 2,
	})
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, cb.AllowRequest())
	assert.True(t, cb.AllowRequest())
	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State(), "two successes are required")
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.AllowRequest())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.AllowRequest())
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitBreakerState(42).String())
}

func TestBreakingCatalog_ServesLastGoodListing(t *testing.T) {
	var calls atomic.Int32
	var failing atomic.Bool
	listing := []*AvailablePlugin{{Descriptor: testDescriptor("mail", "1.0.0")}}

	upstream := CatalogFunc(func(context.Context) ([]*AvailablePlugin, error) {
		calls.Add(1)
		if failing.Load() {
			return nil, errors.New("catalog unreachable")
		}
		return listing, nil
	})
	logger := NewTestLogger()
	catalog := NewBreakingCatalog(upstream, CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour}, logger)
	ctx := context.Background()

	plugins, err := catalog.Available(ctx)
	require.NoError(t, err)
	assert.Len(t, plugins, 1)

	failing.Store(true)
	for i := 0; i < 2; i++ {
		plugins, err = catalog.Available(ctx)
		require.NoError(t, err, "failures fall back to the last listing")
		assert.Equal(t, "mail", plugins[0].Name())
	}
	assert.Equal(t, StateOpen, catalog.Breaker().State())
	assert.True(t, logger.HasMessage("WARN", "Catalog lookup failed"))

	before := calls.Load()
	plugins, err = catalog.Available(ctx)
	require.NoError(t, err)
	assert.Len(t, plugins, 1)
	assert.Equal(t, before, calls.Load(), "an open circuit does not call upstream")
}

func TestBreakingCatalog_FailsWithoutListing(t *testing.T) {
	upstream := CatalogFunc(func(context.Context) ([]*AvailablePlugin, error) {
		return nil, errors.New("catalog unreachable")
	})
	catalog := NewBreakingCatalog(upstream, CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}, nil)

	_, err := catalog.Available(context.Background())
	assert.EqualError(t, err, "catalog unreachable")

	_, err = catalog.Available(context.Background())
	assert.True(t, HasErrorCode(err, ErrCodeCatalogError), "open circuit is reported as a catalog error")
}
