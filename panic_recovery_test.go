// panic_recovery_test.go: goroutine panic recovery tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	logger := NewTestLogger()
	done := make(chan struct{})

	safeGo(logger, func() {
		defer close(done)
		panic("handler exploded")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
	assert.Eventually(t, func() bool {
		return logger.HasMessage("ERROR", "Panic recovered in goroutine")
	}, time.Second, 10*time.Millisecond)
}

func TestSafeCall_RecoversPanicInline(t *testing.T) {
	logger := NewTestLogger()
	ran := false

	assert.NotPanics(t, func() {
		safeCall(logger, func() {
			ran = true
			panic("handler exploded")
		})
	})
	assert.True(t, ran)
	assert.True(t, logger.HasMessage("ERROR", "Panic recovered in goroutine"))
}

func TestManager_PanickingHandlerDoesNotAffectOthers(t *testing.T) {
	f := newManagerFixture(t, nil, []*PluginDescriptor{testDescriptor("mail", "1.0.0")})
	received := make(chan LifecycleEvent, 1)
	f.manager.AddEventHandler(func(LifecycleEvent) { panic("bad handler") })
	f.manager.AddEventHandler(func(event LifecycleEvent) { received <- event })

	require.NoError(t, f.manager.Uninstall(context.Background(), "mail", false))

	select {
	case event := <-received:
		assert.Equal(t, EventUninstallMarked, event.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Eventually(t, func() bool {
		return f.logger.HasMessage("ERROR", "Panic recovered in goroutine")
	}, time.Second, 10*time.Millisecond)
}
