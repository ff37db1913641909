// audit_test.go: lifecycle audit trail tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditTrail_RequiresFile(t *testing.T) {
	_, err := NewAuditTrail("")
	assert.True(t, HasErrorCode(err, ErrCodeAuditError))
}

func TestAuditTrail_RecordsManagerEvents(t *testing.T) {
	file := filepath.Join(t.TempDir(), "audit", "lifecycle.jsonl")
	trail, err := NewAuditTrail(file)
	require.NoError(t, err)
	assert.Equal(t, file, trail.File())

	f := newManagerFixture(t, nil, []*PluginDescriptor{testDescriptor("mail", "1.0.0")})
	f.manager.AddEventHandler(trail.Handler())

	require.NoError(t, f.manager.Uninstall(context.Background(), "mail", true))
	assert.Eventually(t, func() bool { return trail.Events() == 2 }, time.Second, 10*time.Millisecond,
		"uninstall_marked and restart_requested are audited")

	trail.Record(LifecycleEvent{
		ID:        "manual",
		Type:      EventInstallationFailed,
		Timestamp: time.Now(),
		Plugin:    "chat",
		Version:   "1.0.0",
		BatchID:   "batch-1",
		Cause:     "operator",
		Error:     "checksum mismatch",
	})
	assert.Equal(t, int64(3), trail.Events())

	require.NoError(t, trail.Close())
	assert.FileExists(t, file)
}
