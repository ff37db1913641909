// audit.go: security audit trail of lifecycle events via Argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// AuditTrail writes lifecycle events to an Argus audit log. Installing and
// removing code in a running host is security relevant, so every staged,
// marked or cancelled change is recorded with its batch and cause.
type AuditTrail struct {
	auditor *argus.AuditLogger
	file    string
	events  atomic.Int64
}

// NewAuditTrail opens the audit log at outputFile, creating its directory.
func NewAuditTrail(outputFile string) (*AuditTrail, error) {
	if outputFile == "" {
		return nil, NewAuditError("audit output file is required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(outputFile), 0750); err != nil {
		return nil, NewAuditError("failed to create audit directory", err)
	}

	auditor, err := argus.NewAuditLogger(argus.AuditConfig{
		Enabled:       true,
		OutputFile:    outputFile,
		MinLevel:      argus.AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		IncludeStack:  false,
	})
	if err != nil {
		return nil, NewAuditError("failed to create audit logger", err)
	}
	return &AuditTrail{auditor: auditor, file: outputFile}, nil
}

// Record writes one lifecycle event.
func (a *AuditTrail) Record(event LifecycleEvent) {
	context := map[string]interface{}{
		"component": "plugin_lifecycle",
		"event_id":  event.ID,
		"timestamp": event.Timestamp.Format(time.RFC3339),
	}
	if event.Plugin != "" {
		context["plugin"] = event.Plugin
	}
	if event.Version != "" {
		context["version"] = event.Version
	}
	if event.BatchID != "" {
		context["batch_id"] = event.BatchID
	}
	if event.Cause != "" {
		context["cause"] = event.Cause
	}
	if event.Error != "" {
		context["error"] = event.Error
	}

	a.events.Add(1)
	a.auditor.LogSecurityEvent(event.Type, "Plugin lifecycle event", context)
}

// Handler returns a LifecycleEventHandler feeding the trail.
func (a *AuditTrail) Handler() LifecycleEventHandler {
	return a.Record
}

// Events returns how many events were recorded.
func (a *AuditTrail) Events() int64 {
	return a.events.Load()
}

// File returns the audit log path.
func (a *AuditTrail) File() string {
	return a.file
}

// Close flushes and closes the audit log.
func (a *AuditTrail) Close() error {
	if err := a.auditor.Close(); err != nil {
		return NewAuditError("failed to close audit logger", err)
	}
	return nil
}
