// panic_recovery.go: panic recovery for fire-and-forget goroutines
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"runtime"
)

// withStackRecover returns a deferred function that recovers a panic and logs
// it together with the goroutine stack.
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    restarter.Restart(cause)
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)

			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// safeGo runs fn in a new goroutine; a panic is logged instead of crashing the host.
func safeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

// safeCall runs fn on the calling goroutine and logs a panic instead of
// propagating it.
func safeCall(logger Logger, fn func()) {
	defer withStackRecover(logger)()
	fn()
}
