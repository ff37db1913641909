// condition.go: declarative platform conditions for plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"fmt"
	goruntime "runtime"
	"strings"
)

// CheckStatus is the outcome of evaluating a PluginCondition.
type CheckStatus string

const (
	CheckOK              CheckStatus = "ok"
	CheckUnsupportedOS   CheckStatus = "unsupported_os"
	CheckUnsupportedArch CheckStatus = "unsupported_arch"
	CheckHostTooOld      CheckStatus = "host_too_old"
	CheckInvalid         CheckStatus = "invalid"
)

// ConditionCheck carries the status of a condition evaluation together with
// human readable reasons. The first failing predicate determines Status; every
// failing predicate contributes a reason.
type ConditionCheck struct {
	Status  CheckStatus `json:"status"`
	Reasons []string    `json:"reasons,omitempty"`
}

// IsOK reports whether every predicate held.
func (c ConditionCheck) IsOK() bool {
	return c.Status == CheckOK
}

// Runtime describes the host a condition is evaluated against.
type Runtime struct {
	OS          string `json:"os" yaml:"os"`
	Arch        string `json:"arch" yaml:"arch"`
	HostVersion string `json:"host_version" yaml:"host_version"`
}

// CurrentRuntime returns the runtime of this process for the given host version.
func CurrentRuntime(hostVersion string) Runtime {
	return Runtime{
		OS:          goruntime.GOOS,
		Arch:        goruntime.GOARCH,
		HostVersion: hostVersion,
	}
}

// PluginCondition restricts the hosts a plugin can run on. Empty lists and an
// empty MinHostVersion place no restriction.
type PluginCondition struct {
	OS             []string `json:"os,omitempty" yaml:"os,omitempty"`
	Arch           []string `json:"arch,omitempty" yaml:"arch,omitempty"`
	MinHostVersion string   `json:"min_host_version,omitempty" yaml:"min_host_version,omitempty"`
}

// Check evaluates the condition against rt.
func (c PluginCondition) Check(rt Runtime) ConditionCheck {
	result := ConditionCheck{Status: CheckOK}
	fail := func(status CheckStatus, reason string) {
		if result.Status == CheckOK {
			result.Status = status
		}
		result.Reasons = append(result.Reasons, reason)
	}

	if len(c.OS) > 0 && !containsFold(c.OS, rt.OS) {
		fail(CheckUnsupportedOS, fmt.Sprintf("os %q not in %v", rt.OS, c.OS))
	}
	if len(c.Arch) > 0 && !containsFold(c.Arch, rt.Arch) {
		fail(CheckUnsupportedArch, fmt.Sprintf("arch %q not in %v", rt.Arch, c.Arch))
	}
	if c.MinHostVersion != "" {
		cmp, err := CompareVersions(rt.HostVersion, c.MinHostVersion)
		switch {
		case err != nil:
			fail(CheckInvalid, fmt.Sprintf("cannot compare host version %q with %q", rt.HostVersion, c.MinHostVersion))
		case cmp < 0:
			fail(CheckHostTooOld, fmt.Sprintf("host version %s is older than required %s", rt.HostVersion, c.MinHostVersion))
		}
	}
	return result
}

func containsFold(values []string, value string) bool {
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}
