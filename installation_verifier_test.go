// installation_verifier_test.go: installation verification tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyInstallation_VersionMismatch(t *testing.T) {
	ctx := NewInstallationContext(NameAndVersion{Name: "B", Version: "1.5"})
	candidate := testDescriptor("A", "1.0.0", "B@2.0")

	err := VerifyInstallation(ctx, candidate, testEnv().Runtime)
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeDependencyVersionMismatch))

	for key, expected := range map[string]string{
		"plugin_name":      "A",
		"dependency_name":  "B",
		"required_version": "2.0",
		"actual_version":   "1.5",
	} {
		value, ok := ErrorContext(err, key)
		require.True(t, ok, key)
		assert.Equal(t, expected, value, key)
	}
}

func TestVerifyInstallation_DependencyNotFound(t *testing.T) {
	ctx := NewInstallationContext(NameAndVersion{Name: "B", Version: "1.0"})
	candidate := testDescriptor("A", "1.0.0", "C")

	err := VerifyInstallation(ctx, candidate, testEnv().Runtime)
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeDependencyNotFound))

	plugin, _ := ErrorContext(err, "plugin_name")
	dependency, _ := ErrorContext(err, "dependency_name")
	assert.Equal(t, "A", plugin)
	assert.Equal(t, "C", dependency)
}

func TestVerifyInstallation_Accepts(t *testing.T) {
	ctx := NewInstallationContext(
		NameAndVersion{Name: "mail", Version: "2.0.0"},
		NameAndVersion{Name: "vcs", Version: "1.2.0"},
	)

	testCases := map[string]*PluginDescriptor{
		"no dependencies":  testDescriptor("a", "1.0.0"),
		"any version":      testDescriptor("a", "1.0.0", "mail"),
		"exact minimum":    testDescriptor("a", "1.0.0", "mail@2.0.0"),
		"newer than asked": testDescriptor("a", "1.0.0", "mail@1.9", "vcs@1"),
	}
	for name, d := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, VerifyInstallation(ctx, d, testEnv().Runtime))
		})
	}
}

func TestVerifyInstallation_OptionalDependencies(t *testing.T) {
	ctx := NewInstallationContext(NameAndVersion{Name: "editor", Version: "1.0.0"})

	absent := testDescriptor("review", "1.0.0")
	absent.OptionalDependencies = refs("chat@3.0")
	assert.NoError(t, VerifyInstallation(ctx, absent, testEnv().Runtime))

	tooOld := testDescriptor("review", "1.0.0")
	tooOld.OptionalDependencies = refs("editor@2.0")
	err := VerifyInstallation(ctx, tooOld, testEnv().Runtime)
	assert.True(t, HasErrorCode(err, ErrCodeDependencyVersionMismatch))
}

func TestVerifyInstallation_ConditionCheckedFirst(t *testing.T) {
	d := testDescriptor("a", "1.0.0", "missing")
	d.Condition = PluginCondition{MinHostVersion: "99.0"}

	err := VerifyInstallation(NewInstallationContext(), d, testEnv().Runtime)
	assert.True(t, HasErrorCode(err, ErrCodePluginConditionFailed))
}

func TestInstallationContext(t *testing.T) {
	installed := []*InstalledPlugin{
		NewInstalledPlugin(testDescriptor("mail", "1.0.0"), "", false),
		NewInstalledPlugin(testDescriptor("vcs", "1.0.0"), "", false),
	}
	pending := []*PendingInstallation{
		{Plugin: &AvailablePlugin{Descriptor: testDescriptor("mail", "2.0.0")}},
	}

	ctx := InstallationContextFrom(installed, pending)
	mail, ok := ctx.Find("mail")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", mail.Version, "pending update shadows installed version")
	assert.Equal(t, []string{"mail", "vcs"}, ctx.Names())

	extended := ctx.With(NameAndVersion{Name: "chat", Version: "1.0.0"})
	assert.Equal(t, []string{"chat", "mail", "vcs"}, extended.Names())
	assert.Equal(t, []string{"mail", "vcs"}, ctx.Names(), "With must not modify the receiver")

	_, ok = ctx.Find("chat")
	assert.False(t, ok)
}
