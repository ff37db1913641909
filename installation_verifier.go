// installation_verifier.go: condition and dependency checks before a plugin is staged
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import "sort"

// InstallationContext is an immutable snapshot of the plugins a candidate may
// depend on: the installed set plus everything pending installation.
type InstallationContext struct {
	plugins map[string]NameAndVersion
}

// NewInstallationContext builds a context from the given references.
// A later entry with the same name replaces an earlier one, so pending
// updates shadow the installed version they replace.
func NewInstallationContext(refs ...NameAndVersion) InstallationContext {
	plugins := make(map[string]NameAndVersion, len(refs))
	for _, ref := range refs {
		plugins[ref.Name] = ref
	}
	return InstallationContext{plugins: plugins}
}

// InstallationContextFrom builds a context from installed plugins and
// pending installations.
func InstallationContextFrom(installed []*InstalledPlugin, pending []*PendingInstallation) InstallationContext {
	refs := make([]NameAndVersion, 0, len(installed)+len(pending))
	for _, p := range installed {
		refs = append(refs, p.Descriptor.NameAndVersion())
	}
	for _, p := range pending {
		refs = append(refs, p.Plugin.Descriptor.NameAndVersion())
	}
	return NewInstallationContext(refs...)
}

// With returns a new context that additionally contains refs.
func (c InstallationContext) With(refs ...NameAndVersion) InstallationContext {
	all := make([]NameAndVersion, 0, len(c.plugins)+len(refs))
	for _, ref := range c.plugins {
		all = append(all, ref)
	}
	return NewInstallationContext(append(all, refs...)...)
}

// Find returns the reference registered under name.
func (c InstallationContext) Find(name string) (NameAndVersion, bool) {
	ref, ok := c.plugins[name]
	return ref, ok
}

// Names returns the sorted plugin names in the context.
func (c InstallationContext) Names() []string {
	names := make([]string, 0, len(c.plugins))
	for name := range c.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VerifyInstallation checks that descriptor can be installed next to the
// plugins in ctx on rt. It has no side effects.
//
// The condition is checked first, then every hard dependency must be present
// in ctx with at least the declared version. Optional dependencies are only
// version-checked when present.
func VerifyInstallation(ctx InstallationContext, descriptor *PluginDescriptor, rt Runtime) error {
	if check := descriptor.Condition.Check(rt); !check.IsOK() {
		return NewPluginConditionFailedError(descriptor.Name(), check)
	}

	for _, dep := range descriptor.Dependencies {
		present, ok := ctx.Find(dep.Name)
		if !ok {
			return NewDependencyNotFoundError(descriptor.Name(), dep.Name)
		}
		if err := verifyDependencyVersion(descriptor.Name(), dep, present); err != nil {
			return err
		}
	}

	for _, dep := range descriptor.OptionalDependencies {
		present, ok := ctx.Find(dep.Name)
		if !ok {
			continue
		}
		if err := verifyDependencyVersion(descriptor.Name(), dep, present); err != nil {
			return err
		}
	}
	return nil
}

func verifyDependencyVersion(pluginName string, required, present NameAndVersion) error {
	if required.Version == "" {
		return nil
	}
	cmp, err := CompareVersions(present.Version, required.Version)
	if err != nil {
		return err
	}
	if cmp < 0 {
		return NewDependencyVersionMismatchError(pluginName, required.Name, required.Version, present.Version)
	}
	return nil
}
