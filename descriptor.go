// descriptor.go: plugin descriptors, catalog entries and installed/pending records
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// DescriptorFileName is the fixed location of the descriptor inside a plugin
// archive and inside an installed plugin directory.
const DescriptorFileName = "plugin.yaml"

// HostSchemaVersion is the descriptor schema version this host understands.
// Descriptors declaring any other schema version are rejected.
const HostSchemaVersion = 2

// maxDescriptorSize bounds how much of an archive entry is read as descriptor.
const maxDescriptorSize = 1 << 20

// PluginInformation identifies a plugin. Name is the unique, stable id.
type PluginInformation struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
}

// NameAndVersion references a dependency. An empty Version accepts any version;
// otherwise it is the minimum acceptable version.
type NameAndVersion struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

func (nv NameAndVersion) String() string {
	if nv.Version == "" {
		return nv.Name
	}
	return nv.Name + "@" + nv.Version
}

// PluginDescriptor is the parsed content of a plugin.yaml.
//
// Example descriptor:
//
//	schema_version: 2
//	information:
//	  name: review-plugin
//	  display_name: Review
//	  version: 2.1.0
//	dependencies:
//	  - name: mail-plugin
//	    version: 2.0.0
//	optional_dependencies:
//	  - name: editor-plugin
//	condition:
//	  os: [linux, darwin]
//	  min_host_version: 3.0.0
//	loading_policy: host-first
type PluginDescriptor struct {
	SchemaVersion        int               `json:"schema_version" yaml:"schema_version"`
	Information          PluginInformation `json:"information" yaml:"information"`
	Dependencies         []NameAndVersion  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	OptionalDependencies []NameAndVersion  `json:"optional_dependencies,omitempty" yaml:"optional_dependencies,omitempty"`
	Condition            PluginCondition   `json:"condition,omitempty" yaml:"condition,omitempty"`
	LoadingPolicy        LoadingPolicy     `json:"loading_policy,omitempty" yaml:"loading_policy,omitempty"`
}

// Name returns the plugin name.
func (d *PluginDescriptor) Name() string {
	return d.Information.Name
}

// Version returns the declared version string.
func (d *PluginDescriptor) Version() string {
	return d.Information.Version
}

// NameAndVersion returns the reference other plugins resolve against.
func (d *PluginDescriptor) NameAndVersion() NameAndVersion {
	return NameAndVersion{Name: d.Information.Name, Version: d.Information.Version}
}

// DependencyNames returns the names of the hard dependencies.
func (d *PluginDescriptor) DependencyNames() []string {
	return namesOf(d.Dependencies)
}

// OptionalDependencyNames returns the names of the optional dependencies.
func (d *PluginDescriptor) OptionalDependencyNames() []string {
	return namesOf(d.OptionalDependencies)
}

// DependsOn reports whether name appears among the hard or optional dependencies.
func (d *PluginDescriptor) DependsOn(name string) bool {
	for _, dep := range d.Dependencies {
		if dep.Name == name {
			return true
		}
	}
	for _, dep := range d.OptionalDependencies {
		if dep.Name == name {
			return true
		}
	}
	return false
}

// Validate checks the fields every descriptor needs.
func (d *PluginDescriptor) Validate() error {
	if strings.TrimSpace(d.Information.Name) == "" {
		return NewInvalidDescriptorError(d.Information.Name, fmt.Errorf("plugin name is required"))
	}
	if _, err := ParsePluginVersion(d.Information.Version); err != nil {
		return NewInvalidDescriptorError(d.Information.Name, err)
	}
	for _, dep := range append(append([]NameAndVersion{}, d.Dependencies...), d.OptionalDependencies...) {
		if strings.TrimSpace(dep.Name) == "" {
			return NewInvalidDescriptorError(d.Information.Name, fmt.Errorf("dependency name is required"))
		}
		if dep.Name == d.Information.Name {
			return NewInvalidDescriptorError(d.Information.Name, fmt.Errorf("plugin cannot depend on itself"))
		}
		if dep.Version != "" {
			if _, err := ParsePluginVersion(dep.Version); err != nil {
				return NewInvalidDescriptorError(d.Information.Name, err)
			}
		}
	}
	switch d.LoadingPolicy {
	case "", PolicyHostFirst, PolicyPluginFirst:
	default:
		return NewInvalidDescriptorError(d.Information.Name, fmt.Errorf("unknown loading policy %q", d.LoadingPolicy))
	}
	return nil
}

func namesOf(refs []NameAndVersion) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	return names
}

// ParseDescriptor decodes a descriptor from JSON or YAML. JSON is tried first;
// anything that is not valid JSON is decoded as YAML. source only labels errors.
func ParseDescriptor(data []byte, source string) (*PluginDescriptor, error) {
	var descriptor PluginDescriptor
	if err := json.Unmarshal(data, &descriptor); err != nil {
		descriptor = PluginDescriptor{}
		if yamlErr := yaml.Unmarshal(data, &descriptor); yamlErr != nil {
			return nil, NewInvalidDescriptorError(source, yamlErr)
		}
	}
	if descriptor.LoadingPolicy == "" {
		descriptor.LoadingPolicy = PolicyHostFirst
	}
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	return &descriptor, nil
}

// ReadArchiveDescriptor reads the descriptor stored at DescriptorFileName
// inside the zip archive at path.
func ReadArchiveDescriptor(path string) (*PluginDescriptor, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, NewInvalidDescriptorError(path, err)
	}
	defer func() { _ = reader.Close() }()

	for _, file := range reader.File {
		if file.Name != DescriptorFileName {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, NewInvalidDescriptorError(path, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxDescriptorSize))
		_ = rc.Close()
		if err != nil {
			return nil, NewInvalidDescriptorError(path, err)
		}
		return ParseDescriptor(data, path)
	}
	return nil, NewInvalidDescriptorError(path, fmt.Errorf("archive has no %s", DescriptorFileName))
}

// ReadDirectoryDescriptor reads DescriptorFileName from an installed plugin directory.
func ReadDirectoryDescriptor(dir string) (*PluginDescriptor, error) {
	path := filepath.Join(dir, DescriptorFileName)
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from the plugin storage root
	if err != nil {
		return nil, NewInvalidDescriptorError(path, err)
	}
	return ParseDescriptor(data, path)
}

// AvailablePlugin is a catalog entry: a descriptor plus where to fetch the
// artifact and its expected sha256 checksum (hex).
type AvailablePlugin struct {
	Descriptor *PluginDescriptor `json:"descriptor"`
	URL        string            `json:"url"`
	Checksum   string            `json:"checksum"`

	// Pending is set on the copies returned by Manager.Available when an
	// installation of this plugin is queued.
	Pending bool `json:"pending,omitempty"`
}

// Name returns the plugin name.
func (a *AvailablePlugin) Name() string {
	return a.Descriptor.Name()
}

func (a *AvailablePlugin) withPending(pending bool) *AvailablePlugin {
	clone := *a
	clone.Pending = pending
	return &clone
}

// InstalledPlugin is a plugin present in the host's plugin storage.
// Only the Manager mutates the uninstall flags.
type InstalledPlugin struct {
	Descriptor *PluginDescriptor
	Directory  string
	Unit       LoadingUnit
	Core       bool
	Checksum   string

	markedForUninstall atomic.Bool
	uninstallable      atomic.Bool
}

// NewInstalledPlugin creates an installed plugin record.
func NewInstalledPlugin(descriptor *PluginDescriptor, directory string, core bool) *InstalledPlugin {
	return &InstalledPlugin{Descriptor: descriptor, Directory: directory, Core: core}
}

// Name returns the plugin name.
func (p *InstalledPlugin) Name() string {
	return p.Descriptor.Name()
}

// IsMarkedForUninstall reports whether an uninstall is pending.
func (p *InstalledPlugin) IsMarkedForUninstall() bool {
	return p.markedForUninstall.Load()
}

// IsUninstallable reports the flag computed after the last lifecycle mutation.
func (p *InstalledPlugin) IsUninstallable() bool {
	return p.uninstallable.Load()
}

func (p *InstalledPlugin) setMarkedForUninstall(marked bool) {
	p.markedForUninstall.Store(marked)
}

func (p *InstalledPlugin) setUninstallable(uninstallable bool) {
	p.uninstallable.Store(uninstallable)
}

// PendingInstallation is a downloaded and verified artifact waiting for activation.
type PendingInstallation struct {
	Plugin       *AvailablePlugin
	ArtifactPath string
	StagedAt     time.Time
	BatchID      string
}

// Name returns the plugin name.
func (p *PendingInstallation) Name() string {
	return p.Plugin.Name()
}

// PendingUninstallation is an installed plugin whose uninstall marker is written.
type PendingUninstallation struct {
	Plugin     *InstalledPlugin
	MarkerPath string
	MarkedAt   time.Time
}

// Name returns the plugin name.
func (p *PendingUninstallation) Name() string {
	return p.Plugin.Name()
}
