// plugin_storage.go: on-disk layout of installed, core and staged plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// ChecksumMarkerName records the sha256 of the archive a plugin directory
	// was extracted from.
	ChecksumMarkerName = ".checksum"

	// UninstallMarkerName is created inside a plugin directory to request its
	// removal at the next restart.
	UninstallMarkerName = "uninstall"

	// StagedArtifactExt is the extension of archives waiting for activation.
	StagedArtifactExt = ".pkg"

	// ResourceDirName holds the resources a plugin bundles.
	ResourceDirName = "resources"
)

// PluginStorage owns the plugin directories of the host.
//
// Layout:
//
//	<root>/<name>/plugin.yaml       installed plugin
//	<root>/<name>/<name>.so         optional shared object
//	<root>/<name>/resources/        bundled resources
//	<root>/<name>/.checksum         archive checksum
//	<root>/<name>/uninstall         pending uninstall marker
//	<root>/<name>.pkg               staged archive
//	<coreRoot>/<name>/plugin.yaml   core plugin
type PluginStorage struct {
	root     string
	coreRoot string
	logger   Logger
}

// NewPluginStorage creates storage rooted at root. coreRoot may be empty.
// root is created if missing.
func NewPluginStorage(root, coreRoot string, logger Logger) (*PluginStorage, error) {
	if root == "" {
		return nil, NewStorageError("plugin root is required", root, nil)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, NewStorageError("cannot create plugin root", root, err)
	}
	return &PluginStorage{root: root, coreRoot: coreRoot, logger: NewLogger(logger)}, nil
}

// Root returns the directory of regular plugins.
func (s *PluginStorage) Root() string { return s.root }

// CoreRoot returns the directory of core plugins.
func (s *PluginStorage) CoreRoot() string { return s.coreRoot }

// PluginDir returns the directory an installed plugin called name lives in.
func (s *PluginStorage) PluginDir(name string) string {
	return filepath.Join(s.root, name)
}

// StagingPath returns where the archive of name waits for activation.
func (s *PluginStorage) StagingPath(name string) string {
	return filepath.Join(s.root, name+StagedArtifactExt)
}

// Scan reads every installed plugin, core plugins first. Directories without
// a readable descriptor are skipped with a warning.
func (s *PluginStorage) Scan(ctx context.Context) ([]*InstalledPlugin, error) {
	var plugins []*InstalledPlugin
	seen := make(map[string]bool)

	for _, root := range []struct {
		dir  string
		core bool
	}{{s.coreRoot, true}, {s.root, false}} {
		if root.dir == "" {
			continue
		}
		found, err := s.scanDir(ctx, root.dir, root.core)
		if err != nil {
			return nil, err
		}
		for _, p := range found {
			if seen[p.Name()] {
				return nil, NewDuplicatePluginError(p.Name())
			}
			seen[p.Name()] = true
			plugins = append(plugins, p)
		}
	}
	return plugins, nil
}

func (s *PluginStorage) scanDir(ctx context.Context, dir string, core bool) ([]*InstalledPlugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewStorageError("cannot read plugin directory", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var plugins []*InstalledPlugin
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())
		descriptor, err := ReadDirectoryDescriptor(pluginDir)
		if err != nil {
			s.logger.Warn("Skipping plugin directory without valid descriptor", "dir", pluginDir, "error", err)
			continue
		}
		installed := NewInstalledPlugin(descriptor, pluginDir, core)
		installed.Checksum, _ = ReadChecksumMarker(pluginDir)
		if !core && fileExists(filepath.Join(pluginDir, UninstallMarkerName)) {
			installed.setMarkedForUninstall(true)
		}
		plugins = append(plugins, installed)
	}
	return plugins, nil
}

// SymbolSourceFor picks the code of an installed plugin: its shared object
// when present, otherwise whatever registry holds under the plugin name.
// The second result is the resource root, empty when the plugin has none.
func (s *PluginStorage) SymbolSourceFor(p *InstalledPlugin, registry *SymbolRegistry) (SymbolSource, string) {
	var source SymbolSource = emptySource{name: p.Name()}
	if so := filepath.Join(p.Directory, p.Name()+".so"); fileExists(so) {
		source = NewSharedObjectSource(so)
	} else if registry != nil && registry.Has(p.Name()) {
		source = registry.Source(p.Name())
	}

	resourceRoot := filepath.Join(p.Directory, ResourceDirName)
	if info, err := os.Stat(resourceRoot); err != nil || !info.IsDir() {
		resourceRoot = ""
	}
	return source, resourceRoot
}

// Download fetches the archive of plugin into a temporary file below the
// plugin root and verifies its checksum. The caller owns the returned file.
func (s *PluginStorage) Download(ctx context.Context, fetcher Fetcher, plugin *AvailablePlugin) (string, error) {
	tmp, err := os.CreateTemp(s.root, ".download-*")
	if err != nil {
		return "", NewStorageError("cannot create download file", s.root, err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	fetchErr := fetcher.Fetch(ctx, plugin.URL, io.MultiWriter(tmp, hasher))
	closeErr := tmp.Close()
	if fetchErr == nil {
		fetchErr = closeErr
	}
	if fetchErr != nil {
		_ = os.Remove(tmpPath)
		return "", NewDownloadFailedError(plugin.Name(), plugin.URL, fetchErr)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if plugin.Checksum != "" && !strings.EqualFold(plugin.Checksum, actual) {
		_ = os.Remove(tmpPath)
		return "", NewChecksumMismatchError(plugin.Name(), plugin.Checksum, actual)
	}
	return tmpPath, nil
}

// Stage moves a verified download to the staging path of name.
func (s *PluginStorage) Stage(downloaded, name string) (string, error) {
	target := s.StagingPath(name)
	if err := os.Rename(downloaded, target); err != nil {
		return "", NewStorageError("cannot stage plugin archive", target, err)
	}
	return target, nil
}

// RemoveStaged deletes a staged archive. A missing file is not an error.
func (s *PluginStorage) RemoveStaged(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteUninstallMarker creates the zero-byte marker inside the plugin directory.
func (s *PluginStorage) WriteUninstallMarker(p *InstalledPlugin) (string, error) {
	marker := filepath.Join(p.Directory, UninstallMarkerName)
	file, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 -- marker path is derived from the plugin directory
	if err != nil {
		return "", err
	}
	return marker, file.Close()
}

// RemoveUninstallMarker deletes a marker. A missing marker is not an error.
func (s *PluginStorage) RemoveUninstallMarker(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadChecksumMarker returns the recorded archive checksum of dir.
func ReadChecksumMarker(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumMarkerName)) // #nosec G304 -- path is derived from the plugin directory
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteChecksumMarker records checksum for dir.
func WriteChecksumMarker(dir, checksum string) error {
	return os.WriteFile(filepath.Join(dir, ChecksumMarkerName), []byte(checksum+"\n"), 0o600)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Fetcher copies the artifact at url into dst.
type Fetcher interface {
	Fetch(ctx context.Context, url string, dst io.Writer) error
}

// HTTPFetcher fetches http and https URLs with an http.Client; file URLs and
// plain paths are read from the local file system.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout.
// A zero timeout relies on ctx alone.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// NewHTTPFetcherWithClient uses client, e.g. the one of an httptest server.
func NewHTTPFetcherWithClient(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, dst io.Writer) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid artifact url %q: %w", rawURL, err)
	}

	switch parsed.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL, dst)
	case "file":
		return fetchFile(parsed.Path, dst)
	case "":
		return fetchFile(rawURL, dst)
	default:
		return fmt.Errorf("unsupported artifact url scheme %q", parsed.Scheme)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, rawURL string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}
	_, err = io.Copy(dst, resp.Body)
	return err
}

func fetchFile(path string, dst io.Writer) error {
	file, err := os.Open(filepath.Clean(path)) // #nosec G304 -- artifact location comes from the catalog
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	_, err = io.Copy(dst, file)
	return err
}
