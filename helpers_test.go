// helpers_test.go: descriptor, archive and storage fixtures shared by tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testHostVersion = "3.1.0"

// testDescriptor builds a schema-compatible descriptor. deps are hard
// dependencies written as "name" or "name@minVersion".
func testDescriptor(name, version string, deps ...string) *PluginDescriptor {
	return &PluginDescriptor{
		SchemaVersion: HostSchemaVersion,
		Information:   PluginInformation{Name: name, Version: version},
		Dependencies:  refs(deps...),
		LoadingPolicy: PolicyHostFirst,
	}
}

func refs(specs ...string) []NameAndVersion {
	if len(specs) == 0 {
		return nil
	}
	out := make([]NameAndVersion, 0, len(specs))
	for _, spec := range specs {
		name, version, _ := strings.Cut(spec, "@")
		out = append(out, NameAndVersion{Name: name, Version: version})
	}
	return out
}

func testEnv() HostEnvironment {
	return DefaultHostEnvironment(testHostVersion)
}

func descriptorYAML(t *testing.T, d *PluginDescriptor) []byte {
	t.Helper()
	data, err := yaml.Marshal(d)
	require.NoError(t, err)
	return data
}

// writeInstalled lays out an installed plugin directory below root.
func writeInstalled(t *testing.T, root string, d *PluginDescriptor) string {
	t.Helper()
	dir := filepath.Join(root, d.Name())
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFileName), descriptorYAML(t, d), 0o600))
	return dir
}

// buildArchive zips d as plugin.yaml plus the given extra files.
func buildArchive(t *testing.T, d *PluginDescriptor, extra map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(DescriptorFileName)
	require.NoError(t, err)
	_, err = w.Write(descriptorYAML(t, d))
	require.NoError(t, err)

	for name, content := range extra {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// artifactServer serves plugin archives over HTTP and counts requests.
type artifactServer struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	artifacts map[string][]byte
	requests  map[string]int
}

func newArtifactServer(t *testing.T) *artifactServer {
	t.Helper()
	s := &artifactServer{
		t:         t,
		artifacts: make(map[string][]byte),
		requests:  make(map[string]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		data, ok := s.artifacts[r.URL.Path]
		s.requests[r.URL.Path]++
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.server.Close)
	return s
}

// publish serves an archive of d and returns the matching catalog entry.
func (s *artifactServer) publish(d *PluginDescriptor) *AvailablePlugin {
	data := buildArchive(s.t, d, nil)
	path := "/" + d.Name() + "-" + d.Version() + ".zip"

	s.mu.Lock()
	s.artifacts[path] = data
	s.mu.Unlock()

	return &AvailablePlugin{
		Descriptor: d,
		URL:        s.server.URL + path,
		Checksum:   checksumOf(data),
	}
}

// total returns the number of requests served so far.
func (s *artifactServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, count := range s.requests {
		n += count
	}
	return n
}

// count returns the number of requests for path.
func (s *artifactServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func (s *artifactServer) fetcher() Fetcher {
	return NewHTTPFetcherWithClient(s.server.Client())
}

// newTestStorage returns storage over fresh plugin and core directories.
func newTestStorage(t *testing.T) (*PluginStorage, string, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "plugins")
	core := filepath.Join(base, "core")
	require.NoError(t, os.MkdirAll(core, 0o750))
	storage, err := NewPluginStorage(root, core, NewTestLogger())
	require.NoError(t, err)
	return storage, root, core
}

// recordingRestarter counts restart requests.
type recordingRestarter struct {
	mu     sync.Mutex
	causes []string
}

func (r *recordingRestarter) Restart(cause string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.causes = append(r.causes, cause)
}

func (r *recordingRestarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.causes)
}
