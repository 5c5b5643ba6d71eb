package playbook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumsec/pentestd/internal/config"
)

const samplePlaybook = `id: internal-network
name: Internal Network Sweep
description: Sweep an internal segment.
category: network
phases:
  - name: host-discovery
    goal: Discover live hosts on the segment.
    tools: [nmap, masscan]
    max_steps: 3
  - name: service-enumeration
    goal: Enumerate services on discovered hosts.
`

func writePlaybook(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDirStoreServesBuiltins(t *testing.T) {
	s, err := NewDirStore(config.PlaybooksConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Get("recon")
	require.NoError(t, err)
	assert.True(t, p.Builtin)
	require.NotEmpty(t, p.Phases)
	assert.Equal(t, "subdomain-enumeration", p.Phases[0].Name)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirStoreLoadsYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "internal-network.yaml", samplePlaybook)

	s, err := NewDirStore(config.PlaybooksConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Get("internal-network")
	require.NoError(t, err)
	assert.Equal(t, "Internal Network Sweep", p.Name)
	assert.False(t, p.Builtin)
	require.Len(t, p.Phases, 2)
	assert.Equal(t, 3, p.Phases[0].MaxSteps)
	assert.Equal(t, defaultPhaseSteps, p.Phases[1].MaxSteps, "omitted max_steps takes the default")
}

func TestDirStoreIDDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "quick-scan.yml", "phases:\n  - name: scan\n    goal: Scan the target.\n")

	s, err := NewDirStore(config.PlaybooksConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Get("quick-scan")
	require.NoError(t, err)
	assert.Equal(t, "quick-scan", p.Name)
}

func TestDirStoreSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "broken.yaml", "id: broken\nphases: []\n")
	writePlaybook(t, dir, "good.yaml", samplePlaybook)

	s, err := NewDirStore(config.PlaybooksConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("broken")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("internal-network")
	assert.NoError(t, err)
}

func TestDirStoreFileShadowsBuiltin(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "recon.yaml",
		"id: recon\nname: Custom Recon\nphases:\n  - name: only\n    goal: Custom goal.\n")

	s, err := NewDirStore(config.PlaybooksConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	p, err := s.Get("recon")
	require.NoError(t, err)
	assert.Equal(t, "Custom Recon", p.Name)
	assert.False(t, p.Builtin)
}

func TestDirStoreMissingDirServesBuiltinsOnly(t *testing.T) {
	s, err := NewDirStore(config.PlaybooksConfig{Dir: filepath.Join(t.TempDir(), "missing")}, nil)
	require.NoError(t, err)
	defer s.Close()

	list := s.List()
	require.Len(t, list, len(builtins()))
}

func TestDirStoreListOrdered(t *testing.T) {
	s, err := NewDirStore(config.PlaybooksConfig{}, nil)
	require.NoError(t, err)
	defer s.Close()

	list := s.List()
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestDirStoreWatchReloads(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirStore(config.PlaybooksConfig{Dir: dir, Watch: true}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("internal-network")
	require.ErrorIs(t, err, ErrNotFound)

	writePlaybook(t, dir, "internal-network.yaml", samplePlaybook)

	require.Eventually(t, func() bool {
		_, err := s.Get("internal-network")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}
