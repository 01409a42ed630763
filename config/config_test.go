package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := NewEmptyConfig("unused.json")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(120), cfg.PeerTimeout())
	assert.Equal(t, 10*time.Second, cfg.SweepInterval())
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dtnd.json")
	cfg := NewEmptyConfig(path)
	cfg.Node.EID = "dtn://alpha/"
	cfg.Peers.Static = []StaticPeer{{EID: "dtn://beta/", Address: "10.0.0.2", CLAs: []string{"crpc:4556"}}}
	cfg.SetPeerTimeout(30)
	require.NoError(t, cfg.Save())

	loaded, err := NewConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dtn://alpha/", loaded.Node.EID)
	assert.Equal(t, uint64(30), loaded.PeerTimeout())
	require.Len(t, loaded.Peers.Static, 1)
	assert.Equal(t, "10.0.0.2", loaded.Peers.Static[0].Address)
}

func TestReloadChangesTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dtnd.json")
	cfg := NewEmptyConfig(path)
	require.NoError(t, cfg.Save())

	other := NewEmptyConfig(path)
	other.SetPeerTimeout(5)
	require.NoError(t, other.Save())

	assert.Equal(t, uint64(120), cfg.PeerTimeout())
	require.NoError(t, cfg.Load())
	assert.Equal(t, uint64(5), cfg.PeerTimeout())
}

func TestBrokenReloadKeepsOldValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dtnd.json")
	cfg := NewEmptyConfig(path)
	require.NoError(t, cfg.Save())

	require.NoError(t, os.WriteFile(path, []byte(`{"node":{"eid":"bogus"},"peers":{"timeout":1}}`), 0644))
	err := cfg.Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, "dtn://node1/", cfg.Node.EID)
	assert.Equal(t, uint64(120), cfg.PeerTimeout())
}

func TestValidate(t *testing.T) {
	cfg := NewEmptyConfig("x")
	cfg.DataStore.Engine = "bolt"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = NewEmptyConfig("x")
	cfg.Peers.Static = []StaticPeer{{EID: "dtn://b/", Address: "nope"}}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = NewEmptyConfig("x")
	cfg.Node.Endpoints = []string{"mailto:x"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
