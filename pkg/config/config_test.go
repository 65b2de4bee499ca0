package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "sonny.yaml"), []byte(contents), 0o644)
	require.NoError(t, err)
	return dir
}

func TestLoadFullConfig(t *testing.T) {
	dir := writeConfig(t, `
listenaddr: "127.0.0.1:9000"
debugmode: true
node:
  nodeid: node-1
  deviceid: device-1
  displayname: Asha
  familyid: fam-1
  userid: asha
mesh:
  enablebluetooth: true
  enablewifidirect: true
  enableinternetbridge: true
  heartbeatinterval: 2s
  peertimeout: 45s
relay:
  brokerurl: tcp://relay.example.org:1883
  username: fam-1-node-1
  password: secret
database:
  enabled: true
  user: sonny
  password: pw
  host: localhost
  db: sonny
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, "node-1", cfg.Node.NodeID)
	assert.Equal(t, "fam-1", cfg.Node.FamilyID)
	assert.True(t, cfg.Mesh.EnableBluetooth)
	assert.Equal(t, 2*time.Second, cfg.Mesh.HeartbeatInterval)
	assert.Equal(t, 45*time.Second, cfg.Mesh.PeerTimeout)
	assert.Equal(t, "tcp://relay.example.org:1883", cfg.Relay.BrokerURL)
	assert.Equal(t, "sonny", cfg.Relay.TopicRoot)
	assert.Equal(t, "postgres://sonny:pw@localhost/sonny?sslmode=disable", cfg.Database.DSN())
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := writeConfig(t, `
node:
  nodeid: node-1
  familyid: fam-1
  userid: asha
mesh:
  enableinternetbridge: true
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8480", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Mesh.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Mesh.PeerTimeout)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}
