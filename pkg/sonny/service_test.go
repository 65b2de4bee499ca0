package sonny

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpamesh/sonny-mesh/pkg/config"
	"github.com/wpamesh/sonny-mesh/pkg/mesh"
	"github.com/wpamesh/sonny-mesh/pkg/models"
)

func testConfig() *config.Configuration {
	return &config.Configuration{
		Node: config.NodeSettings{
			NodeID:      "node-1",
			DeviceID:    "device-1",
			DisplayName: "Asha",
			FamilyID:    "fam-1",
			UserID:      "asha",
		},
		Mesh: config.MeshSettings{
			EnableInternetBridge: true,
			HeartbeatInterval:    5 * time.Second,
			PeerTimeout:          30 * time.Second,
		},
		Relay: config.RelaySettings{BrokerURL: "tcp://relay.example.org:1883"},
	}
}

func TestNewRequiresATransport(t *testing.T) {
	cfg := testConfig()
	cfg.Mesh.EnableInternetBridge = false

	_, err := New(cfg)
	assert.ErrorIs(t, err, mesh.ErrNoTransport)
}

func TestEnabledRadioWithoutDriverDoesNotCount(t *testing.T) {
	cfg := testConfig()
	cfg.Mesh.EnableInternetBridge = false
	cfg.Mesh.EnableBluetooth = true
	cfg.Mesh.EnableWifiDirect = true

	_, err := New(cfg)
	assert.ErrorIs(t, err, mesh.ErrNoTransport)
}

func TestNewAssemblesCapabilities(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	defer s.Shutdown()

	node := s.Node()
	assert.Equal(t, "node-1", node.NodeID)
	assert.Equal(t, "fam-1", node.FamilyID)
	assert.True(t, node.HasCapability(models.CapInternet))
	assert.False(t, node.HasCapability(models.CapBluetooth))
	assert.Equal(t, models.MeshOffline, s.MeshStatus())
}

func TestConsentDefaultsToDenied(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	defer s.Shutdown()

	assert.Equal(t, models.ConsentDenied, s.CheckConsent("bob", models.ScopeMessaging))
}

func TestTriggerSurfaceIsWired(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	defer s.Shutdown()

	trig := s.CreateGeofence(models.Location{Latitude: 1, Longitude: 2}, 250)
	assert.Equal(t, models.TriggerArmed, trig.State)
	require.Len(t, s.Triggers(), 1)
	require.NoError(t, s.DisableTrigger(trig.TriggerID))
}

func TestConsentSyncMessagesAreNotSurfaced(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	defer s.Shutdown()

	var surfaced int
	s.Events().Subscribe(EventMessageReceived, func(any) { surfaced++ })

	s.onMessage(models.Message{
		SenderID: "bob",
		Scope:    scopeConsentSync,
		Payload:  []byte(`{"RequesterID":"asha","GranteeID":"bob","Scope":"messaging","Status":"granted"}`),
	})
	assert.Zero(t, surfaced)
	assert.Equal(t, models.ConsentGranted, s.CheckConsent("bob", models.ScopeMessaging))

	s.onMessage(models.Message{SenderID: "bob", Scope: models.ScopeMessaging, Payload: []byte("hi")})
	assert.Equal(t, 1, surfaced)
}
