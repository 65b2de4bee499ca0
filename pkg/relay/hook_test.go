package relay

import (
	"log/slog"
	"testing"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wpamesh/sonny-mesh/pkg/auth"
)

func newTestHook(t *testing.T) *AuthHook {
	t.Helper()
	hash, salt := auth.GenerateHashAndSalt("letmein")
	h := new(AuthHook)
	h.Log = slog.New(slog.DiscardHandler)
	err := h.Init(&AuthHookOptions{
		TopicRoot: "sonny",
		Credentials: []Credential{
			{Username: "fam-1-node-1", Salt: salt, PasswordHash: hash},
		},
	})
	require.NoError(t, err)
	return h
}

func connectPacket(user, pass string) packets.Packet {
	var pk packets.Packet
	pk.Connect.Username = []byte(user)
	pk.Connect.Password = []byte(pass)
	return pk
}

func TestAuthenticateKnownCredential(t *testing.T) {
	h := newTestHook(t)
	cl := &mqtt.Client{ID: "sonny-node-1"}

	assert.True(t, h.OnConnectAuthenticate(cl, connectPacket("fam-1-node-1", "letmein")))
	assert.False(t, h.OnConnectAuthenticate(cl, connectPacket("fam-1-node-1", "wrong")))
	assert.False(t, h.OnConnectAuthenticate(cl, connectPacket("nobody", "letmein")))
}

func TestACLConfinesClientsToFamilyTopics(t *testing.T) {
	h := newTestHook(t)
	cl := &mqtt.Client{ID: "sonny-node-1"}

	tests := []struct {
		name  string
		topic string
		write bool
		want  bool
	}{
		{"own advert write", "sonny/fam-1/advert/node-1", true, true},
		{"foreign advert write", "sonny/fam-1/advert/node-2", true, false},
		{"advert filter read", "sonny/fam-1/advert/+", false, true},
		{"peer inbox write", "sonny/fam-1/node/node-2", true, true},
		{"own inbox read", "sonny/fam-1/node/node-1", false, true},
		{"foreign inbox read", "sonny/fam-1/node/node-2", false, false},
		{"outside root", "msh/US/2/e/x", false, false},
		{"too shallow", "sonny/fam-1", true, false},
		{"unknown kind", "sonny/fam-1/other/node-1", true, false},
		{"will topic", "will", true, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, h.OnACLCheck(cl, tt.topic, tt.write), tt.name)
	}
}

func TestInitRejectsWrongConfigType(t *testing.T) {
	h := new(AuthHook)
	h.Log = slog.New(slog.DiscardHandler)
	assert.ErrorIs(t, h.Init("bogus"), mqtt.ErrInvalidConfigType)
}
