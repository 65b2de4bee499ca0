// Package relay implements the broker-side policy for the internet-bridge
// transport: credential checks and topic ACLs that keep each family's
// traffic inside its own topic subtree.
package relay

import (
	"bytes"
	"strings"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/wpamesh/sonny-mesh/pkg/auth"
)

// clientPrefix is prepended to the node id by the internet-bridge adapter
// when it builds its MQTT client id.
const clientPrefix = "sonny-"

// Credential is one provisioned relay account.
type Credential struct {
	Username     string
	Salt         string
	PasswordHash string
}

// AuthHookOptions contains configuration settings for the hook.
type AuthHookOptions struct {
	Credentials []Credential
	// TopicRoot is the prefix all family topics live under, "sonny" when
	// empty.
	TopicRoot string
}

type AuthHook struct {
	mqtt.HookBase
	config *AuthHookOptions
	root   string

	credLock sync.RWMutex
	creds    map[string]Credential
}

func (h *AuthHook) ID() string {
	return "sonny-relay-auth"
}

func (h *AuthHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnDisconnect,
	}, []byte{b})
}

func (h *AuthHook) Init(config any) error {
	if _, ok := config.(*AuthHookOptions); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}
	h.config = config.(*AuthHookOptions)
	h.root = h.config.TopicRoot
	if h.root == "" {
		h.root = "sonny"
	}

	h.creds = make(map[string]Credential, len(h.config.Credentials))
	for _, c := range h.config.Credentials {
		h.creds[c.Username] = c
	}
	h.Log.Info("initialised", "accounts", len(h.creds), "root", h.root)
	return nil
}

// OnConnectAuthenticate returns true if the connecting client presents a
// provisioned credential.
func (h *AuthHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	user := string(pk.Connect.Username)
	pass := string(pk.Connect.Password)

	h.credLock.RLock()
	cred, ok := h.creds[user]
	h.credLock.RUnlock()
	if !ok {
		h.Log.Info("client failed authentication check", "username", user, "remote", cl.Net.Remote)
		return false
	}
	if !auth.VerifyPassword(pass, cred.Salt, cred.PasswordHash) {
		h.Log.Info("client failed authentication check", "username", user, "remote", cl.Net.Remote)
		return false
	}
	h.Log.Info("client authenticated", "username", user, "client", cl.ID)
	return true
}

// OnACLCheck confines clients to the family topic subtree. A node may write
// only its own retained advert but any peer inbox; it may read the family
// advert filter and only its own inbox.
func (h *AuthHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if topic == "will" || topic == "/will" {
		return true
	}

	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != h.root {
		return false
	}
	nodeID := strings.TrimPrefix(cl.ID, clientPrefix)

	switch parts[2] {
	case "advert":
		if write {
			return parts[3] == nodeID
		}
		return true
	case "node":
		if write {
			return true
		}
		return parts[3] == nodeID
	}

	h.Log.Debug("client failed ACL check", "client", cl.ID, "topic", topic, "write", write)
	return false
}

func (h *AuthHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.Log.Info("client disconnected", "client", cl.ID, "expire", expire, "error", err)
}
