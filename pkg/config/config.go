package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Configuration is the full daemon configuration, loaded from sonny.yaml
// with SONNY_* environment overrides.
type Configuration struct {
	ListenAddr string
	DebugMode  bool
	Node       NodeSettings
	Mesh       MeshSettings
	Relay      RelaySettings
	Database   DatabaseSettings
}

// NodeSettings is the identity the host platform provisions for this device.
type NodeSettings struct {
	NodeID      string
	DeviceID    string
	DisplayName string
	FamilyID    string
	UserID      string
}

// MeshSettings selects and tunes the transport adapters. At least one
// transport must be enabled or initialization fails.
type MeshSettings struct {
	EnableBluetooth      bool
	EnableWifiDirect     bool
	EnableInternetBridge bool
	HeartbeatInterval    time.Duration
	PeerTimeout          time.Duration
}

// RelaySettings points the internet-bridge transport at its MQTT relay.
type RelaySettings struct {
	BrokerURL string
	Username  string
	Password  string
	// TopicRoot is the relay topic prefix, "sonny" when empty.
	TopicRoot string
}

// DatabaseSettings configures the durable store. With Enabled false the
// node runs memory-only and consent history, trust profiles and the
// outbox do not survive restarts.
type DatabaseSettings struct {
	Enabled  bool
	User     string
	Password string
	Host     string
	DB       string
}

// DSN builds the Postgres connection string.
func (d DatabaseSettings) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.DB)
}

// Load reads the configuration from dir, falling back to the working
// directory and /etc/sonny when dir is empty.
func Load(dir string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigName("sonny")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sonny")
	v.SetEnvPrefix("SONNY")
	v.AutomaticEnv()

	v.SetDefault("listenaddr", "127.0.0.1:8480")
	v.SetDefault("mesh.heartbeatinterval", "5s")
	v.SetDefault("mesh.peertimeout", "30s")
	v.SetDefault("relay.topicroot", "sonny")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Configuration
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}
