// Command relay runs the MQTT relay that internet-bridge nodes meet on when
// they are out of radio range of each other.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MatusOllah/slogcolor"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/spf13/viper"

	"github.com/wpamesh/sonny-mesh/pkg/relay"
)

type relayConfig struct {
	ListenAddr    string
	WebsocketAddr string
	TopicRoot     string
	DebugMode     bool
	Credentials   []relay.Credential
}

func loadConfig() (*relayConfig, error) {
	v := viper.New()
	v.SetConfigName("sonny-relay")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sonny")
	v.SetEnvPrefix("SONNY_RELAY")
	v.AutomaticEnv()

	v.SetDefault("listenaddr", ":1883")
	v.SetDefault("topicroot", "sonny")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg relayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	opts := slogcolor.DefaultOptions
	logger := slog.New(slogcolor.NewHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("unable to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DebugMode {
		opts.Level = slog.LevelDebug
		logger = slog.New(slogcolor.NewHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: false,
		Logger:       logger.With("component", "mqtt"),
	})

	err = server.AddHook(new(relay.AuthHook), &relay.AuthHookOptions{
		Credentials: cfg.Credentials,
		TopicRoot:   cfg.TopicRoot,
	})
	if err != nil {
		slog.Error("unable to add auth hook", "error", err)
		os.Exit(1)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: cfg.ListenAddr})
	if err := server.AddListener(tcp); err != nil {
		slog.Error("unable to add tcp listener", "error", err)
		os.Exit(1)
	}
	if cfg.WebsocketAddr != "" {
		ws := listeners.NewWebsocket(listeners.Config{ID: "ws", Address: cfg.WebsocketAddr})
		if err := server.AddListener(ws); err != nil {
			slog.Error("unable to add websocket listener", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		if err := server.Serve(); err != nil {
			slog.Error("mqtt server failed", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("relay started", "listen", cfg.ListenAddr, "ws", cfg.WebsocketAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("relay shutting down")
	server.Close()
}
