package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cuemby/kbus/pkg/bridge"
	"github.com/cuemby/kbus/pkg/broker"
	"github.com/cuemby/kbus/pkg/log"
	"github.com/cuemby/kbus/pkg/message"
	"github.com/cuemby/kbus/pkg/metrics"
	"github.com/cuemby/kbus/pkg/queue"
	"github.com/cuemby/kbus/pkg/security"
	"gopkg.in/yaml.v3"
)

// Config is the kbusd configuration file
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Broker  BrokerConfig  `yaml:"broker"`
	Metrics MetricsConfig `yaml:"metrics"`
	Bridge  BridgeConfig  `yaml:"bridge"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type BrokerConfig struct {
	QueueLimit         int  `yaml:"queue_limit"`
	MaxNameLength      int  `yaml:"max_name_length"`
	MaxMessageSize     int  `yaml:"max_message_size"`
	ReportReplierBinds bool `yaml:"report_replier_binds"`
}

type MetricsConfig struct {
	// Addr is the admin HTTP address; empty disables it
	Addr            string        `yaml:"addr"`
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// BridgeConfig configures an optional bridge. Listen and Peer are
// exclusive; with neither set no bridge runs.
type BridgeConfig struct {
	NetworkID     uint32        `yaml:"network_id"`
	Transport     string        `yaml:"transport"`
	Listen        string        `yaml:"listen"`
	Peer          string        `yaml:"peer"`
	QueueLimit    int           `yaml:"queue_limit"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	TLS           TLSConfig     `yaml:"tls"`
}

// TLSConfig encrypts the bridge link. A listener needs CertFile and
// KeyFile; a dialler verifies the peer against CAFile, or the system roots
// when CAFile is empty.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ServerName string `yaml:"server_name"`
}

const (
	transportTCP  = "tcp"
	transportGRPC = "grpc"
)

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: string(log.InfoLevel)},
		Broker: BrokerConfig{
			QueueLimit:    queue.DefaultLimit,
			MaxNameLength: message.DefaultMaxNameLength,
		},
		Metrics: MetricsConfig{
			Addr:            "127.0.0.1:9090",
			CollectInterval: metrics.DefaultCollectInterval,
		},
		Bridge: BridgeConfig{
			Transport:     transportTCP,
			QueueLimit:    bridge.DefaultQueueLimit,
			RetryInterval: 5 * time.Second,
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %v", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for contradictions
func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Broker.QueueLimit < 0 || c.Broker.MaxNameLength < 0 || c.Broker.MaxMessageSize < 0 {
		return fmt.Errorf("broker limits must not be negative")
	}

	b := c.Bridge
	if !b.Enabled() {
		return nil
	}
	if b.Listen != "" && b.Peer != "" {
		return fmt.Errorf("bridge: listen and peer are exclusive")
	}
	if b.NetworkID == 0 {
		return fmt.Errorf("bridge: network_id must be set")
	}
	if b.Transport != transportTCP && b.Transport != transportGRPC {
		return fmt.Errorf("bridge: unknown transport %q", b.Transport)
	}
	if b.TLS.Enabled && b.Listen != "" && (b.TLS.CertFile == "" || b.TLS.KeyFile == "") {
		return fmt.Errorf("bridge: tls listener needs cert_file and key_file")
	}
	return nil
}

// Enabled reports whether a bridge should run
func (b BridgeConfig) Enabled() bool {
	return b.Listen != "" || b.Peer != ""
}

// tlsConfig loads the bridge's TLS configuration, or nil when TLS is off
func (b BridgeConfig) tlsConfig() (*tls.Config, error) {
	if !b.TLS.Enabled {
		return nil, nil
	}
	if b.Listen != "" {
		return security.ServerTLSConfig(b.TLS.CertFile, b.TLS.KeyFile)
	}
	name := b.TLS.ServerName
	if name == "" {
		if host, _, err := net.SplitHostPort(b.Peer); err == nil {
			name = host
		}
	}
	return security.ClientTLSConfig(b.TLS.CAFile, name)
}

// BrokerOptions converts to the broker's own configuration
func (c Config) BrokerOptions() broker.Config {
	return broker.Config{
		DefaultQueueLimit:  c.Broker.QueueLimit,
		MaxNameLength:      c.Broker.MaxNameLength,
		MaxMessageSize:     c.Broker.MaxMessageSize,
		ReportReplierBinds: c.Broker.ReportReplierBinds,
	}
}

// BridgeOptions converts to the bridge's own configuration
func (c Config) BridgeOptions() bridge.Config {
	return bridge.Config{
		NetworkID:  c.Bridge.NetworkID,
		QueueLimit: c.Bridge.QueueLimit,
	}
}
