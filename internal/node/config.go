// Package node implements the trust node's libp2p Network Actor (§4.6) and
// Query Coordinator (§4.7).
package node

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/libp2p/go-libp2p/core/protocol"
	"gopkg.in/yaml.v3"
)

// NetworkType selects which protocol namespace a node joins.
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
)

// Network-specific constants for peer separation, mirroring the protocol
// IDs in protocol.go.
const (
	MainnetDHTPrefix   = "/repeer"
	MainnetDiscoveryNS = "repeer-mainnet"

	TestnetDHTPrefix   = "/repeer-testnet"
	TestnetDiscoveryNS = "repeer-testnet"
)

// Config holds all configuration for the trust node.
type Config struct {
	NetworkType NetworkType `yaml:"network_type"`

	Identity IdentityConfig `yaml:"identity"`
	Network  NetworkConfig  `yaml:"network"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Query    QueryConfig    `yaml:"query"`
}

// DHTPrefix returns the DHT protocol prefix for the configured network.
func (c *Config) DHTPrefix() string {
	if c.NetworkType == NetworkTestnet {
		return TestnetDHTPrefix
	}
	return MainnetDHTPrefix
}

// DiscoveryNamespace returns the discovery namespace for the configured network.
func (c *Config) DiscoveryNamespace() string {
	if c.NetworkType == NetworkTestnet {
		return TestnetDiscoveryNS
	}
	return MainnetDiscoveryNS
}

// TrustProtocol returns the stream protocol ID for the configured network
// (§4.5).
func (c *Config) TrustProtocol() protocol.ID {
	if c.NetworkType == NetworkTestnet {
		return TrustProtocolTestnet
	}
	return TrustProtocolMainnet
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == NetworkTestnet
}

// IdentityConfig holds identity-related settings.
type IdentityConfig struct {
	// KeyFile is the path to the node's private key file.
	KeyFile string `yaml:"key_file"`
}

// NetworkConfig holds P2P network settings.
type NetworkConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`

	EnableMDNS bool `yaml:"enable_mdns"`
	EnableDHT  bool `yaml:"enable_dht"`
	EnableNAT  bool `yaml:"enable_nat"`

	// DiscoveryInterval is how often the actor re-runs peer discovery
	// (§4.6 item 3, grounded on the 30s discovery_interval in the original
	// actor loop).
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`

	// ReconnectInterval is how often the actor retries connecting to known
	// peers it is not currently connected to (§4.6 item 4, grounded on the
	// original's 5s peer_connection_interval).
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	// MaxReconnectAttempts caps the total number of dial attempts made in
	// one reconnect tick, across all known peers (§4.6 item 4).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	ConnMgr ConnMgrConfig `yaml:"conn_mgr"`
}

// ConnMgrConfig holds connection manager settings.
type ConnMgrConfig struct {
	LowWater    int           `yaml:"low_water"`
	HighWater   int           `yaml:"high_water"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// QueryConfig holds Query Coordinator tunables (§4.7, §5).
type QueryConfig struct {
	// DefaultForgetRate is a configured forget rate. The coordinator does not
	// read it: a query's forget_rate is used as sent, and a wire query that
	// omits forget_rate decodes it as 0.
	DefaultForgetRate float64 `yaml:"default_forget_rate"`

	// MaxHops is the default fan-out depth a Client.QueryTrust caller can
	// pass as maxDepth. The coordinator does not cap a query's max_depth
	// by it.
	MaxHops int `yaml:"max_hops"`

	// FanoutTimeout bounds how long the coordinator waits on outstanding
	// peer responses before resolving with whatever has arrived (§4.7
	// Phase 3).
	FanoutTimeout time.Duration `yaml:"fanout_timeout"`

	// CacheTTL is the entry lifetime of the Local Score Engine's memoized
	// local scores (§4.3 memoization); 0 disables the cache. Cached peer
	// opinions are not governed by it.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: NetworkMainnet,
		Identity: IdentityConfig{
			KeyFile: "node.key",
		},
		Network: NetworkConfig{
			ListenAddrs: []string{
				"/ip4/0.0.0.0/tcp/4101",
				"/ip4/0.0.0.0/udp/4101/quic-v1",
				"/ip6/::/tcp/4101",
				"/ip6/::/udp/4101/quic-v1",
			},
			BootstrapPeers:        []string{},
			EnableMDNS:            true,
			EnableDHT:             true,
			EnableNAT:             true,
			DiscoveryInterval:     30 * time.Second,
			ReconnectInterval:     5 * time.Second,
			MaxReconnectAttempts:  5,
			ConnMgr: ConnMgrConfig{
				LowWater:    100,
				HighWater:   400,
				GracePeriod: time.Minute,
			},
		},
		Storage: StorageConfig{
			DataDir: "~/.trustnode",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Query: QueryConfig{
			DefaultForgetRate: 0.1,
			MaxHops:           2,
			FanoutTimeout:     10 * time.Second,
			CacheTTL:          time.Hour,
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file, creating one with
// default values if it doesn't exist.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Trust node configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
