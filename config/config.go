package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"dtnd/eid"

	log "github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("invalid config")

type StaticPeer struct {
	EID     string `json:"eid"`
	Address string `json:"address"`
	// Convergence layers in preference order, e.g. "crpc:4556"
	CLAs []string `json:"clas"`
}

type CLAConfig struct {
	Name   string `json:"name"`
	Listen string `json:"listen"`
}

// Config holds the node settings. It is safe for concurrent use and may be
// reloaded from disk while the node runs.
type Config struct {
	mu sync.RWMutex

	// Default config file location
	configFile string

	Node struct {
		EID       string   `json:"eid"`
		Endpoints []string `json:"endpoints"`
		Routing   string   `json:"routing"`
	} `json:"node"`

	Peers struct {
		// Seconds without contact after which a dynamic peer is dropped
		Timeout       uint64       `json:"timeout"`
		SweepInterval uint64       `json:"sweep_interval"`
		Static        []StaticPeer `json:"static"`
	} `json:"peers"`

	Network struct {
		CLAs           []CLAConfig `json:"clas"`
		AdminListen    string      `json:"admin"`
		Discovery      bool        `json:"discovery"`
		DiscoveryGroup string      `json:"discovery_group"`
		BeaconInterval uint64      `json:"beacon_interval"`
	} `json:"network"`

	DataStore struct {
		Engine string `json:"engine"`
		Path   string `json:"path"`
	} `json:"datastore"`

	Metrics struct {
		Listen string `json:"listen"`
	} `json:"metrics"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Node.EID = "dtn://node1/"
	cfg.Node.Endpoints = []string{"dtn://node1/incoming"}
	cfg.Node.Routing = "epidemic"

	cfg.Peers.Timeout = 120
	cfg.Peers.SweepInterval = 10

	cfg.Network.CLAs = []CLAConfig{{Name: "crpc", Listen: ":4556"}}
	cfg.Network.AdminListen = "127.0.0.1:3000"
	cfg.Network.Discovery = true
	cfg.Network.DiscoveryGroup = "224.0.0.26:3003"
	cfg.Network.BeaconInterval = 2

	cfg.DataStore.Engine = "leveldb"
	cfg.DataStore.Path = "/tmp/dtnd/bundles"

	cfg.Metrics.Listen = "127.0.0.1:9100"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Path() string {
	return c.configFile
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

// Load reads the file over the current values. The result is validated
// before it replaces anything, so a broken file leaves the config untouched.
func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	c.mu.RLock()
	next := c.copyLocked()
	c.mu.RUnlock()

	if err := json.Unmarshal(data, next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.Node = next.Node
	c.Peers = next.Peers
	c.Network = next.Network
	c.DataStore = next.DataStore
	c.Metrics = next.Metrics
	c.mu.Unlock()
	return nil
}

// copyLocked expects c.mu to be held
func (c *Config) copyLocked() *Config {
	n := &Config{configFile: c.configFile}
	n.Node = c.Node
	n.Node.Endpoints = append([]string(nil), c.Node.Endpoints...)
	n.Peers = c.Peers
	n.Peers.Static = append([]StaticPeer(nil), c.Peers.Static...)
	n.Network = c.Network
	n.Network.CLAs = append([]CLAConfig(nil), c.Network.CLAs...)
	n.DataStore = c.DataStore
	n.Metrics = c.Metrics
	return n
}

// Snapshot returns a copy of the current settings for read-only use.
func (c *Config) Snapshot() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyLocked()
}

// PeerTimeout returns the current peer timeout in seconds.
func (c *Config) PeerTimeout() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Peers.Timeout
}

func (c *Config) SetPeerTimeout(seconds uint64) {
	c.mu.Lock()
	c.Peers.Timeout = seconds
	c.mu.Unlock()
}

func (c *Config) SweepInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(max(c.Peers.SweepInterval, 1)) * time.Second
}

func (c *Config) BeaconInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(max(c.Network.BeaconInterval, 1)) * time.Second
}

// Validate checks that identifiers and addresses parse.
func (c *Config) Validate() error {
	if _, err := eid.Parse(c.Node.EID); err != nil {
		return fmt.Errorf("%w: node eid: %v", ErrInvalidConfig, err)
	}
	for _, e := range c.Node.Endpoints {
		if _, err := eid.Parse(e); err != nil {
			return fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
		}
	}
	for _, p := range c.Peers.Static {
		if _, err := eid.Parse(p.EID); err != nil {
			return fmt.Errorf("%w: static peer: %v", ErrInvalidConfig, err)
		}
		if net.ParseIP(p.Address) == nil {
			return fmt.Errorf("%w: static peer %s: bad address %q", ErrInvalidConfig, p.EID, p.Address)
		}
	}
	switch c.DataStore.Engine {
	case "leveldb", "flatfs":
	default:
		return fmt.Errorf("%w: unknown datastore engine %q", ErrInvalidConfig, c.DataStore.Engine)
	}
	return nil
}
