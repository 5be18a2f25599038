// Package config loads and validates node configuration: network
// addresses, storage paths, consensus thresholds, and the timing
// parameters that bound each item processor's state machine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Config holds all node configuration.
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	RPCPort int    `json:"rpc_port"`
	P2PPort int    `json:"p2p_port"`

	SeedPeers    []SeedPeer `json:"seed_peers,omitempty"`
	TLS          *TLSConfig `json:"tls,omitempty"`
	RPCAuthToken string     `json:"rpc_auth_token,omitempty"`

	// Consensus thresholds: number of distinct peer votes required to
	// declare a positive or negative outcome.
	PositiveConsensus int `json:"positive_consensus"`
	NegativeConsensus int `json:"negative_consensus"`

	// Timing parameters bounding the item processor state machine.
	MaxDownloadOnApproveTime time.Duration `json:"max_download_on_approve_time"`
	MaxGetItemTime           time.Duration `json:"max_get_item_time"`
	MaxItemCreationAge       time.Duration `json:"max_item_creation_age"`
	PollTime                 time.Duration `json:"poll_time"`
	RevokedItemExpiration    time.Duration `json:"revoked_item_expiration"`
	DeclinedItemExpiration   time.Duration `json:"declined_item_expiration"`
	MaxCacheAge              time.Duration `json:"max_cache_age"`

	// ProcessorRetention is how long a finished item processor stays
	// resident (reachable by id for status queries) before eviction.
	ProcessorRetention time.Duration `json:"processor_retention"`

	// SchedulerWorkers bounds the shared worker pool used for download and
	// poll tasks; sized to support at least 256 concurrently scheduled
	// tasks by default.
	SchedulerWorkers int `json:"scheduler_workers"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:                   "node0",
		DataDir:                  "./data",
		RPCPort:                  8787,
		P2PPort:                  9787,
		PositiveConsensus:        3,
		NegativeConsensus:        3,
		MaxDownloadOnApproveTime: 5 * time.Minute,
		MaxGetItemTime:           30 * time.Second,
		MaxItemCreationAge:       30 * time.Minute,
		PollTime:                 5 * time.Second,
		RevokedItemExpiration:    10 * 24 * time.Hour,
		DeclinedItemExpiration:   10 * 24 * time.Hour,
		MaxCacheAge:              20 * time.Minute,
		ProcessorRetention:       5 * time.Minute,
		SchedulerWorkers:         256,
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if c.PositiveConsensus <= 0 {
		return fmt.Errorf("positive_consensus must be > 0")
	}
	if c.NegativeConsensus <= 0 {
		return fmt.Errorf("negative_consensus must be > 0")
	}
	if c.SchedulerWorkers <= 0 {
		return fmt.Errorf("scheduler_workers must be > 0")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}
