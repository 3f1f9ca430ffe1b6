package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid config")
)

// Config holds docsync node configuration.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Neighbors   []NeighborConfig  `json:"neighbors" yaml:"neighbors"`
	Replication ReplicationConfig `json:"replication" yaml:"replication"`
	Workers     WorkersConfig     `json:"workers" yaml:"workers"`
	Heartbeat   HeartbeatConfig   `json:"heartbeat" yaml:"heartbeat"`
	Admin       AdminConfig       `json:"admin" yaml:"admin"`
	IDGen       IDGenConfig       `json:"idgen" yaml:"idgen"`
	Logger      logger.Config     `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	NodeID   string `json:"node_id" yaml:"node_id"`
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`
	MgmtPort int    `json:"mgmt_port" yaml:"mgmt_port"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir" yaml:"base_dir"`
	FSync   bool   `json:"fsync" yaml:"fsync"`
}

type NeighborConfig struct {
	NodeID   string `json:"node_id" yaml:"node_id"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	MgmtPort int    `json:"mgmt_port" yaml:"mgmt_port"`
}

type ReplicationConfig struct {
	IntervalMS       int `json:"interval_ms" yaml:"interval_ms"`
	ConnectTimeoutMS int `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	ReplyTimeoutMS   int `json:"reply_timeout_ms" yaml:"reply_timeout_ms"`
	SendConcurrency  int `json:"send_concurrency" yaml:"send_concurrency"`
	// Compression is "" (none) or "zstd".
	Compression string `json:"compression" yaml:"compression"`
}

type WorkersConfig struct {
	Count     int `json:"count" yaml:"count"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

type HeartbeatConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	ProbeIntervalMS  int  `json:"probe_interval_ms" yaml:"probe_interval_ms"`
	RejoinIntervalMS int  `json:"rejoin_interval_ms" yaml:"rejoin_interval_ms"`
}

// AdminConfig configures the HTTP admin API. An empty Addr disables it.
type AdminConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// IDGenConfig selects the clock behind finger numbers. An empty RedisAddr
// uses the local clock.
type IDGenConfig struct {
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname: "127.0.0.1",
			Port:     9000,
			MgmtPort: 9100,
		},
		Storage: StorageConfig{
			BaseDir: "./data",
		},
		Replication: ReplicationConfig{
			IntervalMS:       5000,
			ConnectTimeoutMS: 3000,
			ReplyTimeoutMS:   10000,
			SendConcurrency:  4,
		},
		Workers: WorkersConfig{
			Count:     8,
			QueueSize: 256,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:          true,
			ProbeIntervalMS:  1000,
			RejoinIntervalMS: 10000,
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Load reads the configuration file at path over the defaults and validates it.
// A node without an explicit node_id is named after the file, so node-a.yaml
// runs as "node-a".
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrConfigNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg, err := conflux.ParseConfig(path, DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	if cfg.Server.NodeID == "" {
		base := filepath.Base(path)
		cfg.Server.NodeID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.NodeID == "" {
		errs = append(errs, errors.New("server.node_id is required"))
	} else if err := domain.ValidateName(c.Server.NodeID); err != nil {
		errs = append(errs, fmt.Errorf("server.node_id %q cannot name a directory", c.Server.NodeID))
	}
	if !validPort(c.Server.Port) {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Heartbeat.Enabled {
		if !validPort(c.Server.MgmtPort) {
			errs = append(errs, fmt.Errorf("server.mgmt_port %d out of range", c.Server.MgmtPort))
		} else if c.Server.MgmtPort == c.Server.Port {
			errs = append(errs, errors.New("server.mgmt_port must differ from server.port"))
		}
	}
	if c.Storage.BaseDir == "" {
		errs = append(errs, errors.New("storage.base_dir is required"))
	}

	seen := make(map[string]bool, len(c.Neighbors))
	for i, n := range c.Neighbors {
		if n.Host == "" {
			errs = append(errs, fmt.Errorf("neighbors[%d].host is required", i))
		}
		if !validPort(n.Port) {
			errs = append(errs, fmt.Errorf("neighbors[%d].port %d out of range", i, n.Port))
		}
		if c.Heartbeat.Enabled && !validPort(n.MgmtPort) {
			errs = append(errs, fmt.Errorf("neighbors[%d].mgmt_port %d out of range", i, n.MgmtPort))
		}
		if n.NodeID != "" {
			if seen[n.NodeID] {
				errs = append(errs, fmt.Errorf("neighbors[%d].node_id %q is duplicated", i, n.NodeID))
			}
			seen[n.NodeID] = true
		}
	}

	if c.Replication.IntervalMS <= 0 {
		errs = append(errs, errors.New("replication.interval_ms must be positive"))
	}
	if c.Replication.ConnectTimeoutMS <= 0 {
		errs = append(errs, errors.New("replication.connect_timeout_ms must be positive"))
	}
	if c.Replication.ReplyTimeoutMS <= 0 {
		errs = append(errs, errors.New("replication.reply_timeout_ms must be positive"))
	}
	switch c.Replication.Compression {
	case "", "none", "zstd":
	default:
		errs = append(errs, fmt.Errorf("replication.compression %q is not supported", c.Replication.Compression))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// DocumentRoot is the directory holding this node's documents.
func (c *Config) DocumentRoot() string {
	return filepath.Join(c.Storage.BaseDir, c.Server.NodeID)
}

// NeighborList converts the configured neighbors to domain values. Neighbors
// without a node_id are named after their address.
func (c *Config) NeighborList() []domain.Neighbor {
	out := make([]domain.Neighbor, 0, len(c.Neighbors))
	for _, n := range c.Neighbors {
		nb := domain.Neighbor{
			NodeID:   n.NodeID,
			Host:     n.Host,
			Port:     n.Port,
			MgmtPort: n.MgmtPort,
		}
		if nb.NodeID == "" {
			nb.NodeID = nb.Key()
		}
		out = append(out, nb)
	}
	return out
}

func (r ReplicationConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

func (r ReplicationConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutMS) * time.Millisecond
}

func (r ReplicationConfig) ReplyTimeout() time.Duration {
	return time.Duration(r.ReplyTimeoutMS) * time.Millisecond
}

func (h HeartbeatConfig) ProbeInterval() time.Duration {
	return time.Duration(h.ProbeIntervalMS) * time.Millisecond
}

func (h HeartbeatConfig) RejoinInterval() time.Duration {
	return time.Duration(h.RejoinIntervalMS) * time.Millisecond
}
