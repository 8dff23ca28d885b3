package cfg

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// CoordinationBackend selects the coordination service implementation
type CoordinationBackend string

const (
	CoordinationZooKeeper CoordinationBackend = "zookeeper"
	CoordinationMemory    CoordinationBackend = "memory" // Single process only, for development
)

// ServerConfiguration controls the line protocol listener
type ServerConfiguration struct {
	BindAddress      string `toml:"bind_address"`
	Port             int    `toml:"port"`
	AdvertiseAddress string `toml:"advertise_address"` // host:port other nodes dial (defaults to hostname:port)
}

// CoordinationConfiguration controls the coordination service session
type CoordinationConfiguration struct {
	Backend          CoordinationBackend `toml:"backend"`
	Servers          []string            `toml:"servers"`
	SessionTimeoutMS int                 `toml:"session_timeout_ms"`
	ConnectTimeoutMS int                 `toml:"connect_timeout_ms"` // Bounded wait for the initial session
	NodesPath        string              `toml:"nodes_path"`
	LeadersPath      string              `toml:"leaders_path"`
	WatchRetryMS     int                 `toml:"watch_retry_ms"` // Delay before re-arming a failed watch
}

// ReplicationConfiguration controls replica fan-out
type ReplicationConfiguration struct {
	Replicas      []string `toml:"replicas"` // Replica addresses advertised when this node leads
	MaxAttempts   int      `toml:"max_attempts"`
	BackoffMS     int      `toml:"backoff_ms"`
	DialTimeoutMS int      `toml:"dial_timeout_ms"`
	IOTimeoutMS   int      `toml:"io_timeout_ms"`
	QueueSize     int      `toml:"queue_size"` // Per replica
}

// AdminConfiguration controls the admin HTTP port. /metrics is served there
// too when Prometheus is enabled, even with the admin API disabled.
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"` // Bound on server.bind_address; 0 picks a free port
	Secret  string `toml:"secret"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// SinkConfiguration describes one change feed destination
type SinkConfiguration struct {
	Name             string   `toml:"name"`
	Type             string   `toml:"type"`              // "nats", "kafka"
	Format           string   `toml:"format"`            // "json", "msgpack"
	Compression      string   `toml:"compression"`       // "" or "zstd"
	CompressionLevel int      `toml:"compression_level"` // 1 (fastest) to 4 (best)
	NatsURL          string   `toml:"nats_url"`
	Brokers          []string `toml:"brokers"`
	TopicPrefix      string   `toml:"topic_prefix"`
	FilterKeys       []string `toml:"filter_keys"`    // Glob patterns, empty matches all
	FilterOrigins    []string `toml:"filter_origins"` // "client", "replicated"; empty matches all
	BatchSize        int      `toml:"batch_size"`
	PollIntervalMS   int      `toml:"poll_interval_ms"`
	RetryInitialMS   int      `toml:"retry_initial_ms"`
	RetryMaxMS       int      `toml:"retry_max_ms"`
	RetryMultiplier  float64  `toml:"retry_multiplier"`
}

// PublisherConfiguration controls the change feed
type PublisherConfiguration struct {
	Enabled bool                `toml:"enabled"`
	DataDir string              `toml:"data_dir"` // Empty keeps the publish log in memory
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID     string `toml:"node_id"` // Block identity shared by the leader and its replicas
	InstanceID string `toml:"instance_id"`

	Server       ServerConfiguration       `toml:"server"`
	Coordination CoordinationConfiguration `toml:"coordination"`
	Replication  ReplicationConfiguration  `toml:"replication"`
	Admin        AdminConfiguration        `toml:"admin"`
	Logging      LoggingConfiguration      `toml:"logging"`
	Prometheus   PrometheusConfiguration   `toml:"prometheus"`
	Publisher    PublisherConfiguration    `toml:"publisher"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	NodeIDFlag     = flag.String("node-id", "", "Block identity (overrides config)")
	PortFlag       = flag.Int("port", 0, "Command port (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin and metrics port (overrides config)")
	ZKFlag         = flag.String("zk", "", "Comma separated coordination servers (overrides config)")
	ReplicasFlag   = flag.String("replicas", "", "Comma separated replica addresses (overrides config)")
	AdvertiseFlag  = flag.String("advertise", "", "Advertised host:port (overrides config)")
)

// Default returns a configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		Server: ServerConfiguration{
			BindAddress: "0.0.0.0",
			Port:        9001,
		},

		Coordination: CoordinationConfiguration{
			Backend:          CoordinationZooKeeper,
			Servers:          []string{"localhost:2181"},
			SessionTimeoutMS: 3000,
			ConnectTimeoutMS: 10000,
			NodesPath:        "/nodes",
			LeadersPath:      "/leaders",
			WatchRetryMS:     500,
		},

		Replication: ReplicationConfiguration{
			Replicas:      []string{},
			MaxAttempts:   3,
			BackoffMS:     500,
			DialTimeoutMS: 2000,
			IOTimeoutMS:   2000,
			QueueSize:     1024,
		},

		Admin: AdminConfiguration{
			Enabled: true,
			Port:    9002,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},

		Publisher: PublisherConfiguration{
			Enabled: false,
		},
	}
}

// Config is the process wide configuration
var Config = Default()

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *NodeIDFlag != "" {
		Config.NodeID = *NodeIDFlag
	}
	if *PortFlag != 0 {
		Config.Server.Port = *PortFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
	if *ZKFlag != "" {
		Config.Coordination.Servers = splitList(*ZKFlag)
	}
	if *ReplicasFlag != "" {
		Config.Replication.Replicas = splitList(*ReplicasFlag)
	}
	if *AdvertiseFlag != "" {
		Config.Server.AdvertiseAddress = *AdvertiseFlag
	}

	if Config.InstanceID == "" {
		id, err := generateInstanceID(Config.Server.Port)
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", id).Msg("Auto-generated instance ID")
	}

	return nil
}

// generateInstanceID derives a stable ID from the machine ID and port so that
// several processes on one host stay distinguishable
func generateInstanceID(port int) (string, error) {
	id, err := machineid.ProtectedID("ringkv")
	if err != nil {
		return "", err
	}

	return strconv.FormatUint(xxhash.Sum64String(id+":"+strconv.Itoa(port)), 16), nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks a configuration for errors and fills derived fields
func (c *Configuration) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if strings.ContainsAny(c.NodeID, "/ ") {
		return fmt.Errorf("invalid node_id %q: must not contain '/' or spaces", c.NodeID)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}
	if c.Admin.Port != 0 && c.Admin.Port == c.Server.Port {
		return fmt.Errorf("admin port must differ from the command port %d", c.Server.Port)
	}

	if c.Server.AdvertiseAddress == "" && c.Server.Port != 0 {
		hostname, err := os.Hostname()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get hostname, using localhost")
			hostname = "localhost"
		}
		c.Server.AdvertiseAddress = net.JoinHostPort(hostname, strconv.Itoa(c.Server.Port))
		log.Info().
			Str("advertise_address", c.Server.AdvertiseAddress).
			Msg("Auto-configured advertise address")
	}
	if c.Server.AdvertiseAddress != "" {
		if _, _, err := net.SplitHostPort(c.Server.AdvertiseAddress); err != nil {
			return fmt.Errorf("invalid advertise address %q: %w", c.Server.AdvertiseAddress, err)
		}
	}

	switch c.Coordination.Backend {
	case CoordinationZooKeeper:
		if len(c.Coordination.Servers) == 0 {
			return fmt.Errorf("coordination servers are required for the zookeeper backend")
		}
	case CoordinationMemory:
	default:
		return fmt.Errorf("invalid coordination backend: %s", c.Coordination.Backend)
	}

	if c.Coordination.SessionTimeoutMS < 1 {
		return fmt.Errorf("coordination session timeout must be >= 1ms")
	}
	if c.Coordination.ConnectTimeoutMS < 1 {
		return fmt.Errorf("coordination connect timeout must be >= 1ms")
	}
	if !strings.HasPrefix(c.Coordination.NodesPath, "/") || !strings.HasPrefix(c.Coordination.LeadersPath, "/") {
		return fmt.Errorf("coordination paths must be absolute")
	}
	if c.Coordination.NodesPath == c.Coordination.LeadersPath {
		return fmt.Errorf("nodes and leaders paths must differ")
	}

	for _, r := range c.Replication.Replicas {
		if r == c.Server.AdvertiseAddress {
			return fmt.Errorf("replica list must not contain the node's own address %s", r)
		}
		if strings.ContainsAny(r, "|, ") {
			return fmt.Errorf("invalid replica address %q", r)
		}
		if _, _, err := net.SplitHostPort(r); err != nil {
			return fmt.Errorf("invalid replica address %q: %w", r, err)
		}
	}

	if c.Replication.MaxAttempts < 1 {
		return fmt.Errorf("replication max attempts must be >= 1")
	}
	if c.Replication.BackoffMS < 0 {
		return fmt.Errorf("replication backoff must be >= 0")
	}
	if c.Replication.DialTimeoutMS < 1 || c.Replication.IOTimeoutMS < 1 {
		return fmt.Errorf("replication timeouts must be >= 1ms")
	}
	if c.Replication.QueueSize < 1 {
		return fmt.Errorf("replication queue size must be >= 1")
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Publisher.Enabled {
		seen := make(map[string]bool)
		for _, s := range c.Publisher.Sinks {
			if s.Name == "" {
				return fmt.Errorf("publisher sink name is required")
			}
			if seen[s.Name] {
				return fmt.Errorf("duplicate publisher sink name: %s", s.Name)
			}
			seen[s.Name] = true
			if s.Type == "" {
				return fmt.Errorf("publisher sink %s: type is required", s.Name)
			}
			if s.Compression != "" && s.Compression != "zstd" {
				return fmt.Errorf("publisher sink %s: invalid compression %q", s.Name, s.Compression)
			}
			for _, o := range s.FilterOrigins {
				if o != "client" && o != "replicated" {
					return fmt.Errorf("publisher sink %s: invalid origin %q", s.Name, o)
				}
			}
		}
	}

	return nil
}
