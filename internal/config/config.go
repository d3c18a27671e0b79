// Package config provides file- and environment-based configuration loading
// for meshnode.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/loramesh/internal/protocol"
)

// Role is the application behaviour a node runs on top of the mesh.
type Role string

const (
	RoleHub    Role = "hub"
	RolePricer Role = "pricer"
	// RoleAuto picks hub when node.id equals node.hub_id, pricer otherwise.
	RoleAuto Role = "auto"
)

// Radio kinds accepted by radio.kind.
const (
	RadioEther  = "ether"
	RadioStream = "stream"
)

// Config is the root configuration.
type Config struct {
	Node    Node    `mapstructure:"node"`
	Mesh    Mesh    `mapstructure:"mesh"`
	Radio   Radio   `mapstructure:"radio"`
	App     App     `mapstructure:"app"`
	Bridge  Bridge  `mapstructure:"bridge"`
	Metrics Metrics `mapstructure:"metrics"`
	Log     Log     `mapstructure:"log"`
}

// Node identifies this device on the mesh.
type Node struct {
	ID    protocol.Address `mapstructure:"id"`
	HubID protocol.Address `mapstructure:"hub_id"`
}

// Mesh tunes the protocol engine.
type Mesh struct {
	MaxHops      uint8 `mapstructure:"max_hops"`
	RelayEnabled bool  `mapstructure:"relay_enabled"`

	SeenTTL          time.Duration `mapstructure:"seen_ttl"`
	SeenCapacity     int           `mapstructure:"seen_capacity"`
	AssemblyTTL      time.Duration `mapstructure:"assembly_ttl"`
	AssemblyCapacity int           `mapstructure:"assembly_capacity"`
	PendingCapacity  int           `mapstructure:"pending_capacity"`

	// CompletedCapacity bounds the queue of delivered messages not yet
	// returned by Poll; PollReturnLimit bounds one Poll result.
	CompletedCapacity int `mapstructure:"completed_capacity"`
	PollReturnLimit   int `mapstructure:"poll_return_limit"`

	AckTimeout time.Duration `mapstructure:"ack_timeout"`
	MaxRetries int           `mapstructure:"max_retries"`

	RelayJitterMin time.Duration `mapstructure:"relay_jitter_min"`
	RelayJitterMax time.Duration `mapstructure:"relay_jitter_max"`
	FragmentDelay  time.Duration `mapstructure:"fragment_delay"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	MaxReadsPerPoll int           `mapstructure:"max_reads_per_poll"`
}

// Radio selects and tunes the transceiver adapter.
type Radio struct {
	// Kind is "ether" (websocket shared air at URL) or "stream" (TCP serial
	// server at Address).
	Kind         string        `mapstructure:"kind"`
	URL          string        `mapstructure:"url"`
	Address      string        `mapstructure:"address"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	GapTimeout   time.Duration `mapstructure:"gap_timeout"`
}

// App drives the application loop.
type App struct {
	Role              Role          `mapstructure:"role"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StatsInterval     time.Duration `mapstructure:"stats_interval"`
}

// Bridge configures the WebRTC link that joins two mesh segments.
type Bridge struct {
	// Listen is the signaling server address on the host side.
	Listen      string   `mapstructure:"listen"`
	PIN         string   `mapstructure:"pin"`
	STUNServers []string `mapstructure:"stun_servers"`
}

// Metrics configures the Prometheus endpoint. Empty Listen disables it.
type Metrics struct {
	Listen string `mapstructure:"listen"`
}

// Log defines logger settings.
type Log struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
}

// Default returns a Config populated with the firmware's defaults.
func Default() *Config {
	return &Config{
		Node: Node{ID: 1, HubID: protocol.HubAddress},
		Mesh: Mesh{
			MaxHops:           5,
			RelayEnabled:      true,
			SeenTTL:           60 * time.Second,
			SeenCapacity:      100,
			AssemblyTTL:       30 * time.Second,
			AssemblyCapacity:  10,
			PendingCapacity:   20,
			CompletedCapacity: 32,
			PollReturnLimit:   10,
			AckTimeout:        3 * time.Second,
			MaxRetries:        3,
			RelayJitterMin:    30 * time.Millisecond,
			RelayJitterMax:    100 * time.Millisecond,
			FragmentDelay:     100 * time.Millisecond,
			ReadTimeout:       200 * time.Millisecond,
			MaxReadsPerPoll:   32,
		},
		Radio: Radio{
			Kind:         RadioEther,
			URL:          "ws://127.0.0.1:8787/air",
			Address:      "127.0.0.1:4001",
			ReadyTimeout: time.Second,
			GapTimeout:   50 * time.Millisecond,
		},
		App: App{
			Role:              RoleAuto,
			PollInterval:      10 * time.Millisecond,
			HeartbeatInterval: 300 * time.Second,
			StatsInterval:     10 * time.Second,
		},
		Bridge: Bridge{
			Listen:      ":0",
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
		Log: Log{Level: "info"},
	}
}

// Load reads configuration from path (if non-empty) on top of the defaults,
// then applies environment overrides. Environment variables use the prefix
// MESH and `.` is replaced with `_`, e.g. MESH_NODE_ID=7.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds every key so env-only configs work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("node.id", cfg.Node.ID)
	v.SetDefault("node.hub_id", cfg.Node.HubID)

	v.SetDefault("mesh.max_hops", cfg.Mesh.MaxHops)
	v.SetDefault("mesh.relay_enabled", cfg.Mesh.RelayEnabled)
	v.SetDefault("mesh.seen_ttl", cfg.Mesh.SeenTTL)
	v.SetDefault("mesh.seen_capacity", cfg.Mesh.SeenCapacity)
	v.SetDefault("mesh.assembly_ttl", cfg.Mesh.AssemblyTTL)
	v.SetDefault("mesh.assembly_capacity", cfg.Mesh.AssemblyCapacity)
	v.SetDefault("mesh.pending_capacity", cfg.Mesh.PendingCapacity)
	v.SetDefault("mesh.completed_capacity", cfg.Mesh.CompletedCapacity)
	v.SetDefault("mesh.poll_return_limit", cfg.Mesh.PollReturnLimit)
	v.SetDefault("mesh.ack_timeout", cfg.Mesh.AckTimeout)
	v.SetDefault("mesh.max_retries", cfg.Mesh.MaxRetries)
	v.SetDefault("mesh.relay_jitter_min", cfg.Mesh.RelayJitterMin)
	v.SetDefault("mesh.relay_jitter_max", cfg.Mesh.RelayJitterMax)
	v.SetDefault("mesh.fragment_delay", cfg.Mesh.FragmentDelay)
	v.SetDefault("mesh.read_timeout", cfg.Mesh.ReadTimeout)
	v.SetDefault("mesh.max_reads_per_poll", cfg.Mesh.MaxReadsPerPoll)

	v.SetDefault("radio.kind", cfg.Radio.Kind)
	v.SetDefault("radio.url", cfg.Radio.URL)
	v.SetDefault("radio.address", cfg.Radio.Address)
	v.SetDefault("radio.ready_timeout", cfg.Radio.ReadyTimeout)
	v.SetDefault("radio.gap_timeout", cfg.Radio.GapTimeout)

	v.SetDefault("app.role", string(cfg.App.Role))
	v.SetDefault("app.poll_interval", cfg.App.PollInterval)
	v.SetDefault("app.heartbeat_interval", cfg.App.HeartbeatInterval)
	v.SetDefault("app.stats_interval", cfg.App.StatsInterval)

	v.SetDefault("bridge.listen", cfg.Bridge.Listen)
	v.SetDefault("bridge.pin", cfg.Bridge.PIN)
	v.SetDefault("bridge.stun_servers", cfg.Bridge.STUNServers)

	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("log.level", cfg.Log.Level)
}

// Validate checks cross-field constraints and normalizes enum-like strings.
func (c *Config) Validate() error {
	var errs []error

	if c.Node.ID == protocol.Broadcast {
		errs = append(errs, fmt.Errorf("node.id must not be the broadcast address %#04x", uint16(protocol.Broadcast)))
	}
	if c.Node.HubID == protocol.Broadcast {
		errs = append(errs, fmt.Errorf("node.hub_id must not be the broadcast address"))
	}

	m := &c.Mesh
	if m.MaxHops == 0 {
		errs = append(errs, errors.New("mesh.max_hops must be at least 1"))
	}
	for name, n := range map[string]int{
		"mesh.seen_capacity":      m.SeenCapacity,
		"mesh.assembly_capacity":  m.AssemblyCapacity,
		"mesh.pending_capacity":   m.PendingCapacity,
		"mesh.completed_capacity": m.CompletedCapacity,
		"mesh.poll_return_limit":  m.PollReturnLimit,
		"mesh.max_reads_per_poll": m.MaxReadsPerPoll,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	for name, d := range map[string]time.Duration{
		"mesh.seen_ttl":     m.SeenTTL,
		"mesh.assembly_ttl": m.AssemblyTTL,
		"mesh.ack_timeout":  m.AckTimeout,
		"mesh.read_timeout": m.ReadTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if m.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("mesh.max_retries must not be negative"))
	}
	if m.RelayJitterMin < 0 || m.RelayJitterMax < m.RelayJitterMin {
		errs = append(errs, fmt.Errorf("mesh.relay_jitter range [%s, %s] is invalid", m.RelayJitterMin, m.RelayJitterMax))
	}

	c.Radio.Kind = strings.ToLower(strings.TrimSpace(c.Radio.Kind))
	switch c.Radio.Kind {
	case RadioEther, RadioStream:
	default:
		errs = append(errs, fmt.Errorf("invalid radio.kind: %q", c.Radio.Kind))
	}

	c.App.Role = Role(strings.ToLower(strings.TrimSpace(string(c.App.Role))))
	switch c.App.Role {
	case RoleHub, RolePricer, RoleAuto:
	case "":
		c.App.Role = RoleAuto
	default:
		errs = append(errs, fmt.Errorf("invalid app.role: %q", c.App.Role))
	}
	if c.App.PollInterval <= 0 {
		errs = append(errs, errors.New("app.poll_interval must be positive"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log.level: %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// ResolvedRole returns the concrete role, resolving RoleAuto.
func (c *Config) ResolvedRole() Role {
	if c.App.Role == RoleAuto || c.App.Role == "" {
		if c.Node.ID == c.Node.HubID {
			return RoleHub
		}
		return RolePricer
	}
	return c.App.Role
}
