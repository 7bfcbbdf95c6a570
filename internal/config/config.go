package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GOSSIP_"

// Config holds the node configuration.
type Config struct {
	NodeID     string `yaml:"node_id" validate:"required"`
	ListenAddr string `yaml:"listen_addr" validate:"required,hostname_port"`
	AdminAddr  string `yaml:"admin_addr" validate:"omitempty,hostname_port"`

	// TopologyFile names the overlay directly. Without it the file is
	// looked up in TopologyDir by model, node count and cluster count.
	TopologyFile string `yaml:"topology_file"`
	TopologyDir  string `yaml:"topology_dir"`
	Model        string `yaml:"model" validate:"omitempty,oneof=ER BA er ba"`
	Nodes        int    `yaml:"nodes" validate:"gte=0"`
	Clusters     int    `yaml:"clusters" validate:"gte=0"`

	// Peers is an "id=addr,..." list; AddressTemplate resolves any other
	// id by substituting it for {id}.
	Peers           string `yaml:"peers"`
	AddressTemplate string `yaml:"address_template" validate:"omitempty,contains={id}"`

	FanoutMode           string        `yaml:"fanout_mode" validate:"omitempty,oneof=parallel sequential"`
	CallTimeout          time.Duration `yaml:"call_timeout" validate:"gt=0"`
	MaxFanouts           int64         `yaml:"max_fanouts" validate:"gt=0"`
	MaxConcurrentStreams uint32        `yaml:"max_concurrent_streams"`
	NumStreamWorkers     uint32        `yaml:"num_stream_workers"`

	Log    LogConfig    `yaml:"log"`
	Events EventsConfig `yaml:"events"`
	Etcd   EtcdConfig   `yaml:"etcd"`
}

// LogConfig controls operational logging.
type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// EventsConfig controls where gossip events go.
type EventsConfig struct {
	Stdout       bool     `yaml:"stdout"`
	KafkaBrokers []string `yaml:"kafka_brokers" validate:"dive,hostname_port"`
	KafkaTopic   string   `yaml:"kafka_topic" validate:"required_with=KafkaBrokers"`
}

// EtcdConfig enables readiness registration when Endpoints is set.
type EtcdConfig struct {
	Endpoints  []string      `yaml:"endpoints"`
	Prefix     string        `yaml:"prefix" validate:"required_with=Endpoints"`
	TTLSeconds int64         `yaml:"ttl_seconds" validate:"gte=0"`
	Timeout    time.Duration `yaml:"dial_timeout"`
}

// Default returns the configuration before any file, env or flag.
func Default() *Config {
	return &Config{
		ListenAddr:  "0.0.0.0:5050",
		TopologyDir: "topologies",
		FanoutMode:  "parallel",
		CallTimeout: 2 * time.Second,
		MaxFanouts:  64,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Events: EventsConfig{
			Stdout:     true,
			KafkaTopic: "gossip.events.v1",
		},
		Etcd: EtcdConfig{
			Prefix:     "/gossip/nodes",
			TTLSeconds: 10,
			Timeout:    5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// not empty) and GOSSIP_* environment variables. Callers apply flags on
// top with ApplyFlags and then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// keys lists the settings that can be overridden from env or flags.
var keys = []string{
	"node_id", "listen_addr", "admin_addr",
	"topology_file", "topology_dir", "model", "nodes", "clusters",
	"peers", "address_template",
	"fanout_mode", "call_timeout", "max_fanouts",
	"log_level", "log_file",
	"events_stdout", "kafka_brokers", "kafka_topic",
	"etcd_endpoints", "etcd_prefix",
}

// Set assigns one setting by key.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "node_id":
		c.NodeID = value
	case "listen_addr":
		c.ListenAddr = value
	case "admin_addr":
		c.AdminAddr = value
	case "topology_file":
		c.TopologyFile = value
	case "topology_dir":
		c.TopologyDir = value
	case "model":
		c.Model = value
	case "nodes":
		c.Nodes, err = strconv.Atoi(value)
	case "clusters":
		c.Clusters, err = strconv.Atoi(value)
	case "peers":
		c.Peers = value
	case "address_template":
		c.AddressTemplate = value
	case "fanout_mode":
		c.FanoutMode = value
	case "call_timeout":
		c.CallTimeout, err = time.ParseDuration(value)
	case "max_fanouts":
		c.MaxFanouts, err = strconv.ParseInt(value, 10, 64)
	case "log_level":
		c.Log.Level = value
	case "log_file":
		c.Log.File = value
	case "events_stdout":
		c.Events.Stdout, err = strconv.ParseBool(value)
	case "kafka_brokers":
		c.Events.KafkaBrokers = splitList(value)
	case "kafka_topic":
		c.Events.KafkaTopic = value
	case "etcd_endpoints":
		c.Etcd.Endpoints = splitList(value)
	case "etcd_prefix":
		c.Etcd.Prefix = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return fmt.Errorf("config %s=%q: %w", key, value, err)
	}
	return nil
}

// ApplyEnv overrides settings from GOSSIP_<KEY> variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, key := range keys {
		if v, ok := lookup(EnvPrefix + strings.ToUpper(key)); ok {
			if err := c.Set(key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegisterFlags defines one string flag per setting, named with dashes
// (node_id becomes -node-id).
func RegisterFlags(fs *flag.FlagSet) {
	for _, key := range keys {
		fs.String(flagName(key), "", "overrides "+key)
	}
}

// ApplyFlags overrides settings from the flags that were set explicitly.
func (c *Config) ApplyFlags(fs *flag.FlagSet) error {
	var errs []error
	fs.Visit(func(f *flag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		for _, k := range keys {
			if k == key {
				errs = append(errs, c.Set(key, f.Value.String()))
				return
			}
		}
	})
	return errors.Join(errs...)
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

var validate = validator.New()

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, formatFieldError(e))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if c.TopologyFile == "" && (c.Model == "" || c.Nodes == 0) {
		return errors.New("invalid config: topology_file or model and nodes are required")
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "contains":
		return fmt.Sprintf("%s must contain %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, e.Tag())
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
