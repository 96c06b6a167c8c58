package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildgate/buildgate/internal/artifact"
	"github.com/buildgate/buildgate/internal/logger"
	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/source"
	"github.com/buildgate/buildgate/internal/tls"
	"github.com/spf13/viper"
)

// Source modes. SourceModeNone disables ingestion, for request-only
// deployments and tests.
const (
	SourceModeSubprocess = "subprocess"
	SourceModeKafka      = "kafka"
	SourceModeStdin      = "stdin"
	SourceModeNone       = "none"
)

// Bus kinds.
const (
	BusMemory = "memory"
	BusKafka  = "kafka"
)

// Config is the top-level TOML structure.
type Config struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Log      LogConfig      `toml:"log" mapstructure:"log"`
	Server   *ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics  *MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Artifact ArtifactConfig `toml:"artifact" mapstructure:"artifact"`
	Signer   SignerConfig   `toml:"signer" mapstructure:"signer"`
	Gate     GateConfig     `toml:"gate" mapstructure:"gate"`
	Bus      BusConfig      `toml:"bus" mapstructure:"bus"`
	Source   SourceConfig   `toml:"source" mapstructure:"source"`
	History  *HistoryConfig `toml:"history" mapstructure:"history"`
	VC       *VCConfig      `toml:"vc" mapstructure:"vc"`
}

// LogConfig configures the application logger and the rotating capture
// files for the listener subprocess streams.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// LoggerConfig converts the section to the logger package's form.
func (c LogConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level: c.Level,
		Color: c.Color,
		File: logger.FileConfig{
			Dir:        c.Dir,
			StdoutPath: c.Stdout,
			StderrPath: c.Stderr,
			MaxSizeMB:  c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAgeDays: c.MaxAgeDays,
			Compress:   c.Compress,
		},
	}
}

type ServerConfig struct {
	Listen   string      `toml:"listen" mapstructure:"listen"`
	BasePath string      `toml:"base_path" mapstructure:"base_path"`
	TLS      *tls.Config `toml:"tls" mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled  bool                           `toml:"enabled" mapstructure:"enabled"`
	Listen   string                         `toml:"listen" mapstructure:"listen"`
	Listener *metrics.ListenerSamplerConfig `toml:"listener" mapstructure:"listener"`
}

// ArtifactConfig locates the artifact store and its key layout.
type ArtifactConfig struct {
	Root         string `toml:"root" mapstructure:"root"`
	Prefix       string `toml:"prefix" mapstructure:"prefix"`
	Ext          string `toml:"ext" mapstructure:"ext"`
	UploadPrefix string `toml:"upload_prefix" mapstructure:"upload_prefix"`
}

// Layout converts the section to the artifact package's form.
func (c ArtifactConfig) Layout() artifact.Layout {
	return artifact.Layout{Prefix: c.Prefix, Ext: c.Ext, UploadPrefix: c.UploadPrefix}.WithDefaults()
}

// SignerConfig configures signed artifact URLs. An empty secret
// disables signing; URL operations then answer with a fixed error
// string instead of a link.
type SignerConfig struct {
	Secret  string        `toml:"secret" mapstructure:"secret"`
	BaseURL string        `toml:"base_url" mapstructure:"base_url"`
	URLTTL  time.Duration `toml:"url_ttl" mapstructure:"url_ttl"`
}

type GateConfig struct {
	Command string `toml:"command" mapstructure:"command"`
}

// BusConfig selects the build-request transport. Kind "memory" keeps
// requests in process; "kafka" publishes to RequestTopic on Brokers.
type BusConfig struct {
	Kind         string `toml:"kind" mapstructure:"kind"`
	Brokers      string `toml:"brokers" mapstructure:"brokers"`
	RequestTopic string `toml:"request_topic" mapstructure:"request_topic"`
}

// SourceConfig selects how status notifications arrive: a listener
// subprocess whose stdout is read line by line, a native Kafka
// subscription, the daemon's own stdin, or nothing.
type SourceConfig struct {
	Mode        string        `toml:"mode" mapstructure:"mode"`
	Command     string        `toml:"command" mapstructure:"command"`
	WorkDir     string        `toml:"workdir" mapstructure:"workdir"`
	Env         []string      `toml:"env" mapstructure:"env"`
	Name        string        `toml:"name" mapstructure:"name"`
	StopGrace   time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	StatusTopic string        `toml:"status_topic" mapstructure:"status_topic"`
	GroupID     string        `toml:"group_id" mapstructure:"group_id"`
}

// ProcConfig converts the section to the source package's form,
// applying globalEnv under the section's own env.
func (c SourceConfig) ProcConfig(log logger.Config, globalEnv []string) source.ProcConfig {
	env := make([]string, 0, len(globalEnv)+len(c.Env))
	env = append(env, globalEnv...)
	env = append(env, c.Env...)
	return source.ProcConfig{
		Command: c.Command,
		WorkDir: c.WorkDir,
		Env:     env,
		Name:    c.Name,
		Log:     log,
	}
}

// HistoryConfig lists history sink DSNs (sqlite, postgres, clickhouse,
// opensearch).
type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Sinks   []string `toml:"sinks" mapstructure:"sinks"`
}

type VCConfig struct {
	Token string `toml:"token" mapstructure:"token"`
	Repo  string `toml:"repo" mapstructure:"repo"`
}

// Load reads and validates a TOML config file, filling defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills unset fields so the rest of the daemon never
// re-checks them.
func (c *Config) ApplyDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Artifact.Root == "" {
		c.Artifact.Root = "artifacts"
	}
	if c.Bus.Kind == "" {
		c.Bus.Kind = BusMemory
	}
	if c.Bus.RequestTopic == "" {
		c.Bus.RequestTopic = "build-requests"
	}
	if c.Source.Mode == "" {
		switch {
		case c.Source.Command != "":
			c.Source.Mode = SourceModeSubprocess
		case c.Bus.Kind == BusKafka:
			c.Source.Mode = SourceModeKafka
		default:
			c.Source.Mode = SourceModeNone
		}
	}
	if c.Source.Name == "" {
		c.Source.Name = "listener"
	}
	if c.Source.StopGrace <= 0 {
		c.Source.StopGrace = 5 * time.Second
	}
	if c.Source.StatusTopic == "" {
		c.Source.StatusTopic = "build-status"
	}
	if c.Source.GroupID == "" {
		c.Source.GroupID = "buildgate"
	}
}

// Validate rejects configurations the daemon cannot run.
func (c *Config) Validate() error {
	switch c.Bus.Kind {
	case BusMemory:
	case BusKafka:
		if c.Bus.Brokers == "" {
			return fmt.Errorf("bus kind %q requires brokers", c.Bus.Kind)
		}
	default:
		return fmt.Errorf("unknown bus kind %q", c.Bus.Kind)
	}

	switch c.Source.Mode {
	case SourceModeSubprocess:
		if c.Source.Command == "" {
			return fmt.Errorf("source mode %q requires command", c.Source.Mode)
		}
	case SourceModeKafka:
		if c.Bus.Brokers == "" {
			return fmt.Errorf("source mode %q requires bus brokers", c.Source.Mode)
		}
	case SourceModeStdin, SourceModeNone:
	default:
		return fmt.Errorf("unknown source mode %q", c.Source.Mode)
	}

	if c.Signer.Secret != "" && c.Signer.BaseURL == "" {
		return fmt.Errorf("signer requires base_url when a secret is set")
	}
	if c.History != nil && c.History.Enabled && len(c.History.Sinks) == 0 {
		return fmt.Errorf("history enabled but no sinks configured")
	}
	if c.VC != nil && c.VC.Repo == "" {
		return fmt.Errorf("vc section requires repo (owner/repo)")
	}
	return nil
}

// HistorySinks returns the configured sink DSNs, or nil when history
// is absent or disabled.
func (c *Config) HistorySinks() []string {
	if c.History == nil || !c.History.Enabled {
		return nil
	}
	return c.History.Sinks
}

// GlobalEnv merges the daemon-wide environment for the listener
// subprocess: OS env (when use_os_env) as the base, env_files in
// order, then the top-level env list overriding last.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
