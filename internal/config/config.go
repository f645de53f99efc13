// Package config loads the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/craftd/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. CRAFTD_SERVER_LISTEN.
const EnvPrefix = "CRAFTD"

// Config is the top-level TOML structure.
type Config struct {
	DataDir   string          `toml:"data_dir" mapstructure:"data_dir"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Auth      AuthConfig      `toml:"auth" mapstructure:"auth"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
	Lifecycle LifecycleConfig `toml:"lifecycle" mapstructure:"lifecycle"`
	Jobs      JobsConfig      `toml:"jobs" mapstructure:"jobs"`
	Sampler   SamplerConfig   `toml:"sampler" mapstructure:"sampler"`
	Registry  RegistryConfig  `toml:"registry" mapstructure:"registry"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
}

type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// AuthConfig enables bearer-token checks when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string        `toml:"issuer" mapstructure:"issuer"`
	TokenTTL  time.Duration `toml:"token_ttl" mapstructure:"token_ttl"`
}

// StoreConfig selects job and sample persistence. An empty DSN uses
// sqlite under DataDir.
type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// HistoryConfig lists audit sink DSNs.
type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

type LifecycleConfig struct {
	Wrapper      string        `toml:"wrapper" mapstructure:"wrapper"`
	BasePort     int           `toml:"base_port" mapstructure:"base_port"`
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	StartTimeout time.Duration `toml:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout  time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	RestartDelay time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	StartOnBoot  bool          `toml:"start_on_boot" mapstructure:"start_on_boot"`
	// OwnerUID/OwnerGID receive files the game process writes; -1 leaves
	// ownership alone.
	OwnerUID int `toml:"owner_uid" mapstructure:"owner_uid"`
	OwnerGID int `toml:"owner_gid" mapstructure:"owner_gid"`
}

type JobsConfig struct {
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	Retention    time.Duration `toml:"retention" mapstructure:"retention"`
	TempDir      string        `toml:"temp_dir" mapstructure:"temp_dir"`
}

type SamplerConfig struct {
	Enabled     bool          `toml:"enabled" mapstructure:"enabled"`
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	Retention   time.Duration `toml:"retention" mapstructure:"retention"`
	PingTimeout time.Duration `toml:"ping_timeout" mapstructure:"ping_timeout"`
}

type RegistryConfig struct {
	BaseURL  string        `toml:"base_url" mapstructure:"base_url"`
	APIKey   string        `toml:"api_key" mapstructure:"api_key"`
	CacheTTL time.Duration `toml:"cache_ttl" mapstructure:"cache_ttl"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir: "/var/lib/craftd",
		Server:  ServerConfig{Listen: "127.0.0.1:8080", BasePath: "/api"},
		Auth:    AuthConfig{Issuer: "craftd", TokenTTL: 24 * time.Hour},
		Log:     logger.Config{Level: "info", Format: "text", Color: true},
		Lifecycle: LifecycleConfig{
			Wrapper:      "screen",
			BasePort:     25565,
			PollInterval: 500 * time.Millisecond,
			StartTimeout: 10 * time.Second,
			StopTimeout:  60 * time.Second,
			RestartDelay: 2 * time.Second,
			StartOnBoot:  true,
			OwnerUID:     -1,
			OwnerGID:     -1,
		},
		Jobs:     JobsConfig{PollInterval: 400 * time.Millisecond, Retention: time.Hour},
		Sampler:  SamplerConfig{Enabled: true, Interval: 30 * time.Second, Retention: 7 * 24 * time.Hour, PingTimeout: 3 * time.Second},
		Registry: RegistryConfig{BaseURL: "https://api.curseforge.com", CacheTTL: time.Hour, Timeout: 15 * time.Second},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.tls_min_version", d.Server.TLSMinVersion)
	v.SetDefault("server.tls_max_version", d.Server.TLSMaxVersion)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("history.sinks", append([]string{}, d.History.Sinks...))
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file.dir", d.Log.File.Dir)
	v.SetDefault("log.file.name", d.Log.File.Name)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)
	v.SetDefault("lifecycle.wrapper", d.Lifecycle.Wrapper)
	v.SetDefault("lifecycle.base_port", d.Lifecycle.BasePort)
	v.SetDefault("lifecycle.poll_interval", d.Lifecycle.PollInterval)
	v.SetDefault("lifecycle.start_timeout", d.Lifecycle.StartTimeout)
	v.SetDefault("lifecycle.stop_timeout", d.Lifecycle.StopTimeout)
	v.SetDefault("lifecycle.restart_delay", d.Lifecycle.RestartDelay)
	v.SetDefault("lifecycle.start_on_boot", d.Lifecycle.StartOnBoot)
	v.SetDefault("lifecycle.owner_uid", d.Lifecycle.OwnerUID)
	v.SetDefault("lifecycle.owner_gid", d.Lifecycle.OwnerGID)
	v.SetDefault("jobs.poll_interval", d.Jobs.PollInterval)
	v.SetDefault("jobs.retention", d.Jobs.Retention)
	v.SetDefault("jobs.temp_dir", d.Jobs.TempDir)
	v.SetDefault("sampler.enabled", d.Sampler.Enabled)
	v.SetDefault("sampler.interval", d.Sampler.Interval)
	v.SetDefault("sampler.retention", d.Sampler.Retention)
	v.SetDefault("sampler.ping_timeout", d.Sampler.PingTimeout)
	v.SetDefault("registry.base_url", d.Registry.BaseURL)
	v.SetDefault("registry.api_key", d.Registry.APIKey)
	v.SetDefault("registry.cache_ttl", d.Registry.CacheTTL)
	v.SetDefault("registry.timeout", d.Registry.Timeout)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Load reads path (TOML) over the defaults and applies CRAFTD_* environment
// overrides. An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills values derived from others, such as the sqlite store
// under DataDir. Load calls it; embedders building a Config by hand call
// it through craftd.New.
func (c *Config) Normalize() {
	if c.Store.DSN == "" && c.DataDir != "" {
		c.Store.DSN = "sqlite://" + filepath.Join(c.DataDir, "craftd.db")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
}

// Validate checks values the daemon cannot start without.
func (c Config) Validate() error {
	var errList []error
	if c.DataDir == "" {
		errList = append(errList, errors.New("data_dir is required"))
	}
	if c.Server.Listen == "" {
		errList = append(errList, errors.New("server.listen is required"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errList = append(errList, fmt.Errorf("log.level: %w", err))
	}
	if p := c.Lifecycle.BasePort; p < 1 || p > 65535 {
		errList = append(errList, fmt.Errorf("lifecycle.base_port %d out of range", p))
	}
	for key, d := range map[string]time.Duration{
		"lifecycle.poll_interval": c.Lifecycle.PollInterval,
		"lifecycle.start_timeout": c.Lifecycle.StartTimeout,
		"lifecycle.stop_timeout":  c.Lifecycle.StopTimeout,
		"jobs.poll_interval":      c.Jobs.PollInterval,
	} {
		if d <= 0 {
			errList = append(errList, fmt.Errorf("%s must be positive", key))
		}
	}
	if c.Sampler.Enabled && c.Sampler.Interval <= 0 {
		errList = append(errList, errors.New("sampler.interval must be positive"))
	}
	if t := c.Server.TLS; t != nil && t.Enabled && (t.CertFile == "") != (t.KeyFile == "") {
		errList = append(errList, errors.New("server.tls: cert_file and key_file must be set together"))
	}
	return errors.Join(errList...)
}

// ServersDir is where server directories live.
func (c Config) ServersDir() string { return filepath.Join(c.DataDir, "servers") }
