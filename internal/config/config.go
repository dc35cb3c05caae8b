package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"tunnel-keeper/internal/env"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

/**
 * Server configuration parameters
 * @property {string} address - Server listening address (e.g. ":5001")
 * @property {string} mode - gin mode (debug/release/test)
 * @property {string} socket - Unix socket file name, empty disables the socket listener
 */
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
	Socket  string `mapstructure:"socket"`
}

/**
 * Logging configuration
 * @property {string} level - Log level (debug/info/warn/error)
 * @property {string} path - Log file path, "console" for stdout only
 */
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Path   string `mapstructure:"path"`
	Pretty bool   `mapstructure:"pretty"`
}

/**
 * Tunnel agent and lifecycle settings
 * @property {string} command - Agent executable, also the process name used by debug/stopall
 * @property {[]string} args - Argument templates, rendered with LocalURL/LocalIP/Port/ServiceName
 * @property {float64} default_duration_hours - Lifetime applied when a start request has none
 * @property {time.Duration} capture_timeout - URL capture window
 * @property {int} fallback_lines - Max lines read from the secondary stream during capture
 * @property {time.Duration} grace_period - Wait after SIGTERM before SIGKILL
 * @property {time.Duration} kill_wait - Wait after SIGKILL
 * @property {time.Duration} sweep_interval - Expiration sweep period
 * @property {time.Duration} sweep_tolerance - Grace window for dead records past expiry
 */
type TunnelConfig struct {
	Command              string        `mapstructure:"command"`
	Args                 []string      `mapstructure:"args"`
	MinAgentVersion      string        `mapstructure:"min_agent_version"`
	LocalIP              string        `mapstructure:"local_ip"`
	DefaultDurationHours float64       `mapstructure:"default_duration_hours"`
	CaptureTimeout       time.Duration `mapstructure:"capture_timeout"`
	FallbackLines        int           `mapstructure:"fallback_lines"`
	TailLines            int           `mapstructure:"tail_lines"`
	GracePeriod          time.Duration `mapstructure:"grace_period"`
	KillWait             time.Duration `mapstructure:"kill_wait"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	SweepTolerance       time.Duration `mapstructure:"sweep_tolerance"`
	ShutdownWait         time.Duration `mapstructure:"shutdown_wait"`
	KillOrphans          bool          `mapstructure:"kill_orphans"`
}

// RedisConfig 状态镜像到redis，addr为空表示不启用
type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	Key            string        `mapstructure:"key"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
}

type StateConfig struct {
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

/**
 * Named (persistent) tunnel settings
 * @property {string} config_path - cloudflared config.yml managed for persistent tunnels
 * @property {string} backup_dir - Directory receiving config backups before each change
 * @property {string} unit - systemd unit restarted to apply ingress changes
 * @property {bool} use_sudo - Prefix privileged commands with "sudo -n" when not root
 */
type NamedConfig struct {
	ConfigPath string `mapstructure:"config_path"`
	BackupDir  string `mapstructure:"backup_dir"`
	Unit       string `mapstructure:"unit"`
	UseSudo    bool   `mapstructure:"use_sudo"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Tunnel  TunnelConfig  `mapstructure:"tunnel"`
	State   StateConfig   `mapstructure:"state"`
	Named   NamedConfig   `mapstructure:"named"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

const (
	EnvPrefix    = "TUNNEL_KEEPER"
	EnvLocalIP   = "LOCAL_IP"
	EnvPort      = "TUNNEL_KEEPER_PORT"
	DefaultPort  = 5001
	DefaultAgent = "cloudflared"

	DefaultGracePeriod = 3 * time.Second
	DefaultKillWait    = 2 * time.Second
)

var (
	Config AppConfig
	mu     sync.RWMutex
)

/**
 * Register default values for every configuration key
 * @param {*viper.Viper} v - viper instance
 */
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", fmt.Sprintf(":%d", DefaultPort))
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.socket", "tunnel-keeper.sock")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", filepath.Join(env.LogsDir(), "tunnel-keeper.log"))
	v.SetDefault("log.pretty", false)

	v.SetDefault("tunnel.command", DefaultAgent)
	v.SetDefault("tunnel.args", []string{
		"tunnel", "--url", "{{.LocalURL}}", "--no-autoupdate",
		"--edge-ip-version", "auto", "--protocol", "http2",
	})
	v.SetDefault("tunnel.min_agent_version", "2023.2.0")
	v.SetDefault("tunnel.local_ip", "")
	v.SetDefault("tunnel.default_duration_hours", 48.0)
	v.SetDefault("tunnel.capture_timeout", 35*time.Second)
	v.SetDefault("tunnel.fallback_lines", 20)
	v.SetDefault("tunnel.tail_lines", 50)
	v.SetDefault("tunnel.grace_period", DefaultGracePeriod)
	v.SetDefault("tunnel.kill_wait", DefaultKillWait)
	v.SetDefault("tunnel.sweep_interval", 30*time.Second)
	v.SetDefault("tunnel.sweep_tolerance", 60*time.Second)
	v.SetDefault("tunnel.shutdown_wait", 3*time.Second)
	v.SetDefault("tunnel.kill_orphans", true)

	v.SetDefault("state.path", filepath.Join(env.KeeperDir, "data", "tunnel_config.json"))
	v.SetDefault("state.redis.addr", "")
	v.SetDefault("state.redis.key", "tunnel-keeper:state")
	v.SetDefault("state.redis.connect_timeout", 10*time.Second)
	v.SetDefault("state.redis.retry_interval", time.Second)
	v.SetDefault("state.redis.max_wait", 5*time.Second)
	v.SetDefault("state.redis.ping_timeout", 2*time.Second)

	v.SetDefault("named.config_path", "/etc/cloudflared/config.yml")
	v.SetDefault("named.backup_dir", filepath.Join(env.KeeperDir, "backups"))
	v.SetDefault("named.unit", "cloudflared")
	v.SetDefault("named.use_sudo", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

/**
 * Apply pass-through environment overrides that do not follow the TUNNEL_KEEPER_ prefix
 * @param {*AppConfig} cfg - configuration to patch
 * @description
 * - LOCAL_IP overrides tunnel.local_ip
 * - TUNNEL_KEEPER_PORT overrides the port part of server.address
 */
func applyEnvOverrides(cfg *AppConfig) {
	if ip := strings.TrimSpace(os.Getenv(EnvLocalIP)); ip != "" {
		cfg.Tunnel.LocalIP = ip
	}
	if p := strings.TrimSpace(os.Getenv(EnvPort)); p != "" {
		if port, err := strconv.Atoi(p); err == nil && port > 0 && port < 65536 {
			host := ""
			if idx := strings.LastIndex(cfg.Server.Address, ":"); idx > 0 {
				host = cfg.Server.Address[:idx]
			}
			cfg.Server.Address = fmt.Sprintf("%s:%d", host, port)
		}
	}
}

func newViper(file string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(env.KeeperDir)
		v.AddConfigPath("/etc/tunnel-keeper")
	}
	return v
}

/**
 * Load application configuration
 * @param {string} file - Explicit config file, empty to search the default locations
 * @returns {*AppConfig} Loaded configuration
 * @returns {*viper.Viper} viper instance backing the configuration
 * @returns {error} Error when an explicit file cannot be read or decoded
 * @description
 * - Loads .env from the working directory first (missing file is fine)
 * - A missing config.yaml falls back to defaults
 * - Environment overrides are applied last
 */
func Load(file string) (*AppConfig, *viper.Viper, error) {
	_ = godotenv.Load()

	v := newViper(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, v, nil
}

var current *viper.Viper

/**
 * Replace the global Config with the one loaded from file
 * @param {string} file - config file given by --config, empty keeps the default search
 * @returns {error} Error if the file cannot be read, global Config unchanged in that case
 */
func Use(file string) error {
	cfg, v, err := Load(file)
	if err != nil {
		return err
	}
	mu.Lock()
	Config = *cfg
	current = v
	mu.Unlock()
	return nil
}

/**
 * Reload configuration from the same source into the global Config
 * @returns {error} Error if reloading fails, global Config unchanged in that case
 */
func ReloadConfig() error {
	file := ""
	mu.RLock()
	if current != nil {
		file = current.ConfigFileUsed()
	}
	mu.RUnlock()
	return Use(file)
}

// Get 返回当前配置的副本
func Get() AppConfig {
	mu.RLock()
	defer mu.RUnlock()
	return Config
}

/**
 * Watch the loaded config file and reload on change
 * @param {func(*AppConfig)} onChange - callback invoked with the new configuration
 * @description
 * - No-op when no config file was found (defaults only)
 */
func WatchConfig(onChange func(*AppConfig)) {
	mu.RLock()
	v := current
	mu.RUnlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := ReloadConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "reload config %s failed: %v\n", e.Name, err)
			return
		}
		if onChange != nil {
			cfg := Get()
			onChange(&cfg)
		}
	})
	v.WatchConfig()
}

func init() {
	cfg, v, err := Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed, using defaults: %v\n", err)
		v = newViper("")
		cfg = &AppConfig{}
		_ = v.Unmarshal(cfg)
		applyEnvOverrides(cfg)
	}
	Config = *cfg
	current = v
}
