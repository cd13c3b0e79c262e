package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete hub configuration. A *Config is resolved
// once at startup and handed to constructors; nothing reads viper after Load.
type Config struct {
	Hub          HubConfig         `mapstructure:"hub"`
	Auth         AuthConfig        `mapstructure:"auth"`
	Network      NetworkConfig     `mapstructure:"network"`
	Spawner      SpawnerConfig     `mapstructure:"spawner"`
	Profiles     []ProfileConfig   `mapstructure:"profiles"`
	ProfilesFile string            `mapstructure:"profiles_file"`
	ServerProxy  ServerProxyConfig `mapstructure:"server_proxy"`
	Cull         CullConfig        `mapstructure:"cull"`
	Logging      LoggingConfig     `mapstructure:"logging"`
}

// HubConfig controls the hub's own HTTP surface
type HubConfig struct {
	// BindURL is the address the hub API listens on (default: "http://:8000")
	BindURL string `mapstructure:"bind_url"`
	// BasePath is the public prefix under which sessions are routed (default: "/user")
	BasePath string `mapstructure:"base_path"`
	// AdminUsers are identities granted admin access in addition to the
	// identity provider's admin flag (default: ["admin"])
	AdminUsers []string `mapstructure:"admin_users"`
	// AllowNamedServers permits sessions other than the user's default (default: true)
	AllowNamedServers bool `mapstructure:"allow_named_servers"`
}

// AuthConfig selects the identity provider. The hub never inspects
// credentials; the strategy is validated and reported only.
type AuthConfig struct {
	// Strategy is "native" or "dummy" (default: "native", env AUTH_STRATEGY)
	Strategy string `mapstructure:"strategy"`
	// DummyPassword is the shared password for the dummy strategy (env DUMMY_PASSWORD)
	DummyPassword string `mapstructure:"dummy_password"`
	// OpenSignup allows self-registration with the native strategy (default: true)
	OpenSignup bool `mapstructure:"open_signup"`
}

// NetworkConfig controls the shared session network
type NetworkConfig struct {
	// Name is the virtual network sessions join (default: "jupyterhub-net", env DOCKER_NETWORK_NAME)
	Name string `mapstructure:"name"`
}

// SpawnerConfig controls how compute units are created
type SpawnerConfig struct {
	// Backend is the runtime used for profiles that do not name one: "docker" or "dagger"
	Backend string `mapstructure:"backend"`
	// Port is the port the single-user server listens on inside the unit (default: 8888)
	Port int `mapstructure:"port"`
	// StartTimeoutSeconds bounds image pull plus unit start (default: 300, env SPAWNER_START_TIMEOUT)
	StartTimeoutSeconds int `mapstructure:"start_timeout"`
	// HTTPTimeoutSeconds bounds the readiness probe (default: 120)
	HTTPTimeoutSeconds int `mapstructure:"http_timeout"`
	// ProbeIntervalMs is the upper bound between readiness probes (default: 1000)
	ProbeIntervalMs int `mapstructure:"probe_interval_ms"`
	// StopGraceSeconds is how long a unit gets to exit before it is killed (default: 10)
	StopGraceSeconds int `mapstructure:"stop_grace"`
	// VolumeTemplate names the per-user persistent volume (default: "jupyterhub-user-{username}")
	VolumeTemplate string `mapstructure:"volume_template"`
	// VolumeMount is where the per-user volume is mounted (default: "/home/nebula")
	VolumeMount string `mapstructure:"volume_mount"`
	// NameTemplate names the compute unit (default: "jupyter-{username}-{servername}")
	NameTemplate string `mapstructure:"name_template"`
	// Environment lists KEY=VALUE pairs injected into every unit
	Environment []string `mapstructure:"environment"`
	// Args are appended to the unit's command
	Args []string `mapstructure:"args"`
	// Remove deletes the unit when the session stops (default: true)
	Remove bool `mapstructure:"remove"`
	// MaxRunning caps concurrently running sessions, 0 = unlimited
	MaxRunning int `mapstructure:"max_running"`
}

// ProfileConfig is one selectable image + resource bundle
type ProfileConfig struct {
	// Name is the display name, e.g. "uv Lab - 2 CPU / 4GB"
	Name string `mapstructure:"name" yaml:"name"`
	// Slug is the stable identifier used in spawn requests
	Slug string `mapstructure:"slug" yaml:"slug"`
	// Backend overrides spawner.backend for this profile
	Backend string `mapstructure:"backend" yaml:"backend,omitempty"`
	// Image is the image reference
	Image string `mapstructure:"image" yaml:"image"`
	// CPULimit is the CPU limit in cores
	CPULimit float64 `mapstructure:"cpu_limit" yaml:"cpu_limit"`
	// MemLimit is the memory limit, e.g. "4G"
	MemLimit string `mapstructure:"mem_limit" yaml:"mem_limit"`
	// DefaultURL is the landing path inside the session, e.g. "/lab"
	DefaultURL string `mapstructure:"default_url" yaml:"default_url"`
}

// ServerProxyConfig lists sub-services exposed inside every session
type ServerProxyConfig struct {
	Servers map[string]SubServiceConfig `mapstructure:"servers"`
}

// SubServiceConfig mirrors one entry of the proxy registration schema
type SubServiceConfig struct {
	// Command is the launch argv; {port} and {baseURL} are substituted
	Command []string `mapstructure:"command"`
	// Timeout is the sub-service readiness timeout in seconds
	Timeout int `mapstructure:"timeout"`
	// AbsoluteURL tells the sub-service its full external base path
	AbsoluteURL bool `mapstructure:"absolute_url"`
	// LauncherEntry is the display descriptor
	LauncherEntry LauncherEntryConfig `mapstructure:"launcher_entry"`
}

// LauncherEntryConfig is how a sub-service is presented in the launcher
type LauncherEntryConfig struct {
	Title    string `mapstructure:"title"`
	IconPath string `mapstructure:"icon_path"`
}

// CullConfig controls the idle reaper
type CullConfig struct {
	// Enabled turns on idle culling (default: true)
	Enabled bool `mapstructure:"enabled"`
	// TimeoutSeconds is how long a session may be idle before it is stopped (default: 3600)
	TimeoutSeconds int `mapstructure:"timeout"`
	// EverySeconds is the reaper interval (default: 300)
	EverySeconds int `mapstructure:"every"`
}

// LoggingConfig controls hub logging
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where hub.log is written; empty logs to stderr
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the size before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with the values of the reference deployment
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			BindURL:           "http://:8000",
			BasePath:          "/user",
			AdminUsers:        []string{"admin"},
			AllowNamedServers: true,
		},
		Auth: AuthConfig{
			Strategy:   "native",
			OpenSignup: true,
		},
		Network: NetworkConfig{
			Name: "jupyterhub-net",
		},
		Spawner: SpawnerConfig{
			Backend:             "docker",
			Port:                8888,
			StartTimeoutSeconds: 300,
			HTTPTimeoutSeconds:  120,
			ProbeIntervalMs:     1000,
			StopGraceSeconds:    10,
			VolumeTemplate:      "jupyterhub-user-{username}",
			VolumeMount:         "/home/nebula",
			NameTemplate:        "jupyter-{username}-{servername}",
			Environment: []string{
				"GRANT_SUDO=yes",
				"JUPYTERHUB_SINGLEUSER_APP=jupyter_server.serverapp.ServerApp",
			},
			Args: []string{
				"--ServerApp.ip=0.0.0.0",
				"--ServerApp.port=8888",
			},
			Remove:     true,
			MaxRunning: 0,
		},
		Profiles: DefaultProfiles(),
		ServerProxy: ServerProxyConfig{
			Servers: map[string]SubServiceConfig{
				"marimo": {
					Command:     []string{"marimo", "edit", "--host=127.0.0.1", "--port={port}"},
					Timeout:     30,
					AbsoluteURL: false,
					LauncherEntry: LauncherEntryConfig{
						Title: "Marimo (uv)",
					},
				},
			},
		},
		Cull: CullConfig{
			Enabled:        true,
			TimeoutSeconds: 3600,
			EverySeconds:   300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DefaultProfiles returns the two sizes offered per image
func DefaultProfiles() []ProfileConfig {
	return []ProfileConfig{
		{Name: "uv Lab - 2 CPU / 4GB", Slug: "uv-lab-small", Image: "local/uv-lab:latest", CPULimit: 2, MemLimit: "4G", DefaultURL: "/lab"},
		{Name: "uv Lab - 4 CPU / 8GB", Slug: "uv-lab-large", Image: "local/uv-lab:latest", CPULimit: 4, MemLimit: "8G", DefaultURL: "/lab"},
		{Name: "uv VS Code - 2 CPU / 4GB", Slug: "uv-vscode-small", Image: "local/uv-vscode:latest", CPULimit: 2, MemLimit: "4G", DefaultURL: "/vscode/"},
		{Name: "uv VS Code - 4 CPU / 8GB", Slug: "uv-vscode-large", Image: "local/uv-vscode:latest", CPULimit: 4, MemLimit: "8G", DefaultURL: "/vscode/"},
		{Name: "uv Marimo - 1 CPU / 2GB", Slug: "uv-marimo-light", Image: "local/uv-marimo:latest", CPULimit: 1, MemLimit: "2G", DefaultURL: "/proxy/marimo/"},
		{Name: "uv Marimo - 2 CPU / 4GB", Slug: "uv-marimo-medium", Image: "local/uv-marimo:latest", CPULimit: 2, MemLimit: "4G", DefaultURL: "/proxy/marimo/"},
	}
}

// StartTimeout returns the pull+start budget
func (c *SpawnerConfig) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutSeconds) * time.Second
}

// HTTPTimeout returns the readiness probe budget
func (c *SpawnerConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// ProbeInterval returns the maximum interval between readiness probes
func (c *SpawnerConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}

// StopGrace returns the graceful stop window
func (c *SpawnerConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}

// EnvironmentMap parses Environment into a map. Entries without '=' map to
// an empty value.
func (c *SpawnerConfig) EnvironmentMap() map[string]string {
	env := make(map[string]string, len(c.Environment))
	for _, kv := range c.Environment {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

// Timeout returns the cull idle timeout
func (c *CullConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Every returns the cull interval
func (c *CullConfig) Every() time.Duration {
	return time.Duration(c.EverySeconds) * time.Second
}

// IsAdmin reports whether user is listed in hub.admin_users
func (c *HubConfig) IsAdmin(user string) bool {
	for _, u := range c.AdminUsers {
		if u == user {
			return true
		}
	}
	return false
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Hub defaults
	v.SetDefault("hub.bind_url", defaults.Hub.BindURL)
	v.SetDefault("hub.base_path", defaults.Hub.BasePath)
	v.SetDefault("hub.admin_users", defaults.Hub.AdminUsers)
	v.SetDefault("hub.allow_named_servers", defaults.Hub.AllowNamedServers)

	// Auth defaults
	v.SetDefault("auth.strategy", defaults.Auth.Strategy)
	v.SetDefault("auth.dummy_password", defaults.Auth.DummyPassword)
	v.SetDefault("auth.open_signup", defaults.Auth.OpenSignup)

	// Network defaults
	v.SetDefault("network.name", defaults.Network.Name)

	// Spawner defaults
	v.SetDefault("spawner.backend", defaults.Spawner.Backend)
	v.SetDefault("spawner.port", defaults.Spawner.Port)
	v.SetDefault("spawner.start_timeout", defaults.Spawner.StartTimeoutSeconds)
	v.SetDefault("spawner.http_timeout", defaults.Spawner.HTTPTimeoutSeconds)
	v.SetDefault("spawner.probe_interval_ms", defaults.Spawner.ProbeIntervalMs)
	v.SetDefault("spawner.stop_grace", defaults.Spawner.StopGraceSeconds)
	v.SetDefault("spawner.volume_template", defaults.Spawner.VolumeTemplate)
	v.SetDefault("spawner.volume_mount", defaults.Spawner.VolumeMount)
	v.SetDefault("spawner.name_template", defaults.Spawner.NameTemplate)
	v.SetDefault("spawner.environment", defaults.Spawner.Environment)
	v.SetDefault("spawner.args", defaults.Spawner.Args)
	v.SetDefault("spawner.remove", defaults.Spawner.Remove)
	v.SetDefault("spawner.max_running", defaults.Spawner.MaxRunning)

	// Profiles: the default list is applied in Load when neither profiles
	// nor profiles_file is configured.
	v.SetDefault("profiles_file", defaults.ProfilesFile)

	// Cull defaults
	v.SetDefault("cull.enabled", defaults.Cull.Enabled)
	v.SetDefault("cull.timeout", defaults.Cull.TimeoutSeconds)
	v.SetDefault("cull.every", defaults.Cull.EverySeconds)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// BindEnv binds the deployment's historical environment variable names in
// addition to the NEBULA_ prefixed ones. Values are read once, at Load.
func BindEnv() {
	BindEnvOn(viper.GetViper())
}

// BindEnvOn is BindEnv against an explicit viper instance.
func BindEnvOn(v *viper.Viper) {
	_ = v.BindEnv("auth.strategy", "NEBULA_AUTH_STRATEGY", "AUTH_STRATEGY")
	_ = v.BindEnv("auth.dummy_password", "NEBULA_AUTH_DUMMY_PASSWORD", "DUMMY_PASSWORD")
	_ = v.BindEnv("network.name", "NEBULA_NETWORK_NAME", "DOCKER_NETWORK_NAME")
	_ = v.BindEnv("spawner.start_timeout", "NEBULA_SPAWNER_START_TIMEOUT", "SPAWNER_START_TIMEOUT")
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	defaults := Default()
	if len(cfg.Profiles) == 0 && cfg.ProfilesFile == "" {
		cfg.Profiles = defaults.Profiles
	}
	if cfg.ServerProxy.Servers == nil {
		cfg.ServerProxy.Servers = defaults.ServerProxy.Servers
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nebula")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nebula"
	}
	return filepath.Join(home, ".config", "nebula")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidAuthStrategies returns the accepted auth.strategy values
func ValidAuthStrategies() []string {
	return []string{"native", "dummy"}
}

// ValidBackends returns the accepted runtime backend names
func ValidBackends() []string {
	return []string{"docker", "dagger"}
}
