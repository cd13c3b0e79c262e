// Package config provides CLI commands for managing hub configuration.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/nebula/internal/config"
	"github.com/Iron-Ham/nebula/internal/logging"
	"github.com/Iron-Ham/nebula/internal/styles"
)

// Wrapper functions for exec to allow testing
var execLookPath = exec.LookPath
var execCommand = exec.Command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify hub configuration",
	Long: `View or modify hub configuration.

Use 'config show' to display the resolved configuration and 'config validate'
to check it without starting the hub.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  nebula config set spawner.start_timeout 600
  nebula config set cull.enabled false
  nebula config set auth.strategy dummy

Valid keys:
  hub.bind_url                 - Address the hub API listens on
  hub.base_path                - Public prefix for session routes
  hub.allow_named_servers      - Allow sessions other than the default (true/false)
  auth.strategy                - Identity provider: native, dummy
  network.name                 - Shared session network
  spawner.backend              - Default runtime: docker, dagger
  spawner.port                 - Port the single-user server listens on
  spawner.start_timeout        - Seconds allowed for pull plus start
  spawner.http_timeout         - Seconds allowed for the readiness probe
  spawner.stop_grace           - Seconds a unit gets to exit on stop
  spawner.name_template        - Compute unit name template
  spawner.volume_template      - Per-user volume name template
  spawner.remove               - Delete units when sessions stop (true/false)
  spawner.max_running          - Cap on running sessions, 0 = unlimited
  profiles_file                - YAML file with the profile list
  cull.enabled                 - Stop idle sessions (true/false)
  cull.timeout                 - Idle seconds before a session is stopped
  cull.every                   - Seconds between idle sweeps
  logging.level                - debug, info, warn, error
  logging.dir                  - Directory for hub.log, empty for stderr`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/nebula/config.yaml with the common options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE:  runConfigValidate,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in your editor",
	Long: `Open the config file in your preferred editor.

Uses $EDITOR environment variable, or falls back to common editors (vim, nano, vi).
If no config file exists, creates one with default values first.`,
	RunE: runConfigEdit,
}

var configResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Reset configuration to defaults",
	Long: `Reset configuration values to their defaults.

Without arguments, resets every settable key. With a key argument, resets
only that key.

Examples:
  nebula config reset
  nebula config reset cull.timeout`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigReset,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configResetCmd)
}

// Register adds all config-related commands to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

type keyKind int

const (
	kindString keyKind = iota
	kindBool
	kindInt
	kindAuth
	kindBackend
	kindLevel
)

type settableKey struct {
	kind keyKind
	def  func(d *appconfig.Config) any
}

// settableKeys are the scalar keys `config set` and `config reset` accept.
var settableKeys = map[string]settableKey{
	"hub.bind_url":            {kindString, func(d *appconfig.Config) any { return d.Hub.BindURL }},
	"hub.base_path":           {kindString, func(d *appconfig.Config) any { return d.Hub.BasePath }},
	"hub.allow_named_servers": {kindBool, func(d *appconfig.Config) any { return d.Hub.AllowNamedServers }},
	"auth.strategy":           {kindAuth, func(d *appconfig.Config) any { return d.Auth.Strategy }},
	"network.name":            {kindString, func(d *appconfig.Config) any { return d.Network.Name }},
	"spawner.backend":         {kindBackend, func(d *appconfig.Config) any { return d.Spawner.Backend }},
	"spawner.port":            {kindInt, func(d *appconfig.Config) any { return d.Spawner.Port }},
	"spawner.start_timeout":   {kindInt, func(d *appconfig.Config) any { return d.Spawner.StartTimeoutSeconds }},
	"spawner.http_timeout":    {kindInt, func(d *appconfig.Config) any { return d.Spawner.HTTPTimeoutSeconds }},
	"spawner.stop_grace":      {kindInt, func(d *appconfig.Config) any { return d.Spawner.StopGraceSeconds }},
	"spawner.name_template":   {kindString, func(d *appconfig.Config) any { return d.Spawner.NameTemplate }},
	"spawner.volume_template": {kindString, func(d *appconfig.Config) any { return d.Spawner.VolumeTemplate }},
	"spawner.remove":          {kindBool, func(d *appconfig.Config) any { return d.Spawner.Remove }},
	"spawner.max_running":     {kindInt, func(d *appconfig.Config) any { return d.Spawner.MaxRunning }},
	"profiles_file":           {kindString, func(d *appconfig.Config) any { return d.ProfilesFile }},
	"cull.enabled":            {kindBool, func(d *appconfig.Config) any { return d.Cull.Enabled }},
	"cull.timeout":            {kindInt, func(d *appconfig.Config) any { return d.Cull.TimeoutSeconds }},
	"cull.every":              {kindInt, func(d *appconfig.Config) any { return d.Cull.EverySeconds }},
	"logging.level":           {kindLevel, func(d *appconfig.Config) any { return d.Logging.Level }},
	"logging.dir":             {kindString, func(d *appconfig.Config) any { return d.Logging.Dir }},
}

// parseValue validates value for key and converts it to the key's type.
func parseValue(key, value string) (any, error) {
	k, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'nebula config set --help' to see valid keys", key)
	}

	oneOf := func(valid []string) (any, error) {
		if !slices.Contains(valid, value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s", key, value, strings.Join(valid, ", "))
		}
		return value, nil
	}

	switch k.kind {
	case kindAuth:
		return oneOf(appconfig.ValidAuthStrategies())
	case kindBackend:
		return oneOf(appconfig.ValidBackends())
	case kindLevel:
		if !slices.Contains(logging.ValidLevels(), strings.ToUpper(value)) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: debug, info, warn, error", key, value)
		}
		return strings.ToLower(value), nil
	case kindBool:
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	default:
		return value, nil
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	p := styles.NewPrinter(cmd.OutOrStdout())

	if used := viper.ConfigFileUsed(); used != "" {
		p.Println(p.Render(styles.Muted, "# config file: "+used))
	} else {
		p.Println(p.Render(styles.Muted, "# config file: (none - using defaults)"))
	}

	out, err := settingsYAML(viper.AllSettings())
	if err != nil {
		return err
	}
	p.Println(out)
	return nil
}

// settingsYAML renders viper settings as YAML with secrets masked.
func settingsYAML(settings map[string]any) (string, error) {
	if auth, ok := settings["auth"].(map[string]any); ok {
		if pw, ok := auth["dummy_password"].(string); ok && pw != "" {
			auth["dummy_password"] = "********"
		}
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseValue(key, args[1])
	if err != nil {
		return err
	}

	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)

	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

// defaultConfigContent is the commented file written by `config init`.
const defaultConfigContent = `# Nebula hub configuration

hub:
  # Address the hub API listens on
  bind_url: http://:8000
  # Public prefix under which sessions are routed
  base_path: /user
  # Identities with admin access
  admin_users: [admin]
  allow_named_servers: true

auth:
  # native or dummy (env AUTH_STRATEGY)
  strategy: native

network:
  # Shared network sessions join (env DOCKER_NETWORK_NAME)
  name: jupyterhub-net

spawner:
  # docker or dagger
  backend: docker
  port: 8888
  # Seconds for pull plus start (env SPAWNER_START_TIMEOUT)
  start_timeout: 300
  # Seconds for the readiness probe
  http_timeout: 120
  name_template: jupyter-{username}-{servername}
  volume_template: jupyterhub-user-{username}
  volume_mount: /home/nebula
  remove: true
  # 0 = unlimited
  max_running: 0

# Profiles offered at spawn time. Omit to use the built-in list, or point
# profiles_file at a YAML list.
# profiles:
#   - name: uv Lab - 2 CPU / 4GB
#     slug: uv-lab-small
#     image: ghcr.io/example/uv-lab:latest
#     cpu_limit: 2
#     mem_limit: 4G
#     default_url: /lab

cull:
  enabled: true
  # Idle seconds before a session is stopped
  timeout: 3600
  every: 300

logging:
  level: info
  # Empty logs to stderr
  dir: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'nebula config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: NEBULA_* (e.g., NEBULA_SPAWNER_START_TIMEOUT)")
	fmt.Fprintln(out, "Also read: AUTH_STRATEGY, DUMMY_PASSWORD, DOCKER_NETWORK_NAME, SPAWNER_START_TIMEOUT")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	p := styles.NewPrinter(cmd.OutOrStdout())
	if _, err := appconfig.Load(); err != nil {
		p.Println(p.Render(styles.Error, "✗ configuration is invalid"))
		return err
	}
	p.Println(p.Render(styles.Secondary, "✓ configuration is valid"))
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "Config file doesn't exist, creating with defaults...")
		if err := runConfigInit(cmd, args); err != nil {
			return err
		}
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	editorCmd := execCommand(editor, configFile)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Config file saved: %s\n", configFile)
	return nil
}

func findEditor() (string, error) {
	if e := os.Getenv("EDITOR"); e != "" {
		return e, nil
	}
	if e := os.Getenv("VISUAL"); e != "" {
		return e, nil
	}
	for _, e := range []string{"vim", "nano", "vi"} {
		if _, err := execLookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found. Set $EDITOR environment variable")
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	defaults := appconfig.Default()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		for key, k := range settableKeys {
			viper.Set(key, k.def(defaults))
		}
		fmt.Fprintln(out, "Reset all configuration to defaults.")
	} else {
		key := args[0]
		k, ok := settableKeys[key]
		if !ok {
			return fmt.Errorf("unknown configuration key: %s\nRun 'nebula config set --help' to see valid keys", key)
		}
		value := k.def(defaults)
		viper.Set(key, value)
		fmt.Fprintf(out, "Reset %s to default: %v\n", key, value)
	}

	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}
