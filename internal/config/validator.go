package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "spawner.start_timeout")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

var (
	slugRegex       = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	serverNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	envKeyRegex     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Validate checks every section and returns all failures found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateHub()...)
	errors = append(errors, c.validateAuth()...)
	errors = append(errors, c.validateNetwork()...)
	errors = append(errors, c.validateSpawner()...)
	errors = append(errors, c.validateProfiles()...)
	errors = append(errors, c.validateServerProxy()...)
	errors = append(errors, c.validateCull()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateHub validates the HubConfig
func (c *Config) validateHub() []ValidationError {
	var errors []ValidationError

	if c.Hub.BindURL == "" {
		errors = append(errors, ValidationError{
			Field:   "hub.bind_url",
			Value:   c.Hub.BindURL,
			Message: "cannot be empty",
		})
	} else if u, err := url.Parse(c.Hub.BindURL); err != nil || u.Scheme != "http" {
		errors = append(errors, ValidationError{
			Field:   "hub.bind_url",
			Value:   c.Hub.BindURL,
			Message: "must be an http:// URL",
		})
	}

	if !strings.HasPrefix(c.Hub.BasePath, "/") || strings.HasSuffix(c.Hub.BasePath, "/") {
		errors = append(errors, ValidationError{
			Field:   "hub.base_path",
			Value:   c.Hub.BasePath,
			Message: "must start with '/' and not end with '/'",
		})
	}

	return errors
}

// validateAuth validates the AuthConfig
func (c *Config) validateAuth() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidAuthStrategies(), c.Auth.Strategy) {
		errors = append(errors, ValidationError{
			Field:   "auth.strategy",
			Value:   c.Auth.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidAuthStrategies(), ", ")),
		})
	}
	if c.Auth.Strategy == "dummy" && c.Auth.DummyPassword == "" {
		errors = append(errors, ValidationError{
			Field:   "auth.dummy_password",
			Value:   "",
			Message: "is required when auth.strategy is dummy",
		})
	}

	return errors
}

// validateNetwork validates the NetworkConfig
func (c *Config) validateNetwork() []ValidationError {
	if strings.TrimSpace(c.Network.Name) == "" {
		return []ValidationError{{
			Field:   "network.name",
			Value:   c.Network.Name,
			Message: "cannot be empty",
		}}
	}
	return nil
}

// validateSpawner validates the SpawnerConfig
func (c *Config) validateSpawner() []ValidationError {
	var errors []ValidationError
	s := c.Spawner

	if !slices.Contains(ValidBackends(), s.Backend) {
		errors = append(errors, ValidationError{
			Field:   "spawner.backend",
			Value:   s.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	if s.Port < 1 || s.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "spawner.port",
			Value:   s.Port,
			Message: "must be between 1 and 65535",
		})
	}

	if s.StartTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "spawner.start_timeout",
			Value:   s.StartTimeoutSeconds,
			Message: "must be positive",
		})
	}
	if s.HTTPTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "spawner.http_timeout",
			Value:   s.HTTPTimeoutSeconds,
			Message: "must be positive",
		})
	}

	// Probe interval bounds: faster than 50ms hammers the unit, slower than
	// 10s makes readiness reporting sluggish.
	const minProbeInterval = 50
	const maxProbeInterval = 10_000
	if s.ProbeIntervalMs < minProbeInterval || s.ProbeIntervalMs > maxProbeInterval {
		errors = append(errors, ValidationError{
			Field:   "spawner.probe_interval_ms",
			Value:   s.ProbeIntervalMs,
			Message: fmt.Sprintf("must be between %d and %d", minProbeInterval, maxProbeInterval),
		})
	}

	if s.StopGraceSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "spawner.stop_grace",
			Value:   s.StopGraceSeconds,
			Message: "must be non-negative",
		})
	}

	if !strings.Contains(s.NameTemplate, "{username}") {
		errors = append(errors, ValidationError{
			Field:   "spawner.name_template",
			Value:   s.NameTemplate,
			Message: "must contain {username}",
		})
	}
	if c.Hub.AllowNamedServers && !strings.Contains(s.NameTemplate, "{servername}") {
		errors = append(errors, ValidationError{
			Field:   "spawner.name_template",
			Value:   s.NameTemplate,
			Message: "must contain {servername} when named servers are allowed",
		})
	}
	if s.VolumeTemplate != "" && !strings.Contains(s.VolumeTemplate, "{username}") {
		errors = append(errors, ValidationError{
			Field:   "spawner.volume_template",
			Value:   s.VolumeTemplate,
			Message: "must contain {username}",
		})
	}
	if s.VolumeTemplate != "" && !strings.HasPrefix(s.VolumeMount, "/") {
		errors = append(errors, ValidationError{
			Field:   "spawner.volume_mount",
			Value:   s.VolumeMount,
			Message: "must be an absolute path",
		})
	}

	for i, kv := range s.Environment {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !envKeyRegex.MatchString(key) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("spawner.environment[%d]", i),
				Value:   kv,
				Message: "must be KEY=VALUE with a valid variable name",
			})
		}
	}

	if s.MaxRunning < 0 {
		errors = append(errors, ValidationError{
			Field:   "spawner.max_running",
			Value:   s.MaxRunning,
			Message: "must be non-negative (0 disables the cap)",
		})
	}

	return errors
}

// validateProfiles checks the inline profile list. Memory strings and
// duplicate slugs are checked again by the catalog, which also covers
// profiles_file.
func (c *Config) validateProfiles() []ValidationError {
	var errors []ValidationError

	if len(c.Profiles) > 0 && c.ProfilesFile != "" {
		errors = append(errors, ValidationError{
			Field:   "profiles_file",
			Value:   c.ProfilesFile,
			Message: "cannot be combined with inline profiles",
		})
	}

	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		field := fmt.Sprintf("profiles[%d]", i)
		if !slugRegex.MatchString(p.Slug) {
			errors = append(errors, ValidationError{
				Field:   field + ".slug",
				Value:   p.Slug,
				Message: "must be lowercase alphanumeric with '.', '_' or '-'",
			})
		} else if seen[p.Slug] {
			errors = append(errors, ValidationError{
				Field:   field + ".slug",
				Value:   p.Slug,
				Message: "duplicate slug",
			})
		}
		seen[p.Slug] = true

		if p.Image == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".image",
				Value:   p.Image,
				Message: "cannot be empty",
			})
		}
		if p.CPULimit <= 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".cpu_limit",
				Value:   p.CPULimit,
				Message: "must be positive",
			})
		}
		if p.Backend != "" && !slices.Contains(ValidBackends(), p.Backend) {
			errors = append(errors, ValidationError{
				Field:   field + ".backend",
				Value:   p.Backend,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
			})
		}
		if p.DefaultURL != "" && !strings.HasPrefix(p.DefaultURL, "/") {
			errors = append(errors, ValidationError{
				Field:   field + ".default_url",
				Value:   p.DefaultURL,
				Message: "must start with '/'",
			})
		}
	}

	return errors
}

// validateServerProxy validates sub-service registrations
func (c *Config) validateServerProxy() []ValidationError {
	var errors []ValidationError

	for _, name := range SortedServerNames(c.ServerProxy.Servers) {
		svc := c.ServerProxy.Servers[name]
		field := "server_proxy.servers." + name
		if !serverNameRegex.MatchString(name) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   name,
				Message: "name must be alphanumeric with '_' or '-'",
			})
		}
		if len(svc.Command) == 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".command",
				Value:   svc.Command,
				Message: "cannot be empty",
			})
		}
		if svc.Timeout < 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".timeout",
				Value:   svc.Timeout,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}

// validateCull validates the CullConfig
func (c *Config) validateCull() []ValidationError {
	if !c.Cull.Enabled {
		return nil
	}

	var errors []ValidationError
	if c.Cull.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "cull.timeout",
			Value:   c.Cull.TimeoutSeconds,
			Message: "must be positive when culling is enabled",
		})
	}
	if c.Cull.EverySeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "cull.every",
			Value:   c.Cull.EverySeconds,
			Message: "must be positive when culling is enabled",
		})
	}
	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
