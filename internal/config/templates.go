package config

import (
	"fmt"
	"sort"
	"strings"
)

// escapeChar introduces a hex-escaped byte in rendered names. It must differ
// from the '-' that templates use to join {username} and {servername}.
const escapeChar = '_'

// EscapeName makes s safe for use in container and volume names. Lowercase
// ASCII letters and digits pass through; every other byte becomes '_'
// followed by its two-digit lowercase hex value. An escaped name never
// contains '-', so a template joining escaped names with '-' renders
// distinct (user, server) pairs to distinct names.
func EscapeName(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		if (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') {
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte(escapeChar)
		sb.WriteString(fmt.Sprintf("%02x", b))
	}
	return sb.String()
}

// RenderTemplate substitutes {username} and {servername} with their escaped
// values. A rendered name never ends in a separator, so the default session
// of "alice" under "jupyter-{username}-{servername}" is "jupyter-alice".
func RenderTemplate(tmpl, user, server string) string {
	out := strings.NewReplacer(
		"{username}", EscapeName(user),
		"{servername}", EscapeName(server),
	).Replace(tmpl)
	return strings.TrimRight(out, "-_.")
}

// UnitName renders the compute unit name for a session
func (c *SpawnerConfig) UnitName(user, server string) string {
	return RenderTemplate(c.NameTemplate, user, server)
}

// VolumeName renders the persistent volume name for a user. Returns "" when
// no volume template is configured.
func (c *SpawnerConfig) VolumeName(user string) string {
	if c.VolumeTemplate == "" {
		return ""
	}
	return RenderTemplate(c.VolumeTemplate, user, "")
}

// SortedServerNames returns the sub-service names in lexical order
func SortedServerNames(servers map[string]SubServiceConfig) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
