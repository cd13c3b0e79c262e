// Package profile holds the catalog of selectable session profiles: an
// image plus resource limits plus the path a user lands on.
package profile

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/nebula/internal/config"
	"github.com/Iron-Ham/nebula/internal/errors"
)

// Backend names
const (
	BackendDocker = "docker"
	BackendDagger = "dagger"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Profile is an immutable bundle of image and resource limits.
type Profile struct {
	Slug        string  `json:"slug"`
	DisplayName string  `json:"display_name"`
	Image       string  `json:"image"`
	CPULimit    float64 `json:"cpu_limit"`
	MemLimit    int64   `json:"mem_limit"`
	DefaultURL  string  `json:"default_url"`
	Backend     string  `json:"backend"`
}

// Catalog is the fixed set of profiles offered to users. It is read-only
// after construction and safe for concurrent use without locking.
type Catalog struct {
	profiles []Profile
	bySlug   map[string]int
}

// NewCatalog validates profiles and builds a catalog preserving declaration
// order. The first profile is the default.
func NewCatalog(profiles []Profile) (*Catalog, error) {
	if len(profiles) == 0 {
		return nil, errors.NewValidationError("at least one profile is required").WithField("profiles")
	}

	c := &Catalog{
		profiles: make([]Profile, len(profiles)),
		bySlug:   make(map[string]int, len(profiles)),
	}
	copy(c.profiles, profiles)

	for i, p := range c.profiles {
		if err := validate(i, p); err != nil {
			return nil, err
		}
		if _, dup := c.bySlug[p.Slug]; dup {
			return nil, errors.NewValidationError("duplicate slug").
				WithField(fmt.Sprintf("profiles[%d].slug", i)).
				WithValue(p.Slug)
		}
		c.bySlug[p.Slug] = i
	}
	return c, nil
}

func validate(i int, p Profile) error {
	field := func(name string) string { return fmt.Sprintf("profiles[%d].%s", i, name) }

	switch {
	case !slugRegex.MatchString(p.Slug):
		return errors.NewValidationError("invalid slug").WithField(field("slug")).WithValue(p.Slug)
	case p.Image == "":
		return errors.NewValidationError("image is required").WithField(field("image"))
	case p.CPULimit <= 0:
		return errors.NewValidationError("cpu limit must be positive").WithField(field("cpu_limit")).WithValue(p.CPULimit)
	case p.MemLimit <= 0:
		return errors.NewValidationError("memory limit must be positive").WithField(field("mem_limit")).WithValue(p.MemLimit)
	case p.Backend != BackendDocker && p.Backend != BackendDagger:
		return errors.NewValidationError("unknown backend").WithField(field("backend")).WithValue(p.Backend)
	case p.DefaultURL != "" && !strings.HasPrefix(p.DefaultURL, "/"):
		return errors.NewValidationError("default url must start with '/'").WithField(field("default_url")).WithValue(p.DefaultURL)
	}
	return nil
}

// Resolve returns the profile for slug. The empty slug resolves to the
// default (first) profile.
func (c *Catalog) Resolve(slug string) (Profile, error) {
	if slug == "" {
		return c.profiles[0], nil
	}
	i, ok := c.bySlug[slug]
	if !ok {
		return Profile{}, errors.NewNotFoundError("profile", slug).WithCause(errors.ErrUnknownProfile)
	}
	return c.profiles[i], nil
}

// List returns the profiles in declaration order. The slice is a copy.
func (c *Catalog) List() []Profile {
	out := make([]Profile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Default returns the first declared profile.
func (c *Catalog) Default() Profile {
	return c.profiles[0]
}

// Len returns the number of profiles.
func (c *Catalog) Len() int {
	return len(c.profiles)
}

// FromConfig converts configured profiles, filling the backend from
// defaultBackend where a profile does not name one.
func FromConfig(entries []config.ProfileConfig, defaultBackend string) ([]Profile, error) {
	out := make([]Profile, 0, len(entries))
	for i, e := range entries {
		mem, err := ParseMemory(e.MemLimit)
		if err != nil {
			return nil, errors.NewValidationError("invalid memory limit").
				WithField(fmt.Sprintf("profiles[%d].mem_limit", i)).
				WithValue(e.MemLimit).
				WithCause(err)
		}
		backend := e.Backend
		if backend == "" {
			backend = defaultBackend
		}
		name := e.Name
		if name == "" {
			name = e.Slug
		}
		out = append(out, Profile{
			Slug:        e.Slug,
			DisplayName: name,
			Image:       e.Image,
			CPULimit:    e.CPULimit,
			MemLimit:    mem,
			DefaultURL:  e.DefaultURL,
			Backend:     backend,
		})
	}
	return out, nil
}

// fileFormat is the document accepted by LoadFile.
type fileFormat struct {
	Profiles []config.ProfileConfig `yaml:"profiles"`
}

// LoadFile decodes a standalone YAML profile list. Unknown fields are
// rejected so a typo in a limit does not silently fall back to nothing.
func LoadFile(path string) ([]config.ProfileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profiles file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var doc fileFormat
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}
	return doc.Profiles, nil
}

// Load builds the catalog from configuration, reading profiles_file when
// it is set.
func Load(cfg *config.Config) (*Catalog, error) {
	entries := cfg.Profiles
	if cfg.ProfilesFile != "" {
		var err error
		entries, err = LoadFile(cfg.ProfilesFile)
		if err != nil {
			return nil, err
		}
	}
	profiles, err := FromConfig(entries, cfg.Spawner.Backend)
	if err != nil {
		return nil, err
	}
	return NewCatalog(profiles)
}

// ParseMemory parses a memory limit such as "512M" or "4G". Suffixes K, M,
// G and T are binary multiples; a bare number is bytes.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory limit")
	}

	mult := int64(1)
	switch suffix := strings.ToUpper(s[len(s)-1:]); suffix {
	case "K":
		mult = 1 << 10
	case "M":
		mult = 1 << 20
	case "G":
		mult = 1 << 30
	case "T":
		mult = 1 << 40
	}
	num := s
	if mult != 1 {
		num = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid memory limit %q", s)
	}
	return int64(v * float64(mult)), nil
}

// FormatMemory renders bytes with the largest exact binary suffix.
func FormatMemory(b int64) string {
	for _, u := range []struct {
		suffix string
		size   int64
	}{{"T", 1 << 40}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10}} {
		if b >= u.size && b%u.size == 0 {
			return strconv.FormatInt(b/u.size, 10) + u.suffix
		}
	}
	return strconv.FormatInt(b, 10)
}
