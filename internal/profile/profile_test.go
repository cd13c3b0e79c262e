package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/nebula/internal/config"
	"github.com/Iron-Ham/nebula/internal/errors"
)

func testProfiles() []Profile {
	return []Profile{
		{Slug: "uv-lab-small", DisplayName: "Lab S", Image: "local/uv-lab:latest", CPULimit: 2, MemLimit: 4 << 30, DefaultURL: "/lab", Backend: BackendDocker},
		{Slug: "uv-lab-large", DisplayName: "Lab L", Image: "local/uv-lab:latest", CPULimit: 4, MemLimit: 8 << 30, DefaultURL: "/lab", Backend: BackendDocker},
	}
}

func TestNewCatalog(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]Profile) []Profile
		wantErr bool
	}{
		{"valid", func(p []Profile) []Profile { return p }, false},
		{"empty", func([]Profile) []Profile { return nil }, true},
		{"duplicate slug", func(p []Profile) []Profile { p[1].Slug = p[0].Slug; return p }, true},
		{"missing image", func(p []Profile) []Profile { p[0].Image = ""; return p }, true},
		{"zero cpu", func(p []Profile) []Profile { p[0].CPULimit = 0; return p }, true},
		{"zero memory", func(p []Profile) []Profile { p[0].MemLimit = 0; return p }, true},
		{"unknown backend", func(p []Profile) []Profile { p[0].Backend = "vm"; return p }, true},
		{"relative url", func(p []Profile) []Profile { p[0].DefaultURL = "lab"; return p }, true},
		{"bad slug", func(p []Profile) []Profile { p[0].Slug = "Lab Small"; return p }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.mutate(testProfiles()))
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewCatalog() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("error %v should wrap ErrInvalidInput", err)
			}
		})
	}
}

func TestCatalog_Resolve(t *testing.T) {
	c, err := NewCatalog(testProfiles())
	if err != nil {
		t.Fatal(err)
	}

	p, err := c.Resolve("uv-lab-large")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.CPULimit != 4 {
		t.Errorf("CPULimit = %v, want 4", p.CPULimit)
	}

	p, err = c.Resolve("")
	if err != nil || p.Slug != "uv-lab-small" {
		t.Errorf("Resolve(\"\") = %q, %v; want default profile", p.Slug, err)
	}

	_, err = c.Resolve("huge")
	if !errors.Is(err, errors.ErrUnknownProfile) {
		t.Errorf("Resolve(huge) error = %v, want ErrUnknownProfile", err)
	}
}

func TestCatalog_ListIsCopy(t *testing.T) {
	c, err := NewCatalog(testProfiles())
	if err != nil {
		t.Fatal(err)
	}
	list := c.List()
	list[0].Image = "tampered"

	if c.List()[0].Image != "local/uv-lab:latest" {
		t.Error("List() should return a copy")
	}
	if c.Len() != 2 || c.Default().Slug != "uv-lab-small" {
		t.Errorf("Len() = %d, Default() = %q", c.Len(), c.Default().Slug)
	}
}

func TestNewCatalog_CopiesInput(t *testing.T) {
	in := testProfiles()
	c, err := NewCatalog(in)
	if err != nil {
		t.Fatal(err)
	}
	in[0].Image = "tampered"
	if p, _ := c.Resolve("uv-lab-small"); p.Image == "tampered" {
		t.Error("catalog should not alias caller's slice")
	}
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"4G", 4 << 30, false},
		{"8g", 8 << 30, false},
		{"512M", 512 << 20, false},
		{"1.5G", 3 << 29, false},
		{"64K", 64 << 10, false},
		{"1T", 1 << 40, false},
		{"1024", 1024, false},
		{"", 0, true},
		{"G", 0, true},
		{"-1G", 0, true},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemory(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMemory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMemory(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatMemory(t *testing.T) {
	tests := map[int64]string{
		4 << 30:   "4G",
		512 << 20: "512M",
		1536:      "1536",
		1 << 40:   "1T",
	}
	for in, want := range tests {
		if got := FormatMemory(in); got != want {
			t.Errorf("FormatMemory(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFromConfig(t *testing.T) {
	profiles, err := FromConfig(config.DefaultProfiles(), BackendDocker)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	c, err := NewCatalog(profiles)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	marimo, err := c.Resolve("uv-marimo-light")
	if err != nil {
		t.Fatal(err)
	}
	if marimo.MemLimit != 2<<30 || marimo.DefaultURL != "/proxy/marimo/" || marimo.Backend != BackendDocker {
		t.Errorf("uv-marimo-light = %+v", marimo)
	}

	_, err = FromConfig([]config.ProfileConfig{{Slug: "x", MemLimit: "lots"}}, BackendDocker)
	if err == nil {
		t.Error("FromConfig() should reject a bad memory limit")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "profiles.yaml")
	content := `profiles:
  - name: Tiny
    slug: tiny
    image: local/tiny:latest
    cpu_limit: 0.5
    mem_limit: 512M
    default_url: /lab
    backend: dagger
`
	if err := os.WriteFile(good, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadFile(good)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Backend != BackendDagger || entries[0].CPULimit != 0.5 {
		t.Errorf("LoadFile() = %+v", entries)
	}

	bad := filepath.Join(dir, "typo.yaml")
	if err := os.WriteFile(bad, []byte(strings.Replace(content, "mem_limit", "memory", 1)), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Error("LoadFile() should reject unknown fields")
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}

func TestLoad_ProfilesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := "profiles:\n  - slug: tiny\n    image: local/tiny:latest\n    cpu_limit: 1\n    mem_limit: 1G\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Profiles = nil
	cfg.ProfilesFile = path

	c, err := Load(cfg)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p := c.Default()
	if p.Slug != "tiny" || p.DisplayName != "tiny" || p.Backend != BackendDocker {
		t.Errorf("Default() = %+v", p)
	}
}
