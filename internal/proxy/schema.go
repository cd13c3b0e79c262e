package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/Iron-Ham/nebula/internal/config"
)

// LauncherEntry is how a sub-service is presented to the user.
type LauncherEntry struct {
	Title    string `json:"title"`
	IconPath string `json:"icon_path"`
}

// SubService is one entry of the proxy registration schema.
type SubService struct {
	// Command is the launch argv. {port} and {baseURL} are substituted at
	// registration.
	Command []string `json:"command"`
	// Timeout is the readiness timeout in seconds.
	Timeout int `json:"timeout"`
	// AbsoluteURL tells the sub-service its full external base path.
	AbsoluteURL bool `json:"absolute_url"`
	// LauncherEntry is the display descriptor.
	LauncherEntry LauncherEntry `json:"launcher_entry"`
}

// UnmarshalJSON accepts "absoluteURL" as an alias of "absolute_url" and
// rejects unknown fields.
func (s *SubService) UnmarshalJSON(b []byte) error {
	var raw struct {
		Command       []string      `json:"command"`
		Timeout       int           `json:"timeout"`
		AbsoluteURL   *bool         `json:"absolute_url"`
		AbsoluteAlias *bool         `json:"absoluteURL"`
		LauncherEntry LauncherEntry `json:"launcher_entry"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw.AbsoluteURL != nil && raw.AbsoluteAlias != nil && *raw.AbsoluteURL != *raw.AbsoluteAlias {
		return fmt.Errorf("absolute_url and absoluteURL disagree")
	}

	*s = SubService{
		Command:       raw.Command,
		Timeout:       raw.Timeout,
		LauncherEntry: raw.LauncherEntry,
	}
	switch {
	case raw.AbsoluteURL != nil:
		s.AbsoluteURL = *raw.AbsoluteURL
	case raw.AbsoluteAlias != nil:
		s.AbsoluteURL = *raw.AbsoluteAlias
	}
	return nil
}

// Registration is the document carrying a session's sub-services.
type Registration struct {
	Servers map[string]SubService `json:"servers"`
}

// DecodeRegistration reads a registration document.
func DecodeRegistration(r io.Reader) (Registration, error) {
	var reg Registration
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&reg); err != nil {
		return Registration{}, fmt.Errorf("failed to decode registration: %w", err)
	}
	for name, svc := range reg.Servers {
		if len(svc.Command) == 0 {
			return Registration{}, fmt.Errorf("server %q: command is required", name)
		}
	}
	return reg, nil
}

// EncodeRegistration writes reg with stable key order.
func EncodeRegistration(w io.Writer, reg Registration) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reg)
}

// FromConfig converts configured sub-services to the registration schema.
func FromConfig(servers map[string]config.SubServiceConfig) map[string]SubService {
	out := make(map[string]SubService, len(servers))
	for name, s := range servers {
		out[name] = SubService{
			Command:     append([]string(nil), s.Command...),
			Timeout:     s.Timeout,
			AbsoluteURL: s.AbsoluteURL,
			LauncherEntry: LauncherEntry{
				Title:    s.LauncherEntry.Title,
				IconPath: s.LauncherEntry.IconPath,
			},
		}
	}
	return out
}

func sortedNames(subs map[string]SubService) []string {
	names := make([]string, 0, len(subs))
	for name := range subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
