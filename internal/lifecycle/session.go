package lifecycle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/nebula/internal/errors"
	"github.com/Iron-Ham/nebula/internal/network"
	"github.com/Iron-Ham/nebula/internal/profile"
	"github.com/Iron-Ham/nebula/internal/runtime"
)

// Key identifies a session slot. An empty Name is the user's default session.
type Key struct {
	User string `json:"user"`
	Name string `json:"name"`
}

// String renders the key as user/name.
func (k Key) String() string {
	return k.User + "/" + k.Name
}

// Session is one user's running or in-flight environment. All mutable
// fields are guarded by mu; read them through Snapshot or the accessors.
type Session struct {
	ID      string
	Key     Key
	Profile profile.Profile

	mu           sync.Mutex
	state        State
	unit         runtime.Unit
	unitName     string
	handle       network.Handle
	address      string
	createdAt    time.Time
	readyAt      time.Time
	lastActivity time.Time
	failure      error
	routes       []string
	cancel       func()
}

// NewSession creates a session in StateRequested with a fresh ID.
func NewSession(user, name string, p profile.Profile) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		Key:          Key{User: user, Name: name},
		Profile:      p,
		state:        StateRequested,
		createdAt:    now,
		lastActivity: now,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns host:port the hub reaches the unit on, once started.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Failure returns the failure cause of a Failed session.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Touch records user activity.
func (s *Session) Touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.lastActivity) {
		s.lastActivity = at
	}
}

// LastActivity returns the time of the last recorded activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SetCancel sets the function that aborts this session's in-flight spawn.
// Stop calls it after the session has moved to Stopping.
func (s *Session) SetCancel(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// SetRoutes records the proxy prefixes registered for this session.
func (s *Session) SetRoutes(prefixes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append([]string(nil), prefixes...)
}

// takeRoutes returns and clears the registered prefixes.
func (s *Session) takeRoutes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.routes
	s.routes = nil
	return r
}

// transition moves the session to `to`, rejecting moves the state machine
// does not allow.
func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, s.state, to)
	}
	s.state = to
	if to == StateRunning {
		s.readyAt = time.Now()
	}
	return nil
}

// PathPrefix returns the session's public path prefix under basePath, e.g.
// "/user/alice/" or "/user/alice/gpu/".
func (s *Session) PathPrefix(basePath string) string {
	return PathPrefix(basePath, s.Key)
}

// PathPrefix returns the public path prefix for key under basePath.
func PathPrefix(basePath string, key Key) string {
	p := strings.TrimRight(basePath, "/") + "/" + key.User + "/"
	if key.Name != "" {
		p += key.Name + "/"
	}
	return p
}

// Snapshot is a point-in-time copy of a session for listing.
type Snapshot struct {
	ID           string    `json:"id"`
	User         string    `json:"user"`
	Name         string    `json:"name"`
	Profile      string    `json:"profile"`
	State        State     `json:"state"`
	Unit         string    `json:"unit,omitempty"`
	Address      string    `json:"address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ReadyAt      time.Time `json:"ready_at,omitzero"`
	LastActivity time.Time `json:"last_activity"`
	Failure      string    `json:"failure,omitempty"`
}

// Snapshot returns a copy of the session's current fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:           s.ID,
		User:         s.Key.User,
		Name:         s.Key.Name,
		Profile:      s.Profile.Slug,
		State:        s.state,
		Unit:         s.unitName,
		Address:      s.address,
		CreatedAt:    s.createdAt,
		ReadyAt:      s.readyAt,
		LastActivity: s.lastActivity,
	}
	if s.failure != nil {
		snap.Failure = s.failure.Error()
	}
	return snap
}
