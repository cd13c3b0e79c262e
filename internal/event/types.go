package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns "category.action", e.g. "session.running".
	EventType() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event types
const (
	TypeSessionSpawning = "session.spawning"
	TypeSessionRunning  = "session.running"
	TypeSessionFailed   = "session.failed"
	TypeSessionStopped  = "session.stopped"
)

// Stop reasons
const (
	ReasonRequested = "requested"
	ReasonCulled    = "culled"
	ReasonShutdown  = "shutdown"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Subject identifies the session an event is about.
type Subject struct {
	SessionID string
	User      string
	Name      string
	Profile   string
}

// SessionEvent is implemented by every session lifecycle event.
type SessionEvent interface {
	Event
	Session() Subject
}

type sessionEvent struct {
	baseEvent
	Subject
}

func (e sessionEvent) Session() Subject { return e.Subject }

func newSessionEvent(eventType string, s Subject) sessionEvent {
	return sessionEvent{baseEvent: newBaseEvent(eventType), Subject: s}
}

// SessionSpawningEvent is emitted when a new session is admitted.
type SessionSpawningEvent struct {
	sessionEvent
}

// NewSessionSpawningEvent creates a SessionSpawningEvent.
func NewSessionSpawningEvent(s Subject) SessionSpawningEvent {
	return SessionSpawningEvent{newSessionEvent(TypeSessionSpawning, s)}
}

// SessionRunningEvent is emitted once a session is ready and routed.
type SessionRunningEvent struct {
	sessionEvent
	Prefix   string
	Address  string
	Duration time.Duration // from admission to running
}

// NewSessionRunningEvent creates a SessionRunningEvent.
func NewSessionRunningEvent(s Subject, prefix, address string, d time.Duration) SessionRunningEvent {
	return SessionRunningEvent{
		sessionEvent: newSessionEvent(TypeSessionRunning, s),
		Prefix:       prefix,
		Address:      address,
		Duration:     d,
	}
}

// SessionFailedEvent is emitted when a spawn ends without a running session.
type SessionFailedEvent struct {
	sessionEvent
	Err error
}

// NewSessionFailedEvent creates a SessionFailedEvent.
func NewSessionFailedEvent(s Subject, err error) SessionFailedEvent {
	return SessionFailedEvent{sessionEvent: newSessionEvent(TypeSessionFailed, s), Err: err}
}

// SessionStoppedEvent is emitted after a session is stopped and forgotten.
type SessionStoppedEvent struct {
	sessionEvent
	Reason string
	Err    error
}

// NewSessionStoppedEvent creates a SessionStoppedEvent.
func NewSessionStoppedEvent(s Subject, reason string, err error) SessionStoppedEvent {
	return SessionStoppedEvent{
		sessionEvent: newSessionEvent(TypeSessionStopped, s),
		Reason:       reason,
		Err:          err,
	}
}
