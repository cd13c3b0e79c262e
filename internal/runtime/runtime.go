// Package runtime adapts compute-unit control planes (the docker CLI and the
// dagger engine) to the operations the lifecycle manager needs.
package runtime

import (
	"context"
	"time"
)

// Label keys attached to every unit so a hub restart can find its units.
const (
	LabelSessionID  = "nebula.session_id"
	LabelUser       = "nebula.user"
	LabelServerName = "nebula.server_name"
	LabelProfile    = "nebula.profile"
)

// Spec describes a compute unit to create.
type Spec struct {
	Name        string
	Image       string
	CPULimit    float64
	MemLimit    int64
	Env         map[string]string
	Args        []string
	Volume      string // persistent volume name; empty for none
	VolumeMount string
	Port        int
	Labels      map[string]string
}

// Unit identifies a created compute unit.
type Unit struct {
	ID   string
	Name string
	// Address is set by backends that publish their own endpoint. When empty
	// the unit is reached through the session network alias.
	Address string
}

// Backend is a compute-unit control plane.
type Backend interface {
	// Name returns the backend identifier used in profiles.
	Name() string
	// Pull makes image available locally.
	Pull(ctx context.Context, image string) error
	// Create allocates a unit without starting it.
	Create(ctx context.Context, spec Spec) (Unit, error)
	// Start runs a created unit and returns it with any published address.
	Start(ctx context.Context, unit Unit) (Unit, error)
	// Stop halts the unit, killing it after grace. Stopping a stopped or
	// missing unit is not an error.
	Stop(ctx context.Context, unit Unit, grace time.Duration) error
	// Remove deletes the unit. Volumes are never deleted. Removing a missing
	// unit is not an error.
	Remove(ctx context.Context, unit Unit) error
}
