// Package network attaches session compute units to the shared session
// network and hands out the address the hub uses to reach them.
package network

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"sync"

	"github.com/Iron-Ham/nebula/internal/errors"
	"github.com/Iron-Ham/nebula/internal/logging"
)

// lockStripes is the number of per-session lock stripes.
const lockStripes = 64

// Driver is the network half of a compute-unit control plane.
type Driver interface {
	NetworkExists(ctx context.Context, name string) (bool, error)
	Connect(ctx context.Context, network, container, alias string) error
	Disconnect(ctx context.Context, network, container string) error
}

// Handle identifies one attachment.
type Handle struct {
	SessionID string
	Container string
	Network   string
	Address   string
}

// Binding manages session attachments to one named network.
type Binding struct {
	driver  Driver
	network string
	port    int
	logger  *logging.Logger

	stripes [lockStripes]sync.Mutex

	mu       sync.RWMutex
	attached map[string]Handle // by session ID
}

// NewBinding creates a Binding for the named network. Units are reached on
// port.
func NewBinding(driver Driver, networkName string, port int, logger *logging.Logger) *Binding {
	return &Binding{
		driver:   driver,
		network:  networkName,
		port:     port,
		logger:   logger.WithComponent("network"),
		attached: make(map[string]Handle),
	}
}

// Network returns the network name.
func (b *Binding) Network() string {
	return b.network
}

func (b *Binding) lock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &b.stripes[h.Sum32()%lockStripes]
}

// Attach joins container to the network under its own name and returns the
// address the hub uses to reach it. Attaching an attached session returns
// the existing handle. A missing network fails with ErrNetworkUnavailable.
func (b *Binding) Attach(ctx context.Context, sessionID, container string) (Handle, string, error) {
	l := b.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	if h, ok := b.lookup(sessionID); ok {
		return h, h.Address, nil
	}

	exists, err := b.driver.NetworkExists(ctx, b.network)
	if err != nil {
		return Handle{}, "", fmt.Errorf("%w: %s: %w", errors.ErrNetworkUnavailable, b.network, err)
	}
	if !exists {
		return Handle{}, "", fmt.Errorf("%w: network %q does not exist", errors.ErrNetworkUnavailable, b.network)
	}

	if err := b.driver.Connect(ctx, b.network, container, container); err != nil {
		return Handle{}, "", fmt.Errorf("%w: connect %s: %w", errors.ErrNetworkUnavailable, container, err)
	}

	h := Handle{
		SessionID: sessionID,
		Container: container,
		Network:   b.network,
		Address:   net.JoinHostPort(container, strconv.Itoa(b.port)),
	}
	b.mu.Lock()
	b.attached[sessionID] = h
	b.mu.Unlock()

	b.logger.Debug("attached", "session_id", sessionID, "container", container, "network", b.network)
	return h, h.Address, nil
}

// Detach removes the attachment. Detaching a detached session is a no-op.
// The handle is forgotten even if the driver fails, since the unit is being
// torn down either way.
func (b *Binding) Detach(ctx context.Context, h Handle) error {
	l := b.lock(h.SessionID)
	l.Lock()
	defer l.Unlock()

	cur, ok := b.lookup(h.SessionID)
	if !ok {
		return nil
	}

	b.mu.Lock()
	delete(b.attached, h.SessionID)
	b.mu.Unlock()

	if err := b.driver.Disconnect(ctx, cur.Network, cur.Container); err != nil {
		b.logger.Warn("disconnect failed", "session_id", h.SessionID, "container", cur.Container, "error", err)
		return err
	}
	b.logger.Debug("detached", "session_id", h.SessionID, "container", cur.Container)
	return nil
}

// Lookup returns the handle for an attached session.
func (b *Binding) Lookup(sessionID string) (Handle, bool) {
	return b.lookup(sessionID)
}

func (b *Binding) lookup(sessionID string) (Handle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.attached[sessionID]
	return h, ok
}

// Attached returns the number of attached sessions.
func (b *Binding) Attached() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.attached)
}
