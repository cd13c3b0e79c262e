package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/nebula/internal/errors"
	"github.com/Iron-Ham/nebula/internal/logging"
	"github.com/Iron-Ham/nebula/internal/network"
	"github.com/Iron-Ham/nebula/internal/runtime"
)

// cleanupTimeout bounds best-effort teardown after a failure, when the
// caller's context may already be done.
const cleanupTimeout = 30 * time.Second

// Runtime pairs a backend with the network binding its units join.
type Runtime struct {
	Backend runtime.Backend
	Network *network.Binding
}

// Options holds the unit template and budgets.
type Options struct {
	// BasePath is the public prefix sessions are routed under, e.g. "/user".
	BasePath string
	// Port is the port the unit's server listens on.
	Port int
	// StartTimeout bounds pull, create and start together.
	StartTimeout time.Duration
	// HTTPTimeout bounds the readiness probe.
	HTTPTimeout time.Duration
	// ProbeInterval caps the backoff between readiness probes.
	ProbeInterval time.Duration
	// StopGrace is how long a unit gets to exit before it is killed.
	StopGrace time.Duration
	// Env is injected into every unit.
	Env map[string]string
	// Args are appended to every unit's command.
	Args []string
	// UnitName renders a unit name from user and server name.
	UnitName func(user, name string) string
	// VolumeName renders the per-user volume name; "" disables the volume.
	VolumeName func(user string) string
	// VolumeMount is where the per-user volume is mounted.
	VolumeMount string
	// Remove deletes units on stop.
	Remove bool
}

// Manager handles the lifecycle of session compute units.
type Manager struct {
	runtimes map[string]Runtime
	prober   runtime.Prober
	opts     Options
	logger   *logging.Logger

	mu        sync.RWMutex
	onRelease func(s *Session, prefixes []string)
}

// NewManager creates a Manager. runtimes is keyed by backend name.
func NewManager(runtimes map[string]Runtime, prober runtime.Prober, opts Options, logger *logging.Logger) *Manager {
	if opts.UnitName == nil {
		opts.UnitName = func(user, name string) string {
			if name == "" {
				return "nebula-" + user
			}
			return "nebula-" + user + "-" + name
		}
	}
	if opts.BasePath == "" {
		opts.BasePath = "/user"
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = time.Second
	}
	return &Manager{
		runtimes: maps.Clone(runtimes),
		prober:   prober,
		opts:     opts,
		logger:   logger.WithComponent("lifecycle"),
	}
}

// SetReleaseHook sets the function that drops a session's proxy routes.
// It runs on every stop and failure, before the unit goes away.
func (m *Manager) SetReleaseHook(fn func(s *Session, prefixes []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRelease = fn
}

// Options returns the manager's options.
func (m *Manager) Options() Options {
	return m.opts
}

func (m *Manager) runtimeFor(s *Session) (Runtime, error) {
	rt, ok := m.runtimes[s.Profile.Backend]
	if !ok {
		return Runtime{}, fmt.Errorf("%w: no runtime for backend %q", errors.ErrBackendUnavailable, s.Profile.Backend)
	}
	return rt, nil
}

// runBounded runs fn and returns its result, or ctx's error as soon as ctx
// is done even if fn is still running.
func runBounded(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Launch runs the full spawn sequence: Create and Start under the start
// budget, then AwaitReady under the probe budget. On error the session is
// Failed, or Stopping/Removed when a stop interrupted it.
func (m *Manager) Launch(ctx context.Context, s *Session) error {
	startCtx, cancel := context.WithTimeout(ctx, m.opts.StartTimeout)
	defer cancel()

	if err := m.Create(startCtx, s); err != nil {
		return err
	}
	if err := m.Start(startCtx, s); err != nil {
		return err
	}
	return m.AwaitReady(ctx, s, m.opts.HTTPTimeout)
}

// Create pulls the profile image and allocates the unit with the profile's
// limits, the per-user volume and the injected environment.
func (m *Manager) Create(ctx context.Context, s *Session) error {
	if err := m.enter(s, "create", StatePulling); err != nil {
		return err
	}
	rt, err := m.runtimeFor(s)
	if err != nil {
		return m.Fail(s, err)
	}

	log := m.sessionLogger(s)
	log.Info("pulling image", "image", s.Profile.Image)

	err = runBounded(ctx, func() error {
		return rt.Backend.Pull(ctx, s.Profile.Image)
	})
	if err != nil {
		return m.interrupted(ctx, s, "image pull", err)
	}

	spec := m.unitSpec(s)
	s.mu.Lock()
	s.unitName = spec.Name
	s.mu.Unlock()

	err = runBounded(ctx, func() error {
		unit, err := rt.Backend.Create(ctx, spec)
		if err != nil {
			return err
		}
		m.recordUnit(s, rt, unit)
		return nil
	})
	if err != nil {
		return m.interrupted(ctx, s, "create", err)
	}
	log.Debug("unit created", "unit", spec.Name)
	return nil
}

// recordUnit stores a created unit. A unit that arrives after the session
// was stopped or failed is removed, since nobody else will.
func (m *Manager) recordUnit(s *Session, rt Runtime, unit runtime.Unit) {
	s.mu.Lock()
	orphan := s.state != StatePulling
	if !orphan {
		s.unit = unit
	}
	s.mu.Unlock()

	if orphan {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := rt.Backend.Remove(ctx, unit); err != nil {
			m.sessionLogger(s).Warn("failed to remove orphaned unit", "unit", unit.Name, "error", err)
		}
	}
}

func (m *Manager) unitSpec(s *Session) runtime.Spec {
	env := make(map[string]string, len(m.opts.Env)+5)
	maps.Copy(env, m.opts.Env)
	env["JUPYTERHUB_USER"] = s.Key.User
	env["JUPYTERHUB_SERVER_NAME"] = s.Key.Name
	env["JUPYTERHUB_SERVICE_PREFIX"] = s.PathPrefix(m.opts.BasePath)
	env["JUPYTERHUB_DEFAULT_URL"] = s.Profile.DefaultURL
	env["NEBULA_SESSION_ID"] = s.ID

	var volume string
	if m.opts.VolumeName != nil {
		volume = m.opts.VolumeName(s.Key.User)
	}

	return runtime.Spec{
		Name:        m.opts.UnitName(s.Key.User, s.Key.Name),
		Image:       s.Profile.Image,
		CPULimit:    s.Profile.CPULimit,
		MemLimit:    s.Profile.MemLimit,
		Env:         env,
		Args:        append([]string(nil), m.opts.Args...),
		Volume:      volume,
		VolumeMount: m.opts.VolumeMount,
		Port:        m.opts.Port,
		Labels: map[string]string{
			runtime.LabelSessionID:  s.ID,
			runtime.LabelUser:       s.Key.User,
			runtime.LabelServerName: s.Key.Name,
			runtime.LabelProfile:    s.Profile.Slug,
		},
	}
}

// Start runs the unit and attaches it to the session network, then moves
// the session to Probing.
func (m *Manager) Start(ctx context.Context, s *Session) error {
	if err := m.enter(s, "start", StateStarting); err != nil {
		return err
	}
	rt, err := m.runtimeFor(s)
	if err != nil {
		return m.Fail(s, err)
	}

	s.mu.Lock()
	unit := s.unit
	s.mu.Unlock()

	err = runBounded(ctx, func() error {
		started, err := rt.Backend.Start(ctx, unit)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.unit = started
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return m.interrupted(ctx, s, "start", err)
	}

	var (
		handle  network.Handle
		address string
	)
	err = runBounded(ctx, func() error {
		var err error
		handle, address, err = rt.Network.Attach(ctx, s.ID, unit.Name)
		return err
	})
	if err != nil {
		return m.interrupted(ctx, s, "network attach", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = handle
	s.address = address
	if s.unit.Address != "" {
		s.address = s.unit.Address
	}
	return s.transitionLocked(StateProbing)
}

// AwaitReady polls the unit's API endpoint with exponential backoff until it
// answers or timeout passes, then moves the session to Running.
func (m *Manager) AwaitReady(ctx context.Context, s *Session, timeout time.Duration) error {
	switch st := s.State(); st {
	case StateProbing:
	case StateStopping, StateRemoved:
		return stoppedError(s, "readiness probe", st)
	default:
		return fmt.Errorf("%w: await ready in state %s", errors.ErrInvalidTransition, st)
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := "http://" + s.Address() + s.PathPrefix(m.opts.BasePath) + "api"
	log := m.sessionLogger(s)
	log.Debug("probing", "url", url)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(100*time.Millisecond, m.opts.ProbeInterval)
	b.MaxInterval = m.opts.ProbeInterval
	b.MaxElapsedTime = 0

	err := runBounded(probeCtx, func() error {
		return backoff.RetryNotify(func() error {
			return m.prober.Probe(probeCtx, url)
		}, backoff.WithContext(b, probeCtx), func(err error, next time.Duration) {
			log.Debug("not ready", "error", err, "retry_in", next)
		})
	})
	if err != nil {
		return m.interrupted(probeCtx, s, "readiness probe", err)
	}

	if err := s.transition(StateRunning); err != nil {
		// A concurrent stop won the race.
		return stoppedError(s, "readiness probe", s.State())
	}
	log.Info("session running", "address", s.Address())
	return nil
}

// interrupted classifies a failed step. A stop in progress wins over
// everything; an expired budget is a startup timeout; anything else fails
// the session with the step's error.
func (m *Manager) interrupted(ctx context.Context, s *Session, step string, err error) error {
	switch st := s.State(); {
	case st == StateStopping || st == StateRemoved:
		return stoppedError(s, step, st)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return m.Fail(s, fmt.Errorf("%w: %s: %w", errors.ErrStartupTimeout, step, err))
	case errors.Is(ctx.Err(), context.Canceled):
		return m.Fail(s, fmt.Errorf("%w: %s", errors.ErrCanceled, step))
	default:
		return m.Fail(s, errors.Wrap(err, step))
	}
}

// enter moves s into the state a spawn step runs in. A session a stop has
// already claimed reports ErrSessionStopped rather than a bad transition.
func (m *Manager) enter(s *Session, step string, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopping || s.state == StateRemoved {
		return stoppedError(s, step, s.state)
	}
	return s.transitionLocked(to)
}

// stoppedError reports a spawn step cut short by Stop. It is not a failure,
// so it carries info severity.
func stoppedError(s *Session, step string, st State) *errors.SessionError {
	return errors.NewSessionError(step+" interrupted", errors.ErrSessionStopped).
		WithKey(s.Key.User, s.Key.Name).
		WithProfile(s.Profile.Slug).
		WithState(st.String()).
		WithSeverity(errors.SeverityInfo)
}

// Fail cleans up whatever the session acquired and moves it to Failed.
// The returned error wraps cause. If a stop took over in the meantime the
// session is left to it.
func (m *Manager) Fail(s *Session, cause error) error {
	log := m.sessionLogger(s)
	log.Error("spawn failed", "state", s.State().String(), "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	m.teardown(ctx, s)

	s.mu.Lock()
	st := s.state
	if CanTransition(st, StateFailed) {
		s.state = StateFailed
		s.failure = cause
		st = StateFailed
	} else {
		cause = fmt.Errorf("%w: %w", errors.ErrSessionStopped, cause)
	}
	s.mu.Unlock()

	return errors.NewSessionError("spawn failed", cause).
		WithKey(s.Key.User, s.Key.Name).
		WithProfile(s.Profile.Slug).
		WithState(st.String())
}

// Stop tears the session down: an in-flight spawn is cancelled, routes are
// released, the unit stopped, the network detached, and the unit removed
// when configured. Stopping a
// session that is already Stopping or Removed returns nil. Routes and the
// network are released even when the backend stop fails.
func (m *Manager) Stop(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if s.state == StateStopping || s.state == StateRemoved {
		s.mu.Unlock()
		return nil
	}
	if err := s.transitionLocked(StateStopping); err != nil {
		s.mu.Unlock()
		return err
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	log := m.sessionLogger(s)
	log.Info("stopping session")

	err := m.teardown(ctx, s)

	s.mu.Lock()
	_ = s.transitionLocked(StateRemoved)
	s.mu.Unlock()

	if err != nil {
		log.Warn("stop completed with errors", "error", err)
	}
	return err
}

// teardown releases routes, stops the unit, detaches the network and
// removes the unit when configured. Every step runs regardless of earlier
// failures; the first error is returned.
func (m *Manager) teardown(ctx context.Context, s *Session) error {
	m.release(s)

	rt, rtErr := m.runtimeFor(s)
	if rtErr != nil {
		return rtErr
	}

	s.mu.Lock()
	unit := s.unit
	s.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if unit.Name != "" {
		keep(runBounded(ctx, func() error {
			return rt.Backend.Stop(ctx, unit, m.opts.StopGrace)
		}))
	}
	if handle, ok := rt.Network.Lookup(s.ID); ok {
		keep(rt.Network.Detach(ctx, handle))
	}
	if unit.Name != "" && m.opts.Remove {
		keep(m.remove(ctx, rt, unit))
	}
	return firstErr
}

// Remove deletes the session's unit. The per-user volume is never deleted.
func (m *Manager) Remove(ctx context.Context, s *Session) error {
	rt, err := m.runtimeFor(s)
	if err != nil {
		return err
	}
	s.mu.Lock()
	unit := s.unit
	s.mu.Unlock()
	if unit.Name == "" {
		return nil
	}
	return m.remove(ctx, rt, unit)
}

func (m *Manager) remove(ctx context.Context, rt Runtime, unit runtime.Unit) error {
	return runBounded(ctx, func() error {
		return rt.Backend.Remove(ctx, unit)
	})
}

func (m *Manager) release(s *Session) {
	prefixes := s.takeRoutes()
	m.mu.RLock()
	hook := m.onRelease
	m.mu.RUnlock()
	if hook != nil {
		hook(s, prefixes)
	}
}

func (m *Manager) sessionLogger(s *Session) *logging.Logger {
	return m.logger.WithSession(s.Key.User, s.Key.Name).WithSessionID(s.ID).WithProfile(s.Profile.Slug)
}
