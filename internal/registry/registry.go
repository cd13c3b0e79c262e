// Package registry is the single entry point for session operations. It
// owns the key to session map, joins concurrent spawns for the same key,
// and keeps proxy routes in step with session lifecycles.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Iron-Ham/nebula/internal/errors"
	"github.com/Iron-Ham/nebula/internal/event"
	"github.com/Iron-Ham/nebula/internal/lifecycle"
	"github.com/Iron-Ham/nebula/internal/logging"
	"github.com/Iron-Ham/nebula/internal/profile"
	"github.com/Iron-Ham/nebula/internal/proxy"
)

// SpawnRequest asks for a session for User under Name using Profile.
// An empty Name is the default session; an empty Profile picks the
// catalog default.
type SpawnRequest struct {
	User    string `json:"user"`
	Name    string `json:"name"`
	Profile string `json:"profile"`
}

// Key returns the session slot the request addresses.
func (r SpawnRequest) Key() lifecycle.Key {
	return lifecycle.Key{User: r.User, Name: r.Name}
}

// Handle is what a successful spawn returns to the caller.
type Handle struct {
	SessionID string          `json:"session_id"`
	User      string          `json:"user"`
	Name      string          `json:"name"`
	Profile   string          `json:"profile"`
	State     lifecycle.State `json:"state"`
	Prefix    string          `json:"prefix"`
	Path      string          `json:"path"`
	Address   string          `json:"address,omitempty"`
}

// Options configures a Registry.
type Options struct {
	// BasePath is the public prefix sessions are mounted under, e.g. "/user".
	BasePath string
	// MaxRunning caps spawning plus running sessions. Zero disables the cap.
	MaxRunning int
	// DisableNamedServers rejects spawns for any session but the default.
	DisableNamedServers bool
	// SubServices are registered under every session's route.
	SubServices map[string]proxy.SubService
	// Events receives session lifecycle events. May be nil.
	Events *event.Bus
}

// entry tracks one session slot. mu orders the spawn's completion against
// stops and joiners. stopped is closed once the first stop has torn the
// session down; stopErr is its result.
type entry struct {
	session *lifecycle.Session
	done    chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
	stopErr  error

	mu       sync.Mutex
	finished bool
	stopping bool
}

func newEntry(s *lifecycle.Session) *entry {
	return &entry{
		session: s,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Registry maps session keys to sessions.
type Registry struct {
	catalog *profile.Catalog
	manager *lifecycle.Manager
	router  *proxy.Router
	opts    Options
	logger  *logging.Logger

	flights singleflight.Group

	mu       sync.RWMutex
	sessions map[lifecycle.Key]*entry
}

// New creates a registry and installs the route release hook on manager.
func New(catalog *profile.Catalog, manager *lifecycle.Manager, router *proxy.Router, opts Options, logger *logging.Logger) *Registry {
	if opts.BasePath == "" {
		opts.BasePath = "/user"
	}
	r := &Registry{
		catalog:  catalog,
		manager:  manager,
		router:   router,
		opts:     opts,
		logger:   logger.WithComponent("registry"),
		sessions: make(map[lifecycle.Key]*entry),
	}
	manager.SetReleaseHook(r.releaseRoutes)
	return r
}

func (r *Registry) releaseRoutes(s *lifecycle.Session, prefixes []string) {
	for _, p := range prefixes {
		r.router.Unregister(p)
	}
	if len(prefixes) > 0 {
		r.logger.Debug("routes released", "session_id", s.ID, "prefixes", prefixes)
	}
}

// Spawn returns a handle for the session at req's key, starting it if
// needed. A running session is returned as is. A spawn already in flight
// for the key is joined; asking for a different profile while one is in
// flight fails with a ConflictError naming the profile being realized.
// ctx bounds only this caller's wait: the spawn itself carries on for
// other callers and is cancelled only by Stop.
func (r *Registry) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	if err := validateKey(req.Key()); err != nil {
		return Handle{}, err
	}
	if req.Name != "" && r.opts.DisableNamedServers {
		return Handle{}, fmt.Errorf("%w: named servers are disabled", errors.ErrForbidden)
	}
	p, err := r.catalog.Resolve(req.Profile)
	if err != nil {
		return Handle{}, err
	}

	e, ch, err := r.admit(req.Key(), p)
	if err != nil {
		return Handle{}, err
	}
	if ch == nil {
		return r.handle(e.session), nil
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return Handle{}, res.Err
		}
		return res.Val.(Handle), nil
	case <-ctx.Done():
		return Handle{}, fmt.Errorf("%w: waiting for %s: %w", errors.ErrCanceled, req.Key(), ctx.Err())
	}
}

// admit decides under the registry lock whether to reuse, join or start a
// session. A nil channel means the returned entry is already running.
func (r *Registry) admit(key lifecycle.Key, p profile.Profile) (*entry, <-chan singleflight.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[key]; ok {
		s := e.session
		st := s.State()
		switch {
		case st == lifecycle.StateRunning:
			e.mu.Lock()
			stopping := e.stopping
			e.mu.Unlock()
			if !stopping {
				return e, nil, nil
			}
			return nil, nil, errors.NewSessionError("session is stopping", errors.ErrSessionStopped).
				WithKey(key.User, key.Name).
				WithProfile(s.Profile.Slug).
				WithState(st.String())
		case st == lifecycle.StateStopping:
			return nil, nil, errors.NewSessionError("session is stopping", errors.ErrSessionStopped).
				WithKey(key.User, key.Name).
				WithProfile(s.Profile.Slug).
				WithState(st.String())
		case st.IsSpawning():
			if s.Profile.Slug != p.Slug {
				return nil, nil, errors.NewConflictError(p.Slug, s.Profile.Slug)
			}
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.finished {
				return e, r.flights.DoChan(s.ID, func() (any, error) { return r.launch(e) }), nil
			}
			// The spawn completed between the state read and the lock.
			if s.State() == lifecycle.StateRunning {
				return e, nil, nil
			}
		}
		// Failed or Removed: replaced below.
	}

	if r.opts.MaxRunning > 0 && r.activeLocked() >= r.opts.MaxRunning {
		return nil, nil, errors.NewSessionError(
			fmt.Sprintf("%d sessions already active", r.opts.MaxRunning),
			errors.ErrCapacityExceeded,
		).WithKey(key.User, key.Name).WithProfile(p.Slug)
	}

	e := newEntry(lifecycle.NewSession(key.User, key.Name, p))
	r.sessions[key] = e
	r.logger.WithSession(key.User, key.Name).Info("spawning session",
		"session_id", e.session.ID, "profile", p.Slug)
	return e, r.flights.DoChan(e.session.ID, func() (any, error) { return r.launch(e) }), nil
}

func (r *Registry) activeLocked() int {
	n := 0
	for _, e := range r.sessions {
		st := e.session.State()
		if st == lifecycle.StateRunning || st.IsSpawning() {
			n++
		}
	}
	return n
}

// launch runs the spawn for e and publishes its outcome. Events are
// published with no registry locks held.
func (r *Registry) launch(e *entry) (any, error) {
	defer close(e.done)

	s := e.session
	r.opts.Events.Publish(event.NewSessionSpawningEvent(subject(s)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.SetCancel(cancel)

	h, err := r.run(ctx, e)
	switch {
	case err == nil:
		snap := s.Snapshot()
		r.opts.Events.Publish(event.NewSessionRunningEvent(subject(s), h.Prefix, snap.Address, snap.ReadyAt.Sub(snap.CreatedAt)))
	case !errors.Is(err, errors.ErrSessionStopped):
		r.opts.Events.Publish(event.NewSessionFailedEvent(subject(s), err))
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// run drives the lifecycle and registers routes once it is Running. A
// session whose routes cannot be registered is torn down after e.mu is
// released, so admissions on other keys never wait on its teardown.
func (r *Registry) run(ctx context.Context, e *entry) (Handle, error) {
	s := e.session
	h, routeErr, err := r.complete(e, r.manager.Launch(ctx, s))
	if routeErr == nil {
		return h, err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Minute)
	defer stopCancel()
	if stopErr := r.manager.Stop(stopCtx, s); stopErr != nil {
		r.logger.Warn("cleanup after route failure", "session_id", s.ID, "error", stopErr)
	}
	return Handle{}, errors.NewSessionError("route registration failed", routeErr).
		WithKey(s.Key.User, s.Key.Name).
		WithProfile(s.Profile.Slug).
		WithState(s.State().String())
}

// complete marks the spawn finished and registers routes for a running
// session. It holds e.mu so a concurrent Stop either sees the routes and
// releases them, or prevents them from being registered at all. A failed
// registration marks the entry stopping and is returned as routeErr for the
// caller to clean up.
func (r *Registry) complete(e *entry, launchErr error) (h Handle, routeErr, err error) {
	s := e.session

	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = true

	if launchErr != nil {
		return Handle{}, nil, launchErr
	}
	if e.stopping || s.State() != lifecycle.StateRunning {
		return Handle{}, nil, errors.NewSessionError("session stopped before routing", errors.ErrSessionStopped).
			WithKey(s.Key.User, s.Key.Name).
			WithProfile(s.Profile.Slug).
			WithState(s.State().String()).
			WithSeverity(errors.SeverityInfo)
	}

	prefix := s.PathPrefix(r.opts.BasePath)
	route, regErr := r.router.Register(prefix, s.Address(), true, r.opts.SubServices)
	if regErr != nil {
		e.stopping = true
		return Handle{}, regErr, nil
	}
	s.SetRoutes(route.Prefixes())

	r.logger.WithSession(s.Key.User, s.Key.Name).Info("session running",
		"session_id", s.ID, "prefix", prefix, "address", s.Address())
	return r.handle(s), nil, nil
}

func subject(s *lifecycle.Session) event.Subject {
	return event.Subject{
		SessionID: s.ID,
		User:      s.Key.User,
		Name:      s.Key.Name,
		Profile:   s.Profile.Slug,
	}
}

func (r *Registry) handle(s *lifecycle.Session) Handle {
	prefix := s.PathPrefix(r.opts.BasePath)
	return Handle{
		SessionID: s.ID,
		User:      s.Key.User,
		Name:      s.Key.Name,
		Profile:   s.Profile.Slug,
		State:     s.State(),
		Prefix:    prefix,
		Path:      prefix + strings.TrimPrefix(s.Profile.DefaultURL, "/"),
		Address:   s.Address(),
	}
}

// Stop tears down the session at key and forgets it. Stopping a key with
// no session returns nil. A spawn in flight is cancelled and ends Removed.
// Concurrent stops of one session share the first one's teardown: each
// returns once the session is gone, or when its ctx is done.
func (r *Registry) Stop(ctx context.Context, key lifecycle.Key) error {
	return r.stop(ctx, key, event.ReasonRequested)
}

func (r *Registry) stop(ctx context.Context, key lifecycle.Key, reason string) error {
	r.mu.RLock()
	e, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	first := false
	e.stopOnce.Do(func() { first = true })
	if first {
		r.teardown(ctx, key, e, reason)
		return e.stopErr
	}

	start := time.Now()
	select {
	case <-e.stopped:
		return e.stopErr
	case <-ctx.Done():
		return errors.NewTimeoutError("waiting for stop of "+key.String(), time.Since(start)).WithCause(ctx.Err())
	}
}

// teardown runs the one stop of e. The record is deleted only after the
// lifecycle teardown and the spawn goroutine have both finished.
func (r *Registry) teardown(ctx context.Context, key lifecycle.Key, e *entry, reason string) {
	defer close(e.stopped)

	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()

	start := time.Now()
	err := r.manager.Stop(ctx, e.session)

	select {
	case <-e.done:
	case <-ctx.Done():
		if err == nil {
			err = errors.NewTimeoutError("waiting for spawn of "+key.String()+" to exit", time.Since(start)).
				WithCause(ctx.Err())
		}
	}

	r.mu.Lock()
	if r.sessions[key] == e {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	e.stopErr = err
	r.logger.WithSession(key.User, key.Name).Info("session stopped", "session_id", e.session.ID, "reason", reason)
	r.opts.Events.Publish(event.NewSessionStoppedEvent(subject(e.session), reason, err))
}

// Status reports the lifecycle state of the session at key.
func (r *Registry) Status(key lifecycle.Key) (lifecycle.State, error) {
	s, err := r.lookup(key)
	if err != nil {
		return 0, err
	}
	return s.State(), nil
}

// Get returns a snapshot of the session at key.
func (r *Registry) Get(key lifecycle.Key) (lifecycle.Snapshot, error) {
	s, err := r.lookup(key)
	if err != nil {
		return lifecycle.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

func (r *Registry) lookup(key lifecycle.Key) (*lifecycle.Session, error) {
	r.mu.RLock()
	e, ok := r.sessions[key]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("session", key.String()).WithCause(errors.ErrSessionNotFound)
	}
	return e.session, nil
}

// ListActive returns snapshots of every known session, including failed
// ones, ordered by user then name.
func (r *Registry) ListActive() []lifecycle.Snapshot {
	r.mu.RLock()
	out := make([]lifecycle.Snapshot, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Touch records activity on the session at key.
func (r *Registry) Touch(key lifecycle.Key, at time.Time) error {
	s, err := r.lookup(key)
	if err != nil {
		return err
	}
	s.Touch(at)
	return nil
}

// Cull stops running sessions whose last activity is older than maxIdle
// and returns how many it stopped.
func (r *Registry) Cull(ctx context.Context, maxIdle time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxIdle)

	var idle []lifecycle.Key
	r.mu.RLock()
	for key, e := range r.sessions {
		s := e.session
		if s.State() == lifecycle.StateRunning && s.LastActivity().Before(cutoff) {
			idle = append(idle, key)
		}
	}
	r.mu.RUnlock()

	var errs []error
	for _, key := range idle {
		r.logger.WithSession(key.User, key.Name).Info("culling idle session", "max_idle", maxIdle.String())
		if err := r.stop(ctx, key, event.ReasonCulled); err != nil {
			errs = append(errs, fmt.Errorf("cull %s: %w", key, err))
		}
	}
	return len(idle), errors.Join(errs...)
}

// RunCuller calls Cull every interval until ctx is done.
func (r *Registry) RunCuller(ctx context.Context, every, maxIdle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Cull(ctx, maxIdle)
			if err != nil {
				r.logger.Warn("cull pass failed", "error", err)
			}
			if n > 0 {
				r.logger.Info("cull pass complete", "stopped", n)
			}
		}
	}
}

// Shutdown stops every session in parallel.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	keys := make([]lifecycle.Key, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	r.logger.Info("shutting down sessions", "count", len(keys))

	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			if err := r.stop(ctx, key, event.ReasonShutdown); err != nil {
				return fmt.Errorf("stop %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Catalog returns the profile catalog spawns resolve against.
func (r *Registry) Catalog() *profile.Catalog {
	return r.catalog
}

// Router returns the route table the registry maintains.
func (r *Registry) Router() *proxy.Router {
	return r.router
}

func validateKey(key lifecycle.Key) error {
	if key.User == "" {
		return errors.NewValidationError("user is required").WithField("user")
	}
	if strings.ContainsAny(key.User, "/ ") {
		return errors.NewValidationError("user cannot contain '/' or spaces").WithField("user").WithValue(key.User)
	}
	if strings.ContainsAny(key.Name, "/ ") {
		return errors.NewValidationError("server name cannot contain '/' or spaces").WithField("name").WithValue(key.Name)
	}
	return nil
}
