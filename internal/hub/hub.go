// Package hub assembles the session components from a resolved
// configuration and runs them.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/nebula/internal/api"
	"github.com/Iron-Ham/nebula/internal/config"
	"github.com/Iron-Ham/nebula/internal/errors"
	"github.com/Iron-Ham/nebula/internal/event"
	"github.com/Iron-Ham/nebula/internal/lifecycle"
	"github.com/Iron-Ham/nebula/internal/logging"
	"github.com/Iron-Ham/nebula/internal/network"
	"github.com/Iron-Ham/nebula/internal/profile"
	"github.com/Iron-Ham/nebula/internal/proxy"
	"github.com/Iron-Ham/nebula/internal/registry"
	"github.com/Iron-Ham/nebula/internal/runtime"
)

// subServiceBasePort is the first port handed to sub-services inside a
// session.
const subServiceBasePort = 9000

// probeAttemptTimeout bounds a single readiness request.
const probeAttemptTimeout = 5 * time.Second

// Hub is a fully wired set of components.
type Hub struct {
	Config   *config.Config
	Catalog  *profile.Catalog
	Manager  *lifecycle.Manager
	Router   *proxy.Router
	Registry *registry.Registry
	API      *api.Server
	Events   *event.Bus

	// ConfigFile, when set, is watched for drift while running.
	ConfigFile string

	logger  *logging.Logger
	closers []io.Closer
}

// Build creates the runtimes every profile needs and wires the hub.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Hub, error) {
	catalog, err := profile.Load(cfg)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	runtimes := make(map[string]lifecycle.Runtime)
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	for _, name := range backendsOf(catalog) {
		var backend runtime.Backend
		var driver network.Driver
		switch name {
		case profile.BackendDocker:
			d := runtime.NewDocker()
			if err := d.Preflight(ctx); err != nil {
				closeAll()
				return nil, err
			}
			backend, driver = d, d
		case profile.BackendDagger:
			d, err := runtime.NewDagger(ctx, io.Discard)
			if err != nil {
				closeAll()
				return nil, err
			}
			closers = append(closers, d)
			backend, driver = d, d
		default:
			closeAll()
			return nil, fmt.Errorf("%w: unknown backend %q", errors.ErrBackendUnavailable, name)
		}
		runtimes[name] = lifecycle.Runtime{
			Backend: backend,
			Network: network.NewBinding(driver, cfg.Network.Name, cfg.Spawner.Port, logger),
		}
		logger.Info("runtime ready", "backend", name, "network", cfg.Network.Name)
	}

	h, err := BuildWith(cfg, catalog, runtimes, runtime.NewHTTPProber(probeAttemptTimeout), logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	h.closers = closers
	return h, nil
}

// BuildWith wires the hub around the given runtimes and prober.
func BuildWith(cfg *config.Config, catalog *profile.Catalog, runtimes map[string]lifecycle.Runtime, prober runtime.Prober, logger *logging.Logger) (*Hub, error) {
	for _, name := range backendsOf(catalog) {
		if _, ok := runtimes[name]; !ok {
			return nil, fmt.Errorf("%w: no runtime for backend %q", errors.ErrBackendUnavailable, name)
		}
	}

	sp := cfg.Spawner
	manager := lifecycle.NewManager(runtimes, prober, lifecycle.Options{
		BasePath:      cfg.Hub.BasePath,
		Port:          sp.Port,
		StartTimeout:  sp.StartTimeout(),
		HTTPTimeout:   sp.HTTPTimeout(),
		ProbeInterval: sp.ProbeInterval(),
		StopGrace:     sp.StopGrace(),
		Env:           sp.EnvironmentMap(),
		Args:          sp.Args,
		UnitName:      sp.UnitName,
		VolumeName:    sp.VolumeName,
		VolumeMount:   sp.VolumeMount,
		Remove:        sp.Remove,
	}, logger)

	bus := event.NewBus(logger)
	bus.SubscribeAll(auditLog(logger.WithComponent("audit")))

	router := proxy.NewRouter(subServiceBasePort, logger)
	reg := registry.New(catalog, manager, router, registry.Options{
		BasePath:            cfg.Hub.BasePath,
		MaxRunning:          sp.MaxRunning,
		DisableNamedServers: !cfg.Hub.AllowNamedServers,
		SubServices:         proxy.FromConfig(cfg.ServerProxy.Servers),
		Events:              bus,
	}, logger)

	server := api.New(reg, api.Options{
		AdminUsers:   cfg.Hub.AdminUsers,
		AuthStrategy: cfg.Auth.Strategy,
	}, logger)

	return &Hub{
		Config:   cfg,
		Catalog:  catalog,
		Manager:  manager,
		Router:   router,
		Registry: reg,
		API:      server,
		Events:   bus,
		logger:   logger.WithComponent("hub"),
	}, nil
}

// auditLog returns a handler writing one line per session event.
func auditLog(logger *logging.Logger) event.Handler {
	return func(e event.Event) {
		se, ok := e.(event.SessionEvent)
		if !ok {
			return
		}
		sub := se.Session()
		args := []any{"event", e.EventType()}
		switch ev := e.(type) {
		case event.SessionRunningEvent:
			args = append(args, "prefix", ev.Prefix, "startup", ev.Duration.String())
		case event.SessionFailedEvent:
			args = append(args, "error", ev.Err)
		case event.SessionStoppedEvent:
			args = append(args, "reason", ev.Reason)
			if ev.Err != nil {
				args = append(args, "error", ev.Err)
			}
		}
		logger.WithSession(sub.User, sub.Name).
			WithSessionID(sub.SessionID).
			WithProfile(sub.Profile).
			Info("session event", args...)
	}
}

func backendsOf(catalog *profile.Catalog) []string {
	var out []string
	for _, p := range catalog.List() {
		if !slices.Contains(out, p.Backend) {
			out = append(out, p.Backend)
		}
	}
	slices.Sort(out)
	return out
}

// ListenAddr returns the host:port the API binds, from hub.bind_url.
func ListenAddr(bindURL string) (string, error) {
	u, err := url.Parse(bindURL)
	if err != nil {
		return "", fmt.Errorf("parse hub.bind_url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("hub.bind_url %q has no host:port", bindURL)
	}
	return u.Host, nil
}

// Run serves the API and runs the culler and drift watcher until ctx is
// done, then stops every session.
func (h *Hub) Run(ctx context.Context) error {
	addr, err := ListenAddr(h.Config.Hub.BindURL)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.API.Serve(gctx, addr)
	})

	if h.Config.Cull.Enabled {
		g.Go(func() error {
			h.Registry.RunCuller(gctx, h.Config.Cull.Every(), h.Config.Cull.Timeout())
			return nil
		})
	}

	if h.ConfigFile != "" {
		g.Go(func() error {
			err := config.WatchDrift(gctx, h.ConfigFile, func(path string) {
				h.logger.Warn("config file changed; restart the hub to apply it", "path", path)
			})
			if err != nil {
				h.logger.Warn("config drift watcher stopped", "error", err)
			}
			return nil
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.Config.Spawner.StopGrace()+30*time.Second)
	defer cancel()
	if err := h.Registry.Shutdown(shutdownCtx); err != nil {
		h.logger.Error("session shutdown incomplete", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// Close releases runtime connections.
func (h *Hub) Close() error {
	var errs []error
	for _, c := range h.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
