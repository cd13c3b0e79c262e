package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"dagger.io/dagger"

	"github.com/Iron-Ham/nebula/internal/errors"
)

// Dagger runs sessions as dagger services. Per-user volumes are dagger cache
// volumes. CPU and memory limits are recorded as labels only; the engine
// does not enforce them.
//
// Dagger services live on the engine's own network, so Dagger also acts as
// a pass-through network driver and publishes a host tunnel address from
// Start.
type Dagger struct {
	client *dagger.Client

	mu    sync.Mutex
	units map[string]*daggerUnit
}

type daggerUnit struct {
	spec      Spec
	container *dagger.Container
	service   *dagger.Service
	tunnel    *dagger.Service
}

// NewDagger connects to the dagger engine. Engine output goes to logOutput.
func NewDagger(ctx context.Context, logOutput io.Writer) (*Dagger, error) {
	client, err := dagger.Connect(ctx, dagger.WithLogOutput(logOutput))
	if err != nil {
		return nil, fmt.Errorf("%w: dagger: %w", errors.ErrBackendUnavailable, err)
	}
	return &Dagger{
		client: client,
		units:  make(map[string]*daggerUnit),
	}, nil
}

// Close disconnects from the engine.
func (d *Dagger) Close() error {
	return d.client.Close()
}

// Name implements Backend.
func (d *Dagger) Name() string { return "dagger" }

// Pull implements Backend.
func (d *Dagger) Pull(ctx context.Context, image string) error {
	if _, err := d.client.Container().From(image).Sync(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrImagePull, image, err)
	}
	return nil
}

// Create implements Backend. The container definition is built lazily by
// the engine; nothing runs until Start.
func (d *Dagger) Create(ctx context.Context, spec Spec) (Unit, error) {
	ctr := d.client.Container().From(spec.Image)

	for _, k := range sortedKeys(spec.Labels) {
		ctr = ctr.WithLabel(k, spec.Labels[k])
	}
	ctr = ctr.
		WithLabel("nebula.cpu_limit", strconv.FormatFloat(spec.CPULimit, 'f', -1, 64)).
		WithLabel("nebula.mem_limit", strconv.FormatInt(spec.MemLimit, 10))

	for _, k := range sortedKeys(spec.Env) {
		ctr = ctr.WithEnvVariable(k, spec.Env[k])
	}
	if spec.Volume != "" {
		ctr = ctr.WithMountedCache(spec.VolumeMount, d.client.CacheVolume(spec.Volume))
	}
	if spec.Port > 0 {
		ctr = ctr.WithExposedPort(spec.Port)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.units[spec.Name] = &daggerUnit{spec: spec, container: ctr}
	return Unit{ID: spec.Name, Name: spec.Name}, nil
}

// Start implements Backend.
func (d *Dagger) Start(ctx context.Context, unit Unit) (Unit, error) {
	d.mu.Lock()
	u, ok := d.units[unit.ID]
	d.mu.Unlock()
	if !ok {
		return unit, fmt.Errorf("unit %s was not created", unit.Name)
	}

	svc := u.container.AsService(dagger.ContainerAsServiceOpts{
		Args:          u.spec.Args,
		UseEntrypoint: true,
	})
	svc, err := svc.Start(ctx)
	if err != nil {
		return unit, fmt.Errorf("failed to start unit %s: %w", unit.Name, err)
	}

	tunnel, err := d.client.Host().Tunnel(svc).Start(ctx)
	if err != nil {
		_, _ = svc.Stop(ctx)
		return unit, fmt.Errorf("failed to tunnel unit %s: %w", unit.Name, err)
	}
	endpoint, err := tunnel.Endpoint(ctx)
	if err != nil {
		_, _ = tunnel.Stop(ctx)
		_, _ = svc.Stop(ctx)
		return unit, fmt.Errorf("failed to resolve endpoint for unit %s: %w", unit.Name, err)
	}

	d.mu.Lock()
	u.service = svc
	u.tunnel = tunnel
	d.mu.Unlock()

	unit.Address = endpoint
	return unit, nil
}

// Stop implements Backend. The engine has no grace period; services are
// stopped immediately.
func (d *Dagger) Stop(ctx context.Context, unit Unit, _ time.Duration) error {
	d.mu.Lock()
	u, ok := d.units[unit.ID]
	var svc, tunnel *dagger.Service
	if ok {
		svc, tunnel = u.service, u.tunnel
		u.service, u.tunnel = nil, nil
	}
	d.mu.Unlock()

	if tunnel != nil {
		_, _ = tunnel.Stop(ctx)
	}
	if svc != nil {
		if _, err := svc.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop unit %s: %w", unit.Name, err)
		}
	}
	return nil
}

// Remove implements Backend. The cache volume is kept.
func (d *Dagger) Remove(_ context.Context, unit Unit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.units, unit.ID)
	return nil
}

// NetworkExists always reports true: the engine network is implicit.
func (d *Dagger) NetworkExists(context.Context, string) (bool, error) { return true, nil }

// Connect is a no-op for dagger services.
func (d *Dagger) Connect(context.Context, string, string, string) error { return nil }

// Disconnect is a no-op for dagger services.
func (d *Dagger) Disconnect(context.Context, string, string) error { return nil }
