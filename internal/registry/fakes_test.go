package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/nebula/internal/lifecycle"
	"github.com/Iron-Ham/nebula/internal/network"
	"github.com/Iron-Ham/nebula/internal/profile"
	"github.com/Iron-Ham/nebula/internal/proxy"
	"github.com/Iron-Ham/nebula/internal/runtime"
)

// fakeBackend is a runtime.Backend and network.Driver that records calls.
// When pullGate is non-nil, Pull waits for it or for ctx. When stopGate is
// non-nil, Stop signals stopEntered and waits for the gate, ignoring ctx.
// addresses maps unit names to the address Start publishes for them.
type fakeBackend struct {
	pullGate chan struct{}
	pulling  chan struct{}

	stopGate    chan struct{}
	stopEntered chan struct{}

	addresses map[string]string

	pulls, creates, starts, stops, removes atomic.Int32
	connects, disconnects                  atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{pulling: make(chan struct{}, 16)}
}

func (f *fakeBackend) Name() string { return "docker" }

func (f *fakeBackend) Pull(ctx context.Context, image string) error {
	f.pulls.Add(1)
	select {
	case f.pulling <- struct{}{}:
	default:
	}
	if f.pullGate == nil {
		return nil
	}
	select {
	case <-f.pullGate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) Create(ctx context.Context, spec runtime.Spec) (runtime.Unit, error) {
	f.creates.Add(1)
	return runtime.Unit{ID: "id-" + spec.Name, Name: spec.Name}, nil
}

func (f *fakeBackend) Start(ctx context.Context, unit runtime.Unit) (runtime.Unit, error) {
	f.starts.Add(1)
	unit.Address = f.addresses[unit.Name]
	return unit, nil
}

func (f *fakeBackend) Stop(ctx context.Context, unit runtime.Unit, grace time.Duration) error {
	select {
	case f.stopEntered <- struct{}{}:
	default:
	}
	if f.stopGate != nil {
		<-f.stopGate
	}
	f.stops.Add(1)
	return nil
}

func (f *fakeBackend) Remove(ctx context.Context, unit runtime.Unit) error {
	f.removes.Add(1)
	return nil
}

func (f *fakeBackend) NetworkExists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeBackend) Connect(context.Context, string, string, string) error {
	f.connects.Add(1)
	return nil
}

func (f *fakeBackend) Disconnect(context.Context, string, string) error {
	f.disconnects.Add(1)
	return nil
}

// fakeProber reports ready unless fn says otherwise.
type fakeProber struct {
	fn func(ctx context.Context, url string) error
}

func (p *fakeProber) Probe(ctx context.Context, url string) error {
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, url)
}

func testProfiles() []profile.Profile {
	return []profile.Profile{
		{Slug: "uv-lab-small", Image: "local/uv-lab:latest", CPULimit: 2, MemLimit: 4 << 30, DefaultURL: "/lab", Backend: profile.BackendDocker},
		{Slug: "uv-vscode-small", Image: "local/uv-vscode:latest", CPULimit: 2, MemLimit: 4 << 30, DefaultURL: "/vscode", Backend: profile.BackendDocker},
	}
}

type fixture struct {
	backend *fakeBackend
	prober  *fakeProber
	router  *proxy.Router
	reg     *Registry
}

func newFixture(t *testing.T, opts Options, lopts lifecycle.Options) *fixture {
	t.Helper()

	catalog, err := profile.NewCatalog(testProfiles())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	b := newFakeBackend()
	pr := &fakeProber{}
	binding := network.NewBinding(b, "jupyterhub-net", 8888, nil)
	m := lifecycle.NewManager(map[string]lifecycle.Runtime{
		profile.BackendDocker: {Backend: b, Network: binding},
	}, pr, lopts, nil)

	router := proxy.NewRouter(9000, nil)
	return &fixture{
		backend: b,
		prober:  pr,
		router:  router,
		reg:     New(catalog, m, router, opts, nil),
	}
}

func testLifecycleOptions() lifecycle.Options {
	return lifecycle.Options{
		BasePath:      "/user",
		Port:          8888,
		StartTimeout:  2 * time.Second,
		HTTPTimeout:   2 * time.Second,
		ProbeInterval: 10 * time.Millisecond,
		StopGrace:     time.Second,
		Remove:        true,
	}
}

func testSubServices() map[string]proxy.SubService {
	return map[string]proxy.SubService{
		"marimo": {
			Command: []string{"marimo", "edit", "--port", "{port}", "--base-url", "{baseURL}"},
			Timeout: 30,
			LauncherEntry: proxy.LauncherEntry{
				Title: "Marimo (uv)",
			},
		},
	}
}
