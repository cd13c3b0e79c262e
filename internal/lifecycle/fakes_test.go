package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/nebula/internal/network"
	"github.com/Iron-Ham/nebula/internal/profile"
	"github.com/Iron-Ham/nebula/internal/runtime"
)

// fakeBackend is a test double for runtime.Backend that also serves as a
// network driver.
type fakeBackend struct {
	mu sync.Mutex

	pullErr  error
	startErr error
	stopErr  error

	// pullBlock, when non-nil, makes Pull wait on it while ignoring ctx.
	pullBlock chan struct{}

	networkExists bool

	pulls, creates, starts, stops, removes atomic.Int32
	connects, disconnects                  atomic.Int32
	specs                                  []runtime.Spec
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{networkExists: true}
}

func (f *fakeBackend) Name() string { return "docker" }

func (f *fakeBackend) Pull(ctx context.Context, image string) error {
	f.pulls.Add(1)
	if f.pullBlock != nil {
		<-f.pullBlock
	}
	return f.pullErr
}

func (f *fakeBackend) Create(ctx context.Context, spec runtime.Spec) (runtime.Unit, error) {
	f.creates.Add(1)
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return runtime.Unit{ID: "id-" + spec.Name, Name: spec.Name}, nil
}

func (f *fakeBackend) Start(ctx context.Context, unit runtime.Unit) (runtime.Unit, error) {
	f.starts.Add(1)
	return unit, f.startErr
}

func (f *fakeBackend) Stop(ctx context.Context, unit runtime.Unit, grace time.Duration) error {
	f.stops.Add(1)
	return f.stopErr
}

func (f *fakeBackend) Remove(ctx context.Context, unit runtime.Unit) error {
	f.removes.Add(1)
	return nil
}

func (f *fakeBackend) NetworkExists(context.Context, string) (bool, error) {
	return f.networkExists, nil
}

func (f *fakeBackend) Connect(context.Context, string, string, string) error {
	f.connects.Add(1)
	return nil
}

func (f *fakeBackend) Disconnect(context.Context, string, string) error {
	f.disconnects.Add(1)
	return nil
}

func (f *fakeBackend) lastSpec() runtime.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[len(f.specs)-1]
}

// fakeProber answers from a function, counting attempts.
type fakeProber struct {
	attempts atomic.Int32
	fn       func(attempt int32, url string) error
}

func (p *fakeProber) Probe(ctx context.Context, url string) error {
	n := p.attempts.Add(1)
	if p.fn == nil {
		return nil
	}
	return p.fn(n, url)
}

func testProfile() profile.Profile {
	return profile.Profile{
		Slug:       "uv-lab-small",
		Image:      "local/uv-lab:latest",
		CPULimit:   2,
		MemLimit:   4 << 30,
		DefaultURL: "/lab",
		Backend:    profile.BackendDocker,
	}
}

func testOptions() Options {
	return Options{
		BasePath:      "/user",
		Port:          8888,
		StartTimeout:  time.Second,
		HTTPTimeout:   time.Second,
		ProbeInterval: 10 * time.Millisecond,
		StopGrace:     time.Second,
		Env:           map[string]string{"GRANT_SUDO": "yes"},
		VolumeName:    func(user string) string { return "jupyterhub-user-" + user },
		VolumeMount:   "/home/nebula",
		Remove:        true,
	}
}

func newTestManager(b *fakeBackend, p runtime.Prober, opts Options) *Manager {
	binding := network.NewBinding(b, "jupyterhub-net", opts.Port, nil)
	return NewManager(map[string]Runtime{
		profile.BackendDocker: {Backend: b, Network: binding},
	}, p, opts, nil)
}
