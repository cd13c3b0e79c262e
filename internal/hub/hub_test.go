package hub

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/nebula/internal/config"
	"github.com/Iron-Ham/nebula/internal/errors"
	"github.com/Iron-Ham/nebula/internal/event"
	"github.com/Iron-Ham/nebula/internal/lifecycle"
	"github.com/Iron-Ham/nebula/internal/logging"
	"github.com/Iron-Ham/nebula/internal/network"
	"github.com/Iron-Ham/nebula/internal/profile"
	"github.com/Iron-Ham/nebula/internal/registry"
	"github.com/Iron-Ham/nebula/internal/runtime"
)

type nopBackend struct {
	specs chan runtime.Spec
}

func (b *nopBackend) Name() string                       { return "docker" }
func (b *nopBackend) Pull(context.Context, string) error { return nil }
func (b *nopBackend) Create(_ context.Context, spec runtime.Spec) (runtime.Unit, error) {
	select {
	case b.specs <- spec:
	default:
	}
	return runtime.Unit{ID: "id-" + spec.Name, Name: spec.Name}, nil
}
func (b *nopBackend) Start(_ context.Context, u runtime.Unit) (runtime.Unit, error) { return u, nil }
func (b *nopBackend) Stop(context.Context, runtime.Unit, time.Duration) error       { return nil }
func (b *nopBackend) Remove(context.Context, runtime.Unit) error                    { return nil }
func (b *nopBackend) NetworkExists(context.Context, string) (bool, error)           { return true, nil }
func (b *nopBackend) Connect(context.Context, string, string, string) error         { return nil }
func (b *nopBackend) Disconnect(context.Context, string, string) error              { return nil }

type readyProber struct{}

func (readyProber) Probe(context.Context, string) error { return nil }

func testHub(t *testing.T, cfg *config.Config) (*Hub, *nopBackend) {
	t.Helper()
	catalog, err := profile.Load(cfg)
	if err != nil {
		t.Fatalf("profile.Load() error = %v", err)
	}
	b := &nopBackend{specs: make(chan runtime.Spec, 8)}
	runtimes := map[string]lifecycle.Runtime{
		profile.BackendDocker: {Backend: b, Network: network.NewBinding(b, cfg.Network.Name, cfg.Spawner.Port, nil)},
	}
	h, err := BuildWith(cfg, catalog, runtimes, readyProber{}, nil)
	if err != nil {
		t.Fatalf("BuildWith() error = %v", err)
	}
	return h, b
}

func TestBuildWith_AppliesConfig(t *testing.T) {
	cfg := config.Default()
	h, b := testHub(t, cfg)

	handle, err := h.Registry.Spawn(context.Background(), registry.SpawnRequest{User: "alice", Name: "gpu"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if handle.Profile != cfg.Profiles[0].Slug {
		t.Errorf("Profile = %q, want first configured profile %q", handle.Profile, cfg.Profiles[0].Slug)
	}

	spec := <-b.specs
	if spec.Name != "jupyter-alice-gpu" {
		t.Errorf("unit name = %q, want jupyter-alice-gpu", spec.Name)
	}
	if spec.Volume != "jupyterhub-user-alice" || spec.VolumeMount != "/home/nebula" {
		t.Errorf("volume = %s:%s", spec.Volume, spec.VolumeMount)
	}
	if spec.Env["GRANT_SUDO"] != "yes" {
		t.Errorf("env GRANT_SUDO = %q, want yes", spec.Env["GRANT_SUDO"])
	}
	if spec.Port != 8888 {
		t.Errorf("port = %d, want 8888", spec.Port)
	}

	route, ok := h.Router.Lookup("/user/alice/gpu/")
	if !ok {
		t.Fatal("no route for session")
	}
	if _, ok := route.Sub("marimo"); !ok {
		t.Error("default marimo sub-service not registered")
	}
}

func TestBuildWith_NamedServersDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Hub.AllowNamedServers = false
	h, _ := testHub(t, cfg)

	_, err := h.Registry.Spawn(context.Background(), registry.SpawnRequest{User: "alice", Name: "gpu"})
	if !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Spawn(named) error = %v, want ErrForbidden", err)
	}
}

func TestBuildWith_MissingRuntime(t *testing.T) {
	cfg := config.Default()
	cfg.Profiles[1].Backend = profile.BackendDagger
	catalog, err := profile.Load(cfg)
	if err != nil {
		t.Fatal(err)
	}
	b := &nopBackend{}
	_, err = BuildWith(cfg, catalog, map[string]lifecycle.Runtime{
		profile.BackendDocker: {Backend: b, Network: network.NewBinding(b, "n", 8888, nil)},
	}, readyProber{}, nil)
	if !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Errorf("BuildWith() error = %v, want ErrBackendUnavailable", err)
	}
}

func TestListenAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://:8000", want: ":8000"},
		{in: "http://127.0.0.1:9090", want: "127.0.0.1:9090"},
		{in: "http:///path", wantErr: true},
		{in: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ListenAddr(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ListenAddr(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ListenAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestRun_StopsSessionsOnShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Hub.BindURL = "http://" + freePort(t)
	h, _ := testHub(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	if _, err := h.Registry.Spawn(context.Background(), registry.SpawnRequest{User: "alice"}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if n := len(h.Registry.ListActive()); n != 0 {
		t.Errorf("%d sessions left after shutdown", n)
	}
	if n := h.Router.Len(); n != 0 {
		t.Errorf("%d routes left after shutdown", n)
	}
}

func TestAuditLog(t *testing.T) {
	var buf bytes.Buffer
	handler := auditLog(logging.NewWriterLogger(&buf, "info"))
	subject := event.Subject{SessionID: "s-1", User: "alice", Name: "gpu", Profile: "uv-lab-large"}

	handler(event.NewSessionRunningEvent(subject, "/user/alice/gpu/", "jupyter-alice-gpu:8888", 2*time.Second))
	handler(event.NewSessionStoppedEvent(subject, event.ReasonCulled, nil))

	out := buf.String()
	for _, want := range []string{`"event":"session.running"`, `"prefix":"/user/alice/gpu/"`, `"reason":"culled"`, `"session_id":"s-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %s:\n%s", want, out)
		}
	}
}
