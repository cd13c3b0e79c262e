package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/nebula/internal/errors"
)

// Compile-time interface assertions.
var (
	_ Backend = (*Docker)(nil)
	_ Backend = (*Dagger)(nil)
)

// fakeCLI records docker invocations and answers from a table keyed by the
// first one or two arguments.
type fakeCLI struct {
	mu        sync.Mutex
	calls     [][]string
	responses map[string]fakeResponse
}

type fakeResponse struct {
	out string
	err error
}

func newFakeCLI() *fakeCLI {
	return &fakeCLI{responses: make(map[string]fakeResponse)}
}

func (f *fakeCLI) on(cmd string, out string, err error) {
	f.responses[cmd] = fakeResponse{out: out, err: err}
}

func (f *fakeCLI) run(_ context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)

	keys := []string{args[0]}
	if len(args) > 1 {
		keys = append([]string{args[0] + " " + args[1]}, keys...)
	}
	for _, k := range keys {
		if r, ok := f.responses[k]; ok {
			return []byte(r.out), r.err
		}
	}
	return nil, nil
}

func (f *fakeCLI) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

func notFound(what string) error {
	return &CLIError{Args: []string{what}, ExitCode: 1, Stderr: "Error: No such container: x"}
}

func TestCreateCmdArgs(t *testing.T) {
	spec := Spec{
		Name:        "jupyter-alice",
		Image:       "local/uv-lab:latest",
		CPULimit:    2,
		MemLimit:    4 << 30,
		Env:         map[string]string{"GRANT_SUDO": "yes", "A": "1"},
		Args:        []string{"--ServerApp.ip=0.0.0.0"},
		Volume:      "jupyterhub-user-alice",
		VolumeMount: "/home/nebula",
		Port:        8888,
		Labels:      map[string]string{LabelUser: "alice"},
	}

	got := strings.Join(createCmdArgs(spec), " ")
	want := "create --name jupyter-alice --label nebula.user=alice --cpus 2 --memory 4294967296 " +
		"-v jupyterhub-user-alice:/home/nebula -e A=1 -e GRANT_SUDO=yes --expose 8888 " +
		"local/uv-lab:latest --ServerApp.ip=0.0.0.0"
	if got != want {
		t.Errorf("createCmdArgs() =\n  %s\nwant\n  %s", got, want)
	}
}

func TestCreateCmdArgs_Minimal(t *testing.T) {
	got := createCmdArgs(Spec{Name: "n", Image: "img", CPULimit: 0.5})
	want := []string{"create", "--name", "n", "--cpus", "0.5", "img"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("createCmdArgs() = %v, want %v", got, want)
	}
}

func TestDocker_Pull(t *testing.T) {
	t.Run("present locally", func(t *testing.T) {
		cli := newFakeCLI()
		d := &Docker{run: cli.run}
		if err := d.Pull(context.Background(), "local/uv-lab:latest"); err != nil {
			t.Fatalf("Pull() error = %v", err)
		}
		if cmds := cli.commands(); len(cmds) != 1 {
			t.Errorf("commands = %v, want only image inspect", cmds)
		}
	})

	t.Run("pull failure", func(t *testing.T) {
		cli := newFakeCLI()
		cli.on("image inspect", "", notFound("image"))
		cli.on("pull", "", &CLIError{Args: []string{"pull"}, ExitCode: 1, Stderr: "manifest unknown"})
		d := &Docker{run: cli.run}

		err := d.Pull(context.Background(), "local/missing:latest")
		if !errors.Is(err, errors.ErrImagePull) {
			t.Errorf("Pull() error = %v, want ErrImagePull", err)
		}
	})
}

func TestDocker_Create(t *testing.T) {
	cli := newFakeCLI()
	cli.on("rm", "", notFound("rm"))
	cli.on("create", "abc123\n", nil)
	d := &Docker{run: cli.run}

	unit, err := d.Create(context.Background(), Spec{Name: "jupyter-alice", Image: "img"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if unit.ID != "abc123" || unit.Name != "jupyter-alice" {
		t.Errorf("Create() = %+v", unit)
	}
	cmds := cli.commands()
	if len(cmds) != 2 || cmds[0] != "rm -f jupyter-alice" {
		t.Errorf("commands = %v, want stale removal then create", cmds)
	}
}

func TestDocker_StopRemoveIdempotent(t *testing.T) {
	cli := newFakeCLI()
	cli.on("stop", "", notFound("stop"))
	cli.on("rm", "", notFound("rm"))
	d := &Docker{run: cli.run}
	unit := Unit{ID: "abc", Name: "jupyter-alice"}

	if err := d.Stop(context.Background(), unit, 10*time.Second); err != nil {
		t.Errorf("Stop() on missing unit error = %v", err)
	}
	if err := d.Remove(context.Background(), unit); err != nil {
		t.Errorf("Remove() on missing unit error = %v", err)
	}
	if cmds := cli.commands(); cmds[0] != "stop -t 10 abc" {
		t.Errorf("stop command = %q", cmds[0])
	}
}

func TestDocker_StopError(t *testing.T) {
	cli := newFakeCLI()
	cli.on("stop", "", &CLIError{Args: []string{"stop"}, ExitCode: 1, Stderr: "daemon busy"})
	d := &Docker{run: cli.run}

	if err := d.Stop(context.Background(), Unit{Name: "x"}, time.Second); err == nil {
		t.Error("Stop() should surface non-not-found failures")
	}
}

func TestDocker_Network(t *testing.T) {
	cli := newFakeCLI()
	d := &Docker{run: cli.run}
	ctx := context.Background()

	ok, err := d.NetworkExists(ctx, "jupyterhub-net")
	if err != nil || !ok {
		t.Errorf("NetworkExists() = %v, %v; want true", ok, err)
	}

	cli.on("network inspect", "", &CLIError{Args: []string{"network"}, ExitCode: 1, Stderr: "Error: network jupyterhub-net not found"})
	ok, err = d.NetworkExists(ctx, "jupyterhub-net")
	if err != nil || ok {
		t.Errorf("NetworkExists() missing = %v, %v; want false, nil", ok, err)
	}

	if err := d.Connect(ctx, "jupyterhub-net", "abc", "jupyter-alice"); err != nil {
		t.Errorf("Connect() error = %v", err)
	}
	cli.on("network disconnect", "", &CLIError{Args: []string{"network"}, ExitCode: 1, Stderr: "container abc is not connected to network"})
	if err := d.Disconnect(ctx, "jupyterhub-net", "abc"); err != nil {
		t.Errorf("Disconnect() of unconnected container error = %v", err)
	}

	cmds := cli.commands()
	if !contains(cmds, "network connect --alias jupyter-alice jupyterhub-net abc") {
		t.Errorf("commands = %v, want aliased connect", cmds)
	}
}

func TestDocker_ConnectAlreadyConnected(t *testing.T) {
	cli := newFakeCLI()
	cli.on("network connect", "", &CLIError{Args: []string{"network"}, ExitCode: 1, Stderr: "endpoint with name x already exists in network"})
	d := &Docker{run: cli.run}

	if err := d.Connect(context.Background(), "net", "abc", ""); err != nil {
		t.Errorf("Connect() when already connected error = %v", err)
	}
}

func TestCLIError(t *testing.T) {
	err := &CLIError{Args: []string{"pull", "img"}, ExitCode: 1, Stderr: "denied\n"}
	if got, want := err.Error(), "docker pull: exit code 1: denied"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if isNotFound(fmt.Errorf("wrapped: %w", notFound("x"))) != true {
		t.Error("isNotFound should see through wrapping")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
