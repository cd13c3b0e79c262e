package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/nebula/internal/errors"
)

// execFunc runs the docker CLI with args and returns its stdout.
type execFunc func(ctx context.Context, args ...string) ([]byte, error)

// Docker implements Backend and the network driver using the docker CLI.
type Docker struct {
	run execFunc
}

// NewDocker creates a Docker backend using the docker binary on PATH.
func NewDocker() *Docker {
	return &Docker{run: dockerCLI}
}

// CLIError is a failed docker invocation.
type CLIError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CLIError) Error() string {
	return fmt.Sprintf("docker %s: exit code %d: %s", e.Args[0], e.ExitCode, strings.TrimSpace(e.Stderr))
}

func dockerCLI(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CLIError{Args: args, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("%w: %w", errors.ErrBackendUnavailable, err)
	}
	return stdout.Bytes(), nil
}

// isNotFound reports whether err is docker complaining about a missing object.
func isNotFound(err error) bool {
	var cliErr *CLIError
	if !errors.As(err, &cliErr) {
		return false
	}
	msg := strings.ToLower(cliErr.Stderr)
	return strings.Contains(msg, "no such") || strings.Contains(msg, "not found") || strings.Contains(msg, "is not connected")
}

// Name implements Backend.
func (d *Docker) Name() string { return "docker" }

// Preflight checks that the docker daemon is reachable.
func (d *Docker) Preflight(ctx context.Context) error {
	if _, err := d.run(ctx, "info", "--format", "{{.ServerVersion}}"); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrBackendUnavailable, err)
	}
	return nil
}

// Pull implements Backend. Images already present locally are not pulled,
// so locally built images such as local/uv-lab:latest work offline.
func (d *Docker) Pull(ctx context.Context, image string) error {
	if _, err := d.run(ctx, "image", "inspect", "--format", "{{.Id}}", image); err == nil {
		return nil
	}
	if _, err := d.run(ctx, "pull", image); err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrImagePull, image, err)
	}
	return nil
}

// createCmdArgs returns the docker CLI arguments for a create invocation.
func createCmdArgs(spec Spec) []string {
	args := []string{"create", "--name", spec.Name}

	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	if spec.CPULimit > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.CPULimit, 'f', -1, 64))
	}
	if spec.MemLimit > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.MemLimit, 10))
	}
	if spec.Volume != "" {
		args = append(args, "-v", spec.Volume+":"+spec.VolumeMount)
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	if spec.Port > 0 {
		args = append(args, "--expose", strconv.Itoa(spec.Port))
	}

	args = append(args, spec.Image)
	args = append(args, spec.Args...)
	return args
}

// Create implements Backend. A leftover unit with the same name from an
// earlier hub process is removed first.
func (d *Docker) Create(ctx context.Context, spec Spec) (Unit, error) {
	if _, err := d.run(ctx, "rm", "-f", spec.Name); err != nil && !isNotFound(err) {
		return Unit{}, errors.Wrapf(err, "failed to remove stale unit %s", spec.Name)
	}

	out, err := d.run(ctx, createCmdArgs(spec)...)
	if err != nil {
		return Unit{}, errors.Wrapf(err, "failed to create unit %s", spec.Name)
	}
	return Unit{ID: strings.TrimSpace(string(out)), Name: spec.Name}, nil
}

// Start implements Backend.
func (d *Docker) Start(ctx context.Context, unit Unit) (Unit, error) {
	if _, err := d.run(ctx, "start", unit.ref()); err != nil {
		return unit, errors.Wrapf(err, "failed to start unit %s", unit.Name)
	}
	return unit, nil
}

// Stop implements Backend.
func (d *Docker) Stop(ctx context.Context, unit Unit, grace time.Duration) error {
	secs := strconv.Itoa(int(grace / time.Second))
	if _, err := d.run(ctx, "stop", "-t", secs, unit.ref()); err != nil && !isNotFound(err) {
		return errors.Wrapf(err, "failed to stop unit %s", unit.Name)
	}
	return nil
}

// Remove implements Backend.
func (d *Docker) Remove(ctx context.Context, unit Unit) error {
	if _, err := d.run(ctx, "rm", "-f", unit.ref()); err != nil && !isNotFound(err) {
		return errors.Wrapf(err, "failed to remove unit %s", unit.Name)
	}
	return nil
}

// NetworkExists reports whether the named network exists.
func (d *Docker) NetworkExists(ctx context.Context, name string) (bool, error) {
	if _, err := d.run(ctx, "network", "inspect", "--format", "{{.Name}}", name); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Connect joins container to network under alias.
func (d *Docker) Connect(ctx context.Context, network, container, alias string) error {
	args := []string{"network", "connect"}
	if alias != "" {
		args = append(args, "--alias", alias)
	}
	args = append(args, network, container)
	if _, err := d.run(ctx, args...); err != nil {
		var cliErr *CLIError
		if errors.As(err, &cliErr) && strings.Contains(cliErr.Stderr, "already exists") {
			return nil
		}
		return err
	}
	return nil
}

// Disconnect removes container from network. A container that is gone or
// not connected is not an error.
func (d *Docker) Disconnect(ctx context.Context, network, container string) error {
	if _, err := d.run(ctx, "network", "disconnect", "-f", network, container); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// ref prefers the unit ID and falls back to its name.
func (u Unit) ref() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Name
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
