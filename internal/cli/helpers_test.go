package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/mmr-tortoise/expo-container/internal/apphost"
	"github.com/mmr-tortoise/expo-container/internal/model"
	"github.com/mmr-tortoise/expo-container/internal/port"
)

// fakeEngine is an in-memory dockerEngine.
type fakeEngine struct {
	mu sync.Mutex

	containers []model.ContainerInfo
	listErr    error
	buildErr   error
	runErr     error
	health     model.HealthStatus

	builds  []model.BuildRequest
	runs    []model.RunRequest
	removed []string
}

func (f *fakeEngine) BuildImage(_ context.Context, req model.BuildRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, req)
	return f.buildErr
}

func (f *fakeEngine) RunContainer(_ context.Context, req model.RunRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return "", f.runErr
	}
	f.runs = append(f.runs, req)
	id := fmt.Sprintf("%064d", len(f.runs))
	f.containers = append(f.containers, model.ContainerInfo{
		ContainerID:   id,
		ContainerName: req.Name,
		Resource:      req.Resource,
		Image:         req.Image,
		Status:        "running",
		Labels:        req.Labels,
	})
	return id, nil
}

func (f *fakeEngine) RemoveContainer(_ context.Context, id string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	kept := f.containers[:0]
	for _, c := range f.containers {
		if c.ContainerID != id {
			kept = append(kept, c)
		}
	}
	f.containers = kept
	return nil
}

func (f *fakeEngine) ListManagedContainers(_ context.Context, resource string) ([]model.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.ContainerInfo
	for _, c := range f.containers {
		if resource == "" || c.Resource == resource {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeEngine) RemoveResource(ctx context.Context, resource string) (int, error) {
	containers, err := f.ListManagedContainers(ctx, resource)
	if err != nil {
		return 0, err
	}
	if len(containers) == 0 {
		return 0, model.NewCLIError(model.ExitResourceNotFound, "no managed containers for resource "+resource)
	}
	for _, c := range containers {
		_ = f.RemoveContainer(ctx, c.ContainerID, true)
	}
	return len(containers), nil
}

func (f *fakeEngine) ContainerHealth(context.Context, string) (model.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.health == "" {
		return model.HealthHealthy, nil
	}
	return f.health, nil
}

// freePorts reports every port except the listed ones as available.
type freePorts map[int]bool

func (p freePorts) IsPortAvailable(port int, _ string) bool { return !p[port] }

type readyProber struct{}

func (readyProber) Probe(context.Context, apphost.Endpoint) error { return nil }

// stubDocker routes connectDocker, the port checker, and the prober to
// fakes for the duration of the test.
func stubDocker(t *testing.T, engine *fakeEngine, busy ...int) {
	t.Helper()
	origConnect, origPorts, origProber := connectDocker, newPortChecker, newProber
	connectDocker = func(context.Context, *slog.Logger) (dockerEngine, func() error, error) {
		return engine, func() error { return nil }, nil
	}
	ports := freePorts{}
	for _, p := range busy {
		ports[p] = true
	}
	newPortChecker = func() port.Checker { return ports }
	newProber = func() apphost.Prober { return readyProber{} }
	t.Cleanup(func() {
		connectDocker, newPortChecker, newProber = origConnect, origPorts, origProber
	})
}

// executeCommand runs the root command with args and returns stdout and
// stderr.
func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func exitCodeOf(t *testing.T, err error) model.ExitCode {
	t.Helper()
	code, _, _ := describeError(err)
	return code
}
