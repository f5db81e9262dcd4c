package apphost

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/distribution/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine records calls instead of talking to Docker.
type fakeEngine struct {
	mu       sync.Mutex
	builds   []model.BuildRequest
	runs     []model.RunRequest
	removed  []string
	buildErr error
	runErr   error
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
	return "0123456789abcdef-" + req.Name, nil
}

func (f *fakeEngine) RemoveContainer(_ context.Context, id string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

// fakeProber fails the first `failures` probes.
type fakeProber struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *fakeProber) Probe(context.Context, Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("not ready")
	}
	return nil
}

type fakePorts map[int]bool

func (f fakePorts) IsPortAvailable(port int, _ string) bool {
	taken, ok := f[port]
	return !ok || !taken
}

var _ Engine = (*fakeEngine)(nil)
var _ Prober = (*fakeProber)(nil)
var _ Prober = (*HTTPProber)(nil)

func TestBuilder_AddContainer(t *testing.T) {
	b := NewBuilder("", discardLogger())
	assert.Equal(t, DefaultProject, b.Project())

	r, err := b.AddContainer("expo")
	require.NoError(t, err)
	assert.Equal(t, "expo", r.Name())
	assert.Equal(t, model.HealthUnknown, r.Health())

	got, ok := b.Resource("expo")
	require.True(t, ok)
	assert.Same(t, r, got)

	_, err = b.AddContainer("expo")
	assert.ErrorIs(t, err, ErrDuplicateResource)

	for _, bad := range []string{"", "-leading", "has space", "slash/name", "MyApp", "trailing-"} {
		_, err := b.AddContainer(bad)
		assert.Error(t, err, bad)
	}

	_, err = b.AddContainer("second")
	require.NoError(t, err)
	names := []string{}
	for _, r := range b.Resources() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"expo", "second"}, names)
	assert.Equal(t, "expo-container/expo:dev", b.ImageTag(r))
	assert.Equal(t, "expo-container-expo", b.ContainerName(r))
}

// TestValidateName verifies accepted names always produce an image tag the
// daemon can parse.
func TestValidateName(t *testing.T) {
	for _, name := range []string{"expo", "my-app", "app_2", "v1.0"} {
		require.NoError(t, ValidateName(name), name)

		b := NewBuilder("mobile", discardLogger())
		r, err := b.AddContainer(name)
		require.NoError(t, err)
		_, err = reference.ParseNormalizedNamed(b.ImageTag(r))
		assert.NoError(t, err, b.ImageTag(r))
	}

	err := ValidateName("MyApp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lowercase")
}

// TestResolveEnvironment_Lazy checks values are evaluated at resolve time,
// not at registration time, and keep declaration order.
func TestResolveEnvironment_Lazy(t *testing.T) {
	b := NewBuilder("p", discardLogger())
	r, err := b.AddContainer("app")
	require.NoError(t, err)

	current := ""
	r.WithEnvironment("STATIC", "1").
		WithEnvironmentFunc("DYNAMIC", func(context.Context) (string, error) { return current, nil })

	env, err := r.ResolveEnvironment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"STATIC=1", "DYNAMIC="}, env)

	current = "https://late.example"
	env, err = r.ResolveEnvironment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"STATIC=1", "DYNAMIC=https://late.example"}, env)

	// Replacing a value keeps its position.
	r.WithEnvironment("STATIC", "2")
	env, err = r.ResolveEnvironment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "STATIC=2", env[0])
}

func TestResolveEnvironment_Error(t *testing.T) {
	r, err := NewBuilder("p", discardLogger()).AddContainer("app")
	require.NoError(t, err)
	boom := errors.New("boom")
	r.WithEnvironmentFunc("X", func(context.Context) (string, error) { return "", boom })

	_, err = r.ResolveEnvironment(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestContainerResource_BuildAndEndpoints(t *testing.T) {
	r, err := NewBuilder("p", discardLogger()).AddContainer("app")
	require.NoError(t, err)

	assert.Nil(t, r.Build(), "no build before WithDockerfile")

	r.WithBuildArg("PORT", "8082").
		WithDockerfile("/ctx", "/assets/Dockerfile").
		WithHTTPEndpoint(9000, 8082, "").
		WithLabel("k", "v")

	spec := r.Build()
	require.NotNil(t, spec)
	assert.Equal(t, "/ctx", spec.ContextDir)
	assert.Equal(t, "/assets/Dockerfile", spec.Dockerfile)
	assert.Equal(t, map[string]string{"PORT": "8082"}, spec.Args)

	ep, ok := r.Endpoint("http")
	require.True(t, ok)
	assert.Equal(t, Endpoint{Name: "http", Scheme: "http", Port: 9000, TargetPort: 8082}, ep)
	assert.Equal(t, "http://127.0.0.1:9000", ep.URL())
	assert.Equal(t, []model.PortBinding{{HostPort: 9000, ContainerPort: 8082, Protocol: "tcp"}}, r.PortBindings())
	assert.Equal(t, map[string]string{"k": "v"}, r.Labels())
	assert.Equal(t, "app:9000", r.String())
}

func TestCommands_StateFollowsHealth(t *testing.T) {
	r, err := NewBuilder("p", discardLogger()).AddContainer("app")
	require.NoError(t, err)

	executed := 0
	r.WithCommand(Command{
		Name: "gated",
		Execute: func(context.Context) model.CommandResult {
			executed++
			return model.Succeeded("done")
		},
		UpdateState: func(s model.HealthStatus) model.CommandState {
			if s == model.HealthHealthy {
				return model.CommandEnabled
			}
			return model.CommandDisabled
		},
	})
	r.WithCommand(Command{Name: "always"})

	state, ok := r.CommandState("gated")
	require.True(t, ok)
	assert.Equal(t, model.CommandDisabled, state)

	res := r.ExecuteCommand(context.Background(), "gated")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrCommandDisabled)
	assert.Zero(t, executed)

	r.SetHealth(model.HealthHealthy)
	state, _ = r.CommandState("gated")
	assert.Equal(t, model.CommandEnabled, state, "state is re-evaluated, not cached")

	res = r.ExecuteCommand(context.Background(), "gated")
	assert.True(t, res.Success)
	assert.Equal(t, 1, executed)

	r.SetHealth(model.HealthDegraded)
	state, _ = r.CommandState("gated")
	assert.Equal(t, model.CommandDisabled, state)

	state, _ = r.CommandState("always")
	assert.Equal(t, model.CommandEnabled, state)

	res = r.ExecuteCommand(context.Background(), "missing")
	assert.ErrorIs(t, res.Err, ErrUnknownCommand)

	names := []string{}
	for _, c := range r.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"always", "gated"}, names)
}

func newRunnerFixture(t *testing.T) (*Builder, *ContainerResource, *fakeEngine) {
	t.Helper()
	b := NewBuilder("proj", discardLogger())
	r, err := b.AddContainer("expo")
	require.NoError(t, err)
	r.WithDockerfile("/ctx", "/x/Dockerfile").
		WithBuildArg("PORT", "8082").
		WithHTTPEndpoint(18082, 8082, "http")
	return b, r, &fakeEngine{}
}

func TestRunner_StartBuildsAndRuns(t *testing.T) {
	b, r, engine := newRunnerFixture(t)
	url := ""
	r.WithEnvironmentFunc("URL", func(context.Context) (string, error) { return url, nil })
	cleaned := 0
	r.WithBuildCleanup(func() error { cleaned++; return nil })

	// Published after registration, before start.
	url = "https://ready.example"

	rn := NewRunner(b, engine, &fakeProber{}, fakePorts{})
	require.NoError(t, rn.Start(context.Background()))

	require.Len(t, engine.builds, 1)
	assert.Equal(t, model.BuildRequest{
		ContextDir: "/ctx",
		Dockerfile: "/x/Dockerfile",
		Tag:        "proj/expo:dev",
		BuildArgs:  map[string]string{"PORT": "8082"},
	}, engine.builds[0])
	assert.Equal(t, 1, cleaned)

	require.Len(t, engine.runs, 1)
	run := engine.runs[0]
	assert.Equal(t, "proj-expo", run.Name)
	assert.Equal(t, "expo", run.Resource)
	assert.Equal(t, "proj/expo:dev", run.Image)
	assert.Equal(t, []string{"URL=https://ready.example"}, run.Env)
	assert.Equal(t, []model.PortBinding{{HostPort: 18082, ContainerPort: 8082, Protocol: "tcp"}}, run.Ports)
	assert.Equal(t, "0123456789abcdef-proj-expo", r.ContainerID())

	require.NoError(t, rn.Stop(context.Background()))
	assert.Equal(t, []string{"0123456789abcdef-proj-expo"}, engine.removed)
	assert.Empty(t, r.ContainerID())
}

func TestRunner_BuildFailureStillCleansUp(t *testing.T) {
	b, r, engine := newRunnerFixture(t)
	engine.buildErr = errors.New("no space left")
	cleaned := 0
	r.WithBuildCleanup(func() error { cleaned++; return nil })

	err := NewRunner(b, engine, nil, nil).Start(context.Background())

	assert.ErrorIs(t, err, engine.buildErr)
	assert.Equal(t, 1, cleaned)
	assert.Empty(t, engine.runs)
	assert.Equal(t, model.HealthUnhealthy, r.Health())
}

// TestRunner_PrebuiltImage verifies a resource with an image set skips the
// build but still releases its prepared build context.
func TestRunner_PrebuiltImage(t *testing.T) {
	b, r, engine := newRunnerFixture(t)
	cleaned := 0
	r.WithBuildCleanup(func() error { cleaned++; return nil })
	r.WithImage("ghcr.io/acme/packager:1.2.0")

	require.NoError(t, NewRunner(b, engine, nil, fakePorts{}).Start(context.Background()))

	assert.Nil(t, r.Build())
	assert.Empty(t, engine.builds)
	assert.Equal(t, 1, cleaned)
	require.Len(t, engine.runs, 1)
	assert.Equal(t, "ghcr.io/acme/packager:1.2.0", engine.runs[0].Image)
}

func TestRunner_PortUnavailable(t *testing.T) {
	b, _, engine := newRunnerFixture(t)

	err := NewRunner(b, engine, nil, fakePorts{18082: true}).Start(context.Background())

	assert.ErrorIs(t, err, ErrPortUnavailable)
	assert.Empty(t, engine.runs)
}

func TestRunner_WaitHealthy(t *testing.T) {
	b, r, engine := newRunnerFixture(t)
	prober := &fakeProber{failures: 2}
	rn := NewRunner(b, engine, prober, nil)
	rn.ProbeInterval = time.Millisecond

	require.NoError(t, rn.Start(context.Background()))
	require.NoError(t, rn.WaitHealthy(context.Background()))

	assert.Equal(t, model.HealthHealthy, r.Health())
	assert.Equal(t, 3, prober.calls)
}

func TestRunner_WaitHealthyExhausted(t *testing.T) {
	b, r, engine := newRunnerFixture(t)
	rn := NewRunner(b, engine, &fakeProber{failures: 1000}, nil)
	rn.ProbeInterval = time.Millisecond
	rn.ProbeAttempts = 3

	require.NoError(t, rn.Start(context.Background()))
	require.NoError(t, rn.WaitHealthy(context.Background()))

	assert.Equal(t, model.HealthUnhealthy, r.Health())
}

func TestRunner_WaitHealthyCancelled(t *testing.T) {
	b, _, engine := newRunnerFixture(t)
	rn := NewRunner(b, engine, &fakeProber{failures: 1000}, nil)
	rn.ProbeInterval = time.Hour

	require.NoError(t, rn.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, rn.WaitHealthy(ctx), context.DeadlineExceeded)
}

func TestHTTPProber(t *testing.T) {
	ready := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultProbePath || !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("packager-status:running"))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	ep := Endpoint{Name: "http", Scheme: "http", Port: port}

	p := NewHTTPProber("")
	assert.Error(t, p.Probe(context.Background(), ep))

	ready = true
	assert.NoError(t, p.Probe(context.Background(), ep))
}
