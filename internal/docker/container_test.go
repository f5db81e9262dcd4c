package docker

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/expo-container/internal/apphost"
	"github.com/mmr-tortoise/expo-container/internal/model"
)

var _ apphost.Engine = (*Engine)(nil)

// fakeAPI records requests and returns canned responses. Build contexts
// are read fully so tests can assert on the archive.
type fakeAPI struct {
	buildOpts   build.ImageBuildOptions
	buildFiles  map[string]string
	buildStream string
	createCalls int
	createErrs  []error
	config      *container.Config
	hostConfig  *container.HostConfig
	name        string
	startErr    error
	removed     []string
	removeErr   error
	listOpts    container.ListOptions
	summaries   []container.Summary
	inspect     container.InspectResponse
	inspectErr  error
}

func (f *fakeAPI) ImageBuild(_ context.Context, body io.Reader, opts build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	f.buildOpts = opts
	f.buildFiles = map[string]string{}
	tr := tar.NewReader(body)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return build.ImageBuildResponse{}, err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return build.ImageBuildResponse{}, err
		}
		f.buildFiles[hdr.Name] = string(data)
	}
	stream := f.buildStream
	if stream == "" {
		stream = `{"stream":"Step 1/1 : FROM node:20-bookworm-slim\n"}` + "\n"
	}
	return build.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(stream))}, nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, cfg *container.Config, hostCfg *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string,
) (container.CreateResponse, error) {
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return container.CreateResponse{}, err
		}
	}
	f.config, f.hostConfig, f.name = cfg, hostCfg, name
	return container.CreateResponse{ID: "c0ffee0123456789"}, nil
}

func (f *fakeAPI) ContainerStart(context.Context, string, container.StartOptions) error {
	return f.startErr
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return f.removeErr
}

func (f *fakeAPI) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	f.listOpts = opts
	return f.summaries, nil
}

func (f *fakeAPI) ContainerInspect(context.Context, string) (container.InspectResponse, error) {
	return f.inspect, f.inspectErr
}

func newTestEngine(api *fakeAPI) *Engine {
	e := newEngine(api, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

// writeContext creates a build context with a package.json, a
// node_modules directory and the given .dockerignore.
func writeContext(t *testing.T, dockerignore string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"app"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "expo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "expo", "index.js"), []byte("x"), 0o644))
	if dockerignore != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".dockerignore"), []byte(dockerignore), 0o644))
	}
	return dir
}

// TestBuildImage_InjectsExternalDockerfile verifies that a Dockerfile
// outside the context is shipped inside the archive under the injected
// name and that .dockerignore is honored.
func TestBuildImage_InjectsExternalDockerfile(t *testing.T) {
	// Arrange
	ctxDir := writeContext(t, "node_modules\n")
	assetsDir := t.TempDir()
	dockerfile := filepath.Join(assetsDir, "Dockerfile")
	require.NoError(t, os.WriteFile(dockerfile, []byte("FROM node:20-bookworm-slim\n"), 0o644))

	api := &fakeAPI{}
	var out strings.Builder

	// Act
	err := newTestEngine(api).BuildImage(context.Background(), model.BuildRequest{
		ContextDir: ctxDir,
		Dockerfile: dockerfile,
		Tag:        "expo-container/expo:dev",
		BuildArgs:  map[string]string{"PORT": "8082"},
		Output:     &out,
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, InjectedDockerfileName, api.buildOpts.Dockerfile)
	assert.Equal(t, []string{"expo-container/expo:dev"}, api.buildOpts.Tags)
	require.NotNil(t, api.buildOpts.BuildArgs["PORT"])
	assert.Equal(t, "8082", *api.buildOpts.BuildArgs["PORT"])
	assert.Equal(t, ManagedByValue, api.buildOpts.Labels[LabelManagedBy])

	assert.Equal(t, "FROM node:20-bookworm-slim\n", api.buildFiles[InjectedDockerfileName])
	assert.Contains(t, api.buildFiles, "package.json")
	for name := range api.buildFiles {
		assert.False(t, strings.HasPrefix(name, "node_modules"), "ignored path %s was sent", name)
	}
	assert.Contains(t, out.String(), "Step 1/1")
}

// TestBuildImage_DockerfileInsideContext verifies no injection happens when
// the Dockerfile is already part of the context.
func TestBuildImage_DockerfileInsideContext(t *testing.T) {
	ctxDir := writeContext(t, "")
	require.NoError(t, os.MkdirAll(filepath.Join(ctxDir, "docker"), 0o755))
	dockerfile := filepath.Join(ctxDir, "docker", "Dockerfile")
	require.NoError(t, os.WriteFile(dockerfile, []byte("FROM scratch\n"), 0o644))
	api := &fakeAPI{}

	err := newTestEngine(api).BuildImage(context.Background(), model.BuildRequest{
		ContextDir: ctxDir,
		Dockerfile: dockerfile,
		Tag:        "t:dev",
	})

	require.NoError(t, err)
	assert.Equal(t, "docker/Dockerfile", api.buildOpts.Dockerfile)
	assert.NotContains(t, api.buildFiles, InjectedDockerfileName)
	assert.Contains(t, api.buildFiles, "node_modules/expo/index.js")
}

// TestBuildImage_StreamError verifies that an error message in the build
// stream becomes an ExitBuildFailed error.
func TestBuildImage_StreamError(t *testing.T) {
	ctxDir := writeContext(t, "")
	api := &fakeAPI{buildStream: `{"errorDetail":{"message":"npm ERR! 404"},"error":"npm ERR! 404"}` + "\n"}
	dockerfile := filepath.Join(t.TempDir(), "Dockerfile")
	require.NoError(t, os.WriteFile(dockerfile, []byte("FROM scratch\n"), 0o644))

	err := newTestEngine(api).BuildImage(context.Background(), model.BuildRequest{
		ContextDir: ctxDir,
		Dockerfile: dockerfile,
		Tag:        "t:dev",
	})

	require.Error(t, err)
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitBuildFailed, cliErr.Code)
	assert.Contains(t, err.Error(), "npm ERR! 404")
}

func TestBuildImage_MissingContext(t *testing.T) {
	api := &fakeAPI{}

	err := newTestEngine(api).BuildImage(context.Background(), model.BuildRequest{
		ContextDir: filepath.Join(t.TempDir(), "missing"),
		Tag:        "t:dev",
	})

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitBuildFailed, cliErr.Code)
	assert.Nil(t, api.buildFiles, "nothing may reach the daemon")
}

// TestRunContainer verifies the create request carries the environment,
// the port mapping, and the managed labels.
func TestRunContainer(t *testing.T) {
	api := &fakeAPI{}

	id, err := newTestEngine(api).RunContainer(context.Background(), model.RunRequest{
		Name:     "expo-container-expo",
		Resource: "expo",
		Image:    "expo-container/expo:dev",
		Env:      []string{"EXPO_DEV_MODE=true", "PORT=8082"},
		Ports:    []model.PortBinding{{HostPort: 18082, ContainerPort: 8082}},
	})

	require.NoError(t, err)
	assert.Equal(t, "c0ffee0123456789", id)
	assert.Equal(t, "expo-container-expo", api.name)
	assert.Equal(t, "expo-container/expo:dev", api.config.Image)
	assert.Equal(t, []string{"EXPO_DEV_MODE=true", "PORT=8082"}, api.config.Env)

	port := nat.Port("8082/tcp")
	assert.Contains(t, api.config.ExposedPorts, port)
	assert.Equal(t, []nat.PortBinding{{HostPort: "18082"}}, api.hostConfig.PortBindings[port])

	assert.Equal(t, "expo", api.config.Labels[LabelResource])
	assert.Equal(t, "18082", api.config.Labels["expo.port.8082"])
	assert.Equal(t, "2026-03-01T00:00:00Z", api.config.Labels[LabelCreatedAt])
}

// TestRunContainer_ReplacesStaleContainer verifies a name conflict removes
// the old container and retries once.
func TestRunContainer_ReplacesStaleContainer(t *testing.T) {
	api := &fakeAPI{createErrs: []error{cerrdefs.ErrConflict}}

	_, err := newTestEngine(api).RunContainer(context.Background(), model.RunRequest{
		Name: "expo-container-expo", Resource: "expo", Image: "img",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, api.createCalls)
	assert.Equal(t, []string{"expo-container-expo"}, api.removed)
}

// TestRunContainer_StartFailureRemovesContainer verifies a container that
// failed to start, typically on a taken port, does not linger.
func TestRunContainer_StartFailureRemovesContainer(t *testing.T) {
	api := &fakeAPI{startErr: errors.New("port is already allocated")}

	_, err := newTestEngine(api).RunContainer(context.Background(), model.RunRequest{
		Name: "n", Resource: "expo", Image: "img",
		Ports: []model.PortBinding{{HostPort: 8082, ContainerPort: 8082}},
	})

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitPortUnavailable, cliErr.Code)
	assert.Equal(t, []string{"c0ffee0123456789"}, api.removed)
}

func TestRemoveContainer_NotFoundIsNotAnError(t *testing.T) {
	api := &fakeAPI{removeErr: cerrdefs.ErrNotFound}

	assert.NoError(t, newTestEngine(api).RemoveContainer(context.Background(), "gone", true))
}

// TestListManagedContainers verifies the label filters sent to the daemon
// and the mapping of API summaries.
func TestListManagedContainers(t *testing.T) {
	api := &fakeAPI{summaries: []container.Summary{
		{
			ID:     "bbb",
			Names:  []string{"/proj-web"},
			Image:  "proj/web:dev",
			State:  "exited",
			Labels: map[string]string{LabelManagedBy: ManagedByValue, LabelResource: "web"},
		},
		{
			ID:     "aaa",
			Names:  []string{"/proj-expo"},
			Image:  "proj/expo:dev",
			State:  "running",
			Labels: map[string]string{LabelManagedBy: ManagedByValue, LabelResource: "expo"},
		},
	}}

	got, err := newTestEngine(api).ListManagedContainers(context.Background(), "")

	require.NoError(t, err)
	assert.True(t, api.listOpts.All, "stopped containers must be listed too")
	labels := api.listOpts.Filters.Get("label")
	sort.Strings(labels)
	assert.Equal(t, []string{"expo.managed-by=expo-container"}, labels)

	require.Len(t, got, 2)
	assert.Equal(t, "proj-expo", got[0].ContainerName)
	assert.Equal(t, "expo", got[0].Resource)
	assert.Equal(t, "running", got[0].Status)
	assert.Equal(t, "proj-web", got[1].ContainerName)
}

func TestGroupContainersByResource(t *testing.T) {
	groups := GroupContainersByResource([]model.ContainerInfo{
		{ContainerID: "1", Resource: "expo"},
		{ContainerID: "2", Resource: "expo"},
		{ContainerID: "3", Resource: "api"},
		{ContainerID: "4"},
	})

	require.Len(t, groups, 2)
	assert.Len(t, groups["expo"], 2)
	assert.Len(t, groups["api"], 1)
}

// TestRemoveResource_None verifies `down` on an unknown resource reports
// ExitResourceNotFound without touching the daemon.
func TestRemoveResource_None(t *testing.T) {
	api := &fakeAPI{}

	n, err := newTestEngine(api).RemoveResource(context.Background(), "expo")

	assert.Zero(t, n)
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitResourceNotFound, cliErr.Code)
	assert.Empty(t, api.removed)
}

func TestRemoveResource(t *testing.T) {
	api := &fakeAPI{summaries: []container.Summary{
		{ID: "aaa", Names: []string{"/proj-expo"}, Labels: map[string]string{LabelResource: "expo"}},
	}}

	n, err := newTestEngine(api).RemoveResource(context.Background(), "expo")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"aaa"}, api.removed)
	labels := api.listOpts.Filters.Get("label")
	sort.Strings(labels)
	assert.Equal(t, []string{"expo.managed-by=expo-container", "expo.resource=expo"}, labels)
}

func TestHealthFromState(t *testing.T) {
	tests := []struct {
		name  string
		state container.State
		want  model.HealthStatus
	}{
		{name: "stopped", state: container.State{Running: false}, want: model.HealthUnhealthy},
		{name: "no healthcheck", state: container.State{Running: true}, want: model.HealthHealthy},
		{name: "starting", state: container.State{Running: true, Health: &container.Health{Status: "starting"}}, want: model.HealthUnknown},
		{name: "healthy", state: container.State{Running: true, Health: &container.Health{Status: "healthy"}}, want: model.HealthHealthy},
		{name: "unhealthy", state: container.State{Running: true, Health: &container.Health{Status: "unhealthy"}}, want: model.HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, healthFromState(&tt.state))
		})
	}
}

func TestContainerHealth(t *testing.T) {
	api := &fakeAPI{inspect: container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{Running: true}},
	}}

	got, err := newTestEngine(api).ContainerHealth(context.Background(), "aaa")

	require.NoError(t, err)
	assert.Equal(t, model.HealthHealthy, got)

	api.inspectErr = cerrdefs.ErrNotFound
	_, err = newTestEngine(api).ContainerHealth(context.Background(), "aaa")
	assert.Error(t, err)
}
