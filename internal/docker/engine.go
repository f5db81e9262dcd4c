package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

// apiClient is the subset of the SDK client the Engine uses.
type apiClient interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

var _ apiClient = (*client.Client)(nil)

// Engine builds images and runs containers through the Docker Engine API.
// Every container it creates carries the labels from BuildLabels.
type Engine struct {
	api    apiClient
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine returns an Engine backed by c. A nil logger means
// slog.Default().
func NewEngine(c *Client, logger *slog.Logger) *Engine {
	return newEngine(c.Inner(), logger)
}

func newEngine(api apiClient, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{api: api, logger: logger, now: time.Now}
}

// RunContainer creates and starts a container for req and returns its ID.
// A leftover container with the same name, typically from a run that was
// not shut down, is removed and the create retried once.
func (e *Engine) RunContainer(ctx context.Context, req model.RunRequest) (string, error) {
	exposed, bindings, err := portSpecs(req.Ports)
	if err != nil {
		return "", model.WrapCLIError(model.ExitInvalidArgument, "invalid port mapping", err)
	}

	cfg := &container.Config{
		Image:        req.Image,
		Env:          req.Env,
		ExposedPorts: exposed,
		Labels:       BuildLabels(req, e.now()),
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		// Lets the packager reach collectors and APIs on the host on Linux
		// too, where the name is not predefined.
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}

	resp, err := e.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, req.Name)
	if cerrdefs.IsConflict(err) {
		e.logger.Warn("replacing existing container", "name", req.Name)
		if rmErr := e.RemoveContainer(ctx, req.Name, true); rmErr != nil {
			return "", rmErr
		}
		resp, err = e.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, req.Name)
	}
	if err != nil {
		return "", model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to create container %q", req.Name), err)
	}
	for _, w := range resp.Warnings {
		e.logger.Warn("docker create warning", "name", req.Name, "warning", w)
	}

	if err := e.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Do not leave a created-but-dead container holding the name.
		_ = e.api.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		code := model.ExitGeneralError
		if len(req.Ports) > 0 {
			code = model.ExitPortUnavailable
		}
		return "", model.WrapCLIError(code, fmt.Sprintf("failed to start container %q", req.Name), err)
	}

	return resp.ID, nil
}

// RemoveContainer removes a container by ID or name. A container that is
// already gone is not an error.
func (e *Engine) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := e.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err == nil || cerrdefs.IsNotFound(err) {
		return nil
	}
	return model.WrapCLIError(model.ExitDockerNotRunning,
		fmt.Sprintf("failed to remove container %q", containerID), err)
}

// portSpecs converts bindings to the SDK's exposed-port set and port map.
func portSpecs(ports []model.PortBinding) (nat.PortSet, nat.PortMap, error) {
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, err
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: strconv.Itoa(p.HostPort)})
	}
	return exposed, bindings, nil
}
