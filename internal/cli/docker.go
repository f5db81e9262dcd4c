package cli

import (
	"context"
	"log/slog"

	"github.com/mmr-tortoise/expo-container/internal/apphost"
	"github.com/mmr-tortoise/expo-container/internal/docker"
	"github.com/mmr-tortoise/expo-container/internal/model"
)

// dockerEngine is what the commands need from internal/docker.
type dockerEngine interface {
	apphost.Engine
	ListManagedContainers(ctx context.Context, resource string) ([]model.ContainerInfo, error)
	RemoveResource(ctx context.Context, resource string) (int, error)
	ContainerHealth(ctx context.Context, containerID string) (model.HealthStatus, error)
}

var _ dockerEngine = (*docker.Engine)(nil)

// connectDocker connects to the daemon and checks it answers. Tests swap
// it for a fake.
var connectDocker = func(ctx context.Context, logger *slog.Logger) (dockerEngine, func() error, error) {
	c, err := docker.NewClient()
	if err != nil {
		return nil, nil, err
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	logger.Debug("connected to Docker daemon")
	return docker.NewEngine(c, logger), c.Close, nil
}
