// container.go discovers and inspects the containers this tool manages.
// Everything is derived from Docker labels; there is no state file.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

// ListManagedContainers returns every managed container, stopped ones
// included. A non-empty resource narrows the result to that resource.
// Filtering happens on the daemon side.
func (e *Engine) ListManagedContainers(ctx context.Context, resource string) ([]model.ContainerInfo, error) {
	args := filters.NewArgs()
	for _, kv := range FilterLabels(resource) {
		args.Add("label", kv)
	}

	containers, err := e.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "failed to list Docker containers", err)
	}

	result := make([]model.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		result = append(result, containerToInfo(c))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ContainerName < result[j].ContainerName })
	return result, nil
}

// containerToInfo maps an API summary to model.ContainerInfo. The API
// reports names with a leading "/", which is stripped.
func containerToInfo(c container.Summary) model.ContainerInfo {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}
	return model.ContainerInfo{
		ContainerID:   c.ID,
		ContainerName: name,
		Resource:      c.Labels[LabelResource],
		Image:         c.Image,
		Status:        string(c.State),
		Labels:        c.Labels,
	}
}

// GroupContainersByResource groups containers by their resource label.
// Containers without one are skipped.
func GroupContainersByResource(containers []model.ContainerInfo) map[string][]model.ContainerInfo {
	groups := make(map[string][]model.ContainerInfo)
	for _, c := range containers {
		if c.Resource == "" {
			continue
		}
		groups[c.Resource] = append(groups[c.Resource], c)
	}
	return groups
}

// RemoveResource force-removes every managed container of resource and
// returns how many were removed. It reports ExitResourceNotFound when
// there were none.
func (e *Engine) RemoveResource(ctx context.Context, resource string) (int, error) {
	containers, err := e.ListManagedContainers(ctx, resource)
	if err != nil {
		return 0, err
	}
	if len(containers) == 0 {
		return 0, model.NewCLIError(model.ExitResourceNotFound,
			fmt.Sprintf("no managed containers for resource %q", resource))
	}

	removed := 0
	for _, c := range containers {
		if err := e.RemoveContainer(ctx, c.ContainerID, true); err != nil {
			return removed, err
		}
		e.logger.Info("removed container", "name", c.ContainerName, "id", shortID(c.ContainerID))
		removed++
	}
	return removed, nil
}

// ContainerHealth maps the daemon's view of a container to a health status:
//
//   - not running: Unhealthy
//   - running without a healthcheck: Healthy
//   - healthcheck "starting": Unknown
//   - healthcheck "healthy" / "unhealthy": Healthy / Unhealthy
func (e *Engine) ContainerHealth(ctx context.Context, containerID string) (model.HealthStatus, error) {
	info, err := e.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return model.HealthUnknown, model.WrapCLIError(model.ExitResourceNotFound,
			fmt.Sprintf("failed to inspect container %q", containerID), err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return model.HealthUnknown, nil
	}
	return healthFromState(info.State), nil
}

func healthFromState(st *container.State) model.HealthStatus {
	if !st.Running {
		return model.HealthUnhealthy
	}
	if st.Health == nil {
		return model.HealthHealthy
	}
	switch st.Health.Status {
	case "healthy":
		return model.HealthHealthy
	case "unhealthy":
		return model.HealthUnhealthy
	case "none":
		return model.HealthHealthy
	default:
		return model.HealthUnknown
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
