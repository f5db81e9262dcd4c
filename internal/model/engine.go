package model

import (
	"fmt"
	"io"
)

// BuildRequest describes an image build handed to a container engine.
type BuildRequest struct {
	// ContextDir is the build context directory sent to the engine.
	ContextDir string

	// Dockerfile is the absolute path to the build definition. It may live
	// outside ContextDir; the engine is responsible for shipping it.
	Dockerfile string

	// Tag is the resulting image reference.
	Tag string

	// BuildArgs are passed as --build-arg KEY=VALUE.
	BuildArgs map[string]string

	// Labels are applied to the built image.
	Labels map[string]string

	// Output receives the build progress stream. Nil discards it.
	Output io.Writer
}

// RunRequest describes a container to create and start.
type RunRequest struct {
	// Name is the container name.
	Name string

	// Resource is the application-host resource the container backs.
	Resource string

	// Image is the image reference to run.
	Image string

	// Env holds KEY=VALUE pairs, already resolved.
	Env []string

	// Ports are the published port mappings.
	Ports []PortBinding

	// Labels are applied to the container.
	Labels map[string]string
}

// PortBinding maps a container port to a host port.
type PortBinding struct {
	// HostPort is the port published on the host machine.
	HostPort int `json:"hostPort"`

	// ContainerPort is the port inside the container.
	ContainerPort int `json:"containerPort"`

	// Protocol is "tcp" or "udp". Empty means "tcp".
	Protocol string `json:"protocol"`
}

// String returns "hostPort->containerPort/protocol".
func (p PortBinding) String() string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, proto)
}

// ContainerInfo holds runtime information about a managed container.
// This data is fetched dynamically from the Docker API, not persisted.
type ContainerInfo struct {
	// ContainerID is the Docker container identifier.
	ContainerID string `json:"containerId"`

	// ContainerName is the human-readable Docker container name.
	ContainerName string `json:"containerName"`

	// Resource is the application-host resource name the container belongs to.
	Resource string `json:"resource"`

	// Image is the image the container was created from.
	Image string `json:"image"`

	// Status is the Docker container state (e.g., "running", "exited").
	Status string `json:"status"`

	// Labels is the full set of Docker labels on the container.
	Labels map[string]string `json:"labels,omitempty"`
}
