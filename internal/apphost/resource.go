package apphost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

// EnvValue resolves an environment variable value when the container
// starts.
type EnvValue func(ctx context.Context) (string, error)

// EnvVar is one environment entry of a resource.
type EnvVar struct {
	Name  string
	Value EnvValue
}

// Endpoint is a published network endpoint of a resource.
type Endpoint struct {
	// Name identifies the endpoint, e.g. "http".
	Name string

	// Scheme is the URL scheme, e.g. "http".
	Scheme string

	// Port is the host port.
	Port int

	// TargetPort is the container port.
	TargetPort int
}

// URL returns the endpoint's URL on the loopback interface.
func (e Endpoint) URL() string {
	return fmt.Sprintf("%s://127.0.0.1:%d", e.Scheme, e.Port)
}

// BuildSpec describes how a resource's image is built.
type BuildSpec struct {
	// ContextDir is the build context.
	ContextDir string

	// Dockerfile is the build definition path.
	Dockerfile string

	// Args are build arguments.
	Args map[string]string

	cleanups []func() error
}

// ContainerResource is the handle of a registered container. All With*
// methods return the handle for chaining and are safe for concurrent use.
type ContainerResource struct {
	name   string
	logger *slog.Logger

	mu          sync.RWMutex
	image       string
	build       *BuildSpec
	env         []EnvVar
	endpoints   []Endpoint
	labels      map[string]string
	commands    []Command
	health      model.HealthStatus
	containerID string
}

func newContainerResource(name string, logger *slog.Logger) *ContainerResource {
	return &ContainerResource{
		name:   name,
		logger: logger,
		labels: make(map[string]string),
		health: model.HealthUnknown,
	}
}

// Name returns the resource name.
func (r *ContainerResource) Name() string {
	return r.name
}

// WithImage runs a prebuilt image instead of building one. Build settings
// are ignored while an image is set; build cleanups still run at start.
func (r *ContainerResource) WithImage(image string) *ContainerResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image = image
	return r
}

// WithDockerfile builds the resource image from contextDir using the
// Dockerfile at dockerfile, which may live outside contextDir.
func (r *ContainerResource) WithDockerfile(contextDir, dockerfile string) *ContainerResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.build == nil {
		r.build = &BuildSpec{Args: make(map[string]string)}
	}
	r.build.ContextDir = contextDir
	r.build.Dockerfile = dockerfile
	return r
}

// WithBuildArg adds a build argument. It has no effect until WithDockerfile
// is called, but may be called before it.
func (r *ContainerResource) WithBuildArg(name, value string) *ContainerResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.build == nil {
		r.build = &BuildSpec{Args: make(map[string]string)}
	}
	r.build.Args[name] = value
	return r
}

// WithBuildCleanup registers fn to run once the image build has finished,
// successfully or not.
func (r *ContainerResource) WithBuildCleanup(fn func() error) *ContainerResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.build == nil {
		r.build = &BuildSpec{Args: make(map[string]string)}
	}
	r.build.cleanups = append(r.build.cleanups, fn)
	return r
}

// WithEnvironment sets a static environment variable.
func (r *ContainerResource) WithEnvironment(name, value string) *ContainerResource {
	return r.WithEnvironmentFunc(name, func(context.Context) (string, error) { return value, nil })
}

// WithEnvironmentFunc sets an environment variable resolved when the
// container starts. Setting the same name again replaces the earlier value
// but keeps its position.
func (r *ContainerResource) WithEnvironmentFunc(name string, value EnvValue) *ContainerResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.env {
		if r.env[i].Name == name {
			r.env[i].Value = value
			return r
		}
	}
	r.env = append(r.env, EnvVar{Name: name, Value: value})
	return r
}

// WithHTTPEndpoint publishes targetPort in the container on port on the host.
func (r *ContainerResource) WithHTTPEndpoint(port, targetPort int, name string) *ContainerResource {
	if name == "" {
		name = "http"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = append(r.endpoints, Endpoint{
		Name:       name,
		Scheme:     "http",
		Port:       port,
		TargetPort: targetPort,
	})
	return r
}

// WithLabel adds a container label.
func (r *ContainerResource) WithLabel(key, value string) *ContainerResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels[key] = value
	return r
}

// WithCommand attaches a command. A command with the same name replaces the
// existing one.
func (r *ContainerResource) WithCommand(cmd Command) *ContainerResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.commands {
		if r.commands[i].Name == cmd.Name {
			r.commands[i] = cmd
			return r
		}
	}
	r.commands = append(r.commands, cmd)
	return r
}

// Image returns the prebuilt image, if any.
func (r *ContainerResource) Image() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.image
}

// Build returns a copy of the build spec, or nil when the resource uses a
// prebuilt image.
func (r *ContainerResource) Build() *BuildSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.image != "" || r.build == nil || r.build.Dockerfile == "" {
		return nil
	}
	args := make(map[string]string, len(r.build.Args))
	for k, v := range r.build.Args {
		args[k] = v
	}
	return &BuildSpec{
		ContextDir: r.build.ContextDir,
		Dockerfile: r.build.Dockerfile,
		Args:       args,
		cleanups:   append([]func() error(nil), r.build.cleanups...),
	}
}

// RunBuildCleanups runs and clears the registered build cleanups.
func (r *ContainerResource) RunBuildCleanups() error {
	r.mu.Lock()
	var fns []func() error
	if r.build != nil {
		fns = r.build.cleanups
		r.build.cleanups = nil
	}
	r.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Environment returns the environment entries in declaration order.
func (r *ContainerResource) Environment() []EnvVar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EnvVar(nil), r.env...)
}

// ResolveEnvironment evaluates every environment value now and returns
// KEY=VALUE pairs in declaration order.
func (r *ContainerResource) ResolveEnvironment(ctx context.Context) ([]string, error) {
	env := r.Environment()
	out := make([]string, 0, len(env))
	for _, e := range env {
		v, err := e.Value(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve %s for %s: %w", e.Name, r.name, err)
		}
		out = append(out, e.Name+"="+v)
	}
	return out, nil
}

// Endpoints returns the published endpoints.
func (r *ContainerResource) Endpoints() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Endpoint(nil), r.endpoints...)
}

// Endpoint returns the endpoint with the given name.
func (r *ContainerResource) Endpoint(name string) (Endpoint, bool) {
	for _, e := range r.Endpoints() {
		if e.Name == name {
			return e, true
		}
	}
	return Endpoint{}, false
}

// PortBindings converts the endpoints to engine port bindings.
func (r *ContainerResource) PortBindings() []model.PortBinding {
	eps := r.Endpoints()
	out := make([]model.PortBinding, 0, len(eps))
	for _, e := range eps {
		out = append(out, model.PortBinding{HostPort: e.Port, ContainerPort: e.TargetPort, Protocol: "tcp"})
	}
	return out
}

// Labels returns a copy of the container labels.
func (r *ContainerResource) Labels() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.labels))
	for k, v := range r.labels {
		out[k] = v
	}
	return out
}

// Commands returns the attached commands sorted by name.
func (r *ContainerResource) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Command(nil), r.commands...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Health returns the last-known health.
func (r *ContainerResource) Health() model.HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health
}

// SetHealth records a new health status.
func (r *ContainerResource) SetHealth(status model.HealthStatus) {
	r.mu.Lock()
	prev := r.health
	r.health = status
	r.mu.Unlock()
	if prev != status {
		r.logger.Info("resource health changed", "from", prev, "to", status)
	}
}

// ContainerID returns the ID of the running container, if started.
func (r *ContainerResource) ContainerID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.containerID
}

func (r *ContainerResource) setContainerID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containerID = id
}

// String returns a short description for logs.
func (r *ContainerResource) String() string {
	eps := r.Endpoints()
	if len(eps) == 0 {
		return r.name
	}
	return r.name + ":" + strconv.Itoa(eps[0].Port)
}
