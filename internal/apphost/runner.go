package apphost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

const tracerName = "github.com/mmr-tortoise/expo-container/internal/apphost"

// Probe schedule, matching the readiness loop in the packaged entrypoint.
const (
	DefaultProbeInterval = 500 * time.Millisecond
	DefaultProbeAttempts = 60
)

// ErrPortUnavailable is returned by Start when a host port is taken.
var ErrPortUnavailable = errors.New("apphost: host port is already in use")

// Engine is the container runtime the Runner drives.
type Engine interface {
	// BuildImage builds and tags an image.
	BuildImage(ctx context.Context, req model.BuildRequest) error
	// RunContainer creates and starts a container and returns its ID.
	RunContainer(ctx context.Context, req model.RunRequest) (string, error)
	// RemoveContainer removes a container, killing it first when force is set.
	RemoveContainer(ctx context.Context, containerID string, force bool) error
}

// PortChecker reports whether a host port can be bound.
type PortChecker interface {
	IsPortAvailable(port int, protocol string) bool
}

// Runner starts the resources of a Builder on an Engine.
type Runner struct {
	builder *Builder
	engine  Engine
	prober  Prober
	ports   PortChecker

	// BuildOutput receives image build progress. Nil discards it.
	BuildOutput io.Writer

	// ProbeInterval and ProbeAttempts bound the readiness wait per resource.
	ProbeInterval time.Duration
	ProbeAttempts int

	mu      sync.Mutex
	started []*ContainerResource
}

// NewRunner returns a Runner. ports may be nil to skip the host port check.
func NewRunner(b *Builder, engine Engine, prober Prober, ports PortChecker) *Runner {
	return &Runner{
		builder:       b,
		engine:        engine,
		prober:        prober,
		ports:         ports,
		ProbeInterval: DefaultProbeInterval,
		ProbeAttempts: DefaultProbeAttempts,
	}
}

// Start builds and starts every registered resource in registration order.
// It stops at the first failure; resources started before it keep running
// until Stop is called.
func (rn *Runner) Start(ctx context.Context) error {
	for _, r := range rn.builder.Resources() {
		if err := rn.startOne(ctx, r); err != nil {
			r.SetHealth(model.HealthUnhealthy)
			return err
		}
	}
	return nil
}

func (rn *Runner) startOne(ctx context.Context, r *ContainerResource) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "apphost.start")
	span.SetAttributes(attribute.String("resource.name", r.Name()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := rn.builder.Logger().With("resource", r.Name())

	image := r.Image()
	if spec := r.Build(); spec != nil {
		image = rn.builder.ImageTag(r)
		log.Info("building image", "tag", image, "context", spec.ContextDir)
		buildErr := rn.engine.BuildImage(ctx, model.BuildRequest{
			ContextDir: spec.ContextDir,
			Dockerfile: spec.Dockerfile,
			Tag:        image,
			BuildArgs:  spec.Args,
			Output:     rn.BuildOutput,
		})
		if cleanupErr := r.RunBuildCleanups(); cleanupErr != nil {
			log.Warn("build context cleanup failed", "error", cleanupErr)
		}
		if buildErr != nil {
			return fmt.Errorf("build %s: %w", r.Name(), buildErr)
		}
	} else if cleanupErr := r.RunBuildCleanups(); cleanupErr != nil {
		// Prebuilt image: the prepared context is not needed.
		log.Warn("build context cleanup failed", "error", cleanupErr)
	}
	if image == "" {
		return fmt.Errorf("resource %s has neither an image nor a Dockerfile", r.Name())
	}

	bindings := r.PortBindings()
	if rn.ports != nil {
		for _, b := range bindings {
			if !rn.ports.IsPortAvailable(b.HostPort, b.Protocol) {
				return fmt.Errorf("%w: %d (resource %s)", ErrPortUnavailable, b.HostPort, r.Name())
			}
		}
	}

	// Environment values are resolved here, at start time, so callbacks see
	// whatever their sources have published by now.
	env, err := r.ResolveEnvironment(ctx)
	if err != nil {
		return err
	}

	id, err := rn.engine.RunContainer(ctx, model.RunRequest{
		Name:     rn.builder.ContainerName(r),
		Resource: r.Name(),
		Image:    image,
		Env:      env,
		Ports:    bindings,
		Labels:   r.Labels(),
	})
	if err != nil {
		return fmt.Errorf("run %s: %w", r.Name(), err)
	}
	r.setContainerID(id)
	log.Info("container started", "id", shortID(id), "image", image)

	rn.mu.Lock()
	rn.started = append(rn.started, r)
	rn.mu.Unlock()
	return nil
}

// WaitHealthy probes every started resource's first endpoint until it is
// ready or the attempts run out, and records the outcome as the resource's
// health. It returns ctx.Err() when cancelled; exhausted attempts are not
// an error, they leave the resource Unhealthy.
func (rn *Runner) WaitHealthy(ctx context.Context) error {
	rn.mu.Lock()
	started := append([]*ContainerResource(nil), rn.started...)
	rn.mu.Unlock()

	for _, r := range started {
		if err := rn.waitOne(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (rn *Runner) waitOne(ctx context.Context, r *ContainerResource) error {
	eps := r.Endpoints()
	if len(eps) == 0 || rn.prober == nil {
		r.SetHealth(model.HealthHealthy)
		return nil
	}
	ep := eps[0]

	var lastErr error
	for attempt := range rn.ProbeAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rn.ProbeInterval):
			}
		}
		if lastErr = rn.prober.Probe(ctx, ep); lastErr == nil {
			r.SetHealth(model.HealthHealthy)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	rn.builder.Logger().Warn("resource did not become ready",
		"resource", r.Name(), "endpoint", ep.URL(), "attempts", rn.ProbeAttempts, "error", lastErr)
	r.SetHealth(model.HealthUnhealthy)
	return nil
}

// Stop removes every container started by this Runner, newest first.
func (rn *Runner) Stop(ctx context.Context) error {
	rn.mu.Lock()
	started := rn.started
	rn.started = nil
	rn.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		r := started[i]
		id := r.ContainerID()
		if id == "" {
			continue
		}
		if err := rn.engine.RemoveContainer(ctx, id, true); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", r.Name(), err))
			continue
		}
		r.setContainerID("")
		r.SetHealth(model.HealthUnknown)
	}
	return errors.Join(errs...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
