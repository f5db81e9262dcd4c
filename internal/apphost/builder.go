package apphost

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/distribution/reference"
)

// DefaultProject is the project name used for image tags and container
// names when none is configured.
const DefaultProject = "expo-container"

// ErrDuplicateResource is returned when a resource name is registered twice.
var ErrDuplicateResource = errors.New("apphost: resource already registered")

// resourceNameRegex is the character set shared by container names and
// image repository components. Repository names must be lowercase.
var resourceNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// ValidateName checks that name can be used as a resource or project name.
// Both become part of an image reference (<project>/<resource>:dev) and a
// container name (<project>-<resource>), so the stricter image grammar
// applies: lowercase, and separators only between alphanumerics.
func ValidateName(name string) error {
	if !resourceNameRegex.MatchString(name) {
		return fmt.Errorf("apphost: invalid name %q: use lowercase letters, digits, '_', '.' or '-'", name)
	}
	if _, err := reference.ParseNormalizedNamed(name); err != nil {
		return fmt.Errorf("apphost: invalid name %q: %w", name, err)
	}
	return nil
}

// Builder collects the resources of one application.
type Builder struct {
	project string
	logger  *slog.Logger

	mu        sync.Mutex
	resources []*ContainerResource
	byName    map[string]*ContainerResource
}

// NewBuilder returns an empty Builder for project. An empty project means
// DefaultProject; a nil logger means slog.Default().
func NewBuilder(project string, logger *slog.Logger) *Builder {
	if project == "" {
		project = DefaultProject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		project: project,
		logger:  logger,
		byName:  make(map[string]*ContainerResource),
	}
}

// Project returns the project name.
func (b *Builder) Project() string {
	return b.project
}

// Logger returns the builder's logger.
func (b *Builder) Logger() *slog.Logger {
	return b.logger
}

// AddContainer registers a new container resource and returns its handle.
func (b *Builder) AddContainer(name string) (*ContainerResource, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byName[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateResource, name)
	}

	r := newContainerResource(name, b.logger.With("resource", name))
	b.resources = append(b.resources, r)
	b.byName[name] = r
	b.logger.Debug("registered container resource", "resource", name)
	return r, nil
}

// Resource returns the resource registered under name.
func (b *Builder) Resource(name string) (*ContainerResource, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byName[name]
	return r, ok
}

// Resources returns the registered resources in registration order.
func (b *Builder) Resources() []*ContainerResource {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ContainerResource, len(b.resources))
	copy(out, b.resources)
	return out
}

// ImageTag returns the tag used for a resource's built image.
func (b *Builder) ImageTag(r *ContainerResource) string {
	return fmt.Sprintf("%s/%s:dev", b.project, r.Name())
}

// ContainerName returns the container name used for a resource.
func (b *Builder) ContainerName(r *ContainerResource) string {
	return b.project + "-" + r.Name()
}
