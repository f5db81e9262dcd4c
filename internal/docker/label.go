package docker

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

// Label keys persisted on every managed container. Labels are the only
// state the CLI keeps: `list` and `down` rebuild everything from them.
const (
	// LabelPrefix namespaces every expo-container label.
	LabelPrefix = "expo."

	// LabelManagedBy marks containers created by this tool.
	// Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelResource stores the resource name, e.g. "expo".
	LabelResource = LabelPrefix + "resource"

	// LabelPortPrefix prefixes one label per published port:
	//   "expo.port.8082" = "18082"
	// The key suffix is the container port, the value the host port.
	LabelPortPrefix = LabelPrefix + "port."

	// LabelCreatedAt stores the creation time in RFC 3339, UTC.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "expo-container"

// ManagedLabels is the metadata decoded from a managed container's labels.
type ManagedLabels struct {
	Resource  string
	Ports     []model.PortBinding
	CreatedAt time.Time
}

// BuildLabels returns the labels for a container started from req. Labels
// already present on req are kept; the managed keys always win.
func BuildLabels(req model.RunRequest, createdAt time.Time) map[string]string {
	labels := make(map[string]string, len(req.Labels)+3+len(req.Ports))
	maps.Copy(labels, req.Labels)

	labels[LabelManagedBy] = ManagedByValue
	labels[LabelResource] = req.Resource
	labels[LabelCreatedAt] = createdAt.UTC().Format(time.RFC3339)
	for _, p := range req.Ports {
		labels[BuildPortLabel(p.ContainerPort)] = strconv.Itoa(p.HostPort)
	}
	return labels
}

// ParseLabels is the inverse of BuildLabels. It fails when the container
// is not managed by this tool or a managed label is malformed.
func ParseLabels(labels map[string]string) (ManagedLabels, error) {
	var missing []string
	for _, key := range []string{LabelManagedBy, LabelResource, LabelCreatedAt} {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return ManagedLabels{}, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return ManagedLabels{}, fmt.Errorf("label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if err != nil {
		return ManagedLabels{}, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}

	ports, err := ParsePortLabels(labels)
	if err != nil {
		return ManagedLabels{}, err
	}

	return ManagedLabels{
		Resource:  labels[LabelResource],
		Ports:     ports,
		CreatedAt: createdAt,
	}, nil
}

// BuildPortLabel returns the label key for containerPort, e.g.
// BuildPortLabel(8082) == "expo.port.8082".
func BuildPortLabel(containerPort int) string {
	return LabelPortPrefix + strconv.Itoa(containerPort)
}

// ParsePortLabels decodes every port label, sorted by container port. It
// returns an empty, non-nil slice when there are none.
func ParsePortLabels(labels map[string]string) ([]model.PortBinding, error) {
	ports := make([]model.PortBinding, 0, 1)
	for key, value := range labels {
		suffix, ok := strings.CutPrefix(key, LabelPortPrefix)
		if !ok {
			continue
		}
		containerPort, err := strconv.Atoi(suffix)
		if err != nil {
			return nil, fmt.Errorf("invalid container port in label key %q: %w", key, err)
		}
		hostPort, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid host port in label %q=%q: %w", key, value, err)
		}
		ports = append(ports, model.PortBinding{
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Protocol:      "tcp",
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].ContainerPort < ports[j].ContainerPort })
	return ports, nil
}

// FilterLabels returns the label=value pairs that select managed
// containers, optionally narrowed to one resource.
func FilterLabels(resource string) []string {
	out := []string{LabelManagedBy + "=" + ManagedByValue}
	if resource != "" {
		out = append(out, LabelResource+"="+resource)
	}
	return out
}
