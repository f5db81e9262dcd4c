// Package apphost is a small application host for container resources.
//
// A Builder collects named ContainerResources. Each resource is configured
// through a fluent handle: a Dockerfile build, build arguments, environment
// variables (static or resolved lazily at container start), HTTP endpoints,
// labels, and user-invocable Commands whose visibility follows the
// resource's health.
//
// A Runner materialises the registered resources on an Engine (the Docker
// Engine in production, see internal/docker): it builds each image, resolves
// the environment, starts the container, and probes the HTTP endpoint until
// the resource reports healthy.
package apphost
