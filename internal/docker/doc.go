// Package docker talks to the Docker Engine for the expo-container CLI.
//
// It covers:
//   - client setup with platform socket detection (Linux, macOS, Windows)
//   - the labels that mark managed containers, which are the only state the
//     CLI persists
//   - image builds, including a Dockerfile that lives outside the build
//     context
//   - container create, start, list, inspect and remove
//
// Engine implements apphost.Engine on top of github.com/docker/docker/client
// with API version negotiation enabled.
package docker
