package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

// defaultPingTimeout is the longest Ping waits for the daemon. Docker
// Desktop on macOS can take a few seconds to answer after waking up, so
// this is longer than a native Linux daemon needs.
const defaultPingTimeout = 5 * time.Second

// Client wraps the Docker Engine SDK client. It resolves the daemon socket
// for the current platform and reports connectivity failures as
// model.CLIError values with ExitDockerNotRunning.
//
// Usage:
//
//	c, err := docker.NewClient()
//	if err != nil { /* handle */ }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { /* daemon not reachable */ }
type Client struct {
	// inner is the SDK client. It is wrapped rather than embedded so the
	// package controls which calls the rest of the tool can make.
	inner *client.Client
}

// NewClient creates a Docker client.
//
// The daemon address is chosen in this order:
//  1. DOCKER_HOST, used verbatim when set
//  2. the first existing platform socket:
//     - Linux: /var/run/docker.sock
//     - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//     - Windows: npipe:////./pipe/docker_engine
//
// Returns a model.CLIError with ExitDockerNotRunning when no socket is found
// or the client cannot be created. Reachability is checked by Ping, not here.
func NewClient() (*Client, error) {
	// Step 1: an explicit DOCKER_HOST wins; the SDK parses the address.
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return newClientWithHost(host)
	}

	// Step 2: look for the platform's default socket.
	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker socket not found", err)
	}
	return newClientWithHost(host)
}

// newClientWithHost creates an SDK client for host.
//
// API version negotiation lets the client talk to daemons older than the
// SDK; without it every call to an older daemon fails with a version error.
func newClientWithHost(host string) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}
	return &Client{inner: c}, nil
}

// detectDockerHost returns the daemon URI for the current platform.
//
// Unix sockets are detected by existence only. A socket file can outlive
// its daemon, so callers still Ping before relying on the result.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{"/var/run/docker.sock"})

	case "darwin":
		// Docker Desktop creates /var/run/docker.sock only when the
		// privileged helper is installed; the per-user socket always exists.
		paths := []string{"/var/run/docker.sock"}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".docker", "run", "docker.sock"))
		}
		return detectUnixSocket(paths)

	case "windows":
		// os.Stat does not work on named pipes, so dial it briefly.
		const pipePath = `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, time.Second)
		if err != nil {
			return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)
		}
		conn.Close()
		return "npipe://" + pipePath, nil

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns "unix://<path>" for the first path that exists.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of %v; is Docker running?", paths)
}

// Ping checks that the daemon answers within defaultPingTimeout.
//
// Commands call it right after NewClient so a stopped daemon is reported as
// ExitDockerNotRunning up front instead of as a failed build or list.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding; is Docker running?",
			err,
		)
	}
	return nil
}

// Close releases the client's connections. It is safe to call twice.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// Inner returns the SDK client for calls the wrapper does not cover.
func (c *Client) Inner() *client.Client {
	return c.inner
}
