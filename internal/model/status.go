package model

import (
	"fmt"
	"strings"
)

// HealthStatus is the last-known health of a resource as tracked by the
// application host. Only HealthHealthy enables health-gated commands.
type HealthStatus string

const (
	// HealthUnknown is the initial state, before any probe has completed.
	HealthUnknown HealthStatus = "unknown"

	// HealthHealthy means the resource's HTTP endpoint answered its probe.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means the resource is running but a probe is failing
	// intermittently.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy means the resource failed to become ready.
	HealthUnhealthy HealthStatus = "unhealthy"
)

// String satisfies fmt.Stringer.
func (s HealthStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the predefined health states.
func (s HealthStatus) IsValid() bool {
	switch s {
	case HealthUnknown, HealthHealthy, HealthDegraded, HealthUnhealthy:
		return true
	default:
		return false
	}
}

// ParseHealthStatus converts a string to a HealthStatus (case-insensitive).
func ParseHealthStatus(s string) (HealthStatus, error) {
	status := HealthStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid health status: %q (valid: unknown, healthy, degraded, unhealthy)", s)
	}
	return status, nil
}

// CommandState is the visibility of a resource command as rendered by the
// application host.
type CommandState string

const (
	// CommandEnabled means the command can be invoked.
	CommandEnabled CommandState = "enabled"

	// CommandDisabled means the command is shown but cannot be invoked.
	CommandDisabled CommandState = "disabled"
)

// String satisfies fmt.Stringer.
func (s CommandState) String() string {
	return string(s)
}

// CommandResult is the outcome of executing a resource command. Failures
// are reported as values, never as panics, so a host UI can display them.
type CommandResult struct {
	// Success is true when the command completed (including soft no-ops).
	Success bool `json:"success"`

	// Message is a human-readable note, e.g. why a no-op happened.
	Message string `json:"message,omitempty"`

	// Err is the failure cause when Success is false.
	Err error `json:"-"`
}

// Succeeded returns a successful CommandResult with an optional message.
func Succeeded(message string) CommandResult {
	return CommandResult{Success: true, Message: message}
}

// Failed returns a failed CommandResult wrapping err.
func Failed(err error) CommandResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return CommandResult{Success: false, Message: msg, Err: err}
}
