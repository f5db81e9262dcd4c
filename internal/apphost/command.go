package apphost

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

var (
	// ErrUnknownCommand is reported when a command name is not attached.
	ErrUnknownCommand = errors.New("apphost: unknown command")

	// ErrCommandDisabled is reported when a disabled command is invoked.
	ErrCommandDisabled = errors.New("apphost: command is disabled")
)

// Command is a user-invocable action attached to a resource.
type Command struct {
	// Name is the stable identifier, e.g. "generate-and-open".
	Name string

	// DisplayName is shown in the host UI.
	DisplayName string

	// Description is an optional longer explanation.
	Description string

	// Execute runs the command. Failures are reported in the result.
	Execute func(ctx context.Context) model.CommandResult

	// UpdateState maps the resource's current health to the command's
	// visibility. It is evaluated every time the state is requested.
	// Nil means always enabled.
	UpdateState func(status model.HealthStatus) model.CommandState
}

// State evaluates the command's visibility for status.
func (c Command) State(status model.HealthStatus) model.CommandState {
	if c.UpdateState == nil {
		return model.CommandEnabled
	}
	return c.UpdateState(status)
}

// Command returns the attached command with the given name.
func (r *ContainerResource) Command(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// CommandState evaluates the named command against the resource's health
// at the time of the call.
func (r *ContainerResource) CommandState(name string) (model.CommandState, bool) {
	cmd, ok := r.Command(name)
	if !ok {
		return model.CommandDisabled, false
	}
	return cmd.State(r.Health()), true
}

// ExecuteCommand runs the named command if it exists and is enabled.
func (r *ContainerResource) ExecuteCommand(ctx context.Context, name string) model.CommandResult {
	cmd, ok := r.Command(name)
	if !ok {
		return model.Failed(fmt.Errorf("%w: %q on %s", ErrUnknownCommand, name, r.name))
	}
	if state := cmd.State(r.Health()); state != model.CommandEnabled {
		return model.Failed(fmt.Errorf("%w: %q on %s (health %s)", ErrCommandDisabled, name, r.name, r.Health()))
	}
	if cmd.Execute == nil {
		return model.Succeeded("")
	}

	r.logger.Debug("executing command", "command", name)
	res := cmd.Execute(ctx)
	if !res.Success {
		r.logger.Warn("command failed", "command", name, "error", res.Err)
	}
	return res
}
