// Package cli (remove.go) implements the "expo-container down" command.
//
// The down command force-removes every managed container of a resource,
// including ones left behind by an "up --detach" or a crashed run. By
// default it prompts for confirmation; --force skips the prompt.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

// downFlags holds the flag values for the down command.
type downFlags struct {
	// force skips the interactive confirmation prompt when true.
	force bool
}

// NewDownCommand creates the "down" cobra command.
func NewDownCommand() *cobra.Command {
	flags := &downFlags{}

	cmd := &cobra.Command{
		Use:     "down <name>",
		Aliases: []string{"remove", "rm"},
		Short:   "Remove the containers of a resource",
		Long: `Remove every managed container of the named resource.

Unless --force is specified, the command prompts for confirmation.

Examples:
  expo-container down expo
  expo-container down --force expo`,

		// Exactly one positional argument (resource name) is required.
		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDown(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), args[0], flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Remove without confirmation")

	return cmd
}

func runDown(ctx context.Context, in io.Reader, out io.Writer, resource string, flags *downFlags) error {
	engine, closeEngine, err := connectDocker(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	if !flags.force {
		containers, err := engine.ListManagedContainers(ctx, resource)
		if err != nil {
			return err
		}
		if len(containers) == 0 {
			return model.NewCLIError(model.ExitResourceNotFound,
				fmt.Sprintf("no managed containers for resource %q", resource))
		}
		confirmed, err := promptConfirmation(in, out, resource, containers)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to read user input", err)
		}
		if !confirmed {
			return model.NewCLIError(model.ExitUserCancelled, "operation cancelled by user")
		}
	}

	removed, err := engine.RemoveResource(ctx, resource)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(out, map[string]any{
			"name":           resource,
			"action":         "removed",
			"containerCount": removed,
		})
	}
	fmt.Fprintf(out, "Removed resource %q\n", resource)
	fmt.Fprintf(out, "  Removed %d container(s)\n", removed)
	return nil
}

// promptConfirmation asks the user to confirm the removal. It reads a
// single line and accepts "y" or "yes"; a closed input counts as "no".
func promptConfirmation(in io.Reader, out io.Writer, resource string, containers []model.ContainerInfo) (bool, error) {
	fmt.Fprintf(out, "About to remove resource %q:\n", resource)
	for _, c := range containers {
		fmt.Fprintf(out, "  - container %s (%s)\n", c.ContainerName, c.Status)
	}
	fmt.Fprint(out, "\nContinue? [y/N] ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
	return false, scanner.Err()
}
