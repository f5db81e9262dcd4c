// Package cli (list.go) implements the "expo-container list" command.
//
// The list command displays the containers expo-container manages by
// querying Docker for the "expo.managed-by=expo-container" label. Host
// ports and creation times are read back from the labels written at run
// time, so no state is kept outside Docker.
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/expo-container/internal/docker"
	"github.com/mmr-tortoise/expo-container/internal/model"
)

// listFlags holds the flag values for the list command.
type listFlags struct {
	// resource narrows the listing to one resource name.
	resource string

	// status filters by Docker container state, e.g. "running".
	status string

	// health filters by health status; empty keeps everything.
	health string
}

// NewListCommand creates the "list" cobra command.
func NewListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List managed packager containers",
		Long: `List the packager containers started by expo-container.

Each container is shown with its resource name, Docker state, health,
published ports, and creation time. Health comes from the container's
healthcheck; a running container without one counts as healthy.

Examples:
  expo-container list
  expo-container list --resource expo
  expo-container list --status running --json
  expo-container list --health unhealthy`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.resource, "resource", "", "Only list containers of this resource")
	cmd.Flags().StringVar(&flags.status, "status", "all",
		"Filter by container state: running, exited, created, all")
	cmd.Flags().StringVar(&flags.health, "health", "",
		"Filter by health: healthy, unhealthy, degraded, unknown")

	return cmd
}

// listEntry is one row of the list output.
type listEntry struct {
	Name      string              `json:"name"`
	Resource  string              `json:"resource"`
	Status    string              `json:"status"`
	Health    model.HealthStatus  `json:"health"`
	Image     string              `json:"image"`
	ID        string              `json:"containerId"`
	Ports     []model.PortBinding `json:"ports"`
	CreatedAt *time.Time          `json:"createdAt,omitempty"`
}

func runList(ctx context.Context, out io.Writer, flags *listFlags) error {
	var wantHealth model.HealthStatus
	if flags.health != "" {
		h, err := model.ParseHealthStatus(flags.health)
		if err != nil {
			return &model.ArgumentError{Param: "health", Reason: err.Error()}
		}
		wantHealth = h
	}

	engine, closeEngine, err := connectDocker(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	containers, err := engine.ListManagedContainers(ctx, flags.resource)
	if err != nil {
		return err
	}
	logger.Debug("found managed containers", "count", len(containers))

	entries := buildListEntries(containers, flags.status)
	entries = withHealth(ctx, engine, entries, wantHealth)
	if IsJSONOutput() {
		return printJSON(out, map[string]any{"containers": entries})
	}
	printListText(out, entries)
	return nil
}

// buildListEntries turns container infos into rows, keeping only those in
// state status ("all" keeps everything). Containers whose labels do not
// parse are still listed, without ports.
func buildListEntries(containers []model.ContainerInfo, status string) []listEntry {
	entries := make([]listEntry, 0, len(containers))
	for _, c := range containers {
		if status != "" && status != "all" && c.Status != status {
			continue
		}
		entry := listEntry{
			Name:     c.ContainerName,
			Resource: c.Resource,
			Status:   c.Status,
			Image:    c.Image,
			ID:       c.ContainerID,
			Ports:    []model.PortBinding{},
		}
		managed, err := docker.ParseLabels(c.Labels)
		if err != nil {
			logger.Warn("container has incomplete labels", "name", c.ContainerName, "error", err)
		} else {
			entry.Ports = managed.Ports
			createdAt := managed.CreatedAt
			entry.CreatedAt = &createdAt
		}
		entries = append(entries, entry)
	}
	return entries
}

// withHealth fills in each entry's health and, when want is set, keeps only
// entries in that state. An inspect failure counts as HealthUnknown.
func withHealth(ctx context.Context, engine dockerEngine, entries []listEntry, want model.HealthStatus) []listEntry {
	kept := entries[:0]
	for _, e := range entries {
		h, err := engine.ContainerHealth(ctx, e.ID)
		if err != nil {
			logger.Debug("inspect failed", "name", e.Name, "error", err)
			h = model.HealthUnknown
		}
		e.Health = h
		if want != "" && h != want {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// printListText outputs the entries as an aligned table:
//
//	NAME                 RESOURCE  STATUS   HEALTH   PORTS            CREATED
//	expo-container-expo  expo      running  healthy  18082->8082/tcp  2026-02-28 10:00
func printListText(w io.Writer, entries []listEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No managed containers found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRESOURCE\tSTATUS\tHEALTH\tPORTS\tCREATED")
	for _, e := range entries {
		created := "-"
		if e.CreatedAt != nil {
			created = e.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Name, e.Resource, e.Status, e.Health, FormatPortsList(e.Ports), created)
	}
	_ = tw.Flush()
}

// FormatPortsList renders bindings as "host->container/proto" joined by
// commas, ordered by host port. Returns "-" if there are none.
//
// Example:
//
//	[{HostPort: 19000, ...}, {HostPort: 18082, ContainerPort: 8082}] → "18082->8082/tcp,19000->19000/tcp"
//	[]                                                                → "-"
func FormatPortsList(bindings []model.PortBinding) string {
	if len(bindings) == 0 {
		return "-"
	}
	sorted := slices.Clone(bindings)
	slices.SortFunc(sorted, func(a, b model.PortBinding) int { return a.HostPort - b.HostPort })

	parts := make([]string, 0, len(sorted))
	for _, b := range sorted {
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ",")
}
