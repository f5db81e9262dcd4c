// Package cli (up.go) implements the "expo-container up" command.
//
// The up command is the whole lifecycle in one call:
//  1. Resolve configuration (project file, EXPO_CONTAINER_* environment, flags)
//  2. Pick the host port, avoiding ports recorded on other managed containers
//  3. Register the packager resource and its QR command
//  4. Build the image, start the container, and wait for /status to answer
//  5. Generate and open the QR code when an output path is configured
//  6. Stay in the foreground until interrupted, then remove the container
//
// With --detach step 6 is skipped and the container keeps running until
// "expo-container down".
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mmr-tortoise/expo-container/internal/apphost"
	"github.com/mmr-tortoise/expo-container/internal/config"
	"github.com/mmr-tortoise/expo-container/internal/docker"
	"github.com/mmr-tortoise/expo-container/internal/expo"
	"github.com/mmr-tortoise/expo-container/internal/model"
	"github.com/mmr-tortoise/expo-container/internal/port"
	"github.com/mmr-tortoise/expo-container/internal/telemetry"
	"github.com/mmr-tortoise/expo-container/internal/tunnel"
)

const (
	defaultReadyTimeout  = 2 * time.Minute
	defaultWatchInterval = 5 * time.Second
	stopTimeout          = 30 * time.Second
)

// Seams for tests.
var (
	newPortChecker = func() port.Checker { return port.NewScanner() }
	newProber      = func() apphost.Prober { return apphost.NewHTTPProber(apphost.DefaultProbePath) }
	watchInterval  = defaultWatchInterval
)

// upFlags holds the flag values for the up command. Only flags the user
// actually set override the configuration.
type upFlags struct {
	config       string
	name         string
	project      string
	context      string
	port         int
	targetPort   int
	publicURL    string
	tunnelAPI    string
	tunnelName   string
	qrOutput     string
	image        string
	urlTimeout   time.Duration
	readyTimeout time.Duration
	noOpen       bool
	autoPort     bool
	detach       bool
}

// NewUpCommand creates the "up" cobra command.
func NewUpCommand() *cobra.Command {
	return newUpCommand(&upFlags{})
}

func newUpCommand(flags *upFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Build and run the Expo packager container",
		Long: `Build the app's packager image, run it with its port published, and wait
until the packager answers on /status.

Settings come from expo-container.yaml (or .yml, .jsonc, .json) in the
current directory, then EXPO_CONTAINER_* environment variables, then flags.
The build context defaults to the current directory.

When --qr-output is set the exp:// QR code for the public URL is written
there and opened once the packager is ready. The public URL is either fixed
with --public-url or read from a tunnel agent with --tunnel-api.

Examples:
  expo-container up
  expo-container up --context ./mobile --port 18082 --auto-port
  expo-container up --tunnel-api http://127.0.0.1:4040 --qr-output qr.png
  expo-container up --detach --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.config, "config", "c", "", "Project file (default: expo-container.{yaml,yml,jsonc,json} in the current directory)")
	f.StringVar(&flags.name, "name", model.DefaultResourceName, "Resource name")
	f.StringVar(&flags.project, "project", apphost.DefaultProject, "Project name used for image tags and container names")
	f.StringVar(&flags.context, "context", "", "App directory used as the build context (default: current directory)")
	f.IntVarP(&flags.port, "port", "p", model.DefaultPort, "Host port of the packager")
	f.IntVar(&flags.targetPort, "target-port", model.DefaultPort, "Packager port inside the container")
	f.StringVar(&flags.publicURL, "public-url", "", "Fixed public URL of the packager")
	f.StringVar(&flags.tunnelAPI, "tunnel-api", "", "Tunnel agent API to read the public URL from")
	f.StringVar(&flags.tunnelName, "tunnel-name", "", "Only consider the tunnel with this name")
	f.StringVar(&flags.image, "image", "", "Run this prebuilt packager image instead of building one")
	f.StringVar(&flags.qrOutput, "qr-output", "", "Write the QR code PNG here once the packager is ready")
	f.DurationVar(&flags.urlTimeout, "url-timeout", config.DefaultURLTimeout, "How long to wait for the public URL")
	f.DurationVar(&flags.readyTimeout, "ready-timeout", defaultReadyTimeout, "How long to wait for the packager to answer")
	f.BoolVar(&flags.noOpen, "no-open", false, "Write the QR code without opening it")
	f.BoolVar(&flags.autoPort, "auto-port", false, "Pick another host port when --port is taken")
	f.BoolVarP(&flags.detach, "detach", "d", false, "Leave the container running and exit")
	cmd.MarkFlagsMutuallyExclusive("public-url", "tunnel-api")

	return cmd
}

// upResult is the summary printed once the packager is up.
type upResult struct {
	Name        string             `json:"name"`
	Container   string             `json:"container"`
	ContainerID string             `json:"containerId"`
	Image       string             `json:"image"`
	URL         string             `json:"url"`
	Health      model.HealthStatus `json:"health"`
	QRCode      string             `json:"qrCode,omitempty"`
	Detached    bool               `json:"detached"`
}

func runUp(cmd *cobra.Command, flags *upFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadUpConfig(ctx, cmd.Flags(), flags)
	if err != nil {
		return err
	}
	logger.Debug("resolved configuration", "source", cfg.Source, "context", cfg.BuildContext,
		"port", cfg.Port, "targetPort", cfg.TargetPort)

	engine, closeEngine, err := connectDocker(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeEngine() }()

	if err := replaceExisting(ctx, engine, cfg.Name); err != nil {
		return err
	}
	hostPort, err := allocateHostPort(ctx, engine, cfg)
	if err != nil {
		return err
	}
	if hostPort != cfg.Port {
		logger.Warn("host port in use, using another", "requested", cfg.Port, "port", hostPort)
		cfg.Port = hostPort
	}

	source := urlSource(cfg.PublicURL, cfg.TunnelAPI, cfg.TunnelName)
	builder := apphost.NewBuilder(cfg.Project, logger)
	registrar := expo.NewRegistrar(nil, nil, logger)

	opts := cfg.ExpoOptions()
	if source != nil {
		opts = opts.WithPublicURL(boundedURL(source, cfg.URLTimeout.Std()))
	}
	res, err := registrar.AddExpo(ctx, builder, opts)
	if err != nil {
		return err
	}

	if cfg.Image != "" {
		res.WithImage(cfg.Image)
	}

	if settings, err := telemetry.LoadSettings(ctx, nil); err == nil {
		for _, kv := range settings.ContainerEnv(cfg.Name) {
			res.WithEnvironment(kv[0], kv[1])
		}
	}
	if cfg.QROutput != "" {
		expo.WithQRCommand(res, source, cfg.QROutput, qrOptions(cfg.URLTimeout.Std(), flags.noOpen)...)
	}

	runner := apphost.NewRunner(builder, engine, newProber(), newPortChecker())
	if !IsJSONOutput() {
		runner.BuildOutput = cmd.ErrOrStderr()
	}
	if flags.readyTimeout > 0 {
		runner.ProbeAttempts = max(1, int(flags.readyTimeout/runner.ProbeInterval))
	}

	if err := runner.Start(ctx); err != nil {
		stopRunner(ctx, runner)
		return startError(err)
	}
	if err := runner.WaitHealthy(ctx); err != nil {
		stopRunner(ctx, runner)
		return model.WrapCLIError(model.ExitGeneralError, "interrupted while waiting for the packager", err)
	}

	ep, _ := res.Endpoint(expo.EndpointName)
	if res.Health() != model.HealthHealthy {
		logger.Warn("packager is not answering yet; QR code skipped", "url", ep.URL())
	} else if cfg.QROutput != "" {
		qrRes := res.ExecuteCommand(ctx, expo.QRCommandName)
		if !qrRes.Success {
			logger.Warn("QR code command failed", "error", qrRes.Err)
		} else if qrRes.Message != "" {
			logger.Info(qrRes.Message)
		}
	}

	result := upResult{
		Name:        res.Name(),
		Container:   builder.ContainerName(res),
		ContainerID: res.ContainerID(),
		Image:       runImage(builder, res),
		URL:         ep.URL(),
		Health:      res.Health(),
		QRCode:      cfg.QROutput,
		Detached:    flags.detach,
	}
	if err := printUpResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if flags.detach {
		return nil
	}

	logger.Info("packager running; press Ctrl+C to stop", "url", ep.URL())
	watchErr := watchContainer(ctx, engine, res)
	stopRunner(ctx, runner)
	return watchErr
}

// loadUpConfig resolves the configuration and applies the flags the user
// set explicitly.
func loadUpConfig(ctx context.Context, fs *pflag.FlagSet, flags *upFlags) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ctx, wd, flags.config, nil)
	if err != nil {
		return nil, err
	}
	applyUpFlags(fs, flags, cfg)
	if cfg.BuildContext == "" {
		cfg.BuildContext = wd
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyUpFlags(fs *pflag.FlagSet, flags *upFlags, cfg *config.Config) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("name", func() { cfg.Name = flags.name })
	set("project", func() { cfg.Project = flags.project })
	set("context", func() { cfg.BuildContext = flags.context })
	set("port", func() { cfg.Port = flags.port })
	set("target-port", func() { cfg.TargetPort = flags.targetPort })
	set("tunnel-name", func() { cfg.TunnelName = flags.tunnelName })
	set("qr-output", func() { cfg.QROutput = flags.qrOutput })
	set("image", func() { cfg.Image = flags.image })
	set("url-timeout", func() { cfg.URLTimeout = config.Duration(flags.urlTimeout) })
	set("auto-port", func() { cfg.AutoPort = flags.autoPort })
	// The URL sources replace each other so a flag can override the file.
	set("public-url", func() { cfg.PublicURL, cfg.TunnelAPI = flags.publicURL, "" })
	set("tunnel-api", func() { cfg.TunnelAPI, cfg.PublicURL = flags.tunnelAPI, "" })
}

// replaceExisting removes containers left over from an earlier run of the
// same resource, which would otherwise hold its host port.
func replaceExisting(ctx context.Context, engine dockerEngine, resource string) error {
	existing, err := engine.ListManagedContainers(ctx, resource)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}
	logger.Info("replacing existing containers", "resource", resource, "count", len(existing))
	_, err = engine.RemoveResource(ctx, resource)
	return err
}

// allocateHostPort returns the host port to publish: the configured one,
// or with AutoPort the nearest free one. Ports recorded on other managed
// containers count as taken.
func allocateHostPort(ctx context.Context, engine dockerEngine, cfg *config.Config) (int, error) {
	containers, err := engine.ListManagedContainers(ctx, "")
	if err != nil {
		return 0, err
	}
	alloc := port.NewAllocator(newPortChecker())
	for _, c := range containers {
		ports, err := docker.ParsePortLabels(c.Labels)
		if err != nil {
			logger.Debug("ignoring port labels", "container", c.ContainerName, "error", err)
			continue
		}
		alloc.ReserveBindings(ports)
	}
	return alloc.Allocate(cfg.Port, "tcp", cfg.AutoPort)
}

// boundedURL wraps source so resolving the container environment never
// waits longer than timeout. No URL in time yields an empty value.
func boundedURL(source tunnel.Source, timeout time.Duration) model.URLFunc {
	return func(ctx context.Context) (string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		url, err := tunnel.Await(ctx, source)
		if err != nil {
			logger.Warn("public URL not available at start", "error", err)
			return "", nil
		}
		return url, nil
	}
}

// runImage is the image the resource's container runs.
func runImage(b *apphost.Builder, r *apphost.ContainerResource) string {
	if image := r.Image(); image != "" {
		return image
	}
	return b.ImageTag(r)
}

// startError maps a Runner.Start failure to a CLI error. Engine errors
// already carry their exit code.
func startError(err error) error {
	var cliErr *model.CLIError
	switch {
	case errors.As(err, &cliErr):
		return err
	case errors.Is(err, apphost.ErrPortUnavailable):
		return model.WrapCLIError(model.ExitPortUnavailable, "host port is in use", err)
	default:
		return model.WrapCLIError(model.ExitGeneralError, "failed to start the packager", err)
	}
}

// stopRunner removes the started containers, even when ctx is already
// cancelled by a signal.
func stopRunner(ctx context.Context, runner *apphost.Runner) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		logger.Warn("failed to remove container", "error", err)
	}
}

// watchContainer polls the container until ctx ends. It returns an error
// when the container stops on its own; an interrupt returns nil.
func watchContainer(ctx context.Context, engine dockerEngine, res *apphost.ContainerResource) error {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		status, err := engine.ContainerHealth(ctx, res.ContainerID())
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if status == model.HealthUnhealthy {
			res.SetHealth(model.HealthUnhealthy)
			return model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("container for %s stopped unexpectedly", res.Name()))
		}
	}
}

func printUpResult(out io.Writer, r upResult) error {
	if IsJSONOutput() {
		return printJSON(out, r)
	}
	fmt.Fprintf(out, "Started %s\n", r.Name)
	fmt.Fprintf(out, "  Container: %s (%s)\n", r.Container, shortContainerID(r.ContainerID))
	fmt.Fprintf(out, "  Image:     %s\n", r.Image)
	fmt.Fprintf(out, "  URL:       %s\n", r.URL)
	fmt.Fprintf(out, "  Health:    %s\n", r.Health)
	if r.QRCode != "" {
		fmt.Fprintf(out, "  QR code:   %s\n", r.QRCode)
	}
	return nil
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
