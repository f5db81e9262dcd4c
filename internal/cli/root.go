// Package cli implements the cobra-based CLI commands for expo-container.
//
// Each subcommand (up, down, list, qr, extract, prepare) is defined in its
// own file within this package. This file defines the root command that
// serves as the parent for all subcommands, handles global flags, and sets
// up logging and tracing before any subcommand runs.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/expo-container/internal/logging"
	"github.com/mmr-tortoise/expo-container/internal/model"
	"github.com/mmr-tortoise/expo-container/internal/telemetry"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// It also switches log lines on stderr to JSON.
	jsonOutput bool

	// verbose lowers the log level to Debug and, when no OTLP endpoint is
	// configured, prints spans to stderr.
	verbose bool
)

// logger is the CLI's logger, replaced in PersistentPreRunE once the
// global flags are parsed.
var logger = slog.Default()

func noopShutdown(context.Context) error { return nil }

// shutdownTelemetry flushes the tracer provider installed for this run.
var shutdownTelemetry telemetry.ShutdownFunc = noopShutdown

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
//
// The root command itself does not perform any action; it only provides
// help text and global flags. Actual functionality is provided by
// subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "expo-container",
		Short: "Run an Expo packager in a container",
		Long: `expo-container builds and runs the Expo packager of a React Native app in a
Docker container, publishes its port, and renders the packager's public URL
as an exp:// QR code that Expo Go can scan.

The app directory does not need its own Dockerfile: a packaged Dockerfile,
entrypoint.sh, and instrumentation.js are merged into the build context.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd)
		},
	}

	// PersistentFlags are inherited by all subcommands.
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(NewUpCommand())
	rootCmd.AddCommand(NewDownCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewQRCommand())
	rootCmd.AddCommand(NewExtractCommand())
	rootCmd.AddCommand(NewPrepareCommand())

	return rootCmd
}

// setup builds the logger and installs the tracer provider for this run.
// A broken OTEL_* environment is logged, not fatal.
func setup(cmd *cobra.Command) error {
	logger = logging.New(logging.Options{
		Level:  logging.LevelFor(verbose),
		JSON:   jsonOutput,
		Writer: cmd.ErrOrStderr(),
	})
	slog.SetDefault(logger)

	settings, err := telemetry.LoadSettings(cmd.Context(), nil)
	if err != nil {
		logger.Warn("ignoring telemetry settings", "error", err)
		return nil
	}
	shutdown, err := telemetry.Setup(cmd.Context(), settings, verbose, cmd.ErrOrStderr())
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		return nil
	}
	shutdownTelemetry = shutdown
	logger.Debug("tracing configured", "mode", settings.Mode(verbose), "service", settings.ServiceName)
	return nil
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
func Execute(rootCmd *cobra.Command) {
	if err := run(context.Background(), rootCmd); err != nil {
		code, message, underlying := describeError(err)
		printError(rootCmd.ErrOrStderr(), message, underlying)
		os.Exit(int(code))
	}
}

// run executes rootCmd and then flushes telemetry. Cobra skips post-run
// hooks when RunE fails, so the flush cannot live there.
func run(ctx context.Context, rootCmd *cobra.Command) error {
	err := rootCmd.ExecuteContext(ctx)
	flushTelemetry(ctx)
	return err
}

// flushTelemetry shuts down the tracer provider once; later calls are no-ops.
func flushTelemetry(ctx context.Context) {
	shutdown := shutdownTelemetry
	shutdownTelemetry = noopShutdown
	if err := shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Debug("flush traces", "error", err)
	}
}

// describeError maps an error to its exit code and the message/detail pair
// printed for it. CLIError carries its own code; ArgumentError means an
// invalid argument; anything else is a general error.
func describeError(err error) (model.ExitCode, string, error) {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code, cliErr.Message, cliErr.Err
	}
	var argErr *model.ArgumentError
	if errors.As(err, &argErr) {
		return model.ExitInvalidArgument, argErr.Error(), nil
	}
	return model.ExitGeneralError, err.Error(), nil
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{"message": message}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		// Errors go to stderr even in JSON mode; stdout is reserved for
		// successful command output.
		data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}
	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
