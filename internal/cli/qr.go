// Package cli (qr.go) implements the standalone "expo-container qr"
// command, which renders a QR code for a packager that is already running
// somewhere, without touching Docker.
package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/expo-container/internal/expo"
	"github.com/mmr-tortoise/expo-container/internal/model"
	"github.com/mmr-tortoise/expo-container/internal/qr"
	"github.com/mmr-tortoise/expo-container/internal/tunnel"
)

type qrFlags struct {
	output     string
	url        string
	tunnelAPI  string
	tunnelName string
	timeout    time.Duration
	noOpen     bool
}

// NewQRCommand creates the "qr" cobra command.
func NewQRCommand() *cobra.Command {
	flags := &qrFlags{}

	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Render the packager's exp:// QR code",
		Long: `Render an exp:// QR code for a packager's public URL and open it.

The URL is either given with --url or read from a tunnel agent API with
--tunnel-api. When no URL is available within --timeout nothing is written
and the command still succeeds.

Examples:
  expo-container qr --output qr.png --url https://abc.ngrok.app
  expo-container qr --output qr.png --tunnel-api http://127.0.0.1:4040 --no-open`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runQR(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Path of the PNG to write (required)")
	cmd.Flags().StringVar(&flags.url, "url", "", "Public URL of the packager")
	cmd.Flags().StringVar(&flags.tunnelAPI, "tunnel-api", "", "Tunnel agent API to read the public URL from")
	cmd.Flags().StringVar(&flags.tunnelName, "tunnel-name", "", "Only consider the tunnel with this name")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", expo.DefaultURLTimeout, "How long to wait for the public URL")
	cmd.Flags().BoolVar(&flags.noOpen, "no-open", false, "Write the image without opening it")
	_ = cmd.MarkFlagRequired("output")
	cmd.MarkFlagsMutuallyExclusive("url", "tunnel-api")

	return cmd
}

func runQR(ctx context.Context, out io.Writer, flags *qrFlags) error {
	source := urlSource(flags.url, flags.tunnelAPI, flags.tunnelName)
	cmd := expo.NewQRCommand(source, flags.output, qrOptions(flags.timeout, flags.noOpen)...)

	var res model.CommandResult
	if flags.noOpen {
		res = cmd.Generate(ctx)
	} else {
		res = cmd.Execute(ctx)
	}
	return reportCommandResult(out, expo.QRCommandName, res)
}

// urlSource picks the public URL source: a fixed URL, a tunnel agent to
// poll, or none.
func urlSource(url, tunnelAPI, tunnelName string) tunnel.Source {
	switch {
	case url != "":
		return tunnel.Static(url)
	case tunnelAPI != "":
		return tunnel.NewPoller(tunnelAPI,
			tunnel.WithTunnelName(tunnelName),
			tunnel.WithPollerLogger(logger))
	default:
		return nil
	}
}

// qrOptions returns the QR command options shared by "qr" and "up".
// With noOpen the launcher only logs the file URI.
func qrOptions(timeout time.Duration, noOpen bool) []expo.QROption {
	opts := []expo.QROption{
		expo.WithURLTimeout(timeout),
		expo.WithQRLogger(logger),
	}
	if noOpen {
		opts = append(opts, expo.WithLauncher(qr.LauncherFunc(func(_ context.Context, uri string) error {
			logger.Info("QR code ready", "file", uri)
			return nil
		})))
	}
	return opts
}

// reportCommandResult prints a resource command's result and turns a
// failure into ExitCommandFailed.
func reportCommandResult(out io.Writer, name string, res model.CommandResult) error {
	if IsJSONOutput() {
		if err := printJSON(out, map[string]any{"command": name, "result": res}); err != nil {
			return err
		}
	} else if res.Success && res.Message != "" {
		_, _ = io.WriteString(out, res.Message+"\n")
	}
	if !res.Success {
		return model.WrapCLIError(model.ExitCommandFailed, name+" failed", res.Err)
	}
	return nil
}
