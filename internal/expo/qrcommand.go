package expo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mmr-tortoise/expo-container/internal/apphost"
	"github.com/mmr-tortoise/expo-container/internal/model"
	"github.com/mmr-tortoise/expo-container/internal/qr"
	"github.com/mmr-tortoise/expo-container/internal/tunnel"
)

const (
	QRCommandName        = "generate-and-open"
	QRCommandDisplayName = "Generate & open QR code"
	qrCommandDescription = "Render the packager's exp:// link as a QR code and open it."

	// DefaultURLTimeout bounds how long the command waits for the public URL.
	DefaultURLTimeout = 15 * time.Second
)

// MsgNoURL is the message of the soft no-op when there is no public URL.
const MsgNoURL = "no public URL available; QR code not generated"

// HealthGate enables the QR command only while the resource is Healthy.
func HealthGate(status model.HealthStatus) model.CommandState {
	if status == model.HealthHealthy {
		return model.CommandEnabled
	}
	return model.CommandDisabled
}

// QRCommand renders the packager's exp:// link into a PNG and opens it.
type QRCommand struct {
	source     tunnel.Source
	outputPath string
	timeout    time.Duration
	encoder    qr.Encoder
	launcher   qr.Launcher
	logger     *slog.Logger
}

// QROption configures a QRCommand.
type QROption func(*QRCommand)

// WithURLTimeout bounds the wait for the public URL. Zero or negative
// waits as long as the caller's context allows.
func WithURLTimeout(d time.Duration) QROption {
	return func(c *QRCommand) { c.timeout = d }
}

// WithEncoder replaces the PNG encoder.
func WithEncoder(enc qr.Encoder) QROption {
	return func(c *QRCommand) { c.encoder = enc }
}

// WithLauncher replaces the desktop launcher.
func WithLauncher(l qr.Launcher) QROption {
	return func(c *QRCommand) { c.launcher = l }
}

// WithQRLogger sets the logger.
func WithQRLogger(logger *slog.Logger) QROption {
	return func(c *QRCommand) { c.logger = logger }
}

// NewQRCommand returns a command that reads the public URL from source and
// writes the image to outputPath. source may be nil.
func NewQRCommand(source tunnel.Source, outputPath string, opts ...QROption) *QRCommand {
	c := &QRCommand{
		source:     source,
		outputPath: outputPath,
		timeout:    DefaultURLTimeout,
		encoder:    qr.NewPNGEncoder(),
		launcher:   qr.BrowserLauncher{},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithQRCommand attaches a QR command to r and returns r.
func WithQRCommand(r *apphost.ContainerResource, source tunnel.Source, outputPath string, opts ...QROption) *apphost.ContainerResource {
	c := NewQRCommand(source, outputPath, opts...)
	return r.WithCommand(c.Command())
}

// Command returns the apphost command descriptor for c.
func (c *QRCommand) Command() apphost.Command {
	return apphost.Command{
		Name:        QRCommandName,
		DisplayName: QRCommandDisplayName,
		Description: qrCommandDescription,
		Execute:     c.Execute,
		UpdateState: HealthGate,
	}
}

// OutputPath returns where the image is written.
func (c *QRCommand) OutputPath() string {
	return c.outputPath
}

// Execute generates the image and then opens whatever is at the output
// path. A generate failure is reported ahead of anything open does; when
// there was no URL the soft no-op is reported; otherwise open's outcome.
func (c *QRCommand) Execute(ctx context.Context) model.CommandResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "expo.qr")
	defer span.End()

	gen, produced := c.generate(ctx)
	opened := c.Open(ctx)
	span.SetAttributes(
		attribute.Bool("expo.qr.generated", produced),
		attribute.Bool("expo.qr.opened", opened.Success),
	)

	switch {
	case !gen.Success:
		span.RecordError(gen.Err)
		return gen
	case !produced:
		return gen
	case !opened.Success:
		span.RecordError(opened.Err)
	}
	return opened
}

// Generate writes the QR image for the current public URL. Having no URL
// yet, or a source that fails or times out, is a successful no-op.
func (c *QRCommand) Generate(ctx context.Context) model.CommandResult {
	res, _ := c.generate(ctx)
	return res
}

func (c *QRCommand) generate(ctx context.Context) (model.CommandResult, bool) {
	publicURL, ok := c.resolveURL(ctx)
	if !ok {
		return model.Succeeded(MsgNoURL), false
	}
	if c.outputPath == "" {
		return model.Failed(qr.ErrNoOutputPath), false
	}

	link, err := qr.ExpoURL(publicURL)
	if err != nil {
		return model.Failed(err), false
	}
	if err := c.encoder.Encode(ctx, link, c.outputPath); err != nil {
		return model.Failed(fmt.Errorf("write QR code for %s: %w", link, err)), false
	}

	c.logger.Info("generated QR code", "url", link, "path", c.outputPath)
	return model.Succeeded(fmt.Sprintf("QR code for %s written to %s", link, c.outputPath)), true
}

// resolveURL asks the source for the public URL within the timeout.
// Any failure means no URL.
func (c *QRCommand) resolveURL(ctx context.Context) (string, bool) {
	if c.source == nil {
		return "", false
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url, err := tunnel.Await(ctx, c.source)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		c.logger.Warn("timed out waiting for public URL", "timeout", c.timeout)
		return "", false
	case err != nil:
		c.logger.Warn("public URL unavailable", "error", err)
		return "", false
	case url == "":
		return "", false
	}
	return url, true
}

// Open opens the output file with the desktop's default handler.
func (c *QRCommand) Open(ctx context.Context) model.CommandResult {
	uri, err := qr.FileURI(c.outputPath)
	if err != nil {
		return model.Failed(err)
	}
	if err := c.launcher.Open(ctx, uri); err != nil {
		return model.Failed(fmt.Errorf("open %s: %w", uri, err))
	}
	return model.Succeeded("opened " + uri)
}
