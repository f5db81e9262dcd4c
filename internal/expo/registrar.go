package expo

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmr-tortoise/expo-container/internal/apphost"
	"github.com/mmr-tortoise/expo-container/internal/assets"
	"github.com/mmr-tortoise/expo-container/internal/buildctx"
	"github.com/mmr-tortoise/expo-container/internal/model"
)

const tracerName = "github.com/mmr-tortoise/expo-container/internal/expo"

// Environment variables and build arguments set on the packager container.
const (
	EnvDevMode          = "EXPO_DEV_MODE"
	EnvPort             = "PORT"
	EnvPublicAPIURL     = "EXPO_PUBLIC_API_URL"
	EnvPackagerProxyURL = "EXPO_PACKAGER_PROXY_URL"

	BuildArgPort = "PORT"

	// EndpointName names the packager's HTTP endpoint.
	EndpointName = "http"
)

// Registrar adds Expo packager resources to a Builder. One Registrar
// shares a single extraction across all its registrations.
type Registrar struct {
	extractor *assets.Extractor
	merger    *buildctx.Merger
	logger    *slog.Logger
}

// NewRegistrar returns a Registrar. Nil arguments get defaults: a fresh
// Extractor, a Merger under the system temp directory, slog.Default().
func NewRegistrar(extractor *assets.Extractor, merger *buildctx.Merger, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = assets.NewExtractor(assets.WithLogger(logger))
	}
	if merger == nil {
		merger = buildctx.NewMerger(buildctx.WithLogger(logger))
	}
	return &Registrar{extractor: extractor, merger: merger, logger: logger}
}

// AddExpo registers the packager container described by opts on b.
//
// An empty BuildContext or an out-of-range port fails with
// *model.ArgumentError before anything touches the filesystem. Extraction
// and merge failures do not fail the registration: the degraded directory
// is used and a warning logged, so the image build reports the problem.
// Errors from b are returned as they are.
//
// When opts.PublicURL is nil the two URL variables are not set at all.
func (r *Registrar) AddExpo(ctx context.Context, b *apphost.Builder, opts model.ExpoOptions) (_ *apphost.ContainerResource, err error) {
	opts = opts.Normalized()

	_, span := otel.Tracer(tracerName).Start(ctx, "expo.register", trace.WithAttributes(
		attribute.String("expo.resource", opts.Name),
		attribute.Int("expo.port", opts.Port),
		attribute.Int("expo.target_port", opts.TargetPort),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := r.logger.With("resource", opts.Name)

	extracted := r.extractor.Extract()
	if extracted.Degraded {
		log.Warn("asset extraction failed; using fallback directory", "dir", extracted.Dir, "error", extracted.Err)
	}

	merged := r.merger.Prepare(opts.BuildContext, extracted.Dir)
	switch {
	case merged.Degraded:
		log.Warn("build context merge failed; building from the app directory", "dir", merged.Dir, "error", merged.Err)
	case merged.Merged:
		log.Debug("merged support files into build context", "dir", merged.Dir)
	}
	span.SetAttributes(
		attribute.Bool("expo.assets_degraded", extracted.Degraded),
		attribute.Bool("expo.context_merged", merged.Merged),
	)

	res, err := b.AddContainer(opts.Name)
	if err != nil {
		if cleanupErr := merged.Cleanup(); cleanupErr != nil {
			log.Warn("remove merged build context", "dir", merged.Dir, "error", cleanupErr)
		}
		return nil, err
	}

	target := strconv.Itoa(opts.TargetPort)
	res.WithDockerfile(merged.Dir, extracted.Path(assets.DockerfileName)).
		WithBuildArg(BuildArgPort, target).
		WithEnvironment(EnvDevMode, "true").
		WithEnvironment(EnvPort, target)

	if opts.PublicURL != nil {
		url := apphost.EnvValue(opts.PublicURL)
		res.WithEnvironmentFunc(EnvPublicAPIURL, url).
			WithEnvironmentFunc(EnvPackagerProxyURL, url)
	}

	res.WithHTTPEndpoint(opts.Port, opts.TargetPort, EndpointName)

	if merged.Merged {
		res.WithBuildCleanup(merged.Cleanup)
	}

	log.Info("registered expo packager", "context", merged.Dir, "port", opts.Port, "targetPort", opts.TargetPort)
	return res, nil
}

// AddExpoApp is AddExpo with the options passed individually. Zero ports
// mean model.DefaultPort; an empty name means model.DefaultResourceName.
func (r *Registrar) AddExpoApp(ctx context.Context, b *apphost.Builder, name, buildContext string,
	port, targetPort int, publicURL model.URLFunc,
) (*apphost.ContainerResource, error) {
	return r.AddExpo(ctx, b, model.ExpoOptions{
		Name:         name,
		Port:         port,
		TargetPort:   targetPort,
		PublicURL:    publicURL,
		BuildContext: buildContext,
	})
}
