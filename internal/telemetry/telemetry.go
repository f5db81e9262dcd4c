package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultServiceName is used when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "expo-container"

// Exporter modes reported by Settings.Mode.
const (
	ModeGRPC   = "grpc"
	ModeHTTP   = "http"
	ModeStdout = "stdout"
	ModeNone   = "none"
)

// Settings holds the OTEL_* configuration.
type Settings struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Protocol    string `env:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	ServiceName string `env:"OTEL_SERVICE_NAME, default=expo-container"`
}

// LoadSettings reads Settings through lookuper; nil means the process
// environment.
func LoadSettings(ctx context.Context, lookuper envconfig.Lookuper) (Settings, error) {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	var s Settings
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &s, Lookuper: lookuper}); err != nil {
		return Settings{}, fmt.Errorf("telemetry settings: %w", err)
	}
	return s, nil
}

// UseGRPC reports whether the endpoint should be reached over gRPC. An
// explicit protocol always wins over the endpoint shape.
func (s Settings) UseGRPC() bool {
	proto := strings.ToLower(strings.TrimSpace(s.Protocol))
	if proto == "grpc" {
		return true
	}
	if proto != "" {
		return false
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "grpc", "grpcs":
		return true
	}
	return u.Port() == "4317"
}

// Mode returns the exporter Setup would install.
func (s Settings) Mode(verbose bool) string {
	switch {
	case s.Endpoint != "" && s.UseGRPC():
		return ModeGRPC
	case s.Endpoint != "":
		return ModeHTTP
	case verbose:
		return ModeStdout
	default:
		return ModeNone
	}
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer provider and propagator. stdout
// receives spans in ModeStdout. In ModeNone the global no-op provider is
// left in place and the returned ShutdownFunc does nothing.
func Setup(ctx context.Context, s Settings, verbose bool, stdout io.Writer) (ShutdownFunc, error) {
	mode := s.Mode(verbose)
	if mode == ModeNone {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, s, mode, stdout)
	if err != nil {
		return nil, fmt.Errorf("create %s trace exporter: %w", mode, err)
	}

	name := s.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", name)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

func newExporter(ctx context.Context, s Settings, mode string, stdout io.Writer) (sdktrace.SpanExporter, error) {
	switch mode {
	case ModeGRPC:
		u, err := url.Parse(s.Endpoint)
		if err != nil || u.Host == "" {
			// Bare "host:port" endpoints are common for gRPC.
			return otlptracegrpc.New(ctx,
				otlptracegrpc.WithEndpoint(s.Endpoint),
				otlptracegrpc.WithInsecure())
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(u.Host)}
		if scheme := strings.ToLower(u.Scheme); scheme != "https" && scheme != "grpcs" {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)

	case ModeHTTP:
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(TracesURL(s.Endpoint)))

	default:
		if stdout == nil {
			stdout = io.Discard
		}
		return stdouttrace.New(stdouttrace.WithWriter(stdout), stdouttrace.WithPrettyPrint())
	}
}

// TracesURL appends the OTLP/HTTP traces path to a base endpoint.
func TracesURL(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(base, "/v1/traces") {
		return base
	}
	return base + "/v1/traces"
}

// ContainerEnv returns the OTEL_* variables to hand to a container whose
// process should report as service. Loopback endpoints are rewritten to
// host.docker.internal so the container reaches the collector on the host.
// Nil when no endpoint is configured.
func (s Settings) ContainerEnv(service string) [][2]string {
	if s.Endpoint == "" {
		return nil
	}
	env := [][2]string{{"OTEL_EXPORTER_OTLP_ENDPOINT", containerEndpoint(s.Endpoint)}}
	if s.Protocol != "" {
		env = append(env, [2]string{"OTEL_EXPORTER_OTLP_PROTOCOL", s.Protocol})
	}
	return append(env, [2]string{"OTEL_SERVICE_NAME", service})
}

func containerEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		host := "host.docker.internal"
		if p := u.Port(); p != "" {
			host += ":" + p
		}
		u.Host = host
		return u.String()
	}
	return endpoint
}
