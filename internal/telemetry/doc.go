// Package telemetry configures the OpenTelemetry tracer provider for the
// CLI process and derives the matching environment for the packager
// container.
//
// Both sides read the standard variables:
//
//	OTEL_EXPORTER_OTLP_ENDPOINT  OTLP collector base URL; unset disables OTLP
//	OTEL_EXPORTER_OTLP_PROTOCOL  "grpc" or "http/protobuf"
//	OTEL_SERVICE_NAME            service.name resource attribute
//
// gRPC is chosen when the protocol says so, or, with no protocol set, when
// the endpoint uses a grpc:// or grpcs:// scheme or port 4317. Everything
// else is OTLP over HTTP. Without an endpoint the CLI writes spans to the
// log writer in verbose mode and records nothing otherwise.
package telemetry
