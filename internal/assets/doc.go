// Package assets embeds the container support files shipped with
// expo-container and extracts them to disk on demand.
//
// The embedded files are:
//   - Dockerfile: the fixed build definition for the packager image
//   - entrypoint.sh: starts the packager and polls it for readiness
//   - instrumentation.js: optional OpenTelemetry bootstrap for Node
//
// An Extractor writes them to <os.TempDir()>/expo-container exactly once per
// Extractor value. Extraction never fails loudly: an error produces a
// degraded Result pointing at the current directory, so the problem surfaces
// later during the image build with the engine's own diagnostics.
package assets
