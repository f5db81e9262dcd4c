// Package buildctx prepares the directory handed to the container image
// build.
//
// The packaged Dockerfile expects entrypoint.sh inside its build context.
// When the consumer's project directory already carries one, it is used as
// is. Otherwise the Merger copies the project into a fresh directory under
// <os.TempDir()>/expo-container-contexts/<uuid> and adds the support files
// from the extraction directory.
//
// Merging never fails the caller: on error the Result falls back to the
// consumer's directory and is marked Degraded, so the image build reports the
// missing file in the engine's own terms.
package buildctx
