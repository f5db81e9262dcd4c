// Package expo registers an Expo packager container on an application
// host and attaches its QR code command.
//
// Registrar.AddExpo extracts the packaged Dockerfile, entrypoint.sh and
// instrumentation.js, merges them into the app's build context when the
// app does not ship its own entrypoint, and configures the container
// resource: the PORT build argument, the packager environment, and an HTTP
// endpoint. The public URL variables are resolved when the container
// starts, not when it is registered.
//
// WithQRCommand adds the "generate-and-open" command, enabled only while
// the resource is Healthy. It renders exp://<host> for the packager's
// public URL into a PNG and opens it with the desktop's default viewer.
package expo
