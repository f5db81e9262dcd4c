// Package qr renders Expo deep-link QR codes and opens them with the
// platform's default application.
package qr

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/browser"
	"github.com/skip2/go-qrcode"
)

// ExpoScheme is the URL scheme the Expo Go app registers for deep links.
const ExpoScheme = "exp"

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 512

// ErrNoOutputPath is returned when a QR code is requested without a target file.
var ErrNoOutputPath = errors.New("qr: output path is empty")

// Encoder writes content as a QR code PNG to path.
type Encoder interface {
	Encode(ctx context.Context, content, path string) error
}

// Launcher opens a URI with the default application.
type Launcher interface {
	Open(ctx context.Context, uri string) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(ctx context.Context, content, path string) error

// Encode calls f.
func (f EncoderFunc) Encode(ctx context.Context, content, path string) error {
	return f(ctx, content, path)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, uri string) error

// Open calls f.
func (f LauncherFunc) Open(ctx context.Context, uri string) error {
	return f(ctx, uri)
}

// PNGEncoder encodes with github.com/skip2/go-qrcode.
type PNGEncoder struct {
	// Size is the image edge in pixels. Zero means DefaultSize.
	Size int

	// Level is the error recovery level. Zero value is qrcode.Low.
	Level qrcode.RecoveryLevel
}

// NewPNGEncoder returns a PNGEncoder with medium recovery.
func NewPNGEncoder() *PNGEncoder {
	return &PNGEncoder{Size: DefaultSize, Level: qrcode.Medium}
}

// Encode writes a PNG for content at path, creating parent directories and
// overwriting an existing file. An empty path fails with ErrNoOutputPath
// before anything is written.
func (e *PNGEncoder) Encode(ctx context.Context, content, path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrNoOutputPath
	}
	if content == "" {
		return errors.New("qr: content is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	size := e.Size
	if size == 0 {
		size = DefaultSize
	}

	png, err := qrcode.Encode(content, e.Level, size)
	if err != nil {
		return fmt.Errorf("qr: encode %q: %w", content, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("qr: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("qr: write %s: %w", path, err)
	}
	return nil
}

// Generate writes a QR code PNG for content at path with NewPNGEncoder.
func Generate(ctx context.Context, content, path string) error {
	return NewPNGEncoder().Encode(ctx, content, path)
}

// BrowserLauncher opens URIs with github.com/pkg/browser, which shells out to
// xdg-open, open, or rundll32 depending on the platform.
type BrowserLauncher struct{}

// Open hands uri to the platform launcher.
func (BrowserLauncher) Open(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := browser.OpenURL(uri); err != nil {
		return fmt.Errorf("qr: open %s: %w", uri, err)
	}
	return nil
}

// ExpoURL converts a public packager URL into an exp:// deep link built from
// the host name alone. Port, path, and query are dropped, e.g.
//
//	ExpoURL("https://abc.ngrok.app/path") -> "exp://abc.ngrok.app"
//	ExpoURL("http://192.168.1.10:8082")   -> "exp://192.168.1.10"
//
// Input without a scheme is treated as a bare host.
func ExpoURL(publicURL string) (string, error) {
	raw := strings.TrimSpace(publicURL)
	if raw == "" {
		return "", errors.New("qr: public URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("qr: parse %q: %w", publicURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("qr: %q has no host", publicURL)
	}
	if strings.Contains(host, ":") {
		// IPv6 literal.
		host = "[" + host + "]"
	}
	return (&url.URL{Scheme: ExpoScheme, Host: host}).String(), nil
}

// FileURI returns the file:// URI of path, made absolute first.
func FileURI(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrNoOutputPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("qr: resolve %s: %w", path, err)
	}
	abs = filepath.ToSlash(abs)
	if !strings.HasPrefix(abs, "/") {
		// Windows drive paths become file:///C:/...
		abs = "/" + abs
	}
	return (&url.URL{Scheme: "file", Path: abs}).String(), nil
}
