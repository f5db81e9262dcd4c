package qr

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestGenerate_WritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "expo-qr.png")

	require.NoError(t, Generate(context.Background(), "exp://abc.ngrok.app", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.True(t, bytes.HasPrefix(data, pngMagic), "output should be a PNG")
}

func TestGenerate_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qr.png")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, Generate(context.Background(), "exp://host", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}

// TestGenerate_EmptyPath must fail explicitly rather than silently write a
// zero-length file somewhere.
func TestGenerate_EmptyPath(t *testing.T) {
	for _, path := range []string{"", "   "} {
		err := Generate(context.Background(), "exp://host", path)
		assert.ErrorIs(t, err, ErrNoOutputPath)
	}
}

func TestGenerate_UnwritablePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := Generate(context.Background(), "exp://host", filepath.Join(blocker, "qr.png"))
	assert.Error(t, err)
}

func TestGenerate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "qr.png")

	assert.ErrorIs(t, Generate(ctx, "exp://host", path), context.Canceled)
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestExpoURL(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"https://abc.ngrok.app", "exp://abc.ngrok.app", false},
		{"https://abc.ngrok.app/some/path?x=1", "exp://abc.ngrok.app", false},
		{"http://192.168.1.10:8082", "exp://192.168.1.10", false},
		{"http://[fd00::1]:8082/", "exp://[fd00::1]", false},
		{"https://abc.ngrok.app:443", "exp://abc.ngrok.app", false},
		{"abc.tunnel.dev", "exp://abc.tunnel.dev", false},
		{"  https://spaced.dev  ", "exp://spaced.dev", false},
		{"", "", true},
		{"https://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ExpoURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileURI(t *testing.T) {
	dir := t.TempDir()
	uri, err := FileURI(filepath.Join(dir, "qr.png"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(uri, "file:///"), uri)
	assert.True(t, strings.HasSuffix(uri, "/qr.png"), uri)

	_, err = FileURI("")
	assert.ErrorIs(t, err, ErrNoOutputPath)
}

func TestFuncAdapters(t *testing.T) {
	var gotContent, gotPath, gotURI string
	enc := EncoderFunc(func(_ context.Context, content, path string) error {
		gotContent, gotPath = content, path
		return nil
	})
	lau := LauncherFunc(func(_ context.Context, uri string) error {
		gotURI = uri
		return nil
	})

	require.NoError(t, enc.Encode(context.Background(), "exp://h", "/tmp/q.png"))
	require.NoError(t, lau.Open(context.Background(), "file:///tmp/q.png"))

	assert.Equal(t, "exp://h", gotContent)
	assert.Equal(t, "/tmp/q.png", gotPath)
	assert.Equal(t, "file:///tmp/q.png", gotURI)
}
