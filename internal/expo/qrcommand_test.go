package expo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/expo-container/internal/apphost"
	"github.com/mmr-tortoise/expo-container/internal/model"
	"github.com/mmr-tortoise/expo-container/internal/qr"
	"github.com/mmr-tortoise/expo-container/internal/tunnel"
)

// recorder captures encoder and launcher calls.
type recorder struct {
	encoded   []string
	paths     []string
	opened    []string
	encodeErr error
	openErr   error
}

func (r *recorder) options() []QROption {
	return []QROption{
		WithEncoder(qr.EncoderFunc(func(_ context.Context, content, path string) error {
			r.encoded = append(r.encoded, content)
			r.paths = append(r.paths, path)
			return r.encodeErr
		})),
		WithLauncher(qr.LauncherFunc(func(_ context.Context, uri string) error {
			r.opened = append(r.opened, uri)
			return r.openErr
		})),
		WithQRLogger(discardLogger()),
	}
}

func TestHealthGate(t *testing.T) {
	tests := []struct {
		status model.HealthStatus
		want   model.CommandState
	}{
		{model.HealthHealthy, model.CommandEnabled},
		{model.HealthDegraded, model.CommandDisabled},
		{model.HealthUnhealthy, model.CommandDisabled},
		{model.HealthUnknown, model.CommandDisabled},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, HealthGate(tt.status))
		})
	}
}

// TestQRCommand_Execute verifies the happy path: the exp:// link is
// encoded to the output path and the file is opened.
func TestQRCommand_Execute(t *testing.T) {
	// Arrange
	rec := &recorder{}
	out := filepath.Join(t.TempDir(), "qr.png")
	cmd := NewQRCommand(tunnel.Static("https://abc.ngrok.app/some/path"), out, rec.options()...)

	// Act
	res := cmd.Execute(context.Background())

	// Assert
	require.True(t, res.Success, res.Message)
	assert.Equal(t, []string{"exp://abc.ngrok.app"}, rec.encoded)
	assert.Equal(t, []string{out}, rec.paths)
	want, err := qr.FileURI(out)
	require.NoError(t, err)
	assert.Equal(t, []string{want}, rec.opened)
	assert.Equal(t, "opened "+want, res.Message)
}

// TestQRCommand_NoURL verifies that a missing URL is a soft no-op: nothing
// is encoded, open still runs, and the no-op is what gets reported.
func TestQRCommand_NoURL(t *testing.T) {
	sources := map[string]tunnel.Source{
		"nil source":   nil,
		"empty url":    tunnel.Static(""),
		"nil func":     tunnel.Func(nil),
		"source error": tunnel.Func(func(context.Context) (string, error) { return "", errors.New("no tunnel") }),
	}

	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{openErr: errors.New("nothing to open")}
			cmd := NewQRCommand(src, filepath.Join(t.TempDir(), "qr.png"), rec.options()...)

			res := cmd.Execute(context.Background())

			assert.True(t, res.Success)
			assert.Equal(t, MsgNoURL, res.Message)
			assert.Empty(t, rec.encoded)
			assert.Len(t, rec.opened, 1, "open runs even without a new image")
		})
	}
}

// TestQRCommand_URLTimeout verifies a source that never answers is cut off
// by the URL timeout and treated as no URL.
func TestQRCommand_URLTimeout(t *testing.T) {
	rec := &recorder{}
	slow := tunnel.Func(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cmd := NewQRCommand(slow, filepath.Join(t.TempDir(), "qr.png"),
		append(rec.options(), WithURLTimeout(20*time.Millisecond))...)

	start := time.Now()
	res := cmd.Generate(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, MsgNoURL, res.Message)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, rec.encoded)
}

// TestQRCommand_URLTimeout_SourceIgnoresContext verifies the URL timeout
// holds for a source that never returns on its own.
func TestQRCommand_URLTimeout_SourceIgnoresContext(t *testing.T) {
	// Arrange
	rec := &recorder{}
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	stuck := tunnel.Func(func(context.Context) (string, error) {
		<-block
		return "https://late.ngrok.app", nil
	})
	cmd := NewQRCommand(stuck, filepath.Join(t.TempDir(), "qr.png"),
		append(rec.options(), WithURLTimeout(50*time.Millisecond))...)

	// Act
	start := time.Now()
	res := cmd.Execute(context.Background())

	// Assert
	assert.True(t, res.Success)
	assert.Equal(t, MsgNoURL, res.Message)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, rec.encoded)
}

func TestQRCommand_GenerateFailures(t *testing.T) {
	boom := errors.New("disk full")

	tests := []struct {
		name    string
		source  tunnel.Source
		output  string
		encErr  error
		wantErr error
	}{
		{name: "empty output path", source: tunnel.Static("https://abc.ngrok.app"), wantErr: qr.ErrNoOutputPath},
		{name: "encoder error", source: tunnel.Static("https://abc.ngrok.app"), output: "qr.png", encErr: boom, wantErr: boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{encodeErr: tt.encErr}
			out := tt.output
			if out != "" {
				out = filepath.Join(t.TempDir(), out)
			}
			cmd := NewQRCommand(tt.source, out, rec.options()...)

			res := cmd.Execute(context.Background())

			assert.False(t, res.Success)
			require.ErrorIs(t, res.Err, tt.wantErr)
		})
	}
}

// TestQRCommand_ExecuteReportsGenerateFirst verifies a generate failure
// wins over an open failure.
func TestQRCommand_ExecuteReportsGenerateFirst(t *testing.T) {
	encErr := errors.New("encode failed")
	rec := &recorder{encodeErr: encErr, openErr: errors.New("open failed")}
	cmd := NewQRCommand(tunnel.Static("https://abc.ngrok.app"), filepath.Join(t.TempDir(), "qr.png"), rec.options()...)

	res := cmd.Execute(context.Background())

	assert.False(t, res.Success)
	require.ErrorIs(t, res.Err, encErr)
	assert.Len(t, rec.opened, 1)
}

func TestQRCommand_OpenFailure(t *testing.T) {
	openErr := errors.New("no desktop")
	rec := &recorder{openErr: openErr}
	cmd := NewQRCommand(tunnel.Static("https://abc.ngrok.app"), filepath.Join(t.TempDir(), "qr.png"), rec.options()...)

	res := cmd.Execute(context.Background())

	assert.False(t, res.Success)
	require.ErrorIs(t, res.Err, openErr)
	assert.Len(t, rec.encoded, 1)
}

func TestQRCommand_OpenWithoutOutputPath(t *testing.T) {
	rec := &recorder{}
	cmd := NewQRCommand(nil, "", rec.options()...)

	res := cmd.Open(context.Background())

	assert.False(t, res.Success)
	require.ErrorIs(t, res.Err, qr.ErrNoOutputPath)
	assert.Empty(t, rec.opened)
}

// TestWithQRCommand verifies the command is attached and gated by the
// resource's health.
func TestWithQRCommand(t *testing.T) {
	// Arrange
	rec := &recorder{}
	b := apphost.NewBuilder("test", discardLogger())
	res, err := b.AddContainer("expo")
	require.NoError(t, err)

	// Act
	WithQRCommand(res, tunnel.Static("https://abc.ngrok.app"), filepath.Join(t.TempDir(), "qr.png"), rec.options()...)

	// Assert
	cmd, ok := res.Command(QRCommandName)
	require.True(t, ok)
	assert.Equal(t, QRCommandDisplayName, cmd.DisplayName)

	state, ok := res.CommandState(QRCommandName)
	require.True(t, ok)
	assert.Equal(t, model.CommandDisabled, state, "a fresh resource is not healthy yet")
	blocked := res.ExecuteCommand(context.Background(), QRCommandName)
	require.ErrorIs(t, blocked.Err, apphost.ErrCommandDisabled)
	assert.Empty(t, rec.encoded)

	res.SetHealth(model.HealthHealthy)
	state, _ = res.CommandState(QRCommandName)
	assert.Equal(t, model.CommandEnabled, state)
	result := res.ExecuteCommand(context.Background(), QRCommandName)
	assert.True(t, result.Success, result.Message)
	assert.Equal(t, []string{"exp://abc.ngrok.app"}, rec.encoded)

	res.SetHealth(model.HealthUnhealthy)
	state, _ = res.CommandState(QRCommandName)
	assert.Equal(t, model.CommandDisabled, state)
}
