package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/sethvargo/go-envconfig"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/expo-container/internal/apphost"
	"github.com/mmr-tortoise/expo-container/internal/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXPO_CONTAINER_"

// DefaultURLTimeout bounds how long the QR command waits for a public URL.
const DefaultURLTimeout = 15 * time.Second

// FileNames are the project file names, in lookup order.
var FileNames = []string{
	"expo-container.yaml",
	"expo-container.yml",
	"expo-container.jsonc",
	"expo-container.json",
}

// Config is the resolved project configuration.
type Config struct {
	// Name is the resource name. Default "expo".
	Name string `yaml:"name" json:"name" env:"NAME, overwrite"`

	// Project prefixes image tags and container names.
	Project string `yaml:"project" json:"project" env:"PROJECT, overwrite"`

	// Port is the host port of the packager endpoint. Default 8082.
	Port int `yaml:"port" json:"port" env:"PORT, overwrite"`

	// TargetPort is the packager port inside the container. Default 8082.
	TargetPort int `yaml:"targetPort" json:"targetPort" env:"TARGET_PORT, overwrite"`

	// BuildContext is the consumer's app directory. Relative paths are
	// resolved against the directory holding the project file.
	BuildContext string `yaml:"buildContext" json:"buildContext" env:"BUILD_CONTEXT, overwrite"`

	// PublicURL is a fixed public URL for the packager.
	PublicURL string `yaml:"publicUrl" json:"publicUrl" env:"PUBLIC_URL, overwrite"`

	// TunnelAPI is the base URL of a tunnel agent API to poll for the
	// public URL instead. Mutually exclusive with PublicURL.
	TunnelAPI string `yaml:"tunnelApi" json:"tunnelApi" env:"TUNNEL_API, overwrite"`

	// TunnelName restricts the poll to one named tunnel.
	TunnelName string `yaml:"tunnelName" json:"tunnelName" env:"TUNNEL_NAME, overwrite"`

	// QROutput is where the QR code PNG is written. Empty disables the
	// QR step of `up`.
	QROutput string `yaml:"qrOutput" json:"qrOutput" env:"QR_OUTPUT, overwrite"`

	// URLTimeout bounds the wait for a public URL. Default 15s.
	URLTimeout Duration `yaml:"urlTimeout" json:"urlTimeout" env:"URL_TIMEOUT, overwrite"`

	// Image is a prebuilt packager image to run instead of building one from
	// BuildContext, e.g. an image published by CI.
	Image string `yaml:"image" json:"image" env:"IMAGE, overwrite"`

	// AutoPort picks another host port when Port is taken.
	AutoPort bool `yaml:"autoPort" json:"autoPort" env:"AUTO_PORT, overwrite"`

	// Source is the project file the values came from, if any.
	Source string `yaml:"-" json:"-"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Name:       model.DefaultResourceName,
		Port:       model.DefaultPort,
		TargetPort: model.DefaultPort,
		URLTimeout: Duration(DefaultURLTimeout),
	}
}

// Find returns the path of the project file in dir, or "" when there is
// none.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		fi, err := os.Stat(p)
		if err == nil && !fi.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return "", nil
}

// Load resolves the configuration for dir.
//
// When path is empty the project file is looked up in dir; a missing file
// is not an error. When path is set the file must exist. lookuper supplies
// the environment; nil means the process environment.
func Load(ctx context.Context, dir, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		found, err := Find(dir)
		if err != nil {
			return nil, err
		}
		path = found
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && explicit {
				return nil, model.WrapCLIError(model.ExitInvalidArgument,
					fmt.Sprintf("config file not found: %s", path), err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, filepath.Ext(path), cfg); err != nil {
			return nil, model.WrapCLIError(model.ExitInvalidArgument,
				fmt.Sprintf("invalid config file %s", path), err)
		}
		cfg.Source = path
		dir = filepath.Dir(path)
	}

	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidArgument, "invalid "+EnvPrefix+"* environment", err)
	}

	if cfg.BuildContext != "" && !filepath.IsAbs(cfg.BuildContext) {
		cfg.BuildContext = filepath.Join(dir, cfg.BuildContext)
	}
	return cfg, nil
}

// Decode parses a project file body into cfg. ext selects the format:
// ".yaml"/".yml" for YAML, ".json"/".jsonc" for JSONC. Keys absent from the
// file leave cfg untouched.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil

	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)

	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// Validate checks value ranges and combinations.
func (c *Config) Validate() error {
	if c.Name != "" {
		if err := apphost.ValidateName(c.Name); err != nil {
			return &model.ArgumentError{Param: "name", Reason: err.Error()}
		}
	}
	if c.Project != "" {
		if err := apphost.ValidateName(c.Project); err != nil {
			return &model.ArgumentError{Param: "project", Reason: err.Error()}
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &model.ArgumentError{Param: "port", Reason: fmt.Sprintf("%d is outside 1-65535", c.Port)}
	}
	if c.TargetPort < 1 || c.TargetPort > 65535 {
		return &model.ArgumentError{Param: "targetPort", Reason: fmt.Sprintf("%d is outside 1-65535", c.TargetPort)}
	}
	if c.Image != "" {
		if _, err := reference.ParseNormalizedNamed(c.Image); err != nil {
			return &model.ArgumentError{Param: "image", Reason: err.Error()}
		}
	}
	if c.URLTimeout < 0 {
		return &model.ArgumentError{Param: "urlTimeout", Reason: "must not be negative"}
	}
	if c.PublicURL != "" && c.TunnelAPI != "" {
		return &model.ArgumentError{Param: "publicUrl", Reason: "publicUrl and tunnelApi are mutually exclusive"}
	}
	return nil
}

// ExpoOptions converts the configuration to registration options. The
// public URL callback is left unset; the caller binds it to a URL source.
func (c *Config) ExpoOptions() model.ExpoOptions {
	return model.NewExpoOptions().
		WithName(c.Name).
		WithPort(c.Port).
		WithTargetPort(c.TargetPort).
		WithBuildContext(c.BuildContext)
}
