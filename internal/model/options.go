package model

import "context"

// DefaultPort is the packager port used for both the published host port and
// the container port when the caller does not pick one. Expo's own default is
// 8081; 8082 keeps the container clear of a packager running on the host.
const DefaultPort = 8082

// DefaultResourceName is the resource name used by the registrar when
// ExpoOptions.Name is empty.
const DefaultResourceName = "expo"

// URLFunc produces the public URL of the packager. It is invoked lazily
// (at container start time, or when a command runs), so the value it returns
// may change between calls, e.g. once a tunnel publishes its address.
//
// An empty string with a nil error means "no URL yet".
type URLFunc func(ctx context.Context) (string, error)

// ExpoOptions is the configuration record for registering an Expo packager
// container resource.
//
// All fields are plain exported values and may be set independently.
// NewExpoOptions returns the defaults; the zero value is also usable but
// leaves the ports at 0, which the registrar replaces with DefaultPort.
type ExpoOptions struct {
	// Name is the resource name shown by the application host.
	Name string `json:"name"`

	// Port is the host port published for the packager's HTTP endpoint.
	Port int `json:"port"`

	// TargetPort is the port the packager listens on inside the container.
	// It is also passed to the image build as the PORT build argument.
	TargetPort int `json:"targetPort"`

	// PublicURL produces the URL devices use to reach the packager.
	// Both EXPO_PUBLIC_API_URL and EXPO_PACKAGER_PROXY_URL are bound to it.
	PublicURL URLFunc `json:"-"`

	// BuildContext is the consumer's project directory handed to the image
	// build. It must not be empty.
	BuildContext string `json:"buildContext"`
}

// NewExpoOptions returns ExpoOptions populated with defaults:
// both ports set to DefaultPort, name and build context empty.
func NewExpoOptions() ExpoOptions {
	return ExpoOptions{
		Port:       DefaultPort,
		TargetPort: DefaultPort,
	}
}

// WithName returns a copy of o with Name set.
func (o ExpoOptions) WithName(name string) ExpoOptions {
	o.Name = name
	return o
}

// WithPort returns a copy of o with Port set.
func (o ExpoOptions) WithPort(port int) ExpoOptions {
	o.Port = port
	return o
}

// WithTargetPort returns a copy of o with TargetPort set.
func (o ExpoOptions) WithTargetPort(port int) ExpoOptions {
	o.TargetPort = port
	return o
}

// WithPublicURL returns a copy of o with PublicURL set.
func (o ExpoOptions) WithPublicURL(fn URLFunc) ExpoOptions {
	o.PublicURL = fn
	return o
}

// WithBuildContext returns a copy of o with BuildContext set.
func (o ExpoOptions) WithBuildContext(dir string) ExpoOptions {
	o.BuildContext = dir
	return o
}

// Normalized returns a copy of o with zero ports replaced by DefaultPort and
// an empty name replaced by DefaultResourceName. BuildContext is left alone;
// Validate reports it.
func (o ExpoOptions) Normalized() ExpoOptions {
	if o.Name == "" {
		o.Name = DefaultResourceName
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.TargetPort == 0 {
		o.TargetPort = DefaultPort
	}
	return o
}

// Validate checks the registration-time invariants of the options.
// It is meant to run on Normalized options and returns an *ArgumentError
// naming the offending field.
func (o ExpoOptions) Validate() error {
	if o.BuildContext == "" {
		return &ArgumentError{Param: "BuildContext", Reason: "build context path must not be empty"}
	}
	if o.Port < 1 || o.Port > 65535 {
		return &ArgumentError{Param: "Port", Reason: "port out of range (1-65535)"}
	}
	if o.TargetPort < 1 || o.TargetPort > 65535 {
		return &ArgumentError{Param: "TargetPort", Reason: "port out of range (1-65535)"}
	}
	return nil
}
