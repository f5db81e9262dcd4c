package apphost

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Prober checks whether an endpoint is ready.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) error
}

// DefaultProbePath is the packager's readiness route. Metro answers it with
// "packager-status:running".
const DefaultProbePath = "/status"

// HTTPProber issues GET <endpoint URL><Path> and treats any 2xx as ready.
type HTTPProber struct {
	client *resty.Client
	path   string
}

// NewHTTPProber returns an HTTPProber for path (DefaultProbePath when empty).
func NewHTTPProber(path string) *HTTPProber {
	if path == "" {
		path = DefaultProbePath
	}
	return &HTTPProber{
		client: resty.New().SetTimeout(2 * time.Second),
		path:   path,
	}
}

// Probe performs one readiness request.
func (p *HTTPProber) Probe(ctx context.Context, ep Endpoint) error {
	resp, err := p.client.R().SetContext(ctx).Get(ep.URL() + p.path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", ep.URL(), err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("probe %s: status %s", ep.URL(), resp.Status())
	}
	return nil
}
