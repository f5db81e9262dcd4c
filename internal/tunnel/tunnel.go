// Package tunnel provides sources for the packager's public URL.
//
// A Source is polled by consumers with a context carrying their own deadline,
// so a tunnel that never comes up costs at most that deadline. Sources
// report "not available yet" as an empty string with a nil error.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

// Source yields the public URL of the packager.
type Source interface {
	PublicURL(ctx context.Context) (string, error)
}

// Func adapts a model.URLFunc to Source. A nil Func yields no URL.
type Func model.URLFunc

// PublicURL calls f.
func (f Func) PublicURL(ctx context.Context) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx)
}

// Static returns a Source that always yields url.
func Static(url string) Source {
	return Func(func(context.Context) (string, error) { return url, nil })
}

// URLFunc converts a Source into a model.URLFunc. A nil Source yields nil.
func URLFunc(s Source) model.URLFunc {
	if s == nil {
		return nil
	}
	return s.PublicURL
}

// Await calls s.PublicURL and returns its result, or ctx.Err() as soon as
// ctx is done. A source that ignores its context keeps running in the
// background; its late result is dropped.
func Await(ctx context.Context, s Source) (string, error) {
	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		url, err := s.PublicURL(ctx)
		done <- result{url, err}
	}()

	select {
	case r := <-done:
		return r.url, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// DefaultPollInterval is the pause between tunnel API requests.
const DefaultPollInterval = time.Second

// ErrNoTunnel is returned by Lookup when the agent lists no matching tunnel.
var ErrNoTunnel = errors.New("tunnel: no matching tunnel published")

// Poller reads the public URL from a local tunnel agent API compatible with
// ngrok's (GET /api/tunnels). PublicURL polls until a matching tunnel is
// listed or ctx is done.
type Poller struct {
	client   *resty.Client
	name     string
	limiter  *rate.Limiter
	logger   *slog.Logger
	insecure bool
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithTunnelName restricts the poller to the tunnel with this name.
func WithTunnelName(name string) PollerOption {
	return func(p *Poller) { p.name = name }
}

// WithInterval sets the pause between polls.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithHTTPTunnels accepts plain http public URLs. By default only https
// tunnels are returned.
func WithHTTPTunnels() PollerOption {
	return func(p *Poller) { p.insecure = true }
}

// WithPollerLogger sets the logger. Defaults to slog.Default().
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// NewPoller returns a Poller for the agent API at apiURL
// (e.g. "http://127.0.0.1:4040").
func NewPoller(apiURL string, opts ...PollerOption) *Poller {
	p := &Poller{
		client: resty.New().
			SetBaseURL(strings.TrimRight(apiURL, "/")).
			SetHeader("Accept", "application/json").
			SetTimeout(5 * time.Second),
		limiter: rate.NewLimiter(rate.Every(DefaultPollInterval), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

type tunnelList struct {
	Tunnels []tunnelEntry `json:"tunnels"`
}

type tunnelEntry struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
}

// Lookup makes a single request to the agent API and returns the matching
// public URL, or ErrNoTunnel.
func (p *Poller) Lookup(ctx context.Context) (string, error) {
	var list tunnelList
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&list).
		Get("/api/tunnels")
	if err != nil {
		return "", fmt.Errorf("tunnel: query agent: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("tunnel: agent returned %s", resp.Status())
	}

	for _, t := range list.Tunnels {
		if p.name != "" && t.Name != p.name {
			continue
		}
		if strings.HasPrefix(t.PublicURL, "https://") {
			return t.PublicURL, nil
		}
		if p.insecure && strings.HasPrefix(t.PublicURL, "http://") {
			return t.PublicURL, nil
		}
	}
	return "", ErrNoTunnel
}

// PublicURL polls Lookup until it succeeds or ctx ends. Agent errors are
// retried; the last one is returned when ctx expires.
func (p *Poller) PublicURL(ctx context.Context) (string, error) {
	var lastErr error
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			// Wait fails early when the next token lies past the deadline;
			// the deadline itself is at most one interval away.
			<-ctx.Done()
			if lastErr != nil {
				return "", fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			}
			return "", ctx.Err()
		}

		url, err := p.Lookup(ctx)
		if err == nil {
			return url, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		p.logger.Debug("tunnel not ready", "error", err)
	}
}
