// Package health probes deployed application containers over HTTP.
package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout is the default timeout for a single probe.
const DefaultTimeout = 5 * time.Second

// Prober checks whether an HTTP endpoint answers.
type Prober interface {
	// Probe sends a GET to url and returns the status code and latency in
	// milliseconds. A transport failure is an error with status 0.
	Probe(ctx context.Context, url string) (status int, latencyMs int64, err error)
}

// HTTPProber implements Prober with net/http.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
}

// Option configures the HTTPProber.
type Option func(*HTTPProber)

// WithTimeout sets the probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *HTTPProber) {
		p.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *HTTPProber) {
		p.client = client
	}
}

// New creates a new HTTP prober.
func New(opts ...Option) *HTTPProber {
	p := &HTTPProber{
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		p.client = &http.Client{
			Timeout: p.timeout,
			Transport: &http.Transport{
				// #nosec G402 - probes hit local app containers that may
				// serve self-signed certificates; only reachability matters.
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true,
				},
				DisableKeepAlives: true,
			},
			// A redirect is an answer; don't follow it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return p
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, url string) (int, int64, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Reflow-HealthCheck/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, time.Since(start).Milliseconds(), fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, time.Since(start).Milliseconds(), nil
}

// URL builds the probe address for a container published on hostPort.
func URL(host string, hostPort int, path string) string {
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("http://%s:%d%s", host, hostPort, path)
}
