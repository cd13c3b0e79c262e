package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultProbeAttemptTimeout bounds a single readiness request.
const DefaultProbeAttemptTimeout = 5 * time.Second

// Prober checks whether a unit's server answers.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber probes with a plain GET. Any 2xx or 3xx response is ready;
// redirects are not followed since a login redirect already proves the
// server is up.
type HTTPProber struct {
	client         *http.Client
	attemptTimeout time.Duration
}

// NewHTTPProber creates a prober with the given per-attempt timeout. A
// non-positive timeout uses DefaultProbeAttemptTimeout.
func NewHTTPProber(attemptTimeout time.Duration) *HTTPProber {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultProbeAttemptTimeout
	}
	return &HTTPProber{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		attemptTimeout: attemptTimeout,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("probe %s: unexpected status %d", url, resp.StatusCode)
}
