// Package forward issues upstream requests and follows redirects manually
// so that caller-supplied headers survive cross-host hops.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
)

// Doer abstracts the HTTP client so tests can substitute a fake transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// redirectStatuses maps redirect codes to whether they preserve the method
// and body (307/308) or rewrite to GET (301/302/303).
var redirectStatuses = map[int]bool{
	http.StatusMovedPermanently:  false,
	http.StatusFound:             false,
	http.StatusSeeOther:          false,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Forwarder sends requests upstream with redirect-following disabled at the
// client and a manual hop loop on top. Library redirect handling is not used
// because it drops the Authorization header when the redirect target's host
// changes, which breaks authenticated API proxying.
type Forwarder struct {
	client       Doer
	maxRedirects int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewForwarder creates a Forwarder with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics
// recording.
func NewForwarder(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Forwarder {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Forwarder{
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxRedirects: cfg.Upstream.MaxRedirects,
		logger:       logger.With("component", "forwarder"),
		metrics:      m,
	}
}

// NewForwarderWithClient creates a Forwarder over an explicit Doer.
// Intended for tests.
func NewForwarderWithClient(client Doer, maxRedirects int, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client:       client,
		maxRedirects: maxRedirects,
		logger:       logger.With("component", "forwarder"),
	}
}

// Forward issues the request and follows up to maxRedirects redirect hops,
// returning the final response. Headers, including Authorization, are sent
// unchanged on every hop. Hitting the redirect bound is not an error: the
// last redirect response is returned as-is.
func (f *Forwarder) Forward(ctx context.Context, method string, target *model.TargetURL, header http.Header, body []byte) (*model.ForwardResult, error) {
	current := target.URL
	redirects := 0

	for {
		resp, err := f.do(ctx, method, current.String(), header, body)
		if err != nil {
			return nil, err
		}

		preserveMethod, isRedirect := redirectStatuses[resp.StatusCode]
		location := resp.Header.Get("Location")
		if !isRedirect || location == "" || redirects >= f.maxRedirects {
			return f.readResult(resp, redirects)
		}

		next, err := current.Parse(location)
		if err != nil {
			f.logger.Warn("unresolvable redirect location", "location", location)
			return f.readResult(resp, redirects)
		}
		drainAndClose(resp.Body)

		if !preserveMethod && method != http.MethodGet {
			method = http.MethodGet
			body = nil
		}

		f.logger.Debug("following redirect",
			"status", resp.StatusCode,
			"location", next.String(),
			"hop", redirects+1,
		)

		current = next
		redirects++
	}
}

// do issues a single hop.
func (f *Forwarder) do(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for key, vals := range header {
		req.Header[key] = vals
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(start).Seconds()

	m := metrics.NormalizeMethod(method)
	if err != nil {
		if f.metrics != nil {
			f.metrics.UpstreamDuration.WithLabelValues(m).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if f.metrics != nil {
		f.metrics.UpstreamDuration.WithLabelValues(m).Observe(duration)
		f.metrics.UpstreamResponses.WithLabelValues(m, strconv.Itoa(resp.StatusCode)).Inc()
	}
	return resp, nil
}

// readResult drains the final response into a ForwardResult.
func (f *Forwarder) readResult(resp *http.Response, redirects int) (*model.ForwardResult, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	if f.metrics != nil {
		f.metrics.RedirectHops.Observe(float64(redirects))
	}

	return &model.ForwardResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Redirects:  redirects,
	}, nil
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}
