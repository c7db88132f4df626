package handler

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/forward"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/security"
	"cors-proxy-go/internal/target"
)

// forwardableRequestHeaders are the only request headers sent upstream.
var forwardableRequestHeaders = []string{
	"Authorization",
	"Accept",
	"Content-Type",
	"User-Agent",
	"If-Match",
	"If-None-Match",
	"Origin",
	"Referer",
}

const (
	allowMethods = "GET, POST, OPTIONS, PUT, PATCH, DELETE"
	allowHeaders = "*"
)

// ProxyHandler runs the admission pipeline and relays the upstream response.
type ProxyHandler struct {
	extractor *target.Extractor
	gate      *security.Gate
	forwarder *forward.Forwarder
	logger    *slog.Logger
	metrics   *metrics.Metrics

	forwardXHeaders bool
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional;
// pass nil to disable denial counters.
func NewProxyHandler(ex *target.Extractor, gate *security.Gate, fw *forward.Forwarder, logger *slog.Logger, m *metrics.Metrics, forwardXHeaders bool) *ProxyHandler {
	return &ProxyHandler{
		extractor:       ex,
		gate:            gate,
		forwarder:       fw,
		logger:          logger.With("component", "proxy_handler"),
		metrics:         m,
		forwardXHeaders: forwardXHeaders,
	}
}

// Handle runs extract → gate → forward → relay for one request.
// Every response, denials included, carries Access-Control-Allow-Origin: *.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")

	if req.Method == http.MethodOptions {
		return h.preflight(c)
	}

	in, err := h.inbound(c)
	if err != nil {
		return h.deny(c, "body_read_failed", http.StatusBadRequest, "failed to read request body")
	}

	tgt, err := h.extractor.Extract(h.rawPath(req))
	if err != nil {
		reason := "invalid_target"
		if errors.Is(err, target.ErrInvalidPath) {
			reason = "invalid_path"
		}
		return h.deny(c, reason, http.StatusBadRequest, err.Error())
	}

	if d := h.gate.Check(in, tgt); !d.Allowed {
		return h.denyDecision(c, d)
	}

	start := time.Now()
	result, err := h.forwarder.Forward(req.Context(), in.Method, tgt, h.outboundHeaders(in.Header), in.Body)
	if err != nil {
		h.logger.Error("upstream failure",
			"err", err,
			"method", in.Method,
			"target", tgt.String(),
		)
		if h.metrics != nil {
			h.metrics.Denials.WithLabelValues("upstream_failure").Inc()
		}
		return c.String(http.StatusBadGateway, "upstream request failed: "+err.Error())
	}

	h.logger.Info("forwarded",
		"method", in.Method,
		"target", tgt.String(),
		"status", result.StatusCode,
		"redirects", result.Redirects,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return h.relay(c, result)
}

// preflight answers CORS preflight requests directly, after the gate.
// The forwarder is never involved.
func (h *ProxyHandler) preflight(c echo.Context) error {
	in, err := h.inbound(c)
	if err != nil {
		return h.deny(c, "body_read_failed", http.StatusBadRequest, "failed to read request body")
	}

	// Preflight paths usually embed a target; gate on it when they do.
	tgt, _ := h.extractor.Extract(h.rawPath(c.Request()))

	if d := h.gate.Check(in, tgt); !d.Allowed {
		return h.denyDecision(c, d)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderAccessControlAllowMethods, allowMethods)
	header.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)
	return c.NoContent(http.StatusOK)
}

// relay writes the final upstream response back to the caller. Every header
// except Content-Encoding is copied; the body bytes are already decoded, so
// re-declaring the original encoding would corrupt what the caller receives.
func (h *ProxyHandler) relay(c echo.Context, result *model.ForwardResult) error {
	header := c.Response().Header()
	for key, vals := range result.Header {
		if strings.EqualFold(key, "Content-Encoding") {
			continue
		}
		for _, v := range vals {
			header.Add(key, v)
		}
	}

	contentType := result.Header.Get("Content-Type")
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(result.StatusCode, contentType, result.Body)
}

// inbound snapshots the echo request into the pipeline's immutable form.
// The body is buffered once so the forwarder can replay it across redirect
// hops; BodyLimit middleware bounds its size.
func (h *ProxyHandler) inbound(c echo.Context) (*model.InboundRequest, error) {
	req := c.Request()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
	}

	remoteIP := req.RemoteAddr
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		remoteIP = host
	}

	return &model.InboundRequest{
		Method:   req.Method,
		Path:     req.URL.Path,
		Header:   req.Header,
		Body:     body,
		RemoteIP: remoteIP,
	}, nil
}

// rawPath reattaches the query string, which the server splits off the
// request path but which belongs to the embedded target URL.
func (h *ProxyHandler) rawPath(req *http.Request) string {
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	return path
}

// outboundHeaders builds the upstream header set from the inbound one.
// Only allowlisted headers cross the proxy; the strict profile additionally
// passes any X-* header through.
func (h *ProxyHandler) outboundHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	if h.forwardXHeaders {
		for key, vals := range src {
			if strings.HasPrefix(strings.ToLower(key), "x-") {
				dst[http.CanonicalHeaderKey(key)] = vals
			}
		}
	}
	return dst
}

func (h *ProxyHandler) denyDecision(c echo.Context, d *security.Decision) error {
	h.logger.Warn("request denied",
		"reason", d.Reason,
		"identity", d.Identity,
		"status", d.StatusCode,
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.Denials.WithLabelValues(d.Reason).Inc()
	}
	if d.JSONDetail {
		return c.JSON(d.StatusCode, map[string]string{"detail": d.Message})
	}
	return c.String(d.StatusCode, d.Message)
}

func (h *ProxyHandler) deny(c echo.Context, reason string, status int, msg string) error {
	h.logger.Warn("request denied",
		"reason", reason,
		"status", status,
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.Denials.WithLabelValues(reason).Inc()
	}
	return c.String(status, msg)
}
