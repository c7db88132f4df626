// Package security implements the request admission gate: client IP
// allowlisting, per-identity rate limiting, content-type filtering, and
// target-host allowlisting.
package security

import (
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/model"
)

// Decision is the outcome of a gate check for one request.
// When Allowed is false, StatusCode and Message describe the denial;
// JSONDetail selects the structured {"detail": ...} body used for target
// denials (all other denials use plaintext).
type Decision struct {
	Allowed    bool
	StatusCode int
	Message    string
	Reason     string // stable denial label for logs and metrics
	JSONDetail bool
	Identity   string // resolved client identity, for logging
}

var admit = &Decision{Allowed: true, StatusCode: http.StatusOK}

// bodyMethods are the methods whose content type is filtered.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Gate runs the admission checks in fixed order, short-circuiting on the
// first denial. Its pattern and CIDR sets are read-only after construction;
// the rate store carries its own locking.
type Gate struct {
	clientNets   []*net.IPNet
	store        Store
	contentTypes map[string]bool
	targets      *PatternSet
	logger       *slog.Logger

	enforceIP      bool
	enforceRate    bool
	enforceTargets bool
}

// NewGate builds a Gate from config. The caller supplies the rate store and
// target pattern set so both can be swapped in tests.
func NewGate(cfg *config.Config, store Store, targets *PatternSet, logger *slog.Logger) (*Gate, error) {
	g := &Gate{
		store:          store,
		contentTypes:   make(map[string]bool),
		targets:        targets,
		logger:         logger.With("component", "security_gate"),
		enforceIP:      cfg.Security.EnforceIPAllowlist,
		enforceRate:    cfg.Security.EnforceRateLimit,
		enforceTargets: cfg.Security.EnforceTargetAllowlist,
	}

	for _, cidr := range cfg.Security.AllowedClientCIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		g.clientNets = append(g.clientNets, ipnet)
	}

	for _, ct := range cfg.Security.AllowedContentTypes {
		g.contentTypes[strings.ToLower(ct)] = true
	}

	return g, nil
}

// Check evaluates the admission pipeline for req. target may be nil when no
// destination applies (e.g. preflight on a non-proxy path); the target check
// is then skipped. Later checks never run after a denial.
func (g *Gate) Check(req *model.InboundRequest, target *model.TargetURL) *Decision {
	identity := ResolveClientIP(req.Header, req.RemoteIP)

	if g.enforceIP {
		if d := g.checkIP(identity); d != nil {
			return d
		}
	}
	if g.enforceRate {
		if !g.store.Allow(identity) {
			g.logger.Warn("rate limit exceeded", "identity", identity)
			return &Decision{
				StatusCode: http.StatusTooManyRequests,
				Message:    "Rate limit exceeded. Try again later.",
				Reason:     "rate_limited",
				Identity:   identity,
			}
		}
	}
	if d := g.checkContentType(req); d != nil {
		d.Identity = identity
		return d
	}
	if g.enforceTargets && target != nil {
		if d := g.checkTarget(target); d != nil {
			d.Identity = identity
			return d
		}
	}

	d := *admit
	d.Identity = identity
	return &d
}

// ResolveClientIP returns the client identity used by the IP check and the
// rate limiter: X-Real-IP, else the first X-Forwarded-For entry, else the
// transport peer address.
func ResolveClientIP(header http.Header, remoteIP string) string {
	if ip := strings.TrimSpace(header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	return remoteIP
}

func (g *Gate) checkIP(identity string) *Decision {
	ip := net.ParseIP(identity)
	if ip != nil {
		for _, n := range g.clientNets {
			if n.Contains(ip) {
				return nil
			}
		}
	}
	g.logger.Warn("client IP denied", "identity", identity)
	return &Decision{
		StatusCode: http.StatusForbidden,
		Message:    "Access denied: client IP not allowed.",
		Reason:     "ip_denied",
		Identity:   identity,
	}
}

func (g *Gate) checkContentType(req *model.InboundRequest) *Decision {
	if !bodyMethods[req.Method] {
		return nil
	}
	raw := req.Header.Get("Content-Type")
	if raw == "" {
		// No declared type is acceptable; the upstream decides.
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(raw, ";", 2)[0]))
	}
	if g.contentTypes[strings.ToLower(mediaType)] {
		return nil
	}
	g.logger.Warn("content type denied", "content_type", raw)
	return &Decision{
		StatusCode: http.StatusBadRequest,
		Message:    "Content type not allowed: " + raw,
		Reason:     "content_type_denied",
	}
}

func (g *Gate) checkTarget(target *model.TargetURL) *Decision {
	if g.targets.Matches(target.Hostname()) {
		return nil
	}
	g.logger.Warn("target host denied", "host", target.Hostname())
	return &Decision{
		StatusCode: http.StatusForbidden,
		Message:    "Target host not in allowlist: " + target.Hostname(),
		Reason:     "target_denied",
		JSONDetail: true,
	}
}
