// Package target extracts and validates destination URLs from inbound
// request paths.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"cors-proxy-go/internal/model"
)

// ErrInvalidPath is returned when the request path does not carry a proxy target.
var ErrInvalidPath = errors.New("path must be of the form /proxy/<url>")

// ErrInvalidTargetSyntax is returned when the embedded URL fails validation.
var ErrInvalidTargetSyntax = errors.New("target must be a valid https:// URL")

const proxyPrefix = "/proxy/"

// strictTargetPattern requires an https scheme, a dotted hostname, and an
// optional path/query. Anything else (other schemes, userinfo tricks,
// bare words) is rejected before any network work happens.
var strictTargetPattern = regexp.MustCompile(`^https://[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z0-9-]+(?::\d{1,5})?(?:/[^\s]*)?$`)

// Extractor turns raw request paths into validated TargetURLs.
// In strict mode only /proxy/https://host... paths are accepted; in legacy
// mode any absolute URL after the (optional) proxy prefix passes through.
type Extractor struct {
	strict bool
}

// NewExtractor creates an Extractor. strict selects the https-only grammar.
func NewExtractor(strict bool) *Extractor {
	return &Extractor{strict: strict}
}

// Extract parses the destination URL embedded in path.
// It performs no network I/O.
func (e *Extractor) Extract(path string) (*model.TargetURL, error) {
	raw, err := e.rawTarget(path)
	if err != nil {
		return nil, err
	}

	if e.strict && !strictTargetPattern.MatchString(raw) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTargetSyntax, raw)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTargetSyntax, raw)
	}

	return &model.TargetURL{URL: u}, nil
}

// rawTarget strips the routing prefix and returns the embedded URL string.
func (e *Extractor) rawTarget(path string) (string, error) {
	if e.strict {
		if !strings.HasPrefix(path, proxyPrefix) {
			return "", fmt.Errorf("%w: got %q", ErrInvalidPath, path)
		}
		raw := strings.TrimPrefix(path, proxyPrefix)
		if raw == "" {
			return "", fmt.Errorf("%w: got %q", ErrInvalidPath, path)
		}
		return raw, nil
	}

	// Legacy mode: the whole path after the leading slash is the URL, with
	// an optional proxy/ prefix tolerated so both profiles share one grammar.
	raw := strings.TrimPrefix(path, "/")
	raw = strings.TrimPrefix(raw, "proxy/")
	if raw == "" {
		return "", fmt.Errorf("%w: got %q", ErrInvalidPath, path)
	}
	return raw, nil
}
