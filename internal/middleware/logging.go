// Package middleware provides Echo middleware for logging and security.
package middleware

import (
	"log/slog"
	"net"
	"time"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/security"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// The client field uses the same identity resolution as the security gate
// (X-Real-IP, then X-Forwarded-For, then peer address), so log lines line up
// with rate-limit and IP-allowlist decisions.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			peer := req.RemoteAddr
			if host, _, splitErr := net.SplitHostPort(peer); splitErr == nil {
				peer = host
			}

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"client", security.ResolveClientIP(req.Header, peer),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
