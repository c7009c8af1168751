package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const skipLoggingKey = "skip_logging"

// NoiseFilter marks scanner traffic so Logging skips it. It must run after
// Logging in the chain so its mark is set before Logging reads it.
func NoiseFilter(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request first
		c.Next()

		// Don't filter authenticated requests
		if c.GetBool(AuthenticatedKey) {
			return
		}

		status := c.Writer.Status()

		// Unknown routes, wrong methods and probes of well-known scanner paths
		if (status == http.StatusNotFound && c.FullPath() == "") ||
			status == http.StatusMethodNotAllowed ||
			(isScannerPath(path) && status >= 400) {
			c.Set(skipLoggingKey, true)
			logger.Debug("Scanner request filtered",
				"path", path,
				"method", method,
				"status", status,
				"client_ip", c.ClientIP())
		}
	}
}

var (
	scannerPrefixes = []string{
		"/admin", "/phpmyadmin", "/wp-admin", "/wp-login", "/.env", "/.git",
		"/backup", "/test", "/debug", "/.aws", "/console", "/actuator",
		"/manager", "/cgi-bin", "/.well-known", "/robots.txt", "/favicon.ico",
		"/sitemap.xml", "/api/v1/console",
	}
	scannerSuffixes = []string{
		".php", ".asp", ".aspx", ".jsp", ".bak", ".old", ".sql", ".zip", ".tar", ".gz",
	}
)

// isScannerPath reports paths commonly probed by vulnerability scanners
func isScannerPath(path string) bool {
	p := strings.ToLower(path)
	for _, prefix := range scannerPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for _, suffix := range scannerSuffixes {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}
