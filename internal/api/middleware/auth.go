package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyHeader carries the local API key
	APIKeyHeader = "X-Engiero-Key"
	// AuthenticatedKey is set in the context once the key was accepted
	AuthenticatedKey = "authenticated"
)

// APIKey verifies the API key header. When hash is set it is a bcrypt hash
// and takes precedence over the plain key.
func APIKey(key, hash string) gin.HandlerFunc {
	check := func(provided string) bool {
		return subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1
	}
	if hash != "" {
		check = func(provided string) bool {
			return bcrypt.CompareHashAndPassword([]byte(hash), []byte(provided)) == nil
		}
	}

	return func(c *gin.Context) {
		provided := c.GetHeader(APIKeyHeader)
		if provided == "" || !check(provided) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
				"code":  "UNAUTHORIZED",
			})
			return
		}
		c.Set(AuthenticatedKey, true)
		c.Next()
	}
}

// IPAllowlist rejects clients outside the allowed addresses. Entries may be
// single IPs or CIDR ranges; unparsable entries are ignored.
func IPAllowlist(allowed []string) gin.HandlerFunc {
	var nets []*net.IPNet
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if !strings.Contains(a, "/") {
			if ip := net.ParseIP(a); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				a = ip.String() + "/" + strconv.Itoa(bits)
			}
		}
		if _, n, err := net.ParseCIDR(a); err == nil {
			nets = append(nets, n)
		}
	}

	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		for _, n := range nets {
			if ip != nil && n.Contains(ip) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Forbidden",
			"code":  "IP_NOT_ALLOWED",
		})
	}
}
