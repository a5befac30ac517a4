package security

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const nonceKey = "csp-nonce"

// Headers sets the response headers every route shares. Enable hsts only
// behind TLS.
func Headers(hsts bool) gin.HandlerFunc {
	static := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
		{"Cross-Origin-Resource-Policy", "same-origin"},
		{"Permissions-Policy", "camera=(), geolocation=(), microphone=(), payment=()"},
	}
	if hsts {
		static = append(static, [2]string{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"})
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range static {
			h.Set(kv[0], kv[1])
		}
		c.Next()
	}
}

// ResultPagePolicy guards the HTML customer result page. The page carries one
// inline stylesheet, allowed by a per-request nonce, and nothing else.
func ResultPagePolicy() gin.HandlerFunc {
	return func(c *gin.Context) {
		nonce, err := newNonce()
		if err != nil {
			slog.Error("Failed to generate CSP nonce", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.Set(nonceKey, nonce)
		c.Header("Content-Security-Policy", strings.Join([]string{
			"default-src 'none'",
			"style-src 'nonce-" + nonce + "'",
			"img-src 'self'",
			"base-uri 'none'",
			"form-action 'none'",
			"frame-ancestors 'none'",
		}, "; "))
		c.Next()
	}
}

// Nonce returns the nonce ResultPagePolicy issued for this request
func Nonce(c *gin.Context) string {
	return c.GetString(nonceKey)
}

func newNonce() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
