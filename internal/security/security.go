package security

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxValueLength int           `json:"max_value_length"`
	MaxFields      int           `json:"max_fields"`
	MaxBodyBytes   int64         `json:"max_body_bytes"`
	AllowedOrigins []string      `json:"allowed_origins"`
	TrustedProxies []string      `json:"trusted_proxies"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxValueLength: 5000,
		MaxFields:      100,
		MaxBodyBytes:   6 << 20,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		TrustedProxies: []string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		RequestTimeout: 30 * time.Second,
	}
}

// SecurityMiddleware validates and sanitizes questionnaire input and guards requests
type SecurityMiddleware struct {
	config SecurityConfig
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	return &SecurityMiddleware{config: config}
}

// Config returns the active configuration
func (sm *SecurityMiddleware) Config() SecurityConfig {
	return sm.config
}

var (
	scriptPattern     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	labelPattern      = regexp.MustCompile(`^[\p{L}\p{N} ()/_.,&'?:#-]+$`)
)

// ValidateValue checks a single answer for length, encoding and control bytes
func (sm *SecurityMiddleware) ValidateValue(value string) error {
	if len(value) > sm.config.MaxValueLength {
		return fmt.Errorf("value exceeds maximum length of %d characters", sm.config.MaxValueLength)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("value contains invalid characters")
	}

	if !utf8.ValidString(value) {
		return fmt.Errorf("value contains invalid UTF-8 encoding")
	}

	return nil
}

// ValidateLabel checks a field label; labels become keys of the analysis input
func (sm *SecurityMiddleware) ValidateLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("empty field label")
	}
	if len(label) > 200 {
		return fmt.Errorf("field label exceeds maximum length of 200 characters")
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid field label %q", label)
	}
	return nil
}

// SanitizeValue strips markup and collapses whitespace. Keyword matching runs on
// the sanitized text, so a phrase hidden inside tags still counts once the tags go.
func (sm *SecurityMiddleware) SanitizeValue(value string) string {
	value = strings.TrimSpace(value)
	value = scriptPattern.ReplaceAllString(value, "")
	value = htmlTagPattern.ReplaceAllString(value, "")
	value = whitespacePattern.ReplaceAllString(value, " ")

	htmlEntities := map[string]string{
		"&lt;":   "<",
		"&gt;":   ">",
		"&quot;": "\"",
		"&#x27;": "'",
		"&#39;":  "'",
	}
	for entity, char := range htmlEntities {
		value = strings.ReplaceAll(value, entity, char)
	}
	// &amp; last so "&amp;lt;" does not decode twice
	return strings.ReplaceAll(value, "&amp;", "&")
}

// SanitizeSubmission validates and sanitizes every answer of a questionnaire.
// The returned map is a copy; field errors are keyed by label.
func (sm *SecurityMiddleware) SanitizeSubmission(values map[string]string) (map[string]string, map[string]string) {
	fieldErrors := make(map[string]string)
	if len(values) > sm.config.MaxFields {
		fieldErrors["_form"] = fmt.Sprintf("too many fields (max %d)", sm.config.MaxFields)
		return nil, fieldErrors
	}

	clean := make(map[string]string, len(values))
	for label, value := range values {
		if err := sm.ValidateLabel(label); err != nil {
			fieldErrors[label] = err.Error()
			continue
		}
		if err := sm.ValidateValue(value); err != nil {
			fieldErrors[label] = err.Error()
			continue
		}
		clean[label] = sm.SanitizeValue(value)
	}

	if len(fieldErrors) > 0 {
		return nil, fieldErrors
	}
	return clean, nil
}

// ValidateContentType validates request content type for requests with a body
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		c.Next()
		return
	}

	if c.Request.ContentLength == 0 {
		c.Next()
		return
	}

	contentType := c.GetHeader("Content-Type")
	allowedTypes := []string{
		"application/json",
		"multipart/form-data",
		"application/x-www-form-urlencoded",
	}

	for _, allowed := range allowedTypes {
		if strings.HasPrefix(contentType, allowed) {
			c.Next()
			return
		}
	}

	c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
		"error": "unsupported content type",
	})
}

// LimitBody caps the request body size
func (sm *SecurityMiddleware) LimitBody(c *gin.Context) {
	if c.Request.Body != nil && sm.config.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, sm.config.MaxBodyBytes)
	}
	c.Next()
}

// RequestTimeout enforces request timeout
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}

// CORS returns the CORS middleware for the configured origins
func (sm *SecurityMiddleware) CORS() gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	if len(sm.config.AllowedOrigins) == 0 || (len(sm.config.AllowedOrigins) == 1 && sm.config.AllowedOrigins[0] == "*") {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
	} else {
		config.AllowOrigins = sm.config.AllowedOrigins
	}

	return cors.New(config)
}
