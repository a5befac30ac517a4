package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/ZanzyTHEbar/disposal-triage/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleAdmin is the only role that may decide reviews
	RoleAdmin = "admin"

	// ReviewerKey holds the authenticated reviewer in the gin context
	ReviewerKey = "reviewer"

	defaultTTL = 24 * time.Hour
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service issues and validates admin session tokens
type Service struct {
	jwtSecret     []byte
	adminPassword string
	ttl           time.Duration
	now           func() time.Time
}

// NewService creates a token service. A zero ttl means 24 hours.
func NewService(jwtSecret, adminPassword string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		jwtSecret:     []byte(jwtSecret),
		adminPassword: adminPassword,
		ttl:           ttl,
		now:           time.Now,
	}
}

// GenerateToken signs an HS256 token for the reviewer
func (s *Service) GenerateToken(reviewer string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  reviewer,
		"role": RoleAdmin,
		"exp":  now.Add(s.ttl).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a token and returns the reviewer it was issued to
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	if role, _ := claims["role"].(string); role != RoleAdmin {
		return "", fmt.Errorf("%w: missing admin role", ErrInvalidToken)
	}

	reviewer, err := claims.GetSubject()
	if err != nil || reviewer == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return reviewer, nil
}

// Login checks the shared admin password and issues a token for the reviewer
func (s *Service) Login(reviewer, password string) (string, error) {
	if s.adminPassword == "" || reviewer == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) != 1 {
		return "", ErrInvalidCredentials
	}
	return s.GenerateToken(reviewer)
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Middleware requires a valid admin token and stores the reviewer in the context.
// A nil service leaves the routes open and attributes decisions to "admin".
func Middleware(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s == nil {
			c.Set(ReviewerKey, RoleAdmin)
			c.Next()
			return
		}

		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			_ = c.Error(apperrors.NewUnauthorizedError("Missing bearer token"))
			c.Abort()
			return
		}

		reviewer, err := s.ValidateToken(tokenString)
		if err != nil {
			_ = c.Error(apperrors.NewUnauthorizedError("Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ReviewerKey, reviewer)
		c.Next()
	}
}

// Reviewer returns the authenticated reviewer, or "" outside protected routes
func Reviewer(c *gin.Context) string {
	return c.GetString(ReviewerKey)
}
