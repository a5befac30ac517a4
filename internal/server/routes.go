package server

import (
	"github.com/ZanzyTHEbar/disposal-triage/internal/auth"
	"github.com/ZanzyTHEbar/disposal-triage/internal/cache"
	_ "github.com/ZanzyTHEbar/disposal-triage/internal/docs"
	apperrors "github.com/ZanzyTHEbar/disposal-triage/internal/errors"
	"github.com/ZanzyTHEbar/disposal-triage/internal/monitoring"
	"github.com/ZanzyTHEbar/disposal-triage/internal/security"
	"github.com/ZanzyTHEbar/disposal-triage/internal/uploads"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	analyzePath  = "/api/analyze"
	loginLimit   = 5
	submitBucket = "submissions"
	loginBucket  = "login"
	uploadsPath  = "/uploads"

	compressionPool = "compression"
)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(s.security.Config().TrustedProxies); err != nil {
		s.logger.SystemLogger("trusted_proxies_invalid", err.Error())
	}

	r.Use(monitoring.RequestIDMiddleware())
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(s.logger))

	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())
	r.Use(s.compression.Handler())

	r.Use(security.Headers(s.enableHSTS))
	r.Use(s.security.CORS())
	r.Use(s.security.RequestTimeout)
	r.Use(s.security.ValidateContentType)
	r.Use(s.security.LimitBody)

	if s.cache != nil {
		r.Use(cache.Middleware(s.cache, analyzePath, s.metrics))
	}

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/pools/:name", s.handlePoolStats)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// S3 refs are resolved by the loader only; local files are served as-is
	if local, ok := s.uploads.(*uploads.Local); ok {
		r.Static(uploadsPath, local.Dir())
	}

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)

	api.GET("/forms", s.handleListForms)
	api.GET("/forms/:id", s.handleGetForm)

	api.POST("/submissions", s.limited(submitBucket, s.submitLimit, s.handleCreateSubmission)...)
	api.POST("/analyze", s.limited("", 0, s.handleAnalyze)...)
	api.GET("/customer-result/:submissionId", security.ResultPagePolicy(), s.handleCustomerResult)
	api.POST("/admin/login", s.limited(loginBucket, loginLimit, s.handleLogin)...)

	if s.limiter != nil {
		api.GET("/rate-limit", s.limiter.HandleRateLimitStatus())
	}

	admin := api.Group("")
	admin.Use(auth.Middleware(s.auth))

	admin.POST("/forms", s.handleCreateForm)
	admin.PUT("/forms/:id", s.handleUpdateForm)
	admin.PATCH("/forms/:id/publish", s.handlePublishForm)
	admin.DELETE("/forms/:id", s.handleDeleteForm)

	admin.GET("/submissions", s.handleListSubmissions)
	admin.GET("/submissions/:id", s.handleGetSubmission)
	admin.PUT("/submissions/:id", s.handleUpdateSubmission)
	admin.DELETE("/submissions/:id", s.handleDeleteSubmission)

	admin.GET("/ai-reviews/pending", s.handlePendingReviews)
	admin.GET("/ai-reviews/:submissionId", s.handleGetReview)
	admin.PUT("/ai-reviews/:submissionId/decision", s.handleDecideReview)

	admin.GET("/admin/stats", s.handleStats)
	admin.GET("/admin/export.xlsx", s.handleExport)

	if s.limiter != nil {
		admin.GET("/admin/rate-limits", s.limiter.HandleAdminRateLimits())
		admin.DELETE("/admin/rate-limits/:ip", s.limiter.HandleAdminInvalidateIP())
	}

	return r
}

// limited prefixes a POST handler with the IP limiter and, when bucket is set,
// a per-endpoint budget
func (s *Server) limited(bucket string, perMinute int, h gin.HandlerFunc) []gin.HandlerFunc {
	if s.limiter == nil {
		return []gin.HandlerFunc{h}
	}
	chain := []gin.HandlerFunc{s.limiter.IPRateLimitMiddleware()}
	if bucket != "" {
		chain = append(chain, s.limiter.EndpointRateLimitMiddleware(bucket, perMinute))
	}
	return append(chain, h)
}
