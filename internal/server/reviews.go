package server

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/ZanzyTHEbar/disposal-triage/internal/auth"
	apperrors "github.com/ZanzyTHEbar/disposal-triage/internal/errors"
	"github.com/ZanzyTHEbar/disposal-triage/internal/export"
	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// parseDecision accepts a category in any case; empty means approve
func (s *Server) parseDecision(c *gin.Context, raw string) (analysis.Category, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	decision, err := analysis.ParseCategory(raw)
	if err != nil {
		s.invalid(c, "decision must be one of RECYCLE, REPAIR, REUSE, RETAIN")
		return "", false
	}
	return decision, true
}

func (s *Server) recordReview(submissionID string, rec *store.Recommendation) {
	s.metrics.IncrementReviewsDecided()
	reviewer := ""
	if rec.ReviewedBy != nil {
		reviewer = *rec.ReviewedBy
	}
	s.logger.ReviewLogger(submissionID, string(rec.Status), rec.FinalDecision().Label(), reviewer)
}

func (s *Server) handlePendingReviews(c *gin.Context) {
	subs, err := s.repo.ListPendingReviews(c.Request.Context())
	if err != nil {
		s.fail(c, err, "AI reviews", "")
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (s *Server) handleGetReview(c *gin.Context) {
	id := c.Param("submissionId")
	rec, err := s.repo.GetRecommendation(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err, "AI review", id)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type decisionRequest struct {
	AdminDecision string `json:"adminDecision"`
	AdminNotes    string `json:"adminNotes"`
	Status        string `json:"status"`
}

// handleDecideReview approves or overrides a pending recommendation
func (s *Server) handleDecideReview(c *gin.Context) {
	id := c.Param("submissionId")

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalid(c, "Invalid decision payload")
		return
	}

	status := store.ReviewStatus(req.Status)
	switch status {
	case "", store.StatusApproved, store.StatusOverridden:
	default:
		s.invalid(c, "status must be approved or overridden")
		return
	}

	decision, ok := s.parseDecision(c, req.AdminDecision)
	if !ok {
		return
	}

	rec, err := s.repo.DecideReview(c.Request.Context(), id, store.ReviewDecision{
		Decision: decision,
		Status:   status,
		Notes:    req.AdminNotes,
		Reviewer: auth.Reviewer(c),
	})
	if err != nil {
		s.fail(c, err, "AI review", id)
		return
	}
	s.recordReview(id, rec)

	c.JSON(http.StatusOK, gin.H{
		"message":        "Admin decision saved successfully",
		"recommendation": rec,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.repo.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Stats", "")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleExport streams every reviewed and pending recommendation as a workbook
func (s *Server) handleExport(c *gin.Context) {
	rows, err := s.repo.ListReviewRows(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Reviews", "")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteReviewsXLSX(&buf, rows); err != nil {
		s.fail(c, apperrors.NewInternalError("Failed to build export", err), "", "")
		return
	}

	filename := "reviews-" + time.Now().UTC().Format("2006-01-02") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

type loginRequest struct {
	Reviewer string `json:"reviewer"`
	Password string `json:"password" binding:"required"`
}

// handleLogin exchanges the admin password for a bearer token
func (s *Server) handleLogin(c *gin.Context) {
	if s.auth == nil {
		_ = c.Error(apperrors.NewConfigurationError("Authentication is not configured", nil))
		c.Abort()
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalid(c, "password is required")
		return
	}
	if req.Reviewer == "" {
		req.Reviewer = auth.RoleAdmin
	}

	token, err := s.auth.Login(req.Reviewer, req.Password)
	if err != nil {
		s.logger.SecurityLogger("login_failed", c.ClientIP(), c.Request.UserAgent(),
			map[string]interface{}{"reviewer": req.Reviewer})
		_ = c.Error(apperrors.NewUnauthorizedError("Invalid credentials"))
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "reviewer": req.Reviewer})
}
