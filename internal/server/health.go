package server

import (
	"net/http"
	"time"

	apperrors "github.com/ZanzyTHEbar/disposal-triage/internal/errors"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	healthResponse := gin.H{
		"status":    "ok",
		"message":   "Server is running",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   s.version,
		"services":  s.health.Snapshot(),
	}

	// a required dependency that is down fails the probe
	if !s.health.Healthy() {
		healthResponse["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, healthResponse)
		return
	}

	c.JSON(http.StatusOK, healthResponse)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.GetStats())
}

func (s *Server) handlePoolStats(c *gin.Context) {
	name := c.Param("name")
	statsFn, ok := s.poolStats[name]
	if !ok {
		_ = c.Error(apperrors.NewNotFoundError("Pool", name))
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pool":  name,
		"stats": statsFn(),
	})
}
