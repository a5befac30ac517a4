package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/ZanzyTHEbar/disposal-triage/internal/auth"
	"github.com/ZanzyTHEbar/disposal-triage/internal/cache"
	"github.com/ZanzyTHEbar/disposal-triage/internal/middleware"
	"github.com/ZanzyTHEbar/disposal-triage/internal/monitoring"
	"github.com/ZanzyTHEbar/disposal-triage/internal/notify"
	"github.com/ZanzyTHEbar/disposal-triage/internal/privacy"
	"github.com/ZanzyTHEbar/disposal-triage/internal/ratelimit"
	"github.com/ZanzyTHEbar/disposal-triage/internal/resilience"
	"github.com/ZanzyTHEbar/disposal-triage/internal/security"
	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/ZanzyTHEbar/disposal-triage/internal/uploads"
	"github.com/gin-gonic/gin"
)

const (
	notifyTimeout  = 10 * time.Second
	discardTimeout = 5 * time.Second
)

// Repository is the persistence the HTTP API needs. *store.Repository implements it.
type Repository interface {
	CreateForm(ctx context.Context, input store.FormInput) (*store.Form, error)
	ListForms(ctx context.Context, publishedOnly bool) ([]store.Form, error)
	GetForm(ctx context.Context, id string) (*store.Form, error)
	UpdateForm(ctx context.Context, id string, input store.FormInput) (*store.Form, error)
	SetFormPublished(ctx context.Context, id string, published bool) error
	DeleteForm(ctx context.Context, id string) error

	CreateSubmission(ctx context.Context, in store.NewSubmission, result analysis.AnalysisResult) (*store.Submission, error)
	GetSubmission(ctx context.Context, id string) (*store.Submission, error)
	ListSubmissions(ctx context.Context, limit int) ([]store.Submission, error)
	ListPendingReviews(ctx context.Context) ([]store.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id, status string) error
	DeleteSubmission(ctx context.Context, id string) (string, error)
	DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int, []string, error)

	GetRecommendation(ctx context.Context, submissionID string) (*store.Recommendation, error)
	DecideReview(ctx context.Context, submissionID string, d store.ReviewDecision) (*store.Recommendation, error)
	Stats(ctx context.Context) (*store.Stats, error)
	ListReviewRows(ctx context.Context) ([]store.ReviewRow, error)
}

var _ Repository = (*store.Repository)(nil)

// Deps are the collaborators of the HTTP API. Optional ones may be nil.
type Deps struct {
	Repo     Repository
	Analyzer *analysis.Analyzer
	Uploads  uploads.Store

	// Optional
	Notifier   notify.Notifier
	Privacy    *privacy.Service
	Auth       *auth.Service
	Limiter    *ratelimit.RateLimiter
	Cache      cache.Store
	Security   *security.SecurityMiddleware
	Health     *resilience.DegradationManager
	Metrics    *monitoring.Metrics
	Logger     *monitoring.Logger
	PoolStats  map[string]func() map[string]interface{}
	EnableHSTS bool

	// SubmitLimit is the per-IP submissions per minute (default 10)
	SubmitLimit int
	Version     string
}

// Server is the triage HTTP API
type Server struct {
	repo      Repository
	analyzer  *analysis.Analyzer
	uploads   uploads.Store
	notifier  notify.Notifier
	privacy   *privacy.Service
	auth      *auth.Service
	limiter   *ratelimit.RateLimiter
	cache     cache.Store
	security  *security.SecurityMiddleware
	health    *resilience.DegradationManager
	metrics   *monitoring.Metrics
	logger    *monitoring.Logger
	poolStats map[string]func() map[string]interface{}

	compression *middleware.CompressionMiddleware

	submitLimit int
	enableHSTS  bool
	version     string

	router   *gin.Engine
	inflight sync.WaitGroup
}

// New builds the router. Repo, Analyzer and Uploads are required.
func New(d Deps) *Server {
	s := &Server{
		repo:        d.Repo,
		analyzer:    d.Analyzer,
		uploads:     d.Uploads,
		notifier:    d.Notifier,
		privacy:     d.Privacy,
		auth:        d.Auth,
		limiter:     d.Limiter,
		cache:       d.Cache,
		security:    d.Security,
		health:      d.Health,
		metrics:     d.Metrics,
		logger:      d.Logger,
		poolStats:   make(map[string]func() map[string]interface{}, len(d.PoolStats)+1),
		submitLimit: d.SubmitLimit,
		enableHSTS:  d.EnableHSTS,
		version:     d.Version,
	}

	if s.notifier == nil {
		s.notifier = notify.Noop{}
	}
	if s.privacy == nil {
		s.privacy = privacy.NewService(s.repo, s.uploads, 0)
	}
	if s.security == nil {
		s.security = security.NewSecurityMiddleware(security.DefaultSecurityConfig())
	}
	if s.health == nil {
		s.health = resilience.NewDegradationManager(resilience.DefaultDegradationConfig())
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetrics()
	}
	if s.logger == nil {
		s.logger = monitoring.NewLogger(monitoring.ParseLevel("info"))
	}
	for name, fn := range d.PoolStats {
		s.poolStats[name] = fn
	}
	s.compression = middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig())
	s.poolStats[compressionPool] = s.compression.GetStats

	if s.submitLimit <= 0 {
		s.submitLimit = 10
	}
	if s.version == "" {
		s.version = "dev"
	}

	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until background notifications have finished
func (s *Server) Wait() {
	s.inflight.Wait()
}
