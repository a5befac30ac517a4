package monitoring

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/montanaflynn/stats"
)

// maxSamples bounds each rolling sample window
const maxSamples = 1000

// sampleWindow keeps the most recent float samples for percentile reporting
type sampleWindow struct {
	mu      sync.RWMutex
	samples []float64
}

func (w *sampleWindow) add(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, v)
	if len(w.samples) > maxSamples {
		w.samples = w.samples[len(w.samples)-maxSamples:]
	}
}

func (w *sampleWindow) percentile(p float64) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.samples) == 0 {
		return 0
	}
	v, err := stats.Percentile(stats.Float64Data(w.samples), p)
	if err != nil {
		return 0
	}
	return v
}

func (w *sampleWindow) mean() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	v, err := stats.Mean(stats.Float64Data(w.samples))
	if err != nil {
		return 0
	}
	return v
}

func (w *sampleWindow) reset() {
	w.mu.Lock()
	w.samples = w.samples[:0]
	w.mu.Unlock()
}

// Metrics holds application metrics
type Metrics struct {
	RequestCount int64
	ErrorCount   int64
	CacheHits    int64
	CacheMisses  int64
	StartTime    time.Time

	responseTimes sampleWindow // milliseconds

	requestCountByStatus map[int]int64
	statusMutex          sync.RWMutex

	// Triage metrics
	Analyses          int64
	analysisDurations sampleWindow // milliseconds
	confidences       sampleWindow
	recommendations   map[string]int64
	recommendationsMu sync.RWMutex

	// Image classifier outcomes, keyed by failure kind
	ClassifierCalls int64
	classifier      map[string]int64
	classifierMu    sync.RWMutex

	ReviewsDecided int64

	// Circuit breaker metrics
	CircuitBreakerOpens  int64
	CircuitBreakerCloses int64

	// Rate limit metrics
	RateLimitIPBlocks       int64
	RateLimitRedisErrors    int64
	RateLimitFallbackCount  int64
	RateLimitEndpointBlocks map[string]int64
	RateLimitMutex          sync.RWMutex
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:               time.Now(),
		requestCountByStatus:    make(map[int]int64),
		recommendations:         make(map[string]int64),
		classifier:              make(map[string]int64),
		RateLimitEndpointBlocks: make(map[string]int64),
	}
}

var (
	_ analysis.Recorder = (*Metrics)(nil)
	_ interface {
		IncrementCacheHit()
		IncrementCacheMiss()
	} = (*Metrics)(nil)
)

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// RecordResponseTime records an HTTP response time
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	m.responseTimes.add(float64(duration.Microseconds()) / 1000)
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.statusMutex.Lock()
	defer m.statusMutex.Unlock()
	m.requestCountByStatus[statusCode]++
}

// RecordAnalysis counts one completed triage run
func (m *Metrics) RecordAnalysis(recommendation string, confidence float64, duration time.Duration) {
	atomic.AddInt64(&m.Analyses, 1)
	m.confidences.add(confidence)
	m.analysisDurations.add(float64(duration.Microseconds()) / 1000)

	m.recommendationsMu.Lock()
	m.recommendations[recommendation]++
	m.recommendationsMu.Unlock()
}

// RecordImageAnalysis counts one image classifier attempt by outcome
func (m *Metrics) RecordImageAnalysis(err error) {
	atomic.AddInt64(&m.ClassifierCalls, 1)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, analysis.ErrClassifierNotConfigured):
		outcome = "not_configured"
	case errors.Is(err, analysis.ErrModelLoading):
		outcome = "model_loading"
	case errors.Is(err, analysis.ErrClassifierUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, analysis.ErrEmptyClassification):
		outcome = "empty"
	default:
		outcome = "error"
	}

	m.classifierMu.Lock()
	m.classifier[outcome]++
	m.classifierMu.Unlock()
}

// IncrementReviewsDecided counts admin review decisions
func (m *Metrics) IncrementReviewsDecided() {
	atomic.AddInt64(&m.ReviewsDecided, 1)
}

// CircuitBreakerChanged counts breaker openings and closings
func (m *Metrics) CircuitBreakerChanged(opened bool) {
	if opened {
		atomic.AddInt64(&m.CircuitBreakerOpens, 1)
		return
	}
	atomic.AddInt64(&m.CircuitBreakerCloses, 1)
}

// GetPercentileResponseTime returns a response time percentile
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	return time.Duration(m.responseTimes.percentile(percentile) * float64(time.Millisecond))
}

// ConfidencePercentile returns a percentile of recent analysis confidences
func (m *Metrics) ConfidencePercentile(percentile float64) float64 {
	return m.confidences.percentile(percentile)
}

// RecommendationCounts returns the number of analyses per recommendation
func (m *Metrics) RecommendationCounts() map[string]int64 {
	m.recommendationsMu.RLock()
	defer m.recommendationsMu.RUnlock()

	out := make(map[string]int64, len(m.recommendations))
	for k, v := range m.recommendations {
		out[k] = v
	}
	return out
}

// ClassifierOutcomes returns image classifier attempts per outcome
func (m *Metrics) ClassifierOutcomes() map[string]int64 {
	m.classifierMu.RLock()
	defer m.classifierMu.RUnlock()

	out := make(map[string]int64, len(m.classifier))
	for k, v := range m.classifier {
		out[k] = v
	}
	return out
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.statusMutex.RLock()
	defer m.statusMutex.RUnlock()

	distribution := make(map[int]int64, len(m.requestCountByStatus))
	for code, count := range m.requestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errs := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errs) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":           time.Since(m.StartTime).Seconds(),
		"start_time":               m.StartTime.Format(time.RFC3339),
		"total_requests":           requests,
		"error_count":              errs,
		"error_rate_percent":       errorRate,
		"cache_hits":               cacheHits,
		"cache_misses":             cacheMisses,
		"cache_hit_rate_percent":   cacheHitRate,
		"avg_response_time_ms":     m.responseTimes.mean(),
		"p50_response_time_ms":     m.responseTimes.percentile(50),
		"p95_response_time_ms":     m.responseTimes.percentile(95),
		"p99_response_time_ms":     m.responseTimes.percentile(99),
		"status_code_distribution": m.GetStatusCodeDistribution(),

		"analyses_total":         atomic.LoadInt64(&m.Analyses),
		"analyses_by_result":     m.RecommendationCounts(),
		"analysis_p95_ms":        m.analysisDurations.percentile(95),
		"confidence_mean":        m.confidences.mean(),
		"confidence_p50":         m.confidences.percentile(50),
		"confidence_p10":         m.confidences.percentile(10),
		"classifier_calls":       atomic.LoadInt64(&m.ClassifierCalls),
		"classifier_outcomes":    m.ClassifierOutcomes(),
		"reviews_decided":        atomic.LoadInt64(&m.ReviewsDecided),
		"circuit_breaker_opens":  atomic.LoadInt64(&m.CircuitBreakerOpens),
		"circuit_breaker_closes": atomic.LoadInt64(&m.CircuitBreakerCloses),
		"rate_limit":             m.GetRateLimitStats(),
	}
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	for _, counter := range []*int64{
		&m.RequestCount, &m.ErrorCount, &m.CacheHits, &m.CacheMisses,
		&m.Analyses, &m.ClassifierCalls, &m.ReviewsDecided,
		&m.CircuitBreakerOpens, &m.CircuitBreakerCloses,
		&m.RateLimitIPBlocks, &m.RateLimitRedisErrors, &m.RateLimitFallbackCount,
	} {
		atomic.StoreInt64(counter, 0)
	}

	m.responseTimes.reset()
	m.analysisDurations.reset()
	m.confidences.reset()

	m.statusMutex.Lock()
	m.requestCountByStatus = make(map[int]int64)
	m.statusMutex.Unlock()

	m.recommendationsMu.Lock()
	m.recommendations = make(map[string]int64)
	m.recommendationsMu.Unlock()

	m.classifierMu.Lock()
	m.classifier = make(map[string]int64)
	m.classifierMu.Unlock()

	m.RateLimitMutex.Lock()
	m.RateLimitEndpointBlocks = make(map[string]int64)
	m.RateLimitMutex.Unlock()

	m.StartTime = time.Now()
}

// IncrementRateLimitIPBlock increments IP-based rate limit blocks
func (m *Metrics) IncrementRateLimitIPBlock() {
	atomic.AddInt64(&m.RateLimitIPBlocks, 1)
}

// IncrementRateLimitRedisError increments Redis error count for rate limiting
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback increments fallback rate limiter usage count
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

// IncrementRateLimitEndpoint increments rate limit blocks for a specific endpoint
func (m *Metrics) IncrementRateLimitEndpoint(endpoint string) {
	m.RateLimitMutex.Lock()
	defer m.RateLimitMutex.Unlock()
	m.RateLimitEndpointBlocks[endpoint]++
}

// GetRateLimitStats returns rate limiting statistics
func (m *Metrics) GetRateLimitStats() map[string]interface{} {
	m.RateLimitMutex.RLock()
	endpointBlocks := make(map[string]int64, len(m.RateLimitEndpointBlocks))
	for k, v := range m.RateLimitEndpointBlocks {
		endpointBlocks[k] = v
	}
	m.RateLimitMutex.RUnlock()

	return map[string]interface{}{
		"ip_blocks":       atomic.LoadInt64(&m.RateLimitIPBlocks),
		"redis_errors":    atomic.LoadInt64(&m.RateLimitRedisErrors),
		"fallback_count":  atomic.LoadInt64(&m.RateLimitFallbackCount),
		"endpoint_blocks": endpointBlocks,
	}
}
