package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/ZanzyTHEbar/disposal-triage/internal/cache"
	"github.com/ZanzyTHEbar/disposal-triage/internal/resilience"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// DefaultModelURL is the hosted ViT image classification endpoint
const DefaultModelURL = "https://api-inference.huggingface.co/models/google/vit-base-patch16-224"

// ServiceName identifies the classifier in health reports
const ServiceName = "image-classifier"

// maxErrorBody bounds how much of an error response is logged
const maxErrorBody = 300

// sharedCallTimeout bounds a classification shared by concurrent requests,
// which no longer follows any single caller's deadline
const sharedCallTimeout = 30 * time.Second

// HuggingFaceAdapter classifies product photos with the Hugging Face
// serverless inference API
type HuggingFaceAdapter struct {
	apiKey   string
	modelURL string
	pool     *resilience.ConnectionPool
	cache    cache.Store
	health   *resilience.DegradationManager
	inflight singleflight.Group

	onBreaker func(opened bool)
}

// HuggingFaceOption configures the adapter
type HuggingFaceOption func(*HuggingFaceAdapter)

// WithModelURL overrides the inference endpoint
func WithModelURL(url string) HuggingFaceOption {
	return func(h *HuggingFaceAdapter) {
		if url != "" {
			h.modelURL = url
		}
	}
}

// WithCache stores successful classifications keyed by image digest
func WithCache(store cache.Store) HuggingFaceOption {
	return func(h *HuggingFaceAdapter) { h.cache = store }
}

// WithHealth reports every call outcome to the degradation manager
func WithHealth(dm *resilience.DegradationManager) HuggingFaceOption {
	return func(h *HuggingFaceAdapter) { h.health = dm }
}

// WithBreakerObserver is told whenever the circuit breaker opens or closes
func WithBreakerObserver(fn func(opened bool)) HuggingFaceOption {
	return func(h *HuggingFaceAdapter) { h.onBreaker = fn }
}

// NewHuggingFaceAdapter creates a new adapter with connection pooling
func NewHuggingFaceAdapter(apiKey string, opts ...HuggingFaceOption) *HuggingFaceAdapter {
	h := &HuggingFaceAdapter{
		apiKey:   apiKey,
		modelURL: DefaultModelURL,
	}
	for _, opt := range opts {
		opt(h)
	}

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		OnStateChange: func(from, to resilience.CircuitBreakerState) {
			slog.Warn("Image classifier circuit changed", "from", from.String(), "to", to.String())
			if h.onBreaker == nil {
				return
			}
			switch to {
			case resilience.StateOpen:
				h.onBreaker(true)
			case resilience.StateClosed:
				h.onBreaker(false)
			}
		},
	})

	pool := resilience.NewConnectionPool(4, 8, 30*time.Second, cb)
	// A warming model answers 503; that is expected and must not trip the breaker.
	pool.FailureStatus = func(status int) bool {
		return status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable
	}

	h.pool = pool
	return h
}

// Configured reports whether an API key is available
func (h *HuggingFaceAdapter) Configured() bool {
	return h.apiKey != ""
}

// Classify sends the raw image bytes and returns ranked labels. Concurrent
// calls for the same image share one request.
func (h *HuggingFaceAdapter) Classify(ctx context.Context, image []byte) ([]analysis.Classification, error) {
	if !h.Configured() {
		return nil, analysis.ErrClassifierNotConfigured
	}

	key := cache.Key("hf", image)
	if h.cache != nil {
		if data, ok := h.cache.Get(ctx, key); ok {
			var cached []analysis.Classification
			if err := json.Unmarshal(data, &cached); err == nil {
				slog.Debug("Image classification served from cache", "bytes", len(image))
				return cached, nil
			}
		}
	}

	ch := h.inflight.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()

		predictions, err := h.classify(callCtx, image)
		h.record(err)
		if err != nil {
			return nil, err
		}
		if h.cache != nil && len(predictions) > 0 {
			if data, err := json.Marshal(predictions); err == nil {
				h.cache.Set(callCtx, key, data)
			}
		}
		return predictions, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("Image classification shared with a concurrent request", "bytes", len(image))
		}
		return slices.Clone(res.Val.([]analysis.Classification)), nil
	}
}

func (h *HuggingFaceAdapter) classify(ctx context.Context, image []byte) ([]analysis.Classification, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + h.apiKey,
		"Accept":        "application/json",
		"User-Agent":    "disposal-triage/1.0",
	}

	start := time.Now()
	resp, err := h.pool.DoRequest(ctx, http.MethodPost, h.modelURL, headers, image)
	if err != nil {
		return nil, fmt.Errorf("image classification request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read classification response: %w", err)
	}

	slog.Debug("Image classifier responded",
		"status", resp.StatusCode,
		"bytes", len(image),
		"duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		estimate := gjson.GetBytes(body, "estimated_time").Float()
		slog.Info("Image model is loading", "estimated_seconds", estimate)
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, analysis.ErrModelLoading)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, analysis.ErrClassifierUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("image classifier error: status %d, body: %s", resp.StatusCode, truncate(body, maxErrorBody))
	}

	return ParsePredictions(body)
}

// ParsePredictions decodes the `[{label, score}]` response body. Anything
// other than a non-empty array is reported as an empty classification.
func ParsePredictions(body []byte) ([]analysis.Classification, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid classification response: %s", truncate(body, maxErrorBody))
	}

	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		return nil, analysis.ErrEmptyClassification
	}

	var predictions []analysis.Classification
	result.ForEach(func(_, item gjson.Result) bool {
		label := item.Get("label")
		if !label.Exists() {
			return true
		}
		predictions = append(predictions, analysis.Classification{
			Label:      label.String(),
			Confidence: item.Get("score").Float(),
		})
		return true
	})

	if len(predictions) == 0 {
		return nil, analysis.ErrEmptyClassification
	}
	return predictions, nil
}

func (h *HuggingFaceAdapter) record(err error) {
	if h.health != nil {
		h.health.Record(ServiceName, err)
	}
}

// HealthCheck reports the breaker state without calling the paid endpoint
func (h *HuggingFaceAdapter) HealthCheck(_ context.Context) error {
	if !h.Configured() {
		return analysis.ErrClassifierNotConfigured
	}
	if h.pool.GetStats()["circuit_breaker_state"] == resilience.StateOpen.String() {
		return fmt.Errorf("image classifier circuit is open")
	}
	return nil
}

// GetPoolStats returns connection pool statistics
func (h *HuggingFaceAdapter) GetPoolStats() map[string]interface{} {
	return h.pool.GetStats()
}

// Close closes the adapter and its connection pool
func (h *HuggingFaceAdapter) Close() error {
	return h.pool.Close()
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n])
	}
	return string(body)
}
