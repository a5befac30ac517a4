package resilience

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionPool bounds concurrent requests to one upstream and routes them
// through a circuit breaker. All requests share a single keep-alive transport.
type ConnectionPool struct {
	maxIdle     int
	maxActive   int
	idleTimeout time.Duration

	circuitBreaker *CircuitBreaker
	transport      *http.Transport
	client         *http.Client
	slots          chan struct{}

	// FailureStatus reports whether a completed response counts against the breaker
	FailureStatus func(status int) bool

	active    int64
	completed int64
	closeOnce sync.Once
}

// DefaultFailureStatus trips the breaker on server errors
func DefaultFailureStatus(status int) bool {
	return status >= http.StatusInternalServerError
}

// NewConnectionPool creates a new connection pool with circuit breaker
func NewConnectionPool(maxIdle, maxActive int, idleTimeout time.Duration, cb *CircuitBreaker) *ConnectionPool {
	if maxActive <= 0 {
		maxActive = 1
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          maxIdle,
		MaxConnsPerHost:       maxActive,
		MaxIdleConnsPerHost:   max(maxIdle/2, 1),
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &ConnectionPool{
		maxIdle:        maxIdle,
		maxActive:      maxActive,
		idleTimeout:    idleTimeout,
		circuitBreaker: cb,
		transport:      transport,
		client:         &http.Client{Transport: transport, Timeout: 60 * time.Second},
		slots:          make(chan struct{}, maxActive),
		FailureStatus:  DefaultFailureStatus,
	}
}

// acquire waits for a free request slot or the context to end
func (cp *ConnectionPool) acquire(ctx context.Context) error {
	select {
	case cp.slots <- struct{}{}:
		atomic.AddInt64(&cp.active, 1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection pool exhausted: %d active requests: %w", cp.maxActive, ctx.Err())
	}
}

func (cp *ConnectionPool) release() {
	atomic.AddInt64(&cp.active, -1)
	atomic.AddInt64(&cp.completed, 1)
	<-cp.slots
}

// DoRequest executes an HTTP request with circuit breaker and connection pooling.
// The caller owns the returned response body.
func (cp *ConnectionPool) DoRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*http.Response, error) {
	var resp *http.Response

	err := cp.circuitBreaker.Call(func() error {
		if err := cp.acquire(ctx); err != nil {
			return err
		}
		defer cp.release()

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		start := time.Now()
		resp, err = cp.client.Do(req)
		duration := time.Since(start)
		if err != nil {
			slog.Warn("Request failed", "url", url, "error", err, "duration_ms", duration.Milliseconds())
			return err
		}

		slog.Debug("Request completed", "url", url, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
		if cp.FailureStatus != nil && cp.FailureStatus(resp.StatusCode) {
			// The response is still handed back so the caller can read the error body.
			return &upstreamStatusError{status: resp.StatusCode}
		}
		return nil
	})

	if _, ok := err.(*upstreamStatusError); ok {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type upstreamStatusError struct{ status int }

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"active_requests":       atomic.LoadInt64(&cp.active),
		"completed_requests":    atomic.LoadInt64(&cp.completed),
		"max_idle":              cp.maxIdle,
		"max_active":            cp.maxActive,
		"idle_timeout_ms":       cp.idleTimeout.Milliseconds(),
		"circuit_breaker_state": cp.circuitBreaker.State().String(),
	}
}

// Close releases idle keep-alive connections
func (cp *ConnectionPool) Close() error {
	cp.closeOnce.Do(func() {
		cp.transport.CloseIdleConnections()
		slog.Info("Connection pool closed")
	})
	return nil
}
