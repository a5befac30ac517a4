package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/ZanzyTHEbar/disposal-triage/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 1,
		OnStateChange: func(from, to CircuitBreakerState) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	fail := func() error { return errUpstream }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Call(fail), errUpstream)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	var cbErr *CircuitBreakerError
	require.ErrorAs(t, cb.Call(ok), &cbErr)
	assert.Equal(t, StateOpen, cbErr.State)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 2})

	_ = cb.Call(func() error { return errUpstream })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	_ = cb.Call(func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestConnectionPool_DoRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/echo":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(append([]byte(r.Header.Get("Authorization")+":"), body...))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"bad gateway"}`))
		}
	}))
	defer server.Close()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	pool := NewConnectionPool(2, 2, time.Second, cb)
	defer pool.Close()

	resp, err := pool.DoRequest(context.Background(), http.MethodPost, server.URL+"/echo",
		map[string]string{"Authorization": "Bearer k"}, []byte("image-bytes"))
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "Bearer k:image-bytes", string(data))

	t.Run("server errors are returned and counted", func(t *testing.T) {
		resp, err := pool.DoRequest(context.Background(), http.MethodGet, server.URL+"/fail", nil, nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, 1, cb.Failures())
	})

	stats := pool.GetStats()
	assert.Equal(t, int64(0), stats["active_requests"])
	assert.Equal(t, int64(2), stats["completed_requests"])
	assert.Equal(t, "closed", stats["circuit_breaker_state"])
}

func TestConnectionPool_WaitsForSlot(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	pool := NewConnectionPool(1, 1, time.Second, NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 10}))
	go func() {
		resp, err := pool.DoRequest(context.Background(), http.MethodGet, server.URL, nil, nil)
		if err == nil {
			resp.Body.Close()
		}
	}()
	require.Eventually(t, func() bool { return pool.GetStats()["active_requests"] == int64(1) }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.DoRequest(ctx, http.MethodGet, server.URL, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetry(t *testing.T) {
	fast := Backoff{Name: "test", Attempts: 3, Base: time.Millisecond, Cap: 5 * time.Millisecond, Factor: 2}

	tests := []struct {
		name         string
		retryable    func(error) bool
		failures     int
		failWith     error
		wantAttempts int
		wantErr      bool
	}{
		{name: "succeeds after transient failures", retryable: apperrors.IsRetryableError, failures: 2, failWith: apperrors.NewNetworkError("redis unreachable", nil), wantAttempts: 3},
		{name: "stops on permanent errors", retryable: apperrors.IsRetryableError, failures: 5, failWith: apperrors.NewValidationError("bad dsn"), wantAttempts: 1, wantErr: true},
		{name: "nil retryable retries everything", failures: 5, failWith: errUpstream, wantAttempts: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), fast, tt.retryable, func(context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return tt.failWith
				}
				return nil
			})
			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.failWith)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, fast, nil, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Cap: time.Second, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(10))

	b.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestDegradationManager(t *testing.T) {
	dm := NewDegradationManager(DegradationConfig{
		HealthCheckTimeout: time.Second,
		DegradedThreshold:  0.1,
		CriticalThreshold:  0.25,
		DownThreshold:      0.5,
		WindowSize:         4,
	})
	dm.Register("database", false, func(ctx context.Context) error { return nil })
	dm.Register("image-classifier", true, nil)

	for i := 0; i < 4; i++ {
		dm.Record("image-classifier", errUpstream)
	}
	assert.False(t, dm.IsAvailable("image-classifier"))
	assert.True(t, dm.Healthy(), "optional dependencies do not fail the service")

	dm.CheckNow(context.Background())
	snapshot := dm.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "database", snapshot[0].Name)
	assert.Equal(t, LevelNormal, snapshot[0].Level)
	assert.Equal(t, 1, snapshot[0].Observations)
	assert.Equal(t, LevelDown, snapshot[1].Level)
	assert.Equal(t, "upstream failed", snapshot[1].LastError)

	for i := 0; i < 3; i++ {
		dm.Record("image-classifier", nil)
	}
	assert.True(t, dm.IsAvailable("image-classifier"), "window slides past old failures")

	dm.Record("database", errUpstream)
	dm.Record("database", errUpstream)
	assert.False(t, dm.Healthy())
	assert.False(t, dm.IsAvailable("unknown"))
}
