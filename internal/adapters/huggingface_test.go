package adapters

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/analysis"
	"github.com/ZanzyTHEbar/disposal-triage/internal/cache"
	"github.com/ZanzyTHEbar/disposal-triage/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuggingFaceAdapter_Classify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		anyErr   bool
		expected []analysis.Classification
	}{
		{
			name:   "ranked predictions",
			status: http.StatusOK,
			body:   `[{"label":"toaster","score":0.81},{"label":"power cord, electric cord","score":0.07}]`,
			expected: []analysis.Classification{
				{Label: "toaster", Confidence: 0.81},
				{Label: "power cord, electric cord", Confidence: 0.07},
			},
		},
		{
			name:    "model loading",
			status:  http.StatusServiceUnavailable,
			body:    `{"error":"Model google/vit-base-patch16-224 is currently loading","estimated_time":20.0}`,
			wantErr: analysis.ErrModelLoading,
		},
		{
			name:    "bad token",
			status:  http.StatusUnauthorized,
			body:    `{"error":"Invalid credentials in Authorization header"}`,
			wantErr: analysis.ErrClassifierUnauthorized,
		},
		{
			name:    "forbidden",
			status:  http.StatusForbidden,
			body:    `{}`,
			wantErr: analysis.ErrClassifierUnauthorized,
		},
		{
			name:    "empty list",
			status:  http.StatusOK,
			body:    `[]`,
			wantErr: analysis.ErrEmptyClassification,
		},
		{
			name:    "object instead of list",
			status:  http.StatusOK,
			body:    `{"error":"unexpected"}`,
			wantErr: analysis.ErrEmptyClassification,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `internal`,
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
				body, _ := io.ReadAll(r.Body)
				assert.Equal(t, "jpeg-bytes", string(body))

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewHuggingFaceAdapter("hf_test", WithModelURL(server.URL))
			defer adapter.Close()

			predictions, err := adapter.Classify(context.Background(), []byte("jpeg-bytes"))
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.expected, predictions)
			}
		})
	}
}

func TestHuggingFaceAdapter_NotConfigured(t *testing.T) {
	adapter := NewHuggingFaceAdapter("")
	defer adapter.Close()

	assert.False(t, adapter.Configured())
	_, err := adapter.Classify(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, analysis.ErrClassifierNotConfigured)
	assert.ErrorIs(t, adapter.HealthCheck(context.Background()), analysis.ErrClassifierNotConfigured)
}

func TestHuggingFaceAdapter_CachesByImage(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		_, _ = w.Write([]byte(`[{"label":"microwave","score":0.6}]`))
	}))
	defer server.Close()

	store := cache.NewMemory(time.Minute)
	defer store.Close()
	health := resilience.NewDegradationManager(resilience.DefaultDegradationConfig())
	health.Register(ServiceName, true, nil)

	adapter := NewHuggingFaceAdapter("hf_test", WithModelURL(server.URL), WithCache(store), WithHealth(health))
	defer adapter.Close()

	for i := 0; i < 3; i++ {
		predictions, err := adapter.Classify(context.Background(), []byte("same-image"))
		require.NoError(t, err)
		require.Len(t, predictions, 1)
		assert.Equal(t, "microwave", predictions[0].Label)
	}
	_, err := adapter.Classify(context.Background(), []byte("other-image"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	snapshot := health.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, 2, snapshot[0].Observations)
}

func TestHuggingFaceAdapter_ConcurrentSameImage(t *testing.T) {
	var calls int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		<-release
		_, _ = w.Write([]byte(`[{"label":"toaster","score":0.9}]`))
	}))
	defer server.Close()

	adapter := NewHuggingFaceAdapter("hf_test", WithModelURL(server.URL))
	defer adapter.Close()

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]analysis.Classification, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := adapter.Classify(context.Background(), []byte("same photo"))
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt64(&calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for _, got := range results {
		assert.Equal(t, []analysis.Classification{{Label: "toaster", Confidence: 0.9}}, got)
	}
}

func TestHuggingFaceAdapter_CancelledCallerLeavesSharedCall(t *testing.T) {
	var calls int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		<-release
		_, _ = w.Write([]byte(`[{"label":"kettle","score":0.8}]`))
	}))
	defer server.Close()

	adapter := NewHuggingFaceAdapter("hf_test", WithModelURL(server.URL))
	defer adapter.Close()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := adapter.Classify(firstCtx, []byte("shared photo"))
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt64(&calls) == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		got []analysis.Classification
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		got, err := adapter.Classify(context.Background(), []byte("shared photo"))
		second <- outcome{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, []analysis.Classification{{Label: "kettle", Confidence: 0.8}}, res.got)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestHuggingFaceAdapter_ModelLoadingKeepsCircuitClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"estimated_time":12.5}`))
	}))
	defer server.Close()

	adapter := NewHuggingFaceAdapter("hf_test", WithModelURL(server.URL))
	defer adapter.Close()

	for i := 0; i < 10; i++ {
		_, err := adapter.Classify(context.Background(), []byte("img"))
		assert.ErrorIs(t, err, analysis.ErrModelLoading)
	}
	assert.Equal(t, "closed", adapter.GetPoolStats()["circuit_breaker_state"])
	assert.NoError(t, adapter.HealthCheck(context.Background()))
}

func TestHuggingFaceAdapter_BreakerObserver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var opened atomic.Int32
	adapter := NewHuggingFaceAdapter("hf_test",
		WithModelURL(server.URL),
		WithBreakerObserver(func(open bool) {
			if open {
				opened.Add(1)
			}
		}),
	)
	defer adapter.Close()

	for i := 0; i < 10; i++ {
		_, err := adapter.Classify(context.Background(), []byte("img"))
		assert.Error(t, err)
	}
	assert.Equal(t, "open", adapter.GetPoolStats()["circuit_breaker_state"])
	assert.Equal(t, int32(1), opened.Load())
}

func TestHuggingFaceAdapter_WithImageAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"label":"toaster","score":0.9}]`))
	}))
	defer server.Close()

	adapter := NewHuggingFaceAdapter("hf_test", WithModelURL(server.URL))
	defer adapter.Close()

	frag, err := analysis.NewImageAdapter(adapter, loaderFunc(func(context.Context, string) ([]byte, error) {
		return []byte("img"), nil
	})).Analyze(context.Background(), "/uploads/toaster.jpg")

	require.NoError(t, err)
	assert.Equal(t, analysis.ScoreVector{Repair: 2, Reuse: 3}, frag.Scores)
	assert.Equal(t, "Detected: toaster.", frag.Reasoning)
}

type loaderFunc func(ctx context.Context, ref string) ([]byte, error)

func (f loaderFunc) Load(ctx context.Context, ref string) ([]byte, error) { return f(ctx, ref) }
