package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/config"
	"github.com/ZanzyTHEbar/disposal-triage/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{
			Port:           "0",
			DataDir:        dir,
			RequestTimeout: 10 * time.Second,
		},
		Database:   config.DatabaseConfig{Driver: "sqlite3"},
		Uploads:    config.UploadConfig{Dir: dir, MaxBytes: 1 << 20},
		Classifier: config.ClassifierConfig{CacheTTL: time.Minute},
		RateLimit:  config.RateLimitConfig{PerMinute: 1000, SubmitPerMinute: 1000},
		LogLevel:   "error",
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a, err := newApp(context.Background(), cfg, monitoring.NewLogger(monitoring.ParseLevel(cfg.LogLevel)))
	require.NoError(t, err)
	t.Cleanup(func() {
		a.server.Wait()
		a.Close()
	})
	return a
}

func serve(a *app, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestApp_Health(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	w := serve(a, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	services := body["services"].([]interface{})
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.(map[string]interface{})["name"].(string))
	}
	assert.ElementsMatch(t, []string{depDatabase, depUploads}, names)

	w = serve(a, httptest.NewRequest(http.MethodGet, "/pools/database", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sqlite3", decodeBody(t, w)["stats"].(map[string]interface{})["driver"])
}

func TestApp_SubmissionLifecycle(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	// form
	w := serve(a, jsonRequest(t, http.MethodPost, "/api/forms", gin.H{
		"title": "Small appliances",
		"fields": []gin.H{
			{"id": "cond", "label": "Condition", "type": "select", "required": true, "options": []string{"Excellent", "Broken"}},
			{"id": "desc", "label": "Description", "type": "textarea"},
			{"id": "photo", "label": "Product Image", "type": "file"},
		},
	}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	formID := decodeBody(t, w)["id"].(string)

	// multipart submission with a photo
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("formId", formID))
	require.NoError(t, mw.WriteField("data", `{"cond":"Broken","desc":"the glass is shattered"}`))
	part, err := mw.CreateFormFile("productImage", "kettle.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, image.NewGray(image.Rect(0, 0, 4, 4))))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/submissions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = serve(a, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody(t, w)
	id := created["id"].(string)
	assert.Equal(t, "recycle", created["aiAnalysis"].(map[string]interface{})["recommendation"])

	// stored answers and the served photo
	w = serve(a, httptest.NewRequest(http.MethodGet, "/api/submissions/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sub := decodeBody(t, w)
	assert.Equal(t, "Small appliances", sub["formTitle"])
	assert.Equal(t, "Broken", sub["data"].(map[string]interface{})["Condition"])
	imageRef := sub["imageRef"].(string)
	require.NotEmpty(t, imageRef)

	w = serve(a, httptest.NewRequest(http.MethodGet, imageRef, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	// review
	w = serve(a, httptest.NewRequest(http.MethodGet, "/api/ai-reviews/pending", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = serve(a, jsonRequest(t, http.MethodPut, "/api/ai-reviews/"+id+"/decision", gin.H{
		"adminDecision": "REPAIR",
		"adminNotes":    "Glass panel is replaceable",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(a, jsonRequest(t, http.MethodPut, "/api/ai-reviews/"+id+"/decision", gin.H{}))
	assert.Equal(t, http.StatusConflict, w.Code)

	// customer view reflects the reviewer's decision
	w = serve(a, httptest.NewRequest(http.MethodGet, "/api/customer-result/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeBody(t, w)
	assert.Equal(t, "repair", result["recommendation"])
	assert.Equal(t, true, result["reviewed"])
	assert.Equal(t, "Glass panel is replaceable", result["notes"])

	w = serve(a, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody(t, w)
	assert.Equal(t, float64(1), stats["totalSubmissions"])
	assert.Equal(t, float64(1), stats["overridden"])

	w = serve(a, httptest.NewRequest(http.MethodGet, "/api/admin/export.xlsx", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, w.Body.Len())

	// erasure removes the rows and the photo
	w = serve(a, httptest.NewRequest(http.MethodDelete, "/api/submissions/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(a, httptest.NewRequest(http.MethodGet, "/api/customer-result/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(a, httptest.NewRequest(http.MethodGet, imageRef, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApp_AdminRequiresTokenWhenSecretSet(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = config.AuthConfig{JWTSecret: "integration-secret", AdminPassword: "letmein", TokenTTL: time.Hour}
	a := newTestApp(t, cfg)

	w := serve(a, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(a, jsonRequest(t, http.MethodPost, "/api/admin/login", gin.H{"password": "letmein"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decodeBody(t, w)["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(a, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApp_SubmitRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.SubmitPerMinute = 2
	a := newTestApp(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := serve(a, jsonRequest(t, http.MethodPost, "/api/submissions", gin.H{
			"data": gin.H{"Condition": "Good"},
		}))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestApp_ConcurrentAnalyze(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	payloads := []gin.H{
		{"Condition": "Excellent", "Product Age": "6 months"},
		{"Description": "shattered and leaking"},
		{"Electrical issue": "Yes, wire exposed but is repairable", "Mechanical issue": "None"},
	}
	want := []string{"retain", "recycle", "repair"}

	var wg sync.WaitGroup
	errs := make(chan string, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := serve(a, jsonRequest(t, http.MethodPost, "/api/analyze", payloads[i%3]))
			if w.Code != http.StatusOK {
				errs <- w.Body.String()
				return
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["recommendation"] != want[i%3] {
				errs <- w.Body.String()
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Errorf("unexpected response: %s", e)
	}
}
