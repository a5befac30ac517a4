package middleware

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // Minimum response size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9, 9 is best compression)
	ContentTypes     []string // Content types to compress
}

// DefaultCompressionConfig compresses JSON, the result page and the swagger UI.
// Photos and workbooks are already compressed and pass through.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: gzip.DefaultCompression,
		ContentTypes: []string{
			"application/json",
			"text/plain",
			"text/html",
			"text/css",
			"application/javascript",
		},
	}
}

// CompressionMiddleware gzips large text responses for clients that accept it
type CompressionMiddleware struct {
	config CompressionConfig
	stats  *CompressionStats
	pool   sync.Pool
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	if config.MinSize <= 0 {
		config.MinSize = DefaultCompressionConfig().MinSize
	}
	cm := &CompressionMiddleware{config: config, stats: &CompressionStats{}}
	cm.pool.New = func() interface{} {
		gz, err := gzip.NewWriterLevel(nil, config.CompressionLevel)
		if err != nil {
			gz = gzip.NewWriter(nil)
		}
		return gz
	}
	return cm
}

// Handler returns the gin middleware. Matching responses are buffered until
// the handler returns so small bodies can still go out uncompressed.
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !acceptsGzip(c.Request) || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		w := &gzipResponseWriter{ResponseWriter: c.Writer, match: cm.shouldCompress}
		c.Writer = w
		defer func() { c.Writer = w.ResponseWriter }()

		c.Next()
		cm.finish(w)
	}
}

func (cm *CompressionMiddleware) finish(w *gzipResponseWriter) {
	if !w.buffering {
		return
	}

	body := w.buf.Bytes()
	if len(body) < cm.config.MinSize {
		cm.stats.record(len(body), len(body), false)
		_, _ = w.ResponseWriter.Write(body)
		return
	}

	var out bytes.Buffer
	gz := cm.pool.Get().(*gzip.Writer)
	gz.Reset(&out)
	_, err := gz.Write(body)
	if err == nil {
		err = gz.Close()
	}
	cm.pool.Put(gz)
	if err != nil {
		cm.stats.record(len(body), len(body), false)
		_, _ = w.ResponseWriter.Write(body)
		return
	}

	h := w.ResponseWriter.Header()
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	cm.stats.record(len(body), out.Len(), true)
	_, _ = w.ResponseWriter.Write(out.Bytes())
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(strings.TrimSpace(name), "gzip") {
			return strings.ReplaceAll(params, " ", "") != "q=0"
		}
	}
	return false
}

// shouldCompress checks if the content type should be compressed
func (cm *CompressionMiddleware) shouldCompress(h http.Header) bool {
	if h.Get("Content-Encoding") != "" {
		return false
	}
	contentType := h.Get("Content-Type")
	for _, ct := range cm.config.ContentTypes {
		if strings.HasPrefix(contentType, ct) {
			return true
		}
	}
	return false
}

// GetStats returns compression statistics
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	return cm.stats.GetStats()
}

// gzipResponseWriter decides on the first write whether to buffer the body
// for compression or stream it unchanged
type gzipResponseWriter struct {
	gin.ResponseWriter
	match     func(http.Header) bool
	decided   bool
	buffering bool
	buf       bytes.Buffer
}

func (w *gzipResponseWriter) Write(data []byte) (int, error) {
	if !w.decided {
		w.decided = true
		status := w.ResponseWriter.Status()
		w.buffering = status != http.StatusNoContent && status != http.StatusNotModified && w.match(w.Header())
	}
	if w.buffering {
		return w.buf.Write(data)
	}
	return w.ResponseWriter.Write(data)
}

func (w *gzipResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Written reports buffered bodies as written so later middleware does not
// render a second response
func (w *gzipResponseWriter) Written() bool {
	return w.buffering || w.ResponseWriter.Written()
}

// Flush is a no-op while buffering; the body goes out when the handler returns
func (w *gzipResponseWriter) Flush() {
	if !w.buffering {
		w.ResponseWriter.Flush()
	}
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	totalRequests      atomic.Int64
	compressedRequests atomic.Int64
	totalBytes         atomic.Int64
	compressedBytes    atomic.Int64
}

func (cs *CompressionStats) record(originalSize, writtenSize int, compressed bool) {
	cs.totalRequests.Add(1)
	cs.totalBytes.Add(int64(originalSize))
	cs.compressedBytes.Add(int64(writtenSize))
	if compressed {
		cs.compressedRequests.Add(1)
	}
}

// GetStats returns current compression statistics
func (cs *CompressionStats) GetStats() map[string]interface{} {
	total := cs.totalBytes.Load()
	written := cs.compressedBytes.Load()

	ratio := float64(1)
	if total > 0 {
		ratio = float64(written) / float64(total)
	}

	return map[string]interface{}{
		"total_requests":      cs.totalRequests.Load(),
		"compressed_requests": cs.compressedRequests.Load(),
		"total_bytes":         total,
		"compressed_bytes":    written,
		"compression_ratio":   ratio,
		"compression_savings": 1.0 - ratio,
	}
}
