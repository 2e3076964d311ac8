// Response compression middleware for API endpoints.
//
// Compresses responses using zstd, brotli, or gzip at fast compression
// levels. Skips responses that already have a Content-Encoding set
// (precompressed payloads, SSE-style streaming responses that flush
// piecemeal).
package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressMiddleware returns a handler that compresses responses based on
// the client's Accept-Encoding header.
func compressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accepted := parseAcceptEncoding(r.Header.Get("Accept-Encoding"))
		enc := negotiateEncoding(accepted)
		if enc == "" {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{
			ResponseWriter: w,
			encoding:       enc,
		}
		defer cw.finish()
		next.ServeHTTP(cw, r)
	})
}

// parseAcceptEncoding parses an Accept-Encoding header into the set of
// encodings the client accepts, dropping any with a zero q-value
// ("gzip;q=0" means "explicitly not gzip").
func parseAcceptEncoding(header string) map[string]bool {
	accepted := make(map[string]bool)
	if header == "" {
		return accepted
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, params, _ := strings.Cut(part, ";")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		q := 1.0
		if qStr, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(strings.TrimSpace(qStr), 64); err == nil {
				q = v
			}
		}
		accepted[name] = q > 0
	}
	return accepted
}

// negotiateEncoding picks the best encoding the client accepts.
func negotiateEncoding(accepted map[string]bool) string {
	for _, enc := range []string{"zstd", "br", "gzip"} {
		if accepted[enc] {
			return enc
		}
	}
	return ""
}

// compressWriter wraps http.ResponseWriter to compress the response body.
type compressWriter struct {
	http.ResponseWriter
	encoding     string
	writer       io.WriteCloser
	headerSent   bool
	skipCompress bool
}

func (cw *compressWriter) WriteHeader(code int) {
	cw.initOnce()
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	cw.initOnce()
	if cw.skipCompress {
		return cw.ResponseWriter.Write(b)
	}
	return cw.writer.Write(b)
}

// initOnce inspects response headers to decide whether to compress. Called
// once before the first Write or WriteHeader.
func (cw *compressWriter) initOnce() {
	if cw.headerSent {
		return
	}
	cw.headerSent = true

	h := cw.Header()

	if h.Get("Content-Encoding") != "" {
		cw.skipCompress = true
		return
	}

	h.Del("Content-Length")
	h.Set("Content-Encoding", cw.encoding)
	h.Add("Vary", "Accept-Encoding")

	switch cw.encoding {
	case "zstd":
		enc, _ := zstd.NewWriter(cw.ResponseWriter, zstd.WithEncoderLevel(zstd.SpeedFastest))
		cw.writer = enc
	case "br":
		cw.writer = brotli.NewWriterLevel(cw.ResponseWriter, 1)
	case "gzip":
		gz, _ := gzip.NewWriterLevel(cw.ResponseWriter, gzip.BestSpeed)
		cw.writer = gz
	}
}

// finish flushes and closes the compressor.
func (cw *compressWriter) finish() {
	if cw.writer == nil {
		return
	}
	_ = cw.writer.Close()
}

// Flush flushes compressed data to the wire. When compression is active,
// the compressor is flushed first to emit buffered compressed bytes.
func (cw *compressWriter) Flush() {
	if cw.writer != nil {
		if f, ok := cw.writer.(interface{ Flush() error }); ok {
			_ = f.Flush()
		}
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (cw *compressWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
