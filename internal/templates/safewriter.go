package templates

import "net/http"

// SafeWriter sends the HTML content type and status exactly once, on the
// first write or explicit WriteHeader
type SafeWriter struct {
	w          http.ResponseWriter
	statusCode int
	written    bool
}

// NewSafeWriter wraps w
func (t *Templates) NewSafeWriter(w http.ResponseWriter) *SafeWriter {
	return &SafeWriter{w: w, statusCode: http.StatusOK}
}

// SetStatusCode sets the status sent with the headers
func (sw *SafeWriter) SetStatusCode(code int) {
	if !sw.written {
		sw.statusCode = code
	}
}

// WriteHeader sends headers once; later calls are ignored
func (sw *SafeWriter) WriteHeader(code int) {
	if sw.written {
		return
	}
	sw.w.Header().Set("Content-Type", "text/html; charset=utf-8")
	sw.w.Header().Set("X-Content-Type-Options", "nosniff")
	sw.w.WriteHeader(code)
	sw.written = true
}

func (sw *SafeWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.WriteHeader(sw.statusCode)
	}
	return sw.w.Write(b)
}

// Written reports whether headers have been sent
func (sw *SafeWriter) Written() bool {
	return sw.written
}
