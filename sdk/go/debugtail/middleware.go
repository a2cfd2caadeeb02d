package debugtail

import (
	"fmt"
	"net/http"
	"time"
)

// Middleware returns an http.Handler that reports each request as a Timer
// event, or an Error event when the response status is 5xx.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		t := Timer
		if sw.status >= http.StatusInternalServerError {
			t = Error
		}
		c.s.Send(t, fmt.Sprintf("%s %s %d", r.Method, r.URL.RequestURI(), sw.status), "", elapsed)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
