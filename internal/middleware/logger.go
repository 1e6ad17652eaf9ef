// Package middleware provides reusable HTTP middleware for the API server.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// wrappedWriter captures the status code and body size written by downstream handlers.
type wrappedWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (rw *wrappedWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *wrappedWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer to flush.
func (rw *wrappedWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logger logs method, path, status code, bytes written and duration for every request.
// Requests whose handler panics (including http.ErrAbortHandler after a broken
// stream) are logged as aborted and the panic is passed on.
func Logger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &wrappedWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				rec := recover()
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.statusCode,
					"bytes", ww.bytes,
					"duration", time.Since(start),
					"request_id", chiMiddleware.GetReqID(r.Context()),
				}
				if rec == nil {
					log.Info("request", attrs...)
					return
				}
				log.Warn("request", append(attrs, "aborted", true)...)
				panic(rec)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
