package httphandler

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestObserver records per-request metrics. The Prometheus collector
// implements it.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code and delegates to the embedded writer.
func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// event stream needs for flushing.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// ApplyMiddleware wraps h with recovery, metrics and request logging.
// observer may be nil.
func ApplyMiddleware(h http.Handler, logger *slog.Logger, observer RequestObserver) http.Handler {
	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, h)
	wrapped = observeMiddleware(logger, observer, wrapped)
	return wrapped
}

// observeMiddleware logs each HTTP request with method, path, status, and
// duration, and reports it to observer keyed by the matched route pattern.
func observeMiddleware(logger *slog.Logger, observer RequestObserver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		if observer != nil {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			observer.ObserveRequest(r.Method, route, sw.status, elapsed)
		}

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", elapsed.Round(time.Microsecond),
		)
	})
}

// recoveryMiddleware recovers from panics in HTTP handlers, logs the error,
// and returns a 500 response.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("panic recovered",
					"panic", v,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
