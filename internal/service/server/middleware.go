package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the id used to correlate a request with its log line
const RequestIDHeader = "X-Request-ID"

// statusRecorder captures the status and body size of a response
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// LoggingMiddleware tags every request with an id and logs its outcome.
// Server errors are logged at warn level, everything else at debug.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log := logger.Debug
			if rec.status >= http.StatusInternalServerError {
				log = logger.Warn
			}
			log("api request",
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int64("bytes", rec.bytes),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// BasicAuthMiddleware guards maintenance and write routes
func BasicAuthMiddleware(username, password string, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	wantUser, wantPass := []byte(username), []byte(password)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			valid := ok &&
				subtle.ConstantTimeCompare([]byte(user), wantUser) == 1 &&
				subtle.ConstantTimeCompare([]byte(pass), wantPass) == 1
			if valid {
				next(w, r)
				return
			}

			if ok {
				logger.Warn("rejected admin credentials",
					zap.String("username", user),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("path", r.URL.Path))
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="dupecache"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		}
	}
}
