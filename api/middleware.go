package api

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/catflap/catflapd/internal/access"
)

type contextKey int

const directionKey contextKey = iota

// validateDirection resolves the {direction} URL segment to a door, or 404s.
func (s *Server) validateDirection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var dir access.Direction
		switch chi.URLParam(r, "direction") {
		case "entry":
			dir = access.Entry
		case "exit":
			dir = access.Exit
		default:
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, MessageResponse{Error: "direction must be entry or exit"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), directionKey, dir)))
	})
}

func directionFrom(r *http.Request) access.Direction {
	return r.Context().Value(directionKey).(access.Direction)
}

// rateLimit applies a per-client token bucket. Limiters live in an expiring
// cache so idle clients do not accumulate.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	limiters := cache.New(10*time.Minute, 10*time.Minute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			var limiter *rate.Limiter
			if cached, ok := limiters.Get(ip); ok {
				limiter = cached.(*rate.Limiter)
			} else {
				limiter = rate.NewLimiter(rate.Limit(10), 20)
				limiters.Set(ip, limiter, cache.DefaultExpiration)
			}
			if !limiter.Allow() {
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, MessageResponse{Error: "Too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

// cached serves a stored copy of successful responses for ttl, shielding the
// control loop's collaborators from polling dashboards.
func (s *Server) cached(ttl time.Duration) func(http.Handler) http.Handler {
	store := cache.New(ttl, 2*ttl)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.RequestURI()
			if hit, ok := store.Get(key); ok {
				resp := hit.(cachedResponse)
				w.Header().Set("Content-Type", resp.contentType)
				w.WriteHeader(resp.status)
				_, _ = w.Write(resp.body)
				return
			}
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status == http.StatusOK {
				store.Set(key, cachedResponse{
					status:      rec.status,
					contentType: rec.Header().Get("Content-Type"),
					body:        rec.buf.Bytes(),
				}, cache.DefaultExpiration)
			}
		})
	}
}
