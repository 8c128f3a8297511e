package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/vidaudio/internal/adapter/http/middleware"
	"github.com/bnema/vidaudio/internal/adapter/http/ratelimit"
	"github.com/bnema/vidaudio/internal/infrastructure/logger"
	"github.com/bnema/vidaudio/internal/service"
)

type Options struct {
	UploadDir          string
	DefaultFormat      string
	DefaultBitrate     string
	RateLimitPerMinute int
	BehindProxy        bool
	// JobTimeout is the per-job transcode timeout. Synchronous conversions
	// may wait for a slot and then run for up to this long each.
	JobTimeout time.Duration
}

type Server struct {
	mux         *http.ServeMux
	handlers    *Handlers
	sseHandler  *SSEHandler
	limiter     *ratelimit.Limiter
	behindProxy bool
	handler     http.Handler
}

func NewServer(svc ConversionService, eventBus *service.EventBus, opts Options) *Server {
	mux := http.NewServeMux()

	backoff := ratelimit.NewBackoff(
		time.Second,
		10*time.Minute,
		2.0,
	)

	s := &Server{
		mux:         mux,
		handlers:    NewHandlers(svc, opts),
		sseHandler:  NewSSEHandler(eventBus, svc),
		limiter:     ratelimit.NewLimiter(opts.RateLimitPerMinute, time.Minute, backoff),
		behindProxy: opts.BehindProxy,
	}

	s.registerRoutes()
	s.handler = middleware.AccessLog(middleware.SecurityHeaders(mux))

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handlers.Index())

	s.mux.HandleFunc("POST /convert", s.rateLimited(s.handlers.Convert()))

	s.mux.HandleFunc("GET /download/{file}", s.handlers.Download())

	s.mux.HandleFunc("GET /jobs/{id}", s.handlers.Job())
	s.mux.HandleFunc("GET /jobs/{id}/log", s.handlers.JobLog())
	s.mux.HandleFunc("GET /jobs/{id}/events", s.sseHandler.Events())

	s.mux.HandleFunc("GET /formats", s.handlers.Formats())
	s.mux.HandleFunc("GET /healthz", s.handlers.Health())
}

// Limiter exposes the request limiter so the caller can run its pruning loop.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, s.behindProxy)

		allowed, wait := s.limiter.Allow(ip)
		if !allowed {
			secs := int(math.Ceil(wait.Seconds()))
			logger.Warn.Printf("rate limit exceeded for %s, retry in %ds", logger.SanitizeForLog(ip), secs)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "Too many conversion requests. Please try again later.",
			})
			return
		}
		next(w, r)
	}
}

// clientIP uses the first X-Forwarded-For entry when the server sits behind
// a trusted proxy and the connection's remote address otherwise.
func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
