package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sloppy/codeshield/internal/llm"
	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/rules"
	"github.com/sloppy/codeshield/internal/scan"
)

// HealthChecker reports on the AI backend.
type HealthChecker interface {
	Health(ctx context.Context) llm.Health
}

// Server wires the web handlers and dependencies.
type Server struct {
	Scans   *scan.Service
	Catalog *rules.Catalog
	// LLM is nil when AI verification is not configured.
	LLM HealthChecker
	// DefaultScan is the config used when a start request omits one.
	DefaultScan model.ScanConfig
	Log         *zap.SugaredLogger
	Router      chi.Router
}

type Options struct {
	LLM         HealthChecker
	DefaultScan *model.ScanConfig
	Log         *zap.SugaredLogger
}

// NewServer constructs the router and registers routes.
func NewServer(scans *scan.Service, catalog *rules.Catalog, opts Options) *Server {
	server := &Server{
		Scans:       scans,
		Catalog:     catalog,
		LLM:         opts.LLM,
		DefaultScan: model.DefaultScanConfig(),
		Log:         opts.Log,
	}
	if opts.DefaultScan != nil {
		server.DefaultScan = opts.DefaultScan.Normalize()
	}
	if server.Log == nil {
		server.Log = zap.NewNop().Sugar()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(server.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(sameOriginGuard)

	r.Get("/", server.handleRoot)
	r.Post("/projects", server.handleProjectsCreate)
	r.Post("/projects/{id}/scan", server.handleProjectScan)
	r.Get("/scans/{id}", server.handleScanDashboard)

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", server.handleAPIProjectsList)
		r.Post("/projects", server.handleAPIProjectsCreate)
		r.Get("/projects/{id}", server.handleAPIProject)
		r.Get("/projects/{id}/file", server.handleAPIProjectFile)

		r.Get("/scans", server.handleAPIScansList)
		r.Post("/scan/start", server.handleAPIScanStart)
		r.Get("/scan/{id}/status", server.handleAPIScanStatus)
		r.Get("/scan/{id}/findings", server.handleAPIScanFindings)
		r.Get("/scan/{id}/export", server.handleAPIScanExport)
		r.Post("/scan/{id}/findings/{findingID}/analyze", server.handleAPIFindingAnalyze)
		r.Post("/scan/{id}/findings/{findingID}/status", server.handleAPIFindingStatus)
		r.Post("/scan/{id}/cancel", server.handleAPIScanCancel)

		r.Get("/llm/health", server.handleAPILLMHealth)
		r.Get("/rules", server.handleAPIRules)
	})

	server.Router = r
	return server
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.Router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// sameOriginGuard rejects state-changing requests whose Origin header names
// a different host. Requests without an Origin header pass.
func sameOriginGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || !strings.EqualFold(u.Host, r.Host) {
				http.Error(w, "cross-origin request rejected", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
