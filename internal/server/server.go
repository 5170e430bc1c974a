// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ai-novine/portal/internal/cache"
	"github.com/ai-novine/portal/internal/config"
	"github.com/ai-novine/portal/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the main HTTP server. It reads from the cache and delegates
// refresh operations to the scheduler; it owns no news state of its own.
type Server struct {
	cfg       *config.Config
	cache     *cache.Cache
	scheduler *scheduler.Scheduler
	router    chi.Router
}

// New creates a new server.
func New(cfg *config.Config, c *cache.Cache, sched *scheduler.Scheduler) *Server {
	s := &Server{
		cfg:       cfg,
		cache:     c,
		scheduler: sched,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/news/{category}", s.handleNews)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/refresh/{category}", s.handleRefresh)
			r.Post("/refresh/priority/{tier}", s.handleRefreshPriority)
			r.Get("/scheduler/status", s.handleSchedulerStatus)
			r.Get("/scheduler/today", s.handleTodaySchedule)
			r.Post("/scheduler/start", s.handleSchedulerStart)
			r.Post("/scheduler/stop", s.handleSchedulerStop)
			r.Get("/cache/stats", s.handleCacheStats)
			r.Delete("/cache/{category}", s.handleCacheClear)
		})
	})

	s.router = r
}

// Start starts the scheduler and the HTTP listener.
func (s *Server) Start(addr string) error {
	s.scheduler.Start()
	log.Printf("Server starting on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Stop stops the scheduler.
func (s *Server) Stop() {
	s.scheduler.Stop()
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// --- News Handlers ---

// handleNews serves a category's cached articles. On a miss the route
// itself triggers an on-demand refresh; the scheduler never fetches on
// miss on its own.
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if _, ok := s.cfg.Category(category); !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown category %q", category))
		return
	}

	articles, ok := s.cache.Articles(r.Context(), category)
	if !ok {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.FetchTimeoutDuration())
		defer cancel()
		if res, err := s.scheduler.ManualRefresh(ctx, category); err != nil || res == scheduler.ResultFailed {
			s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("news for %q unavailable", category))
			return
		}
		// A skipped result means another refresh just ran or is finishing;
		// either way the cache is the source of truth.
		articles, ok = s.cache.Articles(r.Context(), category)
		if !ok {
			s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("news for %q unavailable", category))
			return
		}
	}

	resp := map[string]interface{}{
		"category": category,
		"count":    len(articles),
		"articles": articles,
	}
	if ts, ok := s.cache.NewsTimestamp(r.Context(), category); ok {
		resp["cached_at"] = ts
		resp["cache_age_minutes"] = int(time.Since(ts).Minutes())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- Admin Handlers ---

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	res, err := s.scheduler.ManualRefresh(r.Context(), category)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"result":   res,
	})
}

func (s *Server) handleRefreshPriority(w http.ResponseWriter, r *http.Request) {
	tier := chi.URLParam(r, "tier")
	res, err := s.scheduler.ManualRefreshByPriority(r.Context(), tier)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleTodaySchedule(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedule": s.scheduler.TodaySchedule(),
	})
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Start()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"is_running": true})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"is_running": false})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	deleted := s.cache.Delete(r.Context(), cache.NewsKey(category))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"category": category,
		"deleted":  deleted,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"cache_backend":     stats.BackendKind,
		"cache_hit_rate":    stats.HitRate,
		"scheduler_running": s.scheduler.Running(),
	})
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Response encode error: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
