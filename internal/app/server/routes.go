// Package server is the aggregator's HTTP and WebSocket surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"privacyspace/internal/auth"
	"privacyspace/internal/broadcast"
	"privacyspace/internal/jobs/runtime"
	"privacyspace/internal/registry"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type Options struct {
	Registry *registry.Registry
	Hub      *broadcast.Hub
	Activity *runtime.ReporterActivity
	// Redis is optional and only used for instance counts.
	Redis *redis.Client
	// OriginPatterns restricts browser origins on /subscribe.
	OriginPatterns []string
}

type Server struct {
	registry       *registry.Registry
	hub            *broadcast.Hub
	activity       *runtime.ReporterActivity
	redis          *redis.Client
	originPatterns []string
	graphql        http.Handler
}

func New(opts Options) (*Server, error) {
	if opts.Registry == nil || opts.Hub == nil {
		return nil, errors.New("server: registry and hub are required")
	}

	s := &Server{
		registry:       opts.Registry,
		hub:            opts.Hub,
		activity:       opts.Activity,
		redis:          opts.Redis,
		originPatterns: opts.OriginPatterns,
	}
	if s.activity == nil {
		s.activity = runtime.NewReporterActivity(nil, 0)
	}

	gqlHandler, err := newGraphQLHandler(s.registry)
	if err != nil {
		return nil, fmt.Errorf("server: build graphql schema: %w", err)
	}
	s.graphql = gqlHandler

	return s, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("POST /reports", s.submitReport)
	router.HandleFunc("GET /subscribe", s.subscribe)
	router.HandleFunc("GET /snapshot", s.getSnapshot)

	router.HandleFunc("GET /api/trackers", s.listTrackers)
	router.HandleFunc("GET /api/trackers/live", s.liveTrackers)
	router.HandleFunc("GET /api/trackers/{kind}/{subject}", s.getTracker)
	router.HandleFunc("GET /api/stats", s.getStats)
	router.HandleFunc("GET /api/blocklist", s.getBlocklist)
	router.Handle("POST /graphql", s.graphql)
	router.Handle("GET /graphql", s.graphql)

	router.Handle("POST /admin/whitelist", auth.IsAdmin(http.HandlerFunc(s.whitelist)))
	router.Handle("GET /admin/settings", auth.IsAdmin(http.HandlerFunc(getSettings)))
	router.Handle("POST /admin/settings", auth.IsAdmin(http.HandlerFunc(saveSettings)))

	router.HandleFunc("GET /version", getVersion)
	router.HandleFunc("GET /healthz", s.healthz)

	return enableCORS(router)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting privacyspace aggregator on port :%d", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("aggregator server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Shutdown does not track upgraded websocket connections.
	s.hub.DisconnectAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("aggregator shutdown: %w", err)
	}
	return nil
}
