// Package clientapi is the loopback HTTP surface the interception transport
// calls once per request.
package clientapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"privacyspace/internal/fingerprint"
	"privacyspace/internal/observation"
	"privacyspace/internal/reportclient"
	"privacyspace/internal/verdict"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	loopbackHost      = "127.0.0.1"
)

// StatusSource reports the health of the aggregator connection.
type StatusSource interface {
	Status() reportclient.Status
}

type Options struct {
	Engine     *verdict.Engine
	Normalizer *observation.Normalizer
	Rotator    *fingerprint.Rotator
	Client     StatusSource
}

type API struct {
	engine     *verdict.Engine
	normalizer *observation.Normalizer
	rotator    *fingerprint.Rotator
	client     StatusSource
}

func New(opts Options) (*API, error) {
	if opts.Engine == nil {
		return nil, errors.New("clientapi: engine is required")
	}

	api := &API{
		engine:     opts.Engine,
		normalizer: opts.Normalizer,
		rotator:    opts.Rotator,
		client:     opts.Client,
	}
	if api.normalizer == nil {
		api.normalizer = observation.NewNormalizer()
	}
	if api.rotator == nil {
		api.rotator = fingerprint.NewRotator(0)
	}
	return api, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) Handler() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("POST /evaluate", a.evaluate)
	router.HandleFunc("POST /whitelist", a.whitelist)
	router.HandleFunc("DELETE /whitelist/{kind}/{subject}", a.unwhitelist)
	router.HandleFunc("GET /status", a.status)

	return router
}

// ListenAndServe binds to the loopback interface only and serves until ctx is
// done.
func (a *API) ListenAndServe(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              net.JoinHostPort(loopbackHost, strconv.Itoa(port)),
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting local client API", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("client api failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
