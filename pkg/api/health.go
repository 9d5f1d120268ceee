package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/kbus/pkg/binding"
	"github.com/cuemby/kbus/pkg/log"
	"github.com/cuemby/kbus/pkg/metrics"
)

// Introspector is the read-only broker view served over HTTP.
// *broker.Broker implements it.
type Introspector interface {
	Bindings() []binding.Binding
	Endpoints() int
	BindingCounts() (repliers, listeners int)
	Outstanding() int
}

// HealthServer provides the HTTP admin endpoints
type HealthServer struct {
	broker Introspector
	mux    *http.ServeMux
	server *http.Server
}

// NewHealthServer creates a new admin HTTP server for broker
func NewHealthServer(broker Introspector) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		broker: broker,
		mux:    mux,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	// Register endpoints
	mux.Handle("/health", getOnly(metrics.HealthHandler()))
	mux.Handle("/ready", getOnly(metrics.ReadyHandler()))
	mux.Handle("/live", getOnly(metrics.LivenessHandler()))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/bindings", hs.bindingsHandler)
	mux.HandleFunc("/stats", hs.statsHandler)

	return hs
}

// Start serves on addr until Shutdown
func (hs *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hs.Serve(lis)
}

// Serve serves on lis until Shutdown
func (hs *HealthServer) Serve(lis net.Listener) error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", lis.Addr().String()).Msg("Admin HTTP server listening")
	err := hs.server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

// BindingResponse is one entry of the /bindings response
type BindingResponse struct {
	Pattern  string `json:"pattern"`
	Endpoint uint32 `json:"endpoint"`
	Replier  bool   `json:"replier"`
}

// StatsResponse represents the /stats response
type StatsResponse struct {
	Timestamp   time.Time `json:"timestamp"`
	Endpoints   int       `json:"endpoints"`
	Repliers    int       `json:"repliers"`
	Listeners   int       `json:"listeners"`
	Outstanding int       `json:"outstanding"`
}

// bindingsHandler lists every binding in bind order
func (hs *HealthServer) bindingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.broker == nil {
		http.Error(w, "Broker not initialized", http.StatusServiceUnavailable)
		return
	}

	bindings := hs.broker.Bindings()
	response := make([]BindingResponse, 0, len(bindings))
	for _, bd := range bindings {
		response = append(response, BindingResponse{
			Pattern:  bd.Pattern,
			Endpoint: uint32(bd.Endpoint),
			Replier:  bd.Replier,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (hs *HealthServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.broker == nil {
		http.Error(w, "Broker not initialized", http.StatusServiceUnavailable)
		return
	}

	repliers, listeners := hs.broker.BindingCounts()
	writeJSON(w, http.StatusOK, StatsResponse{
		Timestamp:   time.Now(),
		Endpoints:   hs.broker.Endpoints(),
		Repliers:    repliers,
		Listeners:   listeners,
		Outstanding: hs.broker.Outstanding(),
	})
}

func getOnly(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
