// Package web serves the layout store to out-of-process renderers.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/logging"
	"github.com/ritzau/graph-layout/pkg/mutation"
	"github.com/ritzau/graph-layout/pkg/pubsub"
	"github.com/ritzau/graph-layout/pkg/store"
)

// NodeRequest creates a node
type NodeRequest struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IndexMetrics is the body of /api/index/metrics
type IndexMetrics struct {
	Store store.Stats `json:"store"`
	// Subscribers counts open SSE streams of layout changes
	Subscribers int `json:"subscribers"`
	// Dropped counts layout changes lost on slow streams
	Dropped int `json:"dropped"`
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	store     *store.Store
	actor     string
	publisher *pubsub.SSEPublisher
	stopFwd   func()

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates a server over st. Writes without an actor header are
// attributed to actor.
func NewServer(st *store.Store, actor string) *Server {
	ssePublisher := pubsub.NewSSEPublisher()

	// layout_changes: replay only the last change so a reconnecting client
	// knows it missed something and can refetch
	ssePublisher.ConfigureTopic(pubsub.TopicLayoutChanges, pubsub.TopicConfig{
		BufferSize: 1,
		ReplayAll:  false,
	})
	// index_metrics: current snapshot only
	ssePublisher.ConfigureTopic(pubsub.TopicIndexMetrics, pubsub.TopicConfig{
		BufferSize: 1,
		ReplayAll:  false,
	})

	if actor == "" {
		actor = layout.DefaultActor
	}
	s := &Server{
		router:    mux.NewRouter(),
		store:     st,
		actor:     actor,
		publisher: ssePublisher,
	}
	s.stopFwd = pubsub.ForwardChanges(st, ssePublisher)
	s.setupRoutes()
	return s
}

// Handler returns the routed handler wrapped in request logging
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

// PublishIndexMetrics publishes a metrics snapshot to SSE subscribers
func (s *Server) PublishIndexMetrics() error {
	return s.publisher.Publish(pubsub.TopicIndexMetrics, "metrics", s.metrics())
}

func (s *Server) setupRoutes() {
	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/layout", s.handleSubscribe(pubsub.TopicLayoutChanges)).Methods("GET")
	s.router.HandleFunc("/api/subscribe/metrics", s.handleSubscribe(pubsub.TopicIndexMetrics)).Methods("GET")

	s.router.HandleFunc("/api/layout/nodes", s.handleNodes).Methods("GET")
	s.router.HandleFunc("/api/layout/nodes", s.handleCreateNode).Methods("POST")
	s.router.HandleFunc("/api/layout/nodes/{id}", s.handleNode).Methods("GET")
	s.router.HandleFunc("/api/layout/nodes/{id}", s.handleDeleteNode).Methods("DELETE")
	s.router.HandleFunc("/api/layout/nodes/{id}/position", s.handleMoveNode).Methods("PUT")
	s.router.HandleFunc("/api/layout/nodes/{id}/size", s.handleResizeNode).Methods("PUT")

	s.router.HandleFunc("/api/layout/viewport", s.handleViewport).Methods("GET")
	s.router.HandleFunc("/api/layout/nearby", s.handleNearby).Methods("GET")
	s.router.HandleFunc("/api/layout/operations", s.handleOperations).Methods("GET")
	s.router.HandleFunc("/api/index/metrics", s.handleMetrics).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// mutator returns a write handle attributed to the request's actor
func (s *Server) mutator(r *http.Request) *mutation.Mutator {
	actor := logging.GetActor(r.Context())
	if actor == "" {
		actor = s.actor
	}
	return s.store.Mutator().WithSource(actor)
}

func (s *Server) handleSubscribe(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		sub, err := s.publisher.Subscribe(r.Context(), topic)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer sub.Close()

		// initial comment establishes the stream (Safari)
		fmt.Fprintf(w, ": connected\n\n")
		flush(w)

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := pubsub.WriteSSE(w, event); err != nil {
					logging.DebugContext(r.Context(), "SSE client went away", "topic", topic, "error", err)
					return
				}
				flush(w)
			}
		}
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Adapter().GetAllNodes())
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, ok := s.store.GetNode(id)
	if !ok {
		http.Error(w, fmt.Sprintf("Node not found: %s", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		http.Error(w, "Node id required", http.StatusBadRequest)
		return
	}

	err := s.mutator(r).CreateNode(req.ID, layout.Point{X: req.X, Y: req.Y}, layout.Size{Width: req.Width, Height: req.Height})
	if writeError(w, err) {
		return
	}
	n, _ := s.store.GetNode(req.ID)
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleMoveNode(w http.ResponseWriter, r *http.Request) {
	var pos layout.Point
	if !readJSON(w, r, &pos) {
		return
	}
	id := mux.Vars(r)["id"]
	s.respondNode(w, id, s.mutator(r).MoveNode(id, pos))
}

func (s *Server) handleResizeNode(w http.ResponseWriter, r *http.Request) {
	var size layout.Size
	if !readJSON(w, r, &size) {
		return
	}
	id := mux.Vars(r)["id"]
	s.respondNode(w, id, s.mutator(r).ResizeNode(id, size))
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if writeError(w, s.mutator(r).DeleteNode(mux.Vars(r)["id"])) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondNode reports the node after an edit; unknown ids are 404 even
// though the edit itself was a silent no-op
func (s *Server) respondNode(w http.ResponseWriter, id string, err error) {
	if writeError(w, err) {
		return
	}
	n, ok := s.store.GetNode(id)
	if !ok {
		http.Error(w, fmt.Sprintf("Node not found: %s", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	v, err := floats(r, "x", "y", "w", "h")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.store.QueryViewport(layout.Bounds{X: v[0], Y: v[1], Width: v[2], Height: v[3]}))
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	v, err := floats(r, "x", "y", "r")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	center := layout.Point{X: v[0], Y: v[1]}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":    s.store.QueryRadius(center, v[2]),
		"reroutes": s.store.QueryReroutes(center, v[2]),
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a := s.store.Adapter()

	var ops []layout.Operation
	if actor := q.Get("actor"); actor != "" {
		ops = a.GetOperationsByActor(actor)
	} else {
		since := layout.MinTimestamp
		if raw := q.Get("since"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid since %q", raw), http.StatusBadRequest)
				return
			}
			since = v
		}
		ops = a.GetOperationsSince(since)
	}
	if ops == nil {
		ops = []layout.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics())
}

func (s *Server) metrics() IndexMetrics {
	return IndexMetrics{
		Store:       s.store.Stats(),
		Subscribers: s.publisher.Subscribers(pubsub.TopicLayoutChanges),
		Dropped:     s.publisher.Dropped(pubsub.TopicLayoutChanges),
	}
}

func floats(r *http.Request, names ...string) ([]float64, error) {
	q := r.URL.Query()
	out := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", name, q.Get(name))
		}
		out[i] = v
	}
	return out, nil
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to write response", "error", err)
	}
}

// writeError maps mutation errors to status codes; it reports whether it wrote
func writeError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, layout.ErrInvalidLayout):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, layout.ErrRerouteCycle):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
	return true
}

// Start serves on port until Shutdown
func (s *Server) Start(port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	logging.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener, closes SSE streams and detaches from the store
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopFwd()
	_ = s.publisher.Close()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
