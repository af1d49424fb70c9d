// Package httpapi exposes a minimal operator surface for health checks and
// cluster introspection. It configures nothing about the outbox itself;
// it only reports what the running instance already knows.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/relaykit/outbox/internal/instance"
	"github.com/relaykit/outbox/internal/partition"
)

// Server serves /healthz, /debug/partitions and /debug/instances, and mounts
// the http-swagger UI under /swagger/; no generated OpenAPI document is
// registered in this repository.
type Server struct {
	Coordinator *partition.Coordinator
	Instances   *instance.Registry
}

// Router builds the mux.Router for this server. Callers embed it into
// their own http.Server so the debug surface shares the application's TLS
// termination and middleware stack.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/debug/partitions", s.handleDebugPartitions).Methods(http.MethodGet)
	r.HandleFunc("/debug/instances", s.handleDebugInstances).Methods(http.MethodGet)
	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// debugPartitionsResponse is the JSON body of GET /debug/partitions.
type debugPartitionsResponse struct {
	InstanceID string `json:"instance_id"`
	Assigned   []int  `json:"assigned_partitions"`
	Count      int    `json:"count"`
}

func (s *Server) handleDebugPartitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assigned, err := s.Coordinator.AssignedPartitions(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, debugPartitionsResponse{
		InstanceID: s.Coordinator.InstanceID,
		Assigned:   assigned,
		Count:      len(assigned),
	})
}

func (s *Server) handleDebugInstances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	active, err := s.Instances.ListActive(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, active)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Shutdown is a no-op; the debug server's lifecycle is owned by the
// embedding http.Server, not by this package.
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
