package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/gorilla/mux"
	"github.com/pixperk/zlock/pkg/raft"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// what the admin endpoints need from a node
type Source interface {
	Status() raft.Status
	Range(ctx context.Context, prefix string) ([]types.KeyValue, error)
}

type Server struct {
	httpServer *http.Server
	source     Source
	root       string
}

// serves /metrics, /status and /locks/{name} for records kept under root
func NewServer(httpAddr string, source Source, root string) *Server {
	s := &Server{
		source: source,
		root:   root,
	}
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET").Name("metrics")
	router.HandleFunc("/status", s.statusHandler).Methods("GET").Name("status")
	router.HandleFunc("/locks/{name}", s.lockHandler).Methods("GET").Name("lock")
	return router
}

func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, req *http.Request) {
	sendJSON(w, s.source.Status(), http.StatusOK)
}

type lockView struct {
	Name    string           `json:"name"`
	Holder  string           `json:"holder,omitempty"`
	Records []types.KeyValue `json:"records"`
}

// records in acquisition order, the first one holds the lock
func (s *Server) lockHandler(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	kvs, err := s.source.Range(ctx, path.Join(s.root, name)+"/")
	if err != nil {
		if errors.Is(err, types.ErrNotLeader) {
			sendError(w, err, http.StatusServiceUnavailable)
			return
		}
		sendServerError(req, w, newContextError(err).WithField("lock", name))
		return
	}

	view := lockView{Name: name, Records: kvs}
	if view.Records == nil {
		view.Records = []types.KeyValue{}
	}
	if len(kvs) > 0 {
		view.Holder = kvs[0].Value
	}
	sendJSON(w, view, http.StatusOK)
}
