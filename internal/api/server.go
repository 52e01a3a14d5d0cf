// Package api exposes the HTTP control surface: sample ingestion,
// record reads, and guardian administration. Reads never take a
// record write lock.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/coordinator"
	"github.com/tajalagawani/aura/internal/guardian"
	"github.com/tajalagawani/aura/internal/store"
)

// Producer accepts section updates for the write pipeline.
type Producer interface {
	ReportSample(assetID, section string, update aav.SectionUpdate)
}

type Server struct {
	addr     string
	producer Producer
	store    *store.Store
	guardian *guardian.Guardian
	coord    *coordinator.Coordinator

	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
	running  bool
}

func NewServer(addr string, st *store.Store) *Server {
	return &Server{
		addr:  addr,
		store: st,
	}
}

// SetProducer enables POST /samples. Must be called before Start.
func (s *Server) SetProducer(p Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producer = p
}

// SetGuardian enables the /guardian/health and /guardian/validate
// endpoints. Must be called before Start.
func (s *Server) SetGuardian(g *guardian.Guardian) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guardian = g
}

// SetCoordinator enables PUT /guardian/shards. Must be called before
// Start.
func (s *Server) SetCoordinator(c *coordinator.Coordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coord = c
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/samples", s.handleSamples)
	mux.HandleFunc("/records", s.handleListRecords)
	mux.HandleFunc("/records/", s.routeRecords)
	mux.HandleFunc("/guardian/health", s.handleGuardianHealth)
	mux.HandleFunc("/guardian/validate/", s.routeValidate)
	mux.HandleFunc("/guardian/shards", s.handleShards)
	mux.HandleFunc("/healthz", s.handleHealthz)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.running = true

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("api server error: %v\n", err)
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
