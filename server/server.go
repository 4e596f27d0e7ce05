// Package server owns the shared listener. One TCP port carries both the
// HTTP surface (signature check, health, metrics) and the raw socket
// protocol; cmux splits them by first bytes.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"

	"github.com/herald-io/herald/socket"
	"github.com/herald-io/herald/telemetry"
)

// SignatureProvider exposes the per-process relay origin token for the
// relay's callback verification.
type SignatureProvider interface {
	Signature() string
}

// Config configures the shared listener.
type Config struct {
	BindAddress string
	Port        int

	Sockets *socket.Registry
	Signer  SignatureProvider
	Metrics bool // Expose /metrics
}

// Server multiplexes HTTP and socket traffic on one port.
type Server struct {
	bindAddress string
	port        int
	sockets     *socket.Registry
	signer      SignatureProvider
	metrics     bool

	listener net.Listener
	mux      cmux.CMux
	httpSrv  *http.Server

	lifecycleMu sync.Mutex
	running     atomic.Bool
}

// New creates a server.
func New(config Config) (*Server, error) {
	if config.Sockets == nil {
		return nil, fmt.Errorf("socket registry is required")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("signature provider is required")
	}
	return &Server{
		bindAddress: config.BindAddress,
		port:        config.Port,
		sockets:     config.Sockets,
		signer:      config.Signer,
		metrics:     config.Metrics,
	}, nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the port and begins serving. Non-blocking.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.bindAddress, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener

	s.mux = cmux.New(listener)
	// Socket clients wait for the server's hello and send nothing first, so
	// the HTTP sniffer needs a deadline to fall through to the Any matcher.
	s.mux.SetReadTimeout(time.Second)
	httpListener := s.mux.Match(cmux.HTTP1Fast())
	socketListener := s.mux.Match(cmux.Any())

	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	go s.acceptSockets(socketListener)

	go func() {
		if err := s.mux.Serve(); err != nil && s.running.Load() {
			log.Error().Err(err).Msg("Listener mux failed")
		}
	}()

	s.running.Store(true)
	log.Info().Str("address", addr).Msg("Listener started")
	return nil
}

// Stop closes the listener and every open socket.
func (s *Server) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.Load() {
		return
	}
	s.running.Store(false)

	s.httpSrv.Close()
	s.listener.Close()
	s.sockets.CloseAll()
	log.Info().Msg("Listener stopped")
}

// acceptSockets hands each raw connection to the registry.
func (s *Server) acceptSockets(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.running.Load() {
				log.Error().Err(err).Msg("Socket accept failed")
			}
			return
		}
		go s.sockets.Serve(conn)
	}
}

// routes builds the HTTP surface.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Relays call back here to verify a dispatch request really came from
	// this process.
	r.Post("/signature", s.handleSignature)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if s.metrics {
		if h := telemetry.GetMetricsHandler(); h != nil {
			r.Handle("/metrics", h)
		}
	}

	return r
}

func (s *Server) handleSignature(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, 4096)).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if body.Signature != s.signer.Signature() {
		log.Warn().Str("remote", req.RemoteAddr).Msg("Signature verification failed")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
