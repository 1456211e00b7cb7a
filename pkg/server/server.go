// Package server exposes the binding driver over HTTP on a Unix socket.
//
// The CNI plugin and piesssctl talk to the binder through this socket; the
// binder owns the ledger, so every binding decision goes through one
// process.
//
// Endpoints:
// - POST /bind                      - bind a port
// - POST /unbind                    - release a port's bandwidth
// - POST /check-segment             - can the driver bind on a segment
// - POST /segments/validate         - validate a provider segment
// - POST /segments/reserve          - reserve a provider segment
// - POST /segments/release          - release a segment
// - POST /segments/allocate-tenant  - allocate a tenant segment
// - GET  /allocations               - capacity and committed bandwidth
// - GET  /healthz
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jiayi-1994/piesss-binder/pkg/logging"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

// ShutdownTimeout bounds how long Stop waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// Server serves the binding API on a Unix socket.
type Server struct {
	socketPath string
	handler    http.Handler

	mu         sync.Mutex
	httpServer *http.Server // nil when stopped
}

// NewServer creates a Server. An empty socketPath uses the default path.
func NewServer(socketPath string, api *API) *Server {
	if socketPath == "" {
		socketPath = types.DefaultSocketPath
	}
	return &Server{socketPath: socketPath, handler: api.Handler()}
}

// listenUnix replaces any stale socket at path and opens it to every user;
// the CNI plugin runs as whatever user the runtime picks.
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return l, nil
}

// Start opens the socket and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("binding server is already running on %s", s.socketPath)
	}

	l, err := listenUnix(s.socketPath)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  RequestTimeout,
		WriteTimeout: RequestTimeout,
	}
	s.httpServer = srv

	log := logging.L().WithName("server").WithValues("socket", s.socketPath)
	go func() {
		log.Info("Binding server listening")
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Binding server stopped unexpectedly")
		}
	}()
	return nil
}

// Stop drains in-flight requests and removes the socket.
// Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil

	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	logging.L().WithName("server").Info("Binding server stopped", "socket", s.socketPath)
	return err
}

// Run starts the server and blocks until ctx is done. It fits
// manager.RunnableFunc.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpServer != nil
}

func (s *Server) SocketPath() string {
	return s.socketPath
}
