package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// ListenAndServe listens on addr and serves until Stop. It returns nil after
// a graceful Stop.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	var started bool
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.httpServer = &http.Server{
			Handler:           s.handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return s.ctx },
		}
		s.mu.Unlock()
		started = true
	})
	if !started {
		ln.Close()
		return errors.New("server already started")
	}

	logger.AddPulseOpenSymbol(s.logger).Infow("HTTP server listening",
		logger.FieldAddress, ln.Addr().String())

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains the HTTP server, closes WebSocket clients and waits for
// server goroutines. In-flight requests get until ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.getState() != ServerStateRunning {
		return nil
	}
	log := logger.AddPulseCloseSymbol(s.logger)
	log.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	var shutdownErr error
	s.mu.RLock()
	httpServer := s.httpServer
	s.mu.RUnlock()
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "http server shutdown")
			httpServer.Close()
		}
	}

	// Hijacked WebSocket connections are not tracked by http.Server
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Infow("All server goroutines stopped")
	case <-time.After(ShutdownTimeout):
		log.Warnw("Server goroutine shutdown timed out", "timeout", ShutdownTimeout)
	}

	s.setState(ServerStateStopped)
	log.Infow("Server shutdown complete", "broadcast_drops", s.broadcastDrops.Load())
	return shutdownErr
}
