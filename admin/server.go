package admin

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
)

// Server serves the admin API and metrics on a port of their own, apart from
// the command port. A line protocol client that dials it by mistake gets one
// error line naming the command address, then the connection is closed.
type Server struct {
	handler        http.Handler
	commandAddress string

	listener   net.Listener
	mux        cmux.CMux
	httpServer *http.Server

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server for handler. commandAddress is quoted to
// clients that speak the line protocol.
func NewServer(handler http.Handler, commandAddress string) *Server {
	return &Server{
		handler:        handler,
		commandAddress: commandAddress,
		quit:           make(chan struct{}),
	}
}

// Serve starts serving on listener and returns immediately
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener

	// HTTP1 reads the full request line; anything that is not HTTP falls through
	s.mux = cmux.New(listener)
	httpListener := s.mux.Match(cmux.HTTP1())
	otherListener := s.mux.Match(cmux.Any())

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(httpListener); err != nil && !s.stopping() {
			log.Error().Err(err).Msg("Admin HTTP server failed")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.redirectLoop(otherListener)
	}()

	go func() {
		if err := s.mux.Serve(); err != nil && !s.stopping() {
			log.Error().Err(err).Msg("Admin cmux failed")
		}
	}()

	log.Info().
		Str("address", listener.Addr().String()).
		Str("command_address", s.commandAddress).
		Msg("Admin server started")
	return nil
}

// Addr returns the bound address, nil before Serve
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and the HTTP server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		if s.httpServer != nil {
			s.httpServer.Close()
		}
		s.wg.Wait()
		log.Info().Msg("Admin server stopped")
	})
}

func (s *Server) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Server) redirectLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.stopping() || errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) {
				return
			}
			log.Error().Err(err).Msg("Admin accept error")
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.Write([]byte("ERROR: Admin port, send commands to " + s.commandAddress + "\n"))
		conn.Close()
	}
}
