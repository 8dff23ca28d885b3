package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/maxpert/ringkv/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// MaxLineSize bounds a single request line
const MaxLineSize = 1 << 20

// Handler answers one request line. The follow-up, when not nil, runs after
// the reply has been flushed to the client, and also when the flush fails.
type Handler interface {
	Handle(line string) (reply string, followUp func())
}

// Server accepts line protocol connections and serves each on its own
// goroutine. Every byte on the port is line protocol.
type Server struct {
	handler  Handler
	listener net.Listener

	quit      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	conns     *xsync.MapOf[uint64, net.Conn]
	connIDGen atomic.Uint64
}

// NewServer creates a server dispatching lines to handler
func NewServer(handler Handler) *Server {
	return &Server{
		handler: handler,
		quit:    make(chan struct{}),
		conns:   xsync.NewMapOf[uint64, net.Conn](),
	}
}

// Start listens on address and serves in the background
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.Serve(listener)
}

// Serve starts serving on an already bound listener and returns immediately.
// The server owns the listener from here on.
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	log.Info().Str("address", listener.Addr().String()).Msg("Command server started")

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

// Addr returns the bound address, nil before Serve
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for
// connection goroutines to finish
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.conns.Range(func(_ uint64, conn net.Conn) bool {
			conn.Close()
			return true
		})
		s.wg.Wait()
		log.Info().Msg("Command server stopped")
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

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("Accept error")
			continue
		}

		id := s.connIDGen.Add(1)
		s.conns.Store(id, conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(id, conn)
		}()
	}
}

func (s *Server) handleConnection(id uint64, conn net.Conn) {
	telemetry.ActiveConnections.Inc()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Uint64("conn_id", id).
				Interface("panic", r).
				Msg("Connection handler panicked, closing connection")
		}
		conn.Close()
		s.conns.Delete(id)
		telemetry.ActiveConnections.Dec()
	}()

	// A connection accepted while stopping may have missed the close sweep
	if s.stopping() {
		return
	}

	log.Debug().Uint64("conn_id", id).Str("remote", conn.RemoteAddr().String()).Msg("New connection")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		reply, followUp := s.handler.Handle(scanner.Text())

		writer.WriteString(reply)
		writer.WriteByte('\n')
		err := writer.Flush()

		if followUp != nil {
			followUp()
		}
		if err != nil {
			log.Debug().Err(err).Uint64("conn_id", id).Msg("Write failed")
			return
		}
	}

	if err := scanner.Err(); err != nil && !s.stopping() {
		log.Debug().Err(err).Uint64("conn_id", id).Msg("Connection read failed")
	}
}
