// Package server implements the TCP front end of the video service: an
// accept loop that hands each connection to its own goroutine, and a strict
// one-command-at-a-time dispatch loop per connection.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"vidstream/internal/core/ports"
	"vidstream/internal/infrastructure/monitoring"
	"vidstream/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultSegmentLength is the fixed duration, in seconds, of one uploaded
// segment. Quality negotiation and re-segmentation happen upstream of this
// service.
const DefaultSegmentLength = 10

type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Limiter throttles accepted connections. Nil disables limiting.
	Limiter *rate.Limiter

	// Metrics may be nil; counters are then skipped.
	Metrics *monitoring.PrometheusCollector
}

type Server struct {
	store   ports.Store
	logger  *zap.SugaredLogger
	opts    Options
	handler map[protocol.Command]func(*conn) error

	mu       sync.Mutex
	listener net.Listener
	active   map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// conn bundles one accepted connection with its buffered streams and the
// identity attached to it for logging.
type conn struct {
	raw net.Conn
	r   *bufio.Reader
	w   *bufio.Writer
	log *zap.SugaredLogger
}

func New(store ports.Store, logger *zap.SugaredLogger, opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	s := &Server{
		store:  store,
		logger: logger,
		opts:   opts,
		active: make(map[net.Conn]struct{}),
	}
	s.handler = map[protocol.Command]func(*conn) error{
		protocol.CmdLogin:                 s.handleLogin,
		protocol.CmdRegister:              s.handleRegister,
		protocol.CmdGetVideoList:          s.handleGetVideoList,
		protocol.CmdGetVideoSegment:       s.handleGetVideoSegment,
		protocol.CmdUploadVideo:           s.handleUploadVideo,
		protocol.CmdGetUserVideos:         s.handleGetUserVideos,
		protocol.CmdEditVideo:             s.handleEditVideo,
		protocol.CmdCreateChannel:         s.handleCreateChannel,
		protocol.CmdGetChannelInfo:        s.handleGetChannelInfo,
		protocol.CmdGetChannelVideos:      s.handleGetChannelVideos,
		protocol.CmdSubscribe:             s.handleSubscribe,
		protocol.CmdUnsubscribe:           s.handleUnsubscribe,
		protocol.CmdGetUserChannels:       s.handleGetUserChannels,
		protocol.CmdGetUserChannelsByUser: s.handleGetUserChannelsByUser,
		protocol.CmdGetVideoInfo:          s.handleGetVideoInfo,
	}
	return s
}

// ListenAndServe binds addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the listener is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server already shut down")
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Infow("server listening", "address", ln.Addr().String())

	for {
		raw, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if s.opts.Limiter != nil && !s.opts.Limiter.Allow() {
			s.logger.Warnw("connection rejected by rate limiter",
				"remote", raw.RemoteAddr().String())
			raw.Close()
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			raw.Close()
			return nil
		}
		s.active[raw] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(raw)
		}()
	}
}

// Shutdown closes the listener and every open connection, then waits for the
// per-connection goroutines to drain or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.active {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) removeConn(raw net.Conn) {
	s.mu.Lock()
	delete(s.active, raw)
	s.mu.Unlock()
}

// handleConnection runs the per-connection state machine: read one command
// byte, run the matching handler to completion, repeat. Any handler error is
// fatal to the connection; a corrupted byte offset cannot be resynchronized
// without an outer envelope, so the connection is closed instead.
func (s *Server) handleConnection(raw net.Conn) {
	log := s.logger.With(
		"conn_id", uuid.NewString(),
		"remote", raw.RemoteAddr().String(),
	)
	c := &conn{
		raw: raw,
		r:   bufio.NewReader(raw),
		w:   bufio.NewWriter(raw),
		log: log,
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.ConnectionOpened()
	}
	log.Infow("client connected")

	defer func() {
		s.removeConn(raw)
		raw.Close()
		if s.opts.Metrics != nil {
			s.opts.Metrics.ConnectionClosed()
		}
		log.Infow("client disconnected")
	}()

	for {
		// Idle between commands is allowed; deadlines apply per command.
		raw.SetReadDeadline(time.Time{})

		var cmdByte [1]byte
		if _, err := io.ReadFull(c.r, cmdByte[:]); err != nil {
			if err != io.EOF {
				log.Warnw("failed to read command byte", "error", err)
			}
			return
		}

		cmd := protocol.Command(cmdByte[0])
		if !cmd.Known() {
			log.Warnw("unknown command byte, closing connection",
				"command_byte", cmdByte[0])
			return
		}

		raw.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		raw.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))

		start := time.Now()
		err := s.handler[cmd](c)
		if err == nil {
			err = c.w.Flush()
		}
		if err != nil {
			if s.opts.Metrics != nil {
				s.opts.Metrics.CommandFailed(cmd.String())
			}
			log.Errorw("command failed, closing connection",
				"command", cmd.String(), "error", err)
			return
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.CommandHandled(cmd.String(), time.Since(start).Seconds())
		}
		log.Debugw("command handled",
			"command", cmd.String(), "duration", time.Since(start))
	}
}

// extendDeadlines pushes the connection deadlines forward during long
// transfers (uploads receive one extension per acknowledged chunk).
func (c *conn) extendDeadlines(read, write time.Duration) {
	c.raw.SetReadDeadline(time.Now().Add(read))
	c.raw.SetWriteDeadline(time.Now().Add(write))
}
