// Package bridge exposes the dispatcher to a host application as
// newline-delimited JSON over a Unix socket or stdio.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/plugin"
)

const (
	// SocketPermissions lets members of the socket's group connect.
	SocketPermissions = 0o660

	maxMessageSize = 64 * 1024
)

// ErrNoSession is returned when a prompt has no connection to go to.
var ErrNoSession = errors.New("no host session for consent prompt")

type sessionKey struct{}

// session is one host connection.
type session struct {
	id     int
	mu     sync.Mutex
	enc    *json.Encoder
	closed bool
}

func (s *session) send(r Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.enc.Encode(r)
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Server reads calls from host connections and writes back results and
// consent prompts.
type Server struct {
	dispatcher *plugin.Dispatcher
	logger     *slog.Logger

	mu     sync.Mutex
	nextID int
	wg     sync.WaitGroup
}

// NewServer creates a Server over d.
func NewServer(d *plugin.Dispatcher, logger *slog.Logger) *Server {
	return &Server{
		dispatcher: d,
		logger:     logger.With("module", "bridge"),
	}
}

// Prompt sends req to the host connection whose call issued it. It is meant
// to be installed as the consent.Relay prompter.
func (s *Server) Prompt(ctx context.Context, req consent.Request) error {
	sess, ok := ctx.Value(sessionKey{}).(*session)
	if !ok {
		return ErrNoSession
	}
	r := req
	return sess.send(Reply{Event: EventConsentRequest, Request: &r})
}

// Listen creates the Unix socket at path, replacing a stale one.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}
	if err := os.Chmod(path, SocketPermissions); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return l, nil
}

// Serve accepts connections on l until ctx is done or l is closed.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	s.logger.Info("bridge listening", "addr", l.Addr().String())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("failed to accept connection", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn handles one host connection until it closes or ctx is done.
// Calls are run concurrently; results are matched to calls by id.
func (s *Server) ServeConn(ctx context.Context, rw io.ReadWriteCloser) {
	defer rw.Close()

	// Unblock the reader on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			rw.Close()
		case <-stop:
		}
	}()

	s.mu.Lock()
	s.nextID++
	sess := &session{id: s.nextID, enc: json.NewEncoder(rw)}
	s.mu.Unlock()
	defer sess.close()

	logger := s.logger.With("session", sess.id)
	logger.Info("host connected")
	ctx = context.WithValue(ctx, sessionKey{}, sess)

	var calls sync.WaitGroup
	defer calls.Wait()

	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn("invalid message", "error", err)
			sess.send(Reply{Error: fmt.Sprintf("Invalid JSON: %v", err)})
			continue
		}

		calls.Add(1)
		go func() {
			defer calls.Done()
			s.handle(ctx, sess, logger, msg)
		}()
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		logger.Warn("connection read failed", "error", err)
	}
	logger.Info("host disconnected")
}

func (s *Server) handle(ctx context.Context, sess *session, logger *slog.Logger, msg Message) {
	logger.Debug("received message", "id", msg.ID, "method", msg.Method)

	if msg.Method == MethodConsentDecision {
		var p DecisionParams
		if err := json.Unmarshal(msg.Params, &p); err != nil || p.Ticket == "" {
			s.reply(sess, logger, Reply{ID: msg.ID, Error: "ticket is mandatory"})
			return
		}
		if err := s.dispatcher.Decide(p.Ticket, p.Granted); err != nil {
			s.reply(sess, logger, Reply{ID: msg.ID, Error: err.Error()})
			return
		}
		if msg.ID != "" {
			s.reply(sess, logger, Reply{ID: msg.ID, Result: &plugin.Result{}})
		}
		return
	}

	var params plugin.Params
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.reply(sess, logger, Reply{ID: msg.ID, Error: fmt.Sprintf("invalid params: %v", err)})
			return
		}
	}

	call := plugin.NewCall(msg.Method, params,
		func(r plugin.Result) {
			s.reply(sess, logger, Reply{ID: msg.ID, Result: &r})
		},
		func(err error) {
			s.reply(sess, logger, Reply{ID: msg.ID, Error: err.Error()})
		},
	)
	call.ID = msg.ID
	s.dispatcher.Invoke(ctx, call)
}

func (s *Server) reply(sess *session, logger *slog.Logger, r Reply) {
	if err := sess.send(r); err != nil {
		logger.Warn("failed to send reply", "id", r.ID, "error", err)
	}
}

// stdio joins stdin and stdout into one connection.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

// ServeStdio serves a single host over the process's stdin and stdout.
func (s *Server) ServeStdio(ctx context.Context) {
	s.ServeConn(ctx, stdio{Reader: os.Stdin, Writer: os.Stdout})
}
