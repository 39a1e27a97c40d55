package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/tim-br/diakonos/internal/dkerr"
	"github.com/tim-br/diakonos/internal/registry"
)

// Server accepts unix-socket connections and serially dispatches
// newline-delimited JSON requests against a Registry.
type Server struct {
	reg      *registry.Registry
	listener net.Listener
	logger   *slog.Logger

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	onShutdown   func()
}

// New constructs a Server backed by reg. onShutdown, if non-nil, is invoked
// once a Shutdown request has been acknowledged to the client — the daemon
// entrypoint uses it to trigger the rest of its graceful teardown.
func New(reg *registry.Registry, logger *slog.Logger, onShutdown func()) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		reg:        reg,
		logger:     logger.With("component", "ipc"),
		shutdownCh: make(chan struct{}),
		onShutdown: onShutdown,
	}
}

// ListenUnix binds the control socket. Any stale socket file left by a
// previous, uncleanly terminated daemon is removed first.
func (s *Server) ListenUnix(path string) error {
	if _, err := os.Stat(path); err == nil {
		if rmErr := os.Remove(path); rmErr != nil {
			return dkerr.IoError("removing stale socket", rmErr)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return dkerr.IoError("binding control socket", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return dkerr.IoError("setting socket permissions", err)
	}
	s.listener = ln
	s.logger.Info("listening", "socket", path)
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return dkerr.IoError("accepting connection", err)
			}
		}
		go s.handleConn(conn)
	}
}

// ShutdownRequested returns a channel that is closed once a Shutdown
// request has been processed, for the entrypoint to wait on before exiting
// the process.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	logger := s.logger.With("conn", connID)

	reader := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)

	for reader.Scan() {
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn("malformed request", "error", err)
			s.writeResponse(writer, ErrorResponse(fmt.Sprintf("invalid request: %v", err)))
			continue
		}

		logger.Info("request", "kind", req.Kind, "service", req.Service)
		resp := s.dispatch(req)
		s.writeResponse(writer, resp)

		if req.Kind == ReqShutdown {
			s.shutdownOnce.Do(func() {
				close(s.shutdownCh)
				if s.onShutdown != nil {
					s.onShutdown()
				}
			})
			return
		}
	}

	if err := reader.Err(); err != nil {
		logger.Warn("connection read error", "error", err)
	}
}

func (s *Server) writeResponse(w *bufio.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write response", "error", err)
		return
	}
	if err := w.Flush(); err != nil {
		s.logger.Warn("failed to flush response", "error", err)
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Kind {
	case ReqStart:
		if err := s.reg.Start(req.Service); err != nil {
			return ErrorResponse(fmt.Sprintf("failed to start service %q: %v", req.Service, err))
		}
		return OkResponse(fmt.Sprintf("service %q started successfully", req.Service))

	case ReqStop:
		if err := s.reg.Stop(req.Service); err != nil {
			return ErrorResponse(fmt.Sprintf("failed to stop service %q: %v", req.Service, err))
		}
		return OkResponse(fmt.Sprintf("service %q stopped successfully", req.Service))

	case ReqRestart:
		if err := s.reg.Restart(req.Service); err != nil {
			return ErrorResponse(fmt.Sprintf("failed to restart service %q: %v", req.Service, err))
		}
		return OkResponse(fmt.Sprintf("service %q restarted successfully", req.Service))

	case ReqStatus:
		st, err := s.reg.Status(req.Service)
		if err != nil {
			return ErrorResponse(fmt.Sprintf("failed to get status for %q: %v", req.Service, err))
		}
		return StatusResponse(req.Service, st.State)

	case ReqList:
		statuses := s.reg.List()
		entries := make([]ServiceEntry, 0, len(statuses))
		for _, st := range statuses {
			entries = append(entries, ServiceEntry{Name: st.Name, State: st.State})
		}
		return ListResponse(entries)

	case ReqPing:
		return PongResponse()

	case ReqShutdown:
		return OkResponse("daemon shutting down")

	default:
		return ErrorResponse(fmt.Sprintf("unknown request kind %q", req.Kind))
	}
}
