// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/accel/backend"
	"github.com/kortschak/accel/internal/slogext"
	"github.com/kortschak/accel/internal/xdg"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that unix sockets
// are created in.
const RuntimeDir = "accel"

// Statuser is a backend that can report its selection outcome.
// [backend.Selector] is a Statuser.
type Statuser interface {
	Status() backend.Status
}

// Server is a read-only backend status server.
type Server struct {
	network  string
	sock     string
	version  string
	backends []Statuser

	listener *netListener
	server   *jsonrpc2.Server

	log *slog.Logger
}

var statusUID = UID{Module: "rpc", Service: "status"}

// NewServer returns a new Server reporting the state of the provided
// backends over network, which may be either "unix" or "tcp". If addr is
// empty, a unix socket is created in a temporary directory within the
// XDG runtime directory, or a tcp listener is opened on an ephemeral
// localhost port.
func NewServer(ctx context.Context, network, addr, version string, backends []Statuser, options jsonrpc2.NetListenOptions, log *slog.Logger) (*Server, error) {
	switch network {
	case "unix", "tcp":
	default:
		return nil, fmt.Errorf("unsupported network: %q", network)
	}
	s := Server{
		network:  network,
		version:  version,
		backends: backends,
		log:      log.With(slog.String("component", statusUID.String())),
	}

	if addr == "" {
		addr = "localhost:0"
		if network == "unix" {
			dir, err := xdg.Runtime(RuntimeDir)
			if err != nil {
				if err != syscall.ENOENT {
					return nil, err
				}
				var ok bool
				dir, ok = xdg.RuntimeDir()
				if !ok {
					return nil, errors.New("no xdg runtime directory")
				}
				dir = filepath.Join(dir, RuntimeDir)
				err = os.Mkdir(dir, 0o700)
				if err != nil && !errors.Is(err, os.ErrExist) {
					return nil, fmt.Errorf("failed to create runtime directory: %w", err)
				}
			}
			s.sock, err = os.MkdirTemp(dir, fmt.Sprintf("sock-%d-*", os.Getpid()))
			if err != nil {
				return nil, err
			}
			addr = filepath.Join(s.sock, "status")
			s.log.LogAttrs(ctx, slog.LevelDebug, "status socket", slog.String("path", addr))
		}
	}

	var err error
	s.listener, err = newNetListener(ctx, network, addr, options)
	if err != nil {
		if s.sock != "" {
			os.RemoveAll(s.sock)
		}
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelDebug, "new status server", slog.String("network", network), slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle is the server's message handler.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))

	switch req.Method {
	case Who:
		var m Message[None]
		err := unmarshalParams(req, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		if !req.IsCall() {
			return nil, nil
		}
		return NewMessage(statusUID, s.version), nil

	case State:
		var m Message[StateRequest]
		err := unmarshalParams(req, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		return s.state(ctx, req, m)

	default:
		return nil, jsonrpc2.ErrNotHandled
	}
}

// unmarshalParams strictly unmarshals the request's parameters into m.
// Absent parameters leave m unaltered.
func unmarshalParams[T any](req *jsonrpc2.Request, m *Message[T]) error {
	if len(req.Params) == 0 {
		return nil
	}
	return UnmarshalMessage(req.Params, m)
}

func (s *Server) state(ctx context.Context, req *jsonrpc2.Request, m Message[StateRequest]) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, req.Method, slog.Any("message", m))
	state := SysState{
		Version:  s.version,
		Network:  s.network,
		Addr:     s.listener.Addr().String(),
		Backends: []backend.Status{},
	}
	if s.sock != "" {
		sock := s.sock
		state.Sock = &sock
	}
	want := make(map[string]bool, len(m.Body.Backends))
	for _, name := range m.Body.Backends {
		want[name] = true
	}
	for _, b := range s.backends {
		st := b.Status()
		if len(want) != 0 && !want[st.Backend] {
			continue
		}
		delete(want, st.Backend)
		state.Backends = append(state.Backends, st)
	}
	if len(want) != 0 {
		missing := make([]string, 0, len(want))
		for _, name := range m.Body.Backends {
			if want[name] {
				missing = append(missing, name)
			}
		}
		return nil, NewError(ErrCodeNotFound, "no such backend", map[string]any{
			"backends": missing,
		})
	}
	if req.IsCall() {
		return NewMessage(statusUID, state), nil
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "state request", slog.Any("state", state))
	return nil, nil
}

// Close closes the server and removes any created socket directory.
func (s *Server) Close() error {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	s.server.Shutdown()
	err := s.server.Wait()
	if s.sock != "" {
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "remove sockets dir", slog.String("dir", s.sock))
		err := os.RemoveAll(s.sock)
		if err != nil {
			s.log.LogAttrs(context.Background(), slog.LevelWarn, "failed to remove sockets dir", slog.Any("error", err))
		}
	}
	return err
}
