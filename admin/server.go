// server.go - UNIX domain socket control server.
// Copyright (C) 2017  David Stainton, Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package admin

import (
	"bufio"
	"container/list"
	"encoding/base64"
	"net"
	"os"
	"sync"

	"github.com/katzenpost/core/log"
	"github.com/op/go-logging"
)

// Handler is implemented by the node and invoked for each admin request.
// Reload, RotateKeys, Metrics and RelayTable may be called concurrently
// with ordinary packet processing and must be safe for that.
type Handler interface {
	Start() error
	Stop() error
	Reload(configPath string) error
	RotateKeys() error
	Metrics() *Response
	RelayTable() *Response
}

// Server is the control socket's accept loop, generalizing listener.go's
// TCP accept loop (embedded WaitGroup, per-connection goroutine, close-all
// on halt) to a UNIX domain socket carrying one base64-encoded CBOR frame
// per line, since raw CBOR may itself contain newline bytes.
type Server struct {
	sync.WaitGroup
	sync.Mutex

	l    net.Listener
	path string
	log  *logging.Logger

	handler Handler
	conns   *list.List

	closeAllCh chan struct{}
	closeAllWg sync.WaitGroup
}

// NewServer binds a UNIX domain socket at socketPath and returns a Server
// ready to Start. Any stale socket file at socketPath is removed first.
func NewServer(socketPath string, handler Handler, logBackend *log.Backend) (*Server, error) {
	os.Remove(socketPath)

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		l:          l,
		path:       socketPath,
		log:        logBackend.GetLogger("admin-server"),
		handler:    handler,
		conns:      list.New(),
		closeAllCh: make(chan struct{}),
	}
	return s, nil
}

// Start launches the accept loop.
func (s *Server) Start() {
	s.Add(1)
	go s.worker()
}

// Shutdown closes the listener and all accepted connections, waiting for
// the accept loop and in-flight handlers to finish. A second call is a
// no-op.
func (s *Server) Shutdown() {
	select {
	case <-s.closeAllCh:
		return
	default:
	}
	s.l.Close()
	s.Wait()
	close(s.closeAllCh)
	s.Lock()
	for e := s.conns.Front(); e != nil; e = e.Next() {
		e.Value.(net.Conn).Close()
	}
	s.Unlock()
	s.closeAllWg.Wait()
	os.Remove(s.path)
}

func (s *Server) worker() {
	defer func() {
		s.log.Noticef("admin socket closed: %v", s.path)
		s.l.Close()
		s.Done()
	}()
	s.log.Noticef("admin socket listening: %v", s.path)
	for {
		conn, err := s.l.Accept()
		if err != nil {
			if e, ok := err.(net.Error); ok && !e.Temporary() {
				return
			}
			continue
		}
		go s.onNewConn(conn)
	}
}

func (s *Server) onNewConn(conn net.Conn) {
	s.closeAllWg.Add(1)
	defer s.closeAllWg.Done()
	defer conn.Close()

	s.Lock()
	elem := s.conns.PushFront(conn)
	s.Unlock()
	defer func() {
		s.Lock()
		s.conns.Remove(elem)
		s.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)
	for scanner.Scan() {
		resp := s.handleLine(scanner.Bytes())
		encoded, err := resp.Marshal()
		if err != nil {
			s.log.Errorf("failed to marshal admin response: %v", err)
			return
		}
		line := base64.StdEncoding.EncodeToString(encoded)
		if _, err := writer.WriteString(line + "\n"); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleLine(line []byte) *Response {
	raw, err := base64.StdEncoding.DecodeString(string(line))
	if err != nil {
		return errorResponse(err)
	}
	var req Request
	if err := req.Unmarshal(raw); err != nil {
		return errorResponse(err)
	}
	return s.dispatch(&req)
}

func (s *Server) dispatch(req *Request) *Response {
	switch req.Op {
	case OpStart:
		if err := s.handler.Start(); err != nil {
			return errorResponse(err)
		}
		return okResponse()
	case OpStop:
		if err := s.handler.Stop(); err != nil {
			return errorResponse(err)
		}
		return okResponse()
	case OpReload:
		if err := s.handler.Reload(req.ConfigPath); err != nil {
			return errorResponse(err)
		}
		return okResponse()
	case OpRotateKeys:
		if err := s.handler.RotateKeys(); err != nil {
			return errorResponse(err)
		}
		return okResponse()
	case OpGetMetrics:
		return s.handler.Metrics()
	case OpGetRelayTable:
		return s.handler.RelayTable()
	default:
		return errorResponse(errUnknownOp(req.Op))
	}
}
