// Package network owns the TCP listener and the per-connection handler
// loop. Handlers share nothing but the store and the replication manager.
package network

import (
	"bufio"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jeffasante/kv-store/src/protocol"
	"github.com/jeffasante/kv-store/src/replication"
	"github.com/jeffasante/kv-store/src/store"
)

type Server struct {
	store    *store.Store
	repl     *replication.Manager
	address  string
	listener net.Listener
	log      *logrus.Entry
	metrics  *replication.Metrics
}

func NewServer(st *store.Store, repl *replication.Manager, address string, metrics *replication.Metrics) *Server {
	return &Server{
		store:   st,
		repl:    repl,
		address: address,
		log:     logrus.WithField("component", "server"),
		metrics: metrics,
	}
}

// Start binds the listening address. Failure to bind is fatal to startup.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrapf(err, "bind %s", s.address)
	}
	s.listener = listener
	s.log.WithField("address", listener.Addr().String()).Info("server listening")
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until the listener is closed. Each connection
// gets its own handler goroutine; a handler failure never reaches the
// accept loop or other handlers.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.WithError(err).Error("accept failed")
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) ListenAndServe() error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConn runs the read-decode-apply-respond loop for one connection.
// EOF or an I/O error ends only this handler.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("connection accepted")

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Debug("connection closed")
			return
		}

		response := s.execute(strings.TrimSpace(line))

		if _, err := writer.WriteString(response + "\n"); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

// execute maps one request line to one response line. Malformed input and
// role violations are answered on the wire, never raised.
func (s *Server) execute(line string) string {
	cmd, err := protocol.Parse(line)
	if err != nil {
		var parseErr *protocol.ParseError
		if errors.As(err, &parseErr) {
			return protocol.EncodeError(parseErr.Reason)
		}
		return protocol.EncodeError(err.Error())
	}

	switch cmd.Kind {
	case protocol.Get:
		if value, ok := s.store.Get(cmd.Key); ok {
			return protocol.EncodeValue(value)
		}
		return protocol.RespNotFound

	case protocol.Put:
		if !s.repl.IsPrimary() {
			return protocol.EncodeError("not primary")
		}
		s.store.Put(cmd.Key, cmd.Value)
		s.metrics.SetStoreKeys(s.store.Len())
		s.repl.Propagate(cmd)
		return protocol.RespOK

	case protocol.Delete:
		if !s.repl.IsPrimary() {
			return protocol.EncodeError("not primary")
		}
		existed := s.store.Delete(cmd.Key)
		s.metrics.SetStoreKeys(s.store.Len())
		if !existed {
			return protocol.RespNotFound
		}
		s.repl.Propagate(cmd)
		return protocol.RespOK

	case protocol.Keys:
		return protocol.EncodeKeys(s.store.Keys())

	case protocol.Heartbeat:
		s.repl.RecordHeartbeat()
		return protocol.RespOK

	case protocol.Replicate:
		if err := s.repl.Apply(cmd.Op); err != nil {
			return protocol.EncodeError(err.Error())
		}
		return protocol.RespOK

	case protocol.AddBackup:
		if err := s.repl.AddBackup(cmd.Addr); err != nil {
			return protocol.EncodeError(err.Error())
		}
		return protocol.RespOK

	case protocol.Promote:
		if err := s.repl.Promote(); err != nil {
			return protocol.EncodeError(err.Error())
		}
		return protocol.RespOK
	}

	return protocol.EncodeError("unknown command")
}
