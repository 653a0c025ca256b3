package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/log"
)

// Handler is one registered procedure: it receives the procedure's
// decoded JSON argument list and returns (success, payload-or-message).
type Handler func(args []json.RawMessage) (bool, interface{})

// Server is the node-side HTTPS listener. One Server runs per node
// daemon; pkg/node registers its 44 named procedures on it.
type Server struct {
	addr     string
	tlsConf  *tls.Config
	handlers map[string]Handler

	httpServer *http.Server
}

// NewServer creates a Server bound to addr, requiring mTLS against
// caCert. Only client certificates signed by caCert are accepted;
// anything else is refused at the TLS handshake, before the request
// ever reaches a Handler.
func NewServer(addr string, serverCert tls.Certificate, caCert *x509.Certificate) *Server {
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	return &Server{
		addr:     addr,
		handlers: make(map[string]Handler),
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{serverCert},
			ClientCAs:    pool,
			ClientAuth:   tls.RequireAndVerifyClientCert,
			MinVersion:   tls.VersionTLS13,
		},
	}
}

// Register adds a named procedure. Registering the same name twice
// replaces the prior handler — callers are expected to register once at
// startup.
func (s *Server) Register(procedure string, h Handler) {
	s.handlers[procedure] = h
}

// Start begins serving. It blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.httpServer = &http.Server{
		Addr:      s.addr,
		Handler:   mux,
		TLSConfig: s.tlsConf,
	}

	logger := log.WithComponent("rpc.server")
	logger.Info().Str("addr", s.addr).Msg("rpc server starting")

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc server listen %s: %w", s.addr, err)
	}
	tlsLn := tls.NewListener(ln, s.tlsConf)

	if err := s.httpServer.Serve(tlsLn); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("rpc server serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "only PUT is supported", http.StatusMethodNotAllowed)
		return
	}

	procedure := strings.TrimPrefix(r.URL.Path, "/")
	handler, ok := s.handlers[procedure]
	if !ok {
		s.writeResult(w, false, fmt.Sprintf("unknown procedure %q", procedure))
		return
	}

	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeResult(w, false, fmt.Sprintf("malformed envelope: %v", err))
		return
	}
	body, err := decodeEnvelope(env)
	if err != nil {
		s.writeResult(w, false, err.Error())
		return
	}

	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		s.writeResult(w, false, fmt.Sprintf("malformed argument list: %v", err))
		return
	}

	start := time.Now()
	ok2, payload := handler(args)
	log.WithComponent("rpc.server").Debug().
		Str("procedure", procedure).
		Bool("ok", ok2).
		Dur("duration", time.Since(start)).
		Msg("rpc call handled")

	s.writeResult(w, ok2, payload)
}

func (s *Server) writeResult(w http.ResponseWriter, ok bool, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode([2]interface{}{ok, payload}); err != nil {
		log.WithComponent("rpc.server").Error().Err(err).Msg("failed to encode rpc response")
	}
}
