// Package diagserver exposes an Allocator's diagnostics snapshot over
// HTTP/3, for operators who want to poll allocator health without
// sharing a process with the allocator itself.
package diagserver

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	quic "github.com/quic-go/quic-go"
	http3 "github.com/quic-go/quic-go/http3"

	"github.com/orizon-lang/tlsf/internal/diagnostics"
)

// Options configures the QUIC transport underneath the diagnostics
// server.
type Options struct {
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
	Enable0RTT      bool
}

// Server serves GET /snapshot (aggregate stats only) and
// GET /snapshot?blocks=1 (full block listing) for one Allocator, read
// through a caller-supplied accessor so callers already guarding the
// allocator with allocator.Concurrent can pass its locked methods
// straight through.
type Server struct {
	pc   net.PacketConn
	srv  *http3.Server
	addr string
	errC chan error
}

// New builds a Server bound to addr (use ":0" for an ephemeral port).
// snapshot is called once per request; a caller wrapping an
// allocator.Concurrent would pass a closure that takes its lock and
// calls diagnostics.Capture.
func New(addr string, tlsCfg *tls.Config, opts Options, snapshot func(includeBlocks bool) diagnostics.Snapshot) *Server {
	tlsCfg = ensureTLS13(tlsCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		includeBlocks := r.URL.Query().Get("blocks") != ""

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(snapshot(includeBlocks)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	qc := &quic.Config{}
	if opts.MaxIdleTimeout > 0 {
		qc.MaxIdleTimeout = opts.MaxIdleTimeout
	}

	if opts.KeepAlivePeriod > 0 {
		qc.KeepAlivePeriod = opts.KeepAlivePeriod
	}

	if opts.Enable0RTT {
		qc.Allow0RTT = true
	}

	return &Server{
		srv:  &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: mux, QUICConfig: qc},
		addr: addr,
		errC: make(chan error, 1),
	}
}

func ensureTLS13(tlsCfg *tls.Config) *tls.Config {
	if tlsCfg == nil {
		return &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{"h3"}}
	}

	if tlsCfg.MinVersion >= tls.VersionTLS13 {
		return tlsCfg
	}

	c := tlsCfg.Clone()
	c.MinVersion = tls.VersionTLS13

	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{"h3"}
	}

	return c
}

// Start binds the UDP socket and begins serving; it returns the bound
// address so a caller requesting an ephemeral port can discover it.
func (s *Server) Start() (string, error) {
	var err error

	s.pc, err = net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", err
	}

	realAddr := s.pc.LocalAddr().String()

	go func() {
		if err := s.srv.Serve(s.pc); err != nil {
			select {
			case s.errC <- err:
			default:
			}
		}
	}()

	return realAddr, nil
}

// Stop closes the listening socket.
func (s *Server) Stop() error {
	if s.pc == nil {
		return nil
	}

	return s.pc.Close()
}

// Error returns a non-blocking channel delivering the first serve
// error, if any.
func (s *Server) Error() <-chan error {
	return s.errC
}
