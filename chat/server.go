package chat

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Timing parameters for the accept loop and handshakes. Accept waits are
// bounded so Stop can interrupt the loop promptly instead of parking forever
// in Accept.
const (
	acceptPollInterval = 500 * time.Millisecond
	handshakeTimeout   = 10 * time.Second
	dialTimeout        = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// Backend selects the key-exchange implementation, BackendKyber or
	// BackendX25519. Empty means Kyber. The choice is fixed for the
	// lifetime of the server, never probed per connection.
	Backend string

	// InboundDir is where received files land. Created if absent.
	InboundDir string

	// IdleTimeout reaps peers that stay silent longer than this.
	// Zero disables reaping; an open but quiet peer then lives forever.
	IdleTimeout time.Duration

	// Sink receives decrypted messages and files. Optional.
	Sink Sink

	// Logger receives operational events. Optional.
	Logger Logger
}

// Server accepts and dials peer connections, runs the key-encapsulation
// handshake on each, and promotes successful ones into the registry. There
// is no peer identity authentication beyond the key agreement itself; the
// session key protects against tampering, not against an active
// machine-in-the-middle on first contact.
type Server struct {
	backend     string
	idleTimeout time.Duration
	registry    *Registry
	store       *InboundStore
	sink        Sink
	log         Logger

	mu       sync.Mutex
	ln       net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer validates the options and builds a server. The inbound file
// directory is created here so a misconfigured path fails at startup, not on
// the first received file.
func NewServer(opts Options) (*Server, error) {
	if _, err := NewKEM(opts.Backend); err != nil {
		return nil, err
	}

	store, err := NewInboundStore(opts.InboundDir)
	if err != nil {
		return nil, err
	}

	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	log := opts.Logger
	if log == nil {
		log = nopLogger{}
	}

	return &Server{
		backend:     opts.Backend,
		idleTimeout: opts.IdleTimeout,
		registry:    NewRegistry(),
		store:       store,
		sink:        sink,
		log:         log,
	}, nil
}

// Listen binds the TCP port and starts the accept loop. Port 0 picks an
// ephemeral port; Addr reports the bound address.
func (s *Server) Listen(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return newError(ErrorTypeIO, "listen", fmt.Errorf("server is stopped"))
	}
	if s.ln != nil {
		return newError(ErrorTypeIO, "listen", fmt.Errorf("already listening on %s", s.ln.Addr()))
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return newError(ErrorTypeIO, "listen", err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.log.Infof("listening on %s (backend %s)", ln.Addr(), s.kemName())
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// InboundDir returns the directory received files are written to.
func (s *Server) InboundDir() string {
	return s.store.Dir()
}

// Registry returns the live connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Count returns the number of live peer connections.
func (s *Server) Count() int {
	return s.registry.Count()
}

// Peers returns a snapshot of the live peer connections.
func (s *Server) Peers() []*Peer {
	return s.registry.Snapshot()
}

// Broadcast sends text to every live peer, returning the success count.
func (s *Server) Broadcast(text string) int {
	return s.registry.Broadcast(text)
}

func (s *Server) kemName() string {
	if s.backend == "" {
		return BackendKyber
	}
	return s.backend
}

func (s *Server) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// register adds a freshly promoted peer to the registry unless shutdown has
// begun. The shutdown check, registration and worker accounting happen under
// one lock so a concurrent Stop either sees the peer in its snapshot or
// prevents it from registering at all; workers counts goroutines the caller
// will spawn for this peer. Returns false when the server is stopping, in
// which case the caller owns closing the peer.
func (s *Server) register(p *Peer, workers int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.registry.Register(p)
	s.wg.Add(workers)
	return true
}

// acceptLoop accepts connections until Stop. Each wait is bounded by a
// deadline so a pending Stop is noticed within one poll interval.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		if s.stopping() {
			return
		}
		if tl, ok := ln.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !s.stopping() {
				s.log.Errorf("accept failed: %v", err)
			}
			return
		}

		s.log.Debugf("incoming connection from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go s.handleInbound(conn)
	}
}

// handleInbound runs the responder handshake and, on success, serves the
// peer's receive loop on this worker. Handshake failures close the socket
// and never touch the registry; they cannot crash the accept loop.
func (s *Server) handleInbound(conn net.Conn) {
	defer s.wg.Done()

	peer, err := s.respond(conn)
	if err != nil {
		s.log.Warnf("handshake with %s failed: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	if !s.register(peer, 0) {
		peer.Close()
		return
	}
	s.log.Infof("secure connection established with %s", peer.Addr())
	peer.readLoop()
}

// Dial connects out, runs the initiator handshake and registers the peer.
// Failures are reported synchronously; nothing is registered on error.
func (s *Server) Dial(host string, port int) (*Peer, error) {
	if s.stopping() {
		return nil, newError(ErrorTypeIO, "dial", fmt.Errorf("server is stopped"))
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, newError(ErrorTypeIO, "dial", err)
	}

	peer, err := s.initiate(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if !s.register(peer, 1) {
		peer.Close()
		return nil, newError(ErrorTypeIO, "dial", fmt.Errorf("server is stopped"))
	}
	go func() {
		defer s.wg.Done()
		peer.readLoop()
	}()
	s.log.Infof("secure connection established with %s", peer.Addr())
	return peer, nil
}

// respond is the server side of the handshake: send our public key, read the
// encapsulation blob, decapsulate.
func (s *Server) respond(conn net.Conn) (*Peer, error) {
	kem, err := NewKEM(s.backend)
	if err != nil {
		return nil, err
	}

	public, err := kem.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	line, err := EncodeServerPub(public)
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if _, err := conn.Write(line); err != nil {
		return nil, newError(ErrorTypeIO, "handshake_send", err)
	}

	sc := newFrameScanner(conn)
	frame, err := readHandshakeFrame(sc, FrameClientBlob)
	if err != nil {
		return nil, err
	}

	secret, err := kem.Decapsulate(frame.Blob)
	if err != nil {
		return nil, err
	}
	return s.promote(conn, sc, secret)
}

// initiate is the client side: read the responder's public key, encapsulate
// against it, send the blob back.
func (s *Server) initiate(conn net.Conn) (*Peer, error) {
	kem, err := NewKEM(s.backend)
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	sc := newFrameScanner(conn)
	frame, err := readHandshakeFrame(sc, FrameServerPub)
	if err != nil {
		return nil, err
	}

	blob, secret, err := kem.Encapsulate(frame.Public)
	if err != nil {
		return nil, err
	}
	line, err := EncodeClientBlob(blob)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(line); err != nil {
		return nil, newError(ErrorTypeIO, "handshake_send", err)
	}
	return s.promote(conn, sc, secret)
}

// promote wraps a completed handshake into an open, ready-to-register peer.
func (s *Server) promote(conn net.Conn, sc *bufio.Scanner, secret []byte) (*Peer, error) {
	cipher, err := NewCipher(secret)
	if err != nil {
		return nil, err
	}
	codec := NewCodec()
	codec.Bind(cipher)

	_ = conn.SetDeadline(time.Time{})
	return newPeer(conn, sc, codec, secret, s.registry, s.store, s.sink, s.log, s.idleTimeout), nil
}

// readHandshakeFrame reads exactly one frame and requires the expected
// handshake type. Anything else, including an encrypted frame sent before
// the handshake finished, aborts the handshake.
func readHandshakeFrame(sc *bufio.Scanner, want string) (*DecodedFrame, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, newError(ErrorTypeIO, "handshake_recv", err)
		}
		return nil, newError(ErrorTypeHandshake, "handshake_recv",
			fmt.Errorf("connection closed before %s", want))
	}

	frame, err := NewCodec().Decode(sc.Bytes())
	if err != nil {
		return nil, newError(ErrorTypeHandshake, "handshake_recv", err)
	}
	if frame.Type != want {
		return nil, newError(ErrorTypeHandshake, "handshake_recv",
			fmt.Errorf("expected %s frame, got %s", want, frame.Type))
	}
	return frame, nil
}

// Stop shuts the server down: no more accepts, the listener is closed and
// every registered connection is torn down. Safe to call more than once and
// from any goroutine.
func (s *Server) Stop() {
	s.mu.Lock()
	s.shutdown = true
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, p := range s.registry.Snapshot() {
		p.Close()
	}
	s.wg.Wait()
	s.log.Infof("server stopped")
}
