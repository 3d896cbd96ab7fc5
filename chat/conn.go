package chat

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// State is the lifecycle position of a peer connection.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateOpen
	StateClosing
	StateClosed
)

// String returns the string representation of the connection state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink receives decrypted application payloads. Implementations are provided
// by the surrounding application (CLI shell, pairing UI); the core never
// blocks its own protocol handling on what the sink does with them.
type Sink interface {
	OnMessageReceived(peer string, text string)
	OnFileReceived(peer string, filename string, data []byte)
}

type nopSink struct{}

func (nopSink) OnMessageReceived(string, string)      {}
func (nopSink) OnFileReceived(string, string, []byte) {}

// Peer owns one TCP stream and the shared secret negotiated for it. The
// socket and secret are touched only by this peer's worker and senders; the
// registry is the only state shared across connections.
type Peer struct {
	addr        string
	conn        net.Conn
	sc          *bufio.Scanner
	codec       *Codec
	secret      []byte
	registry    *Registry
	store       *InboundStore
	sink        Sink
	log         Logger
	idleTimeout time.Duration

	mu        sync.Mutex // guards state
	state     State
	writeMu   sync.Mutex // serializes frame writes
	closeOnce sync.Once
	done      chan struct{}
}

// newPeer assembles a handshake-complete peer. The scanner must be the one
// used during the handshake so no buffered bytes are lost.
func newPeer(conn net.Conn, sc *bufio.Scanner, codec *Codec, secret []byte, reg *Registry, store *InboundStore, sink Sink, log Logger, idle time.Duration) *Peer {
	if sink == nil {
		sink = nopSink{}
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Peer{
		addr:        conn.RemoteAddr().String(),
		conn:        conn,
		sc:          sc,
		codec:       codec,
		secret:      secret,
		registry:    reg,
		store:       store,
		sink:        sink,
		log:         log,
		idleTimeout: idle,
		state:       StateOpen,
		done:        make(chan struct{}),
	}
}

// Addr returns the remote address of the connection.
func (p *Peer) Addr() string {
	return p.addr
}

// State returns the current connection state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Done is closed when the connection has fully shut down.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// SendMessage encrypts text and writes a message frame. It fails with a
// not_ready error unless the connection is open; write failures tear the
// connection down and surface as io errors.
func (p *Peer) SendMessage(text string) error {
	line, err := p.encodeChecked("send_message", func() ([]byte, error) {
		return p.codec.EncodeMessage(text)
	})
	if err != nil {
		return err
	}
	return p.writeFrame("send_message", line)
}

// SendFile encrypts the file record and writes a file frame. The same state
// rules as SendMessage apply.
func (p *Peer) SendFile(filename string, data []byte) error {
	line, err := p.encodeChecked("send_file", func() ([]byte, error) {
		return p.codec.EncodeFile(filename, data)
	})
	if err != nil {
		return err
	}
	return p.writeFrame("send_file", line)
}

func (p *Peer) encodeChecked(op string, encode func() ([]byte, error)) ([]byte, error) {
	if st := p.State(); st != StateOpen {
		return nil, newError(ErrorTypeNotReady, op,
			fmt.Errorf("connection to %s is %s", p.addr, st))
	}
	return encode()
}

func (p *Peer) writeFrame(op string, line []byte) error {
	p.writeMu.Lock()
	_, err := p.conn.Write(line)
	p.writeMu.Unlock()
	if err != nil {
		p.Close()
		return newError(ErrorTypeIO, op, err)
	}
	return nil
}

// readLoop blocks on the socket, decodes frames in arrival order and hands
// plaintext to the sink. It runs on the connection's worker and exits, via
// Close, on any I/O error, protocol violation or shutdown.
func (p *Peer) readLoop() {
	defer p.Close()

	for {
		if p.idleTimeout > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(p.idleTimeout))
		}
		if !p.sc.Scan() {
			if err := p.sc.Err(); err != nil {
				p.log.Infof("connection %s read ended: %v", p.addr, err)
			} else {
				p.log.Infof("connection %s closed by peer", p.addr)
			}
			return
		}

		frame, err := p.codec.Decode(p.sc.Bytes())
		if err != nil {
			if errors.Is(err, ErrUnknownFrameType) {
				p.log.Warnf("connection %s: dropping frame: %v", p.addr, err)
				continue
			}
			if IsErrorType(err, ErrorTypeAuthentication) {
				p.log.Warnf("connection %s: dropping unauthenticated frame: %v", p.addr, err)
				continue
			}
			p.log.Errorf("connection %s: protocol violation, closing: %v", p.addr, err)
			return
		}

		switch frame.Type {
		case FrameMessage:
			p.sink.OnMessageReceived(p.addr, frame.Text)

		case FrameFile:
			if p.store != nil {
				path, err := p.store.Save(frame.Filename, frame.Data)
				if err != nil {
					p.log.Errorf("connection %s: failed to store %q: %v", p.addr, frame.Filename, err)
					continue
				}
				p.log.Infof("connection %s: stored file %s (%d bytes)", p.addr, path, len(frame.Data))
			}
			p.sink.OnFileReceived(p.addr, frame.Filename, frame.Data)

		default:
			// Handshake frames after the handshake are a violation.
			p.log.Errorf("connection %s: unexpected %s frame, closing", p.addr, frame.Type)
			return
		}
	}
}

// Close shuts the socket, zeroes the shared secret and removes the registry
// entry. It is idempotent and safe from any goroutine; a blocked read on the
// socket returns promptly once the socket is shut.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.setState(StateClosing)
		_ = p.conn.Close()
		if p.registry != nil {
			p.registry.Unregister(p)
		}
		zeroBytes(p.secret)
		p.secret = nil
		p.setState(StateClosed)
		close(p.done)
		p.log.Debugf("connection %s closed", p.addr)
	})
}
